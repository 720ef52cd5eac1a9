package preview

import (
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"

	"go.viam.com/stereocalib/rimage"
)

const (
	canvasMaxSide   = 600.
	canvasLineEvery = 16
	roiLineWidth    = 3
	labelSize       = 14
)

var (
	roiColor  = color.RGBA{255, 0, 0, 255}
	lineColor = color.RGBA{0, 255, 0, 255}
)

// RenderRectifiedCanvas puts two rectified frames side by side, scaled so that the larger side
// of a frame is 600 pixels. The valid regions are outlined in red and horizontal green lines
// every 16 pixels make row alignment easy to check.
func RenderRectifiedCanvas(left, right image.Image, roi1, roi2 image.Rectangle) image.Image {
	size := left.Bounds().Size()
	sf := canvasMaxSide / math.Max(float64(size.X), float64(size.Y))
	w := int(math.Round(float64(size.X) * sf))
	h := int(math.Round(float64(size.Y) * sf))

	dc := gg.NewContext(2*w, h)
	dc.SetColor(color.Black)
	dc.Clear()
	for k, part := range []struct {
		label string
		img   image.Image
		roi   image.Rectangle
	}{{"color", left, roi1}, {"depth", right, roi2}} {
		if !rimage.IsEmpty(part.img) {
			dc.DrawImage(imaging.Resize(part.img, w, h, imaging.Box), k*w, 0)
		}
		vroi := image.Rect(
			int(math.Round(float64(part.roi.Min.X)*sf)),
			int(math.Round(float64(part.roi.Min.Y)*sf)),
			int(math.Round(float64(part.roi.Max.X)*sf)),
			int(math.Round(float64(part.roi.Max.Y)*sf)),
		).Add(image.Pt(k*w, 0))
		rimage.DrawRectangleEmpty(dc, vroi, roiColor, roiLineWidth)
		rimage.DrawString(dc, part.label, image.Pt(k*w+4, 4), lineColor, labelSize)
	}

	dc.SetColor(lineColor)
	dc.SetLineWidth(1)
	for y := 0; y < h; y += canvasLineEvery {
		dc.DrawLine(0, float64(y)+0.5, float64(2*w), float64(y)+0.5)
	}
	dc.Stroke()
	return dc.Image()
}
