package rimage

import (
	"image"
	"image/color"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"github.com/golang/geo/r2"
	"golang.org/x/image/font/gofont/goregular"
)

var font *truetype.Font

// init sets up the fonts we want to use.
func init() {
	var err error
	font, err = truetype.Parse(goregular.TTF)
	if err != nil {
		panic(err)
	}
}

// Font returns the font we use for drawing.
func Font() *truetype.Font {
	return font
}

// DrawString writes a string to the given context at a particular point.
func DrawString(dc *gg.Context, text string, p image.Point, c color.Color, size float64) {
	dc.SetFontFace(truetype.NewFace(Font(), &truetype.Options{Size: size}))
	dc.SetColor(c)
	dc.DrawStringWrapped(text, float64(p.X), float64(p.Y), 0, 0, float64(dc.Width()), 1, 0)
}

// DrawRectangleEmpty draws the outline of the given rectangle into the context.
func DrawRectangleEmpty(dc *gg.Context, r image.Rectangle, c color.Color, width float64) {
	dc.SetColor(c)
	dc.SetLineWidth(width)
	dc.DrawRectangle(float64(r.Min.X), float64(r.Min.Y), float64(r.Dx()), float64(r.Dy()))
	dc.Stroke()
}

// DrawCorners overlays detected pattern corners on a copy of img. Corners are joined in
// detection order so that the row major ordering is visible, and the first corner is marked
// in red.
func DrawCorners(img image.Image, corners []r2.Point, found bool) image.Image {
	dc := gg.NewContextForImage(img)
	if len(corners) == 0 {
		return dc.Image()
	}
	lineColor := color.RGBA{0, 200, 0, 255}
	if !found {
		lineColor = color.RGBA{255, 0, 0, 255}
	}
	dc.SetColor(lineColor)
	dc.SetLineWidth(1)
	for i := 1; i < len(corners); i++ {
		dc.DrawLine(corners[i-1].X, corners[i-1].Y, corners[i].X, corners[i].Y)
	}
	dc.Stroke()
	for i, pt := range corners {
		if i == 0 {
			dc.SetColor(color.RGBA{255, 0, 0, 255})
		} else {
			dc.SetColor(lineColor)
		}
		dc.DrawCircle(pt.X, pt.Y, 3)
		dc.Stroke()
	}
	return dc.Image()
}
