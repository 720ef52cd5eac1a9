package transform

import (
	"image"
	"image/color"
	"math"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	rutils "go.viam.com/stereocalib/utils"
)

const (
	interBits    = 5
	interTabSize = 1 << interBits
)

// RectifyMap is a fixed point lookup table from rectified pixels to source pixels. XY holds the
// interleaved integer parts (x, y) of each source position and Frac its 5 bit fractional parts,
// y fraction * 32 + x fraction.
type RectifyMap struct {
	Width  int
	Height int
	XY     []int16
	Frac   []uint16
}

// InitUndistortRectifyMap builds the map that undistorts the images of cam, rotates them by rect
// and reprojects them with the left 3x3 block of proj, for output images of the given size.
func InitUndistortRectifyMap(cam *PinholeCameraModel, rect, proj mat.Matrix, size image.Point) (*RectifyMap, error) {
	if size.X <= 0 || size.Y <= 0 {
		return nil, errors.Errorf("invalid map size %v", size)
	}
	m := eye(3)
	if rect != nil {
		m.Copy(rect)
	}
	if proj != nil {
		var pm mat.Dense
		pm.Mul(leftBlock3(proj), m)
		m = &pm
	}
	var ir mat.Dense
	if err := ir.Inverse(m); err != nil {
		return nil, errors.Wrap(err, "rectified camera matrix is singular")
	}
	lens, err := cam.Lens(BrownConradyDistortionType)
	if err != nil {
		return nil, err
	}

	rm := &RectifyMap{
		Width:  size.X,
		Height: size.Y,
		XY:     make([]int16, 2*size.X*size.Y),
		Frac:   make([]uint16, size.X*size.Y),
	}
	rutils.ParallelForEachRow(size.Y, func(i int) {
		for j := 0; j < size.X; j++ {
			x := ir.At(0, 0)*float64(j) + ir.At(0, 1)*float64(i) + ir.At(0, 2)
			y := ir.At(1, 0)*float64(j) + ir.At(1, 1)*float64(i) + ir.At(1, 2)
			w := ir.At(2, 0)*float64(j) + ir.At(2, 1)*float64(i) + ir.At(2, 2)
			src := cam.pixel(lens, x/w, y/w)
			iu := saturateInt(src.X * interTabSize)
			iv := saturateInt(src.Y * interTabSize)
			k := i*size.X + j
			rm.XY[2*k] = saturateInt16(iu >> interBits)
			rm.XY[2*k+1] = saturateInt16(iv >> interBits)
			rm.Frac[k] = uint16((iv&(interTabSize-1))*interTabSize + (iu & (interTabSize - 1)))
		}
	})
	return rm, nil
}

// Map returns the source position of the rectified pixel (x, y).
func (rm *RectifyMap) Map(x, y int) r2.Point {
	k := y*rm.Width + x
	frac := rm.Frac[k]
	return r2.Point{
		X: float64(rm.XY[2*k]) + float64(frac&(interTabSize-1))/interTabSize,
		Y: float64(rm.XY[2*k+1]) + float64(frac>>interBits)/interTabSize,
	}
}

// Bounds returns the rectangle of the rectified image.
func (rm *RectifyMap) Bounds() image.Rectangle {
	return image.Rect(0, 0, rm.Width, rm.Height)
}

// Remap warps img through the map with bilinear interpolation. Source pixels outside img are
// black. Gray images stay gray, anything else becomes RGBA.
func (rm *RectifyMap) Remap(img image.Image) image.Image {
	if gray, ok := img.(*image.Gray); ok {
		out := image.NewGray(rm.Bounds())
		rutils.ParallelForEachRow(rm.Height, func(y int) {
			for x := 0; x < rm.Width; x++ {
				var v float64
				rm.sample(x, y, func(sx, sy int, wt float64) {
					v += wt * float64(grayAt(gray, sx, sy))
				})
				out.Pix[y*out.Stride+x] = rutils.SaturateUint8(v)
			}
		})
		return out
	}
	out := image.NewRGBA(rm.Bounds())
	bounds := img.Bounds()
	rutils.ParallelForEachRow(rm.Height, func(y int) {
		for x := 0; x < rm.Width; x++ {
			var r, g, b, a float64
			rm.sample(x, y, func(sx, sy int, wt float64) {
				p := image.Pt(sx+bounds.Min.X, sy+bounds.Min.Y)
				if !p.In(bounds) {
					return
				}
				c := color.RGBAModel.Convert(img.At(p.X, p.Y)).(color.RGBA)
				r += wt * float64(c.R)
				g += wt * float64(c.G)
				b += wt * float64(c.B)
				a += wt * float64(c.A)
			})
			i := y*out.Stride + 4*x
			out.Pix[i] = rutils.SaturateUint8(r)
			out.Pix[i+1] = rutils.SaturateUint8(g)
			out.Pix[i+2] = rutils.SaturateUint8(b)
			out.Pix[i+3] = rutils.SaturateUint8(a)
		}
	})
	return out
}

// sample calls f for the four source pixels around the mapped position of (x, y) with their
// bilinear weights.
func (rm *RectifyMap) sample(x, y int, f func(sx, sy int, wt float64)) {
	k := y*rm.Width + x
	sx, sy := int(rm.XY[2*k]), int(rm.XY[2*k+1])
	frac := rm.Frac[k]
	fx := float64(frac&(interTabSize-1)) / interTabSize
	fy := float64(frac>>interBits) / interTabSize
	f(sx, sy, (1-fx)*(1-fy))
	if fx > 0 {
		f(sx+1, sy, fx*(1-fy))
	}
	if fy > 0 {
		f(sx, sy+1, (1-fx)*fy)
	}
	if fx > 0 && fy > 0 {
		f(sx+1, sy+1, fx*fy)
	}
}

func grayAt(img *image.Gray, x, y int) uint8 {
	p := image.Pt(x+img.Rect.Min.X, y+img.Rect.Min.Y)
	if !p.In(img.Rect) {
		return 0
	}
	return img.Pix[img.PixOffset(p.X, p.Y)]
}

func saturateInt(v float64) int {
	r := math.RoundToEven(v)
	if math.IsNaN(r) || r < math.MinInt32 {
		return math.MinInt32
	}
	if r > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(r)
}

func saturateInt16(v int) int16 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}
