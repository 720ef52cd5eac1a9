package transform

import (
	"image"
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// RectifyFlags change how StereoRectify places the principal points.
type RectifyFlags int

// ZeroDisparity gives both rectified cameras the same principal point, so that points at
// infinity have zero disparity.
const ZeroDisparity RectifyFlags = 1 << 10

// StereoRectification holds the rectifying rotations R1 and R2, the 3x4 projections P1 and P2 of
// the rectified cameras, the 4x4 disparity-to-depth matrix Q, and the rectangles of each
// rectified image where all pixels are valid.
type StereoRectification struct {
	R1, R2    *mat.Dense
	P1, P2    *mat.Dense
	Q         *mat.Dense
	ValidROI1 image.Rectangle
	ValidROI2 image.Rectangle
}

type floatRect struct {
	x, y, w, h float64
}

const rectangleGridSize = 9

// StereoRectify computes the Bouguet rectification of a calibrated stereo pair: each camera is
// rotated by half of the relative rotation, then both are turned so that the baseline is aligned
// with the image x axis (or the y axis for vertical rigs).
//
// A negative alpha keeps the common focal length as computed. Otherwise alpha in [0, 1] scales
// the result between showing only valid pixels (0) and keeping every source pixel (1), for
// rectified images of newSize (the source size when empty).
func StereoRectify(
	cam1, cam2 *PinholeCameraModel,
	size image.Point,
	rot mat.Matrix,
	t r3.Vector,
	flags RectifyFlags,
	alpha float64,
	newSize image.Point,
) (*StereoRectification, error) {
	if size.X <= 0 || size.Y <= 0 {
		return nil, errors.Errorf("invalid image size %v", size)
	}
	if t.Norm() == 0 {
		return nil, errors.New("cannot rectify a stereo pair with a zero baseline")
	}
	if newSize.X <= 0 || newSize.Y <= 0 {
		newSize = size
	}

	om := RodriguesInverse(rot).Mul(-0.5)
	rr := Rodrigues(om)
	tr := applyRotation(rr, t)

	idx := 1
	if math.Abs(tr.X) > math.Abs(tr.Y) {
		idx = 0
	}
	c := component(tr, idx)
	var uu r3.Vector
	if c > 0 {
		uu = setComponent(uu, idx, 1)
	} else {
		uu = setComponent(uu, idx, -1)
	}
	ww := tr.Cross(uu)
	if nw := ww.Norm(); nw > 0 {
		ww = ww.Mul(math.Acos(math.Abs(c)/tr.Norm()) / nw)
	}
	wR := Rodrigues(ww)

	var rect1, rect2 mat.Dense
	rect1.Mul(wR, rr.T())
	rect2.Mul(wR, rr)
	tNew := applyRotation(&rect2, t)

	cams := [2]*PinholeCameraModel{cam1, cam2}
	rects := [2]*mat.Dense{&rect1, &rect2}
	nx, ny := float64(size.X), float64(size.Y)

	fcNew := math.MaxFloat64
	for _, cam := range cams {
		fc := cam.Fy
		if idx == 1 {
			fc = cam.Fx
		}
		if k1 := cam.Distortion.RadialK1; k1 < 0 {
			fc *= 1 + k1*(nx*nx+ny*ny)/(4*fc*fc)
		}
		fcNew = math.Min(fcNew, fc)
	}

	var cc [2]r2.Point
	for k, cam := range cams {
		corners := make([]r2.Point, 4)
		for i := range corners {
			corners[i] = r2.Point{X: float64(i%2) * (nx - 1), Y: float64(i/2) * (ny - 1)}
		}
		normalized := cam.UndistortPoints(corners, nil, nil)
		var avg r2.Point
		for _, p := range normalized {
			pc := applyRotation(rects[k], r3.Vector{X: p.X, Y: p.Y, Z: 1})
			avg = avg.Add(r2.Point{X: fcNew * pc.X / pc.Z, Y: fcNew * pc.Y / pc.Z})
		}
		avg = avg.Mul(0.25)
		cc[k] = r2.Point{X: (nx-1)/2 - avg.X, Y: (ny-1)/2 - avg.Y}
	}
	if flags&ZeroDisparity != 0 {
		mid := cc[0].Add(cc[1]).Mul(0.5)
		cc[0], cc[1] = mid, mid
	} else if idx == 0 {
		cc[0].Y = (cc[0].Y + cc[1].Y) / 2
		cc[1].Y = cc[0].Y
	} else {
		cc[0].X = (cc[0].X + cc[1].X) / 2
		cc[1].X = cc[0].X
	}

	p1 := projectionMatrix(fcNew, cc[0])
	p2 := projectionMatrix(fcNew, cc[1])
	p2.Set(idx, 3, component(tNew, idx)*fcNew)

	inner1, outer1 := rectangles(cam1, &rect1, p1, size)
	inner2, outer2 := rectangles(cam2, &rect2, p2, size)

	cx1, cy1 := cc[0].X, cc[0].Y
	cx2, cy2 := cc[1].X, cc[1].Y
	s := 1.0
	if alpha >= 0 {
		sx := float64(newSize.X) / nx
		sy := float64(newSize.Y) / ny
		cx1, cy1 = cc[0].X*sx, cc[0].Y*sy
		cx2, cy2 = cc[1].X*sx, cc[1].Y*sy

		w, h := float64(newSize.X), float64(newSize.Y)
		s0 := math.Max(
			innerScale(inner1, cc[0], r2.Point{X: cx1, Y: cy1}, w, h),
			innerScale(inner2, cc[1], r2.Point{X: cx2, Y: cy2}, w, h),
		)
		s1 := math.Min(
			outerScale(outer1, cc[0], r2.Point{X: cx1, Y: cy1}, w, h),
			outerScale(outer2, cc[1], r2.Point{X: cx2, Y: cy2}, w, h),
		)
		s = s0*(1-alpha) + s1*alpha
		fcNew *= s
		p1 = projectionMatrix(fcNew, r2.Point{X: cx1, Y: cy1})
		t03 := p2.At(idx, 3)
		p2 = projectionMatrix(fcNew, r2.Point{X: cx2, Y: cy2})
		p2.Set(idx, 3, t03*s)
	} else {
		newSize = size
	}

	out := &StereoRectification{
		R1:        &rect1,
		R2:        &rect2,
		P1:        p1,
		P2:        p2,
		ValidROI1: validROI(inner1, cc[0], r2.Point{X: cx1, Y: cy1}, s, newSize),
		ValidROI2: validROI(inner2, cc[1], r2.Point{X: cx2, Y: cy2}, s, newSize),
	}

	tIdx := component(tNew, idx)
	q := mat.NewDense(4, 4, []float64{
		1, 0, 0, -cx1,
		0, 1, 0, -cy1,
		0, 0, 0, fcNew,
		0, 0, -1 / tIdx, 0,
	})
	if idx == 0 {
		q.Set(3, 3, (cx1-cx2)/tIdx)
	} else {
		q.Set(3, 3, (cy1-cy2)/tIdx)
	}
	out.Q = q
	return out, nil
}

func projectionMatrix(f float64, c r2.Point) *mat.Dense {
	return mat.NewDense(3, 4, []float64{
		f, 0, c.X, 0,
		0, f, c.Y, 0,
		0, 0, 1, 0,
	})
}

// rectangles returns the largest rectangle inside, and the smallest rectangle around, the
// rectified image of the source frame, sampled on a regular grid.
func rectangles(cam *PinholeCameraModel, rect, proj mat.Matrix, size image.Point) (floatRect, floatRect) {
	n := rectangleGridSize
	pts := make([]r2.Point, 0, n*n)
	for y := 0; y < n; y++ {
		for x := 0; x < n; x++ {
			pts = append(pts, r2.Point{
				X: float64(x) * float64(size.X) / float64(n-1),
				Y: float64(y) * float64(size.Y) / float64(n-1),
			})
		}
	}
	pts = cam.UndistortPoints(pts, rect, proj)

	iX0, iX1 := -math.MaxFloat64, math.MaxFloat64
	iY0, iY1 := -math.MaxFloat64, math.MaxFloat64
	oX0, oX1 := math.MaxFloat64, -math.MaxFloat64
	oY0, oY1 := math.MaxFloat64, -math.MaxFloat64
	for y := 0; y < n; y++ {
		for x := 0; x < n; x++ {
			p := pts[y*n+x]
			oX0, oX1 = math.Min(oX0, p.X), math.Max(oX1, p.X)
			oY0, oY1 = math.Min(oY0, p.Y), math.Max(oY1, p.Y)
			if x == 0 {
				iX0 = math.Max(iX0, p.X)
			}
			if x == n-1 {
				iX1 = math.Min(iX1, p.X)
			}
			if y == 0 {
				iY0 = math.Max(iY0, p.Y)
			}
			if y == n-1 {
				iY1 = math.Min(iY1, p.Y)
			}
		}
	}
	return floatRect{iX0, iY0, iX1 - iX0, iY1 - iY0}, floatRect{oX0, oY0, oX1 - oX0, oY1 - oY0}
}

func innerScale(inner floatRect, c0, c r2.Point, w, h float64) float64 {
	return math.Max(
		math.Max(c.X/(c0.X-inner.x), c.Y/(c0.Y-inner.y)),
		math.Max((w-c.X)/(inner.x+inner.w-c0.X), (h-c.Y)/(inner.y+inner.h-c0.Y)),
	)
}

func outerScale(outer floatRect, c0, c r2.Point, w, h float64) float64 {
	return math.Min(
		math.Min(c.X/(c0.X-outer.x), c.Y/(c0.Y-outer.y)),
		math.Min((w-c.X)/(outer.x+outer.w-c0.X), (h-c.Y)/(outer.y+outer.h-c0.Y)),
	)
}

func validROI(inner floatRect, c0, c r2.Point, s float64, size image.Point) image.Rectangle {
	x := int(math.Ceil((inner.x-c0.X)*s + c.X))
	y := int(math.Ceil((inner.y-c0.Y)*s + c.Y))
	w := int(math.Floor(inner.w * s))
	h := int(math.Floor(inner.h * s))
	if w <= 0 || h <= 0 {
		return image.Rectangle{}
	}
	return image.Rect(x, y, x+w, y+h).Intersect(image.Rect(0, 0, size.X, size.Y))
}

func component(v r3.Vector, idx int) float64 {
	switch idx {
	case 0:
		return v.X
	case 1:
		return v.Y
	default:
		return v.Z
	}
}

func setComponent(v r3.Vector, idx int, val float64) r3.Vector {
	switch idx {
	case 0:
		v.X = val
	case 1:
		v.Y = val
	default:
		v.Z = val
	}
	return v
}
