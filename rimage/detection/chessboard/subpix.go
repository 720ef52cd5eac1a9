package chessboard

import (
	"image"
	"math"

	"github.com/golang/geo/r2"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/stereocalib/rimage"
	"go.viam.com/stereocalib/rimage/transform"
)

// DefaultSubPixWindow is the half size of the refinement window: 23x23 pixels.
var DefaultSubPixWindow = image.Point{11, 11}

// DefaultSubPixCriteria stops the refinement after 30 iterations or a move under 0.01 pixel.
var DefaultSubPixCriteria = transform.TermCriteria{MaxIter: 30, Epsilon: 0.01}

// RefineCorners moves each corner to the sub-pixel position where the image gradients of its
// neighborhood are orthogonal to the vectors pointing to it. win is the half size of the search
// window. Corners whose window leaves the image are kept as they are.
func RefineCorners(lum *mat.Dense, corners []r2.Point, win image.Point, crit transform.TermCriteria) []r2.Point {
	out := make([]r2.Point, len(corners))
	// gaussian weights, heavier close to the corner
	w, h := 2*win.X+1, 2*win.Y+1
	mask := make([]float64, w*h)
	for i := 0; i < h; i++ {
		y := float64(i-win.Y) / float64(win.Y)
		for j := 0; j < w; j++ {
			x := float64(j-win.X) / float64(win.X)
			mask[i*w+j] = math.Exp(-x*x) * math.Exp(-y*y)
		}
	}
	patch := mat.NewDense(h+2, w+2, nil)
	for k, corner := range corners {
		q := corner
		for iter := 0; iter < crit.MaxIter; iter++ {
			if !samplePatch(lum, patch, q, win) {
				break
			}
			var a, b, c, bb1, bb2 float64
			for i := 0; i < h; i++ {
				py := float64(i - win.Y)
				for j := 0; j < w; j++ {
					px := float64(j - win.X)
					gx := (patch.At(i+1, j+2) - patch.At(i+1, j)) / 2
					gy := (patch.At(i+2, j+1) - patch.At(i, j+1)) / 2
					m := mask[i*w+j]
					gxx, gxy, gyy := gx*gx*m, gx*gy*m, gy*gy*m
					a += gxx
					b += gxy
					c += gyy
					bb1 += gxx*px + gxy*py
					bb2 += gxy*px + gyy*py
				}
			}
			det := a*c - b*b
			if math.Abs(det) < 1e-12 {
				break
			}
			delta := r2.Point{X: (c*bb1 - b*bb2) / det, Y: (a*bb2 - b*bb1) / det}
			q = q.Add(delta)
			if delta.Norm() < crit.Epsilon {
				break
			}
		}
		// reject refinements that wander off the window
		if math.Abs(q.X-corner.X) > float64(win.X) || math.Abs(q.Y-corner.Y) > float64(win.Y) {
			q = corner
		}
		out[k] = q
	}
	return out
}

// samplePatch fills patch with the bilinear samples of lum around q, with a one pixel border
// for the central differences.
func samplePatch(lum *mat.Dense, patch *mat.Dense, q r2.Point, win image.Point) bool {
	rows, cols := patch.Dims()
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			v, ok := rimage.BilinearInterpolation(lum, q.X+float64(j-win.X-1), q.Y+float64(i-win.Y-1))
			if !ok {
				return false
			}
			patch.Set(i, j, v)
		}
	}
	return true
}
