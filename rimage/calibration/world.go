package calibration

import "github.com/golang/geo/r3"

// WorldPoints returns the inner corners of the pattern on the z = 0 plane, in the row major
// order used by the detectors: point j*cols+k is (k*s, j*s, 0).
func WorldPoints(p Pattern) []r3.Vector {
	pts := make([]r3.Vector, 0, p.NumCorners())
	for j := 0; j < p.Rows; j++ {
		for k := 0; k < p.Cols; k++ {
			pts = append(pts, r3.Vector{X: float64(k) * p.SquareSize, Y: float64(j) * p.SquareSize})
		}
	}
	return pts
}

// ObjectPoints returns n independent copies of the world points, one per accepted view.
func ObjectPoints(p Pattern, n int) [][]r3.Vector {
	out := make([][]r3.Vector, n)
	for i := range out {
		out[i] = WorldPoints(p)
	}
	return out
}
