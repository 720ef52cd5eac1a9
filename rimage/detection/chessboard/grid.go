package chessboard

import (
	"image"
	"math"
	"sort"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/stereocalib/rimage"
	"go.viam.com/stereocalib/rimage/transform"
)

const (
	gridRoundingTolerance = 0.3
	gridFitIterations     = 3
	// relative luminance difference needed to tell a dark border square from a light one
	shadeContrast = 0.25
)

var errGridNotFound = errors.New("saddle points do not form the requested grid")

// cross returns the z component of (a - o) x (b - o).
func cross(o, a, b r2.Point) float64 {
	return (a.X-o.X)*(b.Y-o.Y) - (a.Y-o.Y)*(b.X-o.X)
}

// convexHull returns the strictly convex hull of pts in counter clockwise order (monotone chain).
func convexHull(pts []r2.Point) []r2.Point {
	sorted := append([]r2.Point{}, pts...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].X != sorted[j].X {
			return sorted[i].X < sorted[j].X
		}
		return sorted[i].Y < sorted[j].Y
	})
	if len(sorted) < 3 {
		return sorted
	}
	hull := make([]r2.Point, 0, 2*len(sorted))
	for _, p := range sorted {
		for len(hull) >= 2 && cross(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}
	lower := len(hull) + 1
	for i := len(sorted) - 2; i >= 0; i-- {
		p := sorted[i]
		for len(hull) >= lower && cross(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}
	return hull[:len(hull)-1]
}

func quadArea(q [4]r2.Point) float64 {
	a := 0.
	for i := 0; i < 4; i++ {
		j := (i + 1) % 4
		a += q[i].X*q[j].Y - q[j].X*q[i].Y
	}
	return math.Abs(a) / 2
}

// largestQuad returns the four hull vertices spanning the largest area, in hull order.
func largestQuad(hull []r2.Point) ([4]r2.Point, bool) {
	var best [4]r2.Point
	if len(hull) < 4 {
		return best, false
	}
	bestArea := -1.
	n := len(hull)
	for a := 0; a < n; a++ {
		for b := a + 1; b < n; b++ {
			for c := b + 1; c < n; c++ {
				for d := c + 1; d < n; d++ {
					q := [4]r2.Point{hull[a], hull[b], hull[c], hull[d]}
					if area := quadArea(q); area > bestArea {
						bestArea = area
						best = q
					}
				}
			}
		}
	}
	return best, bestArea > 0
}

type gridCell struct {
	col, row int
}

// fitGrid labels the candidates with integer (col, row) coordinates of a cols x rows grid whose
// outer corners are quad, in order (0, 0), (cols-1, 0), (cols-1, rows-1), (0, rows-1). The
// homography is refit on the labeled points until every candidate falls on a distinct node.
func fitGrid(quad [4]r2.Point, candidates []r2.Point, cols, rows int) (map[gridCell]r2.Point, error) {
	src := []r2.Point{
		{X: 0, Y: 0},
		{X: float64(cols - 1), Y: 0},
		{X: float64(cols - 1), Y: float64(rows - 1)},
		{X: 0, Y: float64(rows - 1)},
	}
	dst := quad[:]
	for iter := 0; iter < gridFitIterations; iter++ {
		h, err := transform.EstimateHomography(src, dst)
		if err != nil {
			return nil, err
		}
		inv, err := h.Inverse()
		if err != nil {
			return nil, err
		}
		labels := map[gridCell]r2.Point{}
		for _, p := range candidates {
			g := inv.Apply(p)
			col, row := math.Round(g.X), math.Round(g.Y)
			if math.Abs(g.X-col) > gridRoundingTolerance || math.Abs(g.Y-row) > gridRoundingTolerance {
				continue
			}
			cell := gridCell{int(col), int(row)}
			if cell.col < 0 || cell.row < 0 || cell.col >= cols || cell.row >= rows {
				continue
			}
			if _, dup := labels[cell]; dup {
				return nil, errGridNotFound
			}
			labels[cell] = p
		}
		if len(labels) == cols*rows {
			return labels, nil
		}
		if len(labels) < 4 {
			break
		}
		src, dst = src[:0:0], dst[:0:0]
		for cell, p := range labels {
			src = append(src, r2.Point{X: float64(cell.col), Y: float64(cell.row)})
			dst = append(dst, p)
		}
	}
	return nil, errGridNotFound
}

// gridSymmetry maps a cell of a reordered cols x rows grid to the cell it is read from.
type gridSymmetry func(c gridCell, cols, rows int) gridCell

func symIdentity(c gridCell, _, _ int) gridCell { return c }

func symRotate180(c gridCell, cols, rows int) gridCell {
	return gridCell{cols - 1 - c.col, rows - 1 - c.row}
}

func symFlipCols(c gridCell, cols, _ int) gridCell { return gridCell{cols - 1 - c.col, c.row} }

func symFlipRows(c gridCell, _, rows int) gridCell { return gridCell{c.col, rows - 1 - c.row} }

// the remaining symmetries only exist on square grids

func symRotate90(c gridCell, cols, _ int) gridCell { return gridCell{cols - 1 - c.row, c.col} }

func symRotate270(c gridCell, cols, _ int) gridCell { return gridCell{c.row, cols - 1 - c.col} }

func symTranspose(c gridCell, _, _ int) gridCell { return gridCell{c.row, c.col} }

func symAntiTranspose(c gridCell, cols, _ int) gridCell {
	return gridCell{cols - 1 - c.row, cols - 1 - c.col}
}

// rotations returns the symmetries of the grid that keep its handedness, identity first.
func rotations(cols, rows int) []gridSymmetry {
	if cols == rows {
		return []gridSymmetry{symIdentity, symRotate90, symRotate180, symRotate270}
	}
	return []gridSymmetry{symIdentity, symRotate180}
}

// symmetries returns every symmetry of the grid, mirrors included, identity first.
func symmetries(cols, rows int) []gridSymmetry {
	out := append(rotations(cols, rows), symFlipCols, symFlipRows)
	if cols == rows {
		out = append(out, symTranspose, symAntiTranspose)
	}
	return out
}

// permute returns the row major grid pts reordered by sym.
func permute(pts []r2.Point, sym gridSymmetry, cols, rows int) []r2.Point {
	out := make([]r2.Point, len(pts))
	for row := 0; row < rows; row++ {
		for col := 0; col < cols; col++ {
			c := sym(gridCell{col, row}, cols, rows)
			out[row*cols+col] = pts[c.row*cols+c.col]
		}
	}
	return out
}

// outerSquareCenter returns the center of the border square diagonal to the origin of the row major
// grid pts.
func outerSquareCenter(pts []r2.Point, cols int) r2.Point {
	o := pts[0]
	return o.Mul(2).Sub(pts[1].Mul(0.5)).Sub(pts[cols].Mul(0.5))
}

// orderGrid returns the labeled points in row major order with a fixed handedness: going along a
// row then down to the next one turns clockwise in the image, as it does on the board. Of the
// rotations left, the one with the origin next to a dark border square is kept, which pins the
// labeling to the board itself whenever cols + rows is odd. Boards that look the same once
// rotated, or a nil lum, fall back to the origin closest to the image top left.
func orderGrid(labels map[gridCell]r2.Point, cols, rows int, lum *mat.Dense) []r2.Point {
	grid := make([]r2.Point, cols*rows)
	for c, p := range labels {
		grid[c.row*cols+c.col] = p
	}
	if cross(grid[0], grid[cols-1], grid[(rows-1)*cols]) < 0 {
		grid = permute(grid, symFlipCols, cols, rows)
	}
	syms := rotations(cols, rows)
	candidates := make([][]r2.Point, len(syms))
	for k, sym := range syms {
		candidates[k] = permute(grid, sym, cols, rows)
	}

	keep := make([]bool, len(candidates))
	for k := range keep {
		keep[k] = true
	}
	if lum != nil {
		shades := make([]float64, len(candidates))
		minShade, maxShade := math.Inf(1), math.Inf(-1)
		sampled := true
		for k, g := range candidates {
			center := outerSquareCenter(g, cols)
			v, ok := rimage.BilinearInterpolation(lum, center.X, center.Y)
			if !ok {
				sampled = false
				break
			}
			shades[k] = v
			minShade = math.Min(minShade, v)
			maxShade = math.Max(maxShade, v)
		}
		if sampled && maxShade-minShade > shadeContrast*maxShade {
			for k, v := range shades {
				keep[k] = v < (minShade+maxShade)/2
			}
		}
	}

	best, bestScore := 0, math.Inf(1)
	for k, g := range candidates {
		if score := g[0].X + g[0].Y; keep[k] && score < bestScore {
			best, bestScore = k, score
		}
	}
	return candidates[best]
}

// findGrid picks the cols x rows saddle points forming the board and returns them in row major
// order. lum, the image the points come from, tells apart the rotations of the board.
func findGrid(candidates []r2.Point, cols, rows int, lum *mat.Dense) ([]r2.Point, error) {
	if len(candidates) < cols*rows {
		return nil, errors.Wrapf(errGridNotFound, "%d saddle points for a %dx%d grid", len(candidates), cols, rows)
	}
	quad, ok := largestQuad(convexHull(candidates))
	if !ok {
		return nil, errGridNotFound
	}
	// the first quad side is either along the columns or along the rows
	if labels, err := fitGrid(quad, candidates, cols, rows); err == nil {
		return orderGrid(labels, cols, rows, lum), nil
	}
	labels, err := fitGrid(quad, candidates, rows, cols)
	if err != nil {
		return nil, err
	}
	transposed := make(map[gridCell]r2.Point, len(labels))
	for c, p := range labels {
		transposed[gridCell{c.row, c.col}] = p
	}
	return orderGrid(transposed, cols, rows, lum), nil
}

// MatchOrdering reorders pts, the row major corners of a size.X x size.Y board, by the grid
// symmetry that brings them closest to ref, the corners of the same board in an aligned image.
// It reports whether the order changed.
func MatchOrdering(ref, pts []r2.Point, size image.Point) ([]r2.Point, bool, error) {
	n := size.X * size.Y
	if len(ref) != n || len(pts) != n {
		return nil, false, errors.Errorf("cannot match %d corners to %d for a %dx%d board", len(pts), len(ref), size.X, size.Y)
	}
	syms := symmetries(size.X, size.Y)
	best, bestCost := 0, math.Inf(1)
	for k, sym := range syms {
		var cost float64
		for row := 0; row < size.Y; row++ {
			for col := 0; col < size.X; col++ {
				c := sym(gridCell{col, row}, size.X, size.Y)
				d := pts[c.row*size.X+c.col].Sub(ref[row*size.X+col])
				cost += d.Dot(d)
			}
		}
		if cost < bestCost {
			best, bestCost = k, cost
		}
	}
	if best == 0 {
		return pts, false, nil
	}
	return permute(pts, syms[best], size.X, size.Y), true, nil
}
