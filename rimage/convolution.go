package rimage

import (
	"image"
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/stereocalib/utils"
)

// Kernel is a convolution matrix with an anchor in its center.
type Kernel struct {
	Content [][]float64
	Width   int
	Height  int
}

// NewKernel returns a kernel wrapping content, which must be rectangular.
func NewKernel(content [][]float64) (*Kernel, error) {
	if len(content) == 0 || len(content[0]) == 0 {
		return nil, errors.New("kernel must not be empty")
	}
	for _, row := range content {
		if len(row) != len(content[0]) {
			return nil, errors.New("kernel rows must have the same length")
		}
	}
	return &Kernel{content, len(content[0]), len(content)}, nil
}

// Size returns the kernel width and height.
func (k *Kernel) Size() image.Point {
	return image.Point{k.Width, k.Height}
}

// At returns the coefficient at column x, row y.
func (k *Kernel) At(x, y int) float64 {
	return k.Content[y][x]
}

// GetSobelX returns the Kernel corresponding to the Sobel kernel in the x direction.
func GetSobelX() Kernel {
	return Kernel{[][]float64{
		{-1, 0, 1},
		{-2, 0, 2},
		{-1, 0, 1},
	}, 3, 3}
}

// GetSobelY returns the Kernel corresponding to the Sobel kernel in the y direction.
func GetSobelY() Kernel {
	return Kernel{[][]float64{
		{-1, -2, -1},
		{0, 0, 0},
		{1, 2, 1},
	}, 3, 3}
}

// GetGaussian returns a normalized size x size gaussian kernel. A non positive sigma is derived
// from the size the same way OpenCV does it.
func GetGaussian(size int, sigma float64) Kernel {
	if size%2 == 0 {
		size++
	}
	if sigma <= 0 {
		sigma = 0.3*(float64(size-1)*0.5-1) + 0.8
	}
	half := size / 2
	oneD := make([]float64, size)
	sum := 0.
	for i := range oneD {
		d := float64(i - half)
		oneD[i] = math.Exp(-d * d / (2 * sigma * sigma))
		sum += oneD[i]
	}
	content := make([][]float64, size)
	for y := range content {
		content[y] = make([]float64, size)
		for x := range content[y] {
			content[y][x] = oneD[x] * oneD[y] / (sum * sum)
		}
	}
	return Kernel{content, size, size}
}

// ConvolveGrayFloat64 implements a gray float64 image convolution with the Kernel filter.
// Borders are replicated and there is no clamping of the result.
func ConvolveGrayFloat64(m *mat.Dense, filter *Kernel) (*mat.Dense, error) {
	if filter == nil || filter.Width == 0 || filter.Height == 0 {
		return nil, errors.New("convolution needs a non empty kernel")
	}
	h, w := m.Dims()
	result := mat.NewDense(h, w, nil)
	ax, ay := filter.Width/2, filter.Height/2
	utils.ParallelForEachPixel(image.Point{w, h}, func(x, y int) {
		sum := 0.
		for ky := 0; ky < filter.Height; ky++ {
			yy := utils.ClampInt(y+ky-ay, 0, h-1)
			for kx := 0; kx < filter.Width; kx++ {
				xx := utils.ClampInt(x+kx-ax, 0, w-1)
				sum += m.At(yy, xx) * filter.At(kx, ky)
			}
		}
		result.Set(y, x, sum)
	})
	return result, nil
}

// BilinearInterpolation samples m at the sub-pixel position (x, y). ok is false when the
// position falls outside of the matrix.
func BilinearInterpolation(m mat.Matrix, x, y float64) (float64, bool) {
	rows, cols := m.Dims()
	if x < 0 || y < 0 || x > float64(cols-1) || y > float64(rows-1) {
		return 0, false
	}
	x0, y0 := int(math.Floor(x)), int(math.Floor(y))
	x1, y1 := utils.MinInt(x0+1, cols-1), utils.MinInt(y0+1, rows-1)
	dx, dy := x-float64(x0), y-float64(y0)
	top := m.At(y0, x0)*(1-dx) + m.At(y0, x1)*dx
	bottom := m.At(y1, x0)*(1-dx) + m.At(y1, x1)*dx
	return top*(1-dy) + bottom*dy, true
}
