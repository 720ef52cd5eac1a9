package rimage

import (
	"image"
	"image/color"
	"image/draw"

	"gonum.org/v1/gonum/mat"
)

// MakeGray converts any image into an image.Gray anchored at the origin.
func MakeGray(pic image.Image) *image.Gray {
	if g, ok := pic.(*image.Gray); ok && g.Bounds().Min == (image.Point{}) {
		return g
	}
	b := pic.Bounds()
	result := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(result, result.Bounds(), pic, b.Min, draw.Src)
	return result
}

// ConvertColorImageToLuminanceFloat returns the luminance of img in [0, 255] as a rows x cols matrix.
func ConvertColorImageToLuminanceFloat(img image.Image) *mat.Dense {
	gray := MakeGray(img)
	b := gray.Bounds()
	out := mat.NewDense(b.Dy(), b.Dx(), nil)
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			out.Set(y, x, float64(gray.GrayAt(x, y).Y))
		}
	}
	return out
}

// ConvertLuminanceFloatToGray is the inverse of ConvertColorImageToLuminanceFloat, clamping to [0, 255].
func ConvertLuminanceFloatToGray(m mat.Matrix) *image.Gray {
	rows, cols := m.Dims()
	out := image.NewGray(image.Rect(0, 0, cols, rows))
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			v := m.At(y, x)
			switch {
			case v < 0:
				v = 0
			case v > 255:
				v = 255
			}
			out.SetGray(x, y, color.Gray{uint8(v + 0.5)})
		}
	}
	return out
}
