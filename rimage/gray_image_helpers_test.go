package rimage

import (
	"image"
	"image/color"
	"testing"

	"go.viam.com/test"
)

func TestLuminanceRoundTrip(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 8, 4))
	img.Set(3, 2, color.RGBA{200, 10, 20, 255})

	gray := MakeGray(img)
	test.That(t, gray.Bounds(), test.ShouldResemble, img.Bounds())
	test.That(t, MakeGray(gray), test.ShouldEqual, gray)

	lum := ConvertColorImageToLuminanceFloat(gray)
	rows, cols := lum.Dims()
	test.That(t, rows, test.ShouldEqual, 4)
	test.That(t, cols, test.ShouldEqual, 8)
	test.That(t, lum.At(2, 3), test.ShouldEqual, float64(gray.GrayAt(3, 2).Y))
	test.That(t, ConvertLuminanceFloatToGray(lum).GrayAt(3, 2).Y, test.ShouldEqual, gray.GrayAt(3, 2).Y)
}
