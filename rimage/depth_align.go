package rimage

import (
	"image"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
)

// CropRect is a rectangle given by its top left corner and size.
type CropRect struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Rect returns the crop as an image.Rectangle.
func (c CropRect) Rect() image.Rectangle {
	return image.Rect(c.X, c.Y, c.X+c.Width, c.Y+c.Height)
}

// Empty is true when the crop selects nothing, in which case no crop is applied.
func (c CropRect) Empty() bool {
	return c.Width <= 0 || c.Height <= 0
}

// DepthAlignment maps a depth frame onto the field of view of the color sensor: the depth image
// is resized to an intermediate size, the region seen by both sensors is cropped and the crop is
// resized to the color frame size. The crop is sensor specific.
type DepthAlignment struct {
	// ResizeWidth and ResizeHeight give the intermediate size; zero means the color frame size.
	ResizeWidth  int      `json:"resize_width,omitempty"`
	ResizeHeight int      `json:"resize_height,omitempty"`
	Crop         CropRect `json:"crop"`
}

// DefaultDepthAlignment is the alignment measured for the DS325 color/depth pair.
var DefaultDepthAlignment = DepthAlignment{
	Crop: CropRect{X: 40, Y: 43, Width: 498, Height: 372},
}

// Align resizes, crops and resizes depth so that it has colorSize and overlaps the color frame.
func (a DepthAlignment) Align(depth *image.Gray, colorSize image.Point) (*image.Gray, error) {
	if depth == nil || depth.Bounds().Empty() {
		return nil, errors.New("no depth image present to align")
	}
	if colorSize.X <= 0 || colorSize.Y <= 0 {
		return nil, errors.Errorf("invalid color frame size %v", colorSize)
	}
	w, h := a.ResizeWidth, a.ResizeHeight
	if w <= 0 {
		w = colorSize.X
	}
	if h <= 0 {
		h = colorSize.Y
	}
	var out image.Image = depth
	if depth.Bounds().Dx() != w || depth.Bounds().Dy() != h {
		out = imaging.Resize(depth, w, h, imaging.Linear)
	}
	if !a.Crop.Empty() {
		crop := a.Crop.Rect()
		if !crop.In(image.Rect(0, 0, w, h)) {
			return nil, errors.Errorf("depth crop %v outside of resized depth frame %dx%d", crop, w, h)
		}
		out = imaging.Crop(out, crop)
	}
	if out.Bounds().Dx() != colorSize.X || out.Bounds().Dy() != colorSize.Y {
		out = imaging.Resize(out, colorSize.X, colorSize.Y, imaging.Linear)
	}
	return MakeGray(out), nil
}
