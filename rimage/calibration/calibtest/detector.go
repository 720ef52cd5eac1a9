package calibtest

import (
	"fmt"
	"image"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
)

func colorName(i int, suffix string) string { return fmt.Sprintf("color_%d%s", i, suffix) }
func depthName(i int, suffix string) string { return fmt.Sprintf("depth_%d%s", i, suffix) }

// Detector returns known corners for registered images and reports the board as not found
// for any other image.
type Detector struct {
	corners map[image.Image][]r2.Point
	// Calls counts the Find invocations.
	Calls int
}

// NewDetector returns a detector with no known image.
func NewDetector() *Detector {
	return &Detector{corners: map[image.Image][]r2.Point{}}
}

// Add registers the corners of img.
func (d *Detector) Add(img image.Image, corners []r2.Point) {
	d.corners[img] = corners
}

// Find implements chessboard.Detector.
func (d *Detector) Find(img image.Image, size image.Point) ([]r2.Point, bool, error) {
	d.Calls++
	if size.X < 2 || size.Y < 2 {
		return nil, false, errors.Errorf("board needs at least 2x2 inner corners, got %v", size)
	}
	corners, ok := d.corners[img]
	if !ok {
		return nil, false, nil
	}
	return append([]r2.Point(nil), corners...), true, nil
}
