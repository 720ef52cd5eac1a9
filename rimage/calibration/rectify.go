package calibration

import (
	"image"

	"github.com/pkg/errors"

	"go.viam.com/stereocalib/rimage/transform"
)

// RectificationResult is the rectification of the pair with the lookup maps of both cameras.
type RectificationResult struct {
	*transform.StereoRectification
	Map1 *transform.RectifyMap
	Map2 *transform.RectifyMap
}

// Rectify computes the rectifying transforms of the calibrated pair with equal principal points,
// for rectified images of the source size.
func Rectify(res *CalibrationResult, size image.Point, alpha float64) (*transform.StereoRectification, error) {
	rect, err := transform.StereoRectify(res.Camera1, res.Camera2, size, res.R, res.T, transform.ZeroDisparity, alpha, size)
	if err != nil {
		return nil, errors.Wrap(err, "cannot rectify stereo pair")
	}
	return rect, nil
}

// BuildRectifyMaps computes the lookup maps turning raw frames into rectified ones.
func BuildRectifyMaps(res *CalibrationResult, rect *transform.StereoRectification, size image.Point) (*RectificationResult, error) {
	map1, err := transform.InitUndistortRectifyMap(res.Camera1, rect.R1, rect.P1, size)
	if err != nil {
		return nil, errors.Wrap(err, "color camera")
	}
	map2, err := transform.InitUndistortRectifyMap(res.Camera2, rect.R2, rect.P2, size)
	if err != nil {
		return nil, errors.Wrap(err, "depth camera")
	}
	return &RectificationResult{StereoRectification: rect, Map1: map1, Map2: map2}, nil
}

// RectifyPair warps both frames of pair.
func (r *RectificationResult) RectifyPair(pair FramePair) (image.Image, image.Image) {
	return r.Map1.Remap(pair.Color), r.Map2.Remap(pair.Depth)
}
