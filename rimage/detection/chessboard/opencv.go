//go:build withcv

package chessboard

import (
	"image"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"go.viam.com/stereocalib/rimage"
	"go.viam.com/stereocalib/rimage/transform"
)

// OpenCVDetector finds chessboards with OpenCV's findChessboardCorners and refines them with cornerSubPix.
type OpenCVDetector struct {
	SubPixWindow image.Point
	SubPix       transform.TermCriteria
}

// NewOpenCVDetector returns a detector using the sub-pixel settings of cfg.
func NewOpenCVDetector(cfg DetectionConfiguration) *OpenCVDetector {
	return &OpenCVDetector{SubPixWindow: cfg.SubPixWindow, SubPix: cfg.SubPix}
}

// Find implements Detector.
func (d *OpenCVDetector) Find(img image.Image, size image.Point) ([]r2.Point, bool, error) {
	if rimage.IsEmpty(img) {
		return nil, false, nil
	}
	rgb, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil, false, errors.Wrap(err, "cannot convert image for OpenCV")
	}
	defer rgb.Close()
	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(rgb, &gray, gocv.ColorBGRToGray)

	corners := gocv.NewMat()
	defer corners.Close()
	flags := gocv.CalibCBAdaptiveThresh | gocv.CalibCBNormalizeImage
	if !gocv.FindChessboardCorners(gray, size, &corners, flags) {
		return nil, false, nil
	}
	criteria := gocv.NewTermCriteria(gocv.Count|gocv.EPS, d.SubPix.MaxIter, d.SubPix.Epsilon)
	gocv.CornerSubPix(gray, &corners, d.SubPixWindow, image.Pt(-1, -1), criteria)

	out := make([]r2.Point, corners.Rows())
	for i := range out {
		v := corners.GetVecfAt(i, 0)
		out[i] = r2.Point{X: float64(v[0]), Y: float64(v[1])}
	}
	return out, true, nil
}
