//go:build !withcv

package main

import (
	"github.com/pkg/errors"

	"go.viam.com/stereocalib/rimage/detection/chessboard"
)

func newOpenCVDetector(chessboard.DetectionConfiguration) (chessboard.Detector, error) {
	return nil, errors.New("built without OpenCV support, rebuild with -tags withcv")
}
