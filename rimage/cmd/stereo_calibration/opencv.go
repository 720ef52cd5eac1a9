//go:build withcv

package main

import (
	"go.viam.com/stereocalib/rimage/detection/chessboard"
)

func newOpenCVDetector(cfg chessboard.DetectionConfiguration) (chessboard.Detector, error) {
	return chessboard.NewOpenCVDetector(cfg), nil
}
