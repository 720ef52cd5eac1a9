package calibration

import (
	"context"
	"image"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"

	"go.viam.com/stereocalib/logging"
	"go.viam.com/stereocalib/rimage"
	"go.viam.com/stereocalib/rimage/calibration/preview"
	"go.viam.com/stereocalib/rimage/detection/chessboard"
	"go.viam.com/stereocalib/utils"
)

// CorrespondenceSet holds the pattern corners found in the color and depth frames of one pair.
// Both slices have one point per inner corner, in the row major order of the pattern grid.
type CorrespondenceSet struct {
	Index int
	Color []r2.Point
	Depth []r2.Point
}

// Detection is the result of DetectCorrespondences: the accepted pairs and their corners, index
// aligned, and the indices of the pairs that were dropped.
type Detection struct {
	Pairs    []FramePair
	Points   []CorrespondenceSet
	Rejected []int
}

// detectBoard runs the detector and checks the number of corners it returned.
func detectBoard(det chessboard.Detector, img image.Image, pattern Pattern) ([]r2.Point, bool, error) {
	if rimage.IsEmpty(img) {
		return nil, false, nil
	}
	corners, found, err := det.Find(img, pattern.Size())
	if err != nil || !found {
		return nil, false, err
	}
	if len(corners) != pattern.NumCorners() {
		return nil, false, errors.Errorf("detector returned %d corners for a %dx%d pattern",
			len(corners), pattern.Cols, pattern.Rows)
	}
	return corners, true, nil
}

// DetectCorrespondences finds the pattern in the color and depth frame of every pair. A pair is
// kept only when both detections succeed. Depth corners are put in the order of the color
// corners, so that point i names the same board corner in both frames. The dropped pairs are removed from every collection in
// a single pass, keeping the order of the remaining ones.
func DetectCorrespondences(
	ctx context.Context,
	pairs []FramePair,
	pattern Pattern,
	det chessboard.Detector,
	cfg *Config,
	presenter preview.Presenter,
	logger logging.Logger,
) (*Detection, error) {
	colorPoints := make([][]r2.Point, len(pairs))
	depthPoints := make([][]r2.Point, len(pairs))
	for i, pair := range pairs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		colorCorners, found, err := detectBoard(det, pair.Color, pattern)
		if err != nil {
			return nil, errors.Wrapf(err, "color frame %d", pair.Index)
		}
		if !found {
			logger.Infow("cannot find all corners", "index", pair.Index, "frame", "color")
			continue
		}
		depthCorners, found, err := detectBoard(det, pair.Depth, pattern)
		if err != nil {
			return nil, errors.Wrapf(err, "depth frame %d", pair.Index)
		}
		if !found {
			logger.Infow("cannot find all corners", "index", pair.Index, "frame", "depth")
			continue
		}
		// depth is aligned to color, so the nearest labeling is the one naming the same corners
		depthCorners, reordered, err := chessboard.MatchOrdering(colorCorners, depthCorners, pattern.Size())
		if err != nil {
			return nil, errors.Wrapf(err, "depth frame %d", pair.Index)
		}
		if reordered {
			logger.Debugw("depth corners reordered to match color", "index", pair.Index)
		}
		colorPoints[i], depthPoints[i] = colorCorners, depthCorners

		if _, err := presenter.Present(ctx, "detect", waitFor(cfg.Preview.DetectWaitMs),
			rimage.DrawCorners(pair.Color, colorCorners, true),
			rimage.DrawCorners(pair.Depth, depthCorners, true),
		); err != nil {
			logger.Warnw("cannot present detection", "index", pair.Index, "error", err)
		}
	}

	accepted := utils.AcceptedIndices(len(pairs), func(i int) bool {
		return colorPoints[i] != nil && depthPoints[i] != nil
	})
	out := &Detection{
		Pairs:    utils.Compact(pairs, accepted),
		Points:   make([]CorrespondenceSet, len(accepted)),
		Rejected: make([]int, 0, len(pairs)-len(accepted)),
	}
	colorPoints = utils.Compact(colorPoints, accepted)
	depthPoints = utils.Compact(depthPoints, accepted)
	for k, pair := range out.Pairs {
		out.Points[k] = CorrespondenceSet{Index: pair.Index, Color: colorPoints[k], Depth: depthPoints[k]}
	}
	for _, i := range utils.RejectedIndices(len(pairs), accepted) {
		out.Rejected = append(out.Rejected, pairs[i].Index)
	}
	logger.Infow("pattern detection done", "accepted", len(accepted), "rejected", len(out.Rejected))
	return out, nil
}
