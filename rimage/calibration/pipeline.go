package calibration

import (
	"context"
	"image"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"go.viam.com/stereocalib/logging"
	"go.viam.com/stereocalib/rimage/calibration/cvstorage"
	"go.viam.com/stereocalib/rimage/calibration/preview"
	"go.viam.com/stereocalib/rimage/detection/chessboard"
)

// Outputs are the artifact paths written by a run. An empty path skips that artifact.
type Outputs struct {
	Intrinsics   string
	Extrinsics   string
	StereoParams string
}

// Pipeline runs the complete calibration of a color and depth camera pair.
type Pipeline struct {
	Config    *Config
	Detector  chessboard.Detector
	Math      VisionMath
	Presenter preview.Presenter
	Outputs   Outputs
	Logger    logging.Logger
}

// Report summarizes a run.
type Report struct {
	RunID           string
	Started         time.Time
	Duration        time.Duration
	FramesRequested int
	FramesLoaded    int
	FramesAccepted  int
	Rejected        []int
	ImageSize       image.Point
	Result          *CalibrationResult
	Rectification   *RectificationResult
	EpipolarError   float64
	FrameErrors     []FrameError
	// Fundamental is nil when fewer than 2 pairs were accepted or the fit failed.
	Fundamental *FundamentalCheck
	// Written holds the artifacts persisted by the run, in write order.
	Written []string
	// FailedWrites holds the artifacts that could not be persisted.
	FailedWrites []string
}

// Run loads the pairs 0 to n-1 of dir and processes them.
func (p *Pipeline) Run(ctx context.Context, dir, suffix string, n int) (*Report, error) {
	started := time.Now()
	pairs, err := LoadFramePairs(ctx, dir, suffix, n, p.Config, p.presenter(), p.Logger.Sublogger("load"))
	if err != nil {
		return nil, err
	}
	report, err := p.Process(ctx, pairs)
	if report != nil {
		report.Started = started
		report.Duration = time.Since(started)
	}
	return report, err
}

func (p *Pipeline) presenter() preview.Presenter {
	if p.Presenter == nil {
		return preview.Headless{}
	}
	return p.Presenter
}

// Process calibrates from already loaded pairs. Intrinsics are written as soon as the cameras
// are solved and the rectification artifacts before the maps are built. A failed write is
// logged and recorded in the report; the run goes on.
func (p *Pipeline) Process(ctx context.Context, pairs []FramePair) (*Report, error) {
	cfg := p.Config
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	presenter := p.presenter()
	report := &Report{RunID: uuid.NewString(), Started: time.Now(), FramesRequested: len(pairs)}
	logger := p.Logger
	logger.Infow("calibration started", "run", report.RunID, "frames", len(pairs))
	for _, pair := range pairs {
		if pair.Size() != (image.Point{}) {
			report.FramesLoaded++
		}
	}

	detection, err := DetectCorrespondences(ctx, pairs, cfg.Pattern, p.Detector, cfg, presenter, logger.Sublogger("detect"))
	if err != nil {
		return report, err
	}
	report.FramesAccepted = len(detection.Points)
	report.Rejected = detection.Rejected
	if len(detection.Points) == 0 {
		return report, ErrInsufficientData
	}
	size := detection.Pairs[0].Size()
	report.ImageSize = size
	for _, pair := range detection.Pairs[1:] {
		if pair.Size() != size {
			return report, errors.Wrapf(ErrConfiguration, "frame %d is %v, expected %v", pair.Index, pair.Size(), size)
		}
	}

	res, err := Solve(ctx, p.Math, detection.Points, cfg.Pattern, size, cfg.Solver, logger.Sublogger("solve"))
	if err != nil {
		return report, err
	}
	report.Result = res

	report.EpipolarError, report.FrameErrors, err = EpipolarError(res, detection.Points)
	if err != nil {
		return report, err
	}
	logger.Infow("average epipolar error", "error", report.EpipolarError)
	if len(detection.Points) >= 2 {
		check, err := CheckFundamental(res, detection.Points)
		if err != nil {
			logger.Warnw("cannot fit fundamental matrix to detections", "error", err)
		} else {
			report.Fundamental = check
			logger.Infow("eight point cross check", "epipolar_error", check.EpipolarError,
				"essential_distance", check.EssentialDistance)
		}
	}

	storage := logger.Sublogger("storage")
	p.persist(report, storage, p.Outputs.Intrinsics, IntrinsicsDocument(res))
	if err := ctx.Err(); err != nil {
		return report, err
	}

	rectLogger := logger.Sublogger("rectify")
	rect, err := Rectify(res, size, cfg.RectifyAlpha)
	if err != nil {
		return report, err
	}
	rectLogger.Infow("rectification computed", "roi1", rect.ValidROI1, "roi2", rect.ValidROI2)
	p.persist(report, storage, p.Outputs.Extrinsics, ExtrinsicsDocument(res, rect))
	params, err := StereoParamsDocument(res, rect)
	if err != nil {
		return report, err
	}
	p.persist(report, storage, p.Outputs.StereoParams, params)

	maps, err := BuildRectifyMaps(res, rect, size)
	if err != nil {
		return report, err
	}
	report.Rectification = maps

	for _, pair := range detection.Pairs {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		left, right := maps.RectifyPair(pair)
		canvas := preview.RenderRectifiedCanvas(left, right, rect.ValidROI1, rect.ValidROI2)
		more, err := presenter.Present(ctx, "rectified", waitFor(cfg.Preview.RectifiedWaitMs), canvas)
		if err != nil {
			rectLogger.Warnw("cannot present rectified pair", "index", pair.Index, "error", err)
		}
		if !more {
			break
		}
	}
	logger.Infow("calibration done", "run", report.RunID, "accepted", report.FramesAccepted,
		"stereo_rms", res.StereoRMS, "epipolar_error", report.EpipolarError)
	return report, nil
}

func (p *Pipeline) persist(report *Report, logger logging.Logger, path string, doc *cvstorage.Document) {
	if path == "" {
		return
	}
	if err := cvstorage.Write(path, doc); err != nil {
		logger.Errorw("cannot write calibration artifact", "path", path, "error", err)
		report.FailedWrites = append(report.FailedWrites, path)
		return
	}
	report.Written = append(report.Written, path)
	logger.Infow("calibration artifact written", "path", path)
}
