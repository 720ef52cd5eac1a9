package chessboard

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/stereocalib/logging"
	"go.viam.com/stereocalib/rimage"
	"go.viam.com/stereocalib/rimage/transform"
)

// Detector finds the inner corners of a chessboard with size.X columns and size.Y rows of inner
// corners. Corners are returned in row major order. found is false, with a nil error, when the
// board is not visible.
type Detector interface {
	Find(img image.Image, size image.Point) (corners []r2.Point, found bool, err error)
}

// DetectionConfiguration stores the parameters necessary for chessboard detection in an image.
type DetectionConfiguration struct {
	Saddle       SaddleConfiguration    `json:"saddle"`
	SubPixWindow image.Point            `json:"subpix_window"`
	SubPix       transform.TermCriteria `json:"subpix_criteria"`
	// DebugDir receives a saddle map of every image on which no board is found.
	DebugDir string `json:"debug_dir,omitempty"`
}

// DefaultDetectionConfiguration returns the saddle detector defaults.
func DefaultDetectionConfiguration() DetectionConfiguration {
	return DetectionConfiguration{
		Saddle:       DefaultSaddleConf,
		SubPixWindow: DefaultSubPixWindow,
		SubPix:       DefaultSubPixCriteria,
	}
}

// Validate checks that the configuration can be used.
func (cfg *DetectionConfiguration) Validate() error {
	if err := cfg.Saddle.Validate(); err != nil {
		return err
	}
	if cfg.SubPixWindow.X < 1 || cfg.SubPixWindow.Y < 1 {
		return errors.Errorf("sub-pixel window must be positive, got %v", cfg.SubPixWindow)
	}
	if cfg.SubPix.MaxIter < 0 {
		return errors.Errorf("sub-pixel iterations must not be negative, got %d", cfg.SubPix.MaxIter)
	}
	return nil
}

// SaddleDetector finds chessboards as grids of saddle points of the image luminance.
type SaddleDetector struct {
	cfg      DetectionConfiguration
	logger   logging.Logger
	rejected atomic.Int64
}

// NewSaddleDetector returns a detector using cfg.
func NewSaddleDetector(cfg DetectionConfiguration, logger logging.Logger) (*SaddleDetector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.DebugDir != "" {
		if err := os.MkdirAll(cfg.DebugDir, 0o750); err != nil {
			return nil, errors.Wrap(err, "cannot create saddle map directory")
		}
	}
	return &SaddleDetector{cfg: cfg, logger: logger}, nil
}

// Find detects the board: the rows*cols strongest saddle points are fit to a grid by homography,
// ordered, and refined to sub-pixel accuracy.
func (d *SaddleDetector) Find(img image.Image, size image.Point) ([]r2.Point, bool, error) {
	if size.X < 2 || size.Y < 2 {
		return nil, false, errors.Errorf("board needs at least 2x2 inner corners, got %v", size)
	}
	if rimage.IsEmpty(img) {
		return nil, false, nil
	}
	lum := rimage.ConvertColorImageToLuminanceFloat(img)
	_, saddles, err := GetSaddleMapPoints(lum, &d.cfg.Saddle)
	if err != nil {
		return nil, false, err
	}
	n := size.X * size.Y
	if len(saddles) < n {
		d.logger.Debugw("not enough saddle points", "found", len(saddles), "needed", n)
		d.plotRejected(saddles, lum)
		return nil, false, nil
	}
	candidates := make([]r2.Point, n)
	for i, s := range saddles[:n] {
		candidates[i] = r2.Point{X: float64(s.Point.X), Y: float64(s.Point.Y)}
	}
	corners, err := findGrid(candidates, size.X, size.Y, lum)
	if err != nil {
		d.logger.Debugw("no chessboard grid", "error", err)
		d.plotRejected(saddles[:n], lum)
		return nil, false, nil
	}
	return RefineCorners(lum, corners, d.cfg.SubPixWindow, d.cfg.SubPix), true, nil
}

// plotRejected saves the saddle points of an image without a board, outlined by their hull.
func (d *SaddleDetector) plotRejected(saddles []Saddle, lum *mat.Dense) {
	if d.cfg.DebugDir == "" {
		return
	}
	pts := make([]r2.Point, len(saddles))
	for i, s := range saddles {
		pts[i] = r2.Point{X: float64(s.Point.X), Y: float64(s.Point.Y)}
	}
	rows, cols := lum.Dims()
	path := filepath.Join(d.cfg.DebugDir, fmt.Sprintf("saddles_%03d.png", d.rejected.Add(1)-1))
	if err := PlotSaddleMap(saddles, convexHull(pts), path, cols, rows); err != nil {
		d.logger.Warnw("cannot save saddle map", "path", path, "error", err)
		return
	}
	d.logger.Debugw("saddle map saved", "path", path)
}
