// Package calibration calibrates a color and depth camera pair from views of a chessboard: the
// frame pairs are loaded and aligned, the board is detected in both modalities, the cameras and
// their relative pose are solved, checked against the epipolar constraint, and the rectification
// of the pair is computed and stored.
package calibration

import (
	"bytes"
	"encoding/json"
	"image"
	"time"

	"github.com/a8m/envsubst"
	"github.com/pkg/errors"
	"github.com/yosuke-furukawa/json5/encoding/json5"

	"go.viam.com/stereocalib/rimage"
	"go.viam.com/stereocalib/rimage/calibration/preview"
	"go.viam.com/stereocalib/rimage/detection/chessboard"
	"go.viam.com/stereocalib/rimage/transform"
)

var (
	// ErrConfiguration is the root of every error caused by a bad configuration or unusable input.
	ErrConfiguration = errors.New("invalid calibration configuration")
	// ErrInsufficientData is returned when no frame pair is left to solve with.
	ErrInsufficientData = errors.Wrap(ErrConfiguration, "no frame pair with a detected pattern")
)

// Pattern is a chessboard with Cols x Rows inner corners and square sides of SquareSize, in the
// unit the translations should be expressed in.
type Pattern struct {
	Cols       int     `json:"cols"`
	Rows       int     `json:"rows"`
	SquareSize float64 `json:"square_size"`
}

// Size returns the pattern size as (cols, rows).
func (p Pattern) Size() image.Point {
	return image.Pt(p.Cols, p.Rows)
}

// NumCorners is the number of inner corners.
func (p Pattern) NumCorners() int {
	return p.Cols * p.Rows
}

// SolverConfig controls the camera and stereo fits.
type SolverConfig struct {
	// CameraFlags are added to FixK3 for the single camera fits.
	CameraFlags transform.CalibrationFlags `json:"camera_flags"`
	// FixIntrinsic keeps the single camera results during the stereo fit.
	FixIntrinsic   bool                   `json:"fix_intrinsic"`
	CameraCriteria transform.TermCriteria `json:"camera_criteria"`
	StereoCriteria transform.TermCriteria `json:"stereo_criteria"`
}

// PreviewConfig holds how long each preview window waits, in milliseconds. A negative wait
// blocks until the operator answers.
type PreviewConfig struct {
	LoadWaitMs      int `json:"load_wait_ms"`
	DetectWaitMs    int `json:"detect_wait_ms"`
	RectifiedWaitMs int `json:"rectified_wait_ms"`
}

// Config is the complete set of calibration settings.
type Config struct {
	Pattern Pattern `json:"pattern"`
	// DepthRange is the raw depth value mapped to 255 in the 8 bit depth frames.
	DepthRange     float64                           `json:"depth_range"`
	DepthAlignment rimage.DepthAlignment             `json:"depth_alignment"`
	Detection      chessboard.DetectionConfiguration `json:"detection"`
	Solver         SolverConfig                      `json:"solver"`
	// RectifyAlpha is the free scaling of the rectified images: 0 keeps only valid pixels, 1
	// keeps every source pixel and -1 disables scaling.
	RectifyAlpha float64       `json:"rectify_alpha"`
	Preview      PreviewConfig `json:"preview"`
}

// DefaultConfig returns the settings for the DS325 color/depth camera.
func DefaultConfig() *Config {
	return &Config{
		Pattern:        Pattern{Cols: 9, Rows: 6, SquareSize: 24},
		DepthRange:     1000,
		DepthAlignment: rimage.DefaultDepthAlignment,
		Detection:      chessboard.DefaultDetectionConfiguration(),
		Solver: SolverConfig{
			CameraCriteria: transform.TermCriteria{MaxIter: 30, Epsilon: 1e-12},
			StereoCriteria: transform.TermCriteria{MaxIter: 100, Epsilon: 1e-5},
		},
		RectifyAlpha: 1,
		Preview:      PreviewConfig{LoadWaitMs: 100, DetectWaitMs: 100, RectifiedWaitMs: -1},
	}
}

// Validate checks the configuration, returning an error wrapping ErrConfiguration.
func (cfg *Config) Validate() error {
	if cfg.Pattern.Cols < 2 || cfg.Pattern.Rows < 2 {
		return errors.Wrapf(ErrConfiguration, "pattern needs at least 2x2 inner corners, got %dx%d",
			cfg.Pattern.Cols, cfg.Pattern.Rows)
	}
	if cfg.Pattern.SquareSize <= 0 {
		return errors.Wrapf(ErrConfiguration, "square size must be positive, got %v", cfg.Pattern.SquareSize)
	}
	if cfg.DepthRange <= 0 {
		return errors.Wrapf(ErrConfiguration, "depth range must be positive, got %v", cfg.DepthRange)
	}
	if err := cfg.Detection.Validate(); err != nil {
		return errors.Wrap(ErrConfiguration, err.Error())
	}
	for _, crit := range []transform.TermCriteria{cfg.Solver.CameraCriteria, cfg.Solver.StereoCriteria} {
		if crit.MaxIter < 1 || crit.Epsilon < 0 {
			return errors.Wrapf(ErrConfiguration, "invalid solver criteria %+v", crit)
		}
	}
	if cfg.RectifyAlpha > 1 || (cfg.RectifyAlpha < 0 && cfg.RectifyAlpha != -1) {
		return errors.Wrapf(ErrConfiguration, "rectify alpha must be -1 or in [0, 1], got %v", cfg.RectifyAlpha)
	}
	return nil
}

func waitFor(ms int) time.Duration {
	if ms < 0 {
		return preview.Forever
	}
	return time.Duration(ms) * time.Millisecond
}

// ReadConfig reads a JSON5 configuration, expanding environment variables. Comments, unquoted keys
// and trailing commas are accepted; unknown fields are not. Fields missing from the file keep
// their default value.
func ReadConfig(path string) (*Config, error) {
	buf, err := envsubst.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw interface{}
	if err := json5.Unmarshal(buf, &raw); err != nil {
		return nil, errors.Wrapf(ErrConfiguration, "cannot parse %q: %v", path, err)
	}
	// json5 has no strict mode, so the document goes through encoding/json once more
	canonical, err := json.Marshal(raw)
	if err != nil {
		return nil, errors.Wrapf(ErrConfiguration, "cannot parse %q: %v", path, err)
	}
	cfg := DefaultConfig()
	dec := json.NewDecoder(bytes.NewReader(canonical))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, errors.Wrapf(ErrConfiguration, "cannot parse %q: %v", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
