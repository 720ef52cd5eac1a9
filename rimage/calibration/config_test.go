package calibration

import (
	"image"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/test"

	"go.viam.com/stereocalib/rimage"
	"go.viam.com/stereocalib/rimage/calibration/preview"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	test.That(t, os.WriteFile(path, []byte(content), 0o600), test.ShouldBeNil)
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	test.That(t, cfg.Validate(), test.ShouldBeNil)
	test.That(t, cfg.Pattern.Size().X, test.ShouldEqual, 9)
	test.That(t, cfg.Pattern.Size().Y, test.ShouldEqual, 6)
	test.That(t, cfg.Pattern.NumCorners(), test.ShouldEqual, 54)
	test.That(t, cfg.DepthAlignment, test.ShouldResemble, rimage.DefaultDepthAlignment)
	test.That(t, cfg.RectifyAlpha, test.ShouldEqual, 1.0)
}

func TestReadConfig(t *testing.T) {
	t.Setenv("CALIB_SQUARE", "25.5")
	path := writeConfig(t, `{
		"pattern": {"cols": 9, "rows": 6, "square_size": $CALIB_SQUARE},
		"depth_alignment": {"crop": {"width": 0}},
		"rectify_alpha": 0,
		"preview": {"rectified_wait_ms": 0}
	}`)
	cfg, err := ReadConfig(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.Pattern.SquareSize, test.ShouldEqual, 25.5)
	test.That(t, cfg.DepthAlignment.Crop.Empty(), test.ShouldBeTrue)
	test.That(t, cfg.RectifyAlpha, test.ShouldEqual, 0.0)
	test.That(t, cfg.Preview.RectifiedWaitMs, test.ShouldEqual, 0)

	// untouched fields keep their defaults
	test.That(t, cfg.DepthRange, test.ShouldEqual, 1000.0)
	test.That(t, cfg.Solver, test.ShouldResemble, DefaultConfig().Solver)
	test.That(t, cfg.Preview.LoadWaitMs, test.ShouldEqual, 100)
}

func TestReadConfigJSON5(t *testing.T) {
	path := writeConfig(t, `{
		// bench setup with the small board
		pattern: {cols: 7, rows: 5, square_size: 30,},
		detection: {subpix_window: {X: 5, Y: 5}},
		rectify_alpha: -1,
	}`)
	cfg, err := ReadConfig(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.Pattern.Cols, test.ShouldEqual, 7)
	test.That(t, cfg.Pattern.Rows, test.ShouldEqual, 5)
	test.That(t, cfg.Pattern.SquareSize, test.ShouldEqual, 30.0)
	test.That(t, cfg.Detection.SubPixWindow, test.ShouldResemble, image.Pt(5, 5))
	test.That(t, cfg.RectifyAlpha, test.ShouldEqual, -1.0)

	// unquoted keys are still checked against the known fields
	_, err = ReadConfig(writeConfig(t, `{pattern: {colums: 7}}`))
	test.That(t, errors.Is(err, ErrConfiguration), test.ShouldBeTrue)
	test.That(t, err.Error(), test.ShouldContainSubstring, "colums")
}

func TestReadConfigErrors(t *testing.T) {
	_, err := ReadConfig(filepath.Join(t.TempDir(), "missing.json"))
	test.That(t, err, test.ShouldNotBeNil)

	for _, content := range []string{
		`{"pattern": {"cols": 1}}`,
		`{"pattern": {"square_size": -1}}`,
		`{"depth_range": 0}`,
		`{"rectify_alpha": 2}`,
		`{"rectify_alpha": -0.5}`,
		`{"solver": {"stereo_criteria": {"max_iter": 0}}}`,
		`{"unknown": true}`,
		`{"pattern": `,
	} {
		_, err := ReadConfig(writeConfig(t, content))
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, errors.Is(err, ErrConfiguration), test.ShouldBeTrue)
	}
}

func TestWaitFor(t *testing.T) {
	test.That(t, waitFor(-1), test.ShouldEqual, preview.Forever)
	test.That(t, waitFor(0), test.ShouldEqual, time.Duration(0))
	test.That(t, waitFor(100), test.ShouldEqual, 100*time.Millisecond)
}
