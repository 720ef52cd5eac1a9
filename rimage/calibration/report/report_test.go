package report

import (
	"bytes"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/stereocalib/rimage/calibration"
	"go.viam.com/stereocalib/rimage/transform"
)

func sampleReport(t *testing.T) *calibration.Report {
	t.Helper()
	k := mat.NewDense(3, 3, []float64{520, 0, 320, 0, 518, 240, 0, 0, 1})
	cam, err := transform.NewPinholeCameraModel(k, make([]float64, 5), 640, 480)
	test.That(t, err, test.ShouldBeNil)
	return &calibration.Report{
		RunID:           "0b5b3f7e-3c52-4c8e-9f2c-7bd0a1f0c001",
		FramesRequested: 6,
		FramesLoaded:    6,
		FramesAccepted:  4,
		Rejected:        []int{2, 5},
		Result: &calibration.CalibrationResult{
			Camera1: cam, Camera2: cam, T: r3.Vector{X: -60},
			RMS1: 0.21, RMS2: 0.33, StereoRMS: 0.4,
		},
		EpipolarError: 0.25,
		FrameErrors: []calibration.FrameError{
			{Index: 0, Mean: 0.2}, {Index: 1, Mean: 0.4}, {Index: 3, Mean: 0.1}, {Index: 4, Mean: 0.3},
		},
		Fundamental:  &calibration.FundamentalCheck{EpipolarError: 0.0123, EssentialDistance: 0.0456},
		FailedWrites: []string{"/nowhere/intrinsics.xml"},
	}
}

func TestComputeFrameStats(t *testing.T) {
	fs, err := ComputeFrameStats(sampleReport(t).FrameErrors)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, fs.Median, test.ShouldAlmostEqual, 0.25)
	test.That(t, fs.Max, test.ShouldEqual, 0.4)
	test.That(t, fs.Worst, test.ShouldEqual, 1)

	_, err = ComputeFrameStats(nil)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestTable(t *testing.T) {
	out := Table(sampleReport(t))
	test.That(t, out, test.ShouldContainSubstring, "0b5b3f7e-3c52-4c8e-9f2c-7bd0a1f0c001")
	test.That(t, out, test.ShouldContainSubstring, "6 requested, 6 loaded, 4 accepted")
	test.That(t, out, test.ShouldContainSubstring, "2, 5")
	test.That(t, out, test.ShouldContainSubstring, "0.4000")
	test.That(t, out, test.ShouldContainSubstring, "520.00, 518.00")
	test.That(t, out, test.ShouldContainSubstring, "60.000")
	test.That(t, out, test.ShouldContainSubstring, "(frame 1)")
	test.That(t, out, test.ShouldContainSubstring, "Eight point error")
	test.That(t, out, test.ShouldContainSubstring, "0.0123")
	test.That(t, out, test.ShouldContainSubstring, "0.0456")
	test.That(t, out, test.ShouldContainSubstring, "/nowhere/intrinsics.xml")

	// a run that stopped before solving only has the frame counts
	out = Table(&calibration.Report{RunID: "x", FramesRequested: 3})
	test.That(t, out, test.ShouldContainSubstring, "0 accepted")
	test.That(t, out, test.ShouldNotContainSubstring, "Stereo RMS")
	test.That(t, out, test.ShouldNotContainSubstring, "Essential distance")
}

func TestChart(t *testing.T) {
	var buf bytes.Buffer
	test.That(t, WriteChart(&buf, sampleReport(t)), test.ShouldBeNil)
	img, err := png.Decode(&buf)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, img.Bounds().Dx(), test.ShouldBeGreaterThan, 0)

	path := filepath.Join(t.TempDir(), "errors.png")
	test.That(t, SaveChart(path, sampleReport(t)), test.ShouldBeNil)
	f, err := os.Open(path)
	test.That(t, err, test.ShouldBeNil)
	defer f.Close()
	cfg, _, err := image.DecodeConfig(f)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.Width, test.ShouldEqual, img.Bounds().Dx())

	_, err = Chart(&calibration.Report{})
	test.That(t, err, test.ShouldNotBeNil)
	missing := filepath.Join(t.TempDir(), "missing", "errors.png")
	test.That(t, SaveChart(missing, &calibration.Report{}), test.ShouldNotBeNil)
	_, err = os.Stat(missing)
	test.That(t, os.IsNotExist(err), test.ShouldBeTrue)
}
