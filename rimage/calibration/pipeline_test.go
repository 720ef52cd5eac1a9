package calibration

import (
	"context"
	"image"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"go.viam.com/stereocalib/logging"
	"go.viam.com/stereocalib/rimage/calibration/calibtest"
	"go.viam.com/stereocalib/rimage/transform"
)

// syntheticPairs returns one blank pair per rig pose, registered with the true corners, followed
// by a pair on which nothing is detected.
func syntheticPairs(rig *calibtest.Rig) ([]FramePair, *calibtest.Detector) {
	det := calibtest.NewDetector()
	pairs := make([]FramePair, 0, len(rig.Poses)+1)
	for i := range rig.Poses {
		color, depth := rig.Project(i)
		pair := FramePair{
			Index: i,
			Color: image.NewGray(image.Rectangle{Max: rig.Size}),
			Depth: image.NewGray(image.Rectangle{Max: rig.Size}),
		}
		det.Add(pair.Color, color)
		det.Add(pair.Depth, depth)
		pairs = append(pairs, pair)
	}
	pairs = append(pairs, FramePair{
		Index: len(rig.Poses),
		Color: image.NewGray(image.Rectangle{Max: rig.Size}),
		Depth: image.NewGray(image.Rectangle{Max: rig.Size}),
	})
	return pairs, det
}

func quietConfig() *Config {
	cfg := DefaultConfig()
	cfg.Preview = PreviewConfig{}
	return cfg
}

func TestPipelineProcess(t *testing.T) {
	logger := logging.NewTestLogger(t)
	rig := calibtest.NewRig(t, true)
	pairs, det := syntheticPairs(rig)
	dir := t.TempDir()
	presenter := &countingPresenter{}
	p := &Pipeline{
		Config:    quietConfig(),
		Detector:  det,
		Math:      transform.GonumVisionMath{},
		Presenter: presenter,
		Outputs: Outputs{
			Intrinsics:   filepath.Join(dir, "intrinsics.xml"),
			Extrinsics:   filepath.Join(dir, "extrinsics.yml"),
			StereoParams: filepath.Join(dir, "stereo-params.json"),
		},
		Logger: logger,
	}
	report, err := p.Process(context.Background(), pairs)
	test.That(t, err, test.ShouldBeNil)
	_, err = uuid.Parse(report.RunID)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, report.FramesRequested, test.ShouldEqual, 6)
	test.That(t, report.FramesLoaded, test.ShouldEqual, 6)
	test.That(t, report.FramesAccepted, test.ShouldEqual, 5)
	test.That(t, report.Rejected, test.ShouldResemble, []int{5})
	test.That(t, report.ImageSize, test.ShouldResemble, rig.Size)
	test.That(t, report.FailedWrites, test.ShouldBeEmpty)
	test.That(t, report.Written, test.ShouldResemble,
		[]string{p.Outputs.Intrinsics, p.Outputs.Extrinsics, p.Outputs.StereoParams})
	test.That(t, len(report.FrameErrors), test.ShouldEqual, 5)
	test.That(t, report.EpipolarError, test.ShouldBeLessThan, 1.0)
	test.That(t, report.EpipolarError, test.ShouldBeGreaterThanOrEqualTo, 0.0)
	test.That(t, report.Result.StereoRMS, test.ShouldBeLessThan, 0.01)
	test.That(t, report.Result.T.X, test.ShouldAlmostEqual, rig.T.X, 1)
	test.That(t, report.Rectification.Map1, test.ShouldNotBeNil)
	test.That(t, report.Fundamental, test.ShouldNotBeNil)
	test.That(t, report.Fundamental.EpipolarError, test.ShouldBeLessThan, 0.01)
	test.That(t, report.Fundamental.EssentialDistance, test.ShouldBeLessThan, 0.05)

	windows := presenter.windows
	test.That(t, len(windows), test.ShouldEqual, 10)
	test.That(t, windows[4], test.ShouldEqual, "detect")
	test.That(t, windows[5], test.ShouldEqual, "rectified")

	for _, path := range []string{p.Outputs.Intrinsics, p.Outputs.Extrinsics, p.Outputs.StereoParams} {
		_, err := os.Stat(path)
		test.That(t, err, test.ShouldBeNil)
	}
	params, err := ReadStereoParams(p.Outputs.StereoParams, rig.Size)
	test.That(t, err, test.ShouldBeNil)
	sameBits(t, params.Rectification.P2, report.Rectification.P2)
	sameBits(t, params.Camera1.GetCameraMatrix(), report.Result.Camera1.GetCameraMatrix())
	test.That(t, params.Rectification.ValidROI1, test.ShouldResemble, report.Rectification.ValidROI1)

	// the same input gives the same result
	again, err := (&Pipeline{Config: quietConfig(), Detector: det, Math: transform.GonumVisionMath{}, Logger: logger}).
		Process(context.Background(), pairs)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, again.EpipolarError, test.ShouldEqual, report.EpipolarError)
	test.That(t, again.RunID, test.ShouldNotEqual, report.RunID)
}

func TestPipelineThreePoses(t *testing.T) {
	rig := calibtest.NewRig(t, true)
	rig.Poses = rig.Poses[:3]
	pairs, det := syntheticPairs(rig)
	test.That(t, len(pairs), test.ShouldEqual, 4)
	p := &Pipeline{
		Config:   quietConfig(),
		Detector: det,
		Math:     transform.GonumVisionMath{},
		Logger:   logging.NewTestLogger(t),
	}
	report, err := p.Process(context.Background(), pairs)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, report.FramesRequested, test.ShouldEqual, 4)
	test.That(t, report.FramesAccepted, test.ShouldEqual, 3)
	test.That(t, report.Rejected, test.ShouldResemble, []int{3})
	test.That(t, len(report.FrameErrors), test.ShouldEqual, 3)
	test.That(t, report.EpipolarError, test.ShouldBeLessThan, 1.0)
	test.That(t, report.Result.StereoRMS, test.ShouldBeLessThan, 0.01)
	test.That(t, report.Result.T.X, test.ShouldAlmostEqual, rig.T.X, 1)
	test.That(t, report.Fundamental, test.ShouldNotBeNil)
	test.That(t, report.Written, test.ShouldBeEmpty)
	test.That(t, report.Rectification, test.ShouldNotBeNil)
}

func TestPipelineStopsRectifiedPreview(t *testing.T) {
	rig := calibtest.NewRig(t, false)
	pairs, det := syntheticPairs(rig)
	presenter := &countingPresenter{stopAt: 7}
	p := &Pipeline{
		Config:    quietConfig(),
		Detector:  det,
		Math:      transform.GonumVisionMath{},
		Presenter: presenter,
		Logger:    logging.NewTestLogger(t),
	}
	_, err := p.Process(context.Background(), pairs)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(presenter.windows), test.ShouldEqual, 7)
}

func TestPipelinePersistFailure(t *testing.T) {
	logger, logs := logging.NewObservedTestLogger(t)
	rig := calibtest.NewRig(t, false)
	pairs, det := syntheticPairs(rig)
	dir := t.TempDir()
	missing := filepath.Join(dir, "missing", "intrinsics.xml")
	p := &Pipeline{
		Config:   quietConfig(),
		Detector: det,
		Math:     transform.GonumVisionMath{},
		Outputs: Outputs{
			Intrinsics:   missing,
			Extrinsics:   filepath.Join(dir, "extrinsics.xml"),
			StereoParams: filepath.Join(dir, "stereo-params.txt"),
		},
		Logger: logger,
	}
	report, err := p.Process(context.Background(), pairs)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, report.FailedWrites, test.ShouldResemble, []string{missing, p.Outputs.StereoParams})
	test.That(t, report.Written, test.ShouldResemble, []string{p.Outputs.Extrinsics})
	test.That(t, logs.FilterMessage("cannot write calibration artifact").Len(), test.ShouldEqual, 2)
	test.That(t, report.Rectification, test.ShouldNotBeNil)

	_, err = os.Stat(missing)
	test.That(t, os.IsNotExist(err), test.ShouldBeTrue)
	_, err = os.Stat(p.Outputs.Extrinsics)
	test.That(t, err, test.ShouldBeNil)
	entries, err := os.ReadDir(dir)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(entries), test.ShouldEqual, 1)
}

func TestPipelineInsufficientData(t *testing.T) {
	rig := calibtest.NewRig(t, false)
	pairs, _ := syntheticPairs(rig)
	vm := &recordingMath{rig: rig}
	dir := t.TempDir()
	p := &Pipeline{
		Config:   quietConfig(),
		Detector: calibtest.NewDetector(),
		Math:     vm,
		Outputs:  Outputs{Intrinsics: filepath.Join(dir, "intrinsics.xml")},
		Logger:   logging.NewTestLogger(t),
	}
	report, err := p.Process(context.Background(), pairs)
	test.That(t, errors.Is(err, ErrInsufficientData), test.ShouldBeTrue)
	test.That(t, report.FramesAccepted, test.ShouldEqual, 0)
	test.That(t, len(report.Rejected), test.ShouldEqual, 6)
	test.That(t, vm.cameraCalls, test.ShouldBeEmpty)
	entries, err := os.ReadDir(dir)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, entries, test.ShouldBeEmpty)
}

func TestPipelineRun(t *testing.T) {
	rig := calibtest.NewRig(t, false)
	dir := t.TempDir()
	rig.WriteFrames(t, dir, ".png")

	cfg := quietConfig()
	cfg.DepthAlignment.Crop.Width = 0
	det := calibtest.NewDetector()
	p := &Pipeline{Config: cfg, Detector: det, Math: transform.GonumVisionMath{}, Logger: logging.NewTestLogger(t)}
	report, err := p.Run(context.Background(), dir, ".png", len(rig.Poses)+1)
	// the stub detector knows none of the loaded images
	test.That(t, errors.Is(err, ErrInsufficientData), test.ShouldBeTrue)
	test.That(t, report.FramesRequested, test.ShouldEqual, len(rig.Poses)+1)
	test.That(t, report.FramesLoaded, test.ShouldEqual, len(rig.Poses))
	test.That(t, report.Duration > 0, test.ShouldBeTrue)
}
