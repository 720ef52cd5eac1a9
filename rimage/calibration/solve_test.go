package calibration

import (
	"context"
	"image"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/stereocalib/logging"
	"go.viam.com/stereocalib/rimage/calibration/calibtest"
	"go.viam.com/stereocalib/rimage/transform"
)

// recordingMath records the calls it gets and returns the rig truth.
type recordingMath struct {
	rig         *calibtest.Rig
	cameraCalls []transform.CalibrationFlags
	stereoFlags transform.CalibrationFlags
	stereoCalls int
	views       int
}

func (m *recordingMath) CalibrateCamera(
	obj [][]r3.Vector,
	img [][]r2.Point,
	size image.Point,
	flags transform.CalibrationFlags,
	guess *transform.PinholeCameraModel,
	crit transform.TermCriteria,
) (*transform.PinholeCameraModel, float64, error) {
	m.cameraCalls = append(m.cameraCalls, flags)
	m.views = len(obj)
	if len(m.cameraCalls) == 1 {
		return m.rig.Camera1.Clone(), 0.1, nil
	}
	return m.rig.Camera2.Clone(), 0.2, nil
}

func (m *recordingMath) StereoCalibrate(
	obj [][]r3.Vector,
	img1, img2 [][]r2.Point,
	cam1, cam2 *transform.PinholeCameraModel,
	size image.Point,
	flags transform.CalibrationFlags,
	crit transform.TermCriteria,
) (*transform.StereoCalibration, error) {
	m.stereoCalls++
	m.stereoFlags = flags
	truth := truthResult(m.rig)
	return &transform.StereoCalibration{
		Camera1: cam1, Camera2: cam2, R: truth.R, T: truth.T, E: truth.E, F: truth.F, RMS: 0.3,
	}, nil
}

// truthResult builds the calibration result of a perfect solve of rig.
func truthResult(rig *calibtest.Rig) *CalibrationResult {
	e := transform.EssentialFromPose(rig.R, rig.T)
	f, err := transform.FundamentalFromEssential(rig.Camera1.GetCameraMatrix(), rig.Camera2.GetCameraMatrix(), e)
	if err != nil {
		panic(err)
	}
	return &CalibrationResult{
		Camera1: rig.Camera1,
		Camera2: rig.Camera2,
		R:       mat.DenseCopyOf(rig.R),
		T:       rig.T,
		E:       e,
		F:       f,
	}
}

// rigSets returns the true correspondences of every rig pose.
func rigSets(rig *calibtest.Rig) []CorrespondenceSet {
	sets := make([]CorrespondenceSet, len(rig.Poses))
	for i := range rig.Poses {
		color, depth := rig.Project(i)
		sets[i] = CorrespondenceSet{Index: i, Color: color, Depth: depth}
	}
	return sets
}

func TestSolveFlags(t *testing.T) {
	rig := calibtest.NewRig(t, true)
	vm := &recordingMath{rig: rig}
	cfg := DefaultConfig()
	res, err := Solve(context.Background(), vm, rigSets(rig), cfg.Pattern, rig.Size, cfg.Solver, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, vm.cameraCalls, test.ShouldResemble, []transform.CalibrationFlags{transform.FixK3, transform.FixK3})
	test.That(t, vm.views, test.ShouldEqual, 5)
	test.That(t, vm.stereoCalls, test.ShouldEqual, 1)
	for _, f := range []transform.CalibrationFlags{
		transform.UseIntrinsicGuess, transform.FixPrincipalPoint, transform.FixAspectRatio,
		transform.ZeroTangentDist, transform.FixK3,
	} {
		test.That(t, vm.stereoFlags.Has(f), test.ShouldBeTrue)
	}
	test.That(t, vm.stereoFlags.Has(transform.FixIntrinsic), test.ShouldBeFalse)
	test.That(t, res.RMS1, test.ShouldEqual, 0.1)
	test.That(t, res.RMS2, test.ShouldEqual, 0.2)
	test.That(t, res.StereoRMS, test.ShouldEqual, 0.3)

	cfg.Solver.FixIntrinsic = true
	cfg.Solver.CameraFlags = transform.ZeroTangentDist
	vm = &recordingMath{rig: rig}
	_, err = Solve(context.Background(), vm, rigSets(rig), cfg.Pattern, rig.Size, cfg.Solver, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, vm.cameraCalls[0], test.ShouldEqual, transform.FixK3|transform.ZeroTangentDist)
	test.That(t, vm.stereoFlags.Has(transform.FixIntrinsic), test.ShouldBeTrue)
}

func TestSolveInsufficientData(t *testing.T) {
	rig := calibtest.NewRig(t, false)
	vm := &recordingMath{rig: rig}
	cfg := DefaultConfig()
	_, err := Solve(context.Background(), vm, nil, cfg.Pattern, rig.Size, cfg.Solver, logging.NewTestLogger(t))
	test.That(t, errors.Is(err, ErrInsufficientData), test.ShouldBeTrue)
	test.That(t, errors.Is(err, ErrConfiguration), test.ShouldBeTrue)
	test.That(t, vm.cameraCalls, test.ShouldBeEmpty)
	test.That(t, vm.stereoCalls, test.ShouldEqual, 0)
}

func TestSolveBadInput(t *testing.T) {
	rig := calibtest.NewRig(t, false)
	cfg := DefaultConfig()
	sets := rigSets(rig)

	vm := &recordingMath{rig: rig}
	_, err := Solve(context.Background(), vm, sets, cfg.Pattern, image.Point{}, cfg.Solver, logging.NewTestLogger(t))
	test.That(t, errors.Is(err, ErrConfiguration), test.ShouldBeTrue)

	sets[2].Depth = sets[2].Depth[:10]
	_, err = Solve(context.Background(), vm, sets, cfg.Pattern, rig.Size, cfg.Solver, logging.NewTestLogger(t))
	test.That(t, errors.Is(err, ErrConfiguration), test.ShouldBeTrue)
	test.That(t, vm.cameraCalls, test.ShouldBeEmpty)
}

func TestSolveCancelled(t *testing.T) {
	rig := calibtest.NewRig(t, false)
	vm := &recordingMath{rig: rig}
	cfg := DefaultConfig()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Solve(ctx, vm, rigSets(rig), cfg.Pattern, rig.Size, cfg.Solver, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeError, context.Canceled)
	test.That(t, len(vm.cameraCalls), test.ShouldEqual, 1)
	test.That(t, vm.stereoCalls, test.ShouldEqual, 0)
}

func TestSolveSyntheticRig(t *testing.T) {
	rig := calibtest.NewRig(t, true)
	cfg := DefaultConfig()
	res, err := Solve(context.Background(), transform.GonumVisionMath{}, rigSets(rig), cfg.Pattern, rig.Size,
		cfg.Solver, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.StereoRMS, test.ShouldBeLessThan, 0.01)
	test.That(t, res.Camera1.Fx, test.ShouldAlmostEqual, rig.Camera1.Fx, 2)
	test.That(t, res.Camera2.Fy, test.ShouldAlmostEqual, rig.Camera2.Fy, 2)
	test.That(t, res.T.X, test.ShouldAlmostEqual, rig.T.X, 1)
	test.That(t, res.Camera1.Distortion.Coefficients()[0], test.ShouldAlmostEqual, -0.12, 0.01)
}
