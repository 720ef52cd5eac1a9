package calibration

import (
	"context"
	"image"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/stereocalib/logging"
	"go.viam.com/stereocalib/rimage/transform"
)

// VisionMath is the camera calibration backend. transform.GonumVisionMath implements it.
type VisionMath interface {
	CalibrateCamera(
		obj [][]r3.Vector,
		img [][]r2.Point,
		size image.Point,
		flags transform.CalibrationFlags,
		guess *transform.PinholeCameraModel,
		crit transform.TermCriteria,
	) (*transform.PinholeCameraModel, float64, error)
	StereoCalibrate(
		obj [][]r3.Vector,
		img1, img2 [][]r2.Point,
		cam1, cam2 *transform.PinholeCameraModel,
		size image.Point,
		flags transform.CalibrationFlags,
		crit transform.TermCriteria,
	) (*transform.StereoCalibration, error)
}

// CalibrationResult holds both camera models, the pose (R, T) of the depth camera relative to the
// color camera, the essential and fundamental matrices, and the RMS reprojection errors of the
// two single camera fits and of the stereo fit.
type CalibrationResult struct {
	Camera1   *transform.PinholeCameraModel
	Camera2   *transform.PinholeCameraModel
	R         *mat.Dense
	T         r3.Vector
	E         *mat.Dense
	F         *mat.Dense
	RMS1      float64
	RMS2      float64
	StereoRMS float64
}

// Flags used by Solve. The single camera fits keep k3 at zero and the stereo fit refines the
// focal lengths and radial distortion from them, keeping principal points and aspect ratios.
const (
	cameraFlags = transform.FixK3
	stereoFlags = transform.UseIntrinsicGuess | transform.FixPrincipalPoint | transform.FixAspectRatio |
		transform.ZeroTangentDist | transform.FixK3
)

// Solve calibrates each camera on its own and then the pair. sets must not be empty: with no
// accepted pair ErrInsufficientData is returned and vm is not called.
func Solve(
	ctx context.Context,
	vm VisionMath,
	sets []CorrespondenceSet,
	pattern Pattern,
	size image.Point,
	cfg SolverConfig,
	logger logging.Logger,
) (*CalibrationResult, error) {
	if len(sets) == 0 {
		return nil, ErrInsufficientData
	}
	if size.X <= 0 || size.Y <= 0 {
		return nil, errors.Wrapf(ErrConfiguration, "invalid frame size %v", size)
	}
	obj := ObjectPoints(pattern, len(sets))
	img1 := make([][]r2.Point, len(sets))
	img2 := make([][]r2.Point, len(sets))
	for i, s := range sets {
		if len(s.Color) != pattern.NumCorners() || len(s.Depth) != pattern.NumCorners() {
			return nil, errors.Wrapf(ErrConfiguration, "frame %d has %d color and %d depth corners, expected %d",
				s.Index, len(s.Color), len(s.Depth), pattern.NumCorners())
		}
		img1[i], img2[i] = s.Color, s.Depth
	}

	cam1, rms1, err := vm.CalibrateCamera(obj, img1, size, cameraFlags|cfg.CameraFlags, nil, cfg.CameraCriteria)
	if err != nil {
		return nil, errors.Wrap(err, "cannot calibrate color camera")
	}
	logger.Infow("color camera calibrated", "rms", rms1, "fx", cam1.Fx, "fy", cam1.Fy)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cam2, rms2, err := vm.CalibrateCamera(obj, img2, size, cameraFlags|cfg.CameraFlags, nil, cfg.CameraCriteria)
	if err != nil {
		return nil, errors.Wrap(err, "cannot calibrate depth camera")
	}
	logger.Infow("depth camera calibrated", "rms", rms2, "fx", cam2.Fx, "fy", cam2.Fy)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	flags := stereoFlags
	if cfg.FixIntrinsic {
		flags |= transform.FixIntrinsic
	}
	stereo, err := vm.StereoCalibrate(obj, img1, img2, cam1, cam2, size, flags, cfg.StereoCriteria)
	if err != nil {
		return nil, errors.Wrap(err, "cannot calibrate stereo pair")
	}
	logger.Infow("stereo pair calibrated", "rms", stereo.RMS, "baseline", stereo.T.Norm())
	return &CalibrationResult{
		Camera1:   stereo.Camera1,
		Camera2:   stereo.Camera2,
		R:         stereo.R,
		T:         stereo.T,
		E:         stereo.E,
		F:         stereo.F,
		RMS1:      rms1,
		RMS2:      rms2,
		StereoRMS: stereo.RMS,
	}, nil
}
