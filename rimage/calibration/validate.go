package calibration

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/stereocalib/rimage/transform"
)

// FrameError is the mean epipolar error of the points of one frame pair.
type FrameError struct {
	Index int
	Mean  float64
}

// undistorter removes the lens distortion of both cameras, keeping pixel units.
type undistorter struct {
	res          *CalibrationResult
	k1, k2       *mat.Dense
	lens1, lens2 transform.Distorter
}

func newUndistorter(res *CalibrationResult) (*undistorter, error) {
	lens1, err := res.Camera1.Lens(transform.InverseBrownConradyDistortionType)
	if err != nil {
		return nil, errors.Wrap(err, "color camera")
	}
	lens2, err := res.Camera2.Lens(transform.InverseBrownConradyDistortionType)
	if err != nil {
		return nil, errors.Wrap(err, "depth camera")
	}
	return &undistorter{
		res:   res,
		k1:    res.Camera1.GetCameraMatrix(),
		k2:    res.Camera2.GetCameraMatrix(),
		lens1: lens1,
		lens2: lens2,
	}, nil
}

func (u *undistorter) undistort(s CorrespondenceSet) ([]r2.Point, []r2.Point, error) {
	if len(s.Color) != len(s.Depth) {
		return nil, nil, errors.Errorf("frame %d has %d color points and %d depth points", s.Index, len(s.Color), len(s.Depth))
	}
	return u.res.Camera1.UndistortPointsWith(u.lens1, s.Color, nil, u.k1),
		u.res.Camera2.UndistortPointsWith(u.lens2, s.Depth, nil, u.k2), nil
}

// epipolarDistance is the distance of p1 to the epipolar line of p2 plus the distance of p2 to
// the epipolar line of p1.
func epipolarDistance(f, ft mat.Matrix, p1, p2 r2.Point) float64 {
	return transform.PointLineDistance(p1, transform.EpipolarLine(ft, p2)) +
		transform.PointLineDistance(p2, transform.EpipolarLine(f, p1))
}

// EpipolarError measures how well the calibration explains the detections. Every point is
// undistorted with its own camera, and the distance from each point to the epipolar line of its
// counterpart is summed over both images. The total is divided by the number of point pairs; the
// per frame means use the same normalization. With no points the error is 0 and
// ErrInsufficientData is returned.
func EpipolarError(res *CalibrationResult, sets []CorrespondenceSet) (float64, []FrameError, error) {
	u, err := newUndistorter(res)
	if err != nil {
		return 0, nil, err
	}
	ft := res.F.T()
	var total float64
	var numPoints int
	frames := make([]FrameError, 0, len(sets))
	for _, s := range sets {
		u1, u2, err := u.undistort(s)
		if err != nil {
			return 0, nil, err
		}
		if len(u1) == 0 {
			continue
		}
		var sum float64
		for j := range u1 {
			sum += epipolarDistance(res.F, ft, u1[j], u2[j])
		}
		frames = append(frames, FrameError{Index: s.Index, Mean: sum / float64(len(u1))})
		total += sum
		numPoints += len(u1)
	}
	if numPoints == 0 {
		return 0, frames, ErrInsufficientData
	}
	return total / float64(numPoints), frames, nil
}

// FundamentalCheck compares the calibration with a fundamental matrix fitted directly to the
// undistorted detections by the normalized eight point algorithm.
type FundamentalCheck struct {
	F *mat.Dense
	// EpipolarError is the mean error of the detections under F, normalized like EpipolarError.
	// It is the floor any calibration of these detections can reach.
	EpipolarError float64
	// EssentialDistance is the Frobenius distance, up to sign, between the unit norm essential
	// matrices of F and of the calibration. It stays near 0 when both agree on the relative pose.
	EssentialDistance float64
}

// CheckFundamental fits a fundamental matrix to every point pair of sets and compares it with
// the calibration. The points of a single view lie on the board plane, so two frame pairs are
// needed.
func CheckFundamental(res *CalibrationResult, sets []CorrespondenceSet) (*FundamentalCheck, error) {
	if len(sets) < 2 {
		return nil, errors.Wrapf(ErrInsufficientData, "fundamental check needs 2 frame pairs, got %d", len(sets))
	}
	u, err := newUndistorter(res)
	if err != nil {
		return nil, err
	}
	var all1, all2 []r2.Point
	for _, s := range sets {
		u1, u2, err := u.undistort(s)
		if err != nil {
			return nil, err
		}
		all1 = append(all1, u1...)
		all2 = append(all2, u2...)
	}
	f, err := transform.ComputeFundamentalMatrixAllPoints(all1, all2, true)
	if err != nil {
		return nil, err
	}
	e, err := transform.GetEssentialMatrixFromFundamental(u.k1, u.k2, f)
	if err != nil {
		return nil, err
	}

	ft := f.T()
	var sum float64
	for j := range all1 {
		sum += epipolarDistance(f, ft, all1[j], all2[j])
	}
	return &FundamentalCheck{
		F:                 f,
		EpipolarError:     sum / float64(len(all1)),
		EssentialDistance: unitDistance(e, res.E),
	}, nil
}

// unitDistance returns min(|a/|a| - b/|b||, |a/|a| + b/|b||) in the Frobenius norm.
func unitDistance(a, b mat.Matrix) float64 {
	na, nb := mat.Norm(a, 2), mat.Norm(b, 2)
	if na == 0 || nb == 0 {
		return math.Inf(1)
	}
	var diff, sum mat.Dense
	diff.Scale(1/na, a)
	sum.Scale(1/na, a)
	var bn mat.Dense
	bn.Scale(1/nb, b)
	diff.Sub(&diff, &bn)
	sum.Add(&sum, &bn)
	return math.Min(mat.Norm(&diff, 2), mat.Norm(&sum, 2))
}
