package transform

import (
	"math"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"
)

func TestRodriguesRoundTrip(t *testing.T) {
	for _, v := range []r3.Vector{
		{},
		{X: 0.1},
		{X: 0.2, Y: -0.4, Z: 1.1},
		{Y: math.Pi},
		{X: -2.5, Y: 0.3, Z: 0.7},
	} {
		rot := Rodrigues(v)
		test.That(t, mat.Det(rot), test.ShouldAlmostEqual, 1)
		back := RodriguesInverse(rot)
		test.That(t, mat.EqualApprox(Rodrigues(back), rot, 1e-9), test.ShouldBeTrue)
		if v.Norm() < math.Pi {
			test.That(t, back.Sub(v).Norm(), test.ShouldBeLessThan, 1e-9)
		}
	}
}

func TestNearestRotation(t *testing.T) {
	rot := Rodrigues(r3.Vector{X: 0.3, Y: 0.2})
	noisy := mat.DenseCopyOf(rot)
	noisy.Set(0, 1, noisy.At(0, 1)+0.01)
	fixed := NearestRotation(noisy)
	var rrt mat.Dense
	rrt.Mul(fixed, fixed.T())
	test.That(t, mat.EqualApprox(&rrt, eye(3), 1e-12), test.ShouldBeTrue)
	test.That(t, mat.EqualApprox(fixed, rot, 0.01), test.ShouldBeTrue)
}

func TestSkew(t *testing.T) {
	a := r3.Vector{X: 1, Y: 2, Z: 3}
	b := r3.Vector{X: -4, Y: 0.5, Z: 2}
	test.That(t, applyRotation(Skew(a), b).Sub(a.Cross(b)).Norm(), test.ShouldBeLessThan, 1e-12)
	test.That(t, DenseToVector(VectorToDense(a)), test.ShouldResemble, a)
}

func TestNewHomography(t *testing.T) {
	_, err := NewHomography([]float64{})
	test.That(t, err, test.ShouldBeError, errors.New("input to NewHomography must have length of 9. Has length of 0"))

	vals := []float64{2.32700501e-01, -8.33535395e-03, -3.61894025e+01, -1.90671303e-03, 2.35303232e-01, 8.38582614e+00, -6.39101664e-05, -4.64582754e-05, 1.00000000e+00}
	h, err := NewHomography(vals)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, h.At(0, 2), test.ShouldEqual, -3.61894025e+01)

	inv, err := h.Inverse()
	test.That(t, err, test.ShouldBeNil)
	pt := r2.Point{X: 120, Y: 80}
	back := inv.Apply(h.Apply(pt))
	test.That(t, back.X, test.ShouldAlmostEqual, pt.X, 1e-6)
	test.That(t, back.Y, test.ShouldAlmostEqual, pt.Y, 1e-6)
}

func TestEstimateHomography(t *testing.T) {
	truth, err := NewHomography([]float64{1.2, 0.1, 30, -0.05, 0.9, 12, 1e-4, -2e-4, 1})
	test.That(t, err, test.ShouldBeNil)
	var src, dst []r2.Point
	for y := 0; y < 6; y++ {
		for x := 0; x < 9; x++ {
			p := r2.Point{X: float64(x) * 24, Y: float64(y) * 24}
			src = append(src, p)
			dst = append(dst, truth.Apply(p))
		}
	}
	h, err := EstimateHomography(src, dst)
	test.That(t, err, test.ShouldBeNil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			test.That(t, h.At(i, j), test.ShouldAlmostEqual, truth.At(i, j), 1e-6)
		}
	}

	// four points are enough
	h, err = EstimateHomography(src[:4:4], dst[:4:4])
	test.That(t, err, test.ShouldBeNil)
	p := h.Apply(src[2])
	test.That(t, p.X, test.ShouldAlmostEqual, dst[2].X, 1e-6)
	_, err = EstimateHomography(src[:3], dst[:3])
	test.That(t, err, test.ShouldNotBeNil)
	_, err = EstimateHomography(src, dst[:5])
	test.That(t, err, test.ShouldNotBeNil)
}

func TestBrownConradyInverse(t *testing.T) {
	bc, err := NewBrownConradyFromCoefficients([]float64{-0.2, 0.08, 0.001, -0.002, -0.01})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, bc.Coefficients(), test.ShouldResemble, []float64{-0.2, 0.08, 0.001, -0.002, -0.01})
	test.That(t, bc.Parameters(), test.ShouldResemble, []float64{-0.2, 0.08, -0.01, 0.001, -0.002})

	inv := bc.Inverse()
	for _, p := range []r2.Point{{}, {X: 0.3, Y: -0.2}, {X: -0.5, Y: 0.4}, {X: 0.1, Y: 0.6}} {
		xd, yd := bc.Transform(p.X, p.Y)
		xu, yu := inv.Transform(xd, yd)
		test.That(t, xu, test.ShouldAlmostEqual, p.X, 1e-9)
		test.That(t, yu, test.ShouldAlmostEqual, p.Y, 1e-9)
	}

	_, err = NewBrownConradyFromCoefficients([]float64{1, 2, 3, 4, 5, 6})
	test.That(t, err, test.ShouldNotBeNil)
	short, err := NewBrownConradyFromCoefficients([]float64{0.1})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, short.Coefficients(), test.ShouldResemble, []float64{0.1, 0, 0, 0, 0})
}

func TestUndistortPoints(t *testing.T) {
	rig := newVirtualRig(t)
	_, img1, _ := rig.observations()
	cam := rig.cam1

	// distorting the undistorted normalized points gives the detections back
	norm := cam.UndistortPoints(img1[0], nil, nil)
	for i, p := range norm {
		back := cam.DistortPoint(p.X, p.Y)
		test.That(t, back.X, test.ShouldAlmostEqual, img1[0][i].X, 1e-6)
		test.That(t, back.Y, test.ShouldAlmostEqual, img1[0][i].Y, 1e-6)
	}

	// projecting with K gives ideal pinhole pixels
	px := cam.UndistortPoints(img1[0][:1], nil, cam.GetCameraMatrix())[0]
	test.That(t, px.X, test.ShouldAlmostEqual, cam.Fx*norm[0].X+cam.Ppx, 1e-9)

	clone := cam.Clone()
	clone.Fx = 1
	test.That(t, cam.Fx, test.ShouldEqual, 520)
	test.That(t, cam.CheckValid(), test.ShouldBeNil)
}

func TestNewDistorter(t *testing.T) {
	params := []float64{-0.2, 0.08, -0.01, 0.001, -0.002}
	forward, err := NewDistorter(BrownConradyDistortionType, params)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, forward.ModelType(), test.ShouldEqual, BrownConradyDistortionType)
	test.That(t, forward.Parameters(), test.ShouldResemble, params)
	inverse, err := NewDistorter(InverseBrownConradyDistortionType, params)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, inverse.CheckValid(), test.ShouldBeNil)

	xd, yd := forward.Transform(0.25, -0.15)
	xu, yu := inverse.Transform(xd, yd)
	test.That(t, xu, test.ShouldAlmostEqual, 0.25, 1e-9)
	test.That(t, yu, test.ShouldAlmostEqual, -0.15, 1e-9)

	_, err = NewDistorter("fisheye", params)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestCameraLens(t *testing.T) {
	rig := newVirtualRig(t)
	_, img1, _ := rig.observations()
	cam := rig.cam1

	inverse, err := cam.Lens(InverseBrownConradyDistortionType)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, inverse.ModelType(), test.ShouldEqual, InverseBrownConradyDistortionType)
	k := cam.GetCameraMatrix()
	test.That(t, cam.UndistortPointsWith(inverse, img1[0], nil, k), test.ShouldResemble, cam.UndistortPoints(img1[0], nil, k))

	forward, err := cam.Lens(BrownConradyDistortionType)
	test.That(t, err, test.ShouldBeNil)
	xd, yd := forward.Transform(0.1, 0.2)
	test.That(t, cam.DistortPoint(0.1, 0.2), test.ShouldResemble, r2.Point{X: cam.Fx*xd + cam.Ppx, Y: cam.Fy*yd + cam.Ppy})

	broken := cam.Clone()
	broken.Distortion.TangentialP1 = math.Inf(1)
	_, err = broken.Lens(InverseBrownConradyDistortionType)
	test.That(t, err, test.ShouldNotBeNil)
	_, err = cam.Lens("fisheye")
	test.That(t, err, test.ShouldNotBeNil)
}
