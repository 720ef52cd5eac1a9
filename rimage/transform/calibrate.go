package transform

import (
	"image"
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// CalibrationFlags select which camera parameters a calibration keeps fixed and how it is initialized.
type CalibrationFlags int

// The flags mirror the OpenCV calibration flags of the same name.
const (
	UseIntrinsicGuess CalibrationFlags = 1 << iota
	FixAspectRatio
	FixPrincipalPoint
	ZeroTangentDist
	FixK1
	FixK2
	FixK3
	FixIntrinsic
)

// Has returns whether all bits of other are set.
func (f CalibrationFlags) Has(other CalibrationFlags) bool {
	return f&other == other
}

// ErrNotEnoughViews is returned when a calibration gets no usable view.
var ErrNotEnoughViews = errors.New("calibration needs at least one view of the pattern")

// StereoCalibration is the result of a joint calibration of two cameras looking at the same pattern.
// A point X in the first camera frame is R*X + T in the second camera frame.
type StereoCalibration struct {
	Camera1 *PinholeCameraModel
	Camera2 *PinholeCameraModel
	R       *mat.Dense
	T       r3.Vector
	E       *mat.Dense
	F       *mat.Dense
	RMS     float64
}

// GonumVisionMath calibrates pinhole cameras on planar patterns with gonum: Zhang's closed form
// initialization followed by Levenberg-Marquardt refinement of the reprojection error.
type GonumVisionMath struct{}

const (
	numIntrinsicParams = 4 + NumDistortionCoefficients
	numPoseParams      = 6
	poseRefineIters    = 30
)

// intrinsics vector layout: fx fy cx cy k1 k2 p1 p2 k3.
const (
	idxFx = iota
	idxFy
	idxCx
	idxCy
	idxK1
	idxK2
	idxP1
	idxP2
	idxK3
)

// CalibrateCamera estimates the intrinsics of a single camera from views of a planar pattern.
// obj[i] and img[i] are the pattern points of view i and their detections. It returns the
// camera model and the RMS reprojection error in pixels.
func (GonumVisionMath) CalibrateCamera(
	obj [][]r3.Vector,
	img [][]r2.Point,
	size image.Point,
	flags CalibrationFlags,
	guess *PinholeCameraModel,
	crit TermCriteria,
) (*PinholeCameraModel, float64, error) {
	if err := checkViews(obj, img); err != nil {
		return nil, 0, err
	}
	if size.X <= 0 || size.Y <= 0 {
		return nil, 0, errors.Errorf("invalid image size %v", size)
	}

	var intr []float64
	if flags.Has(UseIntrinsicGuess) && guess != nil {
		intr = intrinsicsVector(guess)
	} else {
		var err error
		intr, err = initIntrinsics(obj, img, size)
		if err != nil {
			return nil, 0, err
		}
	}
	ratio := 1.0
	if flags.Has(FixAspectRatio) {
		if flags.Has(UseIntrinsicGuess) && guess != nil {
			ratio = intr[idxFx] / intr[idxFy]
		} else {
			intr[idxFx] = intr[idxFy]
		}
	}
	if flags.Has(ZeroTangentDist) {
		intr[idxP1], intr[idxP2] = 0, 0
	}

	cam := modelFromVector(intr, size)
	full := append([]float64{}, intr...)
	for i := range obj {
		rot, t, err := estimatePose(cam, obj[i], img[i])
		if err != nil {
			return nil, 0, errors.Wrapf(err, "view %d", i)
		}
		full = appendPose(full, rot, t)
	}

	layout := newParamLayout(full)
	layout.maskIntrinsics(0, flags, ratio)
	for i := numIntrinsicParams; i < len(full); i++ {
		layout.free = append(layout.free, i)
	}

	m := 2 * countPoints(img)
	residuals := func(dst, x []float64) {
		p := layout.expand(x)
		off := 0
		for v := range obj {
			rot, t := poseAt(p, numIntrinsicParams+numPoseParams*v)
			off = projectResiduals(dst, off, p[:numIntrinsicParams], rot, t, obj[v], img[v])
		}
	}
	x, cost := levenbergMarquardt(residuals, layout.pack(), m, crit)
	p := layout.expand(x)
	return modelFromVector(p[:numIntrinsicParams], size), rmsFromCost(cost, m), nil
}

// StereoCalibrate jointly refines the two camera models, the relative pose of the second camera
// and the pattern poses, minimizing the reprojection error in both images. Unless
// UseIntrinsicGuess is set each camera is first calibrated on its own.
func (vm GonumVisionMath) StereoCalibrate(
	obj [][]r3.Vector,
	img1, img2 [][]r2.Point,
	cam1, cam2 *PinholeCameraModel,
	size image.Point,
	flags CalibrationFlags,
	crit TermCriteria,
) (*StereoCalibration, error) {
	if err := checkViews(obj, img1); err != nil {
		return nil, err
	}
	if err := checkViews(obj, img2); err != nil {
		return nil, err
	}
	perCamera := flags &^ (UseIntrinsicGuess | FixIntrinsic)
	if (!flags.Has(UseIntrinsicGuess) && !flags.Has(FixIntrinsic)) || cam1 == nil || cam2 == nil {
		var err error
		if cam1, _, err = vm.CalibrateCamera(obj, img1, size, perCamera, cam1, crit); err != nil {
			return nil, errors.Wrap(err, "first camera")
		}
		if cam2, _, err = vm.CalibrateCamera(obj, img2, size, perCamera, cam2, crit); err != nil {
			return nil, errors.Wrap(err, "second camera")
		}
	}
	intr1, intr2 := intrinsicsVector(cam1), intrinsicsVector(cam2)
	if flags.Has(ZeroTangentDist) {
		intr1[idxP1], intr1[idxP2] = 0, 0
		intr2[idxP1], intr2[idxP2] = 0, 0
	}

	// initial relative pose: component-wise median over the views
	var oms, ts [3][]float64
	poses1 := make([]*mat.Dense, len(obj))
	trans1 := make([]r3.Vector, len(obj))
	for i := range obj {
		r1, t1, err := estimatePose(cam1, obj[i], img1[i])
		if err != nil {
			return nil, errors.Wrapf(err, "first camera view %d", i)
		}
		r2, t2, err := estimatePose(cam2, obj[i], img2[i])
		if err != nil {
			return nil, errors.Wrapf(err, "second camera view %d", i)
		}
		poses1[i], trans1[i] = r1, t1
		var rel mat.Dense
		rel.Mul(r2, r1.T())
		om := RodriguesInverse(&rel)
		t := t2.Sub(applyRotation(&rel, t1))
		oms[0] = append(oms[0], om.X)
		oms[1] = append(oms[1], om.Y)
		oms[2] = append(oms[2], om.Z)
		ts[0] = append(ts[0], t.X)
		ts[1] = append(ts[1], t.Y)
		ts[2] = append(ts[2], t.Z)
	}
	med := func(vals []float64) float64 {
		m, err := stats.Median(vals)
		if err != nil {
			return 0
		}
		return m
	}
	om := r3.Vector{X: med(oms[0]), Y: med(oms[1]), Z: med(oms[2])}
	tInit := r3.Vector{X: med(ts[0]), Y: med(ts[1]), Z: med(ts[2])}

	full := append(append([]float64{}, intr1...), intr2...)
	full = append(full, om.X, om.Y, om.Z, tInit.X, tInit.Y, tInit.Z)
	for i := range obj {
		full = appendPose(full, poses1[i], trans1[i])
	}

	layout := newParamLayout(full)
	if !flags.Has(FixIntrinsic) {
		layout.maskIntrinsics(0, flags, intr1[idxFx]/intr1[idxFy])
		layout.maskIntrinsics(numIntrinsicParams, flags, intr2[idxFx]/intr2[idxFy])
	}
	for i := 2 * numIntrinsicParams; i < len(full); i++ {
		layout.free = append(layout.free, i)
	}

	posesStart := 2*numIntrinsicParams + numPoseParams
	m := 2 * (countPoints(img1) + countPoints(img2))
	residuals := func(dst, x []float64) {
		p := layout.expand(x)
		rel, tRel := poseAt(p, 2*numIntrinsicParams)
		off := 0
		for v := range obj {
			r1, t1 := poseAt(p, posesStart+numPoseParams*v)
			var r2 mat.Dense
			r2.Mul(rel, r1)
			t2 := applyRotation(rel, t1).Add(tRel)
			off = projectResiduals(dst, off, p[:numIntrinsicParams], r1, t1, obj[v], img1[v])
			off = projectResiduals(dst, off, p[numIntrinsicParams:2*numIntrinsicParams], &r2, t2, obj[v], img2[v])
		}
	}
	x, cost := levenbergMarquardt(residuals, layout.pack(), m, crit)
	p := layout.expand(x)

	rot, t := poseAt(p, 2*numIntrinsicParams)
	out := &StereoCalibration{
		Camera1: modelFromVector(p[:numIntrinsicParams], size),
		Camera2: modelFromVector(p[numIntrinsicParams:2*numIntrinsicParams], size),
		R:       rot,
		T:       t,
		RMS:     rmsFromCost(cost, m),
	}
	out.E = EssentialFromPose(rot, t)
	f, err := FundamentalFromEssential(out.Camera1.GetCameraMatrix(), out.Camera2.GetCameraMatrix(), out.E)
	if err != nil {
		return nil, err
	}
	out.F = f
	return out, nil
}

func checkViews(obj [][]r3.Vector, img [][]r2.Point) error {
	if len(obj) == 0 {
		return ErrNotEnoughViews
	}
	if len(obj) != len(img) {
		return errors.Errorf("got %d object point views and %d image point views", len(obj), len(img))
	}
	for i := range obj {
		if len(obj[i]) != len(img[i]) {
			return errors.Errorf("view %d has %d object points and %d image points", i, len(obj[i]), len(img[i]))
		}
		if len(obj[i]) < 4 {
			return errors.Errorf("view %d has %d points, need at least 4", i, len(obj[i]))
		}
		for _, pt := range obj[i] {
			if math.Abs(pt.Z) > 1e-9 {
				return errors.Errorf("view %d: only planar patterns (z = 0) are supported", i)
			}
		}
	}
	return nil
}

func countPoints(img [][]r2.Point) int {
	n := 0
	for _, v := range img {
		n += len(v)
	}
	return n
}

// initIntrinsics estimates fx and fy from the pattern homographies with the principal point
// fixed at the image center and no distortion (Zhang, with the simplifications of OpenCV).
func initIntrinsics(obj [][]r3.Vector, img [][]r2.Point, size image.Point) ([]float64, error) {
	cx := float64(size.X-1) * 0.5
	cy := float64(size.Y-1) * 0.5
	a := mat.NewDense(2*len(obj), 2, nil)
	b := mat.NewVecDense(2*len(obj), nil)
	for i := range obj {
		h, err := EstimateHomography(planar(obj[i]), img[i])
		if err != nil {
			return nil, errors.Wrapf(err, "view %d", i)
		}
		var hv, vv, d1, d2 [3]float64
		for t := 0; t < 3; t++ {
			h0 := h.At(t, 0)
			h1 := h.At(t, 1)
			if t == 0 {
				h0 -= h.At(2, 0) * cx
				h1 -= h.At(2, 1) * cx
			} else if t == 1 {
				h0 -= h.At(2, 0) * cy
				h1 -= h.At(2, 1) * cy
			}
			hv[t], vv[t] = h0, h1
			d1[t] = (h0 + h1) * 0.5
			d2[t] = (h0 - h1) * 0.5
		}
		for _, v := range []*[3]float64{&hv, &vv, &d1, &d2} {
			n := math.Sqrt(v[0]*v[0] + v[1]*v[1] + v[2]*v[2])
			if n > 0 {
				v[0], v[1], v[2] = v[0]/n, v[1]/n, v[2]/n
			}
		}
		a.SetRow(2*i, []float64{hv[0] * vv[0], hv[1] * vv[1]})
		b.SetVec(2*i, -hv[2]*vv[2])
		a.SetRow(2*i+1, []float64{d1[0] * d2[0], d1[1] * d2[1]})
		b.SetVec(2*i+1, -d1[2]*d2[2])
	}

	fallback := float64(max(size.X, size.Y))
	fx, fy := fallback, fallback
	var f mat.VecDense
	if err := f.SolveVec(a, b); err == nil {
		if v := math.Sqrt(math.Abs(1 / f.AtVec(0))); isUsableFocal(v) {
			fx = v
		}
		if v := math.Sqrt(math.Abs(1 / f.AtVec(1))); isUsableFocal(v) {
			fy = v
		}
	}
	return []float64{fx, fy, cx, cy, 0, 0, 0, 0, 0}, nil
}

func isUsableFocal(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0) && f > 0
}

func planar(obj []r3.Vector) []r2.Point {
	out := make([]r2.Point, len(obj))
	for i, p := range obj {
		out[i] = r2.Point{X: p.X, Y: p.Y}
	}
	return out
}

// estimatePose finds the pose of a planar pattern seen by cam: a homography on undistorted
// normalized points gives the initial guess, refined on the pixel reprojection error.
func estimatePose(cam *PinholeCameraModel, obj []r3.Vector, img []r2.Point) (*mat.Dense, r3.Vector, error) {
	norm := cam.UndistortPoints(img, nil, nil)
	h, err := EstimateHomography(planar(obj), norm)
	if err != nil {
		return nil, r3.Vector{}, err
	}
	h1 := r3.Vector{X: h.At(0, 0), Y: h.At(1, 0), Z: h.At(2, 0)}
	h2 := r3.Vector{X: h.At(0, 1), Y: h.At(1, 1), Z: h.At(2, 1)}
	h3 := r3.Vector{X: h.At(0, 2), Y: h.At(1, 2), Z: h.At(2, 2)}
	scale := 2 / (h1.Norm() + h2.Norm())
	r1, r2, t := h1.Mul(scale), h2.Mul(scale), h3.Mul(scale)
	if t.Z < 0 {
		r1, r2, t = r1.Mul(-1), r2.Mul(-1), t.Mul(-1)
	}
	r3v := r1.Cross(r2)
	rot := NearestRotation(mat.NewDense(3, 3, []float64{
		r1.X, r2.X, r3v.X,
		r1.Y, r2.Y, r3v.Y,
		r1.Z, r2.Z, r3v.Z,
	}))

	intr := intrinsicsVector(cam)
	x0 := appendPose(nil, rot, t)
	residuals := func(dst, x []float64) {
		r, tv := poseAt(x, 0)
		projectResiduals(dst, 0, intr, r, tv, obj, img)
	}
	x, _ := levenbergMarquardt(residuals, x0, 2*len(obj), TermCriteria{MaxIter: poseRefineIters, Epsilon: 1e-10})
	rot, t = poseAt(x, 0)
	return rot, t, nil
}

// projectResiduals writes the (projected - observed) differences of the view into dst starting at
// off, and returns the offset after the view.
func projectResiduals(dst []float64, off int, intr []float64, rot *mat.Dense, t r3.Vector, obj []r3.Vector, img []r2.Point) int {
	fx, fy, cx, cy := intr[idxFx], intr[idxFy], intr[idxCx], intr[idxCy]
	k1, k2, p1, p2, k3 := intr[idxK1], intr[idxK2], intr[idxP1], intr[idxP2], intr[idxK3]
	for i, pt := range obj {
		pc := applyRotation(rot, pt).Add(t)
		x, y := pc.X/pc.Z, pc.Y/pc.Z
		r2 := x*x + y*y
		radial := 1 + r2*(k1+r2*(k2+r2*k3))
		xd := x*radial + 2*p1*x*y + p2*(r2+2*x*x)
		yd := y*radial + p1*(r2+2*y*y) + 2*p2*x*y
		dst[off] = fx*xd + cx - img[i].X
		dst[off+1] = fy*yd + cy - img[i].Y
		off += 2
	}
	return off
}

func intrinsicsVector(cam *PinholeCameraModel) []float64 {
	d := cam.DistortionCoefficients()
	return []float64{cam.Fx, cam.Fy, cam.Ppx, cam.Ppy, d[0], d[1], d[2], d[3], d[4]}
}

func modelFromVector(p []float64, size image.Point) *PinholeCameraModel {
	return &PinholeCameraModel{
		PinholeCameraIntrinsics: &PinholeCameraIntrinsics{
			Width:  size.X,
			Height: size.Y,
			Fx:     p[idxFx],
			Fy:     p[idxFy],
			Ppx:    p[idxCx],
			Ppy:    p[idxCy],
		},
		Distortion: &BrownConrady{
			RadialK1:     p[idxK1],
			RadialK2:     p[idxK2],
			RadialK3:     p[idxK3],
			TangentialP1: p[idxP1],
			TangentialP2: p[idxP2],
		},
	}
}

func appendPose(p []float64, rot mat.Matrix, t r3.Vector) []float64 {
	om := RodriguesInverse(rot)
	return append(p, om.X, om.Y, om.Z, t.X, t.Y, t.Z)
}

func poseAt(p []float64, off int) (*mat.Dense, r3.Vector) {
	rot := Rodrigues(r3.Vector{X: p[off], Y: p[off+1], Z: p[off+2]})
	return rot, r3.Vector{X: p[off+3], Y: p[off+4], Z: p[off+5]}
}

// paramLayout maps the free parameters seen by the optimizer onto the full parameter vector.
type paramLayout struct {
	full []float64
	free []int
	// ties set full[dst] = ratio * full[src] after expansion
	ties []paramTie
}

type paramTie struct {
	dst, src int
	ratio    float64
}

func newParamLayout(full []float64) *paramLayout {
	return &paramLayout{full: full}
}

// maskIntrinsics marks the intrinsics block starting at off as free, except for what flags fix.
func (l *paramLayout) maskIntrinsics(off int, flags CalibrationFlags, ratio float64) {
	if flags.Has(FixIntrinsic) {
		return
	}
	fixed := map[int]bool{}
	if flags.Has(FixAspectRatio) {
		fixed[idxFx] = true
		l.ties = append(l.ties, paramTie{dst: off + idxFx, src: off + idxFy, ratio: ratio})
	}
	if flags.Has(FixPrincipalPoint) {
		fixed[idxCx], fixed[idxCy] = true, true
	}
	if flags.Has(ZeroTangentDist) {
		fixed[idxP1], fixed[idxP2] = true, true
	}
	if flags.Has(FixK1) {
		fixed[idxK1] = true
	}
	if flags.Has(FixK2) {
		fixed[idxK2] = true
	}
	if flags.Has(FixK3) {
		fixed[idxK3] = true
	}
	for i := 0; i < numIntrinsicParams; i++ {
		if !fixed[i] {
			l.free = append(l.free, off+i)
		}
	}
}

func (l *paramLayout) pack() []float64 {
	x := make([]float64, len(l.free))
	for i, idx := range l.free {
		x[i] = l.full[idx]
	}
	return x
}

func (l *paramLayout) expand(x []float64) []float64 {
	p := make([]float64, len(l.full))
	copy(p, l.full)
	for i, idx := range l.free {
		p[idx] = x[i]
	}
	for _, tie := range l.ties {
		p[tie.dst] = tie.ratio * p[tie.src]
	}
	return p
}
