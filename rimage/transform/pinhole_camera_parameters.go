package transform

import (
	"fmt"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// ErrNoIntrinsics is when a camera does not have intrinsics parameters or other parameters.
var ErrNoIntrinsics = errors.New("camera intrinsic parameters are not available")

// NewNoIntrinsicsError is used when the intriniscs are not defined.
func NewNoIntrinsicsError(msg string) error {
	return errors.Wrapf(ErrNoIntrinsics, msg)
}

// PinholeCameraIntrinsics holds the parameters necessary to do a perspective projection of a 3D scene to the 2D plane.
type PinholeCameraIntrinsics struct {
	Width  int     `json:"width_px"`
	Height int     `json:"height_px"`
	Fx     float64 `json:"fx"`
	Fy     float64 `json:"fy"`
	Ppx    float64 `json:"ppx"`
	Ppy    float64 `json:"ppy"`
}

// CheckValid checks if the fields for PinholeCameraIntrinsics have valid inputs.
func (params *PinholeCameraIntrinsics) CheckValid() error {
	if params == nil {
		return NewNoIntrinsicsError("Intrinsics do not exist")
	}
	if params.Width == 0 || params.Height == 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid size (%#v, %#v)", params.Width, params.Height))
	}
	if params.Fx <= 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid focal length Fx = %#v", params.Fx))
	}
	if params.Fy <= 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid focal length Fy = %#v", params.Fy))
	}
	if params.Ppx < 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid principal X point Ppx = %#v", params.Ppx))
	}
	if params.Ppy < 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid principal Y point Ppy = %#v", params.Ppy))
	}
	return nil
}

// GetCameraMatrix creates a new camera matrix and returns it.
// Camera matrix:
// [[fx 0 ppx],
//
//	[0 fy ppy],
//	[0 0  1]]
func (params *PinholeCameraIntrinsics) GetCameraMatrix() *mat.Dense {
	if params == nil {
		return nil
	}
	cameraMatrix := mat.NewDense(3, 3, nil)
	cameraMatrix.Set(0, 0, params.Fx)
	cameraMatrix.Set(1, 1, params.Fy)
	cameraMatrix.Set(0, 2, params.Ppx)
	cameraMatrix.Set(1, 2, params.Ppy)
	cameraMatrix.Set(2, 2, 1)
	return cameraMatrix
}

// NewPinholeCameraIntrinsicsFromMatrix reads fx, fy, ppx and ppy out of a 3x3 camera matrix.
func NewPinholeCameraIntrinsicsFromMatrix(k mat.Matrix, width, height int) (*PinholeCameraIntrinsics, error) {
	if r, c := k.Dims(); r != 3 || c != 3 {
		return nil, errors.Errorf("camera matrix must be 3x3, got %dx%d", r, c)
	}
	return &PinholeCameraIntrinsics{
		Width:  width,
		Height: height,
		Fx:     k.At(0, 0),
		Fy:     k.At(1, 1),
		Ppx:    k.At(0, 2),
		Ppy:    k.At(1, 2),
	}, nil
}

// PinholeCameraModel is the model of a pinhole camera with Brown-Conrady lens distortion.
type PinholeCameraModel struct {
	*PinholeCameraIntrinsics `json:"intrinsic_parameters"`
	Distortion               *BrownConrady `json:"distortion"`
}

// NewPinholeCameraModel builds a model from a 3x3 camera matrix and an OpenCV ordered distortion vector.
func NewPinholeCameraModel(k mat.Matrix, d []float64, width, height int) (*PinholeCameraModel, error) {
	intrinsics, err := NewPinholeCameraIntrinsicsFromMatrix(k, width, height)
	if err != nil {
		return nil, err
	}
	distortion, err := NewBrownConradyFromCoefficients(d)
	if err != nil {
		return nil, err
	}
	return &PinholeCameraModel{intrinsics, distortion}, nil
}

// CheckValid checks both the intrinsics and the distortion.
func (params *PinholeCameraModel) CheckValid() error {
	if params == nil {
		return NewNoIntrinsicsError("camera model does not exist")
	}
	if err := params.PinholeCameraIntrinsics.CheckValid(); err != nil {
		return err
	}
	return params.Distortion.CheckValid()
}

// DistortionCoefficients returns the OpenCV ordered distortion vector (k1, k2, p1, p2, k3).
func (params *PinholeCameraModel) DistortionCoefficients() []float64 {
	return params.Distortion.Coefficients()
}

// Clone returns a deep copy of the model.
func (params *PinholeCameraModel) Clone() *PinholeCameraModel {
	intrinsics := *params.PinholeCameraIntrinsics
	var distortion BrownConrady
	if params.Distortion != nil {
		distortion = *params.Distortion
	}
	return &PinholeCameraModel{&intrinsics, &distortion}
}

// Lens returns the lens model of the camera in the direction of t: BrownConradyDistortionType
// distorts ideal normalized coordinates and InverseBrownConradyDistortionType removes the
// distortion. Non finite coefficients are an error.
func (params *PinholeCameraModel) Lens(t DistortionType) (Distorter, error) {
	if err := params.Distortion.CheckValid(); err != nil {
		return nil, err
	}
	return NewDistorter(t, params.Distortion.Parameters())
}

// DistortPoint maps normalized, undistorted camera coordinates to a distorted pixel.
func (params *PinholeCameraModel) DistortPoint(x, y float64) r2.Point {
	return params.pixel(params.Distortion, x, y)
}

func (params *PinholeCameraModel) pixel(lens Distorter, x, y float64) r2.Point {
	xd, yd := lens.Transform(x, y)
	return r2.Point{X: params.Fx*xd + params.Ppx, Y: params.Fy*yd + params.Ppy}
}

// ProjectPoint projects the world point pt, seen from a camera with pose (rot, t), into the image.
func (params *PinholeCameraModel) ProjectPoint(pt r3.Vector, rot *mat.Dense, t r3.Vector) r2.Point {
	pc := applyRotation(rot, pt).Add(t)
	return params.DistortPoint(pc.X/pc.Z, pc.Y/pc.Z)
}

// UndistortPoints removes lens distortion from pixel coordinates, optionally rotates the resulting
// rays by rect and projects them with the left 3x3 block of newProj. A nil rect is the identity
// and a nil newProj yields normalized camera coordinates.
func (params *PinholeCameraModel) UndistortPoints(pts []r2.Point, rect, newProj mat.Matrix) []r2.Point {
	return params.UndistortPointsWith(params.Distortion.Inverse(), pts, rect, newProj)
}

// UndistortPointsWith is UndistortPoints with inverse as the model removing the distortion, as
// returned by Lens.
func (params *PinholeCameraModel) UndistortPointsWith(inverse Distorter, pts []r2.Point, rect, newProj mat.Matrix) []r2.Point {
	m := eye(3)
	if rect != nil {
		m.Copy(rect)
	}
	if newProj != nil {
		var pm mat.Dense
		pm.Mul(leftBlock3(newProj), m)
		m = &pm
	}
	out := make([]r2.Point, len(pts))
	for i, pt := range pts {
		xd := (pt.X - params.Ppx) / params.Fx
		yd := (pt.Y - params.Ppy) / params.Fy
		x, y := inverse.Transform(xd, yd)
		xx := m.At(0, 0)*x + m.At(0, 1)*y + m.At(0, 2)
		yy := m.At(1, 0)*x + m.At(1, 1)*y + m.At(1, 2)
		ww := m.At(2, 0)*x + m.At(2, 1)*y + m.At(2, 2)
		out[i] = r2.Point{X: xx / ww, Y: yy / ww}
	}
	return out
}
