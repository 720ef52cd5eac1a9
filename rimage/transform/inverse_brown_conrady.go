package transform

const (
	inverseDistortionIterations = 20
	inverseDistortionTolerance  = 1e-12
)

// InverseBrownConrady applies the inverse of the Brown-Conrady distortion model.
// Given distorted normalized points, it computes the corresponding undistorted points.
type InverseBrownConrady struct {
	RadialK1     float64 `json:"rk1"`
	RadialK2     float64 `json:"rk2"`
	RadialK3     float64 `json:"rk3"`
	TangentialP1 float64 `json:"tp1"`
	TangentialP2 float64 `json:"tp2"`
}

// CheckValid checks if the fields for InverseBrownConrady have valid inputs.
func (ibc *InverseBrownConrady) CheckValid() error {
	if ibc == nil {
		return InvalidDistortionError("InverseBrownConrady shaped distortion_parameters not provided")
	}
	return ibc.Forward().CheckValid()
}

// NewInverseBrownConrady takes in a slice of floats (rk1, rk2, rk3, tp1, tp2) that will be passed into the struct in order.
func NewInverseBrownConrady(inp []float64) (*InverseBrownConrady, error) {
	bc, err := NewBrownConrady(inp)
	if err != nil {
		return nil, err
	}
	return bc.Inverse(), nil
}

// ModelType returns the type of distortion model.
func (ibc *InverseBrownConrady) ModelType() DistortionType {
	return InverseBrownConradyDistortionType
}

// Parameters returns the parameters of the distortion model as a list of floats.
func (ibc *InverseBrownConrady) Parameters() []float64 {
	if ibc == nil {
		return []float64{}
	}
	return []float64{ibc.RadialK1, ibc.RadialK2, ibc.RadialK3, ibc.TangentialP1, ibc.TangentialP2}
}

// Forward returns the distortion this model inverts.
func (ibc *InverseBrownConrady) Forward() *BrownConrady {
	if ibc == nil {
		return &BrownConrady{}
	}
	return &BrownConrady{ibc.RadialK1, ibc.RadialK2, ibc.RadialK3, ibc.TangentialP1, ibc.TangentialP2}
}

// Transform solves BrownConrady.Transform(xu, yu) = (xd, yd) for (xu, yu) with Newton-Raphson,
// starting from the distorted point. When the Jacobian becomes singular it falls back to the
// fixed point update used by OpenCV's undistortPoints.
func (ibc *InverseBrownConrady) Transform(xd, yd float64) (float64, float64) {
	if ibc == nil {
		return xd, yd
	}
	k1, k2, k3 := ibc.RadialK1, ibc.RadialK2, ibc.RadialK3
	p1, p2 := ibc.TangentialP1, ibc.TangentialP2

	xu, yu := xd, yd
	for i := 0; i < inverseDistortionIterations; i++ {
		r2 := xu*xu + yu*yu
		radDist := 1 + r2*(k1+r2*(k2+r2*k3))
		tanX := 2*p1*xu*yu + p2*(r2+2*xu*xu)
		tanY := 2*p2*xu*yu + p1*(r2+2*yu*yu)

		errX := xu*radDist + tanX - xd
		errY := yu*radDist + tanY - yd
		if errX*errX+errY*errY < inverseDistortionTolerance*inverseDistortionTolerance {
			break
		}

		// d(radDist)/dr² and the 2x2 Jacobian of the forward model
		dRad := k1 + 2*k2*r2 + 3*k3*r2*r2
		j00 := radDist + 2*xu*xu*dRad + 2*p1*yu + 6*p2*xu
		j01 := 2*xu*yu*dRad + 2*p1*xu + 2*p2*yu
		j10 := 2*xu*yu*dRad + 2*p2*yu + 2*p1*xu
		j11 := radDist + 2*yu*yu*dRad + 2*p2*xu + 6*p1*yu

		det := j00*j11 - j01*j10
		if det == 0 || radDist == 0 {
			if radDist == 0 {
				break
			}
			xu = (xd - tanX) / radDist
			yu = (yd - tanY) / radDist
			continue
		}
		xu -= (j11*errX - j01*errY) / det
		yu -= (-j10*errX + j00*errY) / det
	}
	return xu, yu
}

