package transform

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

// Rodrigues converts an axis-angle rotation vector into a 3x3 rotation matrix.
func Rodrigues(v r3.Vector) *mat.Dense {
	theta := v.Norm()
	if theta < 1e-15 {
		return eye(3)
	}
	k := v.Mul(1 / theta)
	c, s := math.Cos(theta), math.Sin(theta)
	rot := mat.NewDense(3, 3, []float64{
		c + (1-c)*k.X*k.X, (1-c)*k.X*k.Y - s*k.Z, (1-c)*k.X*k.Z + s*k.Y,
		(1-c)*k.Y*k.X + s*k.Z, c + (1-c)*k.Y*k.Y, (1-c)*k.Y*k.Z - s*k.X,
		(1-c)*k.Z*k.X - s*k.Y, (1-c)*k.Z*k.Y + s*k.X, c + (1-c)*k.Z*k.Z,
	})
	return rot
}

// RodriguesInverse converts a rotation matrix into its axis-angle rotation vector. The matrix is
// projected onto the closest rotation first.
func RodriguesInverse(rot mat.Matrix) r3.Vector {
	R := NearestRotation(rot)
	rx := R.At(2, 1) - R.At(1, 2)
	ry := R.At(0, 2) - R.At(2, 0)
	rz := R.At(1, 0) - R.At(0, 1)
	s := math.Sqrt((rx*rx+ry*ry+rz*rz)*0.25)
	c := (R.At(0, 0) + R.At(1, 1) + R.At(2, 2) - 1) * 0.5
	c = math.Max(-1, math.Min(1, c))
	theta := math.Acos(c)

	if s >= 1e-5 {
		vth := theta / (2 * s)
		return r3.Vector{X: rx * vth, Y: ry * vth, Z: rz * vth}
	}
	if c > 0 {
		return r3.Vector{}
	}
	// rotation by pi: recover the axis from the diagonal
	x := math.Sqrt(math.Max((R.At(0, 0)+1)*0.5, 0))
	y := math.Sqrt(math.Max((R.At(1, 1)+1)*0.5, 0))
	if R.At(0, 1) < 0 {
		y = -y
	}
	z := math.Sqrt(math.Max((R.At(2, 2)+1)*0.5, 0))
	if R.At(0, 2) < 0 {
		z = -z
	}
	if math.Abs(x) < math.Abs(y) && math.Abs(x) < math.Abs(z) && (R.At(1, 2) > 0) != (y*z > 0) {
		z = -z
	}
	axis := r3.Vector{X: x, Y: y, Z: z}
	return axis.Mul(theta / axis.Norm())
}

// NearestRotation returns the rotation matrix closest to m in the Frobenius sense.
func NearestRotation(m mat.Matrix) *mat.Dense {
	mats := performSVD(mat.DenseCopyOf(m))
	var R mat.Dense
	R.Mul(mats.U, mats.VT)
	if mat.Det(&R) < 0 {
		fix := eye(3)
		fix.Set(2, 2, -1)
		R.Mul(mats.U, fix)
		R.Mul(&R, mats.VT)
	}
	return &R
}

// Skew returns the cross product matrix [v]x such that [v]x * w = v x w.
func Skew(v r3.Vector) *mat.Dense {
	return mat.NewDense(3, 3, []float64{
		0, -v.Z, v.Y,
		v.Z, 0, -v.X,
		-v.Y, v.X, 0,
	})
}

func applyRotation(rot mat.Matrix, v r3.Vector) r3.Vector {
	return r3.Vector{
		X: rot.At(0, 0)*v.X + rot.At(0, 1)*v.Y + rot.At(0, 2)*v.Z,
		Y: rot.At(1, 0)*v.X + rot.At(1, 1)*v.Y + rot.At(1, 2)*v.Z,
		Z: rot.At(2, 0)*v.X + rot.At(2, 1)*v.Y + rot.At(2, 2)*v.Z,
	}
}

// ApplyRotation multiplies the 3x3 matrix rot with v.
func ApplyRotation(rot mat.Matrix, v r3.Vector) r3.Vector {
	return applyRotation(rot, v)
}

// VectorToDense returns v as a 3x1 column.
func VectorToDense(v r3.Vector) *mat.Dense {
	return mat.NewDense(3, 1, []float64{v.X, v.Y, v.Z})
}

// DenseToVector reads a 3x1 or 1x3 matrix as a vector.
func DenseToVector(m mat.Matrix) r3.Vector {
	if r, _ := m.Dims(); r == 1 {
		return r3.Vector{X: m.At(0, 0), Y: m.At(0, 1), Z: m.At(0, 2)}
	}
	return r3.Vector{X: m.At(0, 0), Y: m.At(1, 0), Z: m.At(2, 0)}
}

func leftBlock3(m mat.Matrix) *mat.Dense {
	out := mat.NewDense(3, 3, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out.Set(i, j, m.At(i, j))
		}
	}
	return out
}
