package transform

import (
	"image"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"
)

var rigSize = image.Pt(640, 480)

// virtualRig is a synthetic stereo pair looking at a 9x6 board with 24mm squares.
type virtualRig struct {
	size  image.Point
	cam1  *PinholeCameraModel
	cam2  *PinholeCameraModel
	rot   *mat.Dense
	trans r3.Vector
	board []r3.Vector
	poses []virtualPose
}

type virtualPose struct {
	om r3.Vector
	t  r3.Vector
}

func newVirtualRig(t *testing.T) *virtualRig {
	t.Helper()
	size := rigSize
	k1 := mat.NewDense(3, 3, []float64{520, 0, 322, 0, 518, 236, 0, 0, 1})
	k2 := mat.NewDense(3, 3, []float64{530, 0, 316, 0, 528, 244, 0, 0, 1})
	cam1, err := NewPinholeCameraModel(k1, []float64{-0.12, 0.05, 0, 0, 0}, size.X, size.Y)
	test.That(t, err, test.ShouldBeNil)
	cam2, err := NewPinholeCameraModel(k2, []float64{-0.08, 0.02, 0, 0, 0}, size.X, size.Y)
	test.That(t, err, test.ShouldBeNil)

	board := make([]r3.Vector, 0, 54)
	for j := 0; j < 6; j++ {
		for k := 0; k < 9; k++ {
			board = append(board, r3.Vector{X: float64(k) * 24, Y: float64(j) * 24})
		}
	}
	return &virtualRig{
		size:  size,
		cam1:  cam1,
		cam2:  cam2,
		rot:   Rodrigues(r3.Vector{X: 0.01, Y: -0.02, Z: 0.005}),
		trans: r3.Vector{X: -60, Y: 1.5, Z: 0.8},
		board: board,
		poses: []virtualPose{
			{om: r3.Vector{X: 0.2, Y: -0.3, Z: 0.05}, t: r3.Vector{X: -200, Y: -150, Z: 620}},
			{om: r3.Vector{X: -0.25, Y: 0.2, Z: -0.1}, t: r3.Vector{X: 20, Y: -150, Z: 560}},
			{om: r3.Vector{X: 0.1, Y: 0.35, Z: 0.2}, t: r3.Vector{X: -190, Y: 20, Z: 700}},
			{om: r3.Vector{X: -0.35, Y: -0.15, Z: -0.05}, t: r3.Vector{X: 10, Y: 10, Z: 650}},
			{om: r3.Vector{X: 0.3, Y: 0.1, Z: 0.3}, t: r3.Vector{X: -100, Y: -50, Z: 520}},
		},
	}
}

// observations projects the board into both cameras for every pose.
func (r *virtualRig) observations() ([][]r3.Vector, [][]r2.Point, [][]r2.Point) {
	obj := make([][]r3.Vector, len(r.poses))
	img1 := make([][]r2.Point, len(r.poses))
	img2 := make([][]r2.Point, len(r.poses))
	for i, pose := range r.poses {
		rot1 := Rodrigues(pose.om)
		var rot2 mat.Dense
		rot2.Mul(r.rot, rot1)
		t2 := applyRotation(r.rot, pose.t).Add(r.trans)
		obj[i] = append([]r3.Vector{}, r.board...)
		for _, p := range r.board {
			img1[i] = append(img1[i], r.cam1.ProjectPoint(p, rot1, pose.t))
			img2[i] = append(img2[i], r.cam2.ProjectPoint(p, &rot2, t2))
		}
	}
	return obj, img1, img2
}

func TestVirtualRigInsideImage(t *testing.T) {
	rig := newVirtualRig(t)
	_, img1, img2 := rig.observations()
	bounds := image.Rectangle{Max: rig.size}
	for _, view := range append(img1, img2...) {
		for _, p := range view {
			test.That(t, image.Pt(int(p.X), int(p.Y)).In(bounds), test.ShouldBeTrue)
		}
	}
}
