// Package calibtest provides a synthetic color/depth camera rig looking at a chessboard, for
// calibration tests.
package calibtest

import (
	"image"
	"math"
	"path/filepath"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/stereocalib/rimage"
	"go.viam.com/stereocalib/rimage/transform"
)

// DepthRange is the raw depth written for a white pixel by WriteFrames.
const DepthRange = 1000

// Pose places the board in front of the color camera: a Rodrigues rotation and a translation.
type Pose struct {
	Rotation    r3.Vector
	Translation r3.Vector
}

// Rig is a color camera and a depth camera with a known relative pose (R, T), and a set of
// board poses. The board has Cols x Rows inner corners and squares of Square mm.
type Rig struct {
	Size    image.Point
	Cols    int
	Rows    int
	Square  float64
	Camera1 *transform.PinholeCameraModel
	Camera2 *transform.PinholeCameraModel
	R       *mat.Dense
	T       r3.Vector
	Poses   []Pose
}

// NewRig returns a 640x480 rig looking at a 9x6 board with 24mm squares from five poses. Without
// distortion both lenses are ideal pinholes.
func NewRig(tb testing.TB, distorted bool) *Rig {
	tb.Helper()
	d1, d2 := make([]float64, 5), make([]float64, 5)
	if distorted {
		d1 = []float64{-0.12, 0.05, 0, 0, 0}
		d2 = []float64{-0.08, 0.02, 0, 0, 0}
	}
	size := image.Pt(640, 480)
	cam1, err := transform.NewPinholeCameraModel(
		mat.NewDense(3, 3, []float64{520, 0, 322, 0, 518, 236, 0, 0, 1}), d1, size.X, size.Y)
	test.That(tb, err, test.ShouldBeNil)
	cam2, err := transform.NewPinholeCameraModel(
		mat.NewDense(3, 3, []float64{530, 0, 316, 0, 528, 244, 0, 0, 1}), d2, size.X, size.Y)
	test.That(tb, err, test.ShouldBeNil)

	rig := &Rig{
		Size:    size,
		Cols:    9,
		Rows:    6,
		Square:  24,
		Camera1: cam1,
		Camera2: cam2,
		R:       transform.Rodrigues(r3.Vector{X: 0.01, Y: -0.02, Z: 0.005}),
		T:       r3.Vector{X: -60, Y: 1.5, Z: 0.8},
	}
	for _, p := range []struct {
		om     r3.Vector
		z      float64
		offset r2.Point
	}{
		{r3.Vector{X: 0.25, Y: -0.3, Z: 0.05}, 480, r2.Point{}},
		{r3.Vector{X: -0.3, Y: 0.2, Z: -0.08}, 520, r2.Point{X: 20, Y: -10}},
		{r3.Vector{X: 0.15, Y: 0.3, Z: 0.1}, 560, r2.Point{X: -25, Y: 15}},
		{r3.Vector{X: -0.2, Y: -0.25, Z: -0.05}, 500, r2.Point{X: 10, Y: 20}},
		{r3.Vector{X: 0.3, Y: 0.1, Z: 0.02}, 450, r2.Point{X: -10, Y: -15}},
	} {
		rig.Poses = append(rig.Poses, rig.centeredPose(p.om, p.z, p.offset))
	}
	return rig
}

// centeredPose puts the middle of the board at depth z, offset from the optical axis.
func (r *Rig) centeredPose(om r3.Vector, z float64, offset r2.Point) Pose {
	center := r3.Vector{X: float64(r.Cols-1) * r.Square / 2, Y: float64(r.Rows-1) * r.Square / 2}
	t := r3.Vector{X: offset.X, Y: offset.Y, Z: z}.Sub(transform.ApplyRotation(transform.Rodrigues(om), center))
	return Pose{Rotation: om, Translation: t}
}

// Board returns the inner corners in row major order on the z = 0 plane.
func (r *Rig) Board() []r3.Vector {
	pts := make([]r3.Vector, 0, r.Cols*r.Rows)
	for j := 0; j < r.Rows; j++ {
		for k := 0; k < r.Cols; k++ {
			pts = append(pts, r3.Vector{X: float64(k) * r.Square, Y: float64(j) * r.Square})
		}
	}
	return pts
}

// cameraPoses returns the board pose in the color and in the depth camera frame.
func (r *Rig) cameraPoses(i int) (*mat.Dense, r3.Vector, *mat.Dense, r3.Vector) {
	pose := r.Poses[i]
	rot1 := transform.Rodrigues(pose.Rotation)
	var rot2 mat.Dense
	rot2.Mul(r.R, rot1)
	t2 := transform.ApplyRotation(r.R, pose.Translation).Add(r.T)
	return rot1, pose.Translation, &rot2, t2
}

// Project returns the true corner positions of pose i in both images.
func (r *Rig) Project(i int) ([]r2.Point, []r2.Point) {
	rot1, t1, rot2, t2 := r.cameraPoses(i)
	board := r.Board()
	color := make([]r2.Point, len(board))
	depth := make([]r2.Point, len(board))
	for j, p := range board {
		color[j] = r.Camera1.ProjectPoint(p, rot1, t1)
		depth[j] = r.Camera2.ProjectPoint(p, rot2, t2)
	}
	return color, depth
}

// Render draws the board of pose i as seen by both cameras. Each pixel averages 2x2 samples.
func (r *Rig) Render(i int) (*image.Gray, *image.Gray) {
	rot1, t1, rot2, t2 := r.cameraPoses(i)
	return r.render(r.Camera1, rot1, t1), r.render(r.Camera2, rot2, t2)
}

func (r *Rig) render(cam *transform.PinholeCameraModel, rot *mat.Dense, t r3.Vector) *image.Gray {
	img := image.NewGray(image.Rectangle{Max: r.Size})
	rt := rot.T()
	origin := transform.ApplyRotation(rt, t)
	offsets := []float64{-0.25, 0.25}
	samples := make([]r2.Point, 0, r.Size.X*len(offsets)*len(offsets))
	for y := 0; y < r.Size.Y; y++ {
		samples = samples[:0]
		for x := 0; x < r.Size.X; x++ {
			for _, dy := range offsets {
				for _, dx := range offsets {
					samples = append(samples, r2.Point{X: float64(x) + dx, Y: float64(y) + dy})
				}
			}
		}
		rays := cam.UndistortPoints(samples, nil, nil)
		for x := 0; x < r.Size.X; x++ {
			var sum float64
			for _, ray := range rays[x*4 : x*4+4] {
				sum += r.shade(transform.ApplyRotation(rt, r3.Vector{X: ray.X, Y: ray.Y, Z: 1}), origin)
			}
			img.Pix[img.PixOffset(x, y)] = uint8(math.Round(255 * sum / 4))
		}
	}
	return img
}

// shade intersects the ray d, in board coordinates, with the board plane and returns 0 on a
// black square and 1 on a white square or off the board.
func (r *Rig) shade(d, origin r3.Vector) float64 {
	if d.Z == 0 {
		return 1
	}
	s := origin.Z / d.Z
	if s <= 0 {
		return 1
	}
	p := d.Mul(s).Sub(origin)
	a := math.Floor(p.X/r.Square) + 1
	b := math.Floor(p.Y/r.Square) + 1
	if a < 0 || b < 0 || a > float64(r.Cols) || b > float64(r.Rows) {
		return 1
	}
	if int(a+b)%2 == 0 {
		return 0
	}
	return 1
}

// WriteFrames renders every pose into dir as color_<i><suffix> and depth_<i><suffix>. Depth
// frames are 16 bit images where white is DepthRange.
func (r *Rig) WriteFrames(tb testing.TB, dir, suffix string) {
	tb.Helper()
	for i := range r.Poses {
		color, depth := r.Render(i)
		test.That(tb, rimage.WriteImageToFile(filepath.Join(dir, colorName(i, suffix)), color), test.ShouldBeNil)
		dm := rimage.NewEmptyDepthMap(r.Size.X, r.Size.Y)
		for y := 0; y < r.Size.Y; y++ {
			for x := 0; x < r.Size.X; x++ {
				v := float64(depth.GrayAt(x, y).Y) * DepthRange / 255
				dm.Set(x, y, rimage.Depth(math.Round(v)))
			}
		}
		test.That(tb, rimage.WriteImageToFile(filepath.Join(dir, depthName(i, suffix)), dm.ToGray16()), test.ShouldBeNil)
	}
}
