package calibration

import (
	"image"
	"math"
	"path/filepath"
	"testing"

	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/stereocalib/rimage/calibration/calibtest"
	"go.viam.com/stereocalib/rimage/calibration/cvstorage"
)

func sameBits(t *testing.T, got, want mat.Matrix) {
	t.Helper()
	gr, gc := got.Dims()
	wr, wc := want.Dims()
	test.That(t, gr, test.ShouldEqual, wr)
	test.That(t, gc, test.ShouldEqual, wc)
	for i := 0; i < wr; i++ {
		for j := 0; j < wc; j++ {
			test.That(t, math.Float64bits(got.At(i, j)), test.ShouldEqual, math.Float64bits(want.At(i, j)))
		}
	}
}

func TestArtifactKeys(t *testing.T) {
	rig := calibtest.NewRig(t, true)
	res := truthResult(rig)
	rect, err := Rectify(res, rig.Size, 1)
	test.That(t, err, test.ShouldBeNil)

	names := func(doc *cvstorage.Document) []string {
		var out []string
		for _, e := range doc.Entries() {
			out = append(out, e.Name)
		}
		return out
	}
	test.That(t, names(IntrinsicsDocument(res)), test.ShouldResemble, []string{"M1", "D1", "M2", "D2"})
	ext := ExtrinsicsDocument(res, rect)
	test.That(t, names(ext), test.ShouldResemble, []string{"R", "T", "R1", "R2", "P1", "P2", "Q", "V1", "V2"})
	v1, err := ext.IntSeq("V1")
	test.That(t, err, test.ShouldBeNil)
	r := rect.ValidROI1
	test.That(t, v1, test.ShouldResemble, []int{r.Min.X, r.Min.Y, r.Dx(), r.Dy()})

	params, err := StereoParamsDocument(res, rect)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, names(params), test.ShouldResemble,
		[]string{"M1", "D1", "M2", "D2", "R", "T", "R1", "R2", "P1", "P2", "Q", "validROI"})
	roi, err := params.Matrix("validROI")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, roi.Rows, test.ShouldEqual, 2)
	test.That(t, roi.Cols, test.ShouldEqual, 4)
	test.That(t, roi.DataType, test.ShouldEqual, cvstorage.TypeInt32)
	d1, err := params.Matrix("D1")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, d1.Rows, test.ShouldEqual, 5)
	test.That(t, d1.Cols, test.ShouldEqual, 1)
}

func TestArtifactsRoundTrip(t *testing.T) {
	rig := calibtest.NewRig(t, true)
	res := truthResult(rig)
	rect, err := Rectify(res, rig.Size, 1)
	test.That(t, err, test.ShouldBeNil)
	dir := t.TempDir()

	for _, ext := range []string{".xml", ".yml", ".json"} {
		t.Run(ext, func(t *testing.T) {
			intrinsicsPath := filepath.Join(dir, "intrinsics"+ext)
			test.That(t, cvstorage.Write(intrinsicsPath, IntrinsicsDocument(res)), test.ShouldBeNil)
			cam1, cam2, err := ReadIntrinsics(intrinsicsPath, rig.Size)
			test.That(t, err, test.ShouldBeNil)
			sameBits(t, cam1.GetCameraMatrix(), res.Camera1.GetCameraMatrix())
			sameBits(t, cam2.GetCameraMatrix(), res.Camera2.GetCameraMatrix())
			test.That(t, cam1.DistortionCoefficients(), test.ShouldResemble, res.Camera1.DistortionCoefficients())
			test.That(t, cam2.Width, test.ShouldEqual, rig.Size.X)

			paramsPath := filepath.Join(dir, "stereo-params"+ext)
			doc, err := StereoParamsDocument(res, rect)
			test.That(t, err, test.ShouldBeNil)
			test.That(t, cvstorage.Write(paramsPath, doc), test.ShouldBeNil)
			params, err := ReadStereoParams(paramsPath, rig.Size)
			test.That(t, err, test.ShouldBeNil)
			sameBits(t, params.Camera1.GetCameraMatrix(), res.Camera1.GetCameraMatrix())
			test.That(t, params.Camera2.DistortionCoefficients(), test.ShouldResemble, res.Camera2.DistortionCoefficients())
			sameBits(t, params.R, res.R)
			test.That(t, params.T, test.ShouldResemble, res.T)
			sameBits(t, params.Rectification.R1, rect.R1)
			sameBits(t, params.Rectification.R2, rect.R2)
			sameBits(t, params.Rectification.P1, rect.P1)
			sameBits(t, params.Rectification.P2, rect.P2)
			sameBits(t, params.Rectification.Q, rect.Q)
			test.That(t, params.Rectification.ValidROI1, test.ShouldResemble, rect.ValidROI1)
			test.That(t, params.Rectification.ValidROI2, test.ShouldResemble, rect.ValidROI2)

			// intrinsics can be read back from the stereo parameters too
			_, _, err = ReadIntrinsics(paramsPath, rig.Size)
			test.That(t, err, test.ShouldBeNil)
		})
	}
}

func TestReadArtifactsErrors(t *testing.T) {
	dir := t.TempDir()
	_, _, err := ReadIntrinsics(filepath.Join(dir, "missing.xml"), image.Pt(640, 480))
	test.That(t, err, test.ShouldNotBeNil)

	path := filepath.Join(dir, "partial.yml")
	doc := cvstorage.NewDocument().Set("M1", cvstorage.NewMatrix(mat.NewDense(3, 3, []float64{500, 0, 320, 0, 500, 240, 0, 0, 1})))
	test.That(t, cvstorage.Write(path, doc), test.ShouldBeNil)
	_, _, err = ReadIntrinsics(path, image.Pt(640, 480))
	test.That(t, err, test.ShouldNotBeNil)
	_, err = ReadStereoParams(path, image.Pt(640, 480))
	test.That(t, err, test.ShouldNotBeNil)
}
