package calibration

import (
	"image"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/stereocalib/rimage/calibration/cvstorage"
	"go.viam.com/stereocalib/rimage/transform"
)

// roiSeq stores a rectangle the way FileStorage does: x, y, width, height.
func roiSeq(r image.Rectangle) []int {
	return []int{r.Min.X, r.Min.Y, r.Dx(), r.Dy()}
}

func roiFromSeq(s []int) (image.Rectangle, error) {
	if len(s) != 4 {
		return image.Rectangle{}, errors.Errorf("a rectangle needs 4 values, got %d", len(s))
	}
	return image.Rect(s[0], s[1], s[0]+s[2], s[1]+s[3]), nil
}

func setCameras(doc *cvstorage.Document, res *CalibrationResult) *cvstorage.Document {
	return doc.
		Set("M1", cvstorage.NewMatrix(res.Camera1.GetCameraMatrix())).
		Set("D1", cvstorage.NewVector(res.Camera1.DistortionCoefficients())).
		Set("M2", cvstorage.NewMatrix(res.Camera2.GetCameraMatrix())).
		Set("D2", cvstorage.NewVector(res.Camera2.DistortionCoefficients()))
}

func setRectification(doc *cvstorage.Document, res *CalibrationResult, rect *transform.StereoRectification) *cvstorage.Document {
	return doc.
		Set("R", cvstorage.NewMatrix(res.R)).
		Set("T", cvstorage.NewVector([]float64{res.T.X, res.T.Y, res.T.Z})).
		Set("R1", cvstorage.NewMatrix(rect.R1)).
		Set("R2", cvstorage.NewMatrix(rect.R2)).
		Set("P1", cvstorage.NewMatrix(rect.P1)).
		Set("P2", cvstorage.NewMatrix(rect.P2)).
		Set("Q", cvstorage.NewMatrix(rect.Q))
}

// IntrinsicsDocument holds the camera matrices M1, M2 and distortion vectors D1, D2.
func IntrinsicsDocument(res *CalibrationResult) *cvstorage.Document {
	return setCameras(cvstorage.NewDocument(), res)
}

// ExtrinsicsDocument holds the relative pose R, T, the rectification R1, R2, P1, P2, Q and the
// valid regions V1 and V2.
func ExtrinsicsDocument(res *CalibrationResult, rect *transform.StereoRectification) *cvstorage.Document {
	return setRectification(cvstorage.NewDocument(), res, rect).
		Set("V1", cvstorage.IntSeq(roiSeq(rect.ValidROI1))).
		Set("V2", cvstorage.IntSeq(roiSeq(rect.ValidROI2)))
}

// StereoParamsDocument holds everything needed to rectify the pair, with both valid regions as
// the rows of the 2x4 validROI matrix.
func StereoParamsDocument(res *CalibrationResult, rect *transform.StereoRectification) (*cvstorage.Document, error) {
	roi, err := cvstorage.NewIntMatrix(2, 4, append(roiSeq(rect.ValidROI1), roiSeq(rect.ValidROI2)...))
	if err != nil {
		return nil, err
	}
	doc := setRectification(setCameras(cvstorage.NewDocument(), res), res, rect)
	return doc.Set("validROI", roi), nil
}

func readCamera(doc *cvstorage.Document, m, d string, size image.Point) (*transform.PinholeCameraModel, error) {
	k, err := doc.Dense(m)
	if err != nil {
		return nil, err
	}
	dist, err := doc.Matrix(d)
	if err != nil {
		return nil, err
	}
	cam, err := transform.NewPinholeCameraModel(k, dist.Data, size.X, size.Y)
	if err != nil {
		return nil, errors.Wrapf(err, "%s, %s", m, d)
	}
	return cam, nil
}

// ReadIntrinsics reads both camera models back from an intrinsics or stereo-params document.
// The documents do not store the frame size, which is given by size.
func ReadIntrinsics(path string, size image.Point) (*transform.PinholeCameraModel, *transform.PinholeCameraModel, error) {
	doc, err := cvstorage.Read(path)
	if err != nil {
		return nil, nil, err
	}
	cam1, err := readCamera(doc, "M1", "D1", size)
	if err != nil {
		return nil, nil, err
	}
	cam2, err := readCamera(doc, "M2", "D2", size)
	if err != nil {
		return nil, nil, err
	}
	return cam1, cam2, nil
}

// StereoParams is the content of a stereo-params document.
type StereoParams struct {
	Camera1       *transform.PinholeCameraModel
	Camera2       *transform.PinholeCameraModel
	R             *mat.Dense
	T             r3.Vector
	Rectification *transform.StereoRectification
}

// ReadStereoParams reads a stereo-params document back.
func ReadStereoParams(path string, size image.Point) (*StereoParams, error) {
	doc, err := cvstorage.Read(path)
	if err != nil {
		return nil, err
	}
	out := &StereoParams{Rectification: &transform.StereoRectification{}}
	if out.Camera1, err = readCamera(doc, "M1", "D1", size); err != nil {
		return nil, err
	}
	if out.Camera2, err = readCamera(doc, "M2", "D2", size); err != nil {
		return nil, err
	}
	rect := out.Rectification
	for _, m := range []struct {
		name string
		dst  **mat.Dense
	}{{"R", &out.R}, {"R1", &rect.R1}, {"R2", &rect.R2}, {"P1", &rect.P1}, {"P2", &rect.P2}, {"Q", &rect.Q}} {
		if *m.dst, err = doc.Dense(m.name); err != nil {
			return nil, err
		}
	}
	t, err := doc.Matrix("T")
	if err != nil {
		return nil, err
	}
	if len(t.Data) != 3 {
		return nil, errors.Errorf("T must have 3 values, got %d", len(t.Data))
	}
	out.T = r3.Vector{X: t.Data[0], Y: t.Data[1], Z: t.Data[2]}

	roi, err := doc.Matrix("validROI")
	if err != nil {
		return nil, err
	}
	ints := roi.Ints()
	if len(ints) != 8 {
		return nil, errors.Errorf("validROI must be 2x4, got %dx%d", roi.Rows, roi.Cols)
	}
	if rect.ValidROI1, err = roiFromSeq(ints[:4]); err != nil {
		return nil, err
	}
	if rect.ValidROI2, err = roiFromSeq(ints[4:]); err != nil {
		return nil, err
	}
	return out, nil
}
