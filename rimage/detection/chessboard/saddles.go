// Package chessboard finds the inner corners of a chessboard calibration pattern in an image.
package chessboard

import (
	"image"
	"image/color"
	"sort"

	"github.com/fogleman/gg"
	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/stereocalib/rimage"
	"go.viam.com/stereocalib/utils"
)

// SaddleConfiguration stores the parameters to process the Hessian determinant image into a relevant saddle points map.
type SaddleConfiguration struct {
	BlurSize      int     `json:"blur-size"`   // size of the gaussian kernel applied before differentiation
	BlurSigma     float64 `json:"blur-sigma"`  // gaussian sigma, derived from the size when <= 0
	ScoreRatio    float64 `json:"score-ratio"` // saddle score below ratio * max score is discarded
	NMSWindowSize int     `json:"win-size"`    // half window size for non-maximum suppression
}

// DefaultSaddleConf stores the default parameters for saddle detection.
var DefaultSaddleConf = SaddleConfiguration{
	BlurSize:      5,
	BlurSigma:     0,
	ScoreRatio:    0.1,
	NMSWindowSize: 5,
}

// Validate checks that the configuration can be used.
func (conf *SaddleConfiguration) Validate() error {
	if conf.BlurSize < 1 {
		return errors.Errorf("saddle blur size must be positive, got %d", conf.BlurSize)
	}
	if conf.ScoreRatio < 0 || conf.ScoreRatio >= 1 {
		return errors.Errorf("saddle score ratio must be in [0, 1), got %v", conf.ScoreRatio)
	}
	if conf.NMSWindowSize < 1 {
		return errors.Errorf("saddle window size must be positive, got %d", conf.NMSWindowSize)
	}
	return nil
}

// Saddle is a saddle point candidate and its score.
type Saddle struct {
	Point image.Point
	Score float64
}

// computePixelWiseHessianDeterminant computes hessian components for each pixel and returns a *mat.Dense containing
// the value of the determinant of the Hessian for each pixel.
// The sign and value of the determinant of the Hessian gives location of saddle points.
func computePixelWiseHessianDeterminant(img *mat.Dense) (*mat.Dense, error) {
	nRows, nCols := img.Dims()
	sobelX := rimage.GetSobelX()
	sobelY := rimage.GetSobelY()
	gX, err := rimage.ConvolveGrayFloat64(img, &sobelX)
	if err != nil {
		return nil, err
	}
	gY, err := rimage.ConvolveGrayFloat64(img, &sobelY)
	if err != nil {
		return nil, err
	}
	gXX, err := rimage.ConvolveGrayFloat64(gX, &sobelX)
	if err != nil {
		return nil, err
	}
	gYY, err := rimage.ConvolveGrayFloat64(gY, &sobelY)
	if err != nil {
		return nil, err
	}
	gXY, err := rimage.ConvolveGrayFloat64(gX, &sobelY)
	if err != nil {
		return nil, err
	}
	m1 := mat.NewDense(nRows, nCols, nil)
	m2 := mat.NewDense(nRows, nCols, nil)
	out := mat.NewDense(nRows, nCols, nil)
	m1.MulElem(gXX, gYY)
	m2.MulElem(gXY, gXY)
	out.Sub(m1, m2)
	return out, nil
}

// SaddleMap returns the saddle score of every pixel of the luminance image img: the negative
// determinant of the Hessian of the blurred image, clamped at 0.
func SaddleMap(img *mat.Dense, conf *SaddleConfiguration) (*mat.Dense, error) {
	kernel := rimage.GetGaussian(conf.BlurSize, conf.BlurSigma)
	blurred, err := rimage.ConvolveGrayFloat64(img, &kernel)
	if err != nil {
		return nil, err
	}
	hessian, err := computePixelWiseHessianDeterminant(blurred)
	if err != nil {
		return nil, err
	}
	// saddle points are points where determinant of hessian is < 0
	hessian.Apply(func(r, c int, v float64) float64 {
		if v > 0 {
			return 0
		}
		return -v
	}, hessian)
	return hessian, nil
}

// NonMaxSuppression returns the local maxima of img within a (2*winSize+1) window that score at
// least minScore, sorted by decreasing score. Ties between neighbors keep the first pixel in
// row major order.
func NonMaxSuppression(img *mat.Dense, winSize int, minScore float64) []Saddle {
	h, w := img.Dims()
	isMax := make([]bool, h*w)
	utils.ParallelForEachPixel(image.Point{w, h}, func(x, y int) {
		v := img.At(y, x)
		if v <= 0 || v < minScore {
			return
		}
		for i := utils.MaxInt(0, y-winSize); i < utils.MinInt(h, y+winSize+1); i++ {
			for j := utils.MaxInt(0, x-winSize); j < utils.MinInt(w, x+winSize+1); j++ {
				n := img.At(i, j)
				if n > v || (n == v && (i < y || (i == y && j < x))) {
					return
				}
			}
		}
		isMax[y*w+x] = true
	})
	saddles := make([]Saddle, 0)
	for k, ok := range isMax {
		if ok {
			x, y := k%w, k/w
			saddles = append(saddles, Saddle{image.Point{x, y}, img.At(y, x)})
		}
	}
	sort.SliceStable(saddles, func(i, j int) bool {
		return saddles[i].Score > saddles[j].Score
	})
	return saddles
}

// GetSaddleMapPoints gets a saddle point presence map and the relevant saddle points, strongest first.
func GetSaddleMapPoints(img *mat.Dense, conf *SaddleConfiguration) (*mat.Dense, []Saddle, error) {
	saddleMap, err := SaddleMap(img, conf)
	if err != nil {
		return nil, nil, err
	}
	maxScore := mat.Max(saddleMap)
	if maxScore <= 0 {
		return saddleMap, nil, nil
	}
	return saddleMap, NonMaxSuppression(saddleMap, conf.NMSWindowSize, conf.ScoreRatio*maxScore), nil
}

// visualization functions

// PlotSaddleMap draws the board outline and saddle points on a black image and saves it to a png file.
func PlotSaddleMap(saddlePoints []Saddle, outline []r2.Point, outFile string, iw, ih int) error {
	dc := gg.NewContext(iw, ih)
	dc.SetRGB(0, 0, 0)
	dc.Clear()

	// Draw outline
	dc.SetRGB(0, 1, 0)
	dc.SetLineWidth(1)
	for i, pt := range outline {
		p2 := outline[(i+1)%len(outline)]
		dc.DrawLine(pt.X, pt.Y, p2.X, p2.Y)
	}
	dc.Stroke()

	// Draw Saddle Points
	dc.SetColor(color.RGBA{
		R: 255,
		G: 0,
		B: 0,
		A: 255,
	})
	for _, s := range saddlePoints {
		dc.DrawPoint(float64(s.Point.X), float64(s.Point.Y), 2.5)
		dc.Fill()
	}
	return dc.SavePNG(outFile)
}
