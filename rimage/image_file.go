// Package rimage holds the image primitives used by the calibration pipeline: decoding,
// depth normalization, depth to color alignment, convolution and drawing.
package rimage

import (
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/lmittmann/ppm"
	"github.com/pkg/errors"
	"github.com/xfmoulet/qoi"
	"go.viam.com/utils"
	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"

	rutils "go.viam.com/stereocalib/utils"
)

// ReadImageFromFile decodes the png, jpeg, bmp, tiff, netpbm or qoi image stored at path.
func ReadImageFromFile(path string) (image.Image, error) {
	//nolint:gosec
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer utils.UncheckedErrorFunc(f.Close)

	var img image.Image
	switch strings.ToLower(filepath.Ext(path)) {
	case ".bmp":
		img, err = bmp.Decode(f)
	case ".tif", ".tiff":
		img, err = tiff.Decode(f)
	case ".ppm", ".pgm", ".pbm":
		img, err = ppm.Decode(f)
	case ".qoi":
		img, err = qoi.Decode(f)
	default:
		img, _, err = image.Decode(f)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "cannot decode %q", path)
	}
	return img, nil
}

// WriteImageToFile encodes img into path, choosing the encoder from the file extension.
// The file only appears once it has been fully written.
func WriteImageToFile(path string, img image.Image) error {
	ext := strings.ToLower(filepath.Ext(path))
	return rutils.WriteFileAtomic(path, 0o644, func(w io.Writer) error {
		switch ext {
		case ".png":
			return png.Encode(w, img)
		case ".jpg", ".jpeg":
			return jpeg.Encode(w, img, &jpeg.Options{Quality: 95})
		case ".bmp":
			return bmp.Encode(w, img)
		case ".tif", ".tiff":
			return tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate})
		case ".ppm":
			return ppm.Encode(w, img)
		case ".qoi":
			return qoi.Encode(w, img)
		default:
			return errors.Errorf("rimage.WriteImageToFile unknown format %q", ext)
		}
	})
}

// IsEmpty reports whether img has no pixels. Missing frames are represented by empty images.
func IsEmpty(img image.Image) bool {
	return img == nil || img.Bounds().Empty()
}
