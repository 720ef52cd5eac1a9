package rimage

import (
	"bufio"
	"compress/gzip"
	"encoding/binary"
	"image"
	"image/color"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	"go.viam.com/utils"

	rutils "go.viam.com/stereocalib/utils"
)

// Depth is the depth value of a single pixel, in sensor units (usually mm).
type Depth uint16

// MaxDepth is the largest representable depth value.
const MaxDepth = Depth(0xffff)

// DepthMap is a single channel 16 bit depth image stored row major.
type DepthMap struct {
	width  int
	height int

	data []Depth
}

// NewEmptyDepthMap returns a zeroed depth map of the given size.
func NewEmptyDepthMap(width, height int) *DepthMap {
	return &DepthMap{
		width:  width,
		height: height,
		data:   make([]Depth, width*height),
	}
}

// Width returns the horizontal size of the map.
func (dm *DepthMap) Width() int {
	return dm.width
}

// Height returns the vertical size of the map.
func (dm *DepthMap) Height() int {
	return dm.height
}

// Bounds returns the rectangle spanned by the map.
func (dm *DepthMap) Bounds() image.Rectangle {
	return image.Rect(0, 0, dm.width, dm.height)
}

func (dm *DepthMap) kxy(x, y int) int {
	return y*dm.width + x
}

// GetDepth returns the depth at (x, y).
func (dm *DepthMap) GetDepth(x, y int) Depth {
	return dm.data[dm.kxy(x, y)]
}

// Set sets the depth at (x, y).
func (dm *DepthMap) Set(x, y int, val Depth) {
	dm.data[dm.kxy(x, y)] = val
}

// MinMax returns the smallest and largest non-zero depth, zero depth meaning no reading.
func (dm *DepthMap) MinMax() (Depth, Depth) {
	lo, hi := MaxDepth, Depth(0)
	for _, d := range dm.data {
		if d == 0 {
			continue
		}
		if d < lo {
			lo = d
		}
		if d > hi {
			hi = d
		}
	}
	if hi == 0 {
		return 0, 0
	}
	return lo, hi
}

// ToGray8 linearly rescales depth into 8 bits: value * 255 / depthRange, saturating at 255.
func (dm *DepthMap) ToGray8(depthRange float64) *image.Gray {
	out := image.NewGray(dm.Bounds())
	if depthRange <= 0 {
		return out
	}
	scale := 255. / depthRange
	rutils.ParallelForEachPixel(image.Point{dm.width, dm.height}, func(x, y int) {
		out.Pix[out.PixOffset(x, y)] = rutils.SaturateUint8(float64(dm.GetDepth(x, y)) * scale)
	})
	return out
}

// ConvertImageToDepthMap takes a single channel image and treats its intensity as depth.
// 16 bit grayscale images are copied verbatim; anything else goes through the Gray16 model.
func ConvertImageToDepthMap(img image.Image) (*DepthMap, error) {
	if img == nil {
		return nil, errors.New("cannot convert nil image to depth map")
	}
	b := img.Bounds()
	dm := NewEmptyDepthMap(b.Dx(), b.Dy())
	switch ii := img.(type) {
	case *image.Gray16:
		for y := 0; y < dm.height; y++ {
			for x := 0; x < dm.width; x++ {
				dm.Set(x, y, Depth(ii.Gray16At(x+b.Min.X, y+b.Min.Y).Y))
			}
		}
	default:
		for y := 0; y < dm.height; y++ {
			for x := 0; x < dm.width; x++ {
				g := color.Gray16Model.Convert(img.At(x+b.Min.X, y+b.Min.Y)).(color.Gray16)
				dm.Set(x, y, Depth(g.Y))
			}
		}
	}
	return dm, nil
}

// ToGray16 returns the depth map as a 16 bit grayscale image, e.g. to store it as png.
func (dm *DepthMap) ToGray16() *image.Gray16 {
	out := image.NewGray16(dm.Bounds())
	for y := 0; y < dm.height; y++ {
		for x := 0; x < dm.width; x++ {
			out.SetGray16(x, y, color.Gray16{uint16(dm.GetDepth(x, y))})
		}
	}
	return out
}

// ReadDepthMap reads a depth map from a 16 bit image file, or from the raw
// little endian ".dat.gz" format written by WriteRawDepthMap.
func ReadDepthMap(path string) (*DepthMap, error) {
	if strings.HasSuffix(path, ".dat.gz") {
		return parseRawDepthMap(path)
	}
	img, err := ReadImageFromFile(path)
	if err != nil {
		return nil, err
	}
	return ConvertImageToDepthMap(img)
}

func parseRawDepthMap(path string) (*DepthMap, error) {
	//nolint:gosec
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer utils.UncheckedErrorFunc(f.Close)

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read gzip stream of %q", path)
	}
	defer utils.UncheckedErrorFunc(gz.Close)
	return ReadRawDepthMap(bufio.NewReader(gz))
}

// ReadRawDepthMap reads int64 width, int64 height and then width*height int64 depths, row major.
func ReadRawDepthMap(r io.Reader) (*DepthMap, error) {
	var header [2]int64
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return nil, errors.Wrap(err, "cannot read depth map header")
	}
	width, height := int(header[0]), int(header[1])
	if width <= 0 || width >= 100000 || height <= 0 || height >= 100000 {
		return nil, errors.Errorf("bad width or height for depth map %v %v", width, height)
	}
	raw := make([]int64, width*height)
	if err := binary.Read(r, binary.LittleEndian, raw); err != nil {
		return nil, errors.Wrap(err, "cannot read depth map data")
	}
	dm := NewEmptyDepthMap(width, height)
	for i, v := range raw {
		dm.data[i] = Depth(rutils.ClampInt(int(v), 0, int(MaxDepth)))
	}
	return dm, nil
}

// WriteRawDepthMap writes dm in the format read by ReadRawDepthMap.
func WriteRawDepthMap(w io.Writer, dm *DepthMap) error {
	header := [2]int64{int64(dm.width), int64(dm.height)}
	if err := binary.Write(w, binary.LittleEndian, header); err != nil {
		return err
	}
	raw := make([]int64, len(dm.data))
	for i, d := range dm.data {
		raw[i] = int64(d)
	}
	return binary.Write(w, binary.LittleEndian, raw)
}
