package calibration

import (
	"context"
	"fmt"
	"image"
	"path/filepath"

	"go.viam.com/stereocalib/logging"
	"go.viam.com/stereocalib/rimage"
	"go.viam.com/stereocalib/rimage/calibration/preview"
)

// FramePair is a color frame and the depth frame captured with it, rescaled to 8 bits and
// aligned to the color frame. A missing or unreadable file leaves an empty image.
type FramePair struct {
	Index int
	Color image.Image
	Depth *image.Gray
}

// Size is the color frame size.
func (fp FramePair) Size() image.Point {
	if rimage.IsEmpty(fp.Color) {
		return image.Point{}
	}
	return fp.Color.Bounds().Size()
}

// ColorPath names the color frame of index i in dir.
func ColorPath(dir, suffix string, i int) string {
	return filepath.Join(dir, fmt.Sprintf("color_%d%s", i, suffix))
}

// DepthPath is the depth counterpart of ColorPath.
func DepthPath(dir, suffix string, i int) string {
	return filepath.Join(dir, fmt.Sprintf("depth_%d%s", i, suffix))
}

// LoadFramePairs loads the pairs 0 to n-1 of dir. Depth frames are 16 bit images rescaled by the
// configured depth range and aligned to the color frames. Unreadable frames are logged and kept
// as empty images so that detection drops them. Each pair is handed to presenter.
func LoadFramePairs(
	ctx context.Context,
	dir, suffix string,
	n int,
	cfg *Config,
	presenter preview.Presenter,
	logger logging.Logger,
) ([]FramePair, error) {
	pairs := make([]FramePair, 0, n)
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		colorPath, depthPath := ColorPath(dir, suffix, i), DepthPath(dir, suffix, i)
		logger.Debugw("loading frame pair", "color", colorPath, "depth", depthPath)
		pair := FramePair{Index: i, Color: image.NewGray(image.Rectangle{}), Depth: image.NewGray(image.Rectangle{})}

		color, err := rimage.ReadImageFromFile(colorPath)
		if err != nil {
			logger.Warnw("cannot load color frame", "path", colorPath, "error", err)
		} else {
			pair.Color = color
		}
		pair.Depth = loadDepth(depthPath, pair.Size(), cfg, logger)
		pairs = append(pairs, pair)

		if _, err := presenter.Present(ctx, "load", waitFor(cfg.Preview.LoadWaitMs), pair.Color, pair.Depth); err != nil {
			logger.Warnw("cannot present frame pair", "index", i, "error", err)
		}
	}
	return pairs, nil
}

func loadDepth(path string, colorSize image.Point, cfg *Config, logger logging.Logger) *image.Gray {
	empty := image.NewGray(image.Rectangle{})
	dm, err := rimage.ReadDepthMap(path)
	if err != nil {
		logger.Warnw("cannot load depth frame", "path", path, "error", err)
		return empty
	}
	depth := dm.ToGray8(cfg.DepthRange)
	if colorSize == (image.Point{}) {
		colorSize = depth.Bounds().Size()
	}
	aligned, err := cfg.DepthAlignment.Align(depth, colorSize)
	if err != nil {
		logger.Warnw("cannot align depth frame", "path", path, "error", err)
		return empty
	}
	return aligned
}
