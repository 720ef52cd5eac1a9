package calibration

import (
	"context"
	"image"
	"image/color"
	"testing"
	"time"

	"go.viam.com/test"

	"go.viam.com/stereocalib/logging"
	"go.viam.com/stereocalib/rimage"
	"go.viam.com/stereocalib/rimage/calibration/preview"
)

type countingPresenter struct {
	windows []string
	stopAt  int
}

func (p *countingPresenter) Present(ctx context.Context, window string, wait time.Duration, images ...image.Image) (bool, error) {
	p.windows = append(p.windows, window)
	return p.stopAt == 0 || len(p.windows) < p.stopAt, nil
}

func TestFramePaths(t *testing.T) {
	test.That(t, ColorPath("/tmp/calib", ".png", 3), test.ShouldEqual, "/tmp/calib/color_3.png")
	test.That(t, DepthPath("/tmp/calib", ".png", 12), test.ShouldEqual, "/tmp/calib/depth_12.png")
}

func TestLoadFramePairs(t *testing.T) {
	logger, logs := logging.NewObservedTestLogger(t)
	dir := t.TempDir()

	colorImg := image.NewGray(image.Rect(0, 0, 64, 48))
	for i := range colorImg.Pix {
		colorImg.Pix[i] = 200
	}
	test.That(t, rimage.WriteImageToFile(ColorPath(dir, ".png", 0), colorImg), test.ShouldBeNil)

	depth := image.NewGray16(image.Rect(0, 0, 32, 24))
	for y := 0; y < 24; y++ {
		for x := 0; x < 32; x++ {
			v := uint16(400)
			if x >= 16 {
				v = 3000
			}
			depth.SetGray16(x, y, color.Gray16{Y: v})
		}
	}
	test.That(t, rimage.WriteImageToFile(DepthPath(dir, ".png", 0), depth), test.ShouldBeNil)
	// pair 1 only has a depth frame, pair 2 is missing
	test.That(t, rimage.WriteImageToFile(DepthPath(dir, ".png", 1), depth), test.ShouldBeNil)

	cfg := DefaultConfig()
	cfg.DepthAlignment = rimage.DepthAlignment{}
	presenter := &countingPresenter{}
	pairs, err := LoadFramePairs(context.Background(), dir, ".png", 3, cfg, presenter, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(pairs), test.ShouldEqual, 3)
	test.That(t, presenter.windows, test.ShouldResemble, []string{"load", "load", "load"})

	p0 := pairs[0]
	test.That(t, p0.Index, test.ShouldEqual, 0)
	test.That(t, p0.Size(), test.ShouldResemble, image.Pt(64, 48))
	test.That(t, p0.Depth.Bounds().Size(), test.ShouldResemble, image.Pt(64, 48))
	test.That(t, p0.Depth.GrayAt(4, 10).Y, test.ShouldEqual, 102)
	test.That(t, p0.Depth.GrayAt(60, 10).Y, test.ShouldEqual, 255)

	// without a color frame the depth keeps its own size
	test.That(t, rimage.IsEmpty(pairs[1].Color), test.ShouldBeTrue)
	test.That(t, pairs[1].Size(), test.ShouldResemble, image.Point{})
	test.That(t, pairs[1].Depth.Bounds().Size(), test.ShouldResemble, image.Pt(32, 24))

	test.That(t, rimage.IsEmpty(pairs[2].Color), test.ShouldBeTrue)
	test.That(t, rimage.IsEmpty(pairs[2].Depth), test.ShouldBeTrue)
	test.That(t, logs.FilterMessage("cannot load color frame").Len(), test.ShouldEqual, 2)
	test.That(t, logs.FilterMessage("cannot load depth frame").Len(), test.ShouldEqual, 1)
}

func TestLoadFramePairsDefaultAlignment(t *testing.T) {
	logger := logging.NewTestLogger(t)
	dir := t.TempDir()
	test.That(t, rimage.WriteImageToFile(ColorPath(dir, ".png", 0), image.NewGray(image.Rect(0, 0, 640, 480))), test.ShouldBeNil)
	test.That(t, rimage.WriteImageToFile(DepthPath(dir, ".png", 0), image.NewGray16(image.Rect(0, 0, 320, 240))), test.ShouldBeNil)

	pairs, err := LoadFramePairs(context.Background(), dir, ".png", 1, DefaultConfig(), preview.Headless{}, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pairs[0].Depth.Bounds().Size(), test.ShouldResemble, image.Pt(640, 480))
}

func TestLoadFramePairsCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := LoadFramePairs(ctx, t.TempDir(), ".png", 2, DefaultConfig(), preview.Headless{}, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeError, context.Canceled)
}
