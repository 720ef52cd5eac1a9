// Package preview shows intermediate calibration images to an operator. Presenting never changes
// the data being presented and headless runs use a Presenter that returns immediately.
package preview

import (
	"bufio"
	"context"
	"fmt"
	"image"
	"image/color"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	"go.viam.com/utils"
	"golang.org/x/term"
	"golang.org/x/time/rate"

	"go.viam.com/stereocalib/logging"
	"go.viam.com/stereocalib/rimage"
)

// Forever makes Present block until the operator answers.
const Forever time.Duration = -1

// A Presenter shows images in a named window and waits up to wait for the operator, or until
// the operator answers when wait is Forever. It returns false once the operator asked to stop
// presenting.
type Presenter interface {
	Present(ctx context.Context, window string, wait time.Duration, images ...image.Image) (bool, error)
}

// Headless presents nothing and never waits.
type Headless struct{}

// Present implements Presenter.
func (Headless) Present(ctx context.Context, window string, wait time.Duration, images ...image.Image) (bool, error) {
	return true, nil
}

// SideBySide pastes images left to right on a black background. Empty images are skipped and nil
// is returned when nothing is left.
func SideBySide(images ...image.Image) image.Image {
	w, h := 0, 0
	present := make([]image.Image, 0, len(images))
	for _, img := range images {
		if rimage.IsEmpty(img) {
			continue
		}
		present = append(present, img)
		w += img.Bounds().Dx()
		if img.Bounds().Dy() > h {
			h = img.Bounds().Dy()
		}
	}
	if len(present) == 0 {
		return nil
	}
	out := imaging.New(w, h, color.Black)
	x := 0
	for _, img := range present {
		out = imaging.Paste(out, img, image.Pt(x, 0))
		x += img.Bounds().Dx()
	}
	return out
}

// DirectoryPresenter writes presented frames as pngs named after their window and rank. Frames
// presented faster than its limit are skipped; their rank is still used up.
type DirectoryPresenter struct {
	dir     string
	logger  logging.Logger
	limiter *rate.Limiter

	mu      sync.Mutex
	counts  map[string]int
	skipped int
}

// NewDirectoryPresenter creates dir when needed. At most limit frames are written per second;
// rate.Inf writes every frame.
func NewDirectoryPresenter(dir string, limit rate.Limit, logger logging.Logger) (*DirectoryPresenter, error) {
	if limit <= 0 {
		return nil, errors.Errorf("preview rate must be positive, got %v", limit)
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, errors.Wrapf(err, "cannot create preview directory %q", dir)
	}
	return &DirectoryPresenter{
		dir:     dir,
		logger:  logger,
		limiter: rate.NewLimiter(limit, 1),
		counts:  map[string]int{},
	}, nil
}

// Skipped returns the number of frames dropped by the rate limit.
func (p *DirectoryPresenter) Skipped() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.skipped
}

// Present implements Presenter.
func (p *DirectoryPresenter) Present(ctx context.Context, window string, wait time.Duration, images ...image.Image) (bool, error) {
	img := SideBySide(images...)
	if img == nil {
		return true, nil
	}
	p.mu.Lock()
	n := p.counts[window]
	p.counts[window]++
	allowed := p.limiter.Allow()
	if !allowed {
		p.skipped++
	}
	p.mu.Unlock()
	if !allowed {
		p.logger.Debugw("preview skipped", "window", window, "rank", n)
		return true, nil
	}
	path := filepath.Join(p.dir, fmt.Sprintf("%s_%03d.png", window, n))
	if err := rimage.WriteImageToFile(path, img); err != nil {
		return true, err
	}
	p.logger.Debugw("wrote preview", "window", window, "path", path)
	return true, nil
}

// PromptPresenter hands frames to another Presenter and then waits for the operator on a
// terminal: bounded waits sleep, Forever reads a key and "q" stops further presenting.
type PromptPresenter struct {
	next Presenter
	in   io.Reader
	out  io.Writer

	mu      sync.Mutex
	buf     *bufio.Reader
	stopped bool
}

// NewPromptPresenter returns a presenter reading answers from in and writing prompts to out.
func NewPromptPresenter(next Presenter, in io.Reader, out io.Writer) *PromptPresenter {
	if next == nil {
		next = Headless{}
	}
	return &PromptPresenter{next: next, in: in, out: out, buf: bufio.NewReader(in)}
}

// Present implements Presenter.
func (p *PromptPresenter) Present(ctx context.Context, window string, wait time.Duration, images ...image.Image) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return false, nil
	}
	ok, err := p.next.Present(ctx, window, wait, images...)
	if err != nil || !ok {
		return ok, err
	}
	if wait >= 0 {
		if !utils.SelectContextOrWait(ctx, wait) {
			return false, ctx.Err()
		}
		return true, nil
	}
	fmt.Fprintf(p.out, "%s: press enter to continue or q to stop\n", window)
	key, err := p.readKey()
	if err != nil {
		return false, err
	}
	if key == "q" {
		p.stopped = true
		return false, nil
	}
	return true, nil
}

// readKey reads a single key in raw mode on terminals and a line otherwise. The end of the input
// reads as "q".
func (p *PromptPresenter) readKey() (string, error) {
	if f, ok := p.in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fd := int(f.Fd())
		state, err := term.MakeRaw(fd)
		if err != nil {
			return "", errors.Wrap(err, "cannot read from terminal")
		}
		defer utils.UncheckedErrorFunc(func() error { return term.Restore(fd, state) })
		var b [1]byte
		if _, err := f.Read(b[:]); err != nil {
			return "q", nil //nolint:nilerr
		}
		return strings.ToLower(string(b[:])), nil
	}
	line, err := p.buf.ReadString('\n')
	if err != nil && line == "" {
		if errors.Is(err, io.EOF) {
			return "q", nil
		}
		return "", err
	}
	return strings.ToLower(strings.TrimSpace(line)), nil
}
