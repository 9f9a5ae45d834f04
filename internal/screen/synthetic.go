package screen

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"sync"
	"time"

	"github.com/jmylchreest/deskcap/internal/capture"
)

// SyntheticOptions configures a Synthetic backend.
type SyntheticOptions struct {
	Displays    int
	Width       int
	Height      int
	RefreshRate float64
	// AccessLostEvery revokes the handle on every n-th acquisition. Zero never does.
	AccessLostEvery int
	// CursorOnlyEvery reports a pointer-only update on every n-th acquisition.
	CursorOnlyEvery int
}

// Synthetic generates a moving test pattern at a fixed refresh rate. It needs
// no display server and can inject session loss and cursor-only updates, so
// it is used for headless runs and soak tests of the capture loop.
type Synthetic struct {
	opts   SyntheticOptions
	period time.Duration
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewSynthetic validates opts and returns a Synthetic backend.
func NewSynthetic(opts SyntheticOptions) (*Synthetic, error) {
	if opts.Displays < 1 {
		return nil, errors.New("synthetic backend needs at least one display")
	}
	if opts.Width < 2 || opts.Height < 2 {
		return nil, fmt.Errorf("invalid synthetic size %dx%d", opts.Width, opts.Height)
	}
	if opts.RefreshRate <= 0 {
		return nil, fmt.Errorf("invalid synthetic refresh rate %v", opts.RefreshRate)
	}
	return &Synthetic{
		opts:   opts,
		period: time.Duration(float64(time.Second) / opts.RefreshRate),
		now:    time.Now,
		sleep:  sleep,
	}, nil
}

// Enumerate implements capture.Enumerator. Displays are laid out left to right.
func (s *Synthetic) Enumerate(ctx context.Context) ([]capture.Display, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	displays := make([]capture.Display, s.opts.Displays)
	for i := range displays {
		displays[i] = capture.Display{
			Index:  i,
			Name:   fmt.Sprintf("synthetic %d", i),
			Bounds: image.Rect(i*s.opts.Width, 0, (i+1)*s.opts.Width, s.opts.Height),
		}
	}
	return displays, nil
}

// TickFrequency implements capture.TickSource.
func (s *Synthetic) TickFrequency() int64 { return int64(time.Second) }

// Open implements capture.Backend.
func (s *Synthetic) Open(ctx context.Context, d capture.Display) (capture.Duplication, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d.Index < 0 || d.Index >= s.opts.Displays {
		return nil, capture.ErrNoDisplayAttached
	}
	return &syntheticDup{
		src:   s,
		index: d.Index,
		start: s.now(),
		last:  -1,
		base:  pattern(s.opts.Width, s.opts.Height, d.Index),
		frame: image.NewRGBA(image.Rect(0, 0, s.opts.Width, s.opts.Height)),
	}, nil
}

type syntheticDup struct {
	src   *Synthetic
	index int
	start time.Time
	base  *image.RGBA
	frame *image.RGBA

	mu          sync.Mutex
	last        int64
	calls       int
	closed      bool
	outstanding bool
}

func (d *syntheticDup) AcquireNextFrame(ctx context.Context, timeout time.Duration) (capture.FrameInfo, capture.Surface, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return capture.FrameInfo{}, nil, capture.ErrAccessLost
	}
	if d.outstanding {
		return capture.FrameInfo{}, nil, capture.ErrInvalidState
	}

	s := d.src
	d.calls++
	if n := s.opts.AccessLostEvery; n > 0 && d.calls%n == 0 {
		d.closed = true
		return capture.FrameInfo{}, nil, fmt.Errorf("%w: injected on acquisition %d", capture.ErrAccessLost, d.calls)
	}
	if n := s.opts.CursorOnlyEvery; n > 0 && d.calls%n == 0 {
		d.outstanding = true
		return capture.FrameInfo{LastMouseUpdateTime: s.now().UnixNano()}, nil, nil
	}

	now := s.now()
	idx := int64(now.Sub(d.start) / s.period)
	if idx <= d.last {
		next := d.start.Add(time.Duration(d.last+1) * s.period)
		wait := next.Sub(now)
		if wait > timeout {
			_ = s.sleep(ctx, timeout)
			return capture.FrameInfo{}, nil, capture.ErrTimeout
		}
		if err := s.sleep(ctx, wait); err != nil {
			return capture.FrameInfo{}, nil, capture.ErrTimeout
		}
		idx = max(int64(s.now().Sub(d.start)/s.period), d.last+1)
	}

	accumulated := uint32(idx - d.last)
	d.last = idx
	d.draw(idx)
	d.outstanding = true

	present := d.start.Add(time.Duration(idx) * s.period)
	return capture.FrameInfo{
		AccumulatedFrames: accumulated,
		LastPresentTime:   present.UnixNano(),
	}, &Surface{img: d.frame}, nil
}

// draw renders frame idx: the base pattern with a white bar that moves one
// column per refresh.
func (d *syntheticDup) draw(idx int64) {
	copy(d.frame.Pix, d.base.Pix)
	w, h := d.frame.Rect.Dx(), d.frame.Rect.Dy()
	x0 := int(idx % int64(w))
	for y := range h {
		for x := x0; x < min(x0+4, w); x++ {
			d.frame.SetRGBA(x, y, color.RGBA{R: 255, G: 255, B: 255, A: 255})
		}
	}
}

func (d *syntheticDup) ReleaseFrame() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return capture.ErrAccessLost
	}
	if !d.outstanding {
		return capture.ErrInvalidState
	}
	d.outstanding = false
	return nil
}

func (d *syntheticDup) Resolution() (int, int) {
	return d.src.opts.Width, d.src.opts.Height
}

func (d *syntheticDup) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	d.outstanding = false
	return nil
}

// pattern is a gradient tinted per display.
func pattern(w, h, display int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	tint := uint8(display * 60)
	for y := range h {
		for x := range w {
			img.SetRGBA(x, y, color.RGBA{
				R: uint8(x * 255 / w),
				G: uint8(y * 255 / h),
				B: tint,
				A: 255,
			})
		}
	}
	return img
}
