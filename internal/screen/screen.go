// Package screen provides capture backends: a polling backend over the
// operating system's screen capture API and a synthetic backend that
// generates frames at a fixed refresh rate.
package screen

import (
	"context"
	"fmt"
	"hash/maphash"
	"image"
	"sync"
	"time"

	"github.com/kbinani/screenshot"

	"github.com/jmylchreest/deskcap/internal/capture"
)

// DefaultPollInterval is how often an unchanged screen is re-captured while
// waiting for an update.
const DefaultPollInterval = 2 * time.Millisecond

// platform is the screen capture API. It is a variable set of functions so
// tests can replace the OS.
type platform struct {
	numDisplays func() int
	bounds      func(index int) image.Rectangle
	captureRect func(rect image.Rectangle) (*image.RGBA, error)
}

var osPlatform = platform{
	numDisplays: screenshot.NumActiveDisplays,
	bounds:      screenshot.GetDisplayBounds,
	captureRect: screenshot.CaptureRect,
}

// Enumerator lists the active displays.
type Enumerator struct {
	os platform
}

// NewEnumerator returns an Enumerator over the OS displays.
func NewEnumerator() *Enumerator {
	return &Enumerator{os: osPlatform}
}

// Enumerate implements capture.Enumerator.
func (e *Enumerator) Enumerate(ctx context.Context) ([]capture.Display, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n := e.os.numDisplays()
	displays := make([]capture.Display, 0, n)
	for i := range n {
		b := e.os.bounds(i)
		if b.Empty() {
			return nil, fmt.Errorf("display %d reports empty bounds", i)
		}
		displays = append(displays, capture.Display{
			Index:  i,
			Name:   fmt.Sprintf("screen %d at %d,%d", i, b.Min.X, b.Min.Y),
			Bounds: b,
		})
	}
	return displays, nil
}

// Backend captures displays by polling the screen and reporting a frame
// whenever the pixels change. Timestamps are wall-clock nanoseconds.
type Backend struct {
	// PollInterval is the delay between captures of an unchanged screen.
	PollInterval time.Duration

	os   platform
	now  func() time.Time
	seed maphash.Seed
}

// NewBackend returns a Backend over the OS screen capture API.
func NewBackend(pollInterval time.Duration) *Backend {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	return &Backend{
		PollInterval: pollInterval,
		os:           osPlatform,
		now:          time.Now,
		seed:         maphash.MakeSeed(),
	}
}

// TickFrequency implements capture.TickSource.
func (b *Backend) TickFrequency() int64 { return int64(time.Second) }

// Open implements capture.Backend. The duplication is bound to the display's
// current bounds; a later change of bounds or display count revokes it.
func (b *Backend) Open(ctx context.Context, d capture.Display) (capture.Duplication, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d.Index >= b.os.numDisplays() {
		return nil, capture.ErrNoDisplayAttached
	}
	bounds := b.os.bounds(d.Index)
	if bounds.Empty() {
		return nil, capture.ErrNoDisplayAttached
	}
	return &duplication{backend: b, index: d.Index, bounds: bounds}, nil
}

type duplication struct {
	backend *Backend
	index   int
	bounds  image.Rectangle

	mu          sync.Mutex
	closed      bool
	outstanding bool
	seeded      bool
	lastHash    uint64
}

func (d *duplication) attached() bool {
	p := d.backend.os
	return d.index < p.numDisplays() && p.bounds(d.index) == d.bounds
}

// AcquireNextFrame implements capture.Duplication. The screen is captured at
// least once; the first capture after Open is always reported as a frame.
func (d *duplication) AcquireNextFrame(ctx context.Context, timeout time.Duration) (capture.FrameInfo, capture.Surface, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return capture.FrameInfo{}, nil, capture.ErrAccessLost
	}
	if d.outstanding {
		return capture.FrameInfo{}, nil, capture.ErrInvalidState
	}

	b := d.backend
	deadline := b.now().Add(timeout)
	for {
		if !d.attached() {
			return capture.FrameInfo{}, nil, fmt.Errorf("%w: display %d changed", capture.ErrAccessLost, d.index)
		}
		img, err := b.os.captureRect(d.bounds)
		if err != nil {
			return capture.FrameInfo{}, nil, fmt.Errorf("%w: %w", capture.ErrAccessLost, err)
		}

		h := maphash.Bytes(b.seed, img.Pix)
		if !d.seeded || h != d.lastHash {
			d.seeded = true
			d.lastHash = h
			d.outstanding = true
			info := capture.FrameInfo{AccumulatedFrames: 1, LastPresentTime: b.now().UnixNano()}
			return info, &Surface{img: img}, nil
		}

		remaining := deadline.Sub(b.now())
		if remaining <= 0 {
			return capture.FrameInfo{}, nil, capture.ErrTimeout
		}
		if err := sleep(ctx, min(b.PollInterval, remaining)); err != nil {
			return capture.FrameInfo{}, nil, capture.ErrTimeout
		}
	}
}

// ReleaseFrame implements capture.Duplication.
func (d *duplication) ReleaseFrame() error {
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

// Resolution implements capture.Duplication.
func (d *duplication) Resolution() (int, int) { return d.bounds.Dx(), d.bounds.Dy() }

// Close implements capture.Duplication.
func (d *duplication) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	d.outstanding = false
	return nil
}

// Surface is a captured image.
type Surface struct {
	img *image.RGBA
}

// Bounds implements capture.Surface.
func (s *Surface) Bounds() image.Rectangle { return s.img.Bounds() }

// RGBA implements capture.Surface.
func (s *Surface) RGBA() *image.RGBA { return s.img }

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
