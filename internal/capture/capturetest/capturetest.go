// Package capturetest provides scripted capture backends and clocks for
// exercising sessions and capture loops without a real display.
package capturetest

import (
	"context"
	"errors"
	"image"
	"sync"
	"time"

	"github.com/jmylchreest/deskcap/internal/capture"
)

// Step is one scripted AcquireNextFrame result.
type Step struct {
	Info capture.FrameInfo
	Err  error
	// NilSurface returns success without a surface.
	NilSurface bool
}

// Frame returns a successful step with the given accumulated count. The
// present time is filled in by the backend.
func Frame(accumulated uint32) Step {
	return Step{Info: capture.FrameInfo{AccumulatedFrames: accumulated}}
}

// Timeout returns a step reporting a wait timeout.
func Timeout() Step { return Step{Err: capture.ErrTimeout} }

// CursorOnly returns a step reporting a pointer-only update.
func CursorOnly() Step {
	return Step{Info: capture.FrameInfo{AccumulatedFrames: 0, LastMouseUpdateTime: 1}}
}

// AccessLost returns a step reporting an invalidated handle.
func AccessLost() Step { return Step{Err: capture.ErrAccessLost} }

// Fail returns a step reporting err.
func Fail(err error) Step { return Step{Err: err} }

// Surface is an in-memory capture.Surface.
type Surface struct {
	img *image.RGBA
}

// NewSurface returns a blank surface of the given size.
func NewSurface(w, h int) *Surface {
	return &Surface{img: image.NewRGBA(image.Rect(0, 0, w, h))}
}

// Bounds implements capture.Surface.
func (s *Surface) Bounds() image.Rectangle { return s.img.Bounds() }

// RGBA implements capture.Surface.
func (s *Surface) RGBA() *image.RGBA { return s.img }

// Backend is a scripted capture.Backend. Steps are consumed in order across
// all duplications it opens; once exhausted every acquisition succeeds with a
// single accumulated frame. It is safe for concurrent use.
type Backend struct {
	// Width and Height are the reported resolution (default 64x36).
	Width, Height int
	// OpenErrs are returned by successive Open calls before opens succeed.
	OpenErrs []error
	// ReleaseErrs are returned by successive ReleaseFrame calls; nil entries
	// release normally. A failed release still drops the frame.
	ReleaseErrs []error
	// Ticks is the tick interval between presented frames (default 1ms in
	// nanosecond ticks).
	Ticks int64

	mu       sync.Mutex
	steps    []Step
	opens    int
	closes   int
	acquires int
	releases int
	present  int64
	waits    []time.Duration
	open     map[*Duplication]bool
}

// NewBackend returns a Backend that plays steps.
func NewBackend(steps ...Step) *Backend {
	return &Backend{steps: steps}
}

// Open implements capture.Backend.
func (b *Backend) Open(_ context.Context, display capture.Display) (capture.Duplication, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.OpenErrs) > 0 {
		err := b.OpenErrs[0]
		b.OpenErrs = b.OpenErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	b.opens++
	if b.open == nil {
		b.open = make(map[*Duplication]bool)
	}
	w, h := b.Width, b.Height
	if w == 0 || h == 0 {
		w, h = 64, 36
	}
	d := &Duplication{backend: b, display: display, width: w, height: h}
	b.open[d] = true
	return d, nil
}

// TickFrequency implements capture.TickSource.
func (b *Backend) TickFrequency() int64 { return capture.DefaultTickFrequency }

// Opens returns the number of successful Open calls.
func (b *Backend) Opens() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.opens
}

// Closes returns the number of duplications closed.
func (b *Backend) Closes() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closes
}

// Acquires returns the number of AcquireNextFrame calls.
func (b *Backend) Acquires() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.acquires
}

// Releases returns the number of ReleaseFrame calls.
func (b *Backend) Releases() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.releases
}

// Waits returns the timeout passed to every AcquireNextFrame call, in order.
func (b *Backend) Waits() []time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]time.Duration(nil), b.waits...)
}

// OpenHandles returns the number of duplications opened but not yet closed.
func (b *Backend) OpenHandles() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.open)
}

// Remaining returns the number of unplayed steps.
func (b *Backend) Remaining() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.steps)
}

func (b *Backend) next() Step {
	b.acquires++
	if len(b.steps) == 0 {
		return Frame(1)
	}
	s := b.steps[0]
	b.steps = b.steps[1:]
	return s
}

// Duplication is a scripted capture.Duplication.
type Duplication struct {
	backend     *Backend
	display     capture.Display
	width       int
	height      int
	outstanding bool
	closed      bool
}

// AcquireNextFrame implements capture.Duplication.
func (d *Duplication) AcquireNextFrame(_ context.Context, timeout time.Duration) (capture.FrameInfo, capture.Surface, error) {
	b := d.backend
	b.mu.Lock()
	defer b.mu.Unlock()
	b.waits = append(b.waits, timeout)

	if d.closed {
		return capture.FrameInfo{}, nil, capture.ErrAccessLost
	}
	if d.outstanding {
		return capture.FrameInfo{}, nil, capture.ErrInvalidState
	}

	step := b.next()
	if step.Err != nil {
		return capture.FrameInfo{}, nil, step.Err
	}

	info := step.Info
	d.outstanding = true
	if info.AccumulatedFrames == 0 {
		return info, nil, nil
	}
	tick := b.Ticks
	if tick == 0 {
		tick = int64(time.Millisecond)
	}
	b.present += tick
	if info.LastPresentTime == 0 {
		info.LastPresentTime = b.present
	}
	if step.NilSurface {
		return info, nil, nil
	}
	return info, NewSurface(d.width, d.height), nil
}

// ReleaseFrame implements capture.Duplication.
func (d *Duplication) ReleaseFrame() error {
	b := d.backend
	b.mu.Lock()
	defer b.mu.Unlock()
	if !d.outstanding {
		return errors.New("capturetest: no frame to release")
	}
	d.outstanding = false
	if len(b.ReleaseErrs) > 0 {
		err := b.ReleaseErrs[0]
		b.ReleaseErrs = b.ReleaseErrs[1:]
		if err != nil {
			return err
		}
	}
	b.releases++
	return nil
}

// Resolution implements capture.Duplication.
func (d *Duplication) Resolution() (int, int) { return d.width, d.height }

// Close implements capture.Duplication.
func (d *Duplication) Close() error {
	b := d.backend
	b.mu.Lock()
	defer b.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	b.closes++
	delete(b.open, d)
	return nil
}

// Enumerator returns a fixed display list.
type Enumerator struct {
	Displays []capture.Display
	Err      error
}

// Enumerate implements capture.Enumerator.
func (e Enumerator) Enumerate(context.Context) ([]capture.Display, error) {
	if e.Err != nil {
		return nil, e.Err
	}
	return e.Displays, nil
}

// Displays returns n displays of the given size with indexes 0..n-1.
func Displays(n, w, h int) []capture.Display {
	out := make([]capture.Display, n)
	for i := range out {
		out[i] = capture.Display{
			Index:  i,
			Bounds: image.Rect(i*w, 0, (i+1)*w, h),
		}
	}
	return out
}

// Clock is a manually advanced capture.Clock. Each call to Now advances the
// clock by Step.
type Clock struct {
	mu   sync.Mutex
	now  time.Time
	Step time.Duration
}

// NewClock returns a clock starting at a fixed instant.
func NewClock(step time.Duration) *Clock {
	return &Clock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), Step: step}
}

// Now implements capture.Clock.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now = c.now.Add(c.Step)
	return t
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// PerDisplay routes Open to a separate scripted Backend per display index.
type PerDisplay map[int]*Backend

// Open implements capture.Backend.
func (p PerDisplay) Open(ctx context.Context, display capture.Display) (capture.Duplication, error) {
	b, ok := p[display.Index]
	if !ok {
		return nil, capture.ErrNoDisplayAttached
	}
	return b.Open(ctx, display)
}
