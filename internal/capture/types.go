// Package capture implements per-display desktop duplication sessions,
// acquisition outcome classification and frame pacing.
//
// A Session wraps one revocable Duplication handle obtained from a Backend.
// Every call to Session.Acquire may end the session: callers inspect the
// returned error with Classify (or errors.Is against the sentinel errors) and
// reopen the session when the outcome is recoverable.
package capture

import (
	"context"
	"fmt"
	"image"
	"time"
)

// Display is one independently addressable screen output.
type Display struct {
	// Index is the stable, 0-based position in enumeration order.
	Index int `json:"index"`
	// Name is a human-readable label (adapter/output name when available).
	Name string `json:"name,omitempty"`
	// Bounds is the output rectangle in virtual desktop coordinates.
	Bounds image.Rectangle `json:"bounds"`
}

// Width returns the display width in pixels.
func (d Display) Width() int { return d.Bounds.Dx() }

// Height returns the display height in pixels.
func (d Display) Height() int { return d.Bounds.Dy() }

// String implements fmt.Stringer.
func (d Display) String() string {
	return fmt.Sprintf("display %d (%dx%d)", d.Index, d.Width(), d.Height())
}

// Surface is a captured desktop image. It is owned by the session that
// produced it and is only valid until released.
type Surface interface {
	Bounds() image.Rectangle
	RGBA() *image.RGBA
}

// FrameInfo is the raw metadata a Duplication reports for one acquisition.
// Timestamps are in backend ticks; see Session for the conversion.
type FrameInfo struct {
	// AccumulatedFrames is the number of desktop updates coalesced into this
	// frame. Zero means only the pointer changed.
	AccumulatedFrames uint32
	// LastPresentTime is the presentation time of the most recent update in
	// ticks. Zero means no image update was presented.
	LastPresentTime int64
	// LastMouseUpdateTime is the time of the last pointer update in ticks.
	LastMouseUpdateTime int64
}

// FrameSample is the result of one acquisition attempt, as reported to
// diagnostics.
type FrameSample struct {
	Sequence           uint64 `json:"sequence"`
	AccumulatedFrames  uint32 `json:"accumulated_frames"`
	PresentationMicros int64  `json:"presentation_micros"`
	IntervalMicros     int64  `json:"interval_micros"`
	MouseUpdateTicks   int64  `json:"mouse_update_ticks,omitempty"`
	CursorOnly         bool   `json:"cursor_only"`
}

// Frame pairs a sample with its captured surface. Surface is nil for
// cursor-only samples.
type Frame struct {
	Sample  FrameSample
	Surface Surface
}

// Duplication is one live, revocable capture handle bound to a display.
//
// Implementations return ErrTimeout when no update arrived within the
// timeout, ErrAccessLost when the handle has been invalidated and
// ErrInvalidState when a frame is acquired while the previous one has not
// been released. Errors may be wrapped.
type Duplication interface {
	AcquireNextFrame(ctx context.Context, timeout time.Duration) (FrameInfo, Surface, error)
	ReleaseFrame() error
	Resolution() (width, height int)
	Close() error
}

// Backend creates duplication handles for displays.
type Backend interface {
	Open(ctx context.Context, display Display) (Duplication, error)
}

// TickSource is implemented by backends whose timestamps are not in
// nanoseconds.
type TickSource interface {
	TickFrequency() int64
}

// Enumerator lists the displays available at call time, in a stable order.
type Enumerator interface {
	Enumerate(ctx context.Context) ([]Display, error)
}

// Clock supplies wall-clock readings for pacing. Injected so loops can be
// driven deterministically in tests.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the real monotonic clock.
type SystemClock struct{}

// Now returns time.Now().
func (SystemClock) Now() time.Time { return time.Now() }
