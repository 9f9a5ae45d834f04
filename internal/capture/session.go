package capture

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultTickFrequency is the tick rate assumed for backends that do not
// implement TickSource (nanosecond timestamps).
const DefaultTickFrequency int64 = int64(time.Second)

// SessionOptions configures Open.
type SessionOptions struct {
	// TickFrequency is the number of backend ticks per second used to convert
	// presentation timestamps. Zero uses the backend's TickSource, or
	// DefaultTickFrequency.
	TickFrequency int64
	// FirstSequence seeds the frame sequence so that numbering stays
	// non-decreasing across a reopen.
	FirstSequence uint64
}

// Session is a live duplication handle for one display. A Session is owned by
// a single goroutine and is not safe for concurrent use.
type Session struct {
	display Display
	dup     Duplication
	freq    int64
	width   int
	height  int

	sequence    uint64
	lastPresent int64
	hasLast     bool

	outstanding bool
	valid       bool
	closed      bool
}

// Open acquires a duplication handle for display. Failures are wrapped with
// ErrNoDisplayAttached when the backend reports no such output and with
// ErrDeviceCreationFailed otherwise.
func Open(ctx context.Context, backend Backend, display Display, opts SessionOptions) (*Session, error) {
	freq := opts.TickFrequency
	if freq <= 0 {
		if ts, ok := backend.(TickSource); ok {
			freq = ts.TickFrequency()
		}
	}
	if freq <= 0 {
		freq = DefaultTickFrequency
	}

	dup, err := backend.Open(ctx, display)
	if err != nil {
		if errors.Is(err, ErrNoDisplayAttached) || errors.Is(err, ErrDeviceCreationFailed) {
			return nil, fmt.Errorf("opening %s: %w", display, err)
		}
		return nil, fmt.Errorf("opening %s: %w: %w", display, ErrDeviceCreationFailed, err)
	}
	if dup == nil {
		return nil, fmt.Errorf("opening %s: %w", display, ErrNoDisplayAttached)
	}

	w, h := dup.Resolution()
	return &Session{
		display:  display,
		dup:      dup,
		freq:     freq,
		width:    w,
		height:   h,
		sequence: opts.FirstSequence,
		valid:    true,
	}, nil
}

// Display returns the display this session is bound to.
func (s *Session) Display() Display { return s.display }

// Resolution returns the output resolution reported when the session opened.
func (s *Session) Resolution() (width, height int) { return s.width, s.height }

// Sequence returns the sequence number of the last delivered frame.
func (s *Session) Sequence() uint64 { return s.sequence }

// Valid reports whether the session can still be used for acquisition.
func (s *Session) Valid() bool { return s.valid && !s.closed }

// Acquire waits up to wait for the next desktop image.
//
// On success the returned Frame holds the surface, which stays valid until the
// next Release, Acquire or Close. Every other outcome is an *AcquireError; for
// KindCursorOnly the Frame still carries the sample so it can be recorded.
// KindAccessLost, KindInvalidState and KindFailed leave the session invalid.
func (s *Session) Acquire(ctx context.Context, wait time.Duration) (Frame, error) {
	if s.closed {
		return Frame{}, s.fail(KindFailed, ErrSessionClosed)
	}
	if !s.valid {
		return Frame{}, s.fail(KindFailed, ErrSessionInvalid)
	}

	// The previous frame is released before asking for a new one.
	if err := s.Release(); err != nil {
		return Frame{}, s.fail(kindOf(err), err)
	}

	info, surface, err := s.dup.AcquireNextFrame(ctx, wait)
	if err != nil {
		kind := kindOf(err)
		if kind == KindCursorOnly {
			// A backend reporting cursor-only as an error holds no frame.
			return Frame{Sample: s.cursorSample(info)}, &AcquireError{Display: s.display.Index, Kind: kind, Err: err}
		}
		return Frame{}, s.fail(kind, err)
	}
	s.outstanding = true

	if info.AccumulatedFrames == 0 || info.LastPresentTime == 0 {
		sample := s.cursorSample(info)
		if err := s.Release(); err != nil {
			return Frame{}, s.fail(kindOf(err), err)
		}
		return Frame{Sample: sample}, &AcquireError{Display: s.display.Index, Kind: KindCursorOnly, Err: ErrCursorOnly}
	}

	if surface == nil {
		_ = s.Release()
		return Frame{}, s.fail(KindFailed, ErrNullSurface)
	}

	present := TicksToMicros(info.LastPresentTime, s.freq)
	var interval int64
	if s.hasLast {
		interval = present - s.lastPresent
	}
	s.lastPresent = present
	s.hasLast = true
	s.sequence += uint64(info.AccumulatedFrames)

	return Frame{
		Sample: FrameSample{
			Sequence:           s.sequence,
			AccumulatedFrames:  info.AccumulatedFrames,
			PresentationMicros: present,
			IntervalMicros:     interval,
			MouseUpdateTicks:   info.LastMouseUpdateTime,
		},
		Surface: surface,
	}, nil
}

// Release returns the outstanding frame, if any, to the backend.
func (s *Session) Release() error {
	if !s.outstanding {
		return nil
	}
	s.outstanding = false
	if err := s.dup.ReleaseFrame(); err != nil {
		return fmt.Errorf("releasing frame: %w", err)
	}
	return nil
}

// Close releases any outstanding frame and the duplication handle. It is
// idempotent.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.valid = false

	var errs []error
	if err := s.Release(); err != nil && !errors.Is(err, ErrAccessLost) {
		errs = append(errs, err)
	}
	if err := s.dup.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing duplication: %w", err))
	}
	return errors.Join(errs...)
}

func (s *Session) cursorSample(info FrameInfo) FrameSample {
	return FrameSample{
		Sequence:          s.sequence,
		AccumulatedFrames: info.AccumulatedFrames,
		MouseUpdateTicks:  info.LastMouseUpdateTime,
		CursorOnly:        true,
	}
}

func (s *Session) fail(kind Kind, err error) error {
	if kind.SessionEnding() {
		s.valid = false
	}
	return &AcquireError{Display: s.display.Index, Kind: kind, Err: err}
}

// TicksToMicros converts a tick count at freq ticks per second to
// microseconds without overflowing for large tick values.
func TicksToMicros(ticks, freq int64) int64 {
	if freq <= 0 {
		return 0
	}
	const micro = int64(time.Second / time.Microsecond)
	return ticks/freq*micro + ticks%freq*micro/freq
}
