package capture

import (
	"errors"
	"fmt"
)

// Acquisition and session errors.
var (
	ErrTimeout              = errors.New("capture: wait timed out")
	ErrCursorOnly           = errors.New("capture: cursor-only update")
	ErrAccessLost           = errors.New("capture: access lost")
	ErrInvalidState         = errors.New("capture: invalid call, previous frame not released")
	ErrDeviceCreationFailed = errors.New("capture: device creation failed")
	ErrNoDisplayAttached    = errors.New("capture: no display attached")
	ErrNullSurface          = errors.New("capture: null output surface")
	ErrSessionClosed        = errors.New("capture: session closed")
	ErrSessionInvalid       = errors.New("capture: session invalidated")
)

// Kind classifies the outcome of an acquisition.
type Kind int

const (
	// KindNone is a successful acquisition.
	KindNone Kind = iota
	// KindTimeout means no desktop update occurred within the wait.
	KindTimeout
	// KindCursorOnly means only the pointer changed.
	KindCursorOnly
	// KindAccessLost means the OS invalidated the handle.
	KindAccessLost
	// KindInvalidState means a frame was still outstanding.
	KindInvalidState
	// KindFailed is any other acquisition failure.
	KindFailed
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case KindNone:
		return "ok"
	case KindTimeout:
		return "timeout"
	case KindCursorOnly:
		return "cursor_only"
	case KindAccessLost:
		return "access_lost"
	case KindInvalidState:
		return "invalid_state"
	case KindFailed:
		return "failed"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Liveness reports whether the outcome is a no-op tick rather than an error.
func (k Kind) Liveness() bool {
	return k == KindTimeout || k == KindCursorOnly
}

// SessionEnding reports whether the session must be discarded and reopened.
func (k Kind) SessionEnding() bool {
	return k == KindAccessLost || k == KindInvalidState || k == KindFailed
}

// AcquireError is returned by Session.Acquire for every non-successful outcome.
type AcquireError struct {
	Display int
	Kind    Kind
	Err     error
}

// Error implements error.
func (e *AcquireError) Error() string {
	return fmt.Sprintf("display %d: acquire %s: %v", e.Display, e.Kind, e.Err)
}

// Unwrap returns the underlying error.
func (e *AcquireError) Unwrap() error { return e.Err }

// Classify maps an error returned by Acquire (or by a Duplication) to a Kind.
// A nil error is KindNone.
func Classify(err error) Kind {
	if err == nil {
		return KindNone
	}
	var acqErr *AcquireError
	if errors.As(err, &acqErr) {
		return acqErr.Kind
	}
	return kindOf(err)
}

// kindOf classifies a raw duplication error.
func kindOf(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrTimeout):
		return KindTimeout
	case errors.Is(err, ErrCursorOnly):
		return KindCursorOnly
	case errors.Is(err, ErrAccessLost):
		return KindAccessLost
	case errors.Is(err, ErrInvalidState):
		return KindInvalidState
	default:
		return KindFailed
	}
}
