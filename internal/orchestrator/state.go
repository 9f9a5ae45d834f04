// Package orchestrator runs one capture loop per display, pacing acquisitions,
// recovering lost capture sessions and forwarding frames to encoders.
package orchestrator

import (
	"fmt"
	"time"

	"github.com/jmylchreest/deskcap/internal/capture"
)

// LoopState is the state of a display's capture loop.
type LoopState int32

const (
	StateIdle LoopState = iota
	StateCapturing
	StateProcessing
	StateRecovering
	StateTerminated
	StateFailed
	StateStopped
)

// String implements fmt.Stringer.
func (s LoopState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCapturing:
		return "capturing"
	case StateProcessing:
		return "processing"
	case StateRecovering:
		return "recovering"
	case StateTerminated:
		return "terminated"
	case StateFailed:
		return "failed"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Terminal reports whether the loop has exited.
func (s LoopState) Terminal() bool {
	return s == StateTerminated || s == StateFailed || s == StateStopped
}

// MarshalText implements encoding.TextMarshaler.
func (s LoopState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// PacingState is owned by one loop.
type PacingState struct {
	Wait      time.Duration
	Captured  int
	tickStart time.Time
	lastTick  time.Duration
}

// RecoveryState tracks consecutive session failures for one loop. It is reset
// by a successful acquisition and left alone by timeouts and cursor-only
// updates.
type RecoveryState struct {
	ConsecutiveFailures int
	LastKind            capture.Kind
	LastErr             error
}

func (r *RecoveryState) fail(err error) {
	r.ConsecutiveFailures++
	r.LastKind = capture.Classify(err)
	r.LastErr = err
}

func (r *RecoveryState) reset() {
	r.ConsecutiveFailures = 0
	r.LastKind = capture.KindNone
	r.LastErr = nil
}

// Result is the terminal report of one display loop.
type Result struct {
	Display      capture.Display `json:"display"`
	State        LoopState       `json:"state"`
	Captured     int             `json:"captured"`
	Recoveries   int             `json:"recoveries"`
	LastSequence uint64          `json:"last_sequence"`
	Err          error           `json:"-"`
}

// Error returns the error message, if any.
func (r Result) Error() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// Report summarises a multi-display run.
type Report struct {
	RunID    string    `json:"run_id"`
	Results  []Result  `json:"results"`
	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished"`
}

// Failed reports whether any display loop ended in StateFailed.
func (r *Report) Failed() bool {
	for _, res := range r.Results {
		if res.State == StateFailed {
			return true
		}
	}
	return false
}

// Captured returns the total number of frames captured across displays.
func (r *Report) Captured() int {
	n := 0
	for _, res := range r.Results {
		n += res.Captured
	}
	return n
}
