package orchestrator

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/jmylchreest/deskcap/internal/capture"
	"github.com/jmylchreest/deskcap/internal/encoder"
	"github.com/jmylchreest/deskcap/internal/ffmpeg"
)

// DisplayStats holds live counters for one display loop. The loop only
// writes; readers take snapshots from other goroutines.
type DisplayStats struct {
	display capture.Display
	target  time.Duration
	enc     encoder.Encoder

	state        atomic.Int32
	captured     atomic.Int64
	timeouts     atomic.Int64
	cursorOnly   atomic.Int64
	recoveries   atomic.Int64
	lastSequence atomic.Uint64
	acquireNanos atomic.Int64
	acquires     atomic.Int64
	lastError    atomic.Pointer[string]
	startedAt    atomic.Int64
}

func newDisplayStats(d capture.Display, target time.Duration) *DisplayStats {
	return &DisplayStats{display: d, target: target}
}

func (s *DisplayStats) setState(st LoopState) { s.state.Store(int32(st)) }

func (s *DisplayStats) observeAcquire(d time.Duration) {
	s.acquireNanos.Add(int64(d))
	s.acquires.Add(1)
}

func (s *DisplayStats) setError(err error) {
	if err == nil {
		s.lastError.Store(nil)
		return
	}
	msg := err.Error()
	s.lastError.Store(&msg)
}

// DisplaySnapshot is a point-in-time copy of DisplayStats.
type DisplaySnapshot struct {
	Display       int           `json:"display"`
	Width         int           `json:"width"`
	Height        int           `json:"height"`
	State         string        `json:"state"`
	Captured      int64         `json:"captured"`
	Timeouts      int64         `json:"timeouts"`
	CursorOnly    int64         `json:"cursor_only"`
	Recoveries    int64         `json:"recoveries"`
	LastSequence  uint64        `json:"last_sequence"`
	AvgAcquire    time.Duration `json:"avg_acquire_ns"`
	Target        time.Duration `json:"target_interval_ns"`
	EffectiveFPS  float64       `json:"effective_fps"`
	LastError     string        `json:"last_error,omitempty"`
	RunningForSec float64       `json:"running_for_sec"`

	// Encoder is set while the display's encoder runs an external process.
	Encoder *ffmpeg.ProcessStats `json:"encoder,omitempty"`
}

// Snapshot returns the current counters.
func (s *DisplayStats) Snapshot() DisplaySnapshot {
	snap := DisplaySnapshot{
		Display:      s.display.Index,
		Width:        s.display.Width(),
		Height:       s.display.Height(),
		State:        LoopState(s.state.Load()).String(),
		Captured:     s.captured.Load(),
		Timeouts:     s.timeouts.Load(),
		CursorOnly:   s.cursorOnly.Load(),
		Recoveries:   s.recoveries.Load(),
		LastSequence: s.lastSequence.Load(),
		Target:       s.target,
	}
	if n := s.acquires.Load(); n > 0 {
		snap.AvgAcquire = time.Duration(s.acquireNanos.Load() / n)
	}
	if msg := s.lastError.Load(); msg != nil {
		snap.LastError = *msg
	}
	if started := s.startedAt.Load(); started > 0 {
		running := time.Since(time.Unix(0, started)).Seconds()
		snap.RunningForSec = running
		if running > 0 {
			snap.EffectiveFPS = float64(snap.Captured) / running
		}
	}
	if r, ok := s.enc.(encoder.ProcessReporter); ok {
		if ps, running := r.ProcessStats(context.Background()); running {
			snap.Encoder = &ps
		}
	}
	return snap
}
