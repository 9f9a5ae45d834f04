package capture

import (
	"math"
	"time"
)

// DefaultTargetInterval is the per-tick budget used when no frame rate is
// configured (roughly 60 Hz).
const DefaultTargetInterval = 17 * time.Millisecond

// Pacer derives the next acquisition wait from the time the previous tick
// consumed, so that ticks stay close to Target apart.
type Pacer struct {
	Target time.Duration
}

// NewPacer returns a Pacer for target. Non-positive targets use
// DefaultTargetInterval.
func NewPacer(target time.Duration) Pacer {
	if target <= 0 {
		target = DefaultTargetInterval
	}
	return Pacer{Target: target}
}

// IntervalForFPS returns the per-tick budget for fps, rounded to whole
// milliseconds.
func IntervalForFPS(fps float64) time.Duration {
	if fps <= 0 {
		return DefaultTargetInterval
	}
	ms := math.Round(1000 / fps)
	if ms < 1 {
		ms = 1
	}
	return time.Duration(ms) * time.Millisecond
}

// WaitMillis returns max(0, targetMillis - elapsedMicros/1000).
func (p Pacer) WaitMillis(elapsed time.Duration) int64 {
	if elapsed < 0 {
		elapsed = 0
	}
	wait := p.Target.Milliseconds() - elapsed.Microseconds()/1000
	if wait < 0 {
		return 0
	}
	return wait
}

// NextWait returns WaitMillis as a duration.
func (p Pacer) NextWait(elapsed time.Duration) time.Duration {
	return time.Duration(p.WaitMillis(elapsed)) * time.Millisecond
}
