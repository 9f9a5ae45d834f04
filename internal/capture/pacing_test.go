package capture

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPacer_WaitMillis(t *testing.T) {
	p := NewPacer(17 * time.Millisecond)

	tests := []struct {
		elapsed time.Duration
		want    int64
	}{
		{0, 17},
		{999 * time.Microsecond, 17},
		{1 * time.Millisecond, 16},
		{5500 * time.Microsecond, 12},
		{17 * time.Millisecond, 0},
		{40 * time.Millisecond, 0},
		{-3 * time.Millisecond, 17},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, p.WaitMillis(tt.elapsed), "elapsed=%s", tt.elapsed)
		assert.Equal(t, time.Duration(tt.want)*time.Millisecond, p.NextWait(tt.elapsed))
	}
}

func TestPacer_MonotonicAndBounded(t *testing.T) {
	for _, target := range []time.Duration{time.Millisecond, 16 * time.Millisecond, 17 * time.Millisecond, 33 * time.Millisecond} {
		p := NewPacer(target)
		prev := p.WaitMillis(0)
		for us := int64(0); us <= 2*target.Microseconds(); us += 37 {
			got := p.WaitMillis(time.Duration(us) * time.Microsecond)
			assert.GreaterOrEqual(t, got, int64(0))
			assert.LessOrEqual(t, got, target.Milliseconds())
			assert.LessOrEqual(t, got, prev, "wait grew at %dus for target %s", us, target)
			prev = got
		}
	}
}

func TestNewPacer_Default(t *testing.T) {
	assert.Equal(t, DefaultTargetInterval, NewPacer(0).Target)
	assert.Equal(t, DefaultTargetInterval, NewPacer(-time.Second).Target)
}

func TestIntervalForFPS(t *testing.T) {
	assert.Equal(t, 17*time.Millisecond, IntervalForFPS(60))
	assert.Equal(t, 33*time.Millisecond, IntervalForFPS(30))
	assert.Equal(t, 8*time.Millisecond, IntervalForFPS(120))
	assert.Equal(t, time.Millisecond, IntervalForFPS(5000))
	assert.Equal(t, DefaultTargetInterval, IntervalForFPS(0))
}

func TestKind(t *testing.T) {
	assert.True(t, KindTimeout.Liveness())
	assert.True(t, KindCursorOnly.Liveness())
	assert.False(t, KindAccessLost.Liveness())

	for _, k := range []Kind{KindAccessLost, KindInvalidState, KindFailed} {
		assert.True(t, k.SessionEnding(), k.String())
	}
	for _, k := range []Kind{KindNone, KindTimeout, KindCursorOnly} {
		assert.False(t, k.SessionEnding(), k.String())
	}
	assert.Equal(t, "access_lost", KindAccessLost.String())
	assert.Equal(t, "kind(42)", Kind(42).String())
}

func TestClassify(t *testing.T) {
	assert.Equal(t, KindNone, Classify(nil))
	assert.Equal(t, KindTimeout, Classify(ErrTimeout))
	assert.Equal(t, KindAccessLost, Classify(&AcquireError{Kind: KindAccessLost, Err: ErrAccessLost}))
	assert.Equal(t, KindFailed, Classify(assert.AnError))
}
