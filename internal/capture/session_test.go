package capture_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/deskcap/internal/capture"
	"github.com/jmylchreest/deskcap/internal/capture/capturetest"
)

func testDisplay() capture.Display {
	return capturetest.Displays(1, 64, 36)[0]
}

func openSession(t *testing.T, backend capture.Backend, opts capture.SessionOptions) *capture.Session {
	t.Helper()
	s, err := capture.Open(context.Background(), backend, testDisplay(), opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpen_WrapsBackendErrors(t *testing.T) {
	t.Run("generic failure is device creation", func(t *testing.T) {
		b := capturetest.NewBackend()
		b.OpenErrs = []error{errors.New("adapter query failed")}

		_, err := capture.Open(context.Background(), b, testDisplay(), capture.SessionOptions{})
		require.Error(t, err)
		assert.ErrorIs(t, err, capture.ErrDeviceCreationFailed)
		assert.Contains(t, err.Error(), "adapter query failed")
	})

	t.Run("missing display keeps its sentinel", func(t *testing.T) {
		b := capturetest.NewBackend()
		b.OpenErrs = []error{capture.ErrNoDisplayAttached}

		_, err := capture.Open(context.Background(), b, testDisplay(), capture.SessionOptions{})
		assert.ErrorIs(t, err, capture.ErrNoDisplayAttached)
		assert.NotErrorIs(t, err, capture.ErrDeviceCreationFailed)
	})
}

func TestSession_AcquireAdvancesSequenceByAccumulated(t *testing.T) {
	b := capturetest.NewBackend(
		capturetest.Frame(1),
		capturetest.Frame(1),
		capturetest.Frame(2),
		capturetest.Frame(1),
		capturetest.Frame(1),
	)
	s := openSession(t, b, capture.SessionOptions{})

	var got []uint64
	for range 5 {
		frame, err := s.Acquire(context.Background(), 17*time.Millisecond)
		require.NoError(t, err)
		require.NotNil(t, frame.Surface)
		got = append(got, frame.Sample.Sequence)
	}

	assert.Equal(t, []uint64{1, 2, 4, 5, 6}, got)
	assert.Equal(t, uint64(6), s.Sequence())
}

func TestSession_AcquireReleasesPreviousFrame(t *testing.T) {
	b := capturetest.NewBackend()
	s := openSession(t, b, capture.SessionOptions{})

	_, err := s.Acquire(context.Background(), time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 0, b.Releases())

	// A second acquire without an explicit release must not trip the
	// duplication's outstanding-frame check.
	_, err = s.Acquire(context.Background(), time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 1, b.Releases())

	require.NoError(t, s.Release())
	require.NoError(t, s.Release())
	assert.Equal(t, 2, b.Releases())
}

func TestSession_Timestamps(t *testing.T) {
	b := capturetest.NewBackend(capturetest.Frame(1), capturetest.Frame(1), capturetest.CursorOnly(), capturetest.Frame(3))
	b.Ticks = 16_000_000 // 16ms in nanosecond ticks
	s := openSession(t, b, capture.SessionOptions{})

	first, err := s.Acquire(context.Background(), time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, int64(16_000), first.Sample.PresentationMicros)
	assert.Zero(t, first.Sample.IntervalMicros)

	second, err := s.Acquire(context.Background(), time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, int64(32_000), second.Sample.PresentationMicros)
	assert.Equal(t, int64(16_000), second.Sample.IntervalMicros)

	// Cursor-only updates do not move the interval reference.
	_, err = s.Acquire(context.Background(), time.Millisecond)
	require.ErrorIs(t, err, capture.ErrCursorOnly)

	third, err := s.Acquire(context.Background(), time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, int64(16_000), third.Sample.IntervalMicros)
	assert.Equal(t, uint64(5), third.Sample.Sequence)
}

func TestSession_TickFrequencyOverride(t *testing.T) {
	b := capturetest.NewBackend(capturetest.Frame(1))
	b.Ticks = 10_000_000 // 1s at 10MHz
	s := openSession(t, b, capture.SessionOptions{TickFrequency: 10_000_000})

	frame, err := s.Acquire(context.Background(), time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, int64(1_000_000), frame.Sample.PresentationMicros)
}

func TestSession_Outcomes(t *testing.T) {
	tests := []struct {
		name      string
		step      capturetest.Step
		kind      capture.Kind
		sentinel  error
		stayValid bool
	}{
		{"timeout", capturetest.Timeout(), capture.KindTimeout, capture.ErrTimeout, true},
		{"cursor only", capturetest.CursorOnly(), capture.KindCursorOnly, capture.ErrCursorOnly, true},
		{"access lost", capturetest.AccessLost(), capture.KindAccessLost, capture.ErrAccessLost, false},
		{"invalid call", capturetest.Fail(capture.ErrInvalidState), capture.KindInvalidState, capture.ErrInvalidState, false},
		{"unexpected", capturetest.Fail(errors.New("device hung")), capture.KindFailed, nil, false},
		{"null surface", capturetest.Step{Info: capture.FrameInfo{AccumulatedFrames: 1}, NilSurface: true}, capture.KindFailed, capture.ErrNullSurface, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := capturetest.NewBackend(tt.step)
			s := openSession(t, b, capture.SessionOptions{})

			frame, err := s.Acquire(context.Background(), time.Millisecond)
			require.Error(t, err)
			assert.Nil(t, frame.Surface)
			assert.Equal(t, tt.kind, capture.Classify(err))
			if tt.sentinel != nil {
				assert.ErrorIs(t, err, tt.sentinel)
			}

			var acqErr *capture.AcquireError
			require.ErrorAs(t, err, &acqErr)
			assert.Equal(t, 0, acqErr.Display)
			assert.Equal(t, tt.stayValid, s.Valid())
		})
	}
}

func TestSession_CursorOnlyReportsSample(t *testing.T) {
	b := capturetest.NewBackend(capturetest.Frame(2), capturetest.CursorOnly())
	s := openSession(t, b, capture.SessionOptions{FirstSequence: 10})

	_, err := s.Acquire(context.Background(), time.Millisecond)
	require.NoError(t, err)

	frame, err := s.Acquire(context.Background(), time.Millisecond)
	require.ErrorIs(t, err, capture.ErrCursorOnly)
	assert.True(t, frame.Sample.CursorOnly)
	assert.Equal(t, uint64(12), frame.Sample.Sequence)
	assert.Equal(t, int64(1), frame.Sample.MouseUpdateTicks)
	// The cursor-only frame is released straight away.
	assert.Equal(t, 2, b.Releases())
}

func TestSession_InvalidAfterAccessLost(t *testing.T) {
	b := capturetest.NewBackend(capturetest.AccessLost())
	s := openSession(t, b, capture.SessionOptions{})

	_, err := s.Acquire(context.Background(), time.Millisecond)
	require.ErrorIs(t, err, capture.ErrAccessLost)

	before := b.Acquires()
	_, err = s.Acquire(context.Background(), time.Millisecond)
	require.ErrorIs(t, err, capture.ErrSessionInvalid)
	assert.Equal(t, capture.KindFailed, capture.Classify(err))
	assert.Equal(t, before, b.Acquires(), "an invalid session must not reach the duplication")
}

func TestSession_CloseIsIdempotent(t *testing.T) {
	b := capturetest.NewBackend()
	s, err := capture.Open(context.Background(), b, testDisplay(), capture.SessionOptions{})
	require.NoError(t, err)

	_, err = s.Acquire(context.Background(), time.Millisecond)
	require.NoError(t, err)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.Equal(t, 1, b.Closes())
	assert.Equal(t, 1, b.Releases())

	_, err = s.Acquire(context.Background(), time.Millisecond)
	assert.ErrorIs(t, err, capture.ErrSessionClosed)
}

func TestSession_Resolution(t *testing.T) {
	b := capturetest.NewBackend()
	b.Width, b.Height = 1920, 1080
	s := openSession(t, b, capture.SessionOptions{})

	w, h := s.Resolution()
	assert.Equal(t, 1920, w)
	assert.Equal(t, 1080, h)
}

func TestTicksToMicros(t *testing.T) {
	tests := []struct {
		ticks, freq, want int64
	}{
		{0, 10_000_000, 0},
		{10_000_000, 10_000_000, 1_000_000},
		{15, 10_000_000, 1},
		{1_000, 1_000_000_000, 1},
		{9_223_372_036_854_775_000, 1_000_000_000, 9_223_372_036_854_775},
		{100, 0, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, capture.TicksToMicros(tt.ticks, tt.freq), "ticks=%d freq=%d", tt.ticks, tt.freq)
	}
}
