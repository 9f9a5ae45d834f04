package screen

import (
	"context"
	"errors"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/deskcap/internal/capture"
)

// fakeScreen is a scripted platform. Each capture returns the next frame
// value; the last value repeats.
type fakeScreen struct {
	mu      sync.Mutex
	rects   []image.Rectangle
	values  []byte
	calls   int
	failErr error
}

func (f *fakeScreen) platform() platform {
	return platform{
		numDisplays: func() int {
			f.mu.Lock()
			defer f.mu.Unlock()
			return len(f.rects)
		},
		bounds: func(i int) image.Rectangle {
			f.mu.Lock()
			defer f.mu.Unlock()
			if i >= len(f.rects) {
				return image.Rectangle{}
			}
			return f.rects[i]
		},
		captureRect: func(r image.Rectangle) (*image.RGBA, error) {
			f.mu.Lock()
			defer f.mu.Unlock()
			if f.failErr != nil {
				return nil, f.failErr
			}
			v := f.values[min(f.calls, len(f.values)-1)]
			f.calls++
			img := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
			for i := range img.Pix {
				img.Pix[i] = v
			}
			return img, nil
		},
	}
}

func newFakeBackend(f *fakeScreen) *Backend {
	b := NewBackend(time.Millisecond)
	b.os = f.platform()
	return b
}

func TestEnumerator(t *testing.T) {
	f := &fakeScreen{rects: []image.Rectangle{image.Rect(0, 0, 1920, 1080), image.Rect(1920, 0, 3200, 1024)}}
	e := &Enumerator{os: f.platform()}

	displays, err := e.Enumerate(context.Background())
	require.NoError(t, err)
	require.Len(t, displays, 2)
	assert.Equal(t, 0, displays[0].Index)
	assert.Equal(t, 1280, displays[1].Width())
	assert.Equal(t, 1024, displays[1].Height())
	assert.Equal(t, "screen 1 at 1920,0", displays[1].Name)

	f.rects = nil
	displays, err = e.Enumerate(context.Background())
	require.NoError(t, err)
	assert.Empty(t, displays)

	f.rects = []image.Rectangle{{}}
	_, err = e.Enumerate(context.Background())
	assert.Error(t, err)
}

func TestBackend_Open(t *testing.T) {
	f := &fakeScreen{rects: []image.Rectangle{image.Rect(0, 0, 4, 2)}, values: []byte{1}}
	b := newFakeBackend(f)

	dup, err := b.Open(context.Background(), capture.Display{Index: 0})
	require.NoError(t, err)
	w, h := dup.Resolution()
	assert.Equal(t, 4, w)
	assert.Equal(t, 2, h)

	_, err = b.Open(context.Background(), capture.Display{Index: 3})
	assert.ErrorIs(t, err, capture.ErrNoDisplayAttached)
	assert.Equal(t, int64(time.Second), b.TickFrequency())
}

func TestBackend_ReportsChangesOnly(t *testing.T) {
	f := &fakeScreen{rects: []image.Rectangle{image.Rect(0, 0, 4, 2)}, values: []byte{1, 1, 1, 2}}
	b := newFakeBackend(f)
	ctx := context.Background()

	dup, err := b.Open(ctx, capture.Display{Index: 0})
	require.NoError(t, err)

	info, surface, err := dup.AcquireNextFrame(ctx, 0)
	require.NoError(t, err, "first capture is always a frame")
	assert.Equal(t, uint32(1), info.AccumulatedFrames)
	assert.NotZero(t, info.LastPresentTime)
	assert.Equal(t, image.Rect(0, 0, 4, 2), surface.Bounds())

	_, _, err = dup.AcquireNextFrame(ctx, 0)
	assert.ErrorIs(t, err, capture.ErrInvalidState, "frame still outstanding")
	require.NoError(t, dup.ReleaseFrame())

	_, _, err = dup.AcquireNextFrame(ctx, 0)
	assert.ErrorIs(t, err, capture.ErrTimeout, "unchanged screen with no wait")

	info, surface, err = dup.AcquireNextFrame(ctx, time.Second)
	require.NoError(t, err, "polls until the pixels change")
	assert.Equal(t, byte(2), surface.RGBA().Pix[0])
	assert.Equal(t, uint32(1), info.AccumulatedFrames)
	require.NoError(t, dup.ReleaseFrame())
	assert.ErrorIs(t, dup.ReleaseFrame(), capture.ErrInvalidState)
}

func TestBackend_AccessLost(t *testing.T) {
	ctx := context.Background()

	t.Run("bounds change", func(t *testing.T) {
		f := &fakeScreen{rects: []image.Rectangle{image.Rect(0, 0, 4, 2)}, values: []byte{1}}
		dup, err := newFakeBackend(f).Open(ctx, capture.Display{Index: 0})
		require.NoError(t, err)

		f.rects[0] = image.Rect(0, 0, 8, 4)
		_, _, err = dup.AcquireNextFrame(ctx, 0)
		assert.ErrorIs(t, err, capture.ErrAccessLost)
	})

	t.Run("display removed", func(t *testing.T) {
		f := &fakeScreen{rects: []image.Rectangle{image.Rect(0, 0, 4, 2)}, values: []byte{1}}
		dup, err := newFakeBackend(f).Open(ctx, capture.Display{Index: 0})
		require.NoError(t, err)

		f.rects = nil
		_, _, err = dup.AcquireNextFrame(ctx, 0)
		assert.ErrorIs(t, err, capture.ErrAccessLost)
	})

	t.Run("capture error", func(t *testing.T) {
		f := &fakeScreen{rects: []image.Rectangle{image.Rect(0, 0, 4, 2)}, values: []byte{1}, failErr: errors.New("xgb: connection closed")}
		dup, err := newFakeBackend(f).Open(ctx, capture.Display{Index: 0})
		require.NoError(t, err)

		_, _, err = dup.AcquireNextFrame(ctx, 0)
		assert.ErrorIs(t, err, capture.ErrAccessLost)
		assert.Contains(t, err.Error(), "connection closed")
	})

	t.Run("closed", func(t *testing.T) {
		f := &fakeScreen{rects: []image.Rectangle{image.Rect(0, 0, 4, 2)}, values: []byte{1}}
		dup, err := newFakeBackend(f).Open(ctx, capture.Display{Index: 0})
		require.NoError(t, err)
		require.NoError(t, dup.Close())

		_, _, err = dup.AcquireNextFrame(ctx, 0)
		assert.ErrorIs(t, err, capture.ErrAccessLost)
	})
}

// fakeTime is a manual clock whose sleep advances time.
type fakeTime struct {
	now time.Time
}

func (c *fakeTime) Now() time.Time { return c.now }

func (c *fakeTime) Sleep(_ context.Context, d time.Duration) error {
	c.now = c.now.Add(d)
	return nil
}

func newTestSynthetic(t *testing.T, opts SyntheticOptions) (*Synthetic, *fakeTime) {
	t.Helper()
	if opts.Displays == 0 {
		opts.Displays = 1
	}
	if opts.Width == 0 {
		opts.Width, opts.Height = 16, 8
	}
	if opts.RefreshRate == 0 {
		opts.RefreshRate = 50 // 20ms period
	}
	s, err := NewSynthetic(opts)
	require.NoError(t, err)
	clock := &fakeTime{now: time.Unix(1000, 0)}
	s.now = clock.Now
	s.sleep = clock.Sleep
	return s, clock
}

func TestNewSynthetic_Validation(t *testing.T) {
	_, err := NewSynthetic(SyntheticOptions{Displays: 0, Width: 4, Height: 4, RefreshRate: 60})
	assert.Error(t, err)
	_, err = NewSynthetic(SyntheticOptions{Displays: 1, Width: 1, Height: 4, RefreshRate: 60})
	assert.Error(t, err)
	_, err = NewSynthetic(SyntheticOptions{Displays: 1, Width: 4, Height: 4})
	assert.Error(t, err)
}

func TestSynthetic_Enumerate(t *testing.T) {
	s, _ := newTestSynthetic(t, SyntheticOptions{Displays: 3, Width: 16, Height: 8})
	displays, err := s.Enumerate(context.Background())
	require.NoError(t, err)
	require.Len(t, displays, 3)
	assert.Equal(t, image.Rect(32, 0, 48, 8), displays[2].Bounds)

	_, err = s.Open(context.Background(), capture.Display{Index: 3})
	assert.ErrorIs(t, err, capture.ErrNoDisplayAttached)
}

func TestSynthetic_RefreshAccounting(t *testing.T) {
	s, clock := newTestSynthetic(t, SyntheticOptions{})
	ctx := context.Background()

	dup, err := s.Open(ctx, capture.Display{Index: 0})
	require.NoError(t, err)

	info, surface, err := dup.AcquireNextFrame(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), info.AccumulatedFrames)
	assert.Equal(t, time.Unix(1000, 0).UnixNano(), info.LastPresentTime)
	assert.Equal(t, image.Rect(0, 0, 16, 8), surface.Bounds())
	require.NoError(t, dup.ReleaseFrame())

	// Next refresh is 20ms away: a 5ms wait times out.
	_, _, err = dup.AcquireNextFrame(ctx, 5*time.Millisecond)
	assert.ErrorIs(t, err, capture.ErrTimeout)

	// A long enough wait blocks until the refresh.
	info, _, err = dup.AcquireNextFrame(ctx, 17*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), info.AccumulatedFrames)
	assert.Equal(t, time.Unix(1000, 0).Add(20*time.Millisecond).UnixNano(), info.LastPresentTime)
	require.NoError(t, dup.ReleaseFrame())

	// Three refreshes elapse without an acquisition.
	clock.now = clock.now.Add(60 * time.Millisecond)
	info, _, err = dup.AcquireNextFrame(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), info.AccumulatedFrames)
	require.NoError(t, dup.ReleaseFrame())
}

func TestSynthetic_Injection(t *testing.T) {
	s, clock := newTestSynthetic(t, SyntheticOptions{CursorOnlyEvery: 2, AccessLostEvery: 3})
	ctx := context.Background()

	dup, err := s.Open(ctx, capture.Display{Index: 0})
	require.NoError(t, err)

	_, _, err = dup.AcquireNextFrame(ctx, 0)
	require.NoError(t, err)
	require.NoError(t, dup.ReleaseFrame())

	clock.now = clock.now.Add(20 * time.Millisecond)
	info, surface, err := dup.AcquireNextFrame(ctx, 0)
	require.NoError(t, err)
	assert.Nil(t, surface, "cursor-only update has no image")
	assert.Zero(t, info.AccumulatedFrames)
	assert.NotZero(t, info.LastMouseUpdateTime)
	require.NoError(t, dup.ReleaseFrame())

	_, _, err = dup.AcquireNextFrame(ctx, 0)
	assert.ErrorIs(t, err, capture.ErrAccessLost)
	_, _, err = dup.AcquireNextFrame(ctx, 0)
	assert.ErrorIs(t, err, capture.ErrAccessLost, "a revoked handle stays revoked")
}

func TestSynthetic_ThroughSession(t *testing.T) {
	s, clock := newTestSynthetic(t, SyntheticOptions{})
	ctx := context.Background()

	session, err := capture.Open(ctx, s, capture.Display{Index: 0}, capture.SessionOptions{})
	require.NoError(t, err)
	defer session.Close()

	var sequences []uint64
	for range 3 {
		frame, err := session.Acquire(ctx, 20*time.Millisecond)
		require.NoError(t, err)
		sequences = append(sequences, frame.Sample.Sequence)
	}
	clock.now = clock.now.Add(40 * time.Millisecond)
	frame, err := session.Acquire(ctx, 0)
	require.NoError(t, err)
	sequences = append(sequences, frame.Sample.Sequence)

	assert.Equal(t, []uint64{1, 2, 3, 5}, sequences)
	assert.Equal(t, int64(40000), frame.Sample.IntervalMicros, "two refreshes since the previous frame")
}
