package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmylchreest/deskcap/internal/capture"
	"github.com/jmylchreest/deskcap/internal/diagnostics"
	"github.com/jmylchreest/deskcap/internal/encoder"
)

// LoopConfig is the read-only configuration every display loop shares.
type LoopConfig struct {
	// Frames is the number of frames to hand to the encoder before exiting.
	Frames int
	// Pacer derives each acquisition wait.
	Pacer capture.Pacer
	// EagerRetry acquires once immediately after a successful recovery.
	EagerRetry bool
	// FrameRate is passed to the encoder on init.
	FrameRate float64
	// TickFrequency overrides the backend's timestamp frequency when > 0.
	TickFrequency int64
}

// loop is the capture loop for one display. All of its fields are owned by
// the goroutine running it.
type loop struct {
	runID   string
	display capture.Display
	backend capture.Backend
	enc     encoder.Encoder
	sink    diagnostics.Sink
	clock   capture.Clock
	cfg     LoopConfig
	logger  *slog.Logger
	stats   *DisplayStats

	session    *capture.Session
	encFormat  encoder.Format
	pacing     PacingState
	recovery   RecoveryState
	pending    error
	lastSeq    uint64
	recoveries int
}

// run drives the loop until the frame count is reached, the loop fails, or
// ctx is cancelled. Cancellation is only observed between ticks.
func (l *loop) run(ctx context.Context) Result {
	work := context.WithoutCancel(ctx)
	l.stats.startedAt.Store(time.Now().UnixNano())

	if err := l.openSession(work); err != nil {
		return l.finish(StateFailed, fmt.Errorf("opening session: %w", err))
	}
	if err := l.matchEncoder(work); err != nil {
		return l.finish(StateFailed, err)
	}

	for !l.done() {
		if err := ctx.Err(); err != nil {
			return l.finish(StateStopped, err)
		}

		start := l.clock.Now()
		l.pacing.tickStart = start
		l.pacing.Wait = l.cfg.Pacer.NextWait(l.pacing.lastTick)

		if err := l.tick(work); err != nil {
			return l.finish(StateFailed, err)
		}

		l.pacing.lastTick = l.clock.Now().Sub(start)
		l.logger.Debug("tick complete",
			slog.Duration("took", l.pacing.lastTick),
			slog.Duration("wait", l.pacing.Wait),
			slog.Int("captured", l.pacing.Captured),
		)
	}

	return l.finish(StateTerminated, nil)
}

func (l *loop) tick(ctx context.Context) error {
	if l.pending == nil {
		l.setState(StateCapturing)
		if err := l.acquire(ctx); err != nil {
			return err
		}
	}
	if l.pending != nil {
		if l.done() {
			// The last frame reached the encoder; finish closes the session.
			l.logger.Debug("session lost after final frame", slog.String("error", l.pending.Error()))
			l.pending = nil
			return nil
		}
		return l.recover(ctx)
	}
	return nil
}

// done reports whether the loop has handed the configured number of frames
// to the encoder.
func (l *loop) done() bool {
	return l.pacing.Captured >= l.cfg.Frames
}

// acquire performs one acquisition and handles its outcome. Session-ending
// outcomes are parked in l.pending; only fatal errors are returned.
func (l *loop) acquire(ctx context.Context) error {
	start := time.Now()
	frame, err := l.session.Acquire(ctx, l.pacing.Wait)
	l.stats.observeAcquire(time.Since(start))

	switch kind := capture.Classify(err); kind {
	case capture.KindNone:
		l.recovery.reset()
		return l.process(ctx, frame)
	case capture.KindTimeout:
		l.stats.timeouts.Add(1)
		return nil
	case capture.KindCursorOnly:
		l.stats.cursorOnly.Add(1)
		l.record(ctx, frame.Sample)
		return nil
	default:
		l.pending = err
		return nil
	}
}

func (l *loop) process(ctx context.Context, frame capture.Frame) error {
	l.record(ctx, frame.Sample)
	l.lastSeq = frame.Sample.Sequence
	l.stats.lastSequence.Store(l.lastSeq)

	l.setState(StateProcessing)
	err := l.enc.Preprocess(ctx, frame.Surface)
	relErr := l.session.Release()
	if err != nil {
		return fmt.Errorf("preprocessing frame %d: %w", frame.Sample.Sequence, err)
	}

	l.pacing.Captured++
	l.stats.captured.Add(1)
	if relErr != nil {
		l.pending = relErr
	}
	return nil
}

// recover replaces the session after a session-ending outcome and
// re-initialises the encoder for it.
func (l *loop) recover(ctx context.Context) error {
	cause := l.pending
	l.pending = nil

	l.setState(StateRecovering)
	l.recovery.fail(cause)
	l.recoveries++
	l.stats.recoveries.Add(1)
	l.stats.setError(cause)
	l.logger.Warn("capture session lost, recovering",
		slog.String("kind", l.recovery.LastKind.String()),
		slog.Int("consecutive_failures", l.recovery.ConsecutiveFailures),
		slog.Uint64("last_sequence", l.lastSeq),
		slog.String("error", cause.Error()),
	)

	l.closeSession()
	if err := l.openSession(ctx); err != nil {
		return fmt.Errorf("reopening session: %w", err)
	}
	if err := l.reinitEncoder(ctx, l.format()); err != nil {
		return err
	}

	l.setState(StateCapturing)
	if !l.cfg.EagerRetry || l.done() {
		return nil
	}
	// The new session has nothing outstanding, so one immediate acquisition
	// cannot trip the single-outstanding-frame rule.
	return l.acquire(ctx)
}

// matchEncoder re-initialises the encoder when the opened session reports a
// different resolution from the one the encoder was started with.
func (l *loop) matchEncoder(ctx context.Context) error {
	f := l.format()
	if f == l.encFormat {
		return nil
	}
	l.logger.Info("session resolution differs from enumeration, re-initializing encoder",
		slog.Int("width", f.Width),
		slog.Int("height", f.Height),
		slog.Int("enumerated_width", l.encFormat.Width),
		slog.Int("enumerated_height", l.encFormat.Height),
	)
	return l.reinitEncoder(ctx, f)
}

func (l *loop) reinitEncoder(ctx context.Context, f encoder.Format) error {
	if err := l.enc.Cleanup(true); err != nil {
		l.logger.Warn("encoder cleanup before re-init failed", slog.String("error", err.Error()))
	}
	if err := l.enc.Init(ctx, f); err != nil {
		return fmt.Errorf("reinitializing encoder: %w", err)
	}
	l.encFormat = f
	return nil
}

func (l *loop) openSession(ctx context.Context) error {
	s, err := capture.Open(ctx, l.backend, l.display, capture.SessionOptions{
		TickFrequency: l.cfg.TickFrequency,
		FirstSequence: l.lastSeq,
	})
	if err != nil {
		return err
	}
	l.session = s
	return nil
}

func (l *loop) closeSession() {
	if l.session == nil {
		return
	}
	if err := l.session.Close(); err != nil {
		l.logger.Debug("closing capture session", slog.String("error", err.Error()))
	}
	l.session = nil
}

func (l *loop) format() encoder.Format {
	w, h := l.display.Width(), l.display.Height()
	if l.session != nil {
		if sw, sh := l.session.Resolution(); sw > 0 && sh > 0 {
			w, h = sw, sh
		}
	}
	return encoder.Format{Width: w, Height: h, FrameRate: l.cfg.FrameRate}
}

func (l *loop) record(ctx context.Context, sample capture.FrameSample) {
	l.sink.Record(ctx, diagnostics.NewRecord(l.runID, l.display.Index, sample, time.Now()))
}

func (l *loop) setState(s LoopState) {
	l.stats.setState(s)
}

// finish releases the session and encoder and builds the terminal result.
func (l *loop) finish(state LoopState, err error) Result {
	l.closeSession()

	force := state == StateFailed
	if cerr := l.enc.Cleanup(force); cerr != nil {
		l.logger.Error("encoder cleanup failed", slog.Bool("force", force), slog.String("error", cerr.Error()))
		if state == StateTerminated {
			err = errors.Join(err, fmt.Errorf("finalizing encoder: %w", cerr))
		}
	}

	l.setState(state)
	if err != nil {
		l.stats.setError(err)
	}

	attrs := []any{
		slog.String("state", state.String()),
		slog.Int("captured", l.pacing.Captured),
		slog.Int("recoveries", l.recoveries),
		slog.Uint64("last_sequence", l.lastSeq),
	}
	switch {
	case state == StateFailed:
		l.logger.Error("display loop finished", append(attrs, slog.String("error", err.Error()))...)
	case err != nil && !errors.Is(err, context.Canceled):
		l.logger.Warn("display loop finished", append(attrs, slog.String("error", err.Error()))...)
	default:
		l.logger.Info("display loop finished", attrs...)
	}

	return Result{
		Display:      l.display,
		State:        state,
		Captured:     l.pacing.Captured,
		Recoveries:   l.recoveries,
		LastSequence: l.lastSeq,
		Err:          err,
	}
}
