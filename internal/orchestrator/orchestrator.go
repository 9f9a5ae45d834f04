package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"

	"github.com/jmylchreest/deskcap/internal/capture"
	"github.com/jmylchreest/deskcap/internal/diagnostics"
	"github.com/jmylchreest/deskcap/internal/encoder"
	"github.com/jmylchreest/deskcap/internal/observability"
)

// ErrNoDisplays is returned when enumeration finds nothing to capture.
var ErrNoDisplays = errors.New("no displays found")

// Config configures a capture run.
type Config struct {
	// RunID identifies the run in diagnostics; generated when empty.
	RunID string
	// Frames per display.
	Frames int
	// Interval is the pacing target per tick.
	Interval time.Duration
	// FrameRate is the nominal encoder frame rate; derived from Interval when zero.
	FrameRate float64
	// EagerRetry acquires once immediately after a recovery.
	EagerRetry bool
	// Displays restricts the run to these enumeration indexes. Empty means all.
	Displays []int
	// TickFrequency overrides the backend timestamp frequency when > 0.
	TickFrequency int64
}

// Deps are the collaborators of a run.
type Deps struct {
	Enumerator capture.Enumerator
	Backend    capture.Backend
	Encoders   encoder.Factory
	Sink       diagnostics.Sink
	Clock      capture.Clock
	Logger     *slog.Logger
}

// Orchestrator runs one independent capture loop per display.
type Orchestrator struct {
	cfg    Config
	deps   Deps
	logger *slog.Logger
	stats  atomic.Pointer[[]*DisplayStats]
}

// New validates cfg and deps and returns an Orchestrator.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	if cfg.Frames < 1 {
		return nil, fmt.Errorf("frames must be at least 1, got %d", cfg.Frames)
	}
	if deps.Enumerator == nil {
		return nil, errors.New("enumerator is required")
	}
	if deps.Backend == nil {
		return nil, errors.New("capture backend is required")
	}
	if deps.Encoders == nil {
		return nil, errors.New("encoder factory is required")
	}
	if deps.Sink == nil {
		deps.Sink = diagnostics.Discard
	}
	if deps.Clock == nil {
		deps.Clock = capture.SystemClock{}
	}
	if deps.Logger == nil {
		deps.Logger = observability.Discard()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = capture.DefaultTargetInterval
	}
	if cfg.FrameRate <= 0 {
		cfg.FrameRate = 1 / cfg.Interval.Seconds()
	}
	if cfg.RunID == "" {
		cfg.RunID = ulid.Make().String()
	}

	return &Orchestrator{
		cfg:    cfg,
		deps:   deps,
		logger: observability.WithRunID(observability.WithComponent(deps.Logger, "orchestrator"), cfg.RunID),
	}, nil
}

// RunID returns the identifier of the run.
func (o *Orchestrator) RunID() string { return o.cfg.RunID }

// Run enumerates displays, initialises one encoder per display and runs the
// capture loops to completion. Enumeration and initial encoder failures abort
// the run before any loop starts and are returned as errors; per-display
// outcomes are reported in the Report.
func (o *Orchestrator) Run(ctx context.Context) (*Report, error) {
	report := &Report{RunID: o.cfg.RunID, Started: time.Now()}

	all, err := o.deps.Enumerator.Enumerate(ctx)
	if err != nil {
		return nil, fmt.Errorf("enumerating displays: %w", err)
	}
	if len(all) == 0 {
		return nil, ErrNoDisplays
	}
	displays, err := SelectDisplays(all, o.cfg.Displays)
	if err != nil {
		return nil, err
	}
	for _, d := range displays {
		o.logger.Info("display found",
			slog.Int("display", d.Index),
			slog.String("name", d.Name),
			slog.Int("width", d.Width()),
			slog.Int("height", d.Height()),
		)
	}

	encoders, err := o.initEncoders(ctx, displays)
	if err != nil {
		return nil, err
	}

	stats := make([]*DisplayStats, len(displays))
	for i, d := range displays {
		stats[i] = newDisplayStats(d, o.cfg.Interval)
		stats[i].enc = encoders[i]
	}
	o.stats.Store(&stats)

	loopCfg := LoopConfig{
		Frames:        o.cfg.Frames,
		Pacer:         capture.NewPacer(o.cfg.Interval),
		EagerRetry:    o.cfg.EagerRetry,
		FrameRate:     o.cfg.FrameRate,
		TickFrequency: o.cfg.TickFrequency,
	}

	results := make([]Result, len(displays))
	// No derived context: one display failing must not stop the others.
	var g errgroup.Group
	for i, d := range displays {
		l := &loop{
			runID:     o.cfg.RunID,
			display:   d,
			backend:   o.deps.Backend,
			enc:       encoders[i],
			encFormat: o.displayFormat(d),
			sink:      o.deps.Sink,
			clock:     o.deps.Clock,
			cfg:       loopCfg,
			logger:    observability.WithDisplay(o.logger, d.Index),
			stats:     stats[i],
		}
		g.Go(func() error {
			results[i] = l.run(ctx)
			if results[i].State == StateFailed {
				return fmt.Errorf("display %d: %w", d.Index, results[i].Err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		o.logger.Warn("at least one display loop failed", slog.String("first_error", err.Error()))
	}

	report.Results = results
	report.Finished = time.Now()
	return report, nil
}

func (o *Orchestrator) initEncoders(ctx context.Context, displays []capture.Display) ([]encoder.Encoder, error) {
	encoders := make([]encoder.Encoder, 0, len(displays))
	abort := func() {
		for _, enc := range encoders {
			_ = enc.Cleanup(true)
		}
	}

	for _, d := range displays {
		enc, err := o.deps.Encoders(d)
		if err != nil {
			abort()
			return nil, fmt.Errorf("creating encoder for %s: %w", d, err)
		}
		if err := enc.Init(ctx, o.displayFormat(d)); err != nil {
			abort()
			return nil, fmt.Errorf("initializing %s encoder for %s: %w", enc.Name(), d, err)
		}
		encoders = append(encoders, enc)
	}
	return encoders, nil
}

// displayFormat is the encoder format derived from the enumerated bounds. A
// loop re-initialises its encoder if the opened session reports otherwise.
func (o *Orchestrator) displayFormat(d capture.Display) encoder.Format {
	return encoder.Format{Width: d.Width(), Height: d.Height(), FrameRate: o.cfg.FrameRate}
}

// Stats returns live snapshots for every display of the current run, or nil
// before the loops have started.
func (o *Orchestrator) Stats() []DisplaySnapshot {
	p := o.stats.Load()
	if p == nil {
		return nil
	}
	out := make([]DisplaySnapshot, len(*p))
	for i, s := range *p {
		out[i] = s.Snapshot()
	}
	return out
}

// SelectDisplays narrows all to the requested indexes, preserving enumeration
// order. An empty request selects every display.
func SelectDisplays(all []capture.Display, indexes []int) ([]capture.Display, error) {
	if len(indexes) == 0 {
		return all, nil
	}
	var out []capture.Display
	for _, idx := range indexes {
		if !slices.ContainsFunc(all, func(d capture.Display) bool { return d.Index == idx }) {
			return nil, fmt.Errorf("display %d not found (%d displays available)", idx, len(all))
		}
	}
	for _, d := range all {
		if slices.Contains(indexes, d.Index) {
			out = append(out, d)
		}
	}
	return out, nil
}
