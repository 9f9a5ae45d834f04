// Package diagnostics collects per-tick capture records for offline timing
// analysis.
package diagnostics

import (
	"context"
	"errors"
	"time"

	"github.com/jmylchreest/deskcap/internal/capture"
)

// Record is one capture tick as seen by diagnostics.
type Record struct {
	RunID              string    `json:"run_id"`
	DisplayIndex       int       `json:"display"`
	Sequence           uint64    `json:"sequence"`
	AccumulatedFrames  uint32    `json:"accumulated"`
	PresentationMicros int64     `json:"pts_us"`
	IntervalMicros     int64     `json:"interval_us"`
	CursorOnly         bool      `json:"cursor_only"`
	MouseUpdateTicks   int64     `json:"mouse_ticks,omitempty"`
	CapturedAt         time.Time `json:"captured_at"`
}

// NewRecord builds a Record from a frame sample.
func NewRecord(runID string, display int, sample capture.FrameSample, at time.Time) Record {
	return Record{
		RunID:              runID,
		DisplayIndex:       display,
		Sequence:           sample.Sequence,
		AccumulatedFrames:  sample.AccumulatedFrames,
		PresentationMicros: sample.PresentationMicros,
		IntervalMicros:     sample.IntervalMicros,
		CursorOnly:         sample.CursorOnly,
		MouseUpdateTicks:   sample.MouseUpdateTicks,
		CapturedAt:         at,
	}
}

// Sink receives diagnostics records. Record is called from every capture loop
// concurrently and must not block for long; implementations are safe for
// concurrent use.
type Sink interface {
	Record(ctx context.Context, rec Record)
	Close() error
}

// Discard is a Sink that drops everything.
var Discard Sink = discard{}

type discard struct{}

func (discard) Record(context.Context, Record) {}
func (discard) Close() error                   { return nil }

// Multi fans records out to several sinks.
func Multi(sinks ...Sink) Sink {
	out := make(multi, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

type multi []Sink

func (m multi) Record(ctx context.Context, rec Record) {
	for _, s := range m {
		s.Record(ctx, rec)
	}
}

func (m multi) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
