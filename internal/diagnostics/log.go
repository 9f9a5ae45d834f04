package diagnostics

import (
	"context"
	"log/slog"
)

// LogSink writes every record to a logger at debug level.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink returns a LogSink over logger.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Record implements Sink.
func (s *LogSink) Record(ctx context.Context, rec Record) {
	if !s.logger.Enabled(ctx, slog.LevelDebug) {
		return
	}
	attrs := []slog.Attr{
		slog.Int("display", rec.DisplayIndex),
		slog.Uint64("sequence", rec.Sequence),
		slog.Any("accumulated", rec.AccumulatedFrames),
	}
	if rec.CursorOnly {
		attrs = append(attrs, slog.Int64("mouse_ticks", rec.MouseUpdateTicks))
		s.logger.LogAttrs(ctx, slog.LevelDebug, "cursor-only update", attrs...)
		return
	}
	attrs = append(attrs,
		slog.Int64("pts_us", rec.PresentationMicros),
		slog.Int64("interval_us", rec.IntervalMicros),
	)
	s.logger.LogAttrs(ctx, slog.LevelDebug, "frame", attrs...)
}

// Close implements Sink.
func (s *LogSink) Close() error { return nil }
