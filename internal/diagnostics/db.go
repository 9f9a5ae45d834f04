package diagnostics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jmylchreest/deskcap/internal/models"
	"github.com/jmylchreest/deskcap/internal/observability"
)

const (
	defaultBatchSize     = 500
	defaultFlushInterval = time.Second
	defaultBuffer        = 4096
	flushTimeout         = 30 * time.Second
)

// FrameWriter persists frame records. Implemented by
// repository.FrameRecordRepository.
type FrameWriter interface {
	CreateInBatches(ctx context.Context, records []*models.FrameRecord, batchSize int) error
}

// DBSinkOptions configures a DBSink.
type DBSinkOptions struct {
	// BatchSize is the number of records written per insert.
	BatchSize int
	// FlushInterval bounds how long a partial batch waits.
	FlushInterval time.Duration
	// Buffer is the number of records queued before new ones are dropped.
	Buffer int
	Logger *slog.Logger
}

// DBSinkStats are the counters of a DBSink.
type DBSinkStats struct {
	Written int64 `json:"written"`
	Dropped int64 `json:"dropped"`
	Failed  int64 `json:"failed"`
}

// DBSink queues records and writes them to the database in batches from a
// background goroutine. Record never blocks: when the queue is full the
// record is dropped and counted.
type DBSink struct {
	writer FrameWriter
	runID  models.ULID
	opts   DBSinkOptions
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan Record
	done   chan struct{}
	err    error

	written atomic.Int64
	dropped atomic.Int64
	failed  atomic.Int64
}

// NewDBSink starts a DBSink writing records of runID.
func NewDBSink(writer FrameWriter, runID string, opts DBSinkOptions) (*DBSink, error) {
	id, err := models.ParseULID(runID)
	if err != nil {
		return nil, fmt.Errorf("database sink: %w", err)
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = defaultFlushInterval
	}
	if opts.Buffer < opts.BatchSize {
		opts.Buffer = max(defaultBuffer, opts.BatchSize)
	}
	logger := opts.Logger
	if logger == nil {
		logger = observability.Discard()
	}

	s := &DBSink{
		writer: writer,
		runID:  id,
		opts:   opts,
		logger: observability.WithComponent(logger, "diagnostics-db"),
		queue:  make(chan Record, opts.Buffer),
		done:   make(chan struct{}),
	}
	go s.run()
	return s, nil
}

// Record implements Sink.
func (s *DBSink) Record(_ context.Context, rec Record) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		s.dropped.Add(1)
		return
	}
	select {
	case s.queue <- rec:
	default:
		s.dropped.Add(1)
	}
}

// Stats returns the sink's counters.
func (s *DBSink) Stats() DBSinkStats {
	return DBSinkStats{
		Written: s.written.Load(),
		Dropped: s.dropped.Load(),
		Failed:  s.failed.Load(),
	}
}

// Close stops accepting records, writes everything queued and returns the
// first write error.
func (s *DBSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		<-s.done
		return s.err
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	<-s.done
	stats := s.Stats()
	s.logger.Info("frame records written",
		slog.Int64("written", stats.Written),
		slog.Int64("dropped", stats.Dropped),
		slog.Int64("failed", stats.Failed),
	)
	return s.err
}

func (s *DBSink) run() {
	defer close(s.done)

	ticker := time.NewTicker(s.opts.FlushInterval)
	defer ticker.Stop()

	batch := make([]*models.FrameRecord, 0, s.opts.BatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		s.write(batch)
		batch = make([]*models.FrameRecord, 0, s.opts.BatchSize)
	}

	for {
		select {
		case rec, ok := <-s.queue:
			if !ok {
				flush()
				return
			}
			batch = append(batch, ToModel(s.runID, rec))
			if len(batch) >= s.opts.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (s *DBSink) write(batch []*models.FrameRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()

	if err := s.writer.CreateInBatches(ctx, batch, s.opts.BatchSize); err != nil {
		s.failed.Add(int64(len(batch)))
		s.logger.Error("writing frame records failed",
			slog.Int("records", len(batch)),
			slog.String("error", err.Error()),
		)
		if s.err == nil {
			s.err = err
		} else if !errors.Is(s.err, err) {
			s.err = errors.Join(s.err, err)
		}
		return
	}
	s.written.Add(int64(len(batch)))
}

// ToModel converts a record into its database row.
func ToModel(runID models.ULID, rec Record) *models.FrameRecord {
	return &models.FrameRecord{
		RunID:              runID,
		DisplayIndex:       rec.DisplayIndex,
		Sequence:           rec.Sequence,
		AccumulatedFrames:  rec.AccumulatedFrames,
		PresentationMicros: rec.PresentationMicros,
		IntervalMicros:     rec.IntervalMicros,
		CursorOnly:         rec.CursorOnly,
		MouseUpdateTicks:   rec.MouseUpdateTicks,
		CapturedAt:         rec.CapturedAt,
	}
}

// FromModel converts a database row back into a record.
func FromModel(m *models.FrameRecord) Record {
	return Record{
		RunID:              m.RunID.String(),
		DisplayIndex:       m.DisplayIndex,
		Sequence:           m.Sequence,
		AccumulatedFrames:  m.AccumulatedFrames,
		PresentationMicros: m.PresentationMicros,
		IntervalMicros:     m.IntervalMicros,
		CursorOnly:         m.CursorOnly,
		MouseUpdateTicks:   m.MouseUpdateTicks,
		CapturedAt:         m.CapturedAt,
	}
}
