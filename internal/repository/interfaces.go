// Package repository defines data access for capture runs and their frame
// records. All database access goes through these interfaces so the capture
// command, the status API and the exporters can be tested without a database.
package repository

import (
	"context"
	"time"

	"github.com/jmylchreest/deskcap/internal/models"
)

// RunListOptions filters CaptureRunRepository.List.
type RunListOptions struct {
	// Status restricts the result to one status. Empty means any.
	Status models.RunStatus
	// Limit caps the number of runs returned. Zero means no limit.
	Limit int
}

// RunOutcome is the final state written by CaptureRunRepository.Finish.
type RunOutcome struct {
	Status     models.RunStatus
	Captured   int
	LastError  string
	FinishedAt time.Time
	Displays   []models.DisplayResult
}

// CaptureRunRepository defines operations for capture run persistence.
type CaptureRunRepository interface {
	// Create creates a new run.
	Create(ctx context.Context, run *models.CaptureRun) error
	// GetByID retrieves a run with its display results. Returns nil when the
	// run does not exist.
	GetByID(ctx context.Context, id models.ULID) (*models.CaptureRun, error)
	// List retrieves runs, newest first.
	List(ctx context.Context, opts RunListOptions) ([]*models.CaptureRun, error)
	// Finish records the outcome of a run and its per-display results.
	Finish(ctx context.Context, id models.ULID, outcome RunOutcome) error
	// MarkInterrupted moves runs still marked running to interrupted.
	MarkInterrupted(ctx context.Context) (int64, error)
	// Delete deletes a run, its display results and its frame records.
	Delete(ctx context.Context, id models.ULID) error
	// DeleteFinishedBefore deletes finished runs started before the given time.
	DeleteFinishedBefore(ctx context.Context, before time.Time) (int64, error)
}

// DisplaySummary aggregates the frame records of one display.
type DisplaySummary struct {
	DisplayIndex   int     `json:"display"`
	Records        int64   `json:"records"`
	Frames         int64   `json:"frames"`
	CursorOnly     int64   `json:"cursor_only"`
	LastSequence   uint64  `json:"last_sequence"`
	AvgIntervalUs  float64 `json:"avg_interval_us"`
	MaxIntervalUs  int64   `json:"max_interval_us"`
	AccumulatedSum int64   `json:"accumulated_sum"`
}

// FrameRecordRepository defines operations for frame record persistence.
type FrameRecordRepository interface {
	// CreateInBatches inserts records in batches of batchSize.
	CreateInBatches(ctx context.Context, records []*models.FrameRecord, batchSize int) error
	// ForEach streams a run's records ordered by display, sequence and
	// insertion. A non-negative display restricts the stream to that display.
	ForEach(ctx context.Context, runID models.ULID, display int, fn func(*models.FrameRecord) error) error
	// CountByRun returns the number of records of a run.
	CountByRun(ctx context.Context, runID models.ULID) (int64, error)
	// Summaries aggregates a run's records per display.
	Summaries(ctx context.Context, runID models.ULID) ([]DisplaySummary, error)
	// DeleteByRun deletes a run's records.
	DeleteByRun(ctx context.Context, runID models.ULID) (int64, error)
}
