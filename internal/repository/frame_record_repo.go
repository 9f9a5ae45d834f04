package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/jmylchreest/deskcap/internal/models"
)

const defaultFrameBatchSize = 500

// frameRecordRepo implements FrameRecordRepository using GORM.
type frameRecordRepo struct {
	db *gorm.DB
}

// NewFrameRecordRepository creates a new FrameRecordRepository.
func NewFrameRecordRepository(db *gorm.DB) *frameRecordRepo {
	return &frameRecordRepo{db: db}
}

// CreateInBatches inserts records in batches for memory efficiency.
func (r *frameRecordRepo) CreateInBatches(ctx context.Context, records []*models.FrameRecord, batchSize int) error {
	if len(records) == 0 {
		return nil
	}
	if batchSize <= 0 {
		batchSize = defaultFrameBatchSize
	}
	if err := r.db.WithContext(ctx).CreateInBatches(records, batchSize).Error; err != nil {
		return fmt.Errorf("creating frame records in batches: %w", err)
	}
	return nil
}

// ForEach streams records row by row using GORM's Rows() iterator.
func (r *frameRecordRepo) ForEach(ctx context.Context, runID models.ULID, display int, fn func(*models.FrameRecord) error) error {
	query := r.db.WithContext(ctx).
		Model(&models.FrameRecord{}).
		Where("run_id = ?", runID)
	if display >= 0 {
		query = query.Where("display_index = ?", display)
	}

	rows, err := query.Order("display_index ASC, sequence ASC, id ASC").Rows()
	if err != nil {
		return fmt.Errorf("querying frame records: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var rec models.FrameRecord
		if err := r.db.ScanRows(rows, &rec); err != nil {
			return fmt.Errorf("scanning frame record row: %w", err)
		}
		if err := fn(&rec); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating frame records: %w", err)
	}
	return nil
}

// CountByRun returns the number of records of a run.
func (r *frameRecordRepo) CountByRun(ctx context.Context, runID models.ULID) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.FrameRecord{}).Where("run_id = ?", runID).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("counting frame records: %w", err)
	}
	return count, nil
}

// Summaries aggregates a run's records per display, ordered by display.
func (r *frameRecordRepo) Summaries(ctx context.Context, runID models.ULID) ([]DisplaySummary, error) {
	var totals []struct {
		DisplayIndex int
		Records      int64
		LastSequence uint64
	}
	if err := r.db.WithContext(ctx).
		Model(&models.FrameRecord{}).
		Select("display_index, COUNT(*) AS records, MAX(sequence) AS last_sequence").
		Where("run_id = ?", runID).
		Group("display_index").
		Order("display_index ASC").
		Scan(&totals).Error; err != nil {
		return nil, fmt.Errorf("summarising frame records: %w", err)
	}

	var frames []struct {
		DisplayIndex   int
		Frames         int64
		AvgIntervalUs  float64
		MaxIntervalUs  int64
		AccumulatedSum int64
	}
	if err := r.db.WithContext(ctx).
		Model(&models.FrameRecord{}).
		Select("display_index, COUNT(*) AS frames, AVG(interval_micros) AS avg_interval_us, "+
			"MAX(interval_micros) AS max_interval_us, SUM(accumulated_frames) AS accumulated_sum").
		Where("run_id = ? AND cursor_only = ?", runID, false).
		Group("display_index").
		Scan(&frames).Error; err != nil {
		return nil, fmt.Errorf("summarising frames: %w", err)
	}

	out := make([]DisplaySummary, len(totals))
	for i, t := range totals {
		s := DisplaySummary{
			DisplayIndex: t.DisplayIndex,
			Records:      t.Records,
			LastSequence: t.LastSequence,
		}
		for _, f := range frames {
			if f.DisplayIndex != t.DisplayIndex {
				continue
			}
			s.Frames = f.Frames
			s.AvgIntervalUs = f.AvgIntervalUs
			s.MaxIntervalUs = f.MaxIntervalUs
			s.AccumulatedSum = f.AccumulatedSum
		}
		s.CursorOnly = s.Records - s.Frames
		out[i] = s
	}
	return out, nil
}

// DeleteByRun deletes a run's records.
func (r *frameRecordRepo) DeleteByRun(ctx context.Context, runID models.ULID) (int64, error) {
	result := r.db.WithContext(ctx).Where("run_id = ?", runID).Delete(&models.FrameRecord{})
	if result.Error != nil {
		return 0, fmt.Errorf("deleting frame records: %w", result.Error)
	}
	return result.RowsAffected, nil
}
