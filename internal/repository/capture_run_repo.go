package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/jmylchreest/deskcap/internal/models"
)

// captureRunRepo implements CaptureRunRepository using GORM.
type captureRunRepo struct {
	db *gorm.DB
}

// NewCaptureRunRepository creates a new CaptureRunRepository.
func NewCaptureRunRepository(db *gorm.DB) *captureRunRepo {
	return &captureRunRepo{db: db}
}

// Create creates a new run.
func (r *captureRunRepo) Create(ctx context.Context, run *models.CaptureRun) error {
	if err := run.Validate(); err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Omit("Displays").Create(run).Error; err != nil {
		return fmt.Errorf("creating capture run: %w", err)
	}
	return nil
}

// GetByID retrieves a run by ID with its display results.
func (r *captureRunRepo) GetByID(ctx context.Context, id models.ULID) (*models.CaptureRun, error) {
	var run models.CaptureRun
	err := r.db.WithContext(ctx).
		Preload("Displays", func(db *gorm.DB) *gorm.DB {
			return db.Order("display_index ASC")
		}).
		Where("id = ?", id).
		First(&run).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting capture run by ID: %w", err)
	}
	return &run, nil
}

// List retrieves runs, newest first.
func (r *captureRunRepo) List(ctx context.Context, opts RunListOptions) ([]*models.CaptureRun, error) {
	query := r.db.WithContext(ctx).Order("started_at DESC, id DESC")
	if opts.Status != "" {
		query = query.Where("status = ?", opts.Status)
	}
	if opts.Limit > 0 {
		query = query.Limit(opts.Limit)
	}

	var runs []*models.CaptureRun
	if err := query.Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("listing capture runs: %w", err)
	}
	return runs, nil
}

// Finish records the outcome of a run and its display results in one
// transaction.
func (r *captureRunRepo) Finish(ctx context.Context, id models.ULID, outcome RunOutcome) error {
	if !outcome.Status.Valid() || outcome.Status == models.RunStatusRunning {
		return fmt.Errorf("finishing capture run: %w", models.ErrInvalidRunStatus)
	}
	finishedAt := outcome.FinishedAt
	if finishedAt.IsZero() {
		finishedAt = time.Now()
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.CaptureRun{}).
			Where("id = ?", id).
			Updates(map[string]any{
				"status":      outcome.Status,
				"captured":    outcome.Captured,
				"last_error":  outcome.LastError,
				"finished_at": finishedAt,
			})
		if result.Error != nil {
			return fmt.Errorf("updating capture run: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("capture run %s: %w", id, gorm.ErrRecordNotFound)
		}

		if len(outcome.Displays) == 0 {
			return nil
		}
		displays := make([]models.DisplayResult, len(outcome.Displays))
		for i, d := range outcome.Displays {
			d.RunID = id
			displays[i] = d
		}
		if err := tx.Create(&displays).Error; err != nil {
			return fmt.Errorf("creating display results: %w", err)
		}
		return nil
	})
}

// MarkInterrupted moves runs left running by a previous process to
// interrupted.
func (r *captureRunRepo) MarkInterrupted(ctx context.Context) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.CaptureRun{}).
		Where("status = ?", models.RunStatusRunning).
		Updates(map[string]any{
			"status":      models.RunStatusInterrupted,
			"finished_at": time.Now(),
		})
	if result.Error != nil {
		return 0, fmt.Errorf("marking interrupted capture runs: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// Delete deletes a run, its display results and its frame records.
func (r *captureRunRepo) Delete(ctx context.Context, id models.ULID) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return deleteRuns(tx, []models.ULID{id})
	})
}

// DeleteFinishedBefore deletes finished runs started before the given time.
func (r *captureRunRepo) DeleteFinishedBefore(ctx context.Context, before time.Time) (int64, error) {
	var deleted int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ids []models.ULID
		if err := tx.Model(&models.CaptureRun{}).
			Where("status <> ? AND started_at < ?", models.RunStatusRunning, before).
			Pluck("id", &ids).Error; err != nil {
			return fmt.Errorf("finding old capture runs: %w", err)
		}
		if len(ids) == 0 {
			return nil
		}
		deleted = int64(len(ids))
		return deleteRuns(tx, ids)
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

func deleteRuns(tx *gorm.DB, ids []models.ULID) error {
	if err := tx.Where("run_id IN ?", ids).Delete(&models.FrameRecord{}).Error; err != nil {
		return fmt.Errorf("deleting frame records: %w", err)
	}
	if err := tx.Where("run_id IN ?", ids).Delete(&models.DisplayResult{}).Error; err != nil {
		return fmt.Errorf("deleting display results: %w", err)
	}
	if err := tx.Where("id IN ?", ids).Delete(&models.CaptureRun{}).Error; err != nil {
		return fmt.Errorf("deleting capture runs: %w", err)
	}
	return nil
}
