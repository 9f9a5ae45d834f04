package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jmylchreest/deskcap/internal/config"
	"github.com/jmylchreest/deskcap/internal/database"
	"github.com/jmylchreest/deskcap/internal/repository"
)

// store bundles an open, migrated database with its repositories.
type store struct {
	db     *database.DB
	runs   repository.CaptureRunRepository
	frames repository.FrameRecordRepository
}

// openStore opens the configured database and applies pending migrations.
func openStore(ctx context.Context, c config.DatabaseConfig, logger *slog.Logger) (*store, error) {
	db, err := database.New(c, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing database: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &store{
		db:     db,
		runs:   repository.NewCaptureRunRepository(db.DB),
		frames: repository.NewFrameRecordRepository(db.DB),
	}, nil
}

func (s *store) Close() error {
	return s.db.Close()
}
