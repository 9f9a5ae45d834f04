// Package startup provides housekeeping run before a capture starts.
package startup

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmylchreest/deskcap/internal/repository"
)

// RecordingPrefix is the file name prefix of encoder output files.
const RecordingPrefix = "display-"

// DefaultCleanupAge is the default minimum age of an empty recording before it
// is removed.
const DefaultCleanupAge = 1 * time.Hour

// RemoveEmptyRecordings removes zero-byte recordings older than maxAge from
// dir. An encoder that fails before its first frame leaves such a file
// behind. Returns the number of files removed.
func RemoveEmptyRecordings(logger *slog.Logger, dir string, maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		logger.Debug("recording directory does not exist, skipping cleanup", slog.String("path", dir))
		return 0, nil
	}
	if err != nil {
		logger.Error("failed to read recording directory", slog.String("path", dir), slog.String("error", err.Error()))
		return 0, err
	}

	cutoff := time.Now().Add(-maxAge)
	var removed int

	for _, entry := range entries {
		if !entry.Type().IsRegular() || !strings.HasPrefix(entry.Name(), RecordingPrefix) {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		info, err := entry.Info()
		if err != nil {
			logger.Warn("failed to stat recording", slog.String("path", path), slog.String("error", err.Error()))
			continue
		}
		if info.Size() > 0 || info.ModTime().After(cutoff) {
			continue
		}

		if err := os.Remove(path); err != nil {
			logger.Warn("failed to remove empty recording", slog.String("path", path), slog.String("error", err.Error()))
			continue
		}
		logger.Info("removed empty recording",
			slog.String("path", path),
			slog.Duration("age", time.Since(info.ModTime()).Round(time.Second)),
		)
		removed++
	}

	return removed, nil
}

// RecoverInterruptedRuns moves runs left in the running state by a process
// that exited without recording an outcome to interrupted. Without this they
// would report as running forever.
func RecoverInterruptedRuns(ctx context.Context, logger *slog.Logger, runs repository.CaptureRunRepository) (int64, error) {
	n, err := runs.MarkInterrupted(ctx)
	if err != nil {
		logger.Error("failed to recover stale run statuses", slog.String("error", err.Error()))
		return 0, err
	}
	if n > 0 {
		logger.Warn("marked stale runs interrupted", slog.Int64("count", n))
	}
	return n, nil
}
