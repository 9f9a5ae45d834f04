package database

import (
	"bytes"
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/logger"

	"github.com/jmylchreest/deskcap/internal/config"
	"github.com/jmylchreest/deskcap/internal/models"
)

func memoryConfig() config.DatabaseConfig {
	return config.DatabaseConfig{
		Driver:          "sqlite",
		DSN:             ":memory:",
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 30 * time.Minute,
		LogLevel:        "warn",
	}
}

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(memoryConfig(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestNew_SQLite(t *testing.T) {
	db := setupTestDB(t)
	assert.NoError(t, db.Ping(context.Background()))
	assert.Equal(t, "sqlite", db.Driver())

	sqlDB, err := db.DB.DB()
	require.NoError(t, err)
	assert.Equal(t, 1, sqlDB.Stats().MaxOpenConnections)
}

func TestNew_SQLiteFile(t *testing.T) {
	cfg := memoryConfig()
	cfg.DSN = filepath.Join(t.TempDir(), "deskcap.db")

	db, err := New(cfg, nil)
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Migrate(context.Background()))

	var journal string
	require.NoError(t, db.Raw("PRAGMA journal_mode").Scan(&journal).Error)
	assert.Equal(t, "wal", journal)
}

func TestNew_InvalidDriver(t *testing.T) {
	cfg := memoryConfig()
	cfg.Driver = "invalid"

	db, err := New(cfg, nil)
	assert.Error(t, err)
	assert.Nil(t, db)
	assert.Contains(t, err.Error(), "unsupported database driver")
}

func TestDB_Close(t *testing.T) {
	db, err := New(memoryConfig(), nil)
	require.NoError(t, err)

	require.NoError(t, db.Close())
	assert.Error(t, db.Ping(context.Background()))
}

func TestDB_Migrate(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.Migrate(ctx))
	require.NoError(t, db.Migrate(ctx))

	run := &models.CaptureRun{Status: models.RunStatusRunning, FramesPerDisplay: 1}
	require.NoError(t, db.WithContext(ctx).Create(run).Error)
	assert.False(t, run.ID.IsZero())
}

func TestGormLogLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected logger.LogLevel
	}{
		{"silent", logger.Silent},
		{"error", logger.Error},
		{"warn", logger.Warn},
		{"info", logger.Info},
		{"unknown", logger.Warn},
		{"", logger.Warn},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, gormLogLevel(tt.input))
		})
	}
}

func TestSlogGormLogger_Trace(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	ctx := context.Background()
	sql := func() (string, int64) { return "SELECT 1", 1 }

	t.Run("errors are logged", func(t *testing.T) {
		buf.Reset()
		newGormLogger("warn", log).Trace(ctx, time.Now(), sql, assert.AnError)
		assert.Contains(t, buf.String(), "database error")
		assert.Contains(t, buf.String(), "SELECT 1")
	})

	t.Run("fast queries are skipped below info", func(t *testing.T) {
		buf.Reset()
		called := false
		newGormLogger("warn", log).Trace(ctx, time.Now(), func() (string, int64) {
			called = true
			return "SELECT 1", 1
		}, nil)
		assert.Empty(t, buf.String())
		assert.False(t, called, "SQL must not be rendered when nothing is logged")
	})

	t.Run("slow queries", func(t *testing.T) {
		buf.Reset()
		newGormLogger("warn", log).Trace(ctx, time.Now().Add(-2*slowQueryThreshold), sql, nil)
		assert.Contains(t, buf.String(), "slow query")
	})

	t.Run("info logs every query at debug", func(t *testing.T) {
		buf.Reset()
		newGormLogger("info", log).Trace(ctx, time.Now(), sql, nil)
		assert.Contains(t, buf.String(), "database query")
	})

	t.Run("silent", func(t *testing.T) {
		buf.Reset()
		newGormLogger("silent", log).Trace(ctx, time.Now(), sql, assert.AnError)
		assert.Empty(t, buf.String())
	})
}

func TestTruncateSQL(t *testing.T) {
	short := "SELECT * FROM frame_records"
	assert.Equal(t, short, truncateSQL(short))

	long := string(bytes.Repeat([]byte("x"), maxSQLLogLength+50))
	out := truncateSQL(long)
	assert.Len(t, out, maxSQLLogLength+len("... (truncated)"))
}
