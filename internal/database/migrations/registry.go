package migrations

import (
	"gorm.io/gorm"

	"github.com/jmylchreest/deskcap/internal/models"
)

const runStatusIndex = "idx_capture_runs_status_started"

// AllMigrations returns all registered migrations in order:
//   - 001: capture_runs, display_results and frame_records
//   - 002: index for listing runs by status
func AllMigrations() []Migration {
	return []Migration{
		migration001Schema(),
		migration002RunStatusIndex(),
	}
}

func migration001Schema() Migration {
	return Migration{
		Version:     "001",
		Description: "Create capture run and frame record tables",
		Up: func(tx *gorm.DB) error {
			return tx.AutoMigrate(
				&models.CaptureRun{},
				&models.DisplayResult{},
				&models.FrameRecord{},
			)
		},
		Down: func(tx *gorm.DB) error {
			for _, table := range []string{"frame_records", "display_results", "capture_runs"} {
				if tx.Migrator().HasTable(table) {
					if err := tx.Migrator().DropTable(table); err != nil {
						return err
					}
				}
			}
			return nil
		},
	}
}

func migration002RunStatusIndex() Migration {
	return Migration{
		Version:     "002",
		Description: "Index capture runs by status and start time",
		Up: func(tx *gorm.DB) error {
			if tx.Migrator().HasIndex(&models.CaptureRun{}, runStatusIndex) {
				return nil
			}
			return tx.Exec("CREATE INDEX " + runStatusIndex + " ON capture_runs (status, started_at)").Error
		},
		Down: func(tx *gorm.DB) error {
			if !tx.Migrator().HasIndex(&models.CaptureRun{}, runStatusIndex) {
				return nil
			}
			return tx.Migrator().DropIndex(&models.CaptureRun{}, runStatusIndex)
		},
	}
}
