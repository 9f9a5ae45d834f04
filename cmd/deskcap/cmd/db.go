package cmd

import (
	"fmt"
	"log/slog"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/deskcap/internal/database"
	"github.com/jmylchreest/deskcap/internal/database/migrations"
	"github.com/jmylchreest/deskcap/pkg/format"
)

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Database schema commands",
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withMigrator(cmd, func(m *migrations.Migrator) error {
			if err := m.Up(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "database is up to date")
			return nil
		})
	},
}

var dbStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show applied and pending migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withMigrator(cmd, func(m *migrations.Migrator) error {
			statuses, err := m.Status(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "VERSION\tAPPLIED\tDESCRIPTION")
			for _, s := range statuses {
				applied := "pending"
				if s.Applied && s.AppliedAt != nil {
					applied = format.Timestamp(*s.AppliedAt)
				} else if s.Applied {
					applied = "yes"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\n", s.Version, applied, s.Description)
			}
			return tw.Flush()
		})
	},
}

var dbRollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Roll back the most recent migration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withMigrator(cmd, func(m *migrations.Migrator) error {
			if err := m.Down(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "rolled back one migration")
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(dbCmd)
	dbCmd.AddCommand(dbMigrateCmd, dbStatusCmd, dbRollbackCmd)
}

// withMigrator opens the database without migrating it and passes a
// migrator with every known migration registered.
func withMigrator(cmd *cobra.Command, fn func(m *migrations.Migrator) error) error {
	logger := slog.Default()
	db, err := database.New(cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	defer db.Close()

	m := migrations.NewMigrator(db.DB, logger)
	m.RegisterAll(migrations.AllMigrations())
	return fn(m)
}
