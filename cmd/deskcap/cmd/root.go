// Package cmd implements the CLI commands for deskcap.
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/jmylchreest/deskcap/internal/config"
	"github.com/jmylchreest/deskcap/internal/observability"
	"github.com/jmylchreest/deskcap/internal/version"
)

var (
	// cfgFile holds the config file path from CLI flag.
	cfgFile string
	// cfg is the effective configuration, loaded before any command runs.
	cfg *config.Config
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:     "deskcap",
	Short:   "Multi-display desktop capture with paced encoding",
	Version: version.Short(),
	Long: `deskcap captures frames from one or more displays at a paced rate and
hands each frame to an encoder.

Every display runs its own capture loop that recovers from lost access and
resolution changes, and every tick is recorded as a diagnostics record
(present timestamp, interval, accumulated frames) in a text log, the
database, or both.`,
	SilenceUsage: true,
	// PersistentPreRunE is set in init() to avoid an initialization cycle.
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("executing root command: %w", err)
	}
	return nil
}

func init() {
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		return initConfig(cmd.Root().PersistentFlags())
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default searches ./deskcap.yaml, ./configs, /etc/deskcap, $HOME/.deskcap)")
	addGlobalFlags(rootCmd.PersistentFlags())
}

// addGlobalFlags defines the flags shared by every command. They are not
// bound to viper: they override config and env values only when explicitly
// set, preserving CLI flag > env var > config file > default.
func addGlobalFlags(flags *pflag.FlagSet) {
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("log-format", "text", "log format (text, json)")
	flags.String("db-driver", "sqlite", "database driver (sqlite, postgres, mysql)")
	flags.String("db-dsn", "deskcap.db", "database DSN")
}

// initConfig loads the configuration, applies the global flag overrides and
// installs the default logger.
func initConfig(flags *pflag.FlagSet) error {
	loaded, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if err := applyGlobalFlags(flags, loaded); err != nil {
		return err
	}
	cfg = loaded

	observability.SetDefault(observability.NewLoggerWithWriter(cfg.Logging, os.Stderr))
	return nil
}

// applyGlobalFlags copies explicitly set persistent flags into c and
// re-validates it.
func applyGlobalFlags(flags *pflag.FlagSet, c *config.Config) error {
	if flags.Changed("log-level") {
		level, _ := flags.GetString("log-level")
		level = strings.ToLower(level)
		if level == "warning" {
			level = "warn"
		}
		c.Logging.Level = level
	}
	if flags.Changed("log-format") {
		format, _ := flags.GetString("log-format")
		c.Logging.Format = strings.ToLower(format)
	}
	if flags.Changed("db-driver") {
		c.Database.Driver, _ = flags.GetString("db-driver")
	}
	if flags.Changed("db-dsn") {
		c.Database.DSN, _ = flags.GetString("db-dsn")
	}
	if err := c.Validate(); err != nil {
		return fmt.Errorf("validating flags: %w", err)
	}
	return nil
}
