package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	internalhttp "github.com/jmylchreest/deskcap/internal/http"
	"github.com/jmylchreest/deskcap/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the status API over recorded runs",
	Long: `Start the status API without capturing.

The server provides:
- Recorded runs and their frame timing summaries (/api/v1/runs)
- Health and readiness checks (/health, /livez, /readyz)
- OpenAPI documentation at /docs

Live display statistics are served by "deskcap capture --status-addr".`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("host", "127.0.0.1", "host to bind to")
	serveCmd.Flags().Int("port", 8090, "port to listen on")
}

func runServe(cmd *cobra.Command, _ []string) error {
	if cmd.Flags().Changed("host") {
		cfg.Server.Host, _ = cmd.Flags().GetString("host")
	}
	if cmd.Flags().Changed("port") {
		cfg.Server.Port, _ = cmd.Flags().GetInt("port")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := slog.Default()
	st, err := openStore(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	srv := internalhttp.NewServer(internalhttp.ServerConfigFrom(cfg.Server), logger, version.Version)
	srv.RegisterHandlers(internalhttp.Backends{
		Version: version.Version,
		DB:      st.db,
		Runs:    st.runs,
		Frames:  st.frames,
	})

	if err := srv.ListenAndServe(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("serving status API: %w", err)
	}
	logger.Info("server stopped")
	return nil
}
