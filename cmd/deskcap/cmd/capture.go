package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/deskcap/internal/capture"
	"github.com/jmylchreest/deskcap/internal/config"
	"github.com/jmylchreest/deskcap/internal/diagnostics"
	"github.com/jmylchreest/deskcap/internal/encoder"
	"github.com/jmylchreest/deskcap/internal/ffmpeg"
	internalhttp "github.com/jmylchreest/deskcap/internal/http"
	"github.com/jmylchreest/deskcap/internal/models"
	"github.com/jmylchreest/deskcap/internal/observability"
	"github.com/jmylchreest/deskcap/internal/orchestrator"
	"github.com/jmylchreest/deskcap/internal/repository"
	"github.com/jmylchreest/deskcap/internal/screen"
	"github.com/jmylchreest/deskcap/internal/startup"
	"github.com/jmylchreest/deskcap/internal/sysinfo"
	"github.com/jmylchreest/deskcap/internal/version"
	"github.com/jmylchreest/deskcap/pkg/format"
)

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Capture and encode frames from one or more displays",
	Long: `Capture a fixed number of frames from every selected display.

Each display runs an independent loop paced to the target interval. Lost
access and resolution changes are recovered by re-creating the capture
session and re-initialising the encoder. The run ends when every display has
captured the requested number of frames or has failed.

Examples:
  deskcap capture --frames 600 --fps 30
  deskcap capture --display 0 --display 1 --encoder null
  deskcap capture --backend synthetic --status-addr 127.0.0.1:8090`,
	RunE: runCapture,
}

func init() {
	rootCmd.AddCommand(captureCmd)
	addCaptureFlags(captureCmd.Flags())
}

func addCaptureFlags(f *pflag.FlagSet) {
	f.Int("frames", 200, "frames to capture per display")
	f.Float64("fps", 0, "target frame rate (overrides --interval)")
	f.Duration("interval", 17*time.Millisecond, "target interval per tick")
	f.IntSlice("display", nil, "display index to capture (repeatable, default all)")
	f.String("backend", "screen", "capture backend (screen, synthetic)")
	f.Bool("eager-retry", true, "acquire once immediately after a recovery")
	f.String("encoder", "ffmpeg", "encoder kind (ffmpeg, null)")
	f.String("codec", "h264", "video codec (h264, hevc)")
	f.String("hwaccel", "auto", "hardware acceleration (auto, none, vaapi, cuda, qsv, videotoolbox, amf)")
	f.String("output-dir", "./recordings", "directory for encoded output")
	f.Bool("dry-run", false, "capture without encoding (same as --encoder null)")
	f.Bool("text-log", true, "write per-display present timestamp logs")
	f.String("text-log-dir", ".", "directory for present timestamp logs")
	f.Bool("db", true, "persist the run and its frame records to the database")
	f.String("status-addr", "", "serve the status API on this host:port while capturing")
}

// applyCaptureFlags copies explicitly set capture flags into c and
// re-validates it.
func applyCaptureFlags(flags *pflag.FlagSet, c *config.Config) error {
	if flags.Changed("frames") {
		c.Capture.Frames, _ = flags.GetInt("frames")
	}
	if flags.Changed("fps") {
		c.Capture.FPS, _ = flags.GetFloat64("fps")
	}
	if flags.Changed("interval") {
		c.Capture.TargetInterval, _ = flags.GetDuration("interval")
		if !flags.Changed("fps") {
			c.Capture.FPS = 0
		}
	}
	if flags.Changed("display") {
		c.Capture.Displays, _ = flags.GetIntSlice("display")
	}
	if flags.Changed("backend") {
		c.Capture.Backend, _ = flags.GetString("backend")
	}
	if flags.Changed("eager-retry") {
		c.Capture.EagerRetry, _ = flags.GetBool("eager-retry")
	}
	if flags.Changed("encoder") {
		c.Encoder.Kind, _ = flags.GetString("encoder")
	}
	if flags.Changed("codec") {
		c.Encoder.Codec, _ = flags.GetString("codec")
	}
	if flags.Changed("hwaccel") {
		c.Encoder.HWAccel, _ = flags.GetString("hwaccel")
	}
	if flags.Changed("output-dir") {
		c.Encoder.OutputDir, _ = flags.GetString("output-dir")
	}
	if dry, _ := flags.GetBool("dry-run"); dry {
		c.Encoder.Kind = "null"
	}
	if flags.Changed("text-log") {
		c.Diagnostics.TextLog, _ = flags.GetBool("text-log")
	}
	if flags.Changed("text-log-dir") {
		c.Diagnostics.TextLogDir, _ = flags.GetString("text-log-dir")
	}
	if flags.Changed("db") {
		c.Diagnostics.Database.Enabled, _ = flags.GetBool("db")
	}
	if flags.Changed("status-addr") {
		addr, _ := flags.GetString("status-addr")
		if err := applyStatusAddr(&c.Server, addr); err != nil {
			return err
		}
	}
	if err := c.Validate(); err != nil {
		return fmt.Errorf("validating flags: %w", err)
	}
	return nil
}

// applyStatusAddr enables the status server on addr. An empty addr disables it.
func applyStatusAddr(s *config.ServerConfig, addr string) error {
	if addr == "" {
		s.Enabled = false
		return nil
	}
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid --status-addr %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("invalid --status-addr port %q: %w", portStr, err)
	}
	s.Enabled = true
	s.Host = host
	s.Port = port
	return nil
}

// newCaptureBackend builds the display enumerator and capture backend.
func newCaptureBackend(c config.CaptureConfig) (capture.Enumerator, capture.Backend, error) {
	switch c.Backend {
	case "synthetic":
		s, err := screen.NewSynthetic(screen.SyntheticOptions{
			Displays:        c.Synthetic.Displays,
			Width:           c.Synthetic.Width,
			Height:          c.Synthetic.Height,
			RefreshRate:     c.Synthetic.RefreshRate,
			AccessLostEvery: c.Synthetic.AccessLostEvery,
			CursorOnlyEvery: c.Synthetic.CursorOnlyEvery,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("creating synthetic backend: %w", err)
		}
		return s, s, nil
	case "screen":
		return screen.NewEnumerator(), screen.NewBackend(c.PollInterval), nil
	default:
		return nil, nil, fmt.Errorf("unknown capture backend %q", c.Backend)
	}
}

// newEncoderFactory returns the per-display encoder factory and a name for
// the run record. The ffmpeg installation is probed once for all displays.
func newEncoderFactory(ctx context.Context, c config.EncoderConfig, logger *slog.Logger) (encoder.Factory, string, error) {
	if c.Kind == "null" {
		return func(capture.Display) (encoder.Encoder, error) { return encoder.NewNull(), nil }, "null", nil
	}

	info, err := ffmpeg.NewBinaryDetector(c.FFmpegPath).Detect(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("detecting ffmpeg: %w", err)
	}
	sel, err := ffmpeg.NewEncoderSelector(info).SelectVideoEncoder(c.Codec, c.HWAccel, c.AllowSoftware)
	if err != nil {
		return nil, "", fmt.Errorf("selecting encoder: %w", err)
	}
	if c.HWDevice != "" && !sel.Software() {
		sel.Device = c.HWDevice
	}

	logger.Info("encoder selected",
		slog.String("ffmpeg", info.FFmpegPath),
		slog.String("ffmpeg_version", info.Version),
		slog.String("encoder", sel.Encoder),
		slog.String("hwaccel", string(sel.HWAccel)),
		slog.String("device", sel.Device),
	)

	factory := func(d capture.Display) (encoder.Encoder, error) {
		enc, err := encoder.NewFFmpeg(d, encoder.FFmpegOptions{
			Binary:       info.FFmpegPath,
			Selection:    sel,
			Bitrate:      c.Bitrate,
			Preset:       c.Preset,
			Width:        c.Width,
			Height:       c.Height,
			OutputDir:    c.OutputDir,
			Container:    c.Container,
			WriteTimeout: c.WriteTimeout,
			Logger:       logger,
		})
		if err != nil {
			return nil, err
		}
		return enc, nil
	}
	return factory, "ffmpeg/" + sel.Encoder, nil
}

func runCapture(cmd *cobra.Command, _ []string) error {
	if err := applyCaptureFlags(cmd.Flags(), cfg); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := slog.Default()
	runID := models.NewULID()
	logger = observability.WithRunID(logger, runID.String())

	enumerator, backend, err := newCaptureBackend(cfg.Capture)
	if err != nil {
		return err
	}
	encoders, encoderName, err := newEncoderFactory(ctx, cfg.Encoder, logger)
	if err != nil {
		return err
	}
	if cfg.Encoder.Kind == "ffmpeg" {
		_, _ = startup.RemoveEmptyRecordings(logger, cfg.Encoder.OutputDir, startup.DefaultCleanupAge)
	}

	var sinks []diagnostics.Sink
	if cfg.Diagnostics.TextLog {
		text, err := diagnostics.NewTextSink(cfg.Diagnostics.TextLogDir)
		if err != nil {
			return err
		}
		sinks = append(sinks, text)
	}
	if cfg.Diagnostics.LogRecords {
		sinks = append(sinks, diagnostics.NewLogSink(logger))
	}

	var st *store
	if cfg.Diagnostics.Database.Enabled {
		var dbSink *diagnostics.DBSink
		st, dbSink, err = startRunRecord(ctx, runID, encoderName, logger)
		if err != nil {
			_ = diagnostics.Multi(sinks...).Close()
			return err
		}
		defer st.Close()
		sinks = append(sinks, dbSink)
	}
	sink := diagnostics.Multi(sinks...)
	// Closing is idempotent; the normal path closes before recording the outcome.
	defer sink.Close()

	orch, err := orchestrator.New(orchestrator.Config{
		RunID:      runID.String(),
		Frames:     cfg.Capture.Frames,
		Interval:   cfg.Capture.Interval(),
		FrameRate:  cfg.Capture.FrameRate(),
		EagerRetry: cfg.Capture.EagerRetry,
		Displays:   cfg.Capture.Displays,
	}, orchestrator.Deps{
		Enumerator: enumerator,
		Backend:    backend,
		Encoders:   encoders,
		Sink:       sink,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	stopServer, err := startStatusServer(ctx, orch, st, logger)
	if err != nil {
		return err
	}

	report, runErr := orch.Run(ctx)
	stopServer()
	if err := sink.Close(); err != nil {
		logger.Warn("failed to close diagnostics sinks", slog.String("error", err.Error()))
	}

	status, lastErr := runOutcome(report, runErr, ctx.Err())
	if st != nil {
		// The run context may already be cancelled; the outcome must still be written.
		finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		outcome := repository.RunOutcome{
			Status:     status,
			LastError:  lastErr,
			FinishedAt: time.Now(),
			Displays:   displayResults(report),
		}
		if report != nil {
			outcome.Captured = report.Captured()
		}
		if err := st.runs.Finish(finishCtx, runID, outcome); err != nil {
			logger.Error("failed to record run outcome", slog.String("error", err.Error()))
		}
	}

	if report != nil {
		printReport(cmd.OutOrStdout(), report, status)
	}
	if status != models.RunStatusFailed {
		return nil
	}
	if runErr != nil {
		return runErr
	}
	return fmt.Errorf("capture failed: %s", lastErr)
}

// startRunRecord opens the database, records the run as running and returns
// the sink persisting its frame records.
func startRunRecord(ctx context.Context, runID models.ULID, encoderName string, logger *slog.Logger) (*store, *diagnostics.DBSink, error) {
	st, err := openStore(ctx, cfg.Database, logger)
	if err != nil {
		return nil, nil, err
	}

	// A failed recovery only leaves stale statuses behind.
	_, _ = startup.RecoverInterruptedRuns(ctx, logger, st.runs)

	run, err := newRunModel(ctx, runID, cfg, encoderName)
	if err == nil {
		err = st.runs.Create(ctx, run)
	}
	if err != nil {
		_ = st.Close()
		return nil, nil, fmt.Errorf("recording run: %w", err)
	}

	dbSink, err := diagnostics.NewDBSink(st.frames, runID.String(), diagnostics.DBSinkOptions{
		BatchSize:     cfg.Diagnostics.Database.BatchSize,
		FlushInterval: cfg.Diagnostics.Database.FlushInterval,
		Buffer:        cfg.Diagnostics.Database.Buffer,
		Logger:        logger,
	})
	if err != nil {
		_ = st.Close()
		return nil, nil, err
	}
	return st, dbSink, nil
}

// startStatusServer serves the status API while the capture runs. The
// returned function stops it.
func startStatusServer(ctx context.Context, orch *orchestrator.Orchestrator, st *store, logger *slog.Logger) (func(), error) {
	if !cfg.Server.Enabled {
		return func() {}, nil
	}

	srv := internalhttp.NewServer(internalhttp.ServerConfigFrom(cfg.Server), logger, version.Version)
	backends := internalhttp.Backends{Version: version.Version, Capture: orch}
	if st != nil {
		backends.DB = st.db
		backends.Runs = st.runs
		backends.Frames = st.frames
	}
	srv.RegisterHandlers(backends)
	if err := srv.Listen(); err != nil {
		return nil, err
	}

	srvCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := srv.ListenAndServe(srvCtx); err != nil {
			logger.Error("status server stopped", slog.String("error", err.Error()))
		}
	}()
	return func() {
		cancel()
		<-done
	}, nil
}

// newRunModel builds the run record written before capture starts.
func newRunModel(ctx context.Context, id models.ULID, c *config.Config, encoderName string) (*models.CaptureRun, error) {
	snapshot, err := configYAML(c)
	if err != nil {
		return nil, err
	}
	host := sysinfo.Host(ctx)

	run := &models.CaptureRun{
		Status:           models.RunStatusRunning,
		Backend:          c.Capture.Backend,
		Encoder:          encoderName,
		FramesPerDisplay: c.Capture.Frames,
		TargetIntervalUs: c.Capture.Interval().Microseconds(),
		EagerRetry:       c.Capture.EagerRetry,
		Hostname:         host.Hostname,
		OS:               host.OS,
		Platform:         host.Platform,
		CPUModel:         host.CPUModel,
		CPUCores:         host.CPUCores,
		MemoryTotalBytes: host.MemoryTotalBytes,
		ConfigSnapshot:   snapshot,
		StartedAt:        time.Now(),
	}
	run.ID = id
	return run, nil
}

// configYAML renders the effective configuration for the run record.
func configYAML(c *config.Config) (string, error) {
	data, err := yaml.Marshal(toMap(c))
	if err != nil {
		return "", fmt.Errorf("marshaling config: %w", err)
	}
	return string(data), nil
}

// runOutcome maps the result of a run to its persisted status.
func runOutcome(report *orchestrator.Report, runErr, ctxErr error) (models.RunStatus, string) {
	switch {
	case runErr != nil && !errors.Is(runErr, context.Canceled):
		return models.RunStatusFailed, runErr.Error()
	case ctxErr != nil:
		return models.RunStatusInterrupted, ""
	case report != nil && report.Failed():
		for _, res := range report.Results {
			if res.State == orchestrator.StateFailed {
				return models.RunStatusFailed, fmt.Sprintf("display %d: %s", res.Display.Index, res.Error())
			}
		}
		return models.RunStatusFailed, ""
	default:
		return models.RunStatusCompleted, ""
	}
}

func displayResults(report *orchestrator.Report) []models.DisplayResult {
	if report == nil {
		return nil
	}
	out := make([]models.DisplayResult, 0, len(report.Results))
	for _, res := range report.Results {
		out = append(out, models.DisplayResult{
			DisplayIndex: res.Display.Index,
			Name:         res.Display.Name,
			Width:        res.Display.Width(),
			Height:       res.Display.Height(),
			State:        res.State.String(),
			Captured:     res.Captured,
			Recoveries:   res.Recoveries,
			LastSequence: res.LastSequence,
			Error:        res.Error(),
		})
	}
	return out
}

func printReport(w io.Writer, report *orchestrator.Report, status models.RunStatus) {
	elapsed := report.Finished.Sub(report.Started)
	fmt.Fprintf(w, "run %s %s in %s\n", report.RunID, status, format.Duration(elapsed))

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "DISPLAY\tSIZE\tSTATE\tCAPTURED\tRECOVERIES\tRATE\tERROR")
	for _, res := range report.Results {
		rate := 0.0
		if elapsed > 0 {
			rate = float64(res.Captured) / elapsed.Seconds()
		}
		fmt.Fprintf(tw, "%d\t%dx%d\t%s\t%s\t%d\t%s\t%s\n",
			res.Display.Index, res.Display.Width(), res.Display.Height(), res.State,
			format.Number(int64(res.Captured)), res.Recoveries, format.FPS(rate), res.Error())
	}
	_ = tw.Flush()
}
