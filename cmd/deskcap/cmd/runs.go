package cmd

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/deskcap/internal/diagnostics"
	"github.com/jmylchreest/deskcap/internal/http/handlers"
	"github.com/jmylchreest/deskcap/internal/models"
	"github.com/jmylchreest/deskcap/internal/repository"
	"github.com/jmylchreest/deskcap/pkg/duration"
	"github.com/jmylchreest/deskcap/pkg/format"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect, export and prune recorded capture runs",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded runs, newest first",
	Args:  cobra.NoArgs,
	RunE:  runRunsList,
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show a run with per-display results and frame timing summaries",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsShow,
}

var runsExportCmd = &cobra.Command{
	Use:   "export <run-id>",
	Short: "Export a run's frame records",
	Long: `Export the frame records of a run as CSV, JSON lines or the present
timestamp text format, optionally compressed.

Format and compression are inferred from the output file name unless given
explicitly:

  deskcap runs export 01HQ... -o frames.csv
  deskcap runs export 01HQ... -o frames.jsonl.xz
  deskcap runs export 01HQ... --format text --display 0 > PresentTSLog.txt
  deskcap runs export 01HQ... --compression br -o frames.csv.br`,
	Args: cobra.ExactArgs(1),
	RunE: runRunsExport,
}

var runsDeleteCmd = &cobra.Command{
	Use:   "delete <run-id>...",
	Short: "Delete runs and their frame records",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runRunsDelete,
}

var runsPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete finished runs older than a retention period",
	Long: `Delete every finished run that started before the retention period.
Runs still marked running are kept.

  deskcap runs prune --older-than 30d
  deskcap runs prune --older-than "2 weeks"`,
	Args: cobra.NoArgs,
	RunE: runRunsPrune,
}

func init() {
	rootCmd.AddCommand(runsCmd)
	runsCmd.AddCommand(runsListCmd, runsShowCmd, runsExportCmd, runsDeleteCmd, runsPruneCmd)

	runsListCmd.Flags().String("status", "", "filter by status (running, completed, failed, interrupted)")
	runsListCmd.Flags().Int("limit", 20, "maximum number of runs (0 for all)")
	runsListCmd.Flags().Bool("json", false, "output as JSON")

	runsShowCmd.Flags().Bool("json", false, "output as JSON")

	runsExportCmd.Flags().StringP("output", "o", "-", "output file (- for stdout)")
	runsExportCmd.Flags().String("format", "", "export format (csv, jsonl, text); inferred from the file name by default")
	runsExportCmd.Flags().String("compression", "", "compression (none, gzip, bzip2, xz, br); inferred from the file name by default")
	runsExportCmd.Flags().Int("display", -1, "export only this display (-1 for all)")

	runsPruneCmd.Flags().String("older-than", "30d", "retention period (e.g. 12h, 7d, 2w)")
}

func withStore(cmd *cobra.Command, fn func(st *store) error) error {
	st, err := openStore(cmd.Context(), cfg.Database, slog.Default())
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(st)
}

func parseRunID(s string) (models.ULID, error) {
	id, err := models.ParseULID(s)
	if err != nil {
		return models.ULID{}, fmt.Errorf("invalid run id %q: %w", s, err)
	}
	return id, nil
}

func runRunsList(cmd *cobra.Command, _ []string) error {
	statusFlag, _ := cmd.Flags().GetString("status")
	limit, _ := cmd.Flags().GetInt("limit")
	asJSON, _ := cmd.Flags().GetBool("json")

	status := models.RunStatus(statusFlag)
	if status != "" && !status.Valid() {
		return fmt.Errorf("unknown run status %q", statusFlag)
	}

	return withStore(cmd, func(st *store) error {
		runs, err := st.runs.List(cmd.Context(), repository.RunListOptions{Status: status, Limit: limit})
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if asJSON {
			views := make([]handlers.RunResponse, 0, len(runs))
			for _, r := range runs {
				views = append(views, handlers.RunFromModel(r))
			}
			return writeJSON(out, views)
		}

		if len(runs) == 0 {
			fmt.Fprintln(out, "no runs recorded")
			return nil
		}
		tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tSTATUS\tSTARTED\tDURATION\tCAPTURED\tBACKEND\tENCODER")
		for _, r := range runs {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				r.ID, r.Status, format.RelativeTime(r.StartedAt), format.Duration(r.Duration()),
				format.Number(int64(r.Captured)), r.Backend, r.Encoder)
		}
		return tw.Flush()
	})
}

func runRunsShow(cmd *cobra.Command, args []string) error {
	id, err := parseRunID(args[0])
	if err != nil {
		return err
	}
	asJSON, _ := cmd.Flags().GetBool("json")

	return withStore(cmd, func(st *store) error {
		ctx := cmd.Context()
		run, err := st.runs.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if run == nil {
			return fmt.Errorf("run %s not found", id)
		}
		summaries, err := st.frames.Summaries(ctx, id)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if asJSON {
			detail := handlers.RunDetailResponse{RunResponse: handlers.RunFromModel(run), Summaries: summaries}
			for _, d := range run.Displays {
				detail.Displays = append(detail.Displays, handlers.DisplayResultFromModel(d))
			}
			for _, s := range summaries {
				detail.Records += s.Records
			}
			return writeJSON(out, detail)
		}

		printRun(out, run, summaries)
		return nil
	})
}

func printRun(out io.Writer, run *models.CaptureRun, summaries []repository.DisplaySummary) {
	fmt.Fprintf(out, "Run:        %s\n", run.ID)
	fmt.Fprintf(out, "Status:     %s\n", run.Status)
	fmt.Fprintf(out, "Started:    %s (%s)\n", format.Timestamp(run.StartedAt), format.RelativeTime(run.StartedAt))
	fmt.Fprintf(out, "Duration:   %s\n", format.Duration(run.Duration()))
	fmt.Fprintf(out, "Backend:    %s\n", run.Backend)
	fmt.Fprintf(out, "Encoder:    %s\n", run.Encoder)
	fmt.Fprintf(out, "Frames:     %s per display, target %s\n",
		format.Number(int64(run.FramesPerDisplay)), format.Micros(float64(run.TargetIntervalUs)))
	if run.Hostname != "" {
		fmt.Fprintf(out, "Host:       %s (%s, %s, %d cores, %s)\n",
			run.Hostname, run.Platform, run.CPUModel, run.CPUCores, format.Bytes(run.MemoryTotalBytes))
	}
	if run.LastError != "" {
		fmt.Fprintf(out, "Error:      %s\n", run.LastError)
	}

	if len(run.Displays) > 0 {
		fmt.Fprintln(out)
		tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "DISPLAY\tSIZE\tSTATE\tCAPTURED\tRECOVERIES\tLAST SEQ\tERROR")
		for _, d := range run.Displays {
			fmt.Fprintf(tw, "%d\t%dx%d\t%s\t%s\t%d\t%d\t%s\n",
				d.DisplayIndex, d.Width, d.Height, d.State, format.Number(int64(d.Captured)),
				d.Recoveries, d.LastSequence, d.Error)
		}
		_ = tw.Flush()
	}

	if len(summaries) > 0 {
		fmt.Fprintln(out)
		tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "DISPLAY\tRECORDS\tFRAMES\tCURSOR ONLY\tAVG INTERVAL\tMAX INTERVAL")
		for _, s := range summaries {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
				s.DisplayIndex, format.Number(s.Records), format.Number(s.Frames), format.Number(s.CursorOnly),
				format.Micros(s.AvgIntervalUs), format.Micros(float64(s.MaxIntervalUs)))
		}
		_ = tw.Flush()
	}
}

// exportSettings resolves the export format and compression from flags,
// falling back to the output file name.
func exportSettings(output, formatFlag, compressionFlag string) (diagnostics.Format, diagnostics.Compression, error) {
	comp := diagnostics.CompressionNone
	if compressionFlag != "" {
		c, err := diagnostics.ParseCompression(compressionFlag)
		if err != nil {
			return "", "", err
		}
		comp = c
	} else if output != "-" {
		comp = diagnostics.CompressionFromPath(output)
	}

	if formatFlag != "" {
		f, err := diagnostics.ParseFormat(formatFlag)
		return f, comp, err
	}
	if output == "-" {
		return diagnostics.FormatCSV, comp, nil
	}

	name := strings.TrimSuffix(output, diagnostics.CompressionFromPath(output).Extension())
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		if f, err := diagnostics.ParseFormat(name[i+1:]); err == nil {
			return f, comp, nil
		}
	}
	return diagnostics.FormatCSV, comp, nil
}

func runRunsExport(cmd *cobra.Command, args []string) error {
	id, err := parseRunID(args[0])
	if err != nil {
		return err
	}
	output, _ := cmd.Flags().GetString("output")
	formatFlag, _ := cmd.Flags().GetString("format")
	compressionFlag, _ := cmd.Flags().GetString("compression")
	display, _ := cmd.Flags().GetInt("display")

	exportFormat, comp, err := exportSettings(output, formatFlag, compressionFlag)
	if err != nil {
		return err
	}

	return withStore(cmd, func(st *store) error {
		ctx := cmd.Context()
		run, err := st.runs.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if run == nil {
			return fmt.Errorf("run %s not found", id)
		}

		var w io.Writer = cmd.OutOrStdout()
		if output != "-" {
			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("creating export file: %w", err)
			}
			defer f.Close()
			w = f
		}
		buf := bufio.NewWriter(w)

		exporter, err := diagnostics.NewExporter(buf, exportFormat, comp)
		if err != nil {
			return err
		}
		err = st.frames.ForEach(ctx, id, display, func(rec *models.FrameRecord) error {
			return exporter.Write(diagnostics.FromModel(rec))
		})
		err = errors.Join(err, exporter.Close(), buf.Flush())
		if err != nil {
			return fmt.Errorf("exporting run %s: %w", id, err)
		}

		slog.Info("run exported",
			slog.String("run_id", id.String()),
			slog.Int("records", exporter.Count()),
			slog.String("format", string(exportFormat)),
			slog.String("compression", string(comp)),
			slog.String("output", output),
		)
		return nil
	})
}

func runRunsDelete(cmd *cobra.Command, args []string) error {
	ids := make([]models.ULID, 0, len(args))
	for _, arg := range args {
		id, err := parseRunID(arg)
		if err != nil {
			return err
		}
		ids = append(ids, id)
	}

	return withStore(cmd, func(st *store) error {
		for _, id := range ids {
			if err := st.runs.Delete(cmd.Context(), id); err != nil {
				return fmt.Errorf("deleting run %s: %w", id, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", id)
		}
		return nil
	})
}

func runRunsPrune(cmd *cobra.Command, _ []string) error {
	olderThan, _ := cmd.Flags().GetString("older-than")
	retention, err := duration.Parse(olderThan)
	if err != nil {
		return err
	}
	if retention <= 0 {
		return fmt.Errorf("--older-than must be positive, got %s", olderThan)
	}
	cutoff := time.Now().Add(-retention)

	return withStore(cmd, func(st *store) error {
		n, err := st.runs.DeleteFinishedBefore(cmd.Context(), cutoff)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "pruned %d run(s) started before %s\n", n, format.Timestamp(cutoff))
		return nil
	})
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
