package cmd

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var displaysCmd = &cobra.Command{
	Use:   "displays",
	Short: "List the displays available for capture",
	Long: `List every display the capture backend can see, in enumeration order.
The index column is the value accepted by "deskcap capture --display".`,
	RunE: runDisplays,
}

func init() {
	rootCmd.AddCommand(displaysCmd)
	displaysCmd.Flags().String("backend", "screen", "capture backend (screen, synthetic)")
	displaysCmd.Flags().Bool("json", false, "output as JSON")
}

func runDisplays(cmd *cobra.Command, _ []string) error {
	if cmd.Flags().Changed("backend") {
		cfg.Capture.Backend, _ = cmd.Flags().GetString("backend")
	}
	enumerator, _, err := newCaptureBackend(cfg.Capture)
	if err != nil {
		return err
	}
	displays, err := enumerator.Enumerate(cmd.Context())
	if err != nil {
		return fmt.Errorf("enumerating displays: %w", err)
	}

	out := cmd.OutOrStdout()
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(displays)
	}

	if len(displays) == 0 {
		fmt.Fprintln(out, "no displays found")
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "INDEX\tNAME\tORIGIN\tSIZE")
	for _, d := range displays {
		fmt.Fprintf(tw, "%d\t%s\t%d,%d\t%dx%d\n",
			d.Index, d.Name, d.Bounds.Min.X, d.Bounds.Min.Y, d.Width(), d.Height())
	}
	return tw.Flush()
}
