package cmd

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/deskcap/internal/ffmpeg"
)

var encodersCmd = &cobra.Command{
	Use:   "encoders",
	Short: "Show the detected ffmpeg installation and hardware encoders",
	Long: `Probe the ffmpeg binary, test every hardware accelerator it was built
with, and show which encoder "deskcap capture" would select for the
configured codec and hwaccel preference.`,
	RunE: runEncoders,
}

func init() {
	rootCmd.AddCommand(encodersCmd)
	encodersCmd.Flags().Bool("json", false, "output detection results as JSON")
}

func runEncoders(cmd *cobra.Command, _ []string) error {
	info, err := ffmpeg.NewBinaryDetector(cfg.Encoder.FFmpegPath).Detect(cmd.Context())
	if err != nil {
		return fmt.Errorf("detecting ffmpeg: %w", err)
	}

	out := cmd.OutOrStdout()
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		fmt.Fprintln(out, info.JSON())
		return nil
	}

	fmt.Fprintf(out, "ffmpeg:  %s\n", info.FFmpegPath)
	fmt.Fprintf(out, "version: %s\n\n", info.Version)

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "HWACCEL\tAVAILABLE\tDEVICE\tENCODERS")
	for _, accel := range info.HWAccels {
		fmt.Fprintf(tw, "%s\t%t\t%s\t%s\n",
			accel.Type, accel.Available, accel.DeviceName, strings.Join(accel.Encoders, ","))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	sel, err := ffmpeg.NewEncoderSelector(info).SelectVideoEncoder(cfg.Encoder.Codec, cfg.Encoder.HWAccel, cfg.Encoder.AllowSoftware)
	if err != nil {
		fmt.Fprintf(out, "\nselected: none (%v)\n", err)
		return nil
	}
	accel := "software"
	if !sel.Software() {
		accel = string(sel.HWAccel)
	}
	fmt.Fprintf(out, "\nselected: %s (%s) for %s\n", sel.Encoder, accel, ffmpeg.NormalizeCodec(cfg.Encoder.Codec))
	return nil
}
