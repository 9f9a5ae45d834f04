package cmd

import (
	"fmt"
	"reflect"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/deskcap/internal/config"
	"github.com/jmylchreest/deskcap/pkg/duration"
)

var configDefaults bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
	Long:  `Commands for managing deskcap configuration.`,
}

var configDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Dump the effective configuration",
	Long: `Dump the effective configuration in YAML format.

The output merges built-in defaults, the config file and DESKCAP_ environment
variables. Use --defaults to show only the built-in values, for example to
create a configuration template:

  deskcap config dump --defaults > deskcap.yaml

Environment variables use the DESKCAP_ prefix and underscores for nesting.
Example: capture.frames -> DESKCAP_CAPTURE_FRAMES`,
	RunE: runConfigDump,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configDumpCmd)
	configDumpCmd.Flags().BoolVar(&configDefaults, "defaults", false, "dump built-in defaults only")
}

// toMap converts a config struct to a map keyed by mapstructure tags, with
// durations in human-readable form.
func toMap(v any) map[string]any {
	result := make(map[string]any)
	val := reflect.ValueOf(v)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}
	typ := val.Type()

	for i := range val.NumField() {
		field := val.Field(i)
		fieldType := typ.Field(i)

		key := fieldType.Tag.Get("mapstructure")
		if key == "" {
			key = fieldType.Name
		}

		switch fv := field.Interface().(type) {
		case time.Duration:
			result[key] = duration.Format(fv)
		default:
			if field.Kind() == reflect.Struct {
				result[key] = toMap(fv)
			} else {
				result[key] = fv
			}
		}
	}
	return result
}

func runConfigDump(cmd *cobra.Command, _ []string) error {
	c := cfg
	if configDefaults {
		c = config.Defaults()
	}

	data, err := yaml.Marshal(toMap(c))
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "# deskcap configuration")
	fmt.Fprintln(out, "#")
	fmt.Fprintln(out, "# Duration format: 17ms, 30s, 5m, 1h, 7d")
	fmt.Fprintln(out, "# Environment overrides: DESKCAP_CAPTURE_FRAMES, DESKCAP_ENCODER_KIND,")
	fmt.Fprintln(out, "#   DESKCAP_DATABASE_DSN, DESKCAP_LOGGING_LEVEL, etc.")
	fmt.Fprintln(out)
	_, err = out.Write(data)
	return err
}
