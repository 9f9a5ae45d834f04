// Package config provides configuration management for deskcap using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultFrames            = 200
	defaultTargetInterval    = 17 * time.Millisecond
	defaultPollInterval      = 2 * time.Millisecond
	defaultSyntheticRefresh  = 60.0
	defaultWriteTimeout      = 2 * time.Second
	defaultBatchSize         = 500
	defaultFlushInterval     = time.Second
	defaultRecordBuffer      = 4096
	defaultServerPort        = 8090
	defaultServerTimeout     = 30 * time.Second
	defaultShutdownTimeout   = 10 * time.Second
	defaultMaxOpenConns      = 25
	defaultMaxIdleConns      = 10
	defaultConnMaxIdleTime   = 30 * time.Minute
	defaultEncoderOutputDir  = "./recordings"
	defaultEncoderContainer  = "ts"
	defaultDiagnosticsLogDir = "."
)

// Config holds all configuration for the application.
type Config struct {
	Capture     CaptureConfig     `mapstructure:"capture"`
	Encoder     EncoderConfig     `mapstructure:"encoder"`
	Diagnostics DiagnosticsConfig `mapstructure:"diagnostics"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Server      ServerConfig      `mapstructure:"server"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// CaptureConfig holds capture loop configuration.
type CaptureConfig struct {
	Frames         int             `mapstructure:"frames"`          // frames to capture per display
	TargetInterval time.Duration   `mapstructure:"target_interval"` // per-tick budget
	FPS            float64         `mapstructure:"fps"`             // overrides target_interval when > 0
	Displays       []int           `mapstructure:"displays"`        // empty = all
	EagerRetry     bool            `mapstructure:"eager_retry"`     // acquire once immediately after recovery
	Backend        string          `mapstructure:"backend"`         // screen, synthetic
	PollInterval   time.Duration   `mapstructure:"poll_interval"`   // screen backend change polling
	Synthetic      SyntheticConfig `mapstructure:"synthetic"`
}

// SyntheticConfig configures the generated test-pattern backend.
type SyntheticConfig struct {
	Displays        int     `mapstructure:"displays"`
	Width           int     `mapstructure:"width"`
	Height          int     `mapstructure:"height"`
	RefreshRate     float64 `mapstructure:"refresh_rate"`
	AccessLostEvery int     `mapstructure:"access_lost_every"` // 0 = never
	CursorOnlyEvery int     `mapstructure:"cursor_only_every"` // 0 = never
}

// EncoderConfig holds encoder configuration.
type EncoderConfig struct {
	Kind          string        `mapstructure:"kind"`    // ffmpeg, null
	Codec         string        `mapstructure:"codec"`   // h264, hevc
	HWAccel       string        `mapstructure:"hwaccel"` // auto, none, vaapi, cuda, qsv, videotoolbox, amf
	HWDevice      string        `mapstructure:"hwdevice"`
	AllowSoftware bool          `mapstructure:"allow_software"`
	Bitrate       string        `mapstructure:"bitrate"`
	Preset        string        `mapstructure:"preset"`
	Width         int           `mapstructure:"width"`  // 0 = source width
	Height        int           `mapstructure:"height"` // 0 = source height
	OutputDir     string        `mapstructure:"output_dir"`
	Container     string        `mapstructure:"container"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`
	FFmpegPath    string        `mapstructure:"ffmpeg_path"`
}

// DiagnosticsConfig holds per-tick diagnostics configuration.
type DiagnosticsConfig struct {
	TextLog    bool                      `mapstructure:"text_log"`     // write PresentTSLog files
	TextLogDir string                    `mapstructure:"text_log_dir"` // directory for PresentTSLog files
	LogRecords bool                      `mapstructure:"log_records"`  // emit records at debug level
	Database   DiagnosticsDatabaseConfig `mapstructure:"database"`
}

// DiagnosticsDatabaseConfig controls persistence of frame records.
type DiagnosticsDatabaseConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	BatchSize     int           `mapstructure:"batch_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
	Buffer        int           `mapstructure:"buffer"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite, postgres, mysql
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	LogLevel        string        `mapstructure:"log_level"` // silent, error, warn, info
}

// ServerConfig holds status API server configuration.
type ServerConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with DESKCAP_ and use underscores for nesting.
// Example: DESKCAP_CAPTURE_FRAMES=600.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("deskcap")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/deskcap")
		v.AddConfigPath("$HOME/.deskcap")
	}

	v.SetEnvPrefix("DESKCAP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file to ensure defaults are in place.
func SetDefaults(v *viper.Viper) {
	// Capture defaults
	v.SetDefault("capture.frames", defaultFrames)
	v.SetDefault("capture.target_interval", defaultTargetInterval)
	v.SetDefault("capture.fps", 0)
	v.SetDefault("capture.displays", []int{})
	v.SetDefault("capture.eager_retry", true)
	v.SetDefault("capture.backend", "screen")
	v.SetDefault("capture.poll_interval", defaultPollInterval)
	v.SetDefault("capture.synthetic.displays", 1)
	v.SetDefault("capture.synthetic.width", 1280)
	v.SetDefault("capture.synthetic.height", 720)
	v.SetDefault("capture.synthetic.refresh_rate", defaultSyntheticRefresh)
	v.SetDefault("capture.synthetic.access_lost_every", 0)
	v.SetDefault("capture.synthetic.cursor_only_every", 0)

	// Encoder defaults
	v.SetDefault("encoder.kind", "ffmpeg")
	v.SetDefault("encoder.codec", "h264")
	v.SetDefault("encoder.hwaccel", "auto")
	v.SetDefault("encoder.hwdevice", "")
	v.SetDefault("encoder.allow_software", true)
	v.SetDefault("encoder.bitrate", "8M")
	v.SetDefault("encoder.preset", "")
	v.SetDefault("encoder.width", 0)
	v.SetDefault("encoder.height", 0)
	v.SetDefault("encoder.output_dir", defaultEncoderOutputDir)
	v.SetDefault("encoder.container", defaultEncoderContainer)
	v.SetDefault("encoder.write_timeout", defaultWriteTimeout)
	v.SetDefault("encoder.ffmpeg_path", "")

	// Diagnostics defaults
	v.SetDefault("diagnostics.text_log", true)
	v.SetDefault("diagnostics.text_log_dir", defaultDiagnosticsLogDir)
	v.SetDefault("diagnostics.log_records", false)
	v.SetDefault("diagnostics.database.enabled", true)
	v.SetDefault("diagnostics.database.batch_size", defaultBatchSize)
	v.SetDefault("diagnostics.database.flush_interval", defaultFlushInterval)
	v.SetDefault("diagnostics.database.buffer", defaultRecordBuffer)

	// Database defaults
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "deskcap.db")
	v.SetDefault("database.max_open_conns", defaultMaxOpenConns)
	v.SetDefault("database.max_idle_conns", defaultMaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.conn_max_idle_time", defaultConnMaxIdleTime)
	v.SetDefault("database.log_level", "warn")

	// Server defaults
	v.SetDefault("server.enabled", false)
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.write_timeout", defaultServerTimeout)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	// Capture validation
	if c.Capture.Frames < 1 {
		return fmt.Errorf("capture.frames must be at least 1")
	}
	if c.Capture.FPS < 0 || c.Capture.FPS > 1000 {
		return fmt.Errorf("capture.fps must be between 0 and 1000")
	}
	if c.Capture.FPS == 0 && c.Capture.TargetInterval < time.Millisecond {
		return fmt.Errorf("capture.target_interval must be at least 1ms")
	}
	for _, idx := range c.Capture.Displays {
		if idx < 0 {
			return fmt.Errorf("capture.displays must not contain negative indexes")
		}
	}
	validBackends := map[string]bool{"screen": true, "synthetic": true}
	if !validBackends[c.Capture.Backend] {
		return fmt.Errorf("capture.backend must be one of: screen, synthetic")
	}
	if c.Capture.Backend == "synthetic" {
		s := c.Capture.Synthetic
		if s.Displays < 1 || s.Width < 1 || s.Height < 1 || s.RefreshRate <= 0 {
			return fmt.Errorf("capture.synthetic requires displays, width, height and refresh_rate > 0")
		}
	}

	// Encoder validation
	validKinds := map[string]bool{"ffmpeg": true, "null": true}
	if !validKinds[c.Encoder.Kind] {
		return fmt.Errorf("encoder.kind must be one of: ffmpeg, null")
	}
	validCodecs := map[string]bool{"h264": true, "hevc": true}
	if !validCodecs[c.Encoder.Codec] {
		return fmt.Errorf("encoder.codec must be one of: h264, hevc")
	}
	validAccels := map[string]bool{"auto": true, "none": true, "vaapi": true, "cuda": true, "qsv": true, "videotoolbox": true, "amf": true}
	if !validAccels[c.Encoder.HWAccel] {
		return fmt.Errorf("encoder.hwaccel must be one of: auto, none, vaapi, cuda, qsv, videotoolbox, amf")
	}
	if (c.Encoder.Width == 0) != (c.Encoder.Height == 0) || c.Encoder.Width < 0 || c.Encoder.Height < 0 {
		return fmt.Errorf("encoder.width and encoder.height must both be set or both be 0")
	}
	if c.Encoder.Width%2 != 0 || c.Encoder.Height%2 != 0 {
		return fmt.Errorf("encoder.width and encoder.height must be even")
	}
	if c.Encoder.Kind == "ffmpeg" {
		if c.Encoder.OutputDir == "" {
			return fmt.Errorf("encoder.output_dir is required")
		}
		if c.Encoder.WriteTimeout <= 0 {
			return fmt.Errorf("encoder.write_timeout must be positive")
		}
	}

	// Diagnostics validation
	if c.Diagnostics.Database.Enabled {
		if c.Diagnostics.Database.BatchSize < 1 {
			return fmt.Errorf("diagnostics.database.batch_size must be at least 1")
		}
		if c.Diagnostics.Database.Buffer < c.Diagnostics.Database.BatchSize {
			return fmt.Errorf("diagnostics.database.buffer must be at least batch_size")
		}
	}

	// Database validation
	validDrivers := map[string]bool{"sqlite": true, "postgres": true, "mysql": true}
	if !validDrivers[c.Database.Driver] {
		return fmt.Errorf("database.driver must be one of: sqlite, postgres, mysql")
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}

	// Server validation
	const maxPort = 65535
	if c.Server.Enabled && (c.Server.Port < 1 || c.Server.Port > maxPort) {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}

	// Logging validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}

// Interval returns the per-tick budget, derived from FPS when it is set.
func (c *CaptureConfig) Interval() time.Duration {
	if c.FPS > 0 {
		return time.Duration(float64(time.Second) / c.FPS).Round(time.Millisecond)
	}
	return c.TargetInterval
}

// FrameRate returns the nominal capture rate in frames per second.
func (c *CaptureConfig) FrameRate() float64 {
	if c.FPS > 0 {
		return c.FPS
	}
	if c.TargetInterval <= 0 {
		return 1 / defaultTargetInterval.Seconds()
	}
	return 1 / c.TargetInterval.Seconds()
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Defaults returns the built-in configuration, ignoring files and environment.
func Defaults() *Config {
	v := viper.New()
	SetDefaults(v)
	var cfg Config
	// Defaults are typed values and always decode.
	_ = v.Unmarshal(&cfg)
	return &cfg
}
