// Package ffmpeg locates the ffmpeg binary, discovers its encoders and
// hardware accelerators, and runs encoder processes fed with raw frames on
// stdin.
package ffmpeg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"
)

// BinaryEnv is the environment variable that overrides the ffmpeg location.
const BinaryEnv = "DESKCAP_FFMPEG_BINARY"

// ErrNotFound is returned when no ffmpeg binary can be located.
var ErrNotFound = errors.New("ffmpeg binary not found")

// BinaryInfo describes an ffmpeg installation.
type BinaryInfo struct {
	FFmpegPath    string        `json:"ffmpeg_path"`
	Version       string        `json:"version"`
	MajorVersion  int           `json:"major_version"`
	MinorVersion  int           `json:"minor_version"`
	BuildDate     string        `json:"build_date,omitempty"`
	Configuration string        `json:"configuration,omitempty"`
	Encoders      []string      `json:"encoders,omitempty"`
	HWAccels      []HWAccelInfo `json:"hw_accels,omitempty"`
}

// HasEncoder reports whether ffmpeg was built with the named encoder.
func (info *BinaryInfo) HasEncoder(name string) bool {
	return slices.Contains(info.Encoders, name)
}

// SupportsMinVersion reports whether the version is at least major.minor.
func (info *BinaryInfo) SupportsMinVersion(major, minor int) bool {
	if info.MajorVersion != major {
		return info.MajorVersion > major
	}
	return info.MinorVersion >= minor
}

// JSON returns the info as indented JSON.
func (info *BinaryInfo) JSON() string {
	data, _ := json.MarshalIndent(info, "", "  ")
	return string(data)
}

// BinaryDetector detects and caches the ffmpeg installation.
type BinaryDetector struct {
	// Path is an explicit binary path tried before the environment and PATH.
	Path string
	// ProbeHardware enables hardware accelerator probing during Detect.
	ProbeHardware bool

	mu           sync.RWMutex
	info         *BinaryInfo
	lastDetected time.Time
	cacheTTL     time.Duration
}

// NewBinaryDetector creates a detector that probes hardware accelerators.
func NewBinaryDetector(path string) *BinaryDetector {
	return &BinaryDetector{
		Path:          path,
		ProbeHardware: true,
		cacheTTL:      5 * time.Minute,
	}
}

// WithCacheTTL sets how long a detection result is reused.
func (d *BinaryDetector) WithCacheTTL(ttl time.Duration) *BinaryDetector {
	d.cacheTTL = ttl
	return d
}

// Detect returns the cached installation info, probing ffmpeg when the cache
// is empty or stale.
func (d *BinaryDetector) Detect(ctx context.Context) (*BinaryInfo, error) {
	d.mu.RLock()
	if d.info != nil && time.Since(d.lastDetected) < d.cacheTTL {
		info := d.info
		d.mu.RUnlock()
		return info, nil
	}
	d.mu.RUnlock()

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.info != nil && time.Since(d.lastDetected) < d.cacheTTL {
		return d.info, nil
	}

	info, err := d.detect(ctx)
	if err != nil {
		return nil, err
	}
	d.info = info
	d.lastDetected = time.Now()
	return info, nil
}

// Clear drops the cached result.
func (d *BinaryDetector) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.info = nil
}

func (d *BinaryDetector) detect(ctx context.Context) (*BinaryInfo, error) {
	path, err := FindBinary(d.Path)
	if err != nil {
		return nil, err
	}
	info := &BinaryInfo{FFmpegPath: path}

	out, err := exec.CommandContext(ctx, path, "-version").Output()
	if err != nil {
		return nil, fmt.Errorf("getting ffmpeg version: %w", err)
	}
	v, err := parseVersion(string(out))
	if err != nil {
		return nil, err
	}
	info.Version = v.Full
	info.MajorVersion = v.Major
	info.MinorVersion = v.Minor
	info.BuildDate = v.BuildDate
	info.Configuration = v.Configuration

	if out, err := exec.CommandContext(ctx, path, "-encoders", "-hide_banner").Output(); err == nil {
		info.Encoders = parseEncoders(string(out))
	}

	if d.ProbeHardware {
		accels, err := NewHWAccelDetector(path).Detect(ctx, info.Encoders)
		if err == nil {
			info.HWAccels = accels
		}
	}

	return info, nil
}

// FindBinary locates ffmpeg. Search order: explicit path, the BinaryEnv
// environment variable, ./ffmpeg, then PATH. Each candidate must be an
// executable regular file.
func FindBinary(explicit string) (string, error) {
	candidates := []string{explicit, os.Getenv(BinaryEnv), "./ffmpeg"}
	for _, c := range candidates {
		if c != "" && isExecutable(c) {
			return c, nil
		}
	}
	if path, err := exec.LookPath("ffmpeg"); err == nil {
		return path, nil
	}
	if explicit != "" {
		return "", fmt.Errorf("%w: %s is not executable", ErrNotFound, explicit)
	}
	return "", ErrNotFound
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	return info.Mode()&0o111 != 0
}

type versionInfo struct {
	Full          string
	Major         int
	Minor         int
	BuildDate     string
	Configuration string
}

var versionRegex = regexp.MustCompile(`^n?(\d+)\.(\d+)`)

// parseVersion parses `ffmpeg -version` output. Version strings look like
// "6.0", "n6.0-2-g..." or "6.0.1".
func parseVersion(output string) (*versionInfo, error) {
	info := &versionInfo{}
	for line := range strings.SplitSeq(output, "\n") {
		switch {
		case strings.HasPrefix(line, "ffmpeg version"):
			parts := strings.Fields(line)
			if len(parts) < 3 {
				continue
			}
			info.Full = parts[2]
			if m := versionRegex.FindStringSubmatch(parts[2]); len(m) >= 3 {
				info.Major, _ = strconv.Atoi(m[1])
				info.Minor, _ = strconv.Atoi(m[2])
			}
		case strings.HasPrefix(line, "built with"):
			info.BuildDate = strings.TrimPrefix(line, "built with ")
		case strings.HasPrefix(line, "configuration:"):
			info.Configuration = strings.TrimPrefix(line, "configuration: ")
		}
	}
	if info.Full == "" {
		return nil, errors.New("failed to parse ffmpeg version")
	}
	return info, nil
}

// parseEncoders parses `ffmpeg -encoders` output, returning video encoder
// names. Lines after the dashed separator look like
// " V....D libx264   libx264 H.264 / AVC".
func parseEncoders(output string) []string {
	var encoders []string
	inList := false
	for line := range strings.SplitSeq(output, "\n") {
		if strings.Contains(line, "------") {
			inList = true
			continue
		}
		if !inList {
			continue
		}
		line = strings.TrimLeft(line, " ")
		if len(line) < 8 || line[0] != 'V' {
			continue
		}
		if parts := strings.Fields(line[6:]); len(parts) > 0 {
			encoders = append(encoders, parts[0])
		}
	}
	return encoders
}
