package ffmpeg

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"slices"
	"strings"
)

// HWAccelType is a hardware encoding backend.
type HWAccelType string

const (
	HWAccelNone         HWAccelType = "none"
	HWAccelVAAPI        HWAccelType = "vaapi"        // VA-API (Linux)
	HWAccelCUDA         HWAccelType = "cuda"         // NVIDIA NVENC
	HWAccelQSV          HWAccelType = "qsv"          // Intel Quick Sync
	HWAccelVideoToolbox HWAccelType = "videotoolbox" // macOS
	HWAccelAMF          HWAccelType = "amf"          // AMD (Windows)
)

// HWAccelInfo describes one hardware backend and whether it works.
type HWAccelInfo struct {
	Type       HWAccelType `json:"type"`
	Available  bool        `json:"available"`
	DeviceName string      `json:"device_name,omitempty"`
	Encoders   []string    `json:"encoders,omitempty"`
}

// encoderSuffixes maps a backend to the ffmpeg encoder name suffix it owns.
var encoderSuffixes = map[HWAccelType]string{
	HWAccelVAAPI:        "_vaapi",
	HWAccelCUDA:         "_nvenc",
	HWAccelQSV:          "_qsv",
	HWAccelVideoToolbox: "_videotoolbox",
	HWAccelAMF:          "_amf",
}

// vaapiDevices are the render nodes probed for VA-API.
var vaapiDevices = []string{"/dev/dri/renderD128", "/dev/dri/renderD129"}

// HWAccelDetector probes which hardware encoders actually work. ffmpeg lists
// encoders it was built with even when no device can run them, so each
// backend is verified with a tiny test encode.
type HWAccelDetector struct {
	ffmpegPath string
	run        func(ctx context.Context, name string, args ...string) error
}

// NewHWAccelDetector creates a detector for the given binary.
func NewHWAccelDetector(ffmpegPath string) *HWAccelDetector {
	return &HWAccelDetector{
		ffmpegPath: ffmpegPath,
		run: func(ctx context.Context, name string, args ...string) error {
			return exec.CommandContext(ctx, name, args...).Run()
		},
	}
}

// Detect returns one entry per backend that has at least one encoder in
// encoders. Backends are tested in selection priority order.
func (d *HWAccelDetector) Detect(ctx context.Context, encoders []string) ([]HWAccelInfo, error) {
	var results []HWAccelInfo
	for _, accel := range Priority {
		accelEncoders := AccelEncoders(accel, encoders)
		if len(accelEncoders) == 0 {
			continue
		}
		info := HWAccelInfo{Type: accel}
		info.Available, info.DeviceName = d.test(ctx, accel, accelEncoders[0])
		if info.Available {
			info.Encoders = accelEncoders
		}
		results = append(results, info)
	}
	return results, nil
}

// AccelEncoders filters encoders down to the ones belonging to accel.
func AccelEncoders(accel HWAccelType, encoders []string) []string {
	suffix, ok := encoderSuffixes[accel]
	if !ok {
		return nil
	}
	var out []string
	for _, enc := range encoders {
		if strings.HasSuffix(enc, suffix) {
			out = append(out, enc)
		}
	}
	slices.Sort(out)
	return out
}

func (d *HWAccelDetector) test(ctx context.Context, accel HWAccelType, enc string) (bool, string) {
	switch accel {
	case HWAccelVAAPI:
		if runtime.GOOS != "linux" {
			return false, ""
		}
		for _, device := range vaapiDevices {
			if d.probe(ctx, enc, []string{"-vaapi_device", device}, "format=nv12,hwupload") == nil {
				return true, device
			}
		}
		return false, ""
	case HWAccelCUDA:
		return d.probe(ctx, enc, []string{"-hwaccel", "cuda"}, "") == nil, "NVIDIA NVENC"
	case HWAccelQSV:
		return d.probe(ctx, enc, []string{"-init_hw_device", "qsv=hw"}, "hwupload=extra_hw_frames=64,format=qsv") == nil, "Intel Quick Sync"
	case HWAccelVideoToolbox:
		if runtime.GOOS != "darwin" {
			return false, ""
		}
		return d.probe(ctx, enc, nil, "") == nil, "Apple VideoToolbox"
	case HWAccelAMF:
		if runtime.GOOS != "windows" {
			return false, ""
		}
		return d.probe(ctx, enc, nil, "") == nil, "AMD AMF"
	default:
		return false, ""
	}
}

// probe encodes a fraction of a second of lavfi nullsrc with enc.
func (d *HWAccelDetector) probe(ctx context.Context, enc string, pre []string, filter string) error {
	args := []string{"-hide_banner", "-loglevel", "error"}
	args = append(args, pre...)
	args = append(args, "-f", "lavfi", "-i", "nullsrc=s=320x240:d=0.1")
	if filter != "" {
		args = append(args, "-vf", filter)
	}
	args = append(args, "-c:v", enc, "-t", "0.01", "-f", "null", "-")
	if err := d.run(ctx, d.ffmpegPath, args...); err != nil {
		return fmt.Errorf("probing %s: %w", enc, err)
	}
	return nil
}

// Available returns the working hardware backends.
func (info *BinaryInfo) Available() []HWAccelInfo {
	var out []HWAccelInfo
	for _, accel := range info.HWAccels {
		if accel.Available {
			out = append(out, accel)
		}
	}
	return out
}
