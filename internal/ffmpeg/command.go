package ffmpeg

import (
	"fmt"
	"strconv"
	"strings"
)

// StdinInput is the ffmpeg input name for frames written to stdin.
const StdinInput = "pipe:0"

// Command is a fully built ffmpeg invocation.
type Command struct {
	Binary string
	Args   []string
	Output string
}

// String returns the command line.
func (c *Command) String() string {
	return c.Binary + " " + strings.Join(c.Args, " ")
}

// CommandBuilder builds ffmpeg commands with a fluent API.
type CommandBuilder struct {
	binary     string
	globalArgs []string
	inputArgs  []string
	input      string
	filterArgs []string
	outputArgs []string
	output     string
	logLevel   string
	overwrite  bool
}

// NewCommandBuilder creates a builder for the given binary.
func NewCommandBuilder(ffmpegPath string) *CommandBuilder {
	return &CommandBuilder{
		binary:   ffmpegPath,
		logLevel: "error",
	}
}

// LogLevel sets the ffmpeg log level.
func (b *CommandBuilder) LogLevel(level string) *CommandBuilder {
	b.logLevel = level
	return b
}

// HideBanner hides the ffmpeg banner.
func (b *CommandBuilder) HideBanner() *CommandBuilder {
	b.globalArgs = append(b.globalArgs, "-hide_banner")
	return b
}

// Overwrite enables output file overwriting.
func (b *CommandBuilder) Overwrite() *CommandBuilder {
	b.overwrite = true
	return b
}

// InitHWDevice initialises a named hardware device "hw". Backends that encode
// from system memory (videotoolbox, amf) and the "", "none" and "auto" values
// are ignored.
func (b *CommandBuilder) InitHWDevice(hwType HWAccelType, device string) *CommandBuilder {
	switch hwType {
	case HWAccelVAAPI, HWAccelCUDA, HWAccelQSV:
	default:
		return b
	}
	devArg := string(hwType) + "=hw"
	if device != "" {
		devArg += ":" + device
	}
	b.globalArgs = append(b.globalArgs, "-init_hw_device", devArg, "-filter_hw_device", "hw")
	return b
}

// HWUploadFilter adds the filter that converts frames to the pixel format a
// hardware encoder expects and, where needed, uploads them to the device
// created by InitHWDevice.
func (b *CommandBuilder) HWUploadFilter(hwType HWAccelType) *CommandBuilder {
	var filter string
	switch hwType {
	case HWAccelVAAPI:
		filter = "format=nv12,hwupload"
	case HWAccelCUDA:
		filter = "format=nv12,hwupload_cuda"
	case HWAccelQSV:
		filter = "format=nv12,hwupload=extra_hw_frames=64,format=qsv"
	case HWAccelVideoToolbox, HWAccelAMF:
		filter = "format=nv12"
	default:
		return b
	}
	b.filterArgs = append(b.filterArgs, filter)
	return b
}

// RawVideoInput reads tightly packed frames of pixFmt from stdin.
func (b *CommandBuilder) RawVideoInput(width, height int, fps float64, pixFmt string) *CommandBuilder {
	b.inputArgs = append(b.inputArgs,
		"-f", "rawvideo",
		"-pix_fmt", pixFmt,
		"-s", fmt.Sprintf("%dx%d", width, height),
		"-r", strconv.FormatFloat(fps, 'f', -1, 64),
	)
	b.input = StdinInput
	return b
}

// Input sets the input source.
func (b *CommandBuilder) Input(input string) *CommandBuilder {
	b.input = input
	return b
}

// InputArgs adds arbitrary input arguments.
func (b *CommandBuilder) InputArgs(args ...string) *CommandBuilder {
	b.inputArgs = append(b.inputArgs, args...)
	return b
}

// VideoFilter adds a video filter.
func (b *CommandBuilder) VideoFilter(filter string) *CommandBuilder {
	b.filterArgs = append(b.filterArgs, filter)
	return b
}

// VideoCodec sets the video encoder.
func (b *CommandBuilder) VideoCodec(codec string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-c:v", codec)
	return b
}

// VideoBitrate sets the target video bitrate.
func (b *CommandBuilder) VideoBitrate(bitrate string) *CommandBuilder {
	if bitrate != "" {
		b.outputArgs = append(b.outputArgs, "-b:v", bitrate)
	}
	return b
}

// VideoPreset sets the encoder preset.
func (b *CommandBuilder) VideoPreset(preset string) *CommandBuilder {
	if preset != "" {
		b.outputArgs = append(b.outputArgs, "-preset", preset)
	}
	return b
}

// PixelFormat sets the output pixel format.
func (b *CommandBuilder) PixelFormat(pixFmt string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-pix_fmt", pixFmt)
	return b
}

// Format sets the output container format.
func (b *CommandBuilder) Format(format string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-f", format)
	return b
}

// OutputArgs adds arbitrary output arguments.
func (b *CommandBuilder) OutputArgs(args ...string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, args...)
	return b
}

// Output sets the output destination.
func (b *CommandBuilder) Output(output string) *CommandBuilder {
	b.output = output
	return b
}

// Build assembles the argument list.
func (b *CommandBuilder) Build() *Command {
	var args []string
	args = append(args, "-loglevel", b.logLevel)
	args = append(args, b.globalArgs...)
	if b.overwrite {
		args = append(args, "-y")
	}
	args = append(args, b.inputArgs...)
	args = append(args, "-i", b.input)
	if len(b.filterArgs) > 0 {
		args = append(args, "-vf", strings.Join(b.filterArgs, ","))
	}
	args = append(args, b.outputArgs...)
	args = append(args, b.output)

	return &Command{
		Binary: b.binary,
		Args:   args,
		Output: b.output,
	}
}

// ContainerFormat maps an output container name to the ffmpeg muxer.
func ContainerFormat(container string) (string, error) {
	switch strings.ToLower(container) {
	case "ts", "mpegts":
		return "mpegts", nil
	case "mkv", "matroska":
		return "matroska", nil
	case "mp4":
		return "mp4", nil
	case "h264", "264":
		return "h264", nil
	case "hevc", "h265", "265":
		return "hevc", nil
	default:
		return "", fmt.Errorf("unsupported container %q", container)
	}
}
