package encoder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jmylchreest/deskcap/internal/capture"
	"github.com/jmylchreest/deskcap/internal/ffmpeg"
	"github.com/jmylchreest/deskcap/internal/observability"
)

const defaultCloseTimeout = 10 * time.Second

// FFmpegOptions configures an FFmpeg encoder.
type FFmpegOptions struct {
	// Binary is the ffmpeg executable.
	Binary string
	// Selection is the encoder chosen by ffmpeg.EncoderSelector.
	Selection ffmpeg.Selection
	Bitrate   string
	Preset    string
	// Width and Height scale frames before encoding. Zero keeps the source size.
	Width  int
	Height int
	// OutputDir receives one file per display and session.
	OutputDir string
	// Container is the output extension and muxer (ts, mkv, mp4, h264, hevc).
	Container string
	// WriteTimeout bounds each frame write.
	WriteTimeout time.Duration
	// CloseTimeout bounds a graceful Cleanup.
	CloseTimeout time.Duration
	Logger       *slog.Logger
}

// process is the subset of *ffmpeg.Process the encoder drives.
type process interface {
	WriteFrame(frame []byte, timeout time.Duration) error
	CloseInput(timeout time.Duration) error
	Kill() error
	Stats(ctx context.Context) ffmpeg.ProcessStats
}

type liveProcess struct{ process }

type startFunc func(cmd *ffmpeg.Command, logger *slog.Logger) (process, error)

func startProcess(cmd *ffmpeg.Command, logger *slog.Logger) (process, error) {
	return ffmpeg.Start(cmd, logger)
}

// FFmpeg encodes one display's frames with an ffmpeg child process fed raw
// RGBA frames on stdin. Each Init starts a new process writing a new file.
type FFmpeg struct {
	opts    FFmpegOptions
	display capture.Display
	muxer   string
	logger  *slog.Logger
	start   startFunc
	now     func() time.Time

	mu      sync.Mutex
	proc    process
	packer  *framePacker
	format  Format
	inits   int
	outputs []string

	// live mirrors proc for ProcessStats, which must not wait on a frame
	// write holding mu.
	live atomic.Pointer[liveProcess]
}

// NewFFmpeg creates an encoder for display. No process is started until Init.
func NewFFmpeg(display capture.Display, opts FFmpegOptions) (*FFmpeg, error) {
	if opts.Binary == "" {
		return nil, errors.New("ffmpeg binary is required")
	}
	if opts.Selection.Encoder == "" {
		return nil, errors.New("video encoder is required")
	}
	muxer, err := ffmpeg.ContainerFormat(opts.Container)
	if err != nil {
		return nil, err
	}
	if opts.CloseTimeout <= 0 {
		opts.CloseTimeout = defaultCloseTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = observability.Discard()
	}
	return &FFmpeg{
		opts:    opts,
		display: display,
		muxer:   muxer,
		logger:  observability.WithDisplay(observability.WithComponent(logger, "encoder"), display.Index),
		start:   startProcess,
		now:     time.Now,
	}, nil
}

// Name implements Encoder.
func (e *FFmpeg) Name() string { return "ffmpeg/" + e.opts.Selection.Encoder }

// Outputs returns the files written so far, in order.
func (e *FFmpeg) Outputs() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.outputs...)
}

// ProcessStats implements ProcessReporter.
func (e *FFmpeg) ProcessStats(ctx context.Context) (ffmpeg.ProcessStats, bool) {
	lp := e.live.Load()
	if lp == nil {
		return ffmpeg.ProcessStats{}, false
	}
	return lp.Stats(ctx), true
}

// Init implements Encoder.
func (e *FFmpeg) Init(ctx context.Context, format Format) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.proc != nil {
		return ErrAlreadyInitialized
	}
	if err := format.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	w, h := format.Width, format.Height
	if e.opts.Width > 0 && e.opts.Height > 0 {
		w, h = e.opts.Width, e.opts.Height
	}
	w, h = evenSize(w, h)
	if w == 0 || h == 0 {
		return fmt.Errorf("frame size %dx%d too small to encode", format.Width, format.Height)
	}

	if err := os.MkdirAll(e.opts.OutputDir, 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	output := e.outputPath()
	cmd := e.command(w, h, format.FrameRate, output)

	proc, err := e.start(cmd, e.logger)
	if err != nil {
		return fmt.Errorf("starting %s: %w", e.opts.Selection.Encoder, err)
	}

	e.proc = proc
	e.live.Store(&liveProcess{proc})
	e.packer = newFramePacker(w, h)
	e.format = format
	e.inits++
	e.outputs = append(e.outputs, output)

	e.logger.Info("encoder started",
		slog.String("encoder", e.opts.Selection.Encoder),
		slog.String("hwaccel", string(e.opts.Selection.HWAccel)),
		slog.String("output", output),
		slog.Int("width", w),
		slog.Int("height", h),
		slog.Float64("frame_rate", format.FrameRate),
	)
	e.logger.Debug("ffmpeg command", slog.String("command", cmd.String()))
	return nil
}

// outputPath names the first session's file display-<n>.<ext>; later
// sessions add a unix timestamp so earlier output is kept.
func (e *FFmpeg) outputPath() string {
	name := fmt.Sprintf("display-%d.%s", e.display.Index, e.opts.Container)
	if e.inits > 0 {
		name = fmt.Sprintf("display-%d-%d.%s", e.display.Index, e.now().Unix(), e.opts.Container)
	}
	return filepath.Join(e.opts.OutputDir, name)
}

func (e *FFmpeg) command(w, h int, fps float64, output string) *ffmpeg.Command {
	sel := e.opts.Selection
	b := ffmpeg.NewCommandBuilder(e.opts.Binary).HideBanner()

	var device string
	if sel.HWAccel == ffmpeg.HWAccelVAAPI {
		device = sel.Device
	}
	b.InitHWDevice(sel.HWAccel, device).
		RawVideoInput(w, h, fps, "rgba").
		HWUploadFilter(sel.HWAccel)
	if sel.Software() {
		b.PixelFormat("yuv420p")
	}
	return b.VideoCodec(sel.Encoder).
		VideoBitrate(e.opts.Bitrate).
		VideoPreset(e.opts.Preset).
		Format(e.muxer).
		Overwrite().
		Output(output).
		Build()
}

// Preprocess implements Encoder. The surface is packed (and scaled if
// needed) and written to ffmpeg within WriteTimeout.
func (e *FFmpeg) Preprocess(_ context.Context, surface capture.Surface) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.proc == nil {
		return ErrNotInitialized
	}
	if surface == nil {
		return errors.New("ffmpeg encoder: nil surface")
	}
	img := surface.RGBA()
	if img == nil {
		return errors.New("ffmpeg encoder: surface has no pixels")
	}

	err := e.proc.WriteFrame(e.packer.pack(img), e.opts.WriteTimeout)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ffmpeg.ErrWriteTimeout):
		return fmt.Errorf("%w: %w", ErrWriteTimeout, err)
	case errors.Is(err, ffmpeg.ErrExited):
		return fmt.Errorf("%w: %w", ErrProcessExited, err)
	default:
		return err
	}
}

// Cleanup implements Encoder. force kills ffmpeg; otherwise stdin is closed
// and the process is given CloseTimeout to finish the file.
func (e *FFmpeg) Cleanup(force bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.proc == nil {
		return nil
	}
	proc := e.proc
	e.proc = nil
	e.live.Store(nil)
	e.packer = nil

	if force {
		if err := proc.Kill(); err != nil {
			return err
		}
		e.logger.Debug("encoder killed")
		return nil
	}
	if err := proc.CloseInput(e.opts.CloseTimeout); err != nil {
		return err
	}
	e.logger.Info("encoder finished", slog.String("output", e.outputs[len(e.outputs)-1]))
	return nil
}
