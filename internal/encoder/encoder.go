// Package encoder defines the boundary between capture loops and the video
// encoder that consumes captured surfaces.
package encoder

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmylchreest/deskcap/internal/capture"
	"github.com/jmylchreest/deskcap/internal/ffmpeg"
)

// Errors returned by encoder implementations.
var (
	ErrNotInitialized     = errors.New("encoder: not initialized")
	ErrAlreadyInitialized = errors.New("encoder: already initialized")
	ErrWriteTimeout       = errors.New("encoder: write timed out")
	ErrProcessExited      = errors.New("encoder: process exited")
)

// ProcessReporter is implemented by encoders that drive an external process.
// ok is false while no process is running.
type ProcessReporter interface {
	ProcessStats(ctx context.Context) (stats ffmpeg.ProcessStats, ok bool)
}

// Format describes the frames an encoder will receive.
type Format struct {
	Width     int
	Height    int
	FrameRate float64
}

// Validate checks the format is usable.
func (f Format) Validate() error {
	if f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("invalid frame size %dx%d", f.Width, f.Height)
	}
	if f.FrameRate <= 0 {
		return fmt.Errorf("invalid frame rate %v", f.FrameRate)
	}
	return nil
}

// Encoder consumes captured surfaces for one display.
//
// Init is called once per capture session lifetime, including after a
// session is recovered. Cleanup(true) tears the encoder down without waiting
// for queued work and is used before a re-init; Cleanup(false) flushes.
// Preprocess must bound its own blocking time and report failure with an
// error; a failed Preprocess ends the capture loop.
type Encoder interface {
	Init(ctx context.Context, format Format) error
	Preprocess(ctx context.Context, surface capture.Surface) error
	Cleanup(force bool) error
	Name() string
}

// Factory builds the encoder for one display.
type Factory func(display capture.Display) (Encoder, error)
