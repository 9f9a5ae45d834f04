package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// Process errors.
var (
	ErrWriteTimeout = errors.New("ffmpeg: stdin write timed out")
	ErrExited       = errors.New("ffmpeg: process exited")
)

const (
	stderrLines = 100
	// statsStderrLines is how much stderr a Stats sample carries.
	statsStderrLines = 3
)

// ProcessStats describes a running encoder process.
type ProcessStats struct {
	PID            int           `json:"pid"`
	CPUPercent     float64       `json:"cpu_percent"`
	MemoryRSSBytes uint64        `json:"memory_rss_bytes"`
	BytesWritten   uint64        `json:"bytes_written"`
	FramesWritten  uint64        `json:"frames_written"`
	StartedAt      time.Time     `json:"started_at"`
	Duration       time.Duration `json:"duration"`
	StderrTail     []string      `json:"stderr_tail,omitempty"`
}

// Process is a running ffmpeg that reads its input from stdin. Frames are
// written with WriteFrame; the process is finished with CloseInput (flush and
// wait) or Kill.
//
// The process is not bound to a context: it must be able to flush after the
// caller's context has been cancelled.
type Process struct {
	command *Command
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	started time.Time
	stderr  *stderrRing

	writeMu sync.Mutex
	done    chan struct{}
	waitErr error

	bytesWritten  atomic.Uint64
	framesWritten atomic.Uint64
}

// Start launches the command with a stdin pipe.
func Start(c *Command, logger *slog.Logger) (*Process, error) {
	cmd := exec.Command(c.Binary, c.Args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("getting stdin pipe: %w", err)
	}
	ring := newStderrRing(stderrLines, logger)
	cmd.Stderr = ring

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting ffmpeg: %w", err)
	}

	p := &Process{
		command: c,
		cmd:     cmd,
		stdin:   stdin,
		started: time.Now(),
		stderr:  ring,
		done:    make(chan struct{}),
	}
	go func() {
		p.waitErr = cmd.Wait()
		close(p.done)
	}()
	return p, nil
}

// PID returns the operating system process id.
func (p *Process) PID() int { return p.cmd.Process.Pid }

// Command returns the command the process was started with.
func (p *Process) Command() *Command { return p.command }

// Exited reports whether the process has terminated.
func (p *Process) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// WriteFrame writes one frame to stdin. A write that has not completed after
// timeout kills the process and returns ErrWriteTimeout. timeout <= 0 waits
// indefinitely.
func (p *Process) WriteFrame(frame []byte, timeout time.Duration) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	if p.Exited() {
		return p.exitError()
	}

	errCh := make(chan error, 1)
	go func() {
		_, err := p.stdin.Write(frame)
		errCh <- err
	}()

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case err := <-errCh:
		if err != nil {
			if p.Exited() {
				return p.exitError()
			}
			return fmt.Errorf("writing frame: %w", err)
		}
		p.bytesWritten.Add(uint64(len(frame)))
		p.framesWritten.Add(1)
		return nil
	case <-expired:
		_ = p.kill()
		<-errCh
		return fmt.Errorf("%w after %s", ErrWriteTimeout, timeout)
	}
}

// CloseInput closes stdin so ffmpeg flushes and exits, waiting up to timeout
// before killing it. It returns the process exit error, if any.
func (p *Process) CloseInput(timeout time.Duration) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	_ = p.stdin.Close()
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-p.done:
	case <-timer.C:
		_ = p.kill()
		return fmt.Errorf("ffmpeg did not exit within %s after input closed", timeout)
	}
	if p.waitErr != nil {
		return p.withStderr(fmt.Errorf("ffmpeg exited: %w", p.waitErr))
	}
	return nil
}

// Kill terminates the process without flushing and waits for it to exit.
func (p *Process) Kill() error {
	return p.kill()
}

func (p *Process) kill() error {
	if p.Exited() {
		return nil
	}
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("killing ffmpeg: %w", err)
	}
	<-p.done
	return nil
}

func (p *Process) exitError() error {
	err := ErrExited
	if p.waitErr != nil {
		err = fmt.Errorf("%w: %w", ErrExited, p.waitErr)
	}
	return p.withStderr(err)
}

func (p *Process) withStderr(err error) error {
	if tail := p.stderr.Last(); tail != "" {
		return fmt.Errorf("%w (stderr: %s)", err, tail)
	}
	return err
}

// StderrLines returns the most recent stderr lines.
func (p *Process) StderrLines() []string {
	return p.stderr.Lines()
}

// Stats samples CPU and memory of the process along with its write
// counters and the last few stderr lines.
func (p *Process) Stats(ctx context.Context) ProcessStats {
	stats := ProcessStats{
		PID:           p.PID(),
		BytesWritten:  p.bytesWritten.Load(),
		FramesWritten: p.framesWritten.Load(),
		StartedAt:     p.started,
		Duration:      time.Since(p.started),
	}
	if lines := p.StderrLines(); len(lines) > 0 {
		stats.StderrTail = lines[max(0, len(lines)-statsStderrLines):]
	}
	if p.Exited() {
		return stats
	}
	proc, err := process.NewProcessWithContext(ctx, int32(stats.PID))
	if err != nil {
		return stats
	}
	if cpu, err := proc.CPUPercentWithContext(ctx); err == nil {
		stats.CPUPercent = cpu
	}
	if mem, err := proc.MemoryInfoWithContext(ctx); err == nil && mem != nil {
		stats.MemoryRSSBytes = mem.RSS
	}
	return stats
}

// stderrRing keeps the last n stderr lines and forwards each to the logger.
type stderrRing struct {
	mu      sync.Mutex
	lines   []string
	max     int
	partial []byte
	logger  *slog.Logger
}

func newStderrRing(n int, logger *slog.Logger) *stderrRing {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &stderrRing{max: n, lines: make([]string, 0, n), logger: logger}
}

func (r *stderrRing) Write(b []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.partial = append(r.partial, b...)
	for {
		i := bytes.IndexByte(r.partial, '\n')
		if i < 0 {
			break
		}
		line := strings.TrimRight(string(r.partial[:i]), "\r")
		r.partial = r.partial[i+1:]
		if line == "" {
			continue
		}
		if len(r.lines) >= r.max {
			r.lines = r.lines[1:]
		}
		r.lines = append(r.lines, line)
		r.logger.Debug("ffmpeg stderr", slog.String("line", line))
	}
	return len(b), nil
}

func (r *stderrRing) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.lines))
	copy(out, r.lines)
	return out
}

func (r *stderrRing) Last() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.lines) == 0 {
		return ""
	}
	return r.lines[len(r.lines)-1]
}
