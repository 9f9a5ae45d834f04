package diagnostics

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// TextLogName is the present-timestamp log file of a display.
func TextLogName(display int) string {
	return fmt.Sprintf("PresentTSLog-display%d.txt", display)
}

// FormatLine renders a record in the PresentTSLog line format:
//
//	frameNo: 11 | Accumulated: 1 | PTS: 5208312 | PTSInterval: 16667000
//	frameNo: 12 | Accumulated: 0 | MouseOnly? 5208330
//
// frameNo is the sequence before the record's accumulated updates were added.
// PTS is in microseconds and PTSInterval in nanoseconds.
func FormatLine(rec Record) string {
	if rec.CursorOnly {
		return fmt.Sprintf("frameNo: %d | Accumulated: %d | MouseOnly? %d",
			rec.Sequence, rec.AccumulatedFrames, rec.MouseUpdateTicks)
	}
	return fmt.Sprintf("frameNo: %d | Accumulated: %d | PTS: %d | PTSInterval: %d",
		rec.frameNo(), rec.AccumulatedFrames, rec.PresentationMicros, rec.IntervalMicros*1000)
}

func (r Record) frameNo() uint64 {
	acc := uint64(r.AccumulatedFrames)
	if acc > r.Sequence {
		return 0
	}
	return r.Sequence - acc
}

// TextSink writes one PresentTSLog file per display into a directory. Files
// are truncated when first written in a run.
type TextSink struct {
	dir string

	mu     sync.Mutex
	files  map[int]*textFile
	err    error
	closed bool
}

type textFile struct {
	f *os.File
	w *bufio.Writer
}

// NewTextSink creates dir if needed and returns a TextSink writing into it.
func NewTextSink(dir string) (*TextSink, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating diagnostics directory: %w", err)
	}
	return &TextSink{dir: dir, files: make(map[int]*textFile)}, nil
}

// Path returns the log file of a display.
func (s *TextSink) Path(display int) string {
	return filepath.Join(s.dir, TextLogName(display))
}

// Record implements Sink. The first write error stops the sink and is
// returned by Close.
func (s *TextSink) Record(_ context.Context, rec Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.err != nil {
		return
	}

	tf, ok := s.files[rec.DisplayIndex]
	if !ok {
		f, err := os.Create(s.Path(rec.DisplayIndex))
		if err != nil {
			s.err = fmt.Errorf("opening present timestamp log: %w", err)
			return
		}
		tf = &textFile{f: f, w: bufio.NewWriter(f)}
		s.files[rec.DisplayIndex] = tf
	}
	if _, err := io.WriteString(tf.w, FormatLine(rec)+"\n"); err != nil {
		s.err = fmt.Errorf("writing present timestamp log: %w", err)
	}
}

// Close flushes and closes every file.
func (s *TextSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	errs := []error{s.err}
	for _, tf := range s.files {
		errs = append(errs, tf.w.Flush(), tf.f.Close())
	}
	return errors.Join(errs...)
}
