package diagnostics

import (
	"bufio"
	"compress/gzip"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/dsnet/compress/bzip2"
	"github.com/ulikunitz/xz"
)

// Format is an export file format.
type Format string

const (
	FormatCSV   Format = "csv"
	FormatJSONL Format = "jsonl"
	// FormatText is the PresentTSLog line format.
	FormatText Format = "text"
)

// ParseFormat parses an export format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatCSV, FormatJSONL, FormatText:
		return f, nil
	case "json", "ndjson":
		return FormatJSONL, nil
	case "txt":
		return FormatText, nil
	}
	return "", fmt.Errorf("unknown export format %q (csv, jsonl, text)", s)
}

// Extension returns the file extension of the format.
func (f Format) Extension() string {
	if f == FormatText {
		return ".txt"
	}
	return "." + string(f)
}

// Compression is an export compression codec.
type Compression string

const (
	CompressionNone   Compression = "none"
	CompressionGzip   Compression = "gzip"
	CompressionBzip2  Compression = "bzip2"
	CompressionXZ     Compression = "xz"
	CompressionBrotli Compression = "br"
)

// ParseCompression parses a compression name. Empty means none.
func ParseCompression(s string) (Compression, error) {
	switch c := Compression(strings.ToLower(s)); c {
	case "", CompressionNone:
		return CompressionNone, nil
	case CompressionGzip, CompressionBzip2, CompressionXZ, CompressionBrotli:
		return c, nil
	case "gz":
		return CompressionGzip, nil
	case "bz2":
		return CompressionBzip2, nil
	case "brotli":
		return CompressionBrotli, nil
	}
	return "", fmt.Errorf("unknown compression %q (none, gzip, bzip2, xz, br)", s)
}

// Extension returns the file extension of the compression, or "".
func (c Compression) Extension() string {
	switch c {
	case CompressionGzip:
		return ".gz"
	case CompressionBzip2:
		return ".bz2"
	case CompressionXZ:
		return ".xz"
	case CompressionBrotli:
		return ".br"
	}
	return ""
}

// CompressionFromPath infers the compression from a file name.
func CompressionFromPath(path string) Compression {
	for _, c := range []Compression{CompressionGzip, CompressionBzip2, CompressionXZ, CompressionBrotli} {
		if strings.HasSuffix(path, c.Extension()) {
			return c
		}
	}
	return CompressionNone
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// NewCompressor wraps w with the compression codec. Closing the result
// finishes the stream but does not close w.
func NewCompressor(w io.Writer, c Compression) (io.WriteCloser, error) {
	switch c {
	case "", CompressionNone:
		return nopWriteCloser{w}, nil
	case CompressionGzip:
		return gzip.NewWriter(w), nil
	case CompressionBzip2:
		bw, err := bzip2.NewWriter(w, nil)
		if err != nil {
			return nil, fmt.Errorf("creating bzip2 writer: %w", err)
		}
		return bw, nil
	case CompressionXZ:
		xw, err := xz.NewWriter(w)
		if err != nil {
			return nil, fmt.Errorf("creating xz writer: %w", err)
		}
		return xw, nil
	case CompressionBrotli:
		return brotli.NewWriterLevel(w, brotli.DefaultCompression), nil
	}
	return nil, fmt.Errorf("unsupported compression %q", c)
}

// NewDecompressor wraps r to read a stream written with the codec.
func NewDecompressor(r io.Reader, c Compression) (io.ReadCloser, error) {
	switch c {
	case "", CompressionNone:
		return io.NopCloser(r), nil
	case CompressionGzip:
		gzr, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("creating gzip reader: %w", err)
		}
		return gzr, nil
	case CompressionBzip2:
		bzr, err := bzip2.NewReader(r, nil)
		if err != nil {
			return nil, fmt.Errorf("creating bzip2 reader: %w", err)
		}
		return bzr, nil
	case CompressionXZ:
		xzr, err := xz.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("creating xz reader: %w", err)
		}
		return io.NopCloser(xzr), nil
	case CompressionBrotli:
		return io.NopCloser(brotli.NewReader(r)), nil
	}
	return nil, fmt.Errorf("unsupported compression %q", c)
}

// CSVHeader is the header row of CSV exports.
var CSVHeader = []string{
	"run_id", "display", "sequence", "accumulated", "pts_us", "interval_us",
	"cursor_only", "mouse_ticks", "captured_at",
}

// Exporter writes records in one format through an optional compressor.
type Exporter struct {
	format Format
	comp   io.WriteCloser
	buf    *bufio.Writer
	csv    *csv.Writer
	json   *json.Encoder
	count  int
	closed bool
}

// NewExporter returns an Exporter writing to w. Close must be called to
// flush the stream; it does not close w.
func NewExporter(w io.Writer, format Format, compression Compression) (*Exporter, error) {
	comp, err := NewCompressor(w, compression)
	if err != nil {
		return nil, err
	}
	e := &Exporter{format: format, comp: comp, buf: bufio.NewWriter(comp)}
	switch format {
	case FormatCSV:
		e.csv = csv.NewWriter(e.buf)
		if err := e.csv.Write(CSVHeader); err != nil {
			return nil, fmt.Errorf("writing csv header: %w", err)
		}
	case FormatJSONL:
		e.json = json.NewEncoder(e.buf)
	case FormatText:
	default:
		return nil, fmt.Errorf("unsupported export format %q", format)
	}
	return e, nil
}

// Write writes one record.
func (e *Exporter) Write(rec Record) error {
	if e.closed {
		return errors.New("exporter is closed")
	}
	var err error
	switch e.format {
	case FormatCSV:
		err = e.csv.Write(csvRow(rec))
	case FormatJSONL:
		err = e.json.Encode(rec)
	case FormatText:
		_, err = e.buf.WriteString(FormatLine(rec) + "\n")
	}
	if err != nil {
		return fmt.Errorf("writing record %d of display %d: %w", rec.Sequence, rec.DisplayIndex, err)
	}
	e.count++
	return nil
}

// Count returns the number of records written.
func (e *Exporter) Count() int { return e.count }

// Close flushes buffered output and finishes the compressed stream.
func (e *Exporter) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true

	var errs []error
	if e.csv != nil {
		e.csv.Flush()
		errs = append(errs, e.csv.Error())
	}
	errs = append(errs, e.buf.Flush(), e.comp.Close())
	return errors.Join(errs...)
}

func csvRow(rec Record) []string {
	return []string{
		rec.RunID,
		strconv.Itoa(rec.DisplayIndex),
		strconv.FormatUint(rec.Sequence, 10),
		strconv.FormatUint(uint64(rec.AccumulatedFrames), 10),
		strconv.FormatInt(rec.PresentationMicros, 10),
		strconv.FormatInt(rec.IntervalMicros, 10),
		strconv.FormatBool(rec.CursorOnly),
		strconv.FormatInt(rec.MouseUpdateTicks, 10),
		rec.CapturedAt.UTC().Format(time.RFC3339Nano),
	}
}
