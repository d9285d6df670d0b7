package writer

import (
	"errors"
	"fmt"
	"io"

	"mercator-hq/tabula/pkg/export"
)

// DefaultChunkSize is the number of rows encoded between two flushes.
const DefaultChunkSize = 1000

// Config configures a Writer.
type Config struct {
	// ChunkSize is the number of rows between flushes. Zero uses DefaultChunkSize.
	ChunkSize int

	// TempDir is where the XLSX encoder spills rows. Empty uses os.TempDir.
	TempDir string

	// CSV holds the default delimiter and framing for CSV and TSV output.
	CSV export.CSVSettings
}

// Options are the per-export encoding options.
type Options struct {
	// Headings is written as the first row. For JSON it turns rows into objects.
	Headings []string

	// Title names the XLSX worksheet.
	Title string

	// CSV overrides the writer's default CSV settings.
	CSV *export.CSVSettings

	// ChunkSize overrides the writer's chunk size.
	ChunkSize int
}

// Outcome summarises an encoded document.
type Outcome struct {
	// Rows is the number of data rows written, headings excluded.
	Rows int

	// Bytes is the number of bytes written to the sink.
	Bytes int64
}

// Writer encodes rows into documents. It holds no per-call state and is safe
// for concurrent use.
type Writer struct {
	chunkSize int
	tempDir   string
	csv       export.CSVSettings
}

// New creates a Writer. A nil config uses the defaults.
func New(cfg *Config) *Writer {
	w := &Writer{chunkSize: DefaultChunkSize}
	if cfg == nil {
		return w
	}
	if cfg.ChunkSize > 0 {
		w.chunkSize = cfg.ChunkSize
	}
	w.tempDir = cfg.TempDir
	w.csv = cfg.CSV
	return w
}

// encoder is implemented by every output format.
type encoder interface {
	writeHeadings(headings []string) error
	writeRow(cells []any) error
	flush() error
	finish() error
	close() error
}

// Write consumes rows and encodes them as format into sink.
//
// rows is closed on every return path. The encoder does not observe
// cancellation on its own; a cancelled row source ends iteration and its error
// is returned unchanged. On failure the sink may hold a partial document.
func (w *Writer) Write(rows export.Rows, format export.Format, sink io.Writer, opts Options) (Outcome, error) {
	var out Outcome
	if rows == nil {
		rows = export.SliceRows(nil)
	}
	defer rows.Close()

	if !format.Valid() {
		return out, export.NewUnresolvedFormatError("", string(format))
	}

	cw := &countingWriter{w: sink}
	enc, err := w.newEncoder(format, cw, opts)
	if err != nil {
		return out, classify(format, cw, 0, err)
	}
	defer enc.close()

	chunk := w.chunkSize
	if opts.ChunkSize > 0 {
		chunk = opts.ChunkSize
	}

	width := -1
	if len(opts.Headings) > 0 {
		width = len(opts.Headings)
		if err := enc.writeHeadings(opts.Headings); err != nil {
			return w.done(out, cw), classify(format, cw, 0, err)
		}
	}

	for rows.Next() {
		rowNum := out.Rows + 1
		row := rows.Row()

		if width < 0 {
			width = len(row)
		} else if len(row) != width {
			return w.done(out, cw), export.NewEncodingError(format, rowNum, 0,
				fmt.Errorf("%w: expected %d, got %d", export.ErrColumnCount, width, len(row)))
		}

		cells, col, err := normalizeRow(row)
		if err != nil {
			return w.done(out, cw), export.NewEncodingError(format, rowNum, col, err)
		}

		if err := enc.writeRow(cells); err != nil {
			return w.done(out, cw), classify(format, cw, rowNum, err)
		}
		out.Rows++

		if out.Rows%chunk == 0 {
			if err := enc.flush(); err != nil {
				return w.done(out, cw), classify(format, cw, rowNum, err)
			}
		}
	}
	if err := rows.Err(); err != nil {
		return w.done(out, cw), err
	}

	if err := enc.finish(); err != nil {
		return w.done(out, cw), classify(format, cw, 0, err)
	}
	return w.done(out, cw), nil
}

func (w *Writer) done(out Outcome, cw *countingWriter) Outcome {
	out.Bytes = cw.n
	return out
}

func (w *Writer) newEncoder(format export.Format, out io.Writer, opts Options) (encoder, error) {
	switch format {
	case export.XLSX:
		return newXLSXEncoder(out, opts.Title, w.tempDir)
	case export.CSV, export.TSV:
		settings := w.csv
		if opts.CSV != nil {
			settings = *opts.CSV
		}
		return newCSVEncoder(out, format, settings)
	case export.JSON:
		return newJSONEncoder(out), nil
	default:
		return nil, export.NewUnresolvedFormatError("", string(format))
	}
}

// classify turns an encoder failure into an IoError when the sink failed and
// into an EncodingError otherwise.
func classify(format export.Format, cw *countingWriter, row int, err error) error {
	if cw.err != nil {
		return export.NewIoError("write", "", cw.err)
	}
	var encErr *export.EncodingError
	if errors.As(err, &encErr) {
		return err
	}
	var fmtErr *export.UnresolvedFormatError
	if errors.As(err, &fmtErr) {
		return err
	}
	return export.NewEncodingError(format, row, 0, err)
}

// countingWriter counts bytes and remembers the first sink error.
type countingWriter struct {
	w   io.Writer
	n   int64
	err error
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	if err != nil && c.err == nil {
		c.err = err
	}
	return n, err
}
