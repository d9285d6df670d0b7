package writer

import (
	"encoding/csv"
	"io"

	"mercator-hq/tabula/pkg/export"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// csvEncoder writes CSV and TSV through encoding/csv.
type csvEncoder struct {
	out     io.Writer
	w       *csv.Writer
	crlf    bool
	record  []string
	written bool
}

func newCSVEncoder(out io.Writer, format export.Format, settings export.CSVSettings) (*csvEncoder, error) {
	if settings.UseBOM {
		if _, err := out.Write(utf8BOM); err != nil {
			return nil, err
		}
	}

	w := csv.NewWriter(out)
	switch {
	case settings.Delimiter != 0:
		w.Comma = settings.Delimiter
	case format == export.TSV:
		w.Comma = '\t'
	}
	w.UseCRLF = settings.UseCRLF

	return &csvEncoder{out: out, w: w, crlf: settings.UseCRLF}, nil
}

func (e *csvEncoder) writeHeadings(headings []string) error {
	e.written = true
	if len(headings) == 1 && headings[0] == "" {
		return e.writeEmptyField()
	}
	return e.w.Write(headings)
}

func (e *csvEncoder) writeRow(cells []any) error {
	if cap(e.record) < len(cells) {
		e.record = make([]string, len(cells))
	}
	e.record = e.record[:len(cells)]
	for i, c := range cells {
		e.record[i] = cellText(c)
	}
	e.written = true
	if len(e.record) == 1 && e.record[0] == "" {
		return e.writeEmptyField()
	}
	return e.w.Write(e.record)
}

// writeEmptyField writes a record holding one empty field as `""`. Readers
// skip blank lines, so the bare line terminator would drop the row.
func (e *csvEncoder) writeEmptyField() error {
	if err := e.flush(); err != nil {
		return err
	}
	_, err := io.WriteString(e.out, `""`+e.eol())
	return err
}

func (e *csvEncoder) eol() string {
	if e.crlf {
		return "\r\n"
	}
	return "\n"
}

func (e *csvEncoder) flush() error {
	e.w.Flush()
	return e.w.Error()
}

func (e *csvEncoder) finish() error {
	if err := e.flush(); err != nil {
		return err
	}
	if e.written {
		return nil
	}
	// An empty document is a single line terminator.
	_, err := io.WriteString(e.out, e.eol())
	return err
}

func (e *csvEncoder) close() error {
	return nil
}
