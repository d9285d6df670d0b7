package writer

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"mercator-hq/tabula/pkg/export"
)

// trackingRows wraps a Rows and records whether it was closed.
type trackingRows struct {
	export.Rows
	closed bool
	err    error
}

func (r *trackingRows) Err() error {
	if r.err != nil {
		return r.err
	}
	return r.Rows.Err()
}

func (r *trackingRows) Close() error {
	r.closed = true
	return r.Rows.Close()
}

// failingWriter fails every write after limit bytes.
type failingWriter struct {
	limit int
	n     int
}

var errSinkFull = errors.New("sink full")

func (w *failingWriter) Write(p []byte) (int, error) {
	if w.n+len(p) > w.limit {
		return 0, errSinkFull
	}
	w.n += len(p)
	return len(p), nil
}

func makeRows(n int) [][]any {
	rows := make([][]any, n)
	for i := range rows {
		rows[i] = []any{i + 1, fmt.Sprintf("user-%d@example.com", i+1), fmt.Sprintf("team-%d", i%7)}
	}
	return rows
}

func expectedText(rows [][]any) [][]string {
	out := make([][]string, len(rows))
	for i, r := range rows {
		out[i] = []string{fmt.Sprint(r[0]), fmt.Sprint(r[1]), fmt.Sprint(r[2])}
	}
	return out
}

// decode reads a document back with the format's reader.
func decode(t *testing.T, format export.Format, data []byte) [][]string {
	t.Helper()

	switch format {
	case export.CSV, export.TSV:
		r := csv.NewReader(bytes.NewReader(data))
		if format == export.TSV {
			r.Comma = '\t'
		}
		records, err := r.ReadAll()
		if err != nil {
			t.Fatalf("csv ReadAll() failed: %v", err)
		}
		return records

	case export.XLSX:
		f, err := excelize.OpenReader(bytes.NewReader(data))
		if err != nil {
			t.Fatalf("excelize.OpenReader() failed: %v", err)
		}
		defer f.Close()
		rows, err := f.GetRows(f.GetSheetName(0))
		if err != nil {
			t.Fatalf("GetRows() failed: %v", err)
		}
		return rows

	case export.JSON:
		var raw [][]any
		if err := json.Unmarshal(data, &raw); err != nil {
			t.Fatalf("json.Unmarshal() failed: %v", err)
		}
		out := make([][]string, len(raw))
		for i, r := range raw {
			out[i] = make([]string, len(r))
			for j, v := range r {
				out[i][j] = fmt.Sprint(v)
			}
		}
		return out
	}

	t.Fatalf("no reader for format %s", format)
	return nil
}

func TestWriter_RoundTrip(t *testing.T) {
	w := New(&Config{ChunkSize: 250})

	for _, format := range export.Formats() {
		for _, n := range []int{0, 1, 10000} {
			t.Run(fmt.Sprintf("%s/%d", format, n), func(t *testing.T) {
				rows := makeRows(n)
				src := &trackingRows{Rows: export.SliceRows(rows)}

				var buf bytes.Buffer
				outcome, err := w.Write(src, format, &buf, Options{})
				if err != nil {
					t.Fatalf("Write() failed: %v", err)
				}

				if !src.closed {
					t.Error("expected rows to be closed")
				}
				if outcome.Rows != n {
					t.Errorf("expected %d rows, got %d", n, outcome.Rows)
				}
				if outcome.Bytes != int64(buf.Len()) {
					t.Errorf("expected %d bytes, got %d", buf.Len(), outcome.Bytes)
				}
				if buf.Len() == 0 {
					t.Fatal("expected non-empty document")
				}

				got := decode(t, format, buf.Bytes())
				want := expectedText(rows)
				if len(got) != len(want) {
					t.Fatalf("expected %d decoded rows, got %d", len(want), len(got))
				}
				for i := range want {
					if strings.Join(got[i], "|") != strings.Join(want[i], "|") {
						t.Fatalf("row %d: expected %v, got %v", i+1, want[i], got[i])
					}
				}
			})
		}
	}
}

func TestWriter_RoundTripEmptyCells(t *testing.T) {
	rows := [][]any{{"a"}, {""}, {nil}, {"b"}}
	want := [][]string{{"a"}, {""}, {""}, {"b"}}

	tests := []struct {
		name   string
		format export.Format
		opts   Options
		raw    string
	}{
		{name: "csv", format: export.CSV, raw: "a\n\"\"\n\"\"\nb\n"},
		{name: "tsv", format: export.TSV, raw: "a\n\"\"\n\"\"\nb\n"},
		{name: "csv crlf", format: export.CSV, opts: Options{CSV: &export.CSVSettings{UseCRLF: true}}, raw: "a\r\n\"\"\r\n\"\"\r\nb\r\n"},
		{name: "csv one row per chunk", format: export.CSV, opts: Options{ChunkSize: 1}, raw: "a\n\"\"\n\"\"\nb\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			outcome, err := New(nil).Write(export.SliceRows(rows), tt.format, &buf, tt.opts)
			if err != nil {
				t.Fatalf("Write() failed: %v", err)
			}
			if outcome.Rows != len(rows) {
				t.Errorf("expected %d rows, got %d", len(rows), outcome.Rows)
			}
			if buf.String() != tt.raw {
				t.Errorf("expected %q, got %q", tt.raw, buf.String())
			}

			got := decode(t, tt.format, buf.Bytes())
			if len(got) != len(want) {
				t.Fatalf("expected %d decoded rows, got %d: %q", len(want), len(got), got)
			}
			for i := range want {
				if strings.Join(got[i], "|") != strings.Join(want[i], "|") {
					t.Errorf("row %d: expected %q, got %q", i+1, want[i], got[i])
				}
			}
		})
	}

	t.Run("single empty heading", func(t *testing.T) {
		var buf bytes.Buffer
		if _, err := New(nil).Write(export.SliceRows([][]any{{"x"}}), export.CSV, &buf, Options{Headings: []string{""}}); err != nil {
			t.Fatalf("Write() failed: %v", err)
		}
		if got := decode(t, export.CSV, buf.Bytes()); len(got) != 2 {
			t.Errorf("expected heading and row, got %q", got)
		}
	})
}

func TestWriter_EmptyDocuments(t *testing.T) {
	w := New(nil)

	tests := []struct {
		name    string
		format  export.Format
		opts    Options
		want    string
		wantLen bool
	}{
		{name: "csv", format: export.CSV, want: "\n"},
		{name: "tsv", format: export.TSV, want: "\n"},
		{name: "csv crlf", format: export.CSV, opts: Options{CSV: &export.CSVSettings{UseCRLF: true}}, want: "\r\n"},
		{name: "json", format: export.JSON, want: "[]"},
		{name: "json with headings", format: export.JSON, opts: Options{Headings: []string{"id"}}, want: "[]"},
		{name: "xlsx", format: export.XLSX, wantLen: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if _, err := w.Write(export.SliceRows(nil), tt.format, &buf, tt.opts); err != nil {
				t.Fatalf("Write() failed: %v", err)
			}
			if tt.wantLen {
				if buf.Len() == 0 {
					t.Error("expected non-empty workbook")
				}
				return
			}
			if buf.String() != tt.want {
				t.Errorf("expected %q, got %q", tt.want, buf.String())
			}
		})
	}
}

func TestWriter_Headings(t *testing.T) {
	w := New(nil)
	rows := [][]any{{1, "alice"}, {2, "bob"}}
	headings := []string{"id", "name"}

	t.Run("csv heading row", func(t *testing.T) {
		var buf bytes.Buffer
		outcome, err := w.Write(export.SliceRows(rows), export.CSV, &buf, Options{Headings: headings})
		if err != nil {
			t.Fatalf("Write() failed: %v", err)
		}
		if outcome.Rows != 2 {
			t.Errorf("expected 2 data rows, got %d", outcome.Rows)
		}
		want := "id,name\n1,alice\n2,bob\n"
		if buf.String() != want {
			t.Errorf("expected %q, got %q", want, buf.String())
		}
	})

	t.Run("json objects in heading order", func(t *testing.T) {
		var buf bytes.Buffer
		if _, err := w.Write(export.SliceRows(rows), export.JSON, &buf, Options{Headings: headings}); err != nil {
			t.Fatalf("Write() failed: %v", err)
		}
		want := `[{"id":1,"name":"alice"},{"id":2,"name":"bob"}]`
		if buf.String() != want {
			t.Errorf("expected %s, got %s", want, buf.String())
		}
	})

	t.Run("xlsx heading row and title", func(t *testing.T) {
		var buf bytes.Buffer
		opts := Options{Headings: headings, Title: "Users"}
		if _, err := w.Write(export.SliceRows(rows), export.XLSX, &buf, opts); err != nil {
			t.Fatalf("Write() failed: %v", err)
		}

		f, err := excelize.OpenReader(bytes.NewReader(buf.Bytes()))
		if err != nil {
			t.Fatalf("OpenReader() failed: %v", err)
		}
		defer f.Close()

		if name := f.GetSheetName(0); name != "Users" {
			t.Errorf("expected sheet Users, got %s", name)
		}
		got, err := f.GetRows("Users")
		if err != nil {
			t.Fatalf("GetRows() failed: %v", err)
		}
		if len(got) != 3 || got[0][0] != "id" || got[2][1] != "bob" {
			t.Errorf("unexpected rows: %v", got)
		}
	})
}

func TestWriter_CSVSettings(t *testing.T) {
	rows := [][]any{{"a", "b"}}

	tests := []struct {
		name     string
		cfg      *Config
		opts     Options
		format   export.Format
		expected string
	}{
		{name: "semicolon from config", cfg: &Config{CSV: export.CSVSettings{Delimiter: ';'}}, format: export.CSV, expected: "a;b\n"},
		{name: "bom", opts: Options{CSV: &export.CSVSettings{UseBOM: true}}, format: export.CSV, expected: "\xEF\xBB\xBFa,b\n"},
		{name: "crlf", opts: Options{CSV: &export.CSVSettings{UseCRLF: true}}, format: export.CSV, expected: "a,b\r\n"},
		{name: "tsv default tab", format: export.TSV, expected: "a\tb\n"},
		{name: "options override config", cfg: &Config{CSV: export.CSVSettings{Delimiter: ';'}}, opts: Options{CSV: &export.CSVSettings{Delimiter: '|'}}, format: export.CSV, expected: "a|b\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if _, err := New(tt.cfg).Write(export.SliceRows(rows), tt.format, &buf, tt.opts); err != nil {
				t.Fatalf("Write() failed: %v", err)
			}
			if buf.String() != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, buf.String())
			}
		})
	}
}

func TestWriter_CellTypes(t *testing.T) {
	ts := time.Date(2025, 1, 15, 10, 30, 0, 0, time.UTC)
	name := "carol"
	var nilPtr *string

	rows := [][]any{{int8(1), uint32(2), float32(1.5), []byte("raw"), ts, &name, nilPtr, nil, export.CSV}}

	var buf bytes.Buffer
	if _, err := New(nil).Write(export.SliceRows(rows), export.CSV, &buf, Options{}); err != nil {
		t.Fatalf("Write() failed: %v", err)
	}

	want := "1,2,1.5,raw,2025-01-15T10:30:00Z,carol,,,csv\n"
	if buf.String() != want {
		t.Errorf("expected %q, got %q", want, buf.String())
	}
}

type accountStatus string

type accountLevel int

type quota uint16

type ratio float32

type enabledFlag bool

func TestWriter_NamedScalars(t *testing.T) {
	tests := []struct {
		name string
		cell any
		want string
	}{
		{name: "named string", cell: accountStatus("active"), want: "active"},
		{name: "named int", cell: accountLevel(-3), want: "-3"},
		{name: "named uint", cell: quota(42), want: "42"},
		{name: "named float32", cell: ratio(0.1), want: "0.1"},
		{name: "named bool", cell: enabledFlag(true), want: "true"},
		{name: "pointer to named string", cell: func() *accountStatus { s := accountStatus("locked"); return &s }(), want: "locked"},
		{name: "float32", cell: float32(0.1), want: "0.1"},
		{name: "float32 fraction", cell: float32(3.14159), want: "3.14159"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, format := range []export.Format{export.CSV, export.JSON} {
				var buf bytes.Buffer
				if _, err := New(nil).Write(export.SliceRows([][]any{{tt.cell}}), format, &buf, Options{}); err != nil {
					t.Fatalf("%s: Write() failed: %v", format, err)
				}
				got := decode(t, format, buf.Bytes())
				if len(got) != 1 || got[0][0] != tt.want {
					t.Errorf("%s: expected %q, got %q", format, tt.want, got)
				}
			}
		})
	}

	t.Run("composite kinds stay unsupported", func(t *testing.T) {
		for _, cell := range []any{map[string]int{"a": 1}, struct{ A int }{1}, func() {}} {
			_, err := New(nil).Write(export.SliceRows([][]any{{cell}}), export.CSV, io.Discard, Options{})
			if !errors.Is(err, export.ErrUnsupportedCell) {
				t.Errorf("%T: expected ErrUnsupportedCell, got %v", cell, err)
			}
		}
	})
}

func TestWriter_Errors(t *testing.T) {
	w := New(nil)

	t.Run("inconsistent column count", func(t *testing.T) {
		src := &trackingRows{Rows: export.SliceRows([][]any{{1, 2}, {3}})}
		_, err := w.Write(src, export.CSV, &bytes.Buffer{}, Options{})

		var encErr *export.EncodingError
		if !errors.As(err, &encErr) {
			t.Fatalf("expected EncodingError, got %v", err)
		}
		if encErr.Row != 2 {
			t.Errorf("expected row 2, got %d", encErr.Row)
		}
		if !errors.Is(err, export.ErrColumnCount) {
			t.Errorf("expected ErrColumnCount, got %v", err)
		}
		if !src.closed {
			t.Error("expected rows to be closed on error")
		}
	})

	t.Run("row wider than headings", func(t *testing.T) {
		_, err := w.Write(export.SliceRows([][]any{{1, 2}}), export.JSON, &bytes.Buffer{}, Options{Headings: []string{"id"}})
		if !errors.Is(err, export.ErrColumnCount) {
			t.Errorf("expected ErrColumnCount, got %v", err)
		}
	})

	t.Run("unsupported cell", func(t *testing.T) {
		_, err := w.Write(export.SliceRows([][]any{{"ok", map[string]int{"a": 1}}}), export.CSV, &bytes.Buffer{}, Options{})

		var encErr *export.EncodingError
		if !errors.As(err, &encErr) {
			t.Fatalf("expected EncodingError, got %v", err)
		}
		if encErr.Column != 2 {
			t.Errorf("expected column 2, got %d", encErr.Column)
		}
		if !errors.Is(err, export.ErrUnsupportedCell) {
			t.Errorf("expected ErrUnsupportedCell, got %v", err)
		}
	})

	t.Run("json rejects NaN", func(t *testing.T) {
		_, err := w.Write(export.SliceRows([][]any{{math.NaN()}}), export.JSON, &bytes.Buffer{}, Options{})

		var encErr *export.EncodingError
		if !errors.As(err, &encErr) {
			t.Fatalf("expected EncodingError, got %v", err)
		}
	})

	t.Run("sink failure", func(t *testing.T) {
		src := &trackingRows{Rows: export.SliceRows(makeRows(5000))}
		_, err := w.Write(src, export.CSV, &failingWriter{limit: 1024}, Options{ChunkSize: 10})

		var ioErr *export.IoError
		if !errors.As(err, &ioErr) {
			t.Fatalf("expected IoError, got %v", err)
		}
		if !errors.Is(err, errSinkFull) {
			t.Errorf("expected wrapped sink error, got %v", err)
		}
		if !src.closed {
			t.Error("expected rows to be closed on sink failure")
		}
	})

	t.Run("row source error is returned unchanged", func(t *testing.T) {
		sourceErr := errors.New("cursor lost")
		src := &trackingRows{Rows: export.SliceRows(makeRows(3)), err: sourceErr}
		_, err := w.Write(src, export.XLSX, &bytes.Buffer{}, Options{})
		if err != sourceErr {
			t.Errorf("expected source error, got %v", err)
		}
		if !src.closed {
			t.Error("expected rows to be closed")
		}
	})

	t.Run("unknown format", func(t *testing.T) {
		src := &trackingRows{Rows: export.SliceRows(nil)}
		_, err := w.Write(src, export.Format("ods"), &bytes.Buffer{}, Options{})
		if !export.IsUnresolvedFormat(err) {
			t.Errorf("expected UnresolvedFormatError, got %v", err)
		}
		if !src.closed {
			t.Error("expected rows to be closed")
		}
	})
}

func TestWriter_RawMatchesSpool(t *testing.T) {
	w := New(nil)
	rows := makeRows(10)

	var a, b bytes.Buffer
	if _, err := w.Write(export.SliceRows(rows), export.CSV, &a, Options{}); err != nil {
		t.Fatalf("Write() failed: %v", err)
	}
	if _, err := w.Write(export.SliceRows(rows), export.CSV, &b, Options{}); err != nil {
		t.Fatalf("Write() failed: %v", err)
	}
	if !bytes.Equal(a.Bytes(), b.Bytes()) {
		t.Error("expected identical encodings for identical input")
	}
}

func BenchmarkWriter_CSV(b *testing.B) {
	w := New(nil)
	rows := makeRows(10000)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		var buf bytes.Buffer
		if _, err := w.Write(export.SliceRows(rows), export.CSV, &buf, Options{}); err != nil {
			b.Fatalf("Write() failed: %v", err)
		}
	}
}
