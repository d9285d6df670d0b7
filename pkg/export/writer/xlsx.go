package writer

import (
	"io"

	"github.com/xuri/excelize/v2"
)

const defaultSheet = "Sheet1"

// xlsxEncoder writes a single-sheet workbook through an excelize StreamWriter.
type xlsxEncoder struct {
	out  io.Writer
	file *excelize.File
	sw   *excelize.StreamWriter
	next int
}

func newXLSXEncoder(out io.Writer, title, tempDir string) (*xlsxEncoder, error) {
	f := excelize.NewFile(excelize.Options{TmpDir: tempDir})

	sheet := defaultSheet
	if title != "" && title != defaultSheet {
		if err := f.SetSheetName(defaultSheet, title); err != nil {
			_ = f.Close()
			return nil, err
		}
		sheet = title
	}

	sw, err := f.NewStreamWriter(sheet)
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	return &xlsxEncoder{out: out, file: f, sw: sw, next: 1}, nil
}

func (e *xlsxEncoder) writeHeadings(headings []string) error {
	cells := make([]any, len(headings))
	for i, h := range headings {
		cells[i] = h
	}
	return e.writeRow(cells)
}

func (e *xlsxEncoder) writeRow(cells []any) error {
	cell, err := excelize.CoordinatesToCellName(1, e.next)
	if err != nil {
		return err
	}
	if err := e.sw.SetRow(cell, cells); err != nil {
		return err
	}
	e.next++
	return nil
}

// flush is a no-op: the stream writer spills to its temp file on its own.
func (e *xlsxEncoder) flush() error {
	return nil
}

func (e *xlsxEncoder) finish() error {
	if err := e.sw.Flush(); err != nil {
		return err
	}
	_, err := e.file.WriteTo(e.out)
	return err
}

func (e *xlsxEncoder) close() error {
	return e.file.Close()
}
