// Package writer encodes export rows into XLSX, CSV, TSV and JSON documents.
//
// # Streaming
//
// Write pulls rows from an export.Rows one at a time and encodes them into any
// io.Writer sink: a memory buffer for raw output, a spool file for downloads and
// stores, or an HTTP response stream. Encoders flush every ChunkSize rows, so
// peak memory does not grow with the row count. The XLSX encoder is built on
// the excelize StreamWriter, which spills rows to a temporary file once its
// in-memory buffer is full.
//
//	w := writer.New(&writer.Config{ChunkSize: 1000})
//	outcome, err := w.Write(rows, export.CSV, f, writer.Options{
//	    Headings: []string{"id", "email"},
//	})
//
// # Cells
//
// Cells may be nil, strings, booleans, any integer or float type, time.Time,
// []byte, fmt.Stringer or driver.Valuer values. Anything else fails with an
// *export.EncodingError wrapping export.ErrUnsupportedCell.
//
// # Empty Exports
//
// An export without rows still produces a valid document: an XLSX workbook
// with one empty sheet, "[]" for JSON and a single line terminator for CSV and
// TSV.
package writer
