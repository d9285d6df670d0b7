// Package export defines the data model and ports of the tabula export engine.
//
// An Exporter is any caller type that can produce a lazy sequence of rows. The
// engine turns it into a spreadsheet-like document (XLSX, CSV, TSV or JSON) and
// delivers it through one of the delivery modes implemented by the dispatch
// package: download/respond (HTTP), raw (bytes), store (disk) or queue
// (background job).
//
// # Exporters
//
// The only required method is Rows. Everything else is declared through
// optional capability interfaces and resolved in a fixed order:
//
//	type UsersExport struct{ db *sql.DB }
//
//	func (e *UsersExport) Rows(ctx context.Context) (export.Rows, error) { ... }
//	func (e *UsersExport) Headings() []string { return []string{"id", "email"} }
//	func (e *UsersExport) WriterType() export.Format { return export.CSV }
//
// Without a declared or explicit name, downloads are named after the exporter's
// type: UsersExport becomes "users-export.xlsx" (or ".csv" with the declaration
// above).
//
// # Format and Name Resolution
//
// ResolveFormat picks the output format: an explicit format always wins, then
// the extension of the file name, then the exporter's declared format.
// ResolveName picks the file name: explicit, then declared, then a name
// synthesised from the exporter's type tag and the resolved format's extension.
//
// # Errors
//
// Engine errors are typed so callers can use errors.As:
//
//   - UnresolvedFormatError: no explicit, inferable or default format
//   - NoDestinationError: store/queue without any destination path
//   - EncodingError: a row could not be encoded (column count, cell type)
//   - IoError: the sink or storage backend failed
//   - UnregisteredExporterError: queue cannot describe the exporter for a worker
package export
