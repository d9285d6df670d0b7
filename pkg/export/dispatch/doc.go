// Package dispatch delivers exports.
//
// A Dispatcher turns an export.Exporter into one of five results:
//
//   - Download / ToResponse / Respond / Handler: an HTTP response carrying
//     the encoded document as an attachment
//   - Stream: the document written straight to an http.ResponseWriter
//   - Raw: the encoded document as bytes
//   - Store: the document persisted on a disk
//   - Queue: a job that stores the document later, on a worker
//
// Every call resolves the output format and name first. The format comes
// from the explicit argument, then the extension of the explicit or declared
// file name, then the exporter's WriterType, then the engine default. A name
// that is not given or declared is synthesised from the exporter's type tag
// and the resolved format ("users-export.xlsx").
//
// Download, Respond and Store encode into a spool file before anything
// reaches the client or the disk, so an encoding failure never produces a
// partial response or a partial stored file.
package dispatch
