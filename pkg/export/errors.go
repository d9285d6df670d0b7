package export

import (
	"errors"
	"fmt"
)

// Sentinel causes wrapped by EncodingError.
var (
	// ErrColumnCount is reported when a row's width differs from the first row.
	ErrColumnCount = errors.New("inconsistent column count")

	// ErrUnsupportedCell is reported for cell values no encoder can represent.
	ErrUnsupportedCell = errors.New("unsupported cell type")
)

// NoDestinationMessage is the message of NoDestinationError.
const NoDestinationMessage = "A filepath needs to be passed in order to store the export"

// UnresolvedFormatError is returned when no explicit, inferable or default
// format exists, or when a requested format is unknown.
type UnresolvedFormatError struct {
	Name      string // File name used for extension inference
	Requested string // Unknown format identifier, if one was given
}

// Error implements the error interface.
func (e *UnresolvedFormatError) Error() string {
	if e.Requested != "" {
		return fmt.Sprintf("unsupported export format %q", e.Requested)
	}
	if e.Name != "" {
		return fmt.Sprintf("cannot resolve export format for %q", e.Name)
	}
	return "cannot resolve export format"
}

// NewUnresolvedFormatError creates a new UnresolvedFormatError.
func NewUnresolvedFormatError(name, requested string) *UnresolvedFormatError {
	return &UnresolvedFormatError{Name: name, Requested: requested}
}

// NoDestinationError is returned by store and queue when no destination path
// was passed and the exporter declares none.
type NoDestinationError struct{}

// Error implements the error interface.
func (e *NoDestinationError) Error() string {
	return NoDestinationMessage
}

// EncodingError represents a row that could not be encoded.
type EncodingError struct {
	Format Format // Output format
	Row    int    // 1-based data row number, 0 for heading or document level
	Column int    // 1-based column number, 0 when not column specific
	Cause  error  // Underlying error
}

// Error implements the error interface.
func (e *EncodingError) Error() string {
	switch {
	case e.Column > 0:
		return fmt.Sprintf("encoding error [format=%s, row=%d, column=%d]: %v", e.Format, e.Row, e.Column, e.Cause)
	case e.Row > 0:
		return fmt.Sprintf("encoding error [format=%s, row=%d]: %v", e.Format, e.Row, e.Cause)
	default:
		return fmt.Sprintf("encoding error [format=%s]: %v", e.Format, e.Cause)
	}
}

// Unwrap returns the underlying cause error.
func (e *EncodingError) Unwrap() error {
	return e.Cause
}

// NewEncodingError creates a new EncodingError.
func NewEncodingError(format Format, row, column int, cause error) *EncodingError {
	return &EncodingError{
		Format: format,
		Row:    row,
		Column: column,
		Cause:  cause,
	}
}

// IoError represents a failure of a sink or storage backend.
type IoError struct {
	Op    string // Operation that failed ("write", "rename", "put", ...)
	Path  string // Destination path, if any
	Cause error  // Underlying error
}

// Error implements the error interface.
func (e *IoError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("io error [op=%s, path=%s]: %v", e.Op, e.Path, e.Cause)
	}
	return fmt.Sprintf("io error [op=%s]: %v", e.Op, e.Cause)
}

// Unwrap returns the underlying cause error.
func (e *IoError) Unwrap() error {
	return e.Cause
}

// NewIoError creates a new IoError.
func NewIoError(op, path string, cause error) *IoError {
	return &IoError{
		Op:    op,
		Path:  path,
		Cause: cause,
	}
}

// UnregisteredExporterError is returned when a queued export cannot be
// rebuilt by a worker because its exporter type has no registry entry.
type UnregisteredExporterError struct {
	Key string
}

// Error implements the error interface.
func (e *UnregisteredExporterError) Error() string {
	return fmt.Sprintf("exporter %q is not registered", e.Key)
}

// IsNoDestination reports whether err is a NoDestinationError.
func IsNoDestination(err error) bool {
	var target *NoDestinationError
	return errors.As(err, &target)
}

// IsUnresolvedFormat reports whether err is an UnresolvedFormatError.
func IsUnresolvedFormat(err error) bool {
	var target *UnresolvedFormatError
	return errors.As(err, &target)
}
