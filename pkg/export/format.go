package export

import (
	"path/filepath"
	"sort"
	"strings"
)

// Format identifies one output encoding.
type Format string

const (
	// XLSX is the Office Open XML workbook format (tabular-binary).
	XLSX Format = "xlsx"
	// CSV is comma separated values (tabular-text-delimited).
	CSV Format = "csv"
	// TSV is tab separated values (tabular-text-alt-delimited).
	TSV Format = "tsv"
	// JSON is a JSON array of records.
	JSON Format = "json"
)

// DefaultFormat is used when neither the caller nor the exporter names a format.
const DefaultFormat = XLSX

type formatInfo struct {
	extension   string
	contentType string
}

// formats holds the canonical extension and MIME type of every format.
// Extensions are unique so the extension <-> format mapping is bijective.
var formats = map[Format]formatInfo{
	XLSX: {extension: "xlsx", contentType: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"},
	CSV:  {extension: "csv", contentType: "text/csv"},
	TSV:  {extension: "tsv", contentType: "text/tab-separated-values"},
	JSON: {extension: "json", contentType: "application/json"},
}

// Formats returns all supported formats in a stable order.
func Formats() []Format {
	out := make([]Format, 0, len(formats))
	for f := range formats {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Valid reports whether f is a supported format.
func (f Format) Valid() bool {
	_, ok := formats[f]
	return ok
}

// Extension returns the canonical file extension without the leading dot.
func (f Format) Extension() string {
	return formats[f].extension
}

// ContentType returns the canonical MIME type.
func (f Format) ContentType() string {
	return formats[f].contentType
}

// String implements fmt.Stringer.
func (f Format) String() string {
	return string(f)
}

// ParseFormat parses a format identifier. It accepts the enum value or a file
// extension, with or without the leading dot, in any case.
func ParseFormat(s string) (Format, error) {
	key := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), "."))
	for f, info := range formats {
		if info.extension == key {
			return f, nil
		}
	}
	return "", &UnresolvedFormatError{Requested: s}
}

// FormatFromExtension maps the extension of name to a format.
// The lookup is case-insensitive. It returns false when name has no extension
// or the extension is not supported.
func FormatFromExtension(name string) (Format, bool) {
	ext := filepath.Ext(name)
	if ext == "" || ext == "." {
		return "", false
	}
	f, err := ParseFormat(ext)
	if err != nil {
		return "", false
	}
	return f, true
}

// ResolveFormat picks the output format for an export.
//
// Resolution order:
//  1. explicit, when non-empty (it always wins over inference)
//  2. the extension of name
//  3. fallback, usually the exporter's declared format
//
// When nothing resolves it returns an *UnresolvedFormatError.
func ResolveFormat(explicit Format, name string, fallback Format) (Format, error) {
	if explicit != "" {
		if !explicit.Valid() {
			return "", &UnresolvedFormatError{Name: name, Requested: string(explicit)}
		}
		return explicit, nil
	}

	if f, ok := FormatFromExtension(name); ok {
		return f, nil
	}

	if fallback != "" {
		if !fallback.Valid() {
			return "", &UnresolvedFormatError{Name: name, Requested: string(fallback)}
		}
		return fallback, nil
	}

	return "", &UnresolvedFormatError{Name: name}
}
