package export

import (
	"context"
	"net/http"
)

// Exporter produces the rows of one export.
//
// Rows is called once per delivery attempt. The returned sequence is lazy,
// finite and not restartable. Implementations must return the same rows when
// Rows is invoked again for a retried attempt.
type Exporter interface {
	Rows(ctx context.Context) (Rows, error)
}

// WithFileName declares the default download name of an exporter.
type WithFileName interface {
	FileName() string
}

// WithWriterType declares the default format of an exporter.
type WithWriterType interface {
	WriterType() Format
}

// WithHeaders declares default HTTP response headers.
// Per-call headers override them on key collision.
type WithHeaders interface {
	Headers() http.Header
}

// WithFilePath declares the default store destination.
type WithFilePath interface {
	FilePath() string
}

// WithDisk declares the default storage backend identifier.
type WithDisk interface {
	Disk() string
}

// WithDiskOptions declares default backend write options.
type WithDiskOptions interface {
	DiskOptions() DiskOptions
}

// WithTypeTag overrides the identity used to synthesise file names.
type WithTypeTag interface {
	TypeTag() string
}

// WithHeadings declares a heading row written before the data rows.
type WithHeadings interface {
	Headings() []string
}

// WithTitle declares the worksheet name for XLSX output.
type WithTitle interface {
	Title() string
}

// WithCSVSettings declares delimiter and framing options for CSV and TSV.
type WithCSVSettings interface {
	CSVSettings() CSVSettings
}

// WithExporterKey declares the registry key used to rebuild the exporter in a
// background worker.
type WithExporterKey interface {
	ExporterKey() string
}

// CSVSettings controls the text-delimited encoders.
type CSVSettings struct {
	// Delimiter separates fields. Zero means ',' for CSV and '\t' for TSV.
	Delimiter rune `json:"delimiter,omitempty" yaml:"delimiter"`

	// UseBOM prefixes the output with a UTF-8 byte order mark.
	UseBOM bool `json:"use_bom,omitempty" yaml:"use_bom"`

	// UseCRLF terminates lines with \r\n instead of \n.
	UseCRLF bool `json:"use_crlf,omitempty" yaml:"use_crlf"`
}

// Declared holds every optional declaration of an exporter, resolved once.
type Declared struct {
	FileName    string
	WriterType  Format
	Headers     http.Header
	FilePath    string
	Disk        string
	DiskOptions DiskOptions
	TypeTag     string
	Headings    []string
	Title       string
	CSV         *CSVSettings
}

// Inspect collects the optional declarations of e.
func Inspect(e Exporter) Declared {
	var d Declared
	if v, ok := e.(WithFileName); ok {
		d.FileName = v.FileName()
	}
	if v, ok := e.(WithWriterType); ok {
		d.WriterType = v.WriterType()
	}
	if v, ok := e.(WithHeaders); ok {
		d.Headers = v.Headers()
	}
	if v, ok := e.(WithFilePath); ok {
		d.FilePath = v.FilePath()
	}
	if v, ok := e.(WithDisk); ok {
		d.Disk = v.Disk()
	}
	if v, ok := e.(WithDiskOptions); ok {
		d.DiskOptions = v.DiskOptions()
	}
	if v, ok := e.(WithHeadings); ok {
		d.Headings = v.Headings()
	}
	if v, ok := e.(WithTitle); ok {
		d.Title = v.Title()
	}
	if v, ok := e.(WithCSVSettings); ok {
		s := v.CSVSettings()
		d.CSV = &s
	}
	d.TypeTag = TypeTag(e)
	return d
}
