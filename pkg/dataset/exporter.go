package dataset

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"mercator-hq/tabula/pkg/config"
	"mercator-hq/tabula/pkg/export"
)

// probeTimeout bounds the column lookup made for IncludeColumnNames.
const probeTimeout = 30 * time.Second

// Exporter exports the rows of a configured dataset. Only the dataset name
// is serialised; everything else is read from the catalog.
type Exporter struct {
	Dataset string `json:"dataset"`

	catalog *Catalog

	columnsOnce sync.Once
	columns     []string
}

// ExporterKey implements export.WithExporterKey.
func (e *Exporter) ExporterKey() string { return ExporterKey }

// TypeTag implements export.WithTypeTag, so "users" downloads as
// "users-export.xlsx".
func (e *Exporter) TypeTag() string { return e.Dataset }

// settings returns the current configuration of the dataset. A dataset
// removed from the catalog declares nothing.
func (e *Exporter) settings() config.DatasetConfig {
	if e.catalog == nil {
		return config.DatasetConfig{}
	}
	ds, _ := e.catalog.Config(e.Dataset)
	return ds
}

// FileName implements export.WithFileName.
func (e *Exporter) FileName() string { return e.settings().FileName }

// WriterType implements export.WithWriterType.
func (e *Exporter) WriterType() export.Format {
	f, err := export.ParseFormat(e.settings().Format)
	if err != nil {
		return ""
	}
	return f
}

// FilePath implements export.WithFilePath.
func (e *Exporter) FilePath() string { return e.settings().Path }

// Disk implements export.WithDisk.
func (e *Exporter) Disk() string { return e.settings().Disk }

// Title implements export.WithTitle.
func (e *Exporter) Title() string { return e.settings().Title }

// Headings implements export.WithHeadings. With IncludeColumnNames the
// query's column names are looked up once.
func (e *Exporter) Headings() []string {
	ds := e.settings()
	if len(ds.Headings) > 0 {
		return ds.Headings
	}
	if !ds.IncludeColumnNames {
		return nil
	}

	e.columnsOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
		defer cancel()

		cols, err := e.Columns(ctx)
		if err != nil {
			e.catalog.logger.Warn("Failed to read dataset columns",
				"dataset", e.Dataset,
				"error", err,
			)
			return
		}
		e.columns = cols
	})
	return e.columns
}

// Columns returns the column names of the dataset's query without fetching
// any row.
func (e *Exporter) Columns(ctx context.Context) ([]string, error) {
	if e.catalog == nil {
		return nil, fmt.Errorf("dataset %q is not bound to a catalog", e.Dataset)
	}
	ds, db, err := e.catalog.lookup(e.Dataset)
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, "SELECT * FROM ("+trimQuery(ds.Query)+") LIMIT 0")
	if err != nil {
		return nil, fmt.Errorf("dataset %q: %w", e.Dataset, err)
	}
	defer rows.Close()
	return rows.Columns()
}

// Rows implements export.Exporter.
func (e *Exporter) Rows(ctx context.Context) (export.Rows, error) {
	if e.catalog == nil {
		return nil, fmt.Errorf("dataset %q is not bound to a catalog", e.Dataset)
	}
	ds, db, err := e.catalog.lookup(e.Dataset)
	if err != nil {
		return nil, err
	}

	query := trimQuery(ds.Query)
	if ds.PageSize > 0 {
		return pagedRows(ctx, db, query, ds.PageSize), nil
	}

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("dataset %q: %w", e.Dataset, err)
	}
	return newSQLRows(rows)
}

func trimQuery(q string) string {
	return strings.TrimRight(strings.TrimSpace(q), "; \t\n")
}
