package dataset

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"

	"mercator-hq/tabula/pkg/config"
	"mercator-hq/tabula/pkg/export"
)

// ExporterKey is the registry key of dataset exporters.
const ExporterKey = "dataset"

// ErrUnknownDataset is returned for names missing from the catalog.
var ErrUnknownDataset = errors.New("unknown dataset")

// connKey identifies a shared database handle.
type connKey struct {
	driver string
	dsn    string
}

// Catalog holds the configured datasets and their database handles.
// Datasets sharing a driver and DSN share one *sql.DB.
//
// Catalog is safe for concurrent use.
type Catalog struct {
	mu       sync.RWMutex
	datasets map[string]config.DatasetConfig
	dbs      map[connKey]*sql.DB
	logger   *slog.Logger
}

// NewCatalog opens the databases of the given datasets.
func NewCatalog(datasets map[string]config.DatasetConfig) (*Catalog, error) {
	c := &Catalog{
		datasets: make(map[string]config.DatasetConfig),
		dbs:      make(map[connKey]*sql.DB),
		logger:   slog.Default().With("component", "dataset.catalog"),
	}
	if err := c.Reload(datasets); err != nil {
		return nil, err
	}
	return c, nil
}

// Reload replaces the datasets. Handles still used are kept; the others are
// closed. On error the previous datasets stay active.
func (c *Catalog) Reload(datasets map[string]config.DatasetConfig) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	next := make(map[connKey]*sql.DB)
	var opened []*sql.DB
	for name, ds := range datasets {
		if ds.Driver == "" {
			ds.Driver = config.DefaultDatasetDriver
		}
		key := connKey{driver: ds.Driver, dsn: ds.DSN}
		if _, ok := next[key]; ok {
			continue
		}
		if db, ok := c.dbs[key]; ok {
			next[key] = db
			continue
		}

		db, err := sql.Open(ds.Driver, ds.DSN)
		if err != nil {
			for _, o := range opened {
				o.Close()
			}
			return fmt.Errorf("dataset %q: failed to open database: %w", name, err)
		}
		opened = append(opened, db)
		next[key] = db
	}

	for key, db := range c.dbs {
		if _, ok := next[key]; !ok {
			if err := db.Close(); err != nil {
				c.logger.Warn("Failed to close database", "driver", key.driver, "error", err)
			}
		}
	}

	c.datasets = make(map[string]config.DatasetConfig, len(datasets))
	for name, ds := range datasets {
		if ds.Driver == "" {
			ds.Driver = config.DefaultDatasetDriver
		}
		c.datasets[name] = ds
	}
	c.dbs = next

	c.logger.Info("Datasets loaded", "count", len(c.datasets), "connections", len(c.dbs))
	return nil
}

// Names returns the dataset names sorted.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.datasets))
	for name := range c.datasets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Config returns the configuration of a dataset.
func (c *Catalog) Config(name string) (config.DatasetConfig, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ds, ok := c.datasets[name]
	return ds, ok
}

// Exporter returns an exporter for the named dataset.
func (c *Catalog) Exporter(name string) (*Exporter, error) {
	if _, ok := c.Config(name); !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDataset, name)
	}
	return &Exporter{Dataset: name, catalog: c}, nil
}

// Register adds the dataset factory to r.
func (c *Catalog) Register(r *export.Registry) error {
	return r.Register(ExporterKey, func() export.Exporter {
		return &Exporter{catalog: c}
	})
}

// lookup returns the configuration and handle of a dataset.
func (c *Catalog) lookup(name string) (config.DatasetConfig, *sql.DB, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ds, ok := c.datasets[name]
	if !ok {
		return ds, nil, fmt.Errorf("%w: %q", ErrUnknownDataset, name)
	}
	return ds, c.dbs[connKey{driver: ds.Driver, dsn: ds.DSN}], nil
}

// Ping checks every database handle. Failures name the driver of the
// handle; DSNs may carry credentials.
func (c *Catalog) Ping(ctx context.Context) error {
	c.mu.RLock()
	dbs := make(map[connKey]*sql.DB, len(c.dbs))
	for k, db := range c.dbs {
		dbs[k] = db
	}
	c.mu.RUnlock()

	var errs []error
	for k, db := range dbs {
		if err := db.PingContext(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s database: %w", k.driver, err))
		}
	}
	return errors.Join(errs...)
}

// Close closes every database handle.
func (c *Catalog) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	for _, db := range c.dbs {
		errs = append(errs, db.Close())
	}
	c.dbs = make(map[connKey]*sql.DB)
	return errors.Join(errs...)
}
