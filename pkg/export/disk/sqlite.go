package disk

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"mercator-hq/tabula/pkg/export"
)

// sqliteSchema creates the blob table used by SQLiteDisk.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS export_files (
    path TEXT PRIMARY KEY,
    content BLOB NOT NULL,
    size INTEGER NOT NULL,
    visibility TEXT NOT NULL,
    content_type TEXT,
    stored_at TIMESTAMP NOT NULL
);
`

// SQLiteConfig contains configuration for the SQLite disk.
type SQLiteConfig struct {
	// Path is the database file path.
	Path string

	// Visibility is the default visibility of stored files.
	// Default: "private"
	Visibility string

	// MaxOpenConns is the maximum number of open connections.
	// Default: 4
	MaxOpenConns int

	// BusyTimeout is the duration to wait when the database is locked.
	// Default: 5 seconds
	BusyTimeout time.Duration
}

// DefaultSQLiteConfig returns the default SQLite disk configuration.
func DefaultSQLiteConfig() *SQLiteConfig {
	return &SQLiteConfig{
		Path:         "data/exports.db",
		Visibility:   VisibilityPrivate,
		MaxOpenConns: 4,
		BusyTimeout:  5 * time.Second,
	}
}

// SQLiteDisk stores files as blobs in a SQLite database.
type SQLiteDisk struct {
	name   string
	db     *sql.DB
	config *SQLiteConfig
	logger *slog.Logger
}

// NewSQLiteDisk opens (and if needed creates) the database at config.Path.
func NewSQLiteDisk(name string, config *SQLiteConfig) (*SQLiteDisk, error) {
	if config == nil {
		config = DefaultSQLiteConfig()
	}
	if config.MaxOpenConns <= 0 {
		config.MaxOpenConns = 4
	}
	if config.BusyTimeout <= 0 {
		config.BusyTimeout = 5 * time.Second
	}

	if dir := filepath.Dir(config.Path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, export.NewIoError("mkdir", dir, err)
		}
	}

	db, err := sql.Open("sqlite3", config.Path)
	if err != nil {
		return nil, export.NewIoError("open", config.Path, err)
	}
	db.SetMaxOpenConns(config.MaxOpenConns)

	d := &SQLiteDisk{
		name:   name,
		db:     db,
		config: config,
		logger: slog.Default().With("component", "export.disk.sqlite", "disk", name),
	}

	if err := d.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	d.logger.Info("SQLite disk initialized", "path", config.Path)
	return d, nil
}

func (d *SQLiteDisk) initialize() error {
	if _, err := d.db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		return export.NewIoError("enable_wal", d.config.Path, err)
	}
	if _, err := d.db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d;", d.config.BusyTimeout.Milliseconds())); err != nil {
		return export.NewIoError("set_busy_timeout", d.config.Path, err)
	}
	if _, err := d.db.Exec(sqliteSchema); err != nil {
		return export.NewIoError("create_schema", d.config.Path, err)
	}
	return nil
}

// Name returns the disk identifier.
func (d *SQLiteDisk) Name() string { return d.name }

// Put reads r fully and upserts it in a single transaction.
func (d *SQLiteDisk) Put(ctx context.Context, p string, r io.Reader, opts export.DiskOptions) (*export.StoredFile, error) {
	clean, err := cleanPath(p)
	if err != nil {
		return nil, export.NewIoError("put", p, err)
	}
	vis, err := visibility(opts, d.config.Visibility)
	if err != nil {
		return nil, export.NewIoError("put", clean, err)
	}

	data, err := io.ReadAll(ctxReader{ctx: ctx, r: r})
	if err != nil {
		return nil, export.NewIoError("write", clean, err)
	}

	contentType := opts[export.OptionContentType]
	if contentType == "" {
		if f := formatOf(clean); f != "" {
			contentType = f.ContentType()
		}
	}

	storedAt := time.Now().UTC()

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, export.NewIoError("begin", clean, err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO export_files (path, content, size, visibility, content_type, stored_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			content = excluded.content,
			size = excluded.size,
			visibility = excluded.visibility,
			content_type = excluded.content_type,
			stored_at = excluded.stored_at
	`, clean, data, len(data), vis, contentType, storedAt)
	if err != nil {
		return nil, export.NewIoError("put", clean, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, export.NewIoError("commit", clean, err)
	}

	d.logger.Debug("File stored", "path", clean, "size", len(data))

	return &export.StoredFile{
		Disk:     d.name,
		Path:     clean,
		Size:     int64(len(data)),
		Format:   formatOf(clean),
		StoredAt: storedAt,
	}, nil
}

// Open returns the blob stored at p.
func (d *SQLiteDisk) Open(ctx context.Context, p string) (io.ReadCloser, error) {
	clean, err := cleanPath(p)
	if err != nil {
		return nil, export.NewIoError("open", p, err)
	}

	var data []byte
	err = d.db.QueryRowContext(ctx, "SELECT content FROM export_files WHERE path = ?", clean).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notExist("open", clean)
	}
	if err != nil {
		return nil, export.NewIoError("open", clean, err)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Exists reports whether p holds a file.
func (d *SQLiteDisk) Exists(ctx context.Context, p string) (bool, error) {
	clean, err := cleanPath(p)
	if err != nil {
		return false, export.NewIoError("stat", p, err)
	}

	var one int
	err = d.db.QueryRowContext(ctx, "SELECT 1 FROM export_files WHERE path = ?", clean).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, export.NewIoError("stat", clean, err)
	}
	return true, nil
}

// Delete removes p.
func (d *SQLiteDisk) Delete(ctx context.Context, p string) error {
	clean, err := cleanPath(p)
	if err != nil {
		return export.NewIoError("delete", p, err)
	}
	if _, err := d.db.ExecContext(ctx, "DELETE FROM export_files WHERE path = ?", clean); err != nil {
		return export.NewIoError("delete", clean, err)
	}
	return nil
}

// Close closes the database.
func (d *SQLiteDisk) Close() error {
	return d.db.Close()
}
