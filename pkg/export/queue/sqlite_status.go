package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"mercator-hq/tabula/pkg/export"
)

const statusSchema = `
CREATE TABLE IF NOT EXISTS job_statuses (
	id TEXT PRIMARY KEY,
	state TEXT NOT NULL,
	path TEXT NOT NULL,
	disk TEXT NOT NULL DEFAULT '',
	format TEXT NOT NULL DEFAULT '',
	error TEXT NOT NULL DEFAULT '',
	result TEXT,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_job_statuses_updated_at ON job_statuses(updated_at);
`

// SQLiteStatusStore is a StatusStore persisted in a SQLite database, so job
// statuses survive restarts and can be read by other processes.
type SQLiteStatusStore struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

// NewSQLiteStatusStore opens (or creates) the status database at path.
func NewSQLiteStatusStore(path string, busyTimeout time.Duration) (*SQLiteStatusStore, error) {
	if path == "" {
		return nil, fmt.Errorf("db path cannot be empty")
	}
	if busyTimeout <= 0 {
		busyTimeout = 5 * time.Second
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	dsn := fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)",
		path, busyTimeout.Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec(statusSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	s := &SQLiteStatusStore{
		db:     db,
		path:   path,
		logger: slog.Default().With("component", "export.queue.status"),
	}
	s.logger.Info("SQLite status store initialized", "path", path)
	return s, nil
}

// Save implements StatusStore.
func (s *SQLiteStatusStore) Save(ctx context.Context, status *export.JobStatus) error {
	var result sql.NullString
	if status.Result != nil {
		data, err := json.Marshal(status.Result)
		if err != nil {
			return fmt.Errorf("failed to marshal result: %w", err)
		}
		result = sql.NullString{String: string(data), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO job_statuses (id, state, path, disk, format, error, result, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			state = excluded.state,
			path = excluded.path,
			disk = excluded.disk,
			format = excluded.format,
			error = excluded.error,
			result = excluded.result,
			updated_at = excluded.updated_at
	`,
		status.ID, string(status.State), status.Path, status.Disk, string(status.Format),
		status.Error, result, status.CreatedAt.UnixNano(), status.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to save status of job %s: %w", status.ID, err)
	}
	return nil
}

// Get implements StatusStore.
func (s *SQLiteStatusStore) Get(ctx context.Context, id string) (*export.JobStatus, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, state, path, disk, format, error, result, created_at, updated_at
		FROM job_statuses WHERE id = ?
	`, id)

	st, err := scanStatus(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load status of job %s: %w", id, err)
	}
	return st, nil
}

// List implements StatusStore.
func (s *SQLiteStatusStore) List(ctx context.Context, limit int) ([]*export.JobStatus, error) {
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, state, path, disk, format, error, result, created_at, updated_at
		FROM job_statuses ORDER BY updated_at DESC, id ASC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list job statuses: %w", err)
	}
	defer rows.Close()

	var out []*export.JobStatus
	for rows.Next() {
		st, err := scanStatus(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job status: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// Prune implements StatusStore.
func (s *SQLiteStatusStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM job_statuses WHERE state IN (?, ?) AND updated_at < ?
	`, string(export.JobCompleted), string(export.JobFailed), before.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to prune job statuses: %w", err)
	}
	return res.RowsAffected()
}

// Close implements StatusStore.
func (s *SQLiteStatusStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanStatus(sc scanner) (*export.JobStatus, error) {
	var (
		st               export.JobStatus
		state, format    string
		result           sql.NullString
		created, updated int64
	)
	if err := sc.Scan(&st.ID, &state, &st.Path, &st.Disk, &format, &st.Error, &result, &created, &updated); err != nil {
		return nil, err
	}

	st.State = export.JobState(state)
	st.Format = export.Format(format)
	st.CreatedAt = time.Unix(0, created).UTC()
	st.UpdatedAt = time.Unix(0, updated).UTC()
	if result.Valid {
		var stored export.StoredFile
		if err := json.Unmarshal([]byte(result.String), &stored); err != nil {
			return nil, fmt.Errorf("failed to unmarshal result: %w", err)
		}
		st.Result = &stored
	}
	return &st, nil
}
