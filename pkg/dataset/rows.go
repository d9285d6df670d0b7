package dataset

import (
	"context"
	"database/sql"
	"fmt"

	"mercator-hq/tabula/pkg/export"
)

// sqlRows adapts *sql.Rows to export.Rows.
type sqlRows struct {
	rows *sql.Rows
	vals []any
	ptrs []any
	err  error
}

func newSQLRows(rows *sql.Rows) (*sqlRows, error) {
	cols, err := rows.Columns()
	if err != nil {
		rows.Close()
		return nil, fmt.Errorf("failed to read columns: %w", err)
	}

	r := &sqlRows{
		rows: rows,
		vals: make([]any, len(cols)),
		ptrs: make([]any, len(cols)),
	}
	for i := range r.vals {
		r.ptrs[i] = &r.vals[i]
	}
	return r, nil
}

func (r *sqlRows) Next() bool {
	if r.err != nil {
		return false
	}
	if !r.rows.Next() {
		r.err = r.rows.Err()
		return false
	}
	if err := r.rows.Scan(r.ptrs...); err != nil {
		r.err = fmt.Errorf("failed to scan row: %w", err)
		return false
	}
	return true
}

func (r *sqlRows) Row() []any { return r.vals }

func (r *sqlRows) Err() error { return r.err }

func (r *sqlRows) Close() error { return r.rows.Close() }

// pagedRows runs query one page at a time with LIMIT/OFFSET.
func pagedRows(ctx context.Context, db *sql.DB, query string, pageSize int) export.Rows {
	paged := "SELECT * FROM (" + query + ") LIMIT ? OFFSET ?"
	offset := 0
	done := false

	next := func(ctx context.Context) ([][]any, error) {
		if done {
			return nil, nil
		}

		rows, err := db.QueryContext(ctx, paged, pageSize, offset)
		if err != nil {
			return nil, fmt.Errorf("failed to query page at offset %d: %w", offset, err)
		}
		defer rows.Close()

		page, err := scanAll(rows, pageSize)
		if err != nil {
			return nil, err
		}
		offset += len(page)
		if len(page) < pageSize {
			done = true
		}
		return page, nil
	}

	return export.BatchRows(ctx, next, nil)
}

// scanAll reads every remaining row into fresh slices.
func scanAll(rows *sql.Rows, capacity int) ([][]any, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read columns: %w", err)
	}

	out := make([][]any, 0, capacity)
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		out = append(out, vals)
	}
	return out, rows.Err()
}
