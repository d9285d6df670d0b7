package export

import (
	"context"
	"sync"
)

// Rows is a forward-only cursor over the rows of an export, shaped like
// database/sql.Rows.
//
//	rows, err := e.Rows(ctx)
//	if err != nil { ... }
//	defer rows.Close()
//	for rows.Next() {
//		row := rows.Row()
//	}
//	if err := rows.Err(); err != nil { ... }
type Rows interface {
	// Next advances to the next row. It returns false at the end of the
	// sequence or on error.
	Next() bool

	// Row returns the current row. The slice is only valid until the next
	// call to Next.
	Row() []any

	// Err returns the error, if any, that stopped iteration.
	Err() error

	// Close releases the sequence. It is safe to call more than once.
	Close() error
}

// SliceRows returns a Rows over an in-memory collection.
func SliceRows(rows [][]any) Rows {
	return &sliceRows{rows: rows, pos: -1}
}

type sliceRows struct {
	rows   [][]any
	pos    int
	closed bool
}

func (s *sliceRows) Next() bool {
	if s.closed || s.pos+1 >= len(s.rows) {
		return false
	}
	s.pos++
	return true
}

func (s *sliceRows) Row() []any {
	if s.pos < 0 || s.pos >= len(s.rows) {
		return nil
	}
	return s.rows[s.pos]
}

func (s *sliceRows) Err() error { return nil }

func (s *sliceRows) Close() error {
	s.closed = true
	return nil
}

// ChanRows returns a Rows fed by a producer goroutine.
//
// The sequence ends when ch is closed. If errCh is non-nil the first error
// received on it stops iteration and is reported by Err. The producer should
// also watch ctx so that Close can stop it early.
func ChanRows(ctx context.Context, ch <-chan []any, errCh <-chan error) Rows {
	ctx, cancel := context.WithCancel(ctx)
	return &chanRows{ctx: ctx, cancel: cancel, ch: ch, errCh: errCh}
}

type chanRows struct {
	ctx    context.Context
	cancel context.CancelFunc
	ch     <-chan []any
	errCh  <-chan error
	cur    []any
	err    error
	done   bool
}

func (c *chanRows) Next() bool {
	if c.done {
		return false
	}
	for {
		select {
		case row, ok := <-c.ch:
			if !ok {
				c.finish(c.drainErr())
				return false
			}
			c.cur = row
			return true
		case err, ok := <-c.errCh:
			if !ok {
				// Closed error channel: keep reading rows only.
				c.errCh = nil
				continue
			}
			if err != nil {
				c.finish(err)
				return false
			}
		case <-c.ctx.Done():
			c.finish(c.ctx.Err())
			return false
		}
	}
}

// drainErr picks up an error sent just before the row channel was closed.
func (c *chanRows) drainErr() error {
	if c.errCh == nil {
		return nil
	}
	select {
	case err := <-c.errCh:
		return err
	default:
		return nil
	}
}

func (c *chanRows) finish(err error) {
	c.done = true
	c.cur = nil
	c.err = err
}

func (c *chanRows) Row() []any { return c.cur }

func (c *chanRows) Err() error { return c.err }

func (c *chanRows) Close() error {
	c.cancel()
	c.done = true
	return nil
}

// BatchFunc returns the next group of rows. An empty group ends the sequence.
type BatchFunc func(ctx context.Context) ([][]any, error)

// BatchRows flattens row groups produced by next into one sequence. Only one
// group is held in memory at a time.
func BatchRows(ctx context.Context, next BatchFunc, closer func() error) Rows {
	return &batchRows{ctx: ctx, next: next, closer: closer}
}

type batchRows struct {
	ctx    context.Context
	next   BatchFunc
	closer func() error

	batch [][]any
	pos   int
	err   error
	done  bool

	closeOnce sync.Once
	closeErr  error
}

func (b *batchRows) Next() bool {
	if b.done {
		return false
	}
	b.pos++
	for b.pos >= len(b.batch) {
		if err := b.ctx.Err(); err != nil {
			b.err = err
			b.done = true
			return false
		}
		batch, err := b.next(b.ctx)
		if err != nil {
			b.err = err
			b.done = true
			return false
		}
		if len(batch) == 0 {
			b.done = true
			return false
		}
		b.batch = batch
		b.pos = 0
	}
	return true
}

func (b *batchRows) Row() []any {
	if b.done || b.pos >= len(b.batch) {
		return nil
	}
	return b.batch[b.pos]
}

func (b *batchRows) Err() error { return b.err }

func (b *batchRows) Close() error {
	b.closeOnce.Do(func() {
		b.done = true
		b.batch = nil
		if b.closer != nil {
			b.closeErr = b.closer()
		}
	})
	return b.closeErr
}
