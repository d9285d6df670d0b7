package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"mercator-hq/tabula/pkg/export"
)

// StatusStore persists the observable state of jobs.
type StatusStore interface {
	// Save inserts or replaces the status of a job.
	Save(ctx context.Context, status *export.JobStatus) error

	// Get returns the status of a job or ErrJobNotFound.
	Get(ctx context.Context, id string) (*export.JobStatus, error)

	// List returns up to limit statuses, most recently updated first.
	// A limit of zero or less returns all of them.
	List(ctx context.Context, limit int) ([]*export.JobStatus, error)

	// Prune removes terminal statuses last updated before the cutoff and
	// returns how many were removed.
	Prune(ctx context.Context, before time.Time) (int64, error)

	// Close releases the store.
	Close() error
}

// MemoryStatusStore is a StatusStore held in process memory.
type MemoryStatusStore struct {
	mu       sync.RWMutex
	statuses map[string]export.JobStatus
}

// NewMemoryStatusStore creates an empty in-memory status store.
func NewMemoryStatusStore() *MemoryStatusStore {
	return &MemoryStatusStore{statuses: make(map[string]export.JobStatus)}
}

// Save implements StatusStore.
func (s *MemoryStatusStore) Save(ctx context.Context, status *export.JobStatus) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[status.ID] = copyStatus(status)
	return nil
}

// Get implements StatusStore.
func (s *MemoryStatusStore) Get(ctx context.Context, id string) (*export.JobStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.statuses[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	out := copyStatus(&st)
	return &out, nil
}

// List implements StatusStore.
func (s *MemoryStatusStore) List(ctx context.Context, limit int) ([]*export.JobStatus, error) {
	s.mu.RLock()
	out := make([]*export.JobStatus, 0, len(s.statuses))
	for _, st := range s.statuses {
		c := copyStatus(&st)
		out = append(out, &c)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Prune implements StatusStore.
func (s *MemoryStatusStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, st := range s.statuses {
		if st.State.Terminal() && st.UpdatedAt.Before(before) {
			delete(s.statuses, id)
			n++
		}
	}
	return n, nil
}

// Close implements StatusStore.
func (s *MemoryStatusStore) Close() error {
	return nil
}

func copyStatus(st *export.JobStatus) export.JobStatus {
	c := *st
	if st.Result != nil {
		r := *st.Result
		c.Result = &r
	}
	return c
}
