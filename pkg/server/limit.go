package server

import (
	"net/http"
	"sync/atomic"
)

// exportLimiter is a counting semaphore over synchronous exports. A nil
// limiter admits everything.
type exportLimiter struct {
	limit   int64
	current atomic.Int64
}

func newExportLimiter(limit int) *exportLimiter {
	if limit <= 0 {
		return nil
	}
	return &exportLimiter{limit: int64(limit)}
}

// acquire takes a slot. The caller must release it when acquire succeeds.
func (l *exportLimiter) acquire() bool {
	if l.current.Add(1) > l.limit {
		l.current.Add(-1)
		return false
	}
	return true
}

func (l *exportLimiter) release() {
	l.current.Add(-1)
}

// inFlight returns the number of held slots.
func (l *exportLimiter) inFlight() int64 {
	if l == nil {
		return 0
	}
	return l.current.Load()
}

// wrap rejects requests with 429 while every slot is held.
func (l *exportLimiter) wrap(next http.HandlerFunc) http.HandlerFunc {
	if l == nil {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if !l.acquire() {
			w.Header().Set("Retry-After", "1")
			writeJSON(w, http.StatusTooManyRequests, errorResponse{
				Error:     "too many exports in progress",
				RequestID: w.Header().Get(RequestIDHeader),
			})
			return
		}
		defer l.release()
		next(w, r)
	}
}
