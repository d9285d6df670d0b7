package queue

import (
	"context"
	"sync"
)

// Transport carries encoded jobs from submitters to workers.
type Transport interface {
	// Push enqueues an encoded job.
	Push(ctx context.Context, data []byte) error

	// Pop blocks until a job is available, ctx is done or the transport is
	// closed. After Close it returns ErrClosed once no buffered job remains.
	Pop(ctx context.Context) ([]byte, error)

	// Close stops accepting jobs.
	Close() error
}

// ChannelTransport is an in-process Transport backed by a buffered channel.
// Jobs still buffered when it is closed are handed out before Pop reports
// ErrClosed.
type ChannelTransport struct {
	ch   chan []byte
	done chan struct{}
	once sync.Once
}

// NewChannelTransport creates a channel transport with the given capacity.
func NewChannelTransport(buffer int) *ChannelTransport {
	if buffer < 0 {
		buffer = 0
	}
	return &ChannelTransport{
		ch:   make(chan []byte, buffer),
		done: make(chan struct{}),
	}
}

// Push implements Transport. It blocks while the buffer is full.
func (t *ChannelTransport) Push(ctx context.Context, data []byte) error {
	select {
	case <-t.done:
		return ErrClosed
	default:
	}

	select {
	case t.ch <- data:
		return nil
	case <-t.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pop implements Transport.
func (t *ChannelTransport) Pop(ctx context.Context) ([]byte, error) {
	select {
	case data := <-t.ch:
		return data, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-t.done:
	}

	// Drain what was buffered before the close.
	select {
	case data := <-t.ch:
		return data, nil
	default:
		return nil, ErrClosed
	}
}

// Close implements Transport.
func (t *ChannelTransport) Close() error {
	t.once.Do(func() { close(t.done) })
	return nil
}

// Len returns the number of buffered jobs.
func (t *ChannelTransport) Len() int {
	return len(t.ch)
}
