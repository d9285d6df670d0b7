package queue

import (
	"context"
	"fmt"

	"mercator-hq/tabula/pkg/config"
)

// NewFromConfig builds a queue with the transport and status store selected
// by cfg.
func NewFromConfig(ctx context.Context, cfg *config.QueueConfig) (*Queue, error) {
	status, err := NewStatusStore(&cfg.Status)
	if err != nil {
		return nil, err
	}

	var transport Transport
	switch cfg.Driver {
	case "", "local":
		transport = NewChannelTransport(cfg.BufferSize)
	case "redis":
		rt, err := NewRedisTransport(ctx, RedisConfigFrom(&cfg.Redis))
		if err != nil {
			status.Close()
			return nil, err
		}
		transport = rt
	default:
		status.Close()
		return nil, fmt.Errorf("unsupported queue driver %q", cfg.Driver)
	}

	return New(ConfigFrom(cfg), transport, status), nil
}

// NewStatusStore opens the status store selected by cfg.
func NewStatusStore(cfg *config.JobStatusConfig) (StatusStore, error) {
	switch cfg.Driver {
	case "", "memory":
		return NewMemoryStatusStore(), nil
	case "sqlite":
		return NewSQLiteStatusStore(cfg.Path, cfg.BusyTimeout)
	default:
		return nil, fmt.Errorf("unsupported job status driver %q", cfg.Driver)
	}
}
