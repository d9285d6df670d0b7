package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"mercator-hq/tabula/pkg/config"
)

// RedisConfig contains configuration for the Redis transport.
type RedisConfig struct {
	// Addr is the server address ("host:port").
	Addr string

	// Password authenticates the connection.
	Password string

	// DB selects the database.
	DB int

	// Key is the list jobs are pushed to.
	Key string

	// PollTimeout bounds a single BRPOP so workers notice Close.
	// Default: 5s
	PollTimeout time.Duration
}

// RedisTransport is a Transport backed by a Redis list. Producers LPUSH and
// workers BRPOP, so jobs are consumed in submission order by exactly one
// worker across all processes sharing the key.
type RedisTransport struct {
	client      *redis.Client
	key         string
	pollTimeout time.Duration
	closed      atomic.Bool
	logger      *slog.Logger
}

// NewRedisTransport connects to Redis and verifies the connection.
func NewRedisTransport(ctx context.Context, cfg *RedisConfig) (*RedisTransport, error) {
	if cfg.Key == "" {
		return nil, fmt.Errorf("redis key cannot be empty")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}

	t := newRedisTransport(client, cfg.Key, cfg.PollTimeout)
	t.logger.Info("Redis transport connected", "addr", cfg.Addr, "key", cfg.Key)
	return t, nil
}

func newRedisTransport(client *redis.Client, key string, pollTimeout time.Duration) *RedisTransport {
	if pollTimeout <= 0 {
		pollTimeout = config.DefaultRedisPollTimeout
	}
	return &RedisTransport{
		client:      client,
		key:         key,
		pollTimeout: pollTimeout,
		logger:      slog.Default().With("component", "export.queue.redis"),
	}
}

// RedisConfigFrom converts the file configuration.
func RedisConfigFrom(cfg *config.RedisConfig) *RedisConfig {
	return &RedisConfig{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		Key:         cfg.Key,
		PollTimeout: cfg.PollTimeout,
	}
}

// Push implements Transport.
func (t *RedisTransport) Push(ctx context.Context, data []byte) error {
	if t.closed.Load() {
		return ErrClosed
	}
	if err := t.client.LPush(ctx, t.key, data).Err(); err != nil {
		return fmt.Errorf("failed to push job: %w", err)
	}
	return nil
}

// Pop implements Transport.
func (t *RedisTransport) Pop(ctx context.Context) ([]byte, error) {
	for {
		if t.closed.Load() {
			return nil, ErrClosed
		}

		res, err := t.client.BRPop(ctx, t.pollTimeout, t.key).Result()
		switch {
		case err == nil:
			// BRPOP answers [key, value].
			if len(res) != 2 {
				return nil, fmt.Errorf("unexpected BRPOP reply of %d elements", len(res))
			}
			return []byte(res[1]), nil
		case errors.Is(err, redis.Nil):
			continue
		case ctx.Err() != nil:
			return nil, ctx.Err()
		case t.closed.Load() || errors.Is(err, redis.ErrClosed):
			return nil, ErrClosed
		default:
			return nil, fmt.Errorf("failed to pop job: %w", err)
		}
	}
}

// Len returns the number of jobs waiting in the list.
func (t *RedisTransport) Len(ctx context.Context) (int64, error) {
	return t.client.LLen(ctx, t.key).Result()
}

// Close implements Transport. It closes the client, interrupting blocked
// workers.
func (t *RedisTransport) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	return t.client.Close()
}

// Ping checks that the server is reachable.
func (t *RedisTransport) Ping(ctx context.Context) error {
	if t.closed.Load() {
		return ErrClosed
	}
	return t.client.Ping(ctx).Err()
}
