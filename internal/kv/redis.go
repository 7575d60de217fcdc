package kv

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/nikolayk812/gomarketplace-cart/internal/port"
)

const (
	redisPingAttempts = 10
	redisMaxBackoff   = 30 * time.Second
)

type RedisStore struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRedis accepts either a redis:// URL or a plain host:port address.
func NewRedis(addr string, logger *slog.Logger) (*RedisStore, error) {
	if addr == "" {
		return nil, fmt.Errorf("addr is empty")
	}
	if logger == nil {
		logger = slog.Default()
	}

	opts, err := redis.ParseURL(addr)
	if err != nil {
		opts = &redis.Options{
			Addr:         addr,
			MinIdleConns: 1,
			DialTimeout:  10 * time.Second,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 5 * time.Second,
			PoolSize:     10,
			PoolTimeout:  4 * time.Second,
		}
	}

	return &RedisStore{
		client: redis.NewClient(opts),
		logger: logger,
	}, nil
}

// Initialize pings the server until it answers, backing off exponentially between attempts.
func (s *RedisStore) Initialize(ctx context.Context) error {
	var lastErr error

	for i := 0; i < redisPingAttempts; i++ {
		lastErr = s.client.Ping(ctx).Err()
		if lastErr == nil {
			s.logger.Debug("redis ping ok", "attempt", i+1)
			return nil
		}

		backoff := time.Duration(100*(1<<uint(i))) * time.Millisecond
		if backoff > redisMaxBackoff {
			backoff = redisMaxBackoff
		}
		s.logger.Warn("redis ping failed", "attempt", i+1, "backoff", backoff, "error", lastErr)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}

	return fmt.Errorf("redis not reachable after %d attempts: %w", redisPingAttempts, lastErr)
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, port.ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("client.Get: %w", err)
	}

	return value, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte) error {
	if err := s.client.Set(ctx, key, value, 0).Err(); err != nil {
		return fmt.Errorf("client.Set: %w", err)
	}

	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
