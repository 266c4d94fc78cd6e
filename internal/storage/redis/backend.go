package redis

import (
	"context"
	"fmt"
	"strings"

	"github.com/kavarel/gigpilot/internal/config"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "gigpilot:"

// Backend implements storage.Backend on Redis
type Backend struct {
	rdb *redis.Client
}

// NewBackend connects to Redis and verifies the connection
func NewBackend(cfg config.RedisConfig) (*Backend, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Backend{rdb: rdb}, nil
}

func (b *Backend) Name() string {
	return "redis"
}

func (b *Backend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := b.rdb.Get(ctx, keyPrefix+key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get key: %w", err)
	}
	return data, true, nil
}

func (b *Backend) Set(ctx context.Context, key string, value []byte) error {
	// No TTL: session eviction is handled by the session manager, not
	// by key expiry.
	if err := b.rdb.Set(ctx, keyPrefix+key, value, 0).Err(); err != nil {
		return fmt.Errorf("failed to set key: %w", err)
	}
	return nil
}

func (b *Backend) Remove(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	prefixed := make([]string, len(keys))
	for i, key := range keys {
		prefixed[i] = keyPrefix + key
	}
	if err := b.rdb.Del(ctx, prefixed...).Err(); err != nil {
		return fmt.Errorf("failed to delete keys: %w", err)
	}
	return nil
}

func (b *Backend) GetAll(ctx context.Context) (map[string][]byte, error) {
	out := make(map[string][]byte)
	var cursor uint64

	for {
		keys, nextCursor, err := b.rdb.Scan(ctx, cursor, keyPrefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan keys: %w", err)
		}

		for _, key := range keys {
			data, err := b.rdb.Get(ctx, key).Bytes()
			if err == redis.Nil {
				continue // deleted between scan and get
			}
			if err != nil {
				return nil, fmt.Errorf("failed to get key %s: %w", key, err)
			}
			out[strings.TrimPrefix(key, keyPrefix)] = data
		}

		cursor = nextCursor
		if cursor == 0 {
			break
		}
	}

	return out, nil
}

func (b *Backend) Clear(ctx context.Context) error {
	var cursor uint64
	for {
		keys, nextCursor, err := b.rdb.Scan(ctx, cursor, keyPrefix+"*", 100).Result()
		if err != nil {
			return fmt.Errorf("failed to scan keys: %w", err)
		}
		if len(keys) > 0 {
			if err := b.rdb.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("failed to delete keys: %w", err)
			}
		}
		cursor = nextCursor
		if cursor == 0 {
			break
		}
	}
	return nil
}

func (b *Backend) Ping(ctx context.Context) error {
	return b.rdb.Ping(ctx).Err()
}

func (b *Backend) Close() error {
	return b.rdb.Close()
}
