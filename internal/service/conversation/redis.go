package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBackend stores transcripts as Redis strings with an optional TTL.
type RedisBackend struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisBackend wraps a client. A zero ttl keeps entries until cleared.
func NewRedisBackend(client *redis.Client, ttl time.Duration) *RedisBackend {
	return &RedisBackend{client: client, ttl: ttl}
}

func (b *RedisBackend) Load(ctx context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, ErrInvalidID
	}
	data, err := b.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("redis get failed: %w", err)
	}
	return data, nil
}

func (b *RedisBackend) Save(ctx context.Context, key string, data []byte) error {
	if key == "" {
		return ErrInvalidID
	}
	if err := b.client.Set(ctx, key, data, b.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (b *RedisBackend) Delete(ctx context.Context, key string) error {
	if err := b.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del failed: %w", err)
	}
	return nil
}

// Ping checks connectivity at startup.
func (b *RedisBackend) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}
