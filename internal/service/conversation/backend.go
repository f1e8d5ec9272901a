package conversation

import (
	"context"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"

	"github.com/zhouzirui/scene-guide/backend/internal/config"
)

// NewBackend builds the backend selected by configuration.
func NewBackend(ctx context.Context, cfg config.StorageConfig) (Backend, error) {
	switch cfg.Backend {
	case config.StoreFile:
		return NewFileBackend(cfg.Dir)
	case config.StoreRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		backend := NewRedisBackend(client, cfg.TTL)
		if err := backend.Ping(ctx); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("connect redis %s: %w", cfg.RedisAddr, err)
		}
		log.Printf("[conversation] using redis at %s", cfg.RedisAddr)
		return backend, nil
	default:
		return NewMemoryBackend(), nil
	}
}
