// internal/cache/redis.go
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/impactlink/escrow-backend/internal/config"
)

const processedEventPrefix = "escrow:webhook:processed:"

// EventCache remembers processed webhook event ids so redeliveries skip the database.
type EventCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisClient connects and pings. An empty address disables caching.
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	if cfg.Addr == "" {
		return nil, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}
	return rdb, nil
}

func NewEventCache(rdb *redis.Client, ttl time.Duration) *EventCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &EventCache{rdb: rdb, ttl: ttl}
}

func (c *EventCache) Seen(ctx context.Context, eventID string) (bool, error) {
	n, err := c.rdb.Exists(ctx, processedEventPrefix+eventID).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (c *EventCache) MarkProcessed(ctx context.Context, eventID string) error {
	return c.rdb.SetNX(ctx, processedEventPrefix+eventID, 1, c.ttl).Err()
}
