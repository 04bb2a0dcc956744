package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/oggyb/blind-match/internal/config"
	"github.com/redis/go-redis/v9"
)

type RedisCache struct {
	Client *redis.Client
}

// PresenceEntry is the hot copy of a user's presence row.
type PresenceEntry struct {
	IsOnline bool
	LastSeen time.Time
}

// NewRedisCache initializes Redis client from config.
// Only Addr is mandatory, Password/DB are optional.
func NewRedisCache(cfg *config.Config) *RedisCache {
	opts := &redis.Options{
		Addr: cfg.Redis.Addr,
	}
	if cfg.Redis.Password != "" {
		opts.Password = cfg.Redis.Password
	}
	if cfg.Redis.DB != 0 {
		opts.DB = cfg.Redis.DB
	}
	return &RedisCache{Client: redis.NewClient(opts)}
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.Client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.Client.Close()
}

// KeyForPresence generates Redis key for a user's presence hash
func (c *RedisCache) KeyForPresence(userID uint64) string {
	return fmt.Sprintf("presence:%d", userID)
}

// SetPresence writes the presence hash and refreshes its TTL in one round trip.
func (c *RedisCache) SetPresence(ctx context.Context, userID uint64, p PresenceEntry, ttl time.Duration) error {
	key := c.KeyForPresence(userID)
	online := "0"
	if p.IsOnline {
		online = "1"
	}

	pipe := c.Client.TxPipeline()
	pipe.HSet(ctx, key, map[string]any{
		"online":    online,
		"last_seen": p.LastSeen.UnixMilli(),
	})
	pipe.Expire(ctx, key, ttl)
	_, err := pipe.Exec(ctx)
	return err
}

// GetPresence returns the cached entry. ok is false on a cache miss.
func (c *RedisCache) GetPresence(ctx context.Context, userID uint64) (PresenceEntry, bool, error) {
	vals, err := c.Client.HGetAll(ctx, c.KeyForPresence(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return PresenceEntry{}, false, nil // cache miss
	} else if err != nil {
		return PresenceEntry{}, false, err
	}
	if len(vals) == 0 {
		return PresenceEntry{}, false, nil
	}

	ms, err := strconv.ParseInt(vals["last_seen"], 10, 64)
	if err != nil {
		// corrupt entry: treat as a miss so the DB copy wins
		return PresenceEntry{}, false, nil
	}
	return PresenceEntry{
		IsOnline: vals["online"] == "1",
		LastSeen: time.UnixMilli(ms).UTC(),
	}, true, nil
}
