// Package cache keeps built consolidated views in Redis.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"scopekeeper/api/internal/extraction"
)

const defaultTTL = 10 * time.Minute

// RedisViewCache stores views under a per-workspace generation number. Every
// write to a workspace bumps the generation, so views built before the write
// can no longer be looked up and simply age out.
type RedisViewCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisViewCache connects to Redis and verifies the connection.
func NewRedisViewCache(redisURL string, ttl time.Duration) (*RedisViewCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisViewCacheWithClient(client, ttl), nil
}

func NewRedisViewCacheWithClient(client *redis.Client, ttl time.Duration) *RedisViewCache {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RedisViewCache{client: client, prefix: "views:", ttl: ttl}
}

func (c *RedisViewCache) generationKey(orgID, workspaceID string) string {
	return c.prefix + "gen:" + orgID + ":" + workspaceID
}

func (c *RedisViewCache) viewKey(orgID, workspaceID string, generation int64, view string) string {
	return c.prefix + orgID + ":" + workspaceID + ":" + strconv.FormatInt(generation, 10) + ":" + view
}

func (c *RedisViewCache) generation(ctx context.Context, orgID, workspaceID string) (int64, error) {
	gen, err := c.client.Get(ctx, c.generationKey(orgID, workspaceID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read view generation: %w", err)
	}
	return gen, nil
}

// Lookup decodes a cached view into dest. On a miss the returned token is the
// key a freshly built view must be stored under.
func (c *RedisViewCache) Lookup(ctx context.Context, orgID, workspaceID, view string, dest any) (bool, string, error) {
	gen, err := c.generation(ctx, orgID, workspaceID)
	if err != nil {
		return false, "", err
	}
	key := c.viewKey(orgID, workspaceID, gen, view)

	raw, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, key, nil
	}
	if err != nil {
		return false, "", fmt.Errorf("lookup view %s: %w", view, err)
	}
	if err := extraction.DecodeJSON(raw, dest); err != nil {
		return false, key, fmt.Errorf("unmarshal cached view %s: %w", view, err)
	}
	return true, key, nil
}

func (c *RedisViewCache) Store(ctx context.Context, token string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal view: %w", err)
	}
	if err := c.client.Set(ctx, token, raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("store view: %w", err)
	}
	return nil
}

func (c *RedisViewCache) Invalidate(ctx context.Context, orgID, workspaceID string) error {
	if err := c.client.Incr(ctx, c.generationKey(orgID, workspaceID)).Err(); err != nil {
		return fmt.Errorf("bump view generation: %w", err)
	}
	return nil
}

func (c *RedisViewCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisViewCache) Close() error {
	return c.client.Close()
}
