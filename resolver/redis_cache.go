package resolver

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// populatedField distinguishes a populated-but-empty entry from a missing
// key, since an empty Redis hash and an absent key are indistinguishable.
const populatedField = "__populated__"

// RedisCache implements Cache on Redis for multi-instance deployments.
// Each principal gets one hash per table; invalidation deletes both keys.
//
// An optional TTL bounds the lifetime of every entry. That bound is the
// backstop for lost-invalidation races: a write that interleaves with a
// concurrent read-then-populate can leave an about-to-be-stale entry
// behind, and the TTL guarantees it cannot outlive the window.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// RedisCacheOption configures a RedisCache.
type RedisCacheOption func(*RedisCache)

// WithTTL bounds cache entry lifetime. Zero means entries live until
// explicitly invalidated.
func WithTTL(ttl time.Duration) RedisCacheOption {
	return func(c *RedisCache) {
		c.ttl = ttl
	}
}

// NewRedisCache creates a Redis-backed reachability cache.
func NewRedisCache(client *redis.Client, prefix string, opts ...RedisCacheOption) *RedisCache {
	if prefix == "" {
		prefix = "authz:reach:"
	}
	c := &RedisCache{client: client, prefix: prefix}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *RedisCache) allKey(principalID string) string {
	return c.prefix + "all:" + principalID
}

func (c *RedisCache) indirectKey(principalID string) string {
	return c.prefix + "ind:" + principalID
}

func (c *RedisCache) ReachableGroups(ctx context.Context, principalID string) (map[string]string, bool, error) {
	return c.read(ctx, c.allKey(principalID))
}

func (c *RedisCache) IndirectGroups(ctx context.Context, principalID string) (map[string]string, bool, error) {
	return c.read(ctx, c.indirectKey(principalID))
}

func (c *RedisCache) read(ctx context.Context, key string) (map[string]string, bool, error) {
	entry, err := c.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, false, err
	}
	if _, ok := entry[populatedField]; !ok {
		return nil, false, nil
	}
	delete(entry, populatedField)
	return entry, true, nil
}

func (c *RedisCache) Put(ctx context.Context, principalID string, all, indirect map[string]string) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		c.write(ctx, pipe, c.allKey(principalID), all)
		c.write(ctx, pipe, c.indirectKey(principalID), indirect)
		return nil
	})
	return err
}

func (c *RedisCache) write(ctx context.Context, pipe redis.Pipeliner, key string, entry map[string]string) {
	fields := make(map[string]string, len(entry)+1)
	for g, v := range entry {
		fields[g] = v
	}
	fields[populatedField] = Marker

	pipe.Del(ctx, key)
	pipe.HSet(ctx, key, fields)
	if c.ttl > 0 {
		pipe.Expire(ctx, key, c.ttl)
	}
}

func (c *RedisCache) Invalidate(ctx context.Context, principalIDs ...string) error {
	if len(principalIDs) == 0 {
		return nil
	}
	keys := make([]string, 0, len(principalIDs)*2)
	for _, id := range principalIDs {
		keys = append(keys, c.allKey(id), c.indirectKey(id))
	}
	return c.client.Del(ctx, keys...).Err()
}

// Compile-time interface check
var _ Cache = (*RedisCache)(nil)
