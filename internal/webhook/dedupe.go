package webhook

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
)

// Deduper remembers which event ids were already handled. Claim returns
// false when the id was claimed before.
type Deduper interface {
	Claim(ctx context.Context, eventID string) (bool, error)
	Release(ctx context.Context, eventID string) error
}

// MemoryDeduper keeps claims in process memory.
type MemoryDeduper struct {
	cache *gocache.Cache
	ttl   time.Duration
}

func NewMemoryDeduper(ttl time.Duration) *MemoryDeduper {
	return &MemoryDeduper{cache: gocache.New(ttl, ttl/4), ttl: ttl}
}

func (d *MemoryDeduper) Claim(_ context.Context, eventID string) (bool, error) {
	// Add fails when the key is present and unexpired
	return d.cache.Add(eventID, struct{}{}, d.ttl) == nil, nil
}

func (d *MemoryDeduper) Release(_ context.Context, eventID string) error {
	d.cache.Delete(eventID)
	return nil
}

// RedisClient is the subset of the redis client the deduper needs.
type RedisClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisDeduper shares claims between instances.
type RedisDeduper struct {
	client RedisClient
	ttl    time.Duration
}

func NewRedisDeduper(client RedisClient, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{client: client, ttl: ttl}
}

func (d *RedisDeduper) Claim(ctx context.Context, eventID string) (bool, error) {
	return d.client.SetNX(ctx, "stripe:event:"+eventID, time.Now().Unix(), d.ttl).Result()
}

func (d *RedisDeduper) Release(ctx context.Context, eventID string) error {
	return d.client.Del(ctx, "stripe:event:"+eventID).Err()
}
