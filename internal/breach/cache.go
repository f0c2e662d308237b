package breach

import (
	"context"
	"errors"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// DefaultCacheTTL bounds how stale a cached range may be.
const DefaultCacheTTL = 24 * time.Hour

// RangeCache stores range responses keyed by hash prefix. Implementations
// never see secrets or full hashes.
type RangeCache interface {
	Get(ctx context.Context, prefix string) (string, bool)
	Set(ctx context.Context, prefix, body string)
}

// MemoryCache is an in-process RangeCache.
type MemoryCache struct {
	c   *gocache.Cache
	ttl time.Duration
}

func NewMemoryCache(ttl time.Duration) *MemoryCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &MemoryCache{c: gocache.New(ttl, time.Hour), ttl: ttl}
}

func (m *MemoryCache) Get(_ context.Context, prefix string) (string, bool) {
	v, ok := m.c.Get(prefix)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func (m *MemoryCache) Set(_ context.Context, prefix, body string) {
	m.c.Set(prefix, body, m.ttl)
}

func (m *MemoryCache) Len() int { return m.c.ItemCount() }

// RedisCache shares ranges between instances. Redis errors degrade to
// cache misses.
type RedisCache struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewRedisCache(client redis.UniversalClient, keyPrefix string, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if keyPrefix == "" {
		keyPrefix = "credcore:breach"
	}
	return &RedisCache{client: client, prefix: keyPrefix, ttl: ttl}
}

// OpenRedisCache connects to url (redis://...) and verifies it with PING.
func OpenRedisCache(ctx context.Context, url, keyPrefix string, ttl time.Duration) (*RedisCache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return NewRedisCache(rdb, keyPrefix, ttl), nil
}

func (r *RedisCache) key(prefix string) string { return r.prefix + ":" + prefix }

func (r *RedisCache) Get(ctx context.Context, prefix string) (string, bool) {
	val, err := r.client.Get(ctx, r.key(prefix)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false
	}
	if err != nil {
		log.Warn().Err(err).Msg("breach range cache read failed")
		return "", false
	}
	return val, true
}

func (r *RedisCache) Set(ctx context.Context, prefix, body string) {
	if err := r.client.Set(ctx, r.key(prefix), body, r.ttl).Err(); err != nil {
		log.Warn().Err(err).Msg("breach range cache write failed")
	}
}

func (r *RedisCache) Close() error { return r.client.Close() }
