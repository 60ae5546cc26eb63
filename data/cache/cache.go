// Package cache provides the small read-through cache the protection loop
// uses for volatility baselines and news windows, so external sources are
// not hit on every poll cycle.
package cache

import (
	"context"
	"os"
	"strconv"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

type Cache interface {
	Get(key string) ([]byte, bool)
	Set(key string, val []byte, ttl time.Duration)
}

type memory struct {
	mu  sync.Mutex
	m   map[string]entry
	now func() time.Time
}

type entry struct {
	b   []byte
	exp time.Time
}

func New() Cache { return &memory{m: make(map[string]entry), now: time.Now} }

// NewWithClock pins expiry checks to the given clock. Tests use it to move
// time past a TTL without sleeping.
func NewWithClock(now func() time.Time) Cache {
	return &memory{m: make(map[string]entry), now: now}
}

func (c *memory) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.m[key]
	if !ok || (!e.exp.IsZero() && c.now().After(e.exp)) {
		delete(c.m, key)
		return nil, false
	}
	return e.b, true
}

func (c *memory) Set(key string, val []byte, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := entry{b: append([]byte(nil), val...)}
	if ttl > 0 {
		e.exp = c.now().Add(ttl)
	}
	c.m[key] = e
}

// NewRedis returns a cache backed by the Redis node at addr.
func NewRedis(addr string) Cache {
	log.Info().Str("addr", addr).Msg("cache: using redis")
	return &redisCache{r: redis.NewClient(&redis.Options{Addr: addr})}
}

// NewAuto returns a Redis-backed cache when REDIS_ADDR is set, otherwise
// the in-process cache. Single-node deployments need nothing external.
func NewAuto() Cache {
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		return NewRedis(addr)
	}
	return New()
}

type redisCache struct{ r *redis.Client }

func (r *redisCache) Get(key string) ([]byte, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	v, err := r.r.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	return v, true
}

func (r *redisCache) Set(key string, val []byte, ttl time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	if err := r.r.Set(ctx, key, val, ttl).Err(); err != nil {
		log.Debug().Err(err).Str("key", key).Msg("cache: redis set failed")
	}
}

// GetFloat reads a float64 stored with SetFloat.
func GetFloat(c Cache, key string) (float64, bool) {
	b, ok := c.Get(key)
	if !ok {
		return 0, false
	}
	f, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// SetFloat stores a float64 under the key for ttl.
func SetFloat(c Cache, key string, v float64, ttl time.Duration) {
	c.Set(key, []byte(strconv.FormatFloat(v, 'g', -1, 64)), ttl)
}

// FetchFloat returns the cached value for key, or fills it from the loader
// and caches the result. Loader errors pass through uncached.
func FetchFloat(c Cache, key string, ttl time.Duration, load func() (float64, error)) (float64, error) {
	if v, ok := GetFloat(c, key); ok {
		return v, nil
	}
	v, err := load()
	if err != nil {
		return 0, err
	}
	SetFloat(c, key, v, ttl)
	return v, nil
}
