package cache

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"

	"sumi/internal/model"
)

const (
	SourcePrimary   = "primary"
	SourceSecondary = "secondary"
)

type entry struct {
	data      []byte
	expiresAt time.Time
}

// Cache composes a distributed primary store with a small in-process
// LRU. Reads return the first hit tagged with its source; writes
// populate both layers. When the primary is down the secondary still
// serves. TTLs differ per entry, so the LRU carries its own expiry
// per value.
type Cache struct {
	rdb *redis.Client
	lru *lru.Cache[string, entry]
	now func() time.Time
}

func New(rdb *redis.Client, lruSize int) *Cache {
	if lruSize <= 0 {
		lruSize = 200
	}
	l, _ := lru.New[string, entry](lruSize)
	return &Cache{rdb: rdb, lru: l, now: time.Now}
}

// Get returns the cached value for key and the layer it came from.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, string, bool) {
	if c.rdb != nil {
		if data, err := c.rdb.Get(ctx, key).Bytes(); err == nil {
			return data, SourcePrimary, true
		}
	}

	if e, ok := c.lru.Get(key); ok {
		if c.now().Before(e.expiresAt) {
			return e.data, SourceSecondary, true
		}
		c.lru.Remove(key)
	}
	return nil, "", false
}

// Set writes the value to both layers with the given TTL. Primary
// failures are ignored; the secondary write always happens.
func (c *Cache) Set(ctx context.Context, key string, val []byte, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	if c.rdb != nil {
		c.rdb.Set(ctx, key, val, ttl)
	}
	c.lru.Add(key, entry{data: val, expiresAt: c.now().Add(ttl)})
}

// GetResult reads and decodes a conversion result.
func (c *Cache) GetResult(ctx context.Context, key string) (*model.Result, string, bool) {
	data, source, ok := c.Get(ctx, key)
	if !ok {
		return nil, "", false
	}
	var r model.Result
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, "", false
	}
	return &r, source, true
}

// SetResult stores a conversion result under its tier's TTL.
func (c *Cache) SetResult(ctx context.Context, key string, r *model.Result) {
	data, err := json.Marshal(r)
	if err != nil {
		return
	}
	c.Set(ctx, key, data, TTLForTier(r.Tier))
}

// TTLForTier maps a result tier to its cache lifetime.
func TTLForTier(tier string) time.Duration {
	switch {
	case tier == "youtube":
		return time.Hour
	case strings.HasPrefix(tier, "document:"):
		return 2 * time.Hour
	case strings.HasPrefix(tier, "browser"):
		return 10 * time.Minute
	default:
		return 5 * time.Minute
	}
}

// ExtractTTL is the lifetime of /extract results; empty extractions
// are never stored at all.
const ExtractTTL = time.Hour
