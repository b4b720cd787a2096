package credit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

const productCacheKeyPrefix = "credits:products:"

// ProductCache caches the active catalog per platform.
type ProductCache interface {
	Get(ctx context.Context, platform Platform) ([]Product, bool)
	Set(ctx context.Context, platform Platform, products []Product)
	Invalidate(ctx context.Context)
}

type noopCache struct{}

func (noopCache) Get(context.Context, Platform) ([]Product, bool) { return nil, false }
func (noopCache) Set(context.Context, Platform, []Product)        {}
func (noopCache) Invalidate(context.Context)                      {}

// RedisProductCache stores the catalog as JSON with a TTL. A nil client
// disables caching.
type RedisProductCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisProductCache(client *redis.Client, ttl time.Duration) *RedisProductCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisProductCache{client: client, ttl: ttl}
}

func productCacheKey(platform Platform) string {
	return productCacheKeyPrefix + string(platform)
}

func (c *RedisProductCache) Get(ctx context.Context, platform Platform) ([]Product, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}
	raw, err := c.client.Get(ctx, productCacheKey(platform)).Bytes()
	if err != nil {
		return nil, false
	}
	var products []Product
	if err := json.Unmarshal(raw, &products); err != nil {
		return nil, false
	}
	return products, true
}

func (c *RedisProductCache) Set(ctx context.Context, platform Platform, products []Product) {
	if c == nil || c.client == nil {
		return
	}
	raw, err := json.Marshal(products)
	if err != nil {
		return
	}
	c.client.Set(ctx, productCacheKey(platform), raw, c.ttl)
}

// Invalidate drops every platform's cached catalog.
func (c *RedisProductCache) Invalidate(ctx context.Context) {
	if c == nil || c.client == nil {
		return
	}
	keys := make([]string, 0, 3)
	for _, p := range []Platform{PlatformIOS, PlatformAndroid, PlatformWeb} {
		keys = append(keys, productCacheKey(p))
	}
	c.client.Del(ctx, keys...)
}
