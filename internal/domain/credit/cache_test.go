package credit

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestRedisProductCacheNilClient(t *testing.T) {
	c := NewRedisProductCache(nil, 0)
	ctx := context.Background()

	c.Set(ctx, PlatformIOS, []Product{{ProductID: "credits_100"}})
	if _, ok := c.Get(ctx, PlatformIOS); ok {
		t.Fatal("nil client should never hit")
	}
	c.Invalidate(ctx)

	if got := productCacheKey(PlatformAndroid); got != "credits:products:android" {
		t.Fatalf("unexpected key %q", got)
	}
}

func TestRedisProductCacheRoundTrip(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{Addr: addr, DB: 15})
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}

	c := NewRedisProductCache(client, time.Minute)
	c.Invalidate(ctx)

	c.Set(ctx, PlatformWeb, []Product{{ProductID: "credits_100", Credits: 100, Platform: PlatformWeb}})
	got, ok := c.Get(ctx, PlatformWeb)
	if !ok || len(got) != 1 || got[0].Credits != 100 {
		t.Fatalf("unexpected cache hit: %v %+v", ok, got)
	}

	c.Invalidate(ctx)
	if _, ok := c.Get(ctx, PlatformWeb); ok {
		t.Fatal("expected miss after invalidate")
	}
}
