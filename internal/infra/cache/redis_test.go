package cache_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/astro-web3/request-authorizer/internal/infra/cache"
	"github.com/redis/go-redis/v9"
)

func newTestCache(t *testing.T) (cache.KeySetCache, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return cache.NewKeySetCache(client), mr
}

func TestKeySetCache_MissReturnsNil(t *testing.T) {
	c, _ := newTestCache(t)

	got, err := c.Get(context.Background(), "https://idp/jwks")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil on miss, got %+v", got)
	}
}

func TestKeySetCache_SetGetAndExpire(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	fetchedAt := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	want := &cache.CachedKeySet{Document: json.RawMessage(`{"keys":[]}`), FetchedAt: fetchedAt}

	if err := c.Set(ctx, "https://idp/jwks", want, time.Minute); err != nil {
		t.Fatalf("unexpected set error: %v", err)
	}

	got, err := c.Get(ctx, "https://idp/jwks")
	if err != nil {
		t.Fatalf("unexpected get error: %v", err)
	}
	if got == nil || string(got.Document) != `{"keys":[]}` || !got.FetchedAt.Equal(fetchedAt) {
		t.Errorf("unexpected cached value: %+v", got)
	}

	other, err := c.Get(ctx, "https://other/jwks")
	if err != nil || other != nil {
		t.Errorf("expected miss for a different url, got %+v, %v", other, err)
	}

	mr.FastForward(2 * time.Minute)
	expired, err := c.Get(ctx, "https://idp/jwks")
	if err != nil || expired != nil {
		t.Errorf("expected miss after ttl, got %+v, %v", expired, err)
	}
}

func TestKeySetCache_CorruptValue(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	if err := c.Set(ctx, "https://idp/jwks", &cache.CachedKeySet{Document: json.RawMessage(`{}`)}, time.Minute); err != nil {
		t.Fatalf("unexpected set error: %v", err)
	}
	for _, k := range mr.Keys() {
		if err := mr.Set(k, "not-json"); err != nil {
			t.Fatalf("miniredis set: %v", err)
		}
	}

	if _, err := c.Get(ctx, "https://idp/jwks"); err == nil {
		t.Error("expected unmarshal error for corrupt value")
	}
}
