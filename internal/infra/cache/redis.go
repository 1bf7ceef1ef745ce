package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// CachedKeySet is a signing key set document as published by the issuer,
// stamped with the time it was fetched upstream.
type CachedKeySet struct {
	Document  json.RawMessage `json:"document"`
	FetchedAt time.Time       `json:"fetched_at"`
}

// KeySetCache shares fetched key set documents between authorizer replicas.
// Get returns (nil, nil) on a miss.
type KeySetCache interface {
	Get(ctx context.Context, jwksURL string) (*CachedKeySet, error)
	Set(ctx context.Context, jwksURL string, value *CachedKeySet, ttl time.Duration) error
}

type redisCache struct {
	client *redis.Client
}

func NewRedisClient(url string, poolSize int) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	if poolSize > 0 {
		opt.PoolSize = poolSize
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return client, nil
}

func NewKeySetCache(client *redis.Client) KeySetCache {
	return &redisCache{client: client}
}

func keySetKey(jwksURL string) string {
	sum := sha256.Sum256([]byte(jwksURL))
	return "authz:jwks:" + hex.EncodeToString(sum[:])
}

func (r *redisCache) Get(ctx context.Context, jwksURL string) (*CachedKeySet, error) {
	val, err := r.client.Get(ctx, keySetKey(jwksURL)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get from redis: %w", err)
	}

	var cached CachedKeySet
	if err := json.Unmarshal(val, &cached); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached key set: %w", err)
	}

	return &cached, nil
}

func (r *redisCache) Set(ctx context.Context, jwksURL string, value *CachedKeySet, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal cached key set: %w", err)
	}

	if err := r.client.Set(ctx, keySetKey(jwksURL), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set redis cache: %w", err)
	}

	return nil
}
