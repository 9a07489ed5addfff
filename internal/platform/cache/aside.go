package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const scanBatch = 200

// Loader produces the raw value stored on a cache miss.
type Loader func(ctx context.Context) ([]byte, error)

// Aside is a cache-aside helper with per-key miss collapsing.
type Aside struct {
	client *redis.Client
	group  singleflight.Group
}

// NewAside instantiates the helper.
func NewAside(client *redis.Client) *Aside {
	return &Aside{client: client}
}

// Fetch returns the cached bytes for key or stores what loader produces for ttl.
// Concurrent misses on the same key share a single loader call.
func (a *Aside) Fetch(ctx context.Context, key string, ttl time.Duration, loader Loader) ([]byte, error) {
	if loader == nil {
		return nil, errors.New("cache: loader required")
	}
	if a == nil || a.client == nil {
		return loader(ctx)
	}
	payload, err := a.client.Get(ctx, key).Bytes()
	if err == nil {
		return payload, nil
	}
	if !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("cache: get %s: %w", key, err)
	}

	resultChan := a.group.DoChan(key, func() (interface{}, error) {
		raw, err := loader(ctx)
		if err != nil {
			return nil, err
		}
		if err := a.client.Set(ctx, key, raw, ttl).Err(); err != nil {
			return nil, fmt.Errorf("cache: set %s: %w", key, err)
		}
		return raw, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-resultChan:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]byte), nil
	}
}

// FetchJSON loads a cached JSON value into dest or populates it using the loader.
func (a *Aside) FetchJSON(ctx context.Context, key string, ttl time.Duration, dest any, loader func(context.Context) (any, error)) error {
	if loader == nil {
		return errors.New("cache: loader required")
	}
	raw, err := a.Fetch(ctx, key, ttl, func(ctx context.Context) ([]byte, error) {
		value, err := loader(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(value)
	})
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dest)
}

// Delete removes the given keys.
func (a *Aside) Delete(ctx context.Context, keys ...string) error {
	if a == nil || a.client == nil || len(keys) == 0 {
		return nil
	}
	return a.client.Del(ctx, keys...).Err()
}

// DeletePrefix removes every key starting with prefix using SCAN, never KEYS.
func (a *Aside) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	if a == nil || a.client == nil {
		return 0, nil
	}
	var (
		cursor  uint64
		removed int
	)
	for {
		keys, next, err := a.client.Scan(ctx, cursor, prefix+"*", scanBatch).Result()
		if err != nil {
			return removed, fmt.Errorf("cache: scan %s: %w", prefix, err)
		}
		if len(keys) > 0 {
			n, err := a.client.Del(ctx, keys...).Result()
			if err != nil {
				return removed, fmt.Errorf("cache: delete %s: %w", prefix, err)
			}
			removed += int(n)
		}
		if next == 0 {
			return removed, nil
		}
		cursor = next
	}
}
