package rbac

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const whitelistCacheKey = "white_apis"

// Whitelist combines the static configured patterns with the operator-managed
// entries published under white_apis.
type Whitelist struct {
	static []string
	client *redis.Client
	store  WhitelistStore
	ttl    time.Duration
}

// NewWhitelist builds the whitelist. store may be nil when only static entries are used.
func NewWhitelist(static []string, client *redis.Client, store WhitelistStore, ttl time.Duration) *Whitelist {
	cleaned := make([]string, 0, len(static))
	for _, p := range static {
		if p = strings.TrimSpace(p); p != "" {
			cleaned = append(cleaned, p)
		}
	}
	return &Whitelist{static: cleaned, client: client, store: store, ttl: ttl}
}

// Patterns returns the cached dynamic entries followed by the static ones.
// A missing cache entry yields only the static list.
func (w *Whitelist) Patterns(ctx context.Context) ([]string, error) {
	if w.client == nil {
		return w.static, nil
	}
	raw, err := w.client.Get(ctx, whitelistCacheKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return w.static, nil
	}
	if err != nil {
		return w.static, fmt.Errorf("rbac: load whitelist: %w", err)
	}
	var dynamic []string
	if err := json.Unmarshal(raw, &dynamic); err != nil {
		return w.static, fmt.Errorf("rbac: decode whitelist: %w", err)
	}
	return append(dynamic, w.static...), nil
}

// Refresh republishes the dynamic entries from the store and reports how many were written.
func (w *Whitelist) Refresh(ctx context.Context) (int, error) {
	if w.store == nil || w.client == nil {
		return 0, nil
	}
	entries, err := w.store.ActiveWhitelist(ctx)
	if err != nil {
		return 0, err
	}
	if entries == nil {
		entries = []string{}
	}
	raw, err := json.Marshal(entries)
	if err != nil {
		return 0, fmt.Errorf("rbac: encode whitelist: %w", err)
	}
	if err := w.client.Set(ctx, whitelistCacheKey, raw, w.ttl).Err(); err != nil {
		return 0, fmt.Errorf("rbac: store whitelist: %w", err)
	}
	return len(entries), nil
}
