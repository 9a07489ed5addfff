package rbac

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	globalVersionKey     = "global_permission_version"
	subjectVersionPrefix = "user_permission_version:"
	defaultVersionTTL    = 24 * time.Hour
)

// Versions tracks the per-subject and global generation counters that
// prefix every permission-derived cache key.
type Versions struct {
	client *redis.Client
	ttl    time.Duration
}

// NewVersions builds the registry. Counters expire ttl after their last bump.
func NewVersions(client *redis.Client, ttl time.Duration) *Versions {
	if ttl <= 0 {
		ttl = defaultVersionTTL
	}
	return &Versions{client: client, ttl: ttl}
}

func subjectVersionKey(id uuid.UUID) string {
	return subjectVersionPrefix + id.String()
}

// BumpSubject invalidates everything cached for one subject.
func (v *Versions) BumpSubject(ctx context.Context, id uuid.UUID) (int64, error) {
	return v.bump(ctx, subjectVersionKey(id))
}

// BumpGlobal invalidates everything cached for every subject.
func (v *Versions) BumpGlobal(ctx context.Context) (int64, error) {
	return v.bump(ctx, globalVersionKey)
}

func (v *Versions) bump(ctx context.Context, key string) (int64, error) {
	pipe := v.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, v.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("rbac: bump %s: %w", key, err)
	}
	return incr.Val(), nil
}

// Tag returns "v{subject}_{global}" read in one round trip. Missing counters count as zero.
func (v *Versions) Tag(ctx context.Context, id uuid.UUID) (string, error) {
	values, err := v.client.MGet(ctx, subjectVersionKey(id), globalVersionKey).Result()
	if err != nil {
		return "", fmt.Errorf("rbac: version tag: %w", err)
	}
	return fmt.Sprintf("v%d_%d", counterValue(values[0]), counterValue(values[1])), nil
}

func counterValue(raw interface{}) int64 {
	s, ok := raw.(string)
	if !ok {
		return 0
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
