package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	blacklistPrefix     = "token_blacklist_"
	revokedBeforePrefix = "token_revoked_before_"
)

// addScript adds a member and extends the set TTL, never shortening it.
// It returns 1 when the member was new.
var addScript = redis.NewScript(`
local added = redis.call('SADD', KEYS[1], ARGV[1])
local want = tonumber(ARGV[2])
local ttl = redis.call('PTTL', KEYS[1])
if ttl < want then
	redis.call('PEXPIRE', KEYS[1], want)
end
return added
`)

// Blacklist stores revoked tokens per subject. RevokeAll additionally
// records a millisecond cutoff so every token issued up to then is rejected.
type Blacklist struct {
	client      *redis.Client
	maxLifetime time.Duration
	now         func() time.Time
}

// NewBlacklist builds a Blacklist. maxLifetime bounds how long a force-logout
// cutoff is kept and should match the refresh token TTL.
func NewBlacklist(client *redis.Client, maxLifetime time.Duration) *Blacklist {
	if maxLifetime <= 0 {
		maxLifetime = defaultRefreshTTL
	}
	return &Blacklist{client: client, maxLifetime: maxLifetime, now: time.Now}
}

func blacklistKey(subjectID uuid.UUID) string {
	return blacklistPrefix + subjectID.String()
}

func revokedBeforeKey(subjectID uuid.UUID) string {
	return revokedBeforePrefix + subjectID.String()
}

func tokenDigest(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Add revokes token until expiry. Already expired tokens are ignored.
func (b *Blacklist) Add(ctx context.Context, token string, subjectID uuid.UUID, expiry time.Time) error {
	_, err := b.Claim(ctx, token, subjectID, expiry)
	return err
}

// Claim revokes token until expiry and reports whether this call was the
// one that revoked it. Concurrent claims of the same token see exactly one
// true. An expired token is never claimed.
func (b *Blacklist) Claim(ctx context.Context, token string, subjectID uuid.UUID, expiry time.Time) (bool, error) {
	remaining := expiry.Sub(b.now())
	if remaining <= 0 {
		return false, nil
	}
	added, err := addScript.Run(ctx, b.client, []string{blacklistKey(subjectID)}, tokenDigest(token), remaining.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("auth: blacklist add: %w", err)
	}
	return added == 1, nil
}

// IsRevoked reports whether token was revoked for subjectID, either
// individually or by a force-logout at or after issuedAt.
func (b *Blacklist) IsRevoked(ctx context.Context, token string, subjectID uuid.UUID, issuedAt time.Time) (bool, error) {
	pipe := b.client.Pipeline()
	member := pipe.SIsMember(ctx, blacklistKey(subjectID), tokenDigest(token))
	cutoff := pipe.Get(ctx, revokedBeforeKey(subjectID))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return false, fmt.Errorf("auth: blacklist lookup: %w", err)
	}
	if member.Val() {
		return true, nil
	}
	raw, err := cutoff.Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("auth: blacklist cutoff: %w", err)
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return false, fmt.Errorf("auth: blacklist cutoff %q: %w", raw, err)
	}
	return issuedAt.UnixMilli() <= ms, nil
}

// RevokeAll drops the subject's blacklist set and rejects every token issued
// up to the current millisecond.
func (b *Blacklist) RevokeAll(ctx context.Context, subjectID uuid.UUID) error {
	pipe := b.client.TxPipeline()
	pipe.Del(ctx, blacklistKey(subjectID))
	pipe.Set(ctx, revokedBeforeKey(subjectID), b.now().UnixMilli(), b.maxLifetime)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("auth: blacklist revoke all: %w", err)
	}
	return nil
}
