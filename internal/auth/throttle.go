package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	attemptPrefix  = "login_attempt_user_"
	lockoutPrefix  = "login_lockout_ip_"
	accountPrefix  = "login_fail_account_"
	refreshPrefix  = "refresh_limit:"
	lockoutMessage = "too many login attempts, try again later"
)

// ThrottleConfig holds the limits used by Throttle. Zero fields take defaults.
type ThrottleConfig struct {
	MaxAttempts   int
	AttemptWindow time.Duration
	IPLockout     time.Duration

	AccountThreshold int
	AccountWindow    time.Duration

	RefreshLimit  int
	RefreshWindow time.Duration
}

func (c ThrottleConfig) withDefaults() ThrottleConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 15
	}
	if c.AttemptWindow <= 0 {
		c.AttemptWindow = 5 * time.Minute
	}
	if c.IPLockout <= 0 {
		c.IPLockout = 15 * time.Minute
	}
	if c.AccountThreshold <= 0 {
		c.AccountThreshold = 5
	}
	if c.AccountWindow <= 0 {
		c.AccountWindow = time.Hour
	}
	if c.RefreshLimit <= 0 {
		c.RefreshLimit = 50
	}
	if c.RefreshWindow <= 0 {
		c.RefreshWindow = 5 * time.Minute
	}
	return c
}

// Throttle tracks failed logins per identifier and locks out source IPs.
type Throttle struct {
	client *redis.Client
	cfg    ThrottleConfig
}

// NewThrottle builds a Throttle on client.
func NewThrottle(client *redis.Client, cfg ThrottleConfig) *Throttle {
	return &Throttle{client: client, cfg: cfg.withDefaults()}
}

// Check reports whether a login for identifier from ip may proceed. Store
// failures deny.
func (t *Throttle) Check(ctx context.Context, identifier, ip string) (bool, string, error) {
	locked, err := t.client.Exists(ctx, lockoutPrefix+ip).Result()
	if err != nil {
		return false, lockoutMessage, fmt.Errorf("auth: throttle lockout: %w", err)
	}
	if locked > 0 {
		return false, lockoutMessage, nil
	}

	attempts, err := t.client.Get(ctx, attemptPrefix+identifier).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, lockoutMessage, fmt.Errorf("auth: throttle attempts: %w", err)
	}
	if attempts >= t.cfg.MaxAttempts {
		if err := t.client.Set(ctx, lockoutPrefix+ip, 1, t.cfg.IPLockout).Err(); err != nil {
			return false, lockoutMessage, fmt.Errorf("auth: throttle set lockout: %w", err)
		}
		return false, lockoutMessage, nil
	}
	return true, "", nil
}

// RecordFailure counts a failed attempt. Each failure restarts the window.
func (t *Throttle) RecordFailure(ctx context.Context, identifier, ip string) error {
	key := attemptPrefix + identifier
	pipe := t.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, t.cfg.AttemptWindow)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("auth: throttle record: %w", err)
	}
	if incr.Val() == int64(t.cfg.MaxAttempts) {
		if err := t.client.Set(ctx, lockoutPrefix+ip, 1, t.cfg.IPLockout).Err(); err != nil {
			return fmt.Errorf("auth: throttle set lockout: %w", err)
		}
	}
	return nil
}

// RecordSuccess clears the identifier counter. An IP lockout stays in place.
func (t *Throttle) RecordSuccess(ctx context.Context, identifier string) error {
	if err := t.client.Del(ctx, attemptPrefix+identifier).Err(); err != nil {
		return fmt.Errorf("auth: throttle reset: %w", err)
	}
	return nil
}

// RecordAccountFailure counts password failures for an account within the
// account window and reports whether the lock threshold has been reached.
func (t *Throttle) RecordAccountFailure(ctx context.Context, account string) (bool, error) {
	key := accountPrefix + account
	count, err := t.client.Incr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("auth: account failures: %w", err)
	}
	if count == 1 {
		if err := t.client.Expire(ctx, key, t.cfg.AccountWindow).Err(); err != nil {
			return false, fmt.Errorf("auth: account failures expire: %w", err)
		}
	}
	return count >= int64(t.cfg.AccountThreshold), nil
}

// ResetAccount clears the account failure counter.
func (t *Throttle) ResetAccount(ctx context.Context, account string) error {
	if err := t.client.Del(ctx, accountPrefix+account).Err(); err != nil {
		return fmt.Errorf("auth: account reset: %w", err)
	}
	return nil
}

// AllowRefresh applies the per-subject refresh limit.
func (t *Throttle) AllowRefresh(ctx context.Context, subject string) (bool, error) {
	key := refreshPrefix + subject
	pipe := t.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, t.cfg.RefreshWindow)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("auth: refresh limit: %w", err)
	}
	return incr.Val() <= int64(t.cfg.RefreshLimit), nil
}
