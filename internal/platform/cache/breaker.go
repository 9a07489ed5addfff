package cache

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"time"

	"github.com/redis/go-redis/v9"
	gobreaker "github.com/sony/gobreaker/v2"
)

// BreakerConfig tunes the circuit breaker placed in front of Redis.
type BreakerConfig struct {
	Name             string
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold uint32
}

// DefaultBreakerConfig returns production defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Name:             "redis",
		MaxRequests:      3,
		Interval:         30 * time.Second,
		Timeout:          10 * time.Second,
		FailureThreshold: 5,
	}
}

// BreakerHook is a redis.Hook that short-circuits commands while Redis is failing.
type BreakerHook struct {
	cb *gobreaker.CircuitBreaker[struct{}]
}

// NewBreakerHook builds the hook. A nil logger disables state change logging.
func NewBreakerHook(cfg BreakerConfig, logger *slog.Logger) *BreakerHook {
	if cfg.Name == "" {
		cfg = DefaultBreakerConfig()
	}
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		IsSuccessful: isSuccessful,
		OnStateChange: func(name string, from, to gobreaker.State) {
			if logger != nil {
				logger.Warn("redis breaker state change",
					slog.String("breaker", name),
					slog.String("from", from.String()),
					slog.String("to", to.String()))
			}
		},
	}
	return &BreakerHook{cb: gobreaker.NewCircuitBreaker[struct{}](settings)}
}

// State reports the current breaker state.
func (h *BreakerHook) State() gobreaker.State {
	return h.cb.State()
}

// DialHook passes dials through untouched.
func (h *BreakerHook) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		return next(ctx, network, addr)
	}
}

// ProcessHook runs a single command through the breaker.
func (h *BreakerHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		_, err := h.cb.Execute(func() (struct{}, error) {
			return struct{}{}, next(ctx, cmd)
		})
		if isBreakerError(err) {
			cmd.SetErr(err)
		}
		return err
	}
}

// ProcessPipelineHook runs a pipeline (including MULTI/EXEC) through the breaker.
func (h *BreakerHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		_, err := h.cb.Execute(func() (struct{}, error) {
			return struct{}{}, next(ctx, cmds)
		})
		if isBreakerError(err) {
			for _, cmd := range cmds {
				cmd.SetErr(err)
			}
		}
		return err
	}
}

// redis.Nil is a cache miss, and a cancelled caller says nothing about Redis health.
func isSuccessful(err error) bool {
	return err == nil ||
		errors.Is(err, redis.Nil) ||
		errors.Is(err, context.Canceled)
}

func isBreakerError(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
