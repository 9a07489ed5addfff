package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	jobmetrics "github.com/warden-rbac/warden/internal/jobs"
)

// HeartbeatKey holds the unix time of the last worker heartbeat.
const HeartbeatKey = "worker:heartbeat"

// Refresher reloads a cached data set and reports how many entries it loaded.
type Refresher interface {
	Refresh(ctx context.Context) (int, error)
}

// Warmer rebuilds a cached data set and reports how many entries it loaded.
type Warmer interface {
	Warm(ctx context.Context) (int, error)
}

// WhitelistRefreshJob copies active api_whitelist rows into Redis.
type WhitelistRefreshJob struct {
	Whitelist Refresher
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
}

// Handle processes TaskWhitelistRefresh tasks.
func (j *WhitelistRefreshJob) Handle(ctx context.Context, _ *asynq.Task) (err error) {
	tracker := j.Metrics.Track(TaskWhitelistRefresh)
	defer func() { err = tracker.End(err) }()

	n, err := j.Whitelist.Refresh(ctx)
	if err != nil {
		loggerOr(j.Logger).Error("whitelist refresh", slog.Any("error", err))
		return err
	}
	j.Metrics.AddItems(TaskWhitelistRefresh, n)
	loggerOr(j.Logger).Info("whitelist refreshed", slog.Int("entries", n))
	return nil
}

// MenuWarmupJob rebuilds the global menu tree cache.
type MenuWarmupJob struct {
	Menus   Warmer
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// Handle processes TaskMenuWarmup tasks.
func (j *MenuWarmupJob) Handle(ctx context.Context, _ *asynq.Task) (err error) {
	tracker := j.Metrics.Track(TaskMenuWarmup)
	defer func() { err = tracker.End(err) }()

	n, err := j.Menus.Warm(ctx)
	if err != nil {
		loggerOr(j.Logger).Error("menu warmup", slog.Any("error", err))
		return err
	}
	j.Metrics.AddItems(TaskMenuWarmup, n)
	loggerOr(j.Logger).Info("menu tree warmed", slog.Int("menus", n))
	return nil
}

// HeartbeatJob stamps HeartbeatKey so the API can report worker liveness.
type HeartbeatJob struct {
	Redis   *redis.Client
	TTL     time.Duration
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// Handle processes TaskHeartbeat tasks.
func (j *HeartbeatJob) Handle(ctx context.Context, _ *asynq.Task) (err error) {
	tracker := j.Metrics.Track(TaskHeartbeat)
	defer func() { err = tracker.End(err) }()

	ttl := j.TTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	now := time.Now
	if j.clock != nil {
		now = j.clock
	}
	return j.Redis.Set(ctx, HeartbeatKey, now().Unix(), ttl).Err()
}

// RegisterDefaults registers the built-in tasks and their schedules.
func RegisterDefaults(reg *Registry, whitelist *WhitelistRefreshJob, menus *MenuWarmupJob, heartbeat *HeartbeatJob) error {
	if err := reg.Register(TaskWhitelistRefresh, whitelist.Handle); err != nil {
		return err
	}
	if err := reg.Register(TaskMenuWarmup, menus.Handle); err != nil {
		return err
	}
	if err := reg.Register(TaskHeartbeat, heartbeat.Handle); err != nil {
		return err
	}
	schedule := []struct{ spec, task string }{
		{DefaultWhitelistRefreshSpec, TaskWhitelistRefresh},
		{DefaultMenuWarmupSpec, TaskMenuWarmup},
		{DefaultHeartbeatSpec, TaskHeartbeat},
	}
	for _, s := range schedule {
		if err := reg.Schedule(s.spec, s.task, asynq.Queue(QueueDefault)); err != nil {
			return err
		}
	}
	return nil
}

func loggerOr(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}
