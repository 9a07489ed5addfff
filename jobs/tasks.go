package jobs

import (
	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskWhitelistRefresh reloads the dynamic API whitelist into Redis.
	TaskWhitelistRefresh = "rbac:whitelist_refresh"
	// TaskMenuWarmup rebuilds the cached global menu tree.
	TaskMenuWarmup = "rbac:menu_warmup"
	// TaskHeartbeat records worker liveness.
	TaskHeartbeat = "system:heartbeat"
)

// Default schedules for the built-in tasks.
const (
	DefaultWhitelistRefreshSpec = "@every 5m"
	DefaultMenuWarmupSpec       = "0 * * * *"
	DefaultHeartbeatSpec        = "@every 1m"
)

// NewWhitelistRefreshTask constructs the whitelist refresh task.
func NewWhitelistRefreshTask() *asynq.Task {
	return asynq.NewTask(TaskWhitelistRefresh, nil)
}

// NewMenuWarmupTask constructs the menu warmup task.
func NewMenuWarmupTask() *asynq.Task {
	return asynq.NewTask(TaskMenuWarmup, nil)
}

// NewHeartbeatTask constructs the heartbeat task.
func NewHeartbeatTask() *asynq.Task {
	return asynq.NewTask(TaskHeartbeat, nil)
}
