package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/warden-rbac/warden/internal/platform/httpx"
)

// Worker wraps the Asynq server and optional scheduler.
type Worker struct {
	server    *asynq.Server
	mux       *asynq.ServeMux
	scheduler *asynq.Scheduler
	logger    *slog.Logger
}

// WorkerConfig collects dependencies required to bootstrap the worker.
type WorkerConfig struct {
	Redis       redis.UniversalClient
	Logger      *slog.Logger
	Registry    *Registry
	Concurrency int
	// EnableScheduler registers the registry's cron entries.
	EnableScheduler bool
}

// NewWorker constructs a Worker instance.
func NewWorker(cfg WorkerConfig) (*Worker, error) {
	if cfg.Registry == nil {
		return nil, errors.New("worker: registry required")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 5
	}
	srv := asynq.NewServerFromRedisClient(cfg.Redis, asynq.Config{
		Concurrency: cfg.Concurrency,
		Queues: map[string]int{
			QueueDefault: 1,
		},
	})

	var scheduler *asynq.Scheduler
	if cfg.EnableScheduler && len(cfg.Registry.Cron()) > 0 {
		scheduler = asynq.NewSchedulerFromRedisClient(cfg.Redis, &asynq.SchedulerOpts{Location: time.UTC})
		for _, entry := range cfg.Registry.Cron() {
			task := asynq.NewTask(entry.TaskType, nil)
			if _, err := scheduler.Register(entry.Spec, task, entry.Options...); err != nil {
				return nil, fmt.Errorf("worker: schedule %s: %w", entry.TaskType, err)
			}
		}
	}

	return &Worker{server: srv, mux: cfg.Registry.Mux(), scheduler: scheduler, logger: cfg.Logger}, nil
}

// Run starts processing jobs until context cancellation.
func (w *Worker) Run(ctx context.Context) error {
	if w == nil {
		return errors.New("worker: not configured")
	}
	if w.scheduler != nil {
		if err := w.scheduler.Start(); err != nil {
			return err
		}
	}
	if err := w.server.Start(w.mux); err != nil {
		if w.scheduler != nil {
			w.scheduler.Shutdown()
		}
		return err
	}
	<-ctx.Done()
	if w.scheduler != nil {
		w.scheduler.Shutdown()
	}
	w.server.Shutdown()
	return ctx.Err()
}

// Client submits jobs to the queue.
type Client struct {
	client *asynq.Client
}

// NewClient constructs an Asynq client on an existing Redis connection.
func NewClient(rdb redis.UniversalClient) *Client {
	return &Client{client: asynq.NewClientFromRedisClient(rdb)}
}

// Enqueue submits a payload-less task of the given type.
func (c *Client) Enqueue(ctx context.Context, taskType string, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	opts = append([]asynq.Option{asynq.Queue(QueueDefault)}, opts...)
	return c.client.EnqueueContext(ctx, asynq.NewTask(taskType, nil), opts...)
}

// Close releases client resources.
func (c *Client) Close() error {
	return c.client.Close()
}

// QueueInspector is the part of asynq.Inspector used by the health endpoint.
type QueueInspector interface {
	GetQueueInfo(queue string) (*asynq.QueueInfo, error)
}

// Handler exposes HTTP endpoints for job observability.
type Handler struct {
	inspector QueueInspector
	redis     *redis.Client
	logger    *slog.Logger
}

// NewHandler constructs an HTTP handler for jobs endpoints. Both
// dependencies are optional.
func NewHandler(inspector QueueInspector, rdb *redis.Client, logger *slog.Logger) *Handler {
	return &Handler{inspector: inspector, redis: rdb, logger: loggerOr(logger)}
}

// MountRoutes attaches job routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/health", h.health)
}

type healthResponse struct {
	Queue         string `json:"queue"`
	Pending       int    `json:"pending"`
	LastHeartbeat int64  `json:"last_heartbeat,omitempty"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Queue: QueueDefault}
	if h.inspector != nil {
		info, err := h.inspector.GetQueueInfo(QueueDefault)
		if err != nil {
			h.logger.Warn("jobs health", slog.Any("error", err))
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
			return
		}
		if info != nil {
			resp.Pending = info.Pending
			resp.Queue = info.Queue
		}
	}
	if h.redis != nil {
		raw, err := h.redis.Get(r.Context(), HeartbeatKey).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			h.logger.Warn("jobs heartbeat", slog.Any("error", err))
		}
		if ts, err := strconv.ParseInt(raw, 10, 64); err == nil {
			resp.LastHeartbeat = ts
		}
	}
	httpx.JSON(w, http.StatusOK, resp)
}
