package jobs

import (
	"fmt"
	"sort"

	"github.com/hibiken/asynq"
	"github.com/robfig/cron/v3"
)

// CronRegistration wires a cron expression to a registered task type.
type CronRegistration struct {
	Spec     string
	TaskType string
	Options  []asynq.Option
}

// Registry maps task types to handlers and holds the validated schedule.
type Registry struct {
	handlers map[string]asynq.HandlerFunc
	cron     []CronRegistration
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]asynq.HandlerFunc)}
}

// Register binds a handler to a task type. A type can be registered once.
func (r *Registry) Register(taskType string, handler asynq.HandlerFunc) error {
	if taskType == "" || handler == nil {
		return fmt.Errorf("jobs: invalid registration for %q", taskType)
	}
	if _, exists := r.handlers[taskType]; exists {
		return fmt.Errorf("jobs: task type %q already registered", taskType)
	}
	r.handlers[taskType] = handler
	return nil
}

// Schedule adds a periodic task. The spec must parse as a standard cron
// expression or descriptor and the task type must already be registered.
func (r *Registry) Schedule(spec, taskType string, opts ...asynq.Option) error {
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("jobs: invalid cron spec %q for %s: %w", spec, taskType, err)
	}
	if _, ok := r.handlers[taskType]; !ok {
		return fmt.Errorf("jobs: schedule for unregistered task type %q", taskType)
	}
	r.cron = append(r.cron, CronRegistration{Spec: spec, TaskType: taskType, Options: opts})
	return nil
}

// Handler returns the handler for a task type.
func (r *Registry) Handler(taskType string) (asynq.HandlerFunc, bool) {
	h, ok := r.handlers[taskType]
	return h, ok
}

// Types lists registered task types in sorted order.
func (r *Registry) Types() []string {
	out := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Cron returns the validated schedule.
func (r *Registry) Cron() []CronRegistration {
	return append([]CronRegistration(nil), r.cron...)
}

// Mux builds an asynq mux serving every registered type.
func (r *Registry) Mux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	for t, h := range r.handlers {
		mux.HandleFunc(t, h)
	}
	return mux
}
