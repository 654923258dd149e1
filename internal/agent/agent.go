package agent

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/kestral/convoke/internal/provider"
	"github.com/kestral/convoke/internal/task"
	"go.uber.org/zap"
)

// Completer is the completion-service contract an agent depends on.
// Implementations must report API failures through the result's Success
// flag, never through panics.
type Completer interface {
	Complete(ctx context.Context, req provider.CompletionRequest) provider.CompletionResult
}

// Retriever provides semantic retrieval for grounded document tasks.
type Retriever interface {
	Retrieve(ctx context.Context, query string, topK int) ([]string, error)
}

// Agent is a stateful worker that executes exactly one task at a time
// against the completion service. The busy flag rejects concurrent
// submissions immediately instead of queuing; routing around busy
// agents is the pool's job.
type Agent struct {
	ID          string
	Name        string
	Description string
	Type        task.CapabilityType

	variant   Variant
	completer Completer
	busy      atomic.Bool
	logger    *zap.Logger

	mu         sync.Mutex
	history    []*task.Task
	createdAt  time.Time
	lastActive time.Time
}

// Option configures optional agent dependencies.
type Option func(*options)

type options struct {
	retriever Retriever
}

// WithRetriever enables the document variant's retrieval-grounded mode.
func WithRetriever(r Retriever) Option {
	return func(o *options) { o.retriever = r }
}

// New creates an agent of the given capability type. The concrete
// variant supplies prompts and confidence heuristics; the execution
// pipeline is shared.
func New(capability task.CapabilityType, completer Completer, logger *zap.Logger, opts ...Option) (*Agent, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	var v Variant
	switch capability {
	case task.CapabilityResearch:
		v = &researchVariant{}
	case task.CapabilityAnalyst:
		v = &analystVariant{}
	case task.CapabilityCoding:
		v = &codingVariant{}
	case task.CapabilityDocument:
		v = &documentVariant{retriever: o.retriever}
	default:
		return nil, fmt.Errorf("unknown capability type %q", capability)
	}
	return NewWithVariant(v, completer, logger), nil
}

// NewWithVariant creates an agent around a caller-supplied variant,
// for deployments that extend the built-in capability set.
func NewWithVariant(v Variant, completer Completer, logger *zap.Logger) *Agent {
	now := time.Now()
	return &Agent{
		ID:          uuid.New().String(),
		Name:        v.DisplayName(),
		Description: v.Description(),
		Type:        v.Type(),
		variant:     v,
		completer:   completer,
		logger:      logger,
		createdAt:   now,
		lastActive:  now,
	}
}

// Busy reports whether the agent currently has a task in flight.
func (a *Agent) Busy() bool { return a.busy.Load() }

// Process executes a single pending task. It never panics and never
// returns an error: all failures surface through the response's
// confidence and the task's lifecycle fields. A second submission while
// busy is rejected immediately with confidence 0.
func (a *Agent) Process(ctx context.Context, t *task.Task) (resp *task.Response) {
	if !a.busy.CompareAndSwap(false, true) {
		r := task.NewResponse(a.ID, a.Type)
		r.Response = "agent is currently busy with another task"
		r.Reasoning = "agent unavailable"
		return r
	}
	defer a.busy.Store(false)

	a.mu.Lock()
	a.lastActive = time.Now()
	a.mu.Unlock()

	t.Status = task.StatusRunning
	t.UpdatedAt = time.Now()
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("agent panic recovered",
				zap.String("agent", a.Name), zap.String("task", t.ID), zap.Any("panic", r))
			resp = a.failTask(t, fmt.Sprintf("internal error: %v", r))
		}
	}()

	out, err := a.variant.ExecuteTask(ctx, a.completer, t)
	if err != nil {
		a.logger.Error("agent task failed",
			zap.String("agent", a.Name), zap.String("task", t.ID), zap.Error(err))
		return a.failTask(t, err.Error())
	}

	elapsed := time.Since(start).Seconds()
	t.Status = task.StatusCompleted
	t.Result = out.Response
	t.ExecutionTime = elapsed
	t.UpdatedAt = time.Now()

	a.mu.Lock()
	a.history = append(a.history, t)
	a.mu.Unlock()

	out.AgentID = a.ID
	out.AgentType = a.Type
	if out.Metadata == nil {
		out.Metadata = make(map[string]interface{})
	}
	out.Metadata["execution_time"] = elapsed
	out.Metadata["task_id"] = t.ID
	out.Metadata["timestamp"] = time.Now().Format(time.RFC3339)

	a.logger.Info("task completed",
		zap.String("agent", a.Name),
		zap.String("task", t.ID),
		zap.Float64("confidence", out.Confidence),
		zap.Float64("seconds", elapsed))
	return out
}

// failTask marks the task failed and builds the matching zero-confidence
// response. Errors are swallowed at this boundary by design.
func (a *Agent) failTask(t *task.Task, errText string) *task.Response {
	t.Status = task.StatusFailed
	t.Error = errText
	t.UpdatedAt = time.Now()

	r := task.NewResponse(a.ID, a.Type)
	r.Response = "task failed: " + errText
	r.Reasoning = "error occurred: " + errText
	r.Metadata["error"] = errText
	r.Metadata["task_id"] = t.ID
	return r
}

// Info describes an agent's identity and current load.
type Info struct {
	ID              string    `json:"agent_id"`
	Type            string    `json:"agent_type"`
	Name            string    `json:"name"`
	Description     string    `json:"description"`
	Capabilities    []string  `json:"capabilities"`
	Busy            bool      `json:"is_busy"`
	CreatedAt       time.Time `json:"created_at"`
	LastActive      time.Time `json:"last_active"`
	TaskCount       int       `json:"task_count"`
	SuccessfulTasks int       `json:"successful_tasks"`
	FailedTasks     int       `json:"failed_tasks"`
}

// Info returns the agent's identity, capability list and task counts.
func (a *Agent) Info() Info {
	a.mu.Lock()
	defer a.mu.Unlock()

	completed, failed := a.countLocked()
	return Info{
		ID:              a.ID,
		Type:            string(a.Type),
		Name:            a.Name,
		Description:     a.Description,
		Capabilities:    a.variant.Capabilities(),
		Busy:            a.busy.Load(),
		CreatedAt:       a.createdAt,
		LastActive:      a.lastActive,
		TaskCount:       len(a.history),
		SuccessfulTasks: completed,
		FailedTasks:     failed,
	}
}

// Metrics summarizes an agent's performance over its task history.
// Average and total execution time only count completed tasks.
type Metrics struct {
	TotalTasks           int     `json:"total_tasks"`
	CompletedTasks       int     `json:"completed_tasks"`
	FailedTasks          int     `json:"failed_tasks"`
	SuccessRate          float64 `json:"success_rate"`
	AverageExecutionTime float64 `json:"average_execution_time"`
	TotalExecutionTime   float64 `json:"total_execution_time"`
}

// PerformanceMetrics computes the agent's success rate and timing
// statistics. All ratios return 0 when the history is empty.
func (a *Agent) PerformanceMetrics() Metrics {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.history) == 0 {
		return Metrics{}
	}

	completed, failed := a.countLocked()
	var totalTime float64
	for _, t := range a.history {
		if t.Status == task.StatusCompleted {
			totalTime += t.ExecutionTime
		}
	}
	avg := 0.0
	if completed > 0 {
		avg = totalTime / float64(completed)
	}
	return Metrics{
		TotalTasks:           len(a.history),
		CompletedTasks:       completed,
		FailedTasks:          failed,
		SuccessRate:          float64(completed) / float64(len(a.history)),
		AverageExecutionTime: avg,
		TotalExecutionTime:   totalTime,
	}
}

func (a *Agent) countLocked() (completed, failed int) {
	for _, t := range a.history {
		switch t.Status {
		case task.StatusCompleted:
			completed++
		case task.StatusFailed:
			failed++
		}
	}
	return completed, failed
}
