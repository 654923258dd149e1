package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"github.com/kestral/convoke/internal/agent"
	"github.com/kestral/convoke/internal/task"
	"go.uber.org/zap"
)

// defaultAgentsPerType is the fleet size per capability in the default
// deployment. Two instances let one direct workflow step and one queued
// task of the same type run side by side.
const defaultAgentsPerType = 2

// Recorder mirrors task state into durable storage. The orchestrator
// works correctly with this collaborator absent; mirror failures are
// logged and never affect task outcomes.
type Recorder interface {
	SaveTask(ctx context.Context, t *task.Task) error
}

// Publisher emits task lifecycle events to a message stream.
type Publisher interface {
	PublishTaskEvent(ctx context.Context, event string, t *task.Task) error
}

// GraphMirror records workflow structure and run outcomes in a graph
// store.
type GraphMirror interface {
	RecordWorkflow(ctx context.Context, wf *task.Workflow) error
	RecordExecution(ctx context.Context, exec *task.Execution) error
}

// Notifier announces finished workflow executions to chat channels.
type Notifier interface {
	NotifyWorkflow(ctx context.Context, exec *task.Execution) error
}

// Orchestrator is the public face of the engine: it owns the pool, the
// dispatcher, the workflow engine and the metrics aggregator, and fans
// task outcomes out to the optional collaborators.
type Orchestrator struct {
	pool       *AgentPool
	dispatcher *Dispatcher
	engine     *Engine
	metrics    *MetricsAggregator
	logger     *zap.Logger

	recorder Recorder
	events   Publisher
	graph    GraphMirror
	notifier Notifier

	shutdown sync.Once
}

// Option configures optional orchestrator collaborators.
type Option func(*Orchestrator)

func WithRecorder(r Recorder) Option { return func(o *Orchestrator) { o.recorder = r } }

func WithPublisher(p Publisher) Option { return func(o *Orchestrator) { o.events = p } }

func WithGraphMirror(g GraphMirror) Option { return func(o *Orchestrator) { o.graph = g } }

func WithNotifier(n Notifier) Option { return func(o *Orchestrator) { o.notifier = n } }

// New assembles an orchestrator around an existing pool. The caller
// populates the pool; NewWithDefaultFleet covers the standard layout.
func New(pool *AgentPool, maxConcurrent int, logger *zap.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		pool:    pool,
		metrics: NewMetricsAggregator(),
		logger:  logger,
	}
	for _, opt := range opts {
		opt(o)
	}

	o.dispatcher = NewDispatcher(pool, maxConcurrent, logger)
	o.dispatcher.SetSink(o.onTaskDone)
	o.engine = NewEngine(o.dispatcher, logger)
	o.dispatcher.Start()
	return o
}

// NewWithDefaultFleet builds an orchestrator with the standard fleet:
// defaultAgentsPerType agents for every built-in capability type.
func NewWithDefaultFleet(completer agent.Completer, maxConcurrent int, logger *zap.Logger, agentOpts []agent.Option, opts ...Option) (*Orchestrator, error) {
	pool := NewAgentPool(logger)
	for _, c := range task.CapabilityTypes() {
		for i := 0; i < defaultAgentsPerType; i++ {
			a, err := agent.New(c, completer, logger, agentOpts...)
			if err != nil {
				return nil, fmt.Errorf("building %s agent: %w", c, err)
			}
			pool.Add(a)
		}
	}
	return New(pool, maxConcurrent, logger, opts...), nil
}

// onTaskDone is the dispatcher sink: metrics first, then best-effort
// mirroring and events.
func (o *Orchestrator) onTaskDone(ctx context.Context, t *task.Task, resp *task.Response) {
	o.metrics.RecordCompletion(t)

	if o.recorder != nil {
		if err := o.recorder.SaveTask(ctx, t); err != nil {
			o.logger.Warn("task mirror failed", zap.String("task", t.ID), zap.Error(err))
		}
	}
	if o.events != nil {
		if err := o.events.PublishTaskEvent(ctx, string(t.Status), t); err != nil {
			o.logger.Warn("task event publish failed", zap.String("task", t.ID), zap.Error(err))
		}
	}
}

// SubmitTask executes one task synchronously and returns the agent's
// response. Failures surface through the response's confidence and the
// task record, never as an error.
func (o *Orchestrator) SubmitTask(ctx context.Context, capability task.CapabilityType, prompt string, taskCtx map[string]interface{}) *task.Response {
	t := task.New(capability, prompt, taskCtx)
	o.metrics.RecordSubmission(t)
	o.publishSubmission(ctx, t)
	return o.dispatcher.Execute(ctx, t)
}

// EnqueueTask submits a task for asynchronous execution, tracked by
// task id.
func (o *Orchestrator) EnqueueTask(ctx context.Context, t *task.Task) error {
	if !t.Type.Valid() {
		return fmt.Errorf("unknown capability type %q", t.Type)
	}
	if err := o.dispatcher.Enqueue(t); err != nil {
		return err
	}
	o.metrics.RecordSubmission(t)
	o.publishSubmission(ctx, t)
	return nil
}

func (o *Orchestrator) publishSubmission(ctx context.Context, t *task.Task) {
	if o.recorder != nil {
		if err := o.recorder.SaveTask(ctx, t); err != nil {
			o.logger.Warn("task mirror failed", zap.String("task", t.ID), zap.Error(err))
		}
	}
	if o.events != nil {
		if err := o.events.PublishTaskEvent(ctx, "submitted", t); err != nil {
			o.logger.Warn("task event publish failed", zap.String("task", t.ID), zap.Error(err))
		}
	}
}

// ExecuteWorkflow validates and runs a workflow to completion,
// returning the execution record. Workflow-fatal conditions surface as
// a failed record, never an error, once validation has passed.
func (o *Orchestrator) ExecuteWorkflow(ctx context.Context, wf *task.Workflow) (*task.Execution, error) {
	if err := wf.Validate(); err != nil {
		return nil, fmt.Errorf("invalid workflow: %w", err)
	}
	if o.graph != nil {
		if err := o.graph.RecordWorkflow(ctx, wf); err != nil {
			o.logger.Warn("workflow graph mirror failed", zap.String("workflow", wf.ID), zap.Error(err))
		}
	}

	exec := o.engine.Execute(ctx, wf)
	o.metrics.RecordWorkflow(exec)

	if o.graph != nil {
		if err := o.graph.RecordExecution(ctx, exec); err != nil {
			o.logger.Warn("execution graph mirror failed", zap.String("workflow", wf.ID), zap.Error(err))
		}
	}
	if o.notifier != nil {
		if err := o.notifier.NotifyWorkflow(ctx, exec); err != nil {
			o.logger.Warn("workflow notification failed", zap.String("workflow", wf.ID), zap.Error(err))
		}
	}
	return exec, nil
}

// ExecuteCollaborative generates the canonical multi-phase workflow
// for an objective and runs it.
func (o *Orchestrator) ExecuteCollaborative(ctx context.Context, objective string, capabilities []task.CapabilityType) (*task.Execution, error) {
	wf, err := BuildCollaborativeWorkflow(objective, capabilities)
	if err != nil {
		return nil, err
	}
	return o.ExecuteWorkflow(ctx, wf)
}

// Task returns a submitted task by id, or nil when unknown.
func (o *Orchestrator) Task(id string) *task.Task { return o.dispatcher.Task(id) }

// Agents returns info records for the whole fleet.
func (o *Orchestrator) Agents() []agent.Info {
	fleet := o.pool.Agents()
	out := make([]agent.Info, 0, len(fleet))
	for _, a := range fleet {
		out = append(out, a.Info())
	}
	return out
}

// AgentMetrics returns performance metrics for one agent by id.
func (o *Orchestrator) AgentMetrics(id string) (agent.Metrics, bool) {
	a := o.pool.Get(id)
	if a == nil {
		return agent.Metrics{}, false
	}
	return a.PerformanceMetrics(), true
}

// SystemStatus summarizes the engine's current state.
type SystemStatus struct {
	AgentCount     int             `json:"agent_count"`
	ActiveTasks    int             `json:"active_tasks"`
	CompletedTasks int             `json:"completed_tasks"`
	PerTypeCounts  map[string]int  `json:"per_type_counts"`
	Metrics        MetricsSnapshot `json:"metrics"`
}

// Status reports agent and task counts plus the metrics snapshot.
func (o *Orchestrator) Status() SystemStatus {
	return SystemStatus{
		AgentCount:     o.pool.Size(),
		ActiveTasks:    o.dispatcher.ActiveCount(),
		CompletedTasks: o.dispatcher.CompletedCount(),
		PerTypeCounts:  o.pool.Counts(),
		Metrics:        o.metrics.Snapshot(),
	}
}

// Shutdown stops the dispatcher, cancels in-flight tasks and releases
// the pool. Safe to call multiple times.
func (o *Orchestrator) Shutdown() {
	o.shutdown.Do(func() {
		o.dispatcher.Shutdown()
		o.pool.Shutdown()
		o.logger.Info("orchestrator shut down")
	})
}
