package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kestral/convoke/internal/task"
	"go.uber.org/zap"
)

// ConfidenceThreshold is the acceptance policy for task results: a
// response scoring above it marks the task completed, at or below it
// the task is marked failed. The same threshold applies to queued and
// direct execution.
const ConfidenceThreshold = 0.5

const (
	defaultQueueSize     = 256
	defaultMaxConcurrent = 5
	loopErrorPause       = time.Second
)

// TaskSink observes every finished task with its response. Installed by
// the orchestrator for metrics and durable mirroring; may be nil.
type TaskSink func(ctx context.Context, t *task.Task, resp *task.Response)

// Dispatcher executes tasks against the pool under a global concurrency
// ceiling. Queued tasks are admitted in FIFO order through a counting
// gate; the direct Execute path serves callers that need the result
// inline, such as workflow steps.
type Dispatcher struct {
	pool   *AgentPool
	logger *zap.Logger

	queue chan *task.Task
	slots chan struct{}
	stop  chan struct{}

	stopOnce sync.Once
	wg       sync.WaitGroup

	sink TaskSink

	mu        sync.Mutex
	active    map[string]*task.Task
	completed []*task.Task
}

func NewDispatcher(pool *AgentPool, maxConcurrent int, logger *zap.Logger) *Dispatcher {
	if maxConcurrent <= 0 {
		maxConcurrent = defaultMaxConcurrent
	}
	return &Dispatcher{
		pool:   pool,
		logger: logger,
		queue:  make(chan *task.Task, defaultQueueSize),
		slots:  make(chan struct{}, maxConcurrent),
		stop:   make(chan struct{}),
		active: make(map[string]*task.Task),
	}
}

// SetSink installs the finished-task observer. Call before Start.
func (d *Dispatcher) SetSink(sink TaskSink) { d.sink = sink }

// Start launches the background queue loop.
func (d *Dispatcher) Start() {
	d.wg.Add(1)
	go d.loop()
	d.logger.Info("dispatcher started", zap.Int("max_concurrent", cap(d.slots)))
}

func (d *Dispatcher) loop() {
	defer d.wg.Done()
	for {
		if d.cycle() {
			return
		}
	}
}

// cycle admits one queued task. A panic anywhere in admission is
// logged, the loop pauses briefly and continues; individual task
// failures must never take the loop down.
func (d *Dispatcher) cycle() (stopped bool) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("dispatcher loop error, pausing", zap.Any("panic", r))
			time.Sleep(loopErrorPause)
		}
	}()

	select {
	case <-d.stop:
		return true
	case t := <-d.queue:
		select {
		case d.slots <- struct{}{}:
		case <-d.stop:
			return true
		}
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			defer func() { <-d.slots }()
			d.runOnce(context.Background(), t)
		}()
	}
	return false
}

// Enqueue submits a task for asynchronous execution. Tasks beyond the
// concurrency ceiling wait in arrival order.
func (d *Dispatcher) Enqueue(t *task.Task) error {
	select {
	case <-d.stop:
		return fmt.Errorf("dispatcher stopped")
	default:
	}
	select {
	case d.queue <- t:
		d.logger.Info("task queued", zap.String("task", t.ID), zap.String("type", string(t.Type)))
		return nil
	default:
		return fmt.Errorf("task queue full (%d waiting)", cap(d.queue))
	}
}

// Execute runs a task synchronously against the pool, bypassing the
// queue but sharing selection and failure semantics with it.
func (d *Dispatcher) Execute(ctx context.Context, t *task.Task) *task.Response {
	return d.runOnce(ctx, t)
}

// runOnce is the single primitive behind both the queued loop and the
// direct path: select an agent, process, apply the confidence policy.
// It never panics outward; all failures land on the task and response.
func (d *Dispatcher) runOnce(ctx context.Context, t *task.Task) (resp *task.Response) {
	d.track(t)
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("task execution panic",
				zap.String("task", t.ID), zap.Any("panic", r))
			t.Status = task.StatusFailed
			t.Error = fmt.Sprintf("internal error: %v", r)
			t.UpdatedAt = time.Now()
			resp = task.NewResponse("", t.Type)
			resp.Response = "task failed: " + t.Error
			resp.Reasoning = "internal dispatcher error"
		}
		d.finish(ctx, t, resp)
	}()

	a := d.pool.Available(t.Type)
	if a == nil {
		t.Status = task.StatusFailed
		t.Error = fmt.Sprintf("no agent available for type %s", t.Type)
		t.UpdatedAt = time.Now()

		resp = task.NewResponse("", t.Type)
		resp.Response = fmt.Sprintf("No available agents for type %s", t.Type)
		resp.Reasoning = "no agent available"
		d.logger.Warn("no agent available",
			zap.String("task", t.ID), zap.String("type", string(t.Type)))
		return resp
	}

	resp = a.Process(ctx, t)
	d.applyConfidencePolicy(t, resp)
	return resp
}

// applyConfidencePolicy reconciles the task's terminal status with the
// acceptance threshold. Confidence is the sole success signal; a
// completed task with a score at or below the threshold is demoted to
// failed.
func (d *Dispatcher) applyConfidencePolicy(t *task.Task, resp *task.Response) {
	if resp.Confidence > ConfidenceThreshold {
		return
	}
	if t.Status == task.StatusCancelled {
		return
	}
	if t.Status != task.StatusFailed {
		t.Status = task.StatusFailed
		t.UpdatedAt = time.Now()
	}
	if t.Error == "" {
		t.Error = fmt.Sprintf("confidence %.2f at or below threshold %.2f", resp.Confidence, ConfidenceThreshold)
	}
}

func (d *Dispatcher) track(t *task.Task) {
	d.mu.Lock()
	d.active[t.ID] = t
	d.mu.Unlock()
}

func (d *Dispatcher) finish(ctx context.Context, t *task.Task, resp *task.Response) {
	d.mu.Lock()
	delete(d.active, t.ID)
	d.completed = append(d.completed, t)
	d.mu.Unlock()

	if d.sink != nil {
		d.sink(ctx, t, resp)
	}
}

// ActiveCount returns the number of tasks currently in flight.
func (d *Dispatcher) ActiveCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.active)
}

// CompletedCount returns the number of finished tasks, any status.
func (d *Dispatcher) CompletedCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.completed)
}

// Task looks a task up by id across the active set and completed log.
func (d *Dispatcher) Task(id string) *task.Task {
	d.mu.Lock()
	defer d.mu.Unlock()
	if t, ok := d.active[id]; ok {
		return t
	}
	for _, t := range d.completed {
		if t.ID == id {
			return t
		}
	}
	return nil
}

// Shutdown stops the queue loop and marks every in-flight task as
// cancelled. In-flight completion calls are not aborted; cancellation
// means the dispatcher stops tracking them. Safe to call repeatedly.
func (d *Dispatcher) Shutdown() {
	d.stopOnce.Do(func() {
		close(d.stop)

		d.mu.Lock()
		for _, t := range d.active {
			t.Status = task.StatusCancelled
			t.UpdatedAt = time.Now()
		}
		cancelled := len(d.active)
		d.mu.Unlock()

		d.logger.Info("dispatcher shut down", zap.Int("cancelled_tasks", cancelled))
	})
}
