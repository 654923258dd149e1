package orchestrator

import (
	"sync"

	"github.com/kestral/convoke/internal/task"
)

// MetricsAggregator accumulates system counters. It is owned by the
// orchestrator and passed to components that report, rather than
// living as ambient global state.
type MetricsAggregator struct {
	mu                 sync.Mutex
	tasksSubmitted     int
	tasksCompleted     int
	tasksFailed        int
	tasksCancelled     int
	workflowsExecuted  int
	workflowsFailed    int
	totalExecutionTime float64
	perType            map[string]int
}

func NewMetricsAggregator() *MetricsAggregator {
	return &MetricsAggregator{perType: make(map[string]int)}
}

// RecordSubmission counts one accepted task.
func (m *MetricsAggregator) RecordSubmission(t *task.Task) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasksSubmitted++
	m.perType[string(t.Type)]++
}

// RecordCompletion counts one finished task by terminal status.
func (m *MetricsAggregator) RecordCompletion(t *task.Task) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch t.Status {
	case task.StatusCompleted:
		m.tasksCompleted++
		m.totalExecutionTime += t.ExecutionTime
	case task.StatusFailed:
		m.tasksFailed++
	case task.StatusCancelled:
		m.tasksCancelled++
	}
}

// RecordWorkflow counts one finished workflow execution.
func (m *MetricsAggregator) RecordWorkflow(exec *task.Execution) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.workflowsExecuted++
	if exec.Status == task.ExecutionFailed {
		m.workflowsFailed++
	}
}

// MetricsSnapshot is a point-in-time copy of the counters.
type MetricsSnapshot struct {
	TasksSubmitted     int            `json:"tasks_submitted"`
	TasksCompleted     int            `json:"tasks_completed"`
	TasksFailed        int            `json:"tasks_failed"`
	TasksCancelled     int            `json:"tasks_cancelled"`
	WorkflowsExecuted  int            `json:"workflows_executed"`
	WorkflowsFailed    int            `json:"workflows_failed"`
	AverageTaskSeconds float64        `json:"average_task_seconds"`
	TasksPerType       map[string]int `json:"tasks_per_type"`
}

// Snapshot returns a copy of the current counters.
func (m *MetricsAggregator) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	avg := 0.0
	if m.tasksCompleted > 0 {
		avg = m.totalExecutionTime / float64(m.tasksCompleted)
	}
	perType := make(map[string]int, len(m.perType))
	for k, v := range m.perType {
		perType[k] = v
	}
	return MetricsSnapshot{
		TasksSubmitted:     m.tasksSubmitted,
		TasksCompleted:     m.tasksCompleted,
		TasksFailed:        m.tasksFailed,
		TasksCancelled:     m.tasksCancelled,
		WorkflowsExecuted:  m.workflowsExecuted,
		WorkflowsFailed:    m.workflowsFailed,
		AverageTaskSeconds: avg,
		TasksPerType:       perType,
	}
}
