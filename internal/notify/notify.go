package notify

import (
	"context"
	"fmt"

	"github.com/kestral/convoke/internal/task"
	"go.uber.org/zap"
)

// Notifier announces a finished workflow execution on one channel.
type Notifier interface {
	NotifyWorkflow(ctx context.Context, exec *task.Execution) error
	Name() string
}

// Fanout delivers each announcement to every configured notifier.
// Delivery is best effort: one channel failing does not stop the rest,
// and the combined error reports every failure.
type Fanout struct {
	notifiers []Notifier
	logger    *zap.Logger
}

func NewFanout(logger *zap.Logger, notifiers ...Notifier) *Fanout {
	return &Fanout{notifiers: notifiers, logger: logger}
}

// NotifyWorkflow sends the execution summary to all channels.
func (f *Fanout) NotifyWorkflow(ctx context.Context, exec *task.Execution) error {
	var firstErr error
	for _, n := range f.notifiers {
		if err := n.NotifyWorkflow(ctx, exec); err != nil {
			f.logger.Warn("workflow notification failed",
				zap.String("channel", n.Name()),
				zap.String("workflow", exec.WorkflowID),
				zap.Error(err))
			if firstErr == nil {
				firstErr = fmt.Errorf("%s: %w", n.Name(), err)
			}
		}
	}
	return firstErr
}

// formatExecution renders the announcement text shared by all channels.
func formatExecution(exec *task.Execution) string {
	status := "completed"
	if exec.Status == task.ExecutionFailed {
		status = "failed"
	}
	msg := fmt.Sprintf("Workflow %q %s (%d/%d steps)",
		exec.WorkflowName, status, len(exec.Results), exec.TotalSteps)
	if exec.Error != "" {
		msg += "\nError: " + exec.Error
	}
	if exec.Summary != "" {
		msg += "\n" + exec.Summary
	}
	return msg
}
