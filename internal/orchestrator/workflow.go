package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/kestral/convoke/internal/task"
	"go.uber.org/zap"
)

const (
	// dependencyPollInterval is the wait between checks for an
	// unresolved step dependency. Steps run sequentially, so the wait
	// only triggers for steps declared ahead of their dependencies.
	dependencyPollInterval = 100 * time.Millisecond

	// defaultDependencyTimeout bounds the dependency wait. A
	// dependency that never resolves is a workflow-fatal error.
	defaultDependencyTimeout = 30 * time.Second

	// summaryFallback is returned when no research agent is free to
	// generate the closing summary.
	summaryFallback = "Workflow completed successfully but summary generation unavailable"
)

// Engine executes workflows step by step in declared order, waiting on
// dependencies and threading step outputs into dependent steps'
// context.
type Engine struct {
	dispatcher *Dispatcher
	logger     *zap.Logger

	dependencyTimeout time.Duration
}

func NewEngine(dispatcher *Dispatcher, logger *zap.Logger) *Engine {
	return &Engine{
		dispatcher:        dispatcher,
		logger:            logger,
		dependencyTimeout: defaultDependencyTimeout,
	}
}

// Execute runs the workflow to completion. It never returns an error:
// workflow-fatal conditions surface as a failed execution record, with
// the step results gathered before the failure preserved.
func (e *Engine) Execute(ctx context.Context, wf *task.Workflow) *task.Execution {
	exec := task.NewExecution(wf)
	e.logger.Info("workflow started",
		zap.String("workflow", wf.ID),
		zap.String("name", wf.Name),
		zap.Int("steps", len(wf.Steps)))

	stepContext := make(map[string]interface{})

	err := e.runSteps(ctx, wf, exec, stepContext)
	if err != nil {
		exec.Status = task.ExecutionFailed
		exec.Error = err.Error()
		now := time.Now()
		exec.CompletedAt = &now
		e.logger.Error("workflow failed",
			zap.String("workflow", wf.ID),
			zap.Int("completed_steps", len(exec.Results)),
			zap.Error(err))
		return exec
	}

	exec.Summary = e.summarize(ctx, wf, exec)
	exec.Status = task.ExecutionCompleted
	now := time.Now()
	exec.CompletedAt = &now
	e.logger.Info("workflow completed",
		zap.String("workflow", wf.ID),
		zap.Int("steps", len(exec.Results)))
	return exec
}

// runSteps walks the declared step order. A low-confidence step does
// not halt the run; later steps receive whatever output it produced.
func (e *Engine) runSteps(ctx context.Context, wf *task.Workflow, exec *task.Execution, stepContext map[string]interface{}) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("workflow engine error: %v", r)
		}
	}()

	for _, step := range wf.Steps {
		if waitErr := e.waitForDependencies(ctx, step, exec); waitErr != nil {
			return waitErr
		}

		taskCtx := make(map[string]interface{}, len(step.ContextKeys))
		for _, key := range step.ContextKeys {
			if v, ok := stepContext[key]; ok {
				taskCtx[key] = v
			}
		}

		t := task.New(step.Type, step.Prompt, taskCtx)
		resp := e.dispatcher.Execute(ctx, t)

		exec.Results[step.ID] = task.StepResult{
			Response:   resp.Response,
			Confidence: resp.Confidence,
			Reasoning:  resp.Reasoning,
			Metadata:   resp.Metadata,
		}
		stepContext[step.ID] = resp.Response

		e.logger.Info("workflow step finished",
			zap.String("workflow", wf.ID),
			zap.String("step", step.ID),
			zap.Float64("confidence", resp.Confidence))
	}
	return nil
}

// waitForDependencies polls until every dependency of the step has a
// result, bounded by the engine's dependency timeout.
func (e *Engine) waitForDependencies(ctx context.Context, step task.WorkflowStep, exec *task.Execution) error {
	deadline := time.Now().Add(e.dependencyTimeout)
	for {
		missing := ""
		for _, dep := range step.Dependencies {
			if _, ok := exec.Results[dep]; !ok {
				missing = dep
				break
			}
		}
		if missing == "" {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("step %s: dependency %s never resolved", step.ID, missing)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("step %s: %w", step.ID, ctx.Err())
		case <-time.After(dependencyPollInterval):
		}
	}
}

// summarize issues one closing research task over the full results map.
// If no research agent is free the workflow still completes, with a
// static placeholder summary.
func (e *Engine) summarize(ctx context.Context, wf *task.Workflow, exec *task.Execution) string {
	summaryCtx := make(map[string]interface{}, len(exec.Results))
	for id, r := range exec.Results {
		summaryCtx[id] = r.Response
	}

	t := task.New(task.CapabilityResearch, fmt.Sprintf(
		"Summarize the outcome of the workflow %q. Provide an executive "+
			"summary, key achievements, notable insights, recommendations "+
			"and suggested next steps.", wf.Name), summaryCtx)
	resp := e.dispatcher.Execute(ctx, t)
	if resp.Confidence == 0 {
		return summaryFallback
	}
	return resp.Response
}
