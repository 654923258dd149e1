package task

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// WorkflowStep is one node in a workflow's task graph. Dependencies
// gate execution; ContextKeys name the steps whose output is copied
// into this step's context.
type WorkflowStep struct {
	ID           string         `json:"id"`
	Type         CapabilityType `json:"type"`
	Prompt       string         `json:"prompt"`
	Dependencies []string       `json:"dependencies,omitempty"`
	ContextKeys  []string       `json:"context_keys,omitempty"`
}

// Workflow is an immutable plan of steps. The declared order is the
// nominal execution order; running executions are tracked separately.
type Workflow struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Steps       []WorkflowStep `json:"steps"`
	CreatedAt   time.Time      `json:"created_at"`
}

func NewWorkflow(name, description string, steps []WorkflowStep) *Workflow {
	return &Workflow{
		ID:          uuid.New().String(),
		Name:        name,
		Description: description,
		Steps:       steps,
		CreatedAt:   time.Now(),
	}
}

// Validate checks that every dependency and context key references a
// step in the workflow and that the dependency graph is acyclic.
func (w *Workflow) Validate() error {
	if len(w.Steps) == 0 {
		return fmt.Errorf("workflow %q has no steps", w.Name)
	}

	ids := make(map[string]bool, len(w.Steps))
	for _, s := range w.Steps {
		if s.ID == "" {
			return fmt.Errorf("workflow %q has a step with an empty id", w.Name)
		}
		if ids[s.ID] {
			return fmt.Errorf("duplicate step id %q", s.ID)
		}
		if !s.Type.Valid() {
			return fmt.Errorf("step %q has unknown capability type %q", s.ID, s.Type)
		}
		ids[s.ID] = true
	}
	for _, s := range w.Steps {
		for _, dep := range s.Dependencies {
			if !ids[dep] {
				return fmt.Errorf("step %q depends on unknown step %q", s.ID, dep)
			}
		}
		for _, key := range s.ContextKeys {
			if !ids[key] {
				return fmt.Errorf("step %q references unknown context key %q", s.ID, key)
			}
		}
	}
	return w.checkAcyclic()
}

func (w *Workflow) checkAcyclic() error {
	deps := make(map[string][]string, len(w.Steps))
	for _, s := range w.Steps {
		deps[s.ID] = s.Dependencies
	}

	const (
		white = 0
		grey  = 1
		black = 2
	)
	color := make(map[string]int, len(w.Steps))

	var visit func(id string) error
	visit = func(id string) error {
		switch color[id] {
		case grey:
			return fmt.Errorf("dependency cycle through step %q", id)
		case black:
			return nil
		}
		color[id] = grey
		for _, dep := range deps[id] {
			if err := visit(dep); err != nil {
				return err
			}
		}
		color[id] = black
		return nil
	}

	for _, s := range w.Steps {
		if err := visit(s.ID); err != nil {
			return err
		}
	}
	return nil
}

// ExecutionStatus is the aggregate state of one workflow run.
type ExecutionStatus string

const (
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
)

// StepResult captures one step's outcome inside an execution record.
type StepResult struct {
	Response   string                 `json:"response"`
	Confidence float64                `json:"confidence"`
	Reasoning  string                 `json:"reasoning,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// Execution is the result record of one workflow run. It is finalized
// exactly once and immutable afterwards; a failed run keeps the step
// results gathered before the failure.
type Execution struct {
	WorkflowID   string                `json:"workflow_id"`
	WorkflowName string                `json:"workflow_name"`
	Status       ExecutionStatus       `json:"status"`
	Results      map[string]StepResult `json:"results"`
	Summary      string                `json:"summary,omitempty"`
	Error        string                `json:"error,omitempty"`
	TotalSteps   int                   `json:"total_steps"`
	StartedAt    time.Time             `json:"started_at"`
	CompletedAt  *time.Time            `json:"completed_at,omitempty"`
}

// NewExecution starts an execution record for one run of the workflow.
func NewExecution(w *Workflow) *Execution {
	return &Execution{
		WorkflowID:   w.ID,
		WorkflowName: w.Name,
		Status:       ExecutionRunning,
		Results:      make(map[string]StepResult),
		TotalSteps:   len(w.Steps),
		StartedAt:    time.Now(),
	}
}
