package orchestrator

import (
	"fmt"

	"github.com/kestral/convoke/internal/task"
)

// collaborativePhases is the canonical phase order for generated
// collaborative workflows. Absent phases are skipped and the remaining
// ones are chained in this order.
var collaborativePhases = []struct {
	Type   task.CapabilityType
	StepID string
	Prompt string
}{
	{task.CapabilityResearch, "research",
		"Research the following objective thoroughly and report key findings: %s"},
	{task.CapabilityAnalyst, "analysis",
		"Analyze the research findings for this objective and derive insights: %s"},
	{task.CapabilityCoding, "implementation",
		"Based on the research and analysis, implement a solution for: %s"},
	{task.CapabilityDocument, "documentation",
		"Write documentation covering the work done toward this objective: %s"},
}

// BuildCollaborativeWorkflow generates a workflow that chains the
// requested capability types through the canonical
// research, analysis, implementation, documentation order. Each
// present phase depends on the previous present phase and receives its
// output as context. Pure construction, no I/O.
func BuildCollaborativeWorkflow(objective string, capabilities []task.CapabilityType) (*task.Workflow, error) {
	if objective == "" {
		return nil, fmt.Errorf("objective is required")
	}
	requested := make(map[task.CapabilityType]bool, len(capabilities))
	for _, c := range capabilities {
		if !c.Valid() {
			return nil, fmt.Errorf("unknown capability type %q", c)
		}
		requested[c] = true
	}
	if len(requested) == 0 {
		return nil, fmt.Errorf("at least one capability type is required")
	}

	var steps []task.WorkflowStep
	prev := ""
	for _, phase := range collaborativePhases {
		if !requested[phase.Type] {
			continue
		}
		step := task.WorkflowStep{
			ID:     phase.StepID,
			Type:   phase.Type,
			Prompt: fmt.Sprintf(phase.Prompt, objective),
		}
		if prev != "" {
			step.Dependencies = []string{prev}
			step.ContextKeys = []string{prev}
		}
		steps = append(steps, step)
		prev = phase.StepID
	}

	wf := task.NewWorkflow(
		fmt.Sprintf("Collaborative: %s", objective),
		fmt.Sprintf("Auto-generated %d-phase collaborative workflow", len(steps)),
		steps)
	return wf, nil
}
