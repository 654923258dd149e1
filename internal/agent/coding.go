package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/kestral/convoke/internal/task"
)

// codingVariant generates and reviews code.
type codingVariant struct{}

// codingSpec is the structured extraction expected from the
// requirements call, with defaultCodingSpec as the parse fallback.
type codingSpec struct {
	Language     string   `json:"language"`
	Requirements []string `json:"requirements"`
	Constraints  []string `json:"constraints"`
}

var defaultCodingSpec = codingSpec{
	Language:     "python",
	Requirements: []string{"Implement the requested functionality"},
	Constraints:  []string{"Keep the solution self-contained"},
}

func (v *codingVariant) Type() task.CapabilityType { return task.CapabilityCoding }
func (v *codingVariant) DisplayName() string       { return "Coding Agent" }

func (v *codingVariant) Description() string {
	return "Specialized in code generation, review, and debugging"
}

func (v *codingVariant) SystemPrompt() string {
	return `You are a professional software engineering agent. You write
clear, idiomatic, working code with brief explanations. You state the
language and include usage examples and edge-case handling where it
matters.`
}

func (v *codingVariant) Capabilities() []string {
	return []string{
		"Code generation",
		"Code review and refactoring",
		"Debugging and error diagnosis",
		"Algorithm design",
		"API design",
		"Test writing",
	}
}

func (v *codingVariant) ExecuteTask(ctx context.Context, c Completer, t *task.Task) (*task.Response, error) {
	// Extract structured requirements.
	spec := defaultCodingSpec
	if r := ask(ctx, c, v, fmt.Sprintf(
		"Extract the coding requirements from this request.\n\nRequest: %s\n\n"+
			"Respond as JSON with fields: language, requirements, constraints.", t.Prompt), 0.2, 512); r.Success {
		var parsed codingSpec
		if decodeJSONObject(r.Content, &parsed) {
			spec = parsed
		}
	}

	// Generate the solution.
	body := "Code generation could not be completed"
	gen := ask(ctx, c, v, fmt.Sprintf(
		"Write a solution for: %s%s\n\nLanguage: %s\nRequirements: %v\nConstraints: %v\n\n"+
			"Provide the code in a fenced block followed by a short explanation and usage example.",
		t.Prompt, contextBlock(t), spec.Language, spec.Requirements, spec.Constraints), 0.3, 2048)
	if gen.Success {
		body = gen.Content
	}

	// Review pass: catch obvious defects before returning.
	result := body
	if gen.Success {
		if r := ask(ctx, c, v, fmt.Sprintf(
			"Review this solution for bugs and edge cases, then output the corrected "+
				"final version with its explanation:\n\n%s", body), 0.2, 2048); r.Success {
			result = r.Content
		}
	}

	resp := task.NewResponse("", v.Type())
	resp.Response = result
	resp.Confidence = v.confidence(result, gen.Success)
	resp.Reasoning = fmt.Sprintf("solution generated in %s", spec.Language)
	resp.ToolsUsed = []string{"requirement_extractor", "code_generator", "reviewer"}
	resp.Metadata["language"] = spec.Language
	resp.Metadata["requirement_count"] = len(spec.Requirements)
	return resp, nil
}

func (v *codingVariant) confidence(result string, generated bool) float64 {
	if !generated {
		return 0.1
	}
	score := 0.0
	if strings.Contains(result, "```") {
		score += 0.35
	}
	if containsAnyFold(result, "def ", "func ", "class ", "function", "return") {
		score += 0.25
	}
	if containsAnyFold(result, "example", "usage", "test") {
		score += 0.2
	}
	if wordCount(result) > 150 {
		score += 0.2
	}
	return clamp1(score)
}
