package agent

import (
	"context"
	"fmt"

	"github.com/kestral/convoke/internal/task"
)

// analystVariant interprets data and produces insights.
type analystVariant struct{}

// analysisFrame is the structured extraction expected from the framing
// call, with defaultAnalysisFrame as the parse-failure fallback.
type analysisFrame struct {
	Focus       string   `json:"focus"`
	Dimensions  []string `json:"dimensions"`
	Assumptions []string `json:"assumptions"`
}

var defaultAnalysisFrame = analysisFrame{
	Focus:       "General analysis of the provided material",
	Dimensions:  []string{"Strengths", "Weaknesses", "Risks", "Opportunities"},
	Assumptions: []string{"Input material is representative"},
}

func (v *analystVariant) Type() task.CapabilityType { return task.CapabilityAnalyst }
func (v *analystVariant) DisplayName() string       { return "Analyst Agent" }

func (v *analystVariant) Description() string {
	return "Specialized in data analysis, pattern recognition, and insight generation"
}

func (v *analystVariant) SystemPrompt() string {
	return `You are a professional analyst agent. You break problems into
dimensions, quantify where possible, separate observations from
interpretation, and state assumptions explicitly. Your output is
structured with clear sections and concrete recommendations.`
}

func (v *analystVariant) Capabilities() []string {
	return []string{
		"Data analysis and interpretation",
		"Pattern and trend recognition",
		"Statistical reasoning",
		"Risk assessment",
		"Comparative evaluation",
		"Recommendation development",
	}
}

func (v *analystVariant) ExecuteTask(ctx context.Context, c Completer, t *task.Task) (*task.Response, error) {
	// Frame the analysis.
	frame := defaultAnalysisFrame
	if r := ask(ctx, c, v, fmt.Sprintf(
		"Define an analysis frame for this request.\n\nRequest: %s\n\n"+
			"Respond as JSON with fields: focus, dimensions, assumptions.", t.Prompt), 0.3, 512); r.Success {
		var parsed analysisFrame
		if decodeJSONObject(r.Content, &parsed) {
			frame = parsed
		}
	}

	// Run the analysis over the prompt plus any prior-step context.
	body := "Analysis could not be completed"
	gen := ask(ctx, c, v, fmt.Sprintf(
		"Analyze the following and provide insights.\n\nRequest: %s%s\n\n"+
			"Focus: %s\nDimensions: %v\n\nInclude key observations, quantitative "+
			"evidence where available, risks, and actionable recommendations.",
		t.Prompt, contextBlock(t), frame.Focus, frame.Dimensions), 0.4, 2048)
	if gen.Success {
		body = gen.Content
	}

	// Critique pass: tighten and surface the strongest conclusions.
	result := body
	if gen.Success {
		if r := ask(ctx, c, v, fmt.Sprintf(
			"Review this analysis for unsupported claims and restate it with the "+
				"strongest conclusions first:\n\n%s", body), 0.3, 2048); r.Success {
			result = r.Content
		}
	}
	observations := extractBullets(result)

	resp := task.NewResponse("", v.Type())
	resp.Response = result
	resp.Confidence = v.confidence(result, observations, gen.Success)
	resp.Reasoning = fmt.Sprintf("analysis focused on: %s", frame.Focus)
	resp.ToolsUsed = []string{"analysis_framer", "insight_generator", "critic"}
	resp.Metadata["dimensions"] = frame.Dimensions
	resp.Metadata["observation_count"] = len(observations)
	return resp, nil
}

func (v *analystVariant) confidence(result string, observations []string, generated bool) float64 {
	if !generated {
		return 0.1
	}
	score := 0.0
	if containsAnyFold(result, "insight", "observation", "recommendation", "conclusion") {
		score += 0.25
	}
	if hasQuantitative(result) {
		score += 0.25
	}
	if wordCount(result) > 300 {
		score += 0.2
	}
	score += ratio(len(observations), 4) * 0.3
	return clamp1(score)
}
