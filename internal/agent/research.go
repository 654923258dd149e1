package agent

import (
	"context"
	"fmt"

	"github.com/kestral/convoke/internal/task"
)

// researchVariant gathers and synthesizes information.
type researchVariant struct{}

// researchPlan is the structured extraction expected from the planning
// call. Model output is unreliable JSON, so parse failures fall back to
// defaultResearchPlan.
type researchPlan struct {
	Objectives   []string `json:"objectives"`
	KeyQuestions []string `json:"key_questions"`
	Sources      []string `json:"sources"`
	Methodology  string   `json:"methodology"`
	Deliverables string   `json:"deliverables"`
}

// defaultResearchPlan is the documented fallback when the planning call
// returns unparseable output.
var defaultResearchPlan = researchPlan{
	Objectives:   []string{"Gather comprehensive information on the topic"},
	KeyQuestions: []string{"What are the main aspects to explore?"},
	Sources:      []string{"Academic papers", "Industry reports", "News articles"},
	Methodology:  "Systematic information gathering and analysis",
	Deliverables: "Detailed research report",
}

func (v *researchVariant) Type() task.CapabilityType { return task.CapabilityResearch }
func (v *researchVariant) DisplayName() string       { return "Research Agent" }

func (v *researchVariant) Description() string {
	return "Specialized in conducting research, fact-checking, and gathering information"
}

func (v *researchVariant) SystemPrompt() string {
	return `You are a professional research agent. Your responses are factual,
well-structured, objective and unbiased. Research reports include an
executive summary, key findings, detailed analysis, recommendations and
sources where applicable.`
}

func (v *researchVariant) Capabilities() []string {
	return []string{
		"Information research and gathering",
		"Fact-checking and verification",
		"Trend analysis",
		"Market research",
		"Competitive analysis",
		"Data synthesis",
		"Report generation",
	}
}

func (v *researchVariant) ExecuteTask(ctx context.Context, c Completer, t *task.Task) (*task.Response, error) {
	// Identify the kind of research requested.
	researchType := "General Research"
	if r := ask(ctx, c, v, fmt.Sprintf(
		"Classify this research request into one of: Market Research, Academic Research, "+
			"Factual Research, Trend Analysis, Technical Research, General Research.\n\n"+
			"Request: %s\n\nRespond with just the research type.", t.Prompt), 0.3, 256); r.Success {
		researchType = r.Content
	}

	// Extract a structured plan.
	plan := defaultResearchPlan
	if r := ask(ctx, c, v, fmt.Sprintf(
		"Create a research plan for: %s\nResearch type: %s\n\n"+
			"Respond as JSON with fields: objectives, key_questions, sources, methodology, deliverables.",
		t.Prompt, researchType), 0.3, 1024); r.Success {
		var parsed researchPlan
		if decodeJSONObject(r.Content, &parsed) {
			plan = parsed
		}
	}

	// Conduct the research itself.
	body := "Research could not be completed"
	gen := ask(ctx, c, v, fmt.Sprintf(
		"Conduct comprehensive research on: %s%s\n\n"+
			"Methodology: %s\n\nProvide an executive summary, at least 5 key findings, "+
			"detailed analysis, current trends, implications, and limitations.",
		t.Prompt, contextBlock(t), plan.Methodology), 0.4, 2048)
	if gen.Success {
		body = gen.Content
	}
	findings := extractBullets(body)

	// Synthesize the final report.
	report := body
	if gen.Success {
		if r := ask(ctx, c, v, fmt.Sprintf(
			"Synthesize these research findings into a final structured report "+
				"(summary, methodology, findings, analysis, recommendations, conclusion):\n\n%s",
			body), 0.3, 2048); r.Success {
			report = r.Content
		}
	}

	resp := task.NewResponse("", v.Type())
	resp.Response = report
	resp.Confidence = v.confidence(report, plan, findings, gen.Success)
	resp.Reasoning = fmt.Sprintf("research conducted using %s methodology", researchType)
	resp.ToolsUsed = []string{"research_planner", "information_gatherer", "synthesizer"}
	resp.Metadata["research_type"] = researchType
	resp.Metadata["sources_planned"] = len(plan.Sources)
	resp.Metadata["key_findings_count"] = len(findings)
	return resp, nil
}

// confidence is a weighted indicator sum capped at 1.0. Quality of the
// report text contributes 40%, planned source coverage 30%, extracted
// findings 30%.
func (v *researchVariant) confidence(report string, plan researchPlan, findings []string, generated bool) float64 {
	if !generated {
		return 0.1
	}
	quality := 0.0
	if wordCount(report) > 500 {
		quality += 0.2
	}
	if containsAnyFold(report, "summary", "analysis", "findings", "conclusion") {
		quality += 0.2
	}
	if wordCount(report) > 1000 {
		quality += 0.2
	} else {
		quality += 0.1
	}
	if hasQuantitative(report) {
		quality += 0.2
	}
	if !containsAnyFold(report, "i think", "i believe", "personally") {
		quality += 0.2
	}
	return clamp1(quality*0.4 + ratio(len(plan.Sources), 5)*0.3 + ratio(len(findings), 5)*0.3)
}
