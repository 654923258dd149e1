package agent

import (
	"context"
	"strings"
	"testing"

	"github.com/kestral/convoke/internal/provider"
	"github.com/kestral/convoke/internal/task"
	"go.uber.org/zap"
)

// failingCompleter simulates a provider outage.
type failingCompleter struct{}

func (failingCompleter) Complete(_ context.Context, _ provider.CompletionRequest) provider.CompletionResult {
	return provider.CompletionResult{Success: false, Error: "provider unreachable"}
}

// echoCompleter returns canned content for every call.
type echoCompleter struct{ content string }

func (e echoCompleter) Complete(_ context.Context, _ provider.CompletionRequest) provider.CompletionResult {
	return provider.CompletionResult{Success: true, Content: e.content}
}

func TestDecodeJSONObject(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    bool
	}{
		{"bare object", `{"focus": "x"}`, true},
		{"fenced object", "Here you go:\n```json\n{\"focus\": \"x\"}\n```", true},
		{"prose wrapped", `Sure! {"focus": "x"} Hope that helps.`, true},
		{"no object", "I cannot produce JSON for that.", false},
		{"malformed", `{"focus": }`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out analysisFrame
			if got := decodeJSONObject(tt.content, &out); got != tt.want {
				t.Errorf("decodeJSONObject(%q) = %v, want %v", tt.content, got, tt.want)
			}
		})
	}
}

func TestContextBlockSortedAndFormatted(t *testing.T) {
	tk := task.New(task.CapabilityAnalyst, "analyze", map[string]interface{}{
		"zeta":  "last",
		"alpha": "first",
	})
	block := contextBlock(tk)
	if !strings.Contains(block, "Context from prior steps:") {
		t.Fatalf("missing header: %q", block)
	}
	if strings.Index(block, "[alpha]") > strings.Index(block, "[zeta]") {
		t.Error("context keys not sorted")
	}
	if !strings.Contains(block, "[alpha]\nfirst") {
		t.Errorf("value not rendered under key: %q", block)
	}
}

func TestContextBlockEmpty(t *testing.T) {
	tk := task.New(task.CapabilityAnalyst, "analyze", nil)
	if got := contextBlock(tk); got != "" {
		t.Errorf("contextBlock with no context = %q, want empty", got)
	}
}

func TestClampAndRatio(t *testing.T) {
	if got := clamp1(1.7); got != 1.0 {
		t.Errorf("clamp1(1.7) = %v", got)
	}
	if got := clamp1(-0.2); got != 0 {
		t.Errorf("clamp1(-0.2) = %v", got)
	}
	if got := ratio(3, 5); got != 0.6 {
		t.Errorf("ratio(3,5) = %v", got)
	}
	if got := ratio(9, 5); got != 1.0 {
		t.Errorf("ratio(9,5) = %v", got)
	}
	if got := ratio(1, 0); got != 0 {
		t.Errorf("ratio(1,0) = %v", got)
	}
}

func TestExtractBullets(t *testing.T) {
	content := strings.Join([]string{
		"Report:",
		"- short",
		"- this finding is long enough to be captured as a real bullet",
		"* another sufficiently long finding that should be captured too",
		"plain text line that is long enough but not a bullet at all",
	}, "\n")
	got := extractBullets(content)
	if len(got) != 2 {
		t.Fatalf("extractBullets returned %d entries: %v", len(got), got)
	}
}

func TestExtractBulletsCap(t *testing.T) {
	var lines []string
	for i := 0; i < 20; i++ {
		lines = append(lines, "- a repeated finding that is comfortably over the length floor")
	}
	if got := extractBullets(strings.Join(lines, "\n")); len(got) != 10 {
		t.Errorf("bullet cap = %d, want 10", len(got))
	}
}

func TestHasQuantitative(t *testing.T) {
	if !hasQuantitative("growth of 12%") || !hasQuantitative("$5 spend") || !hasQuantitative("version 2") {
		t.Error("quantitative text not detected")
	}
	if hasQuantitative("no numbers here") {
		t.Error("false positive on plain prose")
	}
}

// Each variant must degrade to a low-confidence failure response when
// the provider is down, never an error or panic.
func TestVariantsDegradeOnProviderFailure(t *testing.T) {
	for _, c := range task.CapabilityTypes() {
		t.Run(string(c), func(t *testing.T) {
			a, err := New(c, failingCompleter{}, zap.NewNop())
			if err != nil {
				t.Fatalf("New(%s): %v", c, err)
			}
			resp := a.Process(context.Background(), task.New(c, "do the thing", nil))
			if resp.Confidence >= 0.5 {
				t.Errorf("confidence with provider down = %v, want < 0.5", resp.Confidence)
			}
			if resp.Response == "" {
				t.Error("empty response body")
			}
		})
	}
}

func TestResearchConfidenceWeights(t *testing.T) {
	v := &researchVariant{}
	rich := strings.Repeat("evidence shows 42% improvement in measured findings and analysis. ", 150) +
		"\nSummary and conclusion follow."
	var findings []string
	for i := 0; i < 5; i++ {
		findings = append(findings, "- a finding")
	}

	high := v.confidence(rich, researchPlan{Sources: []string{"a", "b", "c", "d", "e"}}, findings, true)
	if high != 1.0 {
		t.Errorf("fully indicated confidence = %v, want 1.0", high)
	}
	low := v.confidence("thin", researchPlan{}, nil, true)
	if low >= 0.5 {
		t.Errorf("thin report confidence = %v, want < 0.5", low)
	}
	if got := v.confidence("anything", defaultResearchPlan, nil, false); got != 0.1 {
		t.Errorf("ungenerated confidence = %v, want 0.1", got)
	}
}

func TestCodingConfidenceRewardsFencedCode(t *testing.T) {
	v := &codingVariant{}
	withCode := "```python\ndef run():\n    return 1\n```\nUsage example: call run(). " +
		strings.Repeat("explanation ", 160)
	if got := v.confidence(withCode, true); got != 1.0 {
		t.Errorf("fenced solution confidence = %v, want 1.0", got)
	}
	if got := v.confidence("no code at all", true); got >= 0.5 {
		t.Errorf("codeless confidence = %v, want < 0.5", got)
	}
}

func TestDocumentVariantUsesRetriever(t *testing.T) {
	r := stubRetriever{passages: []string{"passage one", "passage two"}}
	a, err := New(task.CapabilityDocument, echoCompleter{content: strings.Repeat("word ", 250) + "\n# Introduction"}, zap.NewNop(), WithRetriever(r))
	if err != nil {
		t.Fatal(err)
	}
	resp := a.Process(context.Background(), task.New(task.CapabilityDocument, "write a brief", nil))
	if resp.Metadata["retrieved_passages"] != 2 {
		t.Errorf("retrieved_passages = %v, want 2", resp.Metadata["retrieved_passages"])
	}
	found := false
	for _, tool := range resp.ToolsUsed {
		if tool == "retriever" {
			found = true
		}
	}
	if !found {
		t.Errorf("retriever not reported in tools: %v", resp.ToolsUsed)
	}
}

type stubRetriever struct{ passages []string }

func (s stubRetriever) Retrieve(_ context.Context, _ string, _ int) ([]string, error) {
	return s.passages, nil
}
