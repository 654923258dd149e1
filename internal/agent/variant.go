package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/kestral/convoke/internal/provider"
	"github.com/kestral/convoke/internal/task"
)

// Variant supplies the capability-specific parts of an agent: its
// system prompt, capability list and task pipeline. The pipeline shape
// is the same across variants (classify → plan → generate → synthesize
// → score); only prompts and heuristic weights differ.
type Variant interface {
	Type() task.CapabilityType
	DisplayName() string
	Description() string
	SystemPrompt() string
	Capabilities() []string
	ExecuteTask(ctx context.Context, c Completer, t *task.Task) (*task.Response, error)
}

// ask issues one completion call carrying the variant's system prompt.
func ask(ctx context.Context, c Completer, v Variant, prompt string, temperature float64, maxTokens int) provider.CompletionResult {
	return c.Complete(ctx, provider.CompletionRequest{
		Capability:  string(v.Type()),
		System:      v.SystemPrompt(),
		Prompt:      prompt,
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
}

// contextBlock renders a task's auxiliary context into a prompt section.
// Keys are sorted for deterministic prompts.
func contextBlock(t *task.Task) string {
	if len(t.Context) == 0 {
		return ""
	}
	keys := make([]string, 0, len(t.Context))
	for k := range t.Context {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("\n\nContext from prior steps:\n")
	for _, k := range keys {
		fmt.Fprintf(&b, "[%s]\n%v\n", k, t.Context[k])
	}
	return b.String()
}

// decodeJSONObject extracts the first JSON object from model output and
// unmarshals it into v. Model output routinely wraps JSON in prose or
// code fences, so this scans for the outermost braces.
func decodeJSONObject(content string, v interface{}) bool {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return false
	}
	return json.Unmarshal([]byte(content[start:end+1]), v) == nil
}

// clamp1 caps a weighted indicator sum at 1.0.
func clamp1(x float64) float64 {
	if x > 1.0 {
		return 1.0
	}
	if x < 0 {
		return 0
	}
	return x
}

// ratio returns min(n/denom, 1).
func ratio(n, denom int) float64 {
	if denom <= 0 {
		return 0
	}
	r := float64(n) / float64(denom)
	if r > 1 {
		return 1
	}
	return r
}

func containsAnyFold(s string, subs ...string) bool {
	lower := strings.ToLower(s)
	for _, sub := range subs {
		if strings.Contains(lower, sub) {
			return true
		}
	}
	return false
}

func wordCount(s string) int {
	return len(strings.Fields(s))
}

// hasQuantitative reports whether the text carries numeric substance
// (digits, percentages or currency amounts).
func hasQuantitative(s string) bool {
	if strings.ContainsRune(s, '%') || strings.ContainsRune(s, '$') {
		return true
	}
	for _, r := range s {
		if unicode.IsDigit(r) {
			return true
		}
	}
	return false
}

// extractBullets pulls bullet-style findings out of generated text,
// capped at 10 entries.
func extractBullets(content string) []string {
	var out []string
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if len(trimmed) > 20 && (strings.HasPrefix(trimmed, "-") ||
			strings.HasPrefix(trimmed, "*") || strings.HasPrefix(trimmed, "•")) {
			out = append(out, trimmed)
		}
		if len(out) >= 10 {
			break
		}
	}
	return out
}
