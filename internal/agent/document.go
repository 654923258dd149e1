package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/kestral/convoke/internal/task"
)

// documentVariant drafts and edits documents. When a retriever is
// configured, drafts are grounded on retrieved passages.
type documentVariant struct {
	retriever Retriever
}

// documentOutline is the structured extraction expected from the
// outlining call, with defaultDocumentOutline as the parse fallback.
type documentOutline struct {
	Title    string   `json:"title"`
	Audience string   `json:"audience"`
	Sections []string `json:"sections"`
	Tone     string   `json:"tone"`
}

var defaultDocumentOutline = documentOutline{
	Title:    "Document",
	Audience: "General readers",
	Sections: []string{"Introduction", "Body", "Conclusion"},
	Tone:     "professional",
}

func (v *documentVariant) Type() task.CapabilityType { return task.CapabilityDocument }
func (v *documentVariant) DisplayName() string       { return "Document Agent" }

func (v *documentVariant) Description() string {
	return "Specialized in document drafting, editing, and summarization"
}

func (v *documentVariant) SystemPrompt() string {
	return `You are a professional writing agent. You produce clear,
well-organized documents tailored to their audience, with consistent
tone, logical section flow and accurate use of any source material
provided.`
}

func (v *documentVariant) Capabilities() []string {
	return []string{
		"Document drafting",
		"Editing and proofreading",
		"Summarization",
		"Report writing",
		"Technical documentation",
		"Content restructuring",
	}
}

func (v *documentVariant) ExecuteTask(ctx context.Context, c Completer, t *task.Task) (*task.Response, error) {
	// Outline the document.
	outline := defaultDocumentOutline
	if r := ask(ctx, c, v, fmt.Sprintf(
		"Plan a document for this request.\n\nRequest: %s\n\n"+
			"Respond as JSON with fields: title, audience, sections, tone.", t.Prompt), 0.3, 512); r.Success {
		var parsed documentOutline
		if decodeJSONObject(r.Content, &parsed) {
			outline = parsed
		}
	}

	// Ground the draft on retrieved passages when retrieval is wired.
	var passages []string
	if v.retriever != nil {
		if found, err := v.retriever.Retrieve(ctx, t.Prompt, 5); err == nil {
			passages = found
		}
	}
	grounding := ""
	if len(passages) > 0 {
		grounding = "\n\nSource material:\n" + strings.Join(passages, "\n---\n")
	}

	// Draft the document.
	body := "Document generation could not be completed"
	gen := ask(ctx, c, v, fmt.Sprintf(
		"Write the document.\n\nRequest: %s%s%s\n\nTitle: %s\nAudience: %s\n"+
			"Sections: %v\nTone: %s",
		t.Prompt, contextBlock(t), grounding,
		outline.Title, outline.Audience, outline.Sections, outline.Tone), 0.5, 2048)
	if gen.Success {
		body = gen.Content
	}

	// Editing pass.
	result := body
	if gen.Success {
		if r := ask(ctx, c, v, fmt.Sprintf(
			"Edit this document for clarity, flow and consistency of tone, then "+
				"output the final version:\n\n%s", body), 0.3, 2048); r.Success {
			result = r.Content
		}
	}

	resp := task.NewResponse("", v.Type())
	resp.Response = result
	resp.Confidence = v.confidence(result, outline, len(passages), gen.Success)
	resp.Reasoning = fmt.Sprintf("document drafted for audience: %s", outline.Audience)
	resp.ToolsUsed = []string{"outline_planner", "drafter", "editor"}
	if v.retriever != nil {
		resp.ToolsUsed = append(resp.ToolsUsed, "retriever")
	}
	resp.Metadata["title"] = outline.Title
	resp.Metadata["section_count"] = len(outline.Sections)
	resp.Metadata["retrieved_passages"] = len(passages)
	return resp, nil
}

func (v *documentVariant) confidence(result string, outline documentOutline, passages int, generated bool) float64 {
	if !generated {
		return 0.1
	}
	score := 0.0
	if wordCount(result) > 200 {
		score += 0.25
	}
	if containsAnyFold(result, "introduction", "conclusion", "summary", "#") {
		score += 0.2
	}
	score += ratio(len(outline.Sections), 3) * 0.25
	if passages > 0 {
		score += 0.3
	} else {
		score += 0.15
	}
	return clamp1(score)
}
