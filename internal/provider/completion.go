package provider

import (
	"context"

	"go.uber.org/zap"
)

// CompletionRequest is the flat request shape agents use for a single
// completion call.
type CompletionRequest struct {
	Capability  string
	System      string
	Prompt      string
	Temperature float64
	MaxTokens   int
}

// CompletionResult reports a completion outcome. Ordinary API failures
// are reported through Success rather than an error, so the agent
// layer's uniform failure handling applies.
type CompletionResult struct {
	Success bool
	Content string
	Error   string
	Usage   Usage
}

// Completion is the completion-service front consumed by agents. It
// wraps the Router and converts transport errors into failed results.
type Completion struct {
	router *Router
	model  string
	logger *zap.Logger
}

// NewCompletion creates a completion front using the given default model.
func NewCompletion(router *Router, model string, logger *zap.Logger) *Completion {
	if model == "" {
		model = "default"
	}
	return &Completion{router: router, model: model, logger: logger}
}

// Complete performs one completion call. It never returns an error:
// failures come back with Success=false and the error text preserved.
func (c *Completion) Complete(ctx context.Context, req CompletionRequest) CompletionResult {
	if req.MaxTokens == 0 {
		req.MaxTokens = 1024
	}

	var messages []Message
	if req.System != "" {
		messages = append(messages, Message{Role: "system", Content: req.System})
	}
	messages = append(messages, Message{Role: "user", Content: req.Prompt})

	resp, err := c.router.Route(ctx, req.Capability, &ChatRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		c.logger.Warn("completion call failed",
			zap.String("capability", req.Capability), zap.Error(err))
		return CompletionResult{Success: false, Error: err.Error()}
	}

	return CompletionResult{Success: true, Content: resp.Content, Usage: resp.Usage}
}
