package task

import (
	"time"

	"github.com/google/uuid"
)

// CapabilityType categorizes an agent's specialization. The set is
// closed at the type level but new variants can be registered by
// embedding a custom agent behind the same interface.
type CapabilityType string

const (
	CapabilityResearch CapabilityType = "research"
	CapabilityAnalyst  CapabilityType = "analyst"
	CapabilityCoding   CapabilityType = "coding"
	CapabilityDocument CapabilityType = "document"
)

// CapabilityTypes returns the built-in capability types.
func CapabilityTypes() []CapabilityType {
	return []CapabilityType{
		CapabilityResearch,
		CapabilityAnalyst,
		CapabilityCoding,
		CapabilityDocument,
	}
}

// Valid reports whether c is one of the built-in capability types.
func (c CapabilityType) Valid() bool {
	switch c {
	case CapabilityResearch, CapabilityAnalyst, CapabilityCoding, CapabilityDocument:
		return true
	}
	return false
}

// Status is a task's lifecycle state. Transitions follow
// pending -> running -> completed, failed or cancelled.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Task is the unit of work: one prompt routed to one agent of the
// matching capability type. Context carries auxiliary data such as
// prior workflow step outputs.
type Task struct {
	ID            string                 `json:"id"`
	Type          CapabilityType         `json:"type"`
	Prompt        string                 `json:"prompt"`
	Context       map[string]interface{} `json:"context,omitempty"`
	Status        Status                 `json:"status"`
	Result        string                 `json:"result,omitempty"`
	Error         string                 `json:"error,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
	UpdatedAt     time.Time              `json:"updated_at"`
	ExecutionTime float64                `json:"execution_time,omitempty"`
}

// New creates a pending task. A nil context is normalized to an empty
// map so callers can always index it.
func New(capability CapabilityType, prompt string, context map[string]interface{}) *Task {
	if context == nil {
		context = make(map[string]interface{})
	}
	now := time.Now()
	return &Task{
		ID:        uuid.New().String(),
		Type:      capability,
		Prompt:    prompt,
		Context:   context,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Response is the outcome of processing one task. Confidence is the
// sole success signal consumed by the dispatcher; there is no separate
// success flag.
type Response struct {
	AgentID    string                 `json:"agent_id"`
	AgentType  CapabilityType         `json:"agent_type"`
	Response   string                 `json:"response"`
	Confidence float64                `json:"confidence"`
	Reasoning  string                 `json:"reasoning,omitempty"`
	ToolsUsed  []string               `json:"tools_used,omitempty"`
	Metadata   map[string]interface{} `json:"metadata"`
}

// NewResponse builds a zero-confidence response shell with an
// initialized metadata map.
func NewResponse(agentID string, capability CapabilityType) *Response {
	return &Response{
		AgentID:   agentID,
		AgentType: capability,
		Metadata:  make(map[string]interface{}),
	}
}
