// Package ai provides the conversation types and the model endpoint
// client shared by the orchestrator, dispatcher, and session layers.
package ai

import (
	"context"
	"encoding/json"
	"time"
)

// Message roles, matching the OpenAI chat wire format.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one entry in the outbound message list. Assistant messages
// may carry tool requests; tool messages carry one result keyed by the
// correlation id of the request it answers.
type Message struct {
	Role       string        `json:"role"`
	Content    string        `json:"content"`
	ToolCallID string        `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolRequest `json:"tool_calls,omitempty"`
}

// SystemMessage creates a system message.
func SystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// UserMessage creates a user message.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// AssistantMessage creates an assistant message.
func AssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// ToolResultMessage creates a tool result message for the given
// correlation id.
func ToolResultMessage(correlationID, content string) Message {
	return Message{Role: RoleTool, ToolCallID: correlationID, Content: content}
}

// ToolSpec is the model-facing description of a callable tool. The full
// set of specs is sent with every model call.
type ToolSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ToolRequest is a structured instruction from the model to invoke a
// named tool. The correlation id pairs the request with its result.
type ToolRequest struct {
	CorrelationID string          `json:"correlation_id"`
	Name          string          `json:"name"`
	Arguments     json.RawMessage `json:"arguments"`
}

// InvocationStatus is the terminal outcome of one tool call.
type InvocationStatus string

const (
	InvocationSuccess InvocationStatus = "success"
	InvocationError   InvocationStatus = "error"
	InvocationTimeout InvocationStatus = "timeout"
)

// ToolInvocation records one tool call within a turn. It is created
// when the model requests the tool and resolved exactly once.
type ToolInvocation struct {
	CorrelationID string           `json:"correlation_id"`
	Name          string           `json:"name"`
	Parameters    map[string]any   `json:"parameters"`
	Status        InvocationStatus `json:"status"`
	StartedAt     time.Time        `json:"started_at"`
	CompletedAt   time.Time        `json:"completed_at"`
	Result        string           `json:"result,omitempty"`
	Error         string           `json:"error,omitempty"`
}

// Duration returns the wall-clock time the invocation took.
func (i *ToolInvocation) Duration() time.Duration {
	return i.CompletedAt.Sub(i.StartedAt)
}

// ModelReply is one model turn: either final text, or a batch of tool
// requests (possibly alongside interim text).
type ModelReply struct {
	Text         string
	ToolRequests []ToolRequest
}

// WantsTools reports whether the model requested tool execution.
func (r *ModelReply) WantsTools() bool {
	return len(r.ToolRequests) > 0
}

// ModelClient is the synchronous contract with the hosted LLM endpoint.
type ModelClient interface {
	Send(ctx context.Context, messages []Message, tools []ToolSpec) (*ModelReply, error)
}
