package providers

import "context"

type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

type FunctionSpec struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

type ToolDefinition struct {
	Type     string       `json:"type"`
	Function FunctionSpec `json:"function"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type Response struct {
	Content      string
	ToolCalls    []ToolCall
	Usage        *Usage
	FinishReason string
}

type StreamEventKind string

const (
	StreamContentDelta  StreamEventKind = "content_delta"
	StreamThinkingDelta StreamEventKind = "thinking_delta"
	StreamToolCallStart StreamEventKind = "tool_call_start"
	StreamToolCallArgs  StreamEventKind = "tool_call_arguments_delta"
	StreamDone          StreamEventKind = "done"
)

// StreamEvent is one item of a chat stream. The sequence is finite; a
// mid-stream failure surfaces as a final event carrying Err, and consumers
// keep whatever partial content they already received.
type StreamEvent struct {
	Kind           StreamEventKind
	Content        string
	ToolCallID     string
	ToolCallName   string
	ArgumentsDelta string
	Usage          *Usage
	Err            error
}

// LLMProvider abstracts one chat back-end family. Options recognized in
// opts: "max_tokens" (int), "temperature" (float64).
type LLMProvider interface {
	Chat(ctx context.Context, messages []Message, tools []ToolDefinition, model string, opts map[string]interface{}) (*Response, error)
	ChatStream(ctx context.Context, messages []Message, tools []ToolDefinition, model string, opts map[string]interface{}) (<-chan StreamEvent, error)
}
