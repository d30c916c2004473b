// Package providers defines the LLM backend abstraction: chat requests,
// streaming deltas, tool call payloads, and the provider registry.
package providers

import "context"

// Message is one entry in the conversation transcript sent to the model.
// Order is semantically significant.
type Message struct {
	Role       string     `json:"role"` // system | user | assistant | tool
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`   // assistant messages only
	ToolCallID string     `json:"tool_call_id,omitempty"` // tool messages only
	Name       string     `json:"name,omitempty"`         // tool messages only
}

// ToolCall is a structured tool invocation issued by the model.
// Malformed marks calls whose arguments could not be parsed into a map;
// RawArguments keeps the unparsed text for corrective retries.
type ToolCall struct {
	ID           string                 `json:"id"`
	Name         string                 `json:"name"`
	Arguments    map[string]interface{} `json:"arguments"`
	Malformed    bool                   `json:"malformed,omitempty"`
	RawArguments string                 `json:"-"`
}

// ToolDefinition is the provider-API shape of a registered tool.
type ToolDefinition struct {
	Type     string             `json:"type"`
	Function ToolFunctionSchema `json:"function"`
}

// ToolFunctionSchema describes one callable function to the model.
type ToolFunctionSchema struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// ChatRequest is a single model invocation.
type ChatRequest struct {
	Messages []Message
	Tools    []ToolDefinition
	Model    string
	Options  map[string]interface{} // max_tokens, temperature, ...

	// Structured output. When ResponseSchema is set and NativeStructuredOutput
	// is true, the provider asks the backend to constrain decoding; otherwise
	// the schema is only advertised in the prompt and validated after the fact.
	ResponseSchema         map[string]interface{}
	ResponseSchemaName     string
	NativeStructuredOutput bool

	// CachedPrefixLength hints how many leading messages are byte-identical to
	// the previous call, for providers with prefix caching.
	CachedPrefixLength int
}

// Usage reports token accounting when the backend provides it.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatResponse is the model's reply to one ChatRequest.
type ChatResponse struct {
	Content   string
	Thinking  string
	ToolCalls []ToolCall
	Usage     Usage
}

// HasToolCalls reports whether the response carries at least one tool call.
func (r *ChatResponse) HasToolCalls() bool { return len(r.ToolCalls) > 0 }

// StreamChunk is one incremental delta from a streaming chat call.
type StreamChunk struct {
	Content  string
	Thinking string
	Done     bool
}

// Provider is the LLM backend interface.
type Provider interface {
	Name() string
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	// ChatStream invokes the model with incremental delivery. onChunk is called
	// from the read loop; the full response is still returned at the end.
	ChatStream(ctx context.Context, req ChatRequest, onChunk func(StreamChunk)) (*ChatResponse, error)
}
