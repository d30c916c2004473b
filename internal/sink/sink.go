// Package sink delivers incremental transcript deltas to a host conversation
// surface. Sink errors are never fatal to the agent loop.
package sink

import (
	"log/slog"

	"github.com/openhearth/hearth/internal/providers"
)

// Delta is one incremental transcript event: streamed assistant text, an
// assistant tool-call announcement, or a tool result.
type Delta struct {
	Role      string               `json:"role"`
	Content   string               `json:"content,omitempty"`
	Thinking  string               `json:"thinking,omitempty"`
	ToolCalls []providers.ToolCall `json:"tool_calls,omitempty"`
	Done      bool                 `json:"done,omitempty"`
}

// Sink receives ordered transcript deltas for real-time display.
type Sink interface {
	SendDelta(delta Delta) error
	Close() error
}

// LogSink writes deltas to structured logs. It is the fallback when no live
// surface is attached.
type LogSink struct{}

func NewLogSink() *LogSink { return &LogSink{} }

func (s *LogSink) SendDelta(delta Delta) error {
	if delta.Content == "" && len(delta.ToolCalls) == 0 && !delta.Done {
		return nil
	}
	slog.Debug("transcript delta",
		"role", delta.Role,
		"content_len", len(delta.Content),
		"tool_calls", len(delta.ToolCalls),
		"done", delta.Done,
	)
	return nil
}

func (s *LogSink) Close() error { return nil }
