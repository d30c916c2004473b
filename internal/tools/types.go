// Package tools provides the tool registry, the concurrent batch executor,
// and the built-in home tools.
package tools

import (
	"context"

	"github.com/openhearth/hearth/internal/providers"
)

// Tool is the interface all tools must implement.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]interface{}
	Execute(ctx context.Context, args map[string]interface{}) *Result
}

// Kind is the closed classification of tool names the loop dispatches on.
// Sentinel names are loop-control signals, never executed as tools.
type Kind int

const (
	KindOther Kind = iota
	KindControl
	KindSearch
	KindSentinelAwait  // "await_response": end turn, wait for the user
	KindSentinelCancel // "nevermind": abort the turn
)

// Reserved tool names.
const (
	NameControl       = "control"
	NameWebSearch     = "web_search"
	NameAwaitResponse = "await_response"
	NameNevermind     = "nevermind"
)

// Classify maps a tool name onto its Kind. Unrecognized names are KindOther.
func Classify(name string) Kind {
	switch name {
	case NameControl:
		return KindControl
	case NameWebSearch:
		return KindSearch
	case NameAwaitResponse:
		return KindSentinelAwait
	case NameNevermind:
		return KindSentinelCancel
	default:
		return KindOther
	}
}

// IsSentinel reports whether the kind is a loop-control signal.
func (k Kind) IsSentinel() bool {
	return k == KindSentinelAwait || k == KindSentinelCancel
}

// ToProviderDef converts a Tool to a providers.ToolDefinition for LLM APIs.
func ToProviderDef(t Tool) providers.ToolDefinition {
	return providers.ToolDefinition{
		Type: "function",
		Function: providers.ToolFunctionSchema{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		},
	}
}

// SentinelDefs returns the provider definitions for the two loop-control
// sentinels. They are advertised to the model but intercepted by the loop.
func SentinelDefs() []providers.ToolDefinition {
	message := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"message": map[string]interface{}{
				"type":        "string",
				"description": "Text to show the user",
			},
		},
		"required": []interface{}{"message"},
	}
	return []providers.ToolDefinition{
		{
			Type: "function",
			Function: providers.ToolFunctionSchema{
				Name:        NameAwaitResponse,
				Description: "End the turn and wait for the user to answer a question. Use when you need information only the user has.",
				Parameters:  message,
			},
		},
		{
			Type: "function",
			Function: providers.ToolFunctionSchema{
				Name:        NameNevermind,
				Description: "Abort the current request. Use when the task is impossible or no longer applies.",
				Parameters:  message,
			},
		},
	}
}
