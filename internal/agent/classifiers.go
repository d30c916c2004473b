package agent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/openhearth/hearth/internal/providers"
	"github.com/openhearth/hearth/internal/schema"
	"github.com/openhearth/hearth/internal/sessions"
	"github.com/openhearth/hearth/internal/tools"
)

// Decision and confidence enums for the confirmation classifier.
const (
	DecisionConfirm = "confirm"
	DecisionDeny    = "deny"
	DecisionUnclear = "unclear"

	ConfidenceHigh   = "high"
	ConfidenceMedium = "medium"
	ConfidenceLow    = "low"
)

// Route values for the missing-route classifier.
const (
	RouteAlarm = "alarm"
	RouteTimer = "timer"
	RouteNone  = "none"
)

// ConfirmationDecision is the outcome of classifying a user reply against a
// pending critical action.
type ConfirmationDecision struct {
	Decision   string
	Confidence string
}

// RouteDecision is the outcome of classifying a tool-less model reply: did
// the user's message actually require an alarm/timer action the model
// answered about instead of taking?
type RouteDecision struct {
	Route      string
	NeedsRetry bool
	Confidence string
}

// Classifier issues narrow single-purpose model calls with closed-enum output
// schemas. Every failure path degrades to the safest value; classification
// never propagates an error into the loop's control flow.
type Classifier struct {
	provider providers.Provider
	model    string
}

func NewClassifier(provider providers.Provider, model string) *Classifier {
	return &Classifier{provider: provider, model: model}
}

var confirmationSchema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"decision": map[string]interface{}{
			"type": "string",
			"enum": []interface{}{DecisionConfirm, DecisionDeny, DecisionUnclear},
		},
		"confidence": map[string]interface{}{
			"type": "string",
			"enum": []interface{}{ConfidenceHigh, ConfidenceMedium, ConfidenceLow},
		},
	},
	"required":             []interface{}{"decision", "confidence"},
	"additionalProperties": false,
}

// ClassifyConfirmation decides whether the user's reply confirms, denies, or
// leaves unclear a pending critical action. Fails closed to unclear/low.
func (c *Classifier) ClassifyConfirmation(ctx context.Context, userMessage string, pending *sessions.PendingCriticalAction) ConfirmationDecision {
	fallback := ConfirmationDecision{Decision: DecisionUnclear, Confidence: ConfidenceLow}
	if c == nil || c.provider == nil {
		return fallback
	}

	prompt := fmt.Sprintf(
		"A sensitive action is waiting for explicit user approval.\n"+
			"Action: %s %s\n"+
			"The user replied: %q\n"+
			"Classify the reply. Do not call any tools. Respond with JSON only: "+
			`{"decision": "confirm"|"deny"|"unclear", "confidence": "high"|"medium"|"low"}`,
		pending.ToolName, tools.SummarizeArguments(pending.Arguments), userMessage,
	)

	value, err := c.classify(ctx, prompt, confirmationSchema, "confirmation_decision")
	if err != nil {
		slog.Warn("confirmation classifier failed closed", "error", err)
		return fallback
	}

	obj := value.(map[string]interface{})
	return ConfirmationDecision{
		Decision:   obj["decision"].(string),
		Confidence: obj["confidence"].(string),
	}
}

var routeSchema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"route": map[string]interface{}{
			"type": "string",
			"enum": []interface{}{RouteAlarm, RouteTimer, RouteNone},
		},
		"needs_retry": map[string]interface{}{"type": "boolean"},
		"confidence": map[string]interface{}{
			"type": "string",
			"enum": []interface{}{ConfidenceHigh, ConfidenceMedium, ConfidenceLow},
		},
	},
	"required":             []interface{}{"route", "needs_retry", "confidence"},
	"additionalProperties": false,
}

// ClassifyRoute decides whether a tool-less reply silently skipped an alarm or
// timer action the user asked for. Fails closed to none/low, no retry.
func (c *Classifier) ClassifyRoute(ctx context.Context, userMessage string) RouteDecision {
	fallback := RouteDecision{Route: RouteNone, NeedsRetry: false, Confidence: ConfidenceLow}
	if c == nil || c.provider == nil {
		return fallback
	}

	prompt := fmt.Sprintf(
		"The assistant answered the following request in plain text without taking any action:\n"+
			"User request: %q\n"+
			"Did the request require setting or changing an alarm or timer? Do not call any tools. "+
			"Respond with JSON only: "+
			`{"route": "alarm"|"timer"|"none", "needs_retry": true|false, "confidence": "high"|"medium"|"low"}`,
		userMessage,
	)

	value, err := c.classify(ctx, prompt, routeSchema, "route_decision")
	if err != nil {
		slog.Warn("route classifier failed closed", "error", err)
		return fallback
	}

	obj := value.(map[string]interface{})
	needsRetry, _ := obj["needs_retry"].(bool)
	return RouteDecision{
		Route:      obj["route"].(string),
		NeedsRetry: needsRetry,
		Confidence: obj["confidence"].(string),
	}
}

// classify issues the constrained model call and validates its output. The
// returned value is guaranteed to match the closed schema.
func (c *Classifier) classify(ctx context.Context, prompt string, s map[string]interface{}, name string) (interface{}, error) {
	resp, err := c.provider.Chat(ctx, providers.ChatRequest{
		Model: c.model,
		Messages: []providers.Message{
			{Role: "user", Content: prompt},
		},
		ResponseSchema:         s,
		ResponseSchemaName:     name,
		NativeStructuredOutput: true,
	})
	if err != nil {
		return nil, fmt.Errorf("classifier call: %w", err)
	}
	if resp.HasToolCalls() {
		return nil, fmt.Errorf("classifier issued tool calls")
	}
	value, err := schema.ExtractAndValidate(resp.Content, s)
	if err != nil {
		return nil, fmt.Errorf("classifier output: %w", err)
	}
	return value, nil
}
