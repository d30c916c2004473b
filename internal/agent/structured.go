package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/openhearth/hearth/internal/providers"
	"github.com/openhearth/hearth/internal/schema"
)

// RunStructured asks the model for output conforming to a closed schema and
// returns the validated value. The native structured-output mode is tried
// first; any failure there triggers exactly one fallback call in non-native
// mode before giving up. The returned error wraps schema.ErrInvalidJSON or
// schema.ErrSchemaMismatch so callers can pick the right corrective message.
func (l *Loop) RunStructured(ctx context.Context, messages []providers.Message, s map[string]interface{}, name string) (interface{}, error) {
	req := providers.ChatRequest{
		Model:                  l.model,
		Messages:               messages,
		ResponseSchema:         s,
		ResponseSchemaName:     name,
		NativeStructuredOutput: true,
	}

	resp, err := l.provider.Chat(ctx, req)
	if err == nil {
		if value, vErr := schema.ExtractAndValidate(resp.Content, s); vErr == nil {
			return value, nil
		} else {
			err = vErr
		}
	}

	slog.Warn("native structured output failed, retrying in non-native mode",
		"schema", name, "error", err)

	req.NativeStructuredOutput = false
	resp, err = l.provider.Chat(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("structured call: %w", err)
	}
	value, err := schema.ExtractAndValidate(resp.Content, s)
	if err != nil {
		return nil, err
	}
	return value, nil
}

// StructuredErrorMessage maps a RunStructured error to the short user-safe
// text shown in place of the structured result. Validator internals are never
// surfaced.
func StructuredErrorMessage(err error) string {
	switch {
	case errors.Is(err, schema.ErrInvalidJSON):
		return "I couldn't produce a valid structured answer for that."
	case errors.Is(err, schema.ErrSchemaMismatch):
		return "My answer didn't match the expected format. Please try again."
	default:
		return "Something went wrong generating the structured answer."
	}
}
