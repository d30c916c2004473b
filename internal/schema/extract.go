package schema

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
)

// ErrInvalidJSON means no JSON payload could be parsed out of the model text.
// Callers must distinguish this from ErrSchemaMismatch; the two produce
// different corrective messages back to the model.
var ErrInvalidJSON = errors.New("no valid JSON found in model output")

// ErrSchemaMismatch means the payload parsed but failed schema validation.
var ErrSchemaMismatch = errors.New("JSON does not match expected schema")

var fencedBlockRe = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")

// ExtractJSON pulls a JSON value out of raw model text.
// Attempts, in order: direct parse, fenced code blocks, then decreasing-length
// substrings starting at the first '{' or '['.
func ExtractJSON(text string) (interface{}, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, ErrInvalidJSON
	}

	var value interface{}
	if err := json.Unmarshal([]byte(trimmed), &value); err == nil {
		return value, nil
	}

	for _, m := range fencedBlockRe.FindAllStringSubmatch(trimmed, -1) {
		candidate := strings.TrimSpace(m[1])
		if candidate == "" {
			continue
		}
		if err := json.Unmarshal([]byte(candidate), &value); err == nil {
			return value, nil
		}
	}

	start := strings.IndexAny(trimmed, "{[")
	if start < 0 {
		return nil, ErrInvalidJSON
	}
	// Shrink from the tail until something parses. Handles trailing prose
	// after the payload.
	for end := len(trimmed); end > start; end-- {
		if err := json.Unmarshal([]byte(trimmed[start:end]), &value); err == nil {
			return value, nil
		}
	}

	return nil, ErrInvalidJSON
}

// ExtractAndValidate combines extraction and validation, mapping failures to
// the two distinct error values.
func ExtractAndValidate(text string, s map[string]interface{}) (interface{}, error) {
	value, err := ExtractJSON(text)
	if err != nil {
		return nil, err
	}
	if ok, reason := Validate(value, s); !ok {
		return nil, errors.Join(ErrSchemaMismatch, errors.New(reason))
	}
	return value, nil
}
