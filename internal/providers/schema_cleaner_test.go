package providers

import "testing"

func sampleTool() ToolDefinition {
	return ToolDefinition{
		Type: "function",
		Function: ToolFunctionSchema{
			Name:        "control",
			Description: "Control a home entity",
			Parameters: map[string]interface{}{
				"type":                 "object",
				"additionalProperties": false,
				"properties": map[string]interface{}{
					"targets": map[string]interface{}{
						"type":  "array",
						"items": map[string]interface{}{"type": "string", "default": ""},
					},
				},
				"$defs": map[string]interface{}{},
			},
		},
	}
}

func TestCleanToolSchemas_Gemini(t *testing.T) {
	cleaned := CleanToolSchemas("gemini", []ToolDefinition{sampleTool()})
	params := cleaned[0].Function.Parameters

	if _, ok := params["additionalProperties"]; ok {
		t.Error("additionalProperties should be removed for gemini")
	}
	if _, ok := params["$defs"]; ok {
		t.Error("$defs should be removed for gemini")
	}

	props := params["properties"].(map[string]interface{})
	items := props["targets"].(map[string]interface{})["items"].(map[string]interface{})
	if _, ok := items["default"]; ok {
		t.Error("nested default should be removed for gemini")
	}
}

func TestCleanToolSchemas_GeminiFamilyPrefix(t *testing.T) {
	cleaned := CleanToolSchemas("gemini-flash", []ToolDefinition{sampleTool()})
	if _, ok := cleaned[0].Function.Parameters["additionalProperties"]; ok {
		t.Error("family-prefixed provider should be cleaned like the family")
	}
}

func TestCleanToolSchemas_Anthropic(t *testing.T) {
	cleaned := CleanToolSchemas("anthropic", []ToolDefinition{sampleTool()})
	params := cleaned[0].Function.Parameters
	if _, ok := params["$defs"]; ok {
		t.Error("$defs should be removed for anthropic")
	}
	if _, ok := params["additionalProperties"]; !ok {
		t.Error("additionalProperties should be kept for anthropic")
	}
}

func TestCleanToolSchemas_UnknownProviderUnchanged(t *testing.T) {
	tools := []ToolDefinition{sampleTool()}
	cleaned := CleanToolSchemas("openai", tools)
	if &cleaned[0] != &tools[0] {
		// Same backing slice expected: no copy for providers needing no cleaning.
		t.Error("expected original slice for provider with no unsupported keys")
	}
}

func TestCleanSchemaForProvider_NilSchema(t *testing.T) {
	if got := CleanSchemaForProvider("gemini", nil); got != nil {
		t.Errorf("expected nil, got %v", got)
	}
}
