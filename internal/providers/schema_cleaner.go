package providers

import "strings"

// Some backends reject JSON Schema keywords in tool parameters or response
// schemas. Strip them before sending rather than failing the whole request.
var unsupportedSchemaKeys = map[string][]string{
	"gemini":    {"$ref", "$defs", "additionalProperties", "examples", "default"},
	"anthropic": {"$ref", "$defs"},
}

// CleanToolSchemas returns tools with provider-incompatible schema keys
// removed from each tool's parameters. Providers that need no cleaning get
// the original slice back.
func CleanToolSchemas(providerName string, tools []ToolDefinition) []ToolDefinition {
	removeKeys := keysToRemove(providerName)
	if removeKeys == nil || len(tools) == 0 {
		return tools
	}

	cleaned := make([]ToolDefinition, len(tools))
	for i, t := range tools {
		cleaned[i] = ToolDefinition{
			Type: t.Type,
			Function: ToolFunctionSchema{
				Name:        t.Function.Name,
				Description: t.Function.Description,
				Parameters:  stripKeys(t.Function.Parameters, removeKeys),
			},
		}
	}
	return cleaned
}

// CleanSchemaForProvider cleans a single schema map for a provider.
func CleanSchemaForProvider(providerName string, schema map[string]interface{}) map[string]interface{} {
	removeKeys := keysToRemove(providerName)
	if removeKeys == nil {
		return schema
	}
	return stripKeys(schema, removeKeys)
}

func keysToRemove(name string) []string {
	if keys, ok := unsupportedSchemaKeys[name]; ok {
		return keys
	}
	// Family prefixes, e.g. "gemini-flash".
	for family, keys := range unsupportedSchemaKeys {
		if strings.HasPrefix(name, family+"-") {
			return keys
		}
	}
	return nil
}

// stripKeys recursively removes the named keys, descending into nested maps
// and arrays (anyOf/oneOf/allOf and items).
func stripKeys(schema map[string]interface{}, removeKeys []string) map[string]interface{} {
	if schema == nil {
		return nil
	}

	result := make(map[string]interface{}, len(schema))
	for k, v := range schema {
		if containsKey(removeKeys, k) {
			continue
		}
		switch val := v.(type) {
		case map[string]interface{}:
			result[k] = stripKeys(val, removeKeys)
		case []interface{}:
			items := make([]interface{}, len(val))
			for i, item := range val {
				if m, ok := item.(map[string]interface{}); ok {
					items[i] = stripKeys(m, removeKeys)
				} else {
					items[i] = item
				}
			}
			result[k] = items
		default:
			result[k] = v
		}
	}
	return result
}

func containsKey(keys []string, key string) bool {
	for _, k := range keys {
		if k == key {
			return true
		}
	}
	return false
}
