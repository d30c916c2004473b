// Package schema validates model-produced JSON against a restricted
// JSON-Schema subset (type, enum, properties, required, additionalProperties,
// items). It is deliberately not a general-purpose validator: just enough to
// gate structured task output from the LLM.
package schema

import (
	"fmt"
	"math"
)

// Validate checks value against schema, depth-first, short-circuiting on the
// first failure. Returns (false, reason) on mismatch. An absent or unknown
// "type" is permissive: no type check is performed at that level.
func Validate(value interface{}, schema map[string]interface{}) (bool, string) {
	return validateAt(value, schema, "$")
}

func validateAt(value interface{}, schema map[string]interface{}, path string) (bool, string) {
	if schema == nil {
		return true, ""
	}

	if typ, ok := schema["type"].(string); ok {
		if ok, reason := checkType(value, typ, path); !ok {
			return false, reason
		}
	}

	if enum, ok := schema["enum"].([]interface{}); ok {
		if !enumContains(enum, value) {
			return false, fmt.Sprintf("%s: value %v not in enum", path, value)
		}
	}

	if obj, ok := value.(map[string]interface{}); ok {
		if ok, reason := validateObject(obj, schema, path); !ok {
			return false, reason
		}
	}

	if arr, ok := value.([]interface{}); ok {
		if items, ok := schema["items"].(map[string]interface{}); ok {
			for i, item := range arr {
				if ok, reason := validateAt(item, items, fmt.Sprintf("%s[%d]", path, i)); !ok {
					return false, reason
				}
			}
		}
	}

	return true, ""
}

func validateObject(obj map[string]interface{}, schema map[string]interface{}, path string) (bool, string) {
	props, _ := schema["properties"].(map[string]interface{})

	if required, ok := schema["required"].([]interface{}); ok {
		for _, r := range required {
			key, ok := r.(string)
			if !ok {
				continue
			}
			if _, present := obj[key]; !present {
				return false, fmt.Sprintf("%s: missing required key %q", path, key)
			}
		}
	}

	for key, sub := range props {
		subSchema, ok := sub.(map[string]interface{})
		if !ok {
			continue
		}
		val, present := obj[key]
		if !present {
			continue
		}
		if ok, reason := validateAt(val, subSchema, path+"."+key); !ok {
			return false, reason
		}
	}

	if extra, ok := schema["additionalProperties"].(bool); ok && !extra {
		for key := range obj {
			if _, declared := props[key]; !declared {
				return false, fmt.Sprintf("%s: unexpected key %q", path, key)
			}
		}
	}

	return true, ""
}

// checkType verifies a JSON value against a schema type name. Booleans are
// explicitly rejected for integer/number even though encoding/json never
// produces bool for numeric tokens; guards against pre-coerced input.
func checkType(value interface{}, typ, path string) (bool, string) {
	switch typ {
	case "object":
		if _, ok := value.(map[string]interface{}); !ok {
			return false, fmt.Sprintf("%s: expected object, got %T", path, value)
		}
	case "array":
		if _, ok := value.([]interface{}); !ok {
			return false, fmt.Sprintf("%s: expected array, got %T", path, value)
		}
	case "string":
		if _, ok := value.(string); !ok {
			return false, fmt.Sprintf("%s: expected string, got %T", path, value)
		}
	case "boolean":
		if _, ok := value.(bool); !ok {
			return false, fmt.Sprintf("%s: expected boolean, got %T", path, value)
		}
	case "null":
		if value != nil {
			return false, fmt.Sprintf("%s: expected null, got %T", path, value)
		}
	case "number":
		if !isNumber(value) {
			return false, fmt.Sprintf("%s: expected number, got %T", path, value)
		}
	case "integer":
		f, ok := asFloat(value)
		if !ok {
			return false, fmt.Sprintf("%s: expected integer, got %T", path, value)
		}
		if f != math.Trunc(f) {
			return false, fmt.Sprintf("%s: expected integer, got fractional number", path)
		}
	}
	return true, ""
}

func isNumber(value interface{}) bool {
	_, ok := asFloat(value)
	return ok
}

// asFloat accepts the numeric shapes encoding/json can produce. bool is not a
// number here.
func asFloat(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

func enumContains(enum []interface{}, value interface{}) bool {
	for _, e := range enum {
		if enumEqual(e, value) {
			return true
		}
	}
	return false
}

// enumEqual compares scalars; numbers compare by value so 1 matches 1.0.
func enumEqual(a, b interface{}) bool {
	if af, ok := asFloat(a); ok {
		if bf, ok := asFloat(b); ok {
			return af == bf
		}
		return false
	}
	return a == b
}
