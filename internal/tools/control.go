package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/openhearth/hearth/internal/entities"
)

// Control actions and their resulting entity states.
var controlActions = map[string]string{
	"turn_on":  "on",
	"turn_off": "off",
	"lock":     "locked",
	"unlock":   "unlocked",
	"open":     "open",
	"close":    "closed",
	"arm":      "armed",
	"disarm":   "disarmed",
}

// ControlTool applies a state-changing action to one or more home entities.
type ControlTool struct {
	store *entities.Store
}

func NewControlTool(store *entities.Store) *ControlTool {
	return &ControlTool{store: store}
}

func (t *ControlTool) Name() string { return NameControl }

func (t *ControlTool) Description() string {
	return "Control home entities: turn on/off, lock/unlock, open/close, arm/disarm. " +
		"Set batch=true only when the user explicitly asked to act on each target individually."
}

func (t *ControlTool) Parameters() map[string]interface{} {
	actions := make([]interface{}, 0, len(controlActions))
	for a := range controlActions {
		actions = append(actions, a)
	}
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"action": map[string]interface{}{
				"type": "string",
				"enum": actions,
			},
			"targets": map[string]interface{}{
				"type":        "array",
				"items":       map[string]interface{}{"type": "string"},
				"description": "Entity IDs to act on",
			},
			"batch": map[string]interface{}{
				"type":        "boolean",
				"description": "Explicitly act on every listed target",
			},
		},
		"required": []interface{}{"action", "targets"},
	}
}

func (t *ControlTool) Execute(_ context.Context, args map[string]interface{}) *Result {
	action, _ := args["action"].(string)
	state, ok := controlActions[action]
	if !ok {
		return Fail(fmt.Sprintf("unsupported action: %q", action))
	}

	targets := StringSliceArg(args, "targets")
	if len(targets) == 0 {
		return Fail("no targets given")
	}

	var changed []string
	for _, id := range targets {
		if err := t.store.SetState(id, state); err != nil {
			return Fail(fmt.Sprintf("control %s: %v", id, err))
		}
		changed = append(changed, id)
	}

	return OKData(
		fmt.Sprintf("%s: %s", action, strings.Join(changed, ", ")),
		map[string]interface{}{"targets": changed, "state": state},
	)
}

// StringSliceArg reads a []string argument from the JSON-decoded argument map,
// tolerating both []interface{} and a bare string.
func StringSliceArg(args map[string]interface{}, key string) []string {
	switch v := args[key].(type) {
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return v
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	default:
		return nil
	}
}
