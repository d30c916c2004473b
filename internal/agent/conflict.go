package agent

import (
	"log/slog"
	"sort"
	"strings"

	"github.com/openhearth/hearth/internal/entities"
	"github.com/openhearth/hearth/internal/providers"
	"github.com/openhearth/hearth/internal/tools"
)

// NormalizeControlCalls applies the control-batch conflict policy:
//
//  1. calls sharing a correlation id are de-duplicated (first wins);
//  2. a control call listing several targets without an explicit batch flag
//     collapses to one preferred target; models tend to enumerate every
//     member of an implicit group when the user meant the group itself;
//  3. when several control calls resolve to the identical target set, only
//     the last one issued survives. Sequential instructions inside one model
//     turn supersede earlier ones.
//
// Non-control calls pass through untouched. Relative order of the surviving
// calls is preserved.
func NormalizeControlCalls(calls []providers.ToolCall, store *entities.Store) []providers.ToolCall {
	if len(calls) == 0 {
		return calls
	}

	// De-duplicate by id.
	seen := make(map[string]bool, len(calls))
	deduped := make([]providers.ToolCall, 0, len(calls))
	for _, call := range calls {
		if call.ID != "" && seen[call.ID] {
			slog.Debug("dropping duplicate tool call", "id", call.ID, "tool", call.Name)
			continue
		}
		seen[call.ID] = true
		deduped = append(deduped, call)
	}

	// Collapse implicit multi-target control calls.
	for i, call := range deduped {
		if tools.Classify(call.Name) != tools.KindControl {
			continue
		}
		deduped[i] = collapseTargets(call, store)
	}

	// Last-writer-wins per resolved target set.
	drop := make([]bool, len(deduped))
	lastByTarget := make(map[string]int)
	for i, call := range deduped {
		if tools.Classify(call.Name) != tools.KindControl {
			continue
		}
		key := targetKey(call)
		if key == "" {
			continue
		}
		if prev, ok := lastByTarget[key]; ok {
			drop[prev] = true
			slog.Info("dropping superseded control call",
				"target", key,
				"dropped_action", deduped[prev].Arguments["action"],
				"kept_action", call.Arguments["action"],
			)
		}
		lastByTarget[key] = i
	}

	out := make([]providers.ToolCall, 0, len(deduped))
	for i, call := range deduped {
		if !drop[i] {
			out = append(out, call)
		}
	}
	return out
}

// collapseTargets reduces a multi-target control call to the preferred single
// target unless the model set the explicit batch flag.
func collapseTargets(call providers.ToolCall, store *entities.Store) providers.ToolCall {
	if batch, _ := call.Arguments["batch"].(bool); batch {
		return call
	}
	targets := tools.StringSliceArg(call.Arguments, "targets")
	if len(targets) <= 1 {
		return call
	}

	preferred := targets[0]
	if store != nil {
		if p := store.PreferredTarget(targets); p != "" {
			preferred = p
		}
	}
	slog.Info("collapsing implicit multi-target control call",
		"targets", targets, "preferred", preferred)

	args := make(map[string]interface{}, len(call.Arguments))
	for k, v := range call.Arguments {
		args[k] = v
	}
	args["targets"] = []interface{}{preferred}
	call.Arguments = args
	return call
}

// targetKey builds a stable identity for a control call's resolved targets.
func targetKey(call providers.ToolCall) string {
	targets := tools.StringSliceArg(call.Arguments, "targets")
	if len(targets) == 0 {
		return ""
	}
	sorted := make([]string, len(targets))
	copy(sorted, targets)
	sort.Strings(sorted)
	return strings.Join(sorted, ",")
}
