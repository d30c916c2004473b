package tools

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openhearth/hearth/internal/entities"
)

// TimerTool manages timers and alarms. Firing is the host's concern; this
// tool tracks what was requested and journals events so the loop can check
// for recent timer/alarm activity.
type TimerTool struct {
	store *entities.Store

	mu     sync.Mutex
	active map[string]timerEntry
}

type timerEntry struct {
	kind  string // "timer" | "alarm"
	label string
	at    time.Time
}

func NewTimerTool(store *entities.Store) *TimerTool {
	return &TimerTool{
		store:  store,
		active: make(map[string]timerEntry),
	}
}

func (t *TimerTool) Name() string { return "timer_alarm" }

func (t *TimerTool) Description() string {
	return "Start, cancel or list timers and alarms. Timers take duration_seconds; alarms take time (HH:MM, 24h)."
}

func (t *TimerTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"kind": map[string]interface{}{
				"type": "string",
				"enum": []interface{}{"timer", "alarm"},
			},
			"action": map[string]interface{}{
				"type": "string",
				"enum": []interface{}{"start", "cancel", "list"},
			},
			"duration_seconds": map[string]interface{}{"type": "integer"},
			"time":             map[string]interface{}{"type": "string"},
			"label":            map[string]interface{}{"type": "string"},
		},
		"required": []interface{}{"kind", "action"},
	}
}

func (t *TimerTool) Execute(_ context.Context, args map[string]interface{}) *Result {
	kind, _ := args["kind"].(string)
	if kind != "timer" && kind != "alarm" {
		return Fail(fmt.Sprintf("unsupported kind: %q", kind))
	}
	action, _ := args["action"].(string)
	label, _ := args["label"].(string)

	switch action {
	case "start":
		return t.start(kind, label, args)
	case "cancel":
		return t.cancel(kind, label)
	case "list":
		return t.list(kind)
	default:
		return Fail(fmt.Sprintf("unsupported action: %q", action))
	}
}

func (t *TimerTool) start(kind, label string, args map[string]interface{}) *Result {
	var fireAt time.Time
	switch kind {
	case "timer":
		secs := intArg(args, "duration_seconds")
		if secs <= 0 {
			return Fail("timer requires a positive duration_seconds")
		}
		fireAt = time.Now().Add(time.Duration(secs) * time.Second)
	case "alarm":
		at, _ := args["time"].(string)
		parsed, err := time.Parse("15:04", at)
		if err != nil {
			return Fail(fmt.Sprintf("alarm requires time as HH:MM, got %q", at))
		}
		now := time.Now()
		fireAt = time.Date(now.Year(), now.Month(), now.Day(), parsed.Hour(), parsed.Minute(), 0, 0, now.Location())
		if fireAt.Before(now) {
			fireAt = fireAt.Add(24 * time.Hour)
		}
	}

	id := uuid.NewString()[:8]
	t.mu.Lock()
	t.active[id] = timerEntry{kind: kind, label: label, at: fireAt}
	t.mu.Unlock()

	t.store.RecordEvent(entities.Event{Kind: kind, EntityID: kind + "." + id})

	return OKData(
		fmt.Sprintf("%s set for %s", kind, fireAt.Format("15:04:05")),
		map[string]interface{}{"id": id, "fires_at": fireAt.Format(time.RFC3339)},
	)
}

func (t *TimerTool) cancel(kind, label string) *Result {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, entry := range t.active {
		if entry.kind != kind {
			continue
		}
		if label != "" && entry.label != label {
			continue
		}
		delete(t.active, id)
		return OK(fmt.Sprintf("%s %s cancelled", kind, id))
	}
	return Fail(fmt.Sprintf("no active %s found", kind))
}

func (t *TimerTool) list(kind string) *Result {
	t.mu.Lock()
	defer t.mu.Unlock()
	items := make([]interface{}, 0)
	for id, entry := range t.active {
		if entry.kind != kind {
			continue
		}
		items = append(items, map[string]interface{}{
			"id":       id,
			"label":    entry.label,
			"fires_at": entry.at.Format(time.RFC3339),
		})
	}
	return OKData(fmt.Sprintf("%d active %ss", len(items), kind), map[string]interface{}{"items": items})
}

func intArg(args map[string]interface{}, key string) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}
