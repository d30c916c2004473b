package tools

// Well-known Data keys carried on tool results and mirrored into call records.
const (
	DataExecutionTimeMs = "execution_time_ms"
	DataTimedOut        = "timed_out"
	DataRetriesUsed     = "retries_used"
	DataLatencyBudgetMs = "latency_budget_ms"
)

// Result is the unified return type from tool execution. Immutable once
// returned.
type Result struct {
	Success bool                   `json:"success"`
	Message string                 `json:"message"`
	Data    map[string]interface{} `json:"data,omitempty"`
}

func OK(message string) *Result {
	return &Result{Success: true, Message: message}
}

func OKData(message string, data map[string]interface{}) *Result {
	return &Result{Success: true, Message: message, Data: data}
}

func Fail(message string) *Result {
	return &Result{Success: false, Message: message}
}

// WithData returns a copy carrying one extra data key.
func (r *Result) WithData(key string, value interface{}) *Result {
	out := &Result{Success: r.Success, Message: r.Message, Data: make(map[string]interface{}, len(r.Data)+1)}
	for k, v := range r.Data {
		out.Data[k] = v
	}
	out.Data[key] = value
	return out
}

// IntData reads an integer-ish data value, tolerating float64 from JSON.
func (r *Result) IntData(key string) (int, bool) {
	if r.Data == nil {
		return 0, false
	}
	switch v := r.Data[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

// BoolData reads a boolean data value.
func (r *Result) BoolData(key string) bool {
	if r.Data == nil {
		return false
	}
	b, _ := r.Data[key].(bool)
	return b
}
