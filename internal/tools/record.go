package tools

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// maxArgumentsSummaryLen caps the stringified arguments kept in records.
const maxArgumentsSummaryLen = 200

// CallRecord is the analytics projection of one tool execution attempt.
// Exactly one record exists per attempted call, success or failure; the
// audit trail is never skipped.
type CallRecord struct {
	Name             string `json:"name"`
	Success          bool   `json:"success"`
	ExecutionTimeMs  int64  `json:"execution_time_ms"`
	ArgumentsSummary string `json:"arguments_summary"`
	TimedOut         bool   `json:"timed_out"`
	RetriesUsed      int    `json:"retries_used"`
	LatencyBudgetMs  int    `json:"latency_budget_ms"`
}

// SummarizeArguments produces the truncated, credential-scrubbed argument
// string stored in records. Keys are sorted for stable output.
func SummarizeArguments(args map[string]interface{}) string {
	if len(args) == 0 {
		return "{}"
	}

	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteString(", ")
		}
		val, err := json.Marshal(args[k])
		if err != nil {
			val = []byte(fmt.Sprintf("%q", fmt.Sprint(args[k])))
		}
		fmt.Fprintf(&b, "%s: %s", k, val)
	}
	b.WriteByte('}')

	summary := ScrubCredentials(b.String())
	if len(summary) > maxArgumentsSummaryLen {
		summary = summary[:maxArgumentsSummaryLen] + "..."
	}
	return summary
}
