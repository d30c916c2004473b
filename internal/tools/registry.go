package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/openhearth/hearth/internal/providers"
)

// ErrToolTimeout marks an execution that exhausted its latency budget.
var ErrToolTimeout = errors.New("tool execution timed out")

// ErrUnknownTool marks a lookup failure.
var ErrUnknownTool = errors.New("unknown tool")

// Registry manages tool registration and execution, including the per-call
// retry and latency-budget contract. The batch executor layers fan-out
// concurrency and record bookkeeping on top; retries live here.
type Registry struct {
	tools       map[string]Tool
	mu          sync.RWMutex
	rateLimiter *RateLimiter // nil = no rate limiting
	scrubbing   bool         // scrub credentials from output (default true)
}

func NewRegistry() *Registry {
	return &Registry{
		tools:     make(map[string]Tool),
		scrubbing: true,
	}
}

// SetRateLimiter enables per-key tool rate limiting.
func (r *Registry) SetRateLimiter(rl *RateLimiter) {
	r.rateLimiter = rl
}

// SetScrubbing enables or disables credential scrubbing on tool output.
func (r *Registry) SetScrubbing(enabled bool) {
	r.scrubbing = enabled
}

// Register adds a tool to the registry.
func (r *Registry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = tool
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// HasTool reports whether a tool is registered.
func (r *Registry) HasTool(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// List returns all registered tool names.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	return names
}

// ProviderDefs returns tool definitions for LLM provider APIs, including the
// loop-control sentinels.
func (r *Registry) ProviderDefs() []providers.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]providers.ToolDefinition, 0, len(r.tools)+2)
	for _, tool := range r.tools {
		defs = append(defs, ToProviderDef(tool))
	}
	defs = append(defs, SentinelDefs()...)
	return defs
}

// Execute runs a tool with bounded retries and a per-attempt latency budget.
// A timed-out or failed attempt is retried until maxRetries is exhausted; the
// returned result carries retries_used, execution_time_ms, latency_budget_ms
// and timed_out in its Data.
//
// Errors are reserved for structural problems (unknown tool, panic, caller
// cancellation); a tool that ran and reported failure returns a failed Result
// with a nil error.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]interface{}, maxRetries, latencyBudgetMs int) (*Result, error) {
	r.mu.RLock()
	tool, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}

	if r.rateLimiter != nil {
		if err := r.rateLimiter.Allow(name); err != nil {
			return nil, err
		}
	}

	if maxRetries < 0 {
		maxRetries = 0
	}
	budget := time.Duration(latencyBudgetMs) * time.Millisecond

	start := time.Now()
	var (
		result   *Result
		timedOut bool
		attempt  int
	)

	for attempt = 0; attempt <= maxRetries; attempt++ {
		var attemptErr error
		result, timedOut, attemptErr = r.runAttempt(ctx, tool, args, budget)
		if attemptErr != nil {
			return nil, attemptErr
		}
		if result.Success {
			break
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	retriesUsed := attempt
	if retriesUsed > maxRetries {
		retriesUsed = maxRetries
	}

	elapsed := time.Since(start)

	if r.scrubbing && result.Message != "" {
		result = &Result{Success: result.Success, Message: ScrubCredentials(result.Message), Data: result.Data}
	}

	result = result.
		WithData(DataExecutionTimeMs, elapsed.Milliseconds()).
		WithData(DataRetriesUsed, retriesUsed).
		WithData(DataLatencyBudgetMs, latencyBudgetMs).
		WithData(DataTimedOut, timedOut)

	slog.Debug("tool executed",
		"tool", name,
		"duration_ms", elapsed.Milliseconds(),
		"success", result.Success,
		"retries_used", retriesUsed,
		"timed_out", timedOut,
	)

	return result, nil
}

// runAttempt executes one attempt under the latency budget, converting a
// panic into a failed attempt error and a budget overrun into a failed
// result flagged timed_out.
func (r *Registry) runAttempt(ctx context.Context, tool Tool, args map[string]interface{}, budget time.Duration) (result *Result, timedOut bool, err error) {
	attemptCtx := ctx
	var cancel context.CancelFunc
	if budget > 0 {
		attemptCtx, cancel = context.WithTimeout(ctx, budget)
		defer cancel()
	}

	done := make(chan *Result, 1)
	panicked := make(chan error, 1)

	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				panicked <- fmt.Errorf("tool %s panicked: %v", tool.Name(), rec)
			}
		}()
		done <- tool.Execute(attemptCtx, args)
	}()

	select {
	case res := <-done:
		if res == nil {
			res = Fail("tool returned no result")
		}
		return res, false, nil
	case err := <-panicked:
		return nil, false, err
	case <-attemptCtx.Done():
		if ctx.Err() != nil {
			// Caller cancellation, not a budget overrun.
			return nil, false, ctx.Err()
		}
		return Fail(fmt.Sprintf("%s exceeded its latency budget", tool.Name())), true, nil
	}
}
