package tools

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/openhearth/hearth/internal/providers"
)

// searchLatencyFloorMs is the minimum effective latency budget for
// search-class tools. Search backends have inherently higher variance than
// local home actions; a caller-supplied budget below this floor is raised.
const searchLatencyFloorMs = 3000

// Execution is the per-call triple returned by the batch executor: the
// originating call, its outcome (Result or captured error), and the audit
// record. Exactly one Execution exists per input call.
type Execution struct {
	Call   providers.ToolCall
	Result *Result // nil when Err is set
	Err    error   // nil when Result is set
	Record CallRecord
}

// Executor fans a batch of tool calls out concurrently and joins on all of
// them. It performs no retries itself; retry and budget values pass through
// to the registry's execution contract; this layer owns uniform bookkeeping.
type Executor struct {
	registry *Registry
	tracer   trace.Tracer
}

func NewExecutor(registry *Registry) *Executor {
	return &Executor{
		registry: registry,
		tracer:   otel.Tracer("hearth/tools"),
	}
}

// ExecuteBatch runs all calls concurrently and returns executions in input
// order regardless of completion order. A slow or failed call never blocks
// or cancels its siblings. The slice always has len(calls) entries.
func (e *Executor) ExecuteBatch(ctx context.Context, calls []providers.ToolCall, maxRetries, latencyBudgetMs int) []Execution {
	if len(calls) == 0 {
		return nil
	}

	ctx, span := e.tracer.Start(ctx, "tools.execute_batch",
		trace.WithAttributes(attribute.Int("batch.size", len(calls))))
	defer span.End()

	executions := make([]Execution, len(calls))
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(idx int, tc providers.ToolCall) {
			defer wg.Done()
			executions[idx] = e.executeOne(ctx, tc, maxRetries, latencyBudgetMs)
		}(i, call)
	}
	wg.Wait()

	return executions
}

// executeOne runs a single call and synthesizes its record. Failure records
// report retries_used=0: the attempt count inside a failed retry sequence is
// not reconstructable from outside, so zero is reported rather than guessed.
func (e *Executor) executeOne(ctx context.Context, call providers.ToolCall, maxRetries, latencyBudgetMs int) Execution {
	effectiveBudget := latencyBudgetMs
	if Classify(call.Name) == KindSearch && effectiveBudget < searchLatencyFloorMs {
		effectiveBudget = searchLatencyFloorMs
	}

	ctx, span := e.tracer.Start(ctx, "tools.execute",
		trace.WithAttributes(
			attribute.String("tool.name", call.Name),
			attribute.Int("tool.latency_budget_ms", effectiveBudget),
		))
	defer span.End()

	start := time.Now()
	result, err := e.registry.Execute(ctx, call.Name, call.Arguments, maxRetries, effectiveBudget)
	elapsed := time.Since(start)

	record := CallRecord{
		Name:             call.Name,
		ExecutionTimeMs:  elapsed.Milliseconds(),
		ArgumentsSummary: SummarizeArguments(call.Arguments),
		LatencyBudgetMs:  effectiveBudget,
	}

	if err != nil {
		record.Success = false
		record.RetriesUsed = 0
		record.TimedOut = errors.Is(err, ErrToolTimeout) || errors.Is(err, context.DeadlineExceeded)
		span.RecordError(err)
		slog.Warn("tool execution error", "tool", call.Name, "error", err)
		return Execution{Call: call, Err: err, Record: record}
	}

	record.Success = result.Success
	record.TimedOut = result.BoolData(DataTimedOut)
	if n, ok := result.IntData(DataRetriesUsed); ok {
		record.RetriesUsed = n
	}
	if ms, ok := result.IntData(DataExecutionTimeMs); ok {
		record.ExecutionTimeMs = int64(ms)
	}

	return Execution{Call: call, Result: result, Record: record}
}
