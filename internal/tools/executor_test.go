package tools

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/openhearth/hearth/internal/providers"
)

// fakeTool is a configurable test tool.
type fakeTool struct {
	name    string
	delay   time.Duration
	result  *Result
	panicky bool
}

func (f *fakeTool) Name() string                       { return f.name }
func (f *fakeTool) Description() string                { return "test tool" }
func (f *fakeTool) Parameters() map[string]interface{} { return map[string]interface{}{"type": "object"} }

func (f *fakeTool) Execute(ctx context.Context, _ map[string]interface{}) *Result {
	if f.panicky {
		panic("boom")
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return Fail("cancelled")
		}
	}
	if f.result != nil {
		return f.result
	}
	return OK(f.name + " done")
}

func call(name string, id string) providers.ToolCall {
	return providers.ToolCall{ID: id, Name: name, Arguments: map[string]interface{}{}}
}

func TestExecuteBatch_OneRecordPerCallInInputOrder(t *testing.T) {
	reg := NewRegistry()
	// Slow first, fast second: completion order inverts input order.
	reg.Register(&fakeTool{name: "slow", delay: 50 * time.Millisecond})
	reg.Register(&fakeTool{name: "fast"})

	ex := NewExecutor(reg)
	calls := []providers.ToolCall{call("slow", "a"), call("fast", "b"), call("slow", "c")}
	executions := ex.ExecuteBatch(context.Background(), calls, 0, 5000)

	if len(executions) != len(calls) {
		t.Fatalf("got %d executions, want %d", len(executions), len(calls))
	}
	for i, e := range executions {
		if e.Call.ID != calls[i].ID {
			t.Errorf("execution %d: call id %q, want %q", i, e.Call.ID, calls[i].ID)
		}
		if e.Record.Name != calls[i].Name {
			t.Errorf("execution %d: record name %q, want %q", i, e.Record.Name, calls[i].Name)
		}
	}
}

func TestExecuteBatch_ErrorStillYieldsRecord(t *testing.T) {
	reg := NewRegistry()
	ex := NewExecutor(reg)

	executions := ex.ExecuteBatch(context.Background(),
		[]providers.ToolCall{call("does_not_exist", "x")}, 2, 1000)

	if len(executions) != 1 {
		t.Fatalf("got %d executions, want 1", len(executions))
	}
	e := executions[0]
	if e.Err == nil {
		t.Fatal("expected error for unknown tool")
	}
	if !errors.Is(e.Err, ErrUnknownTool) {
		t.Errorf("got %v, want ErrUnknownTool", e.Err)
	}
	if e.Record.Success {
		t.Error("record should mark failure")
	}
	if e.Record.RetriesUsed != 0 {
		t.Errorf("failed-path record should report retries_used=0, got %d", e.Record.RetriesUsed)
	}
	if e.Record.TimedOut {
		t.Error("lookup failure is not a timeout")
	}
}

func TestExecuteBatch_TimeoutDoesNotAffectSiblings(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&fakeTool{name: "sluggish", delay: 200 * time.Millisecond})
	reg.Register(&fakeTool{name: "quick"})

	ex := NewExecutor(reg)
	calls := []providers.ToolCall{call("sluggish", "a"), call("quick", "b")}
	executions := ex.ExecuteBatch(context.Background(), calls, 0, 20)

	if executions[0].Record.TimedOut != true {
		t.Error("sluggish call should be flagged timed_out")
	}
	if executions[0].Result == nil || executions[0].Result.Success {
		t.Error("timed-out call should carry a failed result, not an error")
	}
	if executions[1].Err != nil || !executions[1].Result.Success {
		t.Errorf("sibling call affected by timeout: %+v", executions[1])
	}
	if executions[1].Record.TimedOut {
		t.Error("quick call wrongly flagged timed_out")
	}
}

func TestExecuteBatch_SearchBudgetFloor(t *testing.T) {
	reg := NewRegistry()
	reg.Register(NewWebSearchTool(&stubSearch{}))
	reg.Register(&fakeTool{name: "other"})

	ex := NewExecutor(reg)
	calls := []providers.ToolCall{
		{ID: "s", Name: NameWebSearch, Arguments: map[string]interface{}{"query": "weather"}},
		call("other", "o"),
	}
	executions := ex.ExecuteBatch(context.Background(), calls, 0, 500)

	if got := executions[0].Record.LatencyBudgetMs; got != searchLatencyFloorMs {
		t.Errorf("search budget = %d, want floor %d", got, searchLatencyFloorMs)
	}
	if got := executions[1].Record.LatencyBudgetMs; got != 500 {
		t.Errorf("non-search budget = %d, want caller value 500", got)
	}
}

func TestExecuteBatch_SearchBudgetAboveFloorKept(t *testing.T) {
	reg := NewRegistry()
	reg.Register(NewWebSearchTool(&stubSearch{}))
	ex := NewExecutor(reg)

	executions := ex.ExecuteBatch(context.Background(),
		[]providers.ToolCall{{ID: "s", Name: NameWebSearch, Arguments: map[string]interface{}{"query": "q"}}},
		0, 9000)
	if got := executions[0].Record.LatencyBudgetMs; got != 9000 {
		t.Errorf("budget above floor should pass through, got %d", got)
	}
}

func TestExecuteBatch_PanicCapturedAsError(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&fakeTool{name: "bomb", panicky: true})
	ex := NewExecutor(reg)

	executions := ex.ExecuteBatch(context.Background(), []providers.ToolCall{call("bomb", "x")}, 0, 1000)
	if executions[0].Err == nil {
		t.Fatal("panic should surface as captured error")
	}
	if executions[0].Record.Success {
		t.Error("record should mark failure")
	}
}

func TestExecuteBatch_Empty(t *testing.T) {
	ex := NewExecutor(NewRegistry())
	if got := ex.ExecuteBatch(context.Background(), nil, 0, 1000); got != nil {
		t.Errorf("expected nil for empty batch, got %v", got)
	}
}

// stubSearch returns one canned result.
type stubSearch struct{}

func (s *stubSearch) Name() string { return "stub" }
func (s *stubSearch) Search(_ context.Context, query string, _ int) ([]SearchResult, error) {
	return []SearchResult{{Title: fmt.Sprintf("about %s", query), URL: "https://example.com"}}, nil
}
