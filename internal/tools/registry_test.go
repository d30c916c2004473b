package tools

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

// flakyTool fails the first n attempts, then succeeds.
type flakyTool struct {
	failFirst int32
	calls     int32
}

func (f *flakyTool) Name() string                       { return "flaky" }
func (f *flakyTool) Description() string                { return "fails then recovers" }
func (f *flakyTool) Parameters() map[string]interface{} { return map[string]interface{}{"type": "object"} }

func (f *flakyTool) Execute(_ context.Context, _ map[string]interface{}) *Result {
	n := atomic.AddInt32(&f.calls, 1)
	if n <= f.failFirst {
		return Fail("not yet")
	}
	return OK("recovered")
}

func TestRegistry_RetryUntilSuccess(t *testing.T) {
	reg := NewRegistry()
	tool := &flakyTool{failFirst: 2}
	reg.Register(tool)

	res, err := reg.Execute(context.Background(), "flaky", nil, 2, 1000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Success {
		t.Fatal("expected eventual success")
	}
	if n, _ := res.IntData(DataRetriesUsed); n != 2 {
		t.Errorf("retries_used = %d, want 2", n)
	}
	if atomic.LoadInt32(&tool.calls) != 3 {
		t.Errorf("tool called %d times, want 3", tool.calls)
	}
}

func TestRegistry_RetriesExhausted(t *testing.T) {
	reg := NewRegistry()
	tool := &flakyTool{failFirst: 100}
	reg.Register(tool)

	res, err := reg.Execute(context.Background(), "flaky", nil, 2, 1000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Success {
		t.Fatal("expected failure after exhausting retries")
	}
	// retries_used never exceeds the cap, even after a failed final attempt.
	if n, _ := res.IntData(DataRetriesUsed); n != 2 {
		t.Errorf("retries_used = %d, want 2", n)
	}
	if atomic.LoadInt32(&tool.calls) != 3 {
		t.Errorf("tool called %d times, want 3", tool.calls)
	}
}

func TestRegistry_ZeroRetriesMeansOneAttempt(t *testing.T) {
	reg := NewRegistry()
	tool := &flakyTool{failFirst: 1}
	reg.Register(tool)

	res, err := reg.Execute(context.Background(), "flaky", nil, 0, 1000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Success {
		t.Error("single attempt should have failed")
	}
	if atomic.LoadInt32(&tool.calls) != 1 {
		t.Errorf("tool called %d times, want 1", tool.calls)
	}
}

func TestRegistry_BudgetOverrunIsFailedResultNotError(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&fakeTool{name: "slow", delay: 200 * time.Millisecond})

	res, err := reg.Execute(context.Background(), "slow", nil, 0, 20)
	if err != nil {
		t.Fatalf("budget overrun should not be an error: %v", err)
	}
	if res.Success {
		t.Error("expected failed result")
	}
	if !res.BoolData(DataTimedOut) {
		t.Error("expected timed_out=true in result data")
	}
}

func TestRegistry_CallerCancellationIsError(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&fakeTool{name: "slow", delay: 500 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := reg.Execute(ctx, "slow", nil, 3, 5000)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
}

func TestRegistry_UnknownTool(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Execute(context.Background(), "nope", nil, 0, 1000)
	if !errors.Is(err, ErrUnknownTool) {
		t.Fatalf("got %v, want ErrUnknownTool", err)
	}
}

func TestRegistry_ScrubsOutput(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&fakeTool{name: "leaky", result: OK("token is sk-abc123def456ghi789jkl012")})

	res, err := reg.Execute(context.Background(), "leaky", nil, 0, 1000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Message == "" || res.Message == "token is sk-abc123def456ghi789jkl012" {
		t.Errorf("credential not scrubbed: %q", res.Message)
	}
}

func TestRegistry_ProviderDefsIncludeSentinels(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&fakeTool{name: "real"})

	defs := reg.ProviderDefs()
	names := make(map[string]bool, len(defs))
	for _, d := range defs {
		names[d.Function.Name] = true
	}
	for _, want := range []string{"real", NameAwaitResponse, NameNevermind} {
		if !names[want] {
			t.Errorf("missing tool definition %q", want)
		}
	}
}
