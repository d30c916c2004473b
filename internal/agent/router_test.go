package agent

import (
	"context"
	"errors"
	"testing"
)

type stubAgent struct {
	id string
}

func (s *stubAgent) ID() string      { return s.id }
func (s *stubAgent) Model() string   { return "stub-model" }
func (s *stubAgent) IsRunning() bool { return false }
func (s *stubAgent) Run(_ context.Context, _ RunRequest) (*RunResult, error) {
	return &RunResult{Content: "ok"}, nil
}

func TestRouter_RegisterAndGet(t *testing.T) {
	r := NewRouter()
	r.Register(&stubAgent{id: "main"})

	ag, err := r.Get("main")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ag.ID() != "main" {
		t.Errorf("got agent %q", ag.ID())
	}
}

func TestRouter_UnknownAgent(t *testing.T) {
	r := NewRouter()
	if _, err := r.Get("ghost"); err == nil {
		t.Fatal("expected error for unknown agent")
	}
}

func TestRouter_ResolverLazyCreates(t *testing.T) {
	r := NewRouter()
	created := 0
	r.SetResolver(func(id string) (Agent, error) {
		if id != "lazy" {
			return nil, errors.New("unknown")
		}
		created++
		return &stubAgent{id: id}, nil
	})

	for i := 0; i < 3; i++ {
		if _, err := r.Get("lazy"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if created != 1 {
		t.Errorf("resolver ran %d times, want 1 (cached after first)", created)
	}
}

func TestRouter_AbortRun(t *testing.T) {
	r := NewRouter()
	cancelled := false
	r.RegisterRun("run1", "session1", "main", func() { cancelled = true })

	if r.AbortRun("run1", "wrong-session") {
		t.Error("abort must be refused for mismatched session")
	}
	if !r.AbortRun("run1", "session1") {
		t.Fatal("abort should succeed for matching session")
	}
	if !cancelled {
		t.Error("cancel func not invoked")
	}
	if r.AbortRun("run1", "session1") {
		t.Error("second abort should find nothing")
	}
}

func TestRouter_AbortRunsForSession(t *testing.T) {
	r := NewRouter()
	n := 0
	r.RegisterRun("a", "s1", "main", func() { n++ })
	r.RegisterRun("b", "s1", "main", func() { n++ })
	r.RegisterRun("c", "s2", "main", func() { n++ })

	aborted := r.AbortRunsForSession("s1")
	if len(aborted) != 2 {
		t.Errorf("aborted %d runs, want 2", len(aborted))
	}
	if n != 2 {
		t.Errorf("cancelled %d runs, want 2", n)
	}
}
