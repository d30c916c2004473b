package agent

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// ResolverFunc lazily creates an agent that is not in the cache, e.g. from
// persisted agent definitions.
type ResolverFunc func(agentID string) (Agent, error)

const defaultRouterTTL = 10 * time.Minute

type agentEntry struct {
	agent    Agent
	cachedAt time.Time
}

// Router dispatches turns to named agent loops. Each agent has a unique ID
// and its own provider/model/tool configuration. Cached entries expire after
// a TTL so stale definitions get re-resolved.
type Router struct {
	agents     map[string]*agentEntry
	mu         sync.RWMutex
	activeRuns sync.Map // runID → *ActiveRun
	resolver   ResolverFunc
	ttl        time.Duration
}

func NewRouter() *Router {
	return &Router{
		agents: make(map[string]*agentEntry),
		ttl:    defaultRouterTTL,
	}
}

// SetResolver installs a lazy-creation hook for unknown agent IDs.
func (r *Router) SetResolver(fn ResolverFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resolver = fn
}

// Register adds an agent to the router.
func (r *Router) Register(ag Agent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[ag.ID()] = &agentEntry{agent: ag, cachedAt: time.Now()}
}

// Get returns an agent by ID, resolving it lazily when a resolver is set.
func (r *Router) Get(agentID string) (Agent, error) {
	r.mu.RLock()
	entry, ok := r.agents[agentID]
	resolver := r.resolver
	r.mu.RUnlock()

	if ok && (r.ttl == 0 || time.Since(entry.cachedAt) < r.ttl) {
		return entry.agent, nil
	}

	if ok {
		r.mu.Lock()
		delete(r.agents, agentID)
		r.mu.Unlock()
	}

	if resolver != nil {
		ag, err := resolver(agentID)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		// Another goroutine may have resolved it first.
		if existing, ok := r.agents[agentID]; ok {
			r.mu.Unlock()
			return existing.agent, nil
		}
		r.agents[agentID] = &agentEntry{agent: ag, cachedAt: time.Now()}
		r.mu.Unlock()
		return ag, nil
	}

	return nil, fmt.Errorf("agent not found: %s", agentID)
}

// Remove drops an agent from the router.
func (r *Router) Remove(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.agents, agentID)
}

// List returns all registered agent IDs.
func (r *Router) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.agents))
	for id := range r.agents {
		ids = append(ids, id)
	}
	return ids
}

// ActiveRun tracks an in-flight turn so it can be aborted.
type ActiveRun struct {
	RunID      string
	SessionKey string
	AgentID    string
	Cancel     context.CancelFunc
	StartedAt  time.Time
}

// RegisterRun records an active run for later abort.
func (r *Router) RegisterRun(runID, sessionKey, agentID string, cancel context.CancelFunc) {
	r.activeRuns.Store(runID, &ActiveRun{
		RunID:      runID,
		SessionKey: sessionKey,
		AgentID:    agentID,
		Cancel:     cancel,
		StartedAt:  time.Now(),
	})
}

// UnregisterRun removes a completed or cancelled run from tracking.
func (r *Router) UnregisterRun(runID string) {
	r.activeRuns.Delete(runID)
}

// AbortRun cancels one run. A non-empty sessionKey must match the run's
// session for the abort to be honored.
func (r *Router) AbortRun(runID, sessionKey string) bool {
	val, ok := r.activeRuns.Load(runID)
	if !ok {
		return false
	}
	run := val.(*ActiveRun)
	if sessionKey != "" && run.SessionKey != sessionKey {
		return false
	}
	run.Cancel()
	r.activeRuns.Delete(runID)
	return true
}

// AbortRunsForSession cancels every active run for a session and returns the
// aborted run IDs.
func (r *Router) AbortRunsForSession(sessionKey string) []string {
	var aborted []string
	r.activeRuns.Range(func(key, val interface{}) bool {
		run := val.(*ActiveRun)
		if run.SessionKey == sessionKey {
			run.Cancel()
			r.activeRuns.Delete(key)
			aborted = append(aborted, run.RunID)
		}
		return true
	})
	return aborted
}
