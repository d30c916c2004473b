package sessions

import (
	"context"
	"sync"
)

// MemoryState is the in-process State implementation. Suitable for a single
// gateway instance; use RedisState when multiple instances share sessions.
type MemoryState struct {
	mu       sync.Mutex
	pending  map[string]*PendingCriticalAction
	followup map[string]int
}

func NewMemoryState() *MemoryState {
	return &MemoryState{
		pending:  make(map[string]*PendingCriticalAction),
		followup: make(map[string]int),
	}
}

func (s *MemoryState) GetPendingCriticalAction(_ context.Context, sessionID string) (*PendingCriticalAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending[sessionID], nil
}

func (s *MemoryState) SetPendingCriticalAction(_ context.Context, sessionID string, action *PendingCriticalAction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[sessionID] = action
	return nil
}

func (s *MemoryState) ClearPendingCriticalAction(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, sessionID)
	return nil
}

func (s *MemoryState) IncrementFollowup(_ context.Context, sessionID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.followup[sessionID]++
	return s.followup[sessionID], nil
}

func (s *MemoryState) ResetFollowup(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.followup, sessionID)
	return nil
}
