// Package sessions holds per-conversation mutable state shared across agent
// turns: the pending critical action awaiting user confirmation, and the
// consecutive-clarification counter.
package sessions

import "context"

// PendingCriticalAction is a critical tool call intercepted by the loop. It is
// never executed in the turn it was proposed; it waits for an explicit user
// confirmation in a later turn. At most one exists per session; a newer
// critical request replaces an older one.
type PendingCriticalAction struct {
	ToolName      string                 `json:"tool_name"`
	Arguments     map[string]interface{} `json:"arguments"`
	CreatedAt     int                    `json:"created_at"` // loop iteration number
	TargetDomains []string               `json:"target_domains"`
}

// State is the session-state collaborator consumed by the orchestration loop.
// Implementations own serialization; the loop must not assume exclusive access
// across concurrent turns for the same session.
type State interface {
	GetPendingCriticalAction(ctx context.Context, sessionID string) (*PendingCriticalAction, error)
	SetPendingCriticalAction(ctx context.Context, sessionID string, action *PendingCriticalAction) error
	ClearPendingCriticalAction(ctx context.Context, sessionID string) error

	// IncrementFollowup bumps the consecutive-clarification counter and
	// returns the new value.
	IncrementFollowup(ctx context.Context, sessionID string) (int, error)
	ResetFollowup(ctx context.Context, sessionID string) error
}
