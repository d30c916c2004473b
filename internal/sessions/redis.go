package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Pending actions and clarification counters expire on their own so a session
// abandoned mid-confirmation doesn't hold a destructive action forever.
const (
	pendingActionTTL = 10 * time.Minute
	followupTTL      = 30 * time.Minute
)

// RedisState stores session state in Redis, serializing concurrent turns for
// the same session at the storage layer (last write wins).
type RedisState struct {
	client *redis.Client
	prefix string
}

func NewRedisState(addr, password string, db int) *RedisState {
	return &RedisState{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
		prefix: "hearth:session:",
	}
}

func (s *RedisState) pendingKey(sessionID string) string {
	return s.prefix + sessionID + ":pending_action"
}

func (s *RedisState) followupKey(sessionID string) string {
	return s.prefix + sessionID + ":followup"
}

func (s *RedisState) GetPendingCriticalAction(ctx context.Context, sessionID string) (*PendingCriticalAction, error) {
	raw, err := s.client.Get(ctx, s.pendingKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get pending action: %w", err)
	}
	var action PendingCriticalAction
	if err := json.Unmarshal(raw, &action); err != nil {
		return nil, fmt.Errorf("decode pending action: %w", err)
	}
	return &action, nil
}

func (s *RedisState) SetPendingCriticalAction(ctx context.Context, sessionID string, action *PendingCriticalAction) error {
	raw, err := json.Marshal(action)
	if err != nil {
		return fmt.Errorf("encode pending action: %w", err)
	}
	if err := s.client.Set(ctx, s.pendingKey(sessionID), raw, pendingActionTTL).Err(); err != nil {
		return fmt.Errorf("redis set pending action: %w", err)
	}
	return nil
}

func (s *RedisState) ClearPendingCriticalAction(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, s.pendingKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("redis clear pending action: %w", err)
	}
	return nil
}

func (s *RedisState) IncrementFollowup(ctx context.Context, sessionID string) (int, error) {
	key := s.followupKey(sessionID)
	n, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("redis incr followup: %w", err)
	}
	s.client.Expire(ctx, key, followupTTL)
	return int(n), nil
}

func (s *RedisState) ResetFollowup(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, s.followupKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("redis reset followup: %w", err)
	}
	return nil
}

// Close releases the underlying Redis connection pool.
func (s *RedisState) Close() error {
	return s.client.Close()
}
