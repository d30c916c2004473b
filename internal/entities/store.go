// Package entities tracks the home inventory the agent can act on: entity
// metadata and state, group membership, and a short journal of recent events
// used as contextual evidence by the orchestration loop.
package entities

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"gopkg.in/yaml.v3"
)

// Entity is one addressable thing in the home.
type Entity struct {
	ID      string            `yaml:"id" json:"id"`           // e.g. "light.kitchen"
	Name    string            `yaml:"name" json:"name"`       // friendly name
	Domain  string            `yaml:"domain" json:"domain"`   // e.g. "light", "lock"
	Group   bool              `yaml:"group" json:"group"`     // aggregate of members
	Members []string          `yaml:"members" json:"members"` // member entity IDs when Group
	State   string            `yaml:"state" json:"state"`
	Attrs   map[string]string `yaml:"attrs" json:"attrs,omitempty"`
}

// Event is one recent state change or agent action, kept for the loop's
// relative-action evidence check ("extend the timer" only makes sense if a
// timer was recently started).
type Event struct {
	Kind     string    // e.g. "timer", "alarm", "control"
	EntityID string
	At       time.Time
}

const (
	lookupCacheSize   = 256
	eventJournalLimit = 64
)

// Store is an in-memory entity inventory with an LRU lookup cache and a
// bounded recent-event journal.
type Store struct {
	mu      sync.RWMutex
	byID    map[string]*Entity
	cache   *lru.Cache[string, *Entity]
	events  []Event
	nowFunc func() time.Time
}

func NewStore() *Store {
	cache, _ := lru.New[string, *Entity](lookupCacheSize)
	return &Store{
		byID:    make(map[string]*Entity),
		cache:   cache,
		nowFunc: time.Now,
	}
}

// LoadSeedFile loads a YAML inventory file into the store.
func (s *Store) LoadSeedFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read entities file: %w", err)
	}
	var doc struct {
		Entities []Entity `yaml:"entities"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("parse entities file: %w", err)
	}
	for i := range doc.Entities {
		s.Upsert(&doc.Entities[i])
	}
	return nil
}

// Upsert adds or replaces an entity.
func (s *Store) Upsert(e *Entity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.Domain == "" {
		e.Domain = domainOf(e.ID)
	}
	s.byID[e.ID] = e
	s.cache.Remove(e.ID)
}

// Get returns an entity by ID, nil when unknown.
func (s *Store) Get(id string) *Entity {
	if e, ok := s.cache.Get(id); ok {
		return e
	}
	s.mu.RLock()
	e := s.byID[id]
	s.mu.RUnlock()
	if e != nil {
		s.cache.Add(id, e)
	}
	return e
}

// SetState updates an entity's state and journals the change.
func (s *Store) SetState(id, state string) error {
	s.mu.Lock()
	e, ok := s.byID[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("unknown entity: %s", id)
	}
	e.State = state
	s.cache.Remove(id)
	s.mu.Unlock()

	s.RecordEvent(Event{Kind: "control", EntityID: id})
	return nil
}

// List returns all entity IDs, sorted.
func (s *Store) List() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.byID))
	for id := range s.byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// RecordEvent appends to the journal, dropping the oldest entry past the cap.
func (s *Store) RecordEvent(ev Event) {
	if ev.At.IsZero() {
		ev.At = s.nowFunc()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	if len(s.events) > eventJournalLimit {
		s.events = s.events[len(s.events)-eventJournalLimit:]
	}
}

// HasRecentEvent reports whether an event of the given kind happened within
// the window. Used to gate relative/offset-style actions.
func (s *Store) HasRecentEvent(kind string, window time.Duration) bool {
	cutoff := s.nowFunc().Add(-window)
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.events) - 1; i >= 0; i-- {
		if s.events[i].At.Before(cutoff) {
			return false
		}
		if s.events[i].Kind == kind {
			return true
		}
	}
	return false
}

// PreferredTarget collapses an implicit multi-target list to the single
// target the user most likely meant: prefer a group/aggregate entity, break
// ties by shortest ID. The model tends to enumerate every member of an
// implicit group; the user almost always meant the group itself.
func (s *Store) PreferredTarget(ids []string) string {
	if len(ids) == 0 {
		return ""
	}
	best := ids[0]
	bestScore := s.targetScore(ids[0])
	for _, id := range ids[1:] {
		score := s.targetScore(id)
		if score > bestScore || (score == bestScore && betterTiebreak(id, best)) {
			best = id
			bestScore = score
		}
	}
	return best
}

// targetScore ranks group-likeness: known group entities first, then IDs that
// look like aggregates by naming, then everything else.
func (s *Store) targetScore(id string) int {
	if e := s.Get(id); e != nil && e.Group {
		return 2
	}
	lower := strings.ToLower(id)
	for _, marker := range []string{"all_", "_all", "group", "every"} {
		if strings.Contains(lower, marker) {
			return 1
		}
	}
	return 0
}

func betterTiebreak(candidate, current string) bool {
	if len(candidate) != len(current) {
		return len(candidate) < len(current)
	}
	return candidate < current
}

func domainOf(id string) string {
	if i := strings.IndexByte(id, '.'); i > 0 {
		return id[:i]
	}
	return ""
}
