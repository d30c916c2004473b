// Package store persists run history and tool-call records to SQLite for
// later inspection and analytics.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/openhearth/hearth/internal/tools"
)

// Run is one persisted turn of an agent loop.
type Run struct {
	ID            string    `json:"id"`
	SessionKey    string    `json:"session_key"`
	AgentID       string    `json:"agent_id"`
	Message       string    `json:"message"`
	Content       string    `json:"content"`
	NeedsFollowup bool      `json:"needs_followup"`
	Iterations    int       `json:"iterations"`
	HitLimit      bool      `json:"hit_limit"`
	CreatedAt     time.Time `json:"created_at"`
}

// History is the SQLite-backed run and record store.
type History struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewHistory opens (or creates) the history database at the given path.
func NewHistory(dbPath string) (*History, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	h := &History{db: db}
	if err := h.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	slog.Info("history store opened", "path", dbPath)
	return h, nil
}

func (h *History) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			session_key TEXT NOT NULL,
			agent_id TEXT NOT NULL,
			message TEXT NOT NULL,
			content TEXT NOT NULL,
			needs_followup INTEGER NOT NULL DEFAULT 0,
			iterations INTEGER NOT NULL DEFAULT 0,
			hit_limit INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL DEFAULT (strftime('%s','now'))
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_session ON runs(session_key)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at)`,
		`CREATE TABLE IF NOT EXISTS call_records (
			run_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			name TEXT NOT NULL,
			success INTEGER NOT NULL,
			execution_time_ms INTEGER NOT NULL,
			arguments_summary TEXT NOT NULL,
			timed_out INTEGER NOT NULL,
			retries_used INTEGER NOT NULL,
			latency_budget_ms INTEGER NOT NULL,
			PRIMARY KEY (run_id, seq)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_records_name ON call_records(name)`,
	}
	for _, stmt := range stmts {
		if _, err := h.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt[:min(len(stmt), 60)], err)
		}
	}
	return nil
}

// SaveRun persists a run and its call records in one transaction. Record
// order is preserved via the seq column.
func (h *History) SaveRun(run Run, records []tools.CallRecord) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	tx, err := h.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(`INSERT OR REPLACE INTO runs
		(id, session_key, agent_id, message, content, needs_followup, iterations, hit_limit, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, strftime('%s','now'))`,
		run.ID, run.SessionKey, run.AgentID, run.Message, run.Content,
		boolInt(run.NeedsFollowup), run.Iterations, boolInt(run.HitLimit))
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	for i, rec := range records {
		_, err = tx.Exec(`INSERT OR REPLACE INTO call_records
			(run_id, seq, name, success, execution_time_ms, arguments_summary, timed_out, retries_used, latency_budget_ms)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			run.ID, i, rec.Name, boolInt(rec.Success), rec.ExecutionTimeMs,
			rec.ArgumentsSummary, boolInt(rec.TimedOut), rec.RetriesUsed, rec.LatencyBudgetMs)
		if err != nil {
			return fmt.Errorf("insert record %d: %w", i, err)
		}
	}

	return tx.Commit()
}

// RunsForSession returns the most recent runs for a session, newest first.
func (h *History) RunsForSession(sessionKey string, limit int) ([]Run, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if limit <= 0 {
		limit = 20
	}
	rows, err := h.db.Query(`SELECT id, session_key, agent_id, message, content,
		needs_followup, iterations, hit_limit, created_at
		FROM runs WHERE session_key = ? ORDER BY created_at DESC LIMIT ?`,
		sessionKey, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var needsFollowup, hitLimit int
		var createdAt int64
		if err := rows.Scan(&r.ID, &r.SessionKey, &r.AgentID, &r.Message, &r.Content,
			&needsFollowup, &r.Iterations, &hitLimit, &createdAt); err != nil {
			continue
		}
		r.NeedsFollowup = needsFollowup != 0
		r.HitLimit = hitLimit != 0
		r.CreatedAt = time.Unix(createdAt, 0)
		runs = append(runs, r)
	}
	return runs, nil
}

// RecordsForRun returns a run's call records in execution order.
func (h *History) RecordsForRun(runID string) ([]tools.CallRecord, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	rows, err := h.db.Query(`SELECT name, success, execution_time_ms, arguments_summary,
		timed_out, retries_used, latency_budget_ms
		FROM call_records WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []tools.CallRecord
	for rows.Next() {
		var rec tools.CallRecord
		var success, timedOut int
		if err := rows.Scan(&rec.Name, &success, &rec.ExecutionTimeMs, &rec.ArgumentsSummary,
			&timedOut, &rec.RetriesUsed, &rec.LatencyBudgetMs); err != nil {
			continue
		}
		rec.Success = success != 0
		rec.TimedOut = timedOut != 0
		records = append(records, rec)
	}
	return records, nil
}

// ToolStats aggregates per-tool success and timing across all stored records.
type ToolStats struct {
	Name      string  `json:"name"`
	Calls     int     `json:"calls"`
	Successes int     `json:"successes"`
	Timeouts  int     `json:"timeouts"`
	AvgTimeMs float64 `json:"avg_time_ms"`
}

// Stats returns per-tool aggregates, busiest tool first.
func (h *History) Stats() ([]ToolStats, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	rows, err := h.db.Query(`SELECT name, COUNT(*), SUM(success), SUM(timed_out), AVG(execution_time_ms)
		FROM call_records GROUP BY name ORDER BY COUNT(*) DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []ToolStats
	for rows.Next() {
		var s ToolStats
		if err := rows.Scan(&s.Name, &s.Calls, &s.Successes, &s.Timeouts, &s.AvgTimeMs); err != nil {
			continue
		}
		stats = append(stats, s)
	}
	return stats, nil
}

// Close closes the database.
func (h *History) Close() error {
	return h.db.Close()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
