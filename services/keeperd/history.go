package keeperd

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/glebarez/sqlite"
)

// ErrHistoryPathRequired is returned when the backing store path is missing.
var ErrHistoryPathRequired = errors.New("keeperd: history path must be configured")

const historySchema = `
CREATE TABLE IF NOT EXISTS sweeps (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    correlation_id TEXT NOT NULL,
    started_at INTEGER NOT NULL,
    duration_ms INTEGER NOT NULL,
    released INTEGER NOT NULL,
    active INTEGER NOT NULL,
    outcome TEXT NOT NULL,
    detail TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS sweeps_started_at ON sweeps(started_at);
`

// History persists one row per sweep so operators can audit cadence and
// failures after the fact.
type History struct {
	db *sql.DB
}

// OpenHistory initialises the sweep log using a sqlite-compatible DSN.
func OpenHistory(path string) (*History, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, ErrHistoryPathRequired
	}
	db, err := sql.Open("sqlite", trimmed)
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	if _, err := db.Exec(historySchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &History{db: db}, nil
}

// Close releases database resources.
func (h *History) Close() error {
	if h == nil || h.db == nil {
		return nil
	}
	return h.db.Close()
}

// Sweep is one recorded run of the release loop.
type Sweep struct {
	ID            int64
	CorrelationID string
	StartedAt     time.Time
	Duration      time.Duration
	Released      int
	Active        int
	Outcome       string
	Detail        string
}

// Record appends one sweep row.
func (h *History) Record(ctx context.Context, sweep Sweep) error {
	if h == nil {
		return fmt.Errorf("history not configured")
	}
	_, err := h.db.ExecContext(ctx, `
        INSERT INTO sweeps(correlation_id, started_at, duration_ms, released, active, outcome, detail)
        VALUES(?, ?, ?, ?, ?, ?, ?)
    `, sweep.CorrelationID, sweep.StartedAt.UTC().Unix(), sweep.Duration.Milliseconds(),
		sweep.Released, sweep.Active, sweep.Outcome, sweep.Detail)
	if err != nil {
		return fmt.Errorf("insert sweep: %w", err)
	}
	return nil
}

// Recent returns up to limit sweeps, newest first.
func (h *History) Recent(ctx context.Context, limit int) ([]Sweep, error) {
	if h == nil {
		return nil, fmt.Errorf("history not configured")
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := h.db.QueryContext(ctx, `
        SELECT id, correlation_id, started_at, duration_ms, released, active, outcome, detail
        FROM sweeps ORDER BY started_at DESC, id DESC LIMIT ?
    `, limit)
	if err != nil {
		return nil, fmt.Errorf("query sweeps: %w", err)
	}
	defer rows.Close()

	var sweeps []Sweep
	for rows.Next() {
		var (
			sweep      Sweep
			startedAt  int64
			durationMS int64
		)
		if err := rows.Scan(&sweep.ID, &sweep.CorrelationID, &startedAt, &durationMS,
			&sweep.Released, &sweep.Active, &sweep.Outcome, &sweep.Detail); err != nil {
			return nil, fmt.Errorf("scan sweep: %w", err)
		}
		sweep.StartedAt = time.Unix(startedAt, 0).UTC()
		sweep.Duration = time.Duration(durationMS) * time.Millisecond
		sweeps = append(sweeps, sweep)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sweeps: %w", err)
	}
	return sweeps, nil
}
