// Package auditdb maintains a SQLite index over the NDJSON audit ledger so
// `vigil audit query` can filter without scanning the whole file in Go. The
// ledger stays the source of truth; the index is rebuilt from it on demand.
package auditdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"

	"vigil/internal/audit"
)

// Open opens (or creates) the index database.
func Open(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?cache=shared", path)
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS audit_events (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	ts         TEXT NOT NULL,
	event_id   TEXT NOT NULL,
	tick_id    TEXT,
	state_id   INTEGER NOT NULL,
	type       TEXT NOT NULL,
	details    TEXT
);
CREATE INDEX IF NOT EXISTS idx_audit_type ON audit_events(type);
CREATE INDEX IF NOT EXISTS idx_audit_tick ON audit_events(tick_id);
`

// Reindex rebuilds the index from the given ledger events.
func Reindex(ctx context.Context, db *sql.DB, events []audit.Event) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DROP TABLE IF EXISTS audit_events`); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create audit index: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO audit_events(ts,event_id,tick_id,state_id,type,details) VALUES (?,?,?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, ev := range events {
		var details any
		if ev.Details != nil {
			b, err := json.Marshal(ev.Details)
			if err != nil {
				return fmt.Errorf("marshal details for %s: %w", ev.EventID, err)
			}
			details = string(b)
		}
		if _, err := stmt.ExecContext(ctx, ev.Timestamp, ev.EventID, nullable(ev.TickID), ev.StateID, ev.Type, details); err != nil {
			return fmt.Errorf("index event %s: %w", ev.EventID, err)
		}
	}
	return tx.Commit()
}

// Filter narrows a Query.
type Filter struct {
	Type   string
	TickID string
	Since  string // RFC3339 lower bound on timestamp
	Limit  int
}

// Query returns matching events in ledger order.
func Query(ctx context.Context, db *sql.DB, f Filter) ([]audit.Event, error) {
	q := `SELECT ts,event_id,tick_id,state_id,type,details FROM audit_events WHERE 1=1`
	var args []any
	if f.Type != "" {
		q += ` AND type = ?`
		args = append(args, f.Type)
	}
	if f.TickID != "" {
		q += ` AND tick_id = ?`
		args = append(args, f.TickID)
	}
	if f.Since != "" {
		q += ` AND ts >= ?`
		args = append(args, f.Since)
	}
	q += ` ORDER BY seq`
	if f.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []audit.Event
	for rows.Next() {
		var ev audit.Event
		var tickID, details sql.NullString
		if err := rows.Scan(&ev.Timestamp, &ev.EventID, &tickID, &ev.StateID, &ev.Type, &details); err != nil {
			return nil, err
		}
		ev.TickID = tickID.String
		if details.Valid && details.String != "" {
			if err := json.Unmarshal([]byte(details.String), &ev.Details); err != nil {
				return nil, fmt.Errorf("decode details for %s: %w", ev.EventID, err)
			}
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
