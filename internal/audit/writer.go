// Package audit appends structured events to the append-only NDJSON ledger.
// Lines are never rewritten or deleted.
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// Event types emitted by the core.
const (
	TypeTickStart       = "tick_start"
	TypeRuleMatched     = "rule_matched"
	TypeStateTransition = "state_transition"
	TypeActionReceipt   = "action_receipt"
	TypeTickEnd         = "tick_end"
	TypeRenewal         = "renewal"
	TypeReleaseArmed    = "release_armed"
)

// Event is one ledger line.
type Event struct {
	Timestamp string         `json:"timestamp" format:"date-time"`
	EventID   string         `json:"event_id"`
	TickID    string         `json:"tick_id,omitempty"`
	StateID   int64          `json:"state_id"`
	Type      string         `json:"type"`
	Details   map[string]any `json:"details,omitempty"`
}

// Writer appends events to the ledger file. Appends use O_APPEND, which is
// safe for concurrent appenders at the OS level but carries no cross-process
// ordering guarantee.
type Writer struct {
	Path string
	Now  func() time.Time
}

func (w Writer) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now()
}

// Append writes one event line. The event id is freshly assigned.
func (w Writer) Append(evtType, tickID string, stateID int64, details map[string]any) error {
	ev := Event{
		Timestamp: w.now().UTC().Format(time.RFC3339),
		EventID:   uuid.New().String(),
		TickID:    tickID,
		StateID:   stateID,
		Type:      evtType,
		Details:   details,
	}
	line, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(w.Path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(w.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open audit ledger: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}
