// Package state owns the JSON state file: loading, atomic persistence and
// the closed dotted-path accessor table used by the policy layer.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"vigil/internal/domain"
)

// Load reads and parses the full state document. A read or parse failure is
// fatal to the caller; nothing has been mutated at that point.
func Load(path string) (*domain.State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read state %s: %w", path, err)
	}
	st := new(domain.State)
	if err := json.Unmarshal(data, st); err != nil {
		return nil, fmt.Errorf("parse state %s: %w", path, err)
	}
	if st.Actions.Executed == nil {
		st.Actions.Executed = map[string]domain.ActionReceipt{}
	}
	return st, nil
}

// Save writes the state document atomically: encode, write to a temp file in
// the same directory, fsync, rename. A crash mid-write never leaves a
// partial file behind.
func Save(path string, st *domain.State) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	data = append(data, '\n')
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".state-*.json")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer func() {
		if tmpPath != "" {
			_ = os.Remove(tmpPath)
		}
	}()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return err
	}
	tmpPath = ""
	return nil
}

// New returns the initial state for a fresh project: stage OK, deadline at
// the given time, empty ledgers.
func New(project string, deadline time.Time, graceMinutes int) *domain.State {
	st := new(domain.State)
	st.Meta.Project = project
	st.Meta.StateID = 1
	st.Meta.PolicyVersion = 1
	st.Meta.PlanVersion = 1
	st.Timer.Deadline = deadline.UTC().Format(time.RFC3339)
	st.Timer.GraceMinutes = graceMinutes
	st.Escalation.Stage = domain.StageOK
	st.Actions.Executed = map[string]domain.ActionReceipt{}
	return st
}
