package engine

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"vigil/internal/adapters"
	"vigil/internal/audit"
	"vigil/internal/domain"
	"vigil/internal/policy"
	"vigil/internal/render"
)

func writePolicyDir(t *testing.T, rules, plan, states string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range map[string]string{
		policy.RulesFile:  rules,
		policy.PlanFile:   plan,
		policy.StatesFile: states,
	} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func loadPolicy(t *testing.T, rules, plan, states string) *policy.Policy {
	t.Helper()
	p, err := policy.Load(writePolicyDir(t, rules, plan, states))
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func defaultPolicy(t *testing.T) *policy.Policy {
	t.Helper()
	return loadPolicy(t, policy.DefaultRules, policy.DefaultPlan, policy.DefaultStates)
}

// fakeAdapter records executions and returns a scripted receipt.
type fakeAdapter struct {
	mu       sync.Mutex
	name     string
	enabled  bool
	receipt  domain.Receipt
	err      error
	panicMsg string
	calls    []string
}

func newFakeAdapter(name string) *fakeAdapter {
	return &fakeAdapter{
		name:    name,
		enabled: true,
		receipt: domain.OKReceipt("delivery-1"),
	}
}

func (f *fakeAdapter) Name() string                           { return f.name }
func (f *fakeAdapter) Enabled(adapters.ExecutionContext) bool { return f.enabled }
func (f *fakeAdapter) Validate(adapters.ExecutionContext) error {
	return nil
}

func (f *fakeAdapter) Execute(_ context.Context, ec adapters.ExecutionContext) (domain.Receipt, error) {
	f.mu.Lock()
	f.calls = append(f.calls, ec.Action.ID)
	f.mu.Unlock()
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	return f.receipt, f.err
}

func (f *fakeAdapter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func testState(t *testing.T, stage string, deadline time.Time) *domain.State {
	t.Helper()
	st := &domain.State{}
	st.Meta.Project = "acme-secrets"
	st.Timer.Deadline = deadline.UTC().Format(time.RFC3339)
	st.Escalation.Stage = stage
	st.Actions.Executed = map[string]domain.ActionReceipt{}
	return st
}

func testEngine(t *testing.T, p *policy.Policy, reg adapters.Registry, now time.Time) Engine {
	t.Helper()
	ledger := filepath.Join(t.TempDir(), "audit.ndjson")
	e := New(p, audit.Writer{Path: ledger, Now: func() time.Time { return now }}, reg, render.Renderer{})
	e.Now = func() time.Time { return now }
	return e
}

func readLedger(t *testing.T, e Engine) []audit.Event {
	t.Helper()
	events, err := audit.Read(e.Audit.Path)
	if err != nil {
		t.Fatal(err)
	}
	return events
}
