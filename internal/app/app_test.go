package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"vigil/internal/audit"
	"vigil/internal/config"
	"vigil/internal/domain"
	"vigil/internal/policy"
	"vigil/internal/state"
)

var appNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func initWorkspace(t *testing.T) *App {
	t.Helper()
	dir := t.TempDir()
	if err := Init(dir, "acme", appNow); err != nil {
		t.Fatal(err)
	}
	a, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	a.Now = func() time.Time { return appNow }
	return a
}

func TestInitScaffoldsWorkspace(t *testing.T) {
	a := initWorkspace(t)

	for _, p := range []string{
		config.Path(a.Workspace),
		filepath.Join(a.PolicyDir(), policy.RulesFile),
		filepath.Join(a.PolicyDir(), policy.PlanFile),
		filepath.Join(a.PolicyDir(), policy.StatesFile),
		filepath.Join(a.TemplatesDir(), "remind1.txt"),
		a.StatePath(),
	} {
		if _, err := os.Stat(p); err != nil {
			t.Fatalf("missing %s: %v", p, err)
		}
	}

	st, err := a.LoadState()
	if err != nil {
		t.Fatal(err)
	}
	if st.Meta.Project != "acme" || st.Escalation.Stage != domain.StageOK {
		t.Fatalf("state %+v", st)
	}
	// Deadline sits one renewal interval out.
	want := appNow.Add(10080 * time.Minute).Format(time.RFC3339)
	if st.Timer.Deadline != want {
		t.Fatalf("deadline %q, want %q", st.Timer.Deadline, want)
	}
	if st.Timer.GraceMinutes != 60 {
		t.Fatalf("grace %d", st.Timer.GraceMinutes)
	}

	if _, err := a.LoadPolicy(); err != nil {
		t.Fatalf("scaffolded policy does not load: %v", err)
	}
}

func TestInitNeverOverwrites(t *testing.T) {
	a := initWorkspace(t)
	st, err := a.LoadState()
	if err != nil {
		t.Fatal(err)
	}
	st.Meta.Project = "modified"
	if err := a.SaveState(st); err != nil {
		t.Fatal(err)
	}

	if err := Init(a.Workspace, "other", appNow.Add(time.Hour)); err != nil {
		t.Fatal(err)
	}
	st, err = a.LoadState()
	if err != nil {
		t.Fatal(err)
	}
	if st.Meta.Project != "modified" {
		t.Fatal("init overwrote an existing state file")
	}
}

func TestRenewExtendsAndDeEscalates(t *testing.T) {
	a := initWorkspace(t)
	st, err := a.LoadState()
	if err != nil {
		t.Fatal(err)
	}
	st.Escalation.Stage = domain.StagePreRelease
	st.Release = domain.Release{Triggered: true, TargetStage: domain.StageFull, ClientToken: "tok"}
	if err := a.SaveState(st); err != nil {
		t.Fatal(err)
	}

	got, err := a.Renew(120)
	if err != nil {
		t.Fatal(err)
	}
	if got.Escalation.Stage != domain.StageOK {
		t.Fatalf("stage %q, want OK", got.Escalation.Stage)
	}
	if got.Escalation.LastTransitionRule != domain.RuleIDRenewal {
		t.Fatalf("rule %q", got.Escalation.LastTransitionRule)
	}
	if got.Release.Triggered || got.Release.ClientToken != "" {
		t.Fatalf("release %+v, want cleared", got.Release)
	}
	wantDeadline := appNow.Add(120 * time.Minute).Format(time.RFC3339)
	if got.Timer.Deadline != wantDeadline {
		t.Fatalf("deadline %q, want %q", got.Timer.Deadline, wantDeadline)
	}
	if got.Renewal.Count != 1 || got.Renewal.LastRenewalAt == "" {
		t.Fatalf("renewal %+v", got.Renewal)
	}

	// Persisted, and both renewal and transition events hit the ledger.
	reloaded, err := a.LoadState()
	if err != nil {
		t.Fatal(err)
	}
	if reloaded.Escalation.Stage != domain.StageOK {
		t.Fatal("renewal not persisted")
	}
	events, err := audit.Read(a.AuditPath())
	if err != nil {
		t.Fatal(err)
	}
	var types []string
	for _, ev := range events {
		types = append(types, ev.Type)
	}
	if len(types) != 2 || types[0] != audit.TypeRenewal || types[1] != audit.TypeStateTransition {
		t.Fatalf("ledger types %v", types)
	}
}

func TestRenewDefaultExtension(t *testing.T) {
	a := initWorkspace(t)
	got, err := a.Renew(0)
	if err != nil {
		t.Fatal(err)
	}
	want := appNow.Add(10080 * time.Minute).Format(time.RFC3339)
	if got.Timer.Deadline != want {
		t.Fatalf("deadline %q, want config default %q", got.Timer.Deadline, want)
	}
}

func TestRenewAtOKEmitsNoTransition(t *testing.T) {
	a := initWorkspace(t)
	got, err := a.Renew(60)
	if err != nil {
		t.Fatal(err)
	}
	if got.Escalation.Stage != domain.StageOK {
		t.Fatalf("stage %q", got.Escalation.Stage)
	}
	events, err := audit.Read(a.AuditPath())
	if err != nil {
		t.Fatal(err)
	}
	for _, ev := range events {
		if ev.Type == audit.TypeStateTransition {
			t.Fatal("renewal at OK must not record a transition")
		}
	}
}

func TestArmRelease(t *testing.T) {
	a := initWorkspace(t)
	got, err := a.ArmRelease("", 30)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Release.Triggered || got.Release.TargetStage != domain.StageFull {
		t.Fatalf("release %+v", got.Release)
	}
	if got.Release.ClientToken == "" {
		t.Fatal("client token not assigned")
	}
	wantAfter := appNow.Add(30 * time.Minute).Format(time.RFC3339)
	if got.Release.ExecuteAfter != wantAfter {
		t.Fatalf("execute_after %q, want %q", got.Release.ExecuteAfter, wantAfter)
	}

	events, err := audit.Read(a.AuditPath())
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].Type != audit.TypeReleaseArmed {
		t.Fatalf("ledger %+v", events)
	}
}

func TestArmReleaseRejectsUnknownStage(t *testing.T) {
	a := initWorkspace(t)
	if _, err := a.ArmRelease("NUCLEAR", 0); err == nil {
		t.Fatal("expected rejection of unknown stage")
	}
}

func TestArmReleaseImmediate(t *testing.T) {
	a := initWorkspace(t)
	got, err := a.ArmRelease(domain.StagePartial, 0)
	if err != nil {
		t.Fatal(err)
	}
	if got.Release.TargetStage != domain.StagePartial {
		t.Fatalf("target %q", got.Release.TargetStage)
	}
	if got.Release.ExecuteAfter != "" {
		t.Fatalf("execute_after %q, want empty for immediate release", got.Release.ExecuteAfter)
	}
}

func TestOpenDetachedNeedsNoWorkspaceFile(t *testing.T) {
	dir := t.TempDir()
	if _, err := Open(dir); err == nil {
		t.Fatal("Open must require vigil.yml")
	}

	a := OpenDetached(dir)
	a.Now = func() time.Time { return appNow }

	// Explicit path overrides work as with a configured workspace.
	a.Config.Paths.State = filepath.Join(dir, "s.json")
	a.Config.Paths.Policies = filepath.Join(dir, "pol")
	a.Config.Paths.Audit = filepath.Join(dir, "a.ndjson")
	for name, content := range map[string]string{
		policy.RulesFile:  policy.DefaultRules,
		policy.PlanFile:   policy.DefaultPlan,
		policy.StatesFile: policy.DefaultStates,
	} {
		if err := os.MkdirAll(a.PolicyDir(), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(a.PolicyDir(), name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := a.SaveState(state.New("acme", appNow.Add(10*time.Hour), 0)); err != nil {
		t.Fatal(err)
	}

	e, err := a.Engine(true)
	if err != nil {
		t.Fatal(err)
	}
	st, err := a.LoadState()
	if err != nil {
		t.Fatal(err)
	}
	res, err := e.Tick(context.Background(), st)
	if err != nil {
		t.Fatal(err)
	}
	if res.StageAfter != domain.StageOK {
		t.Fatalf("stage %q", res.StageAfter)
	}
}

func TestEngineAssembly(t *testing.T) {
	a := initWorkspace(t)
	e, err := a.Engine(true)
	if err != nil {
		t.Fatal(err)
	}
	if !e.DryRun {
		t.Fatal("dry run not propagated")
	}
	if e.Policy == nil || len(e.Policy.Rules) == 0 {
		t.Fatal("policy not loaded into engine")
	}
	names := a.Adapters().Names()
	if len(names) != 4 {
		t.Fatalf("adapters %v", names)
	}
}
