package policy

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"vigil/internal/domain"
)

func writeDir(t *testing.T, rules, plan, states string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range map[string]string{
		RulesFile:  rules,
		PlanFile:   plan,
		StatesFile: states,
	} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

const emptyPlan = "version: 1\nstages: {}\n"

func TestLoadDefaults(t *testing.T) {
	p, err := Load(writeDir(t, DefaultRules, DefaultPlan, DefaultStates))
	if err != nil {
		t.Fatal(err)
	}
	if p.Version != 1 || p.PlanVersion != 1 {
		t.Fatalf("versions %d/%d", p.Version, p.PlanVersion)
	}
	if len(p.Rules) != 5 {
		t.Fatalf("rules = %d, want 5", len(p.Rules))
	}
	wantOrder := []string{"FULL_RELEASE", "PARTIAL_RELEASE", "OVERDUE", "REMIND_2", "REMIND_1"}
	for i, want := range wantOrder {
		if p.Rules[i].ID != want {
			t.Fatalf("rule[%d] = %s, want %s", i, p.Rules[i].ID, want)
		}
	}
	if len(p.ActionsFor(domain.StageFull)) != 3 {
		t.Fatalf("FULL actions = %d", len(p.ActionsFor(domain.StageFull)))
	}
	if len(p.ActionsFor("NO_SUCH_STAGE")) != 0 {
		t.Fatal("unknown stage should yield no actions")
	}
}

func TestLoadSubstitutesConstants(t *testing.T) {
	p, err := Load(writeDir(t, DefaultRules, emptyPlan, DefaultStates))
	if err != nil {
		t.Fatal(err)
	}
	var remind1 *Rule
	for i := range p.Rules {
		if p.Rules[i].ID == "REMIND_1" {
			remind1 = &p.Rules[i]
		}
	}
	if remind1 == nil {
		t.Fatal("REMIND_1 not compiled")
	}
	found := false
	for _, c := range remind1.Conditions {
		if c.Kind == CondCompare && c.Path == "timer.minutes_to_deadline" && c.Op == OpLTE {
			found = true
			if c.Value != 360 {
				t.Fatalf("threshold = %v (%T), want 360", c.Value, c.Value)
			}
		}
	}
	if !found {
		t.Fatal("minutes_to_deadline_lte condition not compiled")
	}
}

func TestLoadRejectsUnknownPath(t *testing.T) {
	rules := `version: 1
rules:
  - id: BAD
    when:
      timer.no_such_field_gte: 1
`
	_, err := Load(writeDir(t, rules, emptyPlan, DefaultStates))
	if err == nil || !strings.Contains(err.Error(), "unknown path") {
		t.Fatalf("err = %v, want unknown path rejection", err)
	}
}

func TestLoadRejectsUnknownSetPath(t *testing.T) {
	rules := `version: 1
rules:
  - id: BAD
    when:
      always: true
    then:
      set:
        escalation.bogus: 1
`
	if _, err := Load(writeDir(t, rules, emptyPlan, DefaultStates)); err == nil {
		t.Fatal("expected unknown set path rejection")
	}
}

func TestLoadRejectsUnknownStage(t *testing.T) {
	rules := `version: 1
rules:
  - id: BAD
    when:
      always: true
    then:
      set_state: NUCLEAR
`
	if _, err := Load(writeDir(t, rules, emptyPlan, DefaultStates)); err == nil {
		t.Fatal("expected unknown stage rejection")
	}

	plan := `version: 1
stages:
  NUCLEAR:
    actions:
      - id: x
        adapter: webhook
`
	if _, err := Load(writeDir(t, "version: 1\nrules: []\n", plan, DefaultStates)); err == nil {
		t.Fatal("expected unknown plan stage rejection")
	}
}

func TestLoadRejectsDuplicateRuleID(t *testing.T) {
	rules := `version: 1
rules:
  - id: DUP
    when:
      always: true
  - id: DUP
    when:
      always: true
`
	_, err := Load(writeDir(t, rules, emptyPlan, DefaultStates))
	if err == nil || !strings.Contains(err.Error(), "duplicate") {
		t.Fatalf("err = %v, want duplicate id rejection", err)
	}
}

func TestLoadRejectsDuplicateActionID(t *testing.T) {
	plan := `version: 1
stages:
  REMIND_1:
    actions:
      - id: same
        adapter: email
  REMIND_2:
    actions:
      - id: same
        adapter: sms
`
	if _, err := Load(writeDir(t, "version: 1\nrules: []\n", plan, DefaultStates)); err == nil {
		t.Fatal("expected duplicate action id rejection")
	}
}

func TestLoadSkipsDisabledRules(t *testing.T) {
	rules := `version: 1
rules:
  - id: OFF
    enabled: false
    when:
      always: true
  - id: ON
    when:
      always: true
`
	p, err := Load(writeDir(t, rules, emptyPlan, DefaultStates))
	if err != nil {
		t.Fatal(err)
	}
	if len(p.Rules) != 1 || p.Rules[0].ID != "ON" {
		t.Fatalf("rules = %+v, want only ON", p.Rules)
	}
}

func TestLoadRejectsSchemaViolations(t *testing.T) {
	// when is required per rule.
	rules := `version: 1
rules:
  - id: NO_WHEN
`
	if _, err := Load(writeDir(t, rules, emptyPlan, DefaultStates)); err == nil {
		t.Fatal("expected schema rejection for rule without when")
	}

	// unknown top-level keys are rejected.
	if _, err := Load(writeDir(t, "version: 1\nrules: []\nsurprise: 1\n", emptyPlan, DefaultStates)); err == nil {
		t.Fatal("expected schema rejection for unknown key")
	}
}

func TestSplitOpSuffix(t *testing.T) {
	cases := []struct {
		key  string
		path string
		op   Op
	}{
		{"timer.minutes_overdue_gte", "timer.minutes_overdue", OpGTE},
		{"timer.minutes_overdue_gt", "timer.minutes_overdue", OpGT},
		{"timer.minutes_to_deadline_lte", "timer.minutes_to_deadline", OpLTE},
		{"timer.minutes_to_deadline_lt", "timer.minutes_to_deadline", OpLT},
		{"timer.minutes_overdue", "timer.minutes_overdue", OpEq},
	}
	for _, tc := range cases {
		path, op := splitOpSuffix(tc.key)
		if path != tc.path || op != tc.op {
			t.Errorf("splitOpSuffix(%q) = (%q, %s), want (%q, %s)", tc.key, path, op, tc.path, tc.op)
		}
	}
}

func TestSubstituteConstant(t *testing.T) {
	constants := map[string]any{"limit": 42}
	if got := substituteConstant("constants.limit", constants); got != 42 {
		t.Fatalf("got %v", got)
	}
	// Unresolvable references pass through as literals.
	if got := substituteConstant("constants.missing", constants); got != "constants.missing" {
		t.Fatalf("got %v", got)
	}
	if got := substituteConstant(7, constants); got != 7 {
		t.Fatalf("got %v", got)
	}
}

func TestCheckFlagsStageRegression(t *testing.T) {
	rules := `version: 1
rules:
  - id: REGRESS
    when:
      state_is: FULL
    then:
      set_state: OK
`
	p, err := Load(writeDir(t, rules, emptyPlan, DefaultStates))
	if err != nil {
		t.Fatal(err)
	}
	findings := Check(p, nil)
	if len(findings) != 1 || findings[0].Level != "warning" || findings[0].RuleID != "REGRESS" {
		t.Fatalf("findings %+v", findings)
	}

	strict := strings.Replace(DefaultStates, "monotonic_enforced: false", "monotonic_enforced: true", 1)
	p, err = Load(writeDir(t, rules, emptyPlan, strict))
	if err != nil {
		t.Fatal(err)
	}
	findings = Check(p, nil)
	if len(findings) != 1 || findings[0].Level != "error" {
		t.Fatalf("findings %+v, want error under monotonic_enforced", findings)
	}
}

func TestCheckDefaultsClean(t *testing.T) {
	p, err := Load(writeDir(t, DefaultRules, DefaultPlan, DefaultStates))
	if err != nil {
		t.Fatal(err)
	}
	if findings := Check(p, []string{"email", "sms", "webhook", "archive"}); len(findings) != 0 {
		t.Fatalf("shipped policy has findings: %+v", findings)
	}
}

func TestCheckFlagsUnknownAdapter(t *testing.T) {
	p, err := Load(writeDir(t, "version: 1\nrules: []\n", DefaultPlan, DefaultStates))
	if err != nil {
		t.Fatal(err)
	}
	findings := Check(p, []string{"webhook"})
	if len(findings) == 0 {
		t.Fatal("expected findings for unregistered adapters")
	}
	for _, f := range findings {
		if f.Level != "error" {
			t.Fatalf("finding %+v, want error level", f)
		}
	}
}
