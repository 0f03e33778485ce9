// Package policy loads the three policy documents (rules, plan, states),
// validates them against embedded JSON Schemas and compiles the rule list
// into tagged condition variants. All string parsing of operators and
// dotted paths happens here, once per load; the tick engine evaluates
// pre-compiled forms only.
package policy

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"vigil/internal/domain"
)

// File names expected inside the policy directory.
const (
	RulesFile  = "rules.yaml"
	PlanFile   = "plan.yaml"
	StatesFile = "states.yaml"
)

// Policy is the compiled, immutable per-tick policy input.
type Policy struct {
	Version     int
	PlanVersion int
	Constants   map[string]any
	Rules       []Rule
	Plan        map[string][]domain.ActionDefinition
	States      States
}

// States mirrors states.yaml: declared stage names and ordering. The engine
// does not enforce the ordering; `vigil policy check` lints against it.
type States struct {
	Version           int      `yaml:"version"`
	MonotonicEnforced bool     `yaml:"monotonic_enforced"`
	Stages            []string `yaml:"stages"`
}

// rulesDoc is the raw shape of rules.yaml before compilation.
type rulesDoc struct {
	Version   int            `yaml:"version"`
	Constants map[string]any `yaml:"constants"`
	Rules     []ruleDoc      `yaml:"rules"`
}

type ruleDoc struct {
	ID      string         `yaml:"id"`
	When    map[string]any `yaml:"when"`
	Then    thenDoc        `yaml:"then"`
	Stop    bool           `yaml:"stop"`
	Enabled *bool          `yaml:"enabled"`
}

type thenDoc struct {
	SetState string         `yaml:"set_state"`
	Set      map[string]any `yaml:"set"`
	Clear    []string       `yaml:"clear"`
}

type planDoc struct {
	Version int `yaml:"version"`
	Stages  map[string]struct {
		Actions []domain.ActionDefinition `yaml:"actions"`
	} `yaml:"stages"`
}

// Load reads, schema-validates and compiles the policy directory.
func Load(dir string) (*Policy, error) {
	states, err := loadStates(filepath.Join(dir, StatesFile))
	if err != nil {
		return nil, err
	}
	rules, err := loadRules(filepath.Join(dir, RulesFile), states)
	if err != nil {
		return nil, err
	}
	plan, planVersion, err := loadPlan(filepath.Join(dir, PlanFile), states)
	if err != nil {
		return nil, err
	}
	return &Policy{
		Version:     rules.Version,
		PlanVersion: planVersion,
		Constants:   rules.Constants,
		Rules:       rules.Compiled,
		Plan:        plan,
		States:      states,
	}, nil
}

// ActionsFor returns the ordered action list configured for a stage. A
// stage with no plan entry yields an empty list.
func (p *Policy) ActionsFor(stage string) []domain.ActionDefinition {
	return p.Plan[stage]
}

// KnownStage reports whether a stage name is declared in states.yaml.
func (s States) KnownStage(name string) bool {
	for _, st := range s.Stages {
		if st == name {
			return true
		}
	}
	return false
}

// Rank returns the declared position of a stage, or -1 if undeclared.
func (s States) Rank(name string) int {
	for i, st := range s.Stages {
		if st == name {
			return i
		}
	}
	return -1
}

type compiledRules struct {
	Version   int
	Constants map[string]any
	Compiled  []Rule
}

func loadStates(path string) (States, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return States{}, fmt.Errorf("read states policy: %w", err)
	}
	if err := validateSchema(compiledStatesSchema, data); err != nil {
		return States{}, fmt.Errorf("%s: %w", path, err)
	}
	var doc States
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return States{}, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(doc.Stages) == 0 {
		doc.Stages = append(doc.Stages, domain.StageOrder...)
	}
	return doc, nil
}

func loadRules(path string, states States) (compiledRules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return compiledRules{}, fmt.Errorf("read rules policy: %w", err)
	}
	if err := validateSchema(compiledRulesSchema, data); err != nil {
		return compiledRules{}, fmt.Errorf("%s: %w", path, err)
	}
	var doc rulesDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return compiledRules{}, fmt.Errorf("parse %s: %w", path, err)
	}
	out := compiledRules{Version: doc.Version, Constants: doc.Constants}
	if out.Constants == nil {
		out.Constants = map[string]any{}
	}
	seen := map[string]bool{}
	for _, rd := range doc.Rules {
		if seen[rd.ID] {
			return compiledRules{}, fmt.Errorf("rules policy: duplicate rule id %q", rd.ID)
		}
		seen[rd.ID] = true
		r, err := compileRule(rd, out.Constants, states)
		if err == errDisabled {
			continue
		}
		if err != nil {
			return compiledRules{}, fmt.Errorf("rule %q: %w", rd.ID, err)
		}
		out.Compiled = append(out.Compiled, r)
	}
	return out, nil
}

func loadPlan(path string, states States) (map[string][]domain.ActionDefinition, int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, fmt.Errorf("read plan policy: %w", err)
	}
	if err := validateSchema(compiledPlanSchema, data); err != nil {
		return nil, 0, fmt.Errorf("%s: %w", path, err)
	}
	var doc planDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, 0, fmt.Errorf("parse %s: %w", path, err)
	}
	plan := make(map[string][]domain.ActionDefinition, len(doc.Stages))
	seen := map[string]string{}
	for stage, entry := range doc.Stages {
		if !states.KnownStage(stage) {
			return nil, 0, fmt.Errorf("plan policy: unknown stage %q", stage)
		}
		for _, a := range entry.Actions {
			if a.ID == "" || a.Adapter == "" {
				return nil, 0, fmt.Errorf("plan policy: stage %s has action without id or adapter", stage)
			}
			if prev, dup := seen[a.ID]; dup {
				return nil, 0, fmt.Errorf("plan policy: action id %q appears under both %s and %s", a.ID, prev, stage)
			}
			seen[a.ID] = stage
		}
		plan[stage] = entry.Actions
	}
	return plan, doc.Version, nil
}
