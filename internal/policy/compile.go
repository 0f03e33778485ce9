package policy

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"vigil/internal/state"
)

// Op is a comparison operator, parsed once from its string-suffix encoding.
type Op int

const (
	OpEq Op = iota
	OpLT
	OpLTE
	OpGT
	OpGTE
)

func (o Op) String() string {
	switch o {
	case OpLT:
		return "lt"
	case OpLTE:
		return "lte"
	case OpGT:
		return "gt"
	case OpGTE:
		return "gte"
	default:
		return "eq"
	}
}

// CondKind tags the condition variant.
type CondKind int

const (
	CondAlways CondKind = iota
	CondStageIs
	CondStageIn
	CondCompare
)

// Condition is one compiled member of a rule's `when` conjunction.
type Condition struct {
	Kind   CondKind
	Bool   bool     // CondAlways
	Stage  string   // CondStageIs
	Stages []string // CondStageIn
	Path   string   // CondCompare, normalized
	Op     Op       // CondCompare
	Value  any      // CondCompare, constants already substituted
}

// Assignment is one compiled `then.set` entry.
type Assignment struct {
	Path  string
	Value any
}

// Rule is the compiled form evaluated by the engine. Disabled rules are
// dropped at compile time; they never reach evaluation.
type Rule struct {
	ID         string
	Conditions []Condition
	SetState   string
	Set        []Assignment
	Clear      []string
	Stop       bool
}

const constantsPrefix = "constants."

var opSuffixes = []struct {
	suffix string
	op     Op
}{
	{"_lte", OpLTE},
	{"_lt", OpLT},
	{"_gte", OpGTE},
	{"_gt", OpGT},
}

func compileRule(rd ruleDoc, constants map[string]any, states States) (Rule, error) {
	if rd.ID == "" {
		return Rule{}, fmt.Errorf("missing id")
	}
	r := Rule{ID: rd.ID, Stop: rd.Stop}
	if rd.Enabled != nil && !*rd.Enabled {
		// Compiled away entirely; evaluation order is preserved by the
		// remaining rules.
		return Rule{ID: rd.ID}, errDisabled
	}
	// Map iteration order is not stable; sort keys so compiled output is
	// deterministic. Conditions are a conjunction, so order has no
	// semantic weight.
	keys := make([]string, 0, len(rd.When))
	for k := range rd.When {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		cond, err := compileCondition(key, rd.When[key], constants, states)
		if err != nil {
			return Rule{}, err
		}
		r.Conditions = append(r.Conditions, cond)
	}
	if rd.Then.SetState != "" {
		if !states.KnownStage(rd.Then.SetState) {
			return Rule{}, fmt.Errorf("set_state references unknown stage %q", rd.Then.SetState)
		}
		r.SetState = rd.Then.SetState
	}
	setPaths := make([]string, 0, len(rd.Then.Set))
	for p := range rd.Then.Set {
		setPaths = append(setPaths, p)
	}
	sort.Strings(setPaths)
	for _, p := range setPaths {
		norm := state.Normalize(p)
		if _, ok := state.Lookup(norm); !ok {
			return Rule{}, fmt.Errorf("set references unknown path %q", p)
		}
		r.Set = append(r.Set, Assignment{Path: norm, Value: substituteConstant(rd.Then.Set[p], constants)})
	}
	for _, p := range rd.Then.Clear {
		norm := state.Normalize(p)
		if _, ok := state.Lookup(norm); !ok {
			return Rule{}, fmt.Errorf("clear references unknown path %q", p)
		}
		r.Clear = append(r.Clear, norm)
	}
	return r, nil
}

func compileCondition(key string, raw any, constants map[string]any, states States) (Condition, error) {
	switch key {
	case "always":
		b, ok := raw.(bool)
		if !ok {
			return Condition{}, fmt.Errorf("always: expected bool, got %T", raw)
		}
		return Condition{Kind: CondAlways, Bool: b}, nil
	case "state_is":
		s, ok := raw.(string)
		if !ok {
			return Condition{}, fmt.Errorf("state_is: expected string, got %T", raw)
		}
		if !states.KnownStage(s) {
			return Condition{}, fmt.Errorf("state_is references unknown stage %q", s)
		}
		return Condition{Kind: CondStageIs, Stage: s}, nil
	case "state_in":
		list, ok := raw.([]any)
		if !ok {
			return Condition{}, fmt.Errorf("state_in: expected list, got %T", raw)
		}
		stages := make([]string, 0, len(list))
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				return Condition{}, fmt.Errorf("state_in: expected string entries, got %T", item)
			}
			if !states.KnownStage(s) {
				return Condition{}, fmt.Errorf("state_in references unknown stage %q", s)
			}
			stages = append(stages, s)
		}
		return Condition{Kind: CondStageIn, Stages: stages}, nil
	}

	path, op := splitOpSuffix(key)
	norm := state.Normalize(path)
	if _, ok := state.Lookup(norm); !ok {
		return Condition{}, fmt.Errorf("condition references unknown path %q (known: %s)", path, strings.Join(state.KnownPaths(), ", "))
	}
	return Condition{Kind: CondCompare, Path: norm, Op: op, Value: substituteConstant(raw, constants)}, nil
}

func splitOpSuffix(key string) (string, Op) {
	for _, s := range opSuffixes {
		if strings.HasSuffix(key, s.suffix) {
			return strings.TrimSuffix(key, s.suffix), s.op
		}
	}
	return key, OpEq
}

// substituteConstant resolves a "constants.<name>" reference at compile
// time. An unresolvable reference passes through as the literal string,
// which never equals anything under numeric comparison.
func substituteConstant(raw any, constants map[string]any) any {
	s, ok := raw.(string)
	if !ok || !strings.HasPrefix(s, constantsPrefix) {
		return raw
	}
	if v, ok := constants[strings.TrimPrefix(s, constantsPrefix)]; ok {
		return v
	}
	return raw
}

// errDisabled is an internal compile signal; loadRules drops the rule.
var errDisabled = errors.New("rule disabled")
