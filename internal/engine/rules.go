package engine

import (
	"vigil/internal/domain"
	"vigil/internal/policy"
	"vigil/internal/state"
)

// evaluateRules walks the compiled rule list strictly in declared order and
// returns the matched rules. A matched rule with stop set ends evaluation;
// later rules are not even checked.
func evaluateRules(p *policy.Policy, st *domain.State) []policy.Rule {
	var matched []policy.Rule
	for _, r := range p.Rules {
		if !ruleMatches(r, st) {
			continue
		}
		matched = append(matched, r)
		if r.Stop {
			break
		}
	}
	return matched
}

// ruleMatches evaluates the rule's condition conjunction.
func ruleMatches(r policy.Rule, st *domain.State) bool {
	for _, c := range r.Conditions {
		if !conditionMatches(c, st) {
			return false
		}
	}
	return true
}

func conditionMatches(c policy.Condition, st *domain.State) bool {
	switch c.Kind {
	case policy.CondAlways:
		return c.Bool
	case policy.CondStageIs:
		return st.Escalation.Stage == c.Stage
	case policy.CondStageIn:
		for _, s := range c.Stages {
			if st.Escalation.Stage == s {
				return true
			}
		}
		return false
	case policy.CondCompare:
		acc, ok := state.Lookup(c.Path)
		if !ok {
			// Unknown paths are rejected at policy load; an unresolvable
			// path at tick time is simply a non-match, never an error.
			return false
		}
		return compare(acc.Get(st), c.Op, c.Value)
	}
	return false
}

// compare applies the operator. Ordering operators require both sides to be
// numeric; equality falls back to native comparison for strings and bools.
func compare(left any, op policy.Op, right any) bool {
	lf, lok := toFloat(left)
	rf, rok := toFloat(right)
	if op == policy.OpEq {
		if lok && rok {
			return lf == rf
		}
		return left == right
	}
	if !lok || !rok {
		return false
	}
	switch op {
	case policy.OpLT:
		return lf < rf
	case policy.OpLTE:
		return lf <= rf
	case policy.OpGT:
		return lf > rf
	case policy.OpGTE:
		return lf >= rf
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
