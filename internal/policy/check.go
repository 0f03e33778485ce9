package policy

import "fmt"

// Finding is one lint result from Check.
type Finding struct {
	RuleID  string `json:"rule_id,omitempty"`
	Level   string `json:"level" enum:"warning,error"`
	Message string `json:"message"`
}

// Check lints a loaded policy beyond what Load already enforces:
//
//   - rules whose set_state could regress the declared stage ordering;
//     warnings normally, errors when states.yaml sets monotonic_enforced
//   - plan actions referencing adapters outside the known set
//
// The tick engine never runs these checks; monotonicity stays a convention
// that operators audit, not an engine guarantee.
func Check(p *Policy, knownAdapters []string) []Finding {
	var findings []Finding

	level := "warning"
	if p.States.MonotonicEnforced {
		level = "error"
	}
	for _, r := range p.Rules {
		if r.SetState == "" {
			continue
		}
		target := p.States.Rank(r.SetState)
		for _, src := range possibleSourceStages(r, p.States) {
			if p.States.Rank(src) > target {
				findings = append(findings, Finding{
					RuleID: r.ID,
					Level:  level,
					Message: fmt.Sprintf("sets stage %s but can match while at later stage %s",
						r.SetState, src),
				})
				break
			}
		}
	}

	known := map[string]bool{}
	for _, a := range knownAdapters {
		known[a] = true
	}
	if len(known) > 0 {
		for stage, actions := range p.Plan {
			for _, a := range actions {
				if !known[a.Adapter] {
					findings = append(findings, Finding{
						Level:   "error",
						Message: fmt.Sprintf("stage %s action %s references unknown adapter %q", stage, a.ID, a.Adapter),
					})
				}
			}
		}
	}
	return findings
}

// possibleSourceStages returns the stages a rule can match from: the ones
// its stage conditions pin, or every declared stage when unconstrained.
func possibleSourceStages(r Rule, states States) []string {
	for _, c := range r.Conditions {
		switch c.Kind {
		case CondStageIs:
			return []string{c.Stage}
		case CondStageIn:
			return c.Stages
		}
	}
	return states.Stages
}
