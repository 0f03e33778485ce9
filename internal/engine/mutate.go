package engine

import (
	"log"
	"time"

	"vigil/internal/domain"
	"vigil/internal/policy"
	"vigil/internal/state"
)

// StageTransition records one effective stage change within a tick.
type StageTransition struct {
	From   string
	To     string
	RuleID string
}

// applyMutations applies each matched rule's mutations in rule order and
// reports the net stage transition, if any. When several rules set a stage,
// each applies in turn and the last one wins; the reported transition
// carries the id of the last rule whose set_state changed the value.
// Setting the stage to its current value is a no-op and records nothing.
func applyMutations(st *domain.State, matched []policy.Rule, now time.Time) *StageTransition {
	initial := st.Escalation.Stage
	for _, r := range matched {
		if r.SetState != "" && r.SetState != st.Escalation.Stage {
			st.Escalation.Stage = r.SetState
			st.Escalation.StateEnteredAt = now.UTC().Format(time.RFC3339)
			st.Escalation.LastTransitionRule = r.ID
		}
		for _, a := range r.Set {
			acc, ok := state.Lookup(a.Path)
			if !ok {
				log.Printf("rule %s: set path %s does not resolve; skipping", r.ID, a.Path)
				continue
			}
			if err := acc.Set(st, a.Value); err != nil {
				log.Printf("rule %s: set %s: %v", r.ID, a.Path, err)
			}
		}
		for _, p := range r.Clear {
			acc, ok := state.Lookup(p)
			if !ok {
				log.Printf("rule %s: clear path %s does not resolve; skipping", r.ID, p)
				continue
			}
			acc.Clear(st)
		}
	}
	if st.Escalation.Stage == initial {
		return nil
	}
	return &StageTransition{From: initial, To: st.Escalation.Stage, RuleID: st.Escalation.LastTransitionRule}
}

// applyManualRelease executes the manual override: a triggered release whose
// execute_after has passed (or was never set) forces the target stage,
// bypassing the rule ladder. The triggered flag survives execution so
// downstream readers keep seeing that a release was manually fired; only a
// renewal clears it.
func applyManualRelease(st *domain.State, now time.Time) *StageTransition {
	if !st.Release.Triggered {
		return nil
	}
	if st.Release.ExecuteAfter != "" {
		after, err := time.Parse(time.RFC3339, st.Release.ExecuteAfter)
		if err != nil {
			log.Printf("release.execute_after %q unparseable; treating as not yet due", st.Release.ExecuteAfter)
			return nil
		}
		if now.UTC().Before(after.UTC()) {
			return nil
		}
	}
	target := st.Release.TargetStage
	if target == "" || target == st.Escalation.Stage {
		return nil
	}
	from := st.Escalation.Stage
	st.Escalation.Stage = target
	st.Escalation.StateEnteredAt = now.UTC().Format(time.RFC3339)
	st.Escalation.LastTransitionRule = domain.RuleIDManualRelease
	return &StageTransition{From: from, To: target, RuleID: domain.RuleIDManualRelease}
}
