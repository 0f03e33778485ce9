// Package engine is the deterministic tick core: one invocation evaluates
// policy rules against state, mutates escalation, dispatches the stage's
// actions exactly-once-per-success and records the audit trail. Given the
// same (state, policy, now), rule matches, mutations and action selection
// are identical across runs; only the tick id differs.
package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"vigil/internal/adapters"
	"vigil/internal/audit"
	"vigil/internal/domain"
	"vigil/internal/policy"
	"vigil/internal/render"
)

// Engine runs ticks. It is single-threaded and synchronous: one tick is one
// sequential pass with no internal parallelism or retry loops. Retries are
// out-of-process — a failed retryable action is re-attempted whenever the
// next tick reaches the same stage.
type Engine struct {
	Policy   *policy.Policy
	Audit    audit.Writer
	Adapters adapters.Registry
	Renderer render.Renderer
	Now      func() time.Time
	DryRun   bool
}

// New assembles an engine with the wall clock.
func New(p *policy.Policy, aud audit.Writer, reg adapters.Registry, rnd render.Renderer) Engine {
	return Engine{
		Policy:   p,
		Audit:    aud,
		Adapters: reg,
		Renderer: rnd,
		Now:      time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

// ActionOutcome is one dispatched (or skipped) action in the tick summary.
type ActionOutcome struct {
	ActionID string `json:"action_id"`
	Adapter  string `json:"adapter"`
	Status   string `json:"status"`
	Code     string `json:"code,omitempty"`
}

// Result summarizes one tick.
type Result struct {
	TickID       string          `json:"tick_id"`
	StageBefore  string          `json:"stage_before"`
	StageAfter   string          `json:"stage_after"`
	MatchedRules []string        `json:"matched_rules"`
	Actions      []ActionOutcome `json:"actions"`
	DryRun       bool            `json:"dry_run,omitempty"`
}

// Tick runs one full pipeline pass: init → time-eval → rule-eval → mutate →
// manual-override → select → dispatch → finalize. Phases operate on a
// snapshot of the state; the caller's record is replaced only once the whole
// pipeline, audit writes included, has succeeded, so a failed tick never
// leaves a half-mutated record behind. Failures in individual action
// dispatches never abort later phases; only audit-ledger write errors are
// fatal.
func (e Engine) Tick(ctx context.Context, st *domain.State) (Result, error) {
	now := e.now()
	tickID := newTickID(now)
	res := Result{TickID: tickID, StageBefore: st.Escalation.Stage, DryRun: e.DryRun}

	work := st.Clone()

	// init: per-tick fields reset. The renewed flag is informational for
	// between-tick readers; rules in this tick see it cleared.
	work.Renewal.RenewedThisTick = false
	work.Actions.LastTickActions = nil

	if err := e.Audit.Append(audit.TypeTickStart, tickID, work.Meta.StateID, map[string]any{
		"stage":   work.Escalation.Stage,
		"dry_run": e.DryRun,
	}); err != nil {
		return res, err
	}

	if err := evaluateTimerPhase(work, now); err != nil {
		return res, err
	}

	matched := evaluateRules(e.Policy, work)
	for _, r := range matched {
		res.MatchedRules = append(res.MatchedRules, r.ID)
		if err := e.Audit.Append(audit.TypeRuleMatched, tickID, work.Meta.StateID, map[string]any{
			"rule_id": r.ID,
			"stop":    r.Stop,
		}); err != nil {
			return res, err
		}
	}

	if tr := applyMutations(work, matched, now); tr != nil {
		if err := e.auditTransition(tickID, work.Meta.StateID, tr); err != nil {
			return res, err
		}
	}
	if tr := applyManualRelease(work, now); tr != nil {
		if err := e.auditTransition(tickID, work.Meta.StateID, tr); err != nil {
			return res, err
		}
	}
	res.StageAfter = work.Escalation.Stage

	for _, action := range e.Policy.ActionsFor(work.Escalation.Stage) {
		receipt, alreadyDelivered := e.dispatchOne(ctx, work, tickID, action)
		if !alreadyDelivered {
			recordReceipt(work, action.ID, receipt, now)
		}
		res.Actions = append(res.Actions, ActionOutcome{
			ActionID: action.ID,
			Adapter:  action.Adapter,
			Status:   receipt.Status,
			Code:     receipt.Code,
		})
		if err := e.Audit.Append(audit.TypeActionReceipt, tickID, work.Meta.StateID, map[string]any{
			"action_id":   action.ID,
			"adapter":     action.Adapter,
			"status":      receipt.Status,
			"code":        receipt.Code,
			"message":     receipt.Message,
			"retryable":   receipt.Retryable,
			"delivery_id": receipt.DeliveryID,
		}); err != nil {
			return res, err
		}
	}

	// finalize
	work.Meta.StateID++
	work.Meta.UpdatedAt = now.Format(time.RFC3339)
	work.Meta.PolicyVersion = e.Policy.Version
	work.Meta.PlanVersion = e.Policy.PlanVersion
	if err := e.Audit.Append(audit.TypeTickEnd, tickID, work.Meta.StateID, map[string]any{
		"stage_before":  res.StageBefore,
		"stage_after":   res.StageAfter,
		"matched_rules": res.MatchedRules,
		"actions":       res.Actions,
		"dry_run":       e.DryRun,
	}); err != nil {
		return res, err
	}

	// commit
	*st = *work
	return res, nil
}

func (e Engine) auditTransition(tickID string, stateID int64, tr *StageTransition) error {
	return e.Audit.Append(audit.TypeStateTransition, tickID, stateID, map[string]any{
		"from":    tr.From,
		"to":      tr.To,
		"rule_id": tr.RuleID,
	})
}

// newTickID builds a tick identity: a compact UTC timestamp plus a random
// suffix. The suffix makes tick ids non-reproducible; everything else in a
// tick is deterministic for a fixed (state, policy, now).
func newTickID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
	return fmt.Sprintf("T-%s-%s", now.UTC().Format("20060102T150405Z"), suffix)
}
