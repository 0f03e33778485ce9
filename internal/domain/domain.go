package domain

// Escalation stages, ordered from least to most severe.
const (
	StageOK         = "OK"
	StageRemind1    = "REMIND_1"
	StageRemind2    = "REMIND_2"
	StagePreRelease = "PRE_RELEASE"
	StagePartial    = "PARTIAL"
	StageFull       = "FULL"
)

// StageOrder is the canonical ordering used by policy linting and tooling.
// The tick engine itself never consults it; monotonic escalation is a rule
// convention, not an engine guarantee.
var StageOrder = []string{StageOK, StageRemind1, StageRemind2, StagePreRelease, StagePartial, StageFull}

// StageRank returns the position of a stage in StageOrder, or -1 for an
// unknown stage name.
func StageRank(stage string) int {
	for i, s := range StageOrder {
		if s == stage {
			return i
		}
	}
	return -1
}

// Receipt statuses.
const (
	ReceiptOK      = "ok"
	ReceiptSkipped = "skipped"
	ReceiptFailed  = "failed"
)

// RuleIDManualRelease is recorded as the causing rule when the manual
// release override forces a stage transition.
const RuleIDManualRelease = "MANUAL_RELEASE"

// RuleIDRenewal is recorded when a renewal command de-escalates the stage.
const RuleIDRenewal = "RENEWAL"

// State is the single mutable root record. It is owned exclusively by the
// tick orchestrator during a tick and read by the admin API between ticks.
type State struct {
	Meta         Meta         `json:"meta"`
	Timer        Timer        `json:"timer"`
	Renewal      Renewal      `json:"renewal"`
	Escalation   Escalation   `json:"escalation"`
	Actions      Actions      `json:"actions"`
	Release      Release      `json:"release"`
	Integrations Integrations `json:"integrations"`
}

type Meta struct {
	Project       string `json:"project"`
	StateID       int64  `json:"state_id"`
	PolicyVersion int    `json:"policy_version"`
	PlanVersion   int    `json:"plan_version"`
	UpdatedAt     string `json:"updated_at" format:"date-time"`
}

// Timer holds the renewable deadline plus three fields recomputed on every
// tick. The computed fields are persisted only as the latest snapshot.
type Timer struct {
	Deadline          string `json:"deadline" format:"date-time"`
	GraceMinutes      int    `json:"grace_minutes"`
	Now               string `json:"now,omitempty" format:"date-time"`
	MinutesToDeadline int64  `json:"minutes_to_deadline"`
	MinutesOverdue    int64  `json:"minutes_overdue"`
}

type Renewal struct {
	LastRenewalAt   string `json:"last_renewal_at,omitempty" format:"date-time"`
	RenewedThisTick bool   `json:"renewed_this_tick"`
	Count           int64  `json:"count"`
}

type Escalation struct {
	Stage              string `json:"stage" enum:"OK,REMIND_1,REMIND_2,PRE_RELEASE,PARTIAL,FULL"`
	StateEnteredAt     string `json:"state_entered_at,omitempty" format:"date-time"`
	LastTransitionRule string `json:"last_transition_rule,omitempty"`
}

// Actions is the idempotency ledger: one condensed receipt per action id,
// plus the ids dispatched during the current tick.
type Actions struct {
	Executed        map[string]ActionReceipt `json:"executed"`
	LastTickActions []string                 `json:"last_tick_actions"`
}

// ActionReceipt is the condensed, persisted form of a dispatch Receipt.
type ActionReceipt struct {
	Status         string `json:"status" enum:"ok,skipped,failed"`
	LastDeliveryID string `json:"last_delivery_id,omitempty"`
	LastExecutedAt string `json:"last_executed_at,omitempty" format:"date-time"`
}

// Release is the manual override block. Triggered stays set once a release
// has executed; only a renewal command clears it.
type Release struct {
	Triggered    bool   `json:"triggered"`
	TargetStage  string `json:"target_stage,omitempty"`
	DelayMinutes int    `json:"delay_minutes,omitempty"`
	ExecuteAfter string `json:"execute_after,omitempty" format:"date-time"`
	ClientToken  string `json:"client_token,omitempty"`
}

// Integrations carries adapter-facing configuration. The engine treats this
// subtree as opaque.
type Integrations struct {
	Routing Routing `json:"routing"`
}

type Routing struct {
	Email    []string `json:"email,omitempty"`
	SMS      []string `json:"sms,omitempty"`
	Webhooks []string `json:"webhooks,omitempty"`
}

// ActionDefinition is one entry of a stage's ordered action list in the plan.
type ActionDefinition struct {
	ID          string         `json:"id" yaml:"id"`
	Adapter     string         `json:"adapter" yaml:"adapter"`
	Channel     string         `json:"channel,omitempty" yaml:"channel"`
	Template    string         `json:"template,omitempty" yaml:"template"`
	Artifact    string         `json:"artifact,omitempty" yaml:"artifact"`
	Constraints map[string]any `json:"constraints,omitempty" yaml:"constraints"`
}

// Receipt is the uniform result of one action dispatch. Failed receipts
// carry an error code, message and a retryable flag.
type Receipt struct {
	Status     string `json:"status" enum:"ok,skipped,failed"`
	DeliveryID string `json:"delivery_id,omitempty"`
	Code       string `json:"code,omitempty"`
	Message    string `json:"message,omitempty"`
	Retryable  bool   `json:"retryable,omitempty"`
}

// OKReceipt builds a successful receipt with the given delivery id.
func OKReceipt(deliveryID string) Receipt {
	return Receipt{Status: ReceiptOK, DeliveryID: deliveryID}
}

// SkippedReceipt builds a skipped receipt with a reason code.
func SkippedReceipt(code, message string) Receipt {
	return Receipt{Status: ReceiptSkipped, Code: code, Message: message}
}

// FailedReceipt builds a failed receipt.
func FailedReceipt(code, message string, retryable bool) Receipt {
	return Receipt{Status: ReceiptFailed, Code: code, Message: message, Retryable: retryable}
}

// Clone returns a deep copy of the state. Tick phases operate on copies so
// a failed tick never leaves a half-mutated record behind.
func (s *State) Clone() *State {
	out := *s
	out.Actions.Executed = make(map[string]ActionReceipt, len(s.Actions.Executed))
	for k, v := range s.Actions.Executed {
		out.Actions.Executed[k] = v
	}
	out.Actions.LastTickActions = append([]string(nil), s.Actions.LastTickActions...)
	out.Integrations.Routing.Email = append([]string(nil), s.Integrations.Routing.Email...)
	out.Integrations.Routing.SMS = append([]string(nil), s.Integrations.Routing.SMS...)
	out.Integrations.Routing.Webhooks = append([]string(nil), s.Integrations.Routing.Webhooks...)
	return &out
}
