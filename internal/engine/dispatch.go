package engine

import (
	"context"
	"fmt"
	"time"

	"vigil/internal/adapters"
	"vigil/internal/domain"
)

// Dispatch receipt codes produced at the orchestrator boundary (adapters
// have their own).
const (
	codeAlreadyDelivered = "already_delivered"
	codeDryRun           = "dry_run"
	codeDisabled         = "disabled"
	codeInvalid          = "invalid"
	codeUnknownAdapter   = "unknown_adapter"
	codeRenderError      = "render_error"
	codeAdapterException = "adapter_exception"
)

// dispatchOne runs a single action through the idempotency check, template
// rendering and the adapter protocol, and returns its receipt. It never
// returns an error: every failure mode is folded into the receipt so the
// remaining actions of the tick always run.
//
// alreadyDelivered is reported separately because an idempotent skip must
// not overwrite the stored ok receipt or count as a dispatch.
func (e Engine) dispatchOne(ctx context.Context, st *domain.State, tickID string, action domain.ActionDefinition) (receipt domain.Receipt, alreadyDelivered bool) {
	if prior, ok := st.Actions.Executed[action.ID]; ok && prior.Status == domain.ReceiptOK {
		return domain.SkippedReceipt(codeAlreadyDelivered, "action already delivered"), true
	}

	rendered, err := e.Renderer.Render(st, action, tickID)
	if err != nil {
		return domain.FailedReceipt(codeRenderError, err.Error(), true), false
	}
	ec := adapters.ExecutionContext{State: st, Action: action, TickID: tickID, Rendered: rendered}

	adapter, ok := e.Adapters[action.Adapter]
	if !ok {
		return domain.FailedReceipt(codeUnknownAdapter, fmt.Sprintf("no adapter registered as %q", action.Adapter), false), false
	}
	if !adapter.Enabled(ec) {
		return domain.SkippedReceipt(codeDisabled, fmt.Sprintf("adapter %s not enabled", adapter.Name())), false
	}
	if err := adapter.Validate(ec); err != nil {
		return domain.SkippedReceipt(codeInvalid, err.Error()), false
	}
	if e.DryRun {
		return domain.SkippedReceipt(codeDryRun, "dry run: execution suppressed"), false
	}
	return safeExecute(ctx, adapter, ec), false
}

// safeExecute invokes the adapter and converts panics and error returns
// into failed, retryable receipts.
func safeExecute(ctx context.Context, adapter adapters.Adapter, ec adapters.ExecutionContext) (receipt domain.Receipt) {
	defer func() {
		if r := recover(); r != nil {
			receipt = domain.FailedReceipt(codeAdapterException, fmt.Sprintf("adapter %s panicked: %v", adapter.Name(), r), true)
		}
	}()
	receipt, err := adapter.Execute(ctx, ec)
	if err != nil {
		return domain.FailedReceipt(codeAdapterException, err.Error(), true)
	}
	if receipt.Status == "" {
		receipt = domain.FailedReceipt(codeAdapterException, fmt.Sprintf("adapter %s returned empty receipt", adapter.Name()), true)
	}
	return receipt
}

// recordReceipt condenses a receipt into the idempotency ledger and the
// current tick's action list.
func recordReceipt(st *domain.State, actionID string, receipt domain.Receipt, now time.Time) {
	st.Actions.Executed[actionID] = domain.ActionReceipt{
		Status:         receipt.Status,
		LastDeliveryID: receipt.DeliveryID,
		LastExecutedAt: now.UTC().Format(time.RFC3339),
	}
	st.Actions.LastTickActions = append(st.Actions.LastTickActions, actionID)
}
