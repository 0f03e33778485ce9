// Package adapters defines the notification adapter contract and the thin
// shipped implementations. Adapters translate a rendered message into one
// third-party call and return a uniform receipt; they hold no escalation
// logic.
package adapters

import (
	"context"
	"sort"

	"vigil/internal/domain"
)

// ExecutionContext is passed to every adapter call. Adapters must treat it
// as read-only; the returned receipt is their only output.
type ExecutionContext struct {
	State    *domain.State
	Action   domain.ActionDefinition
	TickID   string
	Rendered string
}

// Adapter is the dispatch target contract. Execute reports failures through
// the receipt or the error return; the dispatcher converts panics and errors
// into failed receipts, so one broken adapter never aborts a tick.
type Adapter interface {
	Name() string
	Enabled(ec ExecutionContext) bool
	Validate(ec ExecutionContext) error
	Execute(ctx context.Context, ec ExecutionContext) (domain.Receipt, error)
}

// Registry maps adapter names to implementations.
type Registry map[string]Adapter

// Register adds an adapter under its own name.
func (r Registry) Register(a Adapter) {
	r[a.Name()] = a
}

// Names returns the registered adapter names, sorted.
func (r Registry) Names() []string {
	out := make([]string, 0, len(r))
	for name := range r {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
