// Package hooks implements the hook surface spec.md §6 names as an
// external-collaborator contract: mutating operations fire a hook keyed by
// operation name carrying a Pending proposal; a registered handler may
// approve, reject, or modify it. A re-entrancy flag disables hook firing
// while a handler runs, preventing compress -> compile -> policy ->
// compress loops (spec.md §5's "recursion guard"). Grounded on the
// teacher's hook dispatch in internal/hooks_otel.go, generalized from a
// single OTel-specific hook to a named handler registry.
package hooks

import (
	"context"
	"fmt"
	"sync"
)

// Decision is a handler's verdict on a Pending proposal.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
	DecisionModify  Decision = "modify"
	// DecisionPending is returned when no handler is registered and the
	// operation is running in collaborative mode: the caller must resolve
	// the Pending itself (there is no autonomous default).
	DecisionPending Decision = "pending"
)

// Pending is the proposed change an operation hands to its hook before
// committing it. Fields is the mutable proposal payload; a handler
// choosing DecisionModify edits Fields in place before returning.
type Pending struct {
	Operation string
	TractID   string
	Mode      string // "autonomous" or "collaborative"
	Fields    map[string]any
	Reason    string // set by a handler choosing DecisionReject
}

// Handler inspects and optionally mutates a Pending, returning its
// decision.
type Handler func(ctx context.Context, p *Pending) (Decision, error)

// Registry holds named handlers and enforces the single-flight
// re-entrancy guard across all of them.
type Registry struct {
	mu       sync.Mutex
	handlers map[string]Handler
	firing   bool
}

// NewRegistry returns an empty hook registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register installs h as the handler for operation, replacing any
// previous one.
func (r *Registry) Register(operation string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[operation] = h
}

// Fire dispatches p to operation's handler. Re-entrant calls (a hook
// firing from inside another hook's handler) auto-approve without
// invoking any handler, per spec.md §5's recursion guard.
func (r *Registry) Fire(ctx context.Context, p *Pending) (Decision, error) {
	r.mu.Lock()
	if r.firing {
		r.mu.Unlock()
		return DecisionApprove, nil
	}
	handler, ok := r.handlers[p.Operation]
	if !ok {
		r.mu.Unlock()
		if p.Mode == "collaborative" {
			return DecisionPending, nil
		}
		return DecisionApprove, nil
	}
	r.firing = true
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.firing = false
		r.mu.Unlock()
	}()

	decision, err := handler(ctx, p)
	if err != nil {
		return "", fmt.Errorf("hooks: handler for %q: %w", p.Operation, err)
	}
	return decision, nil
}
