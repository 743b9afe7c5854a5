package lifecycle

import (
	"context"
	"fmt"

	"github.com/cadenzahq/cadenza/internal/services/runtime/domain/intent"
	"github.com/cadenzahq/cadenza/internal/services/runtime/journal"
	"github.com/cadenzahq/cadenza/internal/services/runtime/state"
)

// executionContext is the governed surface a handler runs against. All state
// access is scoped to the intent's tenant, and journal appends land in the
// execution's partition. Handlers never see the backing stores.
type executionContext struct {
	manager     *Manager
	in          intent.Intent
	executionID string
	partition   string
}

// scope pins state access to the intent's session when one exists, and to
// the execution itself otherwise.
func (e *executionContext) scope() state.Scope {
	owner := e.in.SessionID
	if owner == "" {
		owner = e.executionID
	}
	return state.Scope{TenantID: e.in.TenantID, OwnerID: owner}
}

func (e *executionContext) GetState(ctx context.Context, key string) (any, bool, error) {
	if e == nil || e.manager == nil || e.manager.state == nil {
		return nil, false, fmt.Errorf("execution context is not configured")
	}
	return e.manager.state.Get(ctx, e.scope(), key)
}

func (e *executionContext) SetState(ctx context.Context, key string, value any) error {
	if e == nil || e.manager == nil || e.manager.state == nil {
		return fmt.Errorf("execution context is not configured")
	}
	return e.manager.state.Set(ctx, e.scope(), key, value, e.manager.statePolicy)
}

func (e *executionContext) AppendJournal(ctx context.Context, entryType string, payload map[string]any) error {
	if e == nil || e.manager == nil {
		return fmt.Errorf("execution context is not configured")
	}
	if entryType == "" {
		entryType = string(journal.EntryHandlerNote)
	}
	return e.manager.appendJournal(ctx, journal.Entry{
		Partition:   e.partition,
		TenantID:    e.in.TenantID,
		ExecutionID: e.executionID,
		Type:        journal.EntryType(entryType),
		Payload:     payload,
	})
}

func (e *executionContext) Intent() intent.Intent {
	return e.in
}

var _ intent.ExecutionContext = (*executionContext)(nil)
