// Package execution defines the lifecycle record the runtime keeps for every
// accepted intent and the status machine it moves through.
package execution

import (
	"time"

	apperrors "github.com/cadenzahq/cadenza/internal/platform/errors"
	"github.com/cadenzahq/cadenza/internal/services/runtime/domain/intent"
)

// Status is the lifecycle state of an execution.
type Status string

const (
	StatusAccepted  Status = "accepted"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Valid reports whether the status is one of the known lifecycle states.
func (s Status) Valid() bool {
	switch s {
	case StatusAccepted, StatusRunning, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition reports whether the status machine permits moving from s to
// next. Accepted moves to running or failed; running moves to completed or
// failed; terminal states never move.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusAccepted:
		return next == StatusRunning || next == StatusFailed
	case StatusRunning:
		return next == StatusCompleted || next == StatusFailed
	}
	return false
}

// Failure captures why an execution failed.
type Failure struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Execution is the durable record of one intent's run through the runtime.
type Execution struct {
	ID             string
	IntentID       string
	IntentType     string
	TenantID       string
	SessionID      string
	OperationID    string
	IdempotencyKey string
	Status         Status
	Failure        *Failure
	Artifacts      map[string]any
	Events         []intent.DomainEvent
	AcceptedAt     time.Time
	StartedAt      time.Time
	FinishedAt     time.Time
}

// Transition moves the execution to the next status, stamping the relevant
// timestamp. It rejects moves the status machine does not permit.
func (e *Execution) Transition(next Status, at time.Time) error {
	if e == nil {
		return apperrors.New(apperrors.CodeExecutionNotFound, "execution is nil")
	}
	if e.Status.Terminal() {
		return apperrors.WithMetadata(apperrors.CodeExecutionAlreadyCompleted, "execution already finished", map[string]string{
			"execution_id": e.ID,
			"status":       string(e.Status),
		})
	}
	if !e.Status.CanTransition(next) {
		return apperrors.WithMetadata(apperrors.CodeExecutionInvalidTransition, "invalid status transition", map[string]string{
			"execution_id": e.ID,
			"from":         string(e.Status),
			"to":           string(next),
		})
	}

	e.Status = next
	switch next {
	case StatusRunning:
		e.StartedAt = at
	case StatusCompleted, StatusFailed:
		e.FinishedAt = at
	}
	return nil
}

// New builds an accepted execution for a validated intent.
func New(executionID string, in intent.Intent, at time.Time) Execution {
	return Execution{
		ID:             executionID,
		IntentID:       in.ID,
		IntentType:     in.Type,
		TenantID:       in.TenantID,
		SessionID:      in.SessionID,
		OperationID:    in.OperationID,
		IdempotencyKey: in.IdempotencyKey,
		Status:         StatusAccepted,
		AcceptedAt:     at,
	}
}
