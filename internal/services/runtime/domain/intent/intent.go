// Package intent defines the validated unit-of-work request accepted by the
// runtime and the registry that routes each intent type to its handler.
package intent

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	apperrors "github.com/cadenzahq/cadenza/internal/platform/errors"
	"github.com/cadenzahq/cadenza/internal/platform/id"
)

// Submission is the raw unit-of-work request as received from a caller.
// It has not been validated and carries no identity yet.
type Submission struct {
	IntentType     string         `json:"intent_type" validate:"required"`
	TenantID       string         `json:"tenant_id" validate:"required"`
	SessionID      string         `json:"session_id"`
	Parameters     map[string]any `json:"parameters"`
	IdempotencyKey string         `json:"idempotency_key"`
	OperationID    string         `json:"operation_id"`
	// Timeout bounds handler execution for this intent. Zero means the
	// runtime default applies.
	Timeout time.Duration `json:"timeout"`
}

// Intent is a validated unit-of-work request. Intents are immutable after
// validation; the lifecycle manager consumes each intent exactly once.
type Intent struct {
	ID             string
	Type           string
	TenantID       string
	SessionID      string
	Parameters     map[string]any
	IdempotencyKey string
	OperationID    string
	Timeout        time.Duration
	CreatedAt      time.Time
}

// DomainEvent is a side-effect event declared by a handler. Events are staged
// through the transactional outbox and published after the execution commits.
type DomainEvent struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Result is what a handler returns for a successful execution.
type Result struct {
	Artifacts map[string]any
	Events    []DomainEvent
}

// ExecutionContext is the governed per-execution surface handed to handlers.
// It exposes scoped state and journal appends without leaking the runtime's
// backing stores.
type ExecutionContext interface {
	// GetState reads a value from the execution's state scope.
	GetState(ctx context.Context, key string) (any, bool, error)
	// SetState writes a value into the execution's state scope.
	SetState(ctx context.Context, key string, value any) error
	// AppendJournal records an auxiliary journal entry for this execution.
	AppendJournal(ctx context.Context, entryType string, payload map[string]any) error
	// Intent returns read-only metadata for the intent being executed.
	Intent() Intent
}

// Handler executes one intent and returns its artifacts and declared events.
type Handler func(ctx context.Context, in Intent, exec ExecutionContext) (Result, error)

// ParamCheck validates type-specific parameters before acceptance.
type ParamCheck func(params map[string]any) error

// ParamSpec constrains the parameters accepted for one intent type.
type ParamSpec struct {
	// Required lists parameter keys that must be present and non-nil.
	Required []string
	// Check runs after required-key validation for custom constraints.
	Check ParamCheck
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Model validates submissions against the registry's known intent types.
type Model struct {
	registry *Registry
}

// NewModel builds a validation model bound to a registry.
func NewModel(registry *Registry) *Model {
	return &Model{registry: registry}
}

// Validate checks a submission and mints an immutable Intent from it.
//
// Validation failures are returned to the caller before any execution record
// exists; this is the only failure path that leaves no trace in the runtime.
func (m *Model) Validate(raw Submission) (Intent, error) {
	if m == nil || m.registry == nil {
		return Intent{}, fmt.Errorf("intent model is not configured")
	}

	raw.IntentType = strings.TrimSpace(raw.IntentType)
	raw.TenantID = strings.TrimSpace(raw.TenantID)

	if err := validate.Struct(raw); err != nil {
		if raw.IntentType == "" {
			return Intent{}, apperrors.New(apperrors.CodeIntentTypeEmpty, "intent type is required")
		}
		if raw.TenantID == "" {
			return Intent{}, apperrors.New(apperrors.CodeIntentTenantEmpty, "tenant id is required")
		}
		return Intent{}, apperrors.Wrap(apperrors.CodeIntentParamsInvalid, "submission is invalid", err)
	}

	spec, known := m.registry.paramSpec(raw.IntentType)
	if !known {
		return Intent{}, apperrors.WithMetadata(apperrors.CodeHandlerNotFound, "no handler registered for intent type", map[string]string{
			"intent_type": raw.IntentType,
		})
	}
	for _, key := range spec.Required {
		value, ok := raw.Parameters[key]
		if !ok || value == nil {
			return Intent{}, apperrors.WithMetadata(apperrors.CodeIntentParamsInvalid, "required parameter missing", map[string]string{
				"intent_type": raw.IntentType,
				"parameter":   key,
			})
		}
	}
	if spec.Check != nil {
		if err := spec.Check(raw.Parameters); err != nil {
			return Intent{}, apperrors.Wrap(apperrors.CodeIntentParamsInvalid, "parameter validation failed", err)
		}
	}

	intentID, err := id.NewID()
	if err != nil {
		return Intent{}, fmt.Errorf("generate intent id: %w", err)
	}

	key := strings.TrimSpace(raw.IdempotencyKey)
	if key == "" {
		key, err = DeriveIdempotencyKey(raw.IntentType, raw.TenantID, raw.Parameters)
		if err != nil {
			return Intent{}, fmt.Errorf("derive idempotency key: %w", err)
		}
	}

	return Intent{
		ID:             intentID,
		Type:           raw.IntentType,
		TenantID:       raw.TenantID,
		SessionID:      strings.TrimSpace(raw.SessionID),
		Parameters:     raw.Parameters,
		IdempotencyKey: key,
		OperationID:    strings.TrimSpace(raw.OperationID),
		Timeout:        raw.Timeout,
		CreatedAt:      time.Now().UTC(),
	}, nil
}

// DeriveIdempotencyKey produces a deterministic key from the intent type,
// tenant, and a canonical encoding of the parameters. Two submissions with
// identical inputs always derive the same key.
func DeriveIdempotencyKey(intentType, tenantID string, params map[string]any) (string, error) {
	canonical, err := canonicalJSON(params)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(intentType + "\x00" + tenantID + "\x00" + canonical))
	return hex.EncodeToString(sum[:]), nil
}

// canonicalJSON encodes a parameter map with sorted keys so the encoding is
// stable across submissions.
func canonicalJSON(params map[string]any) (string, error) {
	if len(params) == 0 {
		return "{}", nil
	}
	keys := make([]string, 0, len(params))
	for key := range params {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteByte('{')
	for i, key := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		encodedKey, err := json.Marshal(key)
		if err != nil {
			return "", fmt.Errorf("encode parameter key: %w", err)
		}
		encodedValue, err := json.Marshal(params[key])
		if err != nil {
			return "", fmt.Errorf("encode parameter %s: %w", key, err)
		}
		b.Write(encodedKey)
		b.WriteByte(':')
		b.Write(encodedValue)
	}
	b.WriteByte('}')
	return b.String(), nil
}
