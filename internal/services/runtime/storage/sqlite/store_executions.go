package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/cadenzahq/cadenza/internal/services/runtime/domain/execution"
	"github.com/cadenzahq/cadenza/internal/services/runtime/domain/intent"
	"github.com/cadenzahq/cadenza/internal/services/runtime/storage"
)

const executionColumns = `
id, intent_id, intent_type, tenant_id, session_id, operation_id, idempotency_key,
status, failure_code, failure_message, artifacts_json, events_json,
accepted_at, started_at, finished_at
`

// PutExecution inserts or replaces an execution record.
func (s *Store) PutExecution(ctx context.Context, exec execution.Execution) error {
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("execution store is not configured")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return putExecution(ctx, s.sqlDB, exec)
}

func putExecution(ctx context.Context, target execContexter, exec execution.Execution) error {
	if strings.TrimSpace(exec.ID) == "" {
		return fmt.Errorf("execution id is required")
	}
	if !exec.Status.Valid() {
		return fmt.Errorf("execution status %q is invalid", exec.Status)
	}

	artifactsJSON, err := encodeJSON(exec.Artifacts)
	if err != nil {
		return fmt.Errorf("encode artifacts: %w", err)
	}
	eventsJSON, err := encodeEvents(exec.Events)
	if err != nil {
		return err
	}

	failureCode := ""
	failureMessage := ""
	if exec.Failure != nil {
		failureCode = exec.Failure.Code
		failureMessage = exec.Failure.Message
	}

	_, err = target.ExecContext(ctx, `
INSERT INTO executions (
	id, intent_id, intent_type, tenant_id, session_id, operation_id, idempotency_key,
	status, failure_code, failure_message, artifacts_json, events_json,
	accepted_at, started_at, finished_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	status = excluded.status,
	failure_code = excluded.failure_code,
	failure_message = excluded.failure_message,
	artifacts_json = excluded.artifacts_json,
	events_json = excluded.events_json,
	started_at = excluded.started_at,
	finished_at = excluded.finished_at
`,
		exec.ID,
		exec.IntentID,
		exec.IntentType,
		exec.TenantID,
		exec.SessionID,
		exec.OperationID,
		exec.IdempotencyKey,
		string(exec.Status),
		failureCode,
		failureMessage,
		artifactsJSON,
		eventsJSON,
		toMillis(exec.AcceptedAt),
		toNullMillis(exec.StartedAt),
		toNullMillis(exec.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("put execution: %w", err)
	}
	return nil
}

// GetExecution returns an execution by id.
func (s *Store) GetExecution(ctx context.Context, executionID string) (execution.Execution, error) {
	if s == nil || s.sqlDB == nil {
		return execution.Execution{}, fmt.Errorf("execution store is not configured")
	}
	if err := ctx.Err(); err != nil {
		return execution.Execution{}, err
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT `+executionColumns+`
FROM executions
WHERE id = ?
`, executionID)
	return scanExecution(row)
}

// GetCompletedExecution returns the completed execution for a tenant and
// idempotency key. At most one such row exists per key.
func (s *Store) GetCompletedExecution(ctx context.Context, tenantID, idempotencyKey string) (execution.Execution, error) {
	if s == nil || s.sqlDB == nil {
		return execution.Execution{}, fmt.Errorf("execution store is not configured")
	}
	if err := ctx.Err(); err != nil {
		return execution.Execution{}, err
	}
	if strings.TrimSpace(idempotencyKey) == "" {
		return execution.Execution{}, storage.ErrNotFound
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT `+executionColumns+`
FROM executions
WHERE tenant_id = ? AND idempotency_key = ? AND status = ?
`, tenantID, idempotencyKey, string(execution.StatusCompleted))
	return scanExecution(row)
}

// CompleteExecutionWithOutbox persists the completed execution and enqueues
// its declared events in one transaction. Either both land or neither does.
func (s *Store) CompleteExecutionWithOutbox(ctx context.Context, exec execution.Execution, events []storage.OutboxEvent) error {
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("execution store is not configured")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if exec.Status != execution.StatusCompleted {
		return fmt.Errorf("execution status must be completed, got %q", exec.Status)
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin execution completion: %w", err)
	}
	defer tx.Rollback()

	// The partial unique index on (tenant_id, idempotency_key) fires when a
	// concurrent execution with the same key committed first.
	if err := putExecution(ctx, tx, exec); err != nil {
		if isConstraintError(err) {
			return storage.ErrDuplicateIdempotencyKey
		}
		return err
	}
	for _, event := range events {
		if err := enqueueOutboxEvent(ctx, tx, event); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		if isConstraintError(err) {
			return storage.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("commit execution completion: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExecution(row rowScanner) (execution.Execution, error) {
	var exec execution.Execution
	var status string
	var failureCode string
	var failureMessage string
	var artifactsJSON string
	var eventsJSON string
	var acceptedAt int64
	var startedAt sql.NullInt64
	var finishedAt sql.NullInt64

	err := row.Scan(
		&exec.ID,
		&exec.IntentID,
		&exec.IntentType,
		&exec.TenantID,
		&exec.SessionID,
		&exec.OperationID,
		&exec.IdempotencyKey,
		&status,
		&failureCode,
		&failureMessage,
		&artifactsJSON,
		&eventsJSON,
		&acceptedAt,
		&startedAt,
		&finishedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return execution.Execution{}, storage.ErrNotFound
	}
	if err != nil {
		return execution.Execution{}, fmt.Errorf("scan execution: %w", err)
	}

	exec.Status = execution.Status(status)
	if failureCode != "" || failureMessage != "" {
		exec.Failure = &execution.Failure{Code: failureCode, Message: failureMessage}
	}
	artifacts, err := decodeJSON(artifactsJSON)
	if err != nil {
		return execution.Execution{}, fmt.Errorf("decode artifacts: %w", err)
	}
	exec.Artifacts = artifacts
	events, err := decodeEvents(eventsJSON)
	if err != nil {
		return execution.Execution{}, err
	}
	exec.Events = events
	exec.AcceptedAt = fromMillis(acceptedAt)
	exec.StartedAt = fromNullMillis(startedAt)
	exec.FinishedAt = fromNullMillis(finishedAt)
	return exec, nil
}

func encodeEvents(events []intent.DomainEvent) (string, error) {
	if len(events) == 0 {
		return "[]", nil
	}
	encoded, err := json.Marshal(events)
	if err != nil {
		return "", fmt.Errorf("encode events: %w", err)
	}
	return string(encoded), nil
}

func decodeEvents(encoded string) ([]intent.DomainEvent, error) {
	if strings.TrimSpace(encoded) == "" || encoded == "[]" {
		return nil, nil
	}
	var events []intent.DomainEvent
	if err := json.Unmarshal([]byte(encoded), &events); err != nil {
		return nil, fmt.Errorf("decode events: %w", err)
	}
	return events, nil
}
