package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/cadenzahq/cadenza/internal/services/runtime/storage"
)

const outboxColumns = `
id, execution_id, tenant_id, seq, event_type, payload_json,
status, attempt_count, next_attempt_at, last_error, created_at, published_at
`

func normalizeOutboxEvent(event storage.OutboxEvent) (storage.OutboxEvent, error) {
	event.ID = strings.TrimSpace(event.ID)
	event.ExecutionID = strings.TrimSpace(event.ExecutionID)
	event.EventType = strings.TrimSpace(event.EventType)
	if event.ID == "" {
		return storage.OutboxEvent{}, fmt.Errorf("outbox event id is required")
	}
	if event.ExecutionID == "" {
		return storage.OutboxEvent{}, fmt.Errorf("outbox execution id is required")
	}
	if event.EventType == "" {
		return storage.OutboxEvent{}, fmt.Errorf("outbox event type is required")
	}
	if event.Status == "" {
		event.Status = storage.OutboxStatusPending
	}
	if event.AttemptCount < 0 {
		return storage.OutboxEvent{}, fmt.Errorf("attempt count must be greater than or equal to zero")
	}
	now := time.Now().UTC()
	if event.CreatedAt.IsZero() {
		event.CreatedAt = now
	}
	if event.NextAttempt.IsZero() {
		event.NextAttempt = event.CreatedAt
	}
	return event, nil
}

// enqueueOutboxEvent stages one event inside the caller's transaction.
// Re-staging an existing event id is a no-op so completion retries cannot
// duplicate events.
func enqueueOutboxEvent(ctx context.Context, target execContexter, event storage.OutboxEvent) error {
	normalized, err := normalizeOutboxEvent(event)
	if err != nil {
		return err
	}

	payloadJSON, err := encodeJSON(normalized.Payload)
	if err != nil {
		return err
	}

	_, err = target.ExecContext(ctx, `
INSERT INTO outbox_events (
	id,
	execution_id,
	tenant_id,
	seq,
	event_type,
	payload_json,
	status,
	attempt_count,
	next_attempt_at,
	last_error,
	created_at,
	published_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO NOTHING
`,
		normalized.ID,
		normalized.ExecutionID,
		normalized.TenantID,
		normalized.Seq,
		normalized.EventType,
		payloadJSON,
		string(normalized.Status),
		normalized.AttemptCount,
		toMillis(normalized.NextAttempt),
		normalized.LastError,
		toMillis(normalized.CreatedAt),
		toNullMillis(normalized.PublishedAt),
	)
	if err != nil {
		return fmt.Errorf("enqueue outbox event: %w", err)
	}
	return nil
}

// EnqueueOutboxEvents stages events as pending outside of a completion
// transaction. The repair pass uses this to restage events a crash dropped.
func (s *Store) EnqueueOutboxEvents(ctx context.Context, events []storage.OutboxEvent) error {
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("outbox store is not configured")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin outbox enqueue: %w", err)
	}
	defer tx.Rollback()

	for _, event := range events {
		if err := enqueueOutboxEvent(ctx, tx, event); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit outbox enqueue: %w", err)
	}
	return nil
}

// ListPendingOutboxEvents returns pending events due at or before now,
// oldest first. An event whose execution has an earlier pending event that
// is still backing off is held back, so publish order within an execution
// matches enqueue order across passes.
func (s *Store) ListPendingOutboxEvents(ctx context.Context, now time.Time, limit int) ([]storage.OutboxEvent, error) {
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("outbox store is not configured")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT `+outboxColumns+`
FROM outbox_events
WHERE status = ? AND next_attempt_at <= ?
AND NOT EXISTS (
	SELECT 1 FROM outbox_events prior
	WHERE prior.execution_id = outbox_events.execution_id
	AND prior.seq < outbox_events.seq
	AND prior.status = ?
	AND prior.next_attempt_at > ?
)
ORDER BY created_at ASC, seq ASC
LIMIT ?
`, string(storage.OutboxStatusPending), toMillis(now), string(storage.OutboxStatusPending), toMillis(now), limit)
	if err != nil {
		return nil, fmt.Errorf("list pending outbox events: %w", err)
	}
	defer rows.Close()

	return scanOutboxEvents(rows)
}

// ListOutboxEventsByExecution returns all events staged for an execution in
// seq order.
func (s *Store) ListOutboxEventsByExecution(ctx context.Context, executionID string) ([]storage.OutboxEvent, error) {
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("outbox store is not configured")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT `+outboxColumns+`
FROM outbox_events
WHERE execution_id = ?
ORDER BY seq ASC
`, executionID)
	if err != nil {
		return nil, fmt.Errorf("list outbox events by execution: %w", err)
	}
	defer rows.Close()

	return scanOutboxEvents(rows)
}

// MarkOutboxEventPublished records a successful publish.
func (s *Store) MarkOutboxEventPublished(ctx context.Context, eventID string, at time.Time) error {
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("outbox store is not configured")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE outbox_events
SET status = ?, published_at = ?
WHERE id = ?
`, string(storage.OutboxStatusPublished), toMillis(at), eventID)
	if err != nil {
		return fmt.Errorf("mark outbox event published: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark outbox event published: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// RecordOutboxEventFailure bumps the attempt count and schedules the next
// attempt. The event stays pending so the publisher picks it up again.
func (s *Store) RecordOutboxEventFailure(ctx context.Context, eventID string, nextAttempt time.Time, lastError string) error {
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("outbox store is not configured")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE outbox_events
SET attempt_count = attempt_count + 1, next_attempt_at = ?, last_error = ?
WHERE id = ? AND status = ?
`, toMillis(nextAttempt), lastError, eventID, string(storage.OutboxStatusPending))
	if err != nil {
		return fmt.Errorf("record outbox event failure: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("record outbox event failure: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func scanOutboxEvents(rows *sql.Rows) ([]storage.OutboxEvent, error) {
	var events []storage.OutboxEvent
	for rows.Next() {
		var event storage.OutboxEvent
		var status string
		var payloadJSON string
		var nextAttemptAt int64
		var createdAt int64
		var publishedAt sql.NullInt64
		if err := rows.Scan(
			&event.ID,
			&event.ExecutionID,
			&event.TenantID,
			&event.Seq,
			&event.EventType,
			&payloadJSON,
			&status,
			&event.AttemptCount,
			&nextAttemptAt,
			&event.LastError,
			&createdAt,
			&publishedAt,
		); err != nil {
			return nil, fmt.Errorf("scan outbox event: %w", err)
		}
		event.Status = storage.OutboxStatus(status)
		payload, err := decodeJSON(payloadJSON)
		if err != nil {
			return nil, fmt.Errorf("decode outbox payload: %w", err)
		}
		event.Payload = payload
		event.NextAttempt = fromMillis(nextAttemptAt)
		event.CreatedAt = fromMillis(createdAt)
		event.PublishedAt = fromNullMillis(publishedAt)
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read outbox events: %w", err)
	}
	return events, nil
}
