package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cadenzahq/cadenza/internal/services/runtime/storage"
)

// AppendStreamEvent appends an event to its partition, assigning the next
// offset. A previously appended event id is returned as stored without a
// second append, which is what makes redelivery safe.
func (s *Store) AppendStreamEvent(ctx context.Context, event storage.StreamEvent) (storage.StreamEvent, error) {
	if s == nil || s.sqlDB == nil {
		return storage.StreamEvent{}, fmt.Errorf("stream store is not configured")
	}
	if err := ctx.Err(); err != nil {
		return storage.StreamEvent{}, err
	}
	if strings.TrimSpace(event.EventID) == "" {
		return storage.StreamEvent{}, fmt.Errorf("stream event id is required")
	}
	if strings.TrimSpace(event.Partition) == "" {
		return storage.StreamEvent{}, fmt.Errorf("stream partition is required")
	}
	if event.AppendedAt.IsZero() {
		event.AppendedAt = time.Now().UTC()
	}

	payloadJSON, err := encodeJSON(event.Payload)
	if err != nil {
		return storage.StreamEvent{}, err
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return storage.StreamEvent{}, fmt.Errorf("begin stream append: %w", err)
	}
	defer tx.Rollback()

	existing, err := getStreamEvent(ctx, tx, event.EventID)
	if err == nil {
		return existing, tx.Commit()
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return storage.StreamEvent{}, err
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO stream_seq (partition_key, seq) VALUES (?, 0)
ON CONFLICT(partition_key) DO NOTHING
`, event.Partition); err != nil {
		return storage.StreamEvent{}, fmt.Errorf("init stream seq: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
UPDATE stream_seq SET seq = seq + 1 WHERE partition_key = ?
`, event.Partition); err != nil {
		return storage.StreamEvent{}, fmt.Errorf("increment stream seq: %w", err)
	}
	var seq int64
	if err := tx.QueryRowContext(ctx, `
SELECT seq FROM stream_seq WHERE partition_key = ?
`, event.Partition).Scan(&seq); err != nil {
		return storage.StreamEvent{}, fmt.Errorf("get stream seq: %w", err)
	}
	event.Offset = uint64(seq)

	if _, err := tx.ExecContext(ctx, `
INSERT INTO stream_events (
	event_id, partition_key, event_offset, execution_id, event_type, payload_json, appended_at
) VALUES (?, ?, ?, ?, ?, ?, ?)
`,
		event.EventID,
		event.Partition,
		seq,
		event.ExecutionID,
		event.EventType,
		payloadJSON,
		toMillis(event.AppendedAt),
	); err != nil {
		return storage.StreamEvent{}, fmt.Errorf("append stream event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return storage.StreamEvent{}, fmt.Errorf("commit stream append: %w", err)
	}
	return event, nil
}

func getStreamEvent(ctx context.Context, target execContexter, eventID string) (storage.StreamEvent, error) {
	var event storage.StreamEvent
	var offset int64
	var payloadJSON string
	var appendedAt int64
	err := target.QueryRowContext(ctx, `
SELECT event_id, partition_key, event_offset, execution_id, event_type, payload_json, appended_at
FROM stream_events
WHERE event_id = ?
`, eventID).Scan(
		&event.EventID,
		&event.Partition,
		&offset,
		&event.ExecutionID,
		&event.EventType,
		&payloadJSON,
		&appendedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.StreamEvent{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.StreamEvent{}, fmt.Errorf("get stream event: %w", err)
	}
	event.Offset = uint64(offset)
	payload, err := decodeJSON(payloadJSON)
	if err != nil {
		return storage.StreamEvent{}, fmt.Errorf("decode stream payload: %w", err)
	}
	event.Payload = payload
	event.AppendedAt = fromMillis(appendedAt)
	return event, nil
}

// ListStreamEvents reads a partition's events in offset order.
func (s *Store) ListStreamEvents(ctx context.Context, partition string) ([]storage.StreamEvent, error) {
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("stream store is not configured")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT event_id, partition_key, event_offset, execution_id, event_type, payload_json, appended_at
FROM stream_events
WHERE partition_key = ?
ORDER BY event_offset ASC
`, partition)
	if err != nil {
		return nil, fmt.Errorf("list stream events: %w", err)
	}
	defer rows.Close()

	var events []storage.StreamEvent
	for rows.Next() {
		var event storage.StreamEvent
		var offset int64
		var payloadJSON string
		var appendedAt int64
		if err := rows.Scan(
			&event.EventID,
			&event.Partition,
			&offset,
			&event.ExecutionID,
			&event.EventType,
			&payloadJSON,
			&appendedAt,
		); err != nil {
			return nil, fmt.Errorf("scan stream event: %w", err)
		}
		event.Offset = uint64(offset)
		payload, err := decodeJSON(payloadJSON)
		if err != nil {
			return nil, fmt.Errorf("decode stream payload: %w", err)
		}
		event.Payload = payload
		event.AppendedAt = fromMillis(appendedAt)
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read stream events: %w", err)
	}
	return events, nil
}
