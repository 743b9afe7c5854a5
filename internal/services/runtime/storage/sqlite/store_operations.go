package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cadenzahq/cadenza/internal/services/runtime/domain/execution"
	"github.com/cadenzahq/cadenza/internal/services/runtime/storage"
)

// PutOperation inserts or replaces a bulk operation record.
func (s *Store) PutOperation(ctx context.Context, op storage.Operation) error {
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("operation store is not configured")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(op.ID) == "" {
		return fmt.Errorf("operation id is required")
	}
	now := time.Now().UTC()
	if op.CreatedAt.IsZero() {
		op.CreatedAt = now
	}
	op.UpdatedAt = now

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO operations (
	id, tenant_id, status, total_items, batch_size,
	processed, succeeded, failed, last_completed_batch, failure_message,
	created_at, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	status = excluded.status,
	processed = excluded.processed,
	succeeded = excluded.succeeded,
	failed = excluded.failed,
	last_completed_batch = excluded.last_completed_batch,
	failure_message = excluded.failure_message,
	updated_at = excluded.updated_at
`,
		op.ID,
		op.TenantID,
		string(op.Status),
		op.TotalItems,
		op.BatchSize,
		op.Processed,
		op.Succeeded,
		op.Failed,
		op.LastCompletedBatch,
		op.FailureMessage,
		toMillis(op.CreatedAt),
		toMillis(op.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("put operation: %w", err)
	}
	return nil
}

// GetOperation returns a bulk operation by id.
func (s *Store) GetOperation(ctx context.Context, operationID string) (storage.Operation, error) {
	if s == nil || s.sqlDB == nil {
		return storage.Operation{}, fmt.Errorf("operation store is not configured")
	}
	if err := ctx.Err(); err != nil {
		return storage.Operation{}, err
	}

	var op storage.Operation
	var status string
	var createdAt int64
	var updatedAt int64
	err := s.sqlDB.QueryRowContext(ctx, `
SELECT id, tenant_id, status, total_items, batch_size,
	processed, succeeded, failed, last_completed_batch, failure_message,
	created_at, updated_at
FROM operations
WHERE id = ?
`, operationID).Scan(
		&op.ID,
		&op.TenantID,
		&status,
		&op.TotalItems,
		&op.BatchSize,
		&op.Processed,
		&op.Succeeded,
		&op.Failed,
		&op.LastCompletedBatch,
		&op.FailureMessage,
		&createdAt,
		&updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.Operation{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.Operation{}, fmt.Errorf("get operation: %w", err)
	}
	op.Status = storage.OperationStatus(status)
	op.CreatedAt = fromMillis(createdAt)
	op.UpdatedAt = fromMillis(updatedAt)
	return op, nil
}

// PutOperationItems records item outcomes for one batch. Replays overwrite
// the previous outcome for the same item index.
func (s *Store) PutOperationItems(ctx context.Context, items []storage.OperationItem) error {
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("operation store is not configured")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin operation items: %w", err)
	}
	defer tx.Rollback()

	for _, item := range items {
		if strings.TrimSpace(item.OperationID) == "" {
			return fmt.Errorf("operation id is required")
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO operation_items (operation_id, item_index, execution_id, status, error)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(operation_id, item_index) DO UPDATE SET
	execution_id = excluded.execution_id,
	status = excluded.status,
	error = excluded.error
`,
			item.OperationID,
			item.Index,
			item.ExecutionID,
			string(item.Status),
			item.Error,
		); err != nil {
			return fmt.Errorf("put operation item: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit operation items: %w", err)
	}
	return nil
}

// ListOperationItems returns all recorded item outcomes in index order.
func (s *Store) ListOperationItems(ctx context.Context, operationID string) ([]storage.OperationItem, error) {
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("operation store is not configured")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT operation_id, item_index, execution_id, status, error
FROM operation_items
WHERE operation_id = ?
ORDER BY item_index ASC
`, operationID)
	if err != nil {
		return nil, fmt.Errorf("list operation items: %w", err)
	}
	defer rows.Close()

	var items []storage.OperationItem
	for rows.Next() {
		var item storage.OperationItem
		var status string
		if err := rows.Scan(&item.OperationID, &item.Index, &item.ExecutionID, &status, &item.Error); err != nil {
			return nil, fmt.Errorf("scan operation item: %w", err)
		}
		item.Status = execution.Status(status)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read operation items: %w", err)
	}
	return items, nil
}
