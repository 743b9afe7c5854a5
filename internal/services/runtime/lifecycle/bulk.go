package lifecycle

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	apperrors "github.com/cadenzahq/cadenza/internal/platform/errors"
	"github.com/cadenzahq/cadenza/internal/platform/id"
	"github.com/cadenzahq/cadenza/internal/services/runtime/domain/execution"
	"github.com/cadenzahq/cadenza/internal/services/runtime/domain/intent"
	"github.com/cadenzahq/cadenza/internal/services/runtime/storage"
)

const (
	defaultBulkWorkers   = 8
	defaultBulkBatchSize = 25
)

// BulkRequest submits many intents as one tracked operation.
type BulkRequest struct {
	TenantID string
	Items    []intent.Submission
	// BatchSize bounds how many items each batch holds. Zero applies the
	// default.
	BatchSize int
	// OperationID resumes an existing operation instead of starting a
	// new one.
	OperationID string
	// ResumeFromBatch is the 1-based batch to resume from. Only read
	// when OperationID is set.
	ResumeFromBatch int
}

// BulkResult is the combined outcome of a bulk operation.
type BulkResult struct {
	Operation storage.Operation
	Items     []storage.OperationItem
}

// SubmitBulk processes a bulk request batch by batch. Items within a batch
// run concurrently, bounded by the manager's worker limit, and progress is
// persisted after every batch so a crashed operation can resume without
// redoing finished batches. Individual item failures do not fail the
// operation.
func (m *Manager) SubmitBulk(ctx context.Context, req BulkRequest) (BulkResult, error) {
	if m == nil || m.store == nil {
		return BulkResult{}, fmt.Errorf("lifecycle manager is not configured")
	}
	if len(req.Items) == 0 {
		return BulkResult{}, apperrors.New(apperrors.CodeOperationEmptyItems, "bulk operation requires items")
	}

	batchSize := req.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBulkBatchSize
	}
	totalBatches := (len(req.Items) + batchSize - 1) / batchSize

	op, startBatch, err := m.resolveOperation(ctx, req, batchSize, totalBatches)
	if err != nil {
		return BulkResult{}, err
	}

	for batch := startBatch; batch <= totalBatches; batch++ {
		first := (batch - 1) * batchSize
		last := min(first+batchSize, len(req.Items))

		items, err := m.runBatch(ctx, op, req.Items[first:last], first)
		if err != nil {
			op.Status = storage.OperationStatusFailed
			op.FailureMessage = err.Error()
			logFailure("persist failed operation", m.store.PutOperation(ctx, op))
			return BulkResult{}, err
		}

		if err := m.store.PutOperationItems(ctx, items); err != nil {
			op.Status = storage.OperationStatusFailed
			op.FailureMessage = err.Error()
			logFailure("persist failed operation", m.store.PutOperation(ctx, op))
			return BulkResult{}, fmt.Errorf("record batch %d outcomes: %w", batch, err)
		}
		op.LastCompletedBatch = batch
		if err := m.refreshOperationProgress(ctx, &op); err != nil {
			return BulkResult{}, err
		}
	}

	op.Status = storage.OperationStatusCompleted
	if err := m.store.PutOperation(ctx, op); err != nil {
		return BulkResult{}, fmt.Errorf("record completed operation: %w", err)
	}

	items, err := m.store.ListOperationItems(ctx, op.ID)
	if err != nil {
		return BulkResult{}, fmt.Errorf("list operation items: %w", err)
	}
	return BulkResult{Operation: op, Items: items}, nil
}

// resolveOperation creates a new operation record or validates a resume
// against the stored one.
func (m *Manager) resolveOperation(ctx context.Context, req BulkRequest, batchSize, totalBatches int) (storage.Operation, int, error) {
	if req.OperationID == "" {
		operationID, err := id.NewID()
		if err != nil {
			return storage.Operation{}, 0, fmt.Errorf("generate operation id: %w", err)
		}
		op := storage.Operation{
			ID:         operationID,
			TenantID:   req.TenantID,
			Status:     storage.OperationStatusRunning,
			TotalItems: len(req.Items),
			BatchSize:  batchSize,
			CreatedAt:  time.Now().UTC(),
		}
		if err := m.store.PutOperation(ctx, op); err != nil {
			return storage.Operation{}, 0, fmt.Errorf("record operation: %w", err)
		}
		return op, 1, nil
	}

	op, err := m.store.GetOperation(ctx, req.OperationID)
	if err != nil {
		return storage.Operation{}, 0, apperrors.WithMetadata(apperrors.CodeOperationNotFound, "operation does not exist", map[string]string{
			"operation_id": req.OperationID,
		})
	}
	resumeFrom := req.ResumeFromBatch
	if resumeFrom < 1 || resumeFrom > op.LastCompletedBatch+1 || resumeFrom > totalBatches {
		return storage.Operation{}, 0, apperrors.WithMetadata(apperrors.CodeOperationInvalidResume, "resume batch is out of range", map[string]string{
			"operation_id":         op.ID,
			"resume_from_batch":    fmt.Sprintf("%d", resumeFrom),
			"last_completed_batch": fmt.Sprintf("%d", op.LastCompletedBatch),
		})
	}

	op.Status = storage.OperationStatusRunning
	op.FailureMessage = ""
	op.LastCompletedBatch = resumeFrom - 1
	if err := m.store.PutOperation(ctx, op); err != nil {
		return storage.Operation{}, 0, fmt.Errorf("record resumed operation: %w", err)
	}
	return op, resumeFrom, nil
}

// runBatch submits one batch's items concurrently and returns their
// outcomes indexed against the whole operation.
func (m *Manager) runBatch(ctx context.Context, op storage.Operation, items []intent.Submission, offset int) ([]storage.OperationItem, error) {
	outcomes := make([]storage.OperationItem, len(items))

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(m.bulkWorkers)
	for i, item := range items {
		group.Go(func() error {
			item.TenantID = op.TenantID
			item.OperationID = op.ID

			outcome := storage.OperationItem{
				OperationID: op.ID,
				Index:       offset + i,
			}
			exec, err := m.Submit(groupCtx, item)
			if err != nil {
				outcome.Status = execution.StatusFailed
				outcome.Error = err.Error()
			} else {
				outcome.ExecutionID = exec.ID
				outcome.Status = exec.Status
				if exec.Failure != nil {
					outcome.Error = exec.Failure.Message
				}
			}
			outcomes[i] = outcome
			return groupCtx.Err()
		})
	}
	if err := group.Wait(); err != nil {
		return nil, fmt.Errorf("run batch: %w", err)
	}
	return outcomes, nil
}

// refreshOperationProgress recounts the operation's totals from recorded
// item outcomes and persists the updated record.
func (m *Manager) refreshOperationProgress(ctx context.Context, op *storage.Operation) error {
	items, err := m.store.ListOperationItems(ctx, op.ID)
	if err != nil {
		return fmt.Errorf("list operation items: %w", err)
	}

	op.Processed = len(items)
	op.Succeeded = 0
	op.Failed = 0
	for _, item := range items {
		if item.Status == execution.StatusCompleted {
			op.Succeeded++
		} else {
			op.Failed++
		}
	}
	if err := m.store.PutOperation(ctx, *op); err != nil {
		return fmt.Errorf("record operation progress: %w", err)
	}
	return nil
}

// GetOperation returns a bulk operation's progress and recorded outcomes.
func (m *Manager) GetOperation(ctx context.Context, operationID string) (BulkResult, error) {
	if m == nil || m.store == nil {
		return BulkResult{}, fmt.Errorf("lifecycle manager is not configured")
	}

	op, err := m.store.GetOperation(ctx, operationID)
	if err != nil {
		return BulkResult{}, apperrors.WithMetadata(apperrors.CodeOperationNotFound, "operation does not exist", map[string]string{
			"operation_id": operationID,
		})
	}
	items, err := m.store.ListOperationItems(ctx, operationID)
	if err != nil {
		return BulkResult{}, fmt.Errorf("list operation items: %w", err)
	}
	return BulkResult{Operation: op, Items: items}, nil
}
