// Package lifecycle runs intents through the execution state machine:
// accept, record, resolve, dispatch, and commit. The journal is written
// ahead of every visible transition, and declared events commit in the same
// transaction as the execution they belong to.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	apperrors "github.com/cadenzahq/cadenza/internal/platform/errors"
	"github.com/cadenzahq/cadenza/internal/platform/id"
	"github.com/cadenzahq/cadenza/internal/platform/metrics"
	"github.com/cadenzahq/cadenza/internal/platform/timeouts"
	"github.com/cadenzahq/cadenza/internal/services/runtime/domain/execution"
	"github.com/cadenzahq/cadenza/internal/services/runtime/domain/intent"
	"github.com/cadenzahq/cadenza/internal/services/runtime/journal"
	"github.com/cadenzahq/cadenza/internal/services/runtime/state"
	"github.com/cadenzahq/cadenza/internal/services/runtime/storage"
)

// Store is the persistence surface the manager needs.
type Store interface {
	storage.JournalStore
	storage.ExecutionStore
	storage.OperationStore
}

// Manager owns the execution lifecycle.
type Manager struct {
	registry       *intent.Registry
	model          *intent.Model
	store          Store
	state          *state.Surface
	metrics        *metrics.Metrics
	defaultTimeout time.Duration
	statePolicy    state.WritePolicy
	bulkWorkers    int
}

// Option configures a Manager.
type Option func(*Manager)

// WithDefaultTimeout overrides the handler deadline applied when an intent
// carries none.
func WithDefaultTimeout(timeout time.Duration) Option {
	return func(m *Manager) {
		if timeout > 0 {
			m.defaultTimeout = timeout
		}
	}
}

// WithMetrics wires execution counters and timings.
func WithMetrics(metrics *metrics.Metrics) Option {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

// WithStatePolicy selects the write policy for handler state writes.
func WithStatePolicy(policy state.WritePolicy) Option {
	return func(m *Manager) {
		m.statePolicy = policy
	}
}

// WithBulkWorkers bounds per-batch concurrency for bulk operations.
func WithBulkWorkers(workers int) Option {
	return func(m *Manager) {
		if workers > 0 {
			m.bulkWorkers = workers
		}
	}
}

// New builds a lifecycle manager.
func New(registry *intent.Registry, store Store, surface *state.Surface, opts ...Option) (*Manager, error) {
	if registry == nil {
		return nil, fmt.Errorf("intent registry is required")
	}
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	m := &Manager{
		registry:       registry,
		model:          intent.NewModel(registry),
		store:          store,
		state:          surface,
		defaultTimeout: timeouts.HandlerDefault,
		statePolicy:    state.WriteDurable,
		bulkWorkers:    defaultBulkWorkers,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m, nil
}

// Submit validates a submission and runs it to a terminal status. The
// returned execution is completed or failed; submission-level validation is
// the only path that errors without leaving an execution record.
//
// A submission whose idempotency key already completed returns the stored
// execution without touching the journal or the handler.
func (m *Manager) Submit(ctx context.Context, raw intent.Submission) (execution.Execution, error) {
	if m == nil || m.store == nil {
		return execution.Execution{}, fmt.Errorf("lifecycle manager is not configured")
	}

	in, err := m.model.Validate(raw)
	if err != nil {
		return execution.Execution{}, err
	}

	if prior, err := m.store.GetCompletedExecution(ctx, in.TenantID, in.IdempotencyKey); err == nil {
		return prior, nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return execution.Execution{}, err
	}

	executionID, err := id.NewID()
	if err != nil {
		return execution.Execution{}, fmt.Errorf("generate execution id: %w", err)
	}

	now := time.Now().UTC()
	exec := execution.New(executionID, in, now)
	partition := journal.Partition(in.TenantID, now)

	if err := m.appendJournal(ctx, journal.Entry{
		Partition:   partition,
		TenantID:    in.TenantID,
		ExecutionID: exec.ID,
		Type:        journal.EntryIntentAccepted,
		Payload: map[string]any{
			"intent_id":       in.ID,
			"intent_type":     in.Type,
			"idempotency_key": in.IdempotencyKey,
		},
	}); err != nil {
		return execution.Execution{}, fmt.Errorf("journal intent acceptance: %w", err)
	}
	if err := m.store.PutExecution(ctx, exec); err != nil {
		return execution.Execution{}, fmt.Errorf("record accepted execution: %w", err)
	}

	handler, err := m.registry.Resolve(in.Type)
	if err != nil {
		return m.failExecution(ctx, partition, exec, string(apperrors.CodeHandlerNotFound), err.Error())
	}

	if err := exec.Transition(execution.StatusRunning, time.Now().UTC()); err != nil {
		return execution.Execution{}, err
	}
	if err := m.appendJournal(ctx, journal.Entry{
		Partition:   partition,
		TenantID:    in.TenantID,
		ExecutionID: exec.ID,
		Type:        journal.EntryExecutionStarted,
	}); err != nil {
		return execution.Execution{}, fmt.Errorf("journal execution start: %w", err)
	}
	if err := m.store.PutExecution(ctx, exec); err != nil {
		return execution.Execution{}, fmt.Errorf("record running execution: %w", err)
	}

	started := time.Now()
	result, runErr := m.runHandler(ctx, handler, in, exec.ID, partition)
	if m.metrics != nil {
		m.metrics.ExecutionDuration.Observe(time.Since(started).Seconds())
	}

	if runErr != nil {
		code := apperrors.CodeHandlerFailed
		if errors.Is(runErr, context.DeadlineExceeded) {
			code = apperrors.CodeHandlerTimeout
		}
		return m.failExecution(ctx, partition, exec, string(code), runErr.Error())
	}

	return m.completeExecution(ctx, partition, exec, in, result)
}

// runHandler dispatches to the handler under the intent's deadline, turning
// panics into failures. The handler runs in its own goroutine so a handler
// that ignores its context cannot stall the lifecycle past the deadline.
func (m *Manager) runHandler(ctx context.Context, handler intent.Handler, in intent.Intent, executionID, partition string) (intent.Result, error) {
	timeout := in.Timeout
	if timeout <= 0 {
		timeout = m.defaultTimeout
	}
	handlerCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	execCtx := &executionContext{
		manager:     m,
		in:          in,
		executionID: executionID,
		partition:   partition,
	}

	type outcome struct {
		result intent.Result
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("handler panic: %v", r)}
			}
		}()
		result, err := handler(handlerCtx, in, execCtx)
		done <- outcome{result: result, err: err}
	}()

	select {
	case out := <-done:
		return out.result, out.err
	case <-handlerCtx.Done():
		return intent.Result{}, handlerCtx.Err()
	}
}

// failExecution journals the failure and records the terminal state. The
// failure itself is captured on the execution, not returned as an error.
func (m *Manager) failExecution(ctx context.Context, partition string, exec execution.Execution, code, message string) (execution.Execution, error) {
	if err := m.appendJournal(ctx, journal.Entry{
		Partition:   partition,
		TenantID:    exec.TenantID,
		ExecutionID: exec.ID,
		Type:        journal.EntryExecutionFailed,
		Payload: map[string]any{
			"code":    code,
			"message": message,
		},
	}); err != nil {
		return execution.Execution{}, fmt.Errorf("journal execution failure: %w", err)
	}

	if err := exec.Transition(execution.StatusFailed, time.Now().UTC()); err != nil {
		return execution.Execution{}, err
	}
	exec.Failure = &execution.Failure{Code: code, Message: message}
	if err := m.store.PutExecution(ctx, exec); err != nil {
		return execution.Execution{}, fmt.Errorf("record failed execution: %w", err)
	}
	if m.metrics != nil {
		m.metrics.ExecutionsTotal.WithLabelValues(string(execution.StatusFailed)).Inc()
	}
	return exec, nil
}

// completeExecution journals the declared events and the completion, then
// commits the terminal record and the staged outbox events in one
// transaction.
func (m *Manager) completeExecution(ctx context.Context, partition string, exec execution.Execution, in intent.Intent, result intent.Result) (execution.Execution, error) {
	outboxEvents := make([]storage.OutboxEvent, 0, len(result.Events))
	declared := make([]any, 0, len(result.Events))
	for seq, event := range result.Events {
		eventID, err := id.NewID()
		if err != nil {
			return execution.Execution{}, fmt.Errorf("generate outbox event id: %w", err)
		}
		outboxEvents = append(outboxEvents, storage.OutboxEvent{
			ID:          eventID,
			ExecutionID: exec.ID,
			TenantID:    in.TenantID,
			Seq:         seq,
			EventType:   event.Type,
			Payload:     event.Payload,
		})
		declared = append(declared, map[string]any{
			"id":      eventID,
			"seq":     seq,
			"type":    event.Type,
			"payload": event.Payload,
		})
	}

	if len(declared) > 0 {
		if err := m.appendJournal(ctx, journal.Entry{
			Partition:   partition,
			TenantID:    in.TenantID,
			ExecutionID: exec.ID,
			Type:        journal.EntryEventsDeclared,
			Payload:     map[string]any{"events": declared},
		}); err != nil {
			return execution.Execution{}, fmt.Errorf("journal declared events: %w", err)
		}
	}
	if err := m.appendJournal(ctx, journal.Entry{
		Partition:   partition,
		TenantID:    in.TenantID,
		ExecutionID: exec.ID,
		Type:        journal.EntryExecutionCompleted,
		Payload:     map[string]any{"artifacts": result.Artifacts},
	}); err != nil {
		return execution.Execution{}, fmt.Errorf("journal execution completion: %w", err)
	}

	if err := exec.Transition(execution.StatusCompleted, time.Now().UTC()); err != nil {
		return execution.Execution{}, err
	}
	exec.Artifacts = result.Artifacts
	exec.Events = result.Events
	if err := m.store.CompleteExecutionWithOutbox(ctx, exec, outboxEvents); err != nil {
		if errors.Is(err, storage.ErrDuplicateIdempotencyKey) {
			return m.resolveCompletionRace(ctx, partition, exec, in)
		}
		return execution.Execution{}, fmt.Errorf("commit execution completion: %w", err)
	}
	if m.metrics != nil {
		m.metrics.ExecutionsTotal.WithLabelValues(string(execution.StatusCompleted)).Inc()
	}
	return exec, nil
}

// resolveCompletionRace settles two in-flight executions that share an
// idempotency key. The commit that landed first wins; the loser's record is
// closed out as failed so nothing stays running, and the caller receives the
// winning execution. None of the loser's events were staged.
func (m *Manager) resolveCompletionRace(ctx context.Context, partition string, exec execution.Execution, in intent.Intent) (execution.Execution, error) {
	prior, err := m.store.GetCompletedExecution(ctx, in.TenantID, in.IdempotencyKey)
	if err != nil {
		return execution.Execution{}, fmt.Errorf("load winning execution: %w", err)
	}

	// The status machine forbids completed to failed, but this record never
	// committed as completed; the journal below records what happened.
	exec.Status = execution.StatusFailed
	exec.Failure = &execution.Failure{
		Code:    string(apperrors.CodeExecutionAlreadyCompleted),
		Message: fmt.Sprintf("idempotency key completed by execution %s", prior.ID),
	}
	exec.Artifacts = nil
	exec.Events = nil

	logFailure("journal completion race", m.appendJournal(ctx, journal.Entry{
		Partition:   partition,
		TenantID:    in.TenantID,
		ExecutionID: exec.ID,
		Type:        journal.EntryExecutionFailed,
		Payload: map[string]any{
			"code":    string(apperrors.CodeExecutionAlreadyCompleted),
			"message": exec.Failure.Message,
			"winner":  prior.ID,
		},
	}))
	if err := m.store.PutExecution(ctx, exec); err != nil {
		return execution.Execution{}, fmt.Errorf("record superseded execution: %w", err)
	}
	if m.metrics != nil {
		m.metrics.ExecutionsTotal.WithLabelValues(string(execution.StatusFailed)).Inc()
	}
	return prior, nil
}

// GetExecution returns an execution's record by id.
func (m *Manager) GetExecution(ctx context.Context, executionID string) (execution.Execution, error) {
	if m == nil || m.store == nil {
		return execution.Execution{}, fmt.Errorf("lifecycle manager is not configured")
	}
	exec, err := m.store.GetExecution(ctx, executionID)
	if errors.Is(err, storage.ErrNotFound) {
		return execution.Execution{}, apperrors.WithMetadata(apperrors.CodeExecutionNotFound, "execution does not exist", map[string]string{
			"execution_id": executionID,
		})
	}
	return exec, err
}

// ListJournal reads journal entries for auditing.
func (m *Manager) ListJournal(ctx context.Context, q journal.Query) ([]journal.Entry, error) {
	if m == nil || m.store == nil {
		return nil, fmt.Errorf("lifecycle manager is not configured")
	}
	return m.store.ListJournalEntries(ctx, q)
}

// ListJournalRange reads a tenant's journal entries by time range for
// replay and audit tooling.
func (m *Manager) ListJournalRange(ctx context.Context, q journal.RangeQuery) ([]journal.Entry, error) {
	if m == nil || m.store == nil {
		return nil, fmt.Errorf("lifecycle manager is not configured")
	}
	return m.store.ListJournalRange(ctx, q)
}

func (m *Manager) appendJournal(ctx context.Context, entry journal.Entry) error {
	if _, err := m.store.AppendJournalEntry(ctx, entry); err != nil {
		return err
	}
	if m.metrics != nil {
		m.metrics.JournalAppends.Inc()
	}
	return nil
}

// logFailure is a shared helper for paths that tolerate journal errors.
func logFailure(what string, err error) {
	if err != nil {
		log.Printf("%s: %v", what, err)
	}
}
