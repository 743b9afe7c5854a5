// Package storage defines the persistence interfaces and records for the
// runtime's durable tier: journal entries, executions, scoped state, the
// transactional outbox, bulk operations, data references, and the stream log.
package storage

import (
	"context"
	"time"

	apperrors "github.com/cadenzahq/cadenza/internal/platform/errors"
	"github.com/cadenzahq/cadenza/internal/services/runtime/domain/execution"
	"github.com/cadenzahq/cadenza/internal/services/runtime/journal"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = apperrors.New(apperrors.CodeNotFound, "record not found")

// ErrDuplicateIdempotencyKey is returned when committing a completion would
// create a second completed execution for the same tenant and idempotency
// key. The caller resolves it by replaying the execution that won.
var ErrDuplicateIdempotencyKey = apperrors.New(apperrors.CodeExecutionAlreadyCompleted, "idempotency key already completed")

// OutboxStatus is the delivery state of an outbox event.
type OutboxStatus string

const (
	OutboxStatusPending   OutboxStatus = "pending"
	OutboxStatusPublished OutboxStatus = "published"
)

// OutboxEvent is a side-effect event staged in the same transaction that
// commits its execution. The publisher drains pending events and retries
// with backoff until each one lands on the stream log.
type OutboxEvent struct {
	ID           string
	ExecutionID  string
	TenantID     string
	Seq          int
	EventType    string
	Payload      map[string]any
	Status       OutboxStatus
	AttemptCount int
	NextAttempt  time.Time
	LastError    string
	CreatedAt    time.Time
	PublishedAt  time.Time
}

// StateEntry is one durable key-value record scoped to a tenant and owner.
type StateEntry struct {
	TenantID  string
	OwnerID   string
	Key       string
	Value     any
	UpdatedAt time.Time
}

// OperationStatus is the lifecycle state of a bulk operation.
type OperationStatus string

const (
	OperationStatusRunning   OperationStatus = "running"
	OperationStatusCompleted OperationStatus = "completed"
	OperationStatusFailed    OperationStatus = "failed"
)

// Operation tracks a bulk submission's progress across batches.
type Operation struct {
	ID                 string
	TenantID           string
	Status             OperationStatus
	TotalItems         int
	BatchSize          int
	Processed          int
	Succeeded          int
	Failed             int
	LastCompletedBatch int
	FailureMessage     string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// OperationItem records the outcome of one item within a bulk operation.
type OperationItem struct {
	OperationID string
	Index       int
	ExecutionID string
	Status      execution.Status
	Error       string
}

// Reference is a pointer to externally stored data produced by an execution.
type Reference struct {
	ID                 string
	TenantID           string
	StorageLocation    string
	ProducingExecution string
	Metadata           map[string]any
	CreatedAt          time.Time
}

// ReferenceEdge records that one reference was derived from another.
type ReferenceEdge struct {
	ReferenceID string
	DerivedFrom string
	CreatedAt   time.Time
}

// StreamEvent is one record on the durable stream log. Offsets are assigned
// per partition at append time. EventID carries the outbox event's identity
// so redelivered events append at most once.
type StreamEvent struct {
	EventID     string
	Partition   string
	Offset      uint64
	ExecutionID string
	EventType   string
	Payload     map[string]any
	AppendedAt  time.Time
}

// JournalStore persists the append-only write-ahead journal.
type JournalStore interface {
	// AppendJournalEntry assigns the next sequence in the entry's
	// partition and persists the entry. The stored entry is returned.
	AppendJournalEntry(ctx context.Context, entry journal.Entry) (journal.Entry, error)
	// ListJournalEntries reads entries for a partition in sequence order.
	ListJournalEntries(ctx context.Context, q journal.Query) ([]journal.Entry, error)
	// ListJournalRange reads a tenant's entries across partitions by time
	// range, ordered by partition then sequence.
	ListJournalRange(ctx context.Context, q journal.RangeQuery) ([]journal.Entry, error)
	// ListJournalPartitions returns the distinct partitions holding entries
	// recorded at or after since.
	ListJournalPartitions(ctx context.Context, since time.Time) ([]string, error)
}

// ExecutionStore persists execution lifecycle records.
type ExecutionStore interface {
	// PutExecution inserts or replaces an execution record.
	PutExecution(ctx context.Context, exec execution.Execution) error
	// GetExecution returns an execution by id, or ErrNotFound.
	GetExecution(ctx context.Context, executionID string) (execution.Execution, error)
	// GetCompletedExecution returns the completed execution for a tenant
	// and idempotency key, or ErrNotFound.
	GetCompletedExecution(ctx context.Context, tenantID, idempotencyKey string) (execution.Execution, error)
	// CompleteExecutionWithOutbox marks the execution completed and
	// enqueues its declared events in a single transaction.
	CompleteExecutionWithOutbox(ctx context.Context, exec execution.Execution, events []OutboxEvent) error
}

// StateStore persists the cold tier of the scoped key-value surface.
type StateStore interface {
	// PutStateEntry inserts or replaces a state entry.
	PutStateEntry(ctx context.Context, entry StateEntry) error
	// GetStateEntry returns a state entry, or ErrNotFound.
	GetStateEntry(ctx context.Context, tenantID, ownerID, key string) (StateEntry, error)
	// DeleteStateEntry removes a state entry. Deleting a missing entry
	// is not an error.
	DeleteStateEntry(ctx context.Context, tenantID, ownerID, key string) error
}

// OutboxStore persists and drains the transactional outbox.
type OutboxStore interface {
	// EnqueueOutboxEvents stages events as pending.
	EnqueueOutboxEvents(ctx context.Context, events []OutboxEvent) error
	// ListPendingOutboxEvents returns pending events due at or before
	// now, oldest first.
	ListPendingOutboxEvents(ctx context.Context, now time.Time, limit int) ([]OutboxEvent, error)
	// ListOutboxEventsByExecution returns all events staged for an
	// execution in seq order.
	ListOutboxEventsByExecution(ctx context.Context, executionID string) ([]OutboxEvent, error)
	// MarkOutboxEventPublished records a successful publish.
	MarkOutboxEventPublished(ctx context.Context, eventID string, at time.Time) error
	// RecordOutboxEventFailure bumps the attempt count and schedules the
	// next attempt.
	RecordOutboxEventFailure(ctx context.Context, eventID string, nextAttempt time.Time, lastError string) error
}

// OperationStore persists bulk operation progress.
type OperationStore interface {
	// PutOperation inserts or replaces an operation record.
	PutOperation(ctx context.Context, op Operation) error
	// GetOperation returns an operation by id, or ErrNotFound.
	GetOperation(ctx context.Context, operationID string) (Operation, error)
	// PutOperationItems records item outcomes for one batch.
	PutOperationItems(ctx context.Context, items []OperationItem) error
	// ListOperationItems returns all recorded item outcomes in index
	// order.
	ListOperationItems(ctx context.Context, operationID string) ([]OperationItem, error)
}

// ReferenceStore persists data references and their provenance edges.
type ReferenceStore interface {
	// PutReference inserts a reference record.
	PutReference(ctx context.Context, ref Reference) error
	// GetReference returns a reference by id, or ErrNotFound.
	GetReference(ctx context.Context, referenceID string) (Reference, error)
	// PutReferenceEdges records derived-from edges for a reference.
	PutReferenceEdges(ctx context.Context, edges []ReferenceEdge) error
	// ListDerivedFrom returns the ids a reference was derived from.
	ListDerivedFrom(ctx context.Context, referenceID string) ([]string, error)
}

// StreamStore persists the durable stream log.
type StreamStore interface {
	// AppendStreamEvent appends an event to its partition, assigning the
	// next offset. Appending an event id that already exists is a no-op
	// and returns the stored event.
	AppendStreamEvent(ctx context.Context, event StreamEvent) (StreamEvent, error)
	// ListStreamEvents reads a partition's events in offset order.
	ListStreamEvents(ctx context.Context, partition string) ([]StreamEvent, error)
}

// Store is the full persistence surface of the runtime's durable tier.
type Store interface {
	JournalStore
	ExecutionStore
	StateStore
	OutboxStore
	OperationStore
	ReferenceStore
	StreamStore

	// Close releases the underlying resources.
	Close() error
}
