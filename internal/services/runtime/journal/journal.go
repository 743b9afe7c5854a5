// Package journal defines the write-ahead audit log entries the runtime
// records for every execution, partitioned per tenant per UTC day.
package journal

import (
	"fmt"
	"strings"
	"time"

	apperrors "github.com/cadenzahq/cadenza/internal/platform/errors"
)

// EntryType identifies what lifecycle fact an entry records.
type EntryType string

const (
	EntryIntentAccepted     EntryType = "intent_accepted"
	EntryExecutionStarted   EntryType = "execution_started"
	EntryExecutionCompleted EntryType = "execution_completed"
	EntryExecutionFailed    EntryType = "execution_failed"
	EntryEventsDeclared     EntryType = "events_declared"
	EntryHandlerNote        EntryType = "handler_note"
)

// Entry is one append-only journal record. Sequence numbers are assigned by
// the store at append time and are strictly increasing within a partition.
type Entry struct {
	EventID     string
	Partition   string
	Sequence    uint64
	TenantID    string
	ExecutionID string
	Type        EntryType
	Payload     map[string]any
	RecordedAt  time.Time
}

// Partition returns the journal partition key for a tenant at a point in
// time. Days split on UTC.
func Partition(tenantID string, at time.Time) string {
	return fmt.Sprintf("wal:%s:%s", tenantID, at.UTC().Format("2006-01-02"))
}

// ValidatePartition checks a caller-supplied partition key.
func ValidatePartition(partition string) error {
	if strings.TrimSpace(partition) == "" {
		return apperrors.New(apperrors.CodeJournalPartitionEmpty, "journal partition is required")
	}
	return nil
}

// Query selects journal entries for reads.
type Query struct {
	Partition string
	// AfterSequence skips entries at or below this sequence. Zero reads
	// from the start of the partition.
	AfterSequence uint64
	// Limit caps the number of returned entries. Zero means no cap.
	Limit int
}

// MaxRangeEntries caps one range read. Audit tooling pages by narrowing the
// time range.
const MaxRangeEntries = 1000

// RangeQuery selects a tenant's entries across partitions by time range,
// ordered by partition then sequence.
type RangeQuery struct {
	TenantID string
	// From is inclusive; a zero time reads from the beginning.
	From time.Time
	// To is exclusive; a zero time reads to the end.
	To time.Time
	// EventType filters to one entry type when set.
	EventType EntryType
	// Limit caps returned entries. Zero and values above MaxRangeEntries
	// clamp to MaxRangeEntries.
	Limit int
}

// Validate checks a caller-supplied range query and normalizes its limit.
func (q *RangeQuery) Validate() error {
	if strings.TrimSpace(q.TenantID) == "" {
		return apperrors.New(apperrors.CodeIntentTenantEmpty, "tenant id is required")
	}
	if !q.From.IsZero() && !q.To.IsZero() && q.To.Before(q.From) {
		return apperrors.New(apperrors.CodeJournalRangeInvalid, "journal range end precedes start")
	}
	if q.Limit <= 0 || q.Limit > MaxRangeEntries {
		q.Limit = MaxRangeEntries
	}
	return nil
}
