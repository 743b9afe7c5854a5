package sqlite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cadenzahq/cadenza/internal/platform/id"
	"github.com/cadenzahq/cadenza/internal/services/runtime/journal"
)

// AppendJournalEntry assigns the next sequence within the entry's partition
// and persists the entry. Sequence assignment and the insert share one
// transaction so concurrent appenders never observe gaps or duplicates.
func (s *Store) AppendJournalEntry(ctx context.Context, entry journal.Entry) (journal.Entry, error) {
	if s == nil || s.sqlDB == nil {
		return journal.Entry{}, fmt.Errorf("journal store is not configured")
	}
	if err := ctx.Err(); err != nil {
		return journal.Entry{}, err
	}
	if err := journal.ValidatePartition(entry.Partition); err != nil {
		return journal.Entry{}, err
	}
	if strings.TrimSpace(string(entry.Type)) == "" {
		return journal.Entry{}, fmt.Errorf("journal entry type is required")
	}

	if entry.EventID == "" {
		eventID, err := id.NewID()
		if err != nil {
			return journal.Entry{}, fmt.Errorf("generate event id: %w", err)
		}
		entry.EventID = eventID
	}
	if entry.RecordedAt.IsZero() {
		entry.RecordedAt = time.Now().UTC()
	}
	entry.RecordedAt = entry.RecordedAt.UTC().Truncate(time.Millisecond)

	payloadJSON, err := encodeJSON(entry.Payload)
	if err != nil {
		return journal.Entry{}, err
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return journal.Entry{}, fmt.Errorf("begin journal append: %w", err)
	}
	defer tx.Rollback()

	seq, err := nextJournalSeq(ctx, tx, entry.Partition)
	if err != nil {
		return journal.Entry{}, err
	}
	entry.Sequence = seq

	if _, err := tx.ExecContext(ctx, `
INSERT INTO journal_entries (
	partition_key,
	seq,
	event_id,
	tenant_id,
	execution_id,
	entry_type,
	payload_json,
	recorded_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`,
		entry.Partition,
		int64(entry.Sequence),
		entry.EventID,
		entry.TenantID,
		entry.ExecutionID,
		string(entry.Type),
		payloadJSON,
		toMillis(entry.RecordedAt),
	); err != nil {
		return journal.Entry{}, fmt.Errorf("append journal entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return journal.Entry{}, fmt.Errorf("commit journal append: %w", err)
	}
	return entry, nil
}

// nextJournalSeq initializes and advances the per-partition counter. The
// first entry in a partition takes sequence 1.
func nextJournalSeq(ctx context.Context, tx execContexter, partition string) (uint64, error) {
	if _, err := tx.ExecContext(ctx, `
INSERT INTO journal_seq (partition_key, seq) VALUES (?, 0)
ON CONFLICT(partition_key) DO NOTHING
`, partition); err != nil {
		return 0, fmt.Errorf("init journal seq: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
UPDATE journal_seq SET seq = seq + 1 WHERE partition_key = ?
`, partition); err != nil {
		return 0, fmt.Errorf("increment journal seq: %w", err)
	}
	var seq int64
	if err := tx.QueryRowContext(ctx, `
SELECT seq FROM journal_seq WHERE partition_key = ?
`, partition).Scan(&seq); err != nil {
		return 0, fmt.Errorf("get journal seq: %w", err)
	}
	if seq <= 0 {
		return 0, fmt.Errorf("journal seq is required")
	}
	return uint64(seq), nil
}

// ListJournalEntries reads a partition's entries in sequence order.
func (s *Store) ListJournalEntries(ctx context.Context, q journal.Query) ([]journal.Entry, error) {
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("journal store is not configured")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := journal.ValidatePartition(q.Partition); err != nil {
		return nil, err
	}

	query := `
SELECT partition_key, seq, event_id, tenant_id, execution_id, entry_type, payload_json, recorded_at
FROM journal_entries
WHERE partition_key = ? AND seq > ?
ORDER BY seq ASC
`
	args := []any{q.Partition, int64(q.AfterSequence)}
	if q.Limit > 0 {
		query += "LIMIT ?\n"
		args = append(args, q.Limit)
	}

	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list journal entries: %w", err)
	}
	defer rows.Close()

	var entries []journal.Entry
	for rows.Next() {
		entry, err := scanJournalEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read journal entries: %w", err)
	}
	return entries, nil
}

// ListJournalRange reads a tenant's entries across day partitions. Ordering
// by partition key then sequence matches append order because partitions
// embed the UTC date.
func (s *Store) ListJournalRange(ctx context.Context, q journal.RangeQuery) ([]journal.Entry, error) {
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("journal store is not configured")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}

	query := `
SELECT partition_key, seq, event_id, tenant_id, execution_id, entry_type, payload_json, recorded_at
FROM journal_entries
WHERE tenant_id = ?
`
	args := []any{q.TenantID}
	if !q.From.IsZero() {
		query += "AND recorded_at >= ?\n"
		args = append(args, toMillis(q.From.UTC()))
	}
	if !q.To.IsZero() {
		query += "AND recorded_at < ?\n"
		args = append(args, toMillis(q.To.UTC()))
	}
	if q.EventType != "" {
		query += "AND entry_type = ?\n"
		args = append(args, string(q.EventType))
	}
	query += "ORDER BY partition_key ASC, seq ASC\nLIMIT ?\n"
	args = append(args, q.Limit)

	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list journal range: %w", err)
	}
	defer rows.Close()

	var entries []journal.Entry
	for rows.Next() {
		entry, err := scanJournalEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read journal range: %w", err)
	}
	return entries, nil
}

// ListJournalPartitions returns the distinct partitions with entries
// recorded at or after since. The repair pass uses this to find the
// partitions worth reconciling.
func (s *Store) ListJournalPartitions(ctx context.Context, since time.Time) ([]string, error) {
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("journal store is not configured")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT DISTINCT partition_key
FROM journal_entries
WHERE recorded_at >= ?
ORDER BY partition_key ASC
`, toMillis(since))
	if err != nil {
		return nil, fmt.Errorf("list journal partitions: %w", err)
	}
	defer rows.Close()

	var partitions []string
	for rows.Next() {
		var partition string
		if err := rows.Scan(&partition); err != nil {
			return nil, fmt.Errorf("scan journal partition: %w", err)
		}
		partitions = append(partitions, partition)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read journal partitions: %w", err)
	}
	return partitions, nil
}

func scanJournalEntry(row rowScanner) (journal.Entry, error) {
	var entry journal.Entry
	var seq int64
	var entryType string
	var payloadJSON string
	var recordedAt int64
	if err := row.Scan(
		&entry.Partition,
		&seq,
		&entry.EventID,
		&entry.TenantID,
		&entry.ExecutionID,
		&entryType,
		&payloadJSON,
		&recordedAt,
	); err != nil {
		return journal.Entry{}, fmt.Errorf("scan journal entry: %w", err)
	}
	entry.Sequence = uint64(seq)
	entry.Type = journal.EntryType(entryType)
	entry.RecordedAt = fromMillis(recordedAt)
	payload, err := decodeJSON(payloadJSON)
	if err != nil {
		return journal.Entry{}, fmt.Errorf("decode journal payload: %w", err)
	}
	entry.Payload = payload
	return entry, nil
}
