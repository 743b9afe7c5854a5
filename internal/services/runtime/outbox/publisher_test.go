package outbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cadenzahq/cadenza/internal/services/runtime/journal"
	"github.com/cadenzahq/cadenza/internal/services/runtime/storage"
	"github.com/cadenzahq/cadenza/internal/services/runtime/storage/sqlite"
	"github.com/cadenzahq/cadenza/internal/services/runtime/stream"
)

func openTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.Open(t.TempDir() + "/outbox.db")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// flakyLog fails appends for selected event ids until cleared.
type flakyLog struct {
	inner   stream.Log
	failing map[string]bool
}

func (f *flakyLog) AppendStreamEvent(ctx context.Context, event storage.StreamEvent) (storage.StreamEvent, error) {
	if f.failing[event.EventID] {
		return storage.StreamEvent{}, errors.New("stream unavailable")
	}
	return f.inner.AppendStreamEvent(ctx, event)
}

func (f *flakyLog) ListStreamEvents(ctx context.Context, partition string) ([]storage.StreamEvent, error) {
	return f.inner.ListStreamEvents(ctx, partition)
}

func stageEvents(t *testing.T, store *sqlite.Store, ids ...string) {
	t.Helper()
	events := make([]storage.OutboxEvent, 0, len(ids))
	for i, id := range ids {
		events = append(events, storage.OutboxEvent{
			ID:          id,
			ExecutionID: "exec-1",
			TenantID:    "tenant-1",
			Seq:         i,
			EventType:   "echoed",
			Payload:     map[string]any{"n": i},
		})
	}
	if err := store.EnqueueOutboxEvents(context.Background(), events); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
}

func TestPublishPendingIsExactlyOnceEffective(t *testing.T) {
	store := openTestStore(t)
	log := stream.NewMemoryLog()
	ctx := context.Background()

	publisher, err := New(store, log)
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}
	stageEvents(t, store, "evt-1", "evt-2", "evt-3")

	published, err := publisher.PublishPending(ctx)
	if err != nil {
		t.Fatalf("first pass: %v", err)
	}
	if published != 3 {
		t.Fatalf("expected 3 published, got %d", published)
	}

	// A second pass over the same events publishes nothing new.
	published, err = publisher.PublishPending(ctx)
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if published != 0 {
		t.Fatalf("expected 0 on second pass, got %d", published)
	}

	events, err := log.ListStreamEvents(ctx, "tenant-1")
	if err != nil {
		t.Fatalf("list stream: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected each event exactly once, got %d", len(events))
	}
}

func TestPublishPendingPartialFailure(t *testing.T) {
	store := openTestStore(t)
	inner := stream.NewMemoryLog()
	log := &flakyLog{inner: inner, failing: map[string]bool{"evt-2": true}}
	ctx := context.Background()

	publisher, err := New(store, log)
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}
	stageEvents(t, store, "evt-1", "evt-2", "evt-3")

	published, err := publisher.PublishPending(ctx)
	if err != nil {
		t.Fatalf("first pass: %v", err)
	}
	// evt-2 fails and blocks evt-3 behind it; only evt-1 lands.
	if published != 1 {
		t.Fatalf("expected 1 published around the failure, got %d", published)
	}

	// evt-2 stays pending with a bumped attempt count, evt-3 untouched.
	pending, err := store.ListPendingOutboxEvents(ctx, time.Now().UTC().Add(time.Hour), 10)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 2 || pending[0].ID != "evt-2" || pending[1].ID != "evt-3" {
		t.Fatalf("expected evt-2 and evt-3 pending, got %v", pending)
	}
	if pending[0].AttemptCount != 1 || pending[1].AttemptCount != 0 {
		t.Fatalf("expected only evt-2 attempted, got %v", pending)
	}

	// Once the stream recovers, a retry pass delivers the rest without
	// duplicating evt-1. Clear the scheduled backoff first.
	log.failing = nil
	if err := store.RecordOutboxEventFailure(ctx, "evt-2", time.Now().UTC().Add(-time.Second), ""); err != nil {
		t.Fatalf("reschedule: %v", err)
	}
	if _, err := publisher.PublishPending(ctx); err != nil {
		t.Fatalf("retry pass: %v", err)
	}

	events, err := inner.ListStreamEvents(ctx, "tenant-1")
	if err != nil {
		t.Fatalf("list stream: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events after recovery, got %d", len(events))
	}
}

func TestPublishPendingPreservesPerExecutionOrder(t *testing.T) {
	store := openTestStore(t)
	inner := stream.NewMemoryLog()
	log := &flakyLog{inner: inner, failing: map[string]bool{"evt-1": true}}
	ctx := context.Background()

	publisher, err := New(store, log)
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}
	stageEvents(t, store, "evt-1", "evt-2", "evt-3")
	// A second execution keeps draining while the first is blocked.
	if err := store.EnqueueOutboxEvents(ctx, []storage.OutboxEvent{
		{ID: "other-1", ExecutionID: "exec-2", TenantID: "tenant-1", EventType: "echoed"},
	}); err != nil {
		t.Fatalf("stage other execution: %v", err)
	}

	published, err := publisher.PublishPending(ctx)
	if err != nil {
		t.Fatalf("first pass: %v", err)
	}
	if published != 1 {
		t.Fatalf("expected only the other execution published, got %d", published)
	}

	// While evt-1 backs off, its successors stay held even though they are
	// due themselves.
	if published, err = publisher.PublishPending(ctx); err != nil {
		t.Fatalf("held pass: %v", err)
	} else if published != 0 {
		t.Fatalf("expected successors held behind evt-1, got %d published", published)
	}

	log.failing = nil
	if err := store.RecordOutboxEventFailure(ctx, "evt-1", time.Now().UTC().Add(-time.Second), ""); err != nil {
		t.Fatalf("reschedule: %v", err)
	}
	if _, err := publisher.PublishPending(ctx); err != nil {
		t.Fatalf("recovery pass: %v", err)
	}

	events, err := inner.ListStreamEvents(ctx, "tenant-1")
	if err != nil {
		t.Fatalf("list stream: %v", err)
	}
	var got []string
	for _, event := range events {
		if event.ExecutionID == "exec-1" {
			got = append(got, event.EventID)
		}
	}
	want := []string{"evt-1", "evt-2", "evt-3"}
	if len(got) != len(want) {
		t.Fatalf("expected %d events for exec-1, got %v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected publish order %v, got %v", want, got)
		}
	}
}

func TestRetryBackoffDoublesAndCaps(t *testing.T) {
	if got := retryBackoff(0); got != time.Second {
		t.Fatalf("expected 1s for attempt 0, got %v", got)
	}
	if got := retryBackoff(3); got != 8*time.Second {
		t.Fatalf("expected 8s for attempt 3, got %v", got)
	}
	if got := retryBackoff(20); got != maxRetryBackoff {
		t.Fatalf("expected cap for attempt 20, got %v", got)
	}
}

func TestRepairRestagesDeclaredEvents(t *testing.T) {
	store := openTestStore(t)
	log := stream.NewMemoryLog()
	ctx := context.Background()

	publisher, err := New(store, log)
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}

	// The journal records declared events but the outbox never saw them,
	// as after a crash between the journal append and the completion
	// transaction.
	partition := journal.Partition("tenant-1", time.Now())
	if _, err := store.AppendJournalEntry(ctx, journal.Entry{
		Partition:   partition,
		TenantID:    "tenant-1",
		ExecutionID: "exec-1",
		Type:        journal.EntryEventsDeclared,
		Payload: map[string]any{
			"events": []any{
				map[string]any{"id": "evt-1", "seq": float64(0), "type": "echoed", "payload": map[string]any{"n": float64(1)}},
				map[string]any{"id": "evt-2", "seq": float64(1), "type": "echoed"},
			},
		},
	}); err != nil {
		t.Fatalf("append journal entry: %v", err)
	}

	// evt-1 made it into the outbox; evt-2 did not.
	if err := store.EnqueueOutboxEvents(ctx, []storage.OutboxEvent{
		{ID: "evt-1", ExecutionID: "exec-1", TenantID: "tenant-1", EventType: "echoed"},
	}); err != nil {
		t.Fatalf("stage evt-1: %v", err)
	}

	restaged, err := publisher.Repair(ctx, partition)
	if err != nil {
		t.Fatalf("repair: %v", err)
	}
	if restaged != 1 {
		t.Fatalf("expected 1 restaged event, got %d", restaged)
	}

	staged, err := store.ListOutboxEventsByExecution(ctx, "exec-1")
	if err != nil {
		t.Fatalf("list staged: %v", err)
	}
	if len(staged) != 2 {
		t.Fatalf("expected 2 staged events after repair, got %d", len(staged))
	}

	// A second repair pass finds nothing missing.
	restaged, err = publisher.Repair(ctx, partition)
	if err != nil {
		t.Fatalf("second repair: %v", err)
	}
	if restaged != 0 {
		t.Fatalf("expected idempotent repair, got %d", restaged)
	}
}

func TestRepairSkipsFailedExecutions(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	publisher, err := New(store, stream.NewMemoryLog())
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}

	// The execution declared events but its completion never committed and
	// the journal marks it failed. Its declared events must stay unstaged.
	partition := journal.Partition("tenant-1", time.Now())
	if _, err := store.AppendJournalEntry(ctx, journal.Entry{
		Partition:   partition,
		TenantID:    "tenant-1",
		ExecutionID: "exec-1",
		Type:        journal.EntryEventsDeclared,
		Payload: map[string]any{
			"events": []any{
				map[string]any{"id": "evt-1", "seq": float64(0), "type": "echoed"},
			},
		},
	}); err != nil {
		t.Fatalf("append declared: %v", err)
	}
	if _, err := store.AppendJournalEntry(ctx, journal.Entry{
		Partition:   partition,
		TenantID:    "tenant-1",
		ExecutionID: "exec-1",
		Type:        journal.EntryExecutionFailed,
	}); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	restaged, err := publisher.Repair(ctx, partition)
	if err != nil {
		t.Fatalf("repair: %v", err)
	}
	if restaged != 0 {
		t.Fatalf("expected nothing restaged for a failed execution, got %d", restaged)
	}
	staged, err := store.ListOutboxEventsByExecution(ctx, "exec-1")
	if err != nil {
		t.Fatalf("list staged: %v", err)
	}
	if len(staged) != 0 {
		t.Fatalf("expected no staged events, got %d", len(staged))
	}
}

func TestRunHealsDeclaredEventsWithoutOperatorAction(t *testing.T) {
	store := openTestStore(t)
	log := stream.NewMemoryLog()
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	publisher, err := New(store, log, WithRepairInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}

	// Declared events that never reached the outbox, the crash window the
	// recurring repair pass exists for.
	partition := journal.Partition("tenant-1", time.Now())
	if _, err := store.AppendJournalEntry(ctx, journal.Entry{
		Partition:   partition,
		TenantID:    "tenant-1",
		ExecutionID: "exec-1",
		Type:        journal.EntryEventsDeclared,
		Payload: map[string]any{
			"events": []any{
				map[string]any{"id": "evt-1", "seq": float64(0), "type": "echoed"},
			},
		},
	}); err != nil {
		t.Fatalf("append journal entry: %v", err)
	}

	if err := publisher.Run(ctx, 10*time.Millisecond); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("run: %v", err)
	}

	events, err := log.ListStreamEvents(context.Background(), "tenant-1")
	if err != nil {
		t.Fatalf("list stream: %v", err)
	}
	if len(events) != 1 || events[0].EventID != "evt-1" {
		t.Fatalf("expected evt-1 healed onto the stream, got %v", events)
	}
}
