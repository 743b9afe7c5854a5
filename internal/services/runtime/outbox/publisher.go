// Package outbox drains staged side-effect events onto the stream log.
// Delivery is at-least-once; the stream log's event-id dedupe makes the
// combined pipeline exactly-once-effective.
package outbox

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/cadenzahq/cadenza/internal/platform/metrics"
	"github.com/cadenzahq/cadenza/internal/platform/retry"
	"github.com/cadenzahq/cadenza/internal/services/runtime/journal"
	"github.com/cadenzahq/cadenza/internal/services/runtime/storage"
	"github.com/cadenzahq/cadenza/internal/services/runtime/stream"
)

const (
	// DefaultBatchSize bounds how many pending events one pass drains.
	DefaultBatchSize = 100
	// DefaultInterval is how often Run polls for due events.
	DefaultInterval = time.Second
	// DefaultRepairInterval is how often Run reconciles recent journal
	// partitions against the outbox.
	DefaultRepairInterval = time.Minute

	maxRetryBackoff = 5 * time.Minute

	// repairLookback bounds which partitions the recurring repair pass
	// scans. Partitions split on UTC days, so two days covers the current
	// and previous partition of every tenant.
	repairLookback = 48 * time.Hour
)

// retryBackoff doubles per attempt starting at one second, capped at five
// minutes.
func retryBackoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 8 {
		return maxRetryBackoff
	}
	backoff := time.Second << uint(attempt)
	if backoff > maxRetryBackoff {
		return maxRetryBackoff
	}
	return backoff
}

// Store is the persistence surface the publisher needs.
type Store interface {
	storage.OutboxStore
	storage.JournalStore
}

// Publisher moves pending outbox events onto the stream log.
type Publisher struct {
	store          Store
	log            stream.Log
	metrics        *metrics.Metrics
	batchSize      int
	repairInterval time.Duration
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithBatchSize overrides the per-pass drain limit.
func WithBatchSize(size int) Option {
	return func(p *Publisher) {
		if size > 0 {
			p.batchSize = size
		}
	}
}

// WithMetrics wires publish counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Publisher) {
		p.metrics = m
	}
}

// WithRepairInterval overrides how often Run reconciles recent journal
// partitions against the outbox.
func WithRepairInterval(interval time.Duration) Option {
	return func(p *Publisher) {
		if interval > 0 {
			p.repairInterval = interval
		}
	}
}

// New builds a publisher.
func New(store Store, streamLog stream.Log, opts ...Option) (*Publisher, error) {
	if store == nil {
		return nil, fmt.Errorf("outbox store is required")
	}
	if streamLog == nil {
		return nil, fmt.Errorf("stream log is required")
	}
	p := &Publisher{
		store:          store,
		log:            streamLog,
		batchSize:      DefaultBatchSize,
		repairInterval: DefaultRepairInterval,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p, nil
}

// PublishPending drains one batch of due events. Each event is appended to
// the stream log and then marked published; a crash between the two leaves
// the event pending, and the log's dedupe absorbs the redelivery.
//
// A failure blocks the rest of that execution's events for the pass, so
// events of one execution reach the stream in enqueue order. Other
// executions keep draining.
func (p *Publisher) PublishPending(ctx context.Context) (int, error) {
	if p == nil || p.store == nil {
		return 0, fmt.Errorf("publisher is not configured")
	}

	now := time.Now().UTC()
	pending, err := p.store.ListPendingOutboxEvents(ctx, now, p.batchSize)
	if err != nil {
		return 0, fmt.Errorf("list pending outbox events: %w", err)
	}

	published := 0
	blocked := make(map[string]bool)
	for _, event := range pending {
		if err := ctx.Err(); err != nil {
			return published, err
		}
		if blocked[event.ExecutionID] {
			continue
		}
		if err := p.publishOne(ctx, event); err != nil {
			p.recordFailure(ctx, event, err)
			blocked[event.ExecutionID] = true
			continue
		}
		published++
		if p.metrics != nil {
			p.metrics.OutboxPublished.Inc()
		}
	}
	return published, nil
}

// appendRetry absorbs short stream log blips in process; anything longer
// falls through to the persisted backoff schedule.
var appendRetry = retry.Config{MaxRetries: 2, InitialDelay: 25 * time.Millisecond, MaxDelay: 200 * time.Millisecond, Base: 2}

func (p *Publisher) publishOne(ctx context.Context, event storage.OutboxEvent) error {
	appendErr := retry.Do(ctx, appendRetry, func(ctx context.Context) error {
		_, err := p.log.AppendStreamEvent(ctx, storage.StreamEvent{
			EventID:     event.ID,
			Partition:   event.TenantID,
			ExecutionID: event.ExecutionID,
			EventType:   event.EventType,
			Payload:     event.Payload,
		})
		return err
	}, nil)
	if appendErr != nil {
		return fmt.Errorf("append stream event: %w", appendErr)
	}
	if err := p.store.MarkOutboxEventPublished(ctx, event.ID, time.Now().UTC()); err != nil {
		return fmt.Errorf("mark outbox event published: %w", err)
	}
	return nil
}

func (p *Publisher) recordFailure(ctx context.Context, event storage.OutboxEvent, cause error) {
	if p.metrics != nil {
		p.metrics.OutboxFailures.Inc()
	}
	nextAttempt := time.Now().UTC().Add(retryBackoff(event.AttemptCount))
	if err := p.store.RecordOutboxEventFailure(ctx, event.ID, nextAttempt, cause.Error()); err != nil {
		log.Printf("record outbox failure for %s: %v", event.ID, err)
	}
	log.Printf("outbox publish failed for %s (attempt %d): %v", event.ID, event.AttemptCount+1, cause)
}

// Run polls for due events until the context ends. It also runs the repair
// pass on its own interval, once at startup and then recurring, so a crash
// between the events_declared journal entry and the completion commit heals
// without operator action.
func (p *Publisher) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	repairTicker := time.NewTicker(p.repairInterval)
	defer repairTicker.Stop()

	p.repairPass(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-repairTicker.C:
			p.repairPass(ctx)
		case <-ticker.C:
			if _, err := p.PublishPending(ctx); err != nil && ctx.Err() == nil {
				log.Printf("outbox publish pass failed: %v", err)
			}
		}
	}
}

func (p *Publisher) repairPass(ctx context.Context) {
	restaged, err := p.RepairRecent(ctx)
	if err != nil && ctx.Err() == nil {
		log.Printf("outbox repair pass failed: %v", err)
		return
	}
	if restaged > 0 {
		log.Printf("restaged %d outbox events", restaged)
	}
}

// RepairRecent runs Repair over every partition with journal activity inside
// the lookback window.
func (p *Publisher) RepairRecent(ctx context.Context) (int, error) {
	if p == nil || p.store == nil {
		return 0, fmt.Errorf("publisher is not configured")
	}

	partitions, err := p.store.ListJournalPartitions(ctx, time.Now().UTC().Add(-repairLookback))
	if err != nil {
		return 0, fmt.Errorf("list journal partitions: %w", err)
	}

	restaged := 0
	for _, partition := range partitions {
		n, err := p.Repair(ctx, partition)
		if err != nil {
			return restaged, fmt.Errorf("repair partition %s: %w", partition, err)
		}
		restaged += n
	}
	return restaged, nil
}

// Repair restages events the journal declares but the outbox never staged.
// A crash between journaling events_declared and committing the completion
// transaction is the only window that needs this.
func (p *Publisher) Repair(ctx context.Context, partition string) (int, error) {
	if p == nil || p.store == nil {
		return 0, fmt.Errorf("publisher is not configured")
	}

	entries, err := p.store.ListJournalEntries(ctx, journal.Query{Partition: partition})
	if err != nil {
		return 0, fmt.Errorf("list journal entries: %w", err)
	}

	// An execution the journal marks failed declared events whose commit
	// never landed; restaging those would publish effects of a failed run.
	failed := make(map[string]bool)
	for _, entry := range entries {
		if entry.Type == journal.EntryExecutionFailed {
			failed[entry.ExecutionID] = true
		}
	}

	restaged := 0
	for _, entry := range entries {
		if entry.Type != journal.EntryEventsDeclared || failed[entry.ExecutionID] {
			continue
		}
		declared := decodeDeclaredEvents(entry)
		if len(declared) == 0 {
			continue
		}

		staged, err := p.store.ListOutboxEventsByExecution(ctx, entry.ExecutionID)
		if err != nil {
			return restaged, fmt.Errorf("list outbox events for %s: %w", entry.ExecutionID, err)
		}
		known := make(map[string]bool, len(staged))
		for _, event := range staged {
			known[event.ID] = true
		}

		var missing []storage.OutboxEvent
		for _, event := range declared {
			if !known[event.ID] {
				missing = append(missing, event)
			}
		}
		if len(missing) == 0 {
			continue
		}
		if err := p.store.EnqueueOutboxEvents(ctx, missing); err != nil {
			return restaged, fmt.Errorf("restage outbox events for %s: %w", entry.ExecutionID, err)
		}
		restaged += len(missing)
	}
	return restaged, nil
}

// decodeDeclaredEvents reconstructs outbox events from an events_declared
// journal payload. The payload comes back from JSON storage, so numbers are
// float64.
func decodeDeclaredEvents(entry journal.Entry) []storage.OutboxEvent {
	raw, ok := entry.Payload["events"].([]any)
	if !ok {
		return nil
	}
	events := make([]storage.OutboxEvent, 0, len(raw))
	for _, item := range raw {
		fields, ok := item.(map[string]any)
		if !ok {
			continue
		}
		id, _ := fields["id"].(string)
		eventType, _ := fields["type"].(string)
		if id == "" || eventType == "" {
			continue
		}
		seq := 0
		if n, ok := fields["seq"].(float64); ok {
			seq = int(n)
		}
		payload, _ := fields["payload"].(map[string]any)
		events = append(events, storage.OutboxEvent{
			ID:          id,
			ExecutionID: entry.ExecutionID,
			TenantID:    entry.TenantID,
			Seq:         seq,
			EventType:   eventType,
			Payload:     payload,
		})
	}
	return events
}
