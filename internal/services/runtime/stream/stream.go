// Package stream defines the durable log downstream consumers read. The
// SQLite store provides the persistent implementation; MemoryLog backs tests
// and the ephemeral runtime profile.
package stream

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cadenzahq/cadenza/internal/services/runtime/storage"
)

// Log is an append-only, partitioned event log. Appends are idempotent on
// event id, which is what turns the publisher's at-least-once delivery into
// exactly-once-effective consumption.
type Log interface {
	// AppendStreamEvent appends an event, assigning the next offset in
	// its partition. A known event id returns the stored event instead
	// of appending again.
	AppendStreamEvent(ctx context.Context, event storage.StreamEvent) (storage.StreamEvent, error)
	// ListStreamEvents reads a partition's events in offset order.
	ListStreamEvents(ctx context.Context, partition string) ([]storage.StreamEvent, error)
}

// MemoryLog is an in-memory Log.
type MemoryLog struct {
	mu      sync.Mutex
	byID    map[string]storage.StreamEvent
	entries map[string][]storage.StreamEvent
}

// NewMemoryLog builds an empty in-memory log.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{
		byID:    make(map[string]storage.StreamEvent),
		entries: make(map[string][]storage.StreamEvent),
	}
}

// AppendStreamEvent appends an event or returns an already appended one.
func (l *MemoryLog) AppendStreamEvent(ctx context.Context, event storage.StreamEvent) (storage.StreamEvent, error) {
	if err := ctx.Err(); err != nil {
		return storage.StreamEvent{}, err
	}
	if strings.TrimSpace(event.EventID) == "" {
		return storage.StreamEvent{}, fmt.Errorf("stream event id is required")
	}
	if strings.TrimSpace(event.Partition) == "" {
		return storage.StreamEvent{}, fmt.Errorf("stream partition is required")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if stored, ok := l.byID[event.EventID]; ok {
		return stored, nil
	}
	if event.AppendedAt.IsZero() {
		event.AppendedAt = time.Now().UTC()
	}
	event.Offset = uint64(len(l.entries[event.Partition]) + 1)
	l.entries[event.Partition] = append(l.entries[event.Partition], event)
	l.byID[event.EventID] = event
	return event, nil
}

// ListStreamEvents reads a partition's events in offset order.
func (l *MemoryLog) ListStreamEvents(ctx context.Context, partition string) ([]storage.StreamEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	events := make([]storage.StreamEvent, len(l.entries[partition]))
	copy(events, l.entries[partition])
	return events, nil
}

var _ Log = (*MemoryLog)(nil)
