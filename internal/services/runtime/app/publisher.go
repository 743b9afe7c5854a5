package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/cadenzahq/cadenza/internal/platform/metrics"
	"github.com/cadenzahq/cadenza/internal/services/runtime/outbox"
	runtimesqlite "github.com/cadenzahq/cadenza/internal/services/runtime/storage/sqlite"
)

// PublisherConfig controls the outbox publisher loop.
type PublisherConfig struct {
	DBPath       string
	PollInterval time.Duration
	BatchSize    int
	// RepairInterval is how often recent journal partitions are reconciled
	// against the outbox while the loop runs.
	RepairInterval time.Duration
	// RepairPartitions lists extra journal partitions to reconcile before
	// the drain loop starts, for partitions older than the recurring pass
	// looks at.
	RepairPartitions []string
}

// RunPublisher drains the transactional outbox into the stream log until
// ctx is canceled.
func RunPublisher(ctx context.Context, cfg PublisherConfig) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		cfg.DBPath = defaultRuntimeDB
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = outbox.DefaultInterval
	}

	store, err := runtimesqlite.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open runtime sqlite store: %w", err)
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			log.Printf("close runtime sqlite store: %v", closeErr)
		}
	}()

	m := metrics.New()
	publisher, err := outbox.New(store, store,
		outbox.WithBatchSize(cfg.BatchSize),
		outbox.WithRepairInterval(cfg.RepairInterval),
		outbox.WithMetrics(m),
	)
	if err != nil {
		return fmt.Errorf("build outbox publisher: %w", err)
	}

	for _, partition := range cfg.RepairPartitions {
		partition = strings.TrimSpace(partition)
		if partition == "" {
			continue
		}
		restaged, err := publisher.Repair(ctx, partition)
		if err != nil {
			return fmt.Errorf("repair partition %s: %w", partition, err)
		}
		if restaged > 0 {
			log.Printf("restaged %d outbox events for partition %s", restaged, partition)
		}
	}

	log.Printf("outbox publisher polling every %s", cfg.PollInterval)
	if err := publisher.Run(ctx, cfg.PollInterval); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
