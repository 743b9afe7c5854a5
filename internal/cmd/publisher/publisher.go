// Package publisher parses publisher command flags and launches the outbox
// publisher loop.
package publisher

import (
	"context"
	"flag"
	"strings"
	"time"

	entrypoint "github.com/cadenzahq/cadenza/internal/platform/cmd"
	runtimeserver "github.com/cadenzahq/cadenza/internal/services/runtime/app"
)

// Config holds publisher command configuration.
type Config struct {
	DBPath           string        `env:"CADENZA_PUBLISHER_DB_PATH" envDefault:"data/runtime.db"`
	PollInterval     time.Duration `env:"CADENZA_PUBLISHER_POLL_INTERVAL" envDefault:"1s"`
	BatchSize        int           `env:"CADENZA_PUBLISHER_BATCH_SIZE" envDefault:"100"`
	RepairInterval   time.Duration `env:"CADENZA_PUBLISHER_REPAIR_INTERVAL" envDefault:"1m"`
	RepairPartitions string        `env:"CADENZA_PUBLISHER_REPAIR_PARTITIONS"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "The runtime SQLite database path")
	fs.DurationVar(&cfg.PollInterval, "poll-interval", cfg.PollInterval, "Outbox poll interval")
	fs.IntVar(&cfg.BatchSize, "batch-size", cfg.BatchSize, "Maximum events drained per pass")
	fs.DurationVar(&cfg.RepairInterval, "repair-interval", cfg.RepairInterval, "How often recent journal partitions are reconciled")
	fs.StringVar(&cfg.RepairPartitions, "repair-partitions", cfg.RepairPartitions, "Comma-separated journal partitions to reconcile at startup")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the publisher loop.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServicePublisher, func(context.Context) error {
		return runtimeserver.RunPublisher(ctx, runtimeserver.PublisherConfig{
			DBPath:           cfg.DBPath,
			PollInterval:     cfg.PollInterval,
			BatchSize:        cfg.BatchSize,
			RepairInterval:   cfg.RepairInterval,
			RepairPartitions: splitPartitions(cfg.RepairPartitions),
		})
	})
}

func splitPartitions(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	partitions := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			partitions = append(partitions, part)
		}
	}
	return partitions
}
