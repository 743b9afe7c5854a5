// Package runtime parses runtime command flags and launches the execution
// engine server.
package runtime

import (
	"context"
	"flag"
	"time"

	entrypoint "github.com/cadenzahq/cadenza/internal/platform/cmd"
	runtimeserver "github.com/cadenzahq/cadenza/internal/services/runtime/app"
)

// Config holds runtime command configuration.
type Config struct {
	Port           int           `env:"CADENZA_RUNTIME_PORT" envDefault:"8086"`
	DBPath         string        `env:"CADENZA_RUNTIME_DB_PATH" envDefault:"data/runtime.db"`
	HotPath        string        `env:"CADENZA_RUNTIME_HOT_PATH"`
	HotInMemory    bool          `env:"CADENZA_RUNTIME_HOT_IN_MEMORY" envDefault:"false"`
	HotTTL         time.Duration `env:"CADENZA_RUNTIME_HOT_TTL" envDefault:"15m"`
	HandlerTimeout time.Duration `env:"CADENZA_RUNTIME_HANDLER_TIMEOUT" envDefault:"30s"`
	StatePolicy    string        `env:"CADENZA_RUNTIME_STATE_POLICY" envDefault:"durable"`
	BulkWorkers    int           `env:"CADENZA_RUNTIME_BULK_WORKERS" envDefault:"8"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.IntVar(&cfg.Port, "port", cfg.Port, "The runtime HTTP server port")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "The runtime SQLite database path")
	fs.StringVar(&cfg.HotPath, "hot-path", cfg.HotPath, "The hot state store directory (empty keeps it in memory)")
	fs.BoolVar(&cfg.HotInMemory, "hot-in-memory", cfg.HotInMemory, "Keep the hot state store in memory")
	fs.DurationVar(&cfg.HotTTL, "hot-ttl", cfg.HotTTL, "Hot state entry time to live")
	fs.DurationVar(&cfg.HandlerTimeout, "handler-timeout", cfg.HandlerTimeout, "Default intent handler deadline")
	fs.StringVar(&cfg.StatePolicy, "state-policy", cfg.StatePolicy, "Handler state write policy (durable or ephemeral)")
	fs.IntVar(&cfg.BulkWorkers, "bulk-workers", cfg.BulkWorkers, "Concurrent workers per bulk batch")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the runtime server.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceRuntime, func(context.Context) error {
		return runtimeserver.Run(ctx, runtimeserver.RuntimeConfig{
			Port:           cfg.Port,
			DBPath:         cfg.DBPath,
			HotPath:        cfg.HotPath,
			HotInMemory:    cfg.HotInMemory,
			HotTTL:         cfg.HotTTL,
			HandlerTimeout: cfg.HandlerTimeout,
			StatePolicy:    cfg.StatePolicy,
			BulkWorkers:    cfg.BulkWorkers,
		})
	})
}
