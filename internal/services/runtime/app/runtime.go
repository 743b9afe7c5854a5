// Package app wires runtime dependencies and owns the process run loops.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cadenzahq/cadenza/internal/platform/metrics"
	"github.com/cadenzahq/cadenza/internal/platform/timeouts"
	apihttp "github.com/cadenzahq/cadenza/internal/services/runtime/api/http"
	"github.com/cadenzahq/cadenza/internal/services/runtime/brain"
	"github.com/cadenzahq/cadenza/internal/services/runtime/domain/intent"
	"github.com/cadenzahq/cadenza/internal/services/runtime/hotstore"
	"github.com/cadenzahq/cadenza/internal/services/runtime/lifecycle"
	"github.com/cadenzahq/cadenza/internal/services/runtime/state"
	runtimesqlite "github.com/cadenzahq/cadenza/internal/services/runtime/storage/sqlite"
)

// RuntimeConfig controls runtime startup and request handling behavior.
type RuntimeConfig struct {
	Port           int
	DBPath         string
	HotPath        string
	HotInMemory    bool
	HotTTL         time.Duration
	HandlerTimeout time.Duration
	StatePolicy    string
	BulkWorkers    int
	// Register lets embedding applications add intent handlers beyond the
	// built-ins before the server starts accepting submissions.
	Register func(*intent.Registry) error
}

const (
	defaultRuntimePort = 8086
	defaultRuntimeDB   = "data/runtime.db"
)

// Run starts the runtime HTTP server and blocks until ctx is canceled or
// the server fails.
func Run(ctx context.Context, cfg RuntimeConfig) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if cfg.Port <= 0 {
		cfg.Port = defaultRuntimePort
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		cfg.DBPath = defaultRuntimeDB
	}
	policy, err := parseStatePolicy(cfg.StatePolicy)
	if err != nil {
		return err
	}

	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create runtime storage dir: %w", err)
		}
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

	hot, err := hotstore.Open(hotstore.Options{
		Path:     cfg.HotPath,
		InMemory: cfg.HotInMemory || strings.TrimSpace(cfg.HotPath) == "",
		TTL:      cfg.HotTTL,
	})
	if err != nil {
		return fmt.Errorf("open hot store: %w", err)
	}
	defer func() {
		if closeErr := hot.Close(); closeErr != nil {
			log.Printf("close hot store: %v", closeErr)
		}
	}()

	registry := intent.NewRegistry()
	if err := RegisterBuiltins(registry); err != nil {
		return fmt.Errorf("register built-in handlers: %w", err)
	}
	if cfg.Register != nil {
		if err := cfg.Register(registry); err != nil {
			return fmt.Errorf("register handlers: %w", err)
		}
	}

	m := metrics.New()
	surface := state.New(hot, store)
	manager, err := lifecycle.New(registry, store, surface,
		lifecycle.WithMetrics(m),
		lifecycle.WithDefaultTimeout(cfg.HandlerTimeout),
		lifecycle.WithStatePolicy(policy),
		lifecycle.WithBulkWorkers(cfg.BulkWorkers),
	)
	if err != nil {
		return fmt.Errorf("build lifecycle manager: %w", err)
	}

	dataBrain, err := brain.New(store)
	if err != nil {
		return fmt.Errorf("build data brain: %w", err)
	}

	server, err := apihttp.New(manager, dataBrain, m)
	if err != nil {
		return fmt.Errorf("build http server: %w", err)
	}

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           server.Handler(),
		ReadHeaderTimeout: timeouts.ReadHeader,
	}
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- httpServer.ListenAndServe()
	}()
	log.Printf("runtime server listening at %s", httpServer.Addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeouts.Shutdown)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("shutdown runtime server: %v", err)
		}
		<-serveErr
		return nil
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve runtime http: %w", err)
	}
}

func parseStatePolicy(raw string) (state.WritePolicy, error) {
	switch strings.TrimSpace(strings.ToLower(raw)) {
	case "", string(state.WriteDurable):
		return state.WriteDurable, nil
	case string(state.WriteEphemeral):
		return state.WriteEphemeral, nil
	default:
		return "", fmt.Errorf("unknown state policy %q", raw)
	}
}
