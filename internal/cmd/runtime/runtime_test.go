package runtime

import (
	"flag"
	"testing"
	"time"
)

func TestParseConfig_ParsesDefaultsAndFlags(t *testing.T) {
	fs := flag.NewFlagSet("runtime", flag.ContinueOnError)
	t.Setenv("CADENZA_RUNTIME_PORT", "9086")
	t.Setenv("CADENZA_RUNTIME_DB_PATH", "/tmp/runtime.db")

	cfg, err := ParseConfig(fs, []string{"-handler-timeout", "5s", "-bulk-workers", "4"})
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Port != 9086 {
		t.Fatalf("port = %d, want 9086", cfg.Port)
	}
	if cfg.DBPath != "/tmp/runtime.db" {
		t.Fatalf("db path = %q, want %q", cfg.DBPath, "/tmp/runtime.db")
	}
	if cfg.HandlerTimeout != 5*time.Second {
		t.Fatalf("handler timeout = %s, want 5s", cfg.HandlerTimeout)
	}
	if cfg.BulkWorkers != 4 {
		t.Fatalf("bulk workers = %d, want 4", cfg.BulkWorkers)
	}
}

func TestParseConfig_Defaults(t *testing.T) {
	fs := flag.NewFlagSet("runtime", flag.ContinueOnError)

	cfg, err := ParseConfig(fs, nil)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Port != 8086 {
		t.Fatalf("port = %d, want 8086", cfg.Port)
	}
	if cfg.StatePolicy != "durable" {
		t.Fatalf("state policy = %q, want %q", cfg.StatePolicy, "durable")
	}
	if cfg.HotTTL != 15*time.Minute {
		t.Fatalf("hot ttl = %s, want 15m", cfg.HotTTL)
	}
}
