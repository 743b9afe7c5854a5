package app

import (
	"context"
	"testing"

	"github.com/cadenzahq/cadenza/internal/services/runtime/domain/intent"
	"github.com/cadenzahq/cadenza/internal/services/runtime/state"
)

func TestParseStatePolicy(t *testing.T) {
	cases := []struct {
		raw     string
		want    state.WritePolicy
		wantErr bool
	}{
		{raw: "", want: state.WriteDurable},
		{raw: "durable", want: state.WriteDurable},
		{raw: " Ephemeral ", want: state.WriteEphemeral},
		{raw: "bogus", wantErr: true},
	}
	for _, tc := range cases {
		got, err := parseStatePolicy(tc.raw)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("parseStatePolicy(%q) expected error", tc.raw)
			}
			continue
		}
		if err != nil {
			t.Fatalf("parseStatePolicy(%q): %v", tc.raw, err)
		}
		if got != tc.want {
			t.Fatalf("parseStatePolicy(%q) = %q, want %q", tc.raw, got, tc.want)
		}
	}
}

func TestRegisterBuiltins(t *testing.T) {
	registry := intent.NewRegistry()
	if err := RegisterBuiltins(registry); err != nil {
		t.Fatalf("register builtins: %v", err)
	}
	for _, intentType := range []string{IntentEcho, IntentStatePut, IntentStateGet} {
		if _, err := registry.Resolve(intentType); err != nil {
			t.Fatalf("resolve %s: %v", intentType, err)
		}
	}
	if err := RegisterBuiltins(registry); err == nil {
		t.Fatal("expected duplicate registration to fail")
	}
}

func TestEchoHandlerEmitsEvent(t *testing.T) {
	result, err := echoHandler(context.Background(), intent.Intent{
		Parameters: map[string]any{"message": "ping"},
	}, nil)
	if err != nil {
		t.Fatalf("echo handler: %v", err)
	}
	if result.Artifacts["message"] != "ping" {
		t.Fatalf("artifact message = %v, want ping", result.Artifacts["message"])
	}
	if len(result.Events) != 1 || result.Events[0].Type != "core.echoed" {
		t.Fatalf("unexpected events: %+v", result.Events)
	}
}
