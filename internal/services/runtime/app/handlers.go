package app

import (
	"context"
	"fmt"

	"github.com/cadenzahq/cadenza/internal/services/runtime/domain/intent"
)

// Built-in intent types available on every runtime deployment.
const (
	IntentEcho     = "core.echo"
	IntentStatePut = "core.state.put"
	IntentStateGet = "core.state.get"
)

// RegisterBuiltins installs the diagnostic intent handlers every deployment
// carries. Embedding applications register their own types on top.
func RegisterBuiltins(registry *intent.Registry) error {
	if registry == nil {
		return fmt.Errorf("registry is required")
	}
	if err := registry.Register(IntentEcho, echoHandler, intent.ParamSpec{
		Required: []string{"message"},
	}); err != nil {
		return err
	}
	if err := registry.Register(IntentStatePut, statePutHandler, intent.ParamSpec{
		Required: []string{"key", "value"},
	}); err != nil {
		return err
	}
	return registry.Register(IntentStateGet, stateGetHandler, intent.ParamSpec{
		Required: []string{"key"},
	})
}

// echoHandler reflects the submitted message back and emits one event. It
// exists so operators can exercise the full submit path on a fresh deploy.
func echoHandler(ctx context.Context, in intent.Intent, exec intent.ExecutionContext) (intent.Result, error) {
	message := in.Parameters["message"]
	return intent.Result{
		Artifacts: map[string]any{"message": message},
		Events: []intent.DomainEvent{
			{Type: "core.echoed", Payload: map[string]any{"message": message}},
		},
	}, nil
}

func statePutHandler(ctx context.Context, in intent.Intent, exec intent.ExecutionContext) (intent.Result, error) {
	key, ok := in.Parameters["key"].(string)
	if !ok || key == "" {
		return intent.Result{}, fmt.Errorf("parameter key must be a non-empty string")
	}
	if err := exec.SetState(ctx, key, in.Parameters["value"]); err != nil {
		return intent.Result{}, fmt.Errorf("write state %s: %w", key, err)
	}
	return intent.Result{
		Artifacts: map[string]any{"key": key},
		Events: []intent.DomainEvent{
			{Type: "core.state_written", Payload: map[string]any{"key": key}},
		},
	}, nil
}

func stateGetHandler(ctx context.Context, in intent.Intent, exec intent.ExecutionContext) (intent.Result, error) {
	key, ok := in.Parameters["key"].(string)
	if !ok || key == "" {
		return intent.Result{}, fmt.Errorf("parameter key must be a non-empty string")
	}
	value, found, err := exec.GetState(ctx, key)
	if err != nil {
		return intent.Result{}, fmt.Errorf("read state %s: %w", key, err)
	}
	return intent.Result{
		Artifacts: map[string]any{"key": key, "value": value, "found": found},
	}, nil
}
