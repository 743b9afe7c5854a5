package intent

import (
	"context"
	"errors"
	"testing"

	apperrors "github.com/cadenzahq/cadenza/internal/platform/errors"
)

func noopHandler(_ context.Context, _ Intent, _ ExecutionContext) (Result, error) {
	return Result{}, nil
}

func newTestModel(t *testing.T) (*Model, *Registry) {
	t.Helper()
	registry := NewRegistry()
	if err := registry.Register("echo", noopHandler, ParamSpec{Required: []string{"message"}}); err != nil {
		t.Fatalf("register echo: %v", err)
	}
	return NewModel(registry), registry
}

func TestValidateMintsIntent(t *testing.T) {
	model, _ := newTestModel(t)

	in, err := model.Validate(Submission{
		IntentType: "echo",
		TenantID:   "tenant-1",
		Parameters: map[string]any{"message": "hello"},
	})
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if in.ID == "" {
		t.Fatal("expected intent id to be assigned")
	}
	if in.Type != "echo" || in.TenantID != "tenant-1" {
		t.Fatalf("unexpected intent identity: %+v", in)
	}
	if in.IdempotencyKey == "" {
		t.Fatal("expected idempotency key to be derived")
	}
	if in.CreatedAt.IsZero() {
		t.Fatal("expected created_at to be set")
	}
}

func TestValidateRejectsEmptyType(t *testing.T) {
	model, _ := newTestModel(t)

	_, err := model.Validate(Submission{TenantID: "tenant-1"})
	if apperrors.CodeOf(err) != apperrors.CodeIntentTypeEmpty {
		t.Fatalf("expected CodeIntentTypeEmpty, got %v", err)
	}
}

func TestValidateRejectsEmptyTenant(t *testing.T) {
	model, _ := newTestModel(t)

	_, err := model.Validate(Submission{IntentType: "echo"})
	if apperrors.CodeOf(err) != apperrors.CodeIntentTenantEmpty {
		t.Fatalf("expected CodeIntentTenantEmpty, got %v", err)
	}
}

func TestValidateRejectsUnknownType(t *testing.T) {
	model, _ := newTestModel(t)

	_, err := model.Validate(Submission{
		IntentType: "missing",
		TenantID:   "tenant-1",
	})
	if apperrors.CodeOf(err) != apperrors.CodeHandlerNotFound {
		t.Fatalf("expected CodeHandlerNotFound, got %v", err)
	}
}

func TestValidateRejectsMissingRequiredParameter(t *testing.T) {
	model, _ := newTestModel(t)

	_, err := model.Validate(Submission{
		IntentType: "echo",
		TenantID:   "tenant-1",
		Parameters: map[string]any{"other": 1},
	})
	if apperrors.CodeOf(err) != apperrors.CodeIntentParamsInvalid {
		t.Fatalf("expected CodeIntentParamsInvalid, got %v", err)
	}
}

func TestValidateRunsParamCheck(t *testing.T) {
	registry := NewRegistry()
	checkErr := errors.New("message too short")
	err := registry.Register("echo", noopHandler, ParamSpec{
		Required: []string{"message"},
		Check: func(params map[string]any) error {
			msg, _ := params["message"].(string)
			if len(msg) < 2 {
				return checkErr
			}
			return nil
		},
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	model := NewModel(registry)

	_, err = model.Validate(Submission{
		IntentType: "echo",
		TenantID:   "tenant-1",
		Parameters: map[string]any{"message": "x"},
	})
	if apperrors.CodeOf(err) != apperrors.CodeIntentParamsInvalid {
		t.Fatalf("expected CodeIntentParamsInvalid, got %v", err)
	}
	if !errors.Is(err, checkErr) {
		t.Fatalf("expected wrapped check error, got %v", err)
	}
}

func TestValidatePreservesCallerIdempotencyKey(t *testing.T) {
	model, _ := newTestModel(t)

	in, err := model.Validate(Submission{
		IntentType:     "echo",
		TenantID:       "tenant-1",
		Parameters:     map[string]any{"message": "hello"},
		IdempotencyKey: "caller-key",
	})
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if in.IdempotencyKey != "caller-key" {
		t.Fatalf("expected caller key to be preserved, got %q", in.IdempotencyKey)
	}
}

func TestDeriveIdempotencyKeyIsDeterministic(t *testing.T) {
	params := map[string]any{"b": 2, "a": "one", "nested": map[string]any{"z": true, "a": 1}}

	first, err := DeriveIdempotencyKey("echo", "tenant-1", params)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	second, err := DeriveIdempotencyKey("echo", "tenant-1", map[string]any{"nested": map[string]any{"a": 1, "z": true}, "a": "one", "b": 2})
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	if first != second {
		t.Fatalf("expected identical keys, got %q and %q", first, second)
	}

	other, err := DeriveIdempotencyKey("echo", "tenant-2", params)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	if other == first {
		t.Fatal("expected tenant to affect the derived key")
	}
}

func TestRegistryRejectsDuplicateType(t *testing.T) {
	_, registry := newTestModel(t)

	err := registry.Register("echo", noopHandler, ParamSpec{})
	if apperrors.CodeOf(err) != apperrors.CodeHandlerAlreadyRegistered {
		t.Fatalf("expected CodeHandlerAlreadyRegistered, got %v", err)
	}
}

func TestRegistryRejectsNilHandler(t *testing.T) {
	registry := NewRegistry()

	err := registry.Register("echo", nil, ParamSpec{})
	if apperrors.CodeOf(err) != apperrors.CodeHandlerNil {
		t.Fatalf("expected CodeHandlerNil, got %v", err)
	}
}

func TestRegistryResolveUnknownType(t *testing.T) {
	registry := NewRegistry()

	_, err := registry.Resolve("missing")
	if apperrors.CodeOf(err) != apperrors.CodeHandlerNotFound {
		t.Fatalf("expected CodeHandlerNotFound, got %v", err)
	}
}
