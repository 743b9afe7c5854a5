package intent

import (
	"sync"

	apperrors "github.com/cadenzahq/cadenza/internal/platform/errors"
)

// Registry maps intent types to their handlers. Each type has exactly one
// canonical handler; registering a duplicate type is rejected.
//
// A registry is a constructed object so tests and tenant-specific runtimes
// can hold isolated registrations.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]registration
}

type registration struct {
	handler Handler
	spec    ParamSpec
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]registration)}
}

// Register binds a handler and its parameter spec to an intent type.
func (r *Registry) Register(intentType string, handler Handler, spec ParamSpec) error {
	if intentType == "" {
		return apperrors.New(apperrors.CodeIntentTypeEmpty, "intent type is required")
	}
	if handler == nil {
		return apperrors.WithMetadata(apperrors.CodeHandlerNil, "handler is required", map[string]string{
			"intent_type": intentType,
		})
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[intentType]; exists {
		return apperrors.WithMetadata(apperrors.CodeHandlerAlreadyRegistered, "handler already registered", map[string]string{
			"intent_type": intentType,
		})
	}
	r.handlers[intentType] = registration{handler: handler, spec: spec}
	return nil
}

// Resolve returns the handler for an intent type.
func (r *Registry) Resolve(intentType string) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reg, ok := r.handlers[intentType]
	if !ok {
		return nil, apperrors.WithMetadata(apperrors.CodeHandlerNotFound, "no handler registered", map[string]string{
			"intent_type": intentType,
		})
	}
	return reg.handler, nil
}

// Types returns the registered intent types in no particular order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.handlers))
	for intentType := range r.handlers {
		types = append(types, intentType)
	}
	return types
}

func (r *Registry) paramSpec(intentType string) (ParamSpec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reg, ok := r.handlers[intentType]
	return reg.spec, ok
}
