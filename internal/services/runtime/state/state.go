// Package state exposes the scoped key-value surface handlers read and
// write. Reads fall through from the hot tier to the cold tier; the write
// policy decides whether the cold tier participates.
package state

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/cadenzahq/cadenza/internal/services/runtime/hotstore"
	"github.com/cadenzahq/cadenza/internal/services/runtime/storage"
)

// WritePolicy selects which tiers a write touches.
type WritePolicy string

const (
	// WriteDurable lands the value in the cold store before mirroring it
	// into the hot tier. A durable write that returns nil survives a hot
	// tier loss.
	WriteDurable WritePolicy = "durable"
	// WriteEphemeral touches only the hot tier. The value may disappear
	// on expiry or restart.
	WriteEphemeral WritePolicy = "ephemeral"
)

// Scope identifies whose state a call addresses.
type Scope struct {
	TenantID string
	OwnerID  string
}

// Surface is the two-tier state facade.
type Surface struct {
	hot  *hotstore.Store
	cold storage.StateStore
}

// New builds a state surface over both tiers. The cold store may be nil for
// a purely ephemeral surface; durable writes then fail.
func New(hot *hotstore.Store, cold storage.StateStore) *Surface {
	return &Surface{hot: hot, cold: cold}
}

// Get reads a value, consulting the hot tier first and falling through to
// the cold tier on a miss. Cold hits are copied back into the hot tier so
// subsequent reads stay fast.
func (s *Surface) Get(ctx context.Context, scope Scope, key string) (any, bool, error) {
	if s == nil {
		return nil, false, fmt.Errorf("state surface is not configured")
	}

	if s.hot != nil {
		value, ok, err := s.hot.Get(ctx, scope.TenantID, scope.OwnerID, key)
		if err != nil {
			return nil, false, err
		}
		if ok {
			return value, true, nil
		}
	}

	if s.cold == nil {
		return nil, false, nil
	}
	entry, err := s.cold.GetStateEntry(ctx, scope.TenantID, scope.OwnerID, key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	if s.hot != nil {
		// Backfill failures only cost the next read a cold lookup.
		if err := s.hot.Set(ctx, scope.TenantID, scope.OwnerID, key, entry.Value); err != nil {
			log.Printf("state backfill failed for %s/%s/%s: %v", scope.TenantID, scope.OwnerID, key, err)
		}
	}
	return entry.Value, true, nil
}

// Set writes a value under the given policy.
func (s *Surface) Set(ctx context.Context, scope Scope, key string, value any, policy WritePolicy) error {
	if s == nil {
		return fmt.Errorf("state surface is not configured")
	}

	switch policy {
	case WriteDurable:
		if s.cold == nil {
			return fmt.Errorf("durable writes require a cold store")
		}
		if err := s.cold.PutStateEntry(ctx, storage.StateEntry{
			TenantID:  scope.TenantID,
			OwnerID:   scope.OwnerID,
			Key:       key,
			Value:     value,
			UpdatedAt: time.Now().UTC(),
		}); err != nil {
			return err
		}
		if s.hot != nil {
			if err := s.hot.Set(ctx, scope.TenantID, scope.OwnerID, key, value); err != nil {
				log.Printf("hot mirror failed for %s/%s/%s: %v", scope.TenantID, scope.OwnerID, key, err)
			}
		}
		return nil
	case WriteEphemeral:
		if s.hot == nil {
			return fmt.Errorf("ephemeral writes require a hot store")
		}
		return s.hot.Set(ctx, scope.TenantID, scope.OwnerID, key, value)
	}
	return fmt.Errorf("unknown write policy %q", policy)
}

// Delete removes a key from both tiers.
func (s *Surface) Delete(ctx context.Context, scope Scope, key string) error {
	if s == nil {
		return fmt.Errorf("state surface is not configured")
	}

	if s.cold != nil {
		if err := s.cold.DeleteStateEntry(ctx, scope.TenantID, scope.OwnerID, key); err != nil {
			return err
		}
	}
	if s.hot != nil {
		if err := s.hot.Delete(ctx, scope.TenantID, scope.OwnerID, key); err != nil {
			return err
		}
	}
	return nil
}
