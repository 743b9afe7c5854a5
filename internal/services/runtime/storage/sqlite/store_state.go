package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/cadenzahq/cadenza/internal/platform/errors"
	"github.com/cadenzahq/cadenza/internal/services/runtime/storage"
)

func validateStateScope(tenantID, ownerID, key string) error {
	if strings.TrimSpace(tenantID) == "" || strings.TrimSpace(ownerID) == "" {
		return apperrors.New(apperrors.CodeStateScopeEmpty, "state scope requires tenant and owner")
	}
	if strings.TrimSpace(key) == "" {
		return apperrors.New(apperrors.CodeStateKeyEmpty, "state key is required")
	}
	return nil
}

// PutStateEntry inserts or replaces a cold state entry.
func (s *Store) PutStateEntry(ctx context.Context, entry storage.StateEntry) error {
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("state store is not configured")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateStateScope(entry.TenantID, entry.OwnerID, entry.Key); err != nil {
		return err
	}

	valueJSON, err := json.Marshal(entry.Value)
	if err != nil {
		return fmt.Errorf("encode state value: %w", err)
	}
	if entry.UpdatedAt.IsZero() {
		entry.UpdatedAt = time.Now().UTC()
	}

	_, err = s.sqlDB.ExecContext(ctx, `
INSERT INTO state_entries (tenant_id, owner_id, key, value_json, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(tenant_id, owner_id, key) DO UPDATE SET
	value_json = excluded.value_json,
	updated_at = excluded.updated_at
`,
		entry.TenantID,
		entry.OwnerID,
		entry.Key,
		string(valueJSON),
		toMillis(entry.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("put state entry: %w", err)
	}
	return nil
}

// GetStateEntry returns a cold state entry.
func (s *Store) GetStateEntry(ctx context.Context, tenantID, ownerID, key string) (storage.StateEntry, error) {
	if s == nil || s.sqlDB == nil {
		return storage.StateEntry{}, fmt.Errorf("state store is not configured")
	}
	if err := ctx.Err(); err != nil {
		return storage.StateEntry{}, err
	}
	if err := validateStateScope(tenantID, ownerID, key); err != nil {
		return storage.StateEntry{}, err
	}

	var valueJSON string
	var updatedAt int64
	err := s.sqlDB.QueryRowContext(ctx, `
SELECT value_json, updated_at
FROM state_entries
WHERE tenant_id = ? AND owner_id = ? AND key = ?
`, tenantID, ownerID, key).Scan(&valueJSON, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.StateEntry{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.StateEntry{}, fmt.Errorf("get state entry: %w", err)
	}

	var value any
	if err := json.Unmarshal([]byte(valueJSON), &value); err != nil {
		return storage.StateEntry{}, fmt.Errorf("decode state value: %w", err)
	}
	return storage.StateEntry{
		TenantID:  tenantID,
		OwnerID:   ownerID,
		Key:       key,
		Value:     value,
		UpdatedAt: fromMillis(updatedAt),
	}, nil
}

// DeleteStateEntry removes a cold state entry. Missing entries are ignored.
func (s *Store) DeleteStateEntry(ctx context.Context, tenantID, ownerID, key string) error {
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("state store is not configured")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateStateScope(tenantID, ownerID, key); err != nil {
		return err
	}

	if _, err := s.sqlDB.ExecContext(ctx, `
DELETE FROM state_entries
WHERE tenant_id = ? AND owner_id = ? AND key = ?
`, tenantID, ownerID, key); err != nil {
		return fmt.Errorf("delete state entry: %w", err)
	}
	return nil
}
