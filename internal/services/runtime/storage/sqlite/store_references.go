package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/cadenzahq/cadenza/internal/platform/errors"
	"github.com/cadenzahq/cadenza/internal/services/runtime/storage"
)

// PutReference inserts a data reference record.
func (s *Store) PutReference(ctx context.Context, ref storage.Reference) error {
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("reference store is not configured")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(ref.ID) == "" {
		return fmt.Errorf("reference id is required")
	}
	if strings.TrimSpace(ref.StorageLocation) == "" {
		return apperrors.New(apperrors.CodeReferenceLocationEmpty, "storage location is required")
	}
	if ref.CreatedAt.IsZero() {
		ref.CreatedAt = time.Now().UTC()
	}

	metadataJSON, err := encodeJSON(ref.Metadata)
	if err != nil {
		return fmt.Errorf("encode reference metadata: %w", err)
	}

	if _, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO data_references (
	id, tenant_id, storage_location, producing_execution_id, metadata_json, created_at
) VALUES (?, ?, ?, ?, ?, ?)
`,
		ref.ID,
		ref.TenantID,
		ref.StorageLocation,
		ref.ProducingExecution,
		metadataJSON,
		toMillis(ref.CreatedAt),
	); err != nil {
		if isConstraintError(err) {
			return fmt.Errorf("reference %s already exists: %w", ref.ID, err)
		}
		return fmt.Errorf("put reference: %w", err)
	}
	return nil
}

// GetReference returns a data reference by id.
func (s *Store) GetReference(ctx context.Context, referenceID string) (storage.Reference, error) {
	if s == nil || s.sqlDB == nil {
		return storage.Reference{}, fmt.Errorf("reference store is not configured")
	}
	if err := ctx.Err(); err != nil {
		return storage.Reference{}, err
	}

	var ref storage.Reference
	var metadataJSON string
	var createdAt int64
	err := s.sqlDB.QueryRowContext(ctx, `
SELECT id, tenant_id, storage_location, producing_execution_id, metadata_json, created_at
FROM data_references
WHERE id = ?
`, referenceID).Scan(
		&ref.ID,
		&ref.TenantID,
		&ref.StorageLocation,
		&ref.ProducingExecution,
		&metadataJSON,
		&createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.Reference{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.Reference{}, fmt.Errorf("get reference: %w", err)
	}
	metadata, err := decodeJSON(metadataJSON)
	if err != nil {
		return storage.Reference{}, fmt.Errorf("decode reference metadata: %w", err)
	}
	ref.Metadata = metadata
	ref.CreatedAt = fromMillis(createdAt)
	return ref, nil
}

// PutReferenceEdges records derived-from edges. Duplicate edges are ignored.
func (s *Store) PutReferenceEdges(ctx context.Context, edges []storage.ReferenceEdge) error {
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("reference store is not configured")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(edges) == 0 {
		return nil
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin reference edges: %w", err)
	}
	defer tx.Rollback()

	for _, edge := range edges {
		if strings.TrimSpace(edge.ReferenceID) == "" || strings.TrimSpace(edge.DerivedFrom) == "" {
			return fmt.Errorf("reference edge requires both ids")
		}
		createdAt := edge.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO reference_edges (reference_id, derived_from, created_at)
VALUES (?, ?, ?)
ON CONFLICT(reference_id, derived_from) DO NOTHING
`, edge.ReferenceID, edge.DerivedFrom, toMillis(createdAt)); err != nil {
			return fmt.Errorf("put reference edge: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit reference edges: %w", err)
	}
	return nil
}

// ListDerivedFrom returns the ids a reference was derived from.
func (s *Store) ListDerivedFrom(ctx context.Context, referenceID string) ([]string, error) {
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("reference store is not configured")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT derived_from
FROM reference_edges
WHERE reference_id = ?
ORDER BY derived_from ASC
`, referenceID)
	if err != nil {
		return nil, fmt.Errorf("list derived from: %w", err)
	}
	defer rows.Close()

	var parents []string
	for rows.Next() {
		var parent string
		if err := rows.Scan(&parent); err != nil {
			return nil, fmt.Errorf("scan reference edge: %w", err)
		}
		parents = append(parents, parent)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read reference edges: %w", err)
	}
	return parents, nil
}
