// Package brain tracks references to externally stored data and the
// provenance edges between them. The runtime never sees the data itself,
// only locations and lineage.
package brain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/cadenzahq/cadenza/internal/platform/errors"
	"github.com/cadenzahq/cadenza/internal/platform/id"
	"github.com/cadenzahq/cadenza/internal/services/runtime/storage"
)

// MaxLineageDepth caps how many hops a lineage walk follows.
const MaxLineageDepth = 10

// Brain is the provenance index over the reference store.
type Brain struct {
	store storage.ReferenceStore
}

// New builds a brain over a reference store.
func New(store storage.ReferenceStore) (*Brain, error) {
	if store == nil {
		return nil, fmt.Errorf("reference store is required")
	}
	return &Brain{store: store}, nil
}

// RegisterReference records a new data reference, assigning an id when the
// caller supplies none, and stores derived-from edges in the same call.
func (b *Brain) RegisterReference(ctx context.Context, ref storage.Reference, derivedFrom []string) (storage.Reference, error) {
	if b == nil || b.store == nil {
		return storage.Reference{}, fmt.Errorf("brain is not configured")
	}
	if strings.TrimSpace(ref.StorageLocation) == "" {
		return storage.Reference{}, apperrors.New(apperrors.CodeReferenceLocationEmpty, "storage location is required")
	}

	if strings.TrimSpace(ref.ID) == "" {
		refID, err := id.NewID()
		if err != nil {
			return storage.Reference{}, fmt.Errorf("generate reference id: %w", err)
		}
		ref.ID = refID
	}
	if ref.CreatedAt.IsZero() {
		ref.CreatedAt = time.Now().UTC()
	}

	// Parents must exist before an edge can point at them.
	for _, parent := range derivedFrom {
		if _, err := b.store.GetReference(ctx, parent); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return storage.Reference{}, apperrors.WithMetadata(apperrors.CodeReferenceNotFound, "derived-from reference does not exist", map[string]string{
					"reference_id": parent,
				})
			}
			return storage.Reference{}, err
		}
	}

	if err := b.store.PutReference(ctx, ref); err != nil {
		return storage.Reference{}, err
	}
	if len(derivedFrom) > 0 {
		edges := make([]storage.ReferenceEdge, 0, len(derivedFrom))
		for _, parent := range derivedFrom {
			edges = append(edges, storage.ReferenceEdge{ReferenceID: ref.ID, DerivedFrom: parent})
		}
		if err := b.store.PutReferenceEdges(ctx, edges); err != nil {
			return storage.Reference{}, err
		}
	}
	return ref, nil
}

// GetReference returns a reference by id.
func (b *Brain) GetReference(ctx context.Context, referenceID string) (storage.Reference, error) {
	if b == nil || b.store == nil {
		return storage.Reference{}, fmt.Errorf("brain is not configured")
	}
	ref, err := b.store.GetReference(ctx, referenceID)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.Reference{}, apperrors.WithMetadata(apperrors.CodeReferenceNotFound, "reference does not exist", map[string]string{
			"reference_id": referenceID,
		})
	}
	return ref, err
}

// TrackProvenance adds derived-from edges to an existing reference.
func (b *Brain) TrackProvenance(ctx context.Context, referenceID string, derivedFrom []string) error {
	if b == nil || b.store == nil {
		return fmt.Errorf("brain is not configured")
	}
	if _, err := b.GetReference(ctx, referenceID); err != nil {
		return err
	}

	edges := make([]storage.ReferenceEdge, 0, len(derivedFrom))
	for _, parent := range derivedFrom {
		if _, err := b.GetReference(ctx, parent); err != nil {
			return err
		}
		edges = append(edges, storage.ReferenceEdge{ReferenceID: referenceID, DerivedFrom: parent})
	}
	return b.store.PutReferenceEdges(ctx, edges)
}

// Hop is one level of a lineage walk.
type Hop struct {
	Depth      int                 `json:"depth"`
	References []storage.Reference `json:"references"`
}

// Lineage walks derived-from edges breadth first, up to maxDepth hops.
// Depth zero or anything above MaxLineageDepth clamps to MaxLineageDepth.
// Already visited references are not revisited, so diamond-shaped ancestry
// reports each ancestor once at its shallowest depth.
func (b *Brain) Lineage(ctx context.Context, referenceID string, maxDepth int) ([]Hop, error) {
	if b == nil || b.store == nil {
		return nil, fmt.Errorf("brain is not configured")
	}
	if maxDepth < 0 {
		return nil, apperrors.New(apperrors.CodeLineageDepthInvalid, "lineage depth must not be negative")
	}
	if maxDepth == 0 || maxDepth > MaxLineageDepth {
		maxDepth = MaxLineageDepth
	}

	if _, err := b.GetReference(ctx, referenceID); err != nil {
		return nil, err
	}

	visited := map[string]bool{referenceID: true}
	frontier := []string{referenceID}
	var hops []Hop

	for depth := 1; depth <= maxDepth && len(frontier) > 0; depth++ {
		var next []string
		var refs []storage.Reference
		for _, current := range frontier {
			parents, err := b.store.ListDerivedFrom(ctx, current)
			if err != nil {
				return nil, err
			}
			for _, parent := range parents {
				if visited[parent] {
					continue
				}
				visited[parent] = true
				ref, err := b.store.GetReference(ctx, parent)
				if err != nil {
					if errors.Is(err, storage.ErrNotFound) {
						continue
					}
					return nil, err
				}
				refs = append(refs, ref)
				next = append(next, parent)
			}
		}
		if len(refs) > 0 {
			hops = append(hops, Hop{Depth: depth, References: refs})
		}
		frontier = next
	}
	return hops, nil
}
