package brain

import (
	"context"
	"fmt"
	"testing"

	apperrors "github.com/cadenzahq/cadenza/internal/platform/errors"
	"github.com/cadenzahq/cadenza/internal/services/runtime/storage"
	"github.com/cadenzahq/cadenza/internal/services/runtime/storage/sqlite"
)

func newTestBrain(t *testing.T) *Brain {
	t.Helper()
	store, err := sqlite.Open(t.TempDir() + "/brain.db")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	b, err := New(store)
	if err != nil {
		t.Fatalf("new brain: %v", err)
	}
	return b
}

func TestRegisterAndGetReference(t *testing.T) {
	b := newTestBrain(t)
	ctx := context.Background()

	ref, err := b.RegisterReference(ctx, storage.Reference{
		TenantID:        "tenant-1",
		StorageLocation: "s3://bucket/object",
		Metadata:        map[string]any{"content_type": "text/csv"},
	}, nil)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if ref.ID == "" {
		t.Fatal("expected reference id to be assigned")
	}

	got, err := b.GetReference(ctx, ref.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.StorageLocation != "s3://bucket/object" {
		t.Fatalf("unexpected location %q", got.StorageLocation)
	}
}

func TestRegisterRejectsEmptyLocation(t *testing.T) {
	b := newTestBrain(t)

	_, err := b.RegisterReference(context.Background(), storage.Reference{TenantID: "tenant-1"}, nil)
	if apperrors.CodeOf(err) != apperrors.CodeReferenceLocationEmpty {
		t.Fatalf("expected CodeReferenceLocationEmpty, got %v", err)
	}
}

func TestRegisterRejectsUnknownParent(t *testing.T) {
	b := newTestBrain(t)

	_, err := b.RegisterReference(context.Background(), storage.Reference{
		TenantID:        "tenant-1",
		StorageLocation: "s3://bucket/child",
	}, []string{"missing"})
	if apperrors.CodeOf(err) != apperrors.CodeReferenceNotFound {
		t.Fatalf("expected CodeReferenceNotFound, got %v", err)
	}
}

// registerChain builds refs[0] <- refs[1] <- ... <- refs[n-1], each derived
// from the previous, and returns the ids in order.
func registerChain(t *testing.T, b *Brain, n int) []string {
	t.Helper()
	ctx := context.Background()
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		var parents []string
		if i > 0 {
			parents = []string{ids[i-1]}
		}
		ref, err := b.RegisterReference(ctx, storage.Reference{
			TenantID:        "tenant-1",
			StorageLocation: fmt.Sprintf("s3://bucket/%d", i),
		}, parents)
		if err != nil {
			t.Fatalf("register %d: %v", i, err)
		}
		ids = append(ids, ref.ID)
	}
	return ids
}

func TestLineageStopsAtMaxDepth(t *testing.T) {
	b := newTestBrain(t)
	ids := registerChain(t, b, 15)

	hops, err := b.Lineage(context.Background(), ids[len(ids)-1], 0)
	if err != nil {
		t.Fatalf("lineage: %v", err)
	}
	if len(hops) != MaxLineageDepth {
		t.Fatalf("expected %d hops, got %d", MaxLineageDepth, len(hops))
	}
	for i, hop := range hops {
		if hop.Depth != i+1 {
			t.Fatalf("expected depth %d, got %d", i+1, hop.Depth)
		}
		if len(hop.References) != 1 {
			t.Fatalf("expected one reference per hop, got %d at depth %d", len(hop.References), hop.Depth)
		}
	}
}

func TestLineageHonorsRequestedDepth(t *testing.T) {
	b := newTestBrain(t)
	ids := registerChain(t, b, 6)

	hops, err := b.Lineage(context.Background(), ids[len(ids)-1], 2)
	if err != nil {
		t.Fatalf("lineage: %v", err)
	}
	if len(hops) != 2 {
		t.Fatalf("expected 2 hops, got %d", len(hops))
	}
}

func TestLineageReportsDiamondAncestorsOnce(t *testing.T) {
	b := newTestBrain(t)
	ctx := context.Background()

	root, err := b.RegisterReference(ctx, storage.Reference{TenantID: "t", StorageLocation: "s3://b/root"}, nil)
	if err != nil {
		t.Fatalf("register root: %v", err)
	}
	left, err := b.RegisterReference(ctx, storage.Reference{TenantID: "t", StorageLocation: "s3://b/left"}, []string{root.ID})
	if err != nil {
		t.Fatalf("register left: %v", err)
	}
	right, err := b.RegisterReference(ctx, storage.Reference{TenantID: "t", StorageLocation: "s3://b/right"}, []string{root.ID})
	if err != nil {
		t.Fatalf("register right: %v", err)
	}
	child, err := b.RegisterReference(ctx, storage.Reference{TenantID: "t", StorageLocation: "s3://b/child"}, []string{left.ID, right.ID})
	if err != nil {
		t.Fatalf("register child: %v", err)
	}

	hops, err := b.Lineage(ctx, child.ID, 0)
	if err != nil {
		t.Fatalf("lineage: %v", err)
	}
	if len(hops) != 2 {
		t.Fatalf("expected 2 hops, got %d", len(hops))
	}
	if len(hops[0].References) != 2 {
		t.Fatalf("expected left and right at depth 1, got %d", len(hops[0].References))
	}
	if len(hops[1].References) != 1 {
		t.Fatalf("expected root exactly once at depth 2, got %d", len(hops[1].References))
	}
}

func TestTrackProvenanceOnExistingReference(t *testing.T) {
	b := newTestBrain(t)
	ctx := context.Background()

	parent, err := b.RegisterReference(ctx, storage.Reference{TenantID: "t", StorageLocation: "s3://b/parent"}, nil)
	if err != nil {
		t.Fatalf("register parent: %v", err)
	}
	child, err := b.RegisterReference(ctx, storage.Reference{TenantID: "t", StorageLocation: "s3://b/child"}, nil)
	if err != nil {
		t.Fatalf("register child: %v", err)
	}

	if err := b.TrackProvenance(ctx, child.ID, []string{parent.ID}); err != nil {
		t.Fatalf("track provenance: %v", err)
	}

	hops, err := b.Lineage(ctx, child.ID, 0)
	if err != nil {
		t.Fatalf("lineage: %v", err)
	}
	if len(hops) != 1 || len(hops[0].References) != 1 || hops[0].References[0].ID != parent.ID {
		t.Fatalf("expected parent at depth 1, got %+v", hops)
	}
}
