package directory

import (
	"context"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/pocsync/pocsync/internal/pipeline"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "pipelines.db"))
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func samplePipeline(name, path string) pipeline.Pipeline {
	return pipeline.New(name, "sample", map[string]any{
		"source": "webhook",
		"path":   path,
	}, []pipeline.Step{
		pipeline.NewStep("trigger", pipeline.StepTrigger, "pocsync.builtin", "pocsync.core.webhook_trigger", nil, 0),
		pipeline.NewStep("map", pipeline.StepAction, "pocsync.builtin", "pocsync.transform.map_fields",
			map[string]any{"mapping": map[string]any{"order_id": "id"}}, 1),
	})
}

func TestStoreSaveAndGet(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	p := samplePipeline("lazada orders", "/api/webhook/lazada")
	if err := store.SavePipeline(ctx, p); err != nil {
		t.Fatalf("SavePipeline() error = %v", err)
	}

	got, err := store.GetPipeline(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetPipeline() error = %v", err)
	}
	if got.Name != p.Name || got.Status != p.Status {
		t.Fatalf("GetPipeline() = %+v", got)
	}
	if !reflect.DeepEqual(got.Pattern, p.Pattern) {
		t.Fatalf("pattern = %v, want %v", got.Pattern, p.Pattern)
	}
	if len(got.Steps) != 2 || got.Steps[1].ActionName != "pocsync.transform.map_fields" {
		t.Fatalf("steps = %+v", got.Steps)
	}
	if !got.CreatedAt.Equal(p.CreatedAt) {
		t.Fatalf("created_at = %v, want %v", got.CreatedAt, p.CreatedAt)
	}
}

func TestStoreUpsert(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	p := samplePipeline("orders", "/api/webhook/shopee")
	if err := store.SavePipeline(ctx, p); err != nil {
		t.Fatalf("SavePipeline() error = %v", err)
	}

	updated := p.WithStatus(pipeline.StatusActive)
	if err := store.SavePipeline(ctx, updated); err != nil {
		t.Fatalf("SavePipeline() update error = %v", err)
	}

	got, err := store.GetPipeline(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetPipeline() error = %v", err)
	}
	if got.Status != pipeline.StatusActive {
		t.Fatalf("status = %s, want active after upsert", got.Status)
	}

	all, err := store.ListPipelines(ctx)
	if err != nil {
		t.Fatalf("ListPipelines() error = %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("ListPipelines() = %d rows, want 1", len(all))
	}
}

func TestStoreListAndDelete(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	a := samplePipeline("a pipeline", "/api/webhook/lazada")
	b := samplePipeline("b pipeline", "/api/webhook/shopee")
	for _, p := range []pipeline.Pipeline{b, a} {
		if err := store.SavePipeline(ctx, p); err != nil {
			t.Fatalf("SavePipeline() error = %v", err)
		}
	}

	all, err := store.ListPipelines(ctx)
	if err != nil {
		t.Fatalf("ListPipelines() error = %v", err)
	}
	if len(all) != 2 || all[0].Name != "a pipeline" {
		t.Fatalf("ListPipelines() = %+v", all)
	}

	if err := store.DeletePipeline(ctx, a.ID); err != nil {
		t.Fatalf("DeletePipeline() error = %v", err)
	}
	if err := store.DeletePipeline(ctx, a.ID); err == nil {
		t.Fatalf("DeletePipeline() twice = nil, want not found")
	}
}

func TestMemoryDirectory(t *testing.T) {
	m := NewMemory(samplePipeline("seeded", "/api/webhook/lazada"))
	m.Add(samplePipeline("added", "/api/webhook/shopee"))

	got, err := m.ListPipelines(context.Background())
	if err != nil {
		t.Fatalf("ListPipelines() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ListPipelines() = %d, want 2", len(got))
	}

	// The snapshot is independent of the directory.
	got[0].Name = "mutated"
	again, _ := m.ListPipelines(context.Background())
	if again[0].Name == "mutated" {
		t.Fatalf("snapshot aliases internal state")
	}
}
