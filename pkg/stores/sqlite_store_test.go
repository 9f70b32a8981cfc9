package stores

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/fusionctl/fusionctl/pkg/engine"
)

// setupTestStore creates a migrated SQLite store in a temporary directory.
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := Open(context.Background(), filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStoreLifecycle(t *testing.T) {
	store, err := NewSQLiteStore(Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}
	// Migrating an up-to-date database is a no-op.
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("second migration failed: %v", err)
	}
	if err := store.HealthCheck(ctx); err != nil {
		t.Fatalf("health check failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}
}

func TestNewSQLiteStore_RequiresPath(t *testing.T) {
	if _, err := NewSQLiteStore(Config{}); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestHealthCheck_Uninitialized(t *testing.T) {
	store, _ := NewSQLiteStore(Config{Path: ":memory:"})
	if err := store.HealthCheck(context.Background()); err == nil {
		t.Fatal("expected error before Init")
	}
}

func TestSaveAndGetRun(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	log := NewChangeLog("configure", "fusion.yaml", engine.ModeWrite)
	log.SetTraceID("4bf92f3577b34da6a3ce929d0e0e4736")
	log.RecordChange(engine.Change{Kind: "collection", Scope: "products", Identity: "products", Action: engine.ActionAdd, Applied: true})
	log.RecordChange(engine.Change{Kind: "field", Scope: "products", Identity: "price", Action: engine.ActionReplace, Applied: true})
	run := log.Finish(engine.OutcomeReady.String(), nil)

	if err := store.SaveRun(ctx, run); err != nil {
		t.Fatalf("failed to save run: %v", err)
	}

	got, err := store.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("failed to get run: %v", err)
	}
	if got.Operation != "configure" || got.Source != "fusion.yaml" || got.Mode != "write" {
		t.Errorf("unexpected run: %+v", got)
	}
	if got.Outcome != "ready" {
		t.Errorf("expected outcome ready, got %s", got.Outcome)
	}
	if got.TraceID != "4bf92f3577b34da6a3ce929d0e0e4736" {
		t.Errorf("unexpected trace id %q", got.TraceID)
	}
	if got.Failed() {
		t.Errorf("run should not be failed: %v", *got.Error)
	}
	if got.CompletedAt == nil {
		t.Fatal("expected completion time")
	}
	if !got.StartedAt.Equal(run.StartedAt) {
		t.Errorf("started_at changed: %v != %v", got.StartedAt, run.StartedAt)
	}

	if len(got.Changes) != 2 {
		t.Fatalf("expected 2 changes, got %d", len(got.Changes))
	}
	if got.Changes[0].Identity != "products" || got.Changes[1].Identity != "price" {
		t.Errorf("changes out of order: %+v", got.Changes)
	}
	if got.Changes[1].Action != "replace" || !got.Changes[1].Applied {
		t.Errorf("unexpected change: %+v", got.Changes[1])
	}
}

func TestSaveRun_FailedRun(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	log := NewChangeLog("configure", "fusion.yaml", engine.ModeCheck)
	run := log.Finish("", errors.New("Fusion is not responding to status checks"))
	if err := store.SaveRun(ctx, run); err != nil {
		t.Fatalf("failed to save run: %v", err)
	}

	got, err := store.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("failed to get run: %v", err)
	}
	if !got.Failed() {
		t.Fatal("expected failed run")
	}
	if *got.Error != "Fusion is not responding to status checks" {
		t.Errorf("unexpected error %q", *got.Error)
	}
	if len(got.Changes) != 0 {
		t.Errorf("expected no changes, got %+v", got.Changes)
	}
}

func TestSaveRun_ReplacesExisting(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	log := NewChangeLog("configure", "a.yaml", engine.ModeWrite)
	log.RecordChange(engine.Change{Kind: "field", Identity: "a", Action: engine.ActionAdd})
	if err := store.SaveRun(ctx, log.Finish("differs", nil)); err != nil {
		t.Fatal(err)
	}
	log.RecordChange(engine.Change{Kind: "field", Identity: "b", Action: engine.ActionAdd})
	if err := store.SaveRun(ctx, log.Finish("ready", nil)); err != nil {
		t.Fatal(err)
	}

	got, err := store.GetRun(ctx, log.ID())
	if err != nil {
		t.Fatal(err)
	}
	if got.Outcome != "ready" || len(got.Changes) != 2 {
		t.Errorf("expected replaced run with 2 changes, got %s with %d", got.Outcome, len(got.Changes))
	}

	runs, err := store.ListRuns(ctx, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 {
		t.Errorf("expected 1 run, got %d", len(runs))
	}
}

func TestGetRun_NotFound(t *testing.T) {
	store := setupTestStore(t)

	_, err := store.GetRun(context.Background(), "missing")
	if !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}
}

func TestListRuns(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"run-1", "run-2", "run-3"} {
		run := &Run{
			ID:        id,
			Operation: "configure",
			Mode:      "check",
			StartedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := store.SaveRun(ctx, run); err != nil {
			t.Fatalf("failed to save %s: %v", id, err)
		}
	}

	runs, err := store.ListRuns(ctx, 2, 0)
	if err != nil {
		t.Fatalf("failed to list runs: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	if runs[0].ID != "run-3" || runs[1].ID != "run-2" {
		t.Errorf("expected newest first, got %s, %s", runs[0].ID, runs[1].ID)
	}
	if runs[0].CompletedAt != nil {
		t.Errorf("expected no completion time, got %v", runs[0].CompletedAt)
	}

	runs, err = store.ListRuns(ctx, 2, 2)
	if err != nil {
		t.Fatalf("failed to list runs: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != "run-1" {
		t.Errorf("unexpected second page: %+v", runs)
	}
}

func TestDeleteRunsBefore(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	old := &Run{
		ID:        "old",
		Operation: "configure",
		Mode:      "write",
		StartedAt: time.Now().Add(-48 * time.Hour),
		Changes:   []ChangeRecord{{Kind: "field", Identity: "a", Action: "add", RecordedAt: time.Now()}},
	}
	recent := &Run{ID: "recent", Operation: "configure", Mode: "write", StartedAt: time.Now()}
	for _, run := range []*Run{old, recent} {
		if err := store.SaveRun(ctx, run); err != nil {
			t.Fatal(err)
		}
	}

	deleted, err := store.DeleteRunsBefore(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("failed to prune: %v", err)
	}
	if deleted != 1 {
		t.Errorf("expected 1 deleted run, got %d", deleted)
	}
	if _, err := store.GetRun(ctx, "old"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("old run should be gone: %v", err)
	}

	var count int
	if err := store.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM changes WHERE run_id = 'old'`).Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("changes should cascade, %d left", count)
	}
}
