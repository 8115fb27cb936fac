package stores

import (
	"context"
	"errors"
	"testing"
	"time"
)

// setupTestStore creates an in-memory SQLite store for testing
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(Config{
		Path: ":memory:",
	})
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

	t.Cleanup(func() { store.Close() })
	return store
}

func intPtr(n int) *int { return &n }

func TestStoreLifecycle(t *testing.T) {
	store, err := NewSQLiteStore(Config{
		Path: ":memory:",
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}

	if err := store.HealthCheck(ctx); err != nil {
		t.Fatalf("health check failed: %v", err)
	}

	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}
}

func TestStoreRequiresPath(t *testing.T) {
	if _, err := NewSQLiteStore(Config{}); err == nil {
		t.Error("empty path accepted")
	}
}

func TestDispatchAuditTrail(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	started := time.Now().UTC().Truncate(time.Millisecond)
	rec := &DispatchRecord{
		ID:        "req-1",
		Function:  "agents.restart",
		Policy:    "distributed_master",
		Broadcast: true,
		Targets:   `["worker-1","worker-2"]`,
		Status:    DispatchStatusRunning,
		StartedAt: started,
		CreatedAt: started,
	}
	if err := store.CreateDispatch(ctx, rec); err != nil {
		t.Fatalf("CreateDispatch: %v", err)
	}

	if err := store.FinishDispatch(ctx, "req-1", DispatchStatusPartial, intPtr(1701)); err != nil {
		t.Fatalf("FinishDispatch: %v", err)
	}

	got, err := store.GetDispatch(ctx, "req-1")
	if err != nil {
		t.Fatalf("GetDispatch: %v", err)
	}
	if got.Status != DispatchStatusPartial {
		t.Errorf("status = %s, want partial", got.Status)
	}
	if got.ErrorCode == nil || *got.ErrorCode != 1701 {
		t.Errorf("error code = %v, want 1701", got.ErrorCode)
	}
	if got.CompletedAt == nil || got.DurationMS == nil {
		t.Errorf("completion fields not set: %+v", got)
	}
	if got.Function != "agents.restart" || !got.Broadcast {
		t.Errorf("record = %+v", got)
	}
}

func TestFinishDispatchUnknownID(t *testing.T) {
	store := setupTestStore(t)

	err := store.FinishDispatch(context.Background(), "missing", DispatchStatusCompleted, nil)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestGetDispatchUnknownID(t *testing.T) {
	store := setupTestStore(t)

	_, err := store.GetDispatch(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestListDispatchesNewestFirst(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	for i, id := range []string{"req-a", "req-b", "req-c"} {
		rec := &DispatchRecord{
			ID:        id,
			Function:  "cluster.status",
			Policy:    "local_master",
			Targets:   "[]",
			Status:    DispatchStatusCompleted,
			StartedAt: base.Add(time.Duration(i) * time.Minute),
			CreatedAt: base,
		}
		if err := store.CreateDispatch(ctx, rec); err != nil {
			t.Fatalf("CreateDispatch(%s): %v", id, err)
		}
	}

	recs, err := store.ListDispatches(ctx, 2, 0)
	if err != nil {
		t.Fatalf("ListDispatches: %v", err)
	}
	if len(recs) != 2 || recs[0].ID != "req-c" || recs[1].ID != "req-b" {
		ids := []string{}
		for _, r := range recs {
			ids = append(ids, r.ID)
		}
		t.Errorf("order = %v, want [req-c req-b]", ids)
	}
}

func TestNodeResults(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	rec := &DispatchRecord{
		ID: "req-2", Function: "agents.upgrade", Policy: "distributed_master",
		Targets: `["worker-1","worker-2"]`, Status: DispatchStatusRunning,
		StartedAt: now, CreatedAt: now,
	}
	if err := store.CreateDispatch(ctx, rec); err != nil {
		t.Fatalf("CreateDispatch: %v", err)
	}

	msg := "agent 007 not found"
	results := []*NodeResult{
		{DispatchID: "req-2", Node: "worker-2", Success: false, ErrorCode: intPtr(1701), ErrorMessage: &msg, DurationMS: 40, Timestamp: now},
		{DispatchID: "req-2", Node: "worker-1", Success: true, DurationMS: 12, Timestamp: now},
	}
	for _, res := range results {
		if err := store.AppendNodeResult(ctx, res); err != nil {
			t.Fatalf("AppendNodeResult(%s): %v", res.Node, err)
		}
		if res.ID == 0 {
			t.Errorf("node result %s did not get an ID", res.Node)
		}
	}

	got, err := store.ListNodeResults(ctx, "req-2")
	if err != nil {
		t.Fatalf("ListNodeResults: %v", err)
	}
	if len(got) != 2 || got[0].Node != "worker-1" || got[1].Node != "worker-2" {
		t.Fatalf("results = %+v", got)
	}
	if !got[0].Success || got[1].Success {
		t.Errorf("success flags wrong: %+v", got)
	}
	if got[1].ErrorCode == nil || *got[1].ErrorCode != 1701 {
		t.Errorf("worker-2 error code = %v", got[1].ErrorCode)
	}
}

func TestNodeRegistry(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Millisecond)
	node := &NodeRecord{
		Name: "worker-1", Role: "worker", Address: "10.0.0.2:1516",
		Reachable: true, LastSeen: now,
	}
	if err := store.UpsertNode(ctx, node); err != nil {
		t.Fatalf("UpsertNode: %v", err)
	}

	// Upsert again with new address; the record is refreshed, not
	// duplicated.
	node.Address = "10.0.0.3:1516"
	node.Reachable = false
	if err := store.UpsertNode(ctx, node); err != nil {
		t.Fatalf("UpsertNode (update): %v", err)
	}

	got, err := store.GetNode(ctx, "worker-1")
	if err != nil {
		t.Fatalf("GetNode: %v", err)
	}
	if got.Address != "10.0.0.3:1516" || got.Reachable {
		t.Errorf("node = %+v", got)
	}

	nodes, err := store.ListNodes(ctx)
	if err != nil {
		t.Fatalf("ListNodes: %v", err)
	}
	if len(nodes) != 1 {
		t.Errorf("ListNodes returned %d records", len(nodes))
	}

	if err := store.DeleteNode(ctx, "worker-1"); err != nil {
		t.Fatalf("DeleteNode: %v", err)
	}
	if err := store.DeleteNode(ctx, "worker-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete = %v, want ErrNotFound", err)
	}
}

func TestStats(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	seed := []struct {
		id     string
		status DispatchStatus
	}{
		{"req-ok-1", DispatchStatusCompleted},
		{"req-ok-2", DispatchStatusCompleted},
		{"req-part", DispatchStatusPartial},
		{"req-bad", DispatchStatusFailed},
	}
	for _, sd := range seed {
		rec := &DispatchRecord{
			ID: sd.id, Function: "cluster.status", Policy: "local_master",
			Targets: "[]", Status: DispatchStatusRunning, StartedAt: now, CreatedAt: now,
		}
		if err := store.CreateDispatch(ctx, rec); err != nil {
			t.Fatalf("CreateDispatch(%s): %v", sd.id, err)
		}
		if err := store.FinishDispatch(ctx, sd.id, sd.status, nil); err != nil {
			t.Fatalf("FinishDispatch(%s): %v", sd.id, err)
		}
	}

	stats, err := store.Stats(ctx, now.Add(-time.Minute))
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Total != 4 || stats.Completed != 2 || stats.Partial != 1 || stats.Failed != 1 {
		t.Errorf("stats = %+v", stats)
	}

	empty, err := store.Stats(ctx, now.Add(time.Hour))
	if err != nil {
		t.Fatalf("Stats (future window): %v", err)
	}
	if empty.Total != 0 {
		t.Errorf("future window total = %d, want 0", empty.Total)
	}
}
