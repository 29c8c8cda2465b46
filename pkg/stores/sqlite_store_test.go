package stores

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/openberth/berth/pkg/engine"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("Unexpected error creating store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("Unexpected error initializing store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("Unexpected error migrating store: %v", err)
	}
	return store
}

func testRun(id string, startedAt time.Time) *Run {
	return &Run{
		ID:        id,
		HostIP:    "10.0.0.5",
		HostPort:  8080,
		HostType:  "all",
		Status:    RunStatusRunning,
		StartedAt: startedAt,
	}
}

func TestNewSQLiteStore_RequiresPath(t *testing.T) {
	if _, err := NewSQLiteStore(""); err == nil {
		t.Fatal("Expected an error for an empty path")
	}
}

func TestCreateAndGetRun(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	run := testRun("run-1", time.Now())
	if err := store.CreateRun(ctx, run); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	got, err := store.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if got.HostIP != "10.0.0.5" || got.HostPort != 8080 || got.HostType != "all" {
		t.Errorf("Expected host identity round-tripped, got %+v", got)
	}
	if got.Status != RunStatusRunning {
		t.Errorf("Expected running status, got %s", got.Status)
	}
	if got.CompletedAt != nil {
		t.Error("Expected no completion timestamp on a running run")
	}
}

func TestGetRun_NotFound(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.GetRun(context.Background(), "absent"); err == nil {
		t.Fatal("Expected an error for a missing run")
	}
}

func TestCompleteRun_StampsCompletion(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.CreateRun(ctx, testRun("run-1", time.Now())); err != nil {
		t.Fatal(err)
	}

	errMsg := "one unit failed"
	if err := store.CompleteRun(ctx, "run-1", RunStatusFailed, &errMsg); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	got, err := store.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != RunStatusFailed {
		t.Errorf("Expected failed status, got %s", got.Status)
	}
	if got.CompletedAt == nil {
		t.Error("Expected completion timestamp set")
	}
	if got.Error == nil || *got.Error != "one unit failed" {
		t.Errorf("Expected the pipeline error recorded, got %v", got.Error)
	}
}

func TestCompleteRun_MissingRunFails(t *testing.T) {
	store := newTestStore(t)
	if err := store.CompleteRun(context.Background(), "absent", RunStatusCompleted, nil); err == nil {
		t.Fatal("Expected an error completing a missing run")
	}
}

func TestListRuns_NewestFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Now()
	for i, id := range []string{"run-old", "run-mid", "run-new"} {
		if err := store.CreateRun(ctx, testRun(id, base.Add(time.Duration(i)*time.Hour))); err != nil {
			t.Fatal(err)
		}
	}

	runs, err := store.ListRuns(ctx, 10, 0)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(runs) != 3 {
		t.Fatalf("Expected 3 runs, got %d", len(runs))
	}
	if runs[0].ID != "run-new" || runs[2].ID != "run-old" {
		t.Errorf("Expected newest-first ordering, got %s, %s, %s", runs[0].ID, runs[1].ID, runs[2].ID)
	}

	limited, err := store.ListRuns(ctx, 1, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 1 || limited[0].ID != "run-mid" {
		t.Errorf("Expected pagination to return run-mid, got %+v", limited)
	}
}

func TestAppendStageEvent_AssignsIDAndOrders(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.CreateRun(ctx, testRun("run-1", time.Now())); err != nil {
		t.Fatal(err)
	}

	stages := []string{"teardown", "apply", "verify"}
	for _, stage := range stages {
		event := &StageEvent{
			RunID:     "run-1",
			Identity:  "web",
			Kind:      "container",
			Stage:     stage,
			Status:    "success",
			Timestamp: time.Now(),
		}
		if err := store.AppendStageEvent(ctx, event); err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if event.ID == 0 {
			t.Error("Expected an assigned event ID")
		}
	}

	events, err := store.ListStageEventsByRun(ctx, "run-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 3 {
		t.Fatalf("Expected 3 events, got %d", len(events))
	}
	for i, stage := range stages {
		if events[i].Stage != stage {
			t.Errorf("Expected event %d to be %s, got %s", i, stage, events[i].Stage)
		}
	}
}

func TestRecordOutcome_RoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.CreateRun(ctx, testRun("run-1", time.Now())); err != nil {
		t.Fatal(err)
	}

	outcome := &engine.DeploymentOutcome{
		Kind:       engine.KindContainer,
		Identity:   "web",
		Status:     engine.StatusFailure,
		Stage:      engine.StageVerify,
		Message:    "did not converge",
		FinalState: engine.StatePresentStopped,
		StartedAt:  time.Now(),
		Duration:   2500 * time.Millisecond,
	}
	if err := store.RecordOutcome(ctx, "run-1", outcome); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	records, err := store.ListOutcomesByRun(ctx, "run-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 {
		t.Fatalf("Expected 1 record, got %d", len(records))
	}

	r := records[0]
	if r.Kind != "container" || r.Identity != "web" {
		t.Errorf("Expected unit identity recorded, got %+v", r)
	}
	if r.Status != "failure" || r.Stage != "verify" || r.FinalState != "present-stopped" {
		t.Errorf("Expected outcome fields recorded, got %+v", r)
	}
	if r.DurationMS != 2500 {
		t.Errorf("Expected duration 2500ms, got %d", r.DurationMS)
	}
}

func TestPruneBefore_CascadesToEventsAndOutcomes(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	old := testRun("run-old", time.Now().Add(-48*time.Hour))
	recent := testRun("run-new", time.Now())
	if err := store.CreateRun(ctx, old); err != nil {
		t.Fatal(err)
	}
	if err := store.CreateRun(ctx, recent); err != nil {
		t.Fatal(err)
	}

	event := &StageEvent{RunID: "run-old", Identity: "web", Kind: "container", Stage: "apply", Status: "success", Timestamp: time.Now()}
	if err := store.AppendStageEvent(ctx, event); err != nil {
		t.Fatal(err)
	}
	outcome := &engine.DeploymentOutcome{Kind: engine.KindContainer, Identity: "web", Status: engine.StatusSuccess, Stage: engine.StageVerify, FinalState: engine.StatePresentRunning, StartedAt: time.Now()}
	if err := store.RecordOutcome(ctx, "run-old", outcome); err != nil {
		t.Fatal(err)
	}

	pruned, err := store.PruneBefore(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if pruned != 1 {
		t.Errorf("Expected 1 run pruned, got %d", pruned)
	}

	if _, err := store.GetRun(ctx, "run-old"); err == nil {
		t.Error("Expected the old run gone")
	}
	if _, err := store.GetRun(ctx, "run-new"); err != nil {
		t.Errorf("Expected the recent run kept, got %v", err)
	}

	events, err := store.ListStageEventsByRun(ctx, "run-old")
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 0 {
		t.Errorf("Expected cascaded event deletion, got %d events", len(events))
	}
	records, err := store.ListOutcomesByRun(ctx, "run-old")
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 0 {
		t.Errorf("Expected cascaded record deletion, got %d records", len(records))
	}
}

func TestHealthCheck(t *testing.T) {
	store := newTestStore(t)
	if err := store.HealthCheck(context.Background()); err != nil {
		t.Errorf("Unexpected health check error: %v", err)
	}

	uninitialized := &SQLiteStore{path: "x"}
	if err := uninitialized.HealthCheck(context.Background()); err == nil {
		t.Error("Expected an error before Init")
	}
}

func TestMigrate_IsIdempotent(t *testing.T) {
	store := newTestStore(t)
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("Expected a second migration to be a no-op, got %v", err)
	}
}
