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

	t.Cleanup(func() { _ = store.Close() })
	return store
}

func createTestSession(t *testing.T, store *SQLiteStore, id string, started time.Time) *Session {
	t.Helper()

	sess := &Session{
		ID:        id,
		Seed:      42,
		Player:    "oncall",
		StartedAt: started,
		Uptime:    100,
	}
	if err := store.CreateSession(context.Background(), sess); err != nil {
		t.Fatalf("failed to create session: %v", err)
	}
	return sess
}

var testStart = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

// TestStoreLifecycle tests database initialization and closure
func TestStoreLifecycle(t *testing.T) {
	store, err := NewSQLiteStore(Config{
		Path: ":memory:",
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.HealthCheck(ctx); err == nil {
		t.Error("expected health check to fail before Init")
	}
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

func TestNewSQLiteStoreRequiresPath(t *testing.T) {
	if _, err := NewSQLiteStore(Config{}); err == nil {
		t.Error("expected an error without a path")
	}
}

// TestStoreMigrations checks that every table exists and migrating twice is harmless
func TestStoreMigrations(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("second migration failed: %v", err)
	}

	for _, table := range []string{"sessions", "incidents", "actions", "score_samples"} {
		var count int
		if err := store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count); err != nil {
			t.Errorf("table %s does not exist or is not accessible: %v", table, err)
		}
	}
}

func TestSessionCRUD(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	createTestSession(t, store, "s-1", testStart)

	got, err := store.GetSession(ctx, "s-1")
	if err != nil {
		t.Fatalf("failed to get session: %v", err)
	}
	if got.Status != SessionStatusActive || got.Day != 1 || got.Seed != 42 {
		t.Errorf("unexpected session: %+v", got)
	}
	if !got.StartedAt.Equal(testStart) {
		t.Errorf("StartedAt = %v, want %v", got.StartedAt, testStart)
	}
	if got.EndedAt != nil || got.FinalRating != nil {
		t.Error("fresh session should not be finished")
	}

	if err := store.UpdateSessionProgress(ctx, "s-1", 3, 91.5); err != nil {
		t.Fatalf("failed to update progress: %v", err)
	}
	got, _ = store.GetSession(ctx, "s-1")
	if got.Day != 3 || got.Uptime != 91.5 {
		t.Errorf("progress not stored: day=%d uptime=%v", got.Day, got.Uptime)
	}

	if err := store.DeleteSession(ctx, "s-1"); err != nil {
		t.Fatalf("failed to delete session: %v", err)
	}
	if _, err := store.GetSession(ctx, "s-1"); !IsNotFound(err) {
		t.Errorf("expected not found after delete, got %v", err)
	}
	if err := store.DeleteSession(ctx, "s-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("deleting twice = %v, want ErrNotFound", err)
	}
}

func TestListSessionsNewestFirst(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	createTestSession(t, store, "old", testStart)
	createTestSession(t, store, "new", testStart.Add(time.Hour))
	createTestSession(t, store, "mid", testStart.Add(time.Minute))

	sessions, err := store.ListSessions(ctx, 2, 0)
	if err != nil {
		t.Fatalf("failed to list sessions: %v", err)
	}
	if len(sessions) != 2 || sessions[0].ID != "new" || sessions[1].ID != "mid" {
		t.Errorf("unexpected order: %v", ids(sessions))
	}

	rest, _ := store.ListSessions(ctx, 10, 2)
	if len(rest) != 1 || rest[0].ID != "old" {
		t.Errorf("unexpected page: %v", ids(rest))
	}
}

func ids(sessions []*Session) []string {
	out := make([]string, len(sessions))
	for i, s := range sessions {
		out[i] = s.ID
	}
	return out
}

func TestFinishSession(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	createTestSession(t, store, "s-1", testStart)

	rating := "Competent Operator"
	final := &ScoreSample{Day: 8, Uptime: 96.5, SuccessfulMigrations: 4, FailedMigrations: 1, RiskyActions: 7}
	if err := store.FinishSession(ctx, "s-1", SessionStatusCompleted, &rating, final); err != nil {
		t.Fatalf("failed to finish session: %v", err)
	}

	got, _ := store.GetSession(ctx, "s-1")
	if got.Status != SessionStatusCompleted || got.EndedAt == nil {
		t.Errorf("session not closed: %+v", got)
	}
	if got.FinalRating == nil || *got.FinalRating != rating {
		t.Errorf("FinalRating = %v", got.FinalRating)
	}
	if got.Day != 8 || got.Uptime != 96.5 {
		t.Errorf("final progress not stored: day=%d uptime=%v", got.Day, got.Uptime)
	}
	if got.FinalScore == nil {
		t.Fatal("FinalScore not stored")
	}

	samples, _ := store.ListScoreSamples(ctx, "s-1")
	if len(samples) != 1 || samples[0].RiskyActions != 7 || samples[0].ID == 0 {
		t.Errorf("final sample not appended: %+v", samples)
	}

	if err := store.FinishSession(ctx, "missing", SessionStatusAbandoned, nil, nil); !IsNotFound(err) {
		t.Errorf("finishing a missing session = %v", err)
	}
}

func TestIncidentHistory(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	createTestSession(t, store, "s-1", testStart)

	for i, typ := range []string{"flyd_stalled", "kernel_panic"} {
		inc := &IncidentRecord{
			ID:        typ + "-1",
			SessionID: "s-1",
			Type:      typ,
			Severity:  "high",
			WorkerID:  "worker-1",
			Title:     typ,
			Day:       1,
			FirstTime: i == 0,
			CreatedAt: testStart.Add(time.Duration(i) * time.Second),
		}
		if err := store.RecordIncident(ctx, inc); err != nil {
			t.Fatalf("failed to record incident: %v", err)
		}
	}

	resolvedAt := testStart.Add(time.Minute)
	if err := store.ResolveIncident(ctx, "flyd_stalled-1", resolvedAt); err != nil {
		t.Fatalf("failed to resolve incident: %v", err)
	}
	if err := store.ResolveIncident(ctx, "flyd_stalled-1", resolvedAt.Add(time.Hour)); err != nil {
		t.Fatalf("second resolve failed: %v", err)
	}
	if err := store.ResolveIncident(ctx, "nope", resolvedAt); !IsNotFound(err) {
		t.Errorf("resolving a missing incident = %v", err)
	}

	incs, err := store.ListIncidents(ctx, "s-1")
	if err != nil {
		t.Fatalf("failed to list incidents: %v", err)
	}
	if len(incs) != 2 {
		t.Fatalf("expected 2 incidents, got %d", len(incs))
	}
	if !incs[0].FirstTime || incs[1].FirstTime {
		t.Error("first_time flag not preserved")
	}
	if incs[0].ResolvedAt == nil || !incs[0].ResolvedAt.Equal(resolvedAt) {
		t.Errorf("ResolvedAt = %v, want the first resolution time", incs[0].ResolvedAt)
	}
	if incs[1].ResolvedAt != nil {
		t.Error("unresolved incident has a resolution time")
	}
}

func TestActionAudit(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	createTestSession(t, store, "s-1", testStart)

	worker := "worker-1"
	actions := []*ActionRecord{
		{SessionID: "s-1", Intent: "RESTART_FLYD", WorkerID: &worker, Outcome: "action", Title: "flyd Restarting", Day: 1, TimeInDay: 12},
		{SessionID: "s-1", Intent: "DRAIN_WORKER", WorkerID: &worker, Outcome: "denied", Denied: true, Day: 1, TimeInDay: 13},
	}
	for _, a := range actions {
		if err := store.AppendAction(ctx, a); err != nil {
			t.Fatalf("failed to append action: %v", err)
		}
		if a.ID == 0 || a.Timestamp.IsZero() {
			t.Errorf("action not stamped: %+v", a)
		}
	}

	got, err := store.ListActions(ctx, "s-1", 10, 0)
	if err != nil {
		t.Fatalf("failed to list actions: %v", err)
	}
	if len(got) != 2 || got[0].Intent != "RESTART_FLYD" || !got[1].Denied {
		t.Errorf("unexpected audit trail: %+v", got)
	}
	if got[0].WorkerID == nil || *got[0].WorkerID != worker || got[0].IncidentID != nil {
		t.Errorf("target columns not preserved: %+v", got[0])
	}

	page, _ := store.ListActions(ctx, "s-1", 1, 1)
	if len(page) != 1 || page[0].Intent != "DRAIN_WORKER" {
		t.Errorf("unexpected page: %+v", page)
	}
}

func TestScoreSamplesUpdateProgress(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	createTestSession(t, store, "s-1", testStart)

	for day, uptime := range []float64{100, 97, 92} {
		if err := store.AppendScoreSample(ctx, &ScoreSample{SessionID: "s-1", Day: day + 2, Uptime: uptime}); err != nil {
			t.Fatalf("failed to append sample: %v", err)
		}
	}

	samples, err := store.ListScoreSamples(ctx, "s-1")
	if err != nil {
		t.Fatalf("failed to list samples: %v", err)
	}
	if len(samples) != 3 || samples[2].Day != 4 || samples[2].Uptime != 92 {
		t.Errorf("unexpected samples: %+v", samples)
	}

	sess, _ := store.GetSession(ctx, "s-1")
	if sess.Day != 4 || sess.Uptime != 92 {
		t.Errorf("session progress not updated: day=%d uptime=%v", sess.Day, sess.Uptime)
	}
}

// TestCascadeDelete tests foreign key cascading
func TestCascadeDelete(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	createTestSession(t, store, "s-1", testStart)

	if err := store.RecordIncident(ctx, &IncidentRecord{
		ID: "i-1", SessionID: "s-1", Type: "dns_failure", Severity: "low", Title: "dns", Day: 1, CreatedAt: testStart,
	}); err != nil {
		t.Fatalf("failed to record incident: %v", err)
	}
	if err := store.AppendAction(ctx, &ActionRecord{SessionID: "s-1", Intent: "INSPECT_LVM", Outcome: "success", Day: 1}); err != nil {
		t.Fatalf("failed to append action: %v", err)
	}

	if err := store.DeleteSession(ctx, "s-1"); err != nil {
		t.Fatalf("failed to delete session: %v", err)
	}

	incs, _ := store.ListIncidents(ctx, "s-1")
	acts, _ := store.ListActions(ctx, "s-1", 10, 0)
	if len(incs) != 0 || len(acts) != 0 {
		t.Errorf("history survived delete: %d incidents, %d actions", len(incs), len(acts))
	}
}

func TestForeignKeysEnforced(t *testing.T) {
	store := setupTestStore(t)
	err := store.AppendAction(context.Background(), &ActionRecord{SessionID: "ghost", Intent: "TICK", Outcome: "none"})
	if err == nil {
		t.Error("expected a foreign key violation for an unknown session")
	}
}
