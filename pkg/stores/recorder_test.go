package stores

import (
	"context"
	"testing"
	"time"

	"github.com/openfroyo/flysim/pkg/sim"
)

func TestRecorderSessionHistory(t *testing.T) {
	store := setupTestStore(t)
	rec := NewRecorder(store, "oncall")
	ctx := context.Background()
	at := testStart

	if err := rec.RecordStart(ctx, "s-1", 99, at); err != nil {
		t.Fatalf("RecordStart: %v", err)
	}

	state := sim.NewState(sim.DefaultParams())
	inc := sim.Incident{
		ID:          "inc-1",
		Type:        sim.IncidentFlydStalled,
		Severity:    sim.SeverityHigh,
		WorkerID:    "worker-1",
		Title:       "flyd Process Stalled",
		CreatedAt:   at,
		IsFirstTime: true,
	}
	if err := rec.RecordIncident(ctx, "s-1", inc, 1); err != nil {
		t.Fatalf("RecordIncident: %v", err)
	}

	fb := &sim.Feedback{Kind: sim.FeedbackAction, Title: "flyd Restarting"}
	if err := rec.RecordAction(ctx, "s-1", sim.RestartFlyd("worker-1"), fb, false, state, at); err != nil {
		t.Fatalf("RecordAction: %v", err)
	}
	if err := rec.RecordAction(ctx, "s-1", sim.DrainWorker("worker-1"), nil, true, state, at); err != nil {
		t.Fatalf("RecordAction (denied): %v", err)
	}

	resolvedAt := at.Add(5 * time.Second)
	inc.Resolved = true
	inc.ResolvedAt = &resolvedAt
	if err := rec.RecordResolution(ctx, "s-1", inc); err != nil {
		t.Fatalf("RecordResolution: %v", err)
	}

	state.Day = 2
	if err := rec.RecordDay(ctx, "s-1", state, at); err != nil {
		t.Fatalf("RecordDay: %v", err)
	}

	sess, err := store.GetSession(ctx, "s-1")
	if err != nil {
		t.Fatalf("failed to get session: %v", err)
	}
	if sess.Seed != 99 || sess.Player != "oncall" || sess.Day != 2 {
		t.Errorf("unexpected session: %+v", sess)
	}

	incs, _ := store.ListIncidents(ctx, "s-1")
	if len(incs) != 1 || incs[0].ResolvedAt == nil || !incs[0].ResolvedAt.Equal(resolvedAt) {
		t.Errorf("incident not resolved: %+v", incs)
	}

	acts, _ := store.ListActions(ctx, "s-1", 10, 0)
	if len(acts) != 2 {
		t.Fatalf("expected 2 actions, got %d", len(acts))
	}
	if acts[0].Outcome != "action" || acts[0].Title != "flyd Restarting" {
		t.Errorf("unexpected first action: %+v", acts[0])
	}
	if acts[1].Outcome != "denied" || !acts[1].Denied {
		t.Errorf("unexpected denied action: %+v", acts[1])
	}
}

func TestRecorderEnd(t *testing.T) {
	tests := []struct {
		name       string
		ended      bool
		wantStatus SessionStatus
		wantRating bool
	}{
		{name: "completed", ended: true, wantStatus: SessionStatusCompleted, wantRating: true},
		{name: "abandoned", ended: false, wantStatus: SessionStatusAbandoned},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := setupTestStore(t)
			rec := NewRecorder(store, "")
			ctx := context.Background()

			if err := rec.RecordStart(ctx, "s-1", 1, testStart); err != nil {
				t.Fatalf("RecordStart: %v", err)
			}

			state := sim.NewState(sim.DefaultParams())
			state.Ended = tt.ended
			if tt.ended {
				state.Day = 8
				state.FinalRating = sim.RatingSage
			}
			if err := rec.RecordEnd(ctx, "s-1", state, testStart.Add(time.Hour)); err != nil {
				t.Fatalf("RecordEnd: %v", err)
			}

			sess, _ := store.GetSession(ctx, "s-1")
			if sess.Status != tt.wantStatus {
				t.Errorf("Status = %s, want %s", sess.Status, tt.wantStatus)
			}
			if (sess.FinalRating != nil) != tt.wantRating {
				t.Errorf("FinalRating = %v, want present=%v", sess.FinalRating, tt.wantRating)
			}
			if tt.wantRating && *sess.FinalRating != string(sim.RatingSage) {
				t.Errorf("FinalRating = %s", *sess.FinalRating)
			}
		})
	}
}
