package sim

import (
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestRestartFlyd(t *testing.T) {
	s := startedState(t)
	var cleared []string
	for _, typ := range []IncidentType{IncidentFlydStalled, IncidentContainerdSync, IncidentMemoryLeak, IncidentConfigCorruption} {
		var id string
		s, id = withIncident(t, s, typ, t0)
		cleared = append(cleared, id)
	}
	s, panicID := withIncident(t, s, IncidentKernelPanic, t0)
	s = Reduce(s, AddIncident(Incident{Type: IncidentFlydStalled, WorkerID: "worker-2"}), testEnv(t0))
	elsewhere := s.Incidents[len(s.Incidents)-1].ID

	s = Reduce(s, RestartFlyd("worker-1"), testEnv(t0))

	for _, id := range cleared {
		if inc, _ := s.Incident(id); !inc.Resolved {
			t.Errorf("%s (%s) not resolved by restart", id, inc.Type)
		}
	}
	if inc, _ := s.Incident(panicID); inc.Resolved {
		t.Error("kernel_panic resolved by a flyd restart")
	}
	if inc, _ := s.Incident(elsewhere); inc.Resolved {
		t.Error("incident on another worker resolved")
	}
	w, _ := s.Worker("worker-1")
	if w.FlydStatus != FlydRestarting || w.RestartStartedAt == nil || !w.RestartStartedAt.Equal(t0) {
		t.Errorf("worker flyd = %s started %v", w.FlydStatus, w.RestartStartedAt)
	}
	if s.Score.RiskyActions != 1 {
		t.Errorf("RiskyActions = %d, want 1", s.Score.RiskyActions)
	}
	if s.Feedback == nil || s.Feedback.Kind != FeedbackAction || !strings.Contains(s.Feedback.Message, "3 seconds") {
		t.Errorf("feedback = %+v", s.Feedback)
	}
}

func TestDrainWorker(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		s := startedState(t)
		s, dnsID := withIncident(t, s, IncidentDNSFailure, t0)
		s, hwID := withIncident(t, s, IncidentHardwareDegradation, t0)

		s = Reduce(s, DrainWorker("worker-1"), testEnv(t0, 0.0))

		w, _ := s.Worker("worker-1")
		if w.Status != WorkerDegraded || w.NetworkStatus != NetworkConnected {
			t.Errorf("worker = %s/%s, want degraded/connected", w.Status, w.NetworkStatus)
		}
		if len(w.ActiveFSMs) != 1 {
			t.Fatalf("ActiveFSMs = %d, want 1", len(w.ActiveFSMs))
		}
		op := w.ActiveFSMs[0]
		if op.Type != OperationMigration || op.State != StatePending || op.Progress != 0 || !op.StartedAt.Equal(t0) {
			t.Errorf("op = %+v", op)
		}
		if s.Score.RiskyActions != 1 || s.Score.FailedMigrations != 0 {
			t.Errorf("score = %+v", s.Score)
		}
		if inc, _ := s.Incident(hwID); !inc.Resolved {
			t.Error("drain-requiring incident not resolved")
		}
		if inc, _ := s.Incident(dnsID); inc.Resolved {
			t.Error("unrelated incident resolved by drain")
		}
		if s.Feedback.Kind != FeedbackWarning || !strings.Contains(s.Feedback.Message, "All 12 machines") {
			t.Errorf("feedback = %+v", s.Feedback)
		}
	})

	t.Run("failure", func(t *testing.T) {
		s := startedState(t)
		s, hwID := withIncident(t, s, IncidentHardwareDegradation, t0)
		s = Reduce(s, DrainWorker("worker-1"), testEnv(t0, 0.95))

		w, _ := s.Worker("worker-1")
		if w.Status != WorkerCritical {
			t.Errorf("Status = %s, want critical", w.Status)
		}
		if len(w.ActiveFSMs) != 1 || w.ActiveFSMs[0].State != StateErrorRecovery {
			t.Fatalf("ActiveFSMs = %+v", w.ActiveFSMs)
		}
		if s.Score.FailedMigrations != 1 || s.Score.RiskyActions != 1 {
			t.Errorf("score = %+v", s.Score)
		}
		if inc, _ := s.Incident(hwID); inc.Resolved {
			t.Error("failed drain resolved an incident")
		}
		if s.Feedback.Kind != FeedbackError {
			t.Errorf("feedback kind = %s", s.Feedback.Kind)
		}
	})
}

func TestReadOnlyChecks(t *testing.T) {
	tests := []struct {
		name       string
		containerd ContainerdHealth
		disk       float64
		intent     Intent
		wantKind   FeedbackKind
		wantText   string
	}{
		{"containerd healthy", ContainerdHealthy, 50, CheckContainerd("worker-1"), FeedbackAction, "Status: healthy. All container operations normal."},
		{"containerd degraded", ContainerdDegraded, 50, CheckContainerd("worker-1"), FeedbackAction, "Lease mismatch detected"},
		{"containerd failed", ContainerdFailed, 50, CheckContainerd("worker-1"), FeedbackAction, "not responding"},
		{"lvm ok", ContainerdHealthy, 78, InspectLVM("worker-1"), FeedbackAction, "Disk usage: 78.0%. LVM volumes healthy."},
		{"lvm high", ContainerdHealthy, 85, InspectLVM("worker-1"), FeedbackWarning, "WARNING: High disk usage."},
		{"lvm full", ContainerdHealthy, 95.5, InspectLVM("worker-1"), FeedbackError, "Disk usage: 95.5%. CRITICAL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := startedState(t)
			s.Workers[0].ContainerdHealth = tt.containerd
			s.Workers[0].Disk = tt.disk

			got := Reduce(s, tt.intent, testEnv(t0))

			if got.Feedback == nil || got.Feedback.Kind != tt.wantKind {
				t.Fatalf("feedback = %+v, want kind %s", got.Feedback, tt.wantKind)
			}
			if !strings.Contains(got.Feedback.Message, tt.wantText) {
				t.Errorf("message %q does not contain %q", got.Feedback.Message, tt.wantText)
			}
			got.Feedback = s.Feedback
			if !reflect.DeepEqual(got, s) {
				t.Error("read-only check changed more than the feedback")
			}
		})
	}
}

func TestInvestigateAndLogsAreIdempotent(t *testing.T) {
	s := startedState(t)
	s, id := withIncident(t, s, IncidentMemoryLeak, t0)

	for _, in := range []Intent{Investigate(id), ViewLogs(id)} {
		once := Step(s, in, testEnv(t0))
		if !once.Changed {
			t.Fatalf("%s had no effect", in.Kind)
		}
		twice := Step(once.State, in, testEnv(t0.Add(time.Second)))
		if twice.Changed || !reflect.DeepEqual(twice.State, once.State) {
			t.Errorf("%s applied twice changed state", in.Kind)
		}
		s = once.State
	}

	inc, _ := s.Incident(id)
	if !inc.Investigated || !inc.LogViewed {
		t.Errorf("flags = investigated %v logViewed %v", inc.Investigated, inc.LogViewed)
	}
	if s.Feedback.Title != "flyd Logs Retrieved" || !strings.Contains(s.Feedback.Message, "2.8GB") {
		t.Errorf("feedback = %+v", s.Feedback)
	}
}

func TestForceTransition(t *testing.T) {
	t.Run("failure", func(t *testing.T) {
		s := startedState(t)
		s, id := withIncident(t, s, IncidentMigrationStuck, t0)
		s = Reduce(s, ForceTransition(id), testEnv(t0, 0.9))

		if inc, _ := s.Incident(id); inc.Resolved {
			t.Error("incident resolved on failed force")
		}
		if s.Score.FailedMigrations != 1 || s.Score.RiskyActions != 2 {
			t.Errorf("score = %+v, want failed 1 risky 2", s.Score)
		}
		if s.Feedback.Kind != FeedbackError {
			t.Errorf("feedback kind = %s", s.Feedback.Kind)
		}
	})

	t.Run("success", func(t *testing.T) {
		s := startedState(t)
		s, id := withIncident(t, s, IncidentMigrationStuck, t0)
		s = Reduce(s, ForceTransition(id), testEnv(t0, 0.1))

		if inc, _ := s.Incident(id); !inc.Resolved {
			t.Error("incident not resolved on successful force")
		}
		if s.Score.FailedMigrations != 0 || s.Score.SuccessfulMigrations != 0 || s.Score.RiskyActions != 2 {
			t.Errorf("score = %+v", s.Score)
		}
	})

	t.Run("resolved incident is left alone", func(t *testing.T) {
		s := startedState(t)
		s, id := withIncident(t, s, IncidentMigrationStuck, t0)
		s = Reduce(s, ForceTransition(id), testEnv(t0, 0.1))
		if res := Step(s, ForceTransition(id), testEnv(t0, 0.9)); res.Changed {
			t.Error("force on a resolved incident changed state")
		}
	})
}

func TestQuickFix(t *testing.T) {
	tests := []struct {
		name         string
		typ          IncidentType
		investigated bool
		draws        []float64
		check        func(t *testing.T, s State, id string)
	}{
		{
			name:  "direct fix succeeds",
			typ:   IncidentDNSFailure,
			draws: []float64{0.1},
			check: func(t *testing.T, s State, id string) {
				if inc, _ := s.Incident(id); !inc.Resolved {
					t.Error("not resolved")
				}
				if s.Score.SuccessfulMigrations != 1 || s.Score.RiskyActions != 0 {
					t.Errorf("score = %+v", s.Score)
				}
				if w, _ := s.Worker("worker-1"); w.FlydStatus != FlydRunning {
					t.Errorf("flyd = %s, an instant fix must not restart", w.FlydStatus)
				}
				if s.Feedback.Title != "Quick Fix Applied" || !strings.Contains(s.Feedback.Message, "Flush DNS cache") {
					t.Errorf("feedback = %+v", s.Feedback)
				}
			},
		},
		{
			name:  "direct fix fails",
			typ:   IncidentDNSFailure,
			draws: []float64{0.3},
			check: func(t *testing.T, s State, id string) {
				if inc, _ := s.Incident(id); inc.Resolved {
					t.Error("resolved on failure")
				}
				if s.Score.FailedMigrations != 1 {
					t.Errorf("score = %+v", s.Score)
				}
				if s.Feedback.Kind != FeedbackWarning || s.Feedback.Title != "Quick Fix Failed" {
					t.Errorf("feedback = %+v", s.Feedback)
				}
			},
		},
		{
			name:         "investigation bonus can guarantee success",
			typ:          IncidentStorageCorruption,
			investigated: true,
			draws:        []float64{0.89},
			check: func(t *testing.T, s State, id string) {
				if inc, _ := s.Incident(id); !inc.Resolved {
					t.Error("investigated fix failed at 0.89 against 0.9")
				}
				if !strings.Contains(s.Feedback.Message, "Investigation data helped") {
					t.Errorf("feedback = %+v", s.Feedback)
				}
			},
		},
		{
			name:  "restart alias",
			typ:   IncidentFlydStalled,
			draws: []float64{0.1},
			check: func(t *testing.T, s State, id string) {
				if inc, _ := s.Incident(id); !inc.Resolved {
					t.Error("target not resolved")
				}
				w, _ := s.Worker("worker-1")
				if w.FlydStatus != FlydRestarting || w.RestartStartedAt == nil {
					t.Errorf("flyd = %s", w.FlydStatus)
				}
				if s.Score.RiskyActions != 1 || s.Score.SuccessfulMigrations != 0 {
					t.Errorf("score = %+v", s.Score)
				}
				if s.Feedback.Title != "flyd Restart Initiated" {
					t.Errorf("feedback = %+v", s.Feedback)
				}
			},
		},
		{
			name:  "kernel panic reboot resolves through the restart alias",
			typ:   IncidentKernelPanic,
			draws: []float64{0.1},
			check: func(t *testing.T, s State, id string) {
				if inc, _ := s.Incident(id); !inc.Resolved {
					t.Error("target not resolved")
				}
			},
		},
		{
			name:  "emergency drain succeeds",
			typ:   IncidentHardwareDegradation,
			draws: []float64{0.05, 0.5},
			check: func(t *testing.T, s State, id string) {
				if inc, _ := s.Incident(id); !inc.Resolved {
					t.Error("target not resolved")
				}
				w, _ := s.Worker("worker-1")
				if w.Status != WorkerDegraded || len(w.ActiveFSMs) != 1 || w.ActiveFSMs[0].State != StatePending {
					t.Errorf("worker = %s %+v", w.Status, w.ActiveFSMs)
				}
				if s.Score.SuccessfulMigrations != 1 || s.Score.RiskyActions != 1 {
					t.Errorf("score = %+v", s.Score)
				}
				if s.Feedback.Title != "Emergency Drain Started" {
					t.Errorf("feedback = %+v", s.Feedback)
				}
			},
		},
		{
			name:  "emergency drain fails",
			typ:   IncidentStorageSpreading,
			draws: []float64{0.05, 0.8},
			check: func(t *testing.T, s State, id string) {
				if inc, _ := s.Incident(id); inc.Resolved {
					t.Error("target resolved by a failed drain")
				}
				w, _ := s.Worker("worker-1")
				if w.Status != WorkerCritical || len(w.ActiveFSMs) != 1 || w.ActiveFSMs[0].State != StateErrorRecovery {
					t.Errorf("worker = %s %+v", w.Status, w.ActiveFSMs)
				}
				if s.Score.FailedMigrations != 1 || s.Score.RiskyActions != 1 {
					t.Errorf("score = %+v", s.Score)
				}
			},
		},
		{
			name:  "alias not taken on failure",
			typ:   IncidentHardwareDegradation,
			draws: []float64{0.5},
			check: func(t *testing.T, s State, id string) {
				w, _ := s.Worker("worker-1")
				if len(w.ActiveFSMs) != 0 {
					t.Errorf("failed quick fix started a drain: %+v", w.ActiveFSMs)
				}
				if s.Score.FailedMigrations != 1 || s.Score.RiskyActions != 0 {
					t.Errorf("score = %+v", s.Score)
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := startedState(t)
			s, id := withIncident(t, s, tt.typ, t0)
			if tt.investigated {
				s = Reduce(s, Investigate(id), testEnv(t0))
			}
			s = Reduce(s, QuickFixIncident(id), testEnv(t0, tt.draws...))
			tt.check(t, s, id)
		})
	}
}

func TestQuickFixWithoutWorker(t *testing.T) {
	s := startedState(t)
	res := Step(s, AddIncident(Incident{Type: IncidentMemoryLeak}), testEnv(t0))
	id := res.Created.ID

	s = Reduce(res.State, QuickFixIncident(id), testEnv(t0, 0.1))
	if inc, _ := s.Incident(id); !inc.Resolved {
		t.Error("fleet-wide incident not resolved by a successful fix")
	}
	if w, _ := s.Worker("worker-1"); w.FlydStatus != FlydRunning {
		t.Error("fleet-wide fix restarted a worker")
	}
}

func TestAddIncidentEffects(t *testing.T) {
	tests := []struct {
		typ   IncidentType
		check func(w Worker) bool
	}{
		{IncidentFlydStalled, func(w Worker) bool { return w.FlydStatus == FlydStalled }},
		{IncidentConfigCorruption, func(w Worker) bool { return w.FlydStatus == FlydStalled }},
		{IncidentContainerdSync, func(w Worker) bool { return w.ContainerdHealth == ContainerdDegraded }},
		{IncidentNetworkPartition, func(w Worker) bool { return w.NetworkStatus == NetworkDegraded }},
		{IncidentDNSFailure, func(w Worker) bool { return w.NetworkStatus == NetworkDegraded }},
		{IncidentDiskIOBottleneck, func(w Worker) bool { return w.Status == WorkerDegraded }},
		{IncidentKernelPanic, func(w Worker) bool { return w.Status == WorkerCritical }},
		{IncidentNetworkHardwareFailure, func(w Worker) bool { return w.Status == WorkerCritical }},
		{IncidentMemoryLeak, func(w Worker) bool { return w.Status == WorkerHealthy && w.FlydStatus == FlydRunning }},
	}
	for _, tt := range tests {
		t.Run(string(tt.typ), func(t *testing.T) {
			s := startedState(t)
			res := Step(s, AddIncident(Incident{Type: tt.typ, WorkerID: "worker-1"}), testEnv(t0))
			w, _ := res.State.Worker("worker-1")
			if !tt.check(w) {
				t.Errorf("unexpected worker after %s: %+v", tt.typ, w)
			}
			if !res.Created.IsFirstTime || res.Created.Lesson == "" {
				t.Error("first incident of a type should carry its lesson")
			}
			if !res.State.HasSeen(tt.typ) {
				t.Error("type not marked seen")
			}
			again := Step(res.State, AddIncident(Incident{Type: tt.typ, WorkerID: "worker-1"}), testEnv(t0))
			if again.Created.IsFirstTime || again.Created.Lesson != "" {
				t.Error("second incident of a type flagged as first")
			}
		})
	}
}

func TestAddIncidentFillsCatalogDefaults(t *testing.T) {
	for _, typ := range IncidentTypes() {
		t.Run(string(typ), func(t *testing.T) {
			res := Step(startedState(t), AddIncident(Incident{Type: typ, WorkerID: "worker-1"}), testEnv(t0))
			if res.Created == nil {
				t.Fatal("incident not added")
			}
			sp, _ := Spec(typ)
			got := *res.Created
			if got.Severity != sp.Severity || got.Title != sp.Title {
				t.Errorf("severity/title = %s/%q, want %s/%q", got.Severity, got.Title, sp.Severity, sp.Title)
			}
			if got.UptimeImpact != sp.UptimeImpact {
				t.Errorf("UptimeImpact = %v, want %v", got.UptimeImpact, sp.UptimeImpact)
			}
			if got.RequiresDrain != sp.RequiresDrain {
				t.Errorf("RequiresDrain = %v, want %v", got.RequiresDrain, sp.RequiresDrain)
			}
		})
	}

	res := Step(startedState(t), AddIncident(Incident{Type: IncidentMemoryLeak, WorkerID: "worker-1", UptimeImpact: 3}), testEnv(t0))
	if res.Created == nil || res.Created.UptimeImpact != 3 {
		t.Errorf("caller supplied impact not kept: %+v", res.Created)
	}
}
