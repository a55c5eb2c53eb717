package sim

import (
	"testing"
	"time"
)

func TestTickUptimeScenario(t *testing.T) {
	s := startedState(t)
	s, _ = withIncident(t, s, IncidentFlydStalled, t0)

	s = Reduce(s, Tick(), testEnv(t0.Add(time.Second)))

	if s.Score.Uptime != 85 {
		t.Errorf("Uptime = %v, want 85", s.Score.Uptime)
	}
	if s.TimeInDay != 1 {
		t.Errorf("TimeInDay = %d, want 1", s.TimeInDay)
	}
	w, _ := s.Worker("worker-1")
	// Incident penalty plus the stalled daemon surcharge saturate cpu and memory.
	if w.CPU != 100 || w.Memory != 100 || w.Disk != 78 {
		t.Errorf("gauges = %v/%v/%v, want 100/100/78", w.CPU, w.Memory, w.Disk)
	}
}

func TestDynamicStats(t *testing.T) {
	base := Worker{
		ID:         "worker-1",
		FlydStatus: FlydRunning,
		Baseline:   Stats{CPU: 45, Memory: 62, Disk: 78},
	}
	hydrating := base
	hydrating.ActiveFSMs = []FSMOperation{{Type: OperationMigration, State: StateHydrating, Progress: 40}}
	stalled := base
	stalled.FlydStatus = FlydStalled
	tiny := base
	tiny.Baseline = Stats{CPU: 2, Memory: 1, Disk: 10}

	tests := []struct {
		name      string
		worker    Worker
		incidents []Incident
		draws     []float64
		want      Stats
	}{
		{"baseline", base, nil, nil, Stats{45, 62, 78}},
		{"flyd stalled penalty", base, []Incident{{Type: IncidentFlydStalled, WorkerID: "worker-1"}}, nil, Stats{70, 77, 78}},
		{"resolved incident ignored", base, []Incident{{Type: IncidentFlydStalled, WorkerID: "worker-1", Resolved: true}}, nil, Stats{45, 62, 78}},
		{"other worker ignored", base, []Incident{{Type: IncidentFlydStalled, WorkerID: "worker-2"}}, nil, Stats{45, 62, 78}},
		{"memory leak and storage", base, []Incident{
			{Type: IncidentMemoryLeak, WorkerID: "worker-1"},
			{Type: IncidentStorageCorruption, WorkerID: "worker-1"},
		}, nil, Stats{65, 97, 98}},
		{"hydrating migration", hydrating, nil, nil, Stats{70, 100, 78}},
		{"stalled daemon", stalled, nil, nil, Stats{85, 87, 78}},
		{"negative jitter floors disk at baseline", base, nil, []float64{0, 0, 0}, Stats{40, 57, 78}},
		{"positive jitter", base, nil, []float64{0.99, 0.75, 0.9}, Stats{49.9, 64.5, 82}},
		{"floor", tiny, nil, []float64{0, 0, 0}, Stats{5, 5, 10}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := dynamicStats(tt.worker, tt.incidents, &scriptedRand{floats: tt.draws}, DefaultParams())
			if got != tt.want {
				t.Errorf("dynamicStats() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestGaugesStayInBounds(t *testing.T) {
	p := DefaultParams()
	r := NewRand(42)
	types := IncidentTypes()
	for i := 0; i < 500; i++ {
		w := Worker{
			ID:         "worker-1",
			FlydStatus: []FlydStatus{FlydRunning, FlydStalled, FlydRestarting}[r.IntN(3)],
			Baseline:   Stats{CPU: float64(r.IntN(100)), Memory: float64(r.IntN(100)), Disk: float64(r.IntN(100))},
		}
		var incs []Incident
		for n := r.IntN(6); n > 0; n-- {
			incs = append(incs, Incident{Type: types[r.IntN(len(types))], WorkerID: "worker-1"})
		}
		if r.IntN(2) == 0 {
			w.ActiveFSMs = []FSMOperation{{Type: OperationMigration, State: StateHydrating}}
		}
		st := dynamicStats(w, incs, r, p)
		if st.CPU < p.GaugeFloor || st.CPU > 100 || st.Memory < p.GaugeFloor || st.Memory > 100 {
			t.Fatalf("cpu/memory out of bounds: %+v", st)
		}
		if st.Disk < w.Baseline.Disk || st.Disk > 100 {
			t.Fatalf("disk %v out of [%v,100]", st.Disk, w.Baseline.Disk)
		}
	}
}

func TestDayRolloverProvisioningAndEnd(t *testing.T) {
	s := startedState(t)
	env := testEnv(t0)

	for crossing := 1; crossing <= 7; crossing++ {
		if s.Ended {
			t.Fatalf("game ended before crossing %d", crossing)
		}
		s.TimeInDay = DefaultParams().DayLength - 1
		res := Step(s, Tick(), env)
		s = res.State

		if !res.Tick.DayStarted || s.TimeInDay != 0 || s.Day != crossing+1 {
			t.Fatalf("crossing %d: day %d t %d started=%v", crossing, s.Day, s.TimeInDay, res.Tick.DayStarted)
		}
		wantWorkers := crossing + 1
		if wantWorkers > 4 {
			wantWorkers = 4
		}
		if len(s.Workers) != wantWorkers {
			t.Fatalf("crossing %d: %d workers, want %d", crossing, len(s.Workers), wantWorkers)
		}
		if crossing <= 3 && len(res.Tick.Provisioned) != 1 {
			t.Fatalf("crossing %d provisioned %v", crossing, res.Tick.Provisioned)
		}
		if crossing > 3 && len(res.Tick.Provisioned) != 0 {
			t.Fatalf("crossing %d provisioned past the cap: %v", crossing, res.Tick.Provisioned)
		}
	}

	if !s.Ended || s.FinalRating == "" {
		t.Fatalf("game not ended after day %d: ended=%v rating=%q", s.Day, s.Ended, s.FinalRating)
	}
	last := s.Workers[3]
	if last.ID != "worker-4" || last.Name != "fly-worker-ord-04" || last.Baseline != s.Workers[0].Baseline {
		t.Errorf("provisioned worker = %+v", last)
	}

	if res := Step(s, Tick(), env); res.Changed {
		t.Error("tick after the end should be a no-op")
	}
	if res := Step(s, StartGame(), env); res.Changed {
		t.Error("an ended game cannot be restarted")
	}
}

func TestRestartCompletes(t *testing.T) {
	s := startedState(t)
	failed := ContainerdFailed
	s = Reduce(s, Intent{Kind: IntentUpdateWorker, WorkerID: "worker-1", Update: &WorkerUpdate{ContainerdHealth: &failed}}, testEnv(t0))
	s = Reduce(s, RestartFlyd("worker-1"), testEnv(t0))

	s = Reduce(s, Tick(), testEnv(t0.Add(3*time.Second)))
	if w, _ := s.Worker("worker-1"); w.FlydStatus != FlydRestarting {
		t.Fatalf("restart finished at exactly the duration: %s", w.FlydStatus)
	}

	s = Reduce(s, Tick(), testEnv(t0.Add(3001*time.Millisecond)))
	w, _ := s.Worker("worker-1")
	if w.FlydStatus != FlydRunning || w.RestartStartedAt != nil || w.ContainerdHealth != ContainerdHealthy {
		t.Errorf("after restart: flyd=%s ts=%v containerd=%s", w.FlydStatus, w.RestartStartedAt, w.ContainerdHealth)
	}
}

func TestMigrationProgressAndRecovery(t *testing.T) {
	s := startedState(t)
	s = Reduce(s, DrainWorker("worker-1"), testEnv(t0, 0.0))

	s = Reduce(s, Tick(), testEnv(t0.Add(2500*time.Millisecond)))
	w, _ := s.Worker("worker-1")
	if len(w.ActiveFSMs) != 1 {
		t.Fatalf("ActiveFSMs = %d, want 1", len(w.ActiveFSMs))
	}
	if op := w.ActiveFSMs[0]; op.State != StateHydrating || op.Progress != 46.7 {
		t.Errorf("op = %s %.1f, want hydrating 46.7", op.State, op.Progress)
	}
	if w.Status != WorkerDegraded {
		t.Errorf("Status = %s, want degraded while draining", w.Status)
	}

	res := Step(s, Tick(), testEnv(t0.Add(6*time.Second)))
	w, _ = res.State.Worker("worker-1")
	if len(w.ActiveFSMs) != 0 {
		t.Errorf("completed migration still listed: %+v", w.ActiveFSMs)
	}
	if len(res.Tick.Completed) != 1 || res.Tick.Completed[0].Progress != 100 {
		t.Errorf("Completed = %+v", res.Tick.Completed)
	}
	if w.Status != WorkerHealthy {
		t.Errorf("Status = %s, want healthy after the drain finished", w.Status)
	}
}

func TestErrorRecoveryIsStuck(t *testing.T) {
	s := startedState(t)
	s = Reduce(s, DrainWorker("worker-1"), testEnv(t0, 0.95))
	s = Reduce(s, Tick(), testEnv(t0.Add(time.Minute)))

	w, _ := s.Worker("worker-1")
	if w.Status != WorkerCritical || len(w.ActiveFSMs) != 1 {
		t.Fatalf("worker = %s with %d ops", w.Status, len(w.ActiveFSMs))
	}
	if op := w.ActiveFSMs[0]; op.State != StateErrorRecovery || op.Progress != 0 {
		t.Errorf("op = %s %.1f, want error_recovery 0", op.State, op.Progress)
	}
}

func TestAutoResolution(t *testing.T) {
	running := FlydRunning

	t.Run("age gate", func(t *testing.T) {
		s := startedState(t)
		s, id := withIncident(t, s, IncidentFlydStalled, t0)
		s = Reduce(s, Intent{Kind: IntentUpdateWorker, WorkerID: "worker-1", Update: &WorkerUpdate{FlydStatus: &running}}, testEnv(t0))

		s = Reduce(s, Tick(), testEnv(t0.Add(5*time.Second)))
		if inc, _ := s.Incident(id); inc.Resolved {
			t.Fatal("incident younger than the minimum age resolved")
		}
		res := Step(s, Tick(), testEnv(t0.Add(11*time.Second)))
		if inc, _ := res.State.Incident(id); !inc.Resolved || inc.ResolvedAt == nil {
			t.Fatal("incident not resolved once old enough")
		}
		if len(res.Tick.Resolved) != 1 || res.State.Score.Uptime != 100 {
			t.Errorf("resolved %d, uptime %v", len(res.Tick.Resolved), res.State.Score.Uptime)
		}
	})

	t.Run("drain-only incidents never resolve by condition", func(t *testing.T) {
		s := startedState(t)
		s, id := withIncident(t, s, IncidentHardwareDegradation, t0)
		s = Reduce(s, Tick(), testEnv(t0.Add(time.Hour)))
		if inc, _ := s.Incident(id); inc.Resolved {
			t.Fatal("hardware_degradation resolved without a drain")
		}
	})

	t.Run("deadline resolves regardless of type and age", func(t *testing.T) {
		s := startedState(t)
		deadline := t0.Add(time.Second)
		s = Reduce(s, AddIncident(Incident{
			Type: IncidentStorageSpreading, WorkerID: "worker-1", AutoResolveAt: &deadline,
		}), testEnv(t0))
		s = Reduce(s, Tick(), testEnv(t0.Add(2*time.Second)))
		if active := ActiveIncidents(s); len(active) != 0 {
			t.Fatalf("deadline did not resolve: %+v", active)
		}
	})

	t.Run("migration stuck waits for hydration", func(t *testing.T) {
		s := startedState(t)
		s = Reduce(s, DrainWorker("worker-1"), testEnv(t0, 0.0))
		s, id := withIncident(t, s, IncidentMigrationStuck, t0.Add(-time.Minute))

		s = Reduce(s, Tick(), testEnv(t0.Add(2500*time.Millisecond)))
		if inc, _ := s.Incident(id); inc.Resolved {
			t.Fatal("resolved while hydrating")
		}
		s = Reduce(s, Tick(), testEnv(t0.Add(3600*time.Millisecond)))
		if inc, _ := s.Incident(id); !inc.Resolved {
			t.Fatal("not resolved after hydration")
		}
	})

	t.Run("missing worker leaves incident alone", func(t *testing.T) {
		s := startedState(t)
		s = Reduce(s, AddIncident(Incident{Type: IncidentDNSFailure, WorkerID: "worker-9"}), testEnv(t0))
		s = Reduce(s, Tick(), testEnv(t0.Add(time.Minute)))
		if len(ActiveIncidents(s)) != 1 {
			t.Fatal("incident on a missing worker resolved")
		}
	})
}

func TestUptime(t *testing.T) {
	tests := []struct {
		name      string
		incidents []Incident
		impactCap float64
		want      float64
	}{
		{"none", nil, 50, 100},
		{"one", []Incident{{UptimeImpact: 15}}, 50, 85},
		{"resolved ignored", []Incident{{UptimeImpact: 15, Resolved: true}}, 50, 100},
		{"capped", []Incident{{UptimeImpact: 30}, {UptimeImpact: 30}, {UptimeImpact: 25}}, 50, 50},
		{"never below zero", []Incident{{UptimeImpact: 150}}, 200, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Uptime(tt.incidents, tt.impactCap); got != tt.want {
				t.Errorf("Uptime() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFeedbackExpires(t *testing.T) {
	s := startedState(t)
	s = Reduce(s, CheckContainerd("worker-1"), testEnv(t0))

	s = Reduce(s, Tick(), testEnv(t0.Add(5*time.Second)))
	if s.Feedback == nil {
		t.Fatal("feedback cleared too early")
	}
	s = Reduce(s, Tick(), testEnv(t0.Add(11*time.Second)))
	if s.Feedback != nil {
		t.Error("feedback older than its TTL survived a tick")
	}
}

func TestRestartRemaining(t *testing.T) {
	p := DefaultParams()
	started := t0
	w := Worker{FlydStatus: FlydRestarting, RestartStartedAt: &started}
	if got := RestartRemaining(w, t0.Add(time.Second), p); got != 2*time.Second {
		t.Errorf("RestartRemaining = %v, want 2s", got)
	}
	if got := RestartRemaining(w, t0.Add(time.Minute), p); got != 0 {
		t.Errorf("RestartRemaining = %v, want 0", got)
	}
}
