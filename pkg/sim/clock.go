package sim

import (
	"fmt"
	"time"
)

// TickReport describes what a tick changed, for observers that need more
// than the new snapshot.
type TickReport struct {
	DayStarted  bool
	Provisioned []string
	Completed   []CompletedOperation
	Resolved    []Incident
	GameEnded   bool
}

// CompletedOperation is an FSM operation that reached 100 on a worker.
type CompletedOperation struct {
	WorkerID string
	FSMOperation
}

// tick advances the simulated clock by one unit and re-evaluates every
// worker and incident. The order is fixed: clock, provisioning, workers,
// auto-resolution, uptime, end of game, feedback expiry.
func tick(s *State, env Env) (TickReport, bool) {
	var rep TickReport
	if !s.Running() {
		return rep, false
	}
	p := env.Params

	s.TimeInDay++
	if s.TimeInDay >= p.DayLength {
		s.TimeInDay = 0
		s.Day++
		rep.DayStarted = true
		if len(s.Workers) < p.MaxWorkers && len(s.Workers) > 0 {
			w := provisionWorker(s, p)
			rep.Provisioned = append(rep.Provisioned, w.ID)
		}
	}

	// Stats read the incidents as they stood before this tick's resolutions.
	before := make([]Incident, len(s.Incidents))
	copy(before, s.Incidents)
	for i := range s.Workers {
		for _, op := range advanceWorker(&s.Workers[i], before, env) {
			rep.Completed = append(rep.Completed, CompletedOperation{WorkerID: s.Workers[i].ID, FSMOperation: op})
		}
	}

	for _, j := range autoResolve(s, env.Now, p) {
		rep.Resolved = append(rep.Resolved, s.Incidents[j])
	}
	s.Score.Uptime = Uptime(s.Incidents, p.UptimeImpactCap)

	if s.Day > p.TotalDays {
		s.Ended = true
		s.FinalRating = Rate(s.Score)
		rep.GameEnded = true
	}

	if s.Feedback != nil && env.Now.Sub(s.Feedback.Timestamp) > p.FeedbackTTL {
		s.Feedback = nil
	}
	return rep, true
}

// provisionWorker appends a fresh worker cloned from the first worker's baseline.
func provisionWorker(s *State, p Params) Worker {
	n := len(s.Workers) + 1
	base := s.Workers[0].Baseline
	w := Worker{
		ID:               fmt.Sprintf("worker-%d", n),
		Name:             fmt.Sprintf("fly-worker-ord-%02d", n),
		Status:           WorkerHealthy,
		CPU:              base.CPU,
		Memory:           base.Memory,
		Disk:             base.Disk,
		FlydStatus:       FlydRunning,
		ContainerdHealth: ContainerdHealthy,
		NetworkStatus:    NetworkConnected,
		ActiveMachines:   p.MachinesPerWorker,
		ActiveFSMs:       []FSMOperation{},
		Baseline:         base,
	}
	s.Workers = append(s.Workers, w)
	return w
}

// advanceWorker applies restart completion, FSM progression, degraded
// recovery and the stat update to w. It returns the operations that finished.
func advanceWorker(w *Worker, incidents []Incident, env Env) []FSMOperation {
	now, p := env.Now, env.Params

	if w.FlydStatus == FlydRestarting && w.RestartStartedAt != nil &&
		now.Sub(*w.RestartStartedAt) > p.RestartDuration {
		w.FlydStatus = FlydRunning
		w.RestartStartedAt = nil
		w.ContainerdHealth = ContainerdHealthy
	}

	var done []FSMOperation
	kept := w.ActiveFSMs[:0]
	for _, op := range w.ActiveFSMs {
		op = op.advance(now)
		if op.Done() {
			done = append(done, op)
			continue
		}
		kept = append(kept, op)
	}
	w.ActiveFSMs = kept

	if w.Status == WorkerDegraded && len(done) > 0 && len(kept) == 0 {
		w.Status = WorkerHealthy
	}

	st := dynamicStats(*w, incidents, env.Rand, p)
	w.CPU, w.Memory, w.Disk = st.CPU, st.Memory, st.Disk
	return done
}

// RestartRemaining returns how long the worker's restart still runs.
func RestartRemaining(w Worker, now time.Time, p Params) time.Duration {
	if w.RestartStartedAt == nil {
		return 0
	}
	left := p.RestartDuration - now.Sub(*w.RestartStartedAt)
	if left < 0 {
		return 0
	}
	return left
}
