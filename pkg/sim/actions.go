package sim

import (
	"fmt"
	"time"
)

func (e Env) feedback(kind FeedbackKind, title, message string) *Feedback {
	return &Feedback{Kind: kind, Title: title, Message: message, Timestamp: e.Now}
}

func restartMessage(p Params) string {
	return fmt.Sprintf("Restarting flyd process... This will take %s. All flyd-related incidents on this worker will be resolved.",
		seconds(p.RestartDuration))
}

func seconds(d time.Duration) string {
	n := int(d.Round(time.Second) / time.Second)
	if n == 1 {
		return "1 second"
	}
	return fmt.Sprintf("%d seconds", n)
}

// beginRestart puts flyd on worker i into restarting with a fresh timestamp.
func beginRestart(s *State, i int, now time.Time) {
	t := now
	s.Workers[i].FlydStatus = FlydRestarting
	s.Workers[i].RestartStartedAt = &t
}

// clearByRestart resolves every unresolved restart-cleared incident on the worker.
func clearByRestart(s *State, workerID string, now time.Time) {
	for j := range s.Incidents {
		inc := &s.Incidents[j]
		if inc.WorkerID == workerID && !inc.Resolved && spec(inc.Type).ClearedByRestart {
			resolve(inc, now)
		}
	}
}

// installMigration replaces the worker's operations with one fresh migration.
func installMigration(s *State, i int, state FSMState, env Env) {
	prefix := "migration"
	if state == StateErrorRecovery {
		prefix = "migration-failed"
	}
	s.Workers[i].ActiveFSMs = []FSMOperation{{
		ID:        env.id(prefix),
		Type:      OperationMigration,
		State:     state,
		Progress:  0,
		MachineID: fmt.Sprintf("machine-%d", env.Rand.IntN(1000)),
		StartedAt: env.Now,
	}}
}

func restartFlyd(s *State, workerID string, env Env) bool {
	i := s.workerIndex(workerID)
	if i < 0 {
		return false
	}
	beginRestart(s, i, env.Now)
	clearByRestart(s, workerID, env.Now)
	s.Score.RiskyActions++
	s.Feedback = env.feedback(FeedbackAction, "flyd Restart Initiated", restartMessage(env.Params))
	return true
}

// drainWorker draws once for success and once for the machine id.
func drainWorker(s *State, workerID string, env Env) bool {
	i := s.workerIndex(workerID)
	if i < 0 {
		return false
	}
	ok := chance(env.Rand, env.Params.DrainSuccessRate)
	s.Score.RiskyActions++

	if !ok {
		s.Workers[i].Status = WorkerCritical
		installMigration(s, i, StateErrorRecovery, env)
		s.Score.FailedMigrations++
		s.Feedback = env.feedback(FeedbackError, "Worker Drain Failed",
			"CRITICAL: Drain operation failed! FSM entered error_recovery state. dm-clone hydration failed due to storage corruption. Manual intervention required.")
		return true
	}

	s.Workers[i].Status = WorkerDegraded
	s.Workers[i].NetworkStatus = NetworkConnected
	installMigration(s, i, StatePending, env)
	for j := range s.Incidents {
		inc := &s.Incidents[j]
		if inc.WorkerID == workerID && inc.RequiresDrain && !inc.Resolved {
			resolve(inc, env.Now)
		}
	}
	s.Feedback = env.feedback(FeedbackWarning, "Worker Drain Started",
		fmt.Sprintf("Initiating graceful worker drain. All %d machines will migrate using dm-clone to other workers. This will take ~75 seconds. All incidents requiring a drain on this worker have been resolved.",
			s.Workers[i].ActiveMachines))
	return true
}

func checkContainerd(s *State, workerID string, env Env) bool {
	w, ok := s.Worker(workerID)
	if !ok {
		return false
	}
	var detail string
	switch w.ContainerdHealth {
	case ContainerdHealthy:
		detail = "All container operations normal. Lease database synchronized."
	case ContainerdDegraded:
		detail = "Some containers failing to start. Lease mismatch detected. Consider restarting flyd to resync."
	default:
		detail = "CRITICAL: containerd daemon not responding. All container operations failing. Immediate flyd restart required."
	}
	s.Feedback = env.feedback(FeedbackAction, "containerd Health Check",
		fmt.Sprintf("Status: %s. %s", w.ContainerdHealth, detail))
	return true
}

func inspectLVM(s *State, workerID string, env Env) bool {
	w, ok := s.Worker(workerID)
	if !ok {
		return false
	}
	kind, detail := FeedbackAction, "LVM volumes healthy. Metadata intact, no corruption detected."
	switch {
	case w.Disk > 90:
		kind, detail = FeedbackError, "CRITICAL: Volume group nearly full. Risk of write failures. Immediate worker drain recommended."
	case w.Disk > 80:
		kind, detail = FeedbackWarning, "WARNING: High disk usage. Monitor closely and consider proactive migration."
	}
	s.Feedback = env.feedback(kind, "LVM Health Inspection", fmt.Sprintf("Disk usage: %.1f%%. %s", w.Disk, detail))
	return true
}

// investigate is idempotent: a second call on the same incident changes nothing.
func investigate(s *State, incidentID string, env Env) bool {
	j := s.incidentIndex(incidentID)
	if j < 0 || s.Incidents[j].Investigated {
		return false
	}
	s.Incidents[j].Investigated = true
	n := spec(s.Incidents[j].Type).Investigation
	s.Feedback = env.feedback(FeedbackInvestigation, n.Title, n.Message)
	return true
}

func viewLogs(s *State, incidentID string, env Env) bool {
	j := s.incidentIndex(incidentID)
	if j < 0 || s.Incidents[j].LogViewed {
		return false
	}
	s.Incidents[j].LogViewed = true
	line := spec(s.Incidents[j].Type).LogLine
	if line == "" {
		line = "No relevant errors found in recent logs."
	}
	s.Feedback = env.feedback(FeedbackAction, "flyd Logs Retrieved", line)
	return true
}

// forceTransition is the riskiest action and always costs two risk points.
func forceTransition(s *State, incidentID string, env Env) bool {
	j := s.incidentIndex(incidentID)
	if j < 0 || s.Incidents[j].Resolved {
		return false
	}
	ok := chance(env.Rand, env.Params.ForceSuccessRate)
	s.Score.RiskyActions += 2
	if ok {
		resolve(&s.Incidents[j], env.Now)
		s.Feedback = env.feedback(FeedbackSuccess, "FSM Force Transition Successful",
			"Forced FSM state transition completed. Machine recovered to running state. Risk: potential data inconsistency.")
		return true
	}
	s.Score.FailedMigrations++
	s.Feedback = env.feedback(FeedbackError, "FSM Force Transition Failed",
		"FAILED: Force transition caused data corruption. Machine lost! This is why force transitions are dangerous in production.")
	return true
}

// quickFix rolls the type's success rate, raised by the investigation bonus.
// The raised rate is used as is and may exceed 1.
func quickFix(s *State, incidentID string, env Env) bool {
	j := s.incidentIndex(incidentID)
	if j < 0 || s.Incidents[j].Resolved {
		return false
	}
	inc := s.Incidents[j]
	fix := spec(inc.Type).QuickFix

	rate := fix.SuccessRate
	if inc.Investigated {
		rate += env.Params.InvestigatedBonus
	}
	ok := chance(env.Rand, rate)

	wi := s.workerIndex(inc.WorkerID)
	if ok && wi >= 0 {
		switch fix.Alias {
		case AliasDrain:
			emergencyDrain(s, wi, j, env)
			return true
		case AliasRestart:
			resolve(&s.Incidents[j], env.Now)
			clearByRestart(s, inc.WorkerID, env.Now)
			beginRestart(s, wi, env.Now)
			s.Score.RiskyActions++
			s.Feedback = env.feedback(FeedbackAction, "flyd Restart Initiated", restartMessage(env.Params))
			return true
		}
	}

	if !ok {
		s.Score.FailedMigrations++
		hint := "Investigation might reveal better solutions."
		if inc.Investigated {
			hint = "Try alternative approaches."
		}
		s.Feedback = env.feedback(FeedbackWarning, "Quick Fix Failed",
			fmt.Sprintf("Quick fix (%s) failed to resolve the incident. %s", fix.Action, hint))
		return true
	}

	if fix.TakesTime && wi >= 0 {
		beginRestart(s, wi, env.Now)
	}
	resolve(&s.Incidents[j], env.Now)
	s.Score.SuccessfulMigrations++

	timing := "Incident resolved immediately."
	if fix.TakesTime {
		timing = "Restart initiated - will take " + seconds(env.Params.RestartDuration) + "."
	}
	hint := "Consider investigating first for better outcomes."
	if inc.Investigated {
		hint = "Investigation data helped improve success rate."
	}
	s.Feedback = env.feedback(FeedbackSuccess, "Quick Fix Applied",
		fmt.Sprintf("Applied quick fix: %s. %s %s", fix.Action, timing, hint))
	return true
}

// emergencyDrain is the drain a successful evacuation quick fix turns into.
// It has its own, lower success rate.
func emergencyDrain(s *State, wi, j int, env Env) {
	ok := chance(env.Rand, env.Params.EmergencyDrainSuccessRate)
	s.Score.RiskyActions++
	if !ok {
		s.Workers[wi].Status = WorkerCritical
		installMigration(s, wi, StateErrorRecovery, env)
		s.Score.FailedMigrations++
		s.Feedback = env.feedback(FeedbackError, "Emergency Drain Failed",
			"CRITICAL: Drain operation failed! FSM entered error_recovery state. dm-clone hydration failed due to storage corruption. Manual intervention required.")
		return
	}
	s.Workers[wi].Status = WorkerDegraded
	s.Workers[wi].NetworkStatus = NetworkConnected
	installMigration(s, wi, StatePending, env)
	resolve(&s.Incidents[j], env.Now)
	s.Score.SuccessfulMigrations++
	s.Feedback = env.feedback(FeedbackWarning, "Emergency Drain Started",
		fmt.Sprintf("Initiating emergency worker drain. All %d machines will migrate using dm-clone to other workers. This will take ~75 seconds.",
			s.Workers[wi].ActiveMachines))
}

// addIncident appends inc, marks its type as seen and applies its creation
// effect to the owning worker. Returns false for unknown types.
func addIncident(s *State, inc Incident, env Env) bool {
	if inc.Type.Validate() != nil {
		return false
	}
	sp := spec(inc.Type)
	if inc.ID == "" {
		inc.ID = env.id("incident")
	}
	if inc.CreatedAt.IsZero() {
		inc.CreatedAt = env.Now
	}
	if inc.Severity == "" {
		inc.Severity = sp.Severity
	}
	if inc.Title == "" {
		inc.Title = sp.Title
		inc.Description = sp.Description
	}
	if inc.UptimeImpact == 0 {
		inc.UptimeImpact = sp.UptimeImpact
	}
	inc.RequiresDrain = inc.RequiresDrain || sp.RequiresDrain
	inc.IsFirstTime = !s.HasSeen(inc.Type)
	if inc.IsFirstTime && inc.Lesson == "" {
		inc.Lesson = sp.Lesson
	}
	s.Incidents = append(s.Incidents, inc)
	markSeen(s, inc.Type)

	if i := s.workerIndex(inc.WorkerID); i >= 0 {
		w := &s.Workers[i]
		if sp.Effect.Status != "" {
			w.Status = sp.Effect.Status
		}
		if sp.Effect.Flyd != "" {
			w.FlydStatus = sp.Effect.Flyd
			w.RestartStartedAt = nil
		}
		if sp.Effect.Containerd != "" {
			w.ContainerdHealth = sp.Effect.Containerd
		}
		if sp.Effect.Network != "" {
			w.NetworkStatus = sp.Effect.Network
		}
	}
	return true
}

func markSeen(s *State, t IncidentType) bool {
	if s.HasSeen(t) {
		return false
	}
	s.SeenIncidentTypes = append(s.SeenIncidentTypes, t)
	return true
}

func updateWorker(s *State, workerID string, u *WorkerUpdate, now time.Time) bool {
	i := s.workerIndex(workerID)
	if i < 0 || u == nil {
		return false
	}
	w := &s.Workers[i]
	if u.Status != nil && u.Status.Validate() == nil {
		w.Status = *u.Status
	}
	if u.FlydStatus != nil && u.FlydStatus.Validate() == nil {
		w.FlydStatus = *u.FlydStatus
		if w.FlydStatus == FlydRestarting {
			if w.RestartStartedAt == nil {
				t := now
				w.RestartStartedAt = &t
			}
		} else {
			w.RestartStartedAt = nil
		}
	}
	if u.ContainerdHealth != nil && u.ContainerdHealth.Validate() == nil {
		w.ContainerdHealth = *u.ContainerdHealth
	}
	if u.NetworkStatus != nil && u.NetworkStatus.Validate() == nil {
		w.NetworkStatus = *u.NetworkStatus
	}
	if u.ActiveMachines != nil && *u.ActiveMachines >= 0 {
		w.ActiveMachines = *u.ActiveMachines
	}
	return true
}
