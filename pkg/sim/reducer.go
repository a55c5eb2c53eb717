package sim

import (
	"time"

	"github.com/google/uuid"
)

// Env carries everything a reduction depends on besides the snapshot and
// the intent. Two reductions with equal inputs and equal draws from Rand
// produce equal snapshots.
type Env struct {
	Now    time.Time
	Rand   Rand
	Params Params

	// NewID mints entity IDs. Defaults to prefix-uuid.
	NewID func(prefix string) string
}

func (e Env) id(prefix string) string {
	if e.NewID != nil {
		return e.NewID(prefix)
	}
	return prefix + "-" + uuid.NewString()
}

// Result is the outcome of one reduction.
type Result struct {
	State State

	// Changed is false when the intent was a no-op and State is the input.
	Changed bool

	// Tick is filled for TICK intents.
	Tick TickReport

	// Created is the incident added by GENERATE_INCIDENT or ADD_INCIDENT.
	Created *Incident
}

// NewState returns the snapshot of a session that has not started yet.
func NewState(p Params) State {
	s := State{
		Day:               1,
		GameSpeed:         1,
		Workers:           make([]Worker, 0, len(p.InitialWorkers)),
		Incidents:         []Incident{},
		SeenIncidentTypes: []IncidentType{},
		Score:             Score{Uptime: 100},
		ShowTutorial:      true,
	}
	for _, ws := range p.InitialWorkers {
		machines := ws.Machines
		if machines == 0 {
			machines = p.MachinesPerWorker
		}
		s.Workers = append(s.Workers, Worker{
			ID:               ws.ID,
			Name:             ws.Name,
			Status:           WorkerHealthy,
			CPU:              ws.Baseline.CPU,
			Memory:           ws.Baseline.Memory,
			Disk:             ws.Baseline.Disk,
			FlydStatus:       FlydRunning,
			ContainerdHealth: ContainerdHealthy,
			NetworkStatus:    NetworkConnected,
			ActiveMachines:   machines,
			ActiveFSMs:       []FSMOperation{},
			Baseline:         ws.Baseline,
		})
	}
	return s
}

// Reduce applies one intent to s and returns the next snapshot.
func Reduce(s State, in Intent, env Env) State {
	return Step(s, in, env).State
}

// Step is Reduce with a description of what happened. The input snapshot
// is never modified. Intents naming unknown workers or incidents are no-ops.
func Step(s State, in Intent, env Env) Result {
	next := s.clone()
	res := Result{State: s}
	changed := false

	switch in.Kind {
	case IntentStartGame:
		if !s.Ended && (!s.Started || s.Paused) {
			next.Started, next.Paused = true, false
			if len(next.Workers) > 0 {
				next.SelectedWorker = next.Workers[0].ID
			}
			changed = true
		}
	case IntentPauseGame:
		changed = !s.Paused
		next.Paused = true
	case IntentResumeGame:
		changed = s.Paused
		next.Paused = false
	case IntentSetSpeed:
		if ValidGameSpeed(in.GameSpeed) && in.GameSpeed != s.GameSpeed {
			next.GameSpeed = in.GameSpeed
			changed = true
		}

	case IntentTick:
		res.Tick, changed = tick(&next, env)

	case IntentGenerateIncident:
		if !s.Running() {
			break
		}
		if inc, ok := GenerateIncident(s, env); ok {
			changed = addIncident(&next, inc, env)
		}

	case IntentSelectWorker:
		changed = s.SelectedWorker != in.WorkerID
		next.SelectedWorker = in.WorkerID
	case IntentSelectIncident:
		changed = s.SelectedIncident != in.IncidentID
		next.SelectedIncident = in.IncidentID

	case IntentRestartFlyd:
		changed = restartFlyd(&next, in.WorkerID, env)
	case IntentDrainWorker:
		changed = drainWorker(&next, in.WorkerID, env)
	case IntentCheckContainerd:
		changed = checkContainerd(&next, in.WorkerID, env)
	case IntentInspectLVM:
		changed = inspectLVM(&next, in.WorkerID, env)
	case IntentInvestigate:
		changed = investigate(&next, in.IncidentID, env)
	case IntentViewLogs:
		changed = viewLogs(&next, in.IncidentID, env)
	case IntentForceTransition:
		changed = forceTransition(&next, in.IncidentID, env)
	case IntentQuickFix:
		changed = quickFix(&next, in.IncidentID, env)

	case IntentAddIncident:
		if in.Incident != nil {
			changed = addIncident(&next, *in.Incident, env)
		}
	case IntentUpdateWorker:
		changed = updateWorker(&next, in.WorkerID, in.Update, env.Now)
	case IntentClearFeedback:
		changed = s.Feedback != nil
		next.Feedback = nil
	case IntentShowFeedback:
		if in.Feedback != nil {
			fb := *in.Feedback
			if fb.Timestamp.IsZero() {
				fb.Timestamp = env.Now
			}
			next.Feedback = &fb
			changed = true
		}

	case IntentMarkSeen:
		if in.IncidentType.Validate() == nil {
			changed = markSeen(&next, in.IncidentType)
		}
	case IntentNextTutorial:
		next.TutorialStep++
		changed = true
	case IntentSkipTutorial:
		changed = s.ShowTutorial
		next.ShowTutorial = false
	case IntentShowHelp:
		changed = !s.ShowHelp
		next.ShowHelp = true
	case IntentHideHelp:
		changed = s.ShowHelp
		next.ShowHelp = false
	}

	if !changed {
		return res
	}
	res.State = next
	res.Changed = true
	if (in.Kind == IntentGenerateIncident || in.Kind == IntentAddIncident) && len(next.Incidents) > len(s.Incidents) {
		created := next.Incidents[len(next.Incidents)-1]
		res.Created = &created
	}
	return res
}
