package sim

import "time"

// Stats holds the three resource gauges of a worker, in percent.
type Stats struct {
	CPU    float64 `json:"cpu" yaml:"cpu"`
	Memory float64 `json:"memory" yaml:"memory"`
	Disk   float64 `json:"disk" yaml:"disk"`
}

// Worker is a simulated compute host running flyd and containerd.
type Worker struct {
	// ID is the stable identity referenced by incidents and intents.
	ID string `json:"id"`

	// Name is the display name, e.g. fly-worker-ord-01.
	Name string `json:"name"`

	Status WorkerStatus `json:"status"`

	// CPU, Memory and Disk are the current gauges, recomputed every tick.
	CPU    float64 `json:"cpu"`
	Memory float64 `json:"memory"`
	Disk   float64 `json:"disk"`

	FlydStatus       FlydStatus       `json:"flydStatus"`
	ContainerdHealth ContainerdHealth `json:"containerdHealth"`
	NetworkStatus    NetworkStatus    `json:"networkStatus"`

	ActiveMachines int `json:"activeMachines"`

	// ActiveFSMs is owned by the worker. Operations leave the list once
	// their progress reaches 100.
	ActiveFSMs []FSMOperation `json:"activeFSMs"`

	// RestartStartedAt is set whenever FlydStatus is restarting.
	RestartStartedAt *time.Time `json:"restartStartTime,omitempty"`

	// Baseline is immutable and seeds every stat computation.
	Baseline Stats `json:"baseStats"`
}

// HasActiveMigration reports whether the worker runs a migration that has not completed.
func (w Worker) HasActiveMigration() bool {
	for _, op := range w.ActiveFSMs {
		if op.Type == OperationMigration && op.Progress < 100 {
			return true
		}
	}
	return false
}

// FSMOperation is a long-running multi-step task tracked on a worker.
type FSMOperation struct {
	ID        string        `json:"id"`
	Type      OperationType `json:"type"`
	State     FSMState      `json:"state"`
	Progress  float64       `json:"progress"`
	MachineID string        `json:"machineId"`
	StartedAt time.Time     `json:"startTime"`
}

// Incident is a discrete fault event affecting a worker.
type Incident struct {
	ID       string       `json:"id"`
	Type     IncidentType `json:"type"`
	Severity Severity     `json:"severity"`

	// WorkerID is a reference, not ownership. Empty when the incident is fleet-wide.
	WorkerID string `json:"workerId,omitempty"`

	Title       string `json:"title"`
	Description string `json:"description"`

	CreatedAt time.Time `json:"timestamp"`

	// Resolved never goes back to false once set.
	Resolved   bool       `json:"resolved"`
	ResolvedAt *time.Time `json:"resolvedAt,omitempty"`

	// AutoResolveAt resolves the incident unconditionally once passed.
	AutoResolveAt *time.Time `json:"autoResolveTime,omitempty"`

	Investigated bool `json:"investigated"`
	LogViewed    bool `json:"logViewed"`

	// IsFirstTime is set when no incident of this type was seen before.
	// Lesson then carries the longer educational text.
	IsFirstTime bool   `json:"isFirstTime"`
	Lesson      string `json:"lesson,omitempty"`

	UptimeImpact  float64 `json:"uptime_impact"`
	RequiresDrain bool    `json:"requires_drain,omitempty"`
}

// Score is the accumulated result of a session. Uptime is recomputed every
// tick; the counters only grow.
type Score struct {
	Uptime               float64 `json:"uptime"`
	SuccessfulMigrations int     `json:"successfulMigrations"`
	FailedMigrations     int     `json:"failedMigrations"`
	RiskyActions         int     `json:"riskyActions"`
}

// Feedback is the transient message produced by the last action.
type Feedback struct {
	Kind      FeedbackKind `json:"type"`
	Title     string       `json:"title"`
	Message   string       `json:"message"`
	Timestamp time.Time    `json:"timestamp"`
}

// State is one immutable snapshot of the world. Reduce never modifies the
// snapshot it is given.
type State struct {
	Day       int     `json:"day"`
	TimeInDay int     `json:"timeInDay"`
	GameSpeed float64 `json:"gameSpeed"`

	Started bool `json:"gameStarted"`
	Paused  bool `json:"paused"`
	Ended   bool `json:"gameEnded"`

	Workers   []Worker   `json:"workers"`
	Incidents []Incident `json:"incidents"`
	Score     Score      `json:"score"`

	SeenIncidentTypes []IncidentType `json:"seenIncidentTypes"`

	// FinalRating is set once the game ends.
	FinalRating Rating `json:"finalRating,omitempty"`

	// Pass-through fields owned by the presentation layer.
	TutorialStep     int       `json:"tutorialStep"`
	ShowTutorial     bool      `json:"showTutorial"`
	ShowHelp         bool      `json:"showHelp"`
	SelectedWorker   string    `json:"selectedWorker,omitempty"`
	SelectedIncident string    `json:"selectedIncident,omitempty"`
	Feedback         *Feedback `json:"actionFeedback,omitempty"`
}

// Running reports whether timers should be armed for this snapshot.
func (s State) Running() bool {
	return s.Started && !s.Paused && !s.Ended
}

// Worker returns the worker with the given ID.
func (s State) Worker(id string) (Worker, bool) {
	if i := s.workerIndex(id); i >= 0 {
		return s.Workers[i], true
	}
	return Worker{}, false
}

// Incident returns the incident with the given ID.
func (s State) Incident(id string) (Incident, bool) {
	if i := s.incidentIndex(id); i >= 0 {
		return s.Incidents[i], true
	}
	return Incident{}, false
}

func (s State) workerIndex(id string) int {
	for i := range s.Workers {
		if s.Workers[i].ID == id {
			return i
		}
	}
	return -1
}

func (s State) incidentIndex(id string) int {
	for i := range s.Incidents {
		if s.Incidents[i].ID == id {
			return i
		}
	}
	return -1
}

// HasSeen reports whether an incident of the type was ever created.
func (s State) HasSeen(t IncidentType) bool {
	for _, seen := range s.SeenIncidentTypes {
		if seen == t {
			return true
		}
	}
	return false
}

// clone returns a deep copy whose slices can be modified freely.
func (s State) clone() State {
	out := s
	out.Workers = make([]Worker, len(s.Workers))
	for i, w := range s.Workers {
		fsms := make([]FSMOperation, len(w.ActiveFSMs))
		copy(fsms, w.ActiveFSMs)
		w.ActiveFSMs = fsms
		out.Workers[i] = w
	}
	out.Incidents = make([]Incident, len(s.Incidents))
	copy(out.Incidents, s.Incidents)
	out.SeenIncidentTypes = make([]IncidentType, len(s.SeenIncidentTypes))
	copy(out.SeenIncidentTypes, s.SeenIncidentTypes)
	return out
}
