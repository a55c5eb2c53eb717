package session

import (
	"context"
	"time"

	"github.com/openfroyo/flysim/pkg/sim"
	"github.com/openfroyo/flysim/pkg/telemetry"
)

// Recorder persists the history of a session. Recording errors are logged
// and counted but never stop the simulation.
type Recorder interface {
	RecordStart(ctx context.Context, sessionID string, seed uint64, at time.Time) error
	RecordIncident(ctx context.Context, sessionID string, inc sim.Incident, day int) error
	RecordResolution(ctx context.Context, sessionID string, inc sim.Incident) error
	RecordAction(ctx context.Context, sessionID string, in sim.Intent, fb *sim.Feedback, denied bool, s sim.State, at time.Time) error
	RecordDay(ctx context.Context, sessionID string, s sim.State, at time.Time) error
	RecordEnd(ctx context.Context, sessionID string, s sim.State, at time.Time) error
}

// Guard vets player actions before they reach the reducer.
type Guard interface {
	Check(ctx context.Context, in sim.Intent, s sim.State) (*Verdict, error)
}

// Verdict is the outcome of a guard check. A denied action is replaced by a
// warning feedback and leaves the game state untouched.
type Verdict struct {
	Allowed    bool        `json:"allowed"`
	Violations []Violation `json:"violations,omitempty"`
}

// Violation is a single guardrail finding.
type Violation struct {
	Policy   string `json:"policy"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
}

// Checkpointer saves resumable snapshots.
type Checkpointer interface {
	SaveCheckpoint(ctx context.Context, sessionID string, seed uint64, s sim.State) error
}

// Injection is one scripted incident of a drill. It fires on the first
// tick at or after (Day, TimeInDay).
type Injection struct {
	Day       int              `json:"day"`
	TimeInDay int              `json:"tick"`
	Type      sim.IncidentType `json:"type"`

	// WorkerID defaults to the first worker.
	WorkerID string `json:"worker,omitempty"`
}

func (in Injection) due(s sim.State) bool {
	return s.Day > in.Day || (s.Day == in.Day && s.TimeInDay >= in.TimeInDay)
}

// Outcome describes one dispatch.
type Outcome struct {
	State   sim.State
	Changed bool

	// Denied is set when a guard blocked the action.
	Denied     bool
	Violations []Violation
}

// Options configures a Session.
type Options struct {
	// ID defaults to a random UUID.
	ID string

	// Seed feeds the default random source. Zero picks a seed from the clock.
	Seed uint64

	// Params defaults to sim.DefaultParams.
	Params *sim.Params

	// Initial resumes from a snapshot instead of a fresh state.
	Initial *sim.State

	Telemetry    *telemetry.Telemetry
	Recorder     Recorder
	Guard        Guard
	Checkpointer Checkpointer
	Drill        []Injection

	// AutoStart dispatches START_GAME when Run begins.
	AutoStart bool

	// Now, Rand and NewID override the environment, mostly for tests.
	Now   func() time.Time
	Rand  sim.Rand
	NewID func(prefix string) string
}
