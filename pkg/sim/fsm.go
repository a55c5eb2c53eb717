package sim

import (
	"math"
	"time"
)

// Phase is where a migration stands on its timeline.
type Phase struct {
	State    FSMState
	Progress float64
}

// band is one time-gated segment of the migration timeline. Progress moves
// linearly from From to To while elapsed crosses [start, end).
type band struct {
	state      FSMState
	start, end time.Duration
	from, to   float64
}

var migrationTimeline = []band{
	{StatePending, 0, time.Second, 0, 0},
	{StateCloning, time.Second, 2 * time.Second, 0, 30},
	{StateHydrating, 2 * time.Second, 3500 * time.Millisecond, 30, 80},
	{StateBootingNew, 3500 * time.Millisecond, 4500 * time.Millisecond, 80, 95},
	{StateRunningNew, 4500 * time.Millisecond, 5 * time.Second, 95, 99},
}

// MigrationPhase maps the time elapsed since a migration started to its state
// and progress. It is total: negative durations are pending and anything past
// the timeline is cleanup_old at 100.
func MigrationPhase(elapsed time.Duration) Phase {
	for _, b := range migrationTimeline {
		if elapsed < b.end {
			if elapsed < b.start {
				elapsed = b.start
			}
			frac := float64(elapsed-b.start) / float64(b.end-b.start)
			p := math.Min(b.to, b.from+frac*(b.to-b.from))
			return Phase{State: b.state, Progress: round1(p)}
		}
	}
	return Phase{State: StateCleanupOld, Progress: 100}
}

// advance returns the operation as seen at now. Only healthy migrations move.
func (op FSMOperation) advance(now time.Time) FSMOperation {
	if op.Type != OperationMigration || op.State == StateErrorRecovery {
		return op
	}
	ph := MigrationPhase(now.Sub(op.StartedAt))
	op.State = ph.State
	op.Progress = ph.Progress
	return op
}

// Done reports whether the operation finished and leaves its worker.
func (op FSMOperation) Done() bool {
	return op.Progress >= 100
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
