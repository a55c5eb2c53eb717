package policy

import (
	"time"

	"github.com/openfroyo/flysim/pkg/sim"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is shown to the player but does not block the action.
	SeverityWarning Severity = "warning"

	// SeverityError blocks the action.
	SeverityError Severity = "error"

	// SeverityCritical blocks the action.
	SeverityCritical Severity = "critical"
)

// Blocks reports whether a violation of this severity denies the action.
func (s Severity) Blocks() bool {
	return s == SeverityError || s == SeverityCritical
}

// Policy is a guardrail written in Rego. Each policy module defines a
// deny set whose members are either message strings or objects with
// message and, optionally, severity fields.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	Description string `json:"description"`

	// Rego contains the Rego policy code.
	Rego string `json:"rego"`

	// Severity is the default severity for violations.
	Severity Severity `json:"severity"`

	Enabled bool     `json:"enabled"`
	Tags    []string `json:"tags,omitempty"`

	// Source is the file the policy was loaded from, empty for built-ins.
	Source string `json:"source,omitempty"`
}

// Violation is one deny result.
type Violation struct {
	Policy   string   `json:"policy"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`

	// Target is the worker or incident the intent addressed.
	Target string `json:"target,omitempty"`
}

// Result is the outcome of evaluating every enabled policy.
type Result struct {
	// Allowed is false when any violation blocks.
	Allowed bool `json:"allowed"`

	Violations []Violation `json:"violations,omitempty"`

	// Errors lists policies that failed to evaluate. A failing policy
	// neither allows nor denies.
	Errors []string `json:"errors,omitempty"`

	EvaluatedPolicies []string      `json:"evaluated_policies"`
	Duration          time.Duration `json:"duration"`
}

// Input is the document policies see as input. It is built from the
// intent and the snapshot it will be applied to.
type Input struct {
	Intent IntentInput `json:"intent"`

	// Worker is the targeted worker, or the worker of the targeted incident.
	Worker *sim.Worker `json:"worker,omitempty"`

	Incident *sim.Incident `json:"incident,omitempty"`

	Score sim.Score  `json:"score"`
	Fleet FleetInput `json:"fleet"`
	Clock ClockInput `json:"clock"`
}

// IntentInput describes the requested action.
type IntentInput struct {
	Type       sim.IntentKind `json:"type"`
	WorkerID   string         `json:"worker_id,omitempty"`
	IncidentID string         `json:"incident_id,omitempty"`
}

// FleetInput summarises the fleet.
type FleetInput struct {
	Workers           int `json:"workers"`
	HealthyWorkers    int `json:"healthy_workers"`
	ActiveIncidents   int `json:"active_incidents"`
	CriticalIncidents int `json:"critical_incidents"`
	ActiveMigrations  int `json:"active_migrations"`
}

// ClockInput is the game clock.
type ClockInput struct {
	Day       int `json:"day"`
	TimeInDay int `json:"time_in_day"`
	TotalDays int `json:"total_days,omitempty"`
}

// BuildInput assembles the policy input for an intent against a snapshot.
func BuildInput(in sim.Intent, s sim.State) Input {
	input := Input{
		Intent: IntentInput{
			Type:       in.Kind,
			WorkerID:   in.WorkerID,
			IncidentID: in.IncidentID,
		},
		Score: s.Score,
		Clock: ClockInput{Day: s.Day, TimeInDay: s.TimeInDay},
	}

	workerID := in.WorkerID
	if in.IncidentID != "" {
		if inc, ok := s.Incident(in.IncidentID); ok {
			input.Incident = &inc
			if workerID == "" {
				workerID = inc.WorkerID
			}
		}
	}
	if workerID != "" {
		if w, ok := s.Worker(workerID); ok {
			input.Worker = &w
		}
	}

	input.Fleet.Workers = len(s.Workers)
	for _, w := range s.Workers {
		if w.Status == sim.WorkerHealthy {
			input.Fleet.HealthyWorkers++
		}
		if w.HasActiveMigration() {
			input.Fleet.ActiveMigrations++
		}
	}
	for _, inc := range sim.ActiveIncidents(s) {
		input.Fleet.ActiveIncidents++
		if inc.Severity == sim.SeverityCritical {
			input.Fleet.CriticalIncidents++
		}
	}
	return input
}
