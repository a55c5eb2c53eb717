package config

import (
	"encoding/json"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/openfroyo/flysim/pkg/sim"
)

// Duration is a time.Duration written as a Go duration string ("1s",
// "250ms") in tuning files. A bare integer is read as milliseconds.
type Duration struct {
	time.Duration
}

// D wraps d.
func D(d time.Duration) Duration {
	return Duration{Duration: d}
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var ms int64
	if err := node.Decode(&ms); err == nil {
		d.Duration = time.Duration(ms) * time.Millisecond
		return nil
	}
	var s string
	if err := node.Decode(&s); err != nil {
		return fmt.Errorf("line %d: duration must be a string or milliseconds", node.Line)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var ms int64
	if err := json.Unmarshal(data, &ms); err == nil {
		d.Duration = time.Duration(ms) * time.Millisecond
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("duration must be a string or milliseconds: %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// WorkerTuning describes a worker present when a session starts.
type WorkerTuning struct {
	ID       string  `yaml:"id" json:"id" validate:"required"`
	Name     string  `yaml:"name" json:"name" validate:"required"`
	CPU      float64 `yaml:"cpu" json:"cpu" validate:"gte=0,lte=100"`
	Memory   float64 `yaml:"memory" json:"memory" validate:"gte=0,lte=100"`
	Disk     float64 `yaml:"disk" json:"disk" validate:"gte=0,lte=100"`
	Machines int     `yaml:"machines,omitempty" json:"machines,omitempty" validate:"gte=0"`
}

// Tuning is the on-disk form of every timing and probability constant of
// the simulation. Zero-valued fields are filled from DefaultTuning when a
// file is loaded.
type Tuning struct {
	// TickPeriod is the real-time length of one tick at game speed 1.
	TickPeriod Duration `yaml:"tick_period" json:"tick_period" validate:"gt=0"`

	// GameSpeed is the initial speed multiplier.
	GameSpeed float64 `yaml:"game_speed" json:"game_speed" validate:"gt=0,lte=10"`

	IncidentInterval Duration `yaml:"incident_interval" json:"incident_interval" validate:"gt=0"`

	DayLength  int `yaml:"day_length" json:"day_length" validate:"gt=0"`
	TotalDays  int `yaml:"total_days" json:"total_days" validate:"gt=0"`
	MaxWorkers int `yaml:"max_workers" json:"max_workers" validate:"gt=0"`

	MachinesPerWorker int `yaml:"machines_per_worker" json:"machines_per_worker" validate:"gt=0"`

	RestartDuration   Duration `yaml:"restart_duration" json:"restart_duration" validate:"gt=0"`
	AutoResolveMinAge Duration `yaml:"auto_resolve_min_age" json:"auto_resolve_min_age" validate:"gte=0"`
	FeedbackTTL       Duration `yaml:"feedback_ttl" json:"feedback_ttl" validate:"gt=0"`

	UptimeImpactCap float64 `yaml:"uptime_impact_cap" json:"uptime_impact_cap" validate:"gt=0,lte=100"`

	BaseIncidentRate         float64 `yaml:"base_incident_rate" json:"base_incident_rate" validate:"gte=0,lte=1"`
	DegradedStressMultiplier float64 `yaml:"degraded_stress_multiplier" json:"degraded_stress_multiplier" validate:"gte=1"`

	DrainSuccessRate          float64 `yaml:"drain_success_rate" json:"drain_success_rate" validate:"gte=0,lte=1"`
	EmergencyDrainSuccessRate float64 `yaml:"emergency_drain_success_rate" json:"emergency_drain_success_rate" validate:"gte=0,lte=1"`
	ForceSuccessRate          float64 `yaml:"force_success_rate" json:"force_success_rate" validate:"gte=0,lte=1"`
	InvestigatedBonus         float64 `yaml:"investigated_bonus" json:"investigated_bonus" validate:"gte=0"`

	// Jitter is the full width of the noise added to each gauge.
	Jitter     float64 `yaml:"jitter" json:"jitter" validate:"gte=0,lte=50"`
	GaugeFloor float64 `yaml:"gauge_floor" json:"gauge_floor" validate:"gte=0,lt=100"`

	Workers []WorkerTuning `yaml:"workers" json:"workers" validate:"required,min=1,dive"`
}

// DefaultTuning returns the stock scenario, identical to sim.DefaultParams.
func DefaultTuning() Tuning {
	return FromParams(sim.DefaultParams())
}

// FromParams converts engine parameters into their file form.
func FromParams(p sim.Params) Tuning {
	t := Tuning{
		TickPeriod:                D(p.TickPeriod),
		GameSpeed:                 1,
		IncidentInterval:          D(p.IncidentInterval),
		DayLength:                 p.DayLength,
		TotalDays:                 p.TotalDays,
		MaxWorkers:                p.MaxWorkers,
		MachinesPerWorker:         p.MachinesPerWorker,
		RestartDuration:           D(p.RestartDuration),
		AutoResolveMinAge:         D(p.AutoResolveMinAge),
		FeedbackTTL:               D(p.FeedbackTTL),
		UptimeImpactCap:           p.UptimeImpactCap,
		BaseIncidentRate:          p.BaseIncidentRate,
		DegradedStressMultiplier:  p.DegradedStressMultiplier,
		DrainSuccessRate:          p.DrainSuccessRate,
		EmergencyDrainSuccessRate: p.EmergencyDrainSuccessRate,
		ForceSuccessRate:          p.ForceSuccessRate,
		InvestigatedBonus:         p.InvestigatedBonus,
		Jitter:                    p.Jitter,
		GaugeFloor:                p.GaugeFloor,
	}
	for _, w := range p.InitialWorkers {
		t.Workers = append(t.Workers, WorkerTuning{
			ID:       w.ID,
			Name:     w.Name,
			CPU:      w.Baseline.CPU,
			Memory:   w.Baseline.Memory,
			Disk:     w.Baseline.Disk,
			Machines: w.Machines,
		})
	}
	return t
}

// Params projects the tuning onto the engine parameters.
func (t Tuning) Params() sim.Params {
	p := sim.Params{
		TickPeriod:                t.TickPeriod.Duration,
		IncidentInterval:          t.IncidentInterval.Duration,
		DayLength:                 t.DayLength,
		TotalDays:                 t.TotalDays,
		MaxWorkers:                t.MaxWorkers,
		MachinesPerWorker:         t.MachinesPerWorker,
		RestartDuration:           t.RestartDuration.Duration,
		AutoResolveMinAge:         t.AutoResolveMinAge.Duration,
		FeedbackTTL:               t.FeedbackTTL.Duration,
		UptimeImpactCap:           t.UptimeImpactCap,
		BaseIncidentRate:          t.BaseIncidentRate,
		DegradedStressMultiplier:  t.DegradedStressMultiplier,
		DrainSuccessRate:          t.DrainSuccessRate,
		EmergencyDrainSuccessRate: t.EmergencyDrainSuccessRate,
		ForceSuccessRate:          t.ForceSuccessRate,
		InvestigatedBonus:         t.InvestigatedBonus,
		Jitter:                    t.Jitter,
		GaugeFloor:                t.GaugeFloor,
	}
	for _, w := range t.Workers {
		p.InitialWorkers = append(p.InitialWorkers, sim.WorkerSpec{
			ID:       w.ID,
			Name:     w.Name,
			Baseline: sim.Stats{CPU: w.CPU, Memory: w.Memory, Disk: w.Disk},
			Machines: w.Machines,
		})
	}
	return p
}

// ValidationError is a tuning or drill problem with its location, when known.
type ValidationError struct {
	// File is the source file path.
	File string `json:"file,omitempty"`

	// Line is the line number (1-indexed).
	Line int `json:"line,omitempty"`

	// Path is the field path, e.g. "workers.0.cpu".
	Path string `json:"path,omitempty"`

	Message string `json:"message"`
}

func (e ValidationError) String() string {
	loc := e.File
	if e.Line > 0 {
		loc = fmt.Sprintf("%s:%d", loc, e.Line)
	}
	switch {
	case loc != "" && e.Path != "":
		return fmt.Sprintf("%s: %s: %s", loc, e.Path, e.Message)
	case loc != "":
		return fmt.Sprintf("%s: %s", loc, e.Message)
	case e.Path != "":
		return fmt.Sprintf("%s: %s", e.Path, e.Message)
	}
	return e.Message
}

// ValidationErrors collects every problem found in one document.
type ValidationErrors []ValidationError

func (ve ValidationErrors) Error() string {
	if len(ve) == 1 {
		return ve[0].String()
	}
	msg := fmt.Sprintf("%d validation errors:", len(ve))
	for _, e := range ve {
		msg += "\n  " + e.String()
	}
	return msg
}

// StarlarkResult represents the result of Starlark execution.
type StarlarkResult struct {
	// Output holds the script's exported globals.
	Output map[string]interface{} `json:"output,omitempty"`

	// ExecutionTime is how long the script took to execute.
	ExecutionTime time.Duration `json:"execution_time"`

	// Error is any error that occurred.
	Error string `json:"error,omitempty"`
}
