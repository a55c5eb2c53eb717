package sim

import (
	"fmt"
	"time"
)

// WorkerSpec describes a worker present when a session starts.
type WorkerSpec struct {
	ID       string
	Name     string
	Baseline Stats
	Machines int
}

// Params holds every timing and probability constant of the engine.
// The zero value is not usable; start from DefaultParams.
type Params struct {
	// TickPeriod is the real-time period of one tick at game speed 1.
	TickPeriod time.Duration

	// IncidentInterval is the fixed period of the incident generator.
	IncidentInterval time.Duration

	DayLength  int
	TotalDays  int
	MaxWorkers int

	MachinesPerWorker int

	RestartDuration   time.Duration
	AutoResolveMinAge time.Duration
	FeedbackTTL       time.Duration

	UptimeImpactCap float64

	BaseIncidentRate         float64
	DegradedStressMultiplier float64

	DrainSuccessRate          float64
	EmergencyDrainSuccessRate float64
	ForceSuccessRate          float64
	InvestigatedBonus         float64

	// Jitter is the full width of the uniform noise added to each gauge.
	Jitter float64

	// GaugeFloor is the lower clamp of cpu and memory.
	GaugeFloor float64

	InitialWorkers []WorkerSpec
}

// DefaultParams returns the stock training scenario.
func DefaultParams() Params {
	return Params{
		TickPeriod:                time.Second,
		IncidentInterval:          5 * time.Second,
		DayLength:                 300,
		TotalDays:                 7,
		MaxWorkers:                4,
		MachinesPerWorker:         12,
		RestartDuration:           3 * time.Second,
		AutoResolveMinAge:         10 * time.Second,
		FeedbackTTL:               10 * time.Second,
		UptimeImpactCap:           50,
		BaseIncidentRate:          0.45,
		DegradedStressMultiplier:  1.5,
		DrainSuccessRate:          0.9,
		EmergencyDrainSuccessRate: 0.7,
		ForceSuccessRate:          0.7,
		InvestigatedBonus:         0.8,
		Jitter:                    10,
		GaugeFloor:                5,
		InitialWorkers: []WorkerSpec{
			{
				ID:       "worker-1",
				Name:     "fly-worker-ord-01",
				Baseline: Stats{CPU: 45, Memory: 62, Disk: 78},
				Machines: 12,
			},
		},
	}
}

// MaxGameSpeed is the fastest multiplier SET_GAME_SPEED accepts.
const MaxGameSpeed = 10.0

// minTickInterval keeps the tick timer positive whatever the speed.
const minTickInterval = time.Millisecond

// ValidGameSpeed reports whether v is a finite speed in (0, MaxGameSpeed].
func ValidGameSpeed(v float64) bool {
	return v > 0 && v <= MaxGameSpeed
}

// TickInterval returns the main tick period scaled by the game speed.
// Speeds outside (0, MaxGameSpeed] run at 1x.
func (p Params) TickInterval(gameSpeed float64) time.Duration {
	if !ValidGameSpeed(gameSpeed) {
		gameSpeed = 1
	}
	d := time.Duration(float64(p.TickPeriod) / gameSpeed)
	if d < minTickInterval {
		d = minTickInterval
	}
	return d
}

// Validate checks the parameters for values the engine cannot run with.
func (p Params) Validate() error {
	var problems []string
	if p.TickPeriod <= 0 {
		problems = append(problems, "tick period must be positive")
	}
	if p.IncidentInterval <= 0 {
		problems = append(problems, "incident interval must be positive")
	}
	if p.DayLength <= 0 || p.TotalDays <= 0 {
		problems = append(problems, "day length and total days must be positive")
	}
	if len(p.InitialWorkers) == 0 {
		problems = append(problems, "at least one initial worker is required")
	}
	if p.MaxWorkers < len(p.InitialWorkers) {
		problems = append(problems, "max workers is below the initial worker count")
	}
	for _, r := range []float64{p.BaseIncidentRate, p.DrainSuccessRate, p.EmergencyDrainSuccessRate, p.ForceSuccessRate} {
		if r < 0 || r > 1 {
			problems = append(problems, fmt.Sprintf("probability %v out of [0,1]", r))
		}
	}
	if p.GaugeFloor < 0 || p.GaugeFloor >= 100 {
		problems = append(problems, "gauge floor out of [0,100)")
	}
	if len(problems) > 0 {
		return NewConfigError("invalid engine parameters", fmt.Errorf("%v", problems)).
			WithCode(ErrCodeInvalidParams)
	}
	return nil
}
