package commands

import (
	"fmt"
	"strings"

	"github.com/openfroyo/flysim/pkg/sim"
)

// autopilot plays a headless game. Next is called after every tick and
// returns the player intent to apply, if any.
type autopilot interface {
	Next(s sim.State) (sim.Intent, bool)
}

// Strategy names accepted by --strategy.
const (
	strategyIdle     = "idle"
	strategyCareful  = "careful"
	strategyReckless = "reckless"
)

func newAutopilot(name string, reaction int) (autopilot, error) {
	switch strings.ToLower(name) {
	case strategyIdle:
		return idlePilot{}, nil
	case strategyCareful:
		return &carefulPilot{reaction: reaction}, nil
	case strategyReckless:
		return &recklessPilot{reaction: reaction}, nil
	}
	return nil, fmt.Errorf("unknown strategy %q (want %s, %s or %s)", name, strategyIdle, strategyCareful, strategyReckless)
}

// idlePilot never acts; incidents only end by auto-resolution.
type idlePilot struct{}

func (idlePilot) Next(sim.State) (sim.Intent, bool) { return sim.Intent{}, false }

// carefulPilot diagnoses before fixing: investigate, read the logs, then
// apply the quick fix. It acts at most once every reaction ticks.
type carefulPilot struct {
	reaction int
	wait     int
}

func (p *carefulPilot) Next(s sim.State) (sim.Intent, bool) {
	if p.wait > 0 {
		p.wait--
		return sim.Intent{}, false
	}
	active := sim.ActiveIncidents(s)
	if len(active) == 0 {
		return sim.Intent{}, false
	}
	p.wait = p.reaction

	inc := mostSevere(active)
	switch {
	case !inc.Investigated:
		return sim.Investigate(inc.ID), true
	case !inc.LogViewed:
		return sim.ViewLogs(inc.ID), true
	}
	if w, ok := s.Worker(inc.WorkerID); ok && w.FlydStatus == sim.FlydRestarting {
		// Let the restart finish first.
		return sim.Intent{}, false
	}
	return sim.QuickFixIncident(inc.ID), true
}

// recklessPilot reaches for the heavy tools straight away: forced FSM
// transitions and drains.
type recklessPilot struct {
	reaction int
	wait     int
}

func (p *recklessPilot) Next(s sim.State) (sim.Intent, bool) {
	if p.wait > 0 {
		p.wait--
		return sim.Intent{}, false
	}
	active := sim.ActiveIncidents(s)
	if len(active) == 0 {
		return sim.Intent{}, false
	}
	p.wait = p.reaction

	inc := mostSevere(active)
	if w, ok := s.Worker(inc.WorkerID); ok && w.Status == sim.WorkerCritical && !w.HasActiveMigration() {
		return sim.DrainWorker(w.ID), true
	}
	return sim.ForceTransition(inc.ID), true
}

var severityRank = map[sim.Severity]int{
	sim.SeverityCritical: 4,
	sim.SeverityHigh:     3,
	sim.SeverityMedium:   2,
	sim.SeverityLow:      1,
}

// mostSevere returns the most severe incident, oldest first among equals.
func mostSevere(incidents []sim.Incident) sim.Incident {
	best := incidents[0]
	for _, inc := range incidents[1:] {
		if severityRank[inc.Severity] > severityRank[best.Severity] {
			best = inc
		}
	}
	return best
}
