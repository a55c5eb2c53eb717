package session

import (
	"time"

	"github.com/openfroyo/flysim/pkg/sim"
)

// timers holds the main tick and the incident generator. Both exist only
// while the snapshot is running; a nil ticker blocks its select case.
type timers struct {
	tick          *time.Ticker
	tickEvery     time.Duration
	incident      *time.Ticker
	incidentEvery time.Duration
}

// rearm arms, retunes or disarms both tickers from the latest snapshot.
func (t *timers) rearm(s sim.State, p sim.Params) {
	if !s.Running() {
		t.disarm()
		return
	}

	every := p.TickInterval(s.GameSpeed)
	switch {
	case t.tick == nil:
		t.tick = time.NewTicker(every)
	case t.tickEvery != every:
		t.tick.Reset(every)
	}
	t.tickEvery = every

	switch {
	case t.incident == nil:
		t.incident = time.NewTicker(p.IncidentInterval)
	case t.incidentEvery != p.IncidentInterval:
		t.incident.Reset(p.IncidentInterval)
	}
	t.incidentEvery = p.IncidentInterval
}

func (t *timers) disarm() {
	if t.tick != nil {
		t.tick.Stop()
		t.tick = nil
	}
	if t.incident != nil {
		t.incident.Stop()
		t.incident = nil
	}
}

func (t *timers) armed() bool {
	return t.tick != nil
}

func (t *timers) tickC() <-chan time.Time {
	if t.tick == nil {
		return nil
	}
	return t.tick.C
}

func (t *timers) incidentC() <-chan time.Time {
	if t.incident == nil {
		return nil
	}
	return t.incident.C
}
