package sim

import "math"

// Load added by every migration, and extra while it hydrates.
var (
	migrationLoad = Stats{CPU: 15, Memory: 25}
	hydrationLoad = Stats{CPU: 10, Memory: 15}
)

// flydLoad is the surcharge of a daemon that is not simply running.
var flydLoad = map[FlydStatus]Stats{
	FlydRestarting: {CPU: 30, Memory: 20},
	FlydStalled:    {CPU: 40, Memory: 25},
}

func (s Stats) add(o Stats) Stats {
	return Stats{CPU: s.CPU + o.CPU, Memory: s.Memory + o.Memory, Disk: s.Disk + o.Disk}
}

// dynamicStats derives the gauges of w from its baseline, jitter, the
// unresolved incidents on it, its migrations and its daemon state.
// The random source is drawn exactly three times, cpu then memory then disk.
func dynamicStats(w Worker, incidents []Incident, r Rand, p Params) Stats {
	s := w.Baseline
	s.CPU += (r.Float64() - 0.5) * p.Jitter
	s.Memory += (r.Float64() - 0.5) * p.Jitter
	s.Disk += (r.Float64() - 0.5) * p.Jitter

	for _, inc := range incidents {
		if inc.Resolved || inc.WorkerID != w.ID {
			continue
		}
		s = s.add(spec(inc.Type).Penalty)
	}

	for _, op := range w.ActiveFSMs {
		if op.Type != OperationMigration {
			continue
		}
		s = s.add(migrationLoad)
		if op.State == StateHydrating {
			s = s.add(hydrationLoad)
		}
	}

	s = s.add(flydLoad[w.FlydStatus])

	// Rounded before clamping so a fractional bound is never undercut.
	return Stats{
		CPU:    clamp(round1(s.CPU), p.GaugeFloor, 100),
		Memory: clamp(round1(s.Memory), p.GaugeFloor, 100),
		Disk:   clamp(round1(s.Disk), w.Baseline.Disk, 100),
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
