package sim

import (
	"math"
	"time"
)

// Uptime is 100 minus the summed impact of unresolved incidents, with the
// reduction capped and the result never below zero.
func Uptime(incidents []Incident, impactCap float64) float64 {
	var total float64
	for _, inc := range incidents {
		if !inc.Resolved {
			total += inc.UptimeImpact
		}
	}
	return math.Max(0, 100-math.Min(impactCap, total))
}

// conditionMet evaluates the type-specific auto-resolution rule against the
// worker as updated this tick.
func conditionMet(rule ResolveRule, w Worker) bool {
	switch rule {
	case ResolveWhenFlydRunning:
		return w.FlydStatus == FlydRunning
	case ResolveWhenContainerdHealthy:
		return w.ContainerdHealth == ContainerdHealthy
	case ResolveWhenNetworkConnected:
		return w.NetworkStatus == NetworkConnected
	case ResolveWhenHydrationDone:
		for _, op := range w.ActiveFSMs {
			if op.State == StateHydrating && op.Progress <= 80 {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// autoResolve resolves, in place, every incident whose deadline passed or
// whose condition holds. Conditions only apply once an incident is old
// enough, so a stale read of a worker the player just fixed cannot close it.
// It returns the indices it resolved.
func autoResolve(s *State, now time.Time, p Params) []int {
	var resolved []int
	for i := range s.Incidents {
		inc := &s.Incidents[i]
		if inc.Resolved {
			continue
		}
		if inc.AutoResolveAt != nil && now.After(*inc.AutoResolveAt) {
			resolve(inc, now)
			resolved = append(resolved, i)
			continue
		}
		if now.Sub(inc.CreatedAt) < p.AutoResolveMinAge {
			continue
		}
		w, ok := s.Worker(inc.WorkerID)
		if !ok {
			continue
		}
		if conditionMet(spec(inc.Type).AutoResolve, w) {
			resolve(inc, now)
			resolved = append(resolved, i)
		}
	}
	return resolved
}

func resolve(inc *Incident, now time.Time) {
	if inc.Resolved {
		return
	}
	t := now
	inc.Resolved = true
	inc.ResolvedAt = &t
}

// ActiveIncidents returns the unresolved incidents, oldest first.
func ActiveIncidents(s State) []Incident {
	var out []Incident
	for _, inc := range s.Incidents {
		if !inc.Resolved {
			out = append(out, inc)
		}
	}
	return out
}

// RecentlyResolved returns up to n resolved incidents, newest first.
func RecentlyResolved(s State, n int) []Incident {
	var out []Incident
	for i := len(s.Incidents) - 1; i >= 0 && len(out) < n; i-- {
		if s.Incidents[i].Resolved {
			out = append(out, s.Incidents[i])
		}
	}
	return out
}

// ResolvedBetween lists incidents that are resolved in next but were open
// (or absent) in prev, in next's order.
func ResolvedBetween(prev, next State) []Incident {
	var out []Incident
	for _, inc := range next.Incidents {
		if !inc.Resolved {
			continue
		}
		if old, ok := prev.Incident(inc.ID); ok && old.Resolved {
			continue
		}
		out = append(out, inc)
	}
	return out
}
