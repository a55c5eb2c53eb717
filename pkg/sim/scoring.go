package sim

// Rating is the end-of-game grade.
type Rating string

const (
	RatingSage      Rating = "Seasoned Infra Sage"
	RatingCompetent Rating = "Competent Operator"
	RatingLearning  Rating = "Learning Engineer"
	RatingNovice    Rating = "Novice Operator"
)

// Rate grades a final score.
func Rate(sc Score) Rating {
	switch {
	case sc.Uptime >= 99 && sc.RiskyActions <= 5 && sc.FailedMigrations <= 2:
		return RatingSage
	case sc.Uptime >= 95 && sc.RiskyActions <= 10:
		return RatingCompetent
	case sc.Uptime >= 90:
		return RatingLearning
	default:
		return RatingNovice
	}
}

// RegionHealth rolls the fleet up into one status. Any unresolved critical
// incident makes the region critical; more than two unresolved incidents or
// under 80% healthy workers make it degraded.
func RegionHealth(s State) RegionalHealth {
	active, critical := 0, 0
	for _, inc := range s.Incidents {
		if inc.Resolved {
			continue
		}
		active++
		if inc.Severity == SeverityCritical {
			critical++
		}
	}
	if critical > 0 {
		return RegionCritical
	}
	if active > 2 {
		return RegionDegraded
	}
	healthy := 0
	for _, w := range s.Workers {
		if w.Status == WorkerHealthy {
			healthy++
		}
	}
	if len(s.Workers) == 0 || float64(healthy)/float64(len(s.Workers)) < 0.8 {
		return RegionDegraded
	}
	return RegionHealthy
}
