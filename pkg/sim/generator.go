package sim

// Candidate groups, in the order the pool is assembled.
var (
	daemonIncidents     = []IncidentType{IncidentFlydStalled, IncidentMemoryLeak, IncidentConfigCorruption}
	containerdIncidents = []IncidentType{IncidentContainerdSync}
	networkIncidents    = []IncidentType{IncidentNetworkPartition, IncidentNetworkCongestion, IncidentNetworkHardwareFailure}
	storageIncidents    = []IncidentType{IncidentStorageCorruption, IncidentStorageSpreading}
	hardwareIncidents   = []IncidentType{IncidentHardwareDegradation, IncidentKernelPanic}
	baselineIncidents   = []IncidentType{IncidentDiskIOBottleneck, IncidentDNSFailure}
)

// CandidateIncidents returns the incident types that may strike w right now.
func CandidateIncidents(w Worker) []IncidentType {
	migrating := w.HasActiveMigration()

	var pool []IncidentType
	if w.FlydStatus == FlydRunning && !migrating {
		pool = append(pool, daemonIncidents...)
	}
	if w.ContainerdHealth == ContainerdHealthy {
		pool = append(pool, containerdIncidents...)
	}
	if w.NetworkStatus == NetworkConnected {
		pool = append(pool, networkIncidents...)
	}
	pool = append(pool, storageIncidents...)
	pool = append(pool, hardwareIncidents...)
	pool = append(pool, baselineIncidents...)

	out := pool[:0]
	for _, t := range pool {
		s := spec(t)
		if w.FlydStatus == FlydRestarting && s.SuppressedByRestart {
			continue
		}
		// Evacuation-class incidents would collide with the drain in progress.
		if migrating && s.RequiresDrain {
			continue
		}
		out = append(out, t)
	}
	return out
}

func stressMultiplier(w Worker, p Params) float64 {
	if w.Status == WorkerDegraded {
		return p.DegradedStressMultiplier
	}
	return 1
}

// GenerateIncident runs one firing of the incident generator against s.
// It picks a worker uniformly, skips failing workers, rolls the incident rate
// and picks one candidate uniformly. The incident is returned but not applied.
func GenerateIncident(s State, env Env) (Incident, bool) {
	if len(s.Workers) == 0 {
		return Incident{}, false
	}
	w := s.Workers[env.Rand.IntN(len(s.Workers))]
	if w.Status == WorkerCritical || w.Status == WorkerDegraded {
		return Incident{}, false
	}

	// Degraded workers were skipped above, so the multiplier is 1 today.
	rate := env.Params.BaseIncidentRate * stressMultiplier(w, env.Params)
	if !chance(env.Rand, rate) {
		return Incident{}, false
	}

	pool := CandidateIncidents(w)
	if len(pool) == 0 {
		return Incident{}, false
	}
	t := pool[env.Rand.IntN(len(pool))]
	return NewIncident(t, w.ID, s, env), true
}

// NewIncident builds an incident of type t on the worker from the catalog.
// workerID may be empty for fleet-wide incidents.
func NewIncident(t IncidentType, workerID string, s State, env Env) Incident {
	sp := spec(t)
	inc := Incident{
		ID:            env.id("incident"),
		Type:          t,
		Severity:      sp.Severity,
		WorkerID:      workerID,
		Title:         sp.Title,
		Description:   sp.Description,
		CreatedAt:     env.Now,
		UptimeImpact:  sp.UptimeImpact,
		RequiresDrain: sp.RequiresDrain,
		IsFirstTime:   !s.HasSeen(t),
	}
	if inc.IsFirstTime {
		inc.Lesson = sp.Lesson
	}
	return inc
}
