package sim

import (
	"fmt"
	"strings"
)

// ResolveRule is the condition under which the lifecycle manager resolves an
// incident on its own.
type ResolveRule int

const (
	// ResolveNever leaves the incident to actions and deadlines.
	ResolveNever ResolveRule = iota
	// ResolveWhenFlydRunning resolves once flyd is running again.
	ResolveWhenFlydRunning
	// ResolveWhenContainerdHealthy resolves once containerd is healthy.
	ResolveWhenContainerdHealthy
	// ResolveWhenNetworkConnected resolves once the network is connected.
	ResolveWhenNetworkConnected
	// ResolveWhenHydrationDone resolves once no FSM is stuck in hydration.
	ResolveWhenHydrationDone
)

// QuickFixAlias names the full action a successful quick fix turns into.
type QuickFixAlias string

const (
	AliasNone    QuickFixAlias = ""
	AliasRestart QuickFixAlias = "restart"
	AliasDrain   QuickFixAlias = "drain"
)

// Effect is applied to the owning worker when an incident is created.
// Empty fields leave the worker untouched.
type Effect struct {
	Status     WorkerStatus
	Flyd       FlydStatus
	Containerd ContainerdHealth
	Network    NetworkStatus
}

// Narrative is a titled piece of text shown as feedback.
type Narrative struct {
	Title   string
	Message string
}

// QuickFix is the one-click remediation offered for an incident type.
type QuickFix struct {
	Action      string
	SuccessRate float64
	TakesTime   bool
	Alias       QuickFixAlias
}

// IncidentSpec is the fixed policy of one incident type.
type IncidentSpec struct {
	Severity      Severity
	Title         string
	Description   string
	Lesson        string
	UptimeImpact  float64
	RequiresDrain bool

	// Penalty is added to the worker gauges while the incident is unresolved.
	Penalty Stats

	AutoResolve   ResolveRule
	Effect        Effect
	Investigation Narrative
	LogLine       string
	QuickFix      QuickFix

	// ClearedByRestart incidents are resolved by a flyd restart on their worker.
	ClearedByRestart bool

	// SuppressedByRestart incidents are not generated while flyd restarts.
	SuppressedByRestart bool
}

// catalog holds one entry per incident type. CheckCatalog enforces that.
var catalog = map[IncidentType]IncidentSpec{
	IncidentFlydStalled: {
		Severity:     SeverityHigh,
		Title:        "flyd Process Stalled",
		Description:  "flyd process on worker has become unresponsive. FSM operations are backing up.",
		Lesson:       "flyd manages FSM operations. When stalled, new deployments and migrations queue up. Investigation reveals root cause.",
		UptimeImpact: 15,
		Penalty:      Stats{CPU: 25, Memory: 15},
		AutoResolve:  ResolveWhenFlydRunning,
		Effect:       Effect{Flyd: FlydStalled},
		Investigation: Narrative{
			Title:   "Investigation Complete",
			Message: "Root cause: flyd FSM stuck in machine_boot transition for 300+ seconds. Worker has 8 pending FSM operations queued. Restart will clear the queue and resume normal operations.",
		},
		LogLine:             "ERROR [FSM] machine_boot transition timeout after 300s. State: pending -> stuck. Queue depth: 8 operations",
		QuickFix:            QuickFix{Action: "Restart flyd", SuccessRate: 0.2, TakesTime: true, Alias: AliasRestart},
		ClearedByRestart:    true,
		SuppressedByRestart: true,
	},
	IncidentMigrationStuck: {
		Severity:     SeverityHigh,
		Title:        "Migration Stuck",
		Description:  "dm-clone hydration stalled. Machine migration is not making progress.",
		Lesson:       "dm-clone handles live migration of machine state. Stuck hydration indicates network or storage issues.",
		UptimeImpact: 12,
		Penalty:      Stats{CPU: 20, Memory: 30},
		AutoResolve:  ResolveWhenHydrationDone,
		Investigation: Narrative{
			Title:   "Migration Analysis",
			Message: "dm-clone hydration stalled at 45% for 12 minutes. Network throughput dropped to 0 MB/s. Target worker may have storage issues or network partition.",
		},
		LogLine:  "WARN [dm-clone] hydration stalled. Progress: 45%. Network throughput: 0 MB/s. Retry count: 15",
		QuickFix: QuickFix{Action: "Cancel migration", SuccessRate: 0.15},
	},
	IncidentContainerdSync: {
		Severity:     SeverityMedium,
		Title:        "containerd Sync Issue",
		Description:  "Lease database mismatch between flyd and containerd. Some containers in unknown state.",
		Lesson:       "flyd maintains a lease database of containers. Sync issues cause boot failures and inconsistent state.",
		UptimeImpact: 10,
		Penalty:      Stats{CPU: 15, Memory: 20},
		AutoResolve:  ResolveWhenContainerdHealthy,
		Effect:       Effect{Containerd: ContainerdDegraded},
		Investigation: Narrative{
			Title:   "Sync Investigation",
			Message: "flyd lease database shows 12 active containers, but containerd reports only 8 running. 4 containers in unknown state. Restart will force lease reconciliation.",
		},
		LogLine:             "ERROR [lease] mismatch detected. Expected: 12 containers, Actual: 8. Missing: [app-1, app-2, app-3, app-4]",
		QuickFix:            QuickFix{Action: "Restart flyd", SuccessRate: 0.25, TakesTime: true, Alias: AliasRestart},
		ClearedByRestart:    true,
		SuppressedByRestart: true,
	},
	IncidentNetworkPartition: {
		Severity:     SeverityHigh,
		Title:        "Network Partition",
		Description:  "Worker lost connectivity to coordination services. Local containers still running.",
		Lesson:       "Partitions cut a worker off from coordination. Local machines keep running but nothing new can be scheduled.",
		UptimeImpact: 14,
		Penalty:      Stats{CPU: 10},
		AutoResolve:  ResolveWhenNetworkConnected,
		Effect:       Effect{Network: NetworkDegraded},
		Investigation: Narrative{
			Title:   "Network Diagnosis",
			Message: "Worker lost connectivity to coordination services. 5 consecutive connection failures detected. Local containers still running but no new deployments possible.",
		},
		LogLine:  "ERROR [coordination] connection failed. Endpoint: coord.fly.io:443. Retry 5/5 failed. Backoff: 30s",
		QuickFix: QuickFix{Action: "Restart networking", SuccessRate: 0.2},
	},
	IncidentStorageCorruption: {
		Severity:     SeverityHigh,
		Title:        "Storage Corruption",
		Description:  "LVM metadata corruption detected. Data integrity at risk.",
		Lesson:       "LVM metadata describes every machine volume. Corruption puts the data of all machines on the worker at risk.",
		UptimeImpact: 18,
		Penalty:      Stats{CPU: 10, Disk: 20},
		AutoResolve:  ResolveNever,
		Effect:       Effect{Status: WorkerDegraded},
		Investigation: Narrative{
			Title:   "Storage Analysis",
			Message: "LVM metadata corruption detected in volume group. 2 logical volumes affected. Data integrity at risk. Immediate evacuation required before total failure.",
		},
		LogLine:  "FATAL [LVM] metadata read failed. VG: fly-volumes. Corrupted LVs: vol-abc123, vol-def456",
		QuickFix: QuickFix{Action: "Mark volumes read-only", SuccessRate: 0.1},
	},
	IncidentMemoryLeak: {
		Severity:     SeverityHigh,
		Title:        "flyd Memory Leak",
		Description:  "flyd process memory usage growing rapidly. FSM tracker leaking references.",
		Lesson:       "flyd's memory usage should be stable. Leaks can cause OOM kills and service disruption if not addressed.",
		UptimeImpact: 8,
		Penalty:      Stats{CPU: 10, Memory: 35},
		AutoResolve:  ResolveWhenFlydRunning,
		Investigation: Narrative{
			Title:   "Memory Analysis",
			Message: "flyd process has grown to 2.8GB of memory usage. Leak detected in FSM state tracking. Restart will reclaim memory and reset the process heap.",
		},
		LogLine:             "WARN [memory] Process memory usage: 2.8GB. Heap growth rate: +50MB/min. FSM tracker leaking references.",
		QuickFix:            QuickFix{Action: "Restart flyd", SuccessRate: 0.2, TakesTime: true, Alias: AliasRestart},
		ClearedByRestart:    true,
		SuppressedByRestart: true,
	},
	IncidentDiskIOBottleneck: {
		Severity:     SeverityMedium,
		Title:        "Disk I/O Bottleneck",
		Description:  "High disk queue depth causing slow machine operations. I/O latency increasing.",
		Lesson:       "High disk I/O can bottleneck all operations. Machines will experience slow boot and migration times.",
		UptimeImpact: 6,
		Penalty:      Stats{CPU: 15, Disk: 25},
		AutoResolve:  ResolveNever,
		Effect:       Effect{Status: WorkerDegraded},
		Investigation: Narrative{
			Title:   "I/O Analysis",
			Message: "Disk I/O queue depth at 128+. Average latency 250ms. Multiple machines experiencing slow boot times. Consider migrating machines to reduce load.",
		},
		LogLine:  "WARN [io] Disk I/O queue depth: 128. Average latency: 250ms. Throttling machine creation operations.",
		QuickFix: QuickFix{Action: "Throttle I/O", SuccessRate: 0.2},
	},
	IncidentKernelPanic: {
		Severity:     SeverityCritical,
		Title:        "Kernel Panic",
		Description:  "Worker kernel panic detected. Likely caused by faulty hardware or driver issue.",
		Lesson:       "Kernel panics indicate serious system issues. The worker may become completely unresponsive.",
		UptimeImpact: 20,
		Penalty:      Stats{CPU: 30, Memory: 20},
		AutoResolve:  ResolveNever,
		Effect:       Effect{Status: WorkerCritical},
		Investigation: Narrative{
			Title:   "Kernel Analysis",
			Message: "Worker kernel panic detected in dmesg logs. Likely caused by faulty hardware or driver issue. Worker requires immediate reboot.",
		},
		LogLine:             "FATAL [kernel] Kernel panic detected. Call trace: [flyio_virtio_driver+0x1234]. Worker unstable.",
		QuickFix:            QuickFix{Action: "Reboot worker", SuccessRate: 0.15, TakesTime: true, Alias: AliasRestart},
		SuppressedByRestart: true,
	},
	IncidentNetworkCongestion: {
		Severity:     SeverityMedium,
		Title:        "Network Congestion",
		Description:  "High packet loss and latency affecting machine operations and migrations.",
		Lesson:       "Network congestion causes packet loss and high latency, affecting all network-dependent operations.",
		UptimeImpact: 8,
		Penalty:      Stats{CPU: 15},
		AutoResolve:  ResolveWhenNetworkConnected,
		Effect:       Effect{Network: NetworkDegraded},
		Investigation: Narrative{
			Title:   "Network Analysis",
			Message: "Network interface showing 85% packet loss and high retransmit rate. Possible switch issue or NIC failure. Consider draining worker.",
		},
		LogLine:  "ERROR [network] Packet loss: 85%. RTT: 1250ms. TCP retransmits: 42%. Network interface degraded.",
		QuickFix: QuickFix{Action: "Reset NIC", SuccessRate: 0.15},
	},
	IncidentDNSFailure: {
		Severity:     SeverityLow,
		Title:        "DNS Resolution Failure",
		Description:  "Worker unable to resolve internal DNS names. Local resolver cache may be corrupted.",
		Lesson:       "DNS resolution is critical for service discovery. Failures prevent machines from finding dependencies.",
		UptimeImpact: 2,
		Penalty:      Stats{CPU: 5},
		AutoResolve:  ResolveWhenNetworkConnected,
		Effect:       Effect{Network: NetworkDegraded},
		Investigation: Narrative{
			Title:   "DNS Analysis",
			Message: "Worker unable to resolve internal DNS names. Local resolver cache corrupted. Restart networking services to rebuild cache.",
		},
		LogLine:  "ERROR [dns] Failed to resolve coord.fly.io. Error: SERVFAIL. Local resolver cache may be corrupted.",
		QuickFix: QuickFix{Action: "Flush DNS cache", SuccessRate: 0.25},
	},
	IncidentConfigCorruption: {
		Severity:     SeverityHigh,
		Title:        "flyd Config Corruption",
		Description:  "flyd configuration file has become corrupted with invalid JSON syntax.",
		Lesson:       "flyd relies on its config file for operation parameters. Corruption can cause unexpected behavior.",
		UptimeImpact: 12,
		Penalty:      Stats{CPU: 20, Memory: 10},
		AutoResolve:  ResolveWhenFlydRunning,
		Effect:       Effect{Flyd: FlydStalled},
		Investigation: Narrative{
			Title:   "Config Analysis",
			Message: "flyd configuration file corrupted with invalid JSON. Detected 3 syntax errors. Restart will reload from backup config.",
		},
		LogLine:             "ERROR [config] Failed to parse /etc/flyd/config.json: Unexpected token at line 42. Using fallback config.",
		QuickFix:            QuickFix{Action: "Restore config", SuccessRate: 0.2, TakesTime: true, Alias: AliasRestart},
		ClearedByRestart:    true,
		SuppressedByRestart: true,
	},
	IncidentHardwareDegradation: {
		Severity:      SeverityCritical,
		Title:         "Hardware Degradation",
		Description:   "ECC memory errors increasing exponentially. Hardware failure imminent.",
		Lesson:        "Hardware degradation is progressive and fatal. ECC errors and thermal issues indicate imminent failure requiring immediate evacuation.",
		UptimeImpact:  22,
		RequiresDrain: true,
		Penalty:       Stats{CPU: 20, Memory: 10, Disk: 10},
		AutoResolve:   ResolveNever,
		Effect:        Effect{Status: WorkerCritical},
		Investigation: Narrative{
			Title:   "Hardware Analysis",
			Message: "CRITICAL: ECC memory errors increasing exponentially. CPU thermal throttling detected. Hardware failure imminent within 2-4 hours. IMMEDIATE DRAIN REQUIRED.",
		},
		LogLine:  "FATAL [hardware] ECC errors: 847 in last hour. CPU temp: 89°C (throttling). Memory test failures detected.",
		QuickFix: QuickFix{Action: "Emergency drain", SuccessRate: 0.1, TakesTime: true, Alias: AliasDrain},
	},
	IncidentStorageSpreading: {
		Severity:      SeverityCritical,
		Title:         "Storage Corruption Spreading",
		Description:   "LVM corruption spreading across volume group. Immediate evacuation required.",
		Lesson:        "Storage corruption that spreads indicates systemic failure. LVM corruption can cascade to total data loss if not evacuated immediately.",
		UptimeImpact:  30,
		RequiresDrain: true,
		Penalty:       Stats{CPU: 15, Disk: 30},
		AutoResolve:   ResolveNever,
		Effect:        Effect{Status: WorkerCritical},
		Investigation: Narrative{
			Title:   "Storage Analysis",
			Message: "CRITICAL: LVM corruption spreading across volume group. 6 volumes now affected, up from 2. Filesystem errors detected. IMMEDIATE DRAIN REQUIRED to prevent total data loss.",
		},
		LogLine:  "FATAL [storage] LVM corruption spreading. Affected LVs: 6/12. Filesystem errors: ext4 journal corruption detected.",
		QuickFix: QuickFix{Action: "Emergency drain", SuccessRate: 0.1, TakesTime: true, Alias: AliasDrain},
	},
	IncidentNetworkHardwareFailure: {
		Severity:      SeverityCritical,
		Title:         "Network Hardware Failure",
		Description:   "NIC firmware corruption detected. Connection drops every 30-60 seconds.",
		Lesson:        "Network hardware failures cause intermittent connectivity. NIC or switch issues require physical replacement after evacuation.",
		UptimeImpact:  25,
		RequiresDrain: true,
		Penalty:       Stats{CPU: 15},
		AutoResolve:   ResolveNever,
		Effect:        Effect{Status: WorkerCritical},
		Investigation: Narrative{
			Title:   "Network Hardware Analysis",
			Message: "CRITICAL: NIC firmware corruption detected. Switch port showing CRC errors. Connection drops every 30-60 seconds. IMMEDIATE DRAIN REQUIRED before total network failure.",
		},
		LogLine:  "FATAL [network] NIC firmware CRC mismatch. Switch port errors: 1247. Connection drops every 45s average.",
		QuickFix: QuickFix{Action: "Emergency drain", SuccessRate: 0.1, TakesTime: true, Alias: AliasDrain},
	},
}

// Spec returns the policy of the incident type.
func Spec(t IncidentType) (IncidentSpec, bool) {
	s, ok := catalog[t]
	return s, ok
}

// spec is Spec for types already validated by CheckCatalog.
func spec(t IncidentType) IncidentSpec {
	return catalog[t]
}

// CheckCatalog verifies that every incident type has a complete policy entry.
// Sessions refuse to start when it fails.
func CheckCatalog() error {
	var missing []string
	for _, t := range incidentTypes {
		s, ok := catalog[t]
		if !ok {
			missing = append(missing, fmt.Sprintf("%s: no entry", t))
			continue
		}
		if err := s.Severity.Validate(); err != nil {
			missing = append(missing, fmt.Sprintf("%s: %v", t, err))
		}
		for field, v := range map[string]string{
			"title":         s.Title,
			"description":   s.Description,
			"lesson":        s.Lesson,
			"investigation": s.Investigation.Message,
			"log line":      s.LogLine,
			"quick fix":     s.QuickFix.Action,
		} {
			if v == "" {
				missing = append(missing, fmt.Sprintf("%s: empty %s", t, field))
			}
		}
		if s.QuickFix.SuccessRate <= 0 {
			missing = append(missing, fmt.Sprintf("%s: quick fix has no success rate", t))
		}
		if s.RequiresDrain && s.AutoResolve != ResolveNever {
			missing = append(missing, fmt.Sprintf("%s: drain-only incidents cannot auto-resolve", t))
		}
	}
	if len(catalog) != len(incidentTypes) {
		missing = append(missing, fmt.Sprintf("catalog has %d entries for %d types", len(catalog), len(incidentTypes)))
	}
	if len(missing) > 0 {
		return NewConfigError("incident catalog incomplete", fmt.Errorf("%s", strings.Join(missing, "; "))).
			WithCode(ErrCodeCatalogIncomplete)
	}
	return nil
}
