package sim

import (
	"encoding/json"
	"fmt"
)

// WorkerStatus is the aggregate health of a worker.
type WorkerStatus string

const (
	// WorkerHealthy indicates the worker is serving normally.
	WorkerHealthy WorkerStatus = "healthy"

	// WorkerDegraded indicates the worker is draining or partially impaired.
	WorkerDegraded WorkerStatus = "degraded"

	// WorkerCritical indicates the worker is failing and needs evacuation.
	WorkerCritical WorkerStatus = "critical"

	// WorkerOffline indicates the worker is not reachable at all.
	WorkerOffline WorkerStatus = "offline"
)

// Validate checks if the worker status is valid.
func (s WorkerStatus) Validate() error {
	switch s {
	case WorkerHealthy, WorkerDegraded, WorkerCritical, WorkerOffline:
		return nil
	default:
		return fmt.Errorf("invalid worker status: %s", s)
	}
}

// FlydStatus is the operational mode of the per-worker orchestration daemon.
type FlydStatus string

const (
	// FlydRunning indicates flyd is processing FSM operations.
	FlydRunning FlydStatus = "running"

	// FlydStalled indicates flyd stopped making progress.
	FlydStalled FlydStatus = "stalled"

	// FlydRestarting indicates a restart is in flight.
	FlydRestarting FlydStatus = "restarting"
)

// Validate checks if the flyd status is valid.
func (s FlydStatus) Validate() error {
	switch s {
	case FlydRunning, FlydStalled, FlydRestarting:
		return nil
	default:
		return fmt.Errorf("invalid flyd status: %s", s)
	}
}

// ContainerdHealth is the health of the container runtime on a worker.
type ContainerdHealth string

const (
	ContainerdHealthy  ContainerdHealth = "healthy"
	ContainerdDegraded ContainerdHealth = "degraded"
	ContainerdFailed   ContainerdHealth = "failed"
)

// Validate checks if the containerd health is valid.
func (h ContainerdHealth) Validate() error {
	switch h {
	case ContainerdHealthy, ContainerdDegraded, ContainerdFailed:
		return nil
	default:
		return fmt.Errorf("invalid containerd health: %s", h)
	}
}

// NetworkStatus is the connectivity of a worker to coordination services.
type NetworkStatus string

const (
	NetworkConnected    NetworkStatus = "connected"
	NetworkDegraded     NetworkStatus = "degraded"
	NetworkDisconnected NetworkStatus = "disconnected"
)

// Validate checks if the network status is valid.
func (s NetworkStatus) Validate() error {
	switch s {
	case NetworkConnected, NetworkDegraded, NetworkDisconnected:
		return nil
	default:
		return fmt.Errorf("invalid network status: %s", s)
	}
}

// OperationType is the kind of long-running FSM operation.
type OperationType string

const (
	// OperationMachineCreation creates a machine. Inert.
	OperationMachineCreation OperationType = "machine_creation"

	// OperationMigration moves a machine to another worker with dm-clone.
	OperationMigration OperationType = "migration"

	// OperationBoot boots a machine. Inert.
	OperationBoot OperationType = "boot"

	// OperationCleanup removes leftovers of a machine. Inert.
	OperationCleanup OperationType = "cleanup"
)

// Validate checks if the operation type is valid.
func (o OperationType) Validate() error {
	switch o {
	case OperationMachineCreation, OperationMigration, OperationBoot, OperationCleanup:
		return nil
	default:
		return fmt.Errorf("invalid operation type: %s", o)
	}
}

// FSMState is a named state in an operation's state vocabulary.
type FSMState string

const (
	StatePending       FSMState = "pending"
	StateCloning       FSMState = "cloning"
	StateHydrating     FSMState = "hydrating"
	StateBootingNew    FSMState = "booting_new"
	StateRunningNew    FSMState = "running_new"
	StateCleanupOld    FSMState = "cleanup_old"
	StateErrorRecovery FSMState = "error_recovery"
)

// migrationStates is the ordered migration timeline followed by the out-of-band state.
var migrationStates = []FSMState{
	StatePending, StateCloning, StateHydrating, StateBootingNew,
	StateRunningNew, StateCleanupOld, StateErrorRecovery,
}

// States returns the state vocabulary of the operation type.
// Only migrations progress; the other kinds only know pending.
func (o OperationType) States() []FSMState {
	if o == OperationMigration {
		out := make([]FSMState, len(migrationStates))
		copy(out, migrationStates)
		return out
	}
	return []FSMState{StatePending}
}

// ValidateFor checks that the state belongs to the vocabulary of the operation type.
func (s FSMState) ValidateFor(o OperationType) error {
	if err := o.Validate(); err != nil {
		return err
	}
	for _, st := range o.States() {
		if st == s {
			return nil
		}
	}
	return fmt.Errorf("invalid %s state: %s", o, s)
}

// IsTerminal returns true for states a migration never leaves on its own.
func (s FSMState) IsTerminal() bool {
	return s == StateCleanupOld || s == StateErrorRecovery
}

// Severity is the severity of an incident.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Validate checks if the severity is valid.
func (s Severity) Validate() error {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return nil
	default:
		return fmt.Errorf("invalid severity: %s", s)
	}
}

// FeedbackKind classifies the transient feedback message.
type FeedbackKind string

const (
	FeedbackInvestigation FeedbackKind = "investigation"
	FeedbackAction        FeedbackKind = "action"
	FeedbackSuccess       FeedbackKind = "success"
	FeedbackWarning       FeedbackKind = "warning"
	FeedbackError         FeedbackKind = "error"
)

// Validate checks if the feedback kind is valid.
func (k FeedbackKind) Validate() error {
	switch k {
	case FeedbackInvestigation, FeedbackAction, FeedbackSuccess, FeedbackWarning, FeedbackError:
		return nil
	default:
		return fmt.Errorf("invalid feedback kind: %s", k)
	}
}

// IncidentType is one of the enumerated incident kinds.
type IncidentType string

const (
	IncidentFlydStalled            IncidentType = "flyd_stalled"
	IncidentMigrationStuck         IncidentType = "migration_stuck"
	IncidentContainerdSync         IncidentType = "containerd_sync"
	IncidentNetworkPartition       IncidentType = "network_partition"
	IncidentStorageCorruption      IncidentType = "storage_corruption"
	IncidentMemoryLeak             IncidentType = "memory_leak"
	IncidentDiskIOBottleneck       IncidentType = "disk_io_bottleneck"
	IncidentKernelPanic            IncidentType = "kernel_panic"
	IncidentNetworkCongestion      IncidentType = "network_congestion"
	IncidentDNSFailure             IncidentType = "dns_failure"
	IncidentConfigCorruption       IncidentType = "config_corruption"
	IncidentHardwareDegradation    IncidentType = "hardware_degradation"
	IncidentStorageSpreading       IncidentType = "storage_spreading"
	IncidentNetworkHardwareFailure IncidentType = "network_hardware_failure"
)

var incidentTypes = []IncidentType{
	IncidentFlydStalled,
	IncidentMigrationStuck,
	IncidentContainerdSync,
	IncidentNetworkPartition,
	IncidentStorageCorruption,
	IncidentMemoryLeak,
	IncidentDiskIOBottleneck,
	IncidentKernelPanic,
	IncidentNetworkCongestion,
	IncidentDNSFailure,
	IncidentConfigCorruption,
	IncidentHardwareDegradation,
	IncidentStorageSpreading,
	IncidentNetworkHardwareFailure,
}

// IncidentTypes returns every incident type in declaration order.
func IncidentTypes() []IncidentType {
	out := make([]IncidentType, len(incidentTypes))
	copy(out, incidentTypes)
	return out
}

// Validate checks if the incident type is valid.
func (t IncidentType) Validate() error {
	for _, it := range incidentTypes {
		if it == t {
			return nil
		}
	}
	return fmt.Errorf("invalid incident type: %s", t)
}

// MarshalJSON implements json.Marshaler.
func (t IncidentType) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(t))
}

// UnmarshalJSON implements json.Unmarshaler and rejects unknown types.
func (t *IncidentType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	it := IncidentType(s)
	if err := it.Validate(); err != nil {
		return err
	}
	*t = it
	return nil
}

// RegionalHealth is the rollup of the whole fleet.
type RegionalHealth string

const (
	RegionHealthy  RegionalHealth = "healthy"
	RegionDegraded RegionalHealth = "degraded"
	RegionCritical RegionalHealth = "critical"
)
