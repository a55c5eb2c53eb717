package policy

// BuiltinPolicies returns the guardrails every engine starts with.
func BuiltinPolicies() []Policy {
	return []Policy{
		forceTransitionPolicy(),
		drainDuringMigrationPolicy(),
		drainCapacityPolicy(),
		riskBudgetPolicy(),
	}
}

// forceTransitionPolicy warns when an FSM is forced before the incident was
// looked at.
func forceTransitionPolicy() Policy {
	return Policy{
		Name:        "force-transition-requires-investigation",
		Description: "Warns when an FSM transition is forced on an incident nobody investigated",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"fsm", "diagnosis"},
		Rego: `package flysim.guardrails.force_transition

import rego.v1

deny contains violation if {
	input.intent.type == "FORCE_FSM_TRANSITION"
	incident := input.incident
	not incident.resolved
	not incident.investigated
	violation := {
		"message": sprintf("Forcing the FSM for %q before investigating it skips the diagnosis a real operator would do first.", [incident.title]),
		"severity": "warning",
	}
}
`,
	}
}

// drainDuringMigrationPolicy blocks a drain while the worker is still
// migrating machines away.
func drainDuringMigrationPolicy() Policy {
	return Policy{
		Name:        "drain-during-migration",
		Description: "Blocks draining a worker that already has a migration in flight",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"drain", "migration"},
		Rego: `package flysim.guardrails.drain_migration

import rego.v1

deny contains violation if {
	input.intent.type == "DRAIN_WORKER"
	some op in input.worker.activeFSMs
	op.type == "migration"
	op.progress < 100
	violation := {
		"message": sprintf("%s is already migrating machines (%s at %v%%). Wait for the migration to finish before draining again.", [input.worker.name, op.state, op.progress]),
		"severity": "error",
	}
}
`,
	}
}

// drainCapacityPolicy warns when a drain would leave too little healthy
// capacity to absorb the migrated machines.
func drainCapacityPolicy() Policy {
	return Policy{
		Name:        "drain-capacity",
		Description: "Warns when a drain leaves fewer healthy workers than the configured minimum",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"drain", "capacity"},
		Rego: `package flysim.guardrails.drain_capacity

import rego.v1

remaining := input.fleet.healthy_workers - 1 if {
	input.worker.status == "healthy"
} else := input.fleet.healthy_workers

deny contains violation if {
	input.intent.type == "DRAIN_WORKER"
	remaining < data.flysim.limits.min_healthy_workers
	violation := sprintf("Draining %s leaves %d healthy workers to absorb %d machines.", [input.worker.name, remaining, input.worker.activeMachines])
}
`,
	}
}

// riskBudgetPolicy warns on every risky action once the budget is spent.
func riskBudgetPolicy() Policy {
	return Policy{
		Name:        "risk-budget",
		Description: "Warns on risky actions once the session has used up its risk budget",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"scoring"},
		Rego: `package flysim.guardrails.risk_budget

import rego.v1

risky := {"DRAIN_WORKER", "FORCE_FSM_TRANSITION", "QUICK_FIX_INCIDENT"}

deny contains violation if {
	input.intent.type in risky
	input.score.riskyActions >= data.flysim.limits.risk_budget
	violation := {
		"message": sprintf("%d risky actions taken so far (budget %d). Prefer diagnosis and targeted fixes.", [input.score.riskyActions, data.flysim.limits.risk_budget]),
		"severity": "warning",
	}
}
`,
	}
}
