// Package policy implements operator guardrails on top of Open Policy Agent.
//
// Before the session applies a player action it asks the Engine, which
// implements session.Guard, to evaluate every enabled Rego policy against
// an Input document built from the intent and the current snapshot:
//
//	{
//	  "intent":   {"type": "DRAIN_WORKER", "worker_id": "worker-1"},
//	  "worker":   { ...sim.Worker JSON... },
//	  "incident": { ...sim.Incident JSON... },
//	  "score":    {"uptime": 99.2, "riskyActions": 3, ...},
//	  "fleet":    {"workers": 1, "healthy_workers": 1, "active_migrations": 0, ...},
//	  "clock":    {"day": 2, "time_in_day": 140}
//	}
//
// Each policy module defines a deny set. Members are either plain message
// strings or objects with "message" and an optional "severity". Violations
// with severity error or critical deny the action; warnings and info are
// surfaced to the player and audited but let the action through.
//
// # Built-in Policies
//
//  1. force-transition-requires-investigation - warns on forcing an FSM before investigating
//  2. drain-during-migration - blocks a second drain while a migration is in flight
//  3. drain-capacity - warns when a drain leaves too few healthy workers
//  4. risk-budget - warns on risky actions once the budget is spent
//
// Thresholds live in data.flysim.limits and are changed with SetLimits.
//
// # Custom Policies
//
// LoadPolicies reads .rego and .json files from files or directories. A
// .rego file is named after the file; its leading comment block is the
// description, and a "# severity: error" line sets the default severity:
//
//	# No restarts in the last minute of the day.
//	# severity: error
//	package flysim.custom.late_restart
//
//	import rego.v1
//
//	deny contains "Restarts are frozen before the day rolls over." if {
//	    input.intent.type == "RESTART_FLYD"
//	    input.clock.time_in_day >= 240
//	}
//
// Watch reloads the set whenever a policy file changes. Policies disabled
// with DisablePolicy stay disabled across reloads.
package policy
