// Package config loads simulator tuning and drill scripts.
//
// # Tuning
//
// A tuning file overrides any of the engine's timing and probability
// constants and the starting fleet. Files may be CUE, YAML or JSON:
//
//	// tuning.cue
//	tick_period: "500ms"
//	day_length:  120
//	workers: [
//		{id: "worker-1", name: "fly-worker-ord-01", cpu: 45, memory: 62, disk: 78},
//	]
//
// CUE files are unified with the built-in #Tuning definition, so unknown
// fields and out-of-range values are reported with their file position.
// YAML and JSON files are decoded strictly and checked against the same
// definition. Every tuning is also checked with struct tag validation and
// the engine's own parameter rules. Omitted fields keep their defaults.
//
// A Watcher reloads a tuning file when it changes and hands each valid
// revision to a callback; invalid revisions are logged and skipped.
//
// # Drills
//
// A drill is a Starlark script that schedules incidents at fixed game times:
//
//	inject(1, 30, "network_partition")
//	inject(day = 2, tick = 0, type = "flyd_stalled", worker = "worker-1")
//
// Scripts see INCIDENT_TYPES, DAY_LENGTH, TOTAL_DAYS and WORKERS. They run
// with a deadline and a step budget, cannot print, and cannot load other
// modules. Injections come back sorted by game time and validated against
// the #Drill definition.
package config
