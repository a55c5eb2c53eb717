// Package sim is the state engine of the fleet operations training simulator.
//
// # Overview
//
// A player keeps a small fleet of simulated workers healthy for a fixed
// number of simulated days. Each worker runs the flyd orchestration daemon
// and containerd, carries resource gauges and tracks long-running FSM
// operations such as migrations. Incidents strike workers at random and
// either resolve on their own, through player actions, or linger and eat
// into uptime.
//
// # Reduction
//
// All state lives in an immutable State snapshot. Every change goes through
// one pure function:
//
//	next := sim.Reduce(state, intent, env)
//
// The Env supplies the current instant, the parameters and the random
// source, so a scripted Rand forces either branch of every probabilistic
// action and a fixed Now makes the FSM timelines deterministic.
//
// Two timers feed the reducer: TICK advances the clock, recomputes worker
// stats, progresses migrations and auto-resolves incidents; GENERATE_INCIDENT
// may inject a new incident. Both are owned by the session runtime, not by
// this package.
//
// # Policy tables
//
// Per-type incident policy (penalties, narratives, quick fixes, resolution
// rules) lives in one catalog keyed by IncidentType. CheckCatalog verifies it
// is complete and is run before a session starts.
package sim
