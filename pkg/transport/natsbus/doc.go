// Package natsbus bridges a session to NATS.
//
// Forward publishes every telemetry event as JSON on
// <prefix>.events.<event type>, for example flysim.events.incident.created.
// ServeIntents answers request/reply messages on <prefix>.intents.<session>
// whose body is a sim.Intent, so an instructor console can inject actions
// into a running game.
package natsbus
