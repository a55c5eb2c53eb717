// Package session runs one flysim game.
//
// A Session owns the latest sim.State and applies intents one at a time on
// a single goroutine (Run). The main tick and the incident generator are
// tickers armed only while the game is started, unpaused and not ended, and
// re-armed from the newest snapshot after every intent, so a speed change or
// a pause takes effect before the next tick.
//
// Around each reduction the session consults an optional Guard, then
// reports what changed to telemetry (metrics, spans, events), an optional
// Recorder and Checkpointer, and to every subscribed observer. Drill
// injections fire on the first tick at or after their scheduled time.
//
// For headless runs on a virtual clock, skip Run and drive the session with
// Step.
package session
