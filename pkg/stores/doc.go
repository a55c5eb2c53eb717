// Package stores persists flysim session history and checkpoints.
//
// SQLiteStore keeps sessions, incidents, the player action audit trail and
// per-day score samples in SQLite (modernc.org/sqlite) with embedded
// golang-migrate migrations. Recorder adapts it to the session runtime.
//
// CheckpointStore keeps the latest zstd-compressed snapshot of each session
// in Badger so a paused shift can be resumed later.
package stores
