package stores

import (
	"context"
	"time"

	"github.com/openfroyo/flysim/pkg/sim"
)

// Recorder maps session lifecycle callbacks onto a Store. It satisfies
// session.Recorder.
type Recorder struct {
	store  Store
	player string
}

// NewRecorder returns a recorder writing to store. player labels the sessions it creates.
func NewRecorder(store Store, player string) *Recorder {
	return &Recorder{store: store, player: player}
}

func (r *Recorder) RecordStart(ctx context.Context, sessionID string, seed uint64, at time.Time) error {
	return r.store.CreateSession(ctx, &Session{
		ID:        sessionID,
		Seed:      int64(seed),
		Player:    r.player,
		Status:    SessionStatusActive,
		StartedAt: at,
		Day:       1,
		Uptime:    100,
	})
}

func (r *Recorder) RecordIncident(ctx context.Context, sessionID string, inc sim.Incident, day int) error {
	return r.store.RecordIncident(ctx, &IncidentRecord{
		ID:        inc.ID,
		SessionID: sessionID,
		Type:      string(inc.Type),
		Severity:  string(inc.Severity),
		WorkerID:  inc.WorkerID,
		Title:     inc.Title,
		Day:       day,
		FirstTime: inc.IsFirstTime,
		CreatedAt: inc.CreatedAt,
	})
}

func (r *Recorder) RecordResolution(ctx context.Context, _ string, inc sim.Incident) error {
	at := time.Now().UTC()
	if inc.ResolvedAt != nil {
		at = *inc.ResolvedAt
	}
	return r.store.ResolveIncident(ctx, inc.ID, at)
}

// RecordAction appends the audit entry for a player intent. fb is the
// feedback the intent produced, nil when it produced none.
func (r *Recorder) RecordAction(ctx context.Context, sessionID string, in sim.Intent, fb *sim.Feedback, denied bool, s sim.State, at time.Time) error {
	rec := &ActionRecord{
		SessionID: sessionID,
		Intent:    string(in.Kind),
		Outcome:   "none",
		Denied:    denied,
		Day:       s.Day,
		TimeInDay: s.TimeInDay,
		Timestamp: at,
	}
	if in.WorkerID != "" {
		w := in.WorkerID
		rec.WorkerID = &w
	}
	if in.IncidentID != "" {
		id := in.IncidentID
		rec.IncidentID = &id
	}
	if fb != nil {
		rec.Outcome = string(fb.Kind)
		rec.Title = fb.Title
	}
	if denied {
		rec.Outcome = "denied"
	}
	return r.store.AppendAction(ctx, rec)
}

// RecordDay samples the score when a new day starts.
func (r *Recorder) RecordDay(ctx context.Context, sessionID string, s sim.State, at time.Time) error {
	return r.store.AppendScoreSample(ctx, sample(sessionID, s, at))
}

// RecordEnd closes the session. A session that stops before the last day is
// recorded as abandoned.
func (r *Recorder) RecordEnd(ctx context.Context, sessionID string, s sim.State, at time.Time) error {
	status := SessionStatusAbandoned
	var rating *string
	if s.Ended {
		status = SessionStatusCompleted
		v := string(s.FinalRating)
		rating = &v
	}
	return r.store.FinishSession(ctx, sessionID, status, rating, sample(sessionID, s, at))
}

func sample(sessionID string, s sim.State, at time.Time) *ScoreSample {
	return &ScoreSample{
		SessionID:            sessionID,
		Day:                  s.Day,
		Uptime:               s.Score.Uptime,
		SuccessfulMigrations: s.Score.SuccessfulMigrations,
		FailedMigrations:     s.Score.FailedMigrations,
		RiskyActions:         s.Score.RiskyActions,
		Timestamp:            at,
	}
}
