package stores

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// ErrNotFound is returned when a looked-up record does not exist.
var ErrNotFound = errors.New("not found")

// SessionStatus is the lifecycle state of a recorded session
type SessionStatus string

const (
	SessionStatusActive    SessionStatus = "active"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusAbandoned SessionStatus = "abandoned"
)

// Session is one played (or simulated) shift.
type Session struct {
	ID          string        `json:"id"`
	Seed        int64         `json:"seed"`
	Player      string        `json:"player"`
	Status      SessionStatus `json:"status"`
	StartedAt   time.Time     `json:"started_at"`
	EndedAt     *time.Time    `json:"ended_at,omitempty"`
	Day         int           `json:"day"`
	Uptime      float64       `json:"uptime"`
	FinalRating *string       `json:"final_rating,omitempty"`
	FinalScore  *string       `json:"final_score,omitempty"` // JSON blob
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// IncidentRecord is an incident raised during a session
type IncidentRecord struct {
	ID         string     `json:"id"`
	SessionID  string     `json:"session_id"`
	Type       string     `json:"type"`
	Severity   string     `json:"severity"`
	WorkerID   string     `json:"worker_id"`
	Title      string     `json:"title"`
	Day        int        `json:"day"`
	FirstTime  bool       `json:"first_time"`
	CreatedAt  time.Time  `json:"created_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// ActionRecord is an audit entry for one player intent.
type ActionRecord struct {
	ID         int64     `json:"id"`
	SessionID  string    `json:"session_id"`
	Intent     string    `json:"intent"`
	WorkerID   *string   `json:"worker_id,omitempty"`
	IncidentID *string   `json:"incident_id,omitempty"`
	Outcome    string    `json:"outcome"` // feedback kind, "none" or "denied"
	Title      string    `json:"title"`
	Denied     bool      `json:"denied"`
	Day        int       `json:"day"`
	TimeInDay  int       `json:"time_in_day"`
	Timestamp  time.Time `json:"timestamp"`
}

// ScoreSample is the score captured at a day boundary or at the end of a session
type ScoreSample struct {
	ID                   int64     `json:"id"`
	SessionID            string    `json:"session_id"`
	Day                  int       `json:"day"`
	Uptime               float64   `json:"uptime"`
	SuccessfulMigrations int       `json:"successful_migrations"`
	FailedMigrations     int       `json:"failed_migrations"`
	RiskyActions         int       `json:"risky_actions"`
	Timestamp            time.Time `json:"timestamp"`
}

// Store defines the session history persistence layer
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Transaction support
	BeginTx(ctx context.Context) (*sql.Tx, error)

	// Sessions
	CreateSession(ctx context.Context, s *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	UpdateSessionProgress(ctx context.Context, id string, day int, uptime float64) error
	FinishSession(ctx context.Context, id string, status SessionStatus, rating *string, final *ScoreSample) error
	ListSessions(ctx context.Context, limit, offset int) ([]*Session, error)
	DeleteSession(ctx context.Context, id string) error

	// Incidents
	RecordIncident(ctx context.Context, inc *IncidentRecord) error
	ResolveIncident(ctx context.Context, id string, at time.Time) error
	ListIncidents(ctx context.Context, sessionID string) ([]*IncidentRecord, error)

	// Actions
	AppendAction(ctx context.Context, a *ActionRecord) error
	ListActions(ctx context.Context, sessionID string, limit, offset int) ([]*ActionRecord, error)

	// Score samples
	AppendScoreSample(ctx context.Context, sample *ScoreSample) error
	ListScoreSamples(ctx context.Context, sessionID string) ([]*ScoreSample, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
