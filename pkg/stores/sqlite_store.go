package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements Store using SQLite
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
}

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

func (c Config) inMemory() bool {
	return c.Path == ":memory:"
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 8
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 2
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	// Every connection to :memory: is a separate database.
	if cfg.inMemory() {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	return &SQLiteStore{cfg: cfg}, nil
}

func (s *SQLiteStore) dsn() string {
	pragmas := "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	if s.cfg.inMemory() {
		return "file::memory:?" + pragmas
	}
	return fmt.Sprintf("file:%s?%s&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_txlock=immediate", s.cfg.Path, pragmas)
}

// Init opens the database connection.
func (s *SQLiteStore) Init(ctx context.Context) error {
	db, err := sql.Open("sqlite", s.dsn())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate applies the embedded schema migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// BeginTx starts a new transaction
func (s *SQLiteStore) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, nil)
}

// CreateSession inserts a new session record
func (s *SQLiteStore) CreateSession(ctx context.Context, sess *Session) error {
	now := time.Now().UTC()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now
	}
	sess.UpdatedAt = now
	if sess.Status == "" {
		sess.Status = SessionStatusActive
	}
	if sess.Day == 0 {
		sess.Day = 1
	}

	query := `
		INSERT INTO sessions (id, seed, player, status, started_at, ended_at, day, uptime,
			final_rating, final_score, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		sess.ID,
		sess.Seed,
		sess.Player,
		sess.Status,
		sess.StartedAt,
		sess.EndedAt,
		sess.Day,
		sess.Uptime,
		sess.FinalRating,
		sess.FinalScore,
		sess.CreatedAt,
		sess.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

const sessionColumns = `id, seed, player, status, started_at, ended_at, day, uptime,
	final_rating, final_score, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*Session, error) {
	sess := &Session{}
	err := row.Scan(
		&sess.ID,
		&sess.Seed,
		&sess.Player,
		&sess.Status,
		&sess.StartedAt,
		&sess.EndedAt,
		&sess.Day,
		&sess.Uptime,
		&sess.FinalRating,
		&sess.FinalScore,
		&sess.CreatedAt,
		&sess.UpdatedAt,
	)
	return sess, err
}

// GetSession retrieves a session by ID
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = ?`

	sess, err := scanSession(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return sess, nil
}

// UpdateSessionProgress records the current day and uptime of a running session
func (s *SQLiteStore) UpdateSessionProgress(ctx context.Context, id string, day int, uptime float64) error {
	query := `UPDATE sessions SET day = ?, uptime = ?, updated_at = ? WHERE id = ?`

	result, err := s.db.ExecContext(ctx, query, day, uptime, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	return expectRow(result, "session", id)
}

// FinishSession closes a session and, when final is given, appends the final
// score sample in the same transaction.
func (s *SQLiteStore) FinishSession(ctx context.Context, id string, status SessionStatus, rating *string, final *ScoreSample) error {
	tx, err := s.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	var (
		score  *string
		day    sql.NullInt64
		uptime sql.NullFloat64
	)
	if final != nil {
		blob := fmt.Sprintf(`{"uptime":%g,"successfulMigrations":%d,"failedMigrations":%d,"riskyActions":%d}`,
			final.Uptime, final.SuccessfulMigrations, final.FailedMigrations, final.RiskyActions)
		score = &blob
		day = sql.NullInt64{Int64: int64(final.Day), Valid: true}
		uptime = sql.NullFloat64{Float64: final.Uptime, Valid: true}
	}

	query := `
		UPDATE sessions
		SET status = ?, ended_at = ?, final_rating = ?, final_score = ?,
			day = COALESCE(?, day), uptime = COALESCE(?, uptime), updated_at = ?
		WHERE id = ?
	`
	result, err := tx.ExecContext(ctx, query, status, now, rating, score, day, uptime, now, id)
	if err != nil {
		return fmt.Errorf("failed to finish session: %w", err)
	}
	if err := expectRow(result, "session", id); err != nil {
		return err
	}

	if final != nil {
		final.SessionID = id
		if err := insertScoreSample(ctx, tx, final); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit session: %w", err)
	}
	return nil
}

// ListSessions lists sessions, most recently started first
func (s *SQLiteStore) ListSessions(ctx context.Context, limit, offset int) ([]*Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions ORDER BY started_at DESC LIMIT ? OFFSET ?`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sessions: %w", err)
	}
	return sessions, nil
}

// DeleteSession deletes a session and, by cascade, its history
func (s *SQLiteStore) DeleteSession(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return expectRow(result, "session", id)
}

// RecordIncident stores a newly created incident
func (s *SQLiteStore) RecordIncident(ctx context.Context, inc *IncidentRecord) error {
	query := `
		INSERT INTO incidents (id, session_id, type, severity, worker_id, title, day, first_time, created_at, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		inc.ID,
		inc.SessionID,
		inc.Type,
		inc.Severity,
		inc.WorkerID,
		inc.Title,
		inc.Day,
		inc.FirstTime,
		inc.CreatedAt,
		inc.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record incident: %w", err)
	}
	return nil
}

// ResolveIncident sets the resolution time. Resolving twice keeps the first time.
func (s *SQLiteStore) ResolveIncident(ctx context.Context, id string, at time.Time) error {
	query := `UPDATE incidents SET resolved_at = COALESCE(resolved_at, ?) WHERE id = ?`

	result, err := s.db.ExecContext(ctx, query, at, id)
	if err != nil {
		return fmt.Errorf("failed to resolve incident: %w", err)
	}
	return expectRow(result, "incident", id)
}

// ListIncidents lists a session's incidents in creation order
func (s *SQLiteStore) ListIncidents(ctx context.Context, sessionID string) ([]*IncidentRecord, error) {
	query := `
		SELECT id, session_id, type, severity, worker_id, title, day, first_time, created_at, resolved_at
		FROM incidents
		WHERE session_id = ?
		ORDER BY created_at ASC, id ASC
	`
	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list incidents: %w", err)
	}
	defer rows.Close()

	var out []*IncidentRecord
	for rows.Next() {
		inc := &IncidentRecord{}
		if err := rows.Scan(
			&inc.ID,
			&inc.SessionID,
			&inc.Type,
			&inc.Severity,
			&inc.WorkerID,
			&inc.Title,
			&inc.Day,
			&inc.FirstTime,
			&inc.CreatedAt,
			&inc.ResolvedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan incident: %w", err)
		}
		out = append(out, inc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating incidents: %w", err)
	}
	return out, nil
}

// AppendAction appends an audit entry for a player intent
func (s *SQLiteStore) AppendAction(ctx context.Context, a *ActionRecord) error {
	if a.Timestamp.IsZero() {
		a.Timestamp = time.Now().UTC()
	}

	query := `
		INSERT INTO actions (session_id, intent, worker_id, incident_id, outcome, title, denied, day, time_in_day, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := s.db.ExecContext(ctx, query,
		a.SessionID,
		a.Intent,
		a.WorkerID,
		a.IncidentID,
		a.Outcome,
		a.Title,
		a.Denied,
		a.Day,
		a.TimeInDay,
		a.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to append action: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get action ID: %w", err)
	}
	a.ID = id
	return nil
}

// ListActions lists a session's actions in the order they were applied
func (s *SQLiteStore) ListActions(ctx context.Context, sessionID string, limit, offset int) ([]*ActionRecord, error) {
	query := `
		SELECT id, session_id, intent, worker_id, incident_id, outcome, title, denied, day, time_in_day, timestamp
		FROM actions
		WHERE session_id = ?
		ORDER BY id ASC
		LIMIT ? OFFSET ?
	`
	rows, err := s.db.QueryContext(ctx, query, sessionID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list actions: %w", err)
	}
	defer rows.Close()

	var out []*ActionRecord
	for rows.Next() {
		a := &ActionRecord{}
		if err := rows.Scan(
			&a.ID,
			&a.SessionID,
			&a.Intent,
			&a.WorkerID,
			&a.IncidentID,
			&a.Outcome,
			&a.Title,
			&a.Denied,
			&a.Day,
			&a.TimeInDay,
			&a.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("failed to scan action: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating actions: %w", err)
	}
	return out, nil
}

// AppendScoreSample appends a score sample
func (s *SQLiteStore) AppendScoreSample(ctx context.Context, sample *ScoreSample) error {
	tx, err := s.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := insertScoreSample(ctx, tx, sample); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET day = ?, uptime = ?, updated_at = ? WHERE id = ?`,
		sample.Day, sample.Uptime, time.Now().UTC(), sample.SessionID,
	); err != nil {
		return fmt.Errorf("failed to update session progress: %w", err)
	}
	return tx.Commit()
}

func insertScoreSample(ctx context.Context, tx *sql.Tx, sample *ScoreSample) error {
	if sample.Timestamp.IsZero() {
		sample.Timestamp = time.Now().UTC()
	}

	query := `
		INSERT INTO score_samples (session_id, day, uptime, successful_migrations, failed_migrations, risky_actions, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	result, err := tx.ExecContext(ctx, query,
		sample.SessionID,
		sample.Day,
		sample.Uptime,
		sample.SuccessfulMigrations,
		sample.FailedMigrations,
		sample.RiskyActions,
		sample.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to append score sample: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get score sample ID: %w", err)
	}
	sample.ID = id
	return nil
}

// ListScoreSamples lists a session's score samples in day order
func (s *SQLiteStore) ListScoreSamples(ctx context.Context, sessionID string) ([]*ScoreSample, error) {
	query := `
		SELECT id, session_id, day, uptime, successful_migrations, failed_migrations, risky_actions, timestamp
		FROM score_samples
		WHERE session_id = ?
		ORDER BY day ASC, id ASC
	`
	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list score samples: %w", err)
	}
	defer rows.Close()

	var out []*ScoreSample
	for rows.Next() {
		sample := &ScoreSample{}
		if err := rows.Scan(
			&sample.ID,
			&sample.SessionID,
			&sample.Day,
			&sample.Uptime,
			&sample.SuccessfulMigrations,
			&sample.FailedMigrations,
			&sample.RiskyActions,
			&sample.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("failed to scan score sample: %w", err)
		}
		out = append(out, sample)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating score samples: %w", err)
	}
	return out, nil
}

// HealthCheck verifies the database is reachable
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return s.db.PingContext(ctx)
}

func expectRow(result sql.Result, kind, id string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return nil
}

// IsNotFound reports whether err is a missing-record error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
