// Package postgres provides the PostgreSQL-backed Store. Atomic sections
// take a row lock on the session so concurrent signups cannot both pass the
// capacity check.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pickup-scheduler/internal/config"
	"github.com/pickup-scheduler/internal/domain"
	"github.com/pickup-scheduler/internal/storage"
)

// dbtx is the subset of pgxpool.Pool and pgx.Tx the queries need
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store provides PostgreSQL-based data access
type Store struct {
	pool   *pgxpool.Pool
	db     dbtx
	logger *slog.Logger
}

// NewStore creates a new PostgreSQL store
func NewStore(cfg *config.PostgresConfig, logger *slog.Logger) (*Store, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConnections)
	poolConfig.MinConns = int32(cfg.MinConnections)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	return &Store{pool: pool, db: pool, logger: logger}, nil
}

// Close closes the database connection pool
func (s *Store) Close() {
	s.pool.Close()
}

// RunMigrations executes database migrations
func (s *Store) RunMigrations(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS players (
			id VARCHAR(64) PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			email VARCHAR(255),
			phone VARCHAR(64),
			total_attendance INT NOT NULL DEFAULT 0,
			total_registered INT NOT NULL DEFAULT 0,
			total_no_shows INT NOT NULL DEFAULT 0,
			total_waitlisted INT NOT NULL DEFAULT 0,
			last_attendance_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id VARCHAR(64) PRIMARY KEY,
			title VARCHAR(255) NOT NULL,
			starts_at TIMESTAMPTZ NOT NULL,
			ends_at TIMESTAMPTZ NOT NULL,
			fields_available INT NOT NULL DEFAULT 1,
			constraint_rule TEXT NOT NULL DEFAULT '',
			cancel_deadline_hours INT NOT NULL DEFAULT 24,
			status VARCHAR(20) NOT NULL DEFAULT 'scheduled',
			share_token VARCHAR(32) UNIQUE NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS registrations (
			id VARCHAR(64) PRIMARY KEY,
			session_id VARCHAR(64) NOT NULL REFERENCES sessions(id),
			player_id VARCHAR(64) NOT NULL REFERENCES players(id),
			status VARCHAR(20) NOT NULL,
			position INT NOT NULL DEFAULT 0,
			priority_score DOUBLE PRECISION NOT NULL DEFAULT 0,
			cancel_token VARCHAR(64) UNIQUE NOT NULL,
			registered_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_registrations_active
			ON registrations(session_id, player_id)
			WHERE status IN ('confirmed', 'waitlisted')`,
		`CREATE INDEX IF NOT EXISTS idx_registrations_session ON registrations(session_id, status)`,
		`CREATE INDEX IF NOT EXISTS idx_registrations_player ON registrations(player_id, status)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_starts_at ON sessions(starts_at)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(ctx, migration); err != nil {
			return fmt.Errorf("executing migration: %w", err)
		}
	}

	s.logger.Info("database migrations completed")
	return nil
}

// Atomic runs fn inside a transaction holding a row lock on the session, so
// the occupancy read and the registration write are one critical section.
func (s *Store) Atomic(ctx context.Context, sessionID string, fn func(storage.Store) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var id string
	err = tx.QueryRow(ctx, `SELECT id FROM sessions WHERE id = $1 FOR UPDATE`, sessionID).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrSessionNotFound
		}
		return fmt.Errorf("locking session: %w", err)
	}

	txStore := &Store{pool: s.pool, db: tx, logger: s.logger}
	if err := fn(txStore); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// CreatePlayer stores a new player
func (s *Store) CreatePlayer(ctx context.Context, p *domain.Player) error {
	query := `
		INSERT INTO players (id, name, email, phone, total_attendance, total_registered,
			total_no_shows, total_waitlisted, last_attendance_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
	`
	now := time.Now()
	p.CreatedAt = now
	p.UpdatedAt = now
	_, err := s.db.Exec(ctx, query,
		p.ID, p.Name, p.Email, p.Phone,
		p.TotalAttendance, p.TotalRegistered, p.TotalNoShows, p.TotalWaitlisted,
		p.LastAttendanceAt, now,
	)
	if err != nil {
		return fmt.Errorf("creating player: %w", err)
	}
	return nil
}

const playerColumns = `id, name, email, phone, total_attendance, total_registered,
	total_no_shows, total_waitlisted, last_attendance_at, created_at, updated_at`

func scanPlayer(row pgx.Row) (*domain.Player, error) {
	var p domain.Player
	err := row.Scan(
		&p.ID, &p.Name, &p.Email, &p.Phone,
		&p.TotalAttendance, &p.TotalRegistered, &p.TotalNoShows, &p.TotalWaitlisted,
		&p.LastAttendanceAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrPlayerNotFound
		}
		return nil, fmt.Errorf("scanning player: %w", err)
	}
	return &p, nil
}

// GetPlayer retrieves a player by ID
func (s *Store) GetPlayer(ctx context.Context, id string) (*domain.Player, error) {
	row := s.db.QueryRow(ctx, `SELECT `+playerColumns+` FROM players WHERE id = $1`, id)
	return scanPlayer(row)
}

// UpdatePlayer updates a player's counters and profile fields
func (s *Store) UpdatePlayer(ctx context.Context, p *domain.Player) error {
	query := `
		UPDATE players
		SET name = $2, email = $3, phone = $4, total_attendance = $5,
			total_registered = $6, total_no_shows = $7, total_waitlisted = $8,
			last_attendance_at = $9, updated_at = $10
		WHERE id = $1
	`
	result, err := s.db.Exec(ctx, query,
		p.ID, p.Name, p.Email, p.Phone,
		p.TotalAttendance, p.TotalRegistered, p.TotalNoShows, p.TotalWaitlisted,
		p.LastAttendanceAt, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("updating player: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrPlayerNotFound
	}
	return nil
}

// CountAttendanceSince counts attended registrations for sessions starting
// on or after since
func (s *Store) CountAttendanceSince(ctx context.Context, playerID string, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM registrations r
		JOIN sessions sess ON sess.id = r.session_id
		WHERE r.player_id = $1 AND r.status = 'attended' AND sess.starts_at >= $2
	`
	var count int
	if err := s.db.QueryRow(ctx, query, playerID, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting attendance: %w", err)
	}
	return count, nil
}

// CreateSession stores a new session
func (s *Store) CreateSession(ctx context.Context, sess *domain.Session) error {
	query := `
		INSERT INTO sessions (id, title, starts_at, ends_at, fields_available,
			constraint_rule, cancel_deadline_hours, status, share_token, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
	`
	now := time.Now()
	sess.CreatedAt = now
	sess.UpdatedAt = now
	_, err := s.db.Exec(ctx, query,
		sess.ID, sess.Title, sess.StartsAt, sess.EndsAt, sess.FieldsAvailable,
		sess.ConstraintRule, sess.CancelDeadlineHrs, string(sess.Status), sess.ShareToken, now,
	)
	if err != nil {
		return fmt.Errorf("creating session: %w", err)
	}
	return nil
}

const sessionColumns = `id, title, starts_at, ends_at, fields_available,
	constraint_rule, cancel_deadline_hours, status, share_token, created_at, updated_at`

func scanSession(row pgx.Row) (*domain.Session, error) {
	var sess domain.Session
	err := row.Scan(
		&sess.ID, &sess.Title, &sess.StartsAt, &sess.EndsAt, &sess.FieldsAvailable,
		&sess.ConstraintRule, &sess.CancelDeadlineHrs, &sess.Status, &sess.ShareToken,
		&sess.CreatedAt, &sess.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrSessionNotFound
		}
		return nil, fmt.Errorf("scanning session: %w", err)
	}
	return &sess, nil
}

// GetSession retrieves a session by ID
func (s *Store) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	row := s.db.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id)
	return scanSession(row)
}

// GetSessionByShareToken retrieves a session by its share token
func (s *Store) GetSessionByShareToken(ctx context.Context, shareToken string) (*domain.Session, error) {
	row := s.db.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE share_token = $1`, shareToken)
	return scanSession(row)
}

// ShareTokenExists checks whether a share token is already taken
func (s *Store) ShareTokenExists(ctx context.Context, shareToken string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM sessions WHERE share_token = $1)`, shareToken).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking share token: %w", err)
	}
	return exists, nil
}

// ListSessions returns sessions starting on or after from, ordered by start
func (s *Store) ListSessions(ctx context.Context, from time.Time) ([]domain.Session, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE starts_at >= $1 ORDER BY starts_at`, from)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var sessions []domain.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *sess)
	}
	return sessions, rows.Err()
}

// UpdateSession updates a session record
func (s *Store) UpdateSession(ctx context.Context, sess *domain.Session) error {
	query := `
		UPDATE sessions
		SET title = $2, starts_at = $3, ends_at = $4, fields_available = $5,
			constraint_rule = $6, cancel_deadline_hours = $7, status = $8,
			share_token = $9, updated_at = $10
		WHERE id = $1
	`
	result, err := s.db.Exec(ctx, query,
		sess.ID, sess.Title, sess.StartsAt, sess.EndsAt, sess.FieldsAvailable,
		sess.ConstraintRule, sess.CancelDeadlineHrs, string(sess.Status), sess.ShareToken,
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("updating session: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

// CreateRegistration stores a new registration
func (s *Store) CreateRegistration(ctx context.Context, r *domain.Registration) error {
	query := `
		INSERT INTO registrations (id, session_id, player_id, status, position,
			priority_score, cancel_token, registered_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
	`
	_, err := s.db.Exec(ctx, query,
		r.ID, r.SessionID, r.PlayerID, string(r.Status), r.Position,
		r.PriorityScore, r.CancelToken, r.RegisteredAt,
	)
	if err != nil {
		return fmt.Errorf("creating registration: %w", err)
	}
	return nil
}

const registrationColumns = `id, session_id, player_id, status, position,
	priority_score, cancel_token, registered_at, updated_at`

func scanRegistration(row pgx.Row) (*domain.Registration, error) {
	var r domain.Registration
	err := row.Scan(
		&r.ID, &r.SessionID, &r.PlayerID, &r.Status, &r.Position,
		&r.PriorityScore, &r.CancelToken, &r.RegisteredAt, &r.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrRegistrationNotFound
		}
		return nil, fmt.Errorf("scanning registration: %w", err)
	}
	return &r, nil
}

// GetRegistration retrieves a registration by ID
func (s *Store) GetRegistration(ctx context.Context, id string) (*domain.Registration, error) {
	row := s.db.QueryRow(ctx, `SELECT `+registrationColumns+` FROM registrations WHERE id = $1`, id)
	return scanRegistration(row)
}

// GetRegistrationByCancelToken retrieves a registration by cancel token
func (s *Store) GetRegistrationByCancelToken(ctx context.Context, cancelToken string) (*domain.Registration, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+registrationColumns+` FROM registrations WHERE cancel_token = $1`, cancelToken)
	return scanRegistration(row)
}

// GetActiveRegistration returns the confirmed or waitlisted registration for
// the player on the session
func (s *Store) GetActiveRegistration(ctx context.Context, sessionID, playerID string) (*domain.Registration, error) {
	query := `
		SELECT ` + registrationColumns + `
		FROM registrations
		WHERE session_id = $1 AND player_id = $2 AND status IN ('confirmed', 'waitlisted')
	`
	row := s.db.QueryRow(ctx, query, sessionID, playerID)
	return scanRegistration(row)
}

// UpdateRegistration updates a registration record
func (s *Store) UpdateRegistration(ctx context.Context, r *domain.Registration) error {
	query := `
		UPDATE registrations
		SET status = $2, position = $3, priority_score = $4, updated_at = $5
		WHERE id = $1
	`
	result, err := s.db.Exec(ctx, query,
		r.ID, string(r.Status), r.Position, r.PriorityScore, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("updating registration: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrRegistrationNotFound
	}
	return nil
}

// ListRegistrations returns the session's registrations, optionally filtered
// by status, ordered by registration time
func (s *Store) ListRegistrations(ctx context.Context, sessionID string, statuses ...domain.RegistrationStatus) ([]domain.Registration, error) {
	query := `SELECT ` + registrationColumns + ` FROM registrations WHERE session_id = $1`
	args := []any{sessionID}
	if len(statuses) > 0 {
		strs := make([]string, len(statuses))
		for i, st := range statuses {
			strs[i] = string(st)
		}
		query += ` AND status = ANY($2)`
		args = append(args, strs)
	}
	query += ` ORDER BY registered_at`

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing registrations: %w", err)
	}
	defer rows.Close()

	var regs []domain.Registration
	for rows.Next() {
		r, err := scanRegistration(rows)
		if err != nil {
			return nil, err
		}
		regs = append(regs, *r)
	}
	return regs, rows.Err()
}

// CountRegistrations counts the session's registrations with the status
func (s *Store) CountRegistrations(ctx context.Context, sessionID string, status domain.RegistrationStatus) (int, error) {
	var count int
	err := s.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM registrations WHERE session_id = $1 AND status = $2`,
		sessionID, string(status)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting registrations: %w", err)
	}
	return count, nil
}
