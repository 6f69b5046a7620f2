package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"tenant-auth-policy/internal/session/domain"
)

const sessionColumns = `id, user_id, tenant_id, token_hash, device_id, device_type, browser, platform,
	ip_address, user_agent, created_at, last_active_at, expires_at`

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a session repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create persists the session to the database. The session must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, s *domain.Session) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sessions (`+sessionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		s.ID, s.UserID, s.TenantID, s.TokenHash, s.DeviceID, s.DeviceType, s.Browser, s.Platform,
		s.IPAddress, s.UserAgent, s.CreatedAt, s.LastActiveAt, s.ExpiresAt)
	return err
}

// GetByTokenHash returns the session for tokenHash, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*domain.Session, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE token_hash = $1`, tokenHash)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return s, err
}

// ListActiveByUser returns the user's unexpired sessions ordered by last activity, oldest first.
func (r *PostgresRepository) ListActiveByUser(ctx context.Context, userID string, now time.Time) ([]*domain.Session, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE user_id = $1 AND expires_at > $2
		ORDER BY last_active_at ASC`, userID, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// CountActiveByUser counts the user's unexpired sessions.
func (r *PostgresRepository) CountActiveByUser(ctx context.Context, userID string, now time.Time) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sessions WHERE user_id = $1 AND expires_at > $2`, userID, now).Scan(&n)
	return n, err
}

// DeleteOldestActive removes all but the keep most recently active sessions in one statement and
// returns the removed IDs.
func (r *PostgresRepository) DeleteOldestActive(ctx context.Context, userID string, now time.Time, keep int) ([]string, error) {
	return r.ids(ctx, `
		DELETE FROM sessions WHERE id IN (
			SELECT id FROM sessions
			WHERE user_id = $1 AND expires_at > $2
			ORDER BY last_active_at DESC
			OFFSET $3
		) RETURNING id`, userID, now, keep)
}

// Touch sets last_active_at and expires_at for the session.
func (r *PostgresRepository) Touch(ctx context.Context, id string, lastActiveAt, expiresAt time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET last_active_at = $2, expires_at = $3 WHERE id = $1`, id, lastActiveAt, expiresAt)
	return err
}

// Delete removes the user's session id.
func (r *PostgresRepository) Delete(ctx context.Context, userID, id string) ([]string, error) {
	return r.ids(ctx, `DELETE FROM sessions WHERE user_id = $1 AND id = $2 RETURNING id`, userID, id)
}

// DeleteAllExcept removes every session of the user other than exceptID.
func (r *PostgresRepository) DeleteAllExcept(ctx context.Context, userID, exceptID string) ([]string, error) {
	return r.ids(ctx, `DELETE FROM sessions WHERE user_id = $1 AND id <> $2 RETURNING id`, userID, exceptID)
}

// DeleteAllByUser removes every session of the user.
func (r *PostgresRepository) DeleteAllByUser(ctx context.Context, userID string) ([]string, error) {
	return r.ids(ctx, `DELETE FROM sessions WHERE user_id = $1 RETURNING id`, userID)
}

// DeleteExpired removes every session whose expiry is at or before now.
func (r *PostgresRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	return r.exec(ctx, `DELETE FROM sessions WHERE expires_at <= $1`, now)
}

func (r *PostgresRepository) ids(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*domain.Session, error) {
	var s domain.Session
	err := row.Scan(&s.ID, &s.UserID, &s.TenantID, &s.TokenHash, &s.DeviceID, &s.DeviceType, &s.Browser,
		&s.Platform, &s.IPAddress, &s.UserAgent, &s.CreatedAt, &s.LastActiveAt, &s.ExpiresAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}
