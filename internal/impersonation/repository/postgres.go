package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"tenant-auth-policy/internal/db"
	"tenant-auth-policy/internal/impersonation/domain"
)

const (
	targetConstraint       = "impersonation_one_active_per_target"
	impersonatorConstraint = "impersonation_one_active_per_impersonator"

	selectColumns = `id, tenant_id, impersonator_id, target_id, reason, ip_address, user_agent,
		started_at, expires_at, max_duration_minutes, ended_at, end_reason`
)

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns an impersonation repository that uses the given db.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetByID returns the session by id, or nil when absent.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	return r.one(ctx, `SELECT `+selectColumns+` FROM impersonation_sessions WHERE id = $1`, id)
}

// GetActiveByTarget returns the target's open session, or nil.
func (r *PostgresRepository) GetActiveByTarget(ctx context.Context, targetID string) (*domain.Session, error) {
	return r.one(ctx, `SELECT `+selectColumns+` FROM impersonation_sessions WHERE target_id = $1 AND ended_at IS NULL`, targetID)
}

// GetActiveByImpersonator returns the impersonator's open session, or nil.
func (r *PostgresRepository) GetActiveByImpersonator(ctx context.Context, impersonatorID string) (*domain.Session, error) {
	return r.one(ctx, `SELECT `+selectColumns+` FROM impersonation_sessions WHERE impersonator_id = $1 AND ended_at IS NULL`, impersonatorID)
}

// Create inserts s. A concurrent open session for the same target or impersonator is reported as
// ErrTargetBusy or ErrImpersonatorBusy.
func (r *PostgresRepository) Create(ctx context.Context, s *domain.Session) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO impersonation_sessions (id, tenant_id, impersonator_id, target_id, reason, ip_address, user_agent,
			started_at, expires_at, max_duration_minutes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		s.ID, s.TenantID, s.ImpersonatorID, s.TargetID, s.Reason, s.IPAddress, s.UserAgent,
		s.StartedAt, s.ExpiresAt, s.MaxDurationMinutes)
	switch {
	case db.IsUniqueViolation(err, targetConstraint):
		return ErrTargetBusy
	case db.IsUniqueViolation(err, impersonatorConstraint):
		return ErrImpersonatorBusy
	}
	return err
}

// End closes the session if it is still open.
func (r *PostgresRepository) End(ctx context.Context, id string, reason domain.EndReason, at time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE impersonation_sessions SET ended_at = $2, end_reason = $3 WHERE id = $1 AND ended_at IS NULL`,
		id, at, string(reason))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// EndAllActiveByTarget closes every open session targeting targetID.
func (r *PostgresRepository) EndAllActiveByTarget(ctx context.Context, targetID string, reason domain.EndReason, at time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE impersonation_sessions SET ended_at = $2, end_reason = $3 WHERE target_id = $1 AND ended_at IS NULL`,
		targetID, at, string(reason))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *PostgresRepository) one(ctx context.Context, query string, args ...any) (*domain.Session, error) {
	var s domain.Session
	var endedAt sql.NullTime
	var endReason sql.NullString
	err := r.db.QueryRowContext(ctx, query, args...).Scan(
		&s.ID, &s.TenantID, &s.ImpersonatorID, &s.TargetID, &s.Reason, &s.IPAddress, &s.UserAgent,
		&s.StartedAt, &s.ExpiresAt, &s.MaxDurationMinutes, &endedAt, &endReason)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if endedAt.Valid {
		s.EndedAt = &endedAt.Time
	}
	s.EndReason = domain.EndReason(endReason.String)
	return &s, nil
}
