package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"tenant-auth-policy/internal/device/domain"
)

const deviceColumns = `id, user_id, tenant_id, device_id, session_id, device_type, browser, platform, user_agent,
	last_ip, last_used_at, active, deactivated_at, deactivation_reason, created_at`

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a device repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetByID returns the device for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Device, error) {
	return r.one(ctx, `SELECT `+deviceColumns+` FROM devices WHERE id = $1`, id)
}

// GetActiveByUserAndDeviceID returns the active device row for the identifier, or nil.
func (r *PostgresRepository) GetActiveByUserAndDeviceID(ctx context.Context, userID, deviceID string) (*domain.Device, error) {
	return r.one(ctx, `
		SELECT `+deviceColumns+` FROM devices
		WHERE user_id = $1 AND device_id = $2 AND active
		ORDER BY created_at DESC LIMIT 1`, userID, deviceID)
}

// ListActiveByUser returns the user's active devices, most recently used first.
func (r *PostgresRepository) ListActiveByUser(ctx context.Context, userID string) ([]*domain.Device, error) {
	return r.list(ctx, `
		SELECT `+deviceColumns+` FROM devices
		WHERE user_id = $1 AND active
		ORDER BY last_used_at DESC NULLS LAST, created_at DESC`, userID)
}

// ListByUserAndDeviceIDSeenSince returns all rows for the identifier last seen at or after since
// (see domain.Device.LastSeen).
func (r *PostgresRepository) ListByUserAndDeviceIDSeenSince(ctx context.Context, userID, deviceID string, since time.Time) ([]*domain.Device, error) {
	return r.list(ctx, `
		SELECT `+deviceColumns+` FROM devices
		WHERE user_id = $1 AND device_id = $2 AND COALESCE(deactivated_at, last_used_at, created_at) >= $3
		ORDER BY created_at DESC`, userID, deviceID, since)
}

// Create persists the device to the database. The device must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, d *domain.Device) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO devices (`+deviceColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		d.ID, d.UserID, d.TenantID, d.DeviceID, nullString(d.SessionID), d.DeviceType, d.Browser, d.Platform,
		d.UserAgent, d.LastIP, timeToNullTime(d.LastUsedAt), d.Active, timeToNullTime(d.DeactivatedAt),
		nullString(string(d.DeactivationReason)), d.CreatedAt)
	return err
}

// UpdateActivity records a use of the device. An empty sessionID keeps the linked session.
func (r *PostgresRepository) UpdateActivity(ctx context.Context, id, sessionID, ip string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE devices SET last_used_at = $2, last_ip = COALESCE(NULLIF($3, ''), last_ip),
			session_id = COALESCE(NULLIF($4, ''), session_id)
		WHERE id = $1`, id, at, ip, sessionID)
	return err
}

// Deactivate marks the active devices in ids inactive with reason.
func (r *PostgresRepository) Deactivate(ctx context.Context, ids []string, reason domain.DeactivationReason, at time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE devices SET active = FALSE, deactivated_at = $2, deactivation_reason = $3
		WHERE id = ANY($1) AND active`, ids, at, string(reason))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeactivateStale deactivates active devices idle since before cutoff, or never used.
func (r *PostgresRepository) DeactivateStale(ctx context.Context, cutoff, at time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE devices SET active = FALSE, deactivated_at = $2, deactivation_reason = $3
		WHERE active AND (last_used_at IS NULL OR last_used_at < $1)`, cutoff, at, string(domain.ReasonInactivity))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *PostgresRepository) one(ctx context.Context, query string, args ...any) (*domain.Device, error) {
	d, err := scanDevice(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return d, err
}

func (r *PostgresRepository) list(ctx context.Context, query string, args ...any) ([]*domain.Device, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDevice(row scanner) (*domain.Device, error) {
	var (
		d                       domain.Device
		sessionID, reason       sql.NullString
		lastUsed, deactivatedAt sql.NullTime
	)
	err := row.Scan(&d.ID, &d.UserID, &d.TenantID, &d.DeviceID, &sessionID, &d.DeviceType, &d.Browser, &d.Platform,
		&d.UserAgent, &d.LastIP, &lastUsed, &d.Active, &deactivatedAt, &reason, &d.CreatedAt)
	if err != nil {
		return nil, err
	}
	d.SessionID = sessionID.String
	d.DeactivationReason = domain.DeactivationReason(reason.String)
	d.LastUsedAt = nullTimeToPtr(lastUsed)
	d.DeactivatedAt = nullTimeToPtr(deactivatedAt)
	return &d, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func timeToNullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullTimeToPtr(n sql.NullTime) *time.Time {
	if !n.Valid {
		return nil
	}
	return &n.Time
}
