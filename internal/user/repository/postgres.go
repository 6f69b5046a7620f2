package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"tenant-auth-policy/internal/user/domain"
)

const userColumns = `id, tenant_id, email, name, roles, permissions, status, password_hash, password_changed_at, created_at, updated_at`

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a user repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetByID returns the user for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

// GetByEmail returns the user with the given email in tenantID, or nil if not found.
func (r *PostgresRepository) GetByEmail(ctx context.Context, tenantID, email string) (*domain.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE tenant_id = $1 AND email = $2`, tenantID, email)
	return scanUser(row)
}

// Create persists the user to the database. The user must have ID set; it is not assigned by this method.
func (r *PostgresRepository) Create(ctx context.Context, u *domain.User) error {
	roles, perms, err := encodeSets(u)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		u.ID, u.TenantID, u.Email, u.Name, roles, perms, string(u.Status), u.PasswordHash,
		timeToNullTime(u.PasswordChangedAt), u.CreatedAt, u.UpdatedAt)
	return err
}

// Update writes profile, role, and status fields. Password columns are changed only by UpdatePassword.
func (r *PostgresRepository) Update(ctx context.Context, u *domain.User) error {
	roles, perms, err := encodeSets(u)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		UPDATE users SET email = $2, name = $3, roles = $4, permissions = $5, status = $6, updated_at = $7
		WHERE id = $1`,
		u.ID, u.Email, u.Name, roles, perms, string(u.Status), u.UpdatedAt)
	return err
}

// UpdatePassword sets the password hash and password_changed_at for userID.
func (r *PostgresRepository) UpdatePassword(ctx context.Context, userID, passwordHash string, changedAt time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET password_hash = $2, password_changed_at = $3, updated_at = $3 WHERE id = $1`,
		userID, passwordHash, changedAt)
	return err
}

func scanUser(row *sql.Row) (*domain.User, error) {
	var (
		u              domain.User
		roles, perms   []byte
		status         string
		passwordChange sql.NullTime
	)
	err := row.Scan(&u.ID, &u.TenantID, &u.Email, &u.Name, &roles, &perms, &status, &u.PasswordHash,
		&passwordChange, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if err := json.Unmarshal(roles, &u.Roles); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(perms, &u.Permissions); err != nil {
		return nil, err
	}
	u.Status = domain.UserStatus(status)
	if passwordChange.Valid {
		t := passwordChange.Time
		u.PasswordChangedAt = &t
	}
	return &u, nil
}

func encodeSets(u *domain.User) ([]byte, []byte, error) {
	roles := u.Roles
	if roles == nil {
		roles = []string{}
	}
	perms := u.Permissions
	if perms == nil {
		perms = []string{}
	}
	rb, err := json.Marshal(roles)
	if err != nil {
		return nil, nil, err
	}
	pb, err := json.Marshal(perms)
	if err != nil {
		return nil, nil, err
	}
	return rb, pb, nil
}

func timeToNullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
