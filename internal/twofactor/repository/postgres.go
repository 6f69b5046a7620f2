package repository

import (
	"context"
	"database/sql"
	"errors"

	"tenant-auth-policy/internal/twofactor/domain"
)

// PostgresRepository stores two-factor credentials on the users table.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a credential repository that uses the given db.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Get returns the user's credential, or nil when the user does not exist.
func (r *PostgresRepository) Get(ctx context.Context, userID string) (*domain.Credential, error) {
	var secret, codes sql.NullString
	var enabledAt sql.NullTime
	err := r.db.QueryRowContext(ctx, `
		SELECT two_factor_secret, two_factor_recovery_codes, two_factor_enabled_at FROM users WHERE id = $1`,
		userID).Scan(&secret, &codes, &enabledAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	c := &domain.Credential{UserID: userID, SecretCiphertext: secret.String, RecoveryCodesCiphertext: codes.String}
	if enabledAt.Valid {
		c.EnabledAt = &enabledAt.Time
	}
	return c, nil
}

// Save writes the credential columns of c.UserID.
func (r *PostgresRepository) Save(ctx context.Context, c *domain.Credential) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE users SET two_factor_secret = $2, two_factor_recovery_codes = $3, two_factor_enabled_at = $4
		WHERE id = $1`, c.UserID, c.SecretCiphertext, c.RecoveryCodesCiphertext, c.EnabledAt)
	return err
}

// UpdateRecoveryCodes replaces the encrypted recovery code set.
func (r *PostgresRepository) UpdateRecoveryCodes(ctx context.Context, userID, ciphertext string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE users SET two_factor_recovery_codes = $2 WHERE id = $1`, userID, ciphertext)
	return err
}

// Clear erases every credential column.
func (r *PostgresRepository) Clear(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE users SET two_factor_secret = NULL, two_factor_recovery_codes = NULL, two_factor_enabled_at = NULL
		WHERE id = $1`, userID)
	return err
}
