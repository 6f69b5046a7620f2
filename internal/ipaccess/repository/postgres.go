package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"tenant-auth-policy/internal/db"
	"tenant-auth-policy/internal/ipaccess/domain"
)

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns an IP access repository that uses the given db.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// ListRules returns every rule of the tenant, expired ones included, oldest first.
func (r *PostgresRepository) ListRules(ctx context.Context, tenantID string) ([]domain.Rule, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, tenant_id, kind, pattern, label, created_at, expires_at
		FROM ip_access_rules WHERE tenant_id = $1 ORDER BY created_at, id`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Rule
	for rows.Next() {
		var rule domain.Rule
		var kind string
		var expiresAt sql.NullTime
		if err := rows.Scan(&rule.ID, &rule.TenantID, &kind, &rule.Pattern, &rule.Label, &rule.CreatedAt, &expiresAt); err != nil {
			return nil, err
		}
		rule.Kind = domain.Kind(kind)
		if expiresAt.Valid {
			rule.ExpiresAt = &expiresAt.Time
		}
		out = append(out, rule)
	}
	return out, rows.Err()
}

// PutRule upserts rule and deletes the opposite-kind rule for its pattern in one transaction.
func (r *PostgresRepository) PutRule(ctx context.Context, rule *domain.Rule) error {
	opposite := domain.KindDeny
	if rule.Kind == domain.KindDeny {
		opposite = domain.KindAllow
	}
	return db.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM ip_access_rules WHERE tenant_id = $1 AND kind = $2 AND pattern = $3`,
			rule.TenantID, string(opposite), rule.Pattern); err != nil {
			return err
		}
		return tx.QueryRowContext(ctx, `
			INSERT INTO ip_access_rules (id, tenant_id, kind, pattern, label, created_at, expires_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (tenant_id, kind, pattern) DO UPDATE SET label = EXCLUDED.label, expires_at = EXCLUDED.expires_at
			RETURNING id, created_at`,
			rule.ID, rule.TenantID, string(rule.Kind), rule.Pattern, rule.Label, rule.CreatedAt, rule.ExpiresAt).
			Scan(&rule.ID, &rule.CreatedAt)
	})
}

// DeleteRule removes the tenant's rule of the given kind and pattern.
func (r *PostgresRepository) DeleteRule(ctx context.Context, tenantID string, kind domain.Kind, pattern string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM ip_access_rules WHERE tenant_id = $1 AND kind = $2 AND pattern = $3`,
		tenantID, string(kind), pattern)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// GetUserRestriction returns the user's restriction, or nil when none is stored.
func (r *PostgresRepository) GetUserRestriction(ctx context.Context, userID string) (*domain.UserRestriction, error) {
	var res domain.UserRestriction
	var raw []byte
	var updatedAt time.Time
	err := r.db.QueryRowContext(ctx, `
		SELECT user_id, enabled, allowed_ips, updated_at FROM user_ip_restrictions WHERE user_id = $1`, userID).
		Scan(&res.UserID, &res.Enabled, &raw, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &res.AllowedIPs); err != nil {
			return nil, err
		}
	}
	res.UpdatedAt = updatedAt
	return &res, nil
}

// UpsertUserRestriction inserts or replaces the user's restriction.
func (r *PostgresRepository) UpsertUserRestriction(ctx context.Context, res *domain.UserRestriction) error {
	ips := res.AllowedIPs
	if ips == nil {
		ips = []string{}
	}
	raw, err := json.Marshal(ips)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO user_ip_restrictions (user_id, enabled, allowed_ips, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE SET enabled = EXCLUDED.enabled, allowed_ips = EXCLUDED.allowed_ips,
			updated_at = EXCLUDED.updated_at`,
		res.UserID, res.Enabled, string(raw), res.UpdatedAt)
	return err
}
