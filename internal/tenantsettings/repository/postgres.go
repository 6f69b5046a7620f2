package repository

import (
	"context"
	"database/sql"
	"errors"

	"tenant-auth-policy/internal/tenantsettings/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a tenant settings repository that uses the given db.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Get returns the stored section, or nil if the tenant never wrote it.
func (r *PostgresRepository) Get(ctx context.Context, tenantID string, section domain.Section) (*domain.Record, error) {
	rec := domain.Record{TenantID: tenantID, Section: section}
	err := r.db.QueryRowContext(ctx,
		`SELECT config_json, updated_at FROM tenant_settings WHERE tenant_id = $1 AND section = $2`,
		tenantID, string(section)).Scan(&rec.ConfigJSON, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

// Upsert saves or replaces the section.
func (r *PostgresRepository) Upsert(ctx context.Context, rec *domain.Record) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO tenant_settings (tenant_id, section, config_json, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (tenant_id, section) DO UPDATE SET config_json = EXCLUDED.config_json, updated_at = EXCLUDED.updated_at`,
		rec.TenantID, string(rec.Section), rec.ConfigJSON, rec.UpdatedAt)
	return err
}
