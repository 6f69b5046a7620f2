package repository

import (
	"context"

	"tenant-auth-policy/internal/tenantsettings/domain"
)

// Repository persists tenant settings sections.
type Repository interface {
	// Get returns the section for the tenant, or nil if not found (caller applies defaults).
	Get(ctx context.Context, tenantID string, section domain.Section) (*domain.Record, error)
	// Upsert saves or replaces the section for the tenant.
	Upsert(ctx context.Context, rec *domain.Record) error
}
