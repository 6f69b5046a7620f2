package repository

import (
	"context"
	"time"

	"tenant-auth-policy/internal/device/domain"
)

// Repository defines persistence for devices.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.Device, error)
	// GetActiveByUserAndDeviceID returns the active row for the identifier, or nil.
	GetActiveByUserAndDeviceID(ctx context.Context, userID, deviceID string) (*domain.Device, error)
	// ListActiveByUser returns active devices, most recently used first.
	ListActiveByUser(ctx context.Context, userID string) ([]*domain.Device, error)
	// ListByUserAndDeviceIDSeenSince returns rows for the identifier, active or not, last seen at or after since.
	ListByUserAndDeviceIDSeenSince(ctx context.Context, userID, deviceID string, since time.Time) ([]*domain.Device, error)
	Create(ctx context.Context, d *domain.Device) error
	UpdateActivity(ctx context.Context, id, sessionID, ip string, at time.Time) error
	Deactivate(ctx context.Context, ids []string, reason domain.DeactivationReason, at time.Time) (int64, error)
	// DeactivateStale deactivates active devices last used before cutoff or never used.
	DeactivateStale(ctx context.Context, cutoff, at time.Time) (int64, error)
}
