package repository

import (
	"context"
	"time"

	"tenant-auth-policy/internal/session/domain"
)

// Repository defines persistence for sessions. Per-user deletes return the IDs removed; DeleteExpired
// returns a count.
type Repository interface {
	Create(ctx context.Context, s *domain.Session) error
	// GetByTokenHash returns the session with the given token hash, or nil if not found.
	GetByTokenHash(ctx context.Context, tokenHash string) (*domain.Session, error)
	// ListActiveByUser returns sessions with expires_at after now, oldest last_active_at first.
	ListActiveByUser(ctx context.Context, userID string, now time.Time) ([]*domain.Session, error)
	CountActiveByUser(ctx context.Context, userID string, now time.Time) (int, error)
	// DeleteOldestActive deletes the user's active sessions except the keep most recently active.
	DeleteOldestActive(ctx context.Context, userID string, now time.Time, keep int) ([]string, error)
	Touch(ctx context.Context, id string, lastActiveAt, expiresAt time.Time) error
	Delete(ctx context.Context, userID, id string) ([]string, error)
	DeleteAllExcept(ctx context.Context, userID, exceptID string) ([]string, error)
	DeleteAllByUser(ctx context.Context, userID string) ([]string, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
