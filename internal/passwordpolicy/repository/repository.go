package repository

import (
	"context"

	"tenant-auth-policy/internal/passwordpolicy/domain"
)

// Repository defines persistence for password history.
type Repository interface {
	// List returns up to limit entries for the user, newest first.
	List(ctx context.Context, userID string, limit int) ([]*domain.HistoryEntry, error)
	Add(ctx context.Context, e *domain.HistoryEntry) error
	// Trim deletes all but the newest keep entries for the user.
	Trim(ctx context.Context, userID string, keep int) (int64, error)
}
