package repository

import (
	"context"
	"time"

	"tenant-auth-policy/internal/user/domain"
)

// Repository defines persistence for users.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByEmail(ctx context.Context, tenantID, email string) (*domain.User, error)
	Create(ctx context.Context, u *domain.User) error
	Update(ctx context.Context, u *domain.User) error
	// UpdatePassword sets the live password hash and its change timestamp.
	UpdatePassword(ctx context.Context, userID, passwordHash string, changedAt time.Time) error
}
