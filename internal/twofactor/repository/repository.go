package repository

import (
	"context"

	"tenant-auth-policy/internal/twofactor/domain"
)

// Repository defines persistence for two-factor credentials.
type Repository interface {
	// Get returns the user's credential, or nil when the user does not exist.
	Get(ctx context.Context, userID string) (*domain.Credential, error)
	Save(ctx context.Context, c *domain.Credential) error
	UpdateRecoveryCodes(ctx context.Context, userID, ciphertext string) error
	Clear(ctx context.Context, userID string) error
}
