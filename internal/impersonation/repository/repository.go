package repository

import (
	"context"
	"errors"
	"time"

	"tenant-auth-policy/internal/impersonation/domain"
)

var (
	// ErrTargetBusy is returned by Create when the target already has an active impersonation.
	ErrTargetBusy = errors.New("target already has an active impersonation")
	// ErrImpersonatorBusy is returned by Create when the impersonator already has an active impersonation.
	ErrImpersonatorBusy = errors.New("impersonator already has an active impersonation")
)

// Repository defines persistence for impersonation sessions.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.Session, error)
	GetActiveByTarget(ctx context.Context, targetID string) (*domain.Session, error)
	GetActiveByImpersonator(ctx context.Context, impersonatorID string) (*domain.Session, error)
	Create(ctx context.Context, s *domain.Session) error
	// End closes an active session. It returns 0 when the session was already closed.
	End(ctx context.Context, id string, reason domain.EndReason, at time.Time) (int64, error)
	EndAllActiveByTarget(ctx context.Context, targetID string, reason domain.EndReason, at time.Time) (int64, error)
}
