package repository

import (
	"context"

	"tenant-auth-policy/internal/ipaccess/domain"
)

// Repository defines persistence for tenant IP rules and per-user restrictions.
type Repository interface {
	ListRules(ctx context.Context, tenantID string) ([]domain.Rule, error)
	// PutRule stores r and removes any rule of the opposite kind with the same literal pattern, so a
	// pattern is never on both lists. An existing rule of the same kind is updated in place
	// and its id and creation time are copied back into r.
	PutRule(ctx context.Context, r *domain.Rule) error
	// DeleteRule removes a rule and returns the number of rows deleted.
	DeleteRule(ctx context.Context, tenantID string, kind domain.Kind, pattern string) (int64, error)
	GetUserRestriction(ctx context.Context, userID string) (*domain.UserRestriction, error)
	UpsertUserRestriction(ctx context.Context, r *domain.UserRestriction) error
}
