package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tenant-auth-policy/internal/cache"
	"tenant-auth-policy/internal/server/interceptors"
	userdomain "tenant-auth-policy/internal/user/domain"
)

// ErrUnauthenticated is returned when the context carries no authenticated session.
var ErrUnauthenticated = errors.New("unauthenticated")

// UserLookup loads principals by ID.
type UserLookup interface {
	GetByID(ctx context.Context, id string) (*userdomain.User, error)
}

// ActingKey is the cache key holding the principal a session is acting as.
func ActingKey(sessionID string) string {
	return "auth:acting:" + sessionID
}

// Guard resolves the principal behind a request. A session normally acts as its owner; LoginAs switches
// the session to another principal until Restore.
type Guard struct {
	users UserLookup
	cache cache.Cache
}

// NewGuard returns a Guard.
func NewGuard(users UserLookup, c cache.Cache) *Guard {
	return &Guard{users: users, cache: c}
}

// Authenticated returns the owner of the request's session, ignoring any LoginAs switch.
func (g *Guard) Authenticated(ctx context.Context) (*userdomain.User, error) {
	userID, ok := interceptors.GetUserID(ctx)
	if !ok {
		return nil, ErrUnauthenticated
	}
	return g.load(ctx, userID)
}

// Current returns the principal the request acts as.
func (g *Guard) Current(ctx context.Context) (*userdomain.User, error) {
	userID, ok := interceptors.GetUserID(ctx)
	if !ok {
		return nil, ErrUnauthenticated
	}
	if sessionID, ok := interceptors.GetSessionID(ctx); ok {
		raw, found, err := g.cache.Get(ctx, ActingKey(sessionID))
		if err != nil {
			return nil, fmt.Errorf("read acting principal: %w", err)
		}
		if found {
			userID = string(raw)
		}
	}
	return g.load(ctx, userID)
}

// LoginAs makes the request's session act as userID for at most ttl.
func (g *Guard) LoginAs(ctx context.Context, userID string, ttl time.Duration) error {
	sessionID, ok := interceptors.GetSessionID(ctx)
	if !ok {
		return ErrUnauthenticated
	}
	return g.cache.Set(ctx, ActingKey(sessionID), []byte(userID), ttl)
}

// Restore returns the request's session to its owner.
func (g *Guard) Restore(ctx context.Context) error {
	sessionID, ok := interceptors.GetSessionID(ctx)
	if !ok {
		return ErrUnauthenticated
	}
	return g.cache.Delete(ctx, ActingKey(sessionID))
}

func (g *Guard) load(ctx context.Context, userID string) (*userdomain.User, error) {
	u, err := g.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, ErrUnauthenticated
	}
	return u, nil
}
