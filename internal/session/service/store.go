package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	devicedomain "tenant-auth-policy/internal/device/domain"
	"tenant-auth-policy/internal/platform/clock"
	"tenant-auth-policy/internal/platform/request"
	"tenant-auth-policy/internal/security"
	"tenant-auth-policy/internal/session/domain"
	"tenant-auth-policy/internal/telemetry"
	"tenant-auth-policy/internal/tenant"
	tsdomain "tenant-auth-policy/internal/tenantsettings/domain"
	userdomain "tenant-auth-policy/internal/user/domain"
)

// settingsTTL bounds how long a tenant's session settings are memoized.
const settingsTTL = 5 * time.Minute

// Repository is the session persistence the store needs.
type Repository interface {
	Create(ctx context.Context, s *domain.Session) error
	GetByTokenHash(ctx context.Context, tokenHash string) (*domain.Session, error)
	ListActiveByUser(ctx context.Context, userID string, now time.Time) ([]*domain.Session, error)
	CountActiveByUser(ctx context.Context, userID string, now time.Time) (int, error)
	DeleteOldestActive(ctx context.Context, userID string, now time.Time, keep int) ([]string, error)
	Touch(ctx context.Context, id string, lastActiveAt, expiresAt time.Time) error
	Delete(ctx context.Context, userID, id string) ([]string, error)
	DeleteAllExcept(ctx context.Context, userID, exceptID string) ([]string, error)
	DeleteAllByUser(ctx context.Context, userID string) ([]string, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// SettingsLoader decodes a tenant settings section on top of dst.
type SettingsLoader interface {
	Load(ctx context.Context, t tenant.Context, section tsdomain.Section, ttl time.Duration, dst any) error
}

// LinkedDevices deactivates the device rows linked to sessions that have ended.
type LinkedDevices interface {
	DeactivateBySessions(ctx context.Context, userID string, sessionIDs []string, reason devicedomain.DeactivationReason) (int64, error)
}

// Store creates, validates, touches, and terminates sessions, and enforces the per-principal
// concurrent session limit.
type Store struct {
	repo     Repository
	settings SettingsLoader
	defaults domain.Settings
	clock    clock.Clock
	metrics  *telemetry.Metrics
	devices  LinkedDevices
}

// NewStore returns a Store. defaults apply when a tenant has no session settings; settings and metrics may be nil.
func NewStore(repo Repository, settings SettingsLoader, defaults domain.Settings, clk clock.Clock, metrics *telemetry.Metrics) *Store {
	if defaults.IdleTimeoutMinutes <= 0 {
		defaults.IdleTimeoutMinutes = 120
	}
	return &Store{repo: repo, settings: settings, defaults: defaults, clock: clock.OrSystem(clk), metrics: metrics}
}

// SetLinkedDevices makes every eviction and termination deactivate the linked device rows. The device
// registry depends on the store, so it is attached after both exist.
func (s *Store) SetLinkedDevices(d LinkedDevices) {
	s.devices = d
}

// Settings returns the effective session settings for t. Lookup failures fall back to defaults.
func (s *Store) Settings(ctx context.Context, t tenant.Context) domain.Settings {
	out := s.defaults
	if s.settings != nil {
		if err := s.settings.Load(ctx, t, tsdomain.SectionSession, settingsTTL, &out); err != nil {
			log.Printf("session: load settings for tenant %s: %v", t.ID, err)
			return s.defaults
		}
	}
	if out.IdleTimeoutMinutes <= 0 {
		out.IdleTimeoutMinutes = s.defaults.IdleTimeoutMinutes
	}
	if out.MaxConcurrentSessions < 0 {
		out.MaxConcurrentSessions = 0
	}
	return out
}

// CreateSession enforces the session limit, then creates a session for p and returns it with the
// plaintext token. The token is only ever returned here.
func (s *Store) CreateSession(ctx context.Context, p userdomain.Principal, meta request.Meta) (*domain.Session, string, error) {
	t := tenant.New(p.GetTenantID())
	if _, err := s.EnforceSessionLimit(ctx, t, p.GetID()); err != nil {
		return nil, "", err
	}
	token, err := security.GenerateToken()
	if err != nil {
		return nil, "", fmt.Errorf("session: generate token: %w", err)
	}
	now := s.clock.Now()
	class := ClassifyUserAgent(meta.UserAgent)
	sess := &domain.Session{
		ID:           uuid.New().String(),
		UserID:       p.GetID(),
		TenantID:     t.ID,
		TokenHash:    security.HashToken(token),
		DeviceID:     meta.Fingerprint(),
		DeviceType:   class.Type,
		Browser:      class.Browser,
		Platform:     class.Platform,
		IPAddress:    meta.IP,
		UserAgent:    meta.UserAgent,
		CreatedAt:    now,
		LastActiveAt: now,
		ExpiresAt:    now.Add(s.Settings(ctx, t).IdleTimeout()),
	}
	if err := s.repo.Create(ctx, sess); err != nil {
		return nil, "", err
	}
	return sess, token, nil
}

// EnforceSessionLimit makes room for one more session: when the principal already has max or more
// active sessions, the oldest by last activity are deleted until max-1 remain. A max of 0 is unlimited.
func (s *Store) EnforceSessionLimit(ctx context.Context, t tenant.Context, userID string) (int64, error) {
	limit := s.Settings(ctx, t).MaxConcurrentSessions
	if limit <= 0 {
		return 0, nil
	}
	now := s.clock.Now()
	count, err := s.repo.CountActiveByUser(ctx, userID, now)
	if err != nil {
		return 0, err
	}
	if count < limit {
		return 0, nil
	}
	ids, err := s.repo.DeleteOldestActive(ctx, userID, now, limit-1)
	if err != nil {
		return 0, err
	}
	evicted := int64(len(ids))
	s.metrics.SessionsEvicted(ctx, t.ID, evicted)
	s.endDevices(ctx, userID, ids, devicedomain.ReasonSuperseded)
	return evicted, nil
}

// ValidateSession returns the unexpired session for token, or nil. Unknown and expired tokens are
// not errors, and expired rows are left for CleanupExpiredSessions.
func (s *Store) ValidateSession(ctx context.Context, token string) (*domain.Session, error) {
	if token == "" {
		return nil, nil
	}
	sess, err := s.repo.GetByTokenHash(ctx, security.HashToken(token))
	if err != nil || sess == nil {
		return nil, err
	}
	if sess.Expired(s.clock.Now()) {
		return nil, nil
	}
	return sess, nil
}

// TouchSession extends the session for token to now plus the tenant's inactivity timeout.
// Returns false when the token is unknown or expired.
func (s *Store) TouchSession(ctx context.Context, token string) (bool, error) {
	sess, err := s.ValidateSession(ctx, token)
	if err != nil || sess == nil {
		return false, err
	}
	now := s.clock.Now()
	expires := now.Add(s.Settings(ctx, tenant.New(sess.TenantID)).IdleTimeout())
	if err := s.repo.Touch(ctx, sess.ID, now, expires); err != nil {
		return false, err
	}
	sess.LastActiveAt, sess.ExpiresAt = now, expires
	return true, nil
}

// ListSessions returns the principal's active sessions, oldest activity first.
func (s *Store) ListSessions(ctx context.Context, userID string) ([]*domain.Session, error) {
	return s.repo.ListActiveByUser(ctx, userID, s.clock.Now())
}

// TerminateSession deletes one session of the principal.
func (s *Store) TerminateSession(ctx context.Context, userID, sessionID string) (int64, error) {
	return s.terminated(ctx, userID)(s.repo.Delete(ctx, userID, sessionID))
}

// TerminateOtherSessions deletes every session of the principal except exceptID.
func (s *Store) TerminateOtherSessions(ctx context.Context, userID, exceptID string) (int64, error) {
	return s.terminated(ctx, userID)(s.repo.DeleteAllExcept(ctx, userID, exceptID))
}

// TerminateAllSessions deletes every session of the principal.
func (s *Store) TerminateAllSessions(ctx context.Context, userID string) (int64, error) {
	return s.terminated(ctx, userID)(s.repo.DeleteAllByUser(ctx, userID))
}

func (s *Store) terminated(ctx context.Context, userID string) func([]string, error) (int64, error) {
	return func(ids []string, err error) (int64, error) {
		if err != nil {
			return 0, err
		}
		s.endDevices(ctx, userID, ids, devicedomain.ReasonUserTerminated)
		return int64(len(ids)), nil
	}
}

// endDevices is best-effort: the sessions are already gone, so a failure only leaves stale device rows
// for PruneStaleDevices.
func (s *Store) endDevices(ctx context.Context, userID string, ids []string, reason devicedomain.DeactivationReason) {
	if s.devices == nil || len(ids) == 0 {
		return
	}
	if _, err := s.devices.DeactivateBySessions(ctx, userID, ids, reason); err != nil {
		log.Printf("session: deactivate devices of ended sessions for %s: %v", userID, err)
	}
}

// CleanupExpiredSessions deletes every session past expiry. Intended for the periodic sweeper.
func (s *Store) CleanupExpiredSessions(ctx context.Context) (int64, error) {
	n, err := s.repo.DeleteExpired(ctx, s.clock.Now())
	if err != nil {
		return 0, err
	}
	s.metrics.ExpiredSessionsCleaned(ctx, n)
	return n, nil
}
