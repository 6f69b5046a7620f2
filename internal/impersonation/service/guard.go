package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/google/uuid"

	"tenant-auth-policy/internal/audit"
	auditdomain "tenant-auth-policy/internal/audit/domain"
	"tenant-auth-policy/internal/cache"
	"tenant-auth-policy/internal/impersonation/domain"
	"tenant-auth-policy/internal/impersonation/engine"
	"tenant-auth-policy/internal/impersonation/repository"
	"tenant-auth-policy/internal/notify"
	"tenant-auth-policy/internal/platform/clock"
	"tenant-auth-policy/internal/platform/rbac"
	"tenant-auth-policy/internal/platform/request"
	"tenant-auth-policy/internal/security"
	"tenant-auth-policy/internal/server/interceptors"
	"tenant-auth-policy/internal/telemetry"
	userdomain "tenant-auth-policy/internal/user/domain"
)

const (
	DefaultDurationMinutes = 60
	MaxDurationMinutes     = 240

	// markerGrace keeps the marker past expiry so the next check can close the record.
	markerGrace = time.Hour
)

// Audit actions.
const (
	ActionStarted    = "impersonation_started"
	ActionStopped    = "impersonation_stopped"
	ActionForceEnded = "impersonation_force_ended"
)

// Authenticator resolves and switches the principal behind a request.
type Authenticator interface {
	Authenticated(ctx context.Context) (*userdomain.User, error)
	LoginAs(ctx context.Context, userID string, ttl time.Duration) error
	Restore(ctx context.Context) error
}

// UserLookup loads principals by ID.
type UserLookup interface {
	GetByID(ctx context.Context, id string) (*userdomain.User, error)
}

// Options configures a Guard.
type Options struct {
	DefaultMinutes int
	MaxMinutes     int
	NotifyTarget   bool
}

// Guard lets authorized principals act as lower-privileged principals for a bounded time.
type Guard struct {
	repo     repository.Repository
	users    UserLookup
	auth     Authenticator
	eval     engine.Evaluator
	tokens   *security.TokenProvider
	enc      security.Encryptor
	cache    cache.Cache
	audit    audit.Sink
	notifier notify.Notifier
	metrics  *telemetry.Metrics
	clock    clock.Clock
	opts     Options
}

// Deps groups the collaborators of a Guard.
type Deps struct {
	Repo      repository.Repository
	Users     UserLookup
	Auth      Authenticator
	Evaluator engine.Evaluator
	Tokens    *security.TokenProvider
	Encryptor security.Encryptor
	Cache     cache.Cache
	Audit     audit.Sink
	Notifier  notify.Notifier
	Metrics   *telemetry.Metrics
	Clock     clock.Clock
}

// NewGuard returns a Guard. Audit and Notifier default to audit.Discard and notify.LogNotifier.
func NewGuard(d Deps, opts Options) *Guard {
	if opts.DefaultMinutes <= 0 {
		opts.DefaultMinutes = DefaultDurationMinutes
	}
	if opts.MaxMinutes <= 0 {
		opts.MaxMinutes = MaxDurationMinutes
	}
	opts.DefaultMinutes = min(opts.DefaultMinutes, opts.MaxMinutes)
	if d.Audit == nil {
		d.Audit = audit.Discard
	}
	if d.Notifier == nil {
		d.Notifier = notify.LogNotifier{}
	}
	return &Guard{
		repo:     d.Repo,
		users:    d.Users,
		auth:     d.Auth,
		eval:     d.Evaluator,
		tokens:   d.Tokens,
		enc:      d.Encryptor,
		cache:    d.Cache,
		audit:    d.Audit,
		notifier: d.Notifier,
		metrics:  d.Metrics,
		clock:    clock.OrSystem(d.Clock),
		opts:     opts,
	}
}

// MarkerKey is the cache key of the impersonation marker for a host session.
func MarkerKey(sessionID string) string {
	return "impersonation:" + sessionID
}

// Impersonate switches the request's session to act as targetID. durationMinutes <= 0 selects the
// default and larger values are capped. Refusals are *AuthorizationError.
func (g *Guard) Impersonate(ctx context.Context, targetID, reason string, durationMinutes int) (*domain.Session, error) {
	hostSession, ok := interceptors.GetSessionID(ctx)
	if !ok {
		return nil, errors.New("impersonation requires an authenticated session")
	}
	actor, err := g.auth.Authenticated(ctx)
	if err != nil {
		return nil, err
	}
	target, err := g.users.GetByID(ctx, targetID)
	if err != nil {
		return nil, err
	}
	if target == nil {
		return nil, ErrTargetNotFound
	}

	actorBusy, err := g.actorImpersonating(ctx, actor.ID)
	if err != nil {
		return nil, err
	}
	targetBusy, err := g.openSession(ctx, func() (*domain.Session, error) { return g.repo.GetActiveByTarget(ctx, target.ID) })
	if err != nil {
		return nil, err
	}
	violations, err := g.eval.Violations(ctx, engine.Input{
		Actor: engine.Actor{
			ID:            actor.ID,
			Roles:         actor.RoleSet(),
			Permissions:   actor.PermissionSet(),
			Priority:      rbac.HighestPriority(actor.RoleSet()),
			Impersonating: actorBusy,
		},
		Target: engine.Target{
			ID:           target.ID,
			Roles:        target.RoleSet(),
			Priority:     rbac.HighestPriority(target.RoleSet()),
			Protected:    rbac.IsProtected(target.RoleSet()),
			Active:       target.IsActive(),
			Impersonated: targetBusy,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("evaluate impersonation policy: %w", err)
	}
	if len(violations) > 0 {
		return nil, &AuthorizationError{Reasons: violations}
	}

	minutes := durationMinutes
	if minutes <= 0 {
		minutes = g.opts.DefaultMinutes
	}
	minutes = min(minutes, g.opts.MaxMinutes)
	now := g.clock.Now()
	meta, _ := request.FromContext(ctx)
	s := &domain.Session{
		ID:                 uuid.New().String(),
		TenantID:           target.TenantID,
		ImpersonatorID:     actor.ID,
		TargetID:           target.ID,
		Reason:             reason,
		IPAddress:          meta.IP,
		UserAgent:          meta.UserAgent,
		StartedAt:          now,
		ExpiresAt:          now.Add(time.Duration(minutes) * time.Minute),
		MaxDurationMinutes: minutes,
	}
	switch err := g.repo.Create(ctx, s); {
	case errors.Is(err, repository.ErrTargetBusy):
		return nil, &AuthorizationError{Reasons: []string{engine.ViolationTargetAlreadyImpersonated}}
	case errors.Is(err, repository.ErrImpersonatorBusy):
		return nil, &AuthorizationError{Reasons: []string{engine.ViolationAlreadyImpersonating}}
	case err != nil:
		return nil, fmt.Errorf("create impersonation: %w", err)
	}

	token, err := g.tokens.IssueImpersonation(s.ID, actor.ID, target.ID, target.TenantID, s.ExpiresAt)
	if err != nil {
		g.abort(ctx, s.ID)
		return nil, fmt.Errorf("issue impersonation token: %w", err)
	}
	s.Token = token
	ttl := s.ExpiresAt.Sub(now)
	if err := g.putMarker(ctx, hostSession, domain.Marker{
		ImpersonationID: s.ID,
		ImpersonatorID:  actor.ID,
		TargetID:        target.ID,
		Token:           token,
		ExpiresAt:       s.ExpiresAt,
	}, ttl+markerGrace); err != nil {
		g.abort(ctx, s.ID)
		return nil, err
	}
	if err := g.auth.LoginAs(ctx, target.ID, ttl); err != nil {
		g.abort(ctx, s.ID)
		g.deleteMarker(ctx, hostSession)
		return nil, fmt.Errorf("switch principal: %w", err)
	}

	g.audit.Record(ctx, audit.Event{
		TenantID: target.TenantID,
		UserID:   actor.ID,
		Channel:  audit.ChannelSecurity,
		Level:    auditdomain.LevelWarning,
		Action:   ActionStarted,
		IP:       meta.IP,
		Fields: map[string]any{
			"impersonation_id": s.ID,
			"impersonator_id":  actor.ID,
			"target_id":        target.ID,
			"reason":           reason,
			"duration_minutes": minutes,
			"user_agent":       meta.UserAgent,
		},
	})
	g.metrics.ImpersonationStarted(ctx, target.TenantID)
	if g.opts.NotifyTarget {
		g.notifyTarget(ctx, actor, target, s)
	}
	return s, nil
}

// IsImpersonating reports whether the request's session is impersonating. An expired, force-ended, or
// tampered impersonation is stopped as a side effect and reported as false.
func (g *Guard) IsImpersonating(ctx context.Context) (bool, error) {
	_, ok, err := g.active(ctx)
	return ok, err
}

// active returns the live impersonation of the request's session, stopping it when no longer valid.
func (g *Guard) active(ctx context.Context) (*domain.Session, bool, error) {
	hostSession, ok := interceptors.GetSessionID(ctx)
	if !ok {
		return nil, false, nil
	}
	m, ok, err := g.marker(ctx, hostSession)
	if err != nil || !ok {
		return nil, false, err
	}
	rec, err := g.repo.GetByID(ctx, m.ImpersonationID)
	if err != nil {
		return nil, false, err
	}
	switch {
	case rec == nil || !rec.Active():
		g.clear(ctx, hostSession)
		return nil, false, nil
	case rec.Expired(g.clock.Now()):
		_, err := g.stop(ctx, hostSession, m, rec, domain.EndExpired)
		return nil, false, err
	}
	if claims, err := g.tokens.ValidateImpersonation(m.Token); err != nil || claims.ID != rec.ID || claims.Subject != rec.TargetID {
		_, err := g.stop(ctx, hostSession, m, rec, domain.EndStopped)
		return nil, false, err
	}
	return rec, true, nil
}

// StopImpersonating returns the session to the impersonator. It returns false when nothing was active.
func (g *Guard) StopImpersonating(ctx context.Context) (bool, error) {
	hostSession, ok := interceptors.GetSessionID(ctx)
	if !ok {
		return false, nil
	}
	m, ok, err := g.marker(ctx, hostSession)
	if err != nil || !ok {
		return false, err
	}
	rec, err := g.repo.GetByID(ctx, m.ImpersonationID)
	if err != nil {
		return false, err
	}
	if rec == nil || !rec.Active() {
		g.clear(ctx, hostSession)
		return false, nil
	}
	return g.stop(ctx, hostSession, m, rec, domain.EndStopped)
}

func (g *Guard) stop(ctx context.Context, hostSession string, m domain.Marker, rec *domain.Session, reason domain.EndReason) (bool, error) {
	n, err := g.repo.End(ctx, rec.ID, reason, g.clock.Now())
	if err != nil {
		return false, fmt.Errorf("end impersonation: %w", err)
	}
	g.clear(ctx, hostSession)
	if n == 0 {
		return false, nil
	}
	g.audit.Record(ctx, audit.Event{
		TenantID: rec.TenantID,
		UserID:   m.ImpersonatorID,
		Channel:  audit.ChannelSecurity,
		Action:   ActionStopped,
		Fields: map[string]any{
			"impersonation_id": rec.ID,
			"impersonator_id":  rec.ImpersonatorID,
			"target_id":        rec.TargetID,
			"end_reason":       string(reason),
			"duration_seconds": int(g.clock.Now().Sub(rec.StartedAt).Seconds()),
		},
	})
	return true, nil
}

// Info describes the request's live impersonation, or returns nil when there is none.
func (g *Guard) Info(ctx context.Context) (*domain.Info, error) {
	rec, ok, err := g.active(ctx)
	if err != nil || !ok {
		return nil, err
	}
	info := &domain.Info{
		ImpersonationID:  rec.ID,
		ImpersonatorID:   rec.ImpersonatorID,
		TargetID:         rec.TargetID,
		StartedAt:        rec.StartedAt,
		ExpiresAt:        rec.ExpiresAt,
		Reason:           rec.Reason,
		RemainingMinutes: int(math.Ceil(rec.ExpiresAt.Sub(g.clock.Now()).Minutes())),
	}
	info.RemainingMinutes = max(info.RemainingMinutes, 0)
	if u, err := g.users.GetByID(ctx, rec.ImpersonatorID); err != nil {
		log.Printf("impersonation: load impersonator %s: %v", rec.ImpersonatorID, err)
	} else if u != nil {
		info.ImpersonatorEmail, info.ImpersonatorName = u.Email, u.Name
	}
	return info, nil
}

// ForceEndImpersonations closes every open impersonation of targetID, whoever started it. Impersonating
// sessions notice on their next check.
func (g *Guard) ForceEndImpersonations(ctx context.Context, targetID string) (int64, error) {
	n, err := g.repo.EndAllActiveByTarget(ctx, targetID, domain.EndForced, g.clock.Now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		ev := audit.Event{
			Channel: audit.ChannelSecurity,
			Level:   auditdomain.LevelWarning,
			Action:  ActionForceEnded,
			Fields:  map[string]any{"target_id": targetID, "count": n},
		}
		if actorID, ok := interceptors.GetUserID(ctx); ok {
			ev.UserID = actorID
		}
		if tenantID, ok := interceptors.GetTenantID(ctx); ok {
			ev.TenantID = tenantID
		}
		g.audit.Record(ctx, ev)
	}
	return n, nil
}

// actorImpersonating reports whether the host session carries a marker or the actor has an open record.
func (g *Guard) actorImpersonating(ctx context.Context, actorID string) (bool, error) {
	if _, ok, err := g.active(ctx); err != nil || ok {
		return ok, err
	}
	return g.openSession(ctx, func() (*domain.Session, error) { return g.repo.GetActiveByImpersonator(ctx, actorID) })
}

// openSession reports whether get returns an unexpired open session, closing an expired one.
func (g *Guard) openSession(ctx context.Context, get func() (*domain.Session, error)) (bool, error) {
	s, err := get()
	if err != nil || s == nil {
		return false, err
	}
	if s.Expired(g.clock.Now()) {
		if _, err := g.repo.End(ctx, s.ID, domain.EndExpired, g.clock.Now()); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

func (g *Guard) notifyTarget(ctx context.Context, actor, target *userdomain.User, s *domain.Session) {
	err := g.notifier.Notify(ctx, notify.Notification{
		Kind:     notify.KindImpersonationStarted,
		TenantID: target.TenantID,
		UserID:   target.ID,
		Email:    target.Email,
		Subject:  "An administrator is accessing your account",
		Fields: map[string]any{
			"impersonator_id": actor.ID,
			"reason":          s.Reason,
			"expires_at":      s.ExpiresAt,
		},
		CreatedAt: s.StartedAt,
	})
	if err != nil {
		log.Printf("impersonation: notify target %s: %v", target.ID, err)
	}
}

// abort closes a record whose setup failed part way.
func (g *Guard) abort(ctx context.Context, id string) {
	if _, err := g.repo.End(ctx, id, domain.EndStopped, g.clock.Now()); err != nil {
		log.Printf("impersonation: abort %s: %v", id, err)
	}
}

// clear removes the marker and restores the session owner.
func (g *Guard) clear(ctx context.Context, hostSession string) {
	g.deleteMarker(ctx, hostSession)
	if err := g.auth.Restore(ctx); err != nil {
		log.Printf("impersonation: restore session %s: %v", hostSession, err)
	}
}

func (g *Guard) putMarker(ctx context.Context, hostSession string, m domain.Marker, ttl time.Duration) error {
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	ct, err := g.enc.Encrypt(b)
	if err != nil {
		return err
	}
	if err := g.cache.Set(ctx, MarkerKey(hostSession), []byte(ct), ttl); err != nil {
		return fmt.Errorf("store impersonation marker: %w", err)
	}
	return nil
}

// marker loads the host session's marker. An undecryptable marker is discarded.
func (g *Guard) marker(ctx context.Context, hostSession string) (domain.Marker, bool, error) {
	var m domain.Marker
	raw, ok, err := g.cache.Get(ctx, MarkerKey(hostSession))
	if err != nil || !ok {
		return m, false, err
	}
	b, err := g.enc.Decrypt(string(raw))
	if err == nil {
		err = json.Unmarshal(b, &m)
	}
	if err != nil {
		log.Printf("impersonation: discard unreadable marker for session %s: %v", hostSession, err)
		g.clear(ctx, hostSession)
		return m, false, nil
	}
	return m, true, nil
}

func (g *Guard) deleteMarker(ctx context.Context, hostSession string) {
	if err := g.cache.Delete(ctx, MarkerKey(hostSession)); err != nil {
		log.Printf("impersonation: delete marker for session %s: %v", hostSession, err)
	}
}
