package service

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"tenant-auth-policy/internal/audit"
	auditdomain "tenant-auth-policy/internal/audit/domain"
	"tenant-auth-policy/internal/cache"
	"tenant-auth-policy/internal/ipaccess/domain"
	"tenant-auth-policy/internal/ipaccess/repository"
	"tenant-auth-policy/internal/notify"
	"tenant-auth-policy/internal/platform/clock"
	"tenant-auth-policy/internal/telemetry"
	"tenant-auth-policy/internal/tenant"
	tsdomain "tenant-auth-policy/internal/tenantsettings/domain"
	userdomain "tenant-auth-policy/internal/user/domain"
)

// CacheTTL bounds how long tenant configuration, rules, and user restrictions are memoized.
const CacheTTL = 5 * time.Minute

// ActionBlocked is the audit action recorded for a rejected request.
const ActionBlocked = "ip_access_blocked"

// Settings reads and writes tenant settings sections.
type Settings interface {
	Load(ctx context.Context, t tenant.Context, section tsdomain.Section, ttl time.Duration, dst any) error
	Put(ctx context.Context, t tenant.Context, section tsdomain.Section, v any) error
}

// Deps are the collaborators of a Filter. Cache may be nil to disable memoization of rules and
// restrictions; Audit and Notifier default to audit.Discard and notify.LogNotifier.
type Deps struct {
	Repo     repository.Repository
	Settings Settings
	Cache    cache.Cache
	Audit    audit.Sink
	Notifier notify.Notifier
	Metrics  *telemetry.Metrics
	Clock    clock.Clock
}

// Filter decides whether a request address may reach a tenant or principal.
type Filter struct {
	repo     repository.Repository
	settings Settings
	cache    cache.Cache
	audit    audit.Sink
	notifier notify.Notifier
	metrics  *telemetry.Metrics
	clock    clock.Clock
}

// NewFilter returns a Filter.
func NewFilter(d Deps) *Filter {
	if d.Audit == nil {
		d.Audit = audit.Discard
	}
	if d.Notifier == nil {
		d.Notifier = notify.LogNotifier{}
	}
	return &Filter{
		repo:     d.Repo,
		settings: d.Settings,
		cache:    d.Cache,
		audit:    d.Audit,
		notifier: d.Notifier,
		metrics:  d.Metrics,
		clock:    clock.OrSystem(d.Clock),
	}
}

// RulesKey is the cache key of a tenant's rule list.
func RulesKey(tenantID string) string { return "ipaccess:rules:" + tenantID }

// RestrictionKey is the cache key of a user's restriction.
func RestrictionKey(userID string) string { return "ipaccess:user:" + userID }

// Config returns the tenant's ip_access section over the defaults. Without a tenant the defaults apply.
func (f *Filter) Config(ctx context.Context, t tenant.Context) (domain.Config, error) {
	cfg := domain.DefaultConfig()
	if f.settings == nil || !t.Valid() {
		return cfg, nil
	}
	if err := f.settings.Load(ctx, t, tsdomain.SectionIPAccess, CacheTTL, &cfg); err != nil {
		return domain.DefaultConfig(), err
	}
	if !cfg.Mode.Valid() {
		cfg.Mode = domain.ModeDisabled
	}
	return cfg, nil
}

// UpdateConfig stores the tenant's mode and flags.
func (f *Filter) UpdateConfig(ctx context.Context, t tenant.Context, cfg domain.Config) error {
	if err := t.Require(); err != nil {
		return err
	}
	if !cfg.Mode.Valid() {
		return fmt.Errorf("ipaccess: unknown mode %q", cfg.Mode)
	}
	return f.settings.Put(ctx, t, tsdomain.SectionIPAccess, cfg)
}

// IsIPAllowed reports whether ip may proceed. principal may be nil for tenant-level checks made before
// authentication.
func (f *Filter) IsIPAllowed(ctx context.Context, t tenant.Context, ip string, principal userdomain.Principal) (bool, error) {
	d, err := f.Check(ctx, t, ip, principal)
	return d.Allowed, err
}

// Check evaluates, in order: a disabled filter allows everything, loopback addresses are allowed, a
// principal's enabled restriction must match, a blacklisted address is denied in any active mode, and
// whitelist mode requires a matching allow rule. Lookup failures deny.
func (f *Filter) Check(ctx context.Context, t tenant.Context, ip string, principal userdomain.Principal) (domain.Decision, error) {
	cfg, err := f.Config(ctx, t)
	if err != nil {
		return domain.Decision{Reason: domain.ReasonLookupFailed}, err
	}
	if cfg.Mode == domain.ModeDisabled {
		return domain.Decision{Allowed: true, Reason: domain.ReasonFilterDisabled}, nil
	}
	if isLocal(ip) {
		return domain.Decision{Allowed: true, Reason: domain.ReasonLocalAddress}, nil
	}
	if principal != nil {
		res, err := f.restriction(ctx, principal.GetID())
		if err != nil {
			return domain.Decision{Reason: domain.ReasonLookupFailed}, err
		}
		if res.Applies() && !matchAny(ip, res.AllowedIPs) {
			return domain.Decision{Reason: domain.ReasonUserRestriction}, nil
		}
	}
	rules, err := f.rules(ctx, t.ID)
	if err != nil {
		return domain.Decision{Reason: domain.ReasonLookupFailed}, err
	}
	now := f.clock.Now()
	if IsIPInList(ip, byKind(rules, domain.KindDeny), now) {
		return domain.Decision{Reason: domain.ReasonBlacklisted}, nil
	}
	if cfg.Mode == domain.ModeWhitelist && !IsIPInList(ip, byKind(rules, domain.KindAllow), now) {
		return domain.Decision{Reason: domain.ReasonNotWhitelisted}, nil
	}
	return domain.Decision{Allowed: true, Reason: domain.ReasonAllowed}, nil
}

// AddToWhitelist validates pattern and stores it as an allow rule, removing it from the blacklist.
// expiresAt may be nil for a permanent rule.
func (f *Filter) AddToWhitelist(ctx context.Context, t tenant.Context, pattern, label string, expiresAt *time.Time) (*domain.Rule, error) {
	return f.addRule(ctx, t, domain.KindAllow, pattern, label, expiresAt)
}

// AddToBlacklist validates pattern and stores it as a deny rule, removing it from the whitelist.
func (f *Filter) AddToBlacklist(ctx context.Context, t tenant.Context, pattern, label string, expiresAt *time.Time) (*domain.Rule, error) {
	return f.addRule(ctx, t, domain.KindDeny, pattern, label, expiresAt)
}

// RemoveFromWhitelist deletes the allow rule for pattern and reports whether one existed.
func (f *Filter) RemoveFromWhitelist(ctx context.Context, t tenant.Context, pattern string) (bool, error) {
	return f.removeRule(ctx, t, domain.KindAllow, pattern)
}

// RemoveFromBlacklist deletes the deny rule for pattern and reports whether one existed.
func (f *Filter) RemoveFromBlacklist(ctx context.Context, t tenant.Context, pattern string) (bool, error) {
	return f.removeRule(ctx, t, domain.KindDeny, pattern)
}

// ListRules returns the tenant's allow and deny rules, expired ones included.
func (f *Filter) ListRules(ctx context.Context, t tenant.Context) (allow, deny []domain.Rule, err error) {
	if err := t.Require(); err != nil {
		return nil, nil, err
	}
	rules, err := f.rules(ctx, t.ID)
	if err != nil {
		return nil, nil, err
	}
	return byKind(rules, domain.KindAllow), byKind(rules, domain.KindDeny), nil
}

// SetUserRestriction replaces the principal's allow-list. Every pattern is validated first.
func (f *Filter) SetUserRestriction(ctx context.Context, userID string, enabled bool, patterns []string) (*domain.UserRestriction, error) {
	clean := make([]string, 0, len(patterns))
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if err := ValidateIPEntry(p); err != nil {
			return nil, err
		}
		clean = append(clean, p)
	}
	res := &domain.UserRestriction{UserID: userID, Enabled: enabled, AllowedIPs: clean, UpdatedAt: f.clock.Now()}
	if err := f.repo.UpsertUserRestriction(ctx, res); err != nil {
		return nil, err
	}
	f.forget(ctx, RestrictionKey(userID))
	return res, nil
}

// LogBlockedAccess records a rejected request. The audit event is written when the tenant logs blocked
// requests; the principal is notified when the tenant asks for it. Failures are logged only.
func (f *Filter) LogBlockedAccess(ctx context.Context, t tenant.Context, ip string, principal userdomain.Principal, reason string) {
	f.metrics.BlockedRequest(ctx, t.ID, reason)
	cfg, err := f.Config(ctx, t)
	if err != nil {
		log.Printf("ipaccess: load config for tenant %s: %v", t.ID, err)
		cfg = domain.DefaultConfig()
	}
	var userID string
	if principal != nil {
		userID = principal.GetID()
	}
	if cfg.LogBlocked {
		f.audit.Record(ctx, audit.Event{
			TenantID: t.ID,
			UserID:   userID,
			Channel:  audit.ChannelSecurity,
			Level:    auditdomain.LevelWarning,
			Action:   ActionBlocked,
			IP:       ip,
			Fields:   map[string]any{"reason": reason, "mode": string(cfg.Mode)},
		})
	}
	if cfg.NotifyOnBlocked && principal != nil {
		err := f.notifier.Notify(ctx, notify.Notification{
			Kind:      notify.KindBlockedAccess,
			TenantID:  t.ID,
			UserID:    userID,
			Email:     principal.GetEmail(),
			Subject:   "A sign-in to your account was blocked",
			Fields:    map[string]any{"ip": ip, "reason": reason},
			CreatedAt: f.clock.Now(),
		})
		if err != nil {
			log.Printf("ipaccess: notify user %s: %v", userID, err)
		}
	}
}

func (f *Filter) addRule(ctx context.Context, t tenant.Context, kind domain.Kind, pattern, label string, expiresAt *time.Time) (*domain.Rule, error) {
	if err := t.Require(); err != nil {
		return nil, err
	}
	pattern = strings.TrimSpace(pattern)
	if err := ValidateIPEntry(pattern); err != nil {
		return nil, err
	}
	rule := &domain.Rule{
		ID:        uuid.New().String(),
		TenantID:  t.ID,
		Kind:      kind,
		Pattern:   pattern,
		Label:     label,
		CreatedAt: f.clock.Now(),
		ExpiresAt: expiresAt,
	}
	if err := f.repo.PutRule(ctx, rule); err != nil {
		return nil, err
	}
	f.forget(ctx, RulesKey(t.ID))
	return rule, nil
}

func (f *Filter) removeRule(ctx context.Context, t tenant.Context, kind domain.Kind, pattern string) (bool, error) {
	if err := t.Require(); err != nil {
		return false, err
	}
	n, err := f.repo.DeleteRule(ctx, t.ID, kind, strings.TrimSpace(pattern))
	if err != nil {
		return false, err
	}
	f.forget(ctx, RulesKey(t.ID))
	return n > 0, nil
}

func (f *Filter) rules(ctx context.Context, tenantID string) ([]domain.Rule, error) {
	key := RulesKey(tenantID)
	if f.cache != nil {
		var cached []domain.Rule
		ok, err := cache.GetJSON(ctx, f.cache, key, &cached)
		if err != nil {
			log.Printf("ipaccess: cache get %s: %v", key, err)
		} else if ok {
			return cached, nil
		}
	}
	rules, err := f.repo.ListRules(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if f.cache != nil {
		if err := cache.SetJSON(ctx, f.cache, key, rules, CacheTTL); err != nil {
			log.Printf("ipaccess: cache set %s: %v", key, err)
		}
	}
	return rules, nil
}

func (f *Filter) restriction(ctx context.Context, userID string) (*domain.UserRestriction, error) {
	if userID == "" {
		return nil, nil
	}
	key := RestrictionKey(userID)
	if f.cache != nil {
		var cached domain.UserRestriction
		ok, err := cache.GetJSON(ctx, f.cache, key, &cached)
		if err != nil {
			log.Printf("ipaccess: cache get %s: %v", key, err)
		} else if ok {
			return &cached, nil
		}
	}
	res, err := f.repo.GetUserRestriction(ctx, userID)
	if err != nil {
		return nil, err
	}
	if res == nil {
		res = &domain.UserRestriction{UserID: userID}
	}
	if f.cache != nil {
		if err := cache.SetJSON(ctx, f.cache, key, res, CacheTTL); err != nil {
			log.Printf("ipaccess: cache set %s: %v", key, err)
		}
	}
	return res, nil
}

func (f *Filter) forget(ctx context.Context, key string) {
	if f.cache == nil {
		return
	}
	if err := f.cache.Delete(ctx, key); err != nil {
		log.Printf("ipaccess: cache delete %s: %v", key, err)
	}
}

func byKind(rules []domain.Rule, kind domain.Kind) []domain.Rule {
	var out []domain.Rule
	for _, r := range rules {
		if r.Kind == kind {
			out = append(out, r)
		}
	}
	return out
}
