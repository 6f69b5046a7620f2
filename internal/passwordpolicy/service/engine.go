package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"tenant-auth-policy/internal/passwordpolicy/domain"
	"tenant-auth-policy/internal/platform/clock"
	"tenant-auth-policy/internal/security"
	"tenant-auth-policy/internal/tenant"
	tsdomain "tenant-auth-policy/internal/tenantsettings/domain"
	userdomain "tenant-auth-policy/internal/user/domain"
)

// PolicyTTL is how long a tenant's resolved policy is cached.
const PolicyTTL = time.Hour

// ErrInvalidPolicy is returned by UpdatePolicy when the rule set is out of range.
var ErrInvalidPolicy = errors.New("invalid password policy")

// Settings reads and writes tenant settings sections.
type Settings interface {
	Load(ctx context.Context, t tenant.Context, section tsdomain.Section, ttl time.Duration, dst any) error
	Put(ctx context.Context, t tenant.Context, section tsdomain.Section, v any) error
}

// UserStore loads the credential fields of a principal.
type UserStore interface {
	GetByID(ctx context.Context, id string) (*userdomain.User, error)
	UpdatePassword(ctx context.Context, userID, passwordHash string, changedAt time.Time) error
}

// HistoryRepository persists previously used password hashes.
type HistoryRepository interface {
	List(ctx context.Context, userID string, limit int) ([]*domain.HistoryEntry, error)
	Add(ctx context.Context, e *domain.HistoryEntry) error
	Trim(ctx context.Context, userID string, keep int) (int64, error)
}

// Engine validates passwords against tenant password policies.
type Engine struct {
	settings Settings
	users    UserStore
	history  HistoryRepository
	hasher   *security.Hasher
	clock    clock.Clock
	validate *validator.Validate
}

// NewEngine returns an Engine. A nil hasher uses the default bcrypt cost.
func NewEngine(settings Settings, users UserStore, history HistoryRepository, hasher *security.Hasher, clk clock.Clock) *Engine {
	if hasher == nil {
		hasher = security.NewHasher(0)
	}
	return &Engine{
		settings: settings,
		users:    users,
		history:  history,
		hasher:   hasher,
		clock:    clock.OrSystem(clk),
		validate: validator.New(),
	}
}

// GetPolicy returns the tenant's policy merged over the defaults. Without a tenant, or when the settings
// cannot be read, the defaults are returned.
func (e *Engine) GetPolicy(ctx context.Context, t tenant.Context) domain.Policy {
	p := domain.DefaultPolicy()
	if e.settings == nil || !t.Valid() {
		return p
	}
	if err := e.settings.Load(ctx, t, tsdomain.SectionPasswordPolicy, PolicyTTL, &p); err != nil {
		log.Printf("passwordpolicy: load policy for tenant %s: %v", t.ID, err)
		return domain.DefaultPolicy()
	}
	return p
}

// UpdatePolicy stores p as the tenant's policy. It returns tenant.ErrNoTenantContext without a tenant and
// ErrInvalidPolicy when a field is out of range.
func (e *Engine) UpdatePolicy(ctx context.Context, t tenant.Context, p domain.Policy) error {
	if err := t.Require(); err != nil {
		return err
	}
	if err := e.validate.Struct(p); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPolicy, err)
	}
	return e.settings.Put(ctx, t, tsdomain.SectionPasswordPolicy, p)
}

// Validate checks password against the tenant policy, or override when non-nil. Every rule runs and each
// violated rule contributes one message. principal may be nil, which skips the user-info and history
// checks. The error is non-nil only when the password history could not be read.
func (e *Engine) Validate(ctx context.Context, t tenant.Context, password string, principal userdomain.Principal, override *domain.Policy) (domain.Result, error) {
	policy := e.GetPolicy(ctx, t)
	if override != nil {
		policy = *override
	}

	var errs []string
	n := len([]rune(password))
	if n < policy.MinLength {
		errs = append(errs, fmt.Sprintf("Password must be at least %d characters long", policy.MinLength))
	}
	if policy.MaxLength > 0 && n > policy.MaxLength {
		errs = append(errs, fmt.Sprintf("Password must be at most %d characters long", policy.MaxLength))
	}

	c := classify(password)
	if policy.RequireUppercase && !c.upper {
		errs = append(errs, "Password must contain at least one uppercase letter")
	}
	if policy.RequireLowercase && !c.lower {
		errs = append(errs, "Password must contain at least one lowercase letter")
	}
	if policy.RequireNumbers && !c.digit {
		errs = append(errs, "Password must contain at least one number")
	}
	if policy.RequireSymbols && !c.symbol {
		errs = append(errs, "Password must contain at least one special character")
	}

	if policy.MaxConsecutive > 0 && longestRun(password) > policy.MaxConsecutive {
		errs = append(errs, fmt.Sprintf("Password must not contain more than %d identical characters in a row", policy.MaxConsecutive))
	}
	if policy.BanCommon && IsCommonPassword(password) {
		errs = append(errs, "Password is too common")
	}
	if policy.BanUserInfo && principal != nil && containsUserInfo(password, principal) {
		errs = append(errs, "Password must not contain your name or email")
	}
	if policy.HistoryCount > 0 && principal != nil {
		reused, err := e.reused(ctx, principal.GetID(), password, policy.HistoryCount)
		if err != nil {
			return domain.Result{}, err
		}
		if reused {
			errs = append(errs, fmt.Sprintf("Password must not match any of your last %d passwords", policy.HistoryCount))
		}
	}

	return domain.Result{Valid: len(errs) == 0, Errors: errs, Strength: CalculateStrength(password)}, nil
}

// containsUserInfo reports whether password embeds the email local part or a name token. Tokens of two
// characters or fewer are ignored.
func containsUserInfo(password string, p userdomain.Principal) bool {
	lower := strings.ToLower(password)
	var tokens []string
	if email := strings.ToLower(p.GetEmail()); email != "" {
		local, _, _ := strings.Cut(email, "@")
		tokens = append(tokens, local)
	}
	tokens = append(tokens, strings.Fields(strings.ToLower(p.GetName()))...)
	for _, tok := range tokens {
		if len(tok) > 2 && strings.Contains(lower, tok) {
			return true
		}
	}
	return false
}

// reused compares password to the newest depth history hashes and the live hash.
func (e *Engine) reused(ctx context.Context, userID, password string, depth int) (bool, error) {
	entries, err := e.history.List(ctx, userID, depth)
	if err != nil {
		return false, fmt.Errorf("password history: %w", err)
	}
	for _, h := range entries {
		if e.hasher.Matches(h.PasswordHash, password) {
			return true, nil
		}
	}
	u, err := e.users.GetByID(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("load user: %w", err)
	}
	return u != nil && u.PasswordHash != "" && e.hasher.Matches(u.PasswordHash, password), nil
}

// IsPasswordExpired reports whether the principal's password has outlived the tenant's expiry.
func (e *Engine) IsPasswordExpired(ctx context.Context, principal userdomain.Principal) (bool, error) {
	expiry, ok, err := e.expiresAt(ctx, principal)
	if err != nil || !ok {
		return false, err
	}
	return !e.clock.Now().Before(expiry), nil
}

// DaysUntilExpiry returns the whole days left before the principal's password expires, clamped at 0, or
// nil when passwords never expire.
func (e *Engine) DaysUntilExpiry(ctx context.Context, principal userdomain.Principal) (*int, error) {
	expiry, ok, err := e.expiresAt(ctx, principal)
	if err != nil || !ok {
		return nil, err
	}
	days := int(math.Ceil(expiry.Sub(e.clock.Now()).Hours() / 24))
	days = max(days, 0)
	return &days, nil
}

func (e *Engine) expiresAt(ctx context.Context, principal userdomain.Principal) (time.Time, bool, error) {
	policy := e.GetPolicy(ctx, tenant.New(principal.GetTenantID()))
	if policy.ExpiryDays <= 0 {
		return time.Time{}, false, nil
	}
	u, err := e.users.GetByID(ctx, principal.GetID())
	if err != nil {
		return time.Time{}, false, err
	}
	if u == nil {
		return time.Time{}, false, nil
	}
	return u.PasswordBaseline().AddDate(0, 0, policy.ExpiryDays), true, nil
}

// RecordPasswordChange prepends newHash to the principal's history, trims the history to the policy depth,
// and stamps the password change time.
func (e *Engine) RecordPasswordChange(ctx context.Context, principal userdomain.Principal, newHash string) error {
	now := e.clock.Now()
	policy := e.GetPolicy(ctx, tenant.New(principal.GetTenantID()))
	if err := e.history.Add(ctx, &domain.HistoryEntry{UserID: principal.GetID(), PasswordHash: newHash, CreatedAt: now}); err != nil {
		return fmt.Errorf("add password history: %w", err)
	}
	if _, err := e.history.Trim(ctx, principal.GetID(), policy.HistoryCount); err != nil {
		return fmt.Errorf("trim password history: %w", err)
	}
	return e.users.UpdatePassword(ctx, principal.GetID(), newHash, now)
}

// HashPassword hashes password with the engine's bcrypt hasher.
func (e *Engine) HashPassword(password string) (string, error) {
	return e.hasher.Hash([]byte(password))
}
