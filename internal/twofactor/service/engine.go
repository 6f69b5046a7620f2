package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"tenant-auth-policy/internal/cache"
	"tenant-auth-policy/internal/platform/clock"
	"tenant-auth-policy/internal/security"
	"tenant-auth-policy/internal/twofactor/domain"
	userdomain "tenant-auth-policy/internal/user/domain"
)

const (
	// PendingTTL bounds how long an unconfirmed secret waits for its first code.
	PendingTTL = 10 * time.Minute
	// DefaultTrustedDeviceTTL is how long a trusted device skips the second factor.
	DefaultTrustedDeviceTTL = 30 * 24 * time.Hour

	totpPeriod = 30
	totpSkew   = 1
)

var (
	ErrNoPendingSetup = errors.New("no pending two-factor setup")
	ErrInvalidCode    = errors.New("invalid two-factor code")
	ErrNotEnabled     = errors.New("two-factor authentication is not enabled")
)

// Repository persists confirmed credentials.
type Repository interface {
	Get(ctx context.Context, userID string) (*domain.Credential, error)
	Save(ctx context.Context, c *domain.Credential) error
	UpdateRecoveryCodes(ctx context.Context, userID, ciphertext string) error
	Clear(ctx context.Context, userID string) error
}

// Options configures an Engine.
type Options struct {
	// Issuer is the label shown by authenticator apps.
	Issuer string
	// TrustedDeviceTTL defaults to DefaultTrustedDeviceTTL.
	TrustedDeviceTTL time.Duration
}

// Engine implements TOTP enrolment and verification, recovery codes, and trusted devices.
type Engine struct {
	repo       Repository
	cache      cache.Cache
	enc        security.Encryptor
	clock      clock.Clock
	issuer     string
	trustedTTL time.Duration
}

// NewEngine returns an Engine.
func NewEngine(repo Repository, c cache.Cache, enc security.Encryptor, clk clock.Clock, opts Options) *Engine {
	if opts.Issuer == "" {
		opts.Issuer = "tenant-auth-policy"
	}
	if opts.TrustedDeviceTTL <= 0 {
		opts.TrustedDeviceTTL = DefaultTrustedDeviceTTL
	}
	return &Engine{repo: repo, cache: c, enc: enc, clock: clock.OrSystem(clk), issuer: opts.Issuer, trustedTTL: opts.TrustedDeviceTTL}
}

func pendingKey(userID string) string { return "2fa:pending:" + userID }

func trustedKey(userID, deviceID string) string { return "2fa:trusted:" + userID + ":" + deviceID }

func trustedIndexKey(userID string) string { return "2fa:trusted-index:" + userID }

func validateOpts() totp.ValidateOpts {
	return totp.ValidateOpts{Period: totpPeriod, Skew: totpSkew, Digits: otp.DigitsSix, Algorithm: otp.AlgorithmSHA1}
}

func (e *Engine) checkCode(code, secret string) bool {
	ok, err := totp.ValidateCustom(code, secret, e.clock.Now(), validateOpts())
	return err == nil && ok
}

// GenerateSecret starts enrolment: a new secret is stored encrypted as pending, replacing any earlier one.
func (e *Engine) GenerateSecret(ctx context.Context, p userdomain.Principal) (*domain.Setup, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      e.issuer,
		AccountName: p.GetEmail(),
		Period:      totpPeriod,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, fmt.Errorf("generate secret: %w", err)
	}
	ct, err := e.enc.Encrypt([]byte(key.Secret()))
	if err != nil {
		return nil, err
	}
	if err := e.cache.Set(ctx, pendingKey(p.GetID()), []byte(ct), PendingTTL); err != nil {
		return nil, fmt.Errorf("store pending secret: %w", err)
	}
	return &domain.Setup{Secret: key.Secret(), ProvisioningURI: key.URL()}, nil
}

func (e *Engine) pendingSecret(ctx context.Context, userID string) (string, bool, error) {
	raw, ok, err := e.cache.Get(ctx, pendingKey(userID))
	if err != nil || !ok {
		return "", false, err
	}
	secret, err := e.enc.Decrypt(string(raw))
	if err != nil {
		log.Printf("twofactor: decrypt pending secret for %s: %v", userID, err)
		return "", false, nil
	}
	return string(secret), true, nil
}

// VerifyPendingCode checks code against the pending secret without consuming it.
func (e *Engine) VerifyPendingCode(ctx context.Context, p userdomain.Principal, code string) (bool, error) {
	secret, ok, err := e.pendingSecret(ctx, p.GetID())
	if err != nil || !ok {
		return false, err
	}
	return e.checkCode(code, secret), nil
}

// Enable promotes the pending secret once code verifies against it and returns fresh recovery codes.
func (e *Engine) Enable(ctx context.Context, p userdomain.Principal, code string) ([]string, error) {
	secret, ok, err := e.pendingSecret(ctx, p.GetID())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNoPendingSetup
	}
	if !e.checkCode(code, secret) {
		return nil, ErrInvalidCode
	}
	codes, err := generateRecoveryCodes()
	if err != nil {
		return nil, err
	}
	secretCT, err := e.enc.Encrypt([]byte(secret))
	if err != nil {
		return nil, err
	}
	codesCT, err := e.encryptCodes(codes)
	if err != nil {
		return nil, err
	}
	now := e.clock.Now()
	if err := e.repo.Save(ctx, &domain.Credential{
		UserID:                  p.GetID(),
		SecretCiphertext:        secretCT,
		RecoveryCodesCiphertext: codesCT,
		EnabledAt:               &now,
	}); err != nil {
		return nil, fmt.Errorf("save credential: %w", err)
	}
	if err := e.cache.Delete(ctx, pendingKey(p.GetID())); err != nil {
		log.Printf("twofactor: clear pending secret for %s: %v", p.GetID(), err)
	}
	return codes, nil
}

func (e *Engine) enabledCredential(ctx context.Context, userID string) (*domain.Credential, error) {
	c, err := e.repo.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !c.Enabled() {
		return nil, ErrNotEnabled
	}
	return c, nil
}

// VerifyCode checks code against the principal's confirmed secret. It returns false without error when
// two-factor authentication is not enabled or the stored secret cannot be decrypted.
func (e *Engine) VerifyCode(ctx context.Context, p userdomain.Principal, code string) (bool, error) {
	c, err := e.enabledCredential(ctx, p.GetID())
	if errors.Is(err, ErrNotEnabled) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	secret, err := e.enc.Decrypt(c.SecretCiphertext)
	if err != nil {
		log.Printf("twofactor: decrypt secret for %s: %v", p.GetID(), err)
		return false, nil
	}
	return e.checkCode(code, string(secret)), nil
}

// VerifyRecoveryCode consumes code when it is one of the principal's unused recovery codes. Matching
// ignores surrounding whitespace and case.
func (e *Engine) VerifyRecoveryCode(ctx context.Context, p userdomain.Principal, code string) (bool, error) {
	c, err := e.enabledCredential(ctx, p.GetID())
	if errors.Is(err, ErrNotEnabled) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	codes, err := e.decryptCodes(c.RecoveryCodesCiphertext)
	if err != nil {
		log.Printf("twofactor: decrypt recovery codes for %s: %v", p.GetID(), err)
		return false, nil
	}
	i := matchRecoveryCode(codes, code)
	if i < 0 {
		return false, nil
	}
	codes = append(codes[:i], codes[i+1:]...)
	ct, err := e.encryptCodes(codes)
	if err != nil {
		return false, err
	}
	if err := e.repo.UpdateRecoveryCodes(ctx, p.GetID(), ct); err != nil {
		return false, fmt.Errorf("consume recovery code: %w", err)
	}
	return true, nil
}

// RegenerateRecoveryCodes replaces every recovery code of an enrolled principal.
func (e *Engine) RegenerateRecoveryCodes(ctx context.Context, p userdomain.Principal) ([]string, error) {
	if _, err := e.enabledCredential(ctx, p.GetID()); err != nil {
		return nil, err
	}
	codes, err := generateRecoveryCodes()
	if err != nil {
		return nil, err
	}
	ct, err := e.encryptCodes(codes)
	if err != nil {
		return nil, err
	}
	if err := e.repo.UpdateRecoveryCodes(ctx, p.GetID(), ct); err != nil {
		return nil, err
	}
	return codes, nil
}

// RemainingRecoveryCodes returns how many unused recovery codes the principal has.
func (e *Engine) RemainingRecoveryCodes(ctx context.Context, p userdomain.Principal) (int, error) {
	c, err := e.enabledCredential(ctx, p.GetID())
	if err != nil {
		return 0, err
	}
	codes, err := e.decryptCodes(c.RecoveryCodesCiphertext)
	if err != nil {
		log.Printf("twofactor: decrypt recovery codes for %s: %v", p.GetID(), err)
		return 0, nil
	}
	return len(codes), nil
}

// TrustDevice lets deviceID skip the second factor for the trusted-device TTL.
func (e *Engine) TrustDevice(ctx context.Context, p userdomain.Principal, deviceID string) error {
	if deviceID == "" {
		return nil
	}
	until := e.clock.Now().Add(e.trustedTTL)
	if err := cache.SetJSON(ctx, e.cache, trustedKey(p.GetID(), deviceID), until, e.trustedTTL); err != nil {
		return fmt.Errorf("trust device: %w", err)
	}
	var index []string
	if _, err := cache.GetJSON(ctx, e.cache, trustedIndexKey(p.GetID()), &index); err != nil {
		return err
	}
	for _, id := range index {
		if id == deviceID {
			return cache.SetJSON(ctx, e.cache, trustedIndexKey(p.GetID()), index, e.trustedTTL)
		}
	}
	return cache.SetJSON(ctx, e.cache, trustedIndexKey(p.GetID()), append(index, deviceID), e.trustedTTL)
}

// IsDeviceTrusted reports whether deviceID has a live trusted-device entry. Cache errors read as untrusted.
func (e *Engine) IsDeviceTrusted(ctx context.Context, p userdomain.Principal, deviceID string) bool {
	if deviceID == "" {
		return false
	}
	_, ok, err := e.cache.Get(ctx, trustedKey(p.GetID(), deviceID))
	if err != nil {
		log.Printf("twofactor: read trusted device for %s: %v", p.GetID(), err)
		return false
	}
	return ok
}

// Disable erases the principal's credential and pending setup and revokes every trusted device.
func (e *Engine) Disable(ctx context.Context, p userdomain.Principal) error {
	if err := e.repo.Clear(ctx, p.GetID()); err != nil {
		return fmt.Errorf("clear credential: %w", err)
	}
	keys := []string{pendingKey(p.GetID()), trustedIndexKey(p.GetID())}
	var index []string
	if _, err := cache.GetJSON(ctx, e.cache, trustedIndexKey(p.GetID()), &index); err != nil {
		log.Printf("twofactor: read trusted index for %s: %v", p.GetID(), err)
	}
	for _, id := range index {
		keys = append(keys, trustedKey(p.GetID(), id))
	}
	return e.cache.Delete(ctx, keys...)
}

// Status reports where the principal is in the enrolment lifecycle.
func (e *Engine) Status(ctx context.Context, p userdomain.Principal) (domain.State, error) {
	c, err := e.repo.Get(ctx, p.GetID())
	if err != nil {
		return "", err
	}
	if c.Enabled() {
		return domain.StateEnabled, nil
	}
	_, ok, err := e.cache.Get(ctx, pendingKey(p.GetID()))
	if err != nil {
		return "", err
	}
	if ok {
		return domain.StatePending, nil
	}
	return domain.StateNone, nil
}

func (e *Engine) encryptCodes(codes []string) (string, error) {
	b, err := json.Marshal(codes)
	if err != nil {
		return "", err
	}
	return e.enc.Encrypt(b)
}

func (e *Engine) decryptCodes(ct string) ([]string, error) {
	if ct == "" {
		return nil, nil
	}
	b, err := e.enc.Decrypt(ct)
	if err != nil {
		return nil, err
	}
	var codes []string
	if err := json.Unmarshal(b, &codes); err != nil {
		return nil, err
	}
	return codes, nil
}
