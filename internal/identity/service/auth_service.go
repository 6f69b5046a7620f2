package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	devicedomain "tenant-auth-policy/internal/device/domain"
	ipdomain "tenant-auth-policy/internal/ipaccess/domain"
	ppdomain "tenant-auth-policy/internal/passwordpolicy/domain"
	"tenant-auth-policy/internal/platform/request"
	"tenant-auth-policy/internal/security"
	sessiondomain "tenant-auth-policy/internal/session/domain"
	"tenant-auth-policy/internal/tenant"
	tfdomain "tenant-auth-policy/internal/twofactor/domain"
	userdomain "tenant-auth-policy/internal/user/domain"
)

// Sentinel errors for the auth service; transports map them to status codes.
var (
	ErrInvalidCredentials   = errors.New("invalid credentials")
	ErrTwoFactorRequired    = errors.New("two-factor code required")
	ErrInvalidTwoFactorCode = errors.New("invalid two-factor code")
	ErrAddressBlocked       = errors.New("sign-in from this address is not allowed")
)

// PasswordRejectedError lists why a new password failed the tenant policy.
type PasswordRejectedError struct {
	Errors []string
}

func (e *PasswordRejectedError) Error() string {
	return "password rejected: " + strings.Join(e.Errors, "; ")
}

// UserStore is the minimal user repository needed by the auth service.
type UserStore interface {
	GetByEmail(ctx context.Context, tenantID, email string) (*userdomain.User, error)
}

// Passwords checks and records passwords against the tenant policy.
type Passwords interface {
	Validate(ctx context.Context, t tenant.Context, password string, principal userdomain.Principal, override *ppdomain.Policy) (ppdomain.Result, error)
	IsPasswordExpired(ctx context.Context, principal userdomain.Principal) (bool, error)
	RecordPasswordChange(ctx context.Context, principal userdomain.Principal, newHash string) error
	HashPassword(password string) (string, error)
}

// SecondFactor verifies TOTP and recovery codes.
type SecondFactor interface {
	Status(ctx context.Context, p userdomain.Principal) (tfdomain.State, error)
	IsDeviceTrusted(ctx context.Context, p userdomain.Principal, deviceID string) bool
	VerifyCode(ctx context.Context, p userdomain.Principal, code string) (bool, error)
	VerifyRecoveryCode(ctx context.Context, p userdomain.Principal, code string) (bool, error)
	TrustDevice(ctx context.Context, p userdomain.Principal, deviceID string) error
}

// Sessions creates and ends sessions.
type Sessions interface {
	CreateSession(ctx context.Context, p userdomain.Principal, meta request.Meta) (*sessiondomain.Session, string, error)
	TerminateSession(ctx context.Context, userID, sessionID string) (int64, error)
	TerminateOtherSessions(ctx context.Context, userID, exceptID string) (int64, error)
}

// Devices records the device a session signed in from.
type Devices interface {
	RegisterDevice(ctx context.Context, p userdomain.Principal, meta request.Meta, sessionID string) (*devicedomain.Device, error)
}

// AddressFilter decides whether a principal may sign in from an address.
type AddressFilter interface {
	Check(ctx context.Context, t tenant.Context, ip string, p userdomain.Principal) (ipdomain.Decision, error)
	LogBlockedAccess(ctx context.Context, t tenant.Context, ip string, p userdomain.Principal, reason string)
}

// LoginRequest carries the credentials of a sign-in attempt. Code and RecoveryCode are only consulted
// when the principal has two-factor enabled and the device is not trusted.
type LoginRequest struct {
	TenantID     string
	Email        string
	Password     string
	Code         string
	RecoveryCode string
	TrustDevice  bool
}

// LoginResult is a successful sign-in.
type LoginResult struct {
	Token           string
	Session         *sessiondomain.Session
	Device          *devicedomain.Device
	User            *userdomain.User
	PasswordExpired bool
}

// AuthService implements password sign-in with an optional second factor, password change, and logout.
type AuthService struct {
	users     UserStore
	passwords Passwords
	twoFactor SecondFactor
	sessions  Sessions
	devices   Devices
	addresses AddressFilter
	hasher    *security.Hasher
}

// NewAuthService returns an AuthService with the given dependencies. devices and addresses may be nil.
func NewAuthService(
	users UserStore,
	passwords Passwords,
	twoFactor SecondFactor,
	sessions Sessions,
	devices Devices,
	addresses AddressFilter,
	hasher *security.Hasher,
) *AuthService {
	if hasher == nil {
		hasher = security.NewHasher(0)
	}
	return &AuthService{
		users:     users,
		passwords: passwords,
		twoFactor: twoFactor,
		sessions:  sessions,
		devices:   devices,
		addresses: addresses,
		hasher:    hasher,
	}
}

// Login authenticates with email and password within a tenant, applies the principal's IP rules and
// second factor, and creates a session.
func (s *AuthService) Login(ctx context.Context, req LoginRequest, meta request.Meta) (*LoginResult, error) {
	email := strings.TrimSpace(strings.ToLower(req.Email))
	t := tenant.New(req.TenantID)
	if email == "" || req.Password == "" || !t.Valid() {
		return nil, ErrInvalidCredentials
	}
	user, err := s.users.GetByEmail(ctx, t.ID, email)
	if err != nil {
		return nil, err
	}
	if user == nil || !user.IsActive() {
		return nil, ErrInvalidCredentials
	}
	if s.addresses != nil {
		d, err := s.addresses.Check(ctx, t, meta.IP, user)
		if err != nil {
			return nil, fmt.Errorf("ip access check: %w", err)
		}
		if !d.Allowed {
			s.addresses.LogBlockedAccess(ctx, t, meta.IP, user, d.Reason)
			return nil, ErrAddressBlocked
		}
	}
	if user.PasswordHash == "" || !s.hasher.Matches(user.PasswordHash, req.Password) {
		return nil, ErrInvalidCredentials
	}
	if err := s.secondFactor(ctx, user, req, meta); err != nil {
		return nil, err
	}

	sess, token, err := s.sessions.CreateSession(ctx, user, meta)
	if err != nil {
		return nil, err
	}
	res := &LoginResult{Token: token, Session: sess, User: user}
	if s.devices != nil {
		dev, err := s.devices.RegisterDevice(ctx, user, meta, sess.ID)
		if err != nil {
			log.Printf("identity: register device for user %s: %v", user.ID, err)
		}
		res.Device = dev
	}
	expired, err := s.passwords.IsPasswordExpired(ctx, user)
	if err != nil {
		log.Printf("identity: password expiry for user %s: %v", user.ID, err)
	}
	res.PasswordExpired = expired
	return res, nil
}

func (s *AuthService) secondFactor(ctx context.Context, user *userdomain.User, req LoginRequest, meta request.Meta) error {
	if s.twoFactor == nil {
		return nil
	}
	state, err := s.twoFactor.Status(ctx, user)
	if err != nil {
		return err
	}
	if state != tfdomain.StateEnabled {
		return nil
	}
	deviceID := meta.Fingerprint()
	if s.twoFactor.IsDeviceTrusted(ctx, user, deviceID) {
		return nil
	}
	var ok bool
	switch {
	case strings.TrimSpace(req.Code) != "":
		ok, err = s.twoFactor.VerifyCode(ctx, user, req.Code)
	case strings.TrimSpace(req.RecoveryCode) != "":
		ok, err = s.twoFactor.VerifyRecoveryCode(ctx, user, req.RecoveryCode)
	default:
		return ErrTwoFactorRequired
	}
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidTwoFactorCode
	}
	if req.TrustDevice {
		if err := s.twoFactor.TrustDevice(ctx, user, deviceID); err != nil {
			log.Printf("identity: trust device for user %s: %v", user.ID, err)
		}
	}
	return nil
}

// ChangePassword replaces user's password after checking the current one and the tenant policy, then
// ends every other session of the user. keepSessionID is the session making the change.
func (s *AuthService) ChangePassword(ctx context.Context, user *userdomain.User, current, next, keepSessionID string) error {
	if user == nil || !s.hasher.Matches(user.PasswordHash, current) {
		return ErrInvalidCredentials
	}
	res, err := s.passwords.Validate(ctx, tenant.New(user.TenantID), next, user, nil)
	if err != nil {
		return err
	}
	if !res.Valid {
		return &PasswordRejectedError{Errors: res.Errors}
	}
	hash, err := s.passwords.HashPassword(next)
	if err != nil {
		return err
	}
	if err := s.passwords.RecordPasswordChange(ctx, user, hash); err != nil {
		return err
	}
	if _, err := s.sessions.TerminateOtherSessions(ctx, user.ID, keepSessionID); err != nil {
		log.Printf("identity: end other sessions for user %s: %v", user.ID, err)
	}
	return nil
}

// Logout ends the given session of userID.
func (s *AuthService) Logout(ctx context.Context, userID, sessionID string) error {
	if userID == "" || sessionID == "" {
		return ErrUnauthenticated
	}
	_, err := s.sessions.TerminateSession(ctx, userID, sessionID)
	return err
}
