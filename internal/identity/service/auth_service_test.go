package service

import (
	"context"
	"errors"
	"testing"

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

type fakePasswords struct {
	result   ppdomain.Result
	expired  bool
	recorded []string
}

func (f *fakePasswords) Validate(ctx context.Context, t tenant.Context, password string, principal userdomain.Principal, override *ppdomain.Policy) (ppdomain.Result, error) {
	return f.result, nil
}

func (f *fakePasswords) IsPasswordExpired(ctx context.Context, principal userdomain.Principal) (bool, error) {
	return f.expired, nil
}

func (f *fakePasswords) RecordPasswordChange(ctx context.Context, principal userdomain.Principal, newHash string) error {
	f.recorded = append(f.recorded, newHash)
	return nil
}

func (f *fakePasswords) HashPassword(password string) (string, error) { return "hashed:" + password, nil }

type fakeTwoFactor struct {
	state    tfdomain.State
	trusted  map[string]bool
	code     string
	recovery string
}

func (f *fakeTwoFactor) Status(ctx context.Context, p userdomain.Principal) (tfdomain.State, error) {
	return f.state, nil
}

func (f *fakeTwoFactor) IsDeviceTrusted(ctx context.Context, p userdomain.Principal, deviceID string) bool {
	return f.trusted[deviceID]
}

func (f *fakeTwoFactor) VerifyCode(ctx context.Context, p userdomain.Principal, code string) (bool, error) {
	return code == f.code, nil
}

func (f *fakeTwoFactor) VerifyRecoveryCode(ctx context.Context, p userdomain.Principal, code string) (bool, error) {
	return code == f.recovery, nil
}

func (f *fakeTwoFactor) TrustDevice(ctx context.Context, p userdomain.Principal, deviceID string) error {
	if f.trusted == nil {
		f.trusted = make(map[string]bool)
	}
	f.trusted[deviceID] = true
	return nil
}

type fakeSessions struct {
	created    int
	terminated []string
	others     []string
}

func (f *fakeSessions) CreateSession(ctx context.Context, p userdomain.Principal, meta request.Meta) (*sessiondomain.Session, string, error) {
	f.created++
	return &sessiondomain.Session{ID: "sess-new", UserID: p.GetID(), TenantID: p.GetTenantID()}, "opaque-token", nil
}

func (f *fakeSessions) TerminateSession(ctx context.Context, userID, sessionID string) (int64, error) {
	f.terminated = append(f.terminated, sessionID)
	return 1, nil
}

func (f *fakeSessions) TerminateOtherSessions(ctx context.Context, userID, exceptID string) (int64, error) {
	f.others = append(f.others, exceptID)
	return 2, nil
}

type fakeDevices struct{ registered []string }

func (f *fakeDevices) RegisterDevice(ctx context.Context, p userdomain.Principal, meta request.Meta, sessionID string) (*devicedomain.Device, error) {
	f.registered = append(f.registered, sessionID)
	return &devicedomain.Device{ID: "dev-1", UserID: p.GetID(), SessionID: sessionID, DeviceID: meta.Fingerprint()}, nil
}

type fakeAddresses struct {
	deny    string
	blocked []string
}

func (f *fakeAddresses) Check(ctx context.Context, t tenant.Context, ip string, p userdomain.Principal) (ipdomain.Decision, error) {
	if ip == f.deny {
		return ipdomain.Decision{Reason: ipdomain.ReasonUserRestriction}, nil
	}
	return ipdomain.Decision{Allowed: true, Reason: ipdomain.ReasonAllowed}, nil
}

func (f *fakeAddresses) LogBlockedAccess(ctx context.Context, t tenant.Context, ip string, p userdomain.Principal, reason string) {
	f.blocked = append(f.blocked, reason)
}

type authFixture struct {
	svc       *AuthService
	user      *userdomain.User
	passwords *fakePasswords
	twoFactor *fakeTwoFactor
	sessions  *fakeSessions
	devices   *fakeDevices
	addresses *fakeAddresses
}

func newAuthFixture(t *testing.T) authFixture {
	t.Helper()
	hasher := security.NewHasher(4)
	hash, err := hasher.Hash([]byte("correct horse"))
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	f := authFixture{
		user:      &userdomain.User{ID: "u1", TenantID: "t1", Email: "ada@example.com", PasswordHash: hash, Status: userdomain.UserStatusActive},
		passwords: &fakePasswords{result: ppdomain.Result{Valid: true}},
		twoFactor: &fakeTwoFactor{state: tfdomain.StateNone, code: "123456", recovery: "ABCDE12345"},
		sessions:  &fakeSessions{},
		devices:   &fakeDevices{},
		addresses: &fakeAddresses{deny: "203.0.113.66"},
	}
	f.svc = NewAuthService(memUsers{"u1": f.user}, f.passwords, f.twoFactor, f.sessions, f.devices, f.addresses, hasher)
	return f
}

var loginMeta = request.Meta{IP: "198.51.100.4", UserAgent: "Mozilla/5.0", HeaderDeviceID: "device-a"}

func TestLogin_Success(t *testing.T) {
	f := newAuthFixture(t)
	f.passwords.expired = true
	res, err := f.svc.Login(context.Background(), LoginRequest{TenantID: "t1", Email: " ADA@example.com ", Password: "correct horse"}, loginMeta)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if res.Token != "opaque-token" || res.Session.ID != "sess-new" || res.Device == nil || res.Device.SessionID != "sess-new" {
		t.Errorf("result = %+v", res)
	}
	if !res.PasswordExpired {
		t.Error("PasswordExpired not reported")
	}
}

func TestLogin_InvalidCredentials(t *testing.T) {
	f := newAuthFixture(t)
	cases := []LoginRequest{
		{TenantID: "t1", Email: "ada@example.com", Password: "wrong"},
		{TenantID: "t1", Email: "nobody@example.com", Password: "correct horse"},
		{TenantID: "t2", Email: "ada@example.com", Password: "correct horse"},
		{TenantID: "", Email: "ada@example.com", Password: "correct horse"},
		{TenantID: "t1", Email: "", Password: "correct horse"},
	}
	for _, req := range cases {
		if _, err := f.svc.Login(context.Background(), req, loginMeta); !errors.Is(err, ErrInvalidCredentials) {
			t.Errorf("Login(%+v) err = %v, want ErrInvalidCredentials", req, err)
		}
	}
	f.user.Status = userdomain.UserStatusDisabled
	if _, err := f.svc.Login(context.Background(), LoginRequest{TenantID: "t1", Email: "ada@example.com", Password: "correct horse"}, loginMeta); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("disabled user err = %v", err)
	}
	if f.sessions.created != 0 {
		t.Errorf("sessions created = %d, want 0", f.sessions.created)
	}
}

func TestLogin_BlockedAddress(t *testing.T) {
	f := newAuthFixture(t)
	meta := loginMeta
	meta.IP = "203.0.113.66"
	_, err := f.svc.Login(context.Background(), LoginRequest{TenantID: "t1", Email: "ada@example.com", Password: "correct horse"}, meta)
	if !errors.Is(err, ErrAddressBlocked) {
		t.Fatalf("err = %v, want ErrAddressBlocked", err)
	}
	if len(f.addresses.blocked) != 1 || f.addresses.blocked[0] != ipdomain.ReasonUserRestriction {
		t.Errorf("blocked = %v", f.addresses.blocked)
	}
}

func TestLogin_SecondFactor(t *testing.T) {
	ctx := context.Background()
	f := newAuthFixture(t)
	f.twoFactor.state = tfdomain.StateEnabled
	base := LoginRequest{TenantID: "t1", Email: "ada@example.com", Password: "correct horse"}

	if _, err := f.svc.Login(ctx, base, loginMeta); !errors.Is(err, ErrTwoFactorRequired) {
		t.Fatalf("no code err = %v, want ErrTwoFactorRequired", err)
	}
	bad := base
	bad.Code = "000000"
	if _, err := f.svc.Login(ctx, bad, loginMeta); !errors.Is(err, ErrInvalidTwoFactorCode) {
		t.Fatalf("bad code err = %v, want ErrInvalidTwoFactorCode", err)
	}
	recovery := base
	recovery.RecoveryCode = "ABCDE12345"
	if _, err := f.svc.Login(ctx, recovery, loginMeta); err != nil {
		t.Fatalf("recovery code: %v", err)
	}
	good := base
	good.Code = "123456"
	good.TrustDevice = true
	if _, err := f.svc.Login(ctx, good, loginMeta); err != nil {
		t.Fatalf("good code: %v", err)
	}
	if _, err := f.svc.Login(ctx, base, loginMeta); err != nil {
		t.Errorf("trusted device still asked for a code: %v", err)
	}
	other := loginMeta
	other.HeaderDeviceID = "device-b"
	if _, err := f.svc.Login(ctx, base, other); !errors.Is(err, ErrTwoFactorRequired) {
		t.Errorf("untrusted device err = %v, want ErrTwoFactorRequired", err)
	}
}

func TestChangePassword(t *testing.T) {
	ctx := context.Background()
	f := newAuthFixture(t)

	if err := f.svc.ChangePassword(ctx, f.user, "wrong", "NewPassw0rd", "sess-1"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("wrong current err = %v", err)
	}

	f.passwords.result = ppdomain.Result{Valid: false, Errors: []string{"too short"}}
	err := f.svc.ChangePassword(ctx, f.user, "correct horse", "x", "sess-1")
	var rejected *PasswordRejectedError
	if !errors.As(err, &rejected) || len(rejected.Errors) != 1 {
		t.Fatalf("policy failure err = %v", err)
	}

	f.passwords.result = ppdomain.Result{Valid: true}
	if err := f.svc.ChangePassword(ctx, f.user, "correct horse", "NewPassw0rd", "sess-1"); err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}
	if len(f.passwords.recorded) != 1 || f.passwords.recorded[0] != "hashed:NewPassw0rd" {
		t.Errorf("recorded = %v", f.passwords.recorded)
	}
	if len(f.sessions.others) != 1 || f.sessions.others[0] != "sess-1" {
		t.Errorf("other sessions ended except %v", f.sessions.others)
	}
}

func TestLogout(t *testing.T) {
	f := newAuthFixture(t)
	if err := f.svc.Logout(context.Background(), "u1", "sess-1"); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if len(f.sessions.terminated) != 1 || f.sessions.terminated[0] != "sess-1" {
		t.Errorf("terminated = %v", f.sessions.terminated)
	}
	if err := f.svc.Logout(context.Background(), "", ""); !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("empty logout err = %v", err)
	}
}
