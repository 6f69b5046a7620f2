package service

import (
	"context"
	"testing"
	"time"

	devicedomain "tenant-auth-policy/internal/device/domain"
	"tenant-auth-policy/internal/platform/clock"
	"tenant-auth-policy/internal/platform/request"
	"tenant-auth-policy/internal/security"
	"tenant-auth-policy/internal/session/domain"
	"tenant-auth-policy/internal/tenant"
	tsdomain "tenant-auth-policy/internal/tenantsettings/domain"
	userdomain "tenant-auth-policy/internal/user/domain"
)

// staticSettings serves one Settings value for every tenant.
type staticSettings struct {
	s domain.Settings
}

func (f staticSettings) Load(ctx context.Context, t tenant.Context, section tsdomain.Section, ttl time.Duration, dst any) error {
	if section == tsdomain.SectionSession && t.Valid() {
		*dst.(*domain.Settings) = f.s
	}
	return nil
}

var testStart = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T, settings domain.Settings) (*Store, *memSessionRepo, *clock.Manual) {
	t.Helper()
	repo := newMemSessionRepo()
	clk := clock.NewManual(testStart)
	return NewStore(repo, staticSettings{s: settings}, domain.Settings{IdleTimeoutMinutes: 120}, clk, nil), repo, clk
}

func testUser() *userdomain.User {
	return &userdomain.User{ID: "user-1", TenantID: "tenant-1", Email: "u@example.com", Status: userdomain.UserStatusActive}
}

const chromeWindows = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

func TestStore_CreateSession(t *testing.T) {
	store, repo, _ := newTestStore(t, domain.Settings{IdleTimeoutMinutes: 30})
	ctx := context.Background()

	sess, token, err := store.CreateSession(ctx, testUser(), request.Meta{IP: "203.0.113.5", UserAgent: chromeWindows, HeaderDeviceID: "dev-1"})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if token == "" || sess.TokenHash == token {
		t.Fatal("token must be returned in plaintext and stored hashed")
	}
	if sess.TokenHash != security.HashToken(token) {
		t.Error("stored hash does not match token")
	}
	if !sess.ExpiresAt.Equal(testStart.Add(30 * time.Minute)) {
		t.Errorf("ExpiresAt = %v, want now+30m", sess.ExpiresAt)
	}
	if sess.DeviceID != "dev-1" || sess.DeviceType != domain.DeviceTypeDesktop || sess.Browser != "Chrome" {
		t.Errorf("session device = %q/%q/%q", sess.DeviceID, sess.DeviceType, sess.Browser)
	}
	if repo.get(sess.ID) == nil {
		t.Error("session not persisted")
	}
}

func TestStore_SessionLimitEvictsOldest(t *testing.T) {
	const limit = 3
	store, _, clk := newTestStore(t, domain.Settings{IdleTimeoutMinutes: 600, MaxConcurrentSessions: limit})
	ctx := context.Background()
	u := testUser()

	var ids []string
	for i := 0; i < 7; i++ {
		clk.Advance(time.Minute)
		sess, _, err := store.CreateSession(ctx, u, request.Meta{})
		if err != nil {
			t.Fatalf("CreateSession #%d: %v", i, err)
		}
		ids = append(ids, sess.ID)
		active, _ := store.ListSessions(ctx, u.ID)
		if len(active) > limit {
			t.Fatalf("after %d creates active = %d, want <= %d", i+1, len(active), limit)
		}
	}
	active, _ := store.ListSessions(ctx, u.ID)
	if len(active) != limit {
		t.Fatalf("active = %d, want %d", len(active), limit)
	}
	for i, s := range active {
		if want := ids[len(ids)-limit+i]; s.ID != want {
			t.Errorf("active[%d] = %s, want %s (newest retained)", i, s.ID, want)
		}
	}
}

func TestStore_SessionLimitUsesLastActivity(t *testing.T) {
	store, _, clk := newTestStore(t, domain.Settings{IdleTimeoutMinutes: 600, MaxConcurrentSessions: 2})
	ctx := context.Background()
	u := testUser()

	first, firstToken, _ := store.CreateSession(ctx, u, request.Meta{})
	clk.Advance(time.Minute)
	second, _, _ := store.CreateSession(ctx, u, request.Meta{})
	clk.Advance(time.Minute)
	if ok, err := store.TouchSession(ctx, firstToken); err != nil || !ok {
		t.Fatalf("TouchSession = %v, %v", ok, err)
	}
	clk.Advance(time.Minute)
	if _, _, err := store.CreateSession(ctx, u, request.Meta{}); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	active, _ := store.ListSessions(ctx, u.ID)
	for _, s := range active {
		if s.ID == second.ID {
			t.Error("least recently active session should have been evicted")
		}
	}
	if len(active) != 2 || active[0].ID != first.ID {
		t.Errorf("active = %v", active)
	}
}

func TestStore_UnlimitedSessions(t *testing.T) {
	store, _, _ := newTestStore(t, domain.Settings{MaxConcurrentSessions: 0})
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if _, _, err := store.CreateSession(ctx, testUser(), request.Meta{}); err != nil {
			t.Fatal(err)
		}
	}
	if n, err := store.EnforceSessionLimit(ctx, tenant.New("tenant-1"), "user-1"); err != nil || n != 0 {
		t.Errorf("EnforceSessionLimit = %d, %v; want 0 with no limit", n, err)
	}
	active, _ := store.ListSessions(ctx, "user-1")
	if len(active) != 5 {
		t.Errorf("active = %d, want 5", len(active))
	}
}

func TestStore_ValidateAndTouch(t *testing.T) {
	store, repo, clk := newTestStore(t, domain.Settings{IdleTimeoutMinutes: 10})
	ctx := context.Background()
	sess, token, _ := store.CreateSession(ctx, testUser(), request.Meta{})

	clk.Advance(8 * time.Minute)
	if ok, err := store.TouchSession(ctx, token); err != nil || !ok {
		t.Fatalf("TouchSession = %v, %v", ok, err)
	}
	got := repo.get(sess.ID)
	if !got.ExpiresAt.Equal(got.LastActiveAt.Add(10 * time.Minute)) {
		t.Errorf("ExpiresAt = %v, want last_active+10m", got.ExpiresAt)
	}

	clk.Advance(9 * time.Minute)
	if v, err := store.ValidateSession(ctx, token); err != nil || v == nil {
		t.Fatalf("ValidateSession after touch = %v, %v", v, err)
	}

	clk.Advance(2 * time.Minute)
	if v, err := store.ValidateSession(ctx, token); err != nil || v != nil {
		t.Errorf("ValidateSession expired = %v, %v; want nil, nil", v, err)
	}
	if ok, err := store.TouchSession(ctx, token); err != nil || ok {
		t.Errorf("TouchSession expired = %v, %v; want false", ok, err)
	}
	if repo.get(sess.ID) == nil {
		t.Error("expired session must not be deleted inline")
	}
}

func TestStore_ValidateUnknownToken(t *testing.T) {
	store, _, _ := newTestStore(t, domain.Settings{})
	for _, tok := range []string{"", "nope"} {
		if v, err := store.ValidateSession(context.Background(), tok); v != nil || err != nil {
			t.Errorf("ValidateSession(%q) = %v, %v", tok, v, err)
		}
	}
}

func TestStore_Terminate(t *testing.T) {
	store, _, _ := newTestStore(t, domain.Settings{})
	ctx := context.Background()
	u := testUser()
	a, _, _ := store.CreateSession(ctx, u, request.Meta{})
	_, _, _ = store.CreateSession(ctx, u, request.Meta{})
	_, _, _ = store.CreateSession(ctx, u, request.Meta{})

	if n, _ := store.TerminateSession(ctx, "someone-else", a.ID); n != 0 {
		t.Errorf("TerminateSession for another principal deleted %d", n)
	}
	if n, _ := store.TerminateOtherSessions(ctx, u.ID, a.ID); n != 2 {
		t.Errorf("TerminateOtherSessions = %d, want 2", n)
	}
	if n, _ := store.TerminateSession(ctx, u.ID, a.ID); n != 1 {
		t.Errorf("TerminateSession = %d, want 1", n)
	}
	if n, _ := store.TerminateAllSessions(ctx, u.ID); n != 0 {
		t.Errorf("TerminateAllSessions = %d, want 0 (idempotent)", n)
	}
}

func TestStore_EvictionDeactivatesLinkedDevices(t *testing.T) {
	store, _, clk := newTestStore(t, domain.Settings{IdleTimeoutMinutes: 600, MaxConcurrentSessions: 2})
	devices := &recordingDevices{}
	store.SetLinkedDevices(devices)
	ctx := context.Background()
	u := testUser()

	first, _, _ := store.CreateSession(ctx, u, request.Meta{})
	clk.Advance(time.Minute)
	second, _, _ := store.CreateSession(ctx, u, request.Meta{})
	clk.Advance(time.Minute)
	if _, _, err := store.CreateSession(ctx, u, request.Meta{}); err != nil {
		t.Fatal(err)
	}

	if got := devices.ended[first.ID]; got != devicedomain.ReasonSuperseded {
		t.Errorf("evicted session device reason = %q, want superseded", got)
	}
	if _, ok := devices.ended[second.ID]; ok {
		t.Error("retained session's device must stay active")
	}
}

func TestStore_TerminationDeactivatesLinkedDevices(t *testing.T) {
	store, _, _ := newTestStore(t, domain.Settings{})
	devices := &recordingDevices{}
	store.SetLinkedDevices(devices)
	ctx := context.Background()
	u := testUser()
	a, _, _ := store.CreateSession(ctx, u, request.Meta{})
	b, _, _ := store.CreateSession(ctx, u, request.Meta{})
	c, _, _ := store.CreateSession(ctx, u, request.Meta{})

	if _, err := store.TerminateOtherSessions(ctx, u.ID, a.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := store.TerminateSession(ctx, u.ID, a.ID); err != nil {
		t.Fatal(err)
	}
	for _, id := range []string{a.ID, b.ID, c.ID} {
		if got := devices.ended[id]; got != devicedomain.ReasonUserTerminated {
			t.Errorf("session %s device reason = %q, want user_terminated", id, got)
		}
	}
}

func TestStore_CleanupExpiredSessions(t *testing.T) {
	store, _, clk := newTestStore(t, domain.Settings{IdleTimeoutMinutes: 5})
	ctx := context.Background()
	_, _, _ = store.CreateSession(ctx, testUser(), request.Meta{})
	clk.Advance(3 * time.Minute)
	_, _, _ = store.CreateSession(ctx, testUser(), request.Meta{})
	clk.Advance(3 * time.Minute)

	n, err := store.CleanupExpiredSessions(ctx)
	if err != nil || n != 1 {
		t.Errorf("CleanupExpiredSessions = %d, %v; want 1", n, err)
	}
}

func TestStore_SettingsFallbackWithoutTenant(t *testing.T) {
	store, _, _ := newTestStore(t, domain.Settings{IdleTimeoutMinutes: 5, MaxConcurrentSessions: 1})
	got := store.Settings(context.Background(), tenant.None)
	if got.IdleTimeoutMinutes != 120 || got.MaxConcurrentSessions != 0 {
		t.Errorf("Settings(None) = %+v, want defaults", got)
	}
}
