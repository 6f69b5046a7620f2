package service

import (
	"context"
	"testing"
	"time"

	"tenant-auth-policy/internal/cache"
	"tenant-auth-policy/internal/device/domain"
	"tenant-auth-policy/internal/platform/clock"
	"tenant-auth-policy/internal/platform/request"
	userdomain "tenant-auth-policy/internal/user/domain"
)

const (
	chromeWindows = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	iphoneSafari  = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1"
)

var testStart = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

type fixture struct {
	reg      *Registry
	repo     *memDeviceRepo
	cache    *cache.MemoryStore
	sessions *recordingTerminator
	clk      *clock.Manual
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	clk := clock.NewManual(testStart)
	f := fixture{repo: newMemDeviceRepo(), cache: cache.NewMemoryStore(clk), sessions: &recordingTerminator{}, clk: clk}
	f.reg = NewRegistry(f.repo, f.sessions, f.cache, clk, nil)
	return f
}

func testUser() *userdomain.User {
	return &userdomain.User{ID: "user-1", TenantID: "tenant-1", Email: "u@example.com", Status: userdomain.UserStatusActive}
}

func TestRegistry_RegisterNewThenKnown(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	meta := request.Meta{IP: "203.0.113.5", UserAgent: chromeWindows, HeaderDeviceID: "dev-1"}

	first, err := f.reg.RegisterDevice(ctx, testUser(), meta, "sess-1")
	if err != nil {
		t.Fatalf("RegisterDevice: %v", err)
	}
	if !first.Active || first.DeviceType != "desktop" || first.Browser != "Chrome" || first.DeviceID != "dev-1" {
		t.Fatalf("unexpected device %+v", first)
	}

	f.clk.Advance(time.Hour)
	meta.IP = "203.0.113.9"
	second, err := f.reg.RegisterDevice(ctx, testUser(), meta, "sess-2")
	if err != nil {
		t.Fatalf("RegisterDevice again: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("known device created a new row: %s vs %s", second.ID, first.ID)
	}
	got := f.repo.get(first.ID)
	if got.LastIP != "203.0.113.9" || got.SessionID != "sess-2" || !got.LastUsedAt.Equal(testStart.Add(time.Hour)) {
		t.Errorf("activity not updated: %+v", got)
	}
	if !f.reg.RecentlyActive(ctx, first.ID) {
		t.Error("activity cache entry missing")
	}
}

func TestRegistry_ClassificationChangeSupersedes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.reg.RegisterDevice(ctx, testUser(), request.Meta{UserAgent: chromeWindows, HeaderDeviceID: "dev-1"}, "")
	if err != nil {
		t.Fatal(err)
	}
	second, err := f.reg.RegisterDevice(ctx, testUser(), request.Meta{UserAgent: iphoneSafari, HeaderDeviceID: "dev-1"}, "")
	if err != nil {
		t.Fatal(err)
	}
	if second.ID == first.ID {
		t.Fatal("classification change must create a new row")
	}
	old := f.repo.get(first.ID)
	if old.Active || old.DeactivationReason != domain.ReasonSuperseded {
		t.Errorf("old row = active %v reason %q, want superseded", old.Active, old.DeactivationReason)
	}
	if second.DeviceType != "mobile" {
		t.Errorf("new row type = %q, want mobile", second.DeviceType)
	}
}

func TestRegistry_FingerprintWithoutIdentifier(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	meta := request.Meta{UserAgent: chromeWindows}

	a, _ := f.reg.RegisterDevice(ctx, testUser(), meta, "")
	b, _ := f.reg.RegisterDevice(ctx, testUser(), meta, "")
	if a.ID != b.ID {
		t.Error("same user-agent without identifier should map to the same device")
	}
}

func TestRegistry_GetActiveSessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := testUser()

	if _, err := f.reg.RegisterDevice(ctx, u, request.Meta{IP: "10.0.0.4", UserAgent: chromeWindows, HeaderDeviceID: "laptop"}, ""); err != nil {
		t.Fatal(err)
	}
	f.clk.Advance(5 * time.Minute)
	if _, err := f.reg.RegisterDevice(ctx, u, request.Meta{IP: "198.51.100.7", UserAgent: iphoneSafari, HeaderDeviceID: "phone"}, ""); err != nil {
		t.Fatal(err)
	}

	views, err := f.reg.GetActiveSessions(ctx, u, request.Meta{HeaderDeviceID: "phone"})
	if err != nil {
		t.Fatalf("GetActiveSessions: %v", err)
	}
	if len(views) != 2 {
		t.Fatalf("got %d views, want 2", len(views))
	}
	byID := map[string]domain.SessionView{}
	for _, v := range views {
		byID[v.Device.DeviceID] = v
	}
	if !byID["phone"].IsCurrent || byID["laptop"].IsCurrent {
		t.Error("current device flag wrong")
	}
	if byID["laptop"].Location != "Local Network" || byID["phone"].Location != "Unknown location" {
		t.Errorf("locations = %q, %q", byID["laptop"].Location, byID["phone"].Location)
	}
	if byID["laptop"].LastUsed != "5 minutes ago" || byID["phone"].LastUsed != "just now" {
		t.Errorf("last used = %q, %q", byID["laptop"].LastUsed, byID["phone"].LastUsed)
	}
	if byID["laptop"].Suspicious || byID["phone"].Suspicious {
		t.Error("no view should be suspicious")
	}
}

func TestRegistry_DeactivateBySessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := testUser()
	laptop, _ := f.reg.RegisterDevice(ctx, u, request.Meta{IP: "198.51.100.1", UserAgent: chromeWindows, HeaderDeviceID: "laptop"}, "sess-a")
	phone, _ := f.reg.RegisterDevice(ctx, u, request.Meta{IP: "198.51.100.2", UserAgent: iphoneSafari, HeaderDeviceID: "phone"}, "sess-b")

	n, err := f.reg.DeactivateBySessions(ctx, u.ID, []string{"sess-a", "gone"}, domain.ReasonSuperseded)
	if err != nil || n != 1 {
		t.Fatalf("DeactivateBySessions = %d, %v; want 1", n, err)
	}
	if got := f.repo.get(laptop.ID); got.Active || got.DeactivationReason != domain.ReasonSuperseded {
		t.Errorf("laptop = %+v, want superseded", got)
	}
	if !f.repo.get(phone.ID).Active {
		t.Error("device of a live session must stay active")
	}
	if len(f.sessions.ids) != 0 {
		t.Errorf("ended sessions terminated again: %v", f.sessions.ids)
	}
	views, _ := f.reg.GetActiveSessions(ctx, u, request.Meta{})
	if len(views) != 1 || views[0].Device.ID != phone.ID {
		t.Errorf("views = %+v, want only the phone", views)
	}
}

func TestRegistry_SuspiciousManyIPs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := testUser()
	var last *domain.Device
	for i, ip := range []string{"198.51.100.1", "198.51.100.2", "198.51.100.3", "198.51.100.4"} {
		d, err := f.reg.RegisterDevice(ctx, u, request.Meta{IP: ip, UserAgent: chromeWindows, HeaderDeviceID: string(rune('a' + i))}, "")
		if err != nil {
			t.Fatal(err)
		}
		last = d
	}
	got, err := f.reg.IsSuspiciousSession(ctx, last, u.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !got {
		t.Error("four distinct IPs within 24h should be suspicious")
	}

	f.clk.Advance(25 * time.Hour)
	got, _ = f.reg.IsSuspiciousSession(ctx, last, u.ID)
	if got {
		t.Error("IPs outside the window should not count")
	}
}

func TestRegistry_SuspiciousTypeChange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := testUser()
	if _, err := f.reg.RegisterDevice(ctx, u, request.Meta{UserAgent: chromeWindows, HeaderDeviceID: "dev-1"}, ""); err != nil {
		t.Fatal(err)
	}
	phone, err := f.reg.RegisterDevice(ctx, u, request.Meta{UserAgent: iphoneSafari, HeaderDeviceID: "dev-1"}, "")
	if err != nil {
		t.Fatal(err)
	}
	got, err := f.reg.IsSuspiciousSession(ctx, phone, u.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !got {
		t.Error("device type change within 7 days should be suspicious")
	}
}

func TestRegistry_SuspiciousTypeChangeOnOldDevice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := testUser()
	desk, err := f.reg.RegisterDevice(ctx, u, request.Meta{UserAgent: chromeWindows, HeaderDeviceID: "dev-1"}, "")
	if err != nil {
		t.Fatal(err)
	}
	f.clk.Advance(10 * 24 * time.Hour)
	if err := f.reg.RecordActivity(ctx, desk, "198.51.100.1"); err != nil {
		t.Fatal(err)
	}
	phone, err := f.reg.RegisterDevice(ctx, u, request.Meta{UserAgent: iphoneSafari, HeaderDeviceID: "dev-1"}, "")
	if err != nil {
		t.Fatal(err)
	}
	got, err := f.reg.IsSuspiciousSession(ctx, phone, u.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !got {
		t.Error("type change of a device created 10 days ago but used today should be suspicious")
	}
}

func TestRegistry_TypeChangeOutsideWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := testUser()
	desk, err := f.reg.RegisterDevice(ctx, u, request.Meta{UserAgent: chromeWindows, HeaderDeviceID: "dev-1"}, "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.reg.TerminateSession(ctx, u.ID, desk.ID, ""); err != nil {
		t.Fatal(err)
	}
	f.clk.Advance(8 * 24 * time.Hour)
	phone, err := f.reg.RegisterDevice(ctx, u, request.Meta{UserAgent: iphoneSafari, HeaderDeviceID: "dev-1"}, "")
	if err != nil {
		t.Fatal(err)
	}
	if got, _ := f.reg.IsSuspiciousSession(ctx, phone, u.ID); got {
		t.Error("type change against a row last seen 8 days ago should not be suspicious")
	}
}

func TestRegistry_Terminate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := testUser()
	a, _ := f.reg.RegisterDevice(ctx, u, request.Meta{UserAgent: chromeWindows, HeaderDeviceID: "a"}, "sess-a")
	b, _ := f.reg.RegisterDevice(ctx, u, request.Meta{UserAgent: chromeWindows, HeaderDeviceID: "b"}, "sess-b")
	c, _ := f.reg.RegisterDevice(ctx, u, request.Meta{UserAgent: chromeWindows, HeaderDeviceID: "c"}, "sess-c")

	n, err := f.reg.TerminateSession(ctx, u.ID, a.ID, "")
	if err != nil || n != 1 {
		t.Fatalf("TerminateSession = %d, %v", n, err)
	}
	if got := f.repo.get(a.ID); got.Active || got.DeactivationReason != domain.ReasonUserTerminated {
		t.Errorf("device a = %+v", got)
	}
	if f.reg.RecentlyActive(ctx, a.ID) {
		t.Error("activity cache entry should be cleared")
	}

	n, err = f.reg.TerminateOtherSessions(ctx, u.ID, c.ID, domain.ReasonAdminForced)
	if err != nil || n != 1 {
		t.Fatalf("TerminateOtherSessions = %d, %v", n, err)
	}
	if got := f.repo.get(b.ID); got.Active || got.DeactivationReason != domain.ReasonAdminForced {
		t.Errorf("device b = %+v", got)
	}
	if !f.repo.get(c.ID).Active {
		t.Error("excepted device should stay active")
	}

	n, _ = f.reg.TerminateAllSessions(ctx, u.ID, "")
	if n != 1 {
		t.Errorf("TerminateAllSessions = %d, want 1", n)
	}
	if want := []string{"sess-a", "sess-b", "sess-c"}; len(f.sessions.ids) != len(want) {
		t.Errorf("linked sessions terminated = %v, want %v", f.sessions.ids, want)
	}
}

func TestRegistry_PruneStaleDevices(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := testUser()
	old, _ := f.reg.RegisterDevice(ctx, u, request.Meta{UserAgent: chromeWindows, HeaderDeviceID: "old"}, "")
	f.clk.Advance(20 * 24 * time.Hour)
	fresh, _ := f.reg.RegisterDevice(ctx, u, request.Meta{UserAgent: chromeWindows, HeaderDeviceID: "fresh"}, "")
	f.clk.Advance(11 * 24 * time.Hour)

	n, err := f.reg.PruneStaleDevices(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("pruned %d, want 1", n)
	}
	if got := f.repo.get(old.ID); got.Active || got.DeactivationReason != domain.ReasonInactivity {
		t.Errorf("old device = %+v", got)
	}
	if !f.repo.get(fresh.ID).Active {
		t.Error("fresh device should stay active")
	}
}

func TestRegistry_RecordActivityExpires(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d, _ := f.reg.RegisterDevice(ctx, testUser(), request.Meta{UserAgent: chromeWindows}, "")
	f.clk.Advance(6 * time.Minute)
	if f.reg.RecentlyActive(ctx, d.ID) {
		t.Fatal("activity entry should expire after 5 minutes")
	}
	if err := f.reg.RecordActivity(ctx, d, "192.0.2.1"); err != nil {
		t.Fatal(err)
	}
	if !f.reg.RecentlyActive(ctx, d.ID) {
		t.Error("RecordActivity should refresh the entry")
	}
	if f.repo.get(d.ID).LastIP != "192.0.2.1" {
		t.Error("RecordActivity should persist the IP")
	}
}

func TestRelativeTime(t *testing.T) {
	now := testStart
	at := func(d time.Duration) *time.Time { v := now.Add(-d); return &v }
	tests := []struct {
		in   *time.Time
		want string
	}{
		{nil, "never"},
		{at(10 * time.Second), "just now"},
		{at(time.Minute), "1 minute ago"},
		{at(3 * time.Hour), "3 hours ago"},
		{at(49 * time.Hour), "2 days ago"},
		{at(15 * 24 * time.Hour), "2 weeks ago"},
		{at(400 * 24 * time.Hour), "1 year ago"},
	}
	for _, tt := range tests {
		if got := relativeTime(tt.in, now); got != tt.want {
			t.Errorf("relativeTime(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLocation(t *testing.T) {
	for ip, want := range map[string]string{
		"127.0.0.1":   "Local Network",
		"192.168.1.4": "Local Network",
		"::1":         "Local Network",
		"8.8.8.8":     "Unknown location",
		"garbage":     "Unknown location",
	} {
		if got := Location(ip); got != want {
			t.Errorf("Location(%q) = %q, want %q", ip, got, want)
		}
	}
}
