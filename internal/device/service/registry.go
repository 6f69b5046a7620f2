package service

import (
	"context"
	"log"
	"net/netip"
	"time"

	"github.com/google/uuid"

	"tenant-auth-policy/internal/cache"
	"tenant-auth-policy/internal/device/domain"
	"tenant-auth-policy/internal/platform/clock"
	"tenant-auth-policy/internal/platform/request"
	sessionservice "tenant-auth-policy/internal/session/service"
	"tenant-auth-policy/internal/telemetry"
	userdomain "tenant-auth-policy/internal/user/domain"
)

const (
	// DefaultInactiveDays is the idle period after which PruneStaleDevices deactivates a device.
	DefaultInactiveDays = 30

	activityTTL        = 5 * time.Minute
	suspiciousIPWindow = 24 * time.Hour
	suspiciousIPLimit  = 3
	typeChangeWindow   = 7 * 24 * time.Hour
)

// Repository is the device persistence the registry needs.
type Repository interface {
	GetActiveByUserAndDeviceID(ctx context.Context, userID, deviceID string) (*domain.Device, error)
	ListActiveByUser(ctx context.Context, userID string) ([]*domain.Device, error)
	ListByUserAndDeviceIDSeenSince(ctx context.Context, userID, deviceID string, since time.Time) ([]*domain.Device, error)
	Create(ctx context.Context, d *domain.Device) error
	UpdateActivity(ctx context.Context, id, sessionID, ip string, at time.Time) error
	Deactivate(ctx context.Context, ids []string, reason domain.DeactivationReason, at time.Time) (int64, error)
	DeactivateStale(ctx context.Context, cutoff, at time.Time) (int64, error)
}

// SessionTerminator deletes the session linked to a device row.
type SessionTerminator interface {
	TerminateSession(ctx context.Context, userID, sessionID string) (int64, error)
}

// activity is the short-lived cache entry written by RecordActivity.
type activity struct {
	UserID string    `json:"user_id"`
	IP     string    `json:"ip"`
	At     time.Time `json:"at"`
}

// ActivityKey returns the cache key for a device row's recent activity.
func ActivityKey(id string) string {
	return "device:activity:" + id
}

// Registry tracks the known devices of each principal.
type Registry struct {
	repo     Repository
	sessions SessionTerminator
	cache    cache.Cache
	clock    clock.Clock
	metrics  *telemetry.Metrics
}

// NewRegistry returns a Registry. sessions, c, and metrics may be nil.
func NewRegistry(repo Repository, sessions SessionTerminator, c cache.Cache, clk clock.Clock, metrics *telemetry.Metrics) *Registry {
	return &Registry{repo: repo, sessions: sessions, cache: c, clock: clock.OrSystem(clk), metrics: metrics}
}

// RegisterDevice records a login from the request's device. A new identifier creates a row; a known
// identifier with the same classification is updated; a known identifier whose classification changed is
// superseded by a new row.
func (r *Registry) RegisterDevice(ctx context.Context, p userdomain.Principal, meta request.Meta, sessionID string) (*domain.Device, error) {
	now := r.clock.Now()
	deviceID := meta.Fingerprint()
	class := sessionservice.ClassifyUserAgent(meta.UserAgent)

	existing, err := r.repo.GetActiveByUserAndDeviceID(ctx, p.GetID(), deviceID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if existing.DeviceType == class.Type && existing.Browser == class.Browser && existing.Platform == class.Platform {
			if err := r.repo.UpdateActivity(ctx, existing.ID, sessionID, meta.IP, now); err != nil {
				return nil, err
			}
			existing.LastUsedAt = &now
			if meta.IP != "" {
				existing.LastIP = meta.IP
			}
			if sessionID != "" {
				existing.SessionID = sessionID
			}
			r.cacheActivity(ctx, existing, meta.IP, now)
			return existing, nil
		}
		if _, err := r.repo.Deactivate(ctx, []string{existing.ID}, domain.ReasonSuperseded, now); err != nil {
			return nil, err
		}
		r.forgetActivity(ctx, existing.ID)
	}
	d := &domain.Device{
		ID:         uuid.New().String(),
		UserID:     p.GetID(),
		TenantID:   p.GetTenantID(),
		DeviceID:   deviceID,
		SessionID:  sessionID,
		DeviceType: class.Type,
		Browser:    class.Browser,
		Platform:   class.Platform,
		UserAgent:  meta.UserAgent,
		LastIP:     meta.IP,
		LastUsedAt: &now,
		Active:     true,
		CreatedAt:  now,
	}
	if err := r.repo.Create(ctx, d); err != nil {
		return nil, err
	}
	r.cacheActivity(ctx, d, meta.IP, now)
	return d, nil
}

// GetActiveSessions lists the principal's active devices enriched for display. The current device is the
// one matching the request's device identifier.
func (r *Registry) GetActiveSessions(ctx context.Context, p userdomain.Principal, meta request.Meta) ([]domain.SessionView, error) {
	devices, err := r.repo.ListActiveByUser(ctx, p.GetID())
	if err != nil {
		return nil, err
	}
	now := r.clock.Now()
	current := meta.Fingerprint()
	views := make([]domain.SessionView, 0, len(devices))
	for _, d := range devices {
		suspicious, err := r.suspicious(ctx, d, devices, now)
		if err != nil {
			return nil, err
		}
		views = append(views, domain.SessionView{
			Device:     d,
			LastUsed:   relativeTime(d.LastUsedAt, now),
			IsCurrent:  d.DeviceID == current,
			Location:   Location(d.LastIP),
			Suspicious: suspicious,
		})
	}
	return views, nil
}

// IsSuspiciousSession flags d when the principal's active devices used more than three distinct IPs in
// the last 24 hours, or when the same identifier was seen with a different device type within 7 days.
// It is a heuristic; false positives and negatives are expected.
func (r *Registry) IsSuspiciousSession(ctx context.Context, d *domain.Device, userID string) (bool, error) {
	devices, err := r.repo.ListActiveByUser(ctx, userID)
	if err != nil {
		return false, err
	}
	return r.suspicious(ctx, d, devices, r.clock.Now())
}

func (r *Registry) suspicious(ctx context.Context, d *domain.Device, active []*domain.Device, now time.Time) (bool, error) {
	ips := make(map[string]struct{})
	since := now.Add(-suspiciousIPWindow)
	for _, a := range active {
		if a.LastIP == "" || a.LastUsedAt == nil || a.LastUsedAt.Before(since) {
			continue
		}
		ips[a.LastIP] = struct{}{}
	}
	if len(ips) > suspiciousIPLimit {
		return true, nil
	}
	history, err := r.repo.ListByUserAndDeviceIDSeenSince(ctx, d.UserID, d.DeviceID, now.Add(-typeChangeWindow))
	if err != nil {
		return false, err
	}
	for _, h := range history {
		if h.DeviceType != d.DeviceType {
			return true, nil
		}
	}
	return false, nil
}

// TerminateSession deactivates one device of the principal.
func (r *Registry) TerminateSession(ctx context.Context, userID, id string, reason domain.DeactivationReason) (int64, error) {
	return r.terminate(ctx, userID, reason, func(d *domain.Device) bool { return d.ID == id })
}

// TerminateOtherSessions deactivates every device of the principal except exceptID.
func (r *Registry) TerminateOtherSessions(ctx context.Context, userID, exceptID string, reason domain.DeactivationReason) (int64, error) {
	return r.terminate(ctx, userID, reason, func(d *domain.Device) bool { return d.ID != exceptID })
}

// TerminateAllSessions deactivates every device of the principal.
func (r *Registry) TerminateAllSessions(ctx context.Context, userID string, reason domain.DeactivationReason) (int64, error) {
	return r.terminate(ctx, userID, reason, func(*domain.Device) bool { return true })
}

func (r *Registry) terminate(ctx context.Context, userID string, reason domain.DeactivationReason, match func(*domain.Device) bool) (int64, error) {
	if reason == "" {
		reason = domain.ReasonUserTerminated
	}
	devices, err := r.repo.ListActiveByUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	var targets []*domain.Device
	ids := make([]string, 0, len(devices))
	for _, d := range devices {
		if match(d) {
			targets = append(targets, d)
			ids = append(ids, d.ID)
		}
	}
	n, err := r.repo.Deactivate(ctx, ids, reason, r.clock.Now())
	if err != nil {
		return 0, err
	}
	for _, d := range targets {
		r.forgetActivity(ctx, d.ID)
		if r.sessions != nil && d.SessionID != "" {
			if _, err := r.sessions.TerminateSession(ctx, userID, d.SessionID); err != nil {
				log.Printf("device: terminate linked session %s: %v", d.SessionID, err)
			}
		}
	}
	return n, nil
}

// DeactivateBySessions deactivates the principal's active devices linked to sessionIDs. The sessions
// have already ended, so they are not terminated again.
func (r *Registry) DeactivateBySessions(ctx context.Context, userID string, sessionIDs []string, reason domain.DeactivationReason) (int64, error) {
	if len(sessionIDs) == 0 {
		return 0, nil
	}
	ended := make(map[string]struct{}, len(sessionIDs))
	for _, id := range sessionIDs {
		ended[id] = struct{}{}
	}
	devices, err := r.repo.ListActiveByUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	var ids []string
	for _, d := range devices {
		if _, ok := ended[d.SessionID]; ok && d.SessionID != "" {
			ids = append(ids, d.ID)
		}
	}
	n, err := r.repo.Deactivate(ctx, ids, reason, r.clock.Now())
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		r.forgetActivity(ctx, id)
	}
	return n, nil
}

// PruneStaleDevices deactivates devices not used for inactiveDays (DefaultInactiveDays when <= 0),
// including devices never used.
func (r *Registry) PruneStaleDevices(ctx context.Context, inactiveDays int) (int64, error) {
	if inactiveDays <= 0 {
		inactiveDays = DefaultInactiveDays
	}
	now := r.clock.Now()
	n, err := r.repo.DeactivateStale(ctx, now.AddDate(0, 0, -inactiveDays), now)
	if err != nil {
		return 0, err
	}
	r.metrics.DevicesPruned(ctx, n)
	return n, nil
}

// RecordActivity updates the device's last use and refreshes its activity cache entry.
func (r *Registry) RecordActivity(ctx context.Context, d *domain.Device, ip string) error {
	now := r.clock.Now()
	if err := r.repo.UpdateActivity(ctx, d.ID, "", ip, now); err != nil {
		return err
	}
	d.LastUsedAt = &now
	if ip != "" {
		d.LastIP = ip
	}
	r.cacheActivity(ctx, d, ip, now)
	return nil
}

// RecentlyActive reports whether d has a live activity cache entry.
func (r *Registry) RecentlyActive(ctx context.Context, id string) bool {
	if r.cache == nil {
		return false
	}
	var a activity
	ok, err := cache.GetJSON(ctx, r.cache, ActivityKey(id), &a)
	if err != nil {
		log.Printf("device: read activity %s: %v", id, err)
		return false
	}
	return ok
}

func (r *Registry) cacheActivity(ctx context.Context, d *domain.Device, ip string, at time.Time) {
	if r.cache == nil {
		return
	}
	if err := cache.SetJSON(ctx, r.cache, ActivityKey(d.ID), activity{UserID: d.UserID, IP: ip, At: at}, activityTTL); err != nil {
		log.Printf("device: cache activity %s: %v", d.ID, err)
	}
}

func (r *Registry) forgetActivity(ctx context.Context, id string) {
	if r.cache == nil {
		return
	}
	if err := r.cache.Delete(ctx, ActivityKey(id)); err != nil {
		log.Printf("device: clear activity %s: %v", id, err)
	}
}

// Location returns a coarse location for ip: "Local Network" for private and loopback addresses,
// otherwise "Unknown location".
func Location(ip string) string {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return "Unknown location"
	}
	addr = addr.Unmap()
	if addr.IsLoopback() || addr.IsPrivate() || addr.IsLinkLocalUnicast() {
		return "Local Network"
	}
	return "Unknown location"
}
