package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"tenant-auth-policy/internal/device/domain"
)

type memDeviceRepo struct {
	mu   sync.Mutex
	rows map[string]*domain.Device
}

func newMemDeviceRepo() *memDeviceRepo {
	return &memDeviceRepo{rows: make(map[string]*domain.Device)}
}

func (r *memDeviceRepo) GetActiveByUserAndDeviceID(ctx context.Context, userID, deviceID string) (*domain.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.rows {
		if d.Active && d.UserID == userID && d.DeviceID == deviceID {
			c := *d
			return &c, nil
		}
	}
	return nil, nil
}

func (r *memDeviceRepo) ListActiveByUser(ctx context.Context, userID string) ([]*domain.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Device
	for _, d := range r.rows {
		if d.Active && d.UserID == userID {
			c := *d
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memDeviceRepo) ListByUserAndDeviceIDSeenSince(ctx context.Context, userID, deviceID string, since time.Time) ([]*domain.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Device
	for _, d := range r.rows {
		if d.UserID == userID && d.DeviceID == deviceID && !d.LastSeen().Before(since) {
			c := *d
			out = append(out, &c)
		}
	}
	return out, nil
}

func (r *memDeviceRepo) Create(ctx context.Context, d *domain.Device) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *d
	r.rows[d.ID] = &c
	return nil
}

func (r *memDeviceRepo) UpdateActivity(ctx context.Context, id, sessionID, ip string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.rows[id]
	if !ok {
		return nil
	}
	d.LastUsedAt = &at
	if ip != "" {
		d.LastIP = ip
	}
	if sessionID != "" {
		d.SessionID = sessionID
	}
	return nil
}

func (r *memDeviceRepo) Deactivate(ctx context.Context, ids []string, reason domain.DeactivationReason, at time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, id := range ids {
		if d, ok := r.rows[id]; ok && d.Active {
			d.Active, d.DeactivatedAt, d.DeactivationReason = false, &at, reason
			n++
		}
	}
	return n, nil
}

func (r *memDeviceRepo) DeactivateStale(ctx context.Context, cutoff, at time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, d := range r.rows {
		if d.Active && (d.LastUsedAt == nil || d.LastUsedAt.Before(cutoff)) {
			d.Active, d.DeactivatedAt, d.DeactivationReason = false, &at, domain.ReasonInactivity
			n++
		}
	}
	return n, nil
}

func (r *memDeviceRepo) get(id string) *domain.Device {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.rows[id]; ok {
		c := *d
		return &c
	}
	return nil
}

// recordingTerminator remembers which sessions were terminated.
type recordingTerminator struct {
	mu  sync.Mutex
	ids []string
}

func (t *recordingTerminator) TerminateSession(ctx context.Context, userID, sessionID string) (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ids = append(t.ids, sessionID)
	return 1, nil
}
