package service

import (
	"context"
	"sort"
	"sync"
	"time"

	devicedomain "tenant-auth-policy/internal/device/domain"
	"tenant-auth-policy/internal/session/domain"
)

type memSessionRepo struct {
	mu sync.Mutex
	m  map[string]*domain.Session
}

func newMemSessionRepo() *memSessionRepo {
	return &memSessionRepo{m: make(map[string]*domain.Session)}
}

func (r *memSessionRepo) Create(ctx context.Context, s *domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *s
	r.m[s.ID] = &c
	return nil
}

func (r *memSessionRepo) GetByTokenHash(ctx context.Context, tokenHash string) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.m {
		if s.TokenHash == tokenHash {
			c := *s
			return &c, nil
		}
	}
	return nil, nil
}

func (r *memSessionRepo) active(userID string, now time.Time) []*domain.Session {
	var out []*domain.Session
	for _, s := range r.m {
		if s.UserID == userID && s.ExpiresAt.After(now) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastActiveAt.Before(out[j].LastActiveAt) })
	return out
}

func (r *memSessionRepo) ListActiveByUser(ctx context.Context, userID string, now time.Time) ([]*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active(userID, now), nil
}

func (r *memSessionRepo) CountActiveByUser(ctx context.Context, userID string, now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active(userID, now)), nil
}

func (r *memSessionRepo) DeleteOldestActive(ctx context.Context, userID string, now time.Time, keep int) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.active(userID, now)
	var ids []string
	for i := 0; i < len(list)-keep; i++ {
		delete(r.m, list[i].ID)
		ids = append(ids, list[i].ID)
	}
	return ids, nil
}

func (r *memSessionRepo) Touch(ctx context.Context, id string, lastActiveAt, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.m[id]; ok {
		s.LastActiveAt, s.ExpiresAt = lastActiveAt, expiresAt
	}
	return nil
}

func (r *memSessionRepo) deleteWhere(pred func(*domain.Session) bool) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []string
	for id, s := range r.m {
		if pred(s) {
			delete(r.m, id)
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func (r *memSessionRepo) Delete(ctx context.Context, userID, id string) ([]string, error) {
	return r.deleteWhere(func(s *domain.Session) bool { return s.UserID == userID && s.ID == id }), nil
}

func (r *memSessionRepo) DeleteAllExcept(ctx context.Context, userID, exceptID string) ([]string, error) {
	return r.deleteWhere(func(s *domain.Session) bool { return s.UserID == userID && s.ID != exceptID }), nil
}

func (r *memSessionRepo) DeleteAllByUser(ctx context.Context, userID string) ([]string, error) {
	return r.deleteWhere(func(s *domain.Session) bool { return s.UserID == userID }), nil
}

func (r *memSessionRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	return int64(len(r.deleteWhere(func(s *domain.Session) bool { return !now.Before(s.ExpiresAt) }))), nil
}

func (r *memSessionRepo) get(id string) *domain.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.m[id]
}

// recordingDevices remembers which sessions had their devices deactivated, and why.
type recordingDevices struct {
	mu    sync.Mutex
	ended map[string]devicedomain.DeactivationReason
}

func (d *recordingDevices) DeactivateBySessions(ctx context.Context, userID string, sessionIDs []string, reason devicedomain.DeactivationReason) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ended == nil {
		d.ended = make(map[string]devicedomain.DeactivationReason)
	}
	for _, id := range sessionIDs {
		d.ended[id] = reason
	}
	return int64(len(sessionIDs)), nil
}
