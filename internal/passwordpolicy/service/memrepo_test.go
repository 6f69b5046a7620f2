package service

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"tenant-auth-policy/internal/passwordpolicy/domain"
	"tenant-auth-policy/internal/tenant"
	tsdomain "tenant-auth-policy/internal/tenantsettings/domain"
	userdomain "tenant-auth-policy/internal/user/domain"
)

// memSettings stores settings sections as JSON, decoding onto dst like the real store.
type memSettings struct {
	mu    sync.Mutex
	data  map[string][]byte
	loads int
}

func newMemSettings() *memSettings {
	return &memSettings{data: make(map[string][]byte)}
}

func (s *memSettings) Load(ctx context.Context, t tenant.Context, section tsdomain.Section, ttl time.Duration, dst any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loads++
	raw, ok := s.data[t.ID+"/"+string(section)]
	if !ok || !t.Valid() {
		return nil
	}
	return json.Unmarshal(raw, dst)
}

func (s *memSettings) Put(ctx context.Context, t tenant.Context, section tsdomain.Section, v any) error {
	if err := t.Require(); err != nil {
		return err
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[t.ID+"/"+string(section)] = raw
	return nil
}

func (s *memSettings) putRaw(tenantID string, section tsdomain.Section, raw string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[tenantID+"/"+string(section)] = []byte(raw)
}

type memUsers struct {
	mu    sync.Mutex
	users map[string]*userdomain.User
}

func newMemUsers(us ...*userdomain.User) *memUsers {
	m := &memUsers{users: make(map[string]*userdomain.User)}
	for _, u := range us {
		m.users[u.ID] = u
	}
	return m
}

func (m *memUsers) GetByID(ctx context.Context, id string) (*userdomain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, nil
	}
	c := *u
	return &c, nil
}

func (m *memUsers) UpdatePassword(ctx context.Context, userID, passwordHash string, changedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[userID]; ok {
		u.PasswordHash = passwordHash
		u.PasswordChangedAt = &changedAt
	}
	return nil
}

type memHistory struct {
	mu      sync.Mutex
	nextID  int64
	entries []*domain.HistoryEntry
}

func (h *memHistory) List(ctx context.Context, userID string, limit int) ([]*domain.HistoryEntry, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []*domain.HistoryEntry
	for _, e := range h.entries {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if len(out) > limit {
		out = out[:max(limit, 0)]
	}
	return out, nil
}

func (h *memHistory) Add(ctx context.Context, e *domain.HistoryEntry) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	e.ID = h.nextID
	h.entries = append(h.entries, e)
	return nil
}

func (h *memHistory) Trim(ctx context.Context, userID string, keep int) (int64, error) {
	keepIDs := map[int64]bool{}
	newest, _ := h.List(ctx, userID, keep)
	for _, e := range newest {
		keepIDs[e.ID] = true
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	var n int64
	out := h.entries[:0]
	for _, e := range h.entries {
		if e.UserID == userID && !keepIDs[e.ID] {
			n++
			continue
		}
		out = append(out, e)
	}
	h.entries = out
	return n, nil
}

func (h *memHistory) count(userID string) int {
	all, _ := h.List(context.Background(), userID, 1000)
	return len(all)
}
