package service

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"tenant-auth-policy/internal/audit"
	"tenant-auth-policy/internal/ipaccess/domain"
	"tenant-auth-policy/internal/notify"
	"tenant-auth-policy/internal/tenant"
	tsdomain "tenant-auth-policy/internal/tenantsettings/domain"
)

type memRepo struct {
	mu           sync.Mutex
	rules        []domain.Rule
	restrictions map[string]domain.UserRestriction
	listCalls    int
}

func newMemRepo() *memRepo {
	return &memRepo{restrictions: make(map[string]domain.UserRestriction)}
}

func (m *memRepo) ListRules(ctx context.Context, tenantID string) ([]domain.Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listCalls++
	var out []domain.Rule
	for _, r := range m.rules {
		if r.TenantID == tenantID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memRepo) PutRule(ctx context.Context, r *domain.Rule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.rules[:0]
	for _, existing := range m.rules {
		if existing.TenantID == r.TenantID && existing.Pattern == r.Pattern {
			if existing.Kind == r.Kind {
				r.ID, r.CreatedAt = existing.ID, existing.CreatedAt
			}
			continue
		}
		kept = append(kept, existing)
	}
	m.rules = append(kept, *r)
	return nil
}

func (m *memRepo) DeleteRule(ctx context.Context, tenantID string, kind domain.Kind, pattern string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	kept := m.rules[:0]
	for _, r := range m.rules {
		if r.TenantID == tenantID && r.Kind == kind && r.Pattern == pattern {
			n++
			continue
		}
		kept = append(kept, r)
	}
	m.rules = kept
	return n, nil
}

func (m *memRepo) GetUserRestriction(ctx context.Context, userID string) (*domain.UserRestriction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.restrictions[userID]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (m *memRepo) UpsertUserRestriction(ctx context.Context, r *domain.UserRestriction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.restrictions[r.UserID] = *r
	return nil
}

func (m *memRepo) kinds(pattern string) []domain.Kind {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Kind
	for _, r := range m.rules {
		if r.Pattern == pattern {
			out = append(out, r.Kind)
		}
	}
	return out
}

type memSettings struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemSettings() *memSettings {
	return &memSettings{data: make(map[string][]byte)}
}

func (s *memSettings) Load(ctx context.Context, t tenant.Context, section tsdomain.Section, ttl time.Duration, dst any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok := s.data[t.ID+"/"+string(section)]
	if !ok {
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

type recordingSink struct {
	mu     sync.Mutex
	events []audit.Event
}

func (s *recordingSink) Record(ctx context.Context, e audit.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notify.Notification
}

func (n *recordingNotifier) Notify(ctx context.Context, msg notify.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
	return nil
}
