package audit

import (
	"context"
	"encoding/json"
	"log"

	"github.com/google/uuid"

	"tenant-auth-policy/internal/audit/domain"
	auditrepo "tenant-auth-policy/internal/audit/repository"
	"tenant-auth-policy/internal/platform/clock"
)

// SentinelTenantID is the tenant_id used for audit events that have no tenant.
const SentinelTenantID = "_system"

// Audit channels.
const (
	// ChannelSecurity is the channel for impersonation and access-control events.
	ChannelSecurity = "security"
	// ChannelRequest is the channel for per-RPC access records.
	ChannelRequest = "request"
)

// IPExtractor returns the client IP from the request context (e.g. gRPC metadata or peer).
type IPExtractor func(context.Context) string

// Event is one leveled audit message with contextual key/values.
type Event struct {
	TenantID string
	UserID   string
	Channel  string
	Level    domain.Level
	Action   string
	IP       string
	Fields   map[string]any
}

// Sink accepts audit events. Record is best-effort: failures never reach the caller.
type Sink interface {
	Record(ctx context.Context, e Event)
}

// Emitter forwards audit events to a log pipeline (see telemetry/otel).
type Emitter interface {
	Emit(ctx context.Context, e Event)
}

// Discard is a Sink that drops every event.
var Discard Sink = discard{}

type discard struct{}

func (discard) Record(context.Context, Event) {}

// Logger implements Sink using the audit repository, an optional log emitter, and an optional IP extractor.
type Logger struct {
	repo        auditrepo.Repository
	emitter     Emitter
	ipExtractor IPExtractor
	clock       clock.Clock
}

// NewLogger returns a Logger. repo and emitter may each be nil; ipExtractor may be nil, then the event IP
// (or "unknown") is recorded.
func NewLogger(repo auditrepo.Repository, emitter Emitter, ipExtractor IPExtractor, clk clock.Clock) *Logger {
	return &Logger{repo: repo, emitter: emitter, ipExtractor: ipExtractor, clock: clock.OrSystem(clk)}
}

// Record persists and emits e. Best-effort: errors are logged and not returned.
func (l *Logger) Record(ctx context.Context, e Event) {
	if e.TenantID == "" {
		e.TenantID = SentinelTenantID
	}
	if e.Level == "" {
		e.Level = domain.LevelInfo
	}
	if e.IP == "" && l.ipExtractor != nil {
		e.IP = l.ipExtractor(ctx)
	}
	if e.IP == "" {
		e.IP = "unknown"
	}
	if l.emitter != nil {
		l.emitter.Emit(ctx, e)
	}
	if l.repo == nil {
		return
	}
	var meta []byte
	if len(e.Fields) > 0 {
		b, err := json.Marshal(e.Fields)
		if err != nil {
			log.Printf("audit: encode metadata for %s: %v", e.Action, err)
		} else {
			meta = b
		}
	}
	entry := &domain.AuditLog{
		ID:        uuid.New().String(),
		TenantID:  e.TenantID,
		UserID:    e.UserID,
		Channel:   e.Channel,
		Level:     e.Level,
		Action:    e.Action,
		IP:        e.IP,
		Metadata:  meta,
		CreatedAt: l.clock.Now(),
	}
	if err := l.repo.Create(ctx, entry); err != nil {
		log.Printf("audit: failed to log event %s/%s: %v", e.Channel, e.Action, err)
	}
}
