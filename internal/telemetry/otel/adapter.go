package otel

import (
	"context"
	"fmt"
	"sort"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"tenant-auth-policy/internal/audit"
	auditdomain "tenant-auth-policy/internal/audit/domain"
)

// recordEmitter is the subset of otellog.Logger the audit emitter needs.
type recordEmitter interface {
	Emit(ctx context.Context, record otellog.Record)
}

// NewAuditEmitter returns an audit.Emitter that sends events as OTel log records via the given LoggerProvider.
// If provider is nil, returns nil so audit.Logger skips emission.
func NewAuditEmitter(provider *sdklog.LoggerProvider) audit.Emitter {
	if provider == nil {
		return nil
	}
	return &auditEmitter{logger: provider.Logger("tap.audit")}
}

// NewAuditEmitterWithLogger is NewAuditEmitter over an arbitrary record sink.
func NewAuditEmitterWithLogger(logger recordEmitter) audit.Emitter {
	return &auditEmitter{logger: logger}
}

type auditEmitter struct {
	logger recordEmitter
}

// Emit converts the audit event to an OTel log record. The body is the action; context goes to attributes.
func (e *auditEmitter) Emit(ctx context.Context, ev audit.Event) {
	rec := otellog.Record{}
	rec.SetTimestamp(time.Now().UTC())
	sev, text := severity(ev.Level)
	rec.SetSeverity(sev)
	rec.SetSeverityText(text)
	rec.SetBody(otellog.StringValue(ev.Action))
	rec.AddAttributes(
		otellog.String("channel", ev.Channel),
		otellog.String("tenant_id", ev.TenantID),
		otellog.String("ip", ev.IP),
	)
	if ev.UserID != "" {
		rec.AddAttributes(otellog.String("user_id", ev.UserID))
	}
	keys := make([]string, 0, len(ev.Fields))
	for k := range ev.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		rec.AddAttributes(keyValue(k, ev.Fields[k]))
	}
	e.logger.Emit(ctx, rec)
}

func severity(level auditdomain.Level) (otellog.Severity, string) {
	switch level {
	case auditdomain.LevelWarning:
		return otellog.SeverityWarn, "WARN"
	default:
		return otellog.SeverityInfo, "INFO"
	}
}

func keyValue(k string, v any) otellog.KeyValue {
	switch tv := v.(type) {
	case string:
		return otellog.String(k, tv)
	case bool:
		return otellog.Bool(k, tv)
	case int:
		return otellog.Int(k, tv)
	case int64:
		return otellog.Int64(k, tv)
	case float64:
		return otellog.Float64(k, tv)
	case time.Time:
		return otellog.String(k, tv.UTC().Format(time.RFC3339))
	case nil:
		return otellog.String(k, "")
	default:
		return otellog.String(k, fmt.Sprint(tv))
	}
}
