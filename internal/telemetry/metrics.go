// Package telemetry holds the policy layer's metric instruments and the async audit sink.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
)

// Metrics are the counters the policy components update. A nil *Metrics is valid and records nothing.
type Metrics struct {
	blockedRequests       otelmetric.Int64Counter
	evictedSessions       otelmetric.Int64Counter
	expiredSessions       otelmetric.Int64Counter
	prunedDevices         otelmetric.Int64Counter
	impersonationsStarted otelmetric.Int64Counter
}

// NewMetrics creates the instruments on meter.
func NewMetrics(meter otelmetric.Meter) (*Metrics, error) {
	var (
		m   Metrics
		err error
	)
	if m.blockedRequests, err = meter.Int64Counter("tap.ipaccess.blocked",
		otelmetric.WithDescription("Requests denied by the IP access filter")); err != nil {
		return nil, err
	}
	if m.evictedSessions, err = meter.Int64Counter("tap.session.evicted",
		otelmetric.WithDescription("Sessions evicted by the concurrent session limit")); err != nil {
		return nil, err
	}
	if m.expiredSessions, err = meter.Int64Counter("tap.session.expired_cleaned",
		otelmetric.WithDescription("Expired sessions removed by the sweeper")); err != nil {
		return nil, err
	}
	if m.prunedDevices, err = meter.Int64Counter("tap.device.pruned",
		otelmetric.WithDescription("Devices deactivated for inactivity")); err != nil {
		return nil, err
	}
	if m.impersonationsStarted, err = meter.Int64Counter("tap.impersonation.started",
		otelmetric.WithDescription("Impersonation sessions started")); err != nil {
		return nil, err
	}
	return &m, nil
}

// BlockedRequest counts one IP-filter denial.
func (m *Metrics) BlockedRequest(ctx context.Context, tenantID, reason string) {
	if m == nil {
		return
	}
	m.blockedRequests.Add(ctx, 1, otelmetric.WithAttributes(
		attribute.String("tenant_id", tenantID), attribute.String("reason", reason)))
}

// SessionsEvicted counts sessions removed by the session limit.
func (m *Metrics) SessionsEvicted(ctx context.Context, tenantID string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.evictedSessions.Add(ctx, n, otelmetric.WithAttributes(attribute.String("tenant_id", tenantID)))
}

// ExpiredSessionsCleaned counts sessions deleted by the sweep.
func (m *Metrics) ExpiredSessionsCleaned(ctx context.Context, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.expiredSessions.Add(ctx, n)
}

// DevicesPruned counts devices deactivated for inactivity.
func (m *Metrics) DevicesPruned(ctx context.Context, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.prunedDevices.Add(ctx, n)
}

// ImpersonationStarted counts one started impersonation.
func (m *Metrics) ImpersonationStarted(ctx context.Context, tenantID string) {
	if m == nil {
		return
	}
	m.impersonationsStarted.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("tenant_id", tenantID)))
}
