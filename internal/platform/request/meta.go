// Package request carries the read-only request facts that policy components consume:
// client IP, user-agent, and the client-supplied device identifier.
package request

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Meta describes the inbound request as seen by the policy layer.
type Meta struct {
	IP        string
	UserAgent string
	// HeaderDeviceID is the device identifier sent in a request header (x-device-id).
	HeaderDeviceID string
	// BodyDeviceID is the device identifier sent in the request body or query.
	BodyDeviceID string
	// SessionDeviceID is the device identifier remembered from a previous request in the same session.
	SessionDeviceID string
}

// DeviceIdentifier returns the client device identifier, checking header, body,
// and prior session value in that order. Returns "" when none is present.
func (m Meta) DeviceIdentifier() string {
	for _, v := range []string{m.HeaderDeviceID, m.BodyDeviceID, m.SessionDeviceID} {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

// Fingerprint returns DeviceIdentifier, or when the client supplied none, a stable hash derived from the
// user-agent so the same browser maps to the same device row.
func (m Meta) Fingerprint() string {
	if id := m.DeviceIdentifier(); id != "" {
		return id
	}
	h := sha256.Sum256([]byte("ua:" + strings.TrimSpace(m.UserAgent)))
	return "fp_" + hex.EncodeToString(h[:16])
}

type metaKey struct{}

// WithMeta returns a context carrying m.
func WithMeta(ctx context.Context, m Meta) context.Context {
	return context.WithValue(ctx, metaKey{}, m)
}

// FromContext returns the Meta stored in ctx and true, or the zero Meta and false.
func FromContext(ctx context.Context) (Meta, bool) {
	m, ok := ctx.Value(metaKey{}).(Meta)
	return m, ok
}
