// Package notify delivers out-of-band security notifications, such as "an administrator is acting as you"
// or "a request from your account was blocked", to the affected principal.
package notify

import (
	"context"
	"log"
	"time"
)

// Kinds of notification.
const (
	KindImpersonationStarted = "impersonation_started"
	KindBlockedAccess        = "blocked_access"
)

// Notification is a single message for a principal.
type Notification struct {
	Kind      string         `json:"kind"`
	TenantID  string         `json:"tenant_id"`
	UserID    string         `json:"user_id"`
	Email     string         `json:"email,omitempty"`
	Subject   string         `json:"subject"`
	Fields    map[string]any `json:"fields,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Notifier delivers notifications. Callers treat delivery as best-effort.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// LogNotifier writes notifications to the process log and delivers nothing.
type LogNotifier struct{}

// Notify logs n.
func (LogNotifier) Notify(ctx context.Context, n Notification) error {
	log.Printf("notify: %s for user %s (tenant %s): %s", n.Kind, n.UserID, n.TenantID, n.Subject)
	return nil
}
