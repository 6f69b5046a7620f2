package domain

import "time"

// DeactivationReason records why a device row stopped being active.
type DeactivationReason string

const (
	ReasonUserTerminated DeactivationReason = "user_terminated"
	ReasonSuperseded     DeactivationReason = "superseded"
	ReasonInactivity     DeactivationReason = "inactivity"
	ReasonAdminForced    DeactivationReason = "admin_forced"
)

// Device is a known client of a principal. Rows are deactivated, never deleted, so they remain
// available for audit.
type Device struct {
	ID                 string
	UserID             string
	TenantID           string
	DeviceID           string // stable client identifier or derived fingerprint
	SessionID          string // linked session; empty when none
	DeviceType         string
	Browser            string
	Platform           string
	UserAgent          string
	LastIP             string
	LastUsedAt         *time.Time
	Active             bool
	DeactivatedAt      *time.Time
	DeactivationReason DeactivationReason
	CreatedAt          time.Time
}

// LastSeen is the latest moment the row is known to describe the client: its deactivation, else its
// last use, else its creation.
func (d *Device) LastSeen() time.Time {
	switch {
	case d.DeactivatedAt != nil:
		return *d.DeactivatedAt
	case d.LastUsedAt != nil:
		return *d.LastUsedAt
	}
	return d.CreatedAt
}

// SessionView is an active device enriched for display to its owner.
type SessionView struct {
	Device     *Device
	LastUsed   string // relative, e.g. "5 minutes ago"
	IsCurrent  bool
	Location   string
	Suspicious bool
}
