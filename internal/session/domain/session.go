package domain

import "time"

// Device classifications derived from the user-agent.
const (
	DeviceTypeDesktop = "desktop"
	DeviceTypeMobile  = "mobile"
	DeviceTypeTablet  = "tablet"
)

// Session is an authenticated login. Only the SHA-256 hash of the opaque token is stored.
type Session struct {
	ID           string
	UserID       string
	TenantID     string
	TokenHash    string
	DeviceID     string
	DeviceType   string
	Browser      string
	Platform     string
	IPAddress    string
	UserAgent    string
	CreatedAt    time.Time
	LastActiveAt time.Time
	ExpiresAt    time.Time // always LastActiveAt + inactivity timeout
}

// Expired reports whether the session is past its expiry at now.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// DeviceClass is the coarse classification of a client.
type DeviceClass struct {
	Type     string
	Browser  string
	Platform string
}

// Settings is the tenant "session" settings section.
type Settings struct {
	// IdleTimeoutMinutes is the inactivity timeout; each touch extends expiry by this much.
	IdleTimeoutMinutes int `json:"idle_timeout_minutes"`
	// MaxConcurrentSessions caps active sessions per principal. 0 means unlimited.
	MaxConcurrentSessions int `json:"max_concurrent_sessions"`
}

// IdleTimeout returns the inactivity timeout as a duration.
func (s Settings) IdleTimeout() time.Duration {
	return time.Duration(s.IdleTimeoutMinutes) * time.Minute
}
