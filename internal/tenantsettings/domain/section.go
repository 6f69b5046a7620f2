package domain

import "time"

// Section names a tenant-scoped JSON settings document.
type Section string

const (
	SectionSession        Section = "session"
	SectionPasswordPolicy Section = "password_policy"
	SectionIPAccess       Section = "ip_access"
)

// Record is one stored settings section. ConfigJSON holds only the keys the tenant overrode;
// readers decode it on top of their defaults.
type Record struct {
	TenantID   string
	Section    Section
	ConfigJSON []byte
	UpdatedAt  time.Time
}
