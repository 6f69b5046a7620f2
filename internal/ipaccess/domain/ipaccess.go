package domain

import "time"

// Kind says whether a rule allows or denies matching addresses.
type Kind string

const (
	KindAllow Kind = "allow"
	KindDeny  Kind = "deny"
)

// Mode is the tenant-level filtering mode.
type Mode string

const (
	ModeDisabled  Mode = "disabled"
	ModeWhitelist Mode = "whitelist"
	ModeBlacklist Mode = "blacklist"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	switch m {
	case ModeDisabled, ModeWhitelist, ModeBlacklist:
		return true
	}
	return false
}

// Rule is a single tenant allow or deny entry. Pattern is a CIDR block, an inclusive "start-end" range,
// or a literal address.
type Rule struct {
	ID        string     `json:"id"`
	TenantID  string     `json:"tenant_id"`
	Kind      Kind       `json:"kind"`
	Pattern   string     `json:"pattern"`
	Label     string     `json:"label,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Expired reports whether the rule no longer applies at now.
func (r Rule) Expired(now time.Time) bool {
	return r.ExpiresAt != nil && !now.Before(*r.ExpiresAt)
}

// Config is the tenant's ip_access settings section.
type Config struct {
	Mode            Mode `json:"mode"`
	LogBlocked      bool `json:"log_blocked"`
	NotifyOnBlocked bool `json:"notify_on_blocked"`
}

// DefaultConfig leaves filtering off and logs blocked requests once it is turned on.
func DefaultConfig() Config {
	return Config{Mode: ModeDisabled, LogBlocked: true}
}

// UserRestriction is a per-principal allow-list checked before the tenant rules.
type UserRestriction struct {
	UserID     string    `json:"user_id"`
	Enabled    bool      `json:"enabled"`
	AllowedIPs []string  `json:"allowed_ips"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Applies reports whether the restriction constrains requests.
func (r *UserRestriction) Applies() bool {
	return r != nil && r.Enabled && len(r.AllowedIPs) > 0
}

// Decision reasons.
const (
	ReasonFilterDisabled  = "filter_disabled"
	ReasonLocalAddress    = "local_address"
	ReasonUserRestriction = "user_ip_restriction"
	ReasonBlacklisted     = "blacklisted"
	ReasonNotWhitelisted  = "not_whitelisted"
	ReasonAllowed         = "allowed"
	ReasonLookupFailed    = "lookup_failed"
)

// Decision is the outcome of an access check.
type Decision struct {
	Allowed bool
	Reason  string
}
