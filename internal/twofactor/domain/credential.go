package domain

import "time"

// State is a principal's two-factor lifecycle state.
type State string

const (
	StateNone    State = "no_2fa"
	StatePending State = "pending_setup"
	StateEnabled State = "enabled"
)

// Credential is the stored, still-encrypted two-factor material of a principal.
type Credential struct {
	UserID string
	// SecretCiphertext is the encrypted TOTP seed.
	SecretCiphertext string
	// RecoveryCodesCiphertext is the encrypted JSON array of unused recovery codes.
	RecoveryCodesCiphertext string
	EnabledAt               *time.Time
}

// Enabled reports whether the credential has been confirmed.
func (c *Credential) Enabled() bool {
	return c != nil && c.EnabledAt != nil && c.SecretCiphertext != ""
}

// Setup is returned when a principal starts enrolment. The secret is shown once.
type Setup struct {
	Secret          string `json:"secret"`
	ProvisioningURI string `json:"provisioning_uri"`
}
