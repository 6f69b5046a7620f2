package domain

import "time"

// EndReason records how an impersonation session ended.
type EndReason string

const (
	EndStopped EndReason = "stopped"
	EndExpired EndReason = "expired"
	EndForced  EndReason = "force_ended"
)

// Session is an impersonation record. At most one active session exists per target and per impersonator.
type Session struct {
	ID                 string
	TenantID           string
	ImpersonatorID     string
	TargetID           string
	Reason             string
	IPAddress          string
	UserAgent          string
	StartedAt          time.Time
	ExpiresAt          time.Time
	MaxDurationMinutes int
	EndedAt            *time.Time
	EndReason          EndReason
	// Token is the signed impersonation token. It is returned once and never persisted.
	Token string
}

// Active reports whether the session has not been ended.
func (s *Session) Active() bool {
	return s.EndedAt == nil
}

// Expired reports whether the session's maximum duration has elapsed at now.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Marker is stored, encrypted, against the host session while it impersonates.
type Marker struct {
	ImpersonationID string    `json:"impersonation_id"`
	ImpersonatorID  string    `json:"impersonator_id"`
	TargetID        string    `json:"target_id"`
	Token           string    `json:"token"`
	ExpiresAt       time.Time `json:"expires_at"`
}

// Info describes the current impersonation for display.
type Info struct {
	ImpersonationID   string
	ImpersonatorID    string
	ImpersonatorEmail string
	ImpersonatorName  string
	TargetID          string
	StartedAt         time.Time
	ExpiresAt         time.Time
	Reason            string
	RemainingMinutes  int
}
