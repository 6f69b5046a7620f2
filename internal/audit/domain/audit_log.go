package domain

import "time"

// Level is the severity of an audit event.
type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
)

// AuditLog represents a persisted audit event. Metadata is a JSON object of contextual key/values.
type AuditLog struct {
	ID        string
	TenantID  string
	UserID    string
	Channel   string
	Level     Level
	Action    string
	IP        string
	Metadata  []byte
	CreatedAt time.Time
}
