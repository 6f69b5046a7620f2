package domain

import (
	"errors"
	"strings"
	"time"
)

// Principal is an authenticated identity within a tenant. Policy components accept a Principal
// and never probe for capabilities at runtime.
type Principal interface {
	GetID() string
	GetTenantID() string
	GetEmail() string
	GetName() string
	RoleSet() []string
	PermissionSet() []string
	IsActive() bool
}

// User is the persisted principal record.
type User struct {
	ID                string
	TenantID          string
	Email             string
	Name              string
	Roles             []string
	Permissions       []string
	Status            UserStatus
	PasswordHash      string
	PasswordChangedAt *time.Time // nil when the password was never changed after creation
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

type UserStatus string

const (
	UserStatusActive   UserStatus = "active"
	UserStatusDisabled UserStatus = "disabled"
)

func (u *User) GetID() string           { return u.ID }
func (u *User) GetTenantID() string     { return u.TenantID }
func (u *User) GetEmail() string        { return u.Email }
func (u *User) GetName() string         { return u.Name }
func (u *User) RoleSet() []string       { return u.Roles }
func (u *User) PermissionSet() []string { return u.Permissions }

// IsActive reports whether the user may authenticate.
func (u *User) IsActive() bool { return u.Status == UserStatusActive }

// PasswordBaseline is the time password age is measured from: the last change, or account creation.
func (u *User) PasswordBaseline() time.Time {
	if u.PasswordChangedAt != nil {
		return *u.PasswordChangedAt
	}
	return u.CreatedAt
}

// Validate validates the user for persistence. Returns an error describing the first validation failure.
func (u *User) Validate() error {
	if strings.TrimSpace(u.Email) == "" {
		return errors.New("email is required")
	}
	if u.TenantID == "" {
		return errors.New("tenant_id is required")
	}
	if u.Status == "" {
		u.Status = UserStatusActive
	}
	return nil
}
