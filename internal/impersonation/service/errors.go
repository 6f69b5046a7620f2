package service

import (
	"errors"
	"strings"

	"tenant-auth-policy/internal/impersonation/engine"
)

var (
	// ErrNotAuthorized matches every *AuthorizationError.
	ErrNotAuthorized  = errors.New("not authorized to impersonate")
	ErrTargetNotFound = errors.New("impersonation target not found")
)

var reasonMessages = map[string]string{
	engine.ViolationAlreadyImpersonating:      "already impersonating another user",
	engine.ViolationMissingPermission:         "missing impersonation permission",
	engine.ViolationSelf:                      "cannot impersonate yourself",
	engine.ViolationProtectedTarget:           "target role cannot be impersonated",
	engine.ViolationInsufficientPrivilege:     "target has equal or higher privilege",
	engine.ViolationTargetInactive:            "target account is not active",
	engine.ViolationTargetAlreadyImpersonated: "target is already being impersonated",
}

// AuthorizationError reports why an impersonation was refused. Reasons are violation codes in policy order.
type AuthorizationError struct {
	Reasons []string
}

// Reason returns the first, most significant violation.
func (e *AuthorizationError) Reason() string {
	if len(e.Reasons) == 0 {
		return ""
	}
	return e.Reasons[0]
}

func (e *AuthorizationError) Error() string {
	msgs := make([]string, 0, len(e.Reasons))
	for _, r := range e.Reasons {
		if m, ok := reasonMessages[r]; ok {
			msgs = append(msgs, m)
		} else {
			msgs = append(msgs, r)
		}
	}
	return ErrNotAuthorized.Error() + ": " + strings.Join(msgs, "; ")
}

// Is reports whether target is ErrNotAuthorized.
func (e *AuthorizationError) Is(target error) bool {
	return target == ErrNotAuthorized
}
