package engine

import "context"

// Violation codes produced by the impersonation policy.
const (
	ViolationAlreadyImpersonating      = "already_impersonating"
	ViolationMissingPermission         = "missing_permission"
	ViolationSelf                      = "self"
	ViolationProtectedTarget           = "protected_target"
	ViolationInsufficientPrivilege     = "insufficient_privilege"
	ViolationTargetInactive            = "target_inactive"
	ViolationTargetAlreadyImpersonated = "target_already_impersonated"
)

// Actor is the principal asking to impersonate.
type Actor struct {
	ID            string   `json:"id"`
	Roles         []string `json:"roles"`
	Permissions   []string `json:"permissions"`
	Priority      int      `json:"priority"`
	Impersonating bool     `json:"impersonating"`
}

// Target is the principal to be impersonated.
type Target struct {
	ID           string   `json:"id"`
	Roles        []string `json:"roles"`
	Priority     int      `json:"priority"`
	Protected    bool     `json:"protected"`
	Active       bool     `json:"active"`
	Impersonated bool     `json:"impersonated"`
}

// Input is the document the policy evaluates.
type Input struct {
	Actor  Actor  `json:"actor"`
	Target Target `json:"target"`
}

// Evaluator decides whether an impersonation may start.
type Evaluator interface {
	// Violations returns the codes of every rule the input breaks, in policy order. Empty means allowed.
	Violations(ctx context.Context, in Input) ([]string, error)
}
