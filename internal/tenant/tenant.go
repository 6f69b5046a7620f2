// Package tenant defines the explicit tenant scope passed to every tenant-aware policy lookup.
package tenant

import (
	"errors"
	"strings"
)

// ErrNoTenantContext is returned by operations that must write tenant-scoped configuration
// but were called without a tenant in scope. It indicates a programming or deployment error.
var ErrNoTenantContext = errors.New("no tenant context")

// Context identifies the tenant a call is scoped to. The zero value means "no tenant";
// lookups then fall back to system defaults.
type Context struct {
	ID string
}

// New returns a Context for id (trimmed).
func New(id string) Context {
	return Context{ID: strings.TrimSpace(id)}
}

// None is the absent tenant context.
var None = Context{}

// Valid reports whether a tenant is in scope.
func (c Context) Valid() bool {
	return c.ID != ""
}

// Require returns ErrNoTenantContext when no tenant is in scope.
func (c Context) Require() error {
	if !c.Valid() {
		return ErrNoTenantContext
	}
	return nil
}
