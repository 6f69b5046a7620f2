// seed inserts development sample data for local testing. Run with go run ./cmd/seed.
// Idempotent: skips inserts if the dev admin (admin@example.com) already exists in the dev tenant.
package main

import (
	"context"
	"log"
	"time"

	"tenant-auth-policy/internal/app"
	"tenant-auth-policy/internal/config"
	ipdomain "tenant-auth-policy/internal/ipaccess/domain"
	ppdomain "tenant-auth-policy/internal/passwordpolicy/domain"
	"tenant-auth-policy/internal/platform/rbac"
	"tenant-auth-policy/internal/tenant"
	sessiondomain "tenant-auth-policy/internal/session/domain"
	tsdomain "tenant-auth-policy/internal/tenantsettings/domain"
	userdomain "tenant-auth-policy/internal/user/domain"
)

const (
	devTenantID = "dev-tenant-001"
	devPassword = "Password123!"
)

var devUsers = []userdomain.User{
	{ID: "dev-user-001", Email: "admin@example.com", Name: "Dev Admin", Roles: []string{rbac.RoleAdmin}, Permissions: []string{rbac.PermissionImpersonateUsers}},
	{ID: "dev-user-002", Email: "manager@example.com", Name: "Dev Manager", Roles: []string{rbac.RoleManager}},
	{ID: "dev-user-003", Email: "employee@example.com", Name: "Dev Employee", Roles: []string{rbac.RoleEmployee}},
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is not set; create a .env from .env.example or set DATABASE_URL")
	}

	ctx := context.Background()
	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalf("seed: %v", err)
	}
	defer a.Close(ctx)

	existing, err := a.Users.GetByEmail(ctx, devTenantID, devUsers[0].Email)
	if err != nil {
		log.Fatalf("seed: lookup: %v", err)
	}
	if existing != nil {
		log.Printf("seed: dev tenant already seeded; skipping")
		return
	}

	t := tenant.New(devTenantID)
	hash, err := a.Passwords.HashPassword(devPassword)
	if err != nil {
		log.Fatalf("seed: hash: %v", err)
	}
	now := time.Now().UTC()
	for i := range devUsers {
		u := devUsers[i]
		u.TenantID = devTenantID
		u.Status = userdomain.UserStatusActive
		u.PasswordHash = hash
		u.CreatedAt, u.UpdatedAt = now, now
		if err := a.Users.Create(ctx, &u); err != nil {
			log.Fatalf("seed: user %s: %v", u.Email, err)
		}
		if err := a.Passwords.RecordPasswordChange(ctx, &u, hash); err != nil {
			log.Fatalf("seed: password history %s: %v", u.Email, err)
		}
	}

	if err := a.Settings.Put(ctx, t, tsdomain.SectionSession, sessiondomain.Settings{IdleTimeoutMinutes: 120, MaxConcurrentSessions: 5}); err != nil {
		log.Fatalf("seed: session settings: %v", err)
	}
	policy := ppdomain.DefaultPolicy()
	policy.ExpiryDays = 90
	if err := a.Passwords.UpdatePolicy(ctx, t, policy); err != nil {
		log.Fatalf("seed: password policy: %v", err)
	}
	// Whitelist mode stays off; the loopback rule is there to toggle it on without locking out localhost clients.
	if err := a.IPAccess.UpdateConfig(ctx, t, ipdomain.DefaultConfig()); err != nil {
		log.Fatalf("seed: ip access config: %v", err)
	}
	if _, err := a.IPAccess.AddToWhitelist(ctx, t, "127.0.0.1", "localhost", nil); err != nil {
		log.Fatalf("seed: whitelist: %v", err)
	}

	log.Printf("seed: tenant %s with %d users (password %q)", devTenantID, len(devUsers), devPassword)
}
