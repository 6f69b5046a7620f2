// Package health reports readiness of the database, cache, and impersonation policy through the standard
// gRPC health service.
package health

import (
	"context"
	"fmt"
	"log"
	"time"

	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Pinger is used for a database readiness check (e.g. *sql.DB).
type Pinger interface {
	PingContext(ctx context.Context) error
}

// PolicyChecker verifies that a policy engine evaluates (e.g. the OPA impersonation evaluator).
type PolicyChecker interface {
	HealthCheck(ctx context.Context) error
}

// CheckFunc is an arbitrary readiness probe (e.g. a Redis PING).
type CheckFunc func(ctx context.Context) error

// Checker aggregates readiness probes. Nil probes are skipped.
type Checker struct {
	DB      Pinger
	Policy  PolicyChecker
	Cache   CheckFunc
	Timeout time.Duration
}

// Check runs every configured probe and returns the first failure.
func (c *Checker) Check(ctx context.Context) error {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if c.DB != nil {
		if err := c.DB.PingContext(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}
	if c.Cache != nil {
		if err := c.Cache(ctx); err != nil {
			return fmt.Errorf("cache: %w", err)
		}
	}
	if c.Policy != nil {
		if err := c.Policy.HealthCheck(ctx); err != nil {
			return fmt.Errorf("policy: %w", err)
		}
	}
	return nil
}

// Update runs Check once and sets the overall serving status of hs.
func (c *Checker) Update(ctx context.Context, hs *health.Server) healthpb.HealthCheckResponse_ServingStatus {
	st := healthpb.HealthCheckResponse_SERVING
	if err := c.Check(ctx); err != nil {
		log.Printf("health: not ready: %v", err)
		st = healthpb.HealthCheckResponse_NOT_SERVING
	}
	hs.SetServingStatus("", st)
	return st
}

// Run calls Update every interval until ctx is done.
func (c *Checker) Run(ctx context.Context, hs *health.Server, interval time.Duration) {
	c.Update(ctx, hs)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Update(ctx, hs)
		}
	}
}
