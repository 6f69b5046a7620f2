package server

import (
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"tenant-auth-policy/internal/audit"
	"tenant-auth-policy/internal/server/interceptors"
)

// HealthMethods are the standard health RPCs; they are public and never filtered or audited.
var HealthMethods = map[string]bool{
	"/grpc.health.v1.Health/Check": true,
	"/grpc.health.v1.Health/Watch": true,
}

// Deps holds the policy components the interceptor chain consults. Nil members switch the
// corresponding interceptor off.
type Deps struct {
	// Sessions validates bearer session tokens. If nil, every request is treated as unauthenticated.
	Sessions interceptors.SessionValidator
	// IPFilter rejects requests by address, before the session for the tenant header and after it for the principal.
	IPFilter interceptors.IPChecker
	// Principal loads the authenticated principal for the principal-level IP check.
	Principal interceptors.PrincipalLoader
	// Audit records one event per authenticated RPC.
	Audit audit.Sink
	// PublicMethods do not require a session, in addition to HealthMethods.
	PublicMethods map[string]bool
	// Health is the health service; a new one is created when nil.
	Health *health.Server
}

// NewServer returns a gRPC server with OpenTelemetry instrumentation and the interceptor chain:
// request metadata -> tenant IP filter -> session -> principal IP filter -> audit.
func NewServer(deps Deps, opts ...grpc.ServerOption) (*grpc.Server, *health.Server) {
	public := make(map[string]bool, len(deps.PublicMethods)+len(HealthMethods))
	for m := range HealthMethods {
		public[m] = true
	}
	for m, ok := range deps.PublicMethods {
		public[m] = ok
	}

	chain := []grpc.UnaryServerInterceptor{interceptors.RequestMetaUnary()}
	if deps.IPFilter != nil {
		chain = append(chain, interceptors.TenantIPFilterUnary(deps.IPFilter, HealthMethods))
	}
	if deps.Sessions != nil {
		chain = append(chain, interceptors.SessionUnary(deps.Sessions, public))
	}
	if deps.IPFilter != nil && deps.Principal != nil {
		chain = append(chain, interceptors.PrincipalIPFilterUnary(deps.IPFilter, deps.Principal, HealthMethods))
	}
	if deps.Audit != nil {
		chain = append(chain, interceptors.AuditUnary(deps.Audit, HealthMethods))
	}

	serverOpts := append([]grpc.ServerOption{
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(chain...),
	}, opts...)
	s := grpc.NewServer(serverOpts...)

	hs := deps.Health
	if hs == nil {
		hs = health.NewServer()
	}
	RegisterServices(s, hs)
	return s, hs
}

// RegisterServices registers the services hosted by this module with the given server.
func RegisterServices(s grpc.ServiceRegistrar, hs *health.Server) {
	healthpb.RegisterHealthServer(s, hs)
}
