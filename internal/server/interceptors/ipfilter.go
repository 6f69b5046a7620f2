package interceptors

import (
	"context"
	"log"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	ipdomain "tenant-auth-policy/internal/ipaccess/domain"
	"tenant-auth-policy/internal/tenant"
	userdomain "tenant-auth-policy/internal/user/domain"
)

// IPChecker decides and records IP access for a tenant and optional principal.
type IPChecker interface {
	Check(ctx context.Context, t tenant.Context, ip string, p userdomain.Principal) (ipdomain.Decision, error)
	LogBlockedAccess(ctx context.Context, t tenant.Context, ip string, p userdomain.Principal, reason string)
}

// PrincipalLoader returns the authenticated principal of the request.
type PrincipalLoader func(ctx context.Context) (userdomain.Principal, error)

// TenantIPFilterUnary returns a unary server interceptor that rejects requests whose address is not
// allowed for the tenant named in the x-tenant-id header. It runs before session validation; requests
// without a tenant header pass through.
func TenantIPFilterUnary(filter IPChecker, skipMethods map[string]bool) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if skipMethods[info.FullMethod] {
			return handler(ctx, req)
		}
		t := tenant.New(firstValue(ctx, TenantIDHeader))
		if !t.Valid() {
			return handler(ctx, req)
		}
		if err := enforce(ctx, filter, t, nil); err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// PrincipalIPFilterUnary returns a unary server interceptor that applies the tenant rules and the
// principal's own allow-list once a session has been established. Unauthenticated requests pass through.
func PrincipalIPFilterUnary(filter IPChecker, load PrincipalLoader, skipMethods map[string]bool) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if skipMethods[info.FullMethod] {
			return handler(ctx, req)
		}
		tenantID, ok := GetTenantID(ctx)
		if !ok {
			return handler(ctx, req)
		}
		p, err := load(ctx)
		if err != nil {
			log.Printf("interceptors: load principal: %v", err)
			return nil, status.Error(codes.Unavailable, "principal lookup failed")
		}
		if err := enforce(ctx, filter, tenant.New(tenantID), p); err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

func enforce(ctx context.Context, filter IPChecker, t tenant.Context, p userdomain.Principal) error {
	ip := ClientIP(ctx)
	d, err := filter.Check(ctx, t, ip, p)
	if err != nil {
		log.Printf("interceptors: ip check for tenant %s: %v", t.ID, err)
		return status.Error(codes.Unavailable, "ip access check failed")
	}
	if d.Allowed {
		return nil
	}
	filter.LogBlockedAccess(ctx, t, ip, p, d.Reason)
	return status.Error(codes.PermissionDenied, "access from this address is not allowed")
}
