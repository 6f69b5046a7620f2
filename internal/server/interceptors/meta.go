package interceptors

import (
	"context"
	"net"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"

	"tenant-auth-policy/internal/platform/request"
)

// Metadata keys read from inbound requests.
const (
	DeviceIDHeader = "x-device-id"
	TenantIDHeader = "x-tenant-id"
	userAgentKey   = "user-agent"
)

// RequestMetaUnary returns a unary server interceptor that stores the client IP, user-agent, and
// device identifier header as request.Meta for the policy components.
func RequestMetaUnary() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		return handler(request.WithMeta(ctx, MetaFromContext(ctx)), req)
	}
}

// MetaFromContext builds request.Meta from gRPC metadata and peer info.
func MetaFromContext(ctx context.Context) request.Meta {
	return request.Meta{
		IP:             ClientIP(ctx),
		UserAgent:      firstValue(ctx, userAgentKey),
		HeaderDeviceID: firstValue(ctx, DeviceIDHeader),
	}
}

// ClientIP returns the client IP from gRPC metadata (x-forwarded-for, x-real-ip) or peer, or "unknown".
func ClientIP(ctx context.Context) string {
	if s := firstValue(ctx, "x-forwarded-for"); s != "" {
		if i := strings.Index(s, ","); i > 0 {
			s = strings.TrimSpace(s[:i])
		}
		return s
	}
	if s := firstValue(ctx, "x-real-ip"); s != "" {
		return s
	}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		if host, _, err := net.SplitHostPort(p.Addr.String()); err == nil {
			return host
		}
		return p.Addr.String()
	}
	return "unknown"
}

func firstValue(ctx context.Context, key string) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	vals := md.Get(key)
	if len(vals) == 0 {
		return ""
	}
	return strings.TrimSpace(vals[0])
}
