package interceptors

import (
	"context"
	"log"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"tenant-auth-policy/internal/platform/request"
	sessiondomain "tenant-auth-policy/internal/session/domain"
)

const bearerPrefix = "bearer "

// SessionValidator resolves and refreshes opaque session tokens.
type SessionValidator interface {
	ValidateSession(ctx context.Context, token string) (*sessiondomain.Session, error)
	TouchSession(ctx context.Context, token string) (bool, error)
}

// SessionUnary returns a unary server interceptor that validates the Bearer session token from gRPC
// metadata, extends its inactivity window, and sets user_id, tenant_id, session_id in context.
// publicMethods is the set of full method names that do not require a session (e.g. login, health).
func SessionUnary(sessions SessionValidator, publicMethods map[string]bool) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		token := extractBearer(ctx)
		public := publicMethods[info.FullMethod]

		if token == "" {
			if public {
				return handler(ctx, req)
			}
			return nil, status.Error(codes.Unauthenticated, "missing or invalid authorization")
		}

		s, err := sessions.ValidateSession(ctx, token)
		if err != nil {
			log.Printf("interceptors: validate session: %v", err)
			return nil, status.Error(codes.Unavailable, "session lookup failed")
		}
		if s == nil {
			if public {
				return handler(ctx, req)
			}
			return nil, status.Error(codes.Unauthenticated, "session expired or revoked")
		}
		if _, err := sessions.TouchSession(ctx, token); err != nil {
			log.Printf("interceptors: touch session %s: %v", s.ID, err)
		}

		ctx = WithIdentity(ctx, s.UserID, s.TenantID, s.ID)
		meta, ok := request.FromContext(ctx)
		if !ok {
			meta = MetaFromContext(ctx)
		}
		meta.SessionDeviceID = s.DeviceID
		return handler(request.WithMeta(ctx, meta), req)
	}
}

// extractBearer returns the Bearer token from ctx metadata, or "" if missing or malformed.
func extractBearer(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	vals := md.Get("authorization")
	if len(vals) == 0 {
		return ""
	}
	v := strings.TrimSpace(vals[0])
	if len(v) < len(bearerPrefix) {
		return ""
	}
	if !strings.EqualFold(v[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(v[len(bearerPrefix):])
}
