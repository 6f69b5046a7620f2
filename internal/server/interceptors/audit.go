package interceptors

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	"tenant-auth-policy/internal/audit"
	auditdomain "tenant-auth-policy/internal/audit/domain"
)

// AuditUnary returns a unary server interceptor that records an audit event after each RPC.
// skipMethods is the set of full method names to not audit (e.g. health checks).
// Recording is best-effort and only happens when tenant_id is set (authenticated context).
func AuditUnary(sink audit.Sink, skipMethods map[string]bool) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		resp, err := handler(ctx, req)
		if skipMethods[info.FullMethod] {
			return resp, err
		}
		tenantID, _ := GetTenantID(ctx)
		if tenantID == "" {
			return resp, err
		}
		userID, _ := GetUserID(ctx)
		sessionID, _ := GetSessionID(ctx)
		ar := audit.ParseFullMethod(info.FullMethod)
		level := auditdomain.LevelInfo
		if err != nil {
			level = auditdomain.LevelWarning
		}
		sink.Record(ctx, audit.Event{
			TenantID: tenantID,
			UserID:   userID,
			Channel:  audit.ChannelRequest,
			Level:    level,
			Action:   ar.Action,
			IP:       ClientIP(ctx),
			Fields: map[string]any{
				"resource":   ar.Resource,
				"session_id": sessionID,
				"code":       status.Code(err).String(),
			},
		})
		return resp, err
	}
}
