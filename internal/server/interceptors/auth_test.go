package interceptors

import (
	"context"
	"errors"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"tenant-auth-policy/internal/platform/request"
	sessiondomain "tenant-auth-policy/internal/session/domain"
)

type fakeSessions struct {
	sessions map[string]*sessiondomain.Session
	err      error
	touched  []string
}

func (f *fakeSessions) ValidateSession(ctx context.Context, token string) (*sessiondomain.Session, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.sessions[token], nil
}

func (f *fakeSessions) TouchSession(ctx context.Context, token string) (bool, error) {
	f.touched = append(f.touched, token)
	return f.sessions[token] != nil, nil
}

func bearerCtx(token string) context.Context {
	return metadata.NewIncomingContext(context.Background(), metadata.New(map[string]string{
		"authorization": "Bearer " + token,
		"x-device-id":   "header-device",
	}))
}

var okHandler = func(ctx context.Context, req interface{}) (interface{}, error) {
	return "success", nil
}

func TestSessionUnary_PublicMethod(t *testing.T) {
	interceptor := SessionUnary(&fakeSessions{}, map[string]bool{"/test.Service/PublicMethod": true})

	resp, err := interceptor(context.Background(), "request", &grpc.UnaryServerInfo{
		FullMethod: "/test.Service/PublicMethod",
	}, okHandler)
	if err != nil {
		t.Fatalf("interceptor: %v", err)
	}
	if resp != "success" {
		t.Errorf("response = %v, want %q", resp, "success")
	}
}

func TestSessionUnary_ProtectedMethod_NoToken(t *testing.T) {
	interceptor := SessionUnary(&fakeSessions{}, map[string]bool{})

	_, err := interceptor(context.Background(), "request", &grpc.UnaryServerInfo{
		FullMethod: "/test.Service/ProtectedMethod",
	}, okHandler)
	if status.Code(err) != codes.Unauthenticated {
		t.Errorf("status code = %v, want %v", status.Code(err), codes.Unauthenticated)
	}
}

func TestSessionUnary_ValidSession(t *testing.T) {
	sessions := &fakeSessions{sessions: map[string]*sessiondomain.Session{
		"tok": {ID: "session-1", UserID: "user-1", TenantID: "tenant-1", DeviceID: "stored-device"},
	}}
	interceptor := SessionUnary(sessions, map[string]bool{})

	var gotUser, gotTenant, gotSession string
	var gotMeta request.Meta
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		gotUser, _ = GetUserID(ctx)
		gotTenant, _ = GetTenantID(ctx)
		gotSession, _ = GetSessionID(ctx)
		gotMeta, _ = request.FromContext(ctx)
		return "success", nil
	}

	if _, err := interceptor(bearerCtx("tok"), "request", &grpc.UnaryServerInfo{
		FullMethod: "/test.Service/ProtectedMethod",
	}, handler); err != nil {
		t.Fatalf("interceptor: %v", err)
	}
	if gotUser != "user-1" || gotTenant != "tenant-1" || gotSession != "session-1" {
		t.Errorf("identity = %q/%q/%q", gotUser, gotTenant, gotSession)
	}
	if gotMeta.SessionDeviceID != "stored-device" || gotMeta.DeviceIdentifier() != "header-device" {
		t.Errorf("meta = %+v", gotMeta)
	}
	if len(sessions.touched) != 1 || sessions.touched[0] != "tok" {
		t.Errorf("touched = %v, want [tok]", sessions.touched)
	}
}

func TestSessionUnary_UnknownSession(t *testing.T) {
	sessions := &fakeSessions{}
	interceptor := SessionUnary(sessions, map[string]bool{})

	_, err := interceptor(bearerCtx("expired"), "request", &grpc.UnaryServerInfo{
		FullMethod: "/test.Service/ProtectedMethod",
	}, okHandler)
	if status.Code(err) != codes.Unauthenticated {
		t.Errorf("status code = %v, want %v", status.Code(err), codes.Unauthenticated)
	}
	if len(sessions.touched) != 0 {
		t.Error("unknown session was touched")
	}
}

func TestSessionUnary_UnknownSessionOnPublicMethod(t *testing.T) {
	interceptor := SessionUnary(&fakeSessions{}, map[string]bool{"/test.Service/PublicMethod": true})

	if _, err := interceptor(bearerCtx("expired"), "request", &grpc.UnaryServerInfo{
		FullMethod: "/test.Service/PublicMethod",
	}, okHandler); err != nil {
		t.Fatalf("interceptor: %v", err)
	}
}

func TestSessionUnary_ValidatorError(t *testing.T) {
	interceptor := SessionUnary(&fakeSessions{err: errors.New("database error")}, map[string]bool{})

	_, err := interceptor(bearerCtx("tok"), "request", &grpc.UnaryServerInfo{
		FullMethod: "/test.Service/ProtectedMethod",
	}, okHandler)
	if status.Code(err) != codes.Unavailable {
		t.Errorf("status code = %v, want %v", status.Code(err), codes.Unavailable)
	}
}

func TestExtractBearer_Valid(t *testing.T) {
	ctx := metadata.NewIncomingContext(context.Background(), metadata.New(map[string]string{
		"authorization": "Bearer token123",
	}))
	token := extractBearer(ctx)
	if token != "token123" {
		t.Errorf("token = %q, want %q", token, "token123")
	}
}

func TestExtractBearer_CaseInsensitive(t *testing.T) {
	ctx := metadata.NewIncomingContext(context.Background(), metadata.New(map[string]string{
		"authorization": "bearer token123",
	}))
	token := extractBearer(ctx)
	if token != "token123" {
		t.Errorf("token = %q, want %q", token, "token123")
	}
}

func TestExtractBearer_Missing(t *testing.T) {
	token := extractBearer(context.Background())
	if token != "" {
		t.Errorf("token = %q, want empty", token)
	}
}

func TestExtractBearer_InvalidPrefix(t *testing.T) {
	ctx := metadata.NewIncomingContext(context.Background(), metadata.New(map[string]string{
		"authorization": "Basic token123",
	}))
	token := extractBearer(ctx)
	if token != "" {
		t.Errorf("token = %q, want empty", token)
	}
}

func TestExtractBearer_Whitespace(t *testing.T) {
	ctx := metadata.NewIncomingContext(context.Background(), metadata.New(map[string]string{
		"authorization": "  Bearer   token123  ",
	}))
	token := extractBearer(ctx)
	if token != "token123" {
		t.Errorf("token = %q, want %q", token, "token123")
	}
}
