// Package app wires the policy components over Postgres, the shared cache, and the telemetry providers.
// The binaries under cmd build one App and use the parts they need.
package app

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/redis/go-redis/v9"

	"tenant-auth-policy/internal/audit"
	auditrepo "tenant-auth-policy/internal/audit/repository"
	"tenant-auth-policy/internal/cache"
	"tenant-auth-policy/internal/config"
	"tenant-auth-policy/internal/db"
	devicerepo "tenant-auth-policy/internal/device/repository"
	deviceservice "tenant-auth-policy/internal/device/service"
	"tenant-auth-policy/internal/health"
	identityservice "tenant-auth-policy/internal/identity/service"
	impengine "tenant-auth-policy/internal/impersonation/engine"
	imprepo "tenant-auth-policy/internal/impersonation/repository"
	impservice "tenant-auth-policy/internal/impersonation/service"
	iprepo "tenant-auth-policy/internal/ipaccess/repository"
	ipservice "tenant-auth-policy/internal/ipaccess/service"
	"tenant-auth-policy/internal/notify"
	pprepo "tenant-auth-policy/internal/passwordpolicy/repository"
	ppservice "tenant-auth-policy/internal/passwordpolicy/service"
	"tenant-auth-policy/internal/security"
	"tenant-auth-policy/internal/server"
	"tenant-auth-policy/internal/server/interceptors"
	sessiondomain "tenant-auth-policy/internal/session/domain"
	sessionrepo "tenant-auth-policy/internal/session/repository"
	sessionservice "tenant-auth-policy/internal/session/service"
	"tenant-auth-policy/internal/telemetry"
	telemetryotel "tenant-auth-policy/internal/telemetry/otel"
	"tenant-auth-policy/internal/tenantsettings"
	tsrepo "tenant-auth-policy/internal/tenantsettings/repository"
	tfrepo "tenant-auth-policy/internal/twofactor/repository"
	tfservice "tenant-auth-policy/internal/twofactor/service"
	userdomain "tenant-auth-policy/internal/user/domain"
	userrepo "tenant-auth-policy/internal/user/repository"
)

// ServiceName is reported to the telemetry backend.
const ServiceName = "tenant-auth-policy"

// App holds the wired components.
type App struct {
	Config    *config.Config
	DB        *sql.DB
	Redis     *redis.Client // nil when REDIS_URL is empty
	Cache     cache.Cache
	Providers *telemetryotel.Providers
	Metrics   *telemetry.Metrics
	Audit     audit.Sink

	Users           userrepo.Repository
	Settings        *tenantsettings.Store
	Sessions        *sessionservice.Store
	Devices         *deviceservice.Registry
	Passwords       *ppservice.Engine
	TwoFactor       *tfservice.Engine
	Identity        *identityservice.Guard
	Auth            *identityservice.AuthService
	Impersonation   *impservice.Guard
	IPAccess        *ipservice.Filter
	PolicyEvaluator *impengine.OPAEvaluator
	Health          *health.Checker
}

// New connects to the database and cache and builds every component.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg}
	ok := false
	defer func() {
		if !ok {
			a.Close(context.Background())
		}
	}()

	var err error
	if a.DB, err = db.Open(ctx, cfg.DatabaseURL); err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	if cfg.RedisURL != "" {
		if a.Redis, err = cache.NewRedisClient(ctx, cfg.RedisURL); err != nil {
			return nil, fmt.Errorf("redis: %w", err)
		}
		a.Cache = cache.NewRedisStore(a.Redis, cfg.RedisKeyPrefix)
	} else {
		log.Printf("app: REDIS_URL not set; using an in-process cache")
		a.Cache = cache.NewMemoryStore(nil)
	}

	if a.Providers, err = telemetryotel.NewProviders(ctx, cfg.OTelEndpoint, ServiceName, cfg.OTelInsecure); err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	a.Providers.SetGlobal()
	if a.Metrics, err = telemetry.NewMetrics(a.Providers.Meter(ServiceName)); err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}
	logger := audit.NewLogger(auditrepo.NewPostgresRepository(a.DB), telemetryotel.NewAuditEmitter(a.Providers.LoggerProvider), interceptors.ClientIP, nil)
	a.Audit = telemetry.NewAsyncSink(logger)

	enc, err := encryptor(cfg)
	if err != nil {
		return nil, err
	}
	tokens, err := tokenProvider(cfg)
	if err != nil {
		return nil, err
	}
	if a.PolicyEvaluator, err = policyEvaluator(ctx, cfg.ImpersonationPolicyFile); err != nil {
		return nil, err
	}
	notifier := notify.New(cfg.NotifyWebhookURL, cfg.NotifyWebhookSecret)
	hasher := security.NewHasher(cfg.BcryptCost)

	a.Users = userrepo.NewPostgresRepository(a.DB)
	a.Settings = tenantsettings.NewStore(tsrepo.NewPostgresRepository(a.DB), a.Cache, nil)
	a.Sessions = sessionservice.NewStore(sessionrepo.NewPostgresRepository(a.DB), a.Settings, sessiondomain.Settings{
		IdleTimeoutMinutes:    int(cfg.IdleTimeout().Minutes()),
		MaxConcurrentSessions: cfg.SessionMaxConcurrent,
	}, nil, a.Metrics)
	a.Devices = deviceservice.NewRegistry(devicerepo.NewPostgresRepository(a.DB), a.Sessions, a.Cache, nil, a.Metrics)
	a.Sessions.SetLinkedDevices(a.Devices)
	a.Passwords = ppservice.NewEngine(a.Settings, a.Users, pprepo.NewPostgresRepository(a.DB), hasher, nil)
	a.TwoFactor = tfservice.NewEngine(tfrepo.NewPostgresRepository(a.DB), a.Cache, enc, nil, tfservice.Options{
		Issuer:           cfg.TOTPIssuer,
		TrustedDeviceTTL: cfg.TrustTTL(),
	})
	a.IPAccess = ipservice.NewFilter(ipservice.Deps{
		Repo:     iprepo.NewPostgresRepository(a.DB),
		Settings: a.Settings,
		Cache:    a.Cache,
		Audit:    a.Audit,
		Notifier: notifier,
		Metrics:  a.Metrics,
	})
	a.Identity = identityservice.NewGuard(a.Users, a.Cache)
	a.Auth = identityservice.NewAuthService(a.Users, a.Passwords, a.TwoFactor, a.Sessions, a.Devices, a.IPAccess, hasher)
	a.Impersonation = impservice.NewGuard(impservice.Deps{
		Repo:      imprepo.NewPostgresRepository(a.DB),
		Users:     a.Users,
		Auth:      a.Identity,
		Evaluator: a.PolicyEvaluator,
		Tokens:    tokens,
		Encryptor: enc,
		Cache:     a.Cache,
		Audit:     a.Audit,
		Notifier:  notifier,
		Metrics:   a.Metrics,
	}, impservice.Options{
		DefaultMinutes: cfg.ImpersonationDefaultMinutes,
		MaxMinutes:     cfg.ImpersonationMaxMinutes,
		NotifyTarget:   cfg.ImpersonationNotifyTarget,
	})

	a.Health = &health.Checker{DB: a.DB, Policy: a.PolicyEvaluator}
	if a.Redis != nil {
		a.Health.Cache = func(ctx context.Context) error { return a.Redis.Ping(ctx).Err() }
	}
	ok = true
	return a, nil
}

// ServerDeps returns the interceptor dependencies for the gRPC host.
func (a *App) ServerDeps() server.Deps {
	return server.Deps{
		Sessions: a.Sessions,
		IPFilter: a.IPAccess,
		Principal: func(ctx context.Context) (userdomain.Principal, error) {
			u, err := a.Identity.Authenticated(ctx)
			if err != nil {
				return nil, err
			}
			return u, nil
		},
		Audit: a.Audit,
	}
}

// Close releases connections and flushes telemetry.
func (a *App) Close(ctx context.Context) {
	if a.Providers != nil {
		if err := a.Providers.Shutdown(ctx); err != nil {
			log.Printf("app: telemetry shutdown: %v", err)
		}
	}
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	if a.DB != nil {
		_ = a.DB.Close()
	}
}

func encryptor(cfg *config.Config) (security.Encryptor, error) {
	if cfg.EncryptionKey == "" {
		log.Printf("app: ENCRYPTION_KEY not set; using a fixed development key")
		return security.NewTestEncryptor(), nil
	}
	key, err := security.ParseEncryptionKey(cfg.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("ENCRYPTION_KEY: %w", err)
	}
	enc, err := security.NewAESGCMEncryptor(key)
	if err != nil {
		return nil, fmt.Errorf("ENCRYPTION_KEY: %w", err)
	}
	return enc, nil
}

func tokenProvider(cfg *config.Config) (*security.TokenProvider, error) {
	var signer crypto.Signer
	var pub crypto.PublicKey
	switch {
	case cfg.JWTPrivateKey != "" && cfg.JWTPublicKey != "":
		var err error
		if signer, pub, err = security.LoadKeyPair(cfg.JWTPrivateKey, cfg.JWTPublicKey); err != nil {
			return nil, fmt.Errorf("jwt keys: %w", err)
		}
	case cfg.Env == "production":
		return nil, errors.New("JWT_PRIVATE_KEY and JWT_PUBLIC_KEY must be set when APP_ENV=production")
	default:
		log.Printf("app: JWT keys not set; generating an ephemeral ES256 key pair")
		key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		if err != nil {
			return nil, err
		}
		signer, pub = key, &key.PublicKey
	}
	return security.NewTokenProvider(signer, pub, cfg.JWTIssuer, cfg.JWTAudience), nil
}

func policyEvaluator(ctx context.Context, path string) (*impengine.OPAEvaluator, error) {
	if path == "" {
		return impengine.NewOPAEvaluator(ctx)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("impersonation policy: %w", err)
	}
	return impengine.NewOPAEvaluator(ctx, string(raw))
}
