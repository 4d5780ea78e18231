// server runs the HTTP JSON API: authentication, OTP, user management and health.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"roomchat/backend/internal/audit"
	auditrepo "roomchat/backend/internal/audit/repository"
	"roomchat/backend/internal/config"
	"roomchat/backend/internal/db"
	"roomchat/backend/internal/devotp"
	identityservice "roomchat/backend/internal/identity/service"
	"roomchat/backend/internal/lockout"
	"roomchat/backend/internal/logging"
	"roomchat/backend/internal/mail"
	"roomchat/backend/internal/otp"
	otprepo "roomchat/backend/internal/otp/repository"
	"roomchat/backend/internal/platform/rbac"
	"roomchat/backend/internal/refreshtoken"
	tokenrepo "roomchat/backend/internal/refreshtoken/repository"
	"roomchat/backend/internal/security"
	"roomchat/backend/internal/server"
	"roomchat/backend/internal/server/middleware"
	telemetryotel "roomchat/backend/internal/telemetry/otel"
	userrepo "roomchat/backend/internal/user/repository"
	userservice "roomchat/backend/internal/user/service"
)

const shutdownTimeout = 15 * time.Second

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "server:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	providers, err := telemetryotel.NewProviders(ctx, telemetryotel.Options{
		Endpoint:    cfg.OTLPEndpoint,
		ServiceName: cfg.ServiceName,
		Insecure:    cfg.OTLPInsecure,
	})
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	providers.SetGlobal()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown", zap.Error(err))
		}
	}()

	conn, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("db: %w", err)
	}
	defer conn.Close()

	signer, pub, err := security.LoadKeyPair(cfg.JWTPrivateKey, cfg.JWTPublicKey)
	if err != nil {
		return fmt.Errorf("jwt keys: %w", err)
	}
	tokens := security.NewTokenProvider(signer, pub, cfg.JWTIssuer, cfg.JWTAudience, cfg.AccessTTL())

	authz, err := rbac.NewAuthorizer(ctx)
	if err != nil {
		return fmt.Errorf("rbac: %w", err)
	}

	sender, err := newSender(cfg, logger)
	if err != nil {
		return err
	}

	hasher := security.NewHasher(cfg.BcryptCost)
	otpOpts := []otp.Option{otp.WithLogger(logger)}
	var devStore devotp.Store
	if cfg.DevOTP() {
		devStore = devotp.NewMemoryStore()
		otpOpts = append(otpOpts, otp.WithDevStore(devStore))
		logger.Warn("dev OTP mode enabled: codes are readable at /dev/otp/{pendingId}")
	}
	if cfg.RedisURL != "" {
		rdb, err := newRedis(ctx, cfg.RedisURL, logger)
		if err != nil {
			return err
		}
		defer rdb.Close()
		otpOpts = append(otpOpts, otp.WithThrottle(otp.NewRedisThrottle(rdb)))
	}
	engine := otp.NewEngine(otprepo.NewPostgresRepository(conn), hasher, sender, cfg.OTPConfig(), otpOpts...)

	users := userrepo.NewPostgresRepository(conn)
	sessions := refreshtoken.NewStore(tokenrepo.NewPostgresRepository(conn), refreshtoken.NewSecretHasher())
	auditLogger := audit.NewLogger(auditrepo.NewPostgresRepository(conn), middleware.ClientIP, logger).
		WithOTelLogger(providers.LoggerProvider)

	auth := identityservice.NewAuthService(users, engine, sessions, tokens, lockout.NewPolicy(users, cfg.LockoutThreshold), hasher,
		identityservice.WithAuditSink(auditLogger),
		identityservice.WithLogger(logger),
		identityservice.WithRefreshTTL(cfg.RefreshTTL()),
	)
	userSvc := userservice.NewService(users, engine, sessions, hasher, authz,
		userservice.WithAudit(auditLogger),
		userservice.WithLogger(logger),
	)

	srv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: server.NewRouter(server.Deps{
			Auth:                auth,
			Users:               userSvc,
			Tokens:              tokens,
			HealthPinger:        conn,
			HealthPolicyChecker: authz,
			DevOTPStore:         devStore,
			Logger:              logger,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return serve(ctx, srv, conn, logger)
}

func serve(ctx context.Context, srv *http.Server, conn *sql.DB, logger *zap.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("HTTP server stopped", zap.Int("open_db_conns", conn.Stats().OpenConnections))
	return nil
}

// newSender picks the mail transport. Dev OTP mode and non-production setups without a mail API
// log instead of sending; production requires MAIL_API_URL.
func newSender(cfg *config.Config, logger *zap.Logger) (mail.Sender, error) {
	if cfg.MailAPIURL != "" && !cfg.DevOTP() {
		return mail.NewAPIClient(cfg.MailAPIKey, cfg.MailAPIURL, cfg.MailFrom), nil
	}
	if cfg.IsProduction() {
		return nil, errors.New("config: MAIL_API_URL must be set when APP_ENV=production")
	}
	logger.Warn("no mail API configured; outgoing mail is logged, not sent")
	return mail.NewLogSender(logger), nil
}

// newRedis connects the issuance throttle. An unreachable Redis is logged, not fatal: the
// throttle fails open and the database lookback still applies.
func newRedis(ctx context.Context, url string, logger *zap.Logger) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis unreachable; OTP throttle will fail open", zap.Error(err))
	}
	return rdb, nil
}
