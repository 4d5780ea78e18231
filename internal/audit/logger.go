package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	otellog "go.opentelemetry.io/otel/log"
	"go.uber.org/zap"

	"roomchat/backend/internal/audit/domain"
	auditrepo "roomchat/backend/internal/audit/repository"
)

// Actions recorded by the auth and user services.
const (
	ActionUserLogin              = "user_login"
	ActionUserLogout             = "user_logout"
	ActionPasswordResetRequested = "password_reset_requested"
	ActionPasswordReset          = "password_reset"
	ActionUserRegistration       = "user_registration"
	ActionAdminRegistration      = "admin_registration"
	ActionPasswordUpdate         = "user_password_update"
	ActionUserUpdate             = "user_update"
	ActionUserDelete             = "user_delete"
	ActionAccountBlocked         = "account_blocked"
	ActionLockoutUpdateFailed    = "lockout_update_failed"
)

// IPExtractor returns the client IP from the request context.
type IPExtractor func(context.Context) string

// Sink records audit events. Record is fire-and-forget: it never fails the caller.
type Sink interface {
	Record(ctx context.Context, action, userID string, details map[string]any)
}

// Logger implements Sink using the audit repository, zap and an optional OTel logger.
type Logger struct {
	repo        auditrepo.Repository
	ipExtractor IPExtractor
	logger      *zap.Logger
	otelLogger  otellog.Logger
}

// NewLogger returns a Sink that persists to repo. repo may be nil (events then go only to the
// logs). ipExtractor may be nil; then IP is recorded as "unknown".
func NewLogger(repo auditrepo.Repository, ipExtractor IPExtractor, logger *zap.Logger) *Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Logger{repo: repo, ipExtractor: ipExtractor, logger: logger}
}

// WithOTelLogger mirrors each event as an OTel log record.
func (l *Logger) WithOTelLogger(provider otellog.LoggerProvider) *Logger {
	if provider != nil {
		l.otelLogger = provider.Logger("roomchat/backend/audit")
	}
	return l
}

// Record writes one audit log entry. Best-effort: errors are logged and not returned.
func (l *Logger) Record(ctx context.Context, action, userID string, details map[string]any) {
	ip := "unknown"
	if l.ipExtractor != nil {
		if v := l.ipExtractor(ctx); v != "" {
			ip = v
		}
	}
	entry := &domain.AuditLog{
		ID:        uuid.New().String(),
		Action:    action,
		UserID:    userID,
		IP:        ip,
		Details:   details,
		CreatedAt: time.Now().UTC(),
	}
	l.logger.Info("audit", zap.String("action", action), zap.String("user_id", userID), zap.String("ip", ip))
	l.emit(ctx, entry)
	if l.repo == nil {
		return
	}
	if err := l.repo.Create(ctx, entry); err != nil {
		l.logger.Error("audit: failed to persist event", zap.String("action", action), zap.Error(err))
	}
}

func (l *Logger) emit(ctx context.Context, e *domain.AuditLog) {
	if l.otelLogger == nil {
		return
	}
	var rec otellog.Record
	rec.SetTimestamp(e.CreatedAt)
	rec.SetEventName(e.Action)
	rec.SetBody(otellog.StringValue(e.Action))
	rec.AddAttributes(
		otellog.String("audit.action", e.Action),
		otellog.String("user_id", e.UserID),
		otellog.String("client.ip", e.IP),
	)
	for k, v := range e.Details {
		rec.AddAttributes(otellog.String("audit.details."+k, fmt.Sprint(v)))
	}
	l.otelLogger.Emit(ctx, rec)
}

// List returns stored events, newest first. Limit is clamped to [1,100].
func (l *Logger) List(ctx context.Context, userID string, limit, offset int32) ([]*domain.AuditLog, error) {
	if l.repo == nil {
		return nil, nil
	}
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return l.repo.List(ctx, userID, limit, offset)
}
