// Package service implements user registration, password changes and admin account management.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"roomchat/backend/internal/audit"
	auditdomain "roomchat/backend/internal/audit/domain"
	"roomchat/backend/internal/otp"
	otpdomain "roomchat/backend/internal/otp/domain"
	"roomchat/backend/internal/platform/rbac"
	tokendomain "roomchat/backend/internal/refreshtoken/domain"
	"roomchat/backend/internal/user/domain"
	"roomchat/backend/internal/user/repository"
)

var (
	ErrInvalidEmail         = domain.ErrInvalidEmail
	ErrWeakPassword         = domain.ErrWeakPassword
	ErrEmailTaken           = repository.ErrEmailTaken
	ErrPasswordMismatch     = errors.New("passwords do not match")
	ErrNameRequired         = errors.New("name is required")
	ErrInvalidOTP           = errors.New("invalid or expired OTP")
	ErrOTPAttemptsExhausted = errors.New("OTP attempts exhausted")
	ErrWrongPassword        = errors.New("current password is incorrect")
	ErrNotFound             = errors.New("user not found")
	ErrForbidden            = rbac.ErrForbidden
	ErrUnauthenticated      = rbac.ErrUnauthenticated
)

// OTPEngine issues and verifies registration codes. *otp.Engine satisfies it.
type OTPEngine interface {
	Issue(ctx context.Context, purpose otpdomain.Purpose, contact string) (int64, error)
	Verify(ctx context.Context, pendingID int64, purpose otpdomain.Purpose, code string) error
	Lookup(ctx context.Context, pendingID int64) (*otpdomain.Challenge, error)
}

// Sessions lists and revokes refresh tokens. *refreshtoken.Store satisfies it.
type Sessions interface {
	ListByUser(ctx context.Context, userID string) ([]*tokendomain.Token, error)
	DeleteByUser(ctx context.Context, userID string) (int64, error)
}

// PasswordHasher hashes and checks passwords. *security.Hasher satisfies it.
type PasswordHasher interface {
	Hash(plaintext string) (string, error)
	Verify(plaintext, secret string) bool
}

// Authorizer checks a capability for the caller. *rbac.Authorizer satisfies it.
type Authorizer interface {
	Check(ctx context.Context, capability rbac.Capability, caller rbac.Caller, ownerID string) error
}

// AuditReader lists audit entries. *audit.Logger satisfies it.
type AuditReader interface {
	List(ctx context.Context, userID string, limit, offset int32) ([]*auditdomain.AuditLog, error)
}

// Service handles the user lifecycle around the auth flows.
type Service struct {
	users    repository.Repository
	otp      OTPEngine
	sessions Sessions
	hasher   PasswordHasher
	authz    Authorizer
	audit    audit.Sink
	auditLog AuditReader
	logger   *zap.Logger
	now      func() time.Time
	tracer   trace.Tracer
}

// Option configures optional Service collaborators.
type Option func(*Service)

// WithAudit sets the audit sink and, if it can list entries, the audit reader.
func WithAudit(s audit.Sink) Option {
	return func(svc *Service) {
		svc.audit = s
		if r, ok := s.(AuditReader); ok {
			svc.auditLog = r
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(s *Service) { s.logger = l } }

// WithClock overrides the clock used for timestamps.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// NewService returns a user service.
func NewService(users repository.Repository, otpEngine OTPEngine, sessions Sessions, hasher PasswordHasher, authz Authorizer, opts ...Option) *Service {
	s := &Service{
		users:    users,
		otp:      otpEngine,
		sessions: sessions,
		hasher:   hasher,
		authz:    authz,
		audit:    nopSink{},
		logger:   zap.NewNop(),
		now:      func() time.Time { return time.Now().UTC() },
		tracer:   otel.Tracer("roomchat/backend/user"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RegistrationCheck validates a sign-up request and emails an OTP. The account is created by Activate.
func (s *Service) RegistrationCheck(ctx context.Context, email, password, confirmPassword string) (int64, error) {
	ctx, span := s.tracer.Start(ctx, "user.RegistrationCheck")
	defer span.End()

	email = domain.NormalizeEmail(email)
	if err := validateCredentials(email, password, confirmPassword); err != nil {
		return 0, err
	}
	existing, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return 0, fmt.Errorf("user: lookup email: %w", err)
	}
	if existing != nil {
		return 0, ErrEmailTaken
	}
	return s.otp.Issue(ctx, otpdomain.PurposeRegistration, email)
}

// Activate verifies the registration OTP and creates an active user for the challenge's email.
func (s *Service) Activate(ctx context.Context, pendingID int64, code, name, password, confirmPassword string) (*domain.User, error) {
	ctx, span := s.tracer.Start(ctx, "user.Activate", trace.WithAttributes(attribute.Int64("otp.pending_id", pendingID)))
	defer span.End()

	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrNameRequired
	}
	if password != confirmPassword {
		return nil, ErrPasswordMismatch
	}
	if err := domain.ValidatePassword(password); err != nil {
		return nil, err
	}
	if err := s.otp.Verify(ctx, pendingID, otpdomain.PurposeRegistration, code); err != nil {
		return nil, mapOTPError(err)
	}
	c, err := s.otp.Lookup(ctx, pendingID)
	if err != nil {
		return nil, mapOTPError(err)
	}
	u, err := s.create(ctx, name, c.Contact, password, domain.RoleUser)
	if err != nil {
		return nil, err
	}
	s.audit.Record(ctx, audit.ActionUserRegistration, u.ID, map[string]any{"target": u.Email})
	return u, nil
}

// RegisterAdmin creates an admin account. Only admins may call it; no OTP is involved.
func (s *Service) RegisterAdmin(ctx context.Context, caller rbac.Caller, name, email, password, confirmPassword string) (*domain.User, error) {
	ctx, span := s.tracer.Start(ctx, "user.RegisterAdmin")
	defer span.End()

	if err := s.authz.Check(ctx, rbac.AdminOnly, caller, ""); err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrNameRequired
	}
	email = domain.NormalizeEmail(email)
	if err := validateCredentials(email, password, confirmPassword); err != nil {
		return nil, err
	}
	u, err := s.create(ctx, name, email, password, domain.RoleAdmin)
	if err != nil {
		return nil, err
	}
	s.audit.Record(ctx, audit.ActionAdminRegistration, caller.ID, map[string]any{"target": u.Email, "created_id": u.ID})
	return u, nil
}

// UpdatePassword changes the caller's own password after checking the current one, then
// revokes every refresh token of the user.
func (s *Service) UpdatePassword(ctx context.Context, caller rbac.Caller, userID, oldPassword, newPassword, confirmPassword string) error {
	ctx, span := s.tracer.Start(ctx, "user.UpdatePassword")
	defer span.End()

	if err := s.authz.Check(ctx, rbac.SelfOnly, caller, userID); err != nil {
		return err
	}
	if newPassword != confirmPassword {
		return ErrPasswordMismatch
	}
	if err := domain.ValidatePassword(newPassword); err != nil {
		return err
	}
	u, err := s.users.FindActiveByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("user: lookup: %w", err)
	}
	if u == nil {
		return ErrNotFound
	}
	if !s.hasher.Verify(oldPassword, u.PasswordHash) {
		return ErrWrongPassword
	}
	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("user: hash password: %w", err)
	}
	if err := s.users.SetPasswordHash(ctx, u.ID, hash); err != nil {
		return fmt.Errorf("user: set password: %w", err)
	}
	n, err := s.sessions.DeleteByUser(ctx, u.ID)
	if err != nil {
		return fmt.Errorf("user: revoke sessions: %w", err)
	}
	s.audit.Record(ctx, audit.ActionPasswordUpdate, u.ID, map[string]any{"revoked_tokens": n})
	return nil
}

// Get returns a user by id. Admin only. Deleted users are returned with their status.
func (s *Service) Get(ctx context.Context, caller rbac.Caller, userID string) (*domain.User, error) {
	if err := s.authz.Check(ctx, rbac.AdminOnly, caller, userID); err != nil {
		return nil, err
	}
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("user: lookup: %w", err)
	}
	if u == nil {
		return nil, ErrNotFound
	}
	return u, nil
}

// List returns every user, deleted ones included. Admin only.
func (s *Service) List(ctx context.Context, caller rbac.Caller) ([]*domain.User, error) {
	if err := s.authz.Check(ctx, rbac.AdminOnly, caller, ""); err != nil {
		return nil, err
	}
	users, err := s.users.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("user: list: %w", err)
	}
	return users, nil
}

// Update changes the caller's own name and email. The email must be valid and not held by
// another live account.
func (s *Service) Update(ctx context.Context, caller rbac.Caller, userID, name, email string) (*domain.User, error) {
	ctx, span := s.tracer.Start(ctx, "user.Update")
	defer span.End()

	if err := s.authz.Check(ctx, rbac.SelfOnly, caller, userID); err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrNameRequired
	}
	email = domain.NormalizeEmail(email)
	if err := domain.ValidateEmail(email); err != nil {
		return nil, err
	}
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("user: lookup: %w", err)
	}
	if u == nil || u.Status == domain.UserStatusDeleted {
		return nil, ErrNotFound
	}
	if err := s.users.UpdateProfile(ctx, userID, name, email); err != nil {
		switch {
		case errors.Is(err, repository.ErrEmailTaken):
			return nil, ErrEmailTaken
		case errors.Is(err, repository.ErrNotFound):
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("user: update: %w", err)
	}
	details := map[string]any{}
	if u.Name != name {
		details["name"] = name
	}
	if u.Email != email {
		details["previous_email"] = u.Email
		details["email"] = email
	}
	s.audit.Record(ctx, audit.ActionUserUpdate, userID, details)
	u.Name, u.Email = name, email
	return u, nil
}

// Remove soft-deletes a user and revokes their refresh tokens. Admin only.
func (s *Service) Remove(ctx context.Context, caller rbac.Caller, userID string) error {
	ctx, span := s.tracer.Start(ctx, "user.Remove")
	defer span.End()

	if err := s.authz.Check(ctx, rbac.AdminOnly, caller, userID); err != nil {
		return err
	}
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("user: lookup: %w", err)
	}
	if u == nil || u.Status == domain.UserStatusDeleted {
		return ErrNotFound
	}
	if err := s.users.SoftDelete(ctx, userID, s.now()); err != nil {
		return fmt.Errorf("user: delete: %w", err)
	}
	if _, err := s.sessions.DeleteByUser(ctx, userID); err != nil {
		return fmt.Errorf("user: revoke sessions: %w", err)
	}
	s.audit.Record(ctx, audit.ActionUserDelete, caller.ID, map[string]any{"target": userID})
	return nil
}

// Sessions lists the refresh tokens of a user. Self or admin.
func (s *Service) Sessions(ctx context.Context, caller rbac.Caller, userID string) ([]*tokendomain.Token, error) {
	if err := s.authz.Check(ctx, rbac.SelfOrAdmin, caller, userID); err != nil {
		return nil, err
	}
	return s.sessions.ListByUser(ctx, userID)
}

// AuditTrail lists audit entries recorded for a user, newest first. Admin only.
func (s *Service) AuditTrail(ctx context.Context, caller rbac.Caller, userID string, limit, offset int32) ([]*auditdomain.AuditLog, error) {
	if err := s.authz.Check(ctx, rbac.AdminOnly, caller, userID); err != nil {
		return nil, err
	}
	if s.auditLog == nil {
		return nil, nil
	}
	return s.auditLog.List(ctx, userID, limit, offset)
}

func (s *Service) create(ctx context.Context, name, email, password string, role domain.Role) (*domain.User, error) {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("user: hash password: %w", err)
	}
	now := s.now()
	u := &domain.User{
		ID:           uuid.New().String(),
		Name:         name,
		Email:        domain.NormalizeEmail(email),
		PasswordHash: hash,
		Role:         role,
		Status:       domain.UserStatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.Create(ctx, u); err != nil {
		if errors.Is(err, repository.ErrEmailTaken) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("user: create: %w", err)
	}
	s.logger.Info("user created", zap.String("user_id", u.ID), zap.String("role", string(role)))
	return u, nil
}

func validateCredentials(email, password, confirmPassword string) error {
	if err := domain.ValidateEmail(email); err != nil {
		return err
	}
	if password != confirmPassword {
		return ErrPasswordMismatch
	}
	return domain.ValidatePassword(password)
}

func mapOTPError(err error) error {
	switch {
	case errors.Is(err, otp.ErrAttemptsExhausted):
		return ErrOTPAttemptsExhausted
	case errors.Is(err, otp.ErrNotFound),
		errors.Is(err, otp.ErrExpired),
		errors.Is(err, otp.ErrAlreadyUsed),
		errors.Is(err, otp.ErrInvalidCode):
		return ErrInvalidOTP
	}
	return fmt.Errorf("user: verify otp: %w", err)
}

type nopSink struct{}

func (nopSink) Record(context.Context, string, string, map[string]any) {}
