// Package service implements the login, token refresh, logout and password reset flows.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"roomchat/backend/internal/audit"
	"roomchat/backend/internal/otp"
	otpdomain "roomchat/backend/internal/otp/domain"
	"roomchat/backend/internal/refreshtoken"
	tokendomain "roomchat/backend/internal/refreshtoken/domain"
	"roomchat/backend/internal/security"
	userdomain "roomchat/backend/internal/user/domain"
)

// Sentinel errors for auth service; the handler maps them to HTTP statuses.
var (
	ErrInvalidEmail         = userdomain.ErrInvalidEmail
	ErrWeakPassword         = userdomain.ErrWeakPassword
	ErrInvalidCredentials   = errors.New("invalid credentials")
	ErrInvalidOTP           = errors.New("invalid OTP")
	ErrOTPAttemptsExhausted = errors.New("OTP attempts exhausted")
	ErrInvalidRefreshToken  = errors.New("invalid or expired refresh token")
	ErrPasswordMismatch     = errors.New("passwords do not match")
)

// DefaultRefreshTTL is the refresh token lifetime.
const DefaultRefreshTTL = 7 * 24 * time.Hour

// PasswordResetMessage is returned by RequestPasswordReset whether or not the account exists.
const PasswordResetMessage = "If an account exists for this email, a verification code has been sent."

// LoginResult is returned by Login: the OTP challenge to complete, never a token.
type LoginResult struct {
	PendingID int64
}

// AuthResult holds the token pair issued by VerifyLogin and Refresh.
type AuthResult struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
	UserID           string
}

// ResetRequestResult is returned by RequestPasswordReset. PendingID is zero when no code was sent.
type ResetRequestResult struct {
	Message   string
	PendingID int64
}

// UserDirectory is the user lookup and mutation surface the auth service needs.
type UserDirectory interface {
	FindActiveByEmail(ctx context.Context, email string) (*userdomain.User, error)
	FindActiveByID(ctx context.Context, id string) (*userdomain.User, error)
	SetPasswordHash(ctx context.Context, id, passwordHash string) error
}

// OTPEngine issues and checks one-time codes. *otp.Engine satisfies it.
type OTPEngine interface {
	Issue(ctx context.Context, purpose otpdomain.Purpose, contact string) (int64, error)
	IssueDecoy(ctx context.Context, purpose otpdomain.Purpose, contact string) (int64, error)
	Verify(ctx context.Context, pendingID int64, purpose otpdomain.Purpose, code string) error
	Resend(ctx context.Context, pendingID int64) (int64, error)
	Lookup(ctx context.Context, pendingID int64) (*otpdomain.Challenge, error)
}

// TokenStore persists refresh tokens. *refreshtoken.Store satisfies it.
type TokenStore interface {
	Create(ctx context.Context, userID string, expiresAt time.Time) (*tokendomain.Token, string, error)
	FindByPlaintext(ctx context.Context, plaintext string) (*tokendomain.Token, error)
	DeleteByID(ctx context.Context, id string) error
	DeleteByUser(ctx context.Context, userID string) (int64, error)
	Rotate(ctx context.Context, old *tokendomain.Token, expiresAt time.Time) (*tokendomain.Token, string, error)
}

// AccessTokenIssuer signs access tokens. *security.TokenProvider satisfies it.
type AccessTokenIssuer interface {
	IssueAccess(principal security.Principal) (string, time.Time, error)
}

// LockoutPolicy tracks failed logins. *lockout.Policy satisfies it.
type LockoutPolicy interface {
	OnFailedAttempt(ctx context.Context, userID string) (bool, error)
	OnSuccess(ctx context.Context, userID string) error
}

// PasswordHasher hashes and checks passwords. *security.Hasher satisfies it.
type PasswordHasher interface {
	Hash(plaintext string) (string, error)
	Verify(plaintext, secret string) bool
}

// AuthService implements the two-step OTP login, refresh rotation, logout and password reset.
// It holds no per-user state; concurrent calls rely on the stores' atomic updates.
type AuthService struct {
	users      UserDirectory
	otp        OTPEngine
	tokens     TokenStore
	access     AccessTokenIssuer
	lockout    LockoutPolicy
	hasher     PasswordHasher
	audit      audit.Sink
	logger     *zap.Logger
	refreshTTL time.Duration
	now        func() time.Time

	tracer        trace.Tracer
	loginFailures metric.Int64Counter
	otpIssued     metric.Int64Counter
	rotations     metric.Int64Counter
}

// Option configures optional AuthService collaborators.
type Option func(*AuthService)

// WithAuditSink sets the audit sink. Without it events are dropped.
func WithAuditSink(s audit.Sink) Option { return func(a *AuthService) { a.audit = s } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(a *AuthService) { a.logger = l } }

// WithClock overrides the wall clock used for refresh token expiry.
func WithClock(now func() time.Time) Option { return func(a *AuthService) { a.now = now } }

// WithRefreshTTL overrides DefaultRefreshTTL.
func WithRefreshTTL(d time.Duration) Option {
	return func(a *AuthService) {
		if d > 0 {
			a.refreshTTL = d
		}
	}
}

// NewAuthService returns an AuthService with the given dependencies.
func NewAuthService(
	users UserDirectory,
	otpEngine OTPEngine,
	tokens TokenStore,
	access AccessTokenIssuer,
	lockout LockoutPolicy,
	hasher PasswordHasher,
	opts ...Option,
) *AuthService {
	s := &AuthService{
		users:      users,
		otp:        otpEngine,
		tokens:     tokens,
		access:     access,
		lockout:    lockout,
		hasher:     hasher,
		audit:      nopSink{},
		logger:     zap.NewNop(),
		refreshTTL: DefaultRefreshTTL,
		now:        func() time.Time { return time.Now().UTC() },
		tracer:     otel.Tracer("roomchat/backend/identity"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.audit == nil {
		s.audit = nopSink{}
	}
	meter := otel.Meter("roomchat/backend/identity")
	s.loginFailures, _ = meter.Int64Counter("auth.login.failures", metric.WithDescription("Failed password checks"))
	s.otpIssued, _ = meter.Int64Counter("auth.otp.issued", metric.WithDescription("OTP challenges issued by auth flows"))
	s.rotations, _ = meter.Int64Counter("auth.refresh.rotations", metric.WithDescription("Successful refresh token rotations"))
	return s
}

// Login checks the password and, on success, issues an OTP to the email. No token is issued.
// Unknown, blocked and deleted accounts all yield ErrInvalidCredentials.
func (s *AuthService) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	ctx, span := s.tracer.Start(ctx, "auth.Login")
	defer span.End()

	email = userdomain.NormalizeEmail(email)
	if err := userdomain.ValidateEmail(email); err != nil {
		return nil, spanErr(span, err)
	}
	u, err := s.users.FindActiveByEmail(ctx, email)
	if err != nil {
		return nil, spanErr(span, fmt.Errorf("auth: find user: %w", err))
	}
	if u == nil {
		return nil, spanErr(span, ErrInvalidCredentials)
	}
	if !s.hasher.Verify(password, u.PasswordHash) {
		s.recordFailedLogin(ctx, u)
		return nil, spanErr(span, fmt.Errorf("%w: wrong password for %s", ErrInvalidCredentials, email))
	}
	pendingID, err := s.otp.Issue(ctx, otpdomain.PurposeLogin, email)
	if err != nil {
		return nil, spanErr(span, err)
	}
	s.otpIssued.Add(ctx, 1, metric.WithAttributes(attribute.String("flow", "login")))
	span.SetAttributes(attribute.String("user.id", u.ID))
	return &LoginResult{PendingID: pendingID}, nil
}

// recordFailedLogin applies the lockout policy. A persistence failure never changes the
// caller's error; it is logged and audited instead.
func (s *AuthService) recordFailedLogin(ctx context.Context, u *userdomain.User) {
	s.loginFailures.Add(ctx, 1)
	blocked, err := s.lockout.OnFailedAttempt(ctx, u.ID)
	if err != nil {
		s.logger.Error("lockout update failed", zap.String("user_id", u.ID), zap.Error(err))
		s.audit.Record(ctx, audit.ActionLockoutUpdateFailed, u.ID, map[string]any{"error": err.Error()})
		return
	}
	if blocked {
		s.logger.Warn("account blocked after failed logins", zap.String("user_id", u.ID))
		s.audit.Record(ctx, audit.ActionAccountBlocked, u.ID, nil)
	}
}

// VerifyLogin completes a login: verifies the OTP, resets the failure counter and issues a
// token pair. OTP failures map to ErrInvalidOTP, except an exhausted budget which maps to
// ErrOTPAttemptsExhausted.
func (s *AuthService) VerifyLogin(ctx context.Context, pendingID int64, code string) (*AuthResult, error) {
	ctx, span := s.tracer.Start(ctx, "auth.VerifyLogin", trace.WithAttributes(attribute.Int64("otp.pending_id", pendingID)))
	defer span.End()

	u, err := s.verifyOTPUser(ctx, pendingID, otpdomain.PurposeLogin, code)
	if err != nil {
		return nil, spanErr(span, err)
	}
	if err := s.lockout.OnSuccess(ctx, u.ID); err != nil {
		s.logger.Error("lockout reset failed", zap.String("user_id", u.ID), zap.Error(err))
	}
	res, err := s.issueTokens(ctx, u)
	if err != nil {
		return nil, spanErr(span, err)
	}
	s.audit.Record(ctx, audit.ActionUserLogin, u.ID, map[string]any{"method": "password+otp"})
	return res, nil
}

// Refresh rotates a refresh token: the presented token is consumed and a new pair returned.
// Expired tokens are deleted on first use. Replays and lost races yield ErrInvalidRefreshToken.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*AuthResult, error) {
	ctx, span := s.tracer.Start(ctx, "auth.Refresh")
	defer span.End()

	t, err := s.tokens.FindByPlaintext(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, refreshtoken.ErrNotFound) {
			return nil, spanErr(span, ErrInvalidRefreshToken)
		}
		return nil, spanErr(span, fmt.Errorf("auth: find refresh token: %w", err))
	}
	if t.Expired(s.now()) {
		if err := s.tokens.DeleteByID(ctx, t.ID); err != nil {
			s.logger.Error("delete expired refresh token", zap.String("token_id", t.ID), zap.Error(err))
		}
		return nil, spanErr(span, ErrInvalidRefreshToken)
	}
	u, err := s.users.FindActiveByID(ctx, t.UserID)
	if err != nil {
		return nil, spanErr(span, fmt.Errorf("auth: find user: %w", err))
	}
	if u == nil {
		return nil, spanErr(span, ErrInvalidRefreshToken)
	}

	// Sign first so a signing failure leaves the old token usable.
	access, accessExp, err := s.access.IssueAccess(principal(u))
	if err != nil {
		return nil, spanErr(span, fmt.Errorf("auth: issue access token: %w", err))
	}
	refreshExp := s.now().Add(s.refreshTTL)
	_, plaintext, err := s.tokens.Rotate(ctx, t, refreshExp)
	if err != nil {
		if errors.Is(err, refreshtoken.ErrNotFound) {
			return nil, spanErr(span, ErrInvalidRefreshToken)
		}
		return nil, spanErr(span, fmt.Errorf("auth: rotate refresh token: %w", err))
	}
	s.rotations.Add(ctx, 1)
	return &AuthResult{
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     plaintext,
		RefreshExpiresAt: refreshExp,
		UserID:           u.ID,
	}, nil
}

// Logout deletes every refresh token of the user. Idempotent.
func (s *AuthService) Logout(ctx context.Context, userID string) error {
	ctx, span := s.tracer.Start(ctx, "auth.Logout")
	defer span.End()

	n, err := s.tokens.DeleteByUser(ctx, userID)
	if err != nil {
		return spanErr(span, fmt.Errorf("auth: logout: %w", err))
	}
	s.audit.Record(ctx, audit.ActionUserLogout, userID, map[string]any{"revoked_tokens": n})
	return nil
}

// RequestPasswordReset sends a reset OTP when an active account exists for email. Otherwise a
// decoy challenge is stored and nothing is sent, so both outcomes return the same message and
// a PendingID from the same sequence.
func (s *AuthService) RequestPasswordReset(ctx context.Context, email string) (*ResetRequestResult, error) {
	ctx, span := s.tracer.Start(ctx, "auth.RequestPasswordReset")
	defer span.End()

	email = userdomain.NormalizeEmail(email)
	if err := userdomain.ValidateEmail(email); err != nil {
		return nil, spanErr(span, err)
	}
	res := &ResetRequestResult{Message: PasswordResetMessage}
	u, err := s.users.FindActiveByEmail(ctx, email)
	if err != nil {
		return nil, spanErr(span, fmt.Errorf("auth: find user: %w", err))
	}
	if u == nil {
		pendingID, err := s.otp.IssueDecoy(ctx, otpdomain.PurposePasswordReset, email)
		if err != nil {
			return nil, spanErr(span, err)
		}
		res.PendingID = pendingID
		return res, nil
	}
	pendingID, err := s.otp.Issue(ctx, otpdomain.PurposePasswordReset, email)
	if err != nil {
		return nil, spanErr(span, err)
	}
	s.otpIssued.Add(ctx, 1, metric.WithAttributes(attribute.String("flow", "password_reset")))
	s.audit.Record(ctx, audit.ActionPasswordResetRequested, u.ID, nil)
	res.PendingID = pendingID
	return res, nil
}

// VerifyPasswordReset checks the OTP, stores the new password and revokes every refresh token
// of the user. Input is validated before the OTP attempt is spent.
func (s *AuthService) VerifyPasswordReset(ctx context.Context, pendingID int64, code, newPassword, confirmPassword string) error {
	ctx, span := s.tracer.Start(ctx, "auth.VerifyPasswordReset", trace.WithAttributes(attribute.Int64("otp.pending_id", pendingID)))
	defer span.End()

	if newPassword != confirmPassword {
		return spanErr(span, ErrPasswordMismatch)
	}
	if err := userdomain.ValidatePassword(newPassword); err != nil {
		return spanErr(span, err)
	}
	u, err := s.verifyOTPUser(ctx, pendingID, otpdomain.PurposePasswordReset, code)
	if errors.Is(err, ErrInvalidCredentials) {
		err = ErrInvalidOTP
	}
	if err != nil {
		return spanErr(span, err)
	}
	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return spanErr(span, fmt.Errorf("auth: hash password: %w", err))
	}
	if err := s.users.SetPasswordHash(ctx, u.ID, hash); err != nil {
		return spanErr(span, fmt.Errorf("auth: set password: %w", err))
	}
	n, err := s.tokens.DeleteByUser(ctx, u.ID)
	if err != nil {
		return spanErr(span, fmt.Errorf("auth: revoke refresh tokens: %w", err))
	}
	s.audit.Record(ctx, audit.ActionPasswordReset, u.ID, map[string]any{"revoked_tokens": n})
	return nil
}

// ResendOTP issues a new challenge for the contact behind pendingID and returns its id.
func (s *AuthService) ResendOTP(ctx context.Context, pendingID int64) (int64, error) {
	ctx, span := s.tracer.Start(ctx, "auth.ResendOTP", trace.WithAttributes(attribute.Int64("otp.pending_id", pendingID)))
	defer span.End()

	id, err := s.otp.Resend(ctx, pendingID)
	if err != nil {
		if errors.Is(err, otp.ErrNotFound) || errors.Is(err, otp.ErrAlreadyUsed) {
			return 0, spanErr(span, ErrInvalidOTP)
		}
		return 0, spanErr(span, err)
	}
	s.otpIssued.Add(ctx, 1, metric.WithAttributes(attribute.String("flow", "resend")))
	return id, nil
}

// verifyOTPUser verifies the code and resolves the active user owning the challenge contact.
func (s *AuthService) verifyOTPUser(ctx context.Context, pendingID int64, purpose otpdomain.Purpose, code string) (*userdomain.User, error) {
	if err := s.otp.Verify(ctx, pendingID, purpose, code); err != nil {
		return nil, mapOTPError(err)
	}
	c, err := s.otp.Lookup(ctx, pendingID)
	if err != nil {
		return nil, mapOTPError(err)
	}
	u, err := s.users.FindActiveByEmail(ctx, c.Contact)
	if err != nil {
		return nil, fmt.Errorf("auth: find user: %w", err)
	}
	if u == nil {
		return nil, ErrInvalidCredentials
	}
	return u, nil
}

func (s *AuthService) issueTokens(ctx context.Context, u *userdomain.User) (*AuthResult, error) {
	access, accessExp, err := s.access.IssueAccess(principal(u))
	if err != nil {
		return nil, fmt.Errorf("auth: issue access token: %w", err)
	}
	refreshExp := s.now().Add(s.refreshTTL)
	_, plaintext, err := s.tokens.Create(ctx, u.ID, refreshExp)
	if err != nil {
		return nil, fmt.Errorf("auth: create refresh token: %w", err)
	}
	return &AuthResult{
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     plaintext,
		RefreshExpiresAt: refreshExp,
		UserID:           u.ID,
	}, nil
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
	return fmt.Errorf("auth: verify otp: %w", err)
}

func principal(u *userdomain.User) security.Principal {
	return security.Principal{UserID: u.ID, Role: string(u.Role), Email: u.Email}
}

// spanErr records err on the span and returns it unchanged.
func spanErr(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

type nopSink struct{}

func (nopSink) Record(context.Context, string, string, map[string]any) {}
