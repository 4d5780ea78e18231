// Package otp issues and verifies one-time email codes. Each challenge is addressed by a
// numeric pending-id; the contact is never returned by Verify, only by Lookup.
package otp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"roomchat/backend/internal/devotp"
	"roomchat/backend/internal/mail"
	"roomchat/backend/internal/otp/domain"
	"roomchat/backend/internal/otp/repository"
)

var (
	ErrNotFound          = errors.New("otp challenge not found")
	ErrExpired           = errors.New("otp challenge expired")
	ErrAlreadyUsed       = errors.New("otp challenge already used")
	ErrAttemptsExhausted = errors.New("otp attempts exhausted")
	ErrInvalidCode       = errors.New("invalid otp code")
	ErrRateLimited       = errors.New("otp requested too soon")
)

const (
	DefaultTTL             = 300 * time.Second
	DefaultRateLimitWindow = 60 * time.Second
	DefaultMaxAttempts     = 3
)

// Config holds challenge lifetime, per-contact issuance window and the attempt budget.
type Config struct {
	TTL             time.Duration
	RateLimitWindow time.Duration
	MaxAttempts     int
}

// DefaultConfig returns 300s TTL, 60s window and 3 attempts.
func DefaultConfig() Config {
	return Config{TTL: DefaultTTL, RateLimitWindow: DefaultRateLimitWindow, MaxAttempts: DefaultMaxAttempts}
}

// CodeHasher hashes codes at rest. security.Hasher satisfies it.
type CodeHasher interface {
	Hash(plaintext string) (string, error)
	Verify(plaintext, secret string) bool
}

// Engine implements issue, verify, resend and lookup over a challenge Repository.
type Engine struct {
	repo     repository.Repository
	hasher   CodeHasher
	sender   mail.Sender
	cfg      Config
	throttle Throttle
	devStore devotp.Store
	now      func() time.Time
	logger   *zap.Logger
	tracer   trace.Tracer
}

// Option configures optional Engine collaborators.
type Option func(*Engine)

// WithThrottle adds a cross-instance issuance guard in front of the database lookback.
func WithThrottle(t Throttle) Option { return func(e *Engine) { e.throttle = t } }

// WithDevStore records plaintext codes for dev retrieval. Never set in production.
func WithDevStore(s devotp.Store) Option { return func(e *Engine) { e.devStore = s } }

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(e *Engine) { e.logger = l } }

// NewEngine returns an Engine. Zero fields in cfg take their defaults.
func NewEngine(repo repository.Repository, hasher CodeHasher, sender mail.Sender, cfg Config, opts ...Option) *Engine {
	def := DefaultConfig()
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = def.RateLimitWindow
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	e := &Engine{
		repo:   repo,
		hasher: hasher,
		sender: sender,
		cfg:    cfg,
		now:    func() time.Time { return time.Now().UTC() },
		logger: zap.NewNop(),
		tracer: otel.Tracer("roomchat/backend/otp"),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	return e
}

// Issue creates a challenge for contact bound to purpose and emails the code. It returns
// ErrRateLimited when another challenge for contact was issued within the window. If the email
// cannot be sent the challenge is voided and the error wraps mail.ErrDelivery.
func (e *Engine) Issue(ctx context.Context, purpose domain.Purpose, contact string) (int64, error) {
	ctx, span := e.tracer.Start(ctx, "otp.Issue", trace.WithAttributes(attribute.String("otp.purpose", string(purpose))))
	defer span.End()

	id, err := e.issue(ctx, purpose, contact, false)
	if err != nil {
		recordErr(span, err)
		return 0, err
	}
	span.SetAttributes(attribute.Int64("otp.pending_id", id))
	return id, nil
}

// IssueDecoy persists a challenge that is never delivered and never verifies. Callers use it
// for contacts without an account so the response carries a pending-id from the same sequence,
// under the same rate limit, as a real issuance.
func (e *Engine) IssueDecoy(ctx context.Context, purpose domain.Purpose, contact string) (int64, error) {
	ctx, span := e.tracer.Start(ctx, "otp.Issue", trace.WithAttributes(attribute.String("otp.purpose", string(purpose))))
	defer span.End()

	id, err := e.issue(ctx, purpose, contact, true)
	if err != nil {
		recordErr(span, err)
		return 0, err
	}
	span.SetAttributes(attribute.Int64("otp.pending_id", id))
	return id, nil
}

func (e *Engine) issue(ctx context.Context, purpose domain.Purpose, contact string, decoy bool) (int64, error) {
	if contact == "" {
		return 0, errors.New("otp: contact is required")
	}
	if !purpose.Valid() {
		return 0, fmt.Errorf("otp: unknown purpose %q", purpose)
	}
	now := e.now()
	if e.throttle != nil {
		ok, err := e.throttle.Acquire(ctx, contact, e.cfg.RateLimitWindow)
		if err != nil {
			// The database lookback below still enforces the window.
			e.logger.Warn("otp throttle unavailable", zap.Error(err))
		} else if !ok {
			return 0, ErrRateLimited
		}
	}

	code, err := GenerateCode()
	if err != nil {
		e.release(ctx, contact)
		return 0, fmt.Errorf("otp: generate code: %w", err)
	}
	hash, err := e.hasher.Hash(code)
	if err != nil {
		e.release(ctx, contact)
		return 0, fmt.Errorf("otp: hash code: %w", err)
	}
	c := &domain.Challenge{
		Contact:   contact,
		Purpose:   purpose,
		CodeHash:  hash,
		Decoy:     decoy,
		CreatedAt: now,
		ExpiresAt: now.Add(e.cfg.TTL),
	}
	id, err := e.repo.Create(ctx, c, now.Add(-e.cfg.RateLimitWindow))
	if err != nil {
		// Nothing was issued, so the throttle key must not hold the window.
		e.release(ctx, contact)
		if errors.Is(err, repository.ErrRecentChallenge) {
			return 0, ErrRateLimited
		}
		return 0, fmt.Errorf("otp: create challenge: %w", err)
	}
	if decoy {
		e.logger.Debug("otp decoy issued", zap.Int64("pending_id", id))
		return id, nil
	}

	if err := e.sender.Send(ctx, contact, "Your verification code", codeMessage(code, e.cfg.TTL)); err != nil {
		if vErr := e.repo.Void(ctx, id, e.now()); vErr != nil {
			e.logger.Error("otp void after failed delivery", zap.Int64("pending_id", id), zap.Error(vErr))
		}
		e.release(ctx, contact)
		if !errors.Is(err, mail.ErrDelivery) {
			err = fmt.Errorf("%w: %v", mail.ErrDelivery, err)
		}
		return 0, fmt.Errorf("otp: send code: %w", err)
	}
	if e.devStore != nil {
		e.devStore.Put(ctx, id, code, c.ExpiresAt)
	}
	e.logger.Debug("otp issued", zap.Int64("pending_id", id))
	return id, nil
}

func (e *Engine) release(ctx context.Context, contact string) {
	if e.throttle == nil {
		return
	}
	if err := e.throttle.Release(ctx, contact); err != nil {
		e.logger.Warn("otp throttle release", zap.Error(err))
	}
}

// Verify checks code against the challenge issued for purpose. Failures, in precedence order:
// ErrNotFound (also for a challenge issued for another purpose, which costs no attempt),
// ErrExpired, ErrAlreadyUsed, ErrAttemptsExhausted, then ErrInvalidCode on mismatch (which
// consumes one attempt). On success the challenge becomes used and can never verify again.
func (e *Engine) Verify(ctx context.Context, pendingID int64, purpose domain.Purpose, code string) error {
	ctx, span := e.tracer.Start(ctx, "otp.Verify", trace.WithAttributes(
		attribute.Int64("otp.pending_id", pendingID),
		attribute.String("otp.purpose", string(purpose)),
	))
	defer span.End()

	if err := e.verify(ctx, pendingID, purpose, code); err != nil {
		recordErr(span, err)
		return err
	}
	return nil
}

func (e *Engine) verify(ctx context.Context, pendingID int64, purpose domain.Purpose, code string) error {
	c, err := e.load(ctx, pendingID)
	if err != nil {
		return err
	}
	if c.Purpose != purpose {
		return ErrNotFound
	}
	now := e.now()
	if err := e.checkOpen(c, now); err != nil {
		return err
	}

	if c.Decoy || !validCode(code) || !e.hasher.Verify(code, c.CodeHash) {
		ok, err := e.repo.IncrementAttempts(ctx, pendingID, e.cfg.MaxAttempts)
		if err != nil {
			return fmt.Errorf("otp: record attempt: %w", err)
		}
		if !ok {
			return e.reclassify(ctx, pendingID)
		}
		return ErrInvalidCode
	}

	ok, err := e.repo.MarkUsed(ctx, pendingID, now, e.cfg.MaxAttempts)
	if err != nil {
		return fmt.Errorf("otp: mark used: %w", err)
	}
	if !ok {
		return e.reclassify(ctx, pendingID)
	}
	if e.devStore != nil {
		e.devStore.Delete(ctx, pendingID)
	}
	return nil
}

// Resend issues a fresh challenge for the same contact and purpose. The old challenge is left
// as is. A decoy is replaced by another decoy.
func (e *Engine) Resend(ctx context.Context, pendingID int64) (int64, error) {
	ctx, span := e.tracer.Start(ctx, "otp.Resend", trace.WithAttributes(attribute.Int64("otp.pending_id", pendingID)))
	defer span.End()

	c, err := e.load(ctx, pendingID)
	if err != nil {
		recordErr(span, err)
		return 0, err
	}
	if c.IsUsed {
		recordErr(span, ErrAlreadyUsed)
		return 0, ErrAlreadyUsed
	}
	if e.now().Sub(c.CreatedAt) < e.cfg.RateLimitWindow {
		recordErr(span, ErrRateLimited)
		return 0, ErrRateLimited
	}
	id, err := e.issue(ctx, c.Purpose, c.Contact, c.Decoy)
	if err != nil {
		recordErr(span, err)
		return 0, err
	}
	return id, nil
}

// Lookup returns the challenge for pendingID without changing it.
func (e *Engine) Lookup(ctx context.Context, pendingID int64) (*domain.Challenge, error) {
	return e.load(ctx, pendingID)
}

// Config returns the effective configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

func (e *Engine) load(ctx context.Context, pendingID int64) (*domain.Challenge, error) {
	if pendingID <= 0 {
		return nil, ErrNotFound
	}
	c, err := e.repo.GetByID(ctx, pendingID)
	if err != nil {
		return nil, fmt.Errorf("otp: load challenge: %w", err)
	}
	if c == nil || c.Voided() {
		return nil, ErrNotFound
	}
	return c, nil
}

func (e *Engine) checkOpen(c *domain.Challenge, now time.Time) error {
	switch {
	case c.Expired(now):
		return ErrExpired
	case c.IsUsed:
		return ErrAlreadyUsed
	case c.AttemptCount >= e.cfg.MaxAttempts:
		return ErrAttemptsExhausted
	}
	return nil
}

// reclassify explains why a conditional update matched no row: a concurrent call used,
// exhausted or voided the challenge.
func (e *Engine) reclassify(ctx context.Context, pendingID int64) error {
	c, err := e.load(ctx, pendingID)
	if err != nil {
		return err
	}
	switch {
	case c.IsUsed:
		return ErrAlreadyUsed
	case c.AttemptCount >= e.cfg.MaxAttempts:
		return ErrAttemptsExhausted
	}
	return ErrInvalidCode
}

func codeMessage(code string, ttl time.Duration) string {
	return fmt.Sprintf("Your verification code is %s. It expires in %d minutes.", code, int(ttl.Minutes()))
}

func recordErr(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
