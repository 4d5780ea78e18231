package repository

import (
	"context"
	"errors"
	"time"

	"roomchat/backend/internal/otp/domain"
)

// ErrRecentChallenge is returned by Create when the contact already has a non-voided challenge
// created strictly after the given cutoff.
var ErrRecentChallenge = errors.New("recent challenge exists for contact")

// Repository defines persistence for OTP challenges. Every mutation is a single conditional
// statement so concurrent callers cannot both succeed.
type Repository interface {
	// Create inserts c and returns its new id, unless a non-voided challenge for c.Contact was
	// created after since; then it returns ErrRecentChallenge and inserts nothing.
	Create(ctx context.Context, c *domain.Challenge, since time.Time) (int64, error)
	// GetByID returns the challenge or nil if not found.
	GetByID(ctx context.Context, id int64) (*domain.Challenge, error)
	// IncrementAttempts adds one to attempt_count if the challenge is unused, not voided and
	// below max. Reports whether a row changed.
	IncrementAttempts(ctx context.Context, id int64, max int) (bool, error)
	// MarkUsed sets is_used and used_at under the same conditions. Reports whether a row changed.
	MarkUsed(ctx context.Context, id int64, at time.Time, max int) (bool, error)
	// Void marks the challenge undeliverable.
	Void(ctx context.Context, id int64, at time.Time) error
}
