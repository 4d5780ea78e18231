package repository

import (
	"context"
	"time"

	"roomchat/backend/internal/user/domain"
)

// Repository defines persistence for users. Lookups return (nil, nil) when no row matches.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
	// GetByEmail returns the non-deleted user with the given email in any status.
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	FindActiveByEmail(ctx context.Context, email string) (*domain.User, error)
	FindActiveByID(ctx context.Context, id string) (*domain.User, error)
	// List returns every user, deleted ones included, oldest first.
	List(ctx context.Context) ([]*domain.User, error)
	Create(ctx context.Context, u *domain.User) error
	// UpdateProfile sets name and email of a non-deleted user. It returns ErrEmailTaken when
	// another live user holds the email and ErrNotFound when no live user has the id.
	UpdateProfile(ctx context.Context, id, name, email string) error
	// IncrementFailureCounter atomically adds one to login_failures and returns the new value.
	IncrementFailureCounter(ctx context.Context, id string) (int, error)
	UpdateFailureCounter(ctx context.Context, id string, value int) error
	SetStatus(ctx context.Context, id string, status domain.UserStatus) error
	// BlockActive moves an active user to blocked and reports whether the status changed.
	BlockActive(ctx context.Context, id string) (bool, error)
	SetPasswordHash(ctx context.Context, id, passwordHash string) error
	// SoftDelete marks the user deleted at the given time. No-op if already deleted.
	SoftDelete(ctx context.Context, id string, at time.Time) error
}
