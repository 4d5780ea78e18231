package repository

import (
	"context"
	"errors"

	"roomchat/backend/internal/refreshtoken/domain"
)

// ErrNotFound is returned by Rotate when the token being replaced no longer exists.
var ErrNotFound = errors.New("refresh token not found")

// Repository defines persistence for refresh tokens.
type Repository interface {
	Create(ctx context.Context, t *domain.Token) error
	// ListAll returns every stored token, expired ones included.
	ListAll(ctx context.Context) ([]*domain.Token, error)
	ListByUser(ctx context.Context, userID string) ([]*domain.Token, error)
	// DeleteByID reports whether a row was removed.
	DeleteByID(ctx context.Context, id string) (bool, error)
	DeleteByUser(ctx context.Context, userID string) (int64, error)
	// Rotate inserts next and deletes oldID in one transaction. If oldID is already gone
	// nothing is written and ErrNotFound is returned.
	Rotate(ctx context.Context, oldID string, next *domain.Token) error
}
