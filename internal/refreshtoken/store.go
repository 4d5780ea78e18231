// Package refreshtoken stores opaque refresh tokens hashed at rest. The plaintext is returned
// once by Create or Rotate and cannot be recovered afterwards.
package refreshtoken

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"roomchat/backend/internal/refreshtoken/domain"
	"roomchat/backend/internal/refreshtoken/repository"
	"roomchat/backend/internal/security"
)

// ErrNotFound is returned when no stored token matches, or a rotated token is already gone.
var ErrNotFound = errors.New("refresh token not found")

// SecretHashCost is the bcrypt cost for refresh secrets. They carry 256 random bits, and
// FindByPlaintext verifies against every stored hash, so the cost stays at the bcrypt minimum.
const SecretHashCost = 4

// NewSecretHasher returns the hasher refresh secrets are stored with.
func NewSecretHasher() *security.Hasher {
	return security.NewHasher(SecretHashCost)
}

// SecretHasher hashes and verifies token secrets. security.Hasher satisfies it.
type SecretHasher interface {
	Hash(plaintext string) (string, error)
	Verify(plaintext, secret string) bool
}

// Store issues, resolves and revokes refresh tokens.
type Store struct {
	repo   repository.Repository
	hasher SecretHasher
	now    func() time.Time
}

// NewStore returns a Store over repo.
func NewStore(repo repository.Repository, hasher SecretHasher) *Store {
	return &Store{repo: repo, hasher: hasher, now: func() time.Time { return time.Now().UTC() }}
}

// Create mints a 256-bit token for userID and persists its hash.
func (s *Store) Create(ctx context.Context, userID string, expiresAt time.Time) (*domain.Token, string, error) {
	t, plaintext, err := s.mint(userID, expiresAt)
	if err != nil {
		return nil, "", err
	}
	if err := s.repo.Create(ctx, t); err != nil {
		return nil, "", fmt.Errorf("refresh token: create: %w", err)
	}
	return t, plaintext, nil
}

// FindByPlaintext scans stored hashes and returns the first token the plaintext verifies against.
// Expired tokens are returned too so the caller can purge them.
func (s *Store) FindByPlaintext(ctx context.Context, plaintext string) (*domain.Token, error) {
	if plaintext == "" {
		return nil, ErrNotFound
	}
	all, err := s.repo.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("refresh token: list: %w", err)
	}
	for _, t := range all {
		if s.hasher.Verify(plaintext, t.TokenHash) {
			return t, nil
		}
	}
	return nil, ErrNotFound
}

// DeleteByID removes one token. Deleting a missing token is not an error.
func (s *Store) DeleteByID(ctx context.Context, id string) error {
	if _, err := s.repo.DeleteByID(ctx, id); err != nil {
		return fmt.Errorf("refresh token: delete: %w", err)
	}
	return nil
}

// DeleteByUser removes every token of userID and returns how many were removed.
func (s *Store) DeleteByUser(ctx context.Context, userID string) (int64, error) {
	n, err := s.repo.DeleteByUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("refresh token: delete by user: %w", err)
	}
	return n, nil
}

// ListByUser returns the user's tokens, newest first.
func (s *Store) ListByUser(ctx context.Context, userID string) ([]*domain.Token, error) {
	return s.repo.ListByUser(ctx, userID)
}

// Rotate replaces old with a freshly minted token for the same user. Exactly one concurrent
// caller wins; the others get ErrNotFound and nothing is written for them.
func (s *Store) Rotate(ctx context.Context, old *domain.Token, expiresAt time.Time) (*domain.Token, string, error) {
	next, plaintext, err := s.mint(old.UserID, expiresAt)
	if err != nil {
		return nil, "", err
	}
	if err := s.repo.Rotate(ctx, old.ID, next); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, "", ErrNotFound
		}
		return nil, "", fmt.Errorf("refresh token: rotate: %w", err)
	}
	return next, plaintext, nil
}

func (s *Store) mint(userID string, expiresAt time.Time) (*domain.Token, string, error) {
	plaintext, err := security.NewOpaqueToken()
	if err != nil {
		return nil, "", fmt.Errorf("refresh token: generate: %w", err)
	}
	hash, err := s.hasher.Hash(plaintext)
	if err != nil {
		return nil, "", fmt.Errorf("refresh token: hash: %w", err)
	}
	return &domain.Token{
		ID:        uuid.New().String(),
		TokenHash: hash,
		UserID:    userID,
		ExpiresAt: expiresAt,
		CreatedAt: s.now(),
	}, plaintext, nil
}
