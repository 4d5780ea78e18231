package repository

import (
	"context"
	"sync"
	"time"

	"roomchat/backend/internal/otp/domain"
)

// MemoryRepository is an in-process Repository with the same conditional-update semantics as
// PostgresRepository. Used by tests and local runs without a database.
type MemoryRepository struct {
	mu     sync.Mutex
	nextID int64
	m      map[int64]*domain.Challenge
}

// NewMemoryRepository returns an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{m: make(map[int64]*domain.Challenge)}
}

func (r *MemoryRepository) Create(ctx context.Context, c *domain.Challenge, since time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.m {
		if existing.Contact == c.Contact && existing.VoidedAt == nil && existing.CreatedAt.After(since) {
			return 0, ErrRecentChallenge
		}
	}
	r.nextID++
	c.ID = r.nextID
	cp := *c
	r.m[cp.ID] = &cp
	return cp.ID, nil
}

func (r *MemoryRepository) GetByID(ctx context.Context, id int64) (*domain.Challenge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.m[id]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (r *MemoryRepository) IncrementAttempts(ctx context.Context, id int64, max int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.m[id]
	if !ok || !open(c, max) {
		return false, nil
	}
	c.AttemptCount++
	return true, nil
}

func (r *MemoryRepository) MarkUsed(ctx context.Context, id int64, at time.Time, max int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.m[id]
	if !ok || !open(c, max) {
		return false, nil
	}
	c.IsUsed = true
	c.UsedAt = &at
	return true, nil
}

func (r *MemoryRepository) Void(ctx context.Context, id int64, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.m[id]; ok && c.VoidedAt == nil {
		c.VoidedAt = &at
	}
	return nil
}

// Len returns the number of stored challenges.
func (r *MemoryRepository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.m)
}

func open(c *domain.Challenge, max int) bool {
	return !c.IsUsed && c.VoidedAt == nil && c.AttemptCount < max
}
