package repository

import (
	"context"
	"sort"
	"sync"

	"roomchat/backend/internal/refreshtoken/domain"
)

// MemoryRepository is an in-process Repository; Rotate is atomic under its mutex.
// Used by tests and local runs without a database.
type MemoryRepository struct {
	mu sync.Mutex
	m  map[string]*domain.Token
}

// NewMemoryRepository returns an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{m: make(map[string]*domain.Token)}
}

func (r *MemoryRepository) Create(ctx context.Context, t *domain.Token) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *t
	r.m[t.ID] = &cp
	return nil
}

func (r *MemoryRepository) ListAll(ctx context.Context) ([]*domain.Token, error) {
	return r.filter(func(*domain.Token) bool { return true }), nil
}

func (r *MemoryRepository) ListByUser(ctx context.Context, userID string) ([]*domain.Token, error) {
	return r.filter(func(t *domain.Token) bool { return t.UserID == userID }), nil
}

func (r *MemoryRepository) DeleteByID(ctx context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.m[id]
	delete(r.m, id)
	return ok, nil
}

func (r *MemoryRepository) DeleteByUser(ctx context.Context, userID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, t := range r.m {
		if t.UserID == userID {
			delete(r.m, id)
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepository) Rotate(ctx context.Context, oldID string, next *domain.Token) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.m[oldID]; !ok {
		return ErrNotFound
	}
	delete(r.m, oldID)
	cp := *next
	r.m[next.ID] = &cp
	return nil
}

func (r *MemoryRepository) filter(keep func(*domain.Token) bool) []*domain.Token {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Token
	for _, t := range r.m {
		if keep(t) {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}
