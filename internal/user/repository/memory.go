package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"roomchat/backend/internal/user/domain"
)

// MemoryRepository is an in-process Repository. Used by tests and local runs without a database.
type MemoryRepository struct {
	mu   sync.Mutex
	byID map[string]*domain.User
}

// NewMemoryRepository returns a MemoryRepository seeded with users.
func NewMemoryRepository(users ...*domain.User) *MemoryRepository {
	r := &MemoryRepository{byID: make(map[string]*domain.User)}
	for _, u := range users {
		cp := *u
		r.byID[u.ID] = &cp
	}
	return r
}

func (r *MemoryRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	return r.find(func(u *domain.User) bool { return u.ID == id }), nil
}

func (r *MemoryRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	email = domain.NormalizeEmail(email)
	return r.find(func(u *domain.User) bool {
		return strings.EqualFold(u.Email, email) && u.Status != domain.UserStatusDeleted
	}), nil
}

func (r *MemoryRepository) FindActiveByEmail(ctx context.Context, email string) (*domain.User, error) {
	email = domain.NormalizeEmail(email)
	return r.find(func(u *domain.User) bool { return strings.EqualFold(u.Email, email) && u.IsActive() }), nil
}

func (r *MemoryRepository) FindActiveByID(ctx context.Context, id string) (*domain.User, error) {
	return r.find(func(u *domain.User) bool { return u.ID == id && u.IsActive() }), nil
}

func (r *MemoryRepository) List(ctx context.Context) ([]*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*domain.User, 0, len(r.byID))
	for _, u := range r.byID {
		cp := *u
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *MemoryRepository) Create(ctx context.Context, u *domain.User) error {
	if err := u.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	email := domain.NormalizeEmail(u.Email)
	for _, existing := range r.byID {
		if strings.EqualFold(existing.Email, email) && existing.Status != domain.UserStatusDeleted {
			return ErrEmailTaken
		}
	}
	cp := *u
	cp.Email = email
	r.byID[u.ID] = &cp
	return nil
}

func (r *MemoryRepository) IncrementFailureCounter(ctx context.Context, id string) (int, error) {
	var n int
	err := r.update(id, func(u *domain.User) { u.LoginFailures++; n = u.LoginFailures })
	return n, err
}

func (r *MemoryRepository) UpdateFailureCounter(ctx context.Context, id string, value int) error {
	return r.update(id, func(u *domain.User) { u.LoginFailures = value })
}

func (r *MemoryRepository) SetStatus(ctx context.Context, id string, status domain.UserStatus) error {
	return r.update(id, func(u *domain.User) { u.Status = status })
}

func (r *MemoryRepository) BlockActive(ctx context.Context, id string) (bool, error) {
	var changed bool
	err := r.update(id, func(u *domain.User) {
		if u.Status == domain.UserStatusActive {
			u.Status = domain.UserStatusBlocked
			changed = true
		}
	})
	return changed, err
}

func (r *MemoryRepository) UpdateProfile(ctx context.Context, id, name, email string) error {
	email = domain.NormalizeEmail(email)
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[id]
	if !ok || u.Status == domain.UserStatusDeleted {
		return ErrNotFound
	}
	for _, other := range r.byID {
		if other.ID != id && strings.EqualFold(other.Email, email) && other.Status != domain.UserStatusDeleted {
			return ErrEmailTaken
		}
	}
	u.Name = name
	u.Email = email
	u.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *MemoryRepository) SetPasswordHash(ctx context.Context, id, passwordHash string) error {
	return r.update(id, func(u *domain.User) { u.PasswordHash = passwordHash })
}

func (r *MemoryRepository) SoftDelete(ctx context.Context, id string, at time.Time) error {
	err := r.update(id, func(u *domain.User) {
		if u.Status != domain.UserStatusDeleted {
			u.Status = domain.UserStatusDeleted
			u.DeletedAt = &at
		}
	})
	if err == ErrNotFound {
		return nil
	}
	return err
}

func (r *MemoryRepository) find(match func(*domain.User) bool) *domain.User {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.byID {
		if match(u) {
			cp := *u
			return &cp
		}
	}
	return nil
}

func (r *MemoryRepository) update(id string, fn func(*domain.User)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[id]
	if !ok {
		return ErrNotFound
	}
	fn(u)
	u.UpdatedAt = time.Now().UTC()
	return nil
}
