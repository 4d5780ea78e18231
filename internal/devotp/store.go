// Package devotp keeps plaintext OTP codes by pending-id so they can be fetched over
// GET /dev/otp/{pendingId}. Only used when dev OTP mode is enabled outside production.
package devotp

import (
	"context"
	"sync"
	"time"
)

// Store holds plain OTP by pending-id for dev-only retrieval. Not used in production.
type Store interface {
	// Put stores code for pendingID until expiresAt.
	Put(ctx context.Context, pendingID int64, code string, expiresAt time.Time)
	// Get returns the code for pendingID if present and not expired.
	Get(ctx context.Context, pendingID int64) (code string, ok bool)
	// Delete drops the code, e.g. once the challenge is consumed or voided.
	Delete(ctx context.Context, pendingID int64)
}

type entry struct {
	code      string
	expiresAt time.Time
}

// MemoryStore is an in-memory Store implementation.
type MemoryStore struct {
	mu   sync.RWMutex
	m    map[int64]entry
	nowF func() time.Time
}

// NewMemoryStore returns a new in-memory dev OTP store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		m:    make(map[int64]entry),
		nowF: func() time.Time { return time.Now().UTC() },
	}
}

// Put stores code for pendingID until expiresAt. Expired entries are swept on each Put.
func (s *MemoryStore) Put(ctx context.Context, pendingID int64, code string, expiresAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.nowF()
	for id, e := range s.m {
		if !e.expiresAt.After(now) {
			delete(s.m, id)
		}
	}
	s.m[pendingID] = entry{code: code, expiresAt: expiresAt}
}

// Get returns the code for pendingID if present and not expired.
func (s *MemoryStore) Get(ctx context.Context, pendingID int64) (string, bool) {
	s.mu.RLock()
	e, ok := s.m[pendingID]
	s.mu.RUnlock()
	if !ok {
		return "", false
	}
	if !e.expiresAt.After(s.nowF()) {
		s.Delete(ctx, pendingID)
		return "", false
	}
	return e.code, true
}

// Delete removes the entry for pendingID if any.
func (s *MemoryStore) Delete(ctx context.Context, pendingID int64) {
	s.mu.Lock()
	delete(s.m, pendingID)
	s.mu.Unlock()
}
