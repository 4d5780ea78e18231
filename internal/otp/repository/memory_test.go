package repository

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roomchat/backend/internal/otp/domain"
)

func newChallenge(contact string, at time.Time) *domain.Challenge {
	return &domain.Challenge{Contact: contact, CodeHash: "h", CreatedAt: at, ExpiresAt: at.Add(5 * time.Minute)}
}

func TestMemoryRepository_CreateLookback(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepository()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	id, err := r.Create(ctx, newChallenge("a@b.co", now), now.Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)

	_, err = r.Create(ctx, newChallenge("a@b.co", now.Add(30*time.Second)), now.Add(-30*time.Second))
	assert.ErrorIs(t, err, ErrRecentChallenge)

	_, err = r.Create(ctx, newChallenge("other@b.co", now), now.Add(-time.Minute))
	assert.NoError(t, err, "other contacts are independent")

	require.NoError(t, r.Void(ctx, id, now))
	_, err = r.Create(ctx, newChallenge("a@b.co", now.Add(time.Second)), now.Add(-time.Minute))
	assert.NoError(t, err, "voided challenges are excluded from lookback")
}

func TestMemoryRepository_CreateLookbackCutoffExclusive(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepository()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	_, err := r.Create(ctx, newChallenge("a@b.co", now), now.Add(-time.Minute))
	require.NoError(t, err)
	_, err = r.Create(ctx, newChallenge("a@b.co", now.Add(time.Minute)), now)
	assert.NoError(t, err, "a challenge created exactly at the cutoff does not block")
	_, err = r.Create(ctx, newChallenge("a@b.co", now.Add(time.Minute)), now.Add(time.Minute-time.Nanosecond))
	assert.ErrorIs(t, err, ErrRecentChallenge)
}

func TestMemoryRepository_ConditionalUpdates(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepository()
	now := time.Now().UTC()
	id, err := r.Create(ctx, newChallenge("a@b.co", now), now.Add(-time.Minute))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		ok, err := r.IncrementAttempts(ctx, id, 3)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := r.IncrementAttempts(ctx, id, 3)
	require.NoError(t, err)
	assert.False(t, ok, "attempt count must not exceed max")

	ok, err = r.MarkUsed(ctx, id, now, 3)
	require.NoError(t, err)
	assert.False(t, ok, "exhausted challenge cannot be used")

	c, err := r.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 3, c.AttemptCount)
	assert.False(t, c.IsUsed)
}

func TestMemoryRepository_MarkUsedOnce(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepository()
	now := time.Now().UTC()
	id, err := r.Create(ctx, newChallenge("a@b.co", now), now.Add(-time.Minute))
	require.NoError(t, err)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := r.MarkUsed(ctx, id, now, 3); ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}
