package refreshtoken

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"roomchat/backend/internal/refreshtoken/repository"
	"roomchat/backend/internal/security"
)

func newTestStore() (*Store, *repository.MemoryRepository) {
	repo := repository.NewMemoryRepository()
	return NewStore(repo, NewSecretHasher()), repo
}

func TestStore_CreateFindRoundTrip(t *testing.T) {
	s, repo := newTestStore()
	ctx := context.Background()
	exp := time.Now().UTC().Add(7 * 24 * time.Hour)

	tok, plaintext, err := s.Create(ctx, "u1", exp)
	require.NoError(t, err)
	assert.Len(t, plaintext, 43)
	assert.NotEqual(t, plaintext, tok.TokenHash)

	stored, err := repo.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.NotContains(t, stored[0].TokenHash, plaintext, "plaintext must not be persisted")

	found, err := s.FindByPlaintext(ctx, plaintext)
	require.NoError(t, err)
	assert.Equal(t, tok.ID, found.ID)
	assert.Equal(t, "u1", found.UserID)

	require.NoError(t, s.DeleteByID(ctx, tok.ID))
	_, err = s.FindByPlaintext(ctx, plaintext)
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, s.DeleteByID(ctx, tok.ID), "delete is idempotent")
}

func TestStore_FindByPlaintextMisses(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()
	_, _, err := s.Create(ctx, "u1", time.Now().Add(time.Hour))
	require.NoError(t, err)

	for _, in := range []string{"", "not-a-token", "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"} {
		_, err := s.FindByPlaintext(ctx, in)
		assert.ErrorIs(t, err, ErrNotFound, "input %q", in)
	}
}

func TestStore_FindReturnsExpired(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()
	_, plaintext, err := s.Create(ctx, "u1", time.Now().Add(-time.Minute))
	require.NoError(t, err)

	found, err := s.FindByPlaintext(ctx, plaintext)
	require.NoError(t, err)
	assert.True(t, found.Expired(time.Now()))
}

func TestStore_DeleteAndListByUser(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()
	exp := time.Now().Add(time.Hour)
	for _, u := range []string{"u1", "u1", "u2"} {
		_, _, err := s.Create(ctx, u, exp)
		require.NoError(t, err)
	}

	list, err := s.ListByUser(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, list, 2)

	n, err := s.DeleteByUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = s.DeleteByUser(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, n)

	list, err = s.ListByUser(ctx, "u2")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestStore_Rotate(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()
	exp := time.Now().Add(time.Hour)
	old, oldPlain, err := s.Create(ctx, "u1", exp)
	require.NoError(t, err)

	next, nextPlain, err := s.Rotate(ctx, old, exp)
	require.NoError(t, err)
	assert.NotEqual(t, old.ID, next.ID)
	assert.NotEqual(t, oldPlain, nextPlain)
	assert.Equal(t, "u1", next.UserID)

	_, err = s.FindByPlaintext(ctx, oldPlain)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.FindByPlaintext(ctx, nextPlain)
	assert.NoError(t, err)

	_, _, err = s.Rotate(ctx, old, exp)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_ConcurrentRotateSingleWinner(t *testing.T) {
	s, repo := newTestStore()
	ctx := context.Background()
	exp := time.Now().Add(time.Hour)
	old, _, err := s.Create(ctx, "u1", exp)
	require.NoError(t, err)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := s.Rotate(ctx, old, exp)
			switch {
			case err == nil:
				wins.Add(1)
			case !errors.Is(err, ErrNotFound):
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())

	all, err := repo.ListAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1, "losers must not leave tokens behind")
}

func TestStore_SecretHashCost(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryRepository()
	exp := time.Now().UTC().Add(time.Hour)

	// A token stored under a higher cost still resolves after the cost change.
	old, oldPlain, err := NewStore(repo, security.NewHasher(5)).Create(ctx, "u1", exp)
	require.NoError(t, err)

	s := NewStore(repo, NewSecretHasher())
	tok, _, err := s.Create(ctx, "u1", exp)
	require.NoError(t, err)
	cost, err := bcrypt.Cost([]byte(tok.TokenHash))
	require.NoError(t, err)
	assert.Equal(t, SecretHashCost, cost)

	found, err := s.FindByPlaintext(ctx, oldPlain)
	require.NoError(t, err)
	assert.Equal(t, old.ID, found.ID)
}
