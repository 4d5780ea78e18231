package service

import (
	"context"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roomchat/backend/internal/otp"
	otpdomain "roomchat/backend/internal/otp/domain"
	otprepo "roomchat/backend/internal/otp/repository"
	"roomchat/backend/internal/platform/rbac"
	"roomchat/backend/internal/refreshtoken"
	tokenrepo "roomchat/backend/internal/refreshtoken/repository"
	"roomchat/backend/internal/security"
	"roomchat/backend/internal/user/domain"
	"roomchat/backend/internal/user/repository"
)

const strongPassword = "Str0ng!pass"

type captureSender struct {
	mu   sync.Mutex
	body string
	n    int
}

func (s *captureSender) Send(ctx context.Context, to, subject, body string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.body = body
	s.n++
	return nil
}

var codeRe = regexp.MustCompile(`\b(\d{6})\b`)

func (s *captureSender) code(t *testing.T) string {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	m := codeRe.FindStringSubmatch(s.body)
	require.Len(t, m, 2, "no code sent")
	return m[1]
}

type recordingSink struct {
	mu      sync.Mutex
	actions []string
}

func (r *recordingSink) Record(ctx context.Context, action, userID string, details map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions = append(r.actions, action)
}

type fixture struct {
	svc    *Service
	users  *repository.MemoryRepository
	tokens *refreshtoken.Store
	engine *otp.Engine
	sender *captureSender
	sink   *recordingSink
	hasher *security.Hasher
	admin  rbac.Caller
	alice  rbac.Caller
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	hasher := security.NewHasher(4)
	hash, err := hasher.Hash(strongPassword)
	require.NoError(t, err)
	authz, err := rbac.NewAuthorizer(context.Background())
	require.NoError(t, err)

	f := &fixture{
		users: repository.NewMemoryRepository(
			&domain.User{ID: "admin-1", Name: "Root", Email: "root@example.com", PasswordHash: hash, Role: domain.RoleAdmin, Status: domain.UserStatusActive},
			&domain.User{ID: "alice", Name: "Alice", Email: "alice@example.com", PasswordHash: hash, Role: domain.RoleUser, Status: domain.UserStatusActive},
		),
		sender: &captureSender{},
		sink:   &recordingSink{},
		hasher: hasher,
		admin:  rbac.Caller{ID: "admin-1", Role: "admin"},
		alice:  rbac.Caller{ID: "alice", Role: "user"},
	}
	f.tokens = refreshtoken.NewStore(tokenrepo.NewMemoryRepository(), hasher)
	f.engine = otp.NewEngine(otprepo.NewMemoryRepository(), hasher, f.sender, otp.DefaultConfig())
	f.svc = NewService(f.users, f.engine, f.tokens, hasher, authz, WithAudit(f.sink))
	return f
}

func TestRegistrationCheckValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tests := []struct {
		name, email, password, confirm string
		want                           error
	}{
		{"bad email", "nope", strongPassword, strongPassword, ErrInvalidEmail},
		{"mismatch", "bob@example.com", strongPassword, strongPassword + "1", ErrPasswordMismatch},
		{"weak", "bob@example.com", "password", "password", ErrWeakPassword},
		{"taken", "ALICE@example.com", strongPassword, strongPassword, ErrEmailTaken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.RegistrationCheck(ctx, tt.email, tt.password, tt.confirm)
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.Zero(t, f.sender.n, "no code for rejected input")
}

func TestRegistrationFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pendingID, err := f.svc.RegistrationCheck(ctx, " Bob@Example.com", strongPassword, strongPassword)
	require.NoError(t, err)

	_, err = f.svc.Activate(ctx, pendingID, "000000", "", strongPassword, strongPassword)
	assert.ErrorIs(t, err, ErrNameRequired)

	u, err := f.svc.Activate(ctx, pendingID, f.sender.code(t), "Bob", strongPassword, strongPassword)
	require.NoError(t, err)
	assert.Equal(t, "bob@example.com", u.Email)
	assert.Equal(t, domain.RoleUser, u.Role)
	assert.True(t, u.IsActive())
	assert.True(t, f.hasher.Verify(strongPassword, u.PasswordHash))

	stored, err := f.users.FindActiveByEmail(ctx, "bob@example.com")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, u.ID, stored.ID)
	assert.Contains(t, f.sink.actions, "user_registration")

	_, err = f.svc.Activate(ctx, pendingID, f.sender.code(t), "Bob", strongPassword, strongPassword)
	assert.ErrorIs(t, err, ErrInvalidOTP, "code is single use")
}

func TestActivateOTPFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Activate(ctx, 404, "123456", "Bob", strongPassword, strongPassword)
	assert.ErrorIs(t, err, ErrInvalidOTP)

	pendingID, err := f.svc.RegistrationCheck(ctx, "bob@example.com", strongPassword, strongPassword)
	require.NoError(t, err)
	code := f.sender.code(t)
	wrong := "000000"
	if code == wrong {
		wrong = "000001"
	}
	for i := 0; i < otp.DefaultMaxAttempts; i++ {
		_, err = f.svc.Activate(ctx, pendingID, wrong, "Bob", strongPassword, strongPassword)
		assert.ErrorIs(t, err, ErrInvalidOTP)
	}
	_, err = f.svc.Activate(ctx, pendingID, code, "Bob", strongPassword, strongPassword)
	assert.ErrorIs(t, err, ErrOTPAttemptsExhausted)
}

func TestActivateRejectsLoginChallenge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pendingID, err := f.engine.Issue(ctx, otpdomain.PurposeLogin, "carol@example.com")
	require.NoError(t, err)

	_, err = f.svc.Activate(ctx, pendingID, f.sender.code(t), "Carol", strongPassword, strongPassword)
	assert.ErrorIs(t, err, ErrInvalidOTP)
	u, err := f.users.GetByEmail(ctx, "carol@example.com")
	require.NoError(t, err)
	assert.Nil(t, u)
}

func TestRegisterAdmin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.RegisterAdmin(ctx, f.alice, "Eve", "eve@example.com", strongPassword, strongPassword)
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = f.svc.RegisterAdmin(ctx, rbac.Caller{}, "Eve", "eve@example.com", strongPassword, strongPassword)
	assert.ErrorIs(t, err, ErrUnauthenticated)

	u, err := f.svc.RegisterAdmin(ctx, f.admin, "Carol", "carol@example.com", strongPassword, strongPassword)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleAdmin, u.Role)
	assert.Contains(t, f.sink.actions, "admin_registration")

	_, err = f.svc.RegisterAdmin(ctx, f.admin, "Carol", "carol@example.com", strongPassword, strongPassword)
	assert.ErrorIs(t, err, ErrEmailTaken)
}

func TestUpdatePassword(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, _, err := f.tokens.Create(ctx, "alice", time.Now().Add(time.Hour))
	require.NoError(t, err)
	const next = "N3xt!password"

	assert.ErrorIs(t, f.svc.UpdatePassword(ctx, f.admin, "alice", strongPassword, next, next), ErrForbidden, "admins cannot change another user's password")
	assert.ErrorIs(t, f.svc.UpdatePassword(ctx, f.alice, "alice", strongPassword, next, "x"), ErrPasswordMismatch)
	assert.ErrorIs(t, f.svc.UpdatePassword(ctx, f.alice, "alice", strongPassword, "weak", "weak"), ErrWeakPassword)
	assert.ErrorIs(t, f.svc.UpdatePassword(ctx, f.alice, "alice", "Wr0ng!pass", next, next), ErrWrongPassword)

	require.NoError(t, f.svc.UpdatePassword(ctx, f.alice, "alice", strongPassword, next, next))
	u, err := f.users.GetByID(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, f.hasher.Verify(next, u.PasswordHash))
	sessions, err := f.tokens.ListByUser(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, sessions, "password change revokes sessions")
	assert.Contains(t, f.sink.actions, "user_password_update")
}

func TestGetAndRemove(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Get(ctx, f.alice, "alice")
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = f.svc.Get(ctx, f.admin, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	u, err := f.svc.Get(ctx, f.admin, "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", u.Email)

	_, _, err = f.tokens.Create(ctx, "alice", time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.ErrorIs(t, f.svc.Remove(ctx, f.alice, "alice"), ErrForbidden)
	require.NoError(t, f.svc.Remove(ctx, f.admin, "alice"))
	assert.ErrorIs(t, f.svc.Remove(ctx, f.admin, "alice"), ErrNotFound, "already deleted")

	active, err := f.users.FindActiveByID(ctx, "alice")
	require.NoError(t, err)
	assert.Nil(t, active)
	sessions, err := f.tokens.ListByUser(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, sessions)
	assert.Contains(t, f.sink.actions, "user_delete")
}

func TestSessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, _, err := f.tokens.Create(ctx, "alice", time.Now().Add(time.Hour))
	require.NoError(t, err)

	got, err := f.svc.Sessions(ctx, f.alice, "alice")
	require.NoError(t, err)
	assert.Len(t, got, 1)
	got, err = f.svc.Sessions(ctx, f.admin, "alice")
	require.NoError(t, err)
	assert.Len(t, got, 1)
	_, err = f.svc.Sessions(ctx, rbac.Caller{ID: "bob", Role: "user"}, "alice")
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestList(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.List(ctx, f.alice)
	assert.ErrorIs(t, err, ErrForbidden)

	require.NoError(t, f.svc.Remove(ctx, f.admin, "alice"))
	users, err := f.svc.List(ctx, f.admin)
	require.NoError(t, err)
	require.Len(t, users, 2, "deleted users are listed")
	statuses := map[string]domain.UserStatus{}
	for _, u := range users {
		statuses[u.ID] = u.Status
	}
	assert.Equal(t, domain.UserStatusDeleted, statuses["alice"])
	assert.Equal(t, domain.UserStatusActive, statuses["admin-1"])
}

func TestUpdate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Update(ctx, f.admin, "alice", "Eve", "eve@example.com")
	assert.ErrorIs(t, err, ErrForbidden, "admins cannot edit other profiles")
	_, err = f.svc.Update(ctx, f.alice, "alice", " ", "alice@example.com")
	assert.ErrorIs(t, err, ErrNameRequired)
	_, err = f.svc.Update(ctx, f.alice, "alice", "Alice", "nope")
	assert.ErrorIs(t, err, ErrInvalidEmail)
	_, err = f.svc.Update(ctx, f.alice, "alice", "Alice", "ROOT@example.com")
	assert.ErrorIs(t, err, ErrEmailTaken)
	assert.NotContains(t, f.sink.actions, "user_update")

	u, err := f.svc.Update(ctx, f.alice, "alice", " Alicia ", " Alicia@Example.com")
	require.NoError(t, err)
	assert.Equal(t, "Alicia", u.Name)
	assert.Equal(t, "alicia@example.com", u.Email)
	stored, err := f.users.FindActiveByEmail(ctx, "alicia@example.com")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "alice", stored.ID)
	assert.Contains(t, f.sink.actions, "user_update")

	// The old address is free again.
	_, err = f.svc.RegistrationCheck(ctx, "alice@example.com", strongPassword, strongPassword)
	assert.NoError(t, err)
}

func TestUpdateDeletedUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.svc.Remove(ctx, f.admin, "alice"))
	_, err := f.svc.Update(ctx, f.alice, "alice", "Alice", "alice@example.com")
	assert.ErrorIs(t, err, ErrNotFound)
}
