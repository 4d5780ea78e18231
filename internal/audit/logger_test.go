package audit

import (
	"context"
	"errors"
	"sync"
	"testing"

	"go.opentelemetry.io/otel/log/noop"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"roomchat/backend/internal/audit/domain"
)

// mockAuditRepo implements the audit repository interface for tests.
type mockAuditRepo struct {
	mu        sync.Mutex
	entries   []*domain.AuditLog
	createErr error
	lastLimit int32
}

func (m *mockAuditRepo) Create(ctx context.Context, entry *domain.AuditLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	m.entries = append(m.entries, entry)
	return nil
}

func (m *mockAuditRepo) List(ctx context.Context, userID string, limit, offset int32) ([]*domain.AuditLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastLimit = limit
	var out []*domain.AuditLog
	for _, e := range m.entries {
		if userID == "" || e.UserID == userID {
			out = append(out, e)
		}
	}
	return out, nil
}

func TestLogger_Record_Success(t *testing.T) {
	repo := &mockAuditRepo{}
	logger := NewLogger(repo, func(context.Context) string { return "192.168.1.1" }, nil)

	logger.Record(context.Background(), ActionUserLogin, "user-1", map[string]any{"method": "otp"})

	if len(repo.entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(repo.entries))
	}
	entry := repo.entries[0]
	if entry.Action != ActionUserLogin {
		t.Errorf("action = %q, want %q", entry.Action, ActionUserLogin)
	}
	if entry.UserID != "user-1" {
		t.Errorf("user_id = %q, want %q", entry.UserID, "user-1")
	}
	if entry.IP != "192.168.1.1" {
		t.Errorf("ip = %q, want %q", entry.IP, "192.168.1.1")
	}
	if entry.Details["method"] != "otp" {
		t.Errorf("details = %v", entry.Details)
	}
	if entry.ID == "" || entry.CreatedAt.IsZero() {
		t.Error("id and created_at should be set")
	}
}

func TestLogger_Record_UnknownIP(t *testing.T) {
	repo := &mockAuditRepo{}
	NewLogger(repo, nil, nil).Record(context.Background(), ActionUserLogout, "u", nil)
	if repo.entries[0].IP != "unknown" {
		t.Errorf("ip = %q, want unknown", repo.entries[0].IP)
	}
}

func TestLogger_Record_RepoErrorIsLogged(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	repo := &mockAuditRepo{createErr: errors.New("db down")}
	logger := NewLogger(repo, nil, zap.New(core))

	logger.Record(context.Background(), ActionUserLogin, "user-1", nil)

	if logs.FilterMessage("audit: failed to persist event").Len() != 1 {
		t.Errorf("expected persistence failure to be logged, got %v", logs.All())
	}
}

func TestLogger_Record_NilRepoAndOTel(t *testing.T) {
	logger := NewLogger(nil, nil, nil).WithOTelLogger(noop.NewLoggerProvider())
	logger.Record(context.Background(), ActionAccountBlocked, "user-1", map[string]any{"failures": 5})
	list, err := logger.List(context.Background(), "", 10, 0)
	if err != nil || list != nil {
		t.Errorf("List with nil repo = %v, %v", list, err)
	}
}

func TestLogger_List(t *testing.T) {
	repo := &mockAuditRepo{}
	logger := NewLogger(repo, nil, nil)
	ctx := context.Background()
	logger.Record(ctx, ActionUserLogin, "a", nil)
	logger.Record(ctx, ActionUserLogin, "b", nil)

	list, err := logger.List(ctx, "a", 0, -1)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 || list[0].UserID != "a" {
		t.Errorf("List(a) = %v", list)
	}
	if repo.lastLimit != 100 {
		t.Errorf("limit = %d, want clamped to 100", repo.lastLimit)
	}
}
