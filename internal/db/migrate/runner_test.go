package migrate

import (
	"errors"
	"io/fs"
	"strings"
	"testing"

	"roomchat/backend/internal/db"
)

func TestRun_EmptyDSN(t *testing.T) {
	err := Run("", "up")
	if err == nil {
		t.Fatal("Run with empty DSN should return error")
	}
	if !strings.Contains(err.Error(), "DATABASE_URL is not set") {
		t.Errorf("error message = %q, should mention DATABASE_URL", err.Error())
	}
}

func TestVersion_EmptyDSN(t *testing.T) {
	if _, _, err := Version(""); err == nil || !strings.Contains(err.Error(), "DATABASE_URL is not set") {
		t.Fatalf("Version with empty DSN: err = %v", err)
	}
}

func TestRun_InvalidDirection(t *testing.T) {
	for _, direction := range []string{"", "invalid", "UP", "Up", "both"} {
		t.Run(direction, func(t *testing.T) {
			err := Run("postgres://localhost/test", direction)
			if err == nil {
				t.Fatalf("Run with direction %q should return error", direction)
			}
			if !strings.Contains(err.Error(), "direction") {
				t.Errorf("error %q should mention direction", err.Error())
			}
		})
	}
}

func TestRun_ErrNoChangeNotReturned(t *testing.T) {
	err := Run("postgres://invalid-host-that-does-not-exist:5432/test", "up")
	if err == nil {
		t.Fatal("Run against unreachable host should fail")
	}
	if errors.Is(err, ErrNoChange) {
		t.Error("Run should not return ErrNoChange")
	}
}

func TestMigrationFS_PairedFiles(t *testing.T) {
	entries, err := fs.ReadDir(db.MigrationFS, "migrations")
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	ups, downs := map[string]bool{}, map[string]bool{}
	for _, e := range entries {
		name := e.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		}
	}
	if len(ups) == 0 {
		t.Fatal("no migrations embedded")
	}
	for v := range ups {
		if !downs[v] {
			t.Errorf("migration %s has no down file", v)
		}
	}
	for _, table := range []string{"users", "otp_challenges", "refresh_tokens", "audit_logs"} {
		found := false
		for v := range ups {
			if strings.HasSuffix(v, table) {
				found = true
			}
		}
		if !found {
			t.Errorf("no migration creates %s", table)
		}
	}
}
