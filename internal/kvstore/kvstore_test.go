package kvstore

import (
	"context"
	"path/filepath"
	"testing"
)

func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	if v, ok, err := s.Get(ctx, KeyOrgID); err != nil || ok || v != "" {
		t.Fatalf("Get(missing) = (%q, %v, %v), want absent without error", v, ok, err)
	}

	if err := s.Set(ctx, KeyOrgID, "org-1"); err != nil {
		t.Fatalf("Set() error: %v", err)
	}
	if err := s.Set(ctx, KeyOrgID, "org-2"); err != nil {
		t.Fatalf("Set() overwrite error: %v", err)
	}
	v, ok, err := s.Get(ctx, KeyOrgID)
	if err != nil || !ok || v != "org-2" {
		t.Fatalf("Get() = (%q, %v, %v), want last write org-2", v, ok, err)
	}

	if err := s.Delete(ctx, KeyOrgID); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if err := s.Delete(ctx, KeyOrgID); err != nil {
		t.Fatalf("Delete(missing) error: %v", err)
	}
	if _, ok, _ := s.Get(ctx, KeyOrgID); ok {
		t.Fatal("Get() after Delete reported present")
	}
}

func TestMemory(t *testing.T) {
	exerciseStore(t, NewMemory(nil))
}

func TestMemory_ZeroValue(t *testing.T) {
	var m Memory
	exerciseStore(t, &m)
	if m.Writes() != 4 {
		t.Errorf("Writes() = %d, want 4", m.Writes())
	}
}

func TestSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.db")
	s, err := OpenSQLite(context.Background(), path)
	if err != nil {
		t.Fatalf("OpenSQLite() error: %v", err)
	}
	defer s.Close()

	exerciseStore(t, s)
}

func TestSQLite_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.db")

	s, err := OpenSQLite(ctx, path)
	if err != nil {
		t.Fatalf("OpenSQLite() error: %v", err)
	}
	if err := s.Set(ctx, KeyToken, "tok"); err != nil {
		t.Fatalf("Set() error: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	reopened, err := OpenSQLite(ctx, path)
	if err != nil {
		t.Fatalf("reopen error: %v", err)
	}
	defer reopened.Close()

	v, ok, err := reopened.Get(ctx, KeyToken)
	if err != nil || !ok || v != "tok" {
		t.Errorf("Get() after reopen = (%q, %v, %v), want tok", v, ok, err)
	}
}
