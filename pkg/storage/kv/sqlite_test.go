package kv

import (
	"context"
	"path/filepath"
	"testing"
)

func TestSQLiteStore_Persistence(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "persist.db")

	store, err := NewSQLiteStore(SQLiteConfig{Path: path})
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	if err := store.Set(ctx, "relayguard:cache", `{"k":1}`); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := NewSQLiteStore(SQLiteConfig{Path: path})
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	defer reopened.Close()

	v, ok, err := reopened.Get(ctx, "relayguard:cache")
	if err != nil || !ok {
		t.Fatalf("Expected persisted value, ok=%v err=%v", ok, err)
	}
	if v != `{"k":1}` {
		t.Errorf("Expected persisted value, got %s", v)
	}
}

func TestSQLiteStore_Used(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLiteStore(t, DriverModernc, 0)

	_ = store.Set(ctx, "ab", "cd")
	_ = store.Set(ctx, "e", "fgh")

	used, err := store.Used(ctx)
	if err != nil {
		t.Fatalf("Used failed: %v", err)
	}
	if used != 8 {
		t.Errorf("Expected 8 bytes used, got %d", used)
	}
}

func TestNewSQLiteStore_InvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  SQLiteConfig
	}{
		{name: "empty path", cfg: SQLiteConfig{}},
		{name: "unknown driver", cfg: SQLiteConfig{Path: "x.db", Driver: "postgres"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewSQLiteStore(tt.cfg); err == nil {
				t.Error("Expected error, got nil")
			}
		})
	}
}
