package coordination

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rickgao/tripsync/internal/kv"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestLocalStore_RegisterCheckUnregister(t *testing.T) {
	ctx := context.Background()
	s := NewLocalStore(kv.NewMemory(), "owner-a", nil)

	got, err := s.CheckExistingConnection(ctx, "trip-1")
	if err != nil || got != nil {
		t.Fatalf("Check on empty = %v, %v; want nil", got, err)
	}

	entry := Entry{ConnectionID: "c1", OwnerID: "owner-a", Timestamp: now}
	if err := s.RegisterConnection(ctx, "trip-1", entry); err != nil {
		t.Fatalf("Register: %v", err)
	}

	got, err = s.CheckExistingConnection(ctx, "trip-1")
	if err != nil || got == nil {
		t.Fatalf("Check after register = %v, %v", got, err)
	}
	if got.ConnectionID != "c1" || !got.Timestamp.Equal(now) {
		t.Errorf("entry = %+v, want c1 at %v", got, now)
	}

	if err := s.UnregisterConnection(ctx, "trip-1"); err != nil {
		t.Fatalf("Unregister: %v", err)
	}
	if got, _ := s.CheckExistingConnection(ctx, "trip-1"); got != nil {
		t.Errorf("entry still present after unregister: %+v", got)
	}
}

func TestLocalStore_CleanupRemovesOnlyOwned(t *testing.T) {
	ctx := context.Background()
	shared := kv.NewMemory()
	a := NewLocalStore(shared, "owner-a", nil)
	b := NewLocalStore(shared, "owner-b", nil)

	a.RegisterConnection(ctx, "trip-1", Entry{ConnectionID: "c1", OwnerID: "owner-a", Timestamp: now})
	b.RegisterConnection(ctx, "trip-2", Entry{ConnectionID: "c2", OwnerID: "owner-b", Timestamp: now})

	if err := a.Cleanup(ctx); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}

	if got, _ := a.CheckExistingConnection(ctx, "trip-1"); got != nil {
		t.Error("owned entry survived cleanup")
	}
	if got, _ := a.CheckExistingConnection(ctx, "trip-2"); got == nil {
		t.Error("peer entry removed by cleanup")
	}
}

func TestLocalStore_SurvivesRestart(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "registry.db")

	db, err := kv.OpenSQLite(kv.SQLiteConfig{Path: path})
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	NewLocalStore(db, "owner-a", nil).RegisterConnection(ctx, "trip-1",
		Entry{ConnectionID: "c1", OwnerID: "owner-a", Timestamp: now})
	db.Close()

	db, err = kv.OpenSQLite(kv.SQLiteConfig{Path: path})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db.Close()

	got, err := NewLocalStore(db, "owner-a", nil).CheckExistingConnection(ctx, "trip-1")
	if err != nil || got == nil || got.OwnerID != "owner-a" {
		t.Errorf("entry after restart = %+v, %v", got, err)
	}
}

func TestEntry_Fresh(t *testing.T) {
	e := Entry{Timestamp: now}
	if !e.Fresh(now.Add(29*time.Second), 30*time.Second) {
		t.Error("29s old entry should be fresh")
	}
	if e.Fresh(now.Add(30*time.Second), 30*time.Second) {
		t.Error("30s old entry should be stale")
	}
}
