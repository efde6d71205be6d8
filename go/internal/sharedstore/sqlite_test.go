package sharedstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func openSQLitePair(t *testing.T) (Store, Store) {
	t.Helper()
	cfg := DefaultSQLiteConfig()
	cfg.Path = filepath.Join(t.TempDir(), "shared.db")
	cfg.PollInterval = 20 * time.Millisecond

	wall, err := OpenSQLite(cfg, "wall")
	if err != nil {
		t.Fatalf("open wall: %v", err)
	}
	t.Cleanup(func() { _ = wall.Close() })

	admin, err := OpenSQLite(cfg, "admin")
	if err != nil {
		t.Fatalf("open admin: %v", err)
	}
	t.Cleanup(func() { _ = admin.Close() })

	return wall, admin
}

func TestSQLiteSetGetDelete(t *testing.T) {
	ctx := context.Background()
	wall, admin := openSQLitePair(t)

	if err := admin.Set(ctx, "chart-type", "line"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := admin.Set(ctx, "chart-type", "candlestick"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	value, ok, err := wall.Get(ctx, "chart-type")
	if err != nil || !ok || value != "candlestick" {
		t.Fatalf("Get = %q, %v, %v", value, ok, err)
	}

	if err := admin.Delete(ctx, "chart-type"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := wall.Get(ctx, "chart-type"); ok {
		t.Fatalf("expected key to be gone")
	}

	entries, err := wall.(Lister).Entries(ctx)
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no entries, got %+v", entries)
	}
}

func TestSQLiteWatchDeliversOtherOrigins(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	wall, admin := openSQLitePair(t)

	wallCh := make(chan Change, 16)
	adminCh := make(chan Change, 16)
	wallReady := make(chan struct{})
	go func() {
		close(wallReady)
		_ = wall.Watch(ctx, func(c Change) { wallCh <- c })
	}()
	go func() {
		_ = admin.Watch(ctx, func(c Change) { adminCh <- c })
	}()
	<-wallReady
	// give both watchers time to read their starting cursor
	time.Sleep(100 * time.Millisecond)

	if err := admin.Set(ctx, "purchaseUpdate", "1700000000000"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got := nextChange(t, wallCh)
	if got.Key != "purchaseUpdate" || got.Origin != "admin" || got.Deleted {
		t.Fatalf("unexpected change: %+v", got)
	}
	expectNoChange(t, adminCh)
}
