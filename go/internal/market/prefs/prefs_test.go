package prefs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/mcdev12/wallstreetbar/go/internal/market/signals"
	"github.com/mcdev12/wallstreetbar/go/internal/sharedstore"
)

type change struct {
	pref  Preference
	value string
}

func newTab(t *testing.T, ctx context.Context, hub *sharedstore.MemoryHub, clock clockwork.Clock, origin string) (*Reconciler, chan change) {
	t.Helper()
	bus := signals.NewBus(hub.Open(origin), clock)
	r := NewReconciler(bus, clock)
	changes := make(chan change, 8)
	r.OnChange(func(pref Preference, value string) { changes <- change{pref, value} })
	r.Subscribe()
	go func() { _ = bus.Run(ctx) }()
	return r, changes
}

func waitForWatchers(t *testing.T, hub *sharedstore.MemoryHub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.Watchers() < n {
		if time.Now().After(deadline) {
			t.Fatalf("watchers did not start")
		}
		time.Sleep(time.Millisecond)
	}
}

func nextChange(t *testing.T, ch <-chan change) change {
	t.Helper()
	select {
	case c := <-ch:
		return c
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for preference change")
		return change{}
	}
}

func TestChartToggleRoundTrip(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := sharedstore.NewMemoryHub(nil)
	clock := clockwork.NewFakeClock()
	admin, adminChanges := newTab(t, ctx, hub, clock, "admin")
	wall, wallChanges := newTab(t, ctx, hub, clock, "wall")
	waitForWatchers(t, hub, 2)

	value, err := admin.Toggle(ctx, ChartType)
	if err != nil || value != "line" {
		t.Fatalf("Toggle = %q, %v", value, err)
	}
	if c := nextChange(t, adminChanges); c.value != "line" {
		t.Fatalf("admin saw %+v", c)
	}
	if c := nextChange(t, wallChanges); c.pref != ChartType || c.value != "line" {
		t.Fatalf("wall saw %+v", c)
	}

	clock.Advance(SelfEchoWindow)
	if _, err := admin.Toggle(ctx, ChartType); err != nil {
		t.Fatalf("Toggle: %v", err)
	}
	if c := nextChange(t, wallChanges); c.value != "candlestick" {
		t.Fatalf("wall saw %+v", c)
	}
	if wall.Value(ChartType) != "candlestick" {
		t.Fatalf("wall value %q", wall.Value(ChartType))
	}
}

func TestSortModeCycles(t *testing.T) {
	hub := sharedstore.NewMemoryHub(nil)
	r := NewReconciler(signals.NewBus(hub.Open("wall"), nil), clockwork.NewFakeClock())
	ctx := context.Background()

	want := []string{"alphabetical", "alcohol", "price"}
	for _, w := range want {
		got, err := r.Toggle(ctx, SortMode)
		if err != nil {
			t.Fatalf("Toggle: %v", err)
		}
		if got != w {
			t.Fatalf("expected %q, got %q", w, got)
		}
	}

	stored, _, _ := r.bus.Store().Get(ctx, signals.KeySortMode)
	if stored != "price" {
		t.Fatalf("durable value %q", stored)
	}
}

func TestOwnSignalIsIgnored(t *testing.T) {
	ctx := context.Background()
	hub := sharedstore.NewMemoryHub(nil)
	clock := clockwork.NewFakeClock()
	wall := NewReconciler(signals.NewBus(hub.Open("wall"), clock), clock)
	other := hub.Open("admin")

	_ = other.Set(ctx, signals.KeyMainTheme, "light")

	own, _ := signals.NewSignal("wall", clock.Now(), nil)
	changed, err := wall.ApplyExternalChange(ctx, Theme, own)
	if err != nil {
		t.Fatalf("ApplyExternalChange: %v", err)
	}
	if changed || wall.Value(Theme) != "dark" {
		t.Fatalf("own signal must not change state (changed=%v value=%q)", changed, wall.Value(Theme))
	}
}

func TestEchoWithinWindowIsIgnored(t *testing.T) {
	ctx := context.Background()
	hub := sharedstore.NewMemoryHub(nil)
	clock := clockwork.NewFakeClock()
	wall := NewReconciler(signals.NewBus(hub.Open("wall"), clock), clock)

	calls := 0
	wall.OnChange(func(Preference, string) { calls++ })

	if err := wall.Set(ctx, Theme, "light"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	// a legacy signal carries no origin
	changed, _ := wall.ApplyExternalChange(ctx, Theme, signals.ParseSignal("1700000000000"))
	if changed || calls != 1 {
		t.Fatalf("echo should be ignored (changed=%v calls=%d)", changed, calls)
	}

	// a different value written by another context inside the window still applies
	_ = hub.Open("admin").Set(ctx, signals.KeyMainTheme, "dark")
	changed, _ = wall.ApplyExternalChange(ctx, Theme, signals.ParseSignal("1700000000001"))
	if !changed || wall.Value(Theme) != "dark" {
		t.Fatalf("external change lost (changed=%v value=%q)", changed, wall.Value(Theme))
	}
}

func TestLoadFallsBackToDefaults(t *testing.T) {
	ctx := context.Background()
	hub := sharedstore.NewMemoryHub(nil)
	seed := hub.Open("admin")
	_ = seed.Set(ctx, signals.KeySortMode, "alcohol")
	_ = seed.Set(ctx, signals.KeyChartType, "pie")

	r := NewReconciler(signals.NewBus(hub.Open("wall"), nil), clockwork.NewFakeClock())
	if err := r.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if r.Value(SortMode) != "alcohol" || r.Value(ChartType) != "candlestick" || r.Value(Theme) != "dark" {
		t.Fatalf("unexpected values %q %q %q", r.Value(SortMode), r.Value(ChartType), r.Value(Theme))
	}
}

func TestSetRejectsInvalidValues(t *testing.T) {
	hub := sharedstore.NewMemoryHub(nil)
	r := NewReconciler(signals.NewBus(hub.Open("wall"), nil), clockwork.NewFakeClock())

	if err := r.Set(context.Background(), Theme, "neon"); !errors.Is(err, ErrInvalidValue) {
		t.Fatalf("expected ErrInvalidValue, got %v", err)
	}
	if _, err := r.Toggle(context.Background(), Preference("font")); !errors.Is(err, ErrUnknownPreference) {
		t.Fatalf("expected ErrUnknownPreference, got %v", err)
	}
}
