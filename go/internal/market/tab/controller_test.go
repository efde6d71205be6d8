package tab

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/mcdev12/wallstreetbar/go/clients/market_client"
	"github.com/mcdev12/wallstreetbar/go/internal/market/prefs"
	"github.com/mcdev12/wallstreetbar/go/internal/market/refresh"
	"github.com/mcdev12/wallstreetbar/go/internal/market/signals"
	"github.com/mcdev12/wallstreetbar/go/internal/sharedstore"
)

type fakeMarket struct {
	clock      clockwork.Clock
	syncCalls  atomic.Int32
	priceCalls atomic.Int32
}

func (m *fakeMarket) SyncTimer(ctx context.Context) (market_client.TimerStatus, error) {
	m.syncCalls.Add(1)
	return market_client.TimerStatus{
		ServerTime:       market_client.Timestamp{Time: m.clock.Now()},
		IntervalMs:       10000,
		TimerRemainingMs: 5000,
	}, nil
}

func (m *fakeMarket) GetPrices(ctx context.Context) (market_client.PricesResponse, error) {
	m.priceCalls.Add(1)
	return market_client.PricesResponse{Prices: []market_client.DrinkPrice{{ID: 1, Name: "Lager", PriceRounded: 3.5}}}, nil
}

func (m *fakeMarket) GetActiveHappyHours(ctx context.Context) ([]market_client.HappyHour, error) {
	return nil, nil
}

type recordingDisplay struct {
	mu        sync.Mutex
	countdown int
	manual    []bool
	events    []signals.MarketEventPayload
	prefs     map[prefs.Preference]string
}

func newRecordingDisplay() *recordingDisplay {
	return &recordingDisplay{prefs: make(map[prefs.Preference]string)}
}

func (d *recordingDisplay) ShowCountdown(secondsRemaining int, degraded bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.countdown++
}

func (d *recordingDisplay) ShowManualMode(manual bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.manual = append(d.manual, manual)
}

func (d *recordingDisplay) ShowPrices(snapshot refresh.Snapshot)         {}
func (d *recordingDisplay) ShowConnection(state refresh.ConnectionState) {}

func (d *recordingDisplay) ShowPreference(pref prefs.Preference, value string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.prefs[pref] = value
}

func (d *recordingDisplay) ShowMarketEvent(event signals.MarketEventPayload) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, event)
}

func (d *recordingDisplay) countdowns() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.countdown
}

type harness struct {
	ctx     context.Context
	hub     *sharedstore.MemoryHub
	clock   *clockwork.FakeClock
	market  *fakeMarket
	display *recordingDisplay
	wall    *Controller
	admin   *signals.Bus
	metrics *refresh.Counters
}

func newHarness(t *testing.T, seed map[string]string) *harness {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	clock := clockwork.NewFakeClock()
	hub := sharedstore.NewMemoryHub(clock)
	admin := signals.NewBus(hub.Open("admin"), clock)
	for k, v := range seed {
		if err := admin.Store().Set(ctx, k, v); err != nil {
			t.Fatalf("seed %s: %v", k, err)
		}
	}

	h := &harness{
		ctx:     ctx,
		hub:     hub,
		clock:   clock,
		market:  &fakeMarket{clock: clock},
		display: newRecordingDisplay(),
		admin:   admin,
		metrics: refresh.NewCounters(),
	}
	cfg := DefaultConfig()
	cfg.Metrics = h.metrics
	h.wall = NewController(h.market, hub.Open("wall"), h.display, clock, cfg)
	if err := h.wall.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(h.wall.Close)

	waitFor(t, func() bool { return hub.Watchers() == 1 })
	return h
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met")
		}
		time.Sleep(time.Millisecond)
	}
}

func (h *harness) publish(t *testing.T, key string, data any) {
	t.Helper()
	if _, err := h.admin.Publish(h.ctx, key, data); err != nil {
		t.Fatalf("Publish %s: %v", key, err)
	}
}

func TestManualModeRefreshesOnlyOnPurchase(t *testing.T) {
	h := newHarness(t, map[string]string{signals.KeyRefreshInterval: "0"})

	if h.wall.Mode() != ModeManual {
		t.Fatalf("expected manual mode, got %s", h.wall.Mode())
	}
	if h.wall.CountdownRunning() {
		t.Fatalf("countdown must not run in manual mode")
	}
	if got := h.market.priceCalls.Load(); got != 1 {
		t.Fatalf("expected only the startup refresh, got %d", got)
	}
	if got := h.metrics.Refreshes(refresh.TriggerStartup, "success"); got != 1 {
		t.Fatalf("startup refresh not recorded, got %d", got)
	}

	h.publish(t, signals.KeyPurchaseUpdate, signals.PurchasePayload{DrinkID: 1, Quantity: 1})
	waitFor(t, func() bool { return h.market.priceCalls.Load() == 2 })

	h.clock.Advance(time.Minute)
	time.Sleep(20 * time.Millisecond)
	if got := h.market.priceCalls.Load(); got != 2 {
		t.Fatalf("expected exactly one refresh for the purchase, got %d calls", got)
	}
	if got := h.metrics.Refreshes(refresh.TriggerSignal, "success"); got != 1 {
		t.Fatalf("purchase refresh not recorded, got %d", got)
	}
	if h.display.countdowns() != 0 {
		t.Fatalf("no countdown should be displayed in manual mode")
	}
	if got := h.market.syncCalls.Load(); got != 0 {
		t.Fatalf("manual mode should not sync the timer, got %d", got)
	}
}

func TestTimerModeIgnoresPurchases(t *testing.T) {
	h := newHarness(t, nil)

	if h.wall.Mode() != ModeTimer || !h.wall.CountdownRunning() {
		t.Fatalf("expected a running countdown in timer mode")
	}
	if got := h.wall.SecondsRemaining(); got != 5 {
		t.Fatalf("expected 5 seconds remaining, got %d", got)
	}

	h.publish(t, signals.KeyPurchaseUpdate, nil)
	h.publish(t, signals.KeyTriggerImmediateRefresh, nil)

	// signals from one writer arrive in order, so once the immediate refresh
	// has happened the purchase has been handled too
	waitFor(t, func() bool { return h.market.priceCalls.Load() == 2 })
	time.Sleep(20 * time.Millisecond)
	if got := h.market.priceCalls.Load(); got != 2 {
		t.Fatalf("purchase should not refresh in timer mode, got %d calls", got)
	}
	// the immediate refresh resyncs the running countdown
	waitFor(t, func() bool { return h.market.syncCalls.Load() == 2 })
}

func TestIntervalChangeSwitchesMode(t *testing.T) {
	h := newHarness(t, nil)

	_ = h.admin.Store().Set(h.ctx, signals.KeyRefreshInterval, "0")
	waitFor(t, func() bool { return h.wall.Mode() == ModeManual })
	waitFor(t, func() bool { return !h.wall.CountdownRunning() })

	_ = h.admin.Store().Set(h.ctx, signals.KeyRefreshInterval, "15000")
	h.publish(t, signals.KeyRefreshUpdate, signals.IntervalPayload{IntervalMs: 15000})
	waitFor(t, func() bool { return h.wall.Mode() == ModeTimer && h.wall.CountdownRunning() })

	h.display.mu.Lock()
	defer h.display.mu.Unlock()
	if len(h.display.manual) != 2 || !h.display.manual[0] || h.display.manual[1] {
		t.Fatalf("unexpected manual indicator changes %v", h.display.manual)
	}
}

func TestHiddenWallPausesCountdown(t *testing.T) {
	h := newHarness(t, nil)

	h.wall.SetVisible(h.ctx, false)
	if h.wall.CountdownRunning() {
		t.Fatalf("hidden wall should not tick")
	}
	h.clock.Advance(5 * time.Second)
	time.Sleep(20 * time.Millisecond)
	if h.display.countdowns() != 0 {
		t.Fatalf("no countdown expected while hidden")
	}

	h.wall.SetVisible(h.ctx, true)
	if !h.wall.CountdownRunning() {
		t.Fatalf("visible wall should tick again")
	}
	if got := h.market.priceCalls.Load(); got != 2 {
		t.Fatalf("expected a refresh on becoming visible, got %d calls", got)
	}
}

func TestMarketEventIsShownAndRefreshes(t *testing.T) {
	h := newHarness(t, nil)

	h.publish(t, signals.KeyMarketEvent, signals.MarketEventPayload{Type: signals.MarketEventType, Event: signals.MarketEventCrash})
	waitFor(t, func() bool { return h.market.priceCalls.Load() == 2 })

	h.display.mu.Lock()
	defer h.display.mu.Unlock()
	if len(h.display.events) != 1 || h.display.events[0].Event != signals.MarketEventCrash {
		t.Fatalf("unexpected events %+v", h.display.events)
	}
}

func TestTimerRestartStartsAgainAfterDelay(t *testing.T) {
	h := newHarness(t, nil)

	h.publish(t, signals.KeyTimerRestart, nil)
	waitFor(t, func() bool { return !h.wall.CountdownRunning() })

	// keep moving time until the delayed start has been scheduled and fired
	waitFor(t, func() bool {
		h.clock.Advance(time.Second)
		return h.wall.CountdownRunning()
	})
	waitFor(t, func() bool { return h.market.syncCalls.Load() == 2 })
}

func TestPreferenceSignalUpdatesDisplay(t *testing.T) {
	h := newHarness(t, nil)

	other := prefs.NewReconciler(h.admin, h.clock)
	if _, err := other.Toggle(h.ctx, prefs.Theme); err != nil {
		t.Fatalf("Toggle: %v", err)
	}

	waitFor(t, func() bool { return h.wall.Prefs().Value(prefs.Theme) == "light" })
	h.display.mu.Lock()
	defer h.display.mu.Unlock()
	if h.display.prefs[prefs.Theme] != "light" {
		t.Fatalf("display shows theme %q", h.display.prefs[prefs.Theme])
	}
}
