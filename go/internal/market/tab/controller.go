package tab

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/wallstreetbar/go/internal/market/countdown"
	"github.com/mcdev12/wallstreetbar/go/internal/market/prefs"
	"github.com/mcdev12/wallstreetbar/go/internal/market/refresh"
	"github.com/mcdev12/wallstreetbar/go/internal/market/signals"
	"github.com/mcdev12/wallstreetbar/go/internal/market/timersync"
	"github.com/mcdev12/wallstreetbar/go/internal/sharedstore"
)

var ErrAlreadyStarted = errors.New("controller already started")

type Mode string

const (
	ModeTimer  Mode = "timer"
	ModeManual Mode = "manual"
)

// Market is the backend a wall talks to.
type Market interface {
	timersync.TimerFetcher
	refresh.MarketSource
}

type Config struct {
	Countdown    countdown.Config
	RestartDelay time.Duration
	Metrics      refresh.MetricsCollector // nil records nothing
}

func DefaultConfig() Config {
	return Config{
		Countdown:    countdown.DefaultConfig(),
		RestartDelay: time.Second,
	}
}

// Controller is the state of one browsing context: its timer, countdown,
// refresh guard and preferences, wired to the shared signal bus.
type Controller struct {
	bus       *signals.Bus
	oracle    *timersync.Oracle
	driver    *countdown.Driver
	refresher *refresh.Orchestrator
	prefs     *prefs.Reconciler
	display   Display
	clock     clockwork.Clock
	cfg       Config

	mu      sync.Mutex
	mode    Mode
	visible bool
	started bool
	cancel  context.CancelFunc
	unsubs  []func()
	wg      sync.WaitGroup
}

func NewController(market Market, store sharedstore.Store, display Display, clock clockwork.Clock, cfg Config) *Controller {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	bus := signals.NewBus(store, clock)
	oracle := timersync.NewOracle(market, store, clock)

	c := &Controller{
		bus:     bus,
		oracle:  oracle,
		display: display,
		clock:   clock,
		cfg:     cfg,
		mode:    ModeTimer,
		visible: true,
	}
	c.refresher = refresh.NewOrchestrator(market, oracle, display, clock)
	c.refresher.SetMetrics(cfg.Metrics)
	c.driver = countdown.NewDriver(oracle, func(ctx context.Context) {
		c.refresh(ctx, refresh.TriggerCountdown)
	}, display, clock, cfg.Countdown)
	oracle.OnRollover(func(ctx context.Context) {
		c.refresh(ctx, refresh.TriggerRollover)
	})

	c.prefs = prefs.NewReconciler(bus, clock)
	c.prefs.OnChange(display.ShowPreference)
	return c
}

// Start loads preferences, begins consuming signals, performs the first
// refresh and starts the countdown unless the market is in manual mode.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.started = true
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.mu.Unlock()

	if err := c.prefs.Load(runCtx); err != nil {
		log.Warn().Err(err).Msg("failed to load preferences, using defaults")
	}
	for _, pref := range prefs.All() {
		c.display.ShowPreference(pref, c.prefs.Value(pref))
	}

	c.subscribe()
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := c.bus.Run(runCtx); err != nil {
			log.Error().Err(err).Msg("signal bus stopped with error")
		}
	}()

	c.refresh(runCtx, refresh.TriggerStartup)
	c.applyInterval(runCtx)

	log.Info().
		Str("origin", c.bus.Origin()).
		Str("mode", string(c.Mode())).
		Msg("wall started")
	return nil
}

// Close stops the countdown and the signal bus.
func (c *Controller) Close() {
	c.mu.Lock()
	cancel := c.cancel
	unsubs := c.unsubs
	c.unsubs = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.driver.Stop()
	for _, u := range unsubs {
		u()
	}
	c.wg.Wait()
}

// SetVisible pauses the local tick loop while hidden. Becoming visible
// refreshes once and restarts or resyncs the countdown.
func (c *Controller) SetVisible(ctx context.Context, visible bool) {
	c.mu.Lock()
	was := c.visible
	c.visible = visible
	c.mu.Unlock()
	if was == visible {
		return
	}

	if !visible {
		log.Debug().Msg("wall hidden, pausing countdown")
		c.driver.Stop()
		return
	}
	log.Debug().Msg("wall visible again")
	c.refresh(ctx, refresh.TriggerVisibility)
	if c.Mode() == ModeTimer {
		c.startCountdown(ctx)
	}
}

// ManualRefresh refreshes now and returns the outcome.
func (c *Controller) ManualRefresh(ctx context.Context) error {
	return c.refresher.RequestRefresh(ctx, refresh.TriggerManual)
}

func (c *Controller) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

func (c *Controller) Visible() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.visible
}

func (c *Controller) CountdownRunning() bool {
	return c.driver.Running()
}

func (c *Controller) SecondsRemaining() int {
	return c.driver.SecondsRemaining()
}

func (c *Controller) Stats() refresh.Stats {
	return c.refresher.Stats()
}

func (c *Controller) Prefs() *prefs.Reconciler {
	return c.prefs
}

func (c *Controller) Origin() string {
	return c.bus.Origin()
}

func (c *Controller) subscribe() {
	handlers := map[string]signals.Handler{
		signals.KeyRefreshInterval:         c.onIntervalChanged,
		signals.KeyRefreshUpdate:           c.onIntervalChanged,
		signals.KeyPurchaseUpdate:          c.onPurchase,
		signals.KeyTriggerImmediateRefresh: c.onImmediateRefresh,
		signals.KeyTimerRestart:            c.onTimerRestart,
		signals.KeyMarketEvent:             c.onMarketEvent,
		signals.KeyHappyHourStarted:        c.onHappyHour,
		signals.KeyHappyHourStopped:        c.onHappyHour,
		signals.KeyHappyHourAllStopped:     c.onHappyHour,
	}

	unsubs := []func(){c.prefs.Subscribe()}
	for key, h := range handlers {
		unsubs = append(unsubs, c.bus.Subscribe(key, h))
	}

	c.mu.Lock()
	c.unsubs = unsubs
	c.mu.Unlock()
}

func (c *Controller) onIntervalChanged(ctx context.Context, sig signals.Signal) {
	c.applyInterval(ctx)
}

func (c *Controller) onPurchase(ctx context.Context, sig signals.Signal) {
	if c.Mode() != ModeManual {
		// the next cycle picks the purchase up
		return
	}
	c.refresh(ctx, refresh.TriggerSignal)
}

func (c *Controller) onImmediateRefresh(ctx context.Context, sig signals.Signal) {
	c.refresh(ctx, refresh.TriggerSignal)
	if c.Mode() == ModeTimer && c.Visible() {
		c.startCountdown(ctx)
	}
}

func (c *Controller) onTimerRestart(ctx context.Context, sig signals.Signal) {
	if c.Mode() != ModeTimer {
		return
	}
	if !c.Visible() {
		c.driver.Stop()
		return
	}
	log.Info().Dur("delay", c.cfg.RestartDelay).Msg("restarting countdown")
	c.driver.Restart(ctx, c.cfg.RestartDelay)
}

func (c *Controller) onMarketEvent(ctx context.Context, sig signals.Signal) {
	payload, err := signals.ParsePayload(signals.KeyMarketEvent, sig)
	if err != nil {
		log.Warn().Err(err).Msg("unreadable market event")
	}
	if event, ok := payload.(*signals.MarketEventPayload); ok && event != nil {
		c.display.ShowMarketEvent(*event)
	}
	c.refresh(ctx, refresh.TriggerSignal)
}

func (c *Controller) onHappyHour(ctx context.Context, sig signals.Signal) {
	c.refresh(ctx, refresh.TriggerSignal)
}

// applyInterval re-reads the durable refresh interval and switches between
// timer and manual mode accordingly.
func (c *Controller) applyInterval(ctx context.Context) {
	intervalMs := c.readInterval(ctx)
	if intervalMs == 0 {
		c.enterManualMode()
		return
	}

	c.setMode(ModeTimer)
	if !c.Visible() {
		return
	}
	c.startCountdown(ctx)
}

func (c *Controller) startCountdown(ctx context.Context) {
	if err := c.driver.Start(ctx); err != nil {
		if errors.Is(err, countdown.ErrManualMode) {
			c.enterManualMode()
			return
		}
		log.Error().Err(err).Msg("failed to start countdown")
	}
}

func (c *Controller) enterManualMode() {
	c.driver.Stop()
	c.setMode(ModeManual)
}

func (c *Controller) setMode(mode Mode) {
	c.mu.Lock()
	changed := c.mode != mode
	c.mode = mode
	c.mu.Unlock()

	if changed {
		log.Info().Str("mode", string(mode)).Msg("refresh mode changed")
		c.display.ShowManualMode(mode == ModeManual)
	}
}

func (c *Controller) readInterval(ctx context.Context) int64 {
	value, ok, err := c.bus.Store().Get(ctx, signals.KeyRefreshInterval)
	if err != nil {
		log.Warn().Err(err).Msg("failed to read refresh interval")
		return timersync.DefaultIntervalMs
	}
	if !ok {
		return timersync.DefaultIntervalMs
	}
	ms, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil || ms < 0 {
		log.Warn().Str("value", value).Msg("invalid refresh interval, using default")
		return timersync.DefaultIntervalMs
	}
	return ms
}

func (c *Controller) refresh(ctx context.Context, trigger refresh.Trigger) {
	// failures are logged by the orchestrator; the next trigger retries
	_ = c.refresher.RequestRefresh(ctx, trigger)
}
