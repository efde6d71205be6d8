package refresh

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/mcdev12/wallstreetbar/go/clients/market_client"
)

// Trigger names what asked for a refresh.
type Trigger string

const (
	TriggerCountdown  Trigger = "countdown"
	TriggerSignal     Trigger = "signal"
	TriggerVisibility Trigger = "visibility"
	TriggerManual     Trigger = "manual"
	TriggerRollover   Trigger = "rollover"
	TriggerStartup    Trigger = "startup"
)

type ConnectionState string

const (
	Connected ConnectionState = "connected"
	Degraded  ConnectionState = "degraded"
)

// MarketSource is the part of the backend a refresh reads.
type MarketSource interface {
	GetPrices(ctx context.Context) (market_client.PricesResponse, error)
	GetActiveHappyHours(ctx context.Context) ([]market_client.HappyHour, error)
}

// TimerApplier receives timer state piggybacked on the prices response.
type TimerApplier interface {
	Apply(ctx context.Context, status market_client.TimerStatus)
}

// Display is what a refresh pushes its results to.
type Display interface {
	ShowPrices(snapshot Snapshot)
	ShowConnection(state ConnectionState)
}

// Snapshot is the market state produced by one successful refresh.
type Snapshot struct {
	Prices       []market_client.DrinkPrice
	ActiveDrinks []int
	HappyHours   []market_client.HappyHour
	// NewHappyHours lists promotions that were not active at the previous
	// refresh. It is empty on the first refresh.
	NewHappyHours []market_client.HappyHour
	Trigger       Trigger
	FetchedAt     time.Time
}

// Orchestrator performs refreshes, never more than one at a time. A request
// that arrives while one is in flight is dropped, not queued.
type Orchestrator struct {
	source  MarketSource
	timer   TimerApplier
	display Display
	clock   clockwork.Clock
	metrics MetricsCollector

	inFlight atomic.Bool

	requested atomic.Uint64
	dropped   atomic.Uint64
	succeeded atomic.Uint64
	failed    atomic.Uint64

	mu           sync.Mutex
	last         *Snapshot
	connection   ConnectionState
	lastSuccess  time.Time
	lastDuration time.Duration
	byTrigger    map[Trigger]uint64
}

func NewOrchestrator(source MarketSource, timer TimerApplier, display Display, clock clockwork.Clock) *Orchestrator {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Orchestrator{
		source:     source,
		timer:      timer,
		display:    display,
		clock:      clock,
		metrics:    &NoOpMetricsCollector{},
		connection: Connected,
		byTrigger:  make(map[Trigger]uint64),
	}
}

func (o *Orchestrator) SetMetrics(metrics MetricsCollector) {
	if metrics == nil {
		metrics = &NoOpMetricsCollector{}
	}
	o.metrics = metrics
}

// RequestRefresh fetches prices and active happy hours in parallel and
// pushes the result to the display. A failed prices fetch marks the
// connection degraded and is returned; a failed happy-hour fetch alone keeps
// the previous promotions.
func (o *Orchestrator) RequestRefresh(ctx context.Context, trigger Trigger) error {
	o.requested.Add(1)
	if !o.inFlight.CompareAndSwap(false, true) {
		o.dropped.Add(1)
		o.metrics.RecordRefreshDropped(trigger)
		log.Debug().Str("trigger", string(trigger)).Msg("refresh already in flight, dropping request")
		return nil
	}
	defer o.inFlight.Store(false)

	start := o.clock.Now()

	var (
		prices     market_client.PricesResponse
		happyHours []market_client.HappyHour
		hhErr      error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p, err := o.source.GetPrices(gctx)
		if err != nil {
			return fmt.Errorf("refresh prices: %w", err)
		}
		prices = p
		return nil
	})
	g.Go(func() error {
		// happy hours are best effort and never cancel the prices fetch
		happyHours, hhErr = o.source.GetActiveHappyHours(ctx)
		return nil
	})
	err := g.Wait()
	duration := o.clock.Since(start)

	if err != nil {
		o.failed.Add(1)
		o.metrics.RecordRefresh(trigger, false, duration)
		o.setConnection(Degraded)
		log.Warn().Err(err).Str("trigger", string(trigger)).Msg("refresh failed")
		return err
	}

	if status, ok := prices.Timer(); ok && o.timer != nil {
		o.timer.Apply(ctx, status)
	}

	o.mu.Lock()
	snapshot := Snapshot{
		Prices:       prices.Prices,
		ActiveDrinks: prices.ActiveDrinks,
		Trigger:      trigger,
		FetchedAt:    o.clock.Now(),
	}
	if hhErr != nil {
		log.Warn().Err(hhErr).Msg("failed to fetch happy hours, keeping previous")
		if o.last != nil {
			snapshot.HappyHours = o.last.HappyHours
		}
	} else {
		snapshot.HappyHours = happyHours
		if o.last != nil {
			snapshot.NewHappyHours = newHappyHours(o.last.HappyHours, happyHours)
		}
	}
	o.last = &snapshot
	o.lastSuccess = snapshot.FetchedAt
	o.lastDuration = duration
	o.byTrigger[trigger]++
	o.mu.Unlock()

	o.succeeded.Add(1)
	o.metrics.RecordRefresh(trigger, true, duration)
	o.setConnection(Connected)

	log.Debug().
		Str("trigger", string(trigger)).
		Int("drinks", len(snapshot.Prices)).
		Int("happy_hours", len(snapshot.HappyHours)).
		Dur("duration", duration).
		Msg("refresh complete")

	if o.display != nil {
		o.display.ShowPrices(snapshot)
	}
	return nil
}

// Last returns the most recent successful snapshot.
func (o *Orchestrator) Last() (Snapshot, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.last == nil {
		return Snapshot{}, false
	}
	return *o.last, true
}

func (o *Orchestrator) Connection() ConnectionState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.connection
}

func (o *Orchestrator) InFlight() bool {
	return o.inFlight.Load()
}

func (o *Orchestrator) Stats() Stats {
	o.mu.Lock()
	defer o.mu.Unlock()
	byTrigger := make(map[Trigger]uint64, len(o.byTrigger))
	for k, v := range o.byTrigger {
		byTrigger[k] = v
	}
	return Stats{
		Requested:    o.requested.Load(),
		Dropped:      o.dropped.Load(),
		Succeeded:    o.succeeded.Load(),
		Failed:       o.failed.Load(),
		LastSuccess:  o.lastSuccess,
		LastDuration: o.lastDuration,
		Connection:   o.connection,
		ByTrigger:    byTrigger,
	}
}

func (o *Orchestrator) setConnection(state ConnectionState) {
	o.mu.Lock()
	changed := o.connection != state
	o.connection = state
	o.mu.Unlock()

	if !changed {
		return
	}
	log.Info().Str("state", string(state)).Msg("connection state changed")
	o.metrics.RecordConnection(state)
	if o.display != nil {
		o.display.ShowConnection(state)
	}
}

func newHappyHours(previous, current []market_client.HappyHour) []market_client.HappyHour {
	seen := make(map[int]bool, len(previous))
	for _, hh := range previous {
		seen[hh.DrinkID] = true
	}
	var fresh []market_client.HappyHour
	for _, hh := range current {
		if !seen[hh.DrinkID] {
			fresh = append(fresh, hh)
		}
	}
	return fresh
}
