package timersync

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/wallstreetbar/go/clients/market_client"
	"github.com/mcdev12/wallstreetbar/go/internal/market/signals"
)

// TimerFetcher asks the server for the authoritative countdown.
type TimerFetcher interface {
	SyncTimer(ctx context.Context) (market_client.TimerStatus, error)
}

// SnapshotStore persists the fallback snapshot.
type SnapshotStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

// Oracle keeps the local countdown aligned with the server's market timer.
// Sync never fails: when the server is unreachable it falls back to a recent
// snapshot, then to whatever it already knows, then to the default interval.
type Oracle struct {
	fetcher TimerFetcher
	store   SnapshotStore
	clock   clockwork.Clock

	mu               sync.Mutex
	state            *State
	secondsRemaining int
	intervalMs       int64
	knowsInterval    bool
	onRollover       func(ctx context.Context)
}

func NewOracle(fetcher TimerFetcher, store SnapshotStore, clock clockwork.Clock) *Oracle {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Oracle{
		fetcher:    fetcher,
		store:      store,
		clock:      clock,
		intervalMs: DefaultIntervalMs,
	}
}

// OnRollover sets the function called when a sync finds the cycle already
// over. Rollovers seen by Tick are reported through its return value instead.
func (o *Oracle) OnRollover(fn func(ctx context.Context)) {
	o.mu.Lock()
	o.onRollover = fn
	o.mu.Unlock()
}

// Sync fetches the timer from the server and reports whether it succeeded.
func (o *Oracle) Sync(ctx context.Context) bool {
	status, err := o.fetcher.SyncTimer(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("timer sync failed, using fallback")
		o.fallback(ctx)
		return false
	}

	if rolled := o.apply(ctx, status); rolled {
		o.mu.Lock()
		fn := o.onRollover
		o.mu.Unlock()
		if fn != nil {
			fn(ctx)
		}
	}
	return true
}

// Apply adopts timer state that arrived with another response, such as the
// one piggybacked on /prices. It does not trigger a refresh on rollover.
func (o *Oracle) Apply(ctx context.Context, status market_client.TimerStatus) {
	o.apply(ctx, status)
}

func (o *Oracle) apply(ctx context.Context, status market_client.TimerStatus) (rolled bool) {
	now := o.clock.Now()
	state := State{
		ServerTimeAtSync:       status.ServerTime.Time,
		MarketTimerStart:       status.MarketTimerStart.Time,
		TimerRemainingMsAtSync: status.TimerRemainingMs,
		IntervalMs:             status.IntervalMs,
		SyncTimestampLocal:     now,
	}

	o.mu.Lock()
	o.intervalMs = status.IntervalMs
	o.knowsInterval = true

	adjusted := state.AdjustedRemainingMs(now)
	switch {
	case status.IntervalMs <= 0:
		o.secondsRemaining = 0
	case adjusted <= 0:
		rolled = true
		rebase(&state, now)
		o.secondsRemaining = CeilSeconds(status.IntervalMs)
	default:
		o.secondsRemaining = CeilSeconds(adjusted)
	}
	o.state = &state
	snapshot := Snapshot{
		Countdown:        o.secondsRemaining,
		ServerTimerStart: state.MarketTimerStart,
		IntervalMs:       status.IntervalMs,
		LastSync:         now.UnixMilli(),
	}
	o.mu.Unlock()

	log.Debug().
		Int64("interval_ms", status.IntervalMs).
		Int64("remaining_ms", status.TimerRemainingMs).
		Int64("adjusted_ms", adjusted).
		Bool("rolled", rolled).
		Msg("timer synced")

	o.saveSnapshot(ctx, snapshot)
	return rolled
}

// rebase moves the oracle data forward so it projects a full cycle from now.
// SyncTimestampLocal is left alone so staleness is still measured from the
// last real answer.
func rebase(state *State, now time.Time) {
	state.TimerRemainingMsAtSync = state.IntervalMs + now.Sub(state.ServerTimeAtSync).Milliseconds()
}

func (o *Oracle) fallback(ctx context.Context) {
	now := o.clock.Now()
	if snapshot, ok := o.loadSnapshot(ctx); ok {
		age := snapshot.Age(now)
		if age >= 0 && age < StalenessThreshold {
			o.mu.Lock()
			o.secondsRemaining = snapshot.EstimateCountdown(now)
			o.intervalMs = snapshot.IntervalMs
			o.knowsInterval = true
			o.mu.Unlock()
			log.Info().
				Dur("age", age).
				Int("countdown", snapshot.EstimateCountdown(now)).
				Msg("using saved timer snapshot")
			return
		}
		log.Debug().Dur("age", age).Msg("saved timer snapshot is stale, ignoring")
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.knowsInterval {
		o.intervalMs = DefaultIntervalMs
		o.knowsInterval = true
		o.secondsRemaining = CeilSeconds(DefaultIntervalMs)
	}
}

// Tick advances the displayed countdown to now. While the oracle data is
// fresh the value is projected from it; otherwise the countdown simply
// decrements. rolled reports that the cycle ended and the countdown was reset
// to a full cycle; it is true at most once per cycle.
func (o *Oracle) Tick(now time.Time) (secondsRemaining int, rolled bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.knowsInterval && o.intervalMs <= 0 {
		o.secondsRemaining = 0
		return 0, false
	}
	full := CeilSeconds(o.intervalMs)

	if o.state != nil && o.state.Fresh(now) {
		adjusted := o.state.AdjustedRemainingMs(now)
		if adjusted > 0 {
			o.secondsRemaining = CeilSeconds(adjusted)
			return o.secondsRemaining, false
		}
		rebase(o.state, now)
		o.secondsRemaining = full
		return o.secondsRemaining, true
	}

	o.secondsRemaining--
	if o.secondsRemaining <= 0 {
		o.secondsRemaining = full
		return o.secondsRemaining, true
	}
	return o.secondsRemaining, false
}

func (o *Oracle) SecondsRemaining() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.secondsRemaining
}

func (o *Oracle) IntervalMs() int64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.intervalMs
}

// State returns a copy of the oracle data, if any sync has succeeded.
func (o *Oracle) State() (State, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state == nil {
		return State{}, false
	}
	return *o.state, true
}

// Degraded reports that the oracle data is missing or older than
// StalenessThreshold.
func (o *Oracle) Degraded() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state == nil || !o.state.Fresh(o.clock.Now())
}

func (o *Oracle) saveSnapshot(ctx context.Context, snapshot Snapshot) {
	if o.store == nil {
		return
	}
	value, err := encodeSnapshot(snapshot)
	if err != nil {
		log.Error().Err(err).Msg("failed to encode timer snapshot")
		return
	}
	if err := o.store.Set(ctx, signals.KeyTimerSyncState, value); err != nil {
		log.Warn().Err(err).Msg("failed to save timer snapshot")
	}
}

func (o *Oracle) loadSnapshot(ctx context.Context) (Snapshot, bool) {
	if o.store == nil {
		return Snapshot{}, false
	}
	value, ok, err := o.store.Get(ctx, signals.KeyTimerSyncState)
	if err != nil {
		log.Warn().Err(err).Msg("failed to read timer snapshot")
		return Snapshot{}, false
	}
	if !ok {
		return Snapshot{}, false
	}
	snapshot, err := decodeSnapshot(value)
	if err != nil {
		log.Warn().Err(err).Msg("ignoring unreadable timer snapshot")
		return Snapshot{}, false
	}
	return snapshot, true
}
