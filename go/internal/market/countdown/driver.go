package countdown

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// ErrManualMode is returned by Start when the market has no cycle.
var ErrManualMode = errors.New("market is in manual refresh mode")

// Timer is the countdown source, normally a *timersync.Oracle.
type Timer interface {
	Sync(ctx context.Context) bool
	Tick(now time.Time) (secondsRemaining int, rolled bool)
	Degraded() bool
	IntervalMs() int64
	SecondsRemaining() int
}

// Sink receives every displayed countdown value.
type Sink interface {
	ShowCountdown(secondsRemaining int, degraded bool)
}

// RefreshFunc is called when a cycle ends.
type RefreshFunc func(ctx context.Context)

type Config struct {
	TickInterval  time.Duration
	SyncInterval  time.Duration // after a successful sync
	RetryInterval time.Duration // after a failed sync
}

func DefaultConfig() Config {
	return Config{
		TickInterval:  time.Second,
		SyncInterval:  15 * time.Second,
		RetryInterval: 10 * time.Second,
	}
}

// Driver owns the per-second display tick and the periodic resync. At most
// one of each runs at a time.
type Driver struct {
	timer   Timer
	refresh RefreshFunc
	sink    Sink
	clock   clockwork.Clock
	cfg     Config

	mu      sync.Mutex
	running bool
	gen     uint64 // bumped by every Start and Stop
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewDriver(timer Timer, refresh RefreshFunc, sink Sink, clock clockwork.Clock, cfg Config) *Driver {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Driver{
		timer:   timer,
		refresh: refresh,
		sink:    sink,
		clock:   clock,
		cfg:     cfg,
	}
}

// Start syncs with the server and starts the tick and resync loops. If they
// are already running it only resyncs. When the synced interval is zero no
// loop is started and ErrManualMode is returned.
func (d *Driver) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		log.Debug().Msg("countdown already running, resyncing")
		d.timer.Sync(ctx)
		return nil
	}
	d.running = true
	d.gen++
	gen := d.gen
	d.mu.Unlock()

	ok := d.timer.Sync(ctx)
	if d.timer.IntervalMs() <= 0 {
		d.mu.Lock()
		if d.gen == gen {
			d.running = false
		}
		d.mu.Unlock()
		log.Info().Msg("manual refresh mode, countdown not started")
		return ErrManualMode
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.mu.Lock()
	if d.gen != gen || !d.running || d.cancel != nil {
		// stopped, or superseded by a later Start, while syncing
		d.mu.Unlock()
		cancel()
		return nil
	}
	d.cancel = cancel
	d.wg.Add(2)
	d.mu.Unlock()

	go d.tickLoop(runCtx)
	go d.syncLoop(runCtx, ok)

	log.Info().
		Dur("tick", d.cfg.TickInterval).
		Bool("synced", ok).
		Msg("countdown started")
	return nil
}

// Stop halts both loops and waits for them to exit. It is a no-op when the
// driver is not running.
func (d *Driver) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	d.gen++
	cancel := d.cancel
	d.cancel = nil
	d.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	d.wg.Wait()
	log.Info().Msg("countdown stopped")
}

// Restart stops the loops and starts them again after delay.
func (d *Driver) Restart(ctx context.Context, delay time.Duration) {
	d.Stop()
	d.clock.AfterFunc(delay, func() {
		if ctx.Err() != nil {
			return
		}
		if err := d.Start(ctx); err != nil && !errors.Is(err, ErrManualMode) {
			log.Error().Err(err).Msg("failed to restart countdown")
		}
	})
}

func (d *Driver) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

func (d *Driver) SecondsRemaining() int {
	return d.timer.SecondsRemaining()
}

func (d *Driver) tickLoop(ctx context.Context) {
	defer d.wg.Done()

	ticker := d.clock.NewTicker(d.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			d.tick(ctx)
		}
	}
}

func (d *Driver) tick(ctx context.Context) {
	seconds, rolled := d.timer.Tick(d.clock.Now())
	if d.sink != nil {
		d.sink.ShowCountdown(seconds, d.timer.Degraded())
	}
	if rolled && d.refresh != nil {
		log.Debug().Msg("cycle ended, refreshing")
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.refresh(ctx)
		}()
	}
}

func (d *Driver) syncLoop(ctx context.Context, lastOK bool) {
	defer d.wg.Done()

	timer := d.clock.NewTimer(d.nextSync(lastOK))
	defer stopAndDrainTimer(timer)

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.Chan():
			lastOK = d.timer.Sync(ctx)
			timer.Reset(d.nextSync(lastOK))
		}
	}
}

func (d *Driver) nextSync(ok bool) time.Duration {
	if ok {
		return d.cfg.SyncInterval
	}
	return d.cfg.RetryInterval
}

// stopAndDrainTimer stops a timer and drains its channel if it already fired.
func stopAndDrainTimer(timer clockwork.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}
