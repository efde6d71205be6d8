package timersync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/mcdev12/wallstreetbar/go/clients/market_client"
	"github.com/mcdev12/wallstreetbar/go/internal/market/signals"
	"github.com/mcdev12/wallstreetbar/go/internal/sharedstore"
)

type fakeFetcher struct {
	status market_client.TimerStatus
	err    error
	calls  int
}

func (f *fakeFetcher) SyncTimer(ctx context.Context) (market_client.TimerStatus, error) {
	f.calls++
	return f.status, f.err
}

func status(serverTime time.Time, remainingMs, intervalMs int64) market_client.TimerStatus {
	return market_client.TimerStatus{
		ServerTime:       market_client.Timestamp{Time: serverTime},
		MarketTimerStart: market_client.Timestamp{Time: serverTime.Add(time.Duration(remainingMs-intervalMs) * time.Millisecond)},
		IntervalMs:       intervalMs,
		TimerRemainingMs: remainingMs,
	}
}

func TestSyncCorrectsForClockSkew(t *testing.T) {
	clock := clockwork.NewFakeClock()
	fetcher := &fakeFetcher{status: status(clock.Now().Add(-2000*time.Millisecond), 5000, 10000)}
	oracle := NewOracle(fetcher, nil, clock)

	if !oracle.Sync(context.Background()) {
		t.Fatalf("expected sync to succeed")
	}
	if got := oracle.SecondsRemaining(); got != 3 {
		t.Fatalf("expected 3 seconds remaining, got %d", got)
	}
}

func TestSyncSavesSnapshot(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := sharedstore.NewMemoryHub(clock).Open("wall")
	fetcher := &fakeFetcher{status: status(clock.Now(), 7500, 10000)}
	oracle := NewOracle(fetcher, store, clock)

	oracle.Sync(context.Background())

	value, ok, err := store.Get(context.Background(), signals.KeyTimerSyncState)
	if err != nil || !ok {
		t.Fatalf("snapshot not saved: ok=%v err=%v", ok, err)
	}
	snapshot, err := decodeSnapshot(value)
	if err != nil {
		t.Fatalf("decodeSnapshot: %v", err)
	}
	if snapshot.Countdown != 8 || snapshot.IntervalMs != 10000 || snapshot.LastSync != clock.Now().UnixMilli() {
		t.Fatalf("unexpected snapshot %+v", snapshot)
	}
}

func TestRolloverRefreshesOnce(t *testing.T) {
	clock := clockwork.NewFakeClock()
	fetcher := &fakeFetcher{status: status(clock.Now(), 2000, 10000)}
	oracle := NewOracle(fetcher, nil, clock)

	refreshes := 0
	oracle.OnRollover(func(context.Context) { refreshes++ })
	oracle.Sync(context.Background())

	for i := 0; i < 5; i++ {
		clock.Advance(time.Second)
		if _, rolled := oracle.Tick(clock.Now()); rolled {
			refreshes++
		}
	}
	if refreshes != 1 {
		t.Fatalf("expected exactly one refresh, got %d", refreshes)
	}
	if got := oracle.SecondsRemaining(); got != 7 {
		t.Fatalf("expected countdown to restart from a full cycle, got %d", got)
	}
}

func TestSyncAfterCycleEndedRefreshesOnce(t *testing.T) {
	clock := clockwork.NewFakeClock()
	fetcher := &fakeFetcher{status: status(clock.Now().Add(-3*time.Second), 1000, 10000)}
	oracle := NewOracle(fetcher, nil, clock)

	refreshes := 0
	oracle.OnRollover(func(context.Context) { refreshes++ })
	oracle.Sync(context.Background())

	if refreshes != 1 {
		t.Fatalf("expected sync to trigger one refresh, got %d", refreshes)
	}
	if got := oracle.SecondsRemaining(); got != 10 {
		t.Fatalf("expected a full cycle, got %d", got)
	}

	for i := 0; i < 3; i++ {
		clock.Advance(time.Second)
		if _, rolled := oracle.Tick(clock.Now()); rolled {
			t.Fatalf("tick %d reported a second rollover", i)
		}
	}
}

func TestFallbackIgnoresStaleSnapshot(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := sharedstore.NewMemoryHub(clock).Open("wall")
	old := Snapshot{Countdown: 4, IntervalMs: 30000, LastSync: clock.Now().Add(-200 * time.Second).UnixMilli()}
	value, _ := encodeSnapshot(old)
	if err := store.Set(context.Background(), signals.KeyTimerSyncState, value); err != nil {
		t.Fatalf("Set: %v", err)
	}

	oracle := NewOracle(&fakeFetcher{err: errors.New("offline")}, store, clock)
	if oracle.Sync(context.Background()) {
		t.Fatalf("expected sync to report failure")
	}
	if got := oracle.IntervalMs(); got != DefaultIntervalMs {
		t.Fatalf("expected default interval, got %d", got)
	}
	if got := oracle.SecondsRemaining(); got != 10 {
		t.Fatalf("expected default countdown, got %d", got)
	}
}

func TestFallbackUsesRecentSnapshot(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := sharedstore.NewMemoryHub(clock).Open("wall")
	recent := Snapshot{Countdown: 20, IntervalMs: 30000, LastSync: clock.Now().Add(-5 * time.Second).UnixMilli()}
	value, _ := encodeSnapshot(recent)
	_ = store.Set(context.Background(), signals.KeyTimerSyncState, value)

	oracle := NewOracle(&fakeFetcher{err: errors.New("offline")}, store, clock)
	oracle.Sync(context.Background())

	if got := oracle.SecondsRemaining(); got != 15 {
		t.Fatalf("expected countdown 15, got %d", got)
	}
	if got := oracle.IntervalMs(); got != 30000 {
		t.Fatalf("expected snapshot interval, got %d", got)
	}
}

func TestFailedSyncKeepsExistingState(t *testing.T) {
	clock := clockwork.NewFakeClock()
	fetcher := &fakeFetcher{status: status(clock.Now(), 9000, 20000)}
	oracle := NewOracle(fetcher, nil, clock)
	oracle.Sync(context.Background())

	fetcher.err = errors.New("offline")
	clock.Advance(2 * time.Second)
	oracle.Sync(context.Background())

	if got := oracle.IntervalMs(); got != 20000 {
		t.Fatalf("expected interval to be kept, got %d", got)
	}
	if got, _ := oracle.Tick(clock.Now()); got != 7 {
		t.Fatalf("expected projected countdown 7, got %d", got)
	}
}

func TestTickDecrementsOnceDataIsStale(t *testing.T) {
	clock := clockwork.NewFakeClock()
	oracle := NewOracle(&fakeFetcher{status: status(clock.Now(), 5000, 10000)}, nil, clock)
	oracle.Sync(context.Background())

	clock.Advance(StalenessThreshold + time.Second)
	if !oracle.Degraded() {
		t.Fatalf("expected degraded after the staleness threshold")
	}

	before := oracle.SecondsRemaining()
	got, _ := oracle.Tick(clock.Now())
	if got != before-1 {
		t.Fatalf("expected plain decrement from %d, got %d", before, got)
	}
}

func TestManualModeHasNoCountdown(t *testing.T) {
	clock := clockwork.NewFakeClock()
	oracle := NewOracle(&fakeFetcher{status: status(clock.Now(), 0, 0)}, nil, clock)
	oracle.Sync(context.Background())

	clock.Advance(time.Second)
	if got, rolled := oracle.Tick(clock.Now()); got != 0 || rolled {
		t.Fatalf("expected no countdown in manual mode, got %d rolled=%v", got, rolled)
	}
}

func TestCeilSeconds(t *testing.T) {
	tests := []struct {
		ms   int64
		want int
	}{
		{-5, 0},
		{0, 0},
		{1, 1},
		{1000, 1},
		{1001, 2},
		{10000, 10},
	}
	for _, tt := range tests {
		if got := CeilSeconds(tt.ms); got != tt.want {
			t.Errorf("CeilSeconds(%d) = %d, want %d", tt.ms, got, tt.want)
		}
	}
}
