package timersync

import (
	"encoding/json"
	"fmt"
	"time"
)

const (
	// StalenessThreshold bounds how old oracle data or a saved snapshot may be
	// before it is no longer trusted.
	StalenessThreshold = 120 * time.Second

	// DefaultIntervalMs is assumed when no cycle length has ever been learned.
	DefaultIntervalMs int64 = 10000
)

// State is the last successful answer from the timer oracle.
type State struct {
	ServerTimeAtSync       time.Time
	MarketTimerStart       time.Time
	TimerRemainingMsAtSync int64
	IntervalMs             int64
	SyncTimestampLocal     time.Time
}

// AdjustedRemainingMs projects the server's remaining time to now, treating
// the gap between now and the server's clock reading as elapsed time.
func (s State) AdjustedRemainingMs(now time.Time) int64 {
	timeDiff := now.Sub(s.ServerTimeAtSync).Milliseconds()
	return s.TimerRemainingMsAtSync - timeDiff
}

// Age is the local time elapsed since the state was received.
func (s State) Age(now time.Time) time.Duration {
	return now.Sub(s.SyncTimestampLocal)
}

func (s State) Fresh(now time.Time) bool {
	return s.Age(now) <= StalenessThreshold
}

// Snapshot is the fallback copy persisted under timer-sync-state.
type Snapshot struct {
	Countdown        int       `json:"countdown"`
	ServerTimerStart time.Time `json:"serverTimerStart"`
	IntervalMs       int64     `json:"intervalMs"`
	LastSync         int64     `json:"lastSync"` // unix milliseconds, local clock
}

func (s Snapshot) Age(now time.Time) time.Duration {
	return now.Sub(time.UnixMilli(s.LastSync))
}

// EstimateCountdown subtracts whole seconds elapsed since the snapshot was
// saved, never going below zero.
func (s Snapshot) EstimateCountdown(now time.Time) int {
	elapsed := int(s.Age(now) / time.Second)
	if remaining := s.Countdown - elapsed; remaining > 0 {
		return remaining
	}
	return 0
}

func encodeSnapshot(s Snapshot) (string, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("encode snapshot: %w", err)
	}
	return string(raw), nil
}

func decodeSnapshot(value string) (Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal([]byte(value), &s); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return s, nil
}

// CeilSeconds converts milliseconds to whole seconds, rounding up. Negative
// input yields zero.
func CeilSeconds(ms int64) int {
	if ms <= 0 {
		return 0
	}
	return int((ms + 999) / 1000)
}
