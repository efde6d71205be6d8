package market_client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Timestamp accepts RFC 3339 timestamps as well as the zone-less ISO 8601
// strings the backend emits, which are read as local time.
type Timestamp struct {
	time.Time
}

var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	if raw == "" {
		return nil
	}
	if parsed, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		t.Time = parsed
		return nil
	}
	for _, layout := range naiveLayouts {
		if parsed, err := time.ParseInLocation(layout, raw, time.Local); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("timestamp: unrecognised format %q", raw)
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Time.Format(time.RFC3339Nano))
}

// TimerStatus is the server-authoritative countdown state.
type TimerStatus struct {
	ServerTime       Timestamp `json:"server_time"`
	MarketTimerStart Timestamp `json:"market_timer_start"`
	IntervalMs       int64     `json:"interval_ms"`
	TimerRemainingMs int64     `json:"timer_remaining_ms"`
	DebugInfo        string    `json:"debug_info,omitempty"`
}

type DrinkPrice struct {
	ID            int      `json:"id"`
	Name          string   `json:"name"`
	Price         float64  `json:"price"`
	PriceRounded  float64  `json:"price_rounded"`
	MinPrice      float64  `json:"min_price"`
	MaxPrice      float64  `json:"max_price"`
	AlcoholDegree *float64 `json:"alcohol_degree,omitempty"`
}

// PricesResponse may carry the timer state alongside the prices.
type PricesResponse struct {
	Prices           []DrinkPrice `json:"prices"`
	ActiveDrinks     []int        `json:"active_drinks,omitempty"`
	ServerTime       *Timestamp   `json:"server_time,omitempty"`
	MarketTimerStart *Timestamp   `json:"market_timer_start,omitempty"`
	IntervalMs       *int64       `json:"interval_ms,omitempty"`
	TimerRemainingMs *int64       `json:"timer_remaining_ms,omitempty"`
}

// Timer returns the piggybacked timer state, if the server included one.
func (p PricesResponse) Timer() (TimerStatus, bool) {
	if p.ServerTime == nil || p.IntervalMs == nil || p.TimerRemainingMs == nil {
		return TimerStatus{}, false
	}
	status := TimerStatus{
		ServerTime:       *p.ServerTime,
		IntervalMs:       *p.IntervalMs,
		TimerRemainingMs: *p.TimerRemainingMs,
	}
	if p.MarketTimerStart != nil {
		status.MarketTimerStart = *p.MarketTimerStart
	}
	return status, true
}

type HappyHour struct {
	DrinkID   int    `json:"drink_id"`
	DrinkName string `json:"drink_name"`
	Remaining int    `json:"remaining"`
	Duration  int    `json:"duration"`
}

type ActiveHappyHoursResponse struct {
	ActiveHappyHours []HappyHour `json:"active_happy_hours"`
}

type AdminStatus struct {
	Admin              string    `json:"admin"`
	TotalDrinks        int       `json:"total_drinks"`
	RecentTransactions int       `json:"recent_transactions"`
	MarketStatus       string    `json:"market_status"`
	Timestamp          Timestamp `json:"timestamp"`
}

type IntervalRequest struct {
	IntervalMs int64 `json:"interval_ms"`
}

type BuyRequest struct {
	DrinkID  int `json:"drink_id"`
	Quantity int `json:"quantity"`
}

type HappyHourRequest struct {
	DrinkID  int `json:"drink_id"`
	Duration int `json:"duration,omitempty"`
}
