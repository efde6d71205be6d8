package signals

import (
	"encoding/json"
	"fmt"
)

// Payload types carried in Signal.Data, shared by the wall, admin and gateway.

const MarketEventType = "market_event"

type MarketEvent string

const (
	MarketEventCrash MarketEvent = "crash"
	MarketEventBoom  MarketEvent = "boom"
	MarketEventReset MarketEvent = "reset"
)

// MarketEventPayload is the payload for market-event-signal
type MarketEventPayload struct {
	Type  string      `json:"type"`
	Event MarketEvent `json:"event,omitempty"`
}

// HappyHourPayload is the payload for happy-hour-started and happy-hour-stopped
type HappyHourPayload struct {
	DrinkID     int `json:"drinkId"`
	DurationSec int `json:"durationSec,omitempty"`
}

// IntervalPayload is the payload for refreshUpdate
type IntervalPayload struct {
	IntervalMs int64 `json:"intervalMs"`
}

// PurchasePayload is the payload for purchaseUpdate
type PurchasePayload struct {
	DrinkID  int `json:"drinkId"`
	Quantity int `json:"quantity"`
}

// PreferencePayload is the payload for the preference toggle signals
type PreferencePayload struct {
	Value string `json:"value"`
}

// ParsePayload decodes a signal's data into the payload type registered for its key.
// Keys whose payload is optional return nil when the signal carries none.
func ParsePayload(key string, sig Signal) (interface{}, error) {
	var payload interface{}
	switch key {
	case KeyMarketEvent:
		payload = &MarketEventPayload{}
	case KeyHappyHourStarted, KeyHappyHourStopped:
		payload = &HappyHourPayload{}
	case KeyRefreshUpdate:
		payload = &IntervalPayload{}
	case KeyPurchaseUpdate:
		payload = &PurchasePayload{}
	case KeySortToggle, KeyChartToggle, KeyThemeChange:
		payload = &PreferencePayload{}
	default:
		return nil, nil
	}

	if len(sig.Data) == 0 {
		return nil, nil
	}
	if err := json.Unmarshal(sig.Data, payload); err != nil {
		return nil, fmt.Errorf("parse %s payload: %w", key, err)
	}
	return payload, nil
}
