package tab

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/wallstreetbar/go/internal/market/prefs"
	"github.com/mcdev12/wallstreetbar/go/internal/market/refresh"
	"github.com/mcdev12/wallstreetbar/go/internal/market/signals"
)

// Display renders the state of one wall.
type Display interface {
	ShowCountdown(secondsRemaining int, degraded bool)
	ShowManualMode(manual bool)
	ShowPrices(snapshot refresh.Snapshot)
	ShowConnection(state refresh.ConnectionState)
	ShowPreference(pref prefs.Preference, value string)
	ShowMarketEvent(event signals.MarketEventPayload)
}

// LogDisplay writes every display update to the log. It is what the
// headless wall renders to.
type LogDisplay struct {
	logger zerolog.Logger
}

func NewLogDisplay(contextID string) *LogDisplay {
	return &LogDisplay{logger: log.With().Str("context_id", contextID).Logger()}
}

func (d *LogDisplay) ShowCountdown(secondsRemaining int, degraded bool) {
	d.logger.Debug().Int("seconds", secondsRemaining).Bool("degraded", degraded).Msg("countdown")
}

func (d *LogDisplay) ShowManualMode(manual bool) {
	d.logger.Info().Bool("manual", manual).Msg("refresh mode")
}

func (d *LogDisplay) ShowPrices(snapshot refresh.Snapshot) {
	d.logger.Info().
		Str("trigger", string(snapshot.Trigger)).
		Int("drinks", len(snapshot.Prices)).
		Int("happy_hours", len(snapshot.HappyHours)).
		Msg("prices updated")

	for _, hh := range snapshot.NewHappyHours {
		d.logger.Info().Int("drink_id", hh.DrinkID).Str("drink", hh.DrinkName).Msg("happy hour started")
	}
	for _, p := range snapshot.Prices {
		d.logger.Debug().Int("drink_id", p.ID).Str("drink", p.Name).Float64("price", p.PriceRounded).Msg("price")
	}
}

func (d *LogDisplay) ShowConnection(state refresh.ConnectionState) {
	if state == refresh.Degraded {
		d.logger.Warn().Msg("backend unreachable, showing last known prices")
		return
	}
	d.logger.Info().Msg("backend reachable")
}

func (d *LogDisplay) ShowPreference(pref prefs.Preference, value string) {
	d.logger.Info().Str("preference", string(pref)).Str("value", value).Msg("preference")
}

func (d *LogDisplay) ShowMarketEvent(event signals.MarketEventPayload) {
	d.logger.Info().Str("event", string(event.Event)).Msg("market event")
}
