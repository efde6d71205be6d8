package admin

import (
	"context"
	"fmt"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/wallstreetbar/go/clients/market_client"
	"github.com/mcdev12/wallstreetbar/go/internal/market/signals"
)

// Backend is the authenticated part of the market API.
type Backend interface {
	SetBasicAuth(username, password string)
	AdminStatus(ctx context.Context) (market_client.AdminStatus, error)
	SetInterval(ctx context.Context, intervalMs int64) error
	RestartTimer(ctx context.Context) error
	Crash(ctx context.Context) error
	Boom(ctx context.Context) error
	ResetMarket(ctx context.Context) error
	StartHappyHour(ctx context.Context, drinkID, durationSec int) error
	StopHappyHour(ctx context.Context, drinkID int) error
	StopAllHappyHours(ctx context.Context) error
	Buy(ctx context.Context, drinkID, quantity int) error
}

// Panel performs admin actions against the backend and tells every wall
// about them. Nothing is announced when the backend rejects an action, and
// the backend's error is returned as is.
type Panel struct {
	backend Backend
	bus     *signals.Bus
	creds   *CredentialCache
}

func NewPanel(backend Backend, bus *signals.Bus) *Panel {
	return &Panel{
		backend: backend,
		bus:     bus,
		creds:   NewCredentialCache(bus.Store()),
	}
}

// Login checks the credentials against the backend and caches them.
func (p *Panel) Login(ctx context.Context, username, password string) (market_client.AdminStatus, error) {
	p.backend.SetBasicAuth(username, password)
	status, err := p.backend.AdminStatus(ctx)
	if err != nil {
		p.backend.SetBasicAuth("", "")
		return market_client.AdminStatus{}, err
	}
	if err := p.creds.Save(ctx, Credentials{Username: username, Password: password}); err != nil {
		log.Warn().Err(err).Msg("failed to cache admin credentials")
	}
	log.Info().Str("admin", status.Admin).Msg("admin logged in")
	return status, nil
}

// RestoreSession reuses cached credentials if the backend still accepts them.
func (p *Panel) RestoreSession(ctx context.Context) (bool, error) {
	creds, ok, err := p.creds.Load(ctx)
	if err != nil || !ok {
		return false, err
	}
	if _, err := p.Login(ctx, creds.Username, creds.Password); err != nil {
		log.Info().Err(err).Msg("cached admin credentials rejected")
		return false, p.creds.Clear(ctx)
	}
	return true, nil
}

func (p *Panel) Logout(ctx context.Context) error {
	p.backend.SetBasicAuth("", "")
	return p.creds.Clear(ctx)
}

// SetInterval changes the cycle length on the server, records it as the
// durable refresh interval and tells the walls to re-read it. Zero selects
// manual mode.
func (p *Panel) SetInterval(ctx context.Context, intervalMs int64) error {
	if err := p.backend.SetInterval(ctx, intervalMs); err != nil {
		return err
	}
	if err := p.bus.Store().Set(ctx, signals.KeyRefreshInterval, strconv.FormatInt(intervalMs, 10)); err != nil {
		return fmt.Errorf("store refresh interval: %w", err)
	}
	return p.announce(ctx, signals.KeyRefreshUpdate, signals.IntervalPayload{IntervalMs: intervalMs})
}

func (p *Panel) RestartTimer(ctx context.Context) error {
	if err := p.backend.RestartTimer(ctx); err != nil {
		return err
	}
	return p.announce(ctx, signals.KeyTimerRestart, nil)
}

func (p *Panel) Crash(ctx context.Context) error {
	return p.marketEvent(ctx, signals.MarketEventCrash, p.backend.Crash)
}

func (p *Panel) Boom(ctx context.Context) error {
	return p.marketEvent(ctx, signals.MarketEventBoom, p.backend.Boom)
}

func (p *Panel) ResetMarket(ctx context.Context) error {
	return p.marketEvent(ctx, signals.MarketEventReset, p.backend.ResetMarket)
}

func (p *Panel) StartHappyHour(ctx context.Context, drinkID, durationSec int) error {
	if err := p.backend.StartHappyHour(ctx, drinkID, durationSec); err != nil {
		return err
	}
	payload := signals.HappyHourPayload{DrinkID: drinkID, DurationSec: durationSec}
	if err := p.announce(ctx, signals.KeyHappyHourStarted, payload); err != nil {
		return err
	}
	return p.announce(ctx, signals.KeyTriggerImmediateRefresh, nil)
}

func (p *Panel) StopHappyHour(ctx context.Context, drinkID int) error {
	if err := p.backend.StopHappyHour(ctx, drinkID); err != nil {
		return err
	}
	if err := p.announce(ctx, signals.KeyHappyHourStopped, signals.HappyHourPayload{DrinkID: drinkID}); err != nil {
		return err
	}
	return p.announce(ctx, signals.KeyTriggerImmediateRefresh, nil)
}

func (p *Panel) StopAllHappyHours(ctx context.Context) error {
	if err := p.backend.StopAllHappyHours(ctx); err != nil {
		return err
	}
	if err := p.announce(ctx, signals.KeyHappyHourAllStopped, nil); err != nil {
		return err
	}
	return p.announce(ctx, signals.KeyTriggerImmediateRefresh, nil)
}

// Buy records a purchase. Walls in manual mode refresh on it.
func (p *Panel) Buy(ctx context.Context, drinkID, quantity int) error {
	if err := p.backend.Buy(ctx, drinkID, quantity); err != nil {
		return err
	}
	return p.announce(ctx, signals.KeyPurchaseUpdate, signals.PurchasePayload{DrinkID: drinkID, Quantity: quantity})
}

func (p *Panel) marketEvent(ctx context.Context, event signals.MarketEvent, call func(context.Context) error) error {
	if err := call(ctx); err != nil {
		return err
	}
	payload := signals.MarketEventPayload{Type: signals.MarketEventType, Event: event}
	if err := p.announce(ctx, signals.KeyMarketEvent, payload); err != nil {
		return err
	}
	return p.announce(ctx, signals.KeyTriggerImmediateRefresh, nil)
}

func (p *Panel) announce(ctx context.Context, key string, data any) error {
	var err error
	if signals.OneShot(key) {
		_, err = p.bus.PublishOnce(ctx, key, data)
	} else {
		_, err = p.bus.Publish(ctx, key, data)
	}
	if err != nil {
		return err
	}
	log.Info().Str("key", key).Msg("walls notified")
	return nil
}
