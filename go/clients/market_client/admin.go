package market_client

import (
	"context"
	"fmt"
)

// Admin endpoints require SetBasicAuth on the client.

func (c *MarketClient) AdminStatus(ctx context.Context) (AdminStatus, error) {
	var status AdminStatus
	if err := c.GetJSON(ctx, AdminStatusEndpoint, &status); err != nil {
		return AdminStatus{}, fmt.Errorf("admin status: %w", err)
	}
	return status, nil
}

// SetInterval changes the server cycle length. Zero switches the market to manual mode.
func (c *MarketClient) SetInterval(ctx context.Context, intervalMs int64) error {
	if intervalMs < 0 {
		return fmt.Errorf("set interval: negative interval %d", intervalMs)
	}
	if err := c.PostJSON(ctx, ConfigIntervalEndpoint, IntervalRequest{IntervalMs: intervalMs}, nil); err != nil {
		return fmt.Errorf("set interval: %w", err)
	}
	return nil
}

func (c *MarketClient) RestartTimer(ctx context.Context) error {
	return c.post(ctx, TimerRestartEndpoint, nil, "restart timer")
}

func (c *MarketClient) Crash(ctx context.Context) error {
	return c.post(ctx, MarketCrashEndpoint, nil, "market crash")
}

func (c *MarketClient) Boom(ctx context.Context) error {
	return c.post(ctx, MarketBoomEndpoint, nil, "market boom")
}

func (c *MarketClient) ResetMarket(ctx context.Context) error {
	return c.post(ctx, MarketResetEndpoint, nil, "market reset")
}

func (c *MarketClient) StartHappyHour(ctx context.Context, drinkID, durationSec int) error {
	return c.post(ctx, HappyHourStartEndpoint, HappyHourRequest{DrinkID: drinkID, Duration: durationSec}, "start happy hour")
}

func (c *MarketClient) StopHappyHour(ctx context.Context, drinkID int) error {
	return c.post(ctx, HappyHourStopEndpoint, HappyHourRequest{DrinkID: drinkID}, "stop happy hour")
}

func (c *MarketClient) StopAllHappyHours(ctx context.Context) error {
	return c.post(ctx, HappyHourStopAllEndpoint, nil, "stop all happy hours")
}

func (c *MarketClient) post(ctx context.Context, endpoint string, body any, action string) error {
	if err := c.PostJSON(ctx, endpoint, body, nil); err != nil {
		return fmt.Errorf("%s: %w", action, err)
	}
	return nil
}
