package market_client

import (
	"context"
	"fmt"

	"github.com/mcdev12/wallstreetbar/go/clients"
)

type MarketClient struct {
	*clients.BaseClient
}

func NewMarketClient(baseURL string) *MarketClient {
	return &MarketClient{
		BaseClient: clients.NewBaseClient(baseURL),
	}
}

// SyncTimer fetches the authoritative countdown state.
func (c *MarketClient) SyncTimer(ctx context.Context) (TimerStatus, error) {
	var status TimerStatus
	if err := c.GetJSON(ctx, SyncTimerEndpoint, &status); err != nil {
		return TimerStatus{}, fmt.Errorf("sync timer: %w", err)
	}
	return status, nil
}

func (c *MarketClient) GetPrices(ctx context.Context) (PricesResponse, error) {
	var prices PricesResponse
	if err := c.GetJSON(ctx, PricesEndpoint, &prices); err != nil {
		return PricesResponse{}, fmt.Errorf("get prices: %w", err)
	}
	return prices, nil
}

func (c *MarketClient) GetActiveHappyHours(ctx context.Context) ([]HappyHour, error) {
	var resp ActiveHappyHoursResponse
	if err := c.GetJSON(ctx, ActiveHappyHoursEndpoint, &resp); err != nil {
		return nil, fmt.Errorf("get active happy hours: %w", err)
	}
	return resp.ActiveHappyHours, nil
}

func (c *MarketClient) Buy(ctx context.Context, drinkID, quantity int) error {
	if quantity <= 0 {
		quantity = 1
	}
	if err := c.PostJSON(ctx, BuyEndpoint, BuyRequest{DrinkID: drinkID, Quantity: quantity}, nil); err != nil {
		return fmt.Errorf("buy drink %d: %w", drinkID, err)
	}
	return nil
}
