package market_client

const (
	// Public endpoints
	SyncTimerEndpoint        = "/sync/timer"
	PricesEndpoint           = "/prices"
	ActiveHappyHoursEndpoint = "/happy-hour/active"
	BuyEndpoint              = "/buy"

	// Authenticated endpoints
	ConfigIntervalEndpoint   = "/config/interval"
	TimerRestartEndpoint     = "/admin/timer/restart"
	AdminStatusEndpoint      = "/admin/status"
	MarketCrashEndpoint      = "/admin/market/crash"
	MarketBoomEndpoint       = "/admin/market/boom"
	MarketResetEndpoint      = "/admin/market/reset"
	HappyHourStartEndpoint   = "/admin/happy-hour/start"
	HappyHourStopEndpoint    = "/admin/happy-hour/stop"
	HappyHourStopAllEndpoint = "/admin/happy-hour/stop-all"
)
