package signals

// Keys shared by every browsing context. Signal keys carry a Signal envelope
// and only matter as change notifications; durable keys hold current state
// that late joiners read directly.
const (
	// Refresh and timer signals
	KeyRefreshUpdate           = "refreshUpdate"
	KeyPurchaseUpdate          = "purchaseUpdate"
	KeyTriggerImmediateRefresh = "trigger-immediate-refresh"
	KeyMarketEvent             = "market-event-signal"
	KeyTimerRestart            = "timer-restart-signal"

	// Preference change signals
	KeyChartToggle = "chart-toggle-signal"
	KeySortToggle  = "sort-toggle-signal"
	KeyThemeChange = "main-theme-signal"

	// Happy hour one-shot signals
	KeyHappyHourStarted    = "happy-hour-started"
	KeyHappyHourStopped    = "happy-hour-stopped"
	KeyHappyHourAllStopped = "happy-hour-all-stopped"
)

// Durable keys
const (
	KeyRefreshInterval = "refreshInterval"
	KeyTimerSyncState  = "timer-sync-state"
	KeySortMode        = "sort-mode"
	KeyChartType       = "chart-type"
	KeyMainTheme       = "main-theme"
	KeyAdminAuth       = "admin_auth"
)

// OneShot reports whether publishers delete the key right after writing it.
func OneShot(key string) bool {
	switch key {
	case KeyTriggerImmediateRefresh, KeyMarketEvent, KeyTimerRestart,
		KeyHappyHourStarted, KeyHappyHourStopped, KeyHappyHourAllStopped:
		return true
	}
	return false
}

// SignalKeys lists every key that carries a Signal envelope.
func SignalKeys() []string {
	return []string{
		KeyRefreshUpdate, KeyPurchaseUpdate, KeyTriggerImmediateRefresh, KeyMarketEvent, KeyTimerRestart,
		KeyChartToggle, KeySortToggle, KeyThemeChange,
		KeyHappyHourStarted, KeyHappyHourStopped, KeyHappyHourAllStopped,
	}
}
