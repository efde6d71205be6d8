package main

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/mcdev12/wallstreetbar/go/clients/market_client"
	"github.com/mcdev12/wallstreetbar/go/internal/market/signals"
	"github.com/mcdev12/wallstreetbar/go/internal/sharedstore"
)

type backend struct {
	mu       sync.Mutex
	hits     map[string]int
	interval int64
}

func newBackend(t *testing.T) (*backend, string) {
	t.Helper()
	b := &backend{hits: make(map[string]int), interval: 10000}
	server := httptest.NewServer(b)
	t.Cleanup(server.Close)
	return b, server.URL
}

func (b *backend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	b.hits[r.URL.Path]++
	interval := b.interval
	b.mu.Unlock()

	switch r.URL.Path {
	case market_client.PricesEndpoint:
		_, _ = w.Write([]byte(`{"prices":[
			{"id":1,"name":"IPA","price":6.1,"price_rounded":6.1,"min_price":3,"max_price":9},
			{"id":2,"name":"Lager","price":3.2,"price_rounded":3.2,"min_price":2,"max_price":6}]}`))
		return
	case market_client.ActiveHappyHoursEndpoint:
		_, _ = w.Write([]byte(`{"active_happy_hours":[{"drink_id":1,"drink_name":"IPA","remaining":120,"duration":600}]}`))
		return
	case market_client.SyncTimerEndpoint:
		if interval == 0 {
			_, _ = w.Write([]byte(`{"server_time":"2025-03-01T20:00:00","market_timer_start":"2025-03-01T20:00:00","interval_ms":0,"timer_remaining_ms":0}`))
			return
		}
		_, _ = w.Write([]byte(`{"server_time":"2025-03-01T20:00:00","market_timer_start":"2025-03-01T20:00:00","interval_ms":10000,"timer_remaining_ms":4000}`))
		return
	case market_client.BuyEndpoint:
		_, _ = w.Write([]byte(`{"status":"ok"}`))
		return
	}

	if user, pass, ok := r.BasicAuth(); !ok || user != "admin" || pass != "admin" {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"detail":"Identifiants incorrects"}`))
		return
	}
	if r.URL.Path == market_client.AdminStatusEndpoint {
		_, _ = w.Write([]byte(`{"admin":"admin","total_drinks":2,"recent_transactions":5,"market_status":"active","timestamp":"2025-03-01T20:00:00"}`))
		return
	}
	if r.URL.Path == market_client.ConfigIntervalEndpoint {
		b.mu.Lock()
		b.interval = 0
		b.mu.Unlock()
	}
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (b *backend) count(path string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.hits[path]
}

func run(t *testing.T, apiURL string, args ...string) (string, error) {
	t.Helper()
	t.Setenv("WSB_STORE_DRIVER", sharedstore.DriverMemory)
	t.Setenv("WSB_ADMIN_USER", "")
	t.Setenv("WSB_LOG_LEVEL", "error")

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	base := []string{"--config", filepath.Join(t.TempDir(), "missing.yaml"), "--api-url", apiURL}
	cmd.SetArgs(append(base, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func sharedView(t *testing.T) sharedstore.Store {
	t.Helper()
	store, err := sharedstore.Open(context.Background(), sharedstore.DefaultConfig(), "marketctl-test")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestIntervalZeroSelectsManualMode(t *testing.T) {
	b, url := newBackend(t)

	out, err := run(t, url, "--user", "admin", "--password", "admin", "interval", "0")
	if err != nil {
		t.Fatalf("interval: %v\n%s", err, out)
	}
	if !strings.Contains(out, "manual mode") {
		t.Fatalf("unexpected output %q", out)
	}
	if b.count(market_client.ConfigIntervalEndpoint) != 1 {
		t.Fatalf("interval endpoint not called")
	}

	value, ok, _ := sharedView(t).Get(context.Background(), signals.KeyRefreshInterval)
	if !ok || value != "0" {
		t.Fatalf("refreshInterval = %q, %v", value, ok)
	}

	out, err = run(t, url, "timer")
	if err != nil || !strings.Contains(out, "manual mode") {
		t.Fatalf("timer: %v %q", err, out)
	}
}

func TestCachedLoginIsReused(t *testing.T) {
	b, url := newBackend(t)

	if _, err := run(t, url, "logout"); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := run(t, url, "restart-timer"); !errors.Is(err, errNoCredentials) {
		t.Fatalf("expected missing credentials, got %v", err)
	}

	out, err := run(t, url, "--user", "admin", "--password", "admin", "login")
	if err != nil || !strings.Contains(out, "logged in as admin") {
		t.Fatalf("login: %v %q", err, out)
	}

	out, err = run(t, url, "market", "crash")
	if err != nil {
		t.Fatalf("market crash: %v\n%s", err, out)
	}
	if b.count(market_client.MarketCrashEndpoint) != 1 {
		t.Fatalf("crash endpoint not called")
	}

	if _, err := run(t, url, "logout"); err != nil {
		t.Fatalf("logout: %v", err)
	}
}

func TestWrongPasswordFails(t *testing.T) {
	b, url := newBackend(t)

	if _, err := run(t, url, "--user", "admin", "--password", "nope", "happy-hour", "stop-all"); err == nil {
		t.Fatalf("expected login failure")
	}
	if b.count(market_client.HappyHourStopAllEndpoint) != 0 {
		t.Fatalf("action must not run without a valid login")
	}
}

func TestArgumentsAreValidated(t *testing.T) {
	b, url := newBackend(t)

	if _, err := run(t, url, "buy", "abc"); err == nil {
		t.Fatalf("expected invalid drink id")
	}
	if _, err := run(t, url, "--user", "admin", "--password", "admin", "interval", "soon"); err == nil {
		t.Fatalf("expected invalid interval")
	}
	if _, err := run(t, url, "--user", "admin", "--password", "admin", "happy-hour", "start", "1", "--duration", "0"); err == nil {
		t.Fatalf("expected invalid duration")
	}
	if b.count(market_client.BuyEndpoint)+b.count(market_client.ConfigIntervalEndpoint)+b.count(market_client.HappyHourStartEndpoint) != 0 {
		t.Fatalf("invalid arguments must not reach the backend")
	}
}

func TestPricesAreSortedAndMarkHappyHours(t *testing.T) {
	_, url := newBackend(t)

	out, err := run(t, url, "prices")
	if err != nil {
		t.Fatalf("prices: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 {
		t.Fatalf("unexpected output %q", out)
	}
	if !strings.Contains(lines[0], "Lager") || !strings.Contains(lines[1], "IPA") || !strings.Contains(lines[1], "happy hour") {
		t.Fatalf("unexpected order or markers %q", out)
	}
}

func TestBuyNeedsNoLogin(t *testing.T) {
	b, url := newBackend(t)

	if _, err := run(t, url, "buy", "2", "-q", "3"); err != nil {
		t.Fatalf("buy: %v", err)
	}
	if b.count(market_client.BuyEndpoint) != 1 {
		t.Fatalf("buy endpoint not called")
	}
}

func TestMemoryStoreWarnsOnSharedWrites(t *testing.T) {
	_, url := newBackend(t)

	out, err := run(t, url, "buy", "1")
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	if !strings.Contains(out, "memory store is local") {
		t.Fatalf("expected a memory store warning, got %q", out)
	}

	out, err = run(t, url, "prices")
	if err != nil {
		t.Fatalf("prices: %v", err)
	}
	if strings.Contains(out, "warning") {
		t.Fatalf("read-only commands should not warn, got %q", out)
	}
}
