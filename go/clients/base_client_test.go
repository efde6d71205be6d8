package clients

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

// slowUntil stalls the first n requests past any reasonable attempt deadline.
func slowUntil(n int32, calls *atomic.Int32) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= n {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}
}

func TestFetchWithRetryRecoversFromTimeouts(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(slowUntil(2, &calls))
	defer server.Close()

	client := NewBaseClient(server.URL)
	cfg := RetryConfig{MaxRetries: 3, RetryDelay: time.Millisecond, Timeout: 50 * time.Millisecond}

	resp, err := client.FetchWithRetry(context.Background(), http.MethodGet, "/prices", nil, cfg)
	if err != nil {
		t.Fatalf("FetchWithRetry: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if got := calls.Load(); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
}

func TestFetchWithRetryDoesNotRetryHTTPErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"detail":"boom"}`))
	}))
	defer server.Close()

	client := NewBaseClient(server.URL)
	cfg := RetryConfig{MaxRetries: 3, RetryDelay: time.Millisecond, Timeout: time.Second}

	resp, err := client.FetchWithRetry(context.Background(), http.MethodGet, "/prices", nil, cfg)
	if err != nil {
		t.Fatalf("FetchWithRetry: %v", err)
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("expected a single attempt, got %d", got)
	}
	if resp.OK() {
		t.Fatalf("expected non-2xx response")
	}

	var httpErr *HTTPError
	if !errors.As(resp.Err(), &httpErr) {
		t.Fatalf("expected *HTTPError, got %v", resp.Err())
	}
	if httpErr.StatusCode != http.StatusInternalServerError || httpErr.Message != "boom" {
		t.Fatalf("unexpected error contents: %+v", httpErr)
	}
}

func TestFetchWithRetryExhaustionReturnsLastError(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(slowUntil(100, &calls))
	defer server.Close()

	client := NewBaseClient(server.URL)
	cfg := RetryConfig{MaxRetries: 2, RetryDelay: time.Millisecond, Timeout: 30 * time.Millisecond}

	_, err := client.FetchWithRetry(context.Background(), http.MethodGet, "/sync/timer", nil, cfg)
	if err == nil {
		t.Fatalf("expected an error after exhausting retries")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded in chain, got %v", err)
	}
	if got := calls.Load(); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
}

func TestFetchWithRetryStopsWhenParentCancelled(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(slowUntil(100, &calls))
	defer server.Close()

	clock := clockwork.NewFakeClock()
	client := NewBaseClient(server.URL)
	client.SetClock(clock)
	cfg := RetryConfig{MaxRetries: 5, RetryDelay: time.Hour, Timeout: 20 * time.Millisecond}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer waitCancel()
		// the retry delay timer is the only waiter on the fake clock
		_ = clock.BlockUntilContext(waitCtx, 1)
		cancel()
	}()

	_, err := client.FetchWithRetry(ctx, http.MethodGet, "/prices", nil, cfg)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("expected 1 attempt before cancellation, got %d", got)
	}
}

func TestMakeRequestSendsHeadersAndCredentials(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "admin" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"detail":"Identifiants incorrects"}`))
			return
		}
		if r.Header.Get("X-Client") != "wall" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer server.Close()

	client := NewBaseClient(server.URL)
	client.SetHeader("X-Client", "wall")

	_, err := client.Get(context.Background(), "/admin/status")
	if !IsHTTPStatus(err, http.StatusUnauthorized) {
		t.Fatalf("expected 401 without credentials, got %v", err)
	}

	client.SetBasicAuth("admin", "secret")
	var out struct {
		Status string `json:"status"`
	}
	if err := client.GetJSON(context.Background(), "/admin/status", &out); err != nil {
		t.Fatalf("GetJSON: %v", err)
	}
	if out.Status != "ok" {
		t.Fatalf("unexpected body: %+v", out)
	}
}
