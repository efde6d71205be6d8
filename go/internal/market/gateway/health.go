package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/mcdev12/wallstreetbar/go/internal/market/signals"
	"github.com/mcdev12/wallstreetbar/go/internal/sharedstore"
)

type HealthStatus struct {
	Healthy        bool            `json:"healthy"`
	StoreReachable bool            `json:"store_reachable"`
	Connections    int             `json:"connections"`
	LastFrameTime  time.Time       `json:"last_frame_time"`
	Counters       CounterSnapshot `json:"counters"`
	Errors         []string        `json:"errors"`
}

type HealthChecker interface {
	Check(ctx context.Context) HealthStatus
}

type pinger interface {
	Ping(ctx context.Context) error
}

type connectedReporter interface {
	Connected() bool
}

// GatewayHealthChecker reports the gateway healthy while its own store
// handle can reach the backend.
type GatewayHealthChecker struct {
	manager  *ConnectionManager
	store    sharedstore.Store
	counters *Counters
}

func NewGatewayHealthChecker(manager *ConnectionManager, store sharedstore.Store, counters *Counters) *GatewayHealthChecker {
	return &GatewayHealthChecker{
		manager:  manager,
		store:    store,
		counters: counters,
	}
}

func (h *GatewayHealthChecker) Check(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Healthy:        true,
		StoreReachable: true,
		Connections:    h.manager.GetConnectionStats().TotalConnections,
		LastFrameTime:  h.manager.LastFrameTime(),
		Counters:       h.counters.Snapshot(),
		Errors:         []string{},
	}

	switch s := h.store.(type) {
	case pinger:
		if err := s.Ping(ctx); err != nil {
			status.StoreReachable = false
			status.Errors = append(status.Errors, fmt.Sprintf("store ping failed: %v", err))
		}
	case connectedReporter:
		if !s.Connected() {
			status.StoreReachable = false
			status.Errors = append(status.Errors, "NATS disconnected")
		}
	default:
		if _, _, err := h.store.Get(ctx, signals.KeyRefreshInterval); err != nil {
			status.StoreReachable = false
			status.Errors = append(status.Errors, fmt.Sprintf("store read failed: %v", err))
		}
	}

	if !status.StoreReachable {
		status.Healthy = false
	}
	return status
}

func (h *GatewayHealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := h.Check(ctx)

	w.Header().Set("Content-Type", "application/json")
	if !status.Healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(status)
}

// PrometheusExporter renders the health status in the Prometheus text format.
type PrometheusExporter struct {
	checker HealthChecker
}

func NewPrometheusExporter(checker HealthChecker) *PrometheusExporter {
	return &PrometheusExporter{checker: checker}
}

func (e *PrometheusExporter) Export(ctx context.Context) string {
	status := e.checker.Check(ctx)

	healthy := 0
	if status.Healthy {
		healthy = 1
	}

	storeReachable := 0
	if status.StoreReachable {
		storeReachable = 1
	}

	var lastFrame int64
	if !status.LastFrameTime.IsZero() {
		lastFrame = status.LastFrameTime.Unix()
	}

	c := status.Counters
	return fmt.Sprintf(`# HELP gateway_healthy Whether the gateway is healthy
# TYPE gateway_healthy gauge
gateway_healthy %d

# HELP gateway_store_reachable Whether the shared store is reachable
# TYPE gateway_store_reachable gauge
gateway_store_reachable %d

# HELP gateway_connections Currently attached browser contexts
# TYPE gateway_connections gauge
gateway_connections %d

# HELP gateway_connections_opened_total Browser contexts attached since start
# TYPE gateway_connections_opened_total counter
gateway_connections_opened_total %d

# HELP gateway_slow_connections_closed_total Contexts dropped for not keeping up
# TYPE gateway_slow_connections_closed_total counter
gateway_slow_connections_closed_total %d

# HELP gateway_frames_total Client frames by outcome
# TYPE gateway_frames_total counter
gateway_frames_total{outcome="accepted"} %d
gateway_frames_total{outcome="rejected"} %d

# HELP gateway_changes_sent_total Store changes relayed to browser contexts
# TYPE gateway_changes_sent_total counter
gateway_changes_sent_total %d

# HELP gateway_last_frame_timestamp Unix timestamp of the last accepted client frame
# TYPE gateway_last_frame_timestamp gauge
gateway_last_frame_timestamp %d
`,
		healthy,
		storeReachable,
		status.Connections,
		c.ConnectionsOpened,
		c.SlowClosed,
		c.FramesAccepted,
		c.FramesRejected,
		c.ChangesSent,
		lastFrame,
	)
}

func (e *PrometheusExporter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	_, _ = w.Write([]byte(e.Export(ctx)))
}
