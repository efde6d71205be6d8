package refresh

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

// MetricsCollector defines the interface for collecting refresh metrics
type MetricsCollector interface {
	RecordRefresh(trigger Trigger, success bool, duration time.Duration)
	RecordRefreshDropped(trigger Trigger)
	RecordConnection(state ConnectionState)
}

// NoOpMetricsCollector is a no-op implementation for when metrics aren't needed
type NoOpMetricsCollector struct{}

func (n *NoOpMetricsCollector) RecordRefresh(trigger Trigger, success bool, duration time.Duration) {}
func (n *NoOpMetricsCollector) RecordRefreshDropped(trigger Trigger)                                {}
func (n *NoOpMetricsCollector) RecordConnection(state ConnectionState)                              {}

// Stats is a point-in-time copy of the orchestrator counters.
type Stats struct {
	Requested    uint64             `json:"requested"`
	Dropped      uint64             `json:"dropped"`
	Succeeded    uint64             `json:"succeeded"`
	Failed       uint64             `json:"failed"`
	LastSuccess  time.Time          `json:"last_success"`
	LastDuration time.Duration      `json:"last_duration"`
	Connection   ConnectionState    `json:"connection"`
	ByTrigger    map[Trigger]uint64 `json:"by_trigger"`
}

type refreshKey struct {
	trigger Trigger
	outcome string
}

// Counters collects refresh metrics for every wall in a process and serves
// them in Prometheus text format.
type Counters struct {
	mu          sync.Mutex
	refreshes   map[refreshKey]uint64
	dropped     map[Trigger]uint64
	transitions map[ConnectionState]uint64
	durationSum time.Duration
	durationN   uint64
}

func NewCounters() *Counters {
	return &Counters{
		refreshes:   make(map[refreshKey]uint64),
		dropped:     make(map[Trigger]uint64),
		transitions: make(map[ConnectionState]uint64),
	}
}

func (c *Counters) RecordRefresh(trigger Trigger, success bool, duration time.Duration) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refreshes[refreshKey{trigger, outcome}]++
	c.durationSum += duration
	c.durationN++
}

func (c *Counters) RecordRefreshDropped(trigger Trigger) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dropped[trigger]++
}

func (c *Counters) RecordConnection(state ConnectionState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transitions[state]++
}

// Refreshes returns the count for one trigger and outcome ("success" or "failure").
func (c *Counters) Refreshes(trigger Trigger, outcome string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refreshes[refreshKey{trigger, outcome}]
}

func (c *Counters) Dropped(trigger Trigger) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped[trigger]
}

func (c *Counters) Transitions(state ConnectionState) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transitions[state]
}

func (c *Counters) Export() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var b strings.Builder

	b.WriteString("# HELP wall_refreshes_total Completed refreshes by trigger and outcome\n")
	b.WriteString("# TYPE wall_refreshes_total counter\n")
	keys := make([]refreshKey, 0, len(c.refreshes))
	for k := range c.refreshes {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].trigger != keys[j].trigger {
			return keys[i].trigger < keys[j].trigger
		}
		return keys[i].outcome < keys[j].outcome
	})
	for _, k := range keys {
		fmt.Fprintf(&b, "wall_refreshes_total{trigger=%q,outcome=%q} %d\n", k.trigger, k.outcome, c.refreshes[k])
	}

	b.WriteString("\n# HELP wall_refreshes_dropped_total Refresh requests dropped while one was in flight\n")
	b.WriteString("# TYPE wall_refreshes_dropped_total counter\n")
	for _, trigger := range sortedKeys(c.dropped) {
		fmt.Fprintf(&b, "wall_refreshes_dropped_total{trigger=%q} %d\n", trigger, c.dropped[trigger])
	}

	b.WriteString("\n# HELP wall_connection_transitions_total Backend connection state changes\n")
	b.WriteString("# TYPE wall_connection_transitions_total counter\n")
	for _, state := range sortedKeys(c.transitions) {
		fmt.Fprintf(&b, "wall_connection_transitions_total{state=%q} %d\n", state, c.transitions[state])
	}

	b.WriteString("\n# HELP wall_refresh_duration_seconds Time spent fetching a refresh\n")
	b.WriteString("# TYPE wall_refresh_duration_seconds summary\n")
	fmt.Fprintf(&b, "wall_refresh_duration_seconds_sum %g\n", c.durationSum.Seconds())
	fmt.Fprintf(&b, "wall_refresh_duration_seconds_count %d\n", c.durationN)

	return b.String()
}

func (c *Counters) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	_, _ = w.Write([]byte(c.Export()))
}

func sortedKeys[K ~string, V any](m map[K]V) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
