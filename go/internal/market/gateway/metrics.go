package gateway

import (
	"sync/atomic"
)

// MetricsCollector records what the gateway relays.
type MetricsCollector interface {
	RecordFrame(op string, accepted bool)
	RecordChangeSent()
	RecordConnection(opened bool)
	RecordSlowClose()
}

type NoOpMetricsCollector struct{}

func (n *NoOpMetricsCollector) RecordFrame(op string, accepted bool) {}
func (n *NoOpMetricsCollector) RecordChangeSent()                    {}
func (n *NoOpMetricsCollector) RecordConnection(opened bool)         {}
func (n *NoOpMetricsCollector) RecordSlowClose()                     {}

// Counters is the in-process collector behind /metrics.
type Counters struct {
	framesAccepted atomic.Uint64
	framesRejected atomic.Uint64
	changesSent    atomic.Uint64
	opened         atomic.Uint64
	closed         atomic.Uint64
	slowClosed     atomic.Uint64
}

func (c *Counters) RecordFrame(op string, accepted bool) {
	if accepted {
		c.framesAccepted.Add(1)
		return
	}
	c.framesRejected.Add(1)
}

func (c *Counters) RecordChangeSent() {
	c.changesSent.Add(1)
}

func (c *Counters) RecordConnection(opened bool) {
	if opened {
		c.opened.Add(1)
		return
	}
	c.closed.Add(1)
}

func (c *Counters) RecordSlowClose() {
	c.slowClosed.Add(1)
}

type CounterSnapshot struct {
	FramesAccepted    uint64 `json:"frames_accepted"`
	FramesRejected    uint64 `json:"frames_rejected"`
	ChangesSent       uint64 `json:"changes_sent"`
	ConnectionsOpened uint64 `json:"connections_opened"`
	ConnectionsClosed uint64 `json:"connections_closed"`
	SlowClosed        uint64 `json:"slow_closed"`
}

func (c *Counters) Snapshot() CounterSnapshot {
	return CounterSnapshot{
		FramesAccepted:    c.framesAccepted.Load(),
		FramesRejected:    c.framesRejected.Load(),
		ChangesSent:       c.changesSent.Load(),
		ConnectionsOpened: c.opened.Load(),
		ConnectionsClosed: c.closed.Load(),
		SlowClosed:        c.slowClosed.Load(),
	}
}
