package obs

import (
	"sync/atomic"
	"time"
)

// Metrics collects lightweight counters for the realtime client.
type Metrics struct {
	framesIn        uint64
	framesDropped   uint64
	callsIssued     uint64
	callsTimedOut   uint64
	reconnects      uint64
	subscribesSent  uint64
	subsReplayed    uint64
	queueDrops      uint64
	queueClosed     uint64
	dispatchLatency LatencyStats
}

// LatencyStats aggregates duration samples in nanoseconds.
type LatencyStats struct {
	count uint64
	sum   uint64
	min   uint64
	max   uint64
}

// LatencySnapshot is a point-in-time view of latency stats.
type LatencySnapshot struct {
	Count uint64
	Min   time.Duration
	Max   time.Duration
	Avg   time.Duration
}

// Snapshot captures the current metrics values.
type Snapshot struct {
	FramesIn        uint64
	FramesDropped   uint64
	CallsIssued     uint64
	CallsTimedOut   uint64
	Reconnects      uint64
	SubscribesSent  uint64
	SubsReplayed    uint64
	QueueDrops      uint64
	QueueClosed     uint64
	DispatchLatency LatencySnapshot
}

// NewMetrics allocates a metrics container.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// IncFrameIn records one decoded inbound frame.
func (m *Metrics) IncFrameIn() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.framesIn, 1)
}

// IncFrameDropped records a malformed or unroutable inbound frame.
func (m *Metrics) IncFrameDropped() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.framesDropped, 1)
}

// IncCallIssued records an outbound method call.
func (m *Metrics) IncCallIssued() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.callsIssued, 1)
}

// IncCallTimeout records a method call abandoned by its timeout.
func (m *Metrics) IncCallTimeout() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.callsTimedOut, 1)
}

// IncReconnect records one reconnect cycle.
func (m *Metrics) IncReconnect() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.reconnects, 1)
}

// IncSubscribeSent records an outbound sub frame.
func (m *Metrics) IncSubscribeSent() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.subscribesSent, 1)
}

// IncSubReplayed records a subscription replayed after reconnect.
func (m *Metrics) IncSubReplayed() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.subsReplayed, 1)
}

// IncQueueDrop records a queue drop.
func (m *Metrics) IncQueueDrop() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.queueDrops, 1)
}

// IncQueueClosed records a closed-queue publish attempt.
func (m *Metrics) IncQueueClosed() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.queueClosed, 1)
}

// ObserveDispatch measures handler time for one inbound frame.
func (m *Metrics) ObserveDispatch(d time.Duration) {
	if m == nil {
		return
	}
	m.dispatchLatency.Observe(d)
}

// Snapshot returns a copy of the current metrics values.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	return Snapshot{
		FramesIn:        atomic.LoadUint64(&m.framesIn),
		FramesDropped:   atomic.LoadUint64(&m.framesDropped),
		CallsIssued:     atomic.LoadUint64(&m.callsIssued),
		CallsTimedOut:   atomic.LoadUint64(&m.callsTimedOut),
		Reconnects:      atomic.LoadUint64(&m.reconnects),
		SubscribesSent:  atomic.LoadUint64(&m.subscribesSent),
		SubsReplayed:    atomic.LoadUint64(&m.subsReplayed),
		QueueDrops:      atomic.LoadUint64(&m.queueDrops),
		QueueClosed:     atomic.LoadUint64(&m.queueClosed),
		DispatchLatency: m.dispatchLatency.Snapshot(),
	}
}

// Observe records a duration sample.
func (l *LatencyStats) Observe(d time.Duration) {
	if d < 0 {
		return
	}
	nanos := uint64(d)
	atomic.AddUint64(&l.count, 1)
	atomic.AddUint64(&l.sum, nanos)

	for {
		min := atomic.LoadUint64(&l.min)
		if min != 0 && nanos >= min {
			break
		}
		if atomic.CompareAndSwapUint64(&l.min, min, nanos) {
			break
		}
	}

	for {
		max := atomic.LoadUint64(&l.max)
		if nanos <= max {
			break
		}
		if atomic.CompareAndSwapUint64(&l.max, max, nanos) {
			break
		}
	}
}

// Snapshot returns the aggregated latency stats.
func (l *LatencyStats) Snapshot() LatencySnapshot {
	count := atomic.LoadUint64(&l.count)
	if count == 0 {
		return LatencySnapshot{}
	}
	sum := atomic.LoadUint64(&l.sum)
	min := atomic.LoadUint64(&l.min)
	max := atomic.LoadUint64(&l.max)
	return LatencySnapshot{
		Count: count,
		Min:   time.Duration(min),
		Max:   time.Duration(max),
		Avg:   time.Duration(sum / count),
	}
}
