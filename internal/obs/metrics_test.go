package obs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMetricsSnapshot(t *testing.T) {
	m := NewMetrics()
	m.IncFrameIn()
	m.IncFrameIn()
	m.IncFrameDropped()
	m.IncCallIssued()
	m.IncCallTimeout()
	m.IncReconnect()
	m.IncSubscribeSent()
	m.IncSubReplayed()
	m.IncQueueDrop()
	m.IncQueueClosed()
	m.ObserveDispatch(2 * time.Millisecond)
	m.ObserveDispatch(4 * time.Millisecond)

	snap := m.Snapshot()
	assert.Equal(t, uint64(2), snap.FramesIn)
	assert.Equal(t, uint64(1), snap.FramesDropped)
	assert.Equal(t, uint64(1), snap.CallsIssued)
	assert.Equal(t, uint64(1), snap.CallsTimedOut)
	assert.Equal(t, uint64(1), snap.Reconnects)
	assert.Equal(t, uint64(1), snap.SubscribesSent)
	assert.Equal(t, uint64(1), snap.SubsReplayed)
	assert.Equal(t, uint64(1), snap.QueueDrops)
	assert.Equal(t, uint64(1), snap.QueueClosed)

	assert.Equal(t, uint64(2), snap.DispatchLatency.Count)
	assert.Equal(t, 2*time.Millisecond, snap.DispatchLatency.Min)
	assert.Equal(t, 4*time.Millisecond, snap.DispatchLatency.Max)
	assert.Equal(t, 3*time.Millisecond, snap.DispatchLatency.Avg)
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.IncFrameIn()
	m.IncFrameDropped()
	m.IncCallIssued()
	m.ObserveDispatch(time.Millisecond)
}
