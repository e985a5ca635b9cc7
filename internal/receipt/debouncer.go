// Package receipt coalesces mark-as-read calls per room so rapid-fire
// viewer activity reaches the network once per debounce window.
package receipt

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/yanun0323/logs"
)

const defaultDelay = time.Second

// connectionErrPatterns classify failures that warrant a reconnect.
var connectionErrPatterns = []string{
	"not connected",
	"timeout",
	"failed to send",
	"reconnect failed",
}

// MarkFunc performs the actual mark-as-read network call.
type MarkFunc func(ctx context.Context, roomID string) error

type entry struct {
	timer *time.Timer
	gen   uint64
}

// Debouncer schedules one pending mark-as-read per room; only the last
// call within the window reaches the network. Failures are logged,
// never surfaced, and connection-shaped failures escalate to a
// reconnect unless one is already in flight.
type Debouncer struct {
	delay      time.Duration
	mark       MarkFunc
	reconnect  func()
	connecting func() bool

	mu     sync.Mutex
	gen    uint64
	timers map[string]*entry
}

// New builds a debouncer. delay <= 0 falls back to one second.
func New(delay time.Duration, mark MarkFunc, reconnect func(), connecting func() bool) *Debouncer {
	if delay <= 0 {
		delay = defaultDelay
	}
	return &Debouncer{
		delay:      delay,
		mark:       mark,
		reconnect:  reconnect,
		connecting: connecting,
		timers:     make(map[string]*entry),
	}
}

// MarkRoomAsRead cancels any pending timer for the room and schedules
// a fresh one at the debounce delay.
func (d *Debouncer) MarkRoomAsRead(roomID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if e, ok := d.timers[roomID]; ok {
		e.timer.Stop()
	}
	d.gen++
	gen := d.gen
	timer := time.AfterFunc(d.delay, func() { d.fire(roomID, gen) })
	d.timers[roomID] = &entry{timer: timer, gen: gen}
}

// Pending returns the number of rooms with a scheduled receipt.
func (d *Debouncer) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.timers)
}

// StopAll cancels every pending receipt without firing it.
func (d *Debouncer) StopAll() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for roomID, e := range d.timers {
		e.timer.Stop()
		delete(d.timers, roomID)
	}
}

func (d *Debouncer) fire(roomID string, gen uint64) {
	// Cleanup runs whatever the outcome so the room can always be
	// scheduled again.
	defer func() {
		d.mu.Lock()
		if e, ok := d.timers[roomID]; ok && e.gen == gen {
			delete(d.timers, roomID)
		}
		d.mu.Unlock()
	}()

	err := d.mark(context.Background(), roomID)
	if err == nil {
		return
	}
	logs.Warnf("mark room %s as read, err: %+v", roomID, err)

	if !IsConnectionError(err) {
		return
	}
	if d.connecting != nil && d.connecting() {
		return
	}
	if d.reconnect != nil {
		d.reconnect()
	}
}

// IsConnectionError matches an error message against the known
// connection failure patterns.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	text := strings.ToLower(err.Error())
	for _, pattern := range connectionErrPatterns {
		if strings.Contains(text, pattern) {
			return true
		}
	}
	return false
}
