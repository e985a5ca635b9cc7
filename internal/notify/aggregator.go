// Package notify maintains per-room unread state and per-thread
// notifications from live events and authoritative server snapshots.
package notify

import (
	"sync"
	"time"

	"main/internal/wire"
)

// ThreadViewer reports whether a thread currently has a live consumer.
// Backed by the subscription registry's thread ref counts.
type ThreadViewer interface {
	ThreadViewed(roomID, threadID string) bool
}

// ThreadNotification is the unread state of one thread.
type ThreadNotification struct {
	Count       int
	LastReplyAt time.Time
	LastReplyBy string
}

type roomState struct {
	unread        int
	alert         bool
	lastMessageAt time.Time
}

// Aggregator is the single shared source UI observers read. Writers
// are limited to its own operations and the explicit optimistic
// mark-as-read call site.
type Aggregator struct {
	mu          sync.RWMutex
	principalID string
	viewer      ThreadViewer
	rooms       map[string]roomState
	threads     map[string]map[string]ThreadNotification
}

// New builds an empty aggregator for the given viewer.
func New(viewer ThreadViewer) *Aggregator {
	return &Aggregator{
		viewer:  viewer,
		rooms:   make(map[string]roomState),
		threads: make(map[string]map[string]ThreadNotification),
	}
}

// BindViewer attaches the thread viewer after construction. The
// registry and the aggregator reference each other, so one side binds
// late.
func (a *Aggregator) BindViewer(viewer ThreadViewer) {
	a.mu.Lock()
	a.viewer = viewer
	a.mu.Unlock()
}

// SetPrincipal records the authenticated principal used for
// self-authorship suppression.
func (a *Aggregator) SetPrincipal(id string) {
	a.mu.Lock()
	a.principalID = id
	a.mu.Unlock()
}

// HandleThreadReply applies one live thread reply.
//
// Self-authored replies never increment; when the thread is viewed
// they additionally clear any stale notification (same principal
// posting from another session). Replies into a viewed thread clear
// instead of incrementing. The room's last-message time moves in every
// case so room ordering stays correct.
func (a *Aggregator) HandleThreadReply(msg *wire.Message) {
	if msg == nil || !msg.IsThreadReply() {
		return
	}
	at := msg.SentAt
	if at.IsZero() {
		at = time.Now()
	}
	a.mu.RLock()
	viewer := a.viewer
	a.mu.RUnlock()
	viewed := viewer != nil && viewer.ThreadViewed(msg.RoomID, msg.ThreadID)

	a.mu.Lock()
	defer a.mu.Unlock()

	state := a.rooms[msg.RoomID]
	if at.After(state.lastMessageAt) {
		state.lastMessageAt = at
	}
	a.rooms[msg.RoomID] = state

	if msg.Author.ID == a.principalID {
		if viewed {
			a.clearThreadLocked(msg.RoomID, msg.ThreadID)
		}
		return
	}
	if viewed {
		a.clearThreadLocked(msg.RoomID, msg.ThreadID)
		return
	}

	room := a.threads[msg.RoomID]
	if room == nil {
		room = make(map[string]ThreadNotification)
		a.threads[msg.RoomID] = room
	}
	notification := room[msg.ThreadID]
	notification.Count++
	notification.LastReplyAt = at
	notification.LastReplyBy = msg.Author.ID
	room[msg.ThreadID] = notification
}

// ApplySubscriptionUpdate applies the backend's authoritative room
// state. It fully replaces the local unread/alert values, and the
// thread-unread list replaces the room's whole thread map: entries
// absent from the snapshot are discarded, local increments between
// snapshots are only a best-effort bridge.
func (a *Aggregator) ApplySubscriptionUpdate(u *wire.SubscriptionUpdate) {
	if u == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	state := a.rooms[u.RoomID]
	state.unread = u.Unread
	state.alert = u.Alert
	if !u.LastMessageAt.IsZero() {
		state.lastMessageAt = u.LastMessageAt
	}
	a.rooms[u.RoomID] = state

	previous := a.threads[u.RoomID]
	if len(u.ThreadUnread) == 0 {
		delete(a.threads, u.RoomID)
		return
	}
	room := make(map[string]ThreadNotification, len(u.ThreadUnread))
	for _, t := range u.ThreadUnread {
		notification := ThreadNotification{Count: t.Unread}
		if prev, ok := previous[t.ID]; ok {
			notification.LastReplyAt = prev.LastReplyAt
			notification.LastReplyBy = prev.LastReplyBy
		}
		room[t.ID] = notification
	}
	a.threads[u.RoomID] = room
}

// MarkRoomOpened optimistically zeroes the room's unread state before
// the read-receipt round-trip completes. Never rolled back on failure:
// a stale zero beats a flapping badge.
func (a *Aggregator) MarkRoomOpened(roomID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	state := a.rooms[roomID]
	state.unread = 0
	state.alert = false
	a.rooms[roomID] = state
}

// ClearThread removes a thread's notification entirely. Cleared means
// absent, not zero.
func (a *Aggregator) ClearThread(roomID, threadID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.clearThreadLocked(roomID, threadID)
}

// RoomUnread returns the room's unread count, 0 when untracked.
func (a *Aggregator) RoomUnread(roomID string) int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.rooms[roomID].unread
}

// RoomAlert returns the room's alert flag.
func (a *Aggregator) RoomAlert(roomID string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.rooms[roomID].alert
}

// LastMessageAt returns the room's last activity time.
func (a *Aggregator) LastMessageAt(roomID string) time.Time {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.rooms[roomID].lastMessageAt
}

// ThreadNotificationCount returns one thread's unread count, 0 when
// absent.
func (a *Aggregator) ThreadNotificationCount(roomID, threadID string) int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.threads[roomID][threadID].Count
}

// ThreadNotification returns one thread's full notification state.
func (a *Aggregator) ThreadNotification(roomID, threadID string) (ThreadNotification, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	notification, ok := a.threads[roomID][threadID]
	return notification, ok
}

// RoomThreadTotal sums every tracked thread count for the room.
// Absence of entries means zero, not an error.
func (a *Aggregator) RoomThreadTotal(roomID string) int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	total := 0
	for _, notification := range a.threads[roomID] {
		total += notification.Count
	}
	return total
}

func (a *Aggregator) clearThreadLocked(roomID, threadID string) {
	room, ok := a.threads[roomID]
	if !ok {
		return
	}
	delete(room, threadID)
	if len(room) == 0 {
		delete(a.threads, roomID)
	}
}
