// Package registry multiplexes many consumer lifetimes onto one
// transport subscription per room. Thread-level interest shares the
// room's stream; threads never get their own transport subscription.
package registry

import (
	"sync"

	"github.com/yanun0323/logs"

	"main/internal/ddp"
	"main/internal/wire"
)

// StreamRoomMessages delivers every message of a room, thread replies
// included.
const StreamRoomMessages = "stream-room-messages"

// Transport is the subscription surface of the transport session.
type Transport interface {
	Subscribe(name string, params []any, handler ddp.EventHandler) string
	Unsubscribe(id string)
}

// MessageCache receives validated room-level messages for rendering.
// Thread replies never reach it; they go to the ThreadSink instead.
type MessageCache interface {
	StoreMessage(msg *wire.Message)
}

// ThreadSink consumes thread replies for notification accounting.
type ThreadSink interface {
	HandleThreadReply(msg *wire.Message)
}

// RoomSubscription is one registry entry: the transport handle plus
// the consumer ref counts keeping it alive. An entry exists iff
// roomRefs + sum(threadRefs) > 0.
type RoomSubscription struct {
	roomID         string
	transportSubID string
	roomRefs       int
	threadRefs     map[string]int
}

func (e *RoomSubscription) totalRefs() int {
	total := e.roomRefs
	for _, n := range e.threadRefs {
		total += n
	}
	return total
}

// Registry owns the room subscription entries. Callers must gate
// subscribe calls on the connection being authenticated; the registry
// itself does not defer or retry.
type Registry struct {
	mu        sync.Mutex
	transport Transport
	cache     MessageCache
	threads   ThreadSink
	rooms     map[string]*RoomSubscription
}

// New builds an empty registry. cache may be nil when no rendering
// consumer exists; threads must not be nil.
func New(transport Transport, cache MessageCache, threads ThreadSink) *Registry {
	return &Registry{
		transport: transport,
		cache:     cache,
		threads:   threads,
		rooms:     make(map[string]*RoomSubscription),
	}
}

// SubscribeRoom registers room-level interest. Only the 0 -> 1
// transition of total interest opens a transport subscription.
func (r *Registry) SubscribeRoom(roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.rooms[roomID]
	if ok {
		entry.roomRefs++
		return
	}
	entry = r.openLocked(roomID)
	entry.roomRefs = 1
}

// UnsubscribeRoom drops one room-level ref. The transport subscription
// is torn down in the same step the grand total reaches zero.
func (r *Registry) UnsubscribeRoom(roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.rooms[roomID]
	if !ok {
		return
	}
	if entry.roomRefs <= 0 {
		// Unbalanced unsubscribe from a consumer; clamp so a leak
		// cannot hide behind a negative count.
		logs.Errorf("room %s ref underflow, refs: %d", roomID, entry.roomRefs)
		entry.roomRefs = 0
	} else {
		entry.roomRefs--
	}
	r.reapLocked(entry)
}

// SubscribeThread registers interest in one thread. Thread-only
// interest creates the room entry with zero room-level refs; it never
// fabricates a room-level consumer.
func (r *Registry) SubscribeThread(roomID, threadID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.rooms[roomID]
	if !ok {
		entry = r.openLocked(roomID)
	}
	entry.threadRefs[threadID]++
}

// UnsubscribeThread drops one thread ref, deleting the thread key at
// zero and the whole entry when no interest at all remains.
func (r *Registry) UnsubscribeThread(roomID, threadID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.rooms[roomID]
	if !ok {
		return
	}
	refs, ok := entry.threadRefs[threadID]
	if !ok {
		return
	}
	if refs <= 1 {
		delete(entry.threadRefs, threadID)
	} else {
		entry.threadRefs[threadID] = refs - 1
	}
	r.reapLocked(entry)
}

// ThreadViewed reports whether any consumer currently views the
// thread. An open subscription implies an open UI surface.
func (r *Registry) ThreadViewed(roomID, threadID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.rooms[roomID]
	if !ok {
		return false
	}
	return entry.threadRefs[threadID] > 0
}

// Replay re-issues one fresh transport subscription per surviving
// entry after re-authentication. Ref counts are a logical concept
// independent of the physical connection and stay untouched; only the
// transport handles change.
func (r *Registry) Replay() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for roomID, entry := range r.rooms {
		entry.transportSubID = r.transport.Subscribe(
			StreamRoomMessages, []any{roomID, false}, r.roomHandler(roomID))
	}
}

// RoomRefs returns the room-level ref count, 0 when absent.
func (r *Registry) RoomRefs(roomID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.rooms[roomID]
	if !ok {
		return 0
	}
	return entry.roomRefs
}

// ThreadRefs returns the ref count of one thread, 0 when absent.
func (r *Registry) ThreadRefs(roomID, threadID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.rooms[roomID]
	if !ok {
		return 0
	}
	return entry.threadRefs[threadID]
}

// Len returns the number of live entries.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

func (r *Registry) openLocked(roomID string) *RoomSubscription {
	entry := &RoomSubscription{
		roomID:     roomID,
		threadRefs: make(map[string]int),
	}
	entry.transportSubID = r.transport.Subscribe(
		StreamRoomMessages, []any{roomID, false}, r.roomHandler(roomID))
	r.rooms[roomID] = entry
	return entry
}

func (r *Registry) reapLocked(entry *RoomSubscription) {
	if entry.totalRefs() > 0 {
		return
	}
	r.transport.Unsubscribe(entry.transportSubID)
	delete(r.rooms, entry.roomID)
}

// roomHandler decodes the room's share of the broadcast change stream.
// Malformed messages are logged and dropped, never propagated; other
// rooms' messages are left for their own handlers.
func (r *Registry) roomHandler(roomID string) ddp.EventHandler {
	return func(change ddp.CollectionChange) {
		if change.Collection != StreamRoomMessages {
			return
		}
		if change.Kind == wire.MsgRemoved {
			return
		}
		msg, err := wire.DecodeMessage(change.Fields)
		if err != nil {
			logs.Errorf("drop malformed room message, err: %+v", err)
			return
		}
		if msg.RoomID != roomID {
			return
		}
		if msg.IsThreadReply() {
			r.threads.HandleThreadReply(msg)
			return
		}
		if r.cache != nil {
			r.cache.StoreMessage(msg)
		}
	}
}
