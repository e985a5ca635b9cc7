package wire

import (
	"time"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/errors"

	"main/pkg/exception"
)

// ThreadUnread is one entry of the authoritative per-thread unread
// snapshot carried by a subscription update.
type ThreadUnread struct {
	ID     string `json:"id"`
	Unread int    `json:"unread"`
}

// SubscriptionUpdate is the backend's authoritative view of a room
// subscription: unread count, alert flag, and the thread unread
// snapshot. It fully replaces locally tracked values for the room.
type SubscriptionUpdate struct {
	RoomID        string         `json:"rid"`
	Unread        int            `json:"unread"`
	Alert         bool           `json:"alert"`
	LastMessageAt time.Time      `json:"lm,omitempty"`
	ThreadUnread  []ThreadUnread `json:"tunread,omitempty"`
}

// RoomChangeKind discriminates room-list change events.
type RoomChangeKind string

const (
	RoomInserted RoomChangeKind = "inserted"
	RoomUpdated  RoomChangeKind = "updated"
	RoomRemoved  RoomChangeKind = "removed"
)

// RoomChange is a room-list change delivered on the principal stream.
// The kind comes from the carrying frame's change message, not from
// the payload.
type RoomChange struct {
	Kind   RoomChangeKind `json:"-"`
	RoomID string         `json:"rid"`
	Name   string         `json:"name,omitempty"`
}

// RoomChangeKindOf maps a collection change message to a room-list
// change kind, empty for anything else.
func RoomChangeKindOf(msg string) RoomChangeKind {
	switch msg {
	case MsgAdded:
		return RoomInserted
	case MsgChanged:
		return RoomUpdated
	case MsgRemoved:
		return RoomRemoved
	default:
		return ""
	}
}

// DecodeSubscriptionUpdate parses and validates a subscription-changed
// payload. The room id is mandatory; counts clamp at zero.
func DecodeSubscriptionUpdate(payload []byte) (*SubscriptionUpdate, error) {
	var u SubscriptionUpdate
	if err := sonic.Unmarshal(payload, &u); err != nil {
		return nil, errors.Wrap(err, "unmarshal subscription update")
	}
	if u.RoomID == "" {
		return nil, errors.Wrap(exception.ErrMalformedFrame, "subscription update missing room id")
	}
	if u.Unread < 0 {
		u.Unread = 0
	}
	for i := range u.ThreadUnread {
		if u.ThreadUnread[i].Unread < 0 {
			u.ThreadUnread[i].Unread = 0
		}
	}
	return &u, nil
}

// DecodeRoomChange parses a room-list change payload carried by a
// collection change frame of the given message kind.
func DecodeRoomChange(msg string, payload []byte) (*RoomChange, error) {
	kind := RoomChangeKindOf(msg)
	if kind == "" {
		return nil, errors.Wrapf(exception.ErrMalformedFrame, "room change kind %q", msg)
	}
	var c RoomChange
	if err := sonic.Unmarshal(payload, &c); err != nil {
		return nil, errors.Wrap(err, "unmarshal room change")
	}
	if c.RoomID == "" {
		return nil, errors.Wrap(exception.ErrMalformedFrame, "room change missing room id")
	}
	c.Kind = kind
	return &c, nil
}
