package wire

import (
	"time"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/errors"

	"main/pkg/exception"
)

// Author identifies the sender of a message.
type Author struct {
	ID       string `json:"_id"`
	Username string `json:"username,omitempty"`
}

// Message is a single room message. Thread replies carry the parent
// message id in ThreadID.
type Message struct {
	ID       string    `json:"_id"`
	RoomID   string    `json:"rid"`
	ThreadID string    `json:"tmid,omitempty"`
	Text     string    `json:"msg,omitempty"`
	Author   Author    `json:"u"`
	SentAt   time.Time `json:"ts,omitempty"`
}

// IsThreadReply reports whether the message belongs to a thread.
func (m *Message) IsThreadReply() bool {
	return m.ThreadID != ""
}

// DecodeMessage parses and validates a message payload. A message must
// carry its own id, a room id, and an author id; anything else is
// rejected so a single malformed event cannot poison downstream state.
func DecodeMessage(payload []byte) (*Message, error) {
	var m Message
	if err := sonic.Unmarshal(payload, &m); err != nil {
		return nil, errors.Wrap(err, "unmarshal message")
	}
	if m.ID == "" || m.RoomID == "" || m.Author.ID == "" {
		return nil, errors.Wrapf(exception.ErrMalformedFrame,
			"message missing required fields, id: %q, rid: %q, author: %q",
			m.ID, m.RoomID, m.Author.ID)
	}
	return &m, nil
}
