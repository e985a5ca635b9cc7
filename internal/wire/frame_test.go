package wire

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"main/pkg/exception"
)

func TestDecodeFrame(t *testing.T) {
	f, err := DecodeFrame([]byte(`{"msg":"connected","session":"abc"}`))
	require.NoError(t, err)
	assert.Equal(t, MsgConnected, f.Msg)
	assert.Equal(t, "abc", f.Session)

	_, err = DecodeFrame([]byte(`{"server_id":"0"}`))
	assert.Error(t, err, "missing msg discriminator")

	_, err = DecodeFrame([]byte(`not json`))
	assert.Error(t, err)
}

func TestDecodeFrameMethodError(t *testing.T) {
	f, err := DecodeFrame([]byte(`{"msg":"result","id":"7","error":{"error":404,"reason":"method not found"}}`))
	require.NoError(t, err)
	require.NotNil(t, f.Error)
	assert.Equal(t, 404, f.Error.Code)
	assert.Equal(t, "method not found", f.Error.Error())
}

func TestFrameRoundTrip(t *testing.T) {
	params, err := EncodeParams("room-1", false)
	require.NoError(t, err)

	out := &Frame{Msg: MsgSub, ID: "3", Name: "stream-room-messages", Params: params}
	payload, err := out.Encode()
	require.NoError(t, err)

	in, err := DecodeFrame(payload)
	require.NoError(t, err)
	assert.Equal(t, out.Msg, in.Msg)
	assert.Equal(t, out.Name, in.Name)
	require.Len(t, in.Params, 2)
	assert.JSONEq(t, `"room-1"`, string(in.Params[0]))
	assert.JSONEq(t, `false`, string(in.Params[1]))
}

func TestDecodeMessage(t *testing.T) {
	payload := []byte(`{"_id":"m1","rid":"r1","tmid":"t1","msg":"hi","u":{"_id":"alice","username":"alice"},"ts":"2026-01-02T15:04:05Z"}`)
	m, err := DecodeMessage(payload)
	require.NoError(t, err)
	assert.Equal(t, "m1", m.ID)
	assert.Equal(t, "r1", m.RoomID)
	assert.True(t, m.IsThreadReply())
	assert.Equal(t, "alice", m.Author.ID)
	assert.Equal(t, time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC), m.SentAt.UTC())
}

func TestDecodeMessageRejectsMissingFields(t *testing.T) {
	testCases := []struct {
		desc    string
		payload string
	}{
		{"missing id", `{"rid":"r1","u":{"_id":"alice"}}`},
		{"missing room", `{"_id":"m1","u":{"_id":"alice"}}`},
		{"missing author", `{"_id":"m1","rid":"r1"}`},
		{"empty object", `{}`},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			_, err := DecodeMessage([]byte(tc.payload))
			require.ErrorIs(t, err, exception.ErrMalformedFrame)
		})
	}
}

func TestDecodeSubscriptionUpdate(t *testing.T) {
	payload := []byte(`{"rid":"r1","unread":4,"alert":true,"tunread":[{"id":"t1","unread":2},{"id":"t2","unread":-1}]}`)
	u, err := DecodeSubscriptionUpdate(payload)
	require.NoError(t, err)
	assert.Equal(t, 4, u.Unread)
	assert.True(t, u.Alert)
	require.Len(t, u.ThreadUnread, 2)
	assert.Equal(t, 2, u.ThreadUnread[0].Unread)
	assert.Equal(t, 0, u.ThreadUnread[1].Unread, "negative counts clamp")

	_, err = DecodeSubscriptionUpdate([]byte(`{"unread":1}`))
	assert.ErrorIs(t, err, exception.ErrMalformedFrame)
}

func TestDecodeRoomChange(t *testing.T) {
	c, err := DecodeRoomChange(MsgAdded, []byte(`{"rid":"r1","name":"general"}`))
	require.NoError(t, err)
	assert.Equal(t, RoomInserted, c.Kind)
	assert.Equal(t, "general", c.Name)

	c, err = DecodeRoomChange(MsgChanged, []byte(`{"rid":"r1"}`))
	require.NoError(t, err)
	assert.Equal(t, RoomUpdated, c.Kind)

	_, err = DecodeRoomChange(MsgResult, []byte(`{"rid":"r1"}`))
	assert.ErrorIs(t, err, exception.ErrMalformedFrame)

	_, err = DecodeRoomChange(MsgAdded, []byte(`{"name":"no id"}`))
	assert.ErrorIs(t, err, exception.ErrMalformedFrame)
}
