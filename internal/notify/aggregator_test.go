package notify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"main/internal/wire"
)

type fakeViewer struct {
	viewed map[string]bool
}

func (v *fakeViewer) ThreadViewed(roomID, threadID string) bool {
	return v.viewed[roomID+"/"+threadID]
}

func reply(roomID, threadID, author string, at time.Time) *wire.Message {
	return &wire.Message{
		ID:       "m1",
		RoomID:   roomID,
		ThreadID: threadID,
		Author:   wire.Author{ID: author},
		SentAt:   at,
	}
}

func TestThreadReplyIncrementsWhenNotViewed(t *testing.T) {
	a := New(&fakeViewer{})
	a.SetPrincipal("me")

	at := time.Now()
	a.HandleThreadReply(reply("r1", "t1", "alice", at))
	a.HandleThreadReply(reply("r1", "t1", "bob", at.Add(time.Second)))

	notification, ok := a.ThreadNotification("r1", "t1")
	require.True(t, ok)
	assert.Equal(t, 2, notification.Count)
	assert.Equal(t, "bob", notification.LastReplyBy)
	assert.Equal(t, at.Add(time.Second), notification.LastReplyAt)
	assert.Equal(t, at.Add(time.Second), a.LastMessageAt("r1"))
}

func TestSelfAuthoredReplyNeverIncrements(t *testing.T) {
	viewer := &fakeViewer{viewed: map[string]bool{}}
	a := New(viewer)
	a.SetPrincipal("me")

	at := time.Now()
	a.HandleThreadReply(reply("r1", "t1", "me", at))
	assert.Equal(t, 0, a.ThreadNotificationCount("r1", "t1"))
	// Room activity still advances for ordering.
	assert.Equal(t, at, a.LastMessageAt("r1"))
}

func TestSelfAuthoredReplyClearsWhenViewed(t *testing.T) {
	viewer := &fakeViewer{viewed: map[string]bool{}}
	a := New(viewer)
	a.SetPrincipal("me")

	a.HandleThreadReply(reply("r1", "t1", "alice", time.Now()))
	require.Equal(t, 1, a.ThreadNotificationCount("r1", "t1"))

	// Same principal posting from another session while the thread is
	// open here: the stale notification goes away.
	viewer.viewed["r1/t1"] = true
	a.HandleThreadReply(reply("r1", "t1", "me", time.Now()))
	_, ok := a.ThreadNotification("r1", "t1")
	assert.False(t, ok, "cleared means absent, not zero")
}

func TestViewedThreadClearsInsteadOfIncrementing(t *testing.T) {
	viewer := &fakeViewer{viewed: map[string]bool{}}
	a := New(viewer)
	a.SetPrincipal("me")

	a.HandleThreadReply(reply("r1", "t1", "alice", time.Now()))
	require.Equal(t, 1, a.ThreadNotificationCount("r1", "t1"))

	viewer.viewed["r1/t1"] = true
	at := time.Now().Add(time.Minute)
	a.HandleThreadReply(reply("r1", "t1", "bob", at))

	assert.Equal(t, 0, a.ThreadNotificationCount("r1", "t1"))
	assert.Equal(t, at, a.LastMessageAt("r1"), "activity time still advances")
}

func TestLastMessageAtNeverMovesBackward(t *testing.T) {
	a := New(&fakeViewer{})
	late := time.Now()
	early := late.Add(-time.Hour)

	a.HandleThreadReply(reply("r1", "t1", "alice", late))
	a.HandleThreadReply(reply("r1", "t2", "bob", early))
	assert.Equal(t, late, a.LastMessageAt("r1"))
}

func TestSubscriptionUpdateReplacesRoomState(t *testing.T) {
	a := New(&fakeViewer{})

	a.HandleThreadReply(reply("r1", "t1", "alice", time.Now()))
	a.HandleThreadReply(reply("r1", "t2", "bob", time.Now()))

	lm := time.Now().Add(time.Minute)
	a.ApplySubscriptionUpdate(&wire.SubscriptionUpdate{
		RoomID:        "r1",
		Unread:        7,
		Alert:         true,
		LastMessageAt: lm,
		ThreadUnread:  []wire.ThreadUnread{{ID: "t1", Unread: 3}},
	})

	assert.Equal(t, 7, a.RoomUnread("r1"))
	assert.True(t, a.RoomAlert("r1"))
	assert.Equal(t, lm, a.LastMessageAt("r1"))

	// The snapshot is authoritative: t2 was absent, so it is gone.
	assert.Equal(t, 3, a.ThreadNotificationCount("r1", "t1"))
	_, ok := a.ThreadNotification("r1", "t2")
	assert.False(t, ok)
	assert.Equal(t, 3, a.RoomThreadTotal("r1"))
}

func TestSubscriptionUpdatePreservesThreadMetadata(t *testing.T) {
	a := New(&fakeViewer{})

	at := time.Now()
	a.HandleThreadReply(reply("r1", "t1", "alice", at))

	a.ApplySubscriptionUpdate(&wire.SubscriptionUpdate{
		RoomID:       "r1",
		Unread:       1,
		ThreadUnread: []wire.ThreadUnread{{ID: "t1", Unread: 5}},
	})

	notification, ok := a.ThreadNotification("r1", "t1")
	require.True(t, ok)
	assert.Equal(t, 5, notification.Count)
	assert.Equal(t, "alice", notification.LastReplyBy)
	assert.Equal(t, at, notification.LastReplyAt)
}

func TestEmptyThreadSnapshotClearsAll(t *testing.T) {
	a := New(&fakeViewer{})
	a.HandleThreadReply(reply("r1", "t1", "alice", time.Now()))
	a.HandleThreadReply(reply("r1", "t2", "bob", time.Now()))
	require.Equal(t, 2, a.RoomThreadTotal("r1"))

	a.ApplySubscriptionUpdate(&wire.SubscriptionUpdate{RoomID: "r1", Unread: 0})
	assert.Equal(t, 0, a.RoomThreadTotal("r1"))
}

func TestSubscriptionUpdateKeepsActivityWhenSnapshotOmitsIt(t *testing.T) {
	a := New(&fakeViewer{})
	at := time.Now()
	a.HandleThreadReply(reply("r1", "t1", "alice", at))

	a.ApplySubscriptionUpdate(&wire.SubscriptionUpdate{RoomID: "r1", Unread: 2})
	assert.Equal(t, at, a.LastMessageAt("r1"))
}

func TestMarkRoomOpenedZeroesOptimistically(t *testing.T) {
	a := New(&fakeViewer{})
	a.ApplySubscriptionUpdate(&wire.SubscriptionUpdate{RoomID: "r1", Unread: 9, Alert: true})

	a.MarkRoomOpened("r1")
	assert.Equal(t, 0, a.RoomUnread("r1"))
	assert.False(t, a.RoomAlert("r1"))
}

func TestClearThreadRemovesEntry(t *testing.T) {
	a := New(&fakeViewer{})
	a.HandleThreadReply(reply("r1", "t1", "alice", time.Now()))

	a.ClearThread("r1", "t1")
	_, ok := a.ThreadNotification("r1", "t1")
	assert.False(t, ok)

	// Clearing twice or clearing unknown ids is harmless.
	a.ClearThread("r1", "t1")
	a.ClearThread("nope", "t1")
}

func TestNonThreadMessagesAreIgnored(t *testing.T) {
	a := New(&fakeViewer{})
	a.HandleThreadReply(reply("r1", "", "alice", time.Now()))
	a.HandleThreadReply(nil)
	assert.Equal(t, 0, a.RoomThreadTotal("r1"))
}
