package presence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"maunium.net/go/mautrix/id"
)

func TestParseStatus(t *testing.T) {
	assert.Equal(t, Online, ParseStatus("online"))
	assert.Equal(t, Unavailable, ParseStatus("unavailable"))
	assert.Equal(t, Offline, ParseStatus("offline"))
	assert.Equal(t, Offline, ParseStatus(""))
	assert.Equal(t, Offline, ParseStatus("busy"))
}

func TestTrackerLastWriteWins(t *testing.T) {
	tracker := NewTracker()
	user := id.UserID("@alice:example.org")
	assert.Equal(t, Offline, tracker.Get(user))

	tracker.Set(user, Online)
	tracker.Set(user, Unavailable)
	assert.Equal(t, Unavailable, tracker.Get(user))
	assert.Equal(t, map[id.UserID]Status{user: Unavailable}, tracker.All())

	tracker.Reset()
	assert.Empty(t, tracker.All())
}

func TestUnreadMonotonicUntilClear(t *testing.T) {
	unread := NewUnread()
	room := id.RoomID("!c:example.org")
	for i := 0; i < 3; i++ {
		unread.Increment(room)
	}
	assert.Equal(t, uint(3), unread.Get(room))
	assert.Equal(t, uint(3), unread.Total())

	unread.Clear(room)
	assert.Equal(t, uint(0), unread.Get(room))
	assert.Empty(t, unread.All())
}

func TestUnreadClearMissingIsNoop(t *testing.T) {
	unread := NewUnread()
	other := id.RoomID("!other:example.org")
	unread.Increment(other)

	unread.Clear("!missing:example.org")
	assert.Equal(t, map[id.RoomID]uint{other: 1}, unread.All())
}
