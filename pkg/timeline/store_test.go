package timeline

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

const room = id.RoomID("!room:example.org")

func entry(evtID string) Entry {
	return Entry{EventID: id.EventID(evtID), RoomID: room, Sender: "@alice:example.org", Type: event.EventMessage}
}

func eventIDs(entries []Entry) []id.EventID {
	ids := make([]id.EventID, len(entries))
	for i, e := range entries {
		ids[i] = e.EventID
	}
	return ids
}

func TestAppendDedup(t *testing.T) {
	store := NewStore()
	assert.True(t, store.Append(room, entry("$a")))
	assert.True(t, store.Append(room, entry("$b")))
	assert.False(t, store.Append(room, entry("$a")))

	assert.Equal(t, []id.EventID{"$a", "$b"}, eventIDs(store.Read(room)))
	assert.Equal(t, 2, store.Len(room))
}

func TestPrependAfterAppend(t *testing.T) {
	store := NewStore()
	store.Append(room, entry("$l1"))
	inserted := store.Prepend(room, []Entry{entry("$h1"), entry("$h2")})

	assert.Equal(t, []id.EventID{"$h1", "$h2"}, eventIDs(inserted))
	assert.Equal(t, []id.EventID{"$h1", "$h2", "$l1"}, eventIDs(store.Read(room)))
}

func TestAppendAfterPrepend(t *testing.T) {
	store := NewStore()
	store.Prepend(room, []Entry{entry("$h1"), entry("$h2")})
	store.Append(room, entry("$l1"))

	assert.Equal(t, []id.EventID{"$h1", "$h2", "$l1"}, eventIDs(store.Read(room)))
}

func TestPrependSkipsKnownAndBatchDuplicates(t *testing.T) {
	store := NewStore()
	store.Append(room, entry("$h2"))
	store.Append(room, entry("$l1"))

	inserted := store.Prepend(room, []Entry{entry("$h1"), entry("$h2"), entry("$h3"), entry("$h1")})
	assert.Equal(t, []id.EventID{"$h1", "$h3"}, eventIDs(inserted))
	assert.Equal(t, []id.EventID{"$h1", "$h3", "$h2", "$l1"}, eventIDs(store.Read(room)))

	assert.Nil(t, store.Prepend(room, []Entry{entry("$h1")}))
}

func TestReadIsACopy(t *testing.T) {
	store := NewStore()
	store.Append(room, entry("$a"))
	entries := store.Read(room)
	entries[0].EventID = "$mutated"

	assert.True(t, store.Has(room, "$a"))
	assert.Equal(t, id.EventID("$a"), store.Read(room)[0].EventID)
}

func TestRoomsAreIndependent(t *testing.T) {
	store := NewStore()
	other := id.RoomID("!other:example.org")
	store.Append(room, entry("$a"))
	assert.True(t, store.Append(other, entry("$a")))

	assert.Equal(t, []id.RoomID{other, room}, store.Rooms())

	store.Clear(room)
	assert.Nil(t, store.Read(room))
	assert.False(t, store.Has(room, "$a"))
	assert.True(t, store.Has(other, "$a"))

	store.Reset()
	assert.Empty(t, store.Rooms())
}

func TestFromEventKeepsContent(t *testing.T) {
	raw := json.RawMessage(`{"msgtype":"m.text","body":"hello"}`)
	evt := &event.Event{
		ID:        "$evt",
		RoomID:    room,
		Sender:    "@bob:example.org",
		Type:      event.EventMessage,
		Timestamp: 1234,
		Content:   event.Content{VeryRaw: raw},
	}
	e := FromEvent(evt, true)
	require.Equal(t, id.EventID("$evt"), e.EventID)
	assert.True(t, e.Historical)
	assert.Equal(t, int64(1234), e.Timestamp)
	assert.Equal(t, "hello", e.Body())
	assert.JSONEq(t, string(raw), string(e.Content))
}
