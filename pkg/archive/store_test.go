package archive

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/nocord/nocord/pkg/timeline"
)

const room = id.RoomID("!room:example.org")

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(context.Background(), filepath.Join(t.TempDir(), "archive.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func entry(evtID id.EventID, historical bool) timeline.Entry {
	return timeline.Entry{
		EventID:    evtID,
		RoomID:     room,
		Sender:     "@alice:example.org",
		Timestamp:  1700000000000,
		Type:       event.EventMessage,
		Content:    json.RawMessage(`{"msgtype":"m.text","body":"` + string(evtID) + `"}`),
		Historical: historical,
	}
}

func loadIDs(t *testing.T, store *Store, roomID id.RoomID) []id.EventID {
	t.Helper()
	entries, err := store.LoadRoom(context.Background(), roomID)
	require.NoError(t, err)
	out := make([]id.EventID, len(entries))
	for i, e := range entries {
		out[i] = e.EventID
	}
	return out
}

func TestAppendAndPrependOrdering(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	require.NoError(t, store.AppendEvent(ctx, entry("$l1", false)))
	require.NoError(t, store.AppendEvent(ctx, entry("$l2", false)))
	require.NoError(t, store.PrependEvents(ctx, room, []timeline.Entry{entry("$h1", true), entry("$h2", true)}))
	require.NoError(t, store.PrependEvents(ctx, room, []timeline.Entry{entry("$h0", true)}))
	require.NoError(t, store.AppendEvent(ctx, entry("$l3", false)))

	assert.Equal(t, []id.EventID{"$h0", "$h1", "$h2", "$l1", "$l2", "$l3"}, loadIDs(t, store, room))
}

func TestDuplicatesAreIgnored(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	require.NoError(t, store.AppendEvent(ctx, entry("$1", false)))
	require.NoError(t, store.AppendEvent(ctx, entry("$1", false)))
	require.NoError(t, store.PrependEvents(ctx, room, []timeline.Entry{entry("$0", true), entry("$1", true)}))

	assert.Equal(t, []id.EventID{"$0", "$1"}, loadIDs(t, store, room))
	count, err := store.CountRoom(ctx, room)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestLoadRoomRestoresEntries(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	original := entry("$1", true)
	require.NoError(t, store.AppendEvent(ctx, original))

	entries, err := store.LoadRoom(ctx, room)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	got := entries[0]
	assert.Equal(t, original.EventID, got.EventID)
	assert.Equal(t, original.RoomID, got.RoomID)
	assert.Equal(t, original.Sender, got.Sender)
	assert.Equal(t, original.Timestamp, got.Timestamp)
	assert.Equal(t, event.EventMessage.Type, got.Type.Type)
	assert.True(t, got.Historical)
	assert.Equal(t, "$1", got.Body())
}

func TestListAndClearRooms(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	other := entry("$o", false)
	other.RoomID = "!other:example.org"

	require.NoError(t, store.AppendEvent(ctx, entry("$1", false)))
	require.NoError(t, store.AppendEvent(ctx, other))

	rooms, err := store.ListRooms(ctx)
	require.NoError(t, err)
	assert.Equal(t, []id.RoomID{"!other:example.org", room}, rooms)

	require.NoError(t, store.ClearRoom(ctx, room))
	assert.Empty(t, loadIDs(t, store, room))
	assert.Equal(t, []id.EventID{"$o"}, loadIDs(t, store, "!other:example.org"))

	require.NoError(t, store.ClearAll(ctx))
	rooms, err = store.ListRooms(ctx)
	require.NoError(t, err)
	assert.Empty(t, rooms)
}

func TestSchemaIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archive.db")
	store, err := Open(context.Background(), path)
	require.NoError(t, err)
	require.NoError(t, store.AppendEvent(context.Background(), entry("$1", false)))
	require.NoError(t, store.Close())

	reopened, err := Open(context.Background(), path)
	require.NoError(t, err)
	defer reopened.Close()
	assert.Equal(t, []id.EventID{"$1"}, loadIDs(t, reopened, room))
}
