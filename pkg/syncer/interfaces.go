// nocord - A terminal Matrix client.
// Copyright (C) 2026 The nocord authors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package syncer

import (
	"context"

	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/nocord/nocord/pkg/timeline"
)

// EventHandler receives one event from the live feed.
type EventHandler func(ctx context.Context, evt *event.Event)

// Feed is the transport's live event stream.
type Feed interface {
	// Subscribe attaches handler and returns a function that detaches it.
	Subscribe(handler EventHandler) (unsubscribe func())
}

// Bootstrapper initializes the secure channel. It is called at most once per
// driver.
type Bootstrapper interface {
	Bootstrap(ctx context.Context) error
}

// HistorySource fetches older events for a room, oldest first.
type HistorySource interface {
	FetchHistory(ctx context.Context, roomID id.RoomID, limit int) ([]*event.Event, error)
}

// RoomDirectory receives membership and topology events.
type RoomDirectory interface {
	ApplyStateEvent(evt *event.Event)
	RoomName(roomID id.RoomID) string
}

// directChatSetter is implemented by directories that track m.direct.
type directChatSetter interface {
	SetDirectChats(direct map[id.UserID][]id.RoomID)
}

type Notifier interface {
	Notify(ctx context.Context, notif Notification) error
}

// Archive persists timelines across restarts.
type Archive interface {
	AppendEvent(ctx context.Context, entry timeline.Entry) error
	PrependEvents(ctx context.Context, roomID id.RoomID, entries []timeline.Entry) error
	LoadRoom(ctx context.Context, roomID id.RoomID) ([]timeline.Entry, error)
	ListRooms(ctx context.Context) ([]id.RoomID, error)
	ClearRoom(ctx context.Context, roomID id.RoomID) error
}

// Notification is a desktop-style alert for a live message outside the
// focused room.
type Notification struct {
	RoomID  id.RoomID
	EventID id.EventID
	Sender  id.UserID
	Title   string
	Body    string
}
