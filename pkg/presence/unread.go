// nocord - A terminal Matrix client.
// Copyright (C) 2026 The nocord authors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package presence

import (
	"maunium.net/go/mautrix/id"
)

// Unread counts inbound messages per room. Counters only grow until the room
// is explicitly marked as viewed.
type Unread struct {
	counts map[id.RoomID]uint
}

func NewUnread() *Unread {
	return &Unread{counts: make(map[id.RoomID]uint)}
}

func (u *Unread) Increment(roomID id.RoomID) uint {
	u.counts[roomID]++
	return u.counts[roomID]
}

// Clear zeroes the room's counter. Clearing a room without a counter is fine.
func (u *Unread) Clear(roomID id.RoomID) {
	delete(u.counts, roomID)
}

func (u *Unread) Get(roomID id.RoomID) uint {
	return u.counts[roomID]
}

func (u *Unread) All() map[id.RoomID]uint {
	out := make(map[id.RoomID]uint, len(u.counts))
	for roomID, count := range u.counts {
		out[roomID] = count
	}
	return out
}

func (u *Unread) Total() uint {
	var total uint
	for _, count := range u.counts {
		total += count
	}
	return total
}

func (u *Unread) Reset() {
	u.counts = make(map[id.RoomID]uint)
}
