// nocord - A terminal Matrix client.
// Copyright (C) 2026 The nocord authors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package rooms keeps the joined-room and space topology that the sync driver
// forwards membership and state events to.
package rooms

import (
	"sort"
	"sync"

	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

const roomTypeSpace = "m.space"

type Room struct {
	ID       id.RoomID
	Name     string
	IsSpace  bool
	Joined   bool
	Children []id.RoomID
}

// Member is a joined member of a room.
type Member struct {
	UserID      id.UserID
	DisplayName string
}

type roomState struct {
	name     string
	isSpace  bool
	joined   bool
	children map[id.RoomID]struct{}
	members  map[id.UserID]string
}

// Directory is safe for concurrent use: the driver writes from the sync
// goroutine while the terminal shell reads.
type Directory struct {
	self id.UserID

	lock   sync.RWMutex
	rooms  map[id.RoomID]*roomState
	direct map[id.UserID][]id.RoomID
}

func NewDirectory(self id.UserID) *Directory {
	return &Directory{
		self:   self,
		rooms:  make(map[id.RoomID]*roomState),
		direct: make(map[id.UserID][]id.RoomID),
	}
}

func (d *Directory) room(roomID id.RoomID) *roomState {
	room, ok := d.rooms[roomID]
	if !ok {
		room = &roomState{
			children: make(map[id.RoomID]struct{}),
			members:  make(map[id.UserID]string),
		}
		d.rooms[roomID] = room
	}
	return room
}

func rawString(content event.Content, key string) string {
	val, _ := content.Raw[key].(string)
	return val
}

// ApplyStateEvent folds one membership or topology event into the directory.
// Events of other types are ignored.
func (d *Directory) ApplyStateEvent(evt *event.Event) {
	if evt == nil || evt.RoomID == "" {
		return
	}
	d.lock.Lock()
	defer d.lock.Unlock()
	switch evt.Type {
	case event.StateMember:
		if evt.StateKey == nil || *evt.StateKey == "" {
			return
		}
		userID := id.UserID(*evt.StateKey)
		room := d.room(evt.RoomID)
		joined := event.Membership(rawString(evt.Content, "membership")) == event.MembershipJoin
		if joined {
			room.members[userID] = rawString(evt.Content, "displayname")
		} else {
			delete(room.members, userID)
		}
		if userID == d.self {
			room.joined = joined
		}
	case event.StateCreate:
		d.room(evt.RoomID).isSpace = rawString(evt.Content, "type") == roomTypeSpace
	case event.StateRoomName:
		d.room(evt.RoomID).name = rawString(evt.Content, "name")
	case event.StateSpaceChild:
		if evt.StateKey == nil || *evt.StateKey == "" {
			return
		}
		child := id.RoomID(*evt.StateKey)
		space := d.room(evt.RoomID)
		if len(evt.Content.Raw) == 0 {
			delete(space.children, child)
		} else {
			space.children[child] = struct{}{}
		}
	}
}

// Members returns the joined members of a room sorted by user ID, or nil if
// the room is unknown.
func (d *Directory) Members(roomID id.RoomID) []Member {
	d.lock.RLock()
	defer d.lock.RUnlock()
	room, ok := d.rooms[roomID]
	if !ok {
		return nil
	}
	members := make([]Member, 0, len(room.members))
	for userID, name := range room.members {
		members = append(members, Member{UserID: userID, DisplayName: name})
	}
	sort.Slice(members, func(i, j int) bool {
		return members[i].UserID < members[j].UserID
	})
	return members
}

// RoomName returns the room's display name, falling back to its ID.
func (d *Directory) RoomName(roomID id.RoomID) string {
	d.lock.RLock()
	defer d.lock.RUnlock()
	if room, ok := d.rooms[roomID]; ok && room.name != "" {
		return room.name
	}
	return string(roomID)
}

func (d *Directory) snapshot(roomID id.RoomID, room *roomState) Room {
	children := make([]id.RoomID, 0, len(room.children))
	for child := range room.children {
		children = append(children, child)
	}
	sortRoomIDs(children)
	return Room{ID: roomID, Name: room.name, IsSpace: room.isSpace, Joined: room.joined, Children: children}
}

func sortRoomIDs(ids []id.RoomID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}

func (d *Directory) sorted(filter func(roomID id.RoomID, room *roomState) bool) []Room {
	var out []Room
	for roomID, room := range d.rooms {
		if filter(roomID, room) {
			out = append(out, d.snapshot(roomID, room))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Spaces lists every joined space.
func (d *Directory) Spaces() []Room {
	d.lock.RLock()
	defer d.lock.RUnlock()
	return d.sorted(func(_ id.RoomID, room *roomState) bool {
		return room.isSpace && room.joined
	})
}

// ChildRooms lists the joined children of a space.
func (d *Directory) ChildRooms(spaceID id.RoomID) []Room {
	d.lock.RLock()
	defer d.lock.RUnlock()
	space, ok := d.rooms[spaceID]
	if !ok {
		return nil
	}
	return d.sorted(func(roomID id.RoomID, room *roomState) bool {
		_, isChild := space.children[roomID]
		return isChild && room.joined
	})
}

// NonSpaceRooms lists joined rooms that are neither spaces nor children of a
// known space.
func (d *Directory) NonSpaceRooms() []Room {
	d.lock.RLock()
	defer d.lock.RUnlock()
	children := make(map[id.RoomID]struct{})
	for _, room := range d.rooms {
		if !room.isSpace {
			continue
		}
		for child := range room.children {
			children[child] = struct{}{}
		}
	}
	return d.sorted(func(roomID id.RoomID, room *roomState) bool {
		_, isChild := children[roomID]
		return room.joined && !room.isSpace && !isChild
	})
}

// SetDirectChats replaces the m.direct mapping.
func (d *Directory) SetDirectChats(direct map[id.UserID][]id.RoomID) {
	d.lock.Lock()
	defer d.lock.Unlock()
	d.direct = make(map[id.UserID][]id.RoomID, len(direct))
	for user, roomIDs := range direct {
		d.direct[user] = append([]id.RoomID(nil), roomIDs...)
	}
}

type DirectChat struct {
	UserID id.UserID
	RoomID id.RoomID
}

// DirectChats flattens the m.direct mapping into (user, room) pairs.
func (d *Directory) DirectChats() []DirectChat {
	d.lock.RLock()
	defer d.lock.RUnlock()
	var out []DirectChat
	for user, roomIDs := range d.direct {
		for _, roomID := range roomIDs {
			out = append(out, DirectChat{UserID: user, RoomID: roomID})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UserID != out[j].UserID {
			return out[i].UserID < out[j].UserID
		}
		return out[i].RoomID < out[j].RoomID
	})
	return out
}

// Reset forgets everything, for sign-out.
func (d *Directory) Reset() {
	d.lock.Lock()
	d.rooms = make(map[id.RoomID]*roomState)
	d.direct = make(map[id.UserID][]id.RoomID)
	d.lock.Unlock()
}
