// nocord - A terminal Matrix client.
// Copyright (C) 2026 The nocord authors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package timeline holds the per-room message logs. Each room's log is keyed by
// event ID so redelivered events and overlapping history batches collapse into
// a single entry.
package timeline

import (
	"encoding/json"
	"sort"

	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// Entry is one message-like event in a room's log. Entries are never mutated
// after insertion; edits and redactions arrive as new events.
type Entry struct {
	EventID    id.EventID
	RoomID     id.RoomID
	Sender     id.UserID
	Timestamp  int64
	Type       event.Type
	Content    json.RawMessage
	Historical bool
}

// FromEvent converts a Matrix event to a timeline entry.
func FromEvent(evt *event.Event, historical bool) Entry {
	var content json.RawMessage
	if len(evt.Content.VeryRaw) > 0 {
		content = append(json.RawMessage(nil), evt.Content.VeryRaw...)
	} else if evt.Content.Raw != nil {
		content, _ = json.Marshal(evt.Content.Raw)
	} else if evt.Content.Parsed != nil {
		content, _ = json.Marshal(evt.Content.Parsed)
	}
	return Entry{
		EventID:    evt.ID,
		RoomID:     evt.RoomID,
		Sender:     evt.Sender,
		Timestamp:  evt.Timestamp,
		Type:       evt.Type,
		Content:    content,
		Historical: historical,
	}
}

// Body returns the plain-text body of the entry, if it has one.
func (e Entry) Body() string {
	var partial struct {
		Body string `json:"body"`
	}
	if len(e.Content) == 0 || json.Unmarshal(e.Content, &partial) != nil {
		return ""
	}
	return partial.Body
}

type roomLog struct {
	entries []Entry
	ids     map[id.EventID]struct{}
}

// Store is the dedup-by-ID timeline store. It has a single writer and does no
// locking of its own.
type Store struct {
	rooms map[id.RoomID]*roomLog
}

func NewStore() *Store {
	return &Store{rooms: make(map[id.RoomID]*roomLog)}
}

func (s *Store) room(roomID id.RoomID) *roomLog {
	log, ok := s.rooms[roomID]
	if !ok {
		log = &roomLog{ids: make(map[id.EventID]struct{})}
		s.rooms[roomID] = log
	}
	return log
}

// Append inserts entry at the tail of the room's log unless its event ID is
// already present. It reports whether the entry was inserted.
func (s *Store) Append(roomID id.RoomID, entry Entry) bool {
	log := s.room(roomID)
	if _, exists := log.ids[entry.EventID]; exists {
		return false
	}
	log.ids[entry.EventID] = struct{}{}
	log.entries = append(log.entries, entry)
	return true
}

// Prepend inserts a history batch at the head of the room's log, keeping the
// batch's internal order and skipping IDs that are already present. The
// entries that were actually inserted are returned.
func (s *Store) Prepend(roomID id.RoomID, entries []Entry) []Entry {
	if len(entries) == 0 {
		return nil
	}
	log := s.room(roomID)
	fresh := make([]Entry, 0, len(entries))
	for _, entry := range entries {
		if _, exists := log.ids[entry.EventID]; exists {
			continue
		}
		log.ids[entry.EventID] = struct{}{}
		fresh = append(fresh, entry)
	}
	if len(fresh) == 0 {
		return nil
	}
	merged := make([]Entry, 0, len(fresh)+len(log.entries))
	merged = append(merged, fresh...)
	log.entries = append(merged, log.entries...)
	return fresh
}

// Read returns a copy of the room's log in display order.
func (s *Store) Read(roomID id.RoomID) []Entry {
	log, ok := s.rooms[roomID]
	if !ok || len(log.entries) == 0 {
		return nil
	}
	out := make([]Entry, len(log.entries))
	copy(out, log.entries)
	return out
}

func (s *Store) Has(roomID id.RoomID, eventID id.EventID) bool {
	log, ok := s.rooms[roomID]
	if !ok {
		return false
	}
	_, exists := log.ids[eventID]
	return exists
}

func (s *Store) Len(roomID id.RoomID) int {
	if log, ok := s.rooms[roomID]; ok {
		return len(log.entries)
	}
	return 0
}

// Rooms lists rooms with at least one entry, sorted by ID.
func (s *Store) Rooms() []id.RoomID {
	rooms := make([]id.RoomID, 0, len(s.rooms))
	for roomID, log := range s.rooms {
		if len(log.entries) > 0 {
			rooms = append(rooms, roomID)
		}
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i] < rooms[j] })
	return rooms
}

// Clear drops a room's whole log.
func (s *Store) Clear(roomID id.RoomID) {
	delete(s.rooms, roomID)
}

// Reset drops every room.
func (s *Store) Reset() {
	s.rooms = make(map[id.RoomID]*roomLog)
}
