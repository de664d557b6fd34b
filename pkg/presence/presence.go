// nocord - A terminal Matrix client.
// Copyright (C) 2026 The nocord authors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package presence tracks user presence and per-room unread counters.
package presence

import (
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

type Status string

const (
	Online      Status = Status(event.PresenceOnline)
	Offline     Status = Status(event.PresenceOffline)
	Unavailable Status = Status(event.PresenceUnavailable)
)

// ParseStatus maps a protocol presence string to a Status. Anything that is
// not online or unavailable counts as offline.
func ParseStatus(raw string) Status {
	switch Status(raw) {
	case Online:
		return Online
	case Unavailable:
		return Unavailable
	default:
		return Offline
	}
}

// Tracker holds the last known status of each user. There are no timestamps
// in presence updates, so the last write wins.
type Tracker struct {
	status map[id.UserID]Status
}

func NewTracker() *Tracker {
	return &Tracker{status: make(map[id.UserID]Status)}
}

func (t *Tracker) Set(userID id.UserID, status Status) {
	t.status[userID] = status
}

// Get returns the user's status, or Offline if nothing is known.
func (t *Tracker) Get(userID id.UserID) Status {
	if status, ok := t.status[userID]; ok {
		return status
	}
	return Offline
}

func (t *Tracker) All() map[id.UserID]Status {
	out := make(map[id.UserID]Status, len(t.status))
	for user, status := range t.status {
		out[user] = status
	}
	return out
}

func (t *Tracker) Reset() {
	t.status = make(map[id.UserID]Status)
}
