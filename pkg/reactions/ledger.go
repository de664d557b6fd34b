// nocord - A terminal Matrix client.
// Copyright (C) 2026 The nocord authors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package reactions tallies m.annotation reactions per target message.
package reactions

import (
	"sort"

	"maunium.net/go/mautrix/id"
)

// Key identifies one reaction bucket on a message.
type Key struct {
	Target id.EventID
	Emoji  string
}

// Ref is the reverse-index record for a single reaction event.
type Ref struct {
	Target  id.EventID
	Emoji   string
	Reactor id.UserID
}

// Ledger maps (target, emoji) to the set of users who reacted, with a reverse
// index from each reaction event so a later redaction can be undone exactly.
//
// Known gap: a redaction that arrives before the reaction it targets is a
// no-op, and the reaction then sticks when it does arrive.
type Ledger struct {
	reactors map[Key]map[id.UserID]id.EventID
	byEvent  map[id.EventID]Ref
}

func NewLedger() *Ledger {
	return &Ledger{
		reactors: make(map[Key]map[id.UserID]id.EventID),
		byEvent:  make(map[id.EventID]Ref),
	}
}

// Apply records reactor's reaction with emoji on target. The first reaction
// event for a (target, emoji, reactor) triple wins; later ones are ignored.
func (l *Ledger) Apply(target id.EventID, emoji string, reactor id.UserID, reactionEventID id.EventID) bool {
	key := Key{Target: target, Emoji: emoji}
	set, ok := l.reactors[key]
	if !ok {
		set = make(map[id.UserID]id.EventID)
		l.reactors[key] = set
	}
	if _, already := set[reactor]; already {
		return false
	}
	set[reactor] = reactionEventID
	if reactionEventID != "" {
		l.byEvent[reactionEventID] = Ref{Target: target, Emoji: emoji, Reactor: reactor}
	}
	return true
}

// Retract undoes the reaction created by reactionEventID. Unknown IDs are
// ignored and reported as false.
func (l *Ledger) Retract(reactionEventID id.EventID) bool {
	ref, ok := l.byEvent[reactionEventID]
	if !ok {
		return false
	}
	delete(l.byEvent, reactionEventID)
	key := Key{Target: ref.Target, Emoji: ref.Emoji}
	set := l.reactors[key]
	if set[ref.Reactor] == reactionEventID {
		delete(set, ref.Reactor)
	}
	if len(set) == 0 {
		delete(l.reactors, key)
	}
	return true
}

// Lookup returns the reverse-index record for a reaction event.
func (l *Ledger) Lookup(reactionEventID id.EventID) (Ref, bool) {
	ref, ok := l.byEvent[reactionEventID]
	return ref, ok
}

// ReactorsFor returns emoji -> reactors for a target message. Emoji with no
// remaining reactors are omitted, and reactors are sorted.
func (l *Ledger) ReactorsFor(target id.EventID) map[string][]id.UserID {
	out := make(map[string][]id.UserID)
	for key, set := range l.reactors {
		if key.Target != target || len(set) == 0 {
			continue
		}
		users := make([]id.UserID, 0, len(set))
		for user := range set {
			users = append(users, user)
		}
		sort.Slice(users, func(i, j int) bool { return users[i] < users[j] })
		out[key.Emoji] = users
	}
	return out
}

// ReactionEventFor returns the event ID of reactor's reaction with emoji on
// target, which is what has to be redacted to take the reaction back.
func (l *Ledger) ReactionEventFor(target id.EventID, emoji string, reactor id.UserID) (id.EventID, bool) {
	evtID, ok := l.reactors[Key{Target: target, Emoji: emoji}][reactor]
	if !ok || evtID == "" {
		return "", false
	}
	return evtID, true
}

func (l *Ledger) Reset() {
	l.reactors = make(map[Key]map[id.UserID]id.EventID)
	l.byEvent = make(map[id.EventID]Ref)
}
