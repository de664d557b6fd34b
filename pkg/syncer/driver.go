// nocord - A terminal Matrix client.
// Copyright (C) 2026 The nocord authors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package syncer reconciles the live Matrix event feed and on-demand history
// into per-room timelines, reaction tallies, unread counters and presence.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix/id"

	"github.com/nocord/nocord/pkg/presence"
	"github.com/nocord/nocord/pkg/reactions"
	"github.com/nocord/nocord/pkg/timeline"
)

const (
	DefaultHistoryLimit  = 50
	DefaultMaxBodyLength = 100
)

var (
	ErrAlreadyStarted = errors.New("driver already started")
	ErrStopped        = errors.New("driver stopped")
)

type State int32

const (
	StateIdle State = iota
	StateBootstrapping
	StateLive
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBootstrapping:
		return "bootstrapping"
	case StateLive:
		return "live"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// TitleFunc renders the title of a message notification.
type TitleFunc func(sender id.UserID, roomName string) string

func defaultTitle(sender id.UserID, roomName string) string {
	return fmt.Sprintf("%s in %s", sender, roomName)
}

type Options struct {
	HistoryLimit int

	Notifications bool
	MaxBodyLength int
	Title         TitleFunc
}

// Deps are the driver's collaborators. Feed is required; everything else may
// be nil.
type Deps struct {
	Feed      Feed
	Bootstrap Bootstrapper
	History   HistorySource
	Directory RoomDirectory
	Notifier  Notifier
	Archive   Archive
}

// Driver owns the timeline, reaction, presence and unread state for one
// session. Event handling is serialized under the driver's lock, and every
// projection returns a copy.
type Driver struct {
	log  zerolog.Logger
	deps Deps
	opts Options

	lock      sync.RWMutex
	timelines *timeline.Store
	reactions *reactions.Ledger
	presence  *presence.Tracker
	unread    *presence.Unread
	focus     id.RoomID

	state     atomic.Int32
	destroyed atomic.Bool
	degraded  atomic.Bool

	unsubLock sync.Mutex
	unsubs    []func()
}

func NewDriver(log zerolog.Logger, deps Deps, opts Options) *Driver {
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = DefaultHistoryLimit
	}
	if opts.MaxBodyLength <= 0 {
		opts.MaxBodyLength = DefaultMaxBodyLength
	}
	if opts.Title == nil {
		opts.Title = defaultTitle
	}
	return &Driver{
		log:       log.With().Str("component", "syncer").Logger(),
		deps:      deps,
		opts:      opts,
		timelines: timeline.NewStore(),
		reactions: reactions.NewLedger(),
		presence:  presence.NewTracker(),
		unread:    presence.NewUnread(),
	}
}

func (d *Driver) State() State {
	return State(d.state.Load())
}

// Degraded reports whether the secure-channel bootstrap failed.
func (d *Driver) Degraded() bool {
	return d.degraded.Load()
}

// Start bootstraps the secure channel and then attaches to the live feed. A
// bootstrap failure is logged and the driver carries on without it. If Stop
// is called while the bootstrap is pending, nothing is attached.
func (d *Driver) Start(ctx context.Context) error {
	if !d.state.CompareAndSwap(int32(StateIdle), int32(StateBootstrapping)) {
		if d.State() == StateStopped {
			return ErrStopped
		}
		return ErrAlreadyStarted
	}
	if d.deps.Bootstrap != nil {
		if err := d.deps.Bootstrap.Bootstrap(ctx); err != nil {
			d.degraded.Store(true)
			d.log.Warn().Err(err).Msg("Failed to bootstrap secure channel, continuing without encryption")
		}
	}
	if d.destroyed.Load() {
		d.log.Debug().Msg("Driver stopped during bootstrap, not attaching to feed")
		return nil
	}
	unsub := d.deps.Feed.Subscribe(d.HandleEvent)
	d.unsubLock.Lock()
	d.unsubs = append(d.unsubs, unsub)
	d.unsubLock.Unlock()
	// Stop may have run between the check above and recording unsub.
	if d.destroyed.Load() {
		d.detach()
		return nil
	}
	d.state.CompareAndSwap(int32(StateBootstrapping), int32(StateLive))
	d.log.Info().Bool("degraded", d.Degraded()).Msg("Attached to live feed")
	return nil
}

// Stop detaches every listener exactly once. It is safe to call during
// bootstrap and more than once.
func (d *Driver) Stop() {
	d.destroyed.Store(true)
	d.state.Store(int32(StateStopped))
	d.detach()
}

func (d *Driver) detach() {
	d.unsubLock.Lock()
	unsubs := d.unsubs
	d.unsubs = nil
	d.unsubLock.Unlock()
	for _, unsub := range unsubs {
		unsub()
	}
}

// SetFocus records the room the user is looking at. Events arriving for that
// room do not count as unread.
func (d *Driver) SetFocus(roomID id.RoomID) {
	d.lock.Lock()
	d.focus = roomID
	d.lock.Unlock()
}

func (d *Driver) Focus() id.RoomID {
	d.lock.RLock()
	defer d.lock.RUnlock()
	return d.focus
}

// MarkViewed zeroes the room's unread counter.
func (d *Driver) MarkViewed(roomID id.RoomID) {
	d.lock.Lock()
	d.unread.Clear(roomID)
	d.lock.Unlock()
}

// FocusAndView is what selecting a room in the sidebar does.
func (d *Driver) FocusAndView(roomID id.RoomID) {
	d.lock.Lock()
	d.focus = roomID
	d.unread.Clear(roomID)
	d.lock.Unlock()
}

// OpenRoom backfills a room's history the first time it is opened. A failed
// fetch is logged and leaves the room's history incomplete.
func (d *Driver) OpenRoom(ctx context.Context, roomID id.RoomID) error {
	if d.deps.History == nil {
		return nil
	}
	d.lock.RLock()
	populated := d.timelines.Len(roomID) > 0
	d.lock.RUnlock()
	if populated {
		return nil
	}
	log := d.log.With().Str("room_id", roomID.String()).Logger()
	events, err := d.deps.History.FetchHistory(ctx, roomID, d.opts.HistoryLimit)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to fetch room history")
		return nil
	}
	d.lock.Lock()
	inserted := d.applyHistory(log, roomID, events)
	d.lock.Unlock()
	log.Debug().Int("fetched", len(events)).Int("inserted", len(inserted)).Msg("Backfilled room history")
	if len(inserted) > 0 && d.deps.Archive != nil {
		if err := d.deps.Archive.PrependEvents(ctx, roomID, inserted); err != nil {
			log.Warn().Err(err).Msg("Failed to archive backfilled events")
		}
	}
	return nil
}

// LoadArchived restores archived timelines into the store. Restored entries
// never count as unread.
func (d *Driver) LoadArchived(ctx context.Context) error {
	if d.deps.Archive == nil {
		return nil
	}
	roomIDs, err := d.deps.Archive.ListRooms(ctx)
	if err != nil {
		return fmt.Errorf("failed to list archived rooms: %w", err)
	}
	restored := 0
	for _, roomID := range roomIDs {
		entries, err := d.deps.Archive.LoadRoom(ctx, roomID)
		if err != nil {
			d.log.Warn().Err(err).Str("room_id", roomID.String()).Msg("Failed to load archived room")
			continue
		}
		d.lock.Lock()
		restored += len(d.timelines.Prepend(roomID, entries))
		d.lock.Unlock()
	}
	d.log.Info().Int("rooms", len(roomIDs)).Int("entries", restored).Msg("Restored archived timelines")
	return nil
}

// ClearRoom drops a room's timeline, unread counter and archive.
func (d *Driver) ClearRoom(ctx context.Context, roomID id.RoomID) error {
	d.lock.Lock()
	d.timelines.Clear(roomID)
	d.unread.Clear(roomID)
	d.lock.Unlock()
	if d.deps.Archive != nil {
		if err := d.deps.Archive.ClearRoom(ctx, roomID); err != nil {
			return fmt.Errorf("failed to clear archived room: %w", err)
		}
	}
	return nil
}

// Reset forgets all in-memory state, as on sign-out.
func (d *Driver) Reset() {
	d.lock.Lock()
	d.timelines.Reset()
	d.reactions.Reset()
	d.presence.Reset()
	d.unread.Reset()
	d.focus = ""
	d.lock.Unlock()
}

func (d *Driver) Timeline(roomID id.RoomID) []timeline.Entry {
	d.lock.RLock()
	defer d.lock.RUnlock()
	return d.timelines.Read(roomID)
}

func (d *Driver) Rooms() []id.RoomID {
	d.lock.RLock()
	defer d.lock.RUnlock()
	return d.timelines.Rooms()
}

func (d *Driver) Reactions(target id.EventID) map[string][]id.UserID {
	d.lock.RLock()
	defer d.lock.RUnlock()
	return d.reactions.ReactorsFor(target)
}

// ReactionEventFor returns the reaction event to redact when toggling the
// user's reaction off.
func (d *Driver) ReactionEventFor(target id.EventID, emoji string, reactor id.UserID) (id.EventID, bool) {
	d.lock.RLock()
	defer d.lock.RUnlock()
	return d.reactions.ReactionEventFor(target, emoji, reactor)
}

func (d *Driver) Unread(roomID id.RoomID) uint {
	d.lock.RLock()
	defer d.lock.RUnlock()
	return d.unread.Get(roomID)
}

func (d *Driver) UnreadAll() map[id.RoomID]uint {
	d.lock.RLock()
	defer d.lock.RUnlock()
	return d.unread.All()
}

func (d *Driver) Presence(userID id.UserID) presence.Status {
	d.lock.RLock()
	defer d.lock.RUnlock()
	return d.presence.Get(userID)
}

func (d *Driver) PresenceAll() map[id.UserID]presence.Status {
	d.lock.RLock()
	defer d.lock.RUnlock()
	return d.presence.All()
}
