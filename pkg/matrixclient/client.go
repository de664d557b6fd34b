// nocord - A terminal Matrix client.
// Copyright (C) 2026 The nocord authors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package matrixclient adapts mautrix to the interfaces the sync driver and
// the verification machine consume.
package matrixclient

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/nocord/nocord/pkg/syncer"
)

// feedTypes are the event types forwarded to feed subscribers.
var feedTypes = []event.Type{
	event.EventMessage,
	event.EventSticker,
	event.EventReaction,
	event.EventRedaction,
	event.StateMember,
	event.StateCreate,
	event.StateRoomName,
	event.StateSpaceChild,
	event.EphemeralEventPresence,
	event.AccountDataDirectChats,
}

type Client struct {
	log    zerolog.Logger
	Client *mautrix.Client

	lock     sync.RWMutex
	handlers map[int]syncer.EventHandler
	nextID   int
}

// New creates a client for a logged-in session. Nothing is fetched until Run.
func New(log zerolog.Logger, session *Session) (*Client, error) {
	cli, err := mautrix.NewClient(session.Homeserver, session.UserID, session.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}
	cli.DeviceID = session.DeviceID
	cli.Log = log.With().Str("component", "mautrix").Logger()
	cli.StateStore = mautrix.NewMemoryStateStore()
	c := &Client{
		log:      log.With().Str("component", "matrix").Logger(),
		Client:   cli,
		handlers: make(map[int]syncer.EventHandler),
	}
	ds := mautrix.NewDefaultSyncer()
	for _, evtType := range feedTypes {
		ds.OnEventType(evtType, c.dispatch)
	}
	ds.OnEventType(event.EventEncrypted, c.dispatchUndecryptable)
	cli.Syncer = ds
	return c, nil
}

func (c *Client) UserID() id.UserID {
	return c.Client.UserID
}

// Subscribe implements syncer.Feed.
func (c *Client) Subscribe(handler syncer.EventHandler) func() {
	c.lock.Lock()
	key := c.nextID
	c.nextID++
	c.handlers[key] = handler
	c.lock.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			c.lock.Lock()
			delete(c.handlers, key)
			c.lock.Unlock()
		})
	}
}

func (c *Client) dispatch(ctx context.Context, evt *event.Event) {
	c.lock.RLock()
	handlers := make([]syncer.EventHandler, 0, len(c.handlers))
	for _, handler := range c.handlers {
		handlers = append(handlers, handler)
	}
	c.lock.RUnlock()
	for _, handler := range handlers {
		handler(ctx, evt)
	}
}

// dispatchUndecryptable forwards encrypted events only when there is no
// crypto helper to decrypt them. With crypto, the helper re-dispatches the
// decrypted event under the same ID.
func (c *Client) dispatchUndecryptable(ctx context.Context, evt *event.Event) {
	if c.Client.Crypto != nil {
		return
	}
	c.dispatch(ctx, evt)
}

// Run syncs until ctx is cancelled or Stop is called.
func (c *Client) Run(ctx context.Context) error {
	c.log.Info().Msg("Starting sync")
	err := c.Client.SyncWithContext(ctx)
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("sync stopped: %w", err)
	}
	return nil
}

func (c *Client) Stop() {
	c.Client.StopSync()
}

// FetchHistory implements syncer.HistorySource. Events are returned oldest
// first, with content parsed and decrypted where possible.
func (c *Client) FetchHistory(ctx context.Context, roomID id.RoomID, limit int) ([]*event.Event, error) {
	resp, err := c.Client.Messages(ctx, roomID, "", "", mautrix.DirectionBackward, nil, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}
	log := c.log.With().Str("room_id", roomID.String()).Logger()
	out := make([]*event.Event, 0, len(resp.Chunk))
	for i := len(resp.Chunk) - 1; i >= 0; i-- {
		evt := resp.Chunk[i]
		if evt == nil {
			continue
		}
		out = append(out, c.prepareHistoryEvent(ctx, log, roomID, evt))
	}
	return out, nil
}

func (c *Client) prepareHistoryEvent(ctx context.Context, log zerolog.Logger, roomID id.RoomID, evt *event.Event) *event.Event {
	if evt.RoomID == "" {
		evt.RoomID = roomID
	}
	if evt.StateKey != nil {
		evt.Type.Class = event.StateEventType
	} else {
		evt.Type.Class = event.MessageEventType
	}
	if err := evt.Content.ParseRaw(evt.Type); err != nil {
		log.Trace().Err(err).Str("event_id", evt.ID.String()).Msg("Failed to parse history event content")
	}
	if evt.Type != event.EventEncrypted || c.Client.Crypto == nil {
		return evt
	}
	decrypted, err := c.Client.Crypto.Decrypt(ctx, evt)
	if err != nil {
		log.Debug().Err(err).Str("event_id", evt.ID.String()).Msg("Failed to decrypt history event")
		return evt
	}
	return decrypted
}
