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

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/nocord/nocord/pkg/presence"
	"github.com/nocord/nocord/pkg/timeline"
)

type eventClass int

const (
	classIgnored eventClass = iota
	classMessage
	classReaction
	classRedaction
	classPresence
	classDirectory
	classDirectChats
)

func classify(evt *event.Event) eventClass {
	switch evt.Type.Type {
	case event.EventMessage.Type, event.EventEncrypted.Type, event.EventSticker.Type:
		return classMessage
	case event.EventReaction.Type:
		return classReaction
	case event.EventRedaction.Type:
		return classRedaction
	case event.EphemeralEventPresence.Type:
		return classPresence
	case event.StateMember.Type, event.StateCreate.Type, event.StateRoomName.Type, event.StateSpaceChild.Type:
		return classDirectory
	case event.AccountDataDirectChats.Type:
		return classDirectChats
	default:
		return classIgnored
	}
}

// parseContent fills Content.Parsed for events that did not come through the
// syncer, such as /messages responses.
func parseContent(log zerolog.Logger, evt *event.Event) {
	if evt.Content.Parsed != nil || len(evt.Content.VeryRaw) == 0 {
		return
	}
	if err := evt.Content.ParseRaw(evt.Type); err != nil {
		log.Debug().Err(err).Msg("Failed to parse event content")
	}
}

type effects struct {
	appended *timeline.Entry
	notify   *Notification
}

// HandleEvent applies one live event. It is the handler the driver attaches
// to the feed.
func (d *Driver) HandleEvent(ctx context.Context, evt *event.Event) {
	if evt == nil || d.destroyed.Load() {
		return
	}
	log := d.log.With().
		Str("event_id", evt.ID.String()).
		Str("room_id", evt.RoomID.String()).
		Str("event_type", evt.Type.Type).
		Logger()
	parseContent(log, evt)

	d.lock.Lock()
	fx := d.applyLive(log, evt)
	d.lock.Unlock()

	if fx.appended != nil && d.deps.Archive != nil {
		if err := d.deps.Archive.AppendEvent(ctx, *fx.appended); err != nil {
			log.Warn().Err(err).Msg("Failed to archive event")
		}
	}
	if fx.notify != nil {
		if err := d.deps.Notifier.Notify(ctx, *fx.notify); err != nil {
			log.Warn().Err(err).Msg("Failed to dispatch notification")
		}
	}
}

// applyLive must be called with the lock held.
func (d *Driver) applyLive(log zerolog.Logger, evt *event.Event) (fx effects) {
	switch classify(evt) {
	case classMessage:
		return d.handleMessage(log, evt)
	case classReaction:
		d.handleReaction(log, evt)
	case classRedaction:
		d.handleRedaction(log, evt)
	case classPresence:
		d.handlePresence(evt)
	case classDirectory:
		if d.deps.Directory != nil {
			d.deps.Directory.ApplyStateEvent(evt)
		}
	case classDirectChats:
		d.handleDirectChats(evt)
	default:
		log.Trace().Msg("Ignoring event")
	}
	return
}

func (d *Driver) handleMessage(log zerolog.Logger, evt *event.Event) (fx effects) {
	if evt.RoomID == "" || evt.ID == "" {
		return
	}
	entry := timeline.FromEvent(evt, false)
	if !d.timelines.Append(evt.RoomID, entry) {
		log.Debug().Msg("Dropping redelivered event")
		return
	}
	fx.appended = &entry
	// The focus is read here rather than captured when the feed was attached.
	if evt.RoomID == d.focus {
		return
	}
	d.unread.Increment(evt.RoomID)
	if evt.Type == event.EventMessage && d.opts.Notifications && d.deps.Notifier != nil {
		fx.notify = d.buildNotification(evt)
	}
	return
}

func (d *Driver) buildNotification(evt *event.Event) *Notification {
	roomName := string(evt.RoomID)
	if d.deps.Directory != nil {
		roomName = d.deps.Directory.RoomName(evt.RoomID)
	}
	var body string
	if msg := evt.Content.AsMessage(); msg != nil {
		body = msg.Body
	}
	sender := evt.Sender
	if sender == "" {
		sender = "Someone"
	}
	return &Notification{
		RoomID:  evt.RoomID,
		EventID: evt.ID,
		Sender:  sender,
		Title:   d.opts.Title(sender, roomName),
		Body:    truncate(body, d.opts.MaxBodyLength),
	}
}

func truncate(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit])
}

func (d *Driver) handleReaction(log zerolog.Logger, evt *event.Event) {
	rel := evt.Content.AsReaction().RelatesTo
	if rel.Type != event.RelAnnotation || rel.EventID == "" || rel.Key == "" {
		log.Debug().Msg("Ignoring reaction without annotation relation")
		return
	}
	d.reactions.Apply(rel.EventID, rel.Key, evt.Sender, evt.ID)
}

func (d *Driver) handleRedaction(log zerolog.Logger, evt *event.Event) {
	target := evt.Redacts
	if target == "" {
		target = evt.Content.AsRedaction().Redacts
	}
	if target == "" {
		return
	}
	if d.reactions.Retract(target) {
		log.Debug().Str("target_event_id", target.String()).Msg("Retracted reaction")
	}
}

func (d *Driver) handlePresence(evt *event.Event) {
	if evt.Sender == "" {
		return
	}
	status := presence.ParseStatus(string(evt.Content.AsPresence().Presence))
	d.presence.Set(evt.Sender, status)
}

func (d *Driver) handleDirectChats(evt *event.Event) {
	setter, ok := d.deps.Directory.(directChatSetter)
	if !ok {
		return
	}
	direct := make(map[id.UserID][]id.RoomID, len(evt.Content.Raw))
	for user, rawRooms := range evt.Content.Raw {
		list, _ := rawRooms.([]any)
		for _, rawRoom := range list {
			if roomID, ok := rawRoom.(string); ok {
				direct[id.UserID(user)] = append(direct[id.UserID(user)], id.RoomID(roomID))
			}
		}
	}
	setter.SetDirectChats(direct)
}

// applyHistory must be called with the lock held. Message events are
// prepended and reactions in the batch are applied; nothing in a history
// batch counts as unread or notifies.
func (d *Driver) applyHistory(log zerolog.Logger, roomID id.RoomID, events []*event.Event) []timeline.Entry {
	batch := make([]timeline.Entry, 0, len(events))
	for _, evt := range events {
		if evt == nil {
			continue
		}
		if evt.RoomID == "" {
			evt.RoomID = roomID
		}
		parseContent(log, evt)
		switch classify(evt) {
		case classMessage:
			if evt.ID != "" {
				batch = append(batch, timeline.FromEvent(evt, true))
			}
		case classReaction:
			d.handleReaction(log, evt)
		case classRedaction:
			d.handleRedaction(log, evt)
		}
	}
	return d.timelines.Prepend(roomID, batch)
}
