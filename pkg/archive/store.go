// nocord - A terminal Matrix client.
// Copyright (C) 2026 The nocord authors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package archive keeps a local sqlite copy of room timelines so they survive
// restarts without refetching history.
package archive

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"go.mau.fi/util/dbutil"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/nocord/nocord/pkg/timeline"
)

// Store orders each room's events by an integer position. Appends go above
// the current maximum and history batches go below the current minimum, so
// the stored order matches the in-memory timeline.
type Store struct {
	db *dbutil.Database
}

// Open opens (or creates) the sqlite database at path and ensures the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := dbutil.NewWithDialect(fmt.Sprintf("file:%s?_txlock=immediate", path), "sqlite3")
	if err != nil {
		return nil, fmt.Errorf("failed to open archive database: %w", err)
	}
	store := New(db)
	if err = store.EnsureSchema(ctx); err != nil {
		_ = db.RawDB.Close()
		return nil, err
	}
	return store, nil
}

func New(db *dbutil.Database) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error {
	return s.db.RawDB.Close()
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS timeline_event (
			room_id TEXT NOT NULL,
			event_id TEXT NOT NULL,
			position BIGINT NOT NULL,
			sender TEXT NOT NULL,
			timestamp_ms BIGINT NOT NULL,
			event_type TEXT NOT NULL,
			content TEXT,
			historical BOOLEAN NOT NULL DEFAULT FALSE,
			PRIMARY KEY (room_id, event_id)
		)`,
		`CREATE INDEX IF NOT EXISTS timeline_event_position_idx
			ON timeline_event (room_id, position)`,
	}
	for _, query := range queries {
		if _, err := s.db.Exec(ctx, query); err != nil {
			return fmt.Errorf("failed to ensure archive schema: %w", err)
		}
	}
	return nil
}

// AppendEvent stores entry after everything already archived for its room.
// An event that is already archived is left where it is.
func (s *Store) AppendEvent(ctx context.Context, entry timeline.Entry) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO timeline_event (
			room_id, event_id, position, sender, timestamp_ms, event_type, content, historical
		)
		SELECT $1, $2, COALESCE(MAX(position), 0) + 1, $3, $4, $5, $6, $7
		FROM timeline_event WHERE room_id=$1
		ON CONFLICT (room_id, event_id) DO NOTHING
	`, entry.RoomID, entry.EventID, entry.Sender, entry.Timestamp, entry.Type.Type, string(entry.Content), entry.Historical)
	if err != nil {
		return fmt.Errorf("failed to archive event %s: %w", entry.EventID, err)
	}
	return nil
}

// PrependEvents stores a history batch before everything already archived for
// the room, keeping the batch order.
func (s *Store) PrependEvents(ctx context.Context, roomID id.RoomID, entries []timeline.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := s.db.RawDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var minPos int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MIN(position), 1) FROM timeline_event WHERE room_id=?`, roomID,
	).Scan(&minPos)
	if err != nil {
		return fmt.Errorf("failed to get lowest position: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO timeline_event (
			room_id, event_id, position, sender, timestamp_ms, event_type, content, historical
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (room_id, event_id) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare batch statement: %w", err)
	}
	defer stmt.Close()

	base := minPos - int64(len(entries))
	for i, entry := range entries {
		_, err = stmt.ExecContext(ctx,
			roomID, entry.EventID, base+int64(i), entry.Sender, entry.Timestamp,
			entry.Type.Type, string(entry.Content), entry.Historical,
		)
		if err != nil {
			return fmt.Errorf("failed to insert event %s: %w", entry.EventID, err)
		}
	}
	return tx.Commit()
}

// LoadRoom returns a room's archived entries in timeline order.
func (s *Store) LoadRoom(ctx context.Context, roomID id.RoomID) ([]timeline.Entry, error) {
	rows, err := s.db.Query(ctx, `
		SELECT event_id, sender, timestamp_ms, event_type, content, historical
		FROM timeline_event WHERE room_id=$1
		ORDER BY position ASC
	`, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to load archived room: %w", err)
	}
	defer rows.Close()

	out := make([]timeline.Entry, 0)
	for rows.Next() {
		var (
			entry   timeline.Entry
			evtType string
			content sql.NullString
		)
		if err = rows.Scan(&entry.EventID, &entry.Sender, &entry.Timestamp, &evtType, &content, &entry.Historical); err != nil {
			return nil, err
		}
		entry.RoomID = roomID
		entry.Type = event.Type{Type: evtType, Class: event.MessageEventType}
		if content.Valid && content.String != "" {
			entry.Content = []byte(content.String)
		}
		out = append(out, entry)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) ListRooms(ctx context.Context) ([]id.RoomID, error) {
	rows, err := s.db.Query(ctx, `SELECT DISTINCT room_id FROM timeline_event ORDER BY room_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list archived rooms: %w", err)
	}
	defer rows.Close()

	var out []id.RoomID
	for rows.Next() {
		var roomID id.RoomID
		if err = rows.Scan(&roomID); err != nil {
			return nil, err
		}
		out = append(out, roomID)
	}
	return out, rows.Err()
}

func (s *Store) CountRoom(ctx context.Context, roomID id.RoomID) (int, error) {
	var count int
	err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM timeline_event WHERE room_id=$1`, roomID).Scan(&count)
	return count, err
}

// ClearRoom deletes every archived event of the room.
func (s *Store) ClearRoom(ctx context.Context, roomID id.RoomID) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM timeline_event WHERE room_id=$1`, roomID); err != nil {
		return fmt.Errorf("failed to clear archived room: %w", err)
	}
	return nil
}

// ClearAll deletes the whole archive, for sign-out.
func (s *Store) ClearAll(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM timeline_event`); err != nil {
		return fmt.Errorf("failed to clear archive: %w", err)
	}
	return nil
}
