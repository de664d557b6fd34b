// nocord - A terminal Matrix client.
// Copyright (C) 2026 The nocord authors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package matrixclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.mau.fi/util/jsontime"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/id"
)

var ErrNoSession = errors.New("not logged in")

// Session is the persisted login descriptor.
type Session struct {
	UserID      id.UserID          `json:"userId"`
	AccessToken string             `json:"accessToken"`
	Homeserver  string             `json:"homeserver"`
	DeviceID    id.DeviceID        `json:"deviceId"`
	SavedAt     jsontime.UnixMilli `json:"savedAt"`
}

func (s *Session) Valid() bool {
	return s != nil && s.UserID != "" && s.AccessToken != "" && s.Homeserver != ""
}

// LoadSession reads a session file. A missing file returns ErrNoSession.
func LoadSession(path string) (*Session, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoSession
	} else if err != nil {
		return nil, fmt.Errorf("failed to read session: %w", err)
	}
	var sess Session
	if err = json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("failed to parse session: %w", err)
	}
	if !sess.Valid() {
		return nil, ErrNoSession
	}
	return &sess, nil
}

// SaveSession writes the session file readable only by the current user.
func SaveSession(path string, sess *Session) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}
	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	if err = os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write session: %w", err)
	}
	return nil
}

// RemoveSession deletes the session file. A missing file is not an error.
func RemoveSession(path string) error {
	err := os.Remove(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove session: %w", err)
	}
	return nil
}

// Login performs a password login and returns the new session.
func Login(ctx context.Context, homeserver, username, password, deviceName string) (*Session, error) {
	cli, err := mautrix.NewClient(homeserver, "", "")
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}
	resp, err := cli.Login(ctx, &mautrix.ReqLogin{
		Type: mautrix.AuthTypePassword,
		Identifier: mautrix.UserIdentifier{
			Type: mautrix.IdentifierTypeUser,
			User: username,
		},
		Password:                 password,
		InitialDeviceDisplayName: deviceName,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to log in: %w", err)
	}
	if resp.WellKnown != nil && resp.WellKnown.Homeserver.BaseURL != "" {
		homeserver = resp.WellKnown.Homeserver.BaseURL
	}
	return &Session{
		UserID:      resp.UserID,
		AccessToken: resp.AccessToken,
		Homeserver:  homeserver,
		DeviceID:    resp.DeviceID,
		SavedAt:     jsontime.UnixMilliNow(),
	}, nil
}

// Logout invalidates the session's access token on the server.
func (c *Client) Logout(ctx context.Context) error {
	if _, err := c.Client.Logout(ctx); err != nil {
		return fmt.Errorf("failed to log out: %w", err)
	}
	return nil
}

// Whoami asks the server who the access token belongs to.
func (c *Client) Whoami(ctx context.Context) (id.UserID, id.DeviceID, error) {
	resp, err := c.Client.Whoami(ctx)
	if err != nil {
		return "", "", fmt.Errorf("failed to get whoami: %w", err)
	}
	return resp.UserID, resp.DeviceID, nil
}
