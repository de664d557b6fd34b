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
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/crypto"
	"maunium.net/go/mautrix/crypto/backup"
	"maunium.net/go/mautrix/crypto/ssss"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/nocord/nocord/pkg/keyrecovery"
)

// BackupSource implements keyrecovery.Source on top of the server-side key
// backup and secret storage.
type BackupSource struct {
	client *Client
	mach   func() *crypto.OlmMachine
}

func NewBackupSource(client *Client, mach func() *crypto.OlmMachine) *BackupSource {
	return &BackupSource{client: client, mach: mach}
}

func (s *BackupSource) LatestBackup(ctx context.Context) (*keyrecovery.BackupInfo, error) {
	resp, err := s.client.Client.GetKeyBackupLatestVersion(ctx)
	if errors.Is(err, mautrix.MNotFound) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	return &keyrecovery.BackupInfo{
		Version:   string(resp.Version),
		Algorithm: string(resp.Algorithm),
		KeyCount:  resp.Count,
	}, nil
}

func (s *BackupSource) ImportWithRecoveryKey(ctx context.Context, info *keyrecovery.BackupInfo, recoveryKey string, sink func(keyrecovery.ImportProgress)) (int, error) {
	return s.importWith(ctx, info, sink, func(keyID string, keyData *ssss.KeyMetadata) (*ssss.Key, error) {
		return keyData.VerifyRecoveryKey(keyID, recoveryKey)
	})
}

func (s *BackupSource) ImportWithPassphrase(ctx context.Context, info *keyrecovery.BackupInfo, passphrase string, sink func(keyrecovery.ImportProgress)) (int, error) {
	return s.importWith(ctx, info, sink, func(keyID string, keyData *ssss.KeyMetadata) (*ssss.Key, error) {
		return keyData.VerifyPassphrase(keyID, passphrase)
	})
}

func (s *BackupSource) importWith(
	ctx context.Context,
	info *keyrecovery.BackupInfo,
	sink func(keyrecovery.ImportProgress),
	unlock func(keyID string, keyData *ssss.KeyMetadata) (*ssss.Key, error),
) (int, error) {
	mach := s.mach()
	if mach == nil {
		return 0, ErrCryptoUnavailable
	}
	keyID, keyData, err := mach.SSSS.GetDefaultKeyData(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get secret storage key: %w", err)
	}
	key, err := unlock(keyID, keyData)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", keyrecovery.ErrSecretRejected, err)
	}
	rawBackupKey, err := mach.SSSS.GetDecryptedAccountData(ctx, event.AccountDataMegolmBackupKey, key)
	if err != nil {
		return 0, fmt.Errorf("failed to decrypt key backup key: %w", err)
	}
	backupKey, err := backup.MegolmBackupKeyFromBytes(rawBackupKey)
	if err != nil {
		return 0, fmt.Errorf("failed to parse key backup key: %w", err)
	}
	version := id.KeyBackupVersion(info.Version)
	keys, err := s.client.Client.GetKeyBackup(ctx, version)
	if err != nil {
		return 0, fmt.Errorf("failed to download key backup: %w", err)
	}
	var entries []backupEntry
	for roomID, room := range keys.Rooms {
		for sessionID, data := range room.Sessions {
			entries = append(entries, backupEntry{
				roomID:    roomID,
				sessionID: sessionID,
				decrypt: func() (*backup.MegolmSessionData, error) {
					return data.SessionData.Decrypt(backupKey)
				},
			})
		}
	}
	store := func(ctx context.Context, roomID id.RoomID, sessionID id.SessionID, data *backup.MegolmSessionData) error {
		_, err := mach.ImportRoomKeyFromBackup(ctx, version, roomID, sessionID, data)
		return err
	}
	return importEntries(ctx, s.client.log, entries, store, sink), nil
}

// backupEntry is one backed up megolm session, decrypted lazily.
type backupEntry struct {
	roomID    id.RoomID
	sessionID id.SessionID
	decrypt   func() (*backup.MegolmSessionData, error)
}

// importEntries imports every entry it can and returns the number imported.
// Sessions that fail to decrypt or store are counted as failures and skipped.
func importEntries(
	ctx context.Context,
	log zerolog.Logger,
	entries []backupEntry,
	store func(ctx context.Context, roomID id.RoomID, sessionID id.SessionID, data *backup.MegolmSessionData) error,
	sink func(keyrecovery.ImportProgress),
) int {
	progress := keyrecovery.ImportProgress{Stage: keyrecovery.StageLoadKeys, Total: len(entries)}
	sink(progress)
	for _, entry := range entries {
		data, err := entry.decrypt()
		if err == nil {
			err = store(ctx, entry.roomID, entry.sessionID, data)
		}
		if err != nil {
			log.Debug().Err(err).
				Str("room_id", entry.roomID.String()).
				Str("session_id", entry.sessionID.String()).
				Msg("Failed to import session from key backup")
			progress.Failures++
		} else {
			progress.Successes++
		}
		sink(progress)
	}
	log.Info().
		Int("imported", progress.Successes).
		Int("failed", progress.Failures).
		Msg("Finished importing key backup")
	return progress.Successes
}
