// nocord - A terminal Matrix client.
// Copyright (C) 2026 The nocord authors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package keyrecovery restores room keys from the server-side key backup with
// either a recovery key or a passphrase, reporting progress the same way for
// both.
package keyrecovery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"
)

const StageLoadKeys = "load_keys"

var (
	ErrNoBackup       = errors.New("no key backup found on this homeserver")
	ErrEmptySecret    = errors.New("recovery secret is empty")
	ErrSecretRejected = errors.New("recovery secret was rejected")
)

type Method int

const (
	MethodRecoveryKey Method = iota
	MethodPassphrase
)

func (m Method) String() string {
	switch m {
	case MethodRecoveryKey:
		return "recovery key"
	case MethodPassphrase:
		return "passphrase"
	default:
		return fmt.Sprintf("Method(%d)", int(m))
	}
}

// BackupInfo identifies the backup version being restored.
type BackupInfo struct {
	Version   string
	Algorithm string
	KeyCount  int
}

// ImportProgress is the raw progress of an import, per stage.
type ImportProgress struct {
	Stage     string
	Successes int
	Failures  int
	Total     int
}

type Progress struct {
	Done  int
	Total int
}

// Source is the backup capability of the crypto layer. Import methods wrap
// ErrSecretRejected when the secret does not unlock the backup.
type Source interface {
	LatestBackup(ctx context.Context) (*BackupInfo, error)
	ImportWithRecoveryKey(ctx context.Context, info *BackupInfo, recoveryKey string, sink func(ImportProgress)) (int, error)
	ImportWithPassphrase(ctx context.Context, info *BackupInfo, passphrase string, sink func(ImportProgress)) (int, error)
}

// NormalizeRecoveryKey strips the spaces recovery keys are displayed with.
func NormalizeRecoveryKey(key string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, key)
}

// Restore imports keys from the latest backup and returns how many were
// imported. Zero is a success. onProgress may be nil.
func Restore(ctx context.Context, src Source, method Method, secret string, onProgress func(Progress)) (int, error) {
	if method == MethodRecoveryKey {
		secret = NormalizeRecoveryKey(secret)
	}
	if strings.TrimSpace(secret) == "" {
		return 0, ErrEmptySecret
	}
	info, err := src.LatestBackup(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get key backup version: %w", err)
	} else if info == nil {
		return 0, ErrNoBackup
	}
	sink := func(p ImportProgress) {
		if p.Stage == StageLoadKeys && onProgress != nil {
			onProgress(Progress{Done: p.Successes, Total: p.Total})
		}
	}
	var imported int
	switch method {
	case MethodRecoveryKey:
		imported, err = src.ImportWithRecoveryKey(ctx, info, secret, sink)
	case MethodPassphrase:
		imported, err = src.ImportWithPassphrase(ctx, info, secret, sink)
	default:
		return 0, fmt.Errorf("unknown restore method %s", method)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to import key backup: %w", err)
	}
	return imported, nil
}

func RestoreWithRecoveryKey(ctx context.Context, src Source, recoveryKey string, onProgress func(Progress)) (int, error) {
	return Restore(ctx, src, MethodRecoveryKey, recoveryKey, onProgress)
}

func RestoreWithPassphrase(ctx context.Context, src Source, passphrase string, onProgress func(Progress)) (int, error) {
	return Restore(ctx, src, MethodPassphrase, passphrase, onProgress)
}
