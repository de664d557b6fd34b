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
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"maunium.net/go/mautrix/crypto"
	"maunium.net/go/mautrix/crypto/cryptohelper"
)

var ErrCryptoUnavailable = errors.New("encryption is not set up")

// CryptoBootstrap sets up end-to-end encryption. It implements
// syncer.Bootstrapper.
type CryptoBootstrap struct {
	log       zerolog.Logger
	client    *Client
	pickleKey []byte
	dbPath    string

	once   sync.Once
	err    error
	helper *cryptohelper.CryptoHelper

	// OnReady runs once the olm machine is available.
	OnReady func(ctx context.Context, mach *crypto.OlmMachine) error
}

func NewCryptoBootstrap(log zerolog.Logger, client *Client, pickleKey, dbPath string) *CryptoBootstrap {
	return &CryptoBootstrap{
		log:       log.With().Str("component", "crypto").Logger(),
		client:    client,
		pickleKey: []byte(pickleKey),
		dbPath:    dbPath,
	}
}

// Bootstrap initializes the crypto helper at most once.
func (b *CryptoBootstrap) Bootstrap(ctx context.Context) error {
	b.once.Do(func() {
		b.err = b.bootstrap(ctx)
	})
	return b.err
}

func (b *CryptoBootstrap) bootstrap(ctx context.Context) error {
	helper, err := cryptohelper.NewCryptoHelper(b.client.Client, b.pickleKey, b.dbPath)
	if err != nil {
		return fmt.Errorf("failed to create crypto helper: %w", err)
	}
	if err = helper.Init(ctx); err != nil {
		return fmt.Errorf("failed to initialize crypto: %w", err)
	}
	b.client.Client.Crypto = helper
	b.helper = helper
	b.log.Info().Str("device_id", b.client.Client.DeviceID.String()).Msg("Encryption ready")
	if b.OnReady != nil {
		if err = b.OnReady(ctx, helper.Machine()); err != nil {
			b.log.Warn().Err(err).Msg("Failed to finish encryption setup")
		}
	}
	return nil
}

// Machine returns the olm machine, or nil if bootstrap has not succeeded.
func (b *CryptoBootstrap) Machine() *crypto.OlmMachine {
	if b.helper == nil {
		return nil
	}
	return b.helper.Machine()
}

func (b *CryptoBootstrap) Close() error {
	if b.helper == nil {
		return nil
	}
	return b.helper.Close()
}
