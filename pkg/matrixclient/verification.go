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

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix/crypto"
	"maunium.net/go/mautrix/crypto/verificationhelper"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/nocord/nocord/pkg/verification"
)

const (
	cancelCodeUser        = event.VerificationCancelCode("m.user")
	cancelCodeMismatchSAS = event.VerificationCancelCode("m.mismatched_sas")
)

// VerificationBridge connects mautrix's verification helper to a
// verification.Machine: helper callbacks become machine transitions, and the
// machine's protocol calls go to the helper.
type VerificationBridge struct {
	log     zerolog.Logger
	helper  *verificationhelper.VerificationHelper
	Machine *verification.Machine
}

func NewVerificationBridge(log zerolog.Logger, client *Client, mach *crypto.OlmMachine) *VerificationBridge {
	b := &VerificationBridge{log: log.With().Str("component", "verification_bridge").Logger()}
	b.Machine = verification.NewMachine(log, b)
	b.helper = verificationhelper.NewVerificationHelper(
		client.Client, mach, verificationhelper.NewInMemoryVerificationStore(), b,
		false, false, true,
	)
	return b
}

func (b *VerificationBridge) Init(ctx context.Context) error {
	return b.helper.Init(ctx)
}

func (b *VerificationBridge) VerificationRequested(ctx context.Context, txnID id.VerificationTransactionID, from id.UserID, fromDevice id.DeviceID) {
	b.Machine.RequestReceived(ctx, verification.Request{TxnID: txnID, From: from, FromDevice: fromDevice})
}

func (b *VerificationBridge) VerificationReady(ctx context.Context, txnID id.VerificationTransactionID, otherDeviceID id.DeviceID, supportsSAS, allowScanQRCode bool, qrCode *verificationhelper.QRCode) {
	b.log.Debug().
		Str("transaction_id", string(txnID)).
		Str("other_device", otherDeviceID.String()).
		Bool("supports_sas", supportsSAS).
		Msg("Verification ready")
}

func (b *VerificationBridge) VerificationCancelled(ctx context.Context, txnID id.VerificationTransactionID, code event.VerificationCancelCode, reason string) {
	b.log.Info().
		Str("transaction_id", string(txnID)).
		Str("code", string(code)).
		Str("reason", reason).
		Msg("Verification cancelled")
	b.Machine.RemoteCancelled(txnID, reason)
}

func (b *VerificationBridge) VerificationDone(ctx context.Context, txnID id.VerificationTransactionID, method event.VerificationMethod) {
	b.Machine.Resolve(txnID, nil)
}

func (b *VerificationBridge) ShowSAS(ctx context.Context, txnID id.VerificationTransactionID, emojis []rune, emojiDescriptions []string, decimals []int) {
	out := make([]verification.Emoji, len(emojis))
	for i, r := range emojis {
		out[i].Symbol = string(r)
		if i < len(emojiDescriptions) {
			out[i].Description = emojiDescriptions[i]
		}
	}
	b.Machine.SASReady(txnID, out)
}

func (b *VerificationBridge) Accept(ctx context.Context, txnID id.VerificationTransactionID) error {
	return b.helper.AcceptVerification(ctx, txnID)
}

func (b *VerificationBridge) Decline(ctx context.Context, txnID id.VerificationTransactionID) error {
	return b.helper.CancelVerification(ctx, txnID, cancelCodeUser, verification.ReasonUserDeclined)
}

func (b *VerificationBridge) StartSAS(ctx context.Context, txnID id.VerificationTransactionID) error {
	return b.helper.StartSAS(ctx, txnID)
}

func (b *VerificationBridge) ConfirmSAS(ctx context.Context, txnID id.VerificationTransactionID) error {
	return b.helper.ConfirmSAS(ctx, txnID)
}

func (b *VerificationBridge) MismatchSAS(ctx context.Context, txnID id.VerificationTransactionID) error {
	return b.helper.CancelVerification(ctx, txnID, cancelCodeMismatchSAS, "Emoji mismatch")
}
