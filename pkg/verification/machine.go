// nocord - A terminal Matrix client.
// Copyright (C) 2026 The nocord authors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package verification drives one interactive SAS (emoji) device
// verification at a time.
//
// Transitions come from two sides, local user actions and remote protocol
// callbacks, which can race. Every transition names the state and session it
// expects to move from and is dropped if the machine has moved on, so a late
// callback for an old session or an already-cancelled one never corrupts the
// current state.
package verification

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix/id"
)

type State string

const (
	StateIdle       State = "idle"
	StateRequested  State = "requested"
	StateAccepting  State = "accepting"
	StateShowSAS    State = "show_sas"
	StateConfirming State = "confirming"
	StateDone       State = "done"
	StateCancelled  State = "cancelled"
	StateError      State = "error"
)

// Terminal reports whether the state only leaves through Dismiss.
func (s State) Terminal() bool {
	return s == StateDone || s == StateCancelled || s == StateError
}

const (
	ReasonRemoteCancelled = "Cancelled by the other device."
	ReasonRequestExpired  = "Request expired or was cancelled."
	ReasonMismatch        = "Emoji mismatch, verification cancelled."
	ReasonUserDeclined    = "User declined"
)

var ErrInvalidState = errors.New("no verification in a state that allows this action")

// Protocol is the remote side of the handshake.
type Protocol interface {
	Accept(ctx context.Context, txnID id.VerificationTransactionID) error
	Decline(ctx context.Context, txnID id.VerificationTransactionID) error
	StartSAS(ctx context.Context, txnID id.VerificationTransactionID) error
	ConfirmSAS(ctx context.Context, txnID id.VerificationTransactionID) error
	MismatchSAS(ctx context.Context, txnID id.VerificationTransactionID) error
}

type Request struct {
	TxnID      id.VerificationTransactionID
	From       id.UserID
	FromDevice id.DeviceID
}

type Emoji struct {
	Symbol      string
	Description string
}

// Snapshot is a copy of the machine's state for display.
type Snapshot struct {
	State   State
	Request *Request
	Emojis  []Emoji
	// Message explains cancelled and error states.
	Message string
	// Detail is the reason the remote side gave, if any.
	Detail string
}

func (s Snapshot) clone() Snapshot {
	if s.Request != nil {
		req := *s.Request
		s.Request = &req
	}
	if s.Emojis != nil {
		s.Emojis = append([]Emoji(nil), s.Emojis...)
	}
	return s
}

type Machine struct {
	log   zerolog.Logger
	proto Protocol

	lock    sync.Mutex
	gen     uint64
	current Snapshot

	obsLock   sync.Mutex
	observers map[int]func(Snapshot)
	nextObs   int
}

func NewMachine(log zerolog.Logger, proto Protocol) *Machine {
	return &Machine{
		log:       log.With().Str("component", "verification").Logger(),
		proto:     proto,
		current:   Snapshot{State: StateIdle},
		observers: make(map[int]func(Snapshot)),
	}
}

func (m *Machine) Snapshot() Snapshot {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.current.clone()
}

// Subscribe registers fn to receive every snapshot after a transition.
func (m *Machine) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	m.obsLock.Lock()
	key := m.nextObs
	m.nextObs++
	m.observers[key] = fn
	m.obsLock.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			m.obsLock.Lock()
			delete(m.observers, key)
			m.obsLock.Unlock()
		})
	}
}

func (m *Machine) publish(snap Snapshot) {
	m.obsLock.Lock()
	observers := make([]func(Snapshot), 0, len(m.observers))
	for _, fn := range m.observers {
		observers = append(observers, fn)
	}
	m.obsLock.Unlock()
	for _, fn := range observers {
		fn(snap.clone())
	}
}

// session is the (generation, transaction) pair a transition was started for.
type session struct {
	gen   uint64
	txnID id.VerificationTransactionID
}

func (m *Machine) sessionLocked() session {
	s := session{gen: m.gen}
	if m.current.Request != nil {
		s.txnID = m.current.Request.TxnID
	}
	return s
}

// begin moves from one of the given states under the current session and
// returns that session.
func (m *Machine) begin(to State, from ...State) (session, bool) {
	m.lock.Lock()
	if !m.inLocked(from) {
		m.lock.Unlock()
		return session{}, false
	}
	sess := m.sessionLocked()
	m.current.State = to
	snap := m.current.clone()
	m.lock.Unlock()
	m.publish(snap)
	return sess, true
}

func (m *Machine) inLocked(states []State) bool {
	for _, state := range states {
		if m.current.State == state {
			return true
		}
	}
	return false
}

// stillIn reports whether sess is current and in one of the given states.
func (m *Machine) stillIn(sess session, states ...State) bool {
	m.lock.Lock()
	defer m.lock.Unlock()
	return sess.gen == m.gen && m.inLocked(states)
}

// transition applies mutate if the machine is still in state from for sess.
func (m *Machine) transition(sess session, mutate func(cur *Snapshot), from ...State) bool {
	m.lock.Lock()
	if sess.gen != m.gen || !m.inLocked(from) {
		m.lock.Unlock()
		return false
	}
	mutate(&m.current)
	snap := m.current.clone()
	m.lock.Unlock()
	m.publish(snap)
	return true
}

// remote applies a protocol callback if txnID belongs to the current session.
func (m *Machine) remote(txnID id.VerificationTransactionID, mutate func(cur *Snapshot), from ...State) bool {
	m.lock.Lock()
	sess := m.sessionLocked()
	m.lock.Unlock()
	if sess.txnID == "" || sess.txnID != txnID {
		return false
	}
	return m.transition(sess, mutate, from...)
}

// RequestReceived starts tracking an inbound request. While another session
// is still in progress the newcomer is declined instead.
func (m *Machine) RequestReceived(ctx context.Context, req Request) {
	log := m.log.With().
		Str("transaction_id", string(req.TxnID)).
		Str("from_user", req.From.String()).
		Str("from_device", req.FromDevice.String()).
		Logger()
	m.lock.Lock()
	if m.current.State != StateIdle && !m.current.State.Terminal() {
		if m.current.Request != nil && m.current.Request.TxnID == req.TxnID {
			m.lock.Unlock()
			return
		}
		m.lock.Unlock()
		log.Info().Msg("Declining verification request while another one is in progress")
		// Best effort, the other device will time out on its own.
		_ = m.proto.Decline(ctx, req.TxnID)
		return
	}
	m.gen++
	m.current = Snapshot{State: StateRequested, Request: &req}
	snap := m.current.clone()
	m.lock.Unlock()
	log.Info().Msg("Received verification request")
	m.publish(snap)
}

// Accept accepts the pending request and tries to start SAS. If the other
// side starts SAS first, starting fails and the emojis arrive through
// SASReady anyway.
func (m *Machine) Accept(ctx context.Context) error {
	sess, ok := m.begin(StateAccepting, StateRequested)
	if !ok {
		return ErrInvalidState
	}
	if err := m.proto.Accept(ctx, sess.txnID); err != nil {
		m.log.Warn().Err(err).Msg("Failed to accept verification request")
		m.transition(sess, func(cur *Snapshot) {
			cur.State = StateError
			cur.Message = err.Error()
		}, StateAccepting)
		return nil
	}
	if !m.stillIn(sess, StateAccepting) {
		return nil
	}
	if err := m.proto.StartSAS(ctx, sess.txnID); err != nil {
		m.log.Debug().Err(err).Msg("Didn't start SAS, waiting for the other device")
	}
	return nil
}

// Decline rejects the pending request and returns to idle. Notifying the
// other device is best effort.
func (m *Machine) Decline(ctx context.Context) error {
	var sess session
	ok := false
	m.lock.Lock()
	if m.current.State == StateRequested {
		sess = m.sessionLocked()
		m.gen++
		m.current = Snapshot{State: StateIdle}
		ok = true
	}
	snap := m.current.clone()
	m.lock.Unlock()
	if !ok {
		return ErrInvalidState
	}
	m.publish(snap)
	_ = m.proto.Decline(ctx, sess.txnID)
	return nil
}

// SASReady records the emojis to compare, whichever side started SAS.
func (m *Machine) SASReady(txnID id.VerificationTransactionID, emojis []Emoji) {
	m.remote(txnID, func(cur *Snapshot) {
		cur.State = StateShowSAS
		cur.Emojis = append([]Emoji(nil), emojis...)
	}, StateAccepting)
}

// ConfirmSAS tells the other device the emojis match.
func (m *Machine) ConfirmSAS(ctx context.Context) error {
	sess, ok := m.begin(StateConfirming, StateShowSAS)
	if !ok {
		return ErrInvalidState
	}
	if err := m.proto.ConfirmSAS(ctx, sess.txnID); err != nil {
		m.log.Warn().Err(err).Msg("Failed to confirm SAS")
		m.transition(sess, func(cur *Snapshot) {
			cur.State = StateError
			cur.Message = err.Error()
		}, StateConfirming)
	}
	return nil
}

// MismatchSAS cancels the session because the emojis differ and tells the
// other device so.
func (m *Machine) MismatchSAS(ctx context.Context) error {
	m.lock.Lock()
	if m.current.State != StateShowSAS {
		m.lock.Unlock()
		return ErrInvalidState
	}
	sess := m.sessionLocked()
	m.current.State = StateCancelled
	m.current.Message = ReasonMismatch
	snap := m.current.clone()
	m.lock.Unlock()
	m.publish(snap)
	if err := m.proto.MismatchSAS(ctx, sess.txnID); err != nil {
		m.log.Warn().Err(err).Msg("Failed to send SAS mismatch cancellation")
	}
	return nil
}

// RemoteCancelled handles a cancellation from the other device, including a
// pending request expiring before the user acted on it.
func (m *Machine) RemoteCancelled(txnID id.VerificationTransactionID, reason string) {
	m.remote(txnID, func(cur *Snapshot) {
		if cur.State == StateRequested {
			cur.Message = ReasonRequestExpired
		} else {
			cur.Message = ReasonRemoteCancelled
		}
		cur.State = StateCancelled
		cur.Detail = reason
	}, StateRequested, StateAccepting, StateShowSAS, StateConfirming)
}

// Resolve finishes a confirming session. Failures that mention a
// cancellation count as cancelled, anything else is an error.
func (m *Machine) Resolve(txnID id.VerificationTransactionID, err error) {
	m.remote(txnID, func(cur *Snapshot) {
		switch {
		case err == nil:
			cur.State = StateDone
		case strings.Contains(strings.ToLower(err.Error()), "cancel"):
			cur.State = StateCancelled
			cur.Message = err.Error()
		default:
			cur.State = StateError
			cur.Message = err.Error()
		}
	}, StateConfirming)
}

// Dismiss discards whatever session exists and returns to idle.
func (m *Machine) Dismiss() {
	m.lock.Lock()
	m.gen++
	m.current = Snapshot{State: StateIdle}
	snap := m.current.clone()
	m.lock.Unlock()
	m.publish(snap)
}
