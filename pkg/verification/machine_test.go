package verification

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"maunium.net/go/mautrix/id"
)

const txn = id.VerificationTransactionID("txn1")

type fakeProtocol struct {
	lock sync.Mutex

	acceptErr  error
	startErr   error
	confirmErr error
	mismatch   error

	// onAccept and onStart run inside Accept and StartSAS, standing in for
	// callbacks the helper fires synchronously.
	onAccept func()
	onStart  func()

	calls map[string][]id.VerificationTransactionID
}

func newFakeProtocol() *fakeProtocol {
	return &fakeProtocol{calls: make(map[string][]id.VerificationTransactionID)}
}

func (p *fakeProtocol) record(name string, txnID id.VerificationTransactionID) {
	p.lock.Lock()
	p.calls[name] = append(p.calls[name], txnID)
	p.lock.Unlock()
}

func (p *fakeProtocol) count(name string) int {
	p.lock.Lock()
	defer p.lock.Unlock()
	return len(p.calls[name])
}

func (p *fakeProtocol) Accept(ctx context.Context, txnID id.VerificationTransactionID) error {
	p.record("accept", txnID)
	if p.onAccept != nil {
		p.onAccept()
	}
	return p.acceptErr
}

func (p *fakeProtocol) Decline(ctx context.Context, txnID id.VerificationTransactionID) error {
	p.record("decline", txnID)
	return errors.New("network down")
}

func (p *fakeProtocol) StartSAS(ctx context.Context, txnID id.VerificationTransactionID) error {
	p.record("start", txnID)
	if p.onStart != nil {
		p.onStart()
	}
	return p.startErr
}

func (p *fakeProtocol) ConfirmSAS(ctx context.Context, txnID id.VerificationTransactionID) error {
	p.record("confirm", txnID)
	return p.confirmErr
}

func (p *fakeProtocol) MismatchSAS(ctx context.Context, txnID id.VerificationTransactionID) error {
	p.record("mismatch", txnID)
	return p.mismatch
}

var testEmojis = []Emoji{{Symbol: "🐶", Description: "Dog"}, {Symbol: "🔑", Description: "Key"}}

func request(txnID id.VerificationTransactionID) Request {
	return Request{TxnID: txnID, From: "@me:example.org", FromDevice: "OTHERDEVICE"}
}

func newMachine(proto *fakeProtocol) *Machine {
	return NewMachine(zerolog.Nop(), proto)
}

// machineIn drives the machine along the happy path and returns it in want.
func machineIn(t *testing.T, want State) (*Machine, *fakeProtocol) {
	t.Helper()
	proto := newFakeProtocol()
	m := newMachine(proto)
	ctx := context.Background()
	steps := []struct {
		state State
		step  func()
	}{
		{StateRequested, func() { m.RequestReceived(ctx, request(txn)) }},
		{StateAccepting, func() { require.NoError(t, m.Accept(ctx)) }},
		{StateShowSAS, func() { m.SASReady(txn, testEmojis) }},
		{StateConfirming, func() { require.NoError(t, m.ConfirmSAS(ctx)) }},
		{StateDone, func() { m.Resolve(txn, nil) }},
	}
	if want == StateIdle {
		return m, proto
	}
	for _, s := range steps {
		s.step()
		require.Equal(t, s.state, m.Snapshot().State)
		if s.state == want {
			return m, proto
		}
	}
	t.Fatalf("state %s is not on the happy path", want)
	return nil, nil
}

func TestHappyPath(t *testing.T) {
	var seen []State
	proto := newFakeProtocol()
	m := newMachine(proto)
	unsub := m.Subscribe(func(s Snapshot) { seen = append(seen, s.State) })
	defer unsub()
	ctx := context.Background()

	m.RequestReceived(ctx, request(txn))
	snap := m.Snapshot()
	require.NotNil(t, snap.Request)
	assert.Equal(t, id.UserID("@me:example.org"), snap.Request.From)

	require.NoError(t, m.Accept(ctx))
	m.SASReady(txn, testEmojis)
	assert.Equal(t, testEmojis, m.Snapshot().Emojis)
	require.NoError(t, m.ConfirmSAS(ctx))
	m.Resolve(txn, nil)

	assert.Equal(t, []State{StateRequested, StateAccepting, StateShowSAS, StateConfirming, StateDone}, seen)
	assert.Equal(t, 1, proto.count("accept"))
	assert.Equal(t, 1, proto.count("start"))
	assert.Equal(t, 1, proto.count("confirm"))
	assert.True(t, m.Snapshot().State.Terminal())
}

func TestDismissFromEveryState(t *testing.T) {
	for _, state := range []State{StateIdle, StateRequested, StateAccepting, StateShowSAS, StateConfirming, StateDone} {
		t.Run(string(state), func(t *testing.T) {
			m, _ := machineIn(t, state)
			m.Dismiss()
			snap := m.Snapshot()
			assert.Equal(t, StateIdle, snap.State)
			assert.Nil(t, snap.Request)
			assert.Empty(t, snap.Emojis)
		})
	}
	t.Run("cancelled", func(t *testing.T) {
		m, _ := machineIn(t, StateShowSAS)
		require.NoError(t, m.MismatchSAS(context.Background()))
		m.Dismiss()
		assert.Equal(t, StateIdle, m.Snapshot().State)
	})
	t.Run("error", func(t *testing.T) {
		m, _ := machineIn(t, StateConfirming)
		m.Resolve(txn, errors.New("mac mismatch"))
		require.Equal(t, StateError, m.Snapshot().State)
		m.Dismiss()
		assert.Equal(t, StateIdle, m.Snapshot().State)
	})
}

func TestOtherSideStartsSASFirst(t *testing.T) {
	proto := newFakeProtocol()
	proto.startErr = errors.New("verification already started")
	m := newMachine(proto)
	proto.onStart = func() { m.SASReady(txn, testEmojis) }

	m.RequestReceived(context.Background(), request(txn))
	require.NoError(t, m.Accept(context.Background()))
	snap := m.Snapshot()
	assert.Equal(t, StateShowSAS, snap.State, "start failure is discarded")
	assert.Equal(t, testEmojis, snap.Emojis)
}

func TestAcceptFailure(t *testing.T) {
	proto := newFakeProtocol()
	proto.acceptErr = errors.New("device unknown")
	m := newMachine(proto)
	m.RequestReceived(context.Background(), request(txn))
	require.NoError(t, m.Accept(context.Background()))

	snap := m.Snapshot()
	assert.Equal(t, StateError, snap.State)
	assert.Equal(t, "device unknown", snap.Message)
	assert.Equal(t, 0, proto.count("start"))
}

func TestConfirmFailure(t *testing.T) {
	m, proto := machineIn(t, StateShowSAS)
	proto.confirmErr = errors.New("send failed")
	require.NoError(t, m.ConfirmSAS(context.Background()))
	snap := m.Snapshot()
	assert.Equal(t, StateError, snap.State)
	assert.Equal(t, "send failed", snap.Message)
}

func TestMismatchSignalsRemoteOnce(t *testing.T) {
	m, proto := machineIn(t, StateShowSAS)
	proto.mismatch = errors.New("offline")
	require.NoError(t, m.MismatchSAS(context.Background()))
	assert.ErrorIs(t, m.MismatchSAS(context.Background()), ErrInvalidState)

	snap := m.Snapshot()
	assert.Equal(t, StateCancelled, snap.State)
	assert.Equal(t, ReasonMismatch, snap.Message)
	assert.Equal(t, []id.VerificationTransactionID{txn}, proto.calls["mismatch"])

	m.RemoteCancelled(txn, "m.mismatched_sas")
	assert.Equal(t, ReasonMismatch, m.Snapshot().Message, "the echo of our own cancel is stale")
}

func TestDeclineIsBestEffort(t *testing.T) {
	m, proto := machineIn(t, StateRequested)
	require.NoError(t, m.Decline(context.Background()))
	assert.Equal(t, StateIdle, m.Snapshot().State)
	assert.Nil(t, m.Snapshot().Request)
	assert.Equal(t, 1, proto.count("decline"))

	assert.ErrorIs(t, m.Decline(context.Background()), ErrInvalidState)
}

func TestRequestExpiresBeforeUserActs(t *testing.T) {
	m, _ := machineIn(t, StateRequested)
	m.RemoteCancelled(txn, "m.timeout")
	snap := m.Snapshot()
	assert.Equal(t, StateCancelled, snap.State)
	assert.Equal(t, ReasonRequestExpired, snap.Message)
	assert.Equal(t, "m.timeout", snap.Detail)
	assert.ErrorIs(t, m.Accept(context.Background()), ErrInvalidState)
}

func TestRemoteCancelDuringSAS(t *testing.T) {
	for _, state := range []State{StateAccepting, StateShowSAS, StateConfirming} {
		t.Run(string(state), func(t *testing.T) {
			m, _ := machineIn(t, state)
			m.RemoteCancelled(txn, "")
			snap := m.Snapshot()
			assert.Equal(t, StateCancelled, snap.State)
			assert.Equal(t, ReasonRemoteCancelled, snap.Message)
		})
	}
}

func TestResolveClassifiesFailures(t *testing.T) {
	m, _ := machineIn(t, StateConfirming)
	m.Resolve(txn, errors.New("Verification was CANCELLED by the other side"))
	snap := m.Snapshot()
	assert.Equal(t, StateCancelled, snap.State)
	assert.NotEmpty(t, snap.Message)

	m, _ = machineIn(t, StateConfirming)
	m.Resolve(txn, errors.New("timed out"))
	snap = m.Snapshot()
	assert.Equal(t, StateError, snap.State)
	assert.Equal(t, "timed out", snap.Message)
}

func TestStaleTransitionsAreNoops(t *testing.T) {
	m, proto := machineIn(t, StateShowSAS)

	m.SASReady(txn, []Emoji{{Symbol: "🦄", Description: "Unicorn"}})
	assert.Equal(t, testEmojis, m.Snapshot().Emojis, "SAS data only applies while accepting")

	m.Resolve(txn, nil)
	assert.Equal(t, StateShowSAS, m.Snapshot().State, "resolve only applies while confirming")

	m.RemoteCancelled("someone-else", "")
	assert.Equal(t, StateShowSAS, m.Snapshot().State, "callbacks for other transactions are ignored")

	m.RemoteCancelled(txn, "")
	require.Equal(t, StateCancelled, m.Snapshot().State)
	assert.ErrorIs(t, m.ConfirmSAS(context.Background()), ErrInvalidState)
	assert.Equal(t, 0, proto.count("confirm"))
}

func TestLateFailureAfterDismissIsDropped(t *testing.T) {
	proto := newFakeProtocol()
	m := newMachine(proto)
	proto.onStart = func() { m.Dismiss() }
	m.RequestReceived(context.Background(), request(txn))
	require.NoError(t, m.Accept(context.Background()))
	m.SASReady(txn, testEmojis)
	assert.Equal(t, StateIdle, m.Snapshot().State)
}

func TestNoSASStartAfterCancelDuringAccept(t *testing.T) {
	proto := newFakeProtocol()
	m := newMachine(proto)
	proto.onAccept = func() { m.RemoteCancelled(txn, "user cancelled") }
	m.RequestReceived(context.Background(), request(txn))
	require.NoError(t, m.Accept(context.Background()))
	assert.Equal(t, StateCancelled, m.Snapshot().State)
	assert.Zero(t, proto.count("start"))

	proto = newFakeProtocol()
	m = newMachine(proto)
	proto.onAccept = func() { m.Dismiss() }
	m.RequestReceived(context.Background(), request(txn))
	require.NoError(t, m.Accept(context.Background()))
	assert.Equal(t, StateIdle, m.Snapshot().State)
	assert.Zero(t, proto.count("start"))
}

func TestSecondRequest(t *testing.T) {
	m, proto := machineIn(t, StateShowSAS)
	m.RequestReceived(context.Background(), request("txn2"))
	snap := m.Snapshot()
	assert.Equal(t, StateShowSAS, snap.State, "an active session is not replaced")
	assert.Equal(t, txn, snap.Request.TxnID)
	assert.Equal(t, []id.VerificationTransactionID{"txn2"}, proto.calls["decline"])

	m.RequestReceived(context.Background(), request(txn))
	assert.Equal(t, StateShowSAS, m.Snapshot().State, "a repeated request for the same session is ignored")

	m, _ = machineIn(t, StateDone)
	m.RequestReceived(context.Background(), request("txn2"))
	snap = m.Snapshot()
	assert.Equal(t, StateRequested, snap.State, "a finished session is replaced")
	assert.Equal(t, id.VerificationTransactionID("txn2"), snap.Request.TxnID)

	m.Resolve(txn, nil)
	assert.Equal(t, StateRequested, m.Snapshot().State)
}

func TestSnapshotsAreCopies(t *testing.T) {
	m, _ := machineIn(t, StateShowSAS)
	snap := m.Snapshot()
	snap.Emojis[0].Symbol = "X"
	snap.Request.TxnID = "tampered"
	fresh := m.Snapshot()
	assert.Equal(t, "🐶", fresh.Emojis[0].Symbol)
	assert.Equal(t, txn, fresh.Request.TxnID)
}

func TestUnsubscribe(t *testing.T) {
	m := newMachine(newFakeProtocol())
	calls := 0
	unsub := m.Subscribe(func(Snapshot) { calls++ })
	m.Dismiss()
	unsub()
	unsub()
	m.Dismiss()
	assert.Equal(t, 1, calls)
}
