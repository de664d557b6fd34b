package reactions

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"maunium.net/go/mautrix/id"
)

const (
	target = id.EventID("$target")
	alice  = id.UserID("@alice:example.org")
	bob    = id.UserID("@bob:example.org")
)

func TestApplyIsIdempotent(t *testing.T) {
	ledger := NewLedger()
	assert.True(t, ledger.Apply(target, "👍", alice, "$r1"))
	assert.False(t, ledger.Apply(target, "👍", alice, "$r1"))

	assert.Equal(t, map[string][]id.UserID{"👍": {alice}}, ledger.ReactorsFor(target))
}

func TestFirstReactionEventWins(t *testing.T) {
	ledger := NewLedger()
	ledger.Apply(target, "👍", alice, "$r1")
	ledger.Apply(target, "👍", alice, "$r2")

	evtID, ok := ledger.ReactionEventFor(target, "👍", alice)
	assert.True(t, ok)
	assert.Equal(t, id.EventID("$r1"), evtID)

	assert.False(t, ledger.Retract("$r2"), "the duplicate was never indexed")
	assert.Equal(t, []id.UserID{alice}, ledger.ReactorsFor(target)["👍"])
}

func TestRetractRoundTrip(t *testing.T) {
	ledger := NewLedger()
	ledger.Apply(target, "👍", alice, "$r1")
	ledger.Apply(target, "👍", bob, "$r2")
	ledger.Apply(target, "🎉", alice, "$r3")

	assert.True(t, ledger.Retract("$r1"))
	assert.Equal(t, map[string][]id.UserID{
		"👍": {bob},
		"🎉": {alice},
	}, ledger.ReactorsFor(target))

	assert.True(t, ledger.Retract("$r2"))
	_, ok := ledger.ReactorsFor(target)["👍"]
	assert.False(t, ok, "empty buckets are not surfaced")

	_, ok = ledger.Lookup("$r1")
	assert.False(t, ok)
	assert.False(t, ledger.Retract("$r1"), "a second retraction is a no-op")
}

func TestRetractUnknownIsNoop(t *testing.T) {
	ledger := NewLedger()
	assert.False(t, ledger.Retract("$nonexistent"))
	assert.Empty(t, ledger.ReactorsFor(target))

	ledger.Apply(target, "👍", alice, "$r1")
	assert.False(t, ledger.Retract("$nonexistent"))
	assert.Equal(t, []id.UserID{alice}, ledger.ReactorsFor(target)["👍"])
}

func TestReactorsSortedAndScopedToTarget(t *testing.T) {
	ledger := NewLedger()
	ledger.Apply(target, "👍", bob, "$r1")
	ledger.Apply(target, "👍", alice, "$r2")
	ledger.Apply("$other", "👍", alice, "$r3")

	assert.Equal(t, []id.UserID{alice, bob}, ledger.ReactorsFor(target)["👍"])
	assert.Equal(t, []id.UserID{alice}, ledger.ReactorsFor("$other")["👍"])

	ledger.Reset()
	assert.Empty(t, ledger.ReactorsFor(target))
	_, ok := ledger.Lookup("$r1")
	assert.False(t, ok)
}
