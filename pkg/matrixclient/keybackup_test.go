package matrixclient

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"maunium.net/go/mautrix/crypto/backup"
	"maunium.net/go/mautrix/id"

	"github.com/nocord/nocord/pkg/keyrecovery"
)

func entry(sessionID id.SessionID, decryptErr error) backupEntry {
	return backupEntry{
		roomID:    "!room:example.org",
		sessionID: sessionID,
		decrypt: func() (*backup.MegolmSessionData, error) {
			if decryptErr != nil {
				return nil, decryptErr
			}
			return &backup.MegolmSessionData{}, nil
		},
	}
}

func TestImportEntriesCountsOnlyImportedSessions(t *testing.T) {
	entries := []backupEntry{
		entry("good1", nil),
		entry("undecryptable", errors.New("bad mac")),
		entry("unstorable", nil),
		entry("good2", nil),
	}
	var stored []id.SessionID
	store := func(ctx context.Context, roomID id.RoomID, sessionID id.SessionID, data *backup.MegolmSessionData) error {
		if sessionID == "unstorable" {
			return errors.New("database locked")
		}
		stored = append(stored, sessionID)
		return nil
	}
	var progress []keyrecovery.ImportProgress
	n := importEntries(context.Background(), zerolog.Nop(), entries, store, func(p keyrecovery.ImportProgress) {
		progress = append(progress, p)
	})

	assert.Equal(t, 2, n)
	assert.Equal(t, []id.SessionID{"good1", "good2"}, stored)
	assert.Equal(t, []keyrecovery.ImportProgress{
		{Stage: keyrecovery.StageLoadKeys, Total: 4},
		{Stage: keyrecovery.StageLoadKeys, Successes: 1, Total: 4},
		{Stage: keyrecovery.StageLoadKeys, Successes: 1, Failures: 1, Total: 4},
		{Stage: keyrecovery.StageLoadKeys, Successes: 1, Failures: 2, Total: 4},
		{Stage: keyrecovery.StageLoadKeys, Successes: 2, Failures: 2, Total: 4},
	}, progress)
}

func TestImportEntriesAllFailing(t *testing.T) {
	entries := []backupEntry{entry("a", errors.New("bad mac")), entry("b", errors.New("bad mac"))}
	store := func(ctx context.Context, roomID id.RoomID, sessionID id.SessionID, data *backup.MegolmSessionData) error {
		t.Fatal("nothing should be stored")
		return nil
	}
	var last keyrecovery.ImportProgress
	n := importEntries(context.Background(), zerolog.Nop(), entries, store, func(p keyrecovery.ImportProgress) { last = p })
	assert.Zero(t, n)
	assert.Equal(t, keyrecovery.ImportProgress{Stage: keyrecovery.StageLoadKeys, Failures: 2, Total: 2}, last)
}

func TestImportEntriesEmptyBackup(t *testing.T) {
	var progress []keyrecovery.ImportProgress
	n := importEntries(context.Background(), zerolog.Nop(), nil, nil, func(p keyrecovery.ImportProgress) {
		progress = append(progress, p)
	})
	assert.Zero(t, n)
	assert.Equal(t, []keyrecovery.ImportProgress{{Stage: keyrecovery.StageLoadKeys}}, progress)
}
