package matrixclient

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mau.fi/util/jsontime"
)

func TestSessionRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "session.json")
	sess := &Session{
		UserID:      "@me:example.org",
		AccessToken: "syt_token",
		Homeserver:  "https://example.org",
		DeviceID:    "DEVICE",
		SavedAt:     jsontime.UM(time.UnixMilli(1700000000000)),
	}
	require.NoError(t, SaveSession(path, sess))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"accessToken"`)
	assert.Contains(t, string(data), `"savedAt": 1700000000000`)

	loaded, err := LoadSession(path)
	require.NoError(t, err)
	assert.Equal(t, sess.UserID, loaded.UserID)
	assert.Equal(t, sess.DeviceID, loaded.DeviceID)
	assert.Equal(t, sess.SavedAt.UnixMilli(), loaded.SavedAt.UnixMilli())

	require.NoError(t, RemoveSession(path))
	require.NoError(t, RemoveSession(path))
	_, err = LoadSession(path)
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestIncompleteSessionIsRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"userId":"@me:example.org"}`), 0600))
	_, err := LoadSession(path)
	assert.ErrorIs(t, err, ErrNoSession)
}
