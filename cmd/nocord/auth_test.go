package main

import (
	"bufio"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadPasswordFromPipe(t *testing.T) {
	origReader, origFd := stdin, stdinFd
	t.Cleanup(func() { stdin, stdinFd = origReader, origFd })
	stdin = bufio.NewReader(strings.NewReader("alice\n hunter2 \n"))
	stdinFd = -1

	username, err := readLine("Username: ")
	require.NoError(t, err)
	assert.Equal(t, "alice", username)
	password, err := readPassword("Password: ")
	require.NoError(t, err)
	assert.Equal(t, "hunter2", password)
}
