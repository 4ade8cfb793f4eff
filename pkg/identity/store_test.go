package identity

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestMap(t *testing.T) (*Map, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "identities.db")
	m, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m, path
}

func TestResolveUnknownIdentity(t *testing.T) {
	m, _ := openTestMap(t)

	_, found, err := m.Resolve("telegram", "12345")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestBindAndResolve(t *testing.T) {
	m, _ := openTestMap(t)

	require.NoError(t, m.Bind("telegram", "12345", "sess-1", "chat-9"))

	sessionID, found, err := m.Resolve("telegram", "12345")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "sess-1", sessionID)

	// Same user id on another platform is a different identity.
	_, found, err = m.Resolve("discord", "12345")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestBindSurvivesReopen(t *testing.T) {
	m, path := openTestMap(t)
	require.NoError(t, m.Bind("telegram", "12345", "sess-1", "chat-9"))
	require.NoError(t, m.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	sessionID, found, err := reopened.Resolve("telegram", "12345")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "sess-1", sessionID)
}

func TestRouteReturnsLatestChat(t *testing.T) {
	m, _ := openTestMap(t)

	require.NoError(t, m.Bind("telegram", "12345", "sess-1", "chat-old"))
	require.NoError(t, m.Bind("telegram", "12345", "sess-1", "chat-new"))

	platform, chatID, ok, err := m.Route("sess-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "telegram", platform)
	assert.Equal(t, "chat-new", chatID)
}

func TestRouteUnknownSession(t *testing.T) {
	m, _ := openTestMap(t)

	_, _, ok, err := m.Route("nope")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCount(t *testing.T) {
	m, _ := openTestMap(t)

	require.NoError(t, m.Bind("telegram", "1", "s1", "c1"))
	require.NoError(t, m.Bind("discord", "1", "s2", "c2"))
	// Rebind is an update, not a new identity.
	require.NoError(t, m.Bind("telegram", "1", "s1", "c3"))

	n, err := m.Count()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
