package manager

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SametHaymana/Proxier/internal/socks5"
	"github.com/SametHaymana/Proxier/internal/user"
)

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func TestAddProxyRejectsUnsupportedKind(t *testing.T) {
	m := New()
	_, err := m.AddProxy(context.Background(), KindHTTPConnect, uint16(freePort(t)))
	assert.ErrorIs(t, err, ErrUnsupportedKind)
}

func TestAddProxyEnforcesPortUniqueness(t *testing.T) {
	m := New()
	port := uint16(freePort(t))

	id1, err := m.AddProxy(context.Background(), KindSOCKS5, port)
	require.NoError(t, err)
	assert.NotEmpty(t, id1)

	_, err = m.AddProxy(context.Background(), KindSOCKS5, port)
	assert.ErrorIs(t, err, ErrPortInUse)
}

func TestGetUnknownID(t *testing.T) {
	m := New()
	_, ok := m.Get("does-not-exist")
	assert.False(t, ok)
}

func TestSetAuthMethodUnknownIDReturnsProxyNotFound(t *testing.T) {
	m := New()
	err := m.SetAuthMethod("does-not-exist", socks5.AuthNoAuth)
	assert.True(t, errors.Is(err, ErrProxyNotFound))
}

func TestAuthMethodLifecycle(t *testing.T) {
	m := New()
	port := uint16(freePort(t))
	id, err := m.AddProxy(context.Background(), KindSOCKS5, port)
	require.NoError(t, err)

	require.NoError(t, m.SetAuthMethod(id, socks5.AuthNoAuth))
	require.NoError(t, m.SetAuthMethod(id, socks5.AuthNoAuth)) // idempotent

	methods, err := m.ListAuthMethods(id)
	require.NoError(t, err)
	assert.ElementsMatch(t, []socks5.AuthMethod{socks5.AuthNoAuth}, methods)

	require.NoError(t, m.RemoveAuthMethod(id, socks5.AuthNoAuth))
	methods, err = m.ListAuthMethods(id)
	require.NoError(t, err)
	assert.Empty(t, methods)
}

func TestUserRegistrationGlobalVsInstance(t *testing.T) {
	m := New()
	port := uint16(freePort(t))
	id, err := m.AddProxy(context.Background(), KindSOCKS5, port)
	require.NoError(t, err)

	alice := user.New("alice", "s3cret")
	require.NoError(t, m.RegisterUser(Global, alice))
	require.NoError(t, m.RegisterUser(id, alice))

	globalUsers, err := m.ListUsers(Global)
	require.NoError(t, err)
	assert.Len(t, globalUsers, 1)

	instanceUsers, err := m.ListUsers(id)
	require.NoError(t, err)
	assert.Len(t, instanceUsers, 1)

	removed, err := m.RemoveUser(id, alice.ID)
	require.NoError(t, err)
	assert.True(t, removed)

	instanceUsers, err = m.ListUsers(id)
	require.NoError(t, err)
	assert.Empty(t, instanceUsers)

	// removing from the instance must not affect the global staging set
	globalUsers, err = m.ListUsers(Global)
	require.NoError(t, err)
	assert.Len(t, globalUsers, 1)
}

func TestSetMaxBandwidthAndCurrentBandwidth(t *testing.T) {
	m := New()
	port := uint16(freePort(t))
	id, err := m.AddProxy(context.Background(), KindSOCKS5, port)
	require.NoError(t, err)

	require.NoError(t, m.SetMaxBandwidth(id, 1024))
	used, err := m.CurrentBandwidth(id)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), used)
}

func TestBlockIPLifecycle(t *testing.T) {
	m := New()
	port := uint16(freePort(t))
	id, err := m.AddProxy(context.Background(), KindSOCKS5, port)
	require.NoError(t, err)

	ip := net.ParseIP("10.0.0.5")
	require.NoError(t, m.BlockIP(id, ip))

	blocked, err := m.ListBlocked(id)
	require.NoError(t, err)
	assert.Contains(t, blocked, "10.0.0.5")

	require.NoError(t, m.UnblockIP(id, ip))
	blocked, err = m.ListBlocked(id)
	require.NoError(t, err)
	assert.NotContains(t, blocked, "10.0.0.5")
}
