package listener

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SametHaymana/Proxier/internal/socks5"
	"github.com/SametHaymana/Proxier/internal/user"
)

func TestBandwidthAdmissionFailsClosedByDefault(t *testing.T) {
	in := New(uuid.New(), 0)
	assert.False(t, in.HasBandwidth())

	in.SetMaxBandwidth(100)
	assert.True(t, in.HasBandwidth())

	in.SetMaxBandwidth(0)
	assert.False(t, in.HasBandwidth())
}

func TestCurrentBandwidthMonotonic(t *testing.T) {
	in := New(uuid.New(), 0)
	in.SetMaxBandwidth(1000)

	counter := in.BandwidthCounter()
	*counter += 10
	first := in.CurrentBandwidth()
	*counter += 5
	second := in.CurrentBandwidth()

	assert.GreaterOrEqual(t, second, first)
}

func TestSetAllowedAuthMethodIdempotent(t *testing.T) {
	in := New(uuid.New(), 0)
	in.SetAllowedAuthMethod(socks5.AuthNoAuth)
	in.SetAllowedAuthMethod(socks5.AuthNoAuth)

	methods := in.AllowedAuthMethods()
	assert.Len(t, methods, 1)

	in.RemoveAllowedAuthMethod(socks5.AuthNoAuth)
	assert.Empty(t, in.AllowedAuthMethods())
}

func TestSelectAuthMethodNoMethodsMeansNotAcceptable(t *testing.T) {
	in := New(uuid.New(), 0)
	in.RemoveAllowedAuthMethod(socks5.AuthNoAuth)
	in.RemoveAllowedAuthMethod(socks5.AuthUsernamePassword)

	method := in.SelectAuthMethod([]socks5.AuthMethod{socks5.AuthNoAuth, socks5.AuthUsernamePassword})
	assert.Equal(t, socks5.AuthNotAcceptable, method)
}

func TestAddUserIdempotentByID(t *testing.T) {
	in := New(uuid.New(), 0)
	u := user.New("alice", "s3cret")

	in.AddUser(u)
	in.AddUser(u)

	assert.Len(t, in.Users(), 1)
	assert.True(t, in.CheckCredentials("alice", "s3cret"))

	removed := in.RemoveUserByID(u.ID)
	assert.True(t, removed)
	assert.False(t, in.RemoveUserByID(u.ID))
}

func TestBlockUnblockIP(t *testing.T) {
	in := New(uuid.New(), 0)
	ip := net.ParseIP("192.168.0.1")

	require.NoError(t, in.BlockIP(ip))
	assert.True(t, in.IsBlocked(ip))
	assert.Contains(t, in.ListBlocked(), "192.168.0.1")

	in.UnblockIP(ip)
	assert.False(t, in.IsBlocked(ip))
}

func TestStartBindsAndAccepts(t *testing.T) {
	in := New(uuid.New(), 0)
	in.SetAllowedAuthMethod(socks5.AuthNoAuth)
	in.SetMaxBandwidth(1 << 20)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, in.Start(ctx))
	defer in.Stop()

	addr := in.ln.Addr().(*net.TCPAddr)

	conn, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte{0x05, 0x01, 0x00})
	require.NoError(t, err)

	resp := make([]byte, 2)
	_, err = conn.Read(resp)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x05, 0x00}, resp)
}
