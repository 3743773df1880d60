package libnetcode

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testProtocolID = 0xdeadbeef

func TestProtocolConstants(t *testing.T) {
	assert.Equal(t, "NETCODE 1.02", Version)
	assert.Equal(t, 32, PrivateKeyBytes)
	assert.Equal(t, KeyBytes, PrivateKeyBytes)
	assert.Len(t, GenerateKey(), PrivateKeyBytes)
}

func TestClientStateName(t *testing.T) {
	assert.Equal(t, "connected", ClientStateName(3))
	assert.Equal(t, "disconnected", ClientStateName(0))
	assert.Equal(t, "connection denied", ClientStateName(-1))
}

func TestNewConnectToken(t *testing.T) {
	key := GenerateKey()
	tok, err := NewConnectToken([]string{"127.0.0.1:40000", "[::1]:40000"}, testProtocolID, 1, key)
	require.NoError(t, err)
	assert.Len(t, tok.Bytes(), ConnectTokenBytes)
	assert.NotZero(t, tok.ExpireTimestamp())

	_, err = NewConnectToken(nil, testProtocolID, 1, key)
	assert.Error(t, err)
	_, err = NewConnectToken([]string{"no port"}, testProtocolID, 1, key)
	assert.Error(t, err)

	_, err = NewClient(make([]byte, ConnectTokenBytes))
	assert.Error(t, err)
}

func TestLoopback(t *testing.T) {
	key := GenerateKey()
	s, err := NewServer("127.0.0.1:0", testProtocolID, key)
	require.NoError(t, err)
	defer s.Close()

	tok, err := NewConnectToken([]string{s.Addr().String()}, testProtocolID, 99, key)
	require.NoError(t, err)
	c, err := NewClient(tok.Bytes())
	require.NoError(t, err)
	defer c.Close()

	c.Connect()
	var echoed []byte
	sent := false
	deadline := time.Now().Add(5 * time.Second)
	for echoed == nil && time.Now().Before(deadline) {
		c.Update()
		s.Update()
		for {
			data, idx, ok := s.Recv()
			if !ok {
				break
			}
			assert.NoError(t, s.Send(data, idx))
		}
		if c.IsConnected() && !sent {
			require.NoError(t, c.Send([]byte("ping")))
			sent = true
		}
		if b, ok := c.Recv(); ok {
			echoed = b
		}
		time.Sleep(10 * time.Millisecond)
	}
	assert.Equal(t, []byte("ping"), echoed)
	assert.Equal(t, "connected", ClientStateName(c.State()))
	assert.Equal(t, 1, s.NumConnectedClients())
}
