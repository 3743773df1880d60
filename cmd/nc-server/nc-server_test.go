package main

import (
	"encoding/base64"
	"net"
	"testing"
	"time"

	"github.com/cbeuw/netcode/internal/client"
	"github.com/cbeuw/netcode/internal/common"
	"github.com/cbeuw/netcode/internal/server"
	"github.com/cbeuw/netcode/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeneratePrivateKey(t *testing.T) {
	key, err := base64.StdEncoding.DecodeString(generatePrivateKey())
	require.NoError(t, err)
	assert.Len(t, key, 32)
	assert.NotEqual(t, generatePrivateKey(), generatePrivateKey())
}

func TestEcho(t *testing.T) {
	network := transport.NewMemoryNetwork()
	serverAddr := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 40000}
	str, err := network.Listen(serverAddr)
	require.NoError(t, err)
	s, err := server.MakeServer(str, server.Config{
		ProtocolID: 1,
		World:      common.WorldOfTime(time.Unix(1700000000, 0)),
	})
	require.NoError(t, err)

	tok, err := s.Token(1, nil)
	require.NoError(t, err)
	ctr, err := network.Listen(&net.UDPAddr{IP: net.IPv4(10, 0, 1, 1), Port: 50000})
	require.NoError(t, err)
	c := client.New(tok, ctr, client.Config{})

	c.Connect(0)
	now := 0.0
	for i := 0; i < 5; i++ {
		now += 1.0 / tickRate
		c.Update(now)
		s.Update(now)
		echo(s)
	}
	require.True(t, c.IsConnected())

	require.NoError(t, c.Send([]byte("echo me")))
	s.Update(now)
	echo(s)
	c.Update(now)
	b, ok := c.Recv()
	require.True(t, ok)
	assert.Equal(t, []byte("echo me"), b)
}
