// Package libnetcode is the public face of the module: a connect token minter, a UDP client and a UDP server
// with nothing more to wire up than addresses and keys.
package libnetcode

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/cbeuw/netcode/internal/client"
	"github.com/cbeuw/netcode/internal/common"
	"github.com/cbeuw/netcode/internal/packet"
	"github.com/cbeuw/netcode/internal/server"
	"github.com/cbeuw/netcode/internal/token"
	"github.com/cbeuw/netcode/internal/transport"
)

const (
	ConnectTokenBytes = token.ConnectTokenBytes
	KeyBytes          = token.KeyBytes
	PrivateKeyBytes   = token.KeyBytes
	UserDataBytes     = token.UserDataBytes
	MaxPacketSize     = packet.MaxPayloadBytes
	MaxClients        = server.DefaultMaxClients

	TimeoutSeconds = token.DefaultTimeoutSeconds
	ExpireSeconds  = token.DefaultExpireSeconds
)

// Version is the protocol version carried by every token and packet, without its trailing NUL
var Version = strings.TrimRight(string(token.VersionInfo[:]), "\x00")

// GenerateKey makes a private key shared between a token authority and its servers
func GenerateKey() [KeyBytes]byte {
	return common.GenerateKey(common.RealWorldState.Rand)
}

// ClientStateName is the name of a client state as reported by Client.State
func ClientStateName(state int) string {
	return client.State(state).String()
}

type ConnectToken struct {
	tok *token.ConnectToken
}

// NewConnectToken mints a token for clientID valid on every server in addrs, with the default timeout and
// expiry
func NewConnectToken(addrs []string, protocolID uint64, clientID uint64, key [KeyBytes]byte) (*ConnectToken, error) {
	var serverAddrs []*net.UDPAddr
	for _, a := range addrs {
		addr, err := net.ResolveUDPAddr("udp", a)
		if err != nil {
			return nil, fmt.Errorf("unable to resolve server address %v: %w", a, err)
		}
		serverAddrs = append(serverAddrs, addr)
	}
	tok, err := token.Generate(common.RealWorldState, token.Params{
		ServerAddrs: serverAddrs,
		ProtocolID:  protocolID,
		ClientID:    clientID,
		PrivateKey:  key,
	})
	if err != nil {
		return nil, err
	}
	return &ConnectToken{tok}, nil
}

func (t *ConnectToken) Bytes() []byte { return t.tok.Bytes() }

func (t *ConnectToken) ExpireTimestamp() uint64 { return t.tok.ExpireTimestamp }

// clock turns wall-clock time into the seconds the state machines are driven with
type clock struct {
	start time.Time
}

func (c clock) now() float64 { return time.Since(c.start).Seconds() }

// Client is a netcode client on its own UDP socket. It is driven from a single goroutine: call Connect once,
// then Update at a steady rate.
type Client struct {
	*client.Client
	tr    *transport.PacketTransceiver
	clock clock
}

// NewClient parses a serialised connect token and binds an ephemeral UDP port to talk to its servers from
func NewClient(connectToken []byte) (*Client, error) {
	tr, err := transport.ListenUDP(":0")
	if err != nil {
		return nil, err
	}
	c, err := client.MakeClient(connectToken, tr, client.Config{})
	if err != nil {
		tr.Close()
		return nil, err
	}
	return &Client{Client: c, tr: tr, clock: clock{time.Now()}}, nil
}

// Connect starts connecting to the first server in the token
func (c *Client) Connect() { c.Client.Connect(c.clock.now()) }

// Update runs the client up to the current time
func (c *Client) Update() { c.Client.Update(c.clock.now()) }

// State is the client's state as a plain int, see ClientStateName
func (c *Client) State() int { return int(c.Client.State()) }

// Close disconnects if connected and releases the socket
func (c *Client) Close() error {
	c.Client.Disconnect()
	return c.tr.Close()
}

// Server is a netcode server on its own UDP socket, driven the same way as Client
type Server struct {
	*server.Server
	tr    *transport.PacketTransceiver
	clock clock
}

// NewServer binds bindAddr. bindAddr must be the address clients are given in their connect tokens, so it cannot
// be a wildcard address.
func NewServer(bindAddr string, protocolID uint64, key [KeyBytes]byte) (*Server, error) {
	tr, err := transport.ListenUDP(bindAddr)
	if err != nil {
		return nil, err
	}
	s, err := server.MakeServer(tr, server.Config{
		ProtocolID: protocolID,
		PrivateKey: key,
	})
	if err != nil {
		tr.Close()
		return nil, err
	}
	return &Server{Server: s, tr: tr, clock: clock{time.Now()}}, nil
}

// Update runs the server up to the current time
func (s *Server) Update() { s.Server.Update(s.clock.now()) }

// Close disconnects every client and releases the socket
func (s *Server) Close() error {
	s.Server.DisconnectAll()
	return s.tr.Close()
}
