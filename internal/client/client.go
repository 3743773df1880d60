package client

import (
	"errors"
	"fmt"
	"math"
	"net"

	"github.com/cbeuw/netcode/internal/packet"
	"github.com/cbeuw/netcode/internal/token"
	"github.com/cbeuw/netcode/internal/transport"
	log "github.com/sirupsen/logrus"
)

var (
	ErrNotConnected = errors.New("client is not connected")
	ErrPayloadSize  = packet.ErrPayloadSize
)

// Client connects to one of the servers listed in its connect token. It does no work on its own: call Update
// regularly with the current time in seconds, from a single goroutine.
type Client struct {
	config Config
	tr     transport.Transceiver
	token  *token.ConnectToken

	state       State
	serverIndex int
	serverAddr  *net.UDPAddr

	time               float64
	connectStartTime   float64
	lastPacketSendTime float64
	lastPacketRecvTime float64

	sequence          uint64
	challengeSequence uint64
	challengeData     [token.ChallengeTokenBytes]byte
	clientIndex       uint32
	maxClients        uint32

	// sequence and replay outlive reconnects made with the same token
	replay     *packet.ReplayProtection
	replayAddr *net.UDPAddr
	queue      [][]byte
	buf        []byte
}

// MakeClient parses a serialised connect token and creates a Disconnected client that will talk through tr
func MakeClient(tokenBytes []byte, tr transport.Transceiver, config Config) (*Client, error) {
	tok, err := token.ReadPublic(tokenBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to read connect token: %w", err)
	}
	return New(tok, tr, config), nil
}

// New creates a Disconnected client from a parsed token. A token listing no server makes Connect fail with
// InvalidConnectToken.
func New(tok *token.ConnectToken, tr transport.Transceiver, config Config) *Client {
	c := &Client{
		config: config.withDefaults(),
		tr:     tr,
		token:  tok,
		state:  Disconnected,
		replay: packet.NewReplayProtection(),
		buf:    make([]byte, packet.MaxPacketBytes+1),
	}
	if tok != nil && len(tok.ServerAddrs) > 0 {
		c.serverAddr = tok.ServerAddrs[0]
	}
	return c
}

func (c *Client) State() State         { return c.state }
func (c *Client) IsError() bool        { return c.state.IsError() }
func (c *Client) IsPending() bool      { return c.state.IsPending() }
func (c *Client) IsConnected() bool    { return c.state.IsConnected() }
func (c *Client) IsDisconnected() bool { return c.state.IsDisconnected() }

// LocalAddr is the address of the client's transceiver
func (c *Client) LocalAddr() net.Addr { return c.tr.LocalAddr() }

// ServerAddr is the server currently being connected to, or last connected to
func (c *Client) ServerAddr() net.Addr {
	if c.serverAddr == nil {
		return nil
	}
	return c.serverAddr
}

// ClientIndex is the slot the server gave this client. Only meaningful when connected.
func (c *Client) ClientIndex() uint32 { return c.clientIndex }

// MaxClients is the capacity the server reported. Only meaningful when connected.
func (c *Client) MaxClients() uint32 { return c.maxClients }

func (c *Client) resetSession() {
	c.challengeSequence = 0
	c.challengeData = [token.ChallengeTokenBytes]byte{}
	c.clientIndex = 0
	c.maxClients = 0
	c.queue = nil
}

func (c *Client) setState(s State) {
	if s == c.state {
		return
	}
	log.WithFields(log.Fields{
		"server": c.serverAddr,
		"from":   c.state,
		"to":     s,
	}).Debug("client state changed")
	c.state = s
}

func (c *Client) beginServer(index int, time float64) {
	c.serverIndex = index
	c.serverAddr = c.token.ServerAddrs[index]
	if c.replayAddr == nil || !token.AddrEqual(c.replayAddr, c.serverAddr) {
		c.replay.Reset()
		c.replayAddr = c.serverAddr
	}
	c.resetSession()
	c.lastPacketRecvTime = time
	c.lastPacketSendTime = math.Inf(-1)
	c.setState(SendingConnectionRequest)
}

// Connect starts connecting to the first server in the token. Any existing connection is dropped silently.
func (c *Client) Connect(time float64) {
	c.time = time
	if c.token == nil || len(c.token.ServerAddrs) == 0 {
		c.setState(InvalidConnectToken)
		return
	}
	c.connectStartTime = time
	c.beginServer(0, time)
}

// Update reads everything the transceiver has, sends whatever is due and checks timeouts
func (c *Client) Update(time float64) {
	c.time = time
	c.receivePackets()
	c.sendPackets()
	c.checkTimeouts()
}

func (c *Client) receivePackets() {
	for {
		n, from, err := c.tr.Recv(c.buf)
		if errors.Is(err, transport.ErrBufferTooSmall) {
			log.Tracef("dropping oversized datagram from %v", from)
			continue
		}
		if err != nil {
			log.Tracef("client transceiver: %v", err)
			return
		}
		if n == 0 {
			return
		}
		c.processPacket(c.buf[:n], from)
	}
}

func (c *Client) allowedTypes() packet.AllowedTypes {
	switch c.state {
	case SendingConnectionRequest:
		return packet.Allow(packet.TypeConnectionDenied, packet.TypeChallenge)
	case SendingChallengeResponse:
		return packet.Allow(packet.TypeConnectionDenied, packet.TypeKeepAlive, packet.TypePayload)
	case Connected:
		return packet.Allow(packet.TypeKeepAlive, packet.TypePayload, packet.TypeDisconnect)
	default:
		return 0
	}
}

func (c *Client) processPacket(buf []byte, from net.Addr) {
	if c.serverAddr == nil || !token.AddrEqual(c.serverAddr, from) {
		log.Tracef("dropping packet from unexpected address %v", from)
		return
	}
	p, _, err := packet.Read(buf, packet.ReadOptions{
		ProtocolID: c.token.ProtocolID,
		Key:        c.token.ServerToClientKey[:],
		Allowed:    c.allowedTypes(),
		Replay:     c.replay,
	})
	if err != nil {
		log.Tracef("dropping packet from %v: %v", from, err)
		return
	}

	switch p := p.(type) {
	case *packet.ConnectionDenied:
		c.setState(ConnectionDenied)
		c.resetSession()
		return
	case *packet.Challenge:
		c.challengeSequence = p.TokenSequence
		c.challengeData = p.TokenData
		c.lastPacketSendTime = math.Inf(-1)
		c.setState(SendingChallengeResponse)
	case *packet.KeepAlive:
		if c.state == SendingChallengeResponse {
			c.clientIndex = p.ClientIndex
			c.maxClients = p.MaxClients
			c.setConnected()
		}
	case *packet.Payload:
		// the keep-alive confirming our slot may have been lost
		if c.state == SendingChallengeResponse {
			c.setConnected()
		}
		if len(c.queue) >= c.config.PacketQueueSize {
			log.Tracef("receive queue full, dropping payload of %v bytes", len(p.Data))
		} else {
			c.queue = append(c.queue, p.Data)
		}
	case *packet.Disconnect:
		log.WithField("server", c.serverAddr).Info("server disconnected us")
		c.setState(Disconnected)
		c.resetSession()
		return
	}
	c.lastPacketRecvTime = c.time
}

func (c *Client) setConnected() {
	c.setState(Connected)
	log.WithFields(log.Fields{
		"server":      c.serverAddr,
		"clientIndex": c.clientIndex,
		"maxClients":  c.maxClients,
	}).Info("connected to server")
}

func (c *Client) sendPackets() {
	if !c.state.IsPending() && !c.state.IsConnected() {
		return
	}
	if c.time-c.lastPacketSendTime < c.config.PacketSendRate {
		return
	}
	var p packet.Packet
	switch c.state {
	case SendingConnectionRequest:
		p = packet.NewConnectionRequest(c.token)
	case SendingChallengeResponse:
		p = &packet.Response{TokenSequence: c.challengeSequence, TokenData: c.challengeData}
	case Connected:
		p = &packet.KeepAlive{}
	}
	if err := c.sendPacket(p); err != nil {
		log.Debugf("failed to send %v: %v", p.Type(), err)
	}
}

func (c *Client) sendPacket(p packet.Packet) error {
	n, err := packet.Write(p, c.buf, c.sequence, c.token.ClientToServerKey[:], c.token.ProtocolID)
	if err != nil {
		return err
	}
	if p.Type() != packet.TypeConnectionRequest {
		c.sequence++
	}
	c.lastPacketSendTime = c.time
	_, err = c.tr.Send(c.buf[:n], c.serverAddr)
	return err
}

func (c *Client) checkTimeouts() {
	if !c.state.IsPending() && !c.state.IsConnected() {
		return
	}
	if c.state.IsPending() && c.connectStartTime+c.token.Lifetime() <= c.time {
		log.WithField("server", c.serverAddr).Info("connect token expired")
		c.setState(ConnectTokenExpired)
		c.resetSession()
		return
	}

	timeout := float64(c.token.TimeoutSeconds)
	if c.token.TimeoutSeconds <= 0 || c.lastPacketRecvTime+timeout >= c.time {
		return
	}
	switch c.state {
	case SendingConnectionRequest:
		if next := c.serverIndex + 1; next < len(c.token.ServerAddrs) {
			log.WithField("server", c.serverAddr).Info("connection request timed out, trying next server")
			c.beginServer(next, c.time)
			return
		}
		log.WithField("server", c.serverAddr).Info("connection request timed out")
		c.setState(ConnectionRequestTimedOut)
	case SendingChallengeResponse:
		log.WithField("server", c.serverAddr).Info("challenge response timed out")
		c.setState(ChallengeResponseTimedOut)
	case Connected:
		log.WithField("server", c.serverAddr).Info("connection timed out")
		c.setState(ConnectionTimedOut)
	default:
		return
	}
	c.resetSession()
}

// Send sends a payload to the server. It fails unless the client is connected.
func (c *Client) Send(b []byte) error {
	if c.state != Connected {
		return ErrNotConnected
	}
	if len(b) == 0 || len(b) > packet.MaxPayloadBytes {
		return ErrPayloadSize
	}
	return c.sendPacket(&packet.Payload{Data: b})
}

// Recv pops the oldest received payload
func (c *Client) Recv() ([]byte, bool) {
	if len(c.queue) == 0 {
		return nil, false
	}
	b := c.queue[0]
	c.queue[0] = nil
	c.queue = c.queue[1:]
	return b, true
}

// Disconnect tells a connected server that we are leaving and moves to Disconnected. It does not wait.
func (c *Client) Disconnect() {
	if c.state == Connected {
		log.WithField("server", c.serverAddr).Info("disconnecting")
		for i := 0; i < c.config.NumDisconnectPackets; i++ {
			if err := c.sendPacket(&packet.Disconnect{}); err != nil {
				log.Debugf("failed to send disconnect: %v", err)
			}
		}
	}
	c.setState(Disconnected)
	c.resetSession()
}
