package server

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/cbeuw/netcode/internal/common"
	"github.com/cbeuw/netcode/internal/packet"
	"github.com/cbeuw/netcode/internal/token"
	"github.com/cbeuw/netcode/internal/transport"
	log "github.com/sirupsen/logrus"
)

var (
	ErrInvalidSlot = errors.New("client index does not refer to a connected client")
	ErrPayloadSize = packet.ErrPayloadSize
)

// ClientIndex is a handle on a connected client. Generation changes every time the slot is recycled, so a handle
// kept past a disconnect stops working instead of addressing whoever takes the slot next.
type ClientIndex struct {
	Index      int
	Generation uint32
}

type clientSlot struct {
	connected  bool
	confirmed  bool
	generation uint32

	clientID       uint64
	addr           net.Addr
	sendKey        [token.KeyBytes]byte
	recvKey        [token.KeyBytes]byte
	userData       [token.UserDataBytes]byte
	timeoutSeconds int32

	lastSendTime float64
	lastRecvTime float64
	sequence     uint64
	replay       *packet.ReplayProtection
	use          *tokenUse
}

// Server owns MaxClients slots and hands them out to clients presenting valid connect tokens. Like Client it is
// driven entirely by its caller and must be used from a single goroutine.
type Server struct {
	config Config
	tr     transport.Transceiver
	addr   *net.UDPAddr
	valve  *Valve

	time float64

	slots        []clientSlot
	slotByAddr   map[string]int
	numConnected int

	encryption *encryptionManager
	history    *tokenHistory

	challengeKey      [token.KeyBytes]byte
	challengeSequence uint64
	globalSequence    uint64

	buf []byte
}

// MakeServer creates a server receiving through tr. The transceiver must be able to report a UDP address unless
// config.PublicAddr is set.
func MakeServer(tr transport.Transceiver, config Config) (*Server, error) {
	config = config.withDefaults()
	if config.MaxClients < 1 {
		return nil, errors.New("MaxClients must be positive")
	}
	addr := config.PublicAddr
	if addr == nil {
		var ok bool
		addr, ok = tr.LocalAddr().(*net.UDPAddr)
		if !ok {
			return nil, fmt.Errorf("cannot use %v as the server's public address", tr.LocalAddr())
		}
	}

	s := &Server{
		config:     config,
		tr:         tr,
		addr:       addr,
		slots:      make([]clientSlot, config.MaxClients),
		slotByAddr: make(map[string]int),
		encryption: newEncryptionManager(4 * config.MaxClients),
		history:    newTokenHistory(8 * config.MaxClients),
		buf:        make([]byte, packet.MaxPacketBytes+1),
	}
	s.challengeKey = common.GenerateKey(config.World.Rand)
	// the request bucket runs on the time given to Update, not the wall clock
	s.valve = MakeValve(config.ConnectRequestRate, common.Clock{World: common.WorldState{
		Rand: config.World.Rand,
		Now:  s.clock,
	}})
	log.WithFields(log.Fields{
		"addr":       addr,
		"maxClients": config.MaxClients,
	}).Info("server started")
	return s, nil
}

func (s *Server) clock() time.Time {
	return time.Unix(0, 0).Add(time.Duration(s.time * float64(time.Second)))
}

func (s *Server) Addr() net.Addr           { return s.addr }
func (s *Server) MaxClients() int          { return s.config.MaxClients }
func (s *Server) NumConnectedClients() int { return s.numConnected }

// Traffic returns the bytes received and sent since the server started
func (s *Server) Traffic() (rx, tx int64) { return s.valve.GetRx(), s.valve.GetTx() }

// Valve exposes the server's traffic counters
func (s *Server) Valve() *Valve { return s.valve }

// Token mints a connect token for this server alone
func (s *Server) Token(clientID uint64, userData []byte) (*token.ConnectToken, error) {
	return token.Generate(s.config.World, token.Params{
		ServerAddrs:    []*net.UDPAddr{s.addr},
		ProtocolID:     s.config.ProtocolID,
		ClientID:       clientID,
		PrivateKey:     s.config.PrivateKey,
		TimeoutSeconds: s.config.TokenTimeoutSeconds,
		ExpireSeconds:  s.config.TokenExpireSeconds,
		UserData:       userData,
	})
}

func (s *Server) slot(idx ClientIndex) (*clientSlot, bool) {
	if idx.Index < 0 || idx.Index >= len(s.slots) {
		return nil, false
	}
	slot := &s.slots[idx.Index]
	if !slot.connected || slot.generation != idx.Generation {
		return nil, false
	}
	return slot, true
}

func (s *Server) indexOf(i int) ClientIndex {
	return ClientIndex{Index: i, Generation: s.slots[i].generation}
}

// ConnectedClients lists the handles of every connected client
func (s *Server) ConnectedClients() []ClientIndex {
	var ret []ClientIndex
	for i := range s.slots {
		if s.slots[i].connected {
			ret = append(ret, s.indexOf(i))
		}
	}
	return ret
}

func (s *Server) ClientID(idx ClientIndex) (uint64, bool) {
	slot, ok := s.slot(idx)
	if !ok {
		return 0, false
	}
	return slot.clientID, true
}

func (s *Server) ClientAddr(idx ClientIndex) (net.Addr, bool) {
	slot, ok := s.slot(idx)
	if !ok {
		return nil, false
	}
	return slot.addr, true
}

func (s *Server) ClientUserData(idx ClientIndex) ([]byte, bool) {
	slot, ok := s.slot(idx)
	if !ok {
		return nil, false
	}
	ret := make([]byte, token.UserDataBytes)
	copy(ret, slot.userData[:])
	return ret, true
}

func (s *Server) findByClientID(clientID uint64) bool {
	for i := range s.slots {
		if s.slots[i].connected && s.slots[i].clientID == clientID {
			return true
		}
	}
	return false
}

func (s *Server) findByAddr(addr net.Addr) (int, bool) {
	i, ok := s.slotByAddr[addr.String()]
	return i, ok
}

func (s *Server) freeSlot() (int, bool) {
	for i := range s.slots {
		if !s.slots[i].connected {
			return i, true
		}
	}
	return 0, false
}

func (s *Server) send(b []byte, addr net.Addr) {
	n, err := s.tr.Send(b, addr)
	if err != nil {
		log.Tracef("failed to send to %v: %v", addr, err)
		return
	}
	s.valve.AddTx(int64(n))
}

// sendToSlot seals p under the slot's keys and sequence
func (s *Server) sendToSlot(i int, p packet.Packet) error {
	slot := &s.slots[i]
	n, err := packet.Write(p, s.buf, slot.sequence, slot.sendKey[:], s.config.ProtocolID)
	if err != nil {
		return err
	}
	slot.sequence++
	slot.lastSendTime = s.time
	s.send(s.buf[:n], slot.addr)
	return nil
}

// sendGlobal seals p under sendKey with the server's global sequence. It is used for addresses that have no slot.
func (s *Server) sendGlobal(p packet.Packet, sendKey []byte, addr net.Addr) {
	n, err := packet.Write(p, s.buf, s.globalSequence, sendKey, s.config.ProtocolID)
	if err != nil {
		log.Debugf("failed to write %v: %v", p.Type(), err)
		return
	}
	s.globalSequence++
	s.send(s.buf[:n], addr)
}

func (s *Server) keepAlive(i int) *packet.KeepAlive {
	return &packet.KeepAlive{ClientIndex: uint32(i), MaxClients: uint32(s.config.MaxClients)}
}

func (s *Server) recycle(i int) {
	slot := &s.slots[i]
	delete(s.slotByAddr, slot.addr.String())
	if slot.use != nil {
		slot.use.sequence = slot.sequence
	}
	*slot = clientSlot{generation: slot.generation + 1}
	s.numConnected--
}

// Update advances the server's clock to time, times out silent clients, sends keep-alives that are due and
// forgets stale handshake state. It does not read the transceiver.
func (s *Server) Update(time float64) {
	s.time = time
	for i := range s.slots {
		slot := &s.slots[i]
		if !slot.connected {
			continue
		}
		if slot.timeoutSeconds > 0 && slot.lastRecvTime+float64(slot.timeoutSeconds) < time {
			log.WithFields(log.Fields{
				"clientID":   slot.clientID,
				"remoteAddr": slot.addr,
			}).Info("client timed out")
			s.recycle(i)
			continue
		}
		if time-slot.lastSendTime >= s.config.PacketSendRate {
			if err := s.sendToSlot(i, s.keepAlive(i)); err != nil {
				log.Debugf("failed to send keep-alive: %v", err)
			}
		}
	}
	s.encryption.purge(time)
	s.history.purge(time)
}

// Recv processes datagrams until one of them is a payload from a connected client, which it returns. It returns
// false once the transceiver has nothing more.
func (s *Server) Recv() ([]byte, ClientIndex, bool) {
	for {
		n, from, err := s.tr.Recv(s.buf)
		if errors.Is(err, transport.ErrBufferTooSmall) {
			log.Tracef("dropping oversized datagram from %v", from)
			continue
		}
		if err != nil {
			log.Tracef("server transceiver: %v", err)
			return nil, ClientIndex{}, false
		}
		if n == 0 {
			return nil, ClientIndex{}, false
		}
		s.valve.AddRx(int64(n))
		raw := make([]byte, n)
		copy(raw, s.buf[:n])
		if data, idx, ok := s.processPacket(raw, from); ok {
			return data, idx, true
		}
	}
}

func (s *Server) processPacket(buf []byte, from net.Addr) ([]byte, ClientIndex, bool) {
	if i, ok := s.findByAddr(from); ok {
		return s.processSlotPacket(i, buf, from)
	}

	opts := packet.ReadOptions{
		ProtocolID: s.config.ProtocolID,
		Now:        uint64(s.config.World.Now().Unix()),
		Allowed:    packet.Allow(packet.TypeConnectionRequest),
	}
	if m, ok := s.encryption.find(from, s.time); ok {
		opts.Key = m.recvKey[:]
		opts.Allowed = packet.Allow(packet.TypeConnectionRequest, packet.TypeResponse)
	}
	p, _, err := packet.Read(buf, opts)
	if err != nil {
		log.Tracef("dropping packet from %v: %v", from, err)
		return nil, ClientIndex{}, false
	}
	switch p := p.(type) {
	case *packet.ConnectionRequest:
		s.processConnectionRequest(p, from)
	case *packet.Response:
		s.processResponse(p, from)
	}
	return nil, ClientIndex{}, false
}

func (s *Server) processSlotPacket(i int, buf []byte, from net.Addr) ([]byte, ClientIndex, bool) {
	slot := &s.slots[i]
	p, _, err := packet.Read(buf, packet.ReadOptions{
		ProtocolID: s.config.ProtocolID,
		Key:        slot.recvKey[:],
		Allowed:    packet.Allow(packet.TypeKeepAlive, packet.TypePayload, packet.TypeDisconnect),
		Replay:     slot.replay,
	})
	if err != nil {
		log.Tracef("dropping packet from client %v: %v", from, err)
		return nil, ClientIndex{}, false
	}
	switch p := p.(type) {
	case *packet.KeepAlive:
		s.touch(i)
	case *packet.Payload:
		s.touch(i)
		return p.Data, s.indexOf(i), true
	case *packet.Disconnect:
		log.WithFields(log.Fields{
			"clientID":   slot.clientID,
			"remoteAddr": from,
		}).Info("client disconnected")
		s.recycle(i)
	}
	return nil, ClientIndex{}, false
}

func (s *Server) touch(i int) {
	slot := &s.slots[i]
	slot.lastRecvTime = s.time
	if !slot.confirmed {
		log.WithField("clientID", slot.clientID).Debug("client confirmed")
		slot.confirmed = true
	}
}

// Send sends a payload to a connected client. Until the client has shown it knows its slot, every payload is
// preceded by a keep-alive carrying the slot index.
func (s *Server) Send(b []byte, idx ClientIndex) error {
	slot, ok := s.slot(idx)
	if !ok {
		return ErrInvalidSlot
	}
	if len(b) == 0 || len(b) > packet.MaxPayloadBytes {
		return ErrPayloadSize
	}
	if !slot.confirmed {
		if err := s.sendToSlot(idx.Index, s.keepAlive(idx.Index)); err != nil {
			return err
		}
	}
	return s.sendToSlot(idx.Index, &packet.Payload{Data: b})
}

// SendAll sends a payload to every connected client. A failure for one client does not stop the others.
func (s *Server) SendAll(b []byte) error {
	var errs []error
	for _, idx := range s.ConnectedClients() {
		if err := s.Send(b, idx); err != nil {
			errs = append(errs, fmt.Errorf("client %v: %w", idx.Index, err))
		}
	}
	return errors.Join(errs...)
}

// Disconnect sends a burst of disconnect packets to a client and frees its slot
func (s *Server) Disconnect(idx ClientIndex) error {
	slot, ok := s.slot(idx)
	if !ok {
		return ErrInvalidSlot
	}
	log.WithFields(log.Fields{
		"clientID":   slot.clientID,
		"remoteAddr": slot.addr,
	}).Info("disconnecting client")
	for j := 0; j < s.config.NumDisconnectPackets; j++ {
		if err := s.sendToSlot(idx.Index, &packet.Disconnect{}); err != nil {
			log.Debugf("failed to send disconnect: %v", err)
		}
	}
	s.recycle(idx.Index)
	return nil
}

func (s *Server) DisconnectAll() {
	for _, idx := range s.ConnectedClients() {
		_ = s.Disconnect(idx)
	}
}
