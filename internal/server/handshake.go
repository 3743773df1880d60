package server

import (
	"net"

	"github.com/cbeuw/netcode/internal/packet"
	"github.com/cbeuw/netcode/internal/token"
	log "github.com/sirupsen/logrus"
)

func (s *Server) processConnectionRequest(req *packet.ConnectionRequest, from net.Addr) {
	if !s.valve.AllowRequest() {
		log.Tracef("connection request from %v rate limited", from)
		return
	}

	private, err := token.OpenPrivate(req.PrivateData[:], req.ProtocolID, req.ExpireTimestamp, req.Nonce[:], s.config.PrivateKey[:])
	if err != nil {
		log.Tracef("connection request from %v: bad connect token: %v", from, err)
		return
	}
	if !token.HasAddress(private.ServerAddrs, s.addr) {
		log.Tracef("connection request from %v: token is not for %v", from, s.addr)
		return
	}
	if _, ok := s.findByAddr(from); ok {
		log.Tracef("connection request from %v: address already connected", from)
		return
	}
	if s.findByClientID(private.ClientID) {
		log.Tracef("connection request from %v: client %v already connected", from, private.ClientID)
		return
	}

	now := uint64(s.config.World.Now().Unix())
	expireTime := s.time + float64(req.ExpireTimestamp) - float64(now)
	use, ok := s.history.register(token.PrivateMAC(req.PrivateData[:]), from, expireTime, s.time)
	if !ok {
		log.Debugf("connection request from %v: connect token in use from another address, or no room to track it", from)
		return
	}

	mapping := &encryptionMapping{
		addr:           from,
		sendKey:        private.ServerToClientKey,
		recvKey:        private.ClientToServerKey,
		timeoutSeconds: private.TimeoutSeconds,
		expireTime:     expireTime,
		lastAccessTime: s.time,
		use:            use,
	}
	if !s.encryption.add(mapping, s.time) {
		log.Debugf("connection request from %v: no room for another pending client", from)
		return
	}

	if s.numConnected >= s.config.MaxClients {
		log.WithFields(log.Fields{
			"clientID":   private.ClientID,
			"remoteAddr": from,
		}).Debug("server full, denying connection request")
		s.sendGlobal(&packet.ConnectionDenied{}, mapping.sendKey[:], from)
		return
	}

	challenge := &token.Challenge{ClientID: private.ClientID, UserData: private.UserData}
	sealed, err := token.SealChallenge(challenge, s.challengeSequence, s.challengeKey[:])
	if err != nil {
		log.Errorf("failed to seal challenge token: %v", err)
		return
	}
	p := &packet.Challenge{TokenSequence: s.challengeSequence, TokenData: sealed}
	s.challengeSequence++
	s.sendGlobal(p, mapping.sendKey[:], from)
}

func (s *Server) processResponse(resp *packet.Response, from net.Addr) {
	challenge, err := token.OpenChallenge(resp.TokenData[:], resp.TokenSequence, s.challengeKey[:])
	if err != nil {
		log.Tracef("challenge response from %v: %v", from, err)
		return
	}
	mapping, ok := s.encryption.find(from, s.time)
	if !ok {
		return
	}
	if s.findByClientID(challenge.ClientID) {
		log.Tracef("challenge response from %v: client %v already connected", from, challenge.ClientID)
		return
	}

	i, ok := s.freeSlot()
	if !ok {
		log.WithFields(log.Fields{
			"clientID":   challenge.ClientID,
			"remoteAddr": from,
		}).Debug("server full, denying challenge response")
		s.sendGlobal(&packet.ConnectionDenied{}, mapping.sendKey[:], from)
		return
	}

	slot := &s.slots[i]
	slot.connected = true
	slot.confirmed = false
	slot.clientID = challenge.ClientID
	slot.addr = from
	slot.sendKey = mapping.sendKey
	slot.recvKey = mapping.recvKey
	slot.userData = challenge.UserData
	slot.timeoutSeconds = mapping.timeoutSeconds
	slot.lastRecvTime = s.time
	slot.use = mapping.use
	slot.sequence = mapping.use.sequence
	slot.replay = mapping.use.replay
	s.slotByAddr[from.String()] = i
	s.numConnected++
	s.encryption.remove(from)

	log.WithFields(log.Fields{
		"clientID":    challenge.ClientID,
		"remoteAddr":  from,
		"clientIndex": i,
	}).Info("client connected")

	if err := s.sendToSlot(i, s.keepAlive(i)); err != nil {
		log.Debugf("failed to send keep-alive: %v", err)
	}
}
