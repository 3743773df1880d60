package server

import (
	"net"

	"github.com/cbeuw/netcode/internal/packet"
	"github.com/cbeuw/netcode/internal/token"
)

// encryptionMapping holds the keys for an address that has sent a valid connection request but has not been given a
// slot yet
type encryptionMapping struct {
	addr           net.Addr
	sendKey        [token.KeyBytes]byte
	recvKey        [token.KeyBytes]byte
	timeoutSeconds int32
	expireTime     float64
	lastAccessTime float64
	use            *tokenUse
}

func (m *encryptionMapping) expired(now float64) bool {
	if m.expireTime <= now {
		return true
	}
	return m.timeoutSeconds > 0 && m.lastAccessTime+float64(m.timeoutSeconds) < now
}

type encryptionManager struct {
	limit    int
	mappings map[string]*encryptionMapping
}

func newEncryptionManager(limit int) *encryptionManager {
	return &encryptionManager{limit: limit, mappings: make(map[string]*encryptionMapping)}
}

// add creates or refreshes the mapping for m.addr. It fails when the table is full of live mappings.
func (e *encryptionManager) add(m *encryptionMapping, now float64) bool {
	key := m.addr.String()
	if _, ok := e.mappings[key]; !ok && len(e.mappings) >= e.limit {
		e.purge(now)
		if len(e.mappings) >= e.limit {
			return false
		}
	}
	e.mappings[key] = m
	return true
}

func (e *encryptionManager) find(addr net.Addr, now float64) (*encryptionMapping, bool) {
	m, ok := e.mappings[addr.String()]
	if !ok {
		return nil, false
	}
	if m.expired(now) {
		delete(e.mappings, addr.String())
		return nil, false
	}
	m.lastAccessTime = now
	return m, true
}

func (e *encryptionManager) remove(addr net.Addr) {
	delete(e.mappings, addr.String())
}

func (e *encryptionManager) purge(now float64) {
	for key, m := range e.mappings {
		if m.expired(now) {
			delete(e.mappings, key)
		}
	}
}

func (e *encryptionManager) len() int { return len(e.mappings) }

// tokenUse is what the server remembers about a connect token. The send sequence and receive replay window
// outlive any one connection made with the token.
type tokenUse struct {
	addr       net.Addr
	expireTime float64
	sequence   uint64
	replay     *packet.ReplayProtection
}

// tokenHistory remembers which address each connect token was first presented from, so a token seen on the wire
// cannot be replayed from somewhere else. Tokens are identified by the MAC of their private segment.
type tokenHistory struct {
	limit int
	used  map[[token.MACBytes]byte]*tokenUse
}

func newTokenHistory(limit int) *tokenHistory {
	return &tokenHistory{limit: limit, used: make(map[[token.MACBytes]byte]*tokenUse)}
}

// register returns the record of a token presented from addr, creating it if the token is new. It fails if the
// token is in use from another address, or if the history is full of tokens that have not expired yet.
func (h *tokenHistory) register(mac [token.MACBytes]byte, addr net.Addr, expireTime, now float64) (*tokenUse, bool) {
	if prev, ok := h.used[mac]; ok && prev.expireTime > now {
		if !token.AddrEqual(prev.addr, addr) {
			return nil, false
		}
		return prev, true
	}
	if len(h.used) >= h.limit {
		h.purge(now)
		if len(h.used) >= h.limit {
			return nil, false
		}
	}
	u := &tokenUse{addr: addr, expireTime: expireTime, replay: packet.NewReplayProtection()}
	h.used[mac] = u
	return u, true
}

func (h *tokenHistory) purge(now float64) {
	for mac, u := range h.used {
		if u.expireTime <= now {
			delete(h.used, mac)
		}
	}
}

func (h *tokenHistory) len() int { return len(h.used) }
