package transport

import (
	"errors"
	"net"
	"sync"
)

var ErrAddrInUse = errors.New("address already in use")

// MemoryNetwork delivers datagrams between endpoints in the same process. Like UDP, a datagram to an address
// nobody listens on is silently lost.
type MemoryNetwork struct {
	mu        sync.Mutex
	endpoints map[string]*MemoryTransceiver
	dropAll   bool
}

func NewMemoryNetwork() *MemoryNetwork {
	return &MemoryNetwork{endpoints: make(map[string]*MemoryTransceiver)}
}

// SetDropAll makes the network lose every datagram sent from now on
func (n *MemoryNetwork) SetDropAll(drop bool) {
	n.mu.Lock()
	n.dropAll = drop
	n.mu.Unlock()
}

// Listen attaches an endpoint at addr
func (n *MemoryNetwork) Listen(addr *net.UDPAddr) (*MemoryTransceiver, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	key := addr.String()
	if _, ok := n.endpoints[key]; ok {
		return nil, ErrAddrInUse
	}
	t := &MemoryTransceiver{network: n, addr: addr}
	n.endpoints[key] = t
	return t, nil
}

func (n *MemoryNetwork) deliver(b []byte, from, to net.Addr) {
	n.mu.Lock()
	if n.dropAll {
		n.mu.Unlock()
		return
	}
	dst, ok := n.endpoints[to.String()]
	n.mu.Unlock()
	if ok {
		dst.inbox.push(b, from)
	}
}

func (n *MemoryNetwork) detach(t *MemoryTransceiver) {
	n.mu.Lock()
	if n.endpoints[t.addr.String()] == t {
		delete(n.endpoints, t.addr.String())
	}
	n.mu.Unlock()
}

type MemoryTransceiver struct {
	network *MemoryNetwork
	addr    *net.UDPAddr
	inbox   inbox

	closeOnce sync.Once
}

func (t *MemoryTransceiver) LocalAddr() net.Addr { return t.addr }

func (t *MemoryTransceiver) Send(b []byte, addr net.Addr) (int, error) {
	t.inbox.mu.Lock()
	closed := t.inbox.closed
	t.inbox.mu.Unlock()
	if closed {
		return 0, ErrClosed
	}
	t.network.deliver(b, t.addr, addr)
	return len(b), nil
}

func (t *MemoryTransceiver) Recv(buf []byte) (int, net.Addr, error) {
	return t.inbox.pop(buf)
}

func (t *MemoryTransceiver) Close() error {
	t.closeOnce.Do(func() {
		t.network.detach(t)
		t.inbox.close()
	})
	return nil
}
