package transport

import (
	"errors"
	"net"
	"sync"
)

// Transceiver moves whole datagrams. Recv never blocks: it returns n == 0 when nothing is pending.
type Transceiver interface {
	LocalAddr() net.Addr
	Send(b []byte, addr net.Addr) (int, error)
	Recv(buf []byte) (int, net.Addr, error)
	Close() error
}

// InboxLimit is the number of datagrams an implementation holds before it starts dropping new arrivals
const InboxLimit = 1024

// readBufferSize is larger than any valid packet so oversized datagrams reach the protocol layer and get rejected
// there instead of being silently truncated here
const readBufferSize = 2048

var (
	ErrClosed = errors.New("transceiver closed")
	// ErrBufferTooSmall is returned by Recv when the next datagram does not fit. The datagram is discarded.
	ErrBufferTooSmall = errors.New("buffer is too small for datagram")
)

type datagram struct {
	data []byte
	from net.Addr
}

// inbox is a bounded, non-blocking queue of datagrams. Writers are reader goroutines owned by a transceiver;
// the single consumer is whoever polls Recv.
type inbox struct {
	mu      sync.Mutex
	queue   []datagram
	closed  bool
	dropped uint64
}

func (d *inbox) push(b []byte, from net.Addr) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed || len(d.queue) >= InboxLimit {
		d.dropped++
		return false
	}
	data := make([]byte, len(b))
	copy(data, b)
	d.queue = append(d.queue, datagram{data, from})
	return true
}

func (d *inbox) pop(buf []byte) (int, net.Addr, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.queue) == 0 {
		if d.closed {
			return 0, nil, ErrClosed
		}
		return 0, nil, nil
	}
	dg := d.queue[0]
	d.queue[0] = datagram{}
	d.queue = d.queue[1:]
	if len(buf) < len(dg.data) {
		return 0, dg.from, ErrBufferTooSmall
	}
	return copy(buf, dg.data), dg.from, nil
}

func (d *inbox) close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
}

func (d *inbox) droppedCount() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dropped
}
