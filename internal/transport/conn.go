package transport

import (
	"errors"
	"io"
	"net"

	log "github.com/sirupsen/logrus"
)

// ConnTransceiver carries datagrams over a connected, message-oriented net.Conn such as a WebSocketConn. Each Read
// of the conn is taken as one datagram.
//
// Every datagram received is reported as coming from peer, and Send ignores its destination. This lets a client
// keep addressing the server by the address in its connect token whatever the conn's real remote address is.
type ConnTransceiver struct {
	conn  net.Conn
	peer  net.Addr
	inbox inbox
}

// NewConnTransceiver starts reading conn. A nil peer means conn.RemoteAddr().
func NewConnTransceiver(conn net.Conn, peer net.Addr) *ConnTransceiver {
	if peer == nil {
		peer = conn.RemoteAddr()
	}
	t := &ConnTransceiver{conn: conn, peer: peer}
	go t.readLoop()
	return t
}

func (t *ConnTransceiver) readLoop() {
	buf := make([]byte, readBufferSize)
	for {
		n, err := t.conn.Read(buf)
		if errors.Is(err, ErrBufferTooSmall) {
			log.Tracef("dropping oversized datagram from %v", t.peer)
			continue
		}
		if n > 0 {
			if !t.inbox.push(buf[:n], t.peer) {
				log.Tracef("inbox full, dropping %v bytes", n)
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) && !errors.Is(err, io.ErrClosedPipe) {
				log.Debugf("conn read error: %v", err)
			}
			t.inbox.close()
			return
		}
	}
}

func (t *ConnTransceiver) LocalAddr() net.Addr { return t.conn.LocalAddr() }

// Peer is the address incoming datagrams are attributed to
func (t *ConnTransceiver) Peer() net.Addr { return t.peer }

func (t *ConnTransceiver) Send(b []byte, _ net.Addr) (int, error) {
	return t.conn.Write(b)
}

func (t *ConnTransceiver) Recv(buf []byte) (int, net.Addr, error) {
	return t.inbox.pop(buf)
}

func (t *ConnTransceiver) Close() error {
	t.inbox.close()
	return t.conn.Close()
}
