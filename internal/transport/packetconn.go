package transport

import (
	"errors"
	"net"

	log "github.com/sirupsen/logrus"
)

// PacketTransceiver wraps a net.PacketConn, typically a UDP socket. A goroutine reads the socket into an inbox
// so Recv can be polled.
type PacketTransceiver struct {
	conn  net.PacketConn
	inbox inbox
}

func NewPacketTransceiver(conn net.PacketConn) *PacketTransceiver {
	t := &PacketTransceiver{conn: conn}
	go t.readLoop()
	return t
}

// ListenUDP binds a UDP socket on addr, e.g. "0.0.0.0:40000" or ":0"
func ListenUDP(addr string) (*PacketTransceiver, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, err
	}
	return NewPacketTransceiver(conn), nil
}

func (t *PacketTransceiver) readLoop() {
	buf := make([]byte, readBufferSize)
	for {
		n, addr, err := t.conn.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				t.inbox.close()
				return
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			log.Debugf("packet conn read error: %v", err)
			t.inbox.close()
			return
		}
		if !t.inbox.push(buf[:n], addr) {
			log.Tracef("inbox full, dropping %v bytes from %v", n, addr)
		}
	}
}

func (t *PacketTransceiver) LocalAddr() net.Addr { return t.conn.LocalAddr() }

func (t *PacketTransceiver) Send(b []byte, addr net.Addr) (int, error) {
	return t.conn.WriteTo(b, addr)
}

func (t *PacketTransceiver) Recv(buf []byte) (int, net.Addr, error) {
	return t.inbox.pop(buf)
}

// Dropped is the number of datagrams discarded because the inbox was full
func (t *PacketTransceiver) Dropped() uint64 { return t.inbox.droppedCount() }

func (t *PacketTransceiver) Close() error {
	t.inbox.close()
	return t.conn.Close()
}
