package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

// WebSocketConn implements net.Conn over a websocket.Conn. Each Write is one binary message and each Read
// returns one whole message.
type WebSocketConn struct {
	*websocket.Conn
	writeM sync.Mutex
}

func (ws *WebSocketConn) Write(data []byte) (int, error) {
	ws.writeM.Lock()
	err := ws.WriteMessage(websocket.BinaryMessage, data)
	ws.writeM.Unlock()
	if err != nil {
		return 0, err
	}
	return len(data), nil
}

// Read returns 0, nil for a non-binary message. A message too large for buf is read to its end and discarded, and
// Read returns ErrBufferTooSmall.
func (ws *WebSocketConn) Read(buf []byte) (n int, err error) {
	t, r, err := ws.NextReader()
	if err != nil {
		return 0, err
	}
	if t != websocket.BinaryMessage {
		return 0, nil
	}

	for {
		var read int
		read, err = r.Read(buf[n:])
		n += read
		if err != nil {
			if err == io.EOF {
				err = nil
			}
			return
		}
		if n == len(buf) {
			// the message may still have more in it
			if extra, _ := r.Read(make([]byte, 1)); extra != 0 {
				if _, err := io.Copy(io.Discard, r); err != nil {
					return 0, err
				}
				return 0, ErrBufferTooSmall
			}
			return
		}
	}
}

func (ws *WebSocketConn) Close() error {
	ws.writeM.Lock()
	defer ws.writeM.Unlock()
	return ws.Conn.Close()
}

func (ws *WebSocketConn) SetDeadline(t time.Time) error {
	if err := ws.SetReadDeadline(t); err != nil {
		return err
	}
	return ws.SetWriteDeadline(t)
}

// DialWebSocket connects to a WebSocketListener at url. Datagrams received are attributed to peer, which should be
// the server address listed in the connect token.
func DialWebSocket(ctx context.Context, url string, peer net.Addr) (*ConnTransceiver, error) {
	c, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial websocket: %w", err)
	}
	return NewConnTransceiver(&WebSocketConn{Conn: c}, peer), nil
}

var ErrUnknownPeer = errors.New("no websocket connection to this address")

// WebSocketListener is a Transceiver that accepts clients as an http.Handler. Each upgraded connection is a peer
// identified by its remote address.
type WebSocketListener struct {
	addr     net.Addr
	upgrader websocket.Upgrader
	inbox    inbox

	connsM sync.RWMutex
	conns  map[string]*WebSocketConn
	closed bool
}

// NewWebSocketListener creates a listener reporting addr as its LocalAddr. Mount it on an http server.
func NewWebSocketListener(addr net.Addr) *WebSocketListener {
	return &WebSocketListener{
		addr: addr,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  readBufferSize,
			WriteBufferSize: readBufferSize,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		conns: make(map[string]*WebSocketConn),
	}
}

func (l *WebSocketListener) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Errorf("failed to upgrade connection to ws: %v", err)
		return
	}
	conn := &WebSocketConn{Conn: c}
	remote := conn.RemoteAddr()

	l.connsM.Lock()
	if l.closed {
		l.connsM.Unlock()
		conn.Close()
		return
	}
	if old, ok := l.conns[remote.String()]; ok {
		old.Close()
	}
	l.conns[remote.String()] = conn
	l.connsM.Unlock()
	log.WithField("remoteAddr", remote).Debug("websocket peer connected")

	go l.readLoop(conn, remote)
}

func (l *WebSocketListener) readLoop(conn *WebSocketConn, remote net.Addr) {
	defer func() {
		l.connsM.Lock()
		if l.conns[remote.String()] == conn {
			delete(l.conns, remote.String())
		}
		l.connsM.Unlock()
		conn.Close()
		log.WithField("remoteAddr", remote).Debug("websocket peer gone")
	}()
	buf := make([]byte, readBufferSize)
	for {
		n, err := conn.Read(buf)
		if errors.Is(err, ErrBufferTooSmall) {
			log.Tracef("dropping oversized message from %v", remote)
			continue
		}
		if err != nil {
			return
		}
		if n > 0 && !l.inbox.push(buf[:n], remote) {
			log.Tracef("inbox full, dropping %v bytes from %v", n, remote)
		}
	}
}

func (l *WebSocketListener) LocalAddr() net.Addr { return l.addr }

func (l *WebSocketListener) Send(b []byte, addr net.Addr) (int, error) {
	l.connsM.RLock()
	conn, ok := l.conns[addr.String()]
	l.connsM.RUnlock()
	if !ok {
		return 0, ErrUnknownPeer
	}
	return conn.Write(b)
}

func (l *WebSocketListener) Recv(buf []byte) (int, net.Addr, error) {
	return l.inbox.pop(buf)
}

// NumPeers is the number of open websocket connections
func (l *WebSocketListener) NumPeers() int {
	l.connsM.RLock()
	defer l.connsM.RUnlock()
	return len(l.conns)
}

func (l *WebSocketListener) Close() error {
	l.connsM.Lock()
	l.closed = true
	for k, conn := range l.conns {
		conn.Close()
		delete(l.conns, k)
	}
	l.connsM.Unlock()
	l.inbox.close()
	return nil
}
