package ws

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/srogmann/TcpIpProxy/internal/httpheader"
	"github.com/srogmann/TcpIpProxy/internal/proxyerr"
)

// outgoingPollInterval is the writer goroutine's bounded wait on the
// outgoing-message queue, matching WebSocketServer.java's 200 ms poll.
const outgoingPollInterval = 200 * time.Millisecond

// ServerConn is a server-side WebSocket connection after a completed
// upgrade. It never masks outgoing frames and expects masked incoming ones.
type ServerConn struct {
	conn net.Conn

	outgoing chan []byte
	active   atomicBool

	closeOnce sync.Once
	onClose   func()
	onError   func(error)
}

type atomicBool struct {
	mu sync.Mutex
	v  bool
}

func (a *atomicBool) set(v bool) { a.mu.Lock(); a.v = v; a.mu.Unlock() }
func (a *atomicBool) get() bool  { a.mu.Lock(); defer a.mu.Unlock(); return a.v }

// UpgradeFromRequest validates a WebSocket upgrade request and, on success,
// writes the 101 response directly to conn and returns a ServerConn ready
// to run. On failure it writes an appropriate error response and returns an
// error; the caller should then close conn.
func UpgradeFromRequest(conn net.Conn, rw io.ReadWriter, method string, headers *httpheader.Bag) (*ServerConn, error) {
	if !strings.EqualFold(method, http.MethodGet) {
		writeBadRequest(rw)
		return nil, proxyerr.New(proxyerr.ErrCodeHandshakeRejected, "upgrade requires GET", nil)
	}
	upgradeVal, _ := headers.First("Upgrade")
	if !strings.EqualFold(strings.TrimSpace(upgradeVal), "websocket") {
		writeBadRequest(rw)
		return nil, proxyerr.New(proxyerr.ErrCodeHandshakeRejected, "missing or wrong Upgrade header", nil)
	}
	key, ok := headers.First("Sec-websocket-key")
	if !ok || strings.TrimSpace(key) == "" {
		writeBadRequest(rw)
		return nil, proxyerr.New(proxyerr.ErrCodeHandshakeRejected, "missing Sec-WebSocket-Key", nil)
	}

	accept := ComputeAccept(key)
	resp := "HTTP/1.1 101 Switching Protocols\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: keep-alive, Upgrade\r\n" +
		"Sec-WebSocket-Accept: " + accept + "\r\n\r\n"
	if _, err := io.WriteString(rw, resp); err != nil {
		return nil, err
	}
	if f, ok := rw.(interface{ Flush() error }); ok {
		_ = f.Flush()
	}

	return &ServerConn{conn: conn, outgoing: make(chan []byte, 64)}, nil
}

func writeBadRequest(w io.Writer) {
	_, _ = io.WriteString(w, "HTTP/1.1 400 Bad Request\r\nConnection: close\r\n\r\n")
	if f, ok := w.(interface{ Flush() error }); ok {
		_ = f.Flush()
	}
}

// OnClose/OnError register lifecycle hooks invoked by Run's reader loop.
func (c *ServerConn) OnClose(fn func())    { c.onClose = fn }
func (c *ServerConn) OnError(fn func(err error)) { c.onError = fn }

// Send enqueues a text payload to be written by the writer loop.
func (c *ServerConn) Send(payload []byte) {
	c.outgoing <- payload
}

// Run starts the reader loop (blocking) and the writer loop (goroutine).
// recv is invoked for each decoded text payload. Run returns when the
// connection closes, after the close hook has fired exactly once.
func (c *ServerConn) Run(recv func([]byte)) {
	c.active.set(true)
	go c.writerLoop()
	defer c.shutdown()

	for {
		frame, err := ReadFrame(c.conn)
		if err != nil {
			if c.onError != nil {
				c.onError(err)
			}
			return
		}
		switch frame.Opcode {
		case OpClose:
			return
		case OpPing:
			_ = WriteFrame(c.conn, OpPong, frame.Payload, false)
		case OpPong:
			// no-op
		case OpText:
			recv(frame.Payload)
		default:
			if c.onError != nil {
				c.onError(fmt.Errorf("%w: %d", ErrUnsupportedOpcode, frame.Opcode))
			}
			return
		}
	}
}

func (c *ServerConn) writerLoop() {
	ticker := time.NewTicker(outgoingPollInterval)
	defer ticker.Stop()
	for {
		select {
		case payload, ok := <-c.outgoing:
			if !ok {
				return
			}
			if err := WriteFrame(c.conn, OpText, payload, false); err != nil {
				return
			}
		case <-ticker.C:
			if !c.active.get() {
				// Drain whatever is queued one last time, then stop.
				for {
					select {
					case payload := <-c.outgoing:
						_ = WriteFrame(c.conn, OpText, payload, false)
					default:
						return
					}
				}
			}
		}
	}
}

// Close performs the close handshake and shuts the connection down. It is
// idempotent.
func (c *ServerConn) Close() error {
	err := WriteFrame(c.conn, OpClose, nil, false)
	c.shutdown()
	return err
}

// shutdown fires the close hook and closes the underlying socket exactly
// once, matching WebSocketServer.java's close(): `finally { socket.close(); }`.
func (c *ServerConn) shutdown() {
	c.closeOnce.Do(func() {
		c.active.set(false)
		if c.onClose != nil {
			c.onClose()
		}
		_ = c.conn.Close()
	})
}
