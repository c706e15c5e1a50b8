package ws

import (
	"bufio"
	"crypto/rand"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/srogmann/TcpIpProxy/internal/proxyerr"
)

// Client is a client-side WebSocket connection. It always masks outgoing
// frames, using a single random key generated once at connect time, and
// treats any non-text data frame as a fatal protocol error — a known,
// deliberate limitation carried over from the original implementation (see
// spec.md section 9's "Observed issues").
type Client struct {
	conn    net.Conn
	br      *bufio.Reader
	maskKey [4]byte
}

// Dial performs the WebSocket handshake over a pre-established TCP
// connection to host:path, then returns a ready-to-use Client.
func Dial(conn net.Conn, host, path, origin string) (*Client, error) {
	key, err := GenerateKey()
	if err != nil {
		return nil, err
	}

	req := "GET " + path + " HTTP/1.1\r\n" +
		"Host: " + host + "\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: keep-alive, Upgrade\r\n" +
		"Sec-WebSocket-Version: 13\r\n" +
		"Sec-WebSocket-Key: " + key + "\r\n" +
		"Origin: " + origin + "\r\n\r\n"
	if _, err := io.WriteString(conn, req); err != nil {
		return nil, err
	}

	br := bufio.NewReader(conn)
	statusLine, err := readLine(br)
	if err != nil {
		return nil, err
	}
	parts := strings.SplitN(statusLine, " ", 3)
	if len(parts) < 2 || parts[1] != "101" {
		body, _ := io.ReadAll(br)
		return nil, proxyerr.New(proxyerr.ErrCodeHandshakeRejected,
			fmt.Sprintf("expected 101, got %q; body=%q", statusLine, body), nil)
	}

	headers := map[string]string{}
	for {
		line, err := readLine(br)
		if err != nil {
			return nil, err
		}
		if line == "" {
			break
		}
		idx := strings.IndexByte(line, ':')
		if idx < 0 {
			continue
		}
		headers[strings.ToLower(strings.TrimSpace(line[:idx]))] = strings.TrimSpace(line[idx+1:])
	}

	want := ComputeAccept(key)
	got := headers["sec-websocket-accept"]
	if got != want {
		return nil, proxyerr.New(proxyerr.ErrCodeInvalidAcceptKey,
			fmt.Sprintf("Sec-WebSocket-Accept mismatch: want %q got %q", want, got), nil)
	}

	var maskKey [4]byte
	if _, err := io.ReadFull(rand.Reader, maskKey[:]); err != nil {
		return nil, err
	}

	return &Client{conn: conn, br: br, maskKey: maskKey}, nil
}

// readLine reads a CRLF- or bare-LF-terminated line, trimming the
// terminator, from a buffered reader shared with the raw connection.
func readLine(br *bufio.Reader) (string, error) {
	line, err := br.ReadString('\n')
	if err != nil {
		return "", err
	}
	line = strings.TrimRight(line, "\r\n")
	return line, nil
}

// Write sends payload as a single masked text frame, reusing this client's
// fixed mask key.
func (c *Client) Write(payload []byte) error {
	return WriteMaskedFrame(c.conn, OpText, payload, c.maskKey)
}

// Read blocks for the next application payload, transparently swallowing
// PING frames (answering with PONG) and failing hard on any opcode other
// than TEXT, PING, or CLOSE. On CLOSE it closes the underlying socket
// before returning, matching WebSocketClient.java's readMessage()/close().
func (c *Client) Read() ([]byte, error) {
	for {
		frame, err := ReadFrame(c.br)
		if err != nil {
			return nil, err
		}
		switch frame.Opcode {
		case OpClose:
			_ = c.conn.Close()
			return nil, io.EOF
		case OpPing:
			if err := WriteMaskedFrame(c.conn, OpPong, frame.Payload, c.maskKey); err != nil {
				return nil, err
			}
			continue
		case OpText:
			return frame.Payload, nil
		default:
			return nil, fmt.Errorf("%w: %d", ErrUnsupportedOpcode, frame.Opcode)
		}
	}
}

// Close performs the close handshake and closes the underlying socket.
func (c *Client) Close() error {
	_ = WriteMaskedFrame(c.conn, OpClose, nil, c.maskKey)
	return c.conn.Close()
}
