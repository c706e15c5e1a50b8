package httpserver

import (
	"bufio"
	"net"
	"strconv"
	"strings"

	"github.com/srogmann/TcpIpProxy/internal/httpheader"
	"github.com/srogmann/TcpIpProxy/internal/proxyerr"
)

var statusText = map[int]string{
	101: "Switching Protocols",
	200: "OK",
	204: "No Content",
	304: "Not Modified",
	400: "Bad Request",
	404: "Not Found",
	500: "Internal Server Error",
}

func reasonFor(code int) string {
	if s, ok := statusText[code]; ok {
		return s
	}
	return "Unknown"
}

// Exchange is the per-request object handed to a user handler, grounded on
// http/HttpServerDispatchExchange.java.
type Exchange struct {
	conn     net.Conn
	br       *bufio.Reader
	bw       *bufio.Writer
	keepAlive bool

	Method   string
	RawPath  string
	Protocol string

	RequestHeaders  *httpheader.Bag
	responseHeaders *httpheader.Bag

	requestBody  *chunkAwareReader
	headersSent  bool
	upgradeAsked bool
	chunkedResp  bool
}

// ResponseHeaders exposes the mutable response header bag; callers add
// headers here before calling SendResponseHeaders.
func (e *Exchange) ResponseHeaders() *httpheader.Bag { return e.responseHeaders }

// RequestBody returns a reader over the request body. If Transfer-Encoding
// is chunked, chunk framing is decoded transparently.
func (e *Exchange) RequestBody() *chunkAwareReader { return e.requestBody }

// KeepAlive reports whether this connection is eligible to continue after
// the current request, as computed at request-line/header parse time.
func (e *Exchange) KeepAlive() bool { return e.keepAlive }

// UpgradeRequested reports whether RequestUpgrade or Hijack has latched the
// upgrade flag.
func (e *Exchange) UpgradeRequested() bool { return e.upgradeAsked }

// RequestUpgrade marks this exchange as handing the raw socket off to an
// upgrade handler (e.g. the WebSocket codec) and sets the conventional
// upgrade response headers. After this call, SendResponseHeaders(101, ...)
// is the only legal header-sending call.
func (e *Exchange) RequestUpgrade() {
	e.upgradeAsked = true
	_ = e.responseHeaders.Set("Connection", "Upgrade")
	_ = e.responseHeaders.Set("Upgrade", "websocket")
}

// Hijack flushes any buffered output and returns the raw connection plus a
// buffered read/writer pair, ceding all further protocol handling to the
// caller. This is the raw-socket escape hatch spec.md's glossary describes.
func (e *Exchange) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if err := e.bw.Flush(); err != nil {
		return nil, nil, err
	}
	e.upgradeAsked = true
	return e.conn, bufio.NewReadWriter(e.br, e.bw), nil
}

// SendResponseHeaders writes the status line and headers. contentLength<=0
// means "unknown, use chunked transfer encoding" unless code is 204 or 304.
// Calling this twice, or calling it after RequestUpgrade with a non-101
// code, is a state error.
func (e *Exchange) SendResponseHeaders(code int, contentLength int64) error {
	if e.headersSent {
		return proxyerr.New(proxyerr.ErrCodeResponseHeadersAlreadySent, "response headers already sent", nil)
	}
	if e.upgradeAsked && code != 101 {
		return proxyerr.New(proxyerr.ErrCodeResponseHeadersAlreadySent, "only a 101 response may follow RequestUpgrade", nil)
	}
	e.headersSent = true

	statusLine := e.Protocol + " " + strconv.Itoa(code) + " " + reasonFor(code) + "\r\n"
	if _, err := e.bw.WriteString(statusLine); err != nil {
		return err
	}

	if code != 101 {
		if !e.responseHeaders.Contains("Connection") {
			if e.keepAlive {
				_ = e.responseHeaders.Set("Connection", "keep-alive")
			} else {
				_ = e.responseHeaders.Set("Connection", "close")
			}
		}
		if contentLength > 0 {
			_ = e.responseHeaders.Set("Content-Length", strconv.FormatInt(contentLength, 10))
		} else if code != 204 && code != 304 {
			_ = e.responseHeaders.Set("Transfer-Encoding", "chunked")
			e.chunkedResp = true
		}
	}

	var writeErr error
	e.responseHeaders.ForEach(func(key, value string) {
		if writeErr != nil {
			return
		}
		_, writeErr = e.bw.WriteString(key + ": " + value + "\r\n")
	})
	if writeErr != nil {
		return writeErr
	}
	if _, err := e.bw.WriteString("\r\n"); err != nil {
		return err
	}
	return e.bw.Flush()
}

// ResponseWriter returns a writer for the response body. It is a state
// error to call this before SendResponseHeaders.
func (e *Exchange) ResponseWriter() (*responseWriter, error) {
	if !e.headersSent {
		return nil, proxyerr.New(proxyerr.ErrCodeBodyAccessedBeforeHeaders, "response body accessed before headers sent", nil)
	}
	return &responseWriter{bw: e.bw, chunked: e.chunkedResp}, nil
}

func parseRequestLine(line string) (method, path, protocol string, ok bool) {
	parts := strings.Fields(line)
	if len(parts) != 3 {
		return "", "", "", false
	}
	return parts[0], parts[1], parts[2], true
}
