// Package httpserver implements a minimal HTTP/1.1 dispatch server built
// directly on raw net.Conn sockets, grounded on
// http/HttpServerDispatch.java, HttpServerDispatchThread.java, and
// HttpServerDispatchExchange.java. It performs just enough of HTTP/1.1 to
// parse requests, manage keep-alive, and hand a raw socket off to an
// upgrade handler — it is not a general-purpose net/http replacement.
package httpserver

import (
	"bufio"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/srogmann/TcpIpProxy/internal/httpheader"
	"github.com/srogmann/TcpIpProxy/internal/logger"
)

// Handler processes one HTTP exchange. A panic inside Handler is recovered
// and turned into a best-effort 500 response.
type Handler func(*Exchange)

// Server is an accept-loop-plus-worker-pool HTTP/1.1 dispatch server.
type Server struct {
	listener net.Listener
	handler  Handler
	running  atomic.Bool
	wg       sync.WaitGroup
}

// NewServer wraps an already-bound listener.
func NewServer(listener net.Listener, handler Handler) *Server {
	return &Server{listener: listener, handler: handler}
}

// Serve runs the accept loop until Stop is called. It returns when the
// listener is closed.
func (s *Server) Serve() {
	s.running.Store(true)
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		if !s.running.Load() {
			// Lost the race with Stop: reject this connection outright,
			// matching HttpServerDispatch.java's behaviour for sockets
			// accepted in the shutdown window.
			_, _ = io.WriteString(conn, "HTTP/1.1 500 server has been stopped\r\n\r\n")
			_ = conn.Close()
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveConn(conn)
		}()
	}
}

// Stop clears the run flag, sleeps delay, closes the listener, then waits up
// to another delay for in-flight workers to finish. Workers still running
// after that are not interrupted: Stop logs a warning and returns.
func (s *Server) Stop(delay time.Duration) {
	s.running.Store(false)
	time.Sleep(delay)
	_ = s.listener.Close()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(delay):
		logger.Warnf("httpserver: workers still running after grace period, not interrupted")
	}
}

// serveConn owns conn only until a handler hijacks it. Once hijacked, conn
// lifetime belongs entirely to the caller (the ws upgrade handler's
// long-lived ServerConn.Run session), matching net/http.Hijacker's contract:
// the server must never touch the connection again.
func (s *Server) serveConn(conn net.Conn) {
	br := bufio.NewReader(conn)
	bw := bufio.NewWriter(conn)

	for s.running.Load() {
		keepAlive, upgradeRequested := s.serveOne(conn, br, bw)
		if upgradeRequested {
			return
		}
		if !keepAlive {
			_ = conn.Close()
			return
		}
	}
	_ = conn.Close()
}

func (s *Server) serveOne(conn net.Conn, br *bufio.Reader, bw *bufio.Writer) (keepAlive, upgradeRequested bool) {
	line, err := br.ReadString('\n')
	if err != nil {
		return false, false
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return false, false
	}

	method, path, protocol, ok := parseRequestLine(line)
	if !ok {
		writeBadRequestStatusLine(bw)
		return false, false
	}

	rawHeaders := map[string][]string{}
	for {
		hline, err := br.ReadString('\n')
		if err != nil {
			return false, false
		}
		hline = strings.TrimRight(hline, "\r\n")
		if hline == "" {
			break
		}
		idx := strings.IndexByte(hline, ':')
		if idx < 0 {
			continue
		}
		name := strings.TrimSpace(hline[:idx])
		value := strings.TrimSpace(hline[idx+1:])
		rawHeaders[name] = append(rawHeaders[name], value)
	}
	reqHeaders := httpheader.NewReadOnly(rawHeaders)

	connVal, _ := reqHeaders.First("Connection")
	keepAlive = protocol == "HTTP/1.1" && !strings.EqualFold(strings.TrimSpace(connVal), "close")

	chunked := false
	if te, ok := reqHeaders.First("Transfer-encoding"); ok && strings.EqualFold(strings.TrimSpace(te), "chunked") {
		chunked = true
	}
	var contentLength int64
	if clStr, ok := reqHeaders.First("Content-length"); ok {
		if v, err := strconv.ParseInt(strings.TrimSpace(clStr), 10, 64); err == nil {
			contentLength = v
		}
	}

	ex := &Exchange{
		conn:            conn,
		br:              br,
		bw:              bw,
		keepAlive:       keepAlive,
		Method:          method,
		RawPath:         path,
		Protocol:        protocol,
		RequestHeaders:  reqHeaders,
		responseHeaders: httpheader.New(),
		requestBody:     newChunkAwareReader(br, chunked, contentLength),
	}

	func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Errorf("httpserver: handler panicked: %v", r)
				if !ex.headersSent {
					ex.responseHeaders = httpheader.New()
					_ = ex.SendResponseHeaders(500, 0)
				}
			}
		}()
		s.handler(ex)
	}()

	if err := bw.Flush(); err != nil {
		return false, false
	}

	return ex.keepAlive, ex.upgradeAsked
}

func writeBadRequestStatusLine(bw *bufio.Writer) {
	_, _ = bw.WriteString("HTTP/1.1 400 Bad Request\r\nConnection: close\r\n\r\n")
	_ = bw.Flush()
}
