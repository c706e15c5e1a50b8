// Package relay implements the half-duplex relay worker (component G),
// grounded on StreamDump.java: it reads chunks from one socket half,
// applies literal substitutions, fixes up Content-Length on rewritten HTTP
// bodies, consults a Router for mid-stream hand-offs, writes to the other
// socket half, and logs every message.
package relay

import (
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"time"

	"github.com/srogmann/TcpIpProxy/internal/bytesrc"
	"github.com/srogmann/TcpIpProxy/internal/cladjust"
	"github.com/srogmann/TcpIpProxy/internal/logger"
	"github.com/srogmann/TcpIpProxy/internal/router"
)

// Direction tags which half of a connection pair a relay serves.
type Direction int

const (
	C2R Direction = iota
	R2C
)

func (d Direction) String() string {
	if d == C2R {
		return "C2R"
	}
	return "R2C"
}

// Rule is a literal (non-regex) search/replace pair, applied in order,
// full-buffer, per received chunk.
type Rule struct {
	Search  string
	Replace string
}

const readBufferSize = 64 * 1024

// defaultMaxLoggedMsgs matches the Java original's system-property-driven
// default (effectively unbounded for a dev session).
const defaultMaxLoggedMsgs = 999_999_999

// wsCappedMaxLoggedMsgs is the cap applied once a connection is detected to
// carry WebSocket traffic.
const wsCappedMaxLoggedMsgs = 999

const statsInterval = 10 * time.Second

// Relay is one half-duplex pump of a proxied connection.
type Relay struct {
	originalIn  io.ReadCloser
	originalOut io.WriteCloser
	currentIn   io.ReadCloser
	currentOut  io.WriteCloser

	direction Direction
	label     string
	connID    int64

	stop   *atomic.Bool
	rules  []Rule
	router *router.Router // nil for auxiliary relays spawned after a switch

	msgCounter int64
	totalBytes int64
}

// New constructs a relay. router may be nil to disable routing for this
// relay (always true for relays spawned as a routing side effect).
func New(in io.ReadCloser, out io.WriteCloser, direction Direction, label string, connID int64, stop *atomic.Bool, rules []Rule, rt *router.Router) *Relay {
	return &Relay{
		originalIn:  in,
		originalOut: out,
		currentIn:   in,
		currentOut:  out,
		direction:   direction,
		label:       label,
		connID:      connID,
		stop:        stop,
		rules:       rules,
		router:      rt,
	}
}

// Run executes the relay loop until the shared stop flag is set or an
// unrecoverable error occurs, then closes the current I/O endpoints and
// emits a final stats line. It blocks; callers typically invoke it via go.
func (r *Relay) Run() {
	maxLoggedMsgs := int64(defaultMaxLoggedMsgs)
	var lastStats time.Time
	buf := make([]byte, readBufferSize)

	var runErr error

loop:
	for !r.stop.Load() {
		if r.router != nil && r.direction == C2R {
			if pair, ok := r.router.PullNewClient(); ok {
				r.logf("new client %v", pair.Primary.RemoteAddr())
				r.currentIn = pair.Primary
				r.spawnAux(r.originalIn, pair.SideChannel, C2R)
			}
		}

		n, err := r.currentIn.Read(buf)
		if err != nil {
			if err != io.EOF {
				runErr = err
			}
			break loop
		}
		if n == 0 {
			continue
		}

		if r.router != nil && r.direction == C2R {
			if pair, ok := r.router.PullNewClient(); ok {
				r.logf("discarded %s", escapeForLog(decodeLatin1(buf[:n])))
				r.logf("new client %v", pair.Primary.RemoteAddr())
				prefixed := bytesrc.NewPrefixed(append([]byte(nil), buf[:n]...), r.originalIn)
				r.currentIn = pair.Primary
				r.spawnAux(prefixed, pair.SideChannel, C2R)
				continue
			}
		}

		r.totalBytes += int64(n)
		msgNo := atomic.AddInt64(&r.msgCounter, 1)

		content := decodeLatin1(buf[:n])
		if looksLikeWebSocketTraffic(content) {
			maxLoggedMsgs = wsCappedMaxLoggedMsgs
		}

		modified := applyRules(content, r.rules)
		if modified != content {
			modified = cladjust.Adjust(content, modified, func(format string, args ...any) {
				r.logf(format, args...)
			})
		}

		if msgNo <= maxLoggedMsgs || strings.HasPrefix(content, "GET ") || strings.HasPrefix(content, "POST ") {
			r.logf("\n%s", truncateForLog(escapeForLog(content)))
		}

		var writeErr error
		if modified == content {
			_, writeErr = r.currentOut.Write(buf[:n])
		} else {
			if msgNo <= maxLoggedMsgs {
				r.logf("modified\n%s", truncateForLog(escapeForLog(modified)))
			}
			_, writeErr = r.currentOut.Write(encodeLatin1(modified))
		}
		if writeErr == nil {
			if f, ok := r.currentOut.(flusher); ok {
				writeErr = f.Flush()
			}
		}
		if writeErr != nil {
			runErr = writeErr
			break loop
		}

		if r.router != nil && r.direction == R2C {
			if pair, switched, err := r.router.CheckForSwitchMessage(content); err != nil {
				r.logf("router dial failed: %v", err)
			} else if switched {
				r.logf("transfer-socket %v", pair.Primary.RemoteAddr())
				r.spawnAux(pair.SideChannel, r.originalOut, R2C)
				r.currentOut = pair.Primary
			}
		}

		if msgNo > maxLoggedMsgs && time.Since(lastStats) >= statsInterval {
			r.logf("Statistics: Packets=%d, Total Bytes=%d", atomic.LoadInt64(&r.msgCounter), r.totalBytes)
			lastStats = time.Now()
		}
	}

	if runErr != nil {
		if isBenignCloseError(runErr) {
			logger.Infof("%s", logger.WithConnID(r.connID, "%s %s: closed", r.direction, r.label))
		} else {
			logger.Errorf("%s", logger.WithConnID(r.connID, "%s %s: %v", r.direction, r.label, runErr))
		}
	}

	r.stop.Store(true)
	_ = r.currentIn.Close()
	_ = r.currentOut.Close()

	logger.Infof("%s", logger.WithConnID(r.connID,
		"%s %s Connection closed: Packets=%d, Total Bytes=%d",
		r.direction, r.label, atomic.LoadInt64(&r.msgCounter), r.totalBytes))
}

type flusher interface {
	Flush() error
}

func (r *Relay) spawnAux(in io.ReadCloser, out io.WriteCloser, dir Direction) {
	aux := New(in, out, dir, "aux-"+r.label, r.connID, r.stop, r.rules, nil)
	go aux.Run()
}

func (r *Relay) logf(format string, args ...any) {
	logger.Infof("%s", logger.WithConnID(r.connID, "%s %s: %s", r.direction, r.label, fmt.Sprintf(format, args...)))
}

func applyRules(text string, rules []Rule) string {
	for _, rule := range rules {
		text = strings.ReplaceAll(text, rule.Search, rule.Replace)
	}
	return text
}

// isBenignCloseError matches the two IOException messages StreamDump.java
// treats as informational rather than stack-trace-worthy ("Socket closed",
// "Connection or inbound has closed"); Go's net package reports a closed
// peer as "use of closed network connection".
func isBenignCloseError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "use of closed network connection") ||
		strings.Contains(msg, "closed")
}
