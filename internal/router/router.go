// Package router implements the mid-stream router that can hand off a
// connection pair's upstream sockets to a new destination once a trigger
// pattern is observed, grounded on StreamRouter.java.
package router

import (
	"net"
	"regexp"
	"strconv"
	"sync/atomic"
)

// TransferSockets carries the pair of freshly dialed sockets handed off on a
// routing switch: the new primary upstream and a side channel that keeps
// serving the original upstream's half of the conversation.
type TransferSockets struct {
	Primary     net.Conn
	SideChannel net.Conn
}

// Router is constructed once per connection pair and shared, weakly, by
// both half-duplex relays of that pair.
type Router struct {
	targetHost     string
	primaryPort    int
	sideChanPort   int
	trigger        *regexp.Regexp
	switched       atomic.Bool
	queue          chan TransferSockets
	dial           func(network, addr string) (net.Conn, error)
}

// New constructs a router that opens its hand-off sockets with net.Dial;
// SetDialer replaces that dialer (tests use it to avoid real sockets).
func New(targetHost string, primaryPort, sideChanPort int, trigger *regexp.Regexp) *Router {
	return &Router{
		targetHost:   targetHost,
		primaryPort:  primaryPort,
		sideChanPort: sideChanPort,
		trigger:      trigger,
		queue:        make(chan TransferSockets, 1),
		dial:         net.Dial,
	}
}

// SetDialer overrides how this router opens the two hand-off sockets; tests
// use this to avoid touching real sockets.
func (r *Router) SetDialer(dial func(network, addr string) (net.Conn, error)) {
	r.dial = dial
}

// CheckForSwitchMessage is called by the R2C relay after writing a message
// to the client. If the router has not yet switched and text matches the
// trigger regex in its entirety, it latches, dials both hand-off sockets,
// and publishes them to the single-slot queue. Returns (pair, true) on a
// fresh switch, (zero, false) otherwise. Dial failure is returned as err.
func (r *Router) CheckForSwitchMessage(text string) (TransferSockets, bool, error) {
	if r.switched.Load() {
		return TransferSockets{}, false, nil
	}
	if !r.trigger.MatchString(text) || !isFullMatch(r.trigger, text) {
		return TransferSockets{}, false, nil
	}
	if !r.switched.CompareAndSwap(false, true) {
		// Another caller won the race; this relay does not own the switch.
		return TransferSockets{}, false, nil
	}

	primary, err := r.dial("tcp", net.JoinHostPort(r.targetHost, strconv.Itoa(r.primaryPort)))
	if err != nil {
		return TransferSockets{}, false, err
	}
	side, err := r.dial("tcp", net.JoinHostPort(r.targetHost, strconv.Itoa(r.sideChanPort)))
	if err != nil {
		primary.Close()
		return TransferSockets{}, false, err
	}

	pair := TransferSockets{Primary: primary, SideChannel: side}
	r.queue <- pair
	return pair, true, nil
}

// PullNewClient is called by the C2R relay; it performs a non-blocking take
// from the single-slot queue.
func (r *Router) PullNewClient() (TransferSockets, bool) {
	select {
	case pair := <-r.queue:
		return pair, true
	default:
		return TransferSockets{}, false
	}
}

// isFullMatch reports whether re matches the entirety of s, not just a
// substring, matching the Java original's Matcher.matches() semantics.
func isFullMatch(re *regexp.Regexp, s string) bool {
	full, err := regexp.Compile(`\A(?:` + re.String() + `)\z`)
	if err != nil {
		return false
	}
	return full.MatchString(s)
}
