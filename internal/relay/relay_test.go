package relay

import (
	"fmt"
	"io"
	"net"
	"regexp"
	"sync/atomic"
	"testing"
	"time"

	"github.com/srogmann/TcpIpProxy/internal/router"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pipePair(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()
	a, b := net.Pipe()
	t.Cleanup(func() { a.Close(); b.Close() })
	return a, b
}

func TestTransparencyWithNoRules(t *testing.T) {
	clientSide, relayIn := pipePair(t)
	relayOut, upstreamSide := pipePair(t)

	var stop atomic.Bool
	r := New(relayIn, relayOut, C2R, "t", 1, &stop, nil, nil)
	go r.Run()

	payload := []byte("arbitrary \x00\x01 bytes that match no rule")
	go func() { _, _ = clientSide.Write(payload) }()

	got := make([]byte, len(payload))
	_, err := io.ReadFull(upstreamSide, got)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestSubstitutionAppliesLiteralReplace(t *testing.T) {
	clientSide, relayIn := pipePair(t)
	relayOut, upstreamSide := pipePair(t)

	var stop atomic.Bool
	rules := []Rule{{Search: "foo", Replace: "barbaz"}}
	r := New(relayIn, relayOut, C2R, "t", 1, &stop, rules, nil)
	go r.Run()

	go func() { _, _ = clientSide.Write([]byte("hello foo world")) }()

	got := make([]byte, len("hello barbaz world"))
	_, err := io.ReadFull(upstreamSide, got)
	require.NoError(t, err)
	assert.Equal(t, "hello barbaz world", string(got))
}

func TestSubstitutionIdempotentOnNonMatch(t *testing.T) {
	clientSide, relayIn := pipePair(t)
	relayOut, upstreamSide := pipePair(t)

	var stop atomic.Bool
	rules := []Rule{{Search: "notpresent", Replace: "x"}}
	r := New(relayIn, relayOut, C2R, "t", 1, &stop, rules, nil)
	go r.Run()

	text := "this text contains no occurrence of the needle"
	go func() { _, _ = clientSide.Write([]byte(text)) }()

	got := make([]byte, len(text))
	_, err := io.ReadFull(upstreamSide, got)
	require.NoError(t, err)
	assert.Equal(t, text, string(got))
}

func TestRouterTriggerSwitchesUpstream(t *testing.T) {
	// Primary and side-channel listeners standing in for hostB:portB and
	// hostB:msgPortB.
	primaryLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer primaryLn.Close()
	sideLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer sideLn.Close()

	primaryAcceptCh := make(chan net.Conn, 1)
	sideAcceptCh := make(chan net.Conn, 1)
	go func() { c, _ := primaryLn.Accept(); primaryAcceptCh <- c }()
	go func() { c, _ := sideLn.Accept(); sideAcceptCh <- c }()

	host, primaryPortStr, _ := net.SplitHostPort(primaryLn.Addr().String())
	_, sidePortStr, _ := net.SplitHostPort(sideLn.Addr().String())
	var primaryPort, sidePort int
	_, _ = fmt.Sscan(primaryPortStr, &primaryPort)
	_, _ = fmt.Sscan(sidePortStr, &sidePort)

	rt := router.New(host, primaryPort, sidePort, regexp.MustCompile("ready"))

	// R2C relay: upstream -> client, with the router watching for "ready".
	upstreamConn, r2cIn := pipePair(t)
	clientOutConn, r2cOut := pipePair(t)

	var stop atomic.Bool
	r2c := New(r2cIn, r2cOut, R2C, "r2c", 1, &stop, nil, rt)
	go r2c.Run()

	go func() { _, _ = upstreamConn.Write([]byte("ready")) }()

	// The client gets the original R2C message before the switch fires.
	buf := make([]byte, len("ready"))
	_, err = io.ReadFull(clientOutConn, buf)
	require.NoError(t, err)
	assert.Equal(t, "ready", string(buf))

	newPrimaryServerSide := waitForConn(t, primaryAcceptCh)
	_ = waitForConn(t, sideAcceptCh)

	// r2c's output now targets the newly dialed primary, not the client.
	go func() { _, _ = upstreamConn.Write([]byte("more upstream data")) }()
	buf2 := make([]byte, len("more upstream data"))
	_, err = io.ReadFull(newPrimaryServerSide, buf2)
	require.NoError(t, err)
	assert.Equal(t, "more upstream data", string(buf2))
}

func waitForConn(t *testing.T, ch chan net.Conn) net.Conn {
	t.Helper()
	select {
	case c := <-ch:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for connection")
		return nil
	}
}
