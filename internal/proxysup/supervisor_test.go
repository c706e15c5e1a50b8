package proxysup

import (
	"bufio"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net"
	"testing"
	"time"

	"github.com/armon/go-socks5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srogmann/TcpIpProxy/internal/relay"
)

// generateSelfSignedCert builds an in-memory self-signed certificate for
// loopback TLS tests, avoiding a checked-in PEM fixture.
func generateSelfSignedCert(t *testing.T) tls.Certificate {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "127.0.0.1"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)

	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}
}

// startEchoUpstream listens on loopback and echoes every read chunk back to
// the writer, closing once the connection errors.
func startEchoUpstream(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				buf := make([]byte, 4096)
				for {
					n, err := c.Read(buf)
					if n > 0 {
						if _, werr := c.Write(buf[:n]); werr != nil {
							return
						}
					}
					if err != nil {
						return
					}
				}
			}(conn)
		}
	}()
	return ln
}

func TestSupervisorRelaysPlaintextAndSubstitutes(t *testing.T) {
	upstream := startEchoUpstream(t)
	defer upstream.Close()
	upstreamAddr := upstream.Addr().(*net.TCPAddr)

	sup, err := New(Config{
		BindHost:          "127.0.0.1",
		BindPort:          0,
		UpstreamTransport: TransportTCP,
		UpstreamHost:      "127.0.0.1",
		UpstreamPort:      upstreamAddr.Port,
		Rules:             []relay.Rule{{Search: "foo", Replace: "bar"}},
	})
	require.NoError(t, err)
	defer sup.Close()
	go sup.Serve()

	client, err := net.Dial("tcp", sup.Addr().String())
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Write([]byte("say foo please\n"))
	require.NoError(t, err)

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	br := bufio.NewReader(client)
	line, err := br.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "say bar please\n", line)
}

func TestSupervisorTLSUpstream(t *testing.T) {
	cert := generateSelfSignedCert(t)

	tlsLn, err := tls.Listen("tcp", "127.0.0.1:0", &tls.Config{Certificates: []tls.Certificate{cert}})
	require.NoError(t, err)
	defer tlsLn.Close()
	go func() {
		for {
			conn, err := tlsLn.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				buf := make([]byte, 4096)
				n, err := c.Read(buf)
				if err == nil {
					c.Write(buf[:n])
				}
			}(conn)
		}
	}()
	addr := tlsLn.Addr().(*net.TCPAddr)

	sup, err := New(Config{
		BindHost:          "127.0.0.1",
		BindPort:          0,
		UpstreamTransport: TransportTLS,
		UpstreamHost:      "127.0.0.1",
		UpstreamPort:      addr.Port,
		TLSConfig:         &tls.Config{InsecureSkipVerify: true},
	})
	require.NoError(t, err)
	defer sup.Close()
	go sup.Serve()

	client, err := net.Dial("tcp", sup.Addr().String())
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Write([]byte("ping"))
	require.NoError(t, err)
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 16)
	n, err := client.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(buf[:n]))
}

func TestSocks5Forward(t *testing.T) {
	upstream := startEchoUpstream(t)
	defer upstream.Close()
	upstreamAddr := upstream.Addr().(*net.TCPAddr)

	socksServer, err := socks5.New(&socks5.Config{})
	require.NoError(t, err)
	socksLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer socksLn.Close()
	go socksServer.Serve(socksLn)

	fwd := Socks5Forward{ProxyAddress: socksLn.Addr().String()}
	sup, err := New(Config{
		BindHost:          "127.0.0.1",
		BindPort:          0,
		UpstreamTransport: TransportTCP,
		UpstreamHost:      "127.0.0.1",
		UpstreamPort:      upstreamAddr.Port,
		Forward:           fwd,
	})
	require.NoError(t, err)
	defer sup.Close()
	go sup.Serve()

	client, err := net.Dial("tcp", sup.Addr().String())
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Write([]byte("via-socks5"))
	require.NoError(t, err)
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 32)
	n, err := client.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "via-socks5", string(buf[:n]))
}
