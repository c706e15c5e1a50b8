package proxysup

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"

	"github.com/srogmann/TcpIpProxy/internal/proxyerr"
)

// socks5Connect performs a no-auth RFC 1928 CONNECT handshake over conn,
// asking the SOCKS5 proxy to open a TCP connection to addr (host:port).
// Exercised in tests against github.com/armon/go-socks5's test server,
// matching the teacher's own proxy_socks5_test.go style of testing forward
// dialing against a real (if local) SOCKS5 server rather than a mock.
func socks5Connect(conn net.Conn, addr string) error {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return proxyerr.New(proxyerr.ErrCodeSocks5HandshakeFail, "invalid target address "+addr, err)
	}
	var port int
	if _, err := fmt.Sscanf(portStr, "%d", &port); err != nil {
		return proxyerr.New(proxyerr.ErrCodeSocks5HandshakeFail, "invalid target port "+portStr, err)
	}

	// Greeting: version 5, one method offered (0x00 = no auth).
	if _, err := conn.Write([]byte{0x05, 0x01, 0x00}); err != nil {
		return proxyerr.New(proxyerr.ErrCodeSocks5HandshakeFail, "writing greeting", err)
	}
	reply := make([]byte, 2)
	if _, err := io.ReadFull(conn, reply); err != nil {
		return proxyerr.New(proxyerr.ErrCodeSocks5HandshakeFail, "reading method selection", err)
	}
	if reply[0] != 0x05 || reply[1] != 0x00 {
		return proxyerr.New(proxyerr.ErrCodeSocks5HandshakeFail,
			fmt.Sprintf("proxy rejected no-auth method (got %02x %02x)", reply[0], reply[1]), nil)
	}

	req := buildConnectRequest(host, uint16(port))
	if _, err := conn.Write(req); err != nil {
		return proxyerr.New(proxyerr.ErrCodeSocks5HandshakeFail, "writing connect request", err)
	}

	// Reply header: VER REP RSV ATYP (then address+port, which we discard).
	head := make([]byte, 4)
	if _, err := io.ReadFull(conn, head); err != nil {
		return proxyerr.New(proxyerr.ErrCodeSocks5HandshakeFail, "reading connect reply", err)
	}
	if head[1] != 0x00 {
		return proxyerr.New(proxyerr.ErrCodeSocks5HandshakeFail,
			fmt.Sprintf("proxy refused CONNECT (REP=%02x)", head[1]), nil)
	}

	var skip int
	switch head[3] {
	case 0x01: // IPv4
		skip = net.IPv4len
	case 0x04: // IPv6
		skip = net.IPv6len
	case 0x03: // domain name, length-prefixed
		lenBuf := make([]byte, 1)
		if _, err := io.ReadFull(conn, lenBuf); err != nil {
			return proxyerr.New(proxyerr.ErrCodeSocks5HandshakeFail, "reading bound-address length", err)
		}
		skip = int(lenBuf[0])
	default:
		return proxyerr.New(proxyerr.ErrCodeSocks5HandshakeFail,
			fmt.Sprintf("unsupported address type %02x in reply", head[3]), nil)
	}
	if _, err := io.CopyN(io.Discard, conn, int64(skip+2)); err != nil {
		return proxyerr.New(proxyerr.ErrCodeSocks5HandshakeFail, "reading bound address", err)
	}
	return nil
}

func buildConnectRequest(host string, port uint16) []byte {
	var addrField []byte
	var atyp byte
	if ip := net.ParseIP(host); ip != nil {
		if v4 := ip.To4(); v4 != nil {
			atyp, addrField = 0x01, v4
		} else {
			atyp, addrField = 0x04, ip.To16()
		}
	} else {
		atyp = 0x03
		addrField = append([]byte{byte(len(host))}, []byte(host)...)
	}

	req := make([]byte, 0, 6+len(addrField))
	req = append(req, 0x05, 0x01, 0x00, atyp)
	req = append(req, addrField...)
	portBuf := make([]byte, 2)
	binary.BigEndian.PutUint16(portBuf, port)
	return append(req, portBuf...)
}
