package websocket

import (
	"crypto/tls"
	"fmt"
	"net"
	"net/url"
	"time"
)

// dialTimeout bounds the TCP/TLS dial portion of Connect.
const dialTimeout = 10 * time.Second

// dial opens the duplex byte stream for u: a plain TCP connection for
// ws:// and http://, or a TLS connection (with the caller's trust policy
// applied) for wss:// and https://. The returned net.Conn is handed
// straight to the handshake builder/scanner; this package never parses
// HTTP beyond the opening handshake, so there is no dependency on
// net/http's client or transport machinery.
func dial(u *url.URL, allowSelfSigned bool, trust TrustValidator, cipherSuites []uint16) (net.Conn, error) {
	host := u.Hostname()
	port := u.Port()

	secure := u.Scheme == "wss" || u.Scheme == "https"
	if port == "" {
		if secure {
			port = "443"
		} else {
			port = "80"
		}
	}
	addr := net.JoinHostPort(host, port)

	dialer := &net.Dialer{Timeout: dialTimeout}

	if !secure {
		conn, err := dialer.Dial("tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", addr, err)
		}
		return conn, nil
	}

	cfg := buildTLSConfig(host, allowSelfSigned, trust, cipherSuites)
	conn, err := tls.DialWithDialer(dialer, "tcp", addr, cfg)
	if err != nil {
		return nil, fmt.Errorf("tls dial %s: %w", addr, err)
	}
	return conn, nil
}
