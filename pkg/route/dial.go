package route

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"strings"

	"golang.org/x/net/proxy"

	"github.com/nexthttp/nexthttp/pkg/collab"
	"github.com/nexthttp/nexthttp/pkg/constants"
	"github.com/nexthttp/nexthttp/pkg/errors"
	"github.com/nexthttp/nexthttp/pkg/tlsconfig"
)

// Dialer connects a single Route: TCP (or proxy tunnel), followed by TLS when
// the route's ConnectionSpec calls for it.
type Dialer struct {
	TLS collab.TLSCollaborator

	// ProxyAuthenticator supplies a Proxy-Authorization header when an HTTP
	// CONNECT tunnel responds 407. Nil means never retry with credentials.
	ProxyAuthenticator collab.Authenticator
}

// NewDialer creates a Dialer using the standard TLS collaborator.
func NewDialer() *Dialer {
	return &Dialer{TLS: collab.StdTLSCollaborator{}}
}

// DialResult is what a successful Dial produces.
type DialResult struct {
	Conn       net.Conn
	Handshake  *collab.HandshakeDescriptor // nil for cleartext routes
	NegotiatedH2 bool
}

// Dial connects r, tunneling through r.Proxy if set, then performing a TLS
// handshake unless r.ConnSpec is Cleartext.
func (d *Dialer) Dial(ctx context.Context, r Route) (*DialResult, error) {
	conn, err := d.dialSocket(ctx, r)
	if err != nil {
		return nil, err
	}

	if r.ConnSpec.Name == tlsconfig.Cleartext {
		negotiated := addrWantsPriorKnowledge(r)
		return &DialResult{Conn: conn, NegotiatedH2: negotiated}, nil
	}

	cfg := d.tlsConfigFor(r)
	collaborator := d.TLS
	if collaborator == nil {
		collaborator = collab.StdTLSCollaborator{}
	}

	tlsConn, desc, err := collaborator.Handshake(ctx, conn, cfg)
	if err != nil {
		conn.Close()
		return nil, errors.NewTLSError(r.Addr.Host, r.Port, err)
	}

	if pinner := r.Addr.Pinner; pinner != nil {
		if err := pinner.Check(r.Addr.Host, desc.PeerCertificates); err != nil {
			tlsConn.Close()
			return nil, errors.NewTLSError(r.Addr.Host, r.Port, err)
		}
	}

	return &DialResult{
		Conn:         tlsConn,
		Handshake:    desc,
		NegotiatedH2: desc.NegotiatedProto == "h2",
	}, nil
}

func addrWantsPriorKnowledge(r Route) bool {
	for _, p := range r.Addr.Protocols {
		if p == "h2_prior_knowledge" {
			return true
		}
	}
	return false
}

func (d *Dialer) tlsConfigFor(r Route) *tls.Config {
	var cfg *tls.Config
	if r.Addr.TLSConfig != nil {
		cfg = r.Addr.TLSConfig.Clone()
	} else {
		cfg = &tls.Config{ServerName: r.Addr.Host}
	}
	if cfg.ServerName == "" {
		cfg.ServerName = r.Addr.Host
	}
	r.ConnSpec.Apply(cfg)

	var protos []string
	for _, p := range r.Addr.Protocols {
		switch p {
		case "h2":
			protos = append(protos, "h2")
		case "http/1.1":
			protos = append(protos, "http/1.1")
		}
	}
	if len(protos) == 0 {
		protos = []string{"h2", "http/1.1"}
	}
	cfg.NextProtos = protos
	return cfg
}

// dialSocket produces the raw (pre-TLS) net.Conn for r: a direct TCP dial,
// or a tunnel/relay through r.Proxy.
func (d *Dialer) dialSocket(ctx context.Context, r Route) (net.Conn, error) {
	if r.Proxy.IsDirect() {
		dialer := &net.Dialer{}
		conn, err := dialer.DialContext(ctx, "tcp", r.SocketAddr())
		if err != nil {
			return nil, errors.NewConnectionError(r.Addr.Host, r.Port, err)
		}
		return conn, nil
	}

	targetAddr := net.JoinHostPort(r.Addr.Host, itoa(r.Addr.Port))
	switch r.Proxy.Type {
	case "http", "https":
		return d.dialHTTPConnectTunnel(ctx, r, targetAddr)
	case "socks4":
		return d.dialSOCKS4(ctx, r, targetAddr)
	case "socks5":
		return d.dialSOCKS5(ctx, r, targetAddr)
	default:
		return nil, errors.NewProxyError(r.Proxy.Type, r.SocketAddr(), "connect",
			errors.NewValidationError(fmt.Sprintf("unsupported proxy type %q", r.Proxy.Type)))
	}
}

// dialHTTPConnectTunnel opens an HTTP CONNECT tunnel through r.Proxy,
// retrying once per Proxy-Authorization challenge up to
// constants.MaxProxyAuthAttempts (distilled spec §4.4).
func (d *Dialer) dialHTTPConnectTunnel(ctx context.Context, r Route, targetAddr string) (net.Conn, error) {
	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", r.SocketAddr())
	if err != nil {
		return nil, errors.NewProxyError(r.Proxy.Type, r.SocketAddr(), "connect", err)
	}

	if r.Proxy.Type == "https" {
		tlsConn := tls.Client(conn, &tls.Config{ServerName: r.Proxy.Host})
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			conn.Close()
			return nil, errors.NewProxyError(r.Proxy.Type, r.SocketAddr(), "tls", err)
		}
		conn = tlsConn
	}

	var authHeader string
	for attempt := 0; attempt < constants.MaxProxyAuthAttempts; attempt++ {
		ok, statusCode, respHeaders, err := sendConnectRequest(conn, targetAddr, r.Addr.Host, authHeader)
		if err != nil {
			conn.Close()
			return nil, errors.NewProxyError(r.Proxy.Type, r.SocketAddr(), "connect", err)
		}
		if ok {
			return conn, nil
		}
		if statusCode != 407 || d.ProxyAuthenticator == nil {
			conn.Close()
			return nil, errors.NewProxyError(r.Proxy.Type, r.SocketAddr(), "connect",
				errors.NewValidationError(fmt.Sprintf("proxy CONNECT failed with status %d", statusCode)))
		}
		result, authErr := d.ProxyAuthenticator.Authenticate(collab.AuthChallenge{
			RouteAddr:   r.SocketAddr(),
			StatusCode:  statusCode,
			Headers:     respHeaders,
			IsProxyAuth: true,
		})
		if authErr != nil || result == nil {
			conn.Close()
			return nil, errors.NewProxyError(r.Proxy.Type, r.SocketAddr(), "auth", authErr)
		}
		authHeader = result.Headers.Get("Proxy-Authorization")
	}

	conn.Close()
	return nil, errors.NewProxyError(r.Proxy.Type, r.SocketAddr(), "connect",
		errors.NewValidationError("exceeded proxy authentication attempts"))
}

func sendConnectRequest(conn net.Conn, targetAddr, hostHeader, authHeader string) (ok bool, status int, headers map[string][]string, err error) {
	var b strings.Builder
	fmt.Fprintf(&b, "CONNECT %s HTTP/1.1\r\n", targetAddr)
	fmt.Fprintf(&b, "Host: %s\r\n", hostHeader)
	b.WriteString("Connection: keep-alive\r\n")
	if authHeader != "" {
		fmt.Fprintf(&b, "Proxy-Authorization: %s\r\n", authHeader)
	}
	b.WriteString("\r\n")

	if _, err := conn.Write([]byte(b.String())); err != nil {
		return false, 0, nil, err
	}

	reader := bufio.NewReader(conn)
	statusLine, err := reader.ReadString('\n')
	if err != nil {
		return false, 0, nil, err
	}

	fields := strings.SplitN(strings.TrimSpace(statusLine), " ", 3)
	if len(fields) < 2 {
		return false, 0, nil, errors.NewProtocolError("malformed CONNECT status line", nil)
	}
	status = 0
	for _, c := range fields[1] {
		if c < '0' || c > '9' {
			status = 0
			break
		}
		status = status*10 + int(c-'0')
	}

	respHeaders := make(map[string][]string)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return false, status, respHeaders, err
		}
		trimmed := strings.TrimRight(line, "\r\n")
		if trimmed == "" {
			break
		}
		if idx := strings.Index(trimmed, ":"); idx >= 0 {
			k := strings.TrimSpace(trimmed[:idx])
			v := strings.TrimSpace(trimmed[idx+1:])
			respHeaders[k] = append(respHeaders[k], v)
		}
	}

	return status == 200, status, respHeaders, nil
}

// dialSOCKS4 implements the SOCKS4 CONNECT command (IPv4 only, local DNS
// resolution): [VER=4][CMD=1][PORT(2)][IP(4)][USERID][NULL].
func (d *Dialer) dialSOCKS4(ctx context.Context, r Route, targetAddr string) (net.Conn, error) {
	host, portStr, err := net.SplitHostPort(targetAddr)
	if err != nil {
		return nil, errors.NewProxyError("socks4", r.SocketAddr(), "connect", err)
	}
	port := 0
	for _, c := range portStr {
		port = port*10 + int(c-'0')
	}

	ips, err := net.DefaultResolver.LookupIP(ctx, "ip4", host)
	if err != nil || len(ips) == 0 {
		return nil, errors.NewProxyError("socks4", r.SocketAddr(), "resolve", err)
	}
	targetIP := ips[0].To4()
	if targetIP == nil {
		return nil, errors.NewProxyError("socks4", r.SocketAddr(), "resolve",
			errors.NewValidationError("no IPv4 address for "+host))
	}

	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", r.SocketAddr())
	if err != nil {
		return nil, errors.NewProxyError("socks4", r.SocketAddr(), "connect", err)
	}

	req := []byte{0x04, 0x01, byte(port >> 8), byte(port & 0xFF)}
	req = append(req, targetIP...)
	req = append(req, 0x00) // no user ID: not modeled as a distinct field

	if _, err := conn.Write(req); err != nil {
		conn.Close()
		return nil, errors.NewProxyError("socks4", r.SocketAddr(), "connect", err)
	}

	resp := make([]byte, 8)
	if _, err := io.ReadFull(conn, resp); err != nil {
		conn.Close()
		return nil, errors.NewProxyError("socks4", r.SocketAddr(), "connect", err)
	}

	switch resp[1] {
	case 0x5A:
		return conn, nil
	default:
		conn.Close()
		return nil, errors.NewProxyError("socks4", r.SocketAddr(), "connect",
			errors.NewValidationError(fmt.Sprintf("request rejected, status 0x%02X", resp[1])))
	}
}

// dialSOCKS5 delegates to golang.org/x/net/proxy, which performs the RFC 1928
// handshake (optional auth, remote DNS resolution) for us.
func (d *Dialer) dialSOCKS5(ctx context.Context, r Route, targetAddr string) (net.Conn, error) {
	dialer, err := proxy.SOCKS5("tcp", r.SocketAddr(), nil, &net.Dialer{})
	if err != nil {
		return nil, errors.NewProxyError("socks5", r.SocketAddr(), "connect", err)
	}
	ctxDialer, ok := dialer.(proxy.ContextDialer)
	var conn net.Conn
	if ok {
		conn, err = ctxDialer.DialContext(ctx, "tcp", targetAddr)
	} else {
		conn, err = dialer.Dial("tcp", targetAddr)
	}
	if err != nil {
		return nil, errors.NewProxyError("socks5", r.SocketAddr(), "connect", err)
	}
	return conn, nil
}
