package call

import (
	"net/url"
	"strconv"

	"github.com/nexthttp/nexthttp/pkg/address"
)

// ConnectInterceptor resolves the request's target into an address.Address
// and asks the Call's pool for a usable Connection, attaching it to the
// chain for CallServerInterceptor to drive. It is always the second-to-last
// interceptor: everything above it may rewrite the request, nothing below it
// does.
type ConnectInterceptor struct{}

func (ci *ConnectInterceptor) Intercept(chain *Chain) (*Response, error) {
	req := chain.Request()
	call := chain.Call()
	listener := call.client.Listener
	id := call.id
	addr := call.client.buildAddress(req)

	listener.ConnectStart(id, addr.Key())
	listener.DNSStart(id, addr.Host)
	call.timer.StartDNS()
	call.timer.StartTCP()
	conn, reused, err := call.pool.Acquire(chain.Context(), addr, nil)
	call.timer.EndTCP()
	call.timer.EndDNS()
	listener.DNSEnd(id, addr.Host, err)
	if err != nil {
		listener.ConnectEnd(id, addr.Key(), "", err)
		return nil, err
	}
	protocol := "http/1.1"
	if conn.IsMultiplexed() {
		protocol = "h2"
	}
	listener.ConnectEnd(id, addr.Key(), protocol, nil)
	listener.ConnectionAcquired(id, addr.Key(), reused)

	if addr.Scheme == "https" && !reused {
		if hs := conn.Conn.Handshake; hs != nil {
			listener.SecureConnectStart(id)
			listener.SecureConnectEnd(id, hs.TLSVersion, nil)
		}
	}

	conn.MarkInUse()

	return chain.proceedWithConn(req, conn)
}

// buildAddress derives the equivalence-class Address for req's target host
// from the Client's collaborators (distilled spec §3); a Request carries no
// per-request collaborator overrides.
func (c *Client) buildAddress(req *Request) *address.Address {
	return &address.Address{
		Scheme:        req.URL.Scheme,
		Host:          req.URL.Hostname(),
		Port:          portForURL(req.URL),
		Resolver:      c.Resolver,
		Selector:      c.ProxySelector,
		Protocols:     c.Protocols,
		ConnSpecs:     c.ConnSpecs,
		TLSConfig:     c.TLSConfig,
		Pinner:        c.Pinner,
		Authenticator: c.Authenticator,
	}
}

func portForURL(u *url.URL) int {
	if p := u.Port(); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			return n
		}
	}
	if u.Scheme == "https" {
		return 443
	}
	return 80
}
