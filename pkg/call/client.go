package call

import (
	"context"
	"crypto/tls"
	"net/http"
	"net/url"
	"sync/atomic"

	"github.com/nexthttp/nexthttp/pkg/address"
	"github.com/nexthttp/nexthttp/pkg/collab"
	"github.com/nexthttp/nexthttp/pkg/pool"
	"github.com/nexthttp/nexthttp/pkg/route"
	"github.com/nexthttp/nexthttp/pkg/telemetry"
	"github.com/nexthttp/nexthttp/pkg/timing"
	"github.com/nexthttp/nexthttp/pkg/tlsconfig"
)

// Client holds the collaborators and engine-wide state shared by every Call
// it creates: the connection pool, route planner/connector, and the default
// collaborators new Addresses are built from. One Client is meant to be
// shared across many concurrent calls, mirroring the teacher client's single
// long-lived Transport.
type Client struct {
	pool      *pool.Pool
	planner   *route.Planner
	connector *route.Connector

	Resolver      collab.Resolver
	ProxySelector collab.ProxySelector
	Protocols     []address.Protocol
	ConnSpecs     []tlsconfig.ConnectionSpec
	TLSConfig     *tls.Config
	Pinner        collab.CertificatePinner
	Authenticator collab.Authenticator
	Jar           collab.CookieJar
	Listener      collab.EventListener
	Clock         collab.Clock

	UserAgent string

	// Interceptors are application-supplied interceptors run before the
	// engine's own fixed stages (distilled spec §4.5 chain order).
	Interceptors []Interceptor

	cache *CacheInterceptor

	nextCallID atomic.Uint64
}

// NewClient builds a Client with the teacher-derived defaults: a fresh
// connection pool (pool.DefaultConfig), a route planner/connector pair
// backed by a new route.Database, the system resolver and clock, direct
// proxy selection, no pinning, no authentication, no cookie storage, and a
// logging event listener whose logger discards everything.
func NewClient() *Client {
	db := route.NewDatabase()
	dialer := route.NewDialer()
	planner := route.NewPlanner(db)
	connector := route.NewConnector(dialer, db)
	return &Client{
		pool:          pool.New(pool.DefaultConfig(), planner, connector),
		planner:       planner,
		connector:     connector,
		Resolver:      collab.SystemResolver{},
		ProxySelector: collab.DirectProxySelector{},
		Protocols:     []address.Protocol{address.HTTP2, address.HTTP1_1},
		ConnSpecs:     tlsconfig.DefaultConnectionSpecs,
		Pinner:        collab.NoCertificatePinner{},
		Authenticator: collab.NoAuthenticator{},
		Jar:           collab.NopCookieJar{},
		Listener:      telemetry.NewLoggingEventListener(telemetry.Disabled()),
		Clock:         collab.SystemClock{},
		cache:         NewCacheInterceptor(),
	}
}

// Close releases the Client's pooled connections.
func (c *Client) Close() error {
	return c.pool.Close()
}

func (c *Client) cookiesFor(u *url.URL) []*http.Cookie {
	return c.Jar.Cookies(u)
}

func (c *Client) storeCookies(u *url.URL, header http.Header) {
	resp := http.Response{Header: header}
	cookies := resp.Cookies()
	if len(cookies) > 0 {
		c.Jar.SetCookies(u, cookies)
	}
}

// Call represents one user-visible request: the fixed interceptor stack it
// runs through, and the call ID collab.EventListener callbacks are keyed by.
type Call struct {
	client *Client
	id     uint64

	pool  *pool.Pool
	timer *timing.Timer
}

// ID returns the call ID collab.EventListener callbacks for this Call are
// keyed by.
func (call *Call) ID() uint64 { return call.id }

// NewCall creates a Call for req, ready to Execute.
func (c *Client) NewCall(req *Request) *Call {
	return &Call{client: c, id: c.nextCallID.Add(1), pool: c.pool, timer: timing.NewTimer()}
}

// Execute runs req through the full interceptor chain: application
// interceptors, then RetryAndFollowUp, Bridge, Cache, Connect, and finally
// CallServer, in the order distilled spec §4.5 fixes.
func (call *Call) Execute(ctx context.Context, req *Request) (*Response, error) {
	ctx = withCallID(ctx, call.id)
	call.client.Listener.CallStart(call.id, req.Method, req.URL.String())

	interceptors := make([]Interceptor, 0, len(call.client.Interceptors)+5)
	interceptors = append(interceptors, call.client.Interceptors...)
	interceptors = append(interceptors,
		&RetryAndFollowUpInterceptor{Authenticator: call.client.Authenticator},
		&BridgeInterceptor{UserAgent: call.client.UserAgent},
		call.client.cache,
		&ConnectInterceptor{},
		&CallServerInterceptor{},
	)

	chain := newChain(ctx, call, req, interceptors)
	resp, err := chain.Proceed(req)
	if err != nil {
		call.client.Listener.CallFailed(call.id, err)
		return nil, err
	}
	call.client.Listener.CallEnd(call.id)
	return resp, nil
}

// Do is shorthand for NewCall(req).Execute(ctx, req).
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	return c.NewCall(req).Execute(ctx, req)
}
