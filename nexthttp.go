// Package nexthttp is a high-performance HTTP client engine that drives
// HTTP/1.1 and HTTP/2 over its own connection pool and interceptor chain,
// giving callers OkHttp-style control over retries, follow-ups, caching,
// and connection reuse rather than net/http's opaque Transport.
package nexthttp

import (
	"context"
	"io"
	"net/http"
	"net/url"

	"github.com/sirupsen/logrus"

	"github.com/nexthttp/nexthttp/pkg/call"
	"github.com/nexthttp/nexthttp/pkg/collab"
	"github.com/nexthttp/nexthttp/pkg/dispatcher"
	"github.com/nexthttp/nexthttp/pkg/errors"
	"github.com/nexthttp/nexthttp/pkg/telemetry"
)

// Version is the current version of the nexthttp library.
const Version = "1.0.0"

// GetVersion returns the current version of the library.
func GetVersion() string { return Version }

// Re-export the types an application mostly needs, so importing this one
// package is usually enough.
type (
	// Request is the caller-facing description of one HTTP request.
	Request = call.Request

	// Response is the result of running a Request through the engine.
	Response = call.Response

	// Interceptor lets an application observe or rewrite every call this
	// Client makes, ahead of the engine's own fixed network stages.
	Interceptor = call.Interceptor

	// InterceptorFunc adapts a plain function to Interceptor.
	InterceptorFunc = call.InterceptorFunc

	// Error is a structured error with a classifiable ErrorType.
	Error = errors.Error

	// ProxyError is a structured error for proxy-connect failures.
	ProxyError = errors.ProxyError

	// EventListener observes a call's full lifecycle; see pkg/collab.
	EventListener = collab.EventListener

	// DispatcherStats is a read-only snapshot of per-host concurrency.
	DispatcherStats = dispatcher.Stats
)

// Client is the engine entry point: one Client should be created per
// logical destination set (it owns a connection pool and dispatcher) and
// reused across many concurrent Do calls.
type Client struct {
	call          *call.Client
	dispatcher    *dispatcher.Dispatcher
	dispatcherCfg dispatcher.Config
}

// ClientOption configures a Client at construction time.
type ClientOption func(*Client)

// WithUserAgent overrides the User-Agent BridgeInterceptor synthesizes on
// requests that don't set one explicitly.
func WithUserAgent(ua string) ClientOption {
	return func(c *Client) { c.call.UserAgent = ua }
}

// WithEventListener wires an observer for every call/connect/retry/dispatch
// lifecycle event. See pkg/telemetry for a logrus-backed implementation.
func WithEventListener(l EventListener) ClientOption {
	return func(c *Client) { c.call.Listener = l }
}

// WithLogging replaces the default (silent) event listener with one that
// emits a structured logrus entry for every call/connect/retry/dispatch
// lifecycle event, at the given level. Pass logrus.PanicLevel to go back to
// effectively silent logging without special-casing a nil listener.
func WithLogging(level logrus.Level) ClientOption {
	return func(c *Client) {
		c.call.Listener = telemetry.NewLoggingEventListener(telemetry.New(level))
	}
}

// WithCookieJar replaces the default no-op cookie jar.
func WithCookieJar(jar collab.CookieJar) ClientOption {
	return func(c *Client) { c.call.Jar = jar }
}

// WithAuthenticator replaces the default always-decline 401/407 handler.
func WithAuthenticator(a collab.Authenticator) ClientOption {
	return func(c *Client) { c.call.Authenticator = a }
}

// WithProxySelector replaces the default always-direct proxy selector.
func WithProxySelector(s collab.ProxySelector) ClientOption {
	return func(c *Client) { c.call.ProxySelector = s }
}

// WithInterceptors installs application interceptors that run before the
// engine's fixed retry/bridge/cache/connect/call-server stages.
func WithInterceptors(interceptors ...Interceptor) ClientOption {
	return func(c *Client) { c.call.Interceptors = interceptors }
}

// WithDispatcherConfig overrides the default admission-control limits
// (64 in-flight requests, 5 per host).
func WithDispatcherConfig(cfg dispatcher.Config) ClientOption {
	return func(c *Client) { c.dispatcherCfg = cfg }
}

// NewClient builds a Client with the engine's defaults applied, then
// applies opts in order. The dispatcher is constructed last so it always
// observes a WithEventListener option regardless of option order.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{call: call.NewClient(), dispatcherCfg: dispatcher.DefaultConfig()}
	for _, opt := range opts {
		opt(c)
	}
	c.dispatcher = dispatcher.New(c.dispatcherCfg, c.call.Listener)
	return c
}

// Close releases the Client's pooled connections.
func (c *Client) Close() error {
	return c.call.Close()
}

// NewRequest builds a Request for method/rawURL with an optional body,
// mirroring net/http.NewRequestWithContext's ergonomics.
func NewRequest(method, rawURL string, body io.Reader) (*Request, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	return &Request{
		Method: method,
		URL:    u,
		Header: http.Header{},
		Body:   body,
	}, nil
}

// Do runs req through the dispatcher's synchronous admission control and
// then the full interceptor chain (application interceptors, retry &
// follow-up, header bridging, conditional-cache validators, connect,
// call-server), returning the final Response or the first non-retriable
// error.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	userCall := c.call.NewCall(req)

	var resp *Response
	err := c.dispatcher.ExecuteSync(ctx, dispatcher.Call{
		ID:        userCall.ID(),
		Host:      req.URL.Hostname(),
		WebSocket: req.Header.Get("Upgrade") == "websocket",
		Run: func(ctx context.Context) error {
			r, execErr := userCall.Execute(ctx, req)
			resp = r
			return execErr
		},
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// Get is shorthand for building and executing a GET Request.
func (c *Client) Get(ctx context.Context, rawURL string) (*Response, error) {
	req, err := NewRequest(http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	return c.Do(ctx, req)
}

// DispatcherStats returns a snapshot of current per-host concurrency.
func (c *Client) DispatcherStats() DispatcherStats {
	return c.dispatcher.Stats()
}

// IsTimeoutError reports whether err is a structured timeout error.
func IsTimeoutError(err error) bool { return errors.IsTimeoutError(err) }

// IsTemporaryError reports whether err wraps a net.Error that timed out; no
// other error counts as temporary.
func IsTemporaryError(err error) bool { return errors.IsTemporaryError(err) }

// IsRetriable reports whether err belongs to a category the engine's own
// RetryAndFollowUpInterceptor would have retried internally (useful for an
// application-level retry wrapping calls that exhausted the engine's own
// follow-up budget).
func IsRetriable(err error) bool { return errors.IsRetriable(err) }

// GetErrorType returns the error's classification, or "" if err is not a
// structured *Error.
func GetErrorType(err error) string { return string(errors.GetErrorType(err)) }
