// Package call implements the Request/Response/Call data model and the
// interceptor chain that drives one HTTP exchange end to end (distilled
// spec §4.5, C5): user application interceptors, retry-and-follow-up,
// header synthesis, conditional-request caching, the network connect step,
// and the codec-driving call-server step.
package call

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/nexthttp/nexthttp/pkg/timing"
)

// Request is the caller-facing description of one HTTP request. Tag lets
// application interceptors attach arbitrary per-call metadata that survives
// retries and follow-ups.
type Request struct {
	Method string
	URL    *url.URL
	Header http.Header
	Body   io.Reader

	WriteTimeout time.Duration
	ReadTimeout  time.Duration

	Tag map[string]any
}

// Clone returns a shallow copy of r with a cloned Header map, suitable for
// building a follow-up request without mutating the original.
func (r *Request) Clone() *Request {
	cp := *r
	cp.Header = r.Header.Clone()
	return &cp
}

// Response is what the chain delivers once the codec's response headers are
// fully read. Body is only valid to read once; a caller must Close it even
// if it does not read the body to completion.
type Response struct {
	Request    *Request
	Proto      string
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
	Trailer    http.Header

	// NetworkResponse is set on a response an interceptor rewrote (e.g.
	// gzip inflation) and points at the raw response the network produced;
	// it is nil on a response no interceptor replaced.
	NetworkResponse *Response

	// Metrics holds the phase timings pkg/timing collected for the attempt
	// that produced this Response (connection establishment and TTFB; zero
	// for the fields a retry/redirect follow-up didn't re-measure).
	Metrics timing.Metrics
}

// Close closes the response body, ignoring a nil Body or one already closed.
func (r *Response) Close() error {
	if r == nil || r.Body == nil {
		return nil
	}
	return r.Body.Close()
}

// IsSuccessful reports whether StatusCode is in [200, 300).
func (r *Response) IsSuccessful() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// ctxKey namespaces context values this package injects (the active call ID
// for collab.EventListener callbacks, primarily).
type ctxKey int

const callIDKey ctxKey = 0

func withCallID(ctx context.Context, id uint64) context.Context {
	return context.WithValue(ctx, callIDKey, id)
}

// CallIDFromContext returns the Call ID active on ctx, if any. Exported for
// interceptors (application or network) that want to correlate their own
// logging with collab.EventListener callbacks.
func CallIDFromContext(ctx context.Context) (uint64, bool) {
	id, ok := ctx.Value(callIDKey).(uint64)
	return id, ok
}
