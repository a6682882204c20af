package call

import (
	"context"

	"github.com/nexthttp/nexthttp/pkg/pool"
)

// Interceptor is one link in the chain; it may inspect/rewrite the request,
// call chain.Proceed to hand off to the next link, and inspect/rewrite the
// resulting Response.
type Interceptor interface {
	Intercept(chain *Chain) (*Response, error)
}

// InterceptorFunc adapts a plain function to Interceptor.
type InterceptorFunc func(chain *Chain) (*Response, error)

// Intercept calls f.
func (f InterceptorFunc) Intercept(chain *Chain) (*Response, error) { return f(chain) }

// Chain is the state threaded through one pass over the interceptor list:
// which interceptor runs next, the request as of this point, and (once the
// connect interceptor has run) the pooled Connection the call-server
// interceptor drives.
type Chain struct {
	ctx          context.Context
	interceptors []Interceptor
	index        int
	request      *Request
	call         *Call

	// Conn is set by ConnectInterceptor once a pool.Connection has been
	// acquired, and read by CallServerInterceptor; nil before that point.
	Conn *pool.Connection
}

// Request returns the request as of this point in the chain.
func (c *Chain) Request() *Request { return c.request }

// Context returns the call's context, carrying its call ID and deadline.
func (c *Chain) Context() context.Context { return c.ctx }

// Call returns the Call this chain belongs to, for interceptors that need
// engine-level collaborators (pool, dispatcher config, event listener).
func (c *Chain) Call() *Call { return c.call }

// Proceed invokes the next interceptor in the chain with (possibly
// rewritten) req, or — once the list is exhausted — panics, since
// CallServerInterceptor must always be the last interceptor and must itself
// produce the terminal Response rather than calling Proceed.
func (c *Chain) Proceed(req *Request) (*Response, error) {
	if c.index >= len(c.interceptors) {
		panic("call: no interceptor terminated the chain — CallServerInterceptor must not call Proceed")
	}
	next := &Chain{
		ctx:          c.ctx,
		interceptors: c.interceptors,
		index:        c.index + 1,
		request:      req,
		call:         c.call,
		Conn:         c.Conn,
	}
	return c.interceptors[c.index].Intercept(next)
}

// proceedWithConn behaves like Proceed but additionally attaches conn to the
// chain passed to the next interceptor; used by ConnectInterceptor once it
// has acquired a pool.Connection for the request's Address.
func (c *Chain) proceedWithConn(req *Request, conn *pool.Connection) (*Response, error) {
	if c.index >= len(c.interceptors) {
		panic("call: no interceptor terminated the chain — CallServerInterceptor must not call Proceed")
	}
	next := &Chain{
		ctx:          c.ctx,
		interceptors: c.interceptors,
		index:        c.index + 1,
		request:      req,
		call:         c.call,
		Conn:         conn,
	}
	return c.interceptors[c.index].Intercept(next)
}

// newChain builds the initial Chain for a fresh pass through interceptors,
// a list the caller (Call.Execute) has already assembled from app-supplied
// interceptors and the engine's own fixed stages.
func newChain(ctx context.Context, call *Call, req *Request, interceptors []Interceptor) *Chain {
	return &Chain{
		ctx:          ctx,
		interceptors: interceptors,
		index:        0,
		request:      req,
		call:         call,
	}
}
