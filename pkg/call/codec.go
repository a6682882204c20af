package call

import (
	"context"
	"io"
	"net/http"

	"github.com/nexthttp/nexthttp/pkg/http1exchange"
	"github.com/nexthttp/nexthttp/pkg/http2engine"
	"github.com/nexthttp/nexthttp/pkg/pool"
)

// Codec is the capability both HTTP/1.1 exchanges and HTTP/2 streams
// implement (§9 sum-typing note): CallServerInterceptor drives either
// through this one interface without caring which wire protocol is
// underneath.
type Codec interface {
	WriteRequest(req *Request) error
	ReadResponseHeaders(ctx context.Context) (status int, proto string, header http.Header, err error)
	Body() io.ReadCloser
	Trailer() http.Header
	Close() error
}

// newCodec picks the HTTP/1.1 or HTTP/2 codec for pc, per whether the
// connection negotiated H2 during the TLS handshake (or prior-knowledge
// cleartext).
func newCodec(pc *pool.Connection) (Codec, error) {
	if pc.IsMultiplexed() {
		h2, err := pc.H2()
		if err != nil {
			return nil, err
		}
		return &http2Codec{conn: h2}, nil
	}
	return &http1Codec{ex: http1exchange.New(pc.Conn.Conn, pc.BufReader())}, nil
}

// http2Codec adapts a single http2engine.Stream (opened lazily by
// WriteRequest) to Codec.
type http2Codec struct {
	conn   *http2engine.Connection
	stream *http2engine.Stream
}

func (c *http2Codec) WriteRequest(req *Request) error {
	var body []byte
	if req.Body != nil {
		b, err := io.ReadAll(req.Body)
		if err != nil {
			return err
		}
		body = b
	}
	scheme := req.URL.Scheme
	authority := req.URL.Host
	path := req.URL.RequestURI()
	s, err := c.conn.OpenStream(req.Method, scheme, authority, path, req.Header, body, true)
	if err != nil {
		return err
	}
	c.stream = s
	return nil
}

func (c *http2Codec) ReadResponseHeaders(ctx context.Context) (int, string, http.Header, error) {
	h, err := c.stream.WaitHeaders(ctx)
	if err != nil {
		return 0, "", nil, err
	}
	return h.Status, "HTTP/2.0", h.Headers, nil
}

func (c *http2Codec) Body() io.ReadCloser { return c.stream.Body() }

func (c *http2Codec) Trailer() http.Header { return c.stream.Trailer() }

func (c *http2Codec) Close() error {
	if c.stream == nil {
		return nil
	}
	return c.conn.Cancel(c.stream)
}

// http1Codec adapts a single http1exchange.Exchange to Codec.
type http1Codec struct {
	ex   *http1exchange.Exchange
	req  *Request
	resp *http1exchange.Response
}

// WriteRequest writes the request line and headers, then — unless the
// caller set "Expect: 100-continue", in which case it waits up to
// req.ReadTimeout for the server's interim answer before deciding whether
// to send a body at all — writes the body.
func (c *http1Codec) WriteRequest(req *Request) error {
	c.req = req
	path := req.URL.RequestURI()
	if err := c.ex.WriteRequest(req.Method, path, "HTTP/1.1", req.Header, req.WriteTimeout); err != nil {
		return err
	}

	if http1exchange.ExpectsContinue(req.Header) {
		resp, proceed, err := c.ex.AwaitContinue(req.ReadTimeout)
		if err != nil {
			return err
		}
		if !proceed {
			// the server already answered (typically an early rejection)
			// without asking for the body; ReadResponseHeaders returns this
			// cached response instead of reading another one.
			c.resp = resp
			return nil
		}
	}

	return c.ex.WriteBody(req.Body, req.WriteTimeout)
}

func (c *http1Codec) ReadResponseHeaders(ctx context.Context) (int, string, http.Header, error) {
	if c.resp != nil {
		return c.resp.StatusCode, c.resp.Proto, c.resp.Headers, nil
	}
	resp, err := c.ex.ReadResponse(c.req.ReadTimeout)
	if err != nil {
		return 0, "", nil, err
	}
	c.resp = resp
	return resp.StatusCode, resp.Proto, resp.Headers, nil
}

func (c *http1Codec) Body() io.ReadCloser {
	if c.resp == nil {
		return http.NoBody
	}
	return c.resp.Body
}

func (c *http1Codec) Trailer() http.Header {
	if c.resp == nil {
		return nil
	}
	return c.resp.Trailer
}

func (c *http1Codec) Close() error {
	if c.resp != nil && c.resp.Body != nil {
		return c.resp.Body.Close()
	}
	return nil
}
