package call

import (
	"io"
	"time"

	"github.com/nexthttp/nexthttp/pkg/pool"
)

// CallServerInterceptor is the terminal interceptor: it drives the codec
// bound to chain.Conn and produces the Response the rest of the chain
// unwinds through. It never calls chain.Proceed.
type CallServerInterceptor struct{}

func (cs *CallServerInterceptor) Intercept(chain *Chain) (*Response, error) {
	req := chain.Request()
	conn := chain.Conn
	if conn == nil {
		panic("call: CallServerInterceptor reached with no connection attached")
	}
	call := chain.Call()
	listener := call.client.Listener
	id := call.id

	codec, err := newCodec(conn)
	if err != nil {
		call.releaseOnError(conn)
		return nil, err
	}

	var bodyCounter *countingReader
	if req.Body != nil {
		bodyCounter = &countingReader{r: req.Body}
		req.Body = bodyCounter
	}

	listener.RequestBodyStart(id)
	writeErr := codec.WriteRequest(req)
	listener.RequestBodyEnd(id, bodyCounter.bytesWritten())
	if writeErr != nil {
		call.releaseOnError(conn)
		return nil, writeErr
	}

	call.timer.StartTTFB()
	status, proto, header, err := codec.ReadResponseHeaders(chain.Context())
	call.timer.EndTTFB()
	if err != nil {
		call.releaseOnError(conn)
		return nil, err
	}

	listener.ResponseBodyStart(id)
	resp := &Response{
		Request:    req,
		Proto:      proto,
		StatusCode: status,
		Header:     header,
		Body:       &releasingBody{inner: codec.Body(), conn: conn, call: call, listener: listener, callID: id},
		Trailer:    codec.Trailer(),
		Metrics:    call.timer.GetMetrics(),
	}
	return resp, nil
}

// countingReader tracks how many bytes were read from a request body so
// RequestBodyEnd can report an accurate byteCount; nil-safe so callers with
// no body can pass a nil *countingReader straight to bytesWritten.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

func (c *countingReader) bytesWritten() int64 {
	if c == nil {
		return 0
	}
	return c.n
}

// releasingBody wraps a codec's response body so that closing it (whether
// the caller drains it or abandons it early) returns the underlying
// connection to the pool, mirroring the teacher client's body-close-releases
// pattern, and reports ResponseBodyEnd/ConnectionReleased to the listener.
type releasingBody struct {
	inner interface {
		Read(p []byte) (int, error)
		Close() error
	}
	conn     *pool.Connection
	call     *Call
	listener interface {
		ResponseBodyEnd(callID uint64, byteCount int64)
		ConnectionReleased(callID uint64, addr string)
	}
	callID uint64
	read   int64
	freed  bool
}

func (b *releasingBody) Read(p []byte) (int, error) {
	n, err := b.inner.Read(p)
	b.read += int64(n)
	return n, err
}

func (b *releasingBody) Close() error {
	err := b.inner.Close()
	if !b.freed {
		b.freed = true
		b.listener.ResponseBodyEnd(b.callID, b.read)
		b.listener.ConnectionReleased(b.callID, b.conn.Addr.Key())
		b.call.pool.Release(b.conn)
	}
	return err
}

// releaseOnError marks conn non-reusable and releases it back to the pool's
// eviction path when an exchange fails before producing a Response (so
// nothing will ever call releasingBody.Close to do it).
func (c *Call) releaseOnError(conn *pool.Connection) {
	conn.NoNewExchanges()
	conn.MarkIdle(time.Now())
	c.client.Listener.ConnectionReleased(c.id, conn.Addr.Key())
}
