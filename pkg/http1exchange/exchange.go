// Package http1exchange implements the one-in-flight HTTP/1.1 request/
// response exchange over a single connection (distilled spec §4.3, C3):
// IDLE -> WRITING_REQUEST_HEADERS -> [AWAITING_CONTINUE ->] WRITING_BODY ->
// READING_RESPONSE_HEADERS -> READING_BODY -> IDLE, with duplex
// (concurrent request-write and response-read) forbidden. The optional
// AWAITING_CONTINUE state is entered only for an "Expect: 100-continue"
// request, between the headers being written and the body being sent.
package http1exchange

import (
	"bufio"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/nexthttp/nexthttp/pkg/constants"
	"github.com/nexthttp/nexthttp/pkg/errors"
	"github.com/nexthttp/nexthttp/pkg/wire"
)

// State is the exchange's position in its request/response lifecycle.
type State int

const (
	StateIdle State = iota
	StateWritingRequestHeaders
	StateAwaitingContinue
	StateWritingBody
	StateReadingResponseHeaders
	StateReadingBody
	StateClosed
)

// Exchange drives exactly one HTTP/1.1 request/response pair at a time over
// conn. A new Exchange is created per request; the caller decides whether
// the underlying conn is reusable afterward (NoNewExchanges reports no if
// the body was read until-close, or the peer sent Connection: close).
type Exchange struct {
	conn net.Conn
	br   *bufio.Reader

	mu            sync.Mutex
	state         State
	noNewExchange bool

	method  string
	chunked bool
}

// New wraps conn (already connected, already past any TLS handshake) for a
// single HTTP/1.1 exchange. br may be nil, in which case a fresh
// bufio.Reader is created — callers that already buffer reads on conn
// (e.g. a pooled connection) should pass their existing reader so bytes
// are never dropped across exchanges.
func New(conn net.Conn, br *bufio.Reader) *Exchange {
	if br == nil {
		br = bufio.NewReader(conn)
	}
	return &Exchange{conn: conn, br: br, state: StateIdle}
}

// State reports the exchange's current position in the lifecycle.
func (e *Exchange) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Exchange) setState(want, next State) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != want {
		return errors.NewProtocolError("http1 exchange out of order", nil)
	}
	e.state = next
	return nil
}

// NoNewExchanges reports whether the connection must not be reused for a
// further exchange (an until-close body was read, or Connection: close was
// observed on either side).
func (e *Exchange) NoNewExchanges() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.noNewExchange
}

func (e *Exchange) markNonReusable() {
	e.mu.Lock()
	e.noNewExchange = true
	e.mu.Unlock()
}

// WriteRequest writes the request line and headers only. Duplex use is
// forbidden: a caller must not call ReadResponse concurrently with
// WriteRequest — the state machine enforces this by construction, since
// ReadResponse fails with an error unless the exchange has already reached
// StateReadingResponseHeaders.
//
// If headers carries "Expect: 100-continue", the exchange lands in
// StateAwaitingContinue instead of StateWritingBody: the caller must call
// AwaitContinue before WriteBody, per RFC 9110 §10.1.1. Otherwise the caller
// should call WriteBody right away to send the body (if any) and move on to
// reading the response.
func (e *Exchange) WriteRequest(method, path, proto string, headers http.Header, writeTimeout time.Duration) error {
	if err := e.setState(StateIdle, StateWritingRequestHeaders); err != nil {
		return err
	}
	e.mu.Lock()
	e.method = method
	e.chunked = isChunked(headers)
	e.mu.Unlock()

	if connHeaderRequestsClose(headers) {
		e.markNonReusable()
	}

	if writeTimeout > 0 {
		if err := e.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
			return errors.NewIOError("setting write deadline", err)
		}
		defer e.conn.SetWriteDeadline(time.Time{})
	}

	if err := wire.WriteRequestLine(e.conn, method, path, proto); err != nil {
		return errors.NewIOError("writing request line", err)
	}
	if err := wire.WriteHeaders(e.conn, headers); err != nil {
		return errors.NewIOError("writing request headers", err)
	}

	next := StateWritingBody
	if ExpectsContinue(headers) {
		next = StateAwaitingContinue
	}
	return e.setState(StateWritingRequestHeaders, next)
}

// AwaitContinue waits up to timeout for the server's answer to an
// "Expect: 100-continue" request written by WriteRequest: a 100 Continue
// (proceed=true, resp nil) clears the body to be sent by WriteBody; any
// other status (proceed=false, resp non-nil) is a response the server
// already committed to without asking for the body — typically an early
// rejection — and the caller must not call WriteBody at all. A 102
// Processing is consumed transparently and does not end the wait. If
// nothing arrives within timeout, the client proceeds with the body anyway
// per RFC 9110 §10.1.1 (proceed=true, resp nil).
func (e *Exchange) AwaitContinue(timeout time.Duration) (resp *Response, proceed bool, err error) {
	if err := e.setState(StateAwaitingContinue, StateAwaitingContinue); err != nil {
		return nil, false, err
	}
	if timeout <= 0 {
		timeout = constants.DefaultReadTimeout
	}
	if err := e.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, false, errors.NewIOError("setting read deadline", err)
	}
	defer e.conn.SetReadDeadline(time.Time{})

	for {
		status, headers, err := e.readStatusAndHeaders()
		if err != nil {
			if errors.IsTimeoutError(err) {
				if err := e.setState(StateAwaitingContinue, StateWritingBody); err != nil {
					return nil, false, err
				}
				return nil, true, nil
			}
			return nil, false, err
		}
		switch status.StatusCode {
		case http.StatusContinue:
			if err := e.setState(StateAwaitingContinue, StateWritingBody); err != nil {
				return nil, false, err
			}
			return nil, true, nil
		case http.StatusProcessing:
			continue
		default:
			if err := e.setState(StateAwaitingContinue, StateReadingResponseHeaders); err != nil {
				return nil, false, err
			}
			resp, err := e.finishResponse(status, headers)
			return resp, false, err
		}
	}
}

// WriteBody sends body (nil for none), honoring the Transfer-Encoding
// framing decided from the headers passed to WriteRequest, then transitions
// to reading the response. For a plain request, call this right after
// WriteRequest; for an "Expect: 100-continue" request, call it only once
// AwaitContinue reports proceed == true.
func (e *Exchange) WriteBody(body io.Reader, writeTimeout time.Duration) error {
	if err := e.setState(StateWritingBody, StateWritingBody); err != nil {
		return err
	}

	if writeTimeout > 0 {
		if err := e.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
			return errors.NewIOError("setting write deadline", err)
		}
		defer e.conn.SetWriteDeadline(time.Time{})
	}

	if body != nil {
		e.mu.Lock()
		chunked := e.chunked
		e.mu.Unlock()
		if chunked {
			cw := wire.NewChunkedWriter(e.conn)
			if _, err := io.Copy(cw, body); err != nil {
				return errors.NewIOError("writing chunked request body", err)
			}
			if err := cw.Close(); err != nil {
				return errors.NewIOError("closing chunked request body", err)
			}
		} else {
			if _, err := io.Copy(e.conn, body); err != nil {
				return errors.NewIOError("writing request body", err)
			}
		}
	}

	return e.setState(StateWritingBody, StateReadingResponseHeaders)
}

// Response is what ReadResponse delivers once the status line and header
// block are parsed; the caller reads Body until io.EOF.
type Response struct {
	Proto      string
	StatusCode int
	Reason     string
	Headers    http.Header
	Body       io.ReadCloser
	Trailer    http.Header
}

// ReadResponse reads the status line and headers, transparently skipping
// any "100 Continue" or "102 Processing" informational responses the
// server sends ahead of the real one, and returns a Response whose Body
// frames the entity per RFC 9110 §6.4.1/§8.6 (Transfer-Encoding takes
// priority over Content-Length, which takes priority over a
// close-delimited body). "101 Switching Protocols" and "103 Early Hints"
// are not skipped: they are returned to the caller like any other status,
// since the caller (not this package) decides what to do with a protocol
// upgrade or a preload hint. readTimeout, if positive, bounds the header
// read; the body reader itself is not separately deadlined here (the
// caller's context should drive cancellation for streaming bodies).
func (e *Exchange) ReadResponse(readTimeout time.Duration) (*Response, error) {
	if err := e.setState(StateReadingResponseHeaders, StateReadingResponseHeaders); err != nil {
		return nil, err
	}

	if readTimeout > 0 {
		if err := e.conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
			return nil, errors.NewIOError("setting read deadline", err)
		}
		defer e.conn.SetReadDeadline(time.Time{})
	}

	for {
		status, headers, err := e.readStatusAndHeaders()
		if err != nil {
			return nil, err
		}
		if status.StatusCode == http.StatusContinue || status.StatusCode == http.StatusProcessing {
			continue
		}
		return e.finishResponse(status, headers)
	}
}

// readStatusAndHeaders reads one status line and header block, with no
// state transition of its own — callers (ReadResponse's skip loop,
// AwaitContinue) decide what a given status means for the exchange's
// state.
func (e *Exchange) readStatusAndHeaders() (wire.StatusLine, http.Header, error) {
	status, err := wire.ReadStatusLine(e.br)
	if err != nil {
		e.markNonReusable()
		return wire.StatusLine{}, nil, errors.NewIOError("reading status line", err)
	}

	headers, err := wire.ReadHeaders(e.br, constants.MaxHeaderBlockBytes)
	if err != nil {
		e.markNonReusable()
		return wire.StatusLine{}, nil, errors.NewIOError("reading response headers", err)
	}

	if connHeaderRequestsClose(headers) {
		e.markNonReusable()
	}

	return status, headers, nil
}

// finishResponse decides body framing for a status/header pair that is
// going to be surfaced to the caller (as opposed to transparently skipped)
// and sets up the Response's body reader. The exchange must already be in
// StateReadingResponseHeaders.
func (e *Exchange) finishResponse(status wire.StatusLine, headers http.Header) (*Response, error) {
	framing, length, err := wire.DecideBodyFraming(e.method, status.StatusCode, headers)
	if err != nil {
		e.markNonReusable()
		return nil, err
	}

	if err := e.setState(StateReadingResponseHeaders, StateReadingBody); err != nil {
		return nil, err
	}

	resp := &Response{
		Proto:      status.Proto,
		StatusCode: status.StatusCode,
		Reason:     status.Reason,
		Headers:    headers,
	}

	switch framing {
	case FramingNone:
		resp.Body = io.NopCloser(http.NoBody)
		if status.StatusCode == http.StatusSwitchingProtocols {
			// the connection now speaks whatever protocol was switched to;
			// it must never be handed back for another HTTP/1.1 exchange.
			e.markNonReusable()
		} else if err := e.setState(StateReadingBody, StateIdle); err != nil {
			return nil, err
		}
	case FramingChunked:
		cr := wire.NewChunkedReader(e.br)
		resp.Body = &bodyReader{e: e, r: cr, trailer: &resp.Trailer, cr: cr}
	case FramingFixedLength:
		resp.Body = &bodyReader{e: e, r: wire.NewFixedLengthReader(e.br, length)}
	case FramingUntilClose:
		e.markNonReusable()
		resp.Body = &bodyReader{e: e, r: wire.NewUntilCloseReader(e.br), untilClose: true}
	}

	return resp, nil
}

// bodyReader wraps whichever wire.* reader matches the message's framing
// and transitions the exchange back to Idle (so it may host a further
// exchange) once the body is fully drained.
type bodyReader struct {
	e          *Exchange
	r          io.Reader
	cr         *wire.ChunkedReader
	trailer    *http.Header
	untilClose bool
	done       bool
}

func (b *bodyReader) Read(p []byte) (int, error) {
	n, err := b.r.Read(p)
	if err == io.EOF && !b.done {
		b.done = true
		if b.cr != nil {
			*b.trailer = b.cr.Trailer
		}
		if !b.untilClose {
			b.e.setState(StateReadingBody, StateIdle)
		}
	}
	return n, err
}

func (b *bodyReader) Close() error {
	if !b.done {
		b.done = true
		b.e.markNonReusable()
	}
	return nil
}

func connHeaderRequestsClose(h http.Header) bool {
	for _, v := range h.Values("Connection") {
		if httpTokenEquals(v, "close") {
			return true
		}
	}
	return false
}

func isChunked(h http.Header) bool {
	for _, v := range h.Values("Transfer-Encoding") {
		if httpTokenEquals(v, "chunked") {
			return true
		}
	}
	return false
}

// ExpectsContinue reports whether h carries "Expect: 100-continue"
// (RFC 9110 §10.1.1); pkg/call uses this to decide whether to drive the
// WriteRequest/AwaitContinue/WriteBody sequence instead of writing the body
// straight after the headers.
func ExpectsContinue(h http.Header) bool {
	for _, v := range h.Values("Expect") {
		if httpTokenEquals(v, "100-continue") {
			return true
		}
	}
	return false
}

func httpTokenEquals(v, want string) bool {
	if len(v) != len(want) {
		return false
	}
	for i := 0; i < len(v); i++ {
		c := v[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		if c != want[i] {
			return false
		}
	}
	return true
}

// reexported BodyFraming constants for callers that only import this
// package (pkg/call) and shouldn't need a direct pkg/wire dependency just
// to branch on framing kind.
const (
	FramingNone         = wire.FramingNone
	FramingChunked      = wire.FramingChunked
	FramingFixedLength  = wire.FramingFixedLength
	FramingUntilClose   = wire.FramingUntilClose
)
