package http2engine

import (
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/net/http2"

	"github.com/nexthttp/nexthttp/pkg/constants"
	"github.com/nexthttp/nexthttp/pkg/errors"
	"github.com/nexthttp/nexthttp/pkg/wire"
)

// Config tunes a single Connection's flow-control and health-check
// behavior.
type Config struct {
	InitialWindow       int32 // our advertised per-stream/connection window
	MaxConcurrentStreams uint32
	DegradedPongTimeout time.Duration
}

// DefaultConfig mirrors the constants package's engine defaults.
func DefaultConfig() Config {
	return Config{
		InitialWindow:        constants.DefaultInitialWindow,
		MaxConcurrentStreams: 100,
		DegradedPongTimeout:  constants.DegradedPongTimeout,
	}
}

// Connection is one HTTP/2 connection: a single reader goroutine decoding
// frames and dispatching them to streams, and a mutex-guarded writer any
// number of goroutines may use to send frames. Per the engine's lock
// ordering, the stream table's lock is always taken before writeMu, never
// the reverse.
type Connection struct {
	cfg    Config
	conn   net.Conn
	codec  *wire.FrameCodec
	hpack  *wire.HeaderCodec

	writeMu sync.Mutex

	streams    *streamTable
	nextStream uint32 // next client-initiated (odd) stream ID

	connWindowIn  *flowWindow // inbound connection-level accounting
	connWindowOut *peerWindow // outbound budget the peer granted us

	peerMaxConcurrent uint32
	peerInitialWindow int64
	peerMaxFrameSize  uint32

	lastGoodStreamID uint32
	goAwayCode       http2.ErrCode
	closed           int32 // atomic bool

	pingMu      sync.Mutex
	pendingPing map[uint64]chan struct{}
	pingSeq     uint64
	lastPongAt  time.Time

	readErr  error
	doneCh   chan struct{}
	doneOnce sync.Once

	// The header* fields accumulate a HEADERS (+ CONTINUATION) sequence that
	// the reader loop reassembles before handing it to hpack.Decode.
	headerStreamID uint32
	headerBlock    []byte
	headerIsTrailer bool
	headerEndStream bool
}

// New wraps an already-connected, already-negotiated socket (ALPN "h2" or
// prior-knowledge cleartext) as a multiplexing Connection. The client
// connection preface (RFC 7540 §3.5) is sent unconditionally — ALPN only
// decides whether a TLS handshake happened first, not whether the preface
// is required, so every caller sends it the same way.
func New(conn net.Conn, cfg Config) (*Connection, error) {
	if cfg.InitialWindow <= 0 {
		cfg = DefaultConfig()
	}

	c := &Connection{
		cfg:               cfg,
		conn:              conn,
		codec:             wire.NewFrameCodec(conn, 0),
		hpack:             wire.NewHeaderCodec(),
		streams:           newStreamTable(),
		nextStream:        1,
		connWindowIn:      newFlowWindow(int64(cfg.InitialWindow)),
		connWindowOut:     newPeerWindow(constants.PeerInitialWindow),
		peerInitialWindow: constants.PeerInitialWindow,
		peerMaxConcurrent: 100,
		peerMaxFrameSize:  constants.PeerDefaultMaxFrameSize,
		pendingPing:       make(map[uint64]chan struct{}),
		lastPongAt:        time.Now(),
		doneCh:            make(chan struct{}),
	}

	// The reader starts before the preface and SETTINGS are written, so a
	// peer that answers at once cannot leave both ends blocked in Write on
	// an unbuffered net.Conn; writeMu keeps these writes apart from its acks.
	go c.readLoop()

	c.writeMu.Lock()
	if err := wire.WritePreface(conn); err != nil {
		c.writeMu.Unlock()
		return nil, errors.NewIOError("writing client preface", err)
	}

	if err := c.codec.WriteSettings(
		http2.Setting{ID: http2.SettingInitialWindowSize, Val: uint32(cfg.InitialWindow)},
		http2.Setting{ID: http2.SettingMaxConcurrentStreams, Val: cfg.MaxConcurrentStreams},
	); err != nil {
		c.writeMu.Unlock()
		return nil, errors.NewIOError("writing initial SETTINGS", err)
	}
	if err := c.codec.WriteWindowUpdate(0, uint32(cfg.InitialWindow)-constants.PeerInitialWindow); err != nil {
		// best-effort: when InitialWindow is at or below the 65535 default the
		// increment is 0 or wraps past 2^31-1, and the Framer refuses to send it
	}
	c.writeMu.Unlock()

	c.StartHealthCheck()
	return c, nil
}

// Done returns a channel closed once the connection is torn down: the
// reader loop hit a read or protocol error, or Close was called. An inbound
// GOAWAY does not close it.
func (c *Connection) Done() <-chan struct{} { return c.doneCh }

// Err returns the error that ended the connection, if any.
func (c *Connection) Err() error { return c.readErr }

// IsClosed reports whether the connection has stopped accepting new
// streams (either a local Close or a GOAWAY was processed).
func (c *Connection) IsClosed() bool { return atomic.LoadInt32(&c.closed) != 0 }

// LastGoodStreamID is the GOAWAY-advertised highest stream ID the peer
// processed — streams above it are safe to retry on a new connection
// (RFC 7540 §6.8).
func (c *Connection) LastGoodStreamID() uint32 {
	return atomic.LoadUint32(&c.lastGoodStreamID)
}

// OpenStreamCount reports the number of streams currently open or
// half-closed, used by the pool to decide whether a connection can still
// accept work.
func (c *Connection) OpenStreamCount() int { return c.streams.count() }

// CanOpenStream reports whether the connection is healthy and under its
// peer-advertised concurrent-stream limit.
func (c *Connection) CanOpenStream() bool {
	if c.IsClosed() {
		return false
	}
	return uint32(c.streams.count()) < c.peerMaxConcurrent
}

// OpenStream allocates a new client-initiated stream and sends its HEADERS
// frame (and, if body is non-empty, the DATA frames), returning the Stream
// handle the caller reads the response from.
func (c *Connection) OpenStream(method, scheme, authority, path string, headers http.Header, body []byte, endStream bool) (*Stream, error) {
	if !c.CanOpenStream() {
		return nil, errors.NewConnectionClosedError(authority, nil)
	}

	c.writeMu.Lock()
	id := c.nextStream
	c.nextStream += 2
	c.writeMu.Unlock()

	s := newStream(id, method, path, scheme, authority, headers)
	s.setState(StateOpen)
	c.streams.put(s)

	block, err := c.hpack.EncodeRequest(wire.RequestPseudoHeaders{
		Method: method, Scheme: scheme, Authority: authority, Path: path,
	}, headers)
	if err != nil {
		c.streams.delete(id)
		return nil, err
	}

	c.writeMu.Lock()
	err = c.codec.WriteHeaders(http2.HeadersFrameParam{
		StreamID:      id,
		BlockFragment: block,
		EndHeaders:    true,
		EndStream:     endStream && len(body) == 0,
	})
	c.writeMu.Unlock()
	if err != nil {
		c.streams.delete(id)
		return nil, err
	}

	if len(body) > 0 {
		if err := c.WriteData(s, body, endStream); err != nil {
			return nil, err
		}
	} else if endStream {
		s.setState(StateHalfClosedLocal)
	}

	return s, nil
}

// WriteData sends body on s, respecting both the stream and connection
// outbound flow-control windows and the peer's advertised
// SETTINGS_MAX_FRAME_SIZE, splitting into multiple DATA frames as budget
// becomes available.
func (c *Connection) WriteData(s *Stream, body []byte, endStream bool) error {
	remaining := body
	for len(remaining) > 0 {
		want := int64(len(remaining))
		if maxFrame := int64(c.peerMaxFrameSize); want > maxFrame {
			want = maxFrame
		}

		streamGrant := s.peerWindow.reserve(want, func() bool { return c.IsClosed() || s.isDone() })
		if streamGrant <= 0 {
			return errors.NewConnectionClosedError(s.Authority, nil)
		}

		connGrant := c.connWindowOut.reserve(streamGrant, c.IsClosed)
		if connGrant <= 0 {
			// give back the stream-level reservation we can't yet spend
			s.peerWindow.add(streamGrant)
			return errors.NewConnectionClosedError(s.Authority, nil)
		}
		if connGrant < streamGrant {
			s.peerWindow.add(streamGrant - connGrant)
		}
		grant := connGrant

		chunk := remaining[:grant]
		remaining = remaining[grant:]

		c.writeMu.Lock()
		err := c.codec.WriteData(s.ID, endStream && len(remaining) == 0, chunk)
		c.writeMu.Unlock()
		if err != nil {
			return err
		}
	}
	if endStream {
		s.setState(StateHalfClosedLocal)
	}
	return nil
}

// Ping sends a PING frame and blocks until the matching ACK arrives or
// DegradedPongTimeout elapses, returning an error in the latter case (the
// "degraded pong" health signal: the health-check loop closes the
// connection on it, and the pool stops handing out a connection whose
// engine is closed).
func (c *Connection) Ping() error {
	c.pingMu.Lock()
	seq := c.pingSeq
	c.pingSeq++
	ch := make(chan struct{})
	c.pendingPing[seq] = ch
	c.pingMu.Unlock()

	var data [8]byte
	for i := 0; i < 8; i++ {
		data[i] = byte(seq >> (8 * i))
	}

	c.writeMu.Lock()
	err := c.codec.WritePing(false, data)
	c.writeMu.Unlock()
	if err != nil {
		return err
	}

	timeout := c.cfg.DegradedPongTimeout
	if timeout <= 0 {
		timeout = constants.DegradedPongTimeout
	}
	select {
	case <-ch:
		return nil
	case <-time.After(timeout):
		c.pingMu.Lock()
		delete(c.pendingPing, seq)
		c.pingMu.Unlock()
		return errors.NewTimeoutError("ping", timeout)
	case <-c.doneCh:
		return errors.NewConnectionClosedError("", c.readErr)
	}
}

// GoAway sends a graceful GOAWAY advertising the highest stream ID we have
// processed, then marks the connection closed to new streams.
func (c *Connection) GoAway(code http2.ErrCode) error {
	atomic.StoreInt32(&c.closed, 1)
	c.writeMu.Lock()
	err := c.codec.WriteGoAway(c.LastGoodStreamID(), code, nil)
	c.writeMu.Unlock()
	return err
}

// Close tears down the connection immediately, finishing every open stream
// with a connection-closed error.
func (c *Connection) Close() error {
	atomic.StoreInt32(&c.closed, 1)
	err := c.conn.Close()
	c.finishAll(errors.NewConnectionClosedError("", err))
	return err
}

func (c *Connection) finishAll(err error) {
	for _, s := range c.streams.all() {
		s.finish(err)
	}
	c.connWindowOut.release()
	c.doneOnce.Do(func() { close(c.doneCh) })
}

// finishStreamsAbove fails every stream with ID greater than lastGood with a
// retriable stream-reset error and removes it from the table, leaving
// streams at or below lastGood untouched so they can run to completion —
// GOAWAY only forbids the peer having seen streams above the one it names,
// it is not a teardown of the connection itself.
func (c *Connection) finishStreamsAbove(lastGood uint32) {
	for _, s := range c.streams.all() {
		if s.ID > lastGood {
			s.finish(errors.NewStreamResetError(s.ID, uint32(http2.ErrCodeRefusedStream), false))
			c.streams.delete(s.ID)
		}
	}
}
