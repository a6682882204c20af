// Package http2engine is a concurrent, single-reader/many-writer HTTP/2
// engine (distilled spec §4.2, C2): stream multiplexing over one
// connection, dual flow-control windows, GOAWAY-aware retry eligibility,
// and PING-based health checks.
package http2engine

import (
	"net/http"
	"sync"

	"github.com/nexthttp/nexthttp/pkg/constants"
)

// StreamState is the RFC 7540 §5.1 stream state machine.
type StreamState int

const (
	StateIdle StreamState = iota
	StateReservedLocal
	StateReservedRemote
	StateOpen
	StateHalfClosedLocal
	StateHalfClosedRemote
	StateClosed
)

// Stream is one HTTP/2 request/response exchange multiplexed on a
// Connection.
type Stream struct {
	ID uint32

	mu    sync.Mutex
	state StreamState

	// peerWindow is the peer-advertised outbound budget for DATA we may
	// send on this stream (RFC 7540 §6.9); windowIn is our own inbound
	// accounting for DATA the peer sends us. Every outbound DATA frame
	// must fit within both this and the connection-level peerWindow.
	peerWindow *peerWindow
	windowIn   *flowWindow

	RequestHeaders http.Header
	Method, Path, Scheme, Authority string

	respOnce       sync.Once
	headersDelivered bool
	respCh         chan *ResponseHeaders

	// bodyQ/bodyMu back an unbounded, non-blocking handoff of DATA payloads
	// from the reader goroutine to whatever goroutine is draining this
	// stream's Body(): deliverData must never block, or a slow body
	// consumer on one stream would stall the single reader goroutine for
	// every other multiplexed stream on the connection. bodySig wakes a
	// blocked Read when bodyQ gains an entry.
	bodyMu  sync.Mutex
	bodyQ   [][]byte
	bodySig chan struct{}

	trailerCh      chan http.Header
	errCh          chan error
	doneCh         chan struct{}
	doneOnce       sync.Once

	resetCode      uint32
	resetByPeer    bool
}

// ResponseHeaders is what the engine delivers once :status and regular
// response headers have been fully decoded for a stream.
type ResponseHeaders struct {
	Status  int
	Headers http.Header
}

func newStream(id uint32, method, path, scheme, authority string, headers http.Header) *Stream {
	return &Stream{
		ID:             id,
		state:          StateIdle,
		peerWindow:     newPeerWindow(constants.PeerInitialWindow),
		windowIn:       newFlowWindow(constants.DefaultInitialWindow),
		RequestHeaders: headers,
		Method:         method,
		Path:           path,
		Scheme:         scheme,
		Authority:      authority,
		respCh:         make(chan *ResponseHeaders, 1),
		bodySig:        make(chan struct{}, 1),
		trailerCh:      make(chan http.Header, 1),
		errCh:          make(chan error, 1),
		doneCh:         make(chan struct{}),
	}
}

// State returns the stream's current RFC 7540 state.
func (s *Stream) State() StreamState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Stream) setState(next StreamState) {
	s.mu.Lock()
	s.state = next
	s.mu.Unlock()
}

func (s *Stream) isOpenForWrite() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateOpen || s.state == StateHalfClosedRemote
}

func (s *Stream) isOpenForRead() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateOpen || s.state == StateHalfClosedLocal
}

// deliverHeaders is called by the reader goroutine when a stream's response
// HEADERS frame is fully decoded.
func (s *Stream) deliverHeaders(h *ResponseHeaders) {
	s.respOnce.Do(func() {
		s.mu.Lock()
		s.headersDelivered = true
		s.mu.Unlock()
		s.respCh <- h
	})
}

// hasHeaders reports whether the stream's initial response HEADERS has
// already been delivered — used by the reader loop to tell a trailer
// HEADERS block apart from the initial response block.
func (s *Stream) hasHeaders() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.headersDelivered
}

// deliverData is called by the reader goroutine for each DATA frame
// payload. It never blocks: the payload is queued and a reader wakeup is
// signaled best-effort, so a slow Body() consumer on this stream cannot
// stall the connection's single reader goroutine.
func (s *Stream) deliverData(p []byte) {
	if len(p) == 0 {
		return
	}
	s.bodyMu.Lock()
	s.bodyQ = append(s.bodyQ, p)
	s.bodyMu.Unlock()
	select {
	case s.bodySig <- struct{}{}:
	default:
	}
}

// popData removes and returns the oldest queued DATA payload, if any.
func (s *Stream) popData() ([]byte, bool) {
	s.bodyMu.Lock()
	defer s.bodyMu.Unlock()
	if len(s.bodyQ) == 0 {
		return nil, false
	}
	chunk := s.bodyQ[0]
	s.bodyQ = s.bodyQ[1:]
	return chunk, true
}

// deliverTrailers is called by the reader goroutine for a trailing HEADERS
// frame (RFC 7540 §8.1.3).
func (s *Stream) deliverTrailers(h http.Header) {
	select {
	case s.trailerCh <- h:
	default:
	}
}

// finish marks the stream done, either successfully (err == nil) or with a
// terminal error (reset, connection loss, cancellation).
func (s *Stream) finish(err error) {
	s.doneOnce.Do(func() {
		if err != nil {
			s.errCh <- err
		}
		close(s.doneCh)
		s.peerWindow.release()
	})
}

// isDone reports whether the stream has finished, for use as a reserve()
// closed-check so a blocked writer wakes up when its own stream ends even
// if the connection as a whole stays open.
func (s *Stream) isDone() bool {
	select {
	case <-s.doneCh:
		return true
	default:
		return false
	}
}

// markReset records the RST_STREAM code a stream was closed with, for the
// retry-eligibility decision in pkg/call.
func (s *Stream) markReset(code uint32, byPeer bool) {
	s.mu.Lock()
	s.resetCode = code
	s.resetByPeer = byPeer
	s.state = StateClosed
	s.mu.Unlock()
}

// ResetInfo reports the RST_STREAM code and origin, if the stream was reset.
func (s *Stream) ResetInfo() (code uint32, byPeer, wasReset bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resetCode, s.resetByPeer, s.state == StateClosed && s.resetCode != 0
}

// streamTable is the connection's id -> *Stream map. A single mutex guards
// it; per the engine's lock-ordering rule this lock is always acquired
// before Connection.writeMu, never after.
type streamTable struct {
	mu      sync.Mutex
	streams map[uint32]*Stream
}

func newStreamTable() *streamTable {
	return &streamTable{streams: make(map[uint32]*Stream)}
}

func (t *streamTable) put(s *Stream) {
	t.mu.Lock()
	t.streams[s.ID] = s
	t.mu.Unlock()
}

func (t *streamTable) get(id uint32) (*Stream, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.streams[id]
	return s, ok
}

func (t *streamTable) delete(id uint32) {
	t.mu.Lock()
	delete(t.streams, id)
	t.mu.Unlock()
}

func (t *streamTable) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, s := range t.streams {
		if st := s.State(); st == StateOpen || st == StateHalfClosedLocal || st == StateHalfClosedRemote {
			n++
		}
	}
	return n
}

// all returns a snapshot slice, used when tearing the connection down
// (GOAWAY/fatal I/O error) to finish every live stream.
func (t *streamTable) all() []*Stream {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Stream, 0, len(t.streams))
	for _, s := range t.streams {
		out = append(out, s)
	}
	return out
}
