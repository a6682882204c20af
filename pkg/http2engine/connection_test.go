package http2engine

import (
	"bytes"
	"context"
	"net"
	"net/http"
	"testing"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/hpack"
)

// fakePeer drives the server role of an HTTP/2 connection directly with
// golang.org/x/net/http2 primitives, so Connection can be exercised against
// real wire bytes over a net.Pipe without a full server implementation.
type fakePeer struct {
	conn   net.Conn
	framer *http2.Framer
}

func newFakePeer(conn net.Conn) *fakePeer {
	return &fakePeer{conn: conn, framer: http2.NewFramer(conn, conn)}
}

func (p *fakePeer) readPreface() error {
	buf := make([]byte, len(http2.ClientPreface))
	_, err := readFull(p.conn, buf)
	return err
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func encodeHeaderBlock(fields ...hpack.HeaderField) []byte {
	var buf bytes.Buffer
	enc := hpack.NewEncoder(&buf)
	for _, f := range fields {
		enc.WriteField(f)
	}
	return buf.Bytes()
}

// serveOneExchange reads the client preface, the initial SETTINGS frame
// (acking it), the client's stream HEADERS, and then writes back a 200
// response with a short body, ending the stream.
func (p *fakePeer) serveOneExchange(t *testing.T) {
	t.Helper()
	if err := p.readPreface(); err != nil {
		t.Errorf("peer: reading client preface: %v", err)
		return
	}

	for {
		f, err := p.framer.ReadFrame()
		if err != nil {
			return
		}
		switch frame := f.(type) {
		case *http2.SettingsFrame:
			if frame.IsAck() {
				continue
			}
			if err := p.framer.WriteSettingsAck(); err != nil {
				t.Errorf("peer: write settings ack: %v", err)
				return
			}
		case *http2.WindowUpdateFrame:
			// ignore
		case *http2.HeadersFrame:
			block := encodeHeaderBlock(hpack.HeaderField{Name: ":status", Value: "200"})
			if err := p.framer.WriteHeaders(http2.HeadersFrameParam{
				StreamID:      frame.StreamID,
				BlockFragment: block,
				EndHeaders:    true,
			}); err != nil {
				t.Errorf("peer: write response headers: %v", err)
				return
			}
			if err := p.framer.WriteData(frame.StreamID, true, []byte("hello")); err != nil {
				t.Errorf("peer: write response data: %v", err)
				return
			}
			return
		default:
			// PRIORITY and similar frames the client may send; ignore.
		}
	}
}

func TestConnectionOpenStreamAndReceiveResponse(t *testing.T) {
	clientConn, peerConn := net.Pipe()
	defer clientConn.Close()
	defer peerConn.Close()

	peer := newFakePeer(peerConn)
	go peer.serveOneExchange(t)

	conn, err := New(clientConn, DefaultConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer conn.Close()

	s, err := conn.OpenStream("GET", "https", "example.com", "/", http.Header{}, nil, true)
	if err != nil {
		t.Fatalf("OpenStream: %v", err)
	}

	done := make(chan struct{})
	var headers *ResponseHeaders
	var waitErr error
	go func() {
		headers, waitErr = s.WaitHeaders(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for response headers")
	}
	if waitErr != nil {
		t.Fatalf("WaitHeaders: %v", waitErr)
	}
	if headers.Status != 200 {
		t.Fatalf("expected status 200, got %d", headers.Status)
	}

	body := s.Body()
	buf := make([]byte, 32)
	n, _ := body.Read(buf)
	if string(buf[:n]) != "hello" {
		t.Fatalf("expected body %q, got %q", "hello", buf[:n])
	}
}

// serveGoAwayScenario answers HEADERS for streams at or below lastGood with
// a full 200 response, then sends a GOAWAY naming lastGood once it has seen
// streamCount HEADERS frames — reproducing "GOAWAY lastStreamId=3 with
// streams 1,3,5,7 open" so the client must complete 1 and 3 but retry 5
// and 7.
func (p *fakePeer) serveGoAwayScenario(t *testing.T, lastGood uint32, streamCount int) {
	t.Helper()
	if err := p.readPreface(); err != nil {
		t.Errorf("peer: reading client preface: %v", err)
		return
	}
	seen := 0
	for {
		f, err := p.framer.ReadFrame()
		if err != nil {
			return
		}
		switch frame := f.(type) {
		case *http2.SettingsFrame:
			if frame.IsAck() {
				continue
			}
			if err := p.framer.WriteSettingsAck(); err != nil {
				t.Errorf("peer: write settings ack: %v", err)
				return
			}
		case *http2.WindowUpdateFrame:
			// ignore
		case *http2.HeadersFrame:
			seen++
			if frame.StreamID <= lastGood {
				block := encodeHeaderBlock(hpack.HeaderField{Name: ":status", Value: "200"})
				if err := p.framer.WriteHeaders(http2.HeadersFrameParam{
					StreamID:      frame.StreamID,
					BlockFragment: block,
					EndHeaders:    true,
				}); err != nil {
					t.Errorf("peer: write response headers: %v", err)
					return
				}
				if err := p.framer.WriteData(frame.StreamID, true, []byte("ok")); err != nil {
					t.Errorf("peer: write response data: %v", err)
					return
				}
			}
			if seen == streamCount {
				if err := p.framer.WriteGoAway(lastGood, http2.ErrCodeNo, nil); err != nil {
					t.Errorf("peer: write goaway: %v", err)
				}
				return
			}
		default:
			// PRIORITY and similar frames the client may send; ignore.
		}
	}
}

func TestConnectionGoAwayCompletesLowStreamsAndFailsHighOnes(t *testing.T) {
	clientConn, peerConn := net.Pipe()
	defer clientConn.Close()
	defer peerConn.Close()

	peer := newFakePeer(peerConn)
	go peer.serveGoAwayScenario(t, 3, 4)

	conn, err := New(clientConn, DefaultConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer conn.Close()

	streams := make([]*Stream, 0, 4)
	for i := 0; i < 4; i++ {
		s, err := conn.OpenStream("GET", "https", "example.com", "/", http.Header{}, nil, true)
		if err != nil {
			t.Fatalf("OpenStream %d: %v", i, err)
		}
		streams = append(streams, s)
	}

	// streams 1 and 3 (indices 0 and 1) are at or below lastGood=3: they
	// must run to completion with their real response.
	for i := 0; i < 2; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		h, err := streams[i].WaitHeaders(ctx)
		cancel()
		if err != nil {
			t.Fatalf("stream %d WaitHeaders: %v", streams[i].ID, err)
		}
		if h.Status != 200 {
			t.Fatalf("stream %d: expected status 200, got %d", streams[i].ID, h.Status)
		}
	}

	// streams 5 and 7 (indices 2 and 3) are above lastGood=3: they must be
	// failed with a retriable error, not silently hang.
	for i := 2; i < 4; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_, err := streams[i].WaitHeaders(ctx)
		cancel()
		if err == nil {
			t.Fatalf("stream %d: expected GOAWAY to fail a stream above lastGoodStreamID", streams[i].ID)
		}
	}

	select {
	case <-conn.Done():
		t.Fatalf("an inbound GOAWAY must not tear down the connection or stop the reader")
	default:
	}
	if !conn.IsClosed() {
		t.Fatalf("expected GOAWAY to set no-new-exchanges (IsClosed)")
	}
	if conn.LastGoodStreamID() != 3 {
		t.Fatalf("LastGoodStreamID = %d, want 3", conn.LastGoodStreamID())
	}
}

// serveMaxFrameSizeScenario advertises maxFrame as its SETTINGS_MAX_FRAME_SIZE,
// then records the length of every DATA frame it receives on results until
// the stream ends.
func (p *fakePeer) serveMaxFrameSizeScenario(t *testing.T, maxFrame uint32, results chan<- []int) {
	t.Helper()
	if err := p.readPreface(); err != nil {
		t.Errorf("peer: reading client preface: %v", err)
		return
	}
	if err := p.framer.WriteSettings(http2.Setting{ID: http2.SettingMaxFrameSize, Val: maxFrame}); err != nil {
		t.Errorf("peer: write settings: %v", err)
		return
	}

	var lens []int
	for {
		f, err := p.framer.ReadFrame()
		if err != nil {
			results <- lens
			return
		}
		switch frame := f.(type) {
		case *http2.SettingsFrame:
			if frame.IsAck() {
				continue
			}
			if err := p.framer.WriteSettingsAck(); err != nil {
				t.Errorf("peer: write settings ack: %v", err)
				return
			}
		case *http2.WindowUpdateFrame:
			// ignore
		case *http2.HeadersFrame:
			// no response needed for this scenario
		case *http2.DataFrame:
			lens = append(lens, len(frame.Data()))
			if frame.StreamEnded() {
				results <- lens
				return
			}
		default:
		}
	}
}

func TestConnectionWriteDataCapsChunksToPeerMaxFrameSize(t *testing.T) {
	clientConn, peerConn := net.Pipe()
	defer clientConn.Close()
	defer peerConn.Close()

	const maxFrame = 5000
	results := make(chan []int, 1)
	peer := newFakePeer(peerConn)
	go peer.serveMaxFrameSizeScenario(t, maxFrame, results)

	conn, err := New(clientConn, DefaultConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer conn.Close()

	// give the reader loop a moment to process the peer's SETTINGS before
	// the stream is opened, so the whole body is chunked against maxFrame.
	time.Sleep(50 * time.Millisecond)

	body := bytes.Repeat([]byte("x"), 12000)
	if _, err := conn.OpenStream("POST", "https", "example.com", "/", http.Header{}, body, true); err != nil {
		t.Fatalf("OpenStream: %v", err)
	}

	select {
	case lens := <-results:
		if len(lens) == 0 {
			t.Fatalf("expected at least one DATA frame")
		}
		total := 0
		for _, n := range lens {
			if n > maxFrame {
				t.Fatalf("DATA frame of %d bytes exceeds peer MAX_FRAME_SIZE %d", n, maxFrame)
			}
			total += n
		}
		if total != len(body) {
			t.Fatalf("total DATA bytes = %d, want %d", total, len(body))
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for peer to observe the full body")
	}
}
