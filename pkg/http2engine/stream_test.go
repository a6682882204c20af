package http2engine

import (
	"net/http"
	"testing"
)

func TestStreamHeaderDeliveryOnce(t *testing.T) {
	s := newStream(1, "GET", "/", "https", "example.com", http.Header{})

	if s.hasHeaders() {
		t.Fatalf("new stream should not report headers delivered yet")
	}

	s.deliverHeaders(&ResponseHeaders{Status: 200, Headers: http.Header{"X-A": {"1"}}})
	if !s.hasHeaders() {
		t.Fatalf("expected hasHeaders true after deliverHeaders")
	}

	// A second deliver must not panic or block (respOnce guards it) and
	// must not replace the first value.
	s.deliverHeaders(&ResponseHeaders{Status: 500})

	got := <-s.respCh
	if got.Status != 200 {
		t.Fatalf("expected first delivered status 200, got %d", got.Status)
	}
}

func TestStreamFinishReleasesWaiters(t *testing.T) {
	s := newStream(1, "GET", "/", "https", "example.com", http.Header{})

	blocked := make(chan int64, 1)
	go func() {
		blocked <- s.peerWindow.reserve(1, s.isDone)
	}()

	s.finish(nil)

	select {
	case grant := <-blocked:
		if grant != 0 {
			t.Fatalf("expected 0 grant once stream finished, got %d", grant)
		}
	}

	if !s.isDone() {
		t.Fatalf("expected isDone true after finish")
	}
}

func TestStreamMarkReset(t *testing.T) {
	s := newStream(3, "GET", "/", "https", "example.com", http.Header{})
	s.markReset(8, true) // CANCEL, peer-initiated

	code, byPeer, wasReset := s.ResetInfo()
	if !wasReset || code != 8 || !byPeer {
		t.Fatalf("expected reset(code=8,byPeer=true), got code=%d byPeer=%v wasReset=%v", code, byPeer, wasReset)
	}
	if s.State() != StateClosed {
		t.Fatalf("expected state Closed after reset, got %v", s.State())
	}
}

func TestStreamTableCountsOnlyLiveStreams(t *testing.T) {
	tbl := newStreamTable()

	open := newStream(1, "GET", "/", "https", "example.com", http.Header{})
	open.setState(StateOpen)
	tbl.put(open)

	closed := newStream(3, "GET", "/", "https", "example.com", http.Header{})
	closed.setState(StateClosed)
	tbl.put(closed)

	if n := tbl.count(); n != 1 {
		t.Fatalf("expected 1 live stream, got %d", n)
	}
	if n := len(tbl.all()); n != 2 {
		t.Fatalf("expected 2 total streams in snapshot, got %d", n)
	}

	tbl.delete(1)
	if _, ok := tbl.get(1); ok {
		t.Fatalf("expected stream 1 to be gone after delete")
	}
}

func TestStreamBodyReadAfterFinish(t *testing.T) {
	s := newStream(1, "GET", "/", "https", "example.com", http.Header{})
	s.deliverData([]byte("hello"))
	s.finish(nil)

	body := s.Body()
	buf := make([]byte, 16)
	n, err := body.Read(buf)
	if err != nil {
		t.Fatalf("unexpected error reading buffered chunk: %v", err)
	}
	if string(buf[:n]) != "hello" {
		t.Fatalf("expected %q, got %q", "hello", buf[:n])
	}

	n, err = body.Read(buf)
	if n != 0 {
		t.Fatalf("expected 0 bytes on drained+finished stream, got %d", n)
	}
	if err == nil {
		t.Fatalf("expected EOF-like error once drained and finished")
	}
}
