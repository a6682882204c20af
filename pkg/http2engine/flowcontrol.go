package http2engine

import "sync"

// flowWindow is a simple inbound flow-control accounting helper: bytes
// consumed are tracked until they cross half the advertised window, at
// which point the caller should send a WINDOW_UPDATE for the consumed
// amount (RFC 7540 §6.9 recommends pacing updates rather than sending one
// per byte). Used for both the per-stream and the per-connection inbound
// windows.
type flowWindow struct {
	mu        sync.Mutex
	limit     int64 // the window size we advertised
	consumed  int64 // bytes received since the last WINDOW_UPDATE
}

func newFlowWindow(limit int64) *flowWindow {
	return &flowWindow{limit: limit}
}

// consume records n received bytes and reports the increment to send via
// WINDOW_UPDATE, or 0 if no update is due yet.
func (w *flowWindow) consume(n int64) int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.consumed += n
	if w.consumed*2 >= w.limit {
		inc := w.consumed
		w.consumed = 0
		return inc
	}
	return 0
}

// peerWindow tracks an outbound flow-control budget: the amount of DATA we
// may still send before waiting for a WINDOW_UPDATE from the peer.
type peerWindow struct {
	mu    sync.Mutex
	cond  *sync.Cond
	avail int64
}

func newPeerWindow(initial int64) *peerWindow {
	p := &peerWindow{avail: initial}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// reserve blocks until at least 1 byte of budget is available, then grants
// up to want bytes (never more than currently available), returning the
// granted amount. Returns 0 immediately if closed is already true.
func (p *peerWindow) reserve(want int64, closed func() bool) int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.avail <= 0 {
		if closed != nil && closed() {
			return 0
		}
		p.cond.Wait()
	}
	grant := want
	if grant > p.avail {
		grant = p.avail
	}
	p.avail -= grant
	return grant
}

// add increases the available budget (on receipt of WINDOW_UPDATE) and
// wakes any writer blocked in reserve.
func (p *peerWindow) add(delta int64) {
	p.mu.Lock()
	p.avail += delta
	p.mu.Unlock()
	p.cond.Broadcast()
}

// release wakes every waiter without changing avail — used when the stream
// or connection is being torn down so reserve() callers can observe closed().
func (p *peerWindow) release() {
	p.cond.Broadcast()
}
