package call

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/nexthttp/nexthttp/pkg/collab"
)

// capturingListener records the name of every collab.EventListener method
// invoked, so tests can assert the full lifecycle fired without needing a
// mock-generation library (not part of the teacher's test stack).
type capturingListener struct {
	calls []string
}

func (l *capturingListener) record(name string) { l.calls = append(l.calls, name) }

func (l *capturingListener) CallStart(uint64, string, string)        { l.record("CallStart") }
func (l *capturingListener) CallEnd(uint64)                           { l.record("CallEnd") }
func (l *capturingListener) CallFailed(uint64, error)                 { l.record("CallFailed") }
func (l *capturingListener) DNSStart(uint64, string)                  { l.record("DNSStart") }
func (l *capturingListener) DNSEnd(uint64, string, error)             { l.record("DNSEnd") }
func (l *capturingListener) ConnectStart(uint64, string)              { l.record("ConnectStart") }
func (l *capturingListener) ConnectEnd(uint64, string, string, error) { l.record("ConnectEnd") }
func (l *capturingListener) SecureConnectStart(uint64)                { l.record("SecureConnectStart") }
func (l *capturingListener) SecureConnectEnd(uint64, uint16, error)   { l.record("SecureConnectEnd") }
func (l *capturingListener) RequestBodyStart(uint64)                  { l.record("RequestBodyStart") }
func (l *capturingListener) RequestBodyEnd(uint64, int64)             { l.record("RequestBodyEnd") }
func (l *capturingListener) ResponseBodyStart(uint64)                 { l.record("ResponseBodyStart") }
func (l *capturingListener) ResponseBodyEnd(uint64, int64)            { l.record("ResponseBodyEnd") }
func (l *capturingListener) ConnectionAcquired(uint64, string, bool)  { l.record("ConnectionAcquired") }
func (l *capturingListener) ConnectionReleased(uint64, string)        { l.record("ConnectionReleased") }
func (l *capturingListener) RetryDecision(uint64, bool, string)       { l.record("RetryDecision") }
func (l *capturingListener) FollowUpDecision(uint64, bool, int)       { l.record("FollowUpDecision") }
func (l *capturingListener) DispatcherQueueStart(uint64)              {}
func (l *capturingListener) DispatcherExecution(uint64)               {}
func (l *capturingListener) DispatcherQueueEnd(uint64)                {}

var _ collab.EventListener = (*capturingListener)(nil)

func (l *capturingListener) has(name string) bool {
	for _, c := range l.calls {
		if c == name {
			return true
		}
	}
	return false
}

func TestClientDoFiresConnectAndBodyLifecycleEvents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	listener := &capturingListener{}
	client := NewClient()
	client.Listener = listener
	defer client.Close()

	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parse server URL: %v", err)
	}

	req := &Request{Method: "GET", URL: u, Header: http.Header{}}
	resp, err := client.Do(context.Background(), req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer resp.Close()

	if resp.StatusCode != 200 {
		t.Fatalf("StatusCode = %d, want 200", resp.StatusCode)
	}

	for _, want := range []string{
		"CallStart", "DNSStart", "DNSEnd", "ConnectStart", "ConnectEnd",
		"ConnectionAcquired", "RequestBodyEnd", "ResponseBodyStart",
	} {
		if !listener.has(want) {
			t.Errorf("expected %s to have fired, calls = %v", want, listener.calls)
		}
	}

	// ResponseBodyEnd/ConnectionReleased only fire once the caller closes
	// the body, mirroring the pool's reuse-on-close design; CallEnd has
	// already fired by the time Do returns.
	if listener.has("ResponseBodyEnd") {
		t.Fatalf("ResponseBodyEnd fired before the body was closed")
	}
	resp.Close()
	if !listener.has("ResponseBodyEnd") {
		t.Fatalf("expected ResponseBodyEnd after closing the body")
	}
	if !listener.has("ConnectionReleased") {
		t.Fatalf("expected ConnectionReleased after closing the body")
	}

	if !listener.has("CallEnd") {
		t.Fatalf("expected CallEnd, calls = %v", listener.calls)
	}

	if resp.Metrics.TotalTime <= 0 {
		t.Fatalf("expected a positive Metrics.TotalTime, got %v", resp.Metrics.TotalTime)
	}
}
