package call

import (
	"io"
	"net/http"
	"net/url"
	"strings"
	"testing"

	"github.com/nexthttp/nexthttp/pkg/buffer"
)

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse %q: %v", raw, err)
	}
	return u
}

func TestRedirectRequestPreservesMethodFor307(t *testing.T) {
	req := &Request{Method: "POST", URL: mustURL(t, "http://example.com/a"), Header: http.Header{}, Body: strings.NewReader("x")}
	resp := &Response{StatusCode: 307, Header: http.Header{"Location": {"/b"}}}

	next, err := redirectRequest(req, resp)
	if err != nil {
		t.Fatalf("redirectRequest: %v", err)
	}
	if next.Method != "POST" {
		t.Fatalf("Method = %q, want POST", next.Method)
	}
	if next.Body == nil {
		t.Fatalf("Body dropped on a 307 redirect")
	}
	if next.URL.Path != "/b" {
		t.Fatalf("URL = %s, want /b", next.URL)
	}
}

func TestRedirectRequestRewritesPostTo302AsGet(t *testing.T) {
	req := &Request{Method: "POST", URL: mustURL(t, "http://example.com/a"), Header: http.Header{"Content-Length": {"1"}}, Body: strings.NewReader("x")}
	resp := &Response{StatusCode: 302, Header: http.Header{"Location": {"/b"}}}

	next, err := redirectRequest(req, resp)
	if err != nil {
		t.Fatalf("redirectRequest: %v", err)
	}
	if next.Method != "GET" {
		t.Fatalf("Method = %q, want GET", next.Method)
	}
	if next.Body != nil {
		t.Fatalf("Body = %v, want nil after 302 rewrite", next.Body)
	}
	if next.Header.Get("Content-Length") != "" {
		t.Fatalf("Content-Length header not dropped after 302 rewrite")
	}
}

func TestRedirectRequestResolvesRelativeLocation(t *testing.T) {
	req := &Request{Method: "GET", URL: mustURL(t, "http://example.com/a/b"), Header: http.Header{}}
	resp := &Response{StatusCode: 301, Header: http.Header{"Location": {"c"}}}

	next, err := redirectRequest(req, resp)
	if err != nil {
		t.Fatalf("redirectRequest: %v", err)
	}
	if next.URL.String() != "http://example.com/a/c" {
		t.Fatalf("URL = %s, want http://example.com/a/c", next.URL)
	}
}

func TestRedirectRequestNoLocationIsNotAFollowUp(t *testing.T) {
	req := &Request{Method: "GET", URL: mustURL(t, "http://example.com/a"), Header: http.Header{}}
	resp := &Response{StatusCode: 302, Header: http.Header{}}

	next, err := redirectRequest(req, resp)
	if err != nil {
		t.Fatalf("redirectRequest: %v", err)
	}
	if next != nil {
		t.Fatalf("next = %v, want nil when Location is absent", next)
	}
}

func TestIsRequestReplayable(t *testing.T) {
	noBody := &Request{Body: nil}
	if !isRequestReplayable(noBody, nil) {
		t.Fatalf("a nil body should always be replayable")
	}

	streaming := &Request{Body: strings.NewReader("x")}
	if isRequestReplayable(streaming, nil) {
		t.Fatalf("an unbuffered body should not be replayable")
	}
	if !isRequestReplayable(streaming, buffer.New(buffer.DefaultMemoryLimit)) {
		t.Fatalf("a body spooled into a buffer.Buffer should be replayable")
	}
}

func TestBufferRequestBodySpoolsArbitraryReader(t *testing.T) {
	req := &Request{Body: strings.NewReader("hello world")}

	buf, err := bufferRequestBody(req)
	if err != nil {
		t.Fatalf("bufferRequestBody: %v", err)
	}
	if buf == nil {
		t.Fatalf("expected a non-nil buffer for a non-nil body")
	}
	defer buf.Close()

	if buf.Size() != int64(len("hello world")) {
		t.Fatalf("Size() = %d, want %d", buf.Size(), len("hello world"))
	}

	r, err := buf.Reader()
	if err != nil {
		t.Fatalf("Reader: %v", err)
	}
	defer r.Close()
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(got) != "hello world" {
		t.Fatalf("buffered body = %q, want %q", got, "hello world")
	}
}

func TestBufferRequestBodyNilForNilBody(t *testing.T) {
	req := &Request{Body: nil}
	buf, err := bufferRequestBody(req)
	if err != nil {
		t.Fatalf("bufferRequestBody: %v", err)
	}
	if buf != nil {
		t.Fatalf("expected a nil buffer for a nil body")
	}
}

func TestPrepareAttemptProducesFreshReaderPerCall(t *testing.T) {
	req := &Request{Method: "POST", URL: mustURL(t, "http://example.com/a"), Header: http.Header{}, Body: strings.NewReader("payload")}
	buf, err := bufferRequestBody(req)
	if err != nil {
		t.Fatalf("bufferRequestBody: %v", err)
	}
	defer buf.Close()

	for i := 0; i < 2; i++ {
		attempt, err := prepareAttempt(req, buf)
		if err != nil {
			t.Fatalf("prepareAttempt: %v", err)
		}
		got, err := io.ReadAll(attempt.Body)
		if err != nil {
			t.Fatalf("ReadAll: %v", err)
		}
		if string(got) != "payload" {
			t.Fatalf("attempt %d body = %q, want %q", i, got, "payload")
		}
	}
}
