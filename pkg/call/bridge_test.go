package call

import (
	"bytes"
	"compress/gzip"
	"io"
	"net/http"
	"testing"
)

func TestBridgeInterceptorSetsDefaultHeaders(t *testing.T) {
	b := &BridgeInterceptor{}
	var seen http.Header

	terminal := InterceptorFunc(func(chain *Chain) (*Response, error) {
		seen = chain.Request().Header
		return &Response{Request: chain.Request(), StatusCode: 200, Header: http.Header{}, Body: io.NopCloser(bytes.NewReader(nil))}, nil
	})

	req := &Request{Method: "GET", URL: mustURL(t, "http://example.com/"), Header: http.Header{}}
	call := &Call{id: 1, client: NewClient()}
	chain := newChain(nil, call, req, []Interceptor{b, terminal})

	if _, err := chain.Proceed(req); err != nil {
		t.Fatalf("Proceed: %v", err)
	}

	if seen.Get("Host") != "example.com" {
		t.Fatalf("Host = %q, want example.com", seen.Get("Host"))
	}
	if seen.Get("User-Agent") != defaultUserAgent {
		t.Fatalf("User-Agent = %q, want %q", seen.Get("User-Agent"), defaultUserAgent)
	}
	if seen.Get("Accept-Encoding") != "gzip" {
		t.Fatalf("Accept-Encoding = %q, want gzip", seen.Get("Accept-Encoding"))
	}
}

func TestBridgeInterceptorInflatesGzipBody(t *testing.T) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	io.WriteString(gz, "hello world")
	gz.Close()

	terminal := InterceptorFunc(func(chain *Chain) (*Response, error) {
		h := http.Header{"Content-Encoding": {"gzip"}}
		return &Response{Request: chain.Request(), StatusCode: 200, Header: h, Body: io.NopCloser(bytes.NewReader(buf.Bytes()))}, nil
	})

	b := &BridgeInterceptor{}
	req := &Request{Method: "GET", URL: mustURL(t, "http://example.com/"), Header: http.Header{}}
	call := &Call{id: 1, client: NewClient()}
	chain := newChain(nil, call, req, []Interceptor{b, terminal})

	resp, err := chain.Proceed(req)
	if err != nil {
		t.Fatalf("Proceed: %v", err)
	}
	defer resp.Body.Close()

	got, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(got) != "hello world" {
		t.Fatalf("body = %q, want %q", got, "hello world")
	}
	if resp.Header.Get("Content-Encoding") != "" {
		t.Fatalf("Content-Encoding should be stripped after transparent inflation")
	}
}
