package call

import "testing"

func TestValidatorStorePutGet(t *testing.T) {
	s := newValidatorStore()
	if _, ok := s.get("http://example.com/"); ok {
		t.Fatalf("empty store should have no validator")
	}

	s.put("http://example.com/", validator{etag: `"abc"`, lastModified: "Mon, 01 Jan 2024 00:00:00 GMT"})

	v, ok := s.get("http://example.com/")
	if !ok {
		t.Fatalf("expected a stored validator")
	}
	if v.etag != `"abc"` {
		t.Fatalf("etag = %q, want \"abc\"", v.etag)
	}
}

func TestCacheInterceptorAddsConditionalHeaders(t *testing.T) {
	ci := NewCacheInterceptor()
	ci.store.put("http://example.com/path", validator{etag: `"v1"`})

	terminal := InterceptorFunc(func(chain *Chain) (*Response, error) {
		req := chain.Request()
		if req.Header.Get("If-None-Match") != `"v1"` {
			t.Fatalf("If-None-Match = %q, want \"v1\"", req.Header.Get("If-None-Match"))
		}
		return &Response{Request: req, StatusCode: 304, Header: map[string][]string{}}, nil
	})

	req := &Request{Method: "GET", URL: mustURL(t, "http://example.com/path"), Header: map[string][]string{}}
	call := &Call{id: 1}
	chain := newChain(nil, call, req, []Interceptor{ci, terminal})

	if _, err := chain.Proceed(req); err != nil {
		t.Fatalf("Proceed: %v", err)
	}
}
