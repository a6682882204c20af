package call

import (
	"context"
	"net/url"
	"testing"
)

func newTestRequest(t *testing.T) *Request {
	t.Helper()
	u, err := url.Parse("http://example.com/path")
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	return &Request{Method: "GET", URL: u, Header: map[string][]string{}}
}

func TestChainProceedInvokesInOrder(t *testing.T) {
	var order []string
	a := InterceptorFunc(func(chain *Chain) (*Response, error) {
		order = append(order, "a")
		return chain.Proceed(chain.Request())
	})
	b := InterceptorFunc(func(chain *Chain) (*Response, error) {
		order = append(order, "b")
		return &Response{Request: chain.Request(), StatusCode: 200}, nil
	})

	req := newTestRequest(t)
	call := &Call{id: 1}
	chain := newChain(context.Background(), call, req, []Interceptor{a, b})

	resp, err := chain.Proceed(req)
	if err != nil {
		t.Fatalf("Proceed: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("StatusCode = %d, want 200", resp.StatusCode)
	}
	if len(order) != 2 || order[0] != "a" || order[1] != "b" {
		t.Fatalf("order = %v, want [a b]", order)
	}
}

func TestChainProceedPastTerminalPanics(t *testing.T) {
	terminal := InterceptorFunc(func(chain *Chain) (*Response, error) {
		return chain.Proceed(chain.Request())
	})
	req := newTestRequest(t)
	call := &Call{id: 1}
	chain := newChain(context.Background(), call, req, []Interceptor{terminal})

	defer func() {
		if r := recover(); r == nil {
			t.Fatalf("expected panic calling Proceed past the terminal interceptor")
		}
	}()
	chain.Proceed(req)
}
