package http1exchange

import (
	"bufio"
	"bytes"
	"io"
	"net"
	"net/http"
	"testing"
	"time"
)

// drainRequest consumes a full HTTP/1.1 request off serverConn using
// net/http's own request parser, so the client's possibly multi-write
// request (request line + headers, each a separate Write call) is fully
// read before the server writes its response — net.Pipe has no buffering,
// so a partial read here would deadlock the client's remaining writes.
func drainRequest(t *testing.T, serverConn net.Conn) {
	t.Helper()
	req, err := http.ReadRequest(bufio.NewReader(serverConn))
	if err != nil {
		t.Errorf("server: reading request: %v", err)
		return
	}
	io.Copy(io.Discard, req.Body)
}

func TestExchangeFixedLengthResponse(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	go func() {
		drainRequest(t, serverConn)
		serverConn.Write([]byte("HTTP/1.1 200 OK\r\nContent-Length: 5\r\n\r\nhello"))
	}()

	ex := New(clientConn, nil)
	if err := ex.WriteRequest("GET", "/", "HTTP/1.1", http.Header{"Host": {"example.com"}}, time.Second); err != nil {
		t.Fatalf("WriteRequest: %v", err)
	}
	if err := ex.WriteBody(nil, time.Second); err != nil {
		t.Fatalf("WriteBody: %v", err)
	}

	resp, err := ex.ReadResponse(time.Second)
	if err != nil {
		t.Fatalf("ReadResponse: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("expected status 200, got %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading body: %v", err)
	}
	if !bytes.Equal(body, []byte("hello")) {
		t.Fatalf("expected body %q, got %q", "hello", body)
	}

	if ex.State() != StateIdle {
		t.Fatalf("expected exchange back to Idle after draining fixed-length body, got %v", ex.State())
	}
	if ex.NoNewExchanges() {
		t.Fatalf("fixed-length body with no Connection: close should allow reuse")
	}
}

func TestExchangeChunkedResponseWithTrailer(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	go func() {
		drainRequest(t, serverConn)
		serverConn.Write([]byte("HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n" +
			"5\r\nhello\r\n0\r\nX-Trailer: done\r\n\r\n"))
	}()

	ex := New(clientConn, nil)
	if err := ex.WriteRequest("GET", "/", "HTTP/1.1", http.Header{"Host": {"example.com"}}, time.Second); err != nil {
		t.Fatalf("WriteRequest: %v", err)
	}
	if err := ex.WriteBody(nil, time.Second); err != nil {
		t.Fatalf("WriteBody: %v", err)
	}

	resp, err := ex.ReadResponse(time.Second)
	if err != nil {
		t.Fatalf("ReadResponse: %v", err)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading chunked body: %v", err)
	}
	if string(body) != "hello" {
		t.Fatalf("expected %q, got %q", "hello", body)
	}
	if got := resp.Trailer.Get("X-Trailer"); got != "done" {
		t.Fatalf("expected trailer X-Trailer=done, got %q", got)
	}
	if ex.State() != StateIdle {
		t.Fatalf("expected exchange back to Idle after draining chunked body, got %v", ex.State())
	}
}

func TestExchangeConnectionCloseMarksNonReusable(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	go func() {
		drainRequest(t, serverConn)
		serverConn.Write([]byte("HTTP/1.1 200 OK\r\nConnection: close\r\nContent-Length: 2\r\n\r\nhi"))
	}()

	ex := New(clientConn, nil)
	ex.WriteRequest("GET", "/", "HTTP/1.1", http.Header{"Host": {"example.com"}}, time.Second)
	ex.WriteBody(nil, time.Second)
	resp, err := ex.ReadResponse(time.Second)
	if err != nil {
		t.Fatalf("ReadResponse: %v", err)
	}
	io.ReadAll(resp.Body)

	if !ex.NoNewExchanges() {
		t.Fatalf("expected Connection: close to mark the exchange non-reusable")
	}
}

func TestExchangeOutOfOrderReadRejected(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	ex := New(clientConn, nil)
	if _, err := ex.ReadResponse(time.Second); err == nil {
		t.Fatalf("expected error reading response before a request was written")
	}
}

func TestExchangeReadResponseSkipsInformational(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	go func() {
		drainRequest(t, serverConn)
		serverConn.Write([]byte("HTTP/1.1 102 Processing\r\n\r\n"))
		serverConn.Write([]byte("HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nhi"))
	}()

	ex := New(clientConn, nil)
	ex.WriteRequest("GET", "/", "HTTP/1.1", http.Header{"Host": {"example.com"}}, time.Second)
	ex.WriteBody(nil, time.Second)

	resp, err := ex.ReadResponse(time.Second)
	if err != nil {
		t.Fatalf("ReadResponse: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("expected the 102 Processing to be skipped and 200 surfaced, got %d", resp.StatusCode)
	}
}

func TestAwaitContinueSendsBodyOn100(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	go func() {
		br := bufio.NewReader(serverConn)
		for {
			line, err := br.ReadString('\n')
			if err != nil {
				t.Errorf("server: reading request headers: %v", err)
				return
			}
			if line == "\r\n" {
				break
			}
		}
		serverConn.Write([]byte("HTTP/1.1 100 Continue\r\n\r\n"))
		body := make([]byte, len("hello"))
		if _, err := io.ReadFull(br, body); err != nil {
			t.Errorf("server: reading body: %v", err)
			return
		}
		serverConn.Write([]byte("HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nok"))
	}()

	ex := New(clientConn, nil)
	headers := http.Header{"Host": {"example.com"}, "Expect": {"100-continue"}}
	if err := ex.WriteRequest("POST", "/", "HTTP/1.1", headers, time.Second); err != nil {
		t.Fatalf("WriteRequest: %v", err)
	}

	resp, proceed, err := ex.AwaitContinue(time.Second)
	if err != nil {
		t.Fatalf("AwaitContinue: %v", err)
	}
	if !proceed || resp != nil {
		t.Fatalf("expected proceed=true, resp=nil on 100 Continue, got proceed=%v resp=%v", proceed, resp)
	}

	if err := ex.WriteBody(bytes.NewBufferString("hello"), time.Second); err != nil {
		t.Fatalf("WriteBody: %v", err)
	}

	final, err := ex.ReadResponse(time.Second)
	if err != nil {
		t.Fatalf("ReadResponse: %v", err)
	}
	if final.StatusCode != 200 {
		t.Fatalf("expected final status 200, got %d", final.StatusCode)
	}
}

func TestAwaitContinueSkipsBodyOnEarlyRejection(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	go func() {
		br := bufio.NewReader(serverConn)
		for {
			line, err := br.ReadString('\n')
			if err != nil {
				t.Errorf("server: reading request headers: %v", err)
				return
			}
			if line == "\r\n" {
				break
			}
		}
		serverConn.Write([]byte("HTTP/1.1 417 Expectation Failed\r\nContent-Length: 0\r\n\r\n"))
	}()

	ex := New(clientConn, nil)
	headers := http.Header{"Host": {"example.com"}, "Expect": {"100-continue"}}
	if err := ex.WriteRequest("POST", "/", "HTTP/1.1", headers, time.Second); err != nil {
		t.Fatalf("WriteRequest: %v", err)
	}

	resp, proceed, err := ex.AwaitContinue(time.Second)
	if err != nil {
		t.Fatalf("AwaitContinue: %v", err)
	}
	if proceed || resp == nil {
		t.Fatalf("expected proceed=false with a final response on early rejection, got proceed=%v resp=%v", proceed, resp)
	}
	if resp.StatusCode != 417 {
		t.Fatalf("expected 417, got %d", resp.StatusCode)
	}
}
