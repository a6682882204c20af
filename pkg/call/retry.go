package call

import (
	"io"
	"net/url"

	"github.com/nexthttp/nexthttp/pkg/buffer"
	"github.com/nexthttp/nexthttp/pkg/collab"
	"github.com/nexthttp/nexthttp/pkg/errors"
)

// maxFollowUps caps redirect/auth/retry chains for a single user-visible
// call, per distilled spec §4.5.
const maxFollowUps = 20

// RetryAndFollowUpInterceptor is always the outermost network interceptor:
// it retries a request that failed before any response bytes arrived on a
// recoverable network error, and resolves a completed response into a
// follow-up request for redirects, 401/407 challenges, and a handful of
// retriable status codes.
type RetryAndFollowUpInterceptor struct {
	Authenticator collab.Authenticator
}

func (r *RetryAndFollowUpInterceptor) Intercept(chain *Chain) (*Response, error) {
	req := chain.Request()
	auth := r.Authenticator
	if auth == nil {
		auth = collab.NoAuthenticator{}
	}
	listener := chain.Call().client.Listener
	id := chain.Call().id

	// A request body is a one-shot io.Reader; spooling it through
	// pkg/buffer (memory up to its default limit, then disk) up front is
	// what lets every later attempt in this loop replay it, rather than
	// only ones whose caller happened to pass a Len()-capable Reader.
	bodyBuf, err := bufferRequestBody(req)
	if err != nil {
		return nil, err
	}
	if bodyBuf != nil {
		defer bodyBuf.Close()
	}

	for followUp := 0; ; followUp++ {
		attempt, err := prepareAttempt(req, bodyBuf)
		if err != nil {
			return nil, err
		}

		resp, err := chain.Proceed(attempt)
		if err != nil {
			willRetry := followUp < maxFollowUps && isRequestReplayable(req, bodyBuf) && errors.IsRetriable(err)
			listener.RetryDecision(id, willRetry, err.Error())
			if willRetry {
				continue
			}
			return nil, err
		}

		if followUp >= maxFollowUps {
			listener.FollowUpDecision(id, false, resp.StatusCode)
			return resp, nil
		}

		next, err := r.followUpRequest(attempt, resp, auth)
		if err != nil {
			resp.Close()
			return nil, err
		}
		listener.FollowUpDecision(id, next != nil, resp.StatusCode)
		if next == nil {
			return resp, nil
		}
		resp.Close()
		req = next
	}
}

// bufferRequestBody spools req.Body into a buffer.Buffer so later follow-up
// attempts can each get a fresh reader over the same bytes. A nil Body, or
// one already backed by a buffer from a previous pass through this
// interceptor (redirects clone the Request but not its already-buffered
// body), needs no new buffering.
func bufferRequestBody(req *Request) (*buffer.Buffer, error) {
	if req.Body == nil {
		return nil, nil
	}
	if _, ok := req.Body.(*bufferedBody); ok {
		return nil, nil
	}

	buf := buffer.New(buffer.DefaultMemoryLimit)
	if _, err := io.Copy(buf, req.Body); err != nil {
		buf.Close()
		return nil, errors.NewIOError("buffering request body for replay", err)
	}
	if closer, ok := req.Body.(io.Closer); ok {
		closer.Close()
	}
	return buf, nil
}

// prepareAttempt returns a shallow copy of req with a fresh reader over
// bodyBuf as its body. req itself is returned unchanged when nothing was
// spooled, or when req carries no body (a redirect that switched the
// method to GET dropped it).
func prepareAttempt(req *Request, bodyBuf *buffer.Buffer) (*Request, error) {
	if bodyBuf == nil || req.Body == nil {
		return req, nil
	}
	r, err := bodyBuf.Reader()
	if err != nil {
		return nil, err
	}
	attempt := req.Clone()
	attempt.Body = &bufferedBody{buf: bodyBuf, r: r}
	return attempt, nil
}

// bufferedBody is a request body backed by a buffer.Buffer; Len() reports
// the spooled body's full size.
type bufferedBody struct {
	buf *buffer.Buffer
	r   io.ReadCloser
}

func (b *bufferedBody) Read(p []byte) (int, error) { return b.r.Read(p) }
func (b *bufferedBody) Close() error               { return b.r.Close() }
func (b *bufferedBody) Len() int                   { return int(b.buf.Size()) }

// followUpRequest returns the request that should be issued next for resp,
// or nil if resp is already the final answer.
func (r *RetryAndFollowUpInterceptor) followUpRequest(req *Request, resp *Response, auth collab.Authenticator) (*Request, error) {
	switch resp.StatusCode {
	case 301, 302, 303, 307, 308:
		return redirectRequest(req, resp)

	case 401, 407:
		challenge := collab.AuthChallenge{
			RouteAddr:   req.URL.Host,
			StatusCode:  resp.StatusCode,
			Headers:     resp.Header,
			IsProxyAuth: resp.StatusCode == 407,
		}
		result, err := auth.Authenticate(challenge)
		if err != nil {
			return nil, err
		}
		if result == nil {
			return nil, nil
		}
		next := req.Clone()
		for k, vs := range result.Headers {
			for _, v := range vs {
				next.Header.Add(k, v)
			}
		}
		return next, nil

	case 408, 503:
		return req.Clone(), nil

	case 421:
		// Misdirected request: the same request is issued again. Nothing
		// here steers the next attempt off the connection that answered
		// 421, so the pool may hand out that connection again.
		return req.Clone(), nil

	default:
		return nil, nil
	}
}

func redirectRequest(req *Request, resp *Response) (*Request, error) {
	loc := resp.Header.Get("Location")
	if loc == "" {
		return nil, nil
	}
	target, err := url.Parse(loc)
	if err != nil {
		return nil, nil
	}
	target = req.URL.ResolveReference(target)

	next := req.Clone()
	next.URL = target

	switch resp.StatusCode {
	case 303:
		if next.Method != "GET" && next.Method != "HEAD" {
			next.Method = "GET"
			next.Body = nil
			next.Header.Del("Content-Length")
			next.Header.Del("Content-Type")
		}
	case 301, 302:
		if next.Method == "POST" {
			next.Method = "GET"
			next.Body = nil
			next.Header.Del("Content-Length")
			next.Header.Del("Content-Type")
		}
	case 307, 308:
		// method and body are preserved exactly.
	}
	return next, nil
}

// isRequestReplayable reports whether req's body (if any) can be resent on a
// later attempt: a nil body always can, and a body spooled into bodyBuf by
// this interceptor can be re-read from the start any number of times.
func isRequestReplayable(req *Request, bodyBuf *buffer.Buffer) bool {
	return req.Body == nil || bodyBuf != nil
}
