package call

import (
	"compress/gzip"
	"io"
	"net/http"
	"strings"
)

// BridgeInterceptor fills in the headers a user almost never wants to set
// by hand (Host, Accept-Encoding, Connection, User-Agent, Cookie) before
// the request reaches the wire, and transparently inflates a
// gzip-compressed response it added Accept-Encoding for itself — mirroring
// net/http's Transport behavior, which the teacher's raw client deliberately
// left to the caller and SPEC_FULL.md reintroduces as ambient behavior.
type BridgeInterceptor struct {
	UserAgent string
}

const defaultUserAgent = "nexthttp/1.0"

func (b *BridgeInterceptor) Intercept(chain *Chain) (*Response, error) {
	req := chain.Request()
	userReq := req
	bridged := req.Clone()
	if bridged.Header == nil {
		bridged.Header = http.Header{}
	}

	if bridged.Header.Get("Host") == "" {
		bridged.Header.Set("Host", bridged.URL.Host)
	}
	if bridged.Header.Get("User-Agent") == "" {
		ua := b.UserAgent
		if ua == "" {
			ua = defaultUserAgent
		}
		bridged.Header.Set("User-Agent", ua)
	}
	if bridged.Header.Get("Connection") == "" {
		bridged.Header.Set("Connection", "keep-alive")
	}

	transparentGzip := false
	if bridged.Header.Get("Accept-Encoding") == "" && bridged.Header.Get("Range") == "" {
		bridged.Header.Set("Accept-Encoding", "gzip")
		transparentGzip = true
	}

	if cookies := chain.Call().client.cookiesFor(bridged.URL); len(cookies) > 0 {
		bridged.Header.Set("Cookie", encodeCookies(cookies))
	}

	resp, err := chain.Proceed(bridged)
	if err != nil {
		return nil, err
	}

	chain.Call().client.storeCookies(bridged.URL, resp.Header)

	if transparentGzip && strings.EqualFold(resp.Header.Get("Content-Encoding"), "gzip") {
		gz, gzErr := gzip.NewReader(resp.Body)
		if gzErr == nil {
			original := resp.Body
			resp = &Response{
				Request:         userReq,
				Proto:           resp.Proto,
				StatusCode:      resp.StatusCode,
				Header:          resp.Header.Clone(),
				Body:            &gzipCloser{Reader: gz, underlying: original},
				Trailer:         resp.Trailer,
				NetworkResponse: resp,
			}
			resp.Header.Del("Content-Encoding")
			resp.Header.Del("Content-Length")
		}
	}

	return resp, nil
}

type gzipCloser struct {
	*gzip.Reader
	underlying io.Closer
}

func (g *gzipCloser) Close() error {
	err := g.Reader.Close()
	if cerr := g.underlying.Close(); err == nil {
		err = cerr
	}
	return err
}

func encodeCookies(cookies []*http.Cookie) string {
	parts := make([]string, 0, len(cookies))
	for _, c := range cookies {
		parts = append(parts, c.Name+"="+c.Value)
	}
	return strings.Join(parts, "; ")
}
