package collab

import (
	"net/http"
	"net/url"
	"sync"
)

// CookieJar is bidirectional: it stores Set-Cookie headers from responses
// and supplies the Cookie header for subsequent requests to the same URL.
// The shape mirrors net/http.CookieJar so a caller already holding one of
// those can adapt it trivially.
type CookieJar interface {
	SetCookies(u *url.URL, cookies []*http.Cookie)
	Cookies(u *url.URL) []*http.Cookie
}

// NopCookieJar stores nothing and always returns no cookies. Default when no
// jar is configured.
type NopCookieJar struct{}

// SetCookies discards cookies.
func (NopCookieJar) SetCookies(u *url.URL, cookies []*http.Cookie) {}

// Cookies always returns nil.
func (NopCookieJar) Cookies(u *url.URL) []*http.Cookie { return nil }

// MemoryCookieJar is a simple in-memory jar keyed by host, with no
// expiration, path, or domain-matching rules beyond exact host match. It
// exists as a usable second CookieJar implementation; production callers
// wanting RFC 6265 semantics should supply their own collaborator.
type MemoryCookieJar struct {
	mu      sync.Mutex
	byHost  map[string][]*http.Cookie
}

// NewMemoryCookieJar creates an empty MemoryCookieJar.
func NewMemoryCookieJar() *MemoryCookieJar {
	return &MemoryCookieJar{byHost: make(map[string][]*http.Cookie)}
}

// SetCookies records cookies for u.Hostname(), replacing any existing cookie
// with the same name.
func (j *MemoryCookieJar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	if len(cookies) == 0 {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	existing := j.byHost[u.Hostname()]
	for _, c := range cookies {
		existing = replaceOrAppend(existing, c)
	}
	j.byHost[u.Hostname()] = existing
}

// Cookies returns the stored cookies for u.Hostname().
func (j *MemoryCookieJar) Cookies(u *url.URL) []*http.Cookie {
	j.mu.Lock()
	defer j.mu.Unlock()
	src := j.byHost[u.Hostname()]
	out := make([]*http.Cookie, len(src))
	copy(out, src)
	return out
}

func replaceOrAppend(list []*http.Cookie, c *http.Cookie) []*http.Cookie {
	for i, existing := range list {
		if existing.Name == c.Name {
			list[i] = c
			return list
		}
	}
	return append(list, c)
}
