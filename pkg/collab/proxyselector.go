package collab

import (
	"net/url"
	"os"
	"strings"
)

// ProxyChoice is one option returned by a ProxySelector for a given URL.
// Type is "direct", "http", "https", "socks4", or "socks5".
type ProxyChoice struct {
	Type string
	Host string
	Port int
}

// IsDirect reports whether this choice means "no proxy".
func (p ProxyChoice) IsDirect() bool { return p.Type == "" || p.Type == "direct" }

// Direct is the sentinel "no proxy" choice.
var Direct = ProxyChoice{Type: "direct"}

// ProxySelector maps a request URL to an ordered list of proxy options; the
// route planner tries them in order, falling through to the next on
// connect failure. DIRECT is always a legal choice.
type ProxySelector interface {
	Select(target *url.URL) []ProxyChoice
}

// DirectProxySelector always returns DIRECT — the default when no proxy is
// configured.
type DirectProxySelector struct{}

// Select always returns {Direct}.
func (DirectProxySelector) Select(target *url.URL) []ProxyChoice {
	return []ProxyChoice{Direct}
}

// EnvProxySelector reads HTTP_PROXY/HTTPS_PROXY/NO_PROXY (and their
// lowercase forms) the way standard Unix HTTP tooling does, falling back to
// DIRECT for hosts listed in NO_PROXY or when no proxy variable is set for
// the target's scheme.
type EnvProxySelector struct{}

// Select inspects the process environment for a proxy matching target's
// scheme.
func (EnvProxySelector) Select(target *url.URL) []ProxyChoice {
	if noProxyMatches(target.Hostname()) {
		return []ProxyChoice{Direct}
	}

	var raw string
	switch target.Scheme {
	case "https":
		raw = firstNonEmpty(os.Getenv("HTTPS_PROXY"), os.Getenv("https_proxy"))
	default:
		raw = firstNonEmpty(os.Getenv("HTTP_PROXY"), os.Getenv("http_proxy"))
	}
	if raw == "" {
		return []ProxyChoice{Direct}
	}

	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return []ProxyChoice{Direct}
	}

	port := 8080
	if p := u.Port(); p != "" {
		if n, err := parsePort(p); err == nil {
			port = n
		}
	} else if u.Scheme == "https" {
		port = 443
	}

	scheme := u.Scheme
	if scheme == "" {
		scheme = "http"
	}

	return []ProxyChoice{
		{Type: scheme, Host: u.Hostname(), Port: port},
		Direct,
	}
}

func noProxyMatches(host string) bool {
	noProxy := firstNonEmpty(os.Getenv("NO_PROXY"), os.Getenv("no_proxy"))
	if noProxy == "" {
		return false
	}
	for _, entry := range strings.Split(noProxy, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if entry == "*" || host == entry || strings.HasSuffix(host, "."+strings.TrimPrefix(entry, ".")) {
			return true
		}
	}
	return false
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func parsePort(s string) (int, error) {
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, &url.Error{Op: "port", URL: s}
		}
		n = n*10 + int(c-'0')
	}
	return n, nil
}
