package route

import (
	"context"
	"net"
	"net/url"

	"github.com/nexthttp/nexthttp/pkg/address"
	"github.com/nexthttp/nexthttp/pkg/collab"
	"github.com/nexthttp/nexthttp/pkg/errors"
	"github.com/nexthttp/nexthttp/pkg/tlsconfig"
)

// Planner produces the sequence of Routes to try for an Address: proxy
// selection, DNS resolution, and pairing with each applicable ConnectionSpec
// (distilled spec §4.4).
type Planner struct {
	DB *Database
}

// NewPlanner creates a Planner backed by db.
func NewPlanner(db *Database) *Planner {
	return &Planner{DB: db}
}

// Plan resolves addr into an ordered list of Routes, with previously-failed
// routes moved to the end (still attempted if all others fail).
func (p *Planner) Plan(ctx context.Context, addr *address.Address) ([]Route, error) {
	proxies := p.selectProxies(addr)

	specs := addr.ConnSpecs
	if len(specs) == 0 {
		if addr.Scheme == "https" {
			specs = tlsconfig.DefaultConnectionSpecs
		} else {
			specs = []tlsconfig.ConnectionSpec{{Name: tlsconfig.Cleartext}}
		}
	}

	var routes []Route
	var lastErr error
	for _, proxy := range proxies {
		ips, err := p.resolve(ctx, addr, proxy)
		if err != nil {
			lastErr = err
			continue
		}
		port := addr.Port
		if !proxy.IsDirect() {
			port = proxy.Port
		}
		for _, ip := range ips {
			for _, spec := range specs {
				routes = append(routes, Route{
					Addr:     addr,
					Proxy:    proxy,
					IP:       ip,
					Port:     port,
					ConnSpec: spec,
				})
			}
		}
	}

	if len(routes) == 0 {
		if lastErr != nil {
			return nil, lastErr
		}
		return nil, errors.NewUnknownHostError(addr.Host, nil, nil)
	}

	if p.DB != nil {
		routes = p.DB.Reorder(routes)
	}
	return routes, nil
}

func (p *Planner) selectProxies(addr *address.Address) []collab.ProxyChoice {
	if !addr.Proxy.IsDirect() {
		return []collab.ProxyChoice{addr.Proxy}
	}
	if addr.Selector != nil {
		target := &url.URL{Scheme: addr.Scheme, Host: addr.Host}
		if choices := addr.Selector.Select(target); len(choices) > 0 {
			return choices
		}
	}
	return []collab.ProxyChoice{collab.Direct}
}

func (p *Planner) resolve(ctx context.Context, addr *address.Address, proxy collab.ProxyChoice) ([]net.IP, error) {
	resolver := addr.Resolver
	if resolver == nil {
		resolver = collab.SystemResolver{}
	}

	// For a proxied route the socket is dialed to the proxy itself; the
	// target host travels inside the CONNECT/SOCKS handshake instead (see
	// dial.go), so it is the proxy's address that needs local resolution.
	host := addr.Host
	if !proxy.IsDirect() {
		host = proxy.Host
	}

	ips, err := resolver.Resolve(ctx, host)
	if err != nil {
		return nil, errors.NewDNSError(host, err)
	}
	if len(ips) == 0 {
		return nil, errors.NewDNSError(host, nil)
	}
	return ips, nil
}
