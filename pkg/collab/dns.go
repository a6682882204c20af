package collab

import (
	"context"
	"net"
)

// Resolver maps a hostname to an ordered list of peer addresses. The order
// is preserved by the route planner when it pairs addresses with connection
// specs, so a resolver that returns a meaningful preference order (e.g. IPv6
// before IPv4) influences happy-eyeballs racing.
type Resolver interface {
	Resolve(ctx context.Context, host string) ([]net.IP, error)
}

// SystemResolver is the default Resolver, backed by net.DefaultResolver.
type SystemResolver struct{}

// Resolve looks up host via the system resolver.
func (SystemResolver) Resolve(ctx context.Context, host string) ([]net.IP, error) {
	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, err
	}
	ips := make([]net.IP, len(addrs))
	for i, a := range addrs {
		ips[i] = a.IP
	}
	return ips, nil
}

// StaticResolver returns a fixed IP list for any host, useful for tests and
// for the ConnectIP-style override the teacher transport supported.
type StaticResolver struct {
	IPs []net.IP
}

// Resolve returns the configured IP list unconditionally.
func (r StaticResolver) Resolve(ctx context.Context, host string) ([]net.IP, error) {
	return r.IPs, nil
}
