// Package route implements the route planner and route database (distilled
// spec §4.4): resolving, connecting, and remembering recently-failed routes
// for an Address.
package route

import (
	"net"
	"sync"
	"time"

	"github.com/nexthttp/nexthttp/pkg/address"
	"github.com/nexthttp/nexthttp/pkg/collab"
	"github.com/nexthttp/nexthttp/pkg/tlsconfig"
)

// Route is the tuple (proxy, peer IP, ConnectionSpec) chosen for a given
// connect attempt.
type Route struct {
	Addr     *address.Address
	Proxy    collab.ProxyChoice
	IP       net.IP
	Port     int
	ConnSpec tlsconfig.ConnectionSpec
}

// SocketAddr returns the dial target "ip:port" for this route's peer.
func (r Route) SocketAddr() string {
	return net.JoinHostPort(r.IP.String(), itoa(r.Port))
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [12]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// dbKey identifies a route in the Route Database: keyed by (proxy, socket
// address, TLS spec) per the distilled spec §4.4.
type dbKey struct {
	proxy    collab.ProxyChoice
	sockAddr string
	specName tlsconfig.ConnectionSpecName
}

func keyFor(r Route) dbKey {
	return dbKey{proxy: r.Proxy, sockAddr: r.SocketAddr(), specName: r.ConnSpec.Name}
}

// Database remembers routes that failed recently; selection prefers
// unfailed routes, moving recorded failures to the end of the sequence.
// Entries expire when a subsequent success clears them.
type Database struct {
	mu     sync.Mutex
	failed map[dbKey]time.Time
}

// NewDatabase creates an empty route database.
func NewDatabase() *Database {
	return &Database{failed: make(map[dbKey]time.Time)}
}

// Failed records that route failed to connect.
func (d *Database) Failed(r Route) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failed[keyFor(r)] = time.Now()
}

// Succeeded clears any failure memory for route.
func (d *Database) Succeeded(r Route) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.failed, keyFor(r))
}

// Reorder moves any route the database remembers as recently failed to the
// end of routes, preserving relative order within each partition.
func (d *Database) Reorder(routes []Route) []Route {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.failed) == 0 {
		return routes
	}

	good := make([]Route, 0, len(routes))
	bad := make([]Route, 0)
	for _, r := range routes {
		if _, isBad := d.failed[keyFor(r)]; isBad {
			bad = append(bad, r)
		} else {
			good = append(good, r)
		}
	}
	return append(good, bad...)
}
