// Package pool implements the Address-keyed connection pool (distilled spec
// §4.4, C4): idle LRU, keep-alive eviction, and acquisition via direct reuse,
// same-address or coalescable-address scanning, or a fresh route-planner
// connect.
package pool

import (
	"bufio"
	"context"
	"crypto/x509"
	"sync"
	"time"

	"github.com/nexthttp/nexthttp/pkg/address"
	"github.com/nexthttp/nexthttp/pkg/http2engine"
	"github.com/nexthttp/nexthttp/pkg/route"
)

// Connection wraps a dialed socket with the bookkeeping the pool needs to
// decide when it may be reused, coalesced onto, or evicted.
type Connection struct {
	Addr      *address.Address
	Route     route.Route
	Conn      *route.DialResult
	CreatedAt time.Time

	mu          sync.Mutex
	idle        bool
	lastUsed    time.Time
	streamCount int // open HTTP/2 streams, or 0/1 for HTTP/1.1
	noNewEx     bool

	h2 *http2engine.Connection // lazily created; see H2() in codec.go
	br *bufio.Reader           // lazily created; see BufReader() in codec.go
}

// PeerCertificates returns the certificates presented during the TLS
// handshake, or nil for a cleartext connection.
func (c *Connection) PeerCertificates() []*x509.Certificate {
	if c.Conn == nil || c.Conn.Handshake == nil {
		return nil
	}
	return c.Conn.Handshake.PeerCertificates
}

// IsMultiplexed reports whether this connection negotiated HTTP/2 and may
// therefore serve more than one exchange concurrently.
func (c *Connection) IsMultiplexed() bool {
	return c.Conn != nil && c.Conn.NegotiatedH2
}

// MarkInUse records that a new exchange started on this connection.
func (c *Connection) MarkInUse() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.idle = false
	c.streamCount++
}

// MarkIdle records that an exchange finished on this connection.
func (c *Connection) MarkIdle(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.streamCount--
	c.lastUsed = now
	if c.streamCount <= 0 {
		c.streamCount = 0
		c.idle = true
	}
}

// NoNewExchanges marks the connection as draining: it may finish in-flight
// exchanges (GOAWAY, Connection: close) but must not be handed out again.
func (c *Connection) NoNewExchanges() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.noNewEx = true
}

func (c *Connection) usable() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.noNewEx {
		return false
	}
	if c.h2 != nil && c.h2.IsClosed() {
		return false
	}
	if c.IsMultiplexed() {
		return true
	}
	return c.idle
}

// Config controls idle-connection lifetime and global pool sizing.
type Config struct {
	MaxIdleConnections int
	KeepAlive          time.Duration
	EvictionInterval   time.Duration
}

// DefaultConfig mirrors the teacher transport's idle-pool defaults.
func DefaultConfig() Config {
	return Config{
		MaxIdleConnections: 5,
		KeepAlive:          5 * time.Minute,
		EvictionInterval:   time.Second,
	}
}

// Pool is the Address-keyed connection pool. A single Pool instance is
// shared by every Call made through one engine.
type Pool struct {
	cfg Config

	mu    sync.Mutex
	byKey map[string][]*Connection // keyed by Address.Key()

	planner  *route.Planner
	connector *route.Connector

	stop chan struct{}
	wg   sync.WaitGroup
}

// New creates a Pool backed by planner/connector for cache-miss connects and
// starts its background eviction loop.
func New(cfg Config, planner *route.Planner, connector *route.Connector) *Pool {
	if cfg.MaxIdleConnections <= 0 {
		cfg.MaxIdleConnections = 5
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = 5 * time.Minute
	}
	if cfg.EvictionInterval <= 0 {
		cfg.EvictionInterval = time.Second
	}
	p := &Pool{
		cfg:       cfg,
		byKey:     make(map[string][]*Connection),
		planner:   planner,
		connector: connector,
		stop:      make(chan struct{}),
	}
	p.wg.Add(1)
	go p.evictLoop()
	return p
}

// Close stops the eviction loop and closes every pooled connection.
func (p *Pool) Close() error {
	close(p.stop)
	p.wg.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, conns := range p.byKey {
		for _, c := range conns {
			c.close()
		}
	}
	p.byKey = make(map[string][]*Connection)
	return nil
}

// close tears down both the raw socket and, if one was created, the HTTP/2
// engine multiplexed on top of it.
func (c *Connection) close() {
	c.mu.Lock()
	h2 := c.h2
	c.mu.Unlock()
	if h2 != nil {
		h2.Close()
	}
	c.Conn.Conn.Close()
}

// Acquire returns a usable Connection for addr: a bound connection the
// caller already holds, a same-address or coalescable idle connection from
// the pool, or a freshly planned-and-dialed one (distilled spec §4.4's
// acquire algorithm).
// Acquire returns a Connection usable for addr, along with whether it was
// reused from the pool (true) or freshly dialed (false) — the latter
// distinction is what ConnectInterceptor reports to collab.EventListener.
func (p *Pool) Acquire(ctx context.Context, addr *address.Address, bound *Connection) (*Connection, bool, error) {
	if bound != nil && bound.usable() {
		return bound, true, nil
	}

	if c := p.findReusable(addr); c != nil {
		return c, true, nil
	}

	routes, err := p.planner.Plan(ctx, addr)
	if err != nil {
		return nil, false, err
	}
	dialResult, chosenRoute, err := p.connector.Connect(ctx, routes)
	if err != nil {
		return nil, false, err
	}

	// Deduplicate a coalescing race: another goroutine may have just pooled
	// an equivalent connection for this exact address while we were dialing.
	if c := p.findReusable(addr); c != nil {
		dialResult.Conn.Close()
		return c, true, nil
	}

	conn := &Connection{
		Addr:      addr,
		Route:     chosenRoute,
		Conn:      dialResult,
		CreatedAt: time.Now(),
		idle:      true,
		lastUsed:  time.Now(),
	}
	p.put(addr.Key(), conn)
	return conn, false, nil
}

// findReusable scans the pool for a usable connection bound to addr's exact
// key, or — failing that — any usable connection whose Address is
// Coalescable with addr given its peer certificates.
func (p *Pool) findReusable(addr *address.Address) *Connection {
	p.mu.Lock()
	defer p.mu.Unlock()

	if conns, ok := p.byKey[addr.Key()]; ok {
		for _, c := range conns {
			if c.Addr.Equal(addr) && c.usable() {
				return c
			}
		}
	}

	for _, conns := range p.byKey {
		for _, c := range conns {
			if !c.usable() {
				continue
			}
			if c.Addr.Key() == addr.Key() {
				continue // already checked above
			}
			if c.Addr.Coalescable(addr, c.PeerCertificates()) {
				return c
			}
		}
	}
	return nil
}

func (p *Pool) put(key string, c *Connection) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.byKey[key] = append(p.byKey[key], c)
}

// Release returns conn to the idle pool, trimming the least-recently-used
// idle connection if the pool-wide idle cap is exceeded.
func (p *Pool) Release(conn *Connection) {
	conn.MarkIdle(time.Now())
	p.evictOverflow()
}

// evictLoop periodically removes connections idle past Config.KeepAlive or
// marked non-reusable (NoNewExchanges), mirroring the teacher transport's
// ticker-driven idle reaper.
func (p *Pool) evictLoop() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.EvictionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			p.evictExpired()
		}
	}
}

func (p *Pool) evictExpired() {
	now := time.Now()
	p.mu.Lock()
	defer p.mu.Unlock()

	for key, conns := range p.byKey {
		kept := conns[:0]
		for _, c := range conns {
			c.mu.Lock()
			expired := c.idle && now.Sub(c.lastUsed) > p.cfg.KeepAlive
			dead := c.noNewEx && c.idle
			c.mu.Unlock()
			if expired || dead {
				c.close()
				continue
			}
			kept = append(kept, c)
		}
		if len(kept) == 0 {
			delete(p.byKey, key)
		} else {
			p.byKey[key] = kept
		}
	}
}

// evictOverflow trims idle connections beyond Config.MaxIdleConnections,
// globally across all addresses, preferring to keep the most recently used.
func (p *Pool) evictOverflow() {
	p.mu.Lock()
	defer p.mu.Unlock()

	var idle []*Connection
	for _, conns := range p.byKey {
		for _, c := range conns {
			c.mu.Lock()
			isIdle := c.idle && !c.noNewEx
			c.mu.Unlock()
			if isIdle {
				idle = append(idle, c)
			}
		}
	}
	overflow := len(idle) - p.cfg.MaxIdleConnections
	if overflow <= 0 {
		return
	}

	// Selection-sort the oldest-lastUsed overflow count; the idle pool is
	// expected to stay small, so this is simpler than a heap for our sizes.
	for i := 0; i < overflow; i++ {
		oldestIdx := -1
		var oldest time.Time
		for j, c := range idle {
			if c == nil {
				continue
			}
			c.mu.Lock()
			lu := c.lastUsed
			c.mu.Unlock()
			if oldestIdx == -1 || lu.Before(oldest) {
				oldestIdx = j
				oldest = lu
			}
		}
		if oldestIdx == -1 {
			break
		}
		victim := idle[oldestIdx]
		idle[oldestIdx] = nil
		p.removeFromByKey(victim)
		victim.close()
	}
}

func (p *Pool) removeFromByKey(victim *Connection) {
	key := victim.Addr.Key()
	conns := p.byKey[key]
	for i, c := range conns {
		if c == victim {
			p.byKey[key] = append(conns[:i], conns[i+1:]...)
			return
		}
	}
}

// Stats is a read-only snapshot of pool occupancy, used by tests and by
// collab.EventListener-driven observability.
type Stats struct {
	IdleConnections   int
	ActiveConnections int
}

// Stats returns a snapshot of current pool occupancy.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	var s Stats
	for _, conns := range p.byKey {
		for _, c := range conns {
			c.mu.Lock()
			isIdle := c.idle && !c.noNewEx
			c.mu.Unlock()
			if isIdle {
				s.IdleConnections++
			} else {
				s.ActiveConnections++
			}
		}
	}
	return s
}
