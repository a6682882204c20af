package pool

import (
	"bufio"

	"github.com/nexthttp/nexthttp/pkg/http2engine"
)

// H2 lazily wraps the pooled socket in an http2engine.Connection the first
// time it is needed, and returns the same instance on every later call so
// every stream opened for this pooled Connection multiplexes onto one
// engine.
func (c *Connection) H2() (*http2engine.Connection, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.h2 != nil {
		return c.h2, nil
	}
	h2, err := http2engine.New(c.Conn.Conn, http2engine.DefaultConfig())
	if err != nil {
		return nil, err
	}
	c.h2 = h2
	return h2, nil
}

// BufReader returns the bufio.Reader wrapping this connection's socket for
// HTTP/1.1 exchanges, creating it on first use. Reusing the same reader
// across exchanges on one connection is required so bytes read-ahead for
// one response are not dropped before the next exchange starts.
func (c *Connection) BufReader() *bufio.Reader {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.br == nil {
		c.br = bufio.NewReader(c.Conn.Conn)
	}
	return c.br
}
