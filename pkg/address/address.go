// Package address defines the Address equivalence class that governs
// whether two calls may share a connection (distilled spec §3, §4.4).
package address

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"

	"github.com/nexthttp/nexthttp/pkg/collab"
	"github.com/nexthttp/nexthttp/pkg/tlsconfig"
)

// Protocol is an ALPN/negotiation preference.
type Protocol string

const (
	HTTP1_1          Protocol = "http/1.1"
	HTTP2            Protocol = "h2"
	H2PriorKnowledge Protocol = "h2_prior_knowledge"
)

// Address is the equivalence class that governs whether two calls may share
// a connection. Two Addresses are Equal iff every field listed in the
// distilled spec §3 matches; they are Coalescable iff they differ only in
// host/port and a peer certificate's SAN set covers both hostnames.
type Address struct {
	Scheme string
	Host   string
	Port   int

	Resolver      collab.Resolver
	Proxy         collab.ProxyChoice
	Selector      collab.ProxySelector // consulted only when Proxy is the zero value
	Protocols     []Protocol
	ConnSpecs     []tlsconfig.ConnectionSpec
	TLSConfig     *tls.Config // identity comparison only, never mutated by the pool
	Pinner        collab.CertificatePinner
	Authenticator collab.Authenticator
}

// Key returns a string uniquely identifying the Address's routing target,
// used as the connection pool's primary hash key. It intentionally does not
// capture the collaborator identities (Resolver/Pinner/Authenticator) — two
// Addresses with the same Key but different collaborators are NOT
// necessarily Equal; callers must still call Equal before reusing a
// connection found via Key.
func (a *Address) Key() string {
	return fmt.Sprintf("%s://%s:%d", a.Scheme, a.Host, a.Port)
}

// Equal reports whether a and other are the same equivalence class.
func (a *Address) Equal(other *Address) bool {
	if a == other {
		return true
	}
	if other == nil {
		return false
	}
	if a.Scheme != other.Scheme || a.Host != other.Host || a.Port != other.Port {
		return false
	}
	if a.Proxy != other.Proxy {
		return false
	}
	if !selectorEqual(a.Selector, other.Selector) {
		return false
	}
	if !protocolsEqual(a.Protocols, other.Protocols) {
		return false
	}
	if !connSpecsEqual(a.ConnSpecs, other.ConnSpecs) {
		return false
	}
	if a.TLSConfig != other.TLSConfig {
		return false
	}
	if a.Pinner != other.Pinner {
		return false
	}
	if a.Authenticator != other.Authenticator {
		return false
	}
	// Resolver identity: compared with ==; two Resolvers of the same
	// non-comparable dynamic type count as unequal.
	return resolverEqual(a.Resolver, other.Resolver)
}

// Coalescable reports whether a request meant for other's host/port may
// instead be bound to a connection opened for a, given the peer certificates
// presented by a's connection. Coalescing requires everything but host/port
// to match, and the certificate's SAN set to cover other.Host.
func (a *Address) Coalescable(other *Address, peerCerts []*x509.Certificate) bool {
	if a.Scheme != other.Scheme {
		return false
	}
	if a.Proxy != other.Proxy {
		return false
	}
	if a.TLSConfig != other.TLSConfig || !selectorEqual(a.Selector, other.Selector) {
		return false
	}
	if !protocolsEqual(a.Protocols, other.Protocols) {
		return false
	}
	if !connSpecsEqual(a.ConnSpecs, other.ConnSpecs) {
		return false
	}
	if a.Pinner != other.Pinner || a.Authenticator != other.Authenticator {
		return false
	}
	if !resolverEqual(a.Resolver, other.Resolver) {
		return false
	}
	if a.Host == other.Host && a.Port == other.Port {
		return true // not actually a distinct address, trivially "coalescable"
	}
	return certificateCoversHost(peerCerts, other.Host)
}

// certificateCoversHost reports whether the chain's leaf certificate
// (certs[0]) covers host via its SAN set (x509.Certificate.VerifyHostname,
// which checks both DNSNames and, for IPs, IPAddresses). The other
// certificates in the chain are not consulted.
func certificateCoversHost(certs []*x509.Certificate, host string) bool {
	if len(certs) == 0 {
		return false
	}
	return certs[0].VerifyHostname(host) == nil
}

func protocolsEqual(a, b []Protocol) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func connSpecsEqual(a, b []tlsconfig.ConnectionSpec) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Name != b[i].Name {
			return false
		}
	}
	return true
}

func resolverEqual(a, b collab.Resolver) (eq bool) {
	defer func() {
		if recover() != nil {
			// a or b holds a non-comparable dynamic type (e.g. a func-based
			// resolver wrapper); treat as unequal rather than panic.
			eq = a == nil && b == nil
		}
	}()
	return a == b
}

func selectorEqual(a, b collab.ProxySelector) (eq bool) {
	defer func() {
		if recover() != nil {
			eq = a == nil && b == nil
		}
	}()
	return a == b
}
