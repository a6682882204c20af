package collab

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"net"
	"time"
)

// HandshakeDescriptor is what a TLSCollaborator returns after a successful
// handshake: enough detail for the Response's handshake record and for the
// certificate pinner.
type HandshakeDescriptor struct {
	TLSVersion        uint16
	CipherSuite       uint16
	NegotiatedProto   string // ALPN result, e.g. "h2" or "http/1.1"
	PeerCertificates  []*x509.Certificate
	LocalCertificates []*x509.Certificate
	Resumed           bool
	ServerName        string
}

// TLSCollaborator builds a secure transport atop an already-connected socket
// given a *tls.Config (produced by pairing a Route's ConnectionSpec with the
// Address's TLS identity). Certificate *validation* is explicitly out of
// core scope (§1 Non-goals) — the collaborator is expected to have already
// configured verification the way its caller wants (including
// InsecureSkipVerify, custom RootCAs, or a custom VerifyPeerCertificate).
type TLSCollaborator interface {
	Handshake(ctx context.Context, conn net.Conn, cfg *tls.Config) (net.Conn, *HandshakeDescriptor, error)
}

// StdTLSCollaborator is the default TLSCollaborator: a thin wrapper over
// crypto/tls that honors ctx's deadline for the handshake.
type StdTLSCollaborator struct{}

// Handshake performs a client-side TLS handshake over conn using cfg,
// respecting ctx's deadline.
func (StdTLSCollaborator) Handshake(ctx context.Context, conn net.Conn, cfg *tls.Config) (net.Conn, *HandshakeDescriptor, error) {
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
		defer conn.SetDeadline(time.Time{})
	}

	tlsConn := tls.Client(conn, cfg)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return nil, nil, err
	}

	state := tlsConn.ConnectionState()
	desc := &HandshakeDescriptor{
		TLSVersion:      state.Version,
		CipherSuite:     state.CipherSuite,
		NegotiatedProto: state.NegotiatedProtocol,
		Resumed:         state.DidResume,
		ServerName:      state.ServerName,
	}
	desc.PeerCertificates = state.PeerCertificates
	if cfg.Certificates != nil && len(cfg.Certificates) > 0 {
		for _, raw := range cfg.Certificates[0].Certificate {
			if cert, err := x509.ParseCertificate(raw); err == nil {
				desc.LocalCertificates = append(desc.LocalCertificates, cert)
			}
		}
	}

	return tlsConn, desc, nil
}
