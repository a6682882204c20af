package collab

import "crypto/x509"

// CertificatePinner validates peerCertificates against a pin set for
// hostname, invoked after ordinary hostname verification (§6). Returning a
// non-nil error fails the handshake even if the chain otherwise validated.
type CertificatePinner interface {
	Check(hostname string, peerCertificates []*x509.Certificate) error
}

// NoCertificatePinner performs no pinning. Default when no pinner is
// configured.
type NoCertificatePinner struct{}

// Check always succeeds.
func (NoCertificatePinner) Check(hostname string, peerCertificates []*x509.Certificate) error {
	return nil
}
