package security

import (
	"context"
	"crypto/tls"
	"math"
	"net"
	"net/url"
	"time"
)

// Certificate states reported by Check.
const (
	CertValid       = "valid"
	CertExpiring    = "expiring"
	CertExpired     = "expired"
	CertUnreachable = "unreachable"
)

// expiringWithin is the window in which a valid certificate is reported as
// expiring.
const expiringWithin = 30 * 24 * time.Hour

// CertStatus describes the leaf certificate presented by an HTTPS endpoint.
type CertStatus struct {
	Endpoint string
	Status   string
	Issuer   string
	NotAfter time.Time
	DaysLeft int
}

// Check dials the TLS endpoint and describes its leaf certificate.
//
// ok is false for non-HTTPS endpoints, which have no certificate to inspect.
// now is passed explicitly so tests control expiry without real certificates
// of the right age.
func Check(ctx context.Context, endpoint string, insecureSkipVerify bool, now time.Time) (cs CertStatus, ok bool) {
	u, err := url.Parse(endpoint)
	if err != nil || u.Scheme != "https" {
		return CertStatus{}, false
	}
	cs.Endpoint = endpoint

	host := u.Host
	if _, _, err := net.SplitHostPort(host); err != nil {
		host = net.JoinHostPort(host, "443")
	}

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{},
		Config: &tls.Config{
			InsecureSkipVerify: insecureSkipVerify, //nolint:gosec
		},
	}
	netConn, err := dialer.DialContext(dialCtx, "tcp", host)
	if err != nil {
		cs.Status = CertUnreachable
		return cs, true
	}
	conn := netConn.(*tls.Conn)
	defer conn.Close()

	peerCerts := conn.ConnectionState().PeerCertificates
	if len(peerCerts) == 0 {
		cs.Status = CertUnreachable
		return cs, true
	}

	leaf := peerCerts[0]
	left := leaf.NotAfter.Sub(now)
	cs.NotAfter = leaf.NotAfter.UTC()
	cs.Issuer = leaf.Issuer.CommonName
	cs.DaysLeft = int(math.Floor(left.Hours() / 24))

	switch {
	case left <= 0:
		cs.Status = CertExpired
	case left <= expiringWithin:
		cs.Status = CertExpiring
	default:
		cs.Status = CertValid
	}
	return cs, true
}
