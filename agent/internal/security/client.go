package security

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/queuelab/queuelab/agent/internal/config"
)

// NewClient builds an http.Client that authenticates every request according
// to auth and dials TLS with tlsOpts.
func NewClient(auth config.AuthConfig, tlsOpts config.TLSConfig, timeout time.Duration) (*http.Client, error) {
	tlsCfg, err := TLSConfig(auth, tlsOpts)
	if err != nil {
		return nil, err
	}
	return &http.Client{
		Transport: &authRoundTripper{
			base: &http.Transport{TLSClientConfig: tlsCfg, Proxy: http.ProxyFromEnvironment},
			auth: auth,
		},
		Timeout: timeout,
	}, nil
}

// TLSConfig returns the client TLS settings for auth. Client certificates are
// loaded only in mtls mode.
func TLSConfig(auth config.AuthConfig, tlsOpts config.TLSConfig) (*tls.Config, error) {
	tlsCfg := &tls.Config{
		InsecureSkipVerify: tlsOpts.InsecureSkipVerify, //nolint:gosec // user-configured
	}
	if auth.Mode != "mtls" {
		return tlsCfg, nil
	}

	cert, err := tls.LoadX509KeyPair(auth.CertFile, auth.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("security: load client cert: %w", err)
	}
	tlsCfg.Certificates = []tls.Certificate{cert}

	if auth.CAFile != "" {
		caPEM, err := os.ReadFile(auth.CAFile)
		if err != nil {
			return nil, fmt.Errorf("security: read ca file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, fmt.Errorf("security: no valid certs found in ca file %q", auth.CAFile)
		}
		tlsCfg.RootCAs = pool
	}
	return tlsCfg, nil
}

// authRoundTripper injects authentication headers into every outgoing request.
type authRoundTripper struct {
	base http.RoundTripper
	auth config.AuthConfig
}

func (t *authRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	switch t.auth.Mode {
	case "apikey":
		req = req.Clone(req.Context())
		req.Header.Set(t.auth.EffectiveHeader(), t.auth.Key())
	case "bearer":
		req = req.Clone(req.Context())
		req.Header.Set("Authorization", "Bearer "+t.auth.Token())
	case "basic":
		req = req.Clone(req.Context())
		req.SetBasicAuth(t.auth.Username, t.auth.Password())
	}
	return t.base.RoundTrip(req)
}
