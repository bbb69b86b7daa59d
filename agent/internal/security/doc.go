// Package security builds the authenticated HTTP clients the agent uses to
// scrape sources and to reach queuelab-server, and inspects the TLS
// certificates those endpoints present.
//
// NewClient wraps an http.Transport in a round tripper that adds the API key,
// bearer token or basic-auth credentials for every request; mtls mode loads a
// client certificate and optional CA bundle instead.
//
// Check dials an https endpoint and reports its leaf certificate as valid,
// expiring (30 days or less), expired or unreachable.
package security
