// Package shipper posts observations to queuelab-server as JSON
// (POST <server_endpoint>/api/v1/observations).
//
// Shipper.Ship() is non-blocking: observations go into an in-memory channel
// (default capacity 1000). When the buffer is full the oldest entry is
// evicted so the latest data is always preserved.
//
// Shipper.Run() drains the buffer in a loop, retrying a failed send with
// truncated exponential backoff (1s→60s, ±25% jitter). A 4xx response other
// than 429 means the server rejected the observation itself; it is discarded
// rather than retried.
//
// Auth: API key header, mTLS client certificate, or none, through the client
// built by security.NewClient.
package shipper
