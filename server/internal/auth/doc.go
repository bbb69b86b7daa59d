// Package auth enforces the shared API key on the observation ingest endpoint
// (Middleware) and on the gRPC health service (APIKeyInterceptor and
// APIKeyStreamInterceptor).
//
// When mode != "apikey" or the key is empty every request passes through,
// which is the local development setup.
package auth
