// Package types defines shared Go types used by both the agent and server.
// Observation is the JSON document the agent ships to POST /api/v1/observations
// and the server keeps in its snapshot store.
package types
