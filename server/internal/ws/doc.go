// Package ws pushes the live source snapshot to dashboard clients over
// WebSocket.
//
// New(snapshot, interval) creates a Hub. Run(ctx) broadcasts every interval
// until ctx is cancelled and then closes all connections. ServeHTTP upgrades
// the connection and sends the current snapshot immediately.
//
// Message format:
//
//	{"event": "snapshot", "data": { same schema as GET /api/v1/snapshot }}
//
// Slow clients whose buffer fills up are disconnected. The server mounts the
// hub at /ws/stream.
package ws
