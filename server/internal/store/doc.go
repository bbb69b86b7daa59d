// Package store keeps the latest observation reported by each agent source.
// Entries expire after a TTL so sources that stop reporting drop out of the
// dashboard, the health summary and the WebSocket feed.
package store
