// Package config loads the server-side configuration from the `server:` section
// of config.yaml (the `agent:` key is ignored by the server binary).
//
// Config fields:
//   - GRPCPort         : port for the gRPC health service (default 50051)
//   - HTTPPort         : port for the REST API, calculator page, /metrics and
//     WebSocket hub (default 8080)
//   - Log.Format       : "json" (default) or "text"
//   - Log.Level        : debug | info | warn | error
//   - Auth.Mode        : "apikey" or "none"
//   - Auth.KeyEnv      : environment variable holding the expected API key
//   - Auth.Header      : HTTP header / gRPC metadata name (default "x-api-key")
//   - Snapshot.TTL     : how long a source observation remains live (default 5m)
//   - BroadcastInterval: WebSocket push interval (default 5s)
//   - Evaluator        : default server count (2) and max_servers (10000)
//   - Alerts           : rules ("rho > 0.85") and webhook targets
//
// Load(path) applies defaults before unmarshalling, then validates.
// Default() returns the same defaults without reading a file.
package config
