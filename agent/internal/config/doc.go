// Package config loads and watches the agent configuration file (config.yaml).
//
// Top-level types:
//   - Config{Agent}: the `agent:` section; `server:` is ignored
//   - AgentConfig: server_endpoint, scrape_interval, buffer_size, log,
//     sources[], server_auth, server_tls
//   - Source: id, endpoint, servers (default 2), arrivals_metric,
//     service_metric, auth, tls
//   - AuthConfig: mode (mtls|apikey|bearer|basic|none), cert/key/ca files,
//     header, key_env, token_env, username, password_env. Key(), Token()
//     and Password() resolve secrets from the environment.
//
// Load(path) reads the YAML file, applies defaults (30s scrape, 1000 buffer,
// http_requests_total / http_request_duration_seconds), then validates.
//
// Watch(ctx, path, running, onSources) watches the file's directory with
// fsnotify, so rename-based saves are seen, and hands over the source list
// only when it changed. RestartRequired names the other settings a reload
// cannot apply.
package config
