package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/queuelab/queuelab/pkg/logging"
)

// AlertsConfig holds alerting rules and webhook delivery targets.
type AlertsConfig struct {
	Rules    []AlertRule     `yaml:"rules"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// AlertRule defines one threshold-based alert condition.
type AlertRule struct {
	// Name is the human-readable alert identifier, used as the deduplication key.
	Name string `yaml:"name"`

	// Condition is a simple expression: "rho > 0.85", "pw >= 0.5",
	// "wq > 2", "state == unstable".
	Condition string `yaml:"condition"`

	// Severity is one of: critical | warning | info.
	Severity string `yaml:"severity"`

	// Cooldown suppresses re-fires for this duration after an alert fires.
	// Defaults to 15 minutes if zero.
	Cooldown time.Duration `yaml:"cooldown"`
}

// WebhookConfig defines one webhook delivery target.
type WebhookConfig struct {
	// Type is one of: teams | slack | http.
	Type string `yaml:"type"`

	// URLEnv is the name of the environment variable that holds the webhook URL.
	URLEnv string `yaml:"url_env"`
}

// URL returns the webhook URL resolved from the environment.
func (w WebhookConfig) URL() string {
	if w.URLEnv == "" {
		return ""
	}
	return os.Getenv(w.URLEnv)
}

// Default values for the server configuration.
const (
	DefaultGRPCPort          = 50051
	DefaultHTTPPort          = 8080
	DefaultSnapshotTTL       = 5 * time.Minute
	DefaultBroadcastInterval = 5 * time.Second
	DefaultServers           = 2
	DefaultMaxServers        = 10000
)

// Config holds the server-side configuration parsed from the `server:` section
// of config.yaml. The `agent:` key in the same file is ignored.
type Config struct {
	Server ServerConfig `yaml:"server"`
}

// ServerConfig holds all server-side settings.
type ServerConfig struct {
	// GRPCPort is the port the gRPC health service listens on (default 50051).
	GRPCPort int `yaml:"grpc_port"`

	// HTTPPort is the port the REST API, calculator page, /metrics and
	// WebSocket hub listen on (default 8080).
	HTTPPort int `yaml:"http_port"`

	// Log selects the log format and level.
	Log LogConfig `yaml:"log"`

	// Auth configures how the server authenticates observation ingest and
	// gRPC clients.
	Auth AuthConfig `yaml:"auth"`

	// Snapshot controls in-memory observation retention.
	Snapshot SnapshotConfig `yaml:"snapshot"`

	// BroadcastInterval is how often the WebSocket hub pushes the snapshot.
	BroadcastInterval time.Duration `yaml:"broadcast_interval"`

	// Evaluator holds defaults for ad-hoc evaluations.
	Evaluator EvaluatorConfig `yaml:"evaluator"`

	// Alerts holds rule definitions and webhook delivery targets.
	Alerts AlertsConfig `yaml:"alerts"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	// Format is json | text. Default json.
	Format string `yaml:"format"`

	// Level is debug | info | warn | error. Default info.
	Level string `yaml:"level"`
}

// EvaluatorConfig controls defaults applied to calculator and API input.
type EvaluatorConfig struct {
	// DefaultServers is used when a request omits the server count (default 2).
	DefaultServers int `yaml:"default_servers"`

	// MaxServers rejects larger server counts (default 10000). Zero = unlimited.
	MaxServers int `yaml:"max_servers"`
}

// AuthConfig controls client authentication on the server side.
type AuthConfig struct {
	// Mode is one of: apikey | none.
	Mode string `yaml:"mode"`

	// KeyEnv is the name of the environment variable that holds the expected API key.
	// Used when Mode == "apikey".
	KeyEnv string `yaml:"key_env"`

	// Header is the HTTP header name (and gRPC metadata key) to read the key from.
	// Defaults to "x-api-key" if empty.
	Header string `yaml:"header"`
}

// Key returns the expected API key resolved from the environment.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// EffectiveHeader returns the configured header name, or the default "x-api-key".
func (a AuthConfig) EffectiveHeader() string {
	if a.Header != "" {
		return a.Header
	}
	return "x-api-key"
}

// SnapshotConfig controls in-memory observation retention.
type SnapshotConfig struct {
	// TTL is how long a source's observation remains in the store after its last update.
	// When TTL elapses without a new observation from a source, the entry is evicted.
	// Default: 5m.
	TTL time.Duration `yaml:"ttl"`
}

// Load reads and parses the config file at path, returning the server configuration.
// Missing fields are filled with sensible defaults before validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("server config: read %q: %w", path, err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("server config: parse yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("server config: %w", err)
	}

	return cfg, nil
}

// Default returns the configuration used when no config file is given.
func Default() *Config {
	return defaults()
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			GRPCPort: DefaultGRPCPort,
			HTTPPort: DefaultHTTPPort,
			Log: LogConfig{
				Format: logging.FormatJSON,
				Level:  "info",
			},
			Snapshot: SnapshotConfig{
				TTL: DefaultSnapshotTTL,
			},
			BroadcastInterval: DefaultBroadcastInterval,
			Evaluator: EvaluatorConfig{
				DefaultServers: DefaultServers,
				MaxServers:     DefaultMaxServers,
			},
		},
	}
}

// validate checks structural constraints on the parsed configuration.
func validate(cfg *Config) error {
	s := cfg.Server
	if s.GRPCPort <= 0 || s.GRPCPort > 65535 {
		return fmt.Errorf("server.grpc_port %d is out of range [1, 65535]", s.GRPCPort)
	}
	if s.HTTPPort <= 0 || s.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port %d is out of range [1, 65535]", s.HTTPPort)
	}
	if s.GRPCPort == s.HTTPPort {
		return fmt.Errorf("server.grpc_port and server.http_port must differ (both %d)", s.HTTPPort)
	}
	switch s.Log.Format {
	case logging.FormatJSON, logging.FormatText, "":
	default:
		return fmt.Errorf("server.log.format %q unknown: want json|text", s.Log.Format)
	}
	if _, err := logging.ParseLevel(s.Log.Level); err != nil {
		return fmt.Errorf("server.log.level: %w", err)
	}
	switch s.Auth.Mode {
	case "apikey", "none", "":
	default:
		return fmt.Errorf("server.auth.mode %q unknown: want apikey|none", s.Auth.Mode)
	}
	if s.Snapshot.TTL < 0 {
		return fmt.Errorf("server.snapshot.ttl must not be negative")
	}
	if s.BroadcastInterval <= 0 {
		return fmt.Errorf("server.broadcast_interval must be positive")
	}
	if s.Evaluator.DefaultServers < 1 {
		return fmt.Errorf("server.evaluator.default_servers must be at least 1")
	}
	if s.Evaluator.MaxServers < 0 {
		return fmt.Errorf("server.evaluator.max_servers must not be negative")
	}
	if s.Evaluator.MaxServers > 0 && s.Evaluator.DefaultServers > s.Evaluator.MaxServers {
		return fmt.Errorf("server.evaluator.default_servers %d exceeds max_servers %d",
			s.Evaluator.DefaultServers, s.Evaluator.MaxServers)
	}
	for i, r := range s.Alerts.Rules {
		if r.Name == "" {
			return fmt.Errorf("server.alerts.rules[%d]: name is required", i)
		}
		if r.Condition == "" {
			return fmt.Errorf("server.alerts.rules[%d] %q: condition is required", i, r.Name)
		}
		switch r.Severity {
		case "critical", "warning", "info", "":
		default:
			return fmt.Errorf("server.alerts.rules[%d] %q: unknown severity %q", i, r.Name, r.Severity)
		}
	}
	for i, w := range s.Alerts.Webhooks {
		switch w.Type {
		case "slack", "teams", "http":
		default:
			return fmt.Errorf("server.alerts.webhooks[%d]: unknown type %q", i, w.Type)
		}
	}
	return nil
}
