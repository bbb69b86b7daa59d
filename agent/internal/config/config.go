package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/queuelab/queuelab/pkg/logging"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultScrapeInterval = 30 * time.Second
	DefaultBufferSize     = 1000
	DefaultServers        = 2
	DefaultArrivalsMetric = "http_requests_total"
	DefaultServiceMetric  = "http_request_duration_seconds"
	DefaultKeyHeader      = "x-api-key"
)

// Config is the agent configuration. The `server:` key in the same file is
// ignored.
type Config struct {
	Agent AgentConfig `yaml:"agent"`
}

// AgentConfig holds all agent-side settings.
type AgentConfig struct {
	// ServerEndpoint is the base URL of queuelab-server, e.g. http://queuelab:8080.
	ServerEndpoint string `yaml:"server_endpoint"`

	// ScrapeInterval controls how often each source is polled. It is also the
	// window over which interarrival and service times are measured.
	ScrapeInterval time.Duration `yaml:"scrape_interval"`

	// BufferSize is the maximum number of observations held in memory while
	// the server is unreachable.
	BufferSize int `yaml:"buffer_size"`

	// Log selects the log format and level.
	Log LogConfig `yaml:"log"`

	// Sources is the list of services to observe.
	Sources []Source `yaml:"sources"`

	// ServerAuth configures how the agent authenticates to queuelab-server.
	// Supports mtls | apikey | none.
	ServerAuth AuthConfig `yaml:"server_auth"`

	// ServerTLS holds TLS options for the connection to the server.
	ServerTLS TLSConfig `yaml:"server_tls"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Format string `yaml:"format"` // json | text
	Level  string `yaml:"level"`  // debug | info | warn | error
}

// Source describes one observed service.
type Source struct {
	// ID is a unique, human-readable identifier for this source.
	ID string `yaml:"id"`

	// Endpoint is the full URL of the service's Prometheus metrics endpoint.
	Endpoint string `yaml:"endpoint"`

	// Servers is the number of parallel workers serving requests (c).
	Servers int `yaml:"servers"`

	// ArrivalsMetric names the counter family incremented once per request.
	ArrivalsMetric string `yaml:"arrivals_metric"`

	// ServiceMetric names the histogram or summary of request durations, in
	// seconds. Plain <name>_sum and <name>_count counters are accepted too.
	ServiceMetric string `yaml:"service_metric"`

	// Auth configures how the agent authenticates to this source.
	Auth AuthConfig `yaml:"auth"`

	// TLS holds optional TLS dial options.
	TLS TLSConfig `yaml:"tls"`
}

// AuthConfig specifies an authentication mode.
type AuthConfig struct {
	// Mode is one of: mtls | apikey | bearer | basic | none.
	Mode string `yaml:"mode"`

	// mTLS: client certificate, key and optional CA bundle.
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
	CAFile   string `yaml:"ca_file"`

	// API key: header name and the environment variable holding the key.
	Header string `yaml:"header"`
	KeyEnv string `yaml:"key_env"`

	// Bearer token.
	TokenEnv string `yaml:"token_env"`

	// Basic auth. Username is literal, the password comes from the environment.
	Username    string `yaml:"username"`
	PasswordEnv string `yaml:"password_env"`
}

// Key returns the API key value resolved from the environment.
// Returns empty string if KeyEnv is unset or the variable is not found.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// Token returns the bearer token value resolved from the environment.
func (a AuthConfig) Token() string {
	if a.TokenEnv == "" {
		return ""
	}
	return os.Getenv(a.TokenEnv)
}

// Password returns the basic-auth password resolved from the environment.
func (a AuthConfig) Password() string {
	if a.PasswordEnv == "" {
		return ""
	}
	return os.Getenv(a.PasswordEnv)
}

// EffectiveHeader returns the API key header, or DefaultKeyHeader.
func (a AuthConfig) EffectiveHeader() string {
	if a.Header != "" {
		return a.Header
	}
	return DefaultKeyHeader
}

// TLSConfig holds TLS dial options.
type TLSConfig struct {
	// InsecureSkipVerify disables TLS certificate verification.
	// Only use this for internal CAs in development environments.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`
}

// ObservationsURL returns the server's observation ingest URL.
func (a AgentConfig) ObservationsURL() string {
	return a.ServerEndpoint + "/api/v1/observations"
}

// Load reads and parses the YAML config file at path.
// Missing optional fields are filled with sensible defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}
	applySourceDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Agent: AgentConfig{
			ScrapeInterval: DefaultScrapeInterval,
			BufferSize:     DefaultBufferSize,
			Log: LogConfig{
				Format: logging.FormatJSON,
				Level:  "info",
			},
		},
	}
}

// applySourceDefaults fills per-source fields, which yaml leaves at their
// zero values, and trims the server endpoint.
func applySourceDefaults(cfg *Config) {
	for i := range cfg.Agent.Sources {
		src := &cfg.Agent.Sources[i]
		if src.Servers == 0 {
			src.Servers = DefaultServers
		}
		if src.ArrivalsMetric == "" {
			src.ArrivalsMetric = DefaultArrivalsMetric
		}
		if src.ServiceMetric == "" {
			src.ServiceMetric = DefaultServiceMetric
		}
	}
	cfg.Agent.ServerEndpoint = strings.TrimRight(cfg.Agent.ServerEndpoint, "/")
}

// validate checks required fields and structural constraints.
func validate(cfg *Config) error {
	a := cfg.Agent
	if a.ServerEndpoint == "" {
		return fmt.Errorf("agent.server_endpoint is required")
	}
	if err := httpURL(a.ServerEndpoint); err != nil {
		return fmt.Errorf("agent.server_endpoint: %w", err)
	}
	if a.ScrapeInterval <= 0 {
		return fmt.Errorf("agent.scrape_interval must be positive")
	}
	if a.BufferSize <= 0 {
		return fmt.Errorf("agent.buffer_size must be positive")
	}
	switch a.Log.Format {
	case logging.FormatJSON, logging.FormatText, "":
	default:
		return fmt.Errorf("agent.log.format %q unknown: want json|text", a.Log.Format)
	}
	if _, err := logging.ParseLevel(a.Log.Level); err != nil {
		return fmt.Errorf("agent.log.level: %w", err)
	}
	switch a.ServerAuth.Mode {
	case "mtls", "apikey", "none", "":
	default:
		return fmt.Errorf("agent.server_auth.mode %q unknown: want mtls|apikey|none", a.ServerAuth.Mode)
	}

	seen := make(map[string]bool, len(a.Sources))
	for i, src := range a.Sources {
		if src.ID == "" {
			return fmt.Errorf("sources[%d]: id is required", i)
		}
		if seen[src.ID] {
			return fmt.Errorf("sources[%d]: duplicate id %q", i, src.ID)
		}
		seen[src.ID] = true
		if src.Endpoint == "" {
			return fmt.Errorf("sources[%d] %q: endpoint is required", i, src.ID)
		}
		if err := httpURL(src.Endpoint); err != nil {
			return fmt.Errorf("sources[%d] %q: endpoint: %w", i, src.ID, err)
		}
		if src.Servers < 1 {
			return fmt.Errorf("sources[%d] %q: servers must be at least 1", i, src.ID)
		}
		switch src.Auth.Mode {
		case "mtls", "apikey", "bearer", "basic", "none", "":
		default:
			return fmt.Errorf("sources[%d] %q: unknown auth mode %q", i, src.ID, src.Auth.Mode)
		}
	}
	return nil
}

func httpURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme %q: want http or https", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host in %q", raw)
	}
	return nil
}
