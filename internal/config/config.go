// Package config handles connection-level configuration for the host
// SDK: where to dial, how to authenticate, and the timeouts governing
// reconnects and liveness checks.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order. An explicit
// path (from a -config flag or similar) is checked first by FindConfig;
// otherwise ./config.yaml, ~/.config/hostsdk/config.yaml,
// /config/config.yaml, /etc/hostsdk/config.yaml are tried in order.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "hostsdk", "config.yaml"))
	}

	paths = append(paths, "/config/config.yaml") // container convention
	paths = append(paths, "/etc/hostsdk/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must
// exist. Otherwise it searches DefaultSearchPaths and returns the first
// that exists.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds every tunable of the host connection.
type Config struct {
	// Endpoint is the dashboard's websocket URL.
	Endpoint string `yaml:"endpoint"`
	// APIKey authenticates this host with the dashboard.
	APIKey string `yaml:"api_key"`

	// RetryIntervalSeconds is the delay between reconnect attempts
	// after the socket drops.
	RetryIntervalSeconds int `yaml:"retry_interval_seconds"`
	// ConnectTimeoutSeconds bounds the wait for the dashboard's
	// authentication handshake after dial.
	ConnectTimeoutSeconds int `yaml:"connect_timeout_seconds"`
	// SendTimeoutSeconds bounds the wait for the dashboard's ack of each
	// outbound socket frame.
	SendTimeoutSeconds int `yaml:"send_timeout_seconds"`
	// PingIntervalSeconds is how often the liveness watchdog pings the
	// socket.
	PingIntervalSeconds int `yaml:"ping_interval_seconds"`
	// PingTimeoutSeconds bounds the wait for a single ping's ack.
	PingTimeoutSeconds int `yaml:"ping_timeout_seconds"`
	// CloseUnresponsiveConnectionTimeoutSeconds is how long a socket
	// may go without a successful ping before it is forcibly closed and
	// a reconnect begins.
	CloseUnresponsiveConnectionTimeoutSeconds int `yaml:"close_unresponsive_connection_timeout_seconds"`
	// ReinitializeBatchMillis debounces bursts of route registry
	// changes into a single re-INITIALIZE_HOST.
	ReinitializeBatchMillis int `yaml:"reinitialize_batch_millis"`

	// ProducerCount is the number of goroutines draining the outbound
	// frame queue.
	ProducerCount int `yaml:"producer_count"`
	// OutQueueSize bounds the outbound buffered channel.
	OutQueueSize int `yaml:"out_queue_size"`

	// LogLevel is one of trace, debug, info, warn, error.
	LogLevel string `yaml:"log_level"`
}

// Load reads configuration from a YAML file, expands environment
// variables, applies defaults for any unset fields, and validates the
// result. After Load returns successfully, every field is usable
// without additional nil/zero checks.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables (e.g. ${HOSTSDK_API_KEY}). This is a
	// convenience for container deployments; the recommended approach
	// is still to put secrets in the environment and reference them
	// here rather than committing them to the file.
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// applyDefaults fills in zero-value fields with sensible defaults.
// Called automatically by Load and Default.
func (c *Config) applyDefaults() {
	if c.Endpoint == "" {
		c.Endpoint = "wss://relaydash.example.com/websocket"
	}
	if c.RetryIntervalSeconds == 0 {
		c.RetryIntervalSeconds = 3
	}
	if c.ConnectTimeoutSeconds == 0 {
		c.ConnectTimeoutSeconds = 10
	}
	if c.SendTimeoutSeconds == 0 {
		c.SendTimeoutSeconds = 10
	}
	if c.PingIntervalSeconds == 0 {
		c.PingIntervalSeconds = 30
	}
	if c.PingTimeoutSeconds == 0 {
		c.PingTimeoutSeconds = 5
	}
	if c.CloseUnresponsiveConnectionTimeoutSeconds == 0 {
		c.CloseUnresponsiveConnectionTimeoutSeconds = 180
	}
	if c.ReinitializeBatchMillis == 0 {
		c.ReinitializeBatchMillis = 200
	}
	if c.ProducerCount == 0 {
		c.ProducerCount = 1
	}
	if c.OutQueueSize == 0 {
		c.OutQueueSize = 64
	}
}

// Validate checks that the configuration is internally consistent. It
// runs after applyDefaults, so it can assume defaults are populated.
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("api_key is required")
	}
	if c.RetryIntervalSeconds < 1 {
		return fmt.Errorf("retry_interval_seconds %d must be >= 1", c.RetryIntervalSeconds)
	}
	if c.PingIntervalSeconds < 1 {
		return fmt.Errorf("ping_interval_seconds %d must be >= 1", c.PingIntervalSeconds)
	}
	if c.CloseUnresponsiveConnectionTimeoutSeconds < c.PingIntervalSeconds {
		return fmt.Errorf("close_unresponsive_connection_timeout_seconds must be >= ping_interval_seconds")
	}
	if c.ProducerCount < 1 {
		return fmt.Errorf("producer_count %d must be >= 1", c.ProducerCount)
	}
	if c.LogLevel != "" {
		if _, err := ParseLogLevel(c.LogLevel); err != nil {
			return err
		}
	}
	return nil
}

// Default returns a ready-to-use configuration for local development
// against apiKey. All other fields take their documented defaults.
func Default(apiKey string) *Config {
	cfg := &Config{APIKey: apiKey}
	cfg.applyDefaults()
	return cfg
}
