package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the relay.
type Config struct {
	Upstream UpstreamConfig `yaml:"upstream" envPrefix:"RELAY_UPSTREAM_"`
	Relay    RelayConfig    `yaml:"relay" envPrefix:"RELAY_"`
	Server   ServerConfig   `yaml:"server" envPrefix:"RELAY_"`
	Log      LogConfig      `yaml:"log" envPrefix:"RELAY_LOG_"`
	Journal  JournalConfig  `yaml:"journal" envPrefix:"RELAY_JOURNAL_"`

	// NtfyEndpoint receives link state notifications. Empty disables them.
	NtfyEndpoint string `yaml:"ntfy_endpoint" env:"RELAY_NTFY_ENDPOINT"`
}

// UpstreamConfig describes the feed connection and its reconnect schedule.
type UpstreamConfig struct {
	URL               string        `yaml:"url" env:"URL"`
	Handshake         string        `yaml:"handshake" env:"HANDSHAKE"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" env:"HEARTBEAT_INTERVAL"`
	DialTimeout       time.Duration `yaml:"dial_timeout" env:"DIAL_TIMEOUT"`
	RetryKind         string        `yaml:"retry_kind" env:"RETRY_KIND"`
	RetryDelay        time.Duration `yaml:"retry_delay" env:"RETRY_DELAY"`
	RetryMaxDelay     time.Duration `yaml:"retry_max_delay" env:"RETRY_MAX_DELAY"`
	RetryMaxAttempts  int           `yaml:"retry_max_attempts" env:"RETRY_MAX_ATTEMPTS"`
}

// RelayConfig tunes fan-out and draining.
type RelayConfig struct {
	BatchSize    int    `yaml:"batch_size" env:"BATCH_SIZE"`
	PoolSize     int    `yaml:"pool_size" env:"POOL_SIZE"`
	WorkerQueue  int    `yaml:"worker_queue" env:"WORKER_QUEUE"`
	MailboxLimit int    `yaml:"mailbox_limit" env:"MAILBOX_LIMIT"`
	SendQueue    int    `yaml:"send_queue" env:"SEND_QUEUE"`
	AckMessage   string `yaml:"ack_message" env:"ACK_MESSAGE"`
}

// ServerConfig controls the subscriber-facing HTTP listener.
type ServerConfig struct {
	BindAddr       string   `yaml:"bind_addr" env:"BIND_ADDR"`
	FallbackAddrs  []string `yaml:"fallback_addrs" env:"FALLBACK_ADDRS" envSeparator:","`
	AutoFallback   bool     `yaml:"auto_fallback" env:"PORT_AUTO_FALLBACK"`
	AllowedOrigins []string `yaml:"allowed_origins" env:"ALLOWED_ORIGINS" envSeparator:","`
}

type LogConfig struct {
	Level string `yaml:"level" env:"LEVEL"`
	File  string `yaml:"file" env:"FILE"`
}

// JournalConfig enables the on-disk feed journal when Dir is set.
type JournalConfig struct {
	Dir        string `yaml:"dir" env:"DIR"`
	BufferSize int    `yaml:"buffer_size" env:"BUFFER_SIZE"`
	MaxSizeMB  int    `yaml:"max_size_mb" env:"MAX_SIZE_MB"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		Upstream: UpstreamConfig{
			URL:               "ws://127.0.0.1:9001/feed",
			Handshake:         "hello",
			HeartbeatInterval: 5 * time.Second,
			DialTimeout:       10 * time.Second,
			RetryKind:         "fixed",
			RetryDelay:        5 * time.Second,
			RetryMaxDelay:     time.Minute,
		},
		Relay: RelayConfig{
			BatchSize:   100,
			WorkerQueue: 1024,
			SendQueue:   256,
			AckMessage:  "connected",
		},
		Server: ServerConfig{
			BindAddr: "127.0.0.1:8080",
			FallbackAddrs: []string{
				"127.0.0.1:8081",
				"127.0.0.1:8082",
				"127.0.0.1:8083",
			},
			AutoFallback: true,
		},
		Log: LogConfig{
			Level: "info",
			File:  "logs/tv_relay.log",
		},
		Journal: JournalConfig{
			BufferSize: 4096,
			MaxSizeMB:  100,
		},
	}
}

// Load layers configuration: defaults, then the YAML file at path (or
// RELAY_CONFIG_FILE when path is empty), then .env, then RELAY_* variables.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = getEnvOrDefault("RELAY_CONFIG_FILE", "")
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: environment: %w", err)
	}

	cfg.Log.Level = strings.ToLower(cfg.Log.Level)
	cfg.Upstream.RetryKind = strings.ToLower(cfg.Upstream.RetryKind)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: %s: %w", path, err)
	}
	return nil
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []error
	if !strings.HasPrefix(c.Upstream.URL, "ws://") && !strings.HasPrefix(c.Upstream.URL, "wss://") {
		errs = append(errs, fmt.Errorf("upstream.url must be a ws:// or wss:// URL, got %q", c.Upstream.URL))
	}
	if c.Upstream.HeartbeatInterval <= 0 {
		errs = append(errs, errors.New("upstream.heartbeat_interval must be positive"))
	}
	switch c.Upstream.RetryKind {
	case "fixed", "exponential":
	default:
		errs = append(errs, fmt.Errorf("upstream.retry_kind must be fixed or exponential, got %q", c.Upstream.RetryKind))
	}
	if c.Upstream.RetryDelay <= 0 {
		errs = append(errs, errors.New("upstream.retry_delay must be positive"))
	}
	if c.Upstream.RetryMaxDelay < 0 {
		errs = append(errs, errors.New("upstream.retry_max_delay must not be negative"))
	}
	if c.Upstream.RetryMaxAttempts < 0 {
		errs = append(errs, errors.New("upstream.retry_max_attempts must not be negative"))
	}
	if c.Relay.BatchSize < 1 {
		errs = append(errs, errors.New("relay.batch_size must be at least 1"))
	}
	if c.Relay.PoolSize < 0 || c.Relay.WorkerQueue < 0 || c.Relay.MailboxLimit < 0 || c.Relay.SendQueue < 0 {
		errs = append(errs, errors.New("relay sizes must not be negative"))
	}
	if c.Journal.BufferSize < 0 || c.Journal.MaxSizeMB < 0 {
		errs = append(errs, errors.New("journal sizes must not be negative"))
	}
	if c.Server.BindAddr == "" && len(c.Server.FallbackAddrs) == 0 {
		errs = append(errs, errors.New("server.bind_addr or server.fallback_addrs is required"))
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
