// ABOUTME: Configuration loading and parsing for sacco-gateway
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config represents the complete sacco-gateway configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Database  DatabaseConfig  `yaml:"database" toml:"database"`
	Auth      AuthConfig      `yaml:"auth" toml:"auth"`
	Sessions  SessionsConfig  `yaml:"sessions" toml:"sessions"`
	Wallet    WalletConfig    `yaml:"wallet" toml:"wallet"`
	AI        AIConfig        `yaml:"ai" toml:"ai"`
	Limits    LimitsConfig    `yaml:"limits" toml:"limits"`
	Dedupe    DedupeConfig    `yaml:"dedupe" toml:"dedupe"`
	Frontends FrontendsConfig `yaml:"frontends" toml:"frontends"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
}

// DatabaseConfig holds the audit ledger configuration
type DatabaseConfig struct {
	Path           string        `yaml:"path" toml:"path"`
	AuditRetention time.Duration `yaml:"-" toml:"-"`

	AuditRetentionRaw string `yaml:"audit_retention" toml:"audit_retention"`
}

// AuthConfig holds admin API authentication configuration.
// The admin API is disabled when JWTSecret is empty.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" toml:"jwt_secret"`
}

// SessionsConfig holds in-memory session settings
type SessionsConfig struct {
	IdleTimeout  time.Duration `yaml:"-" toml:"-"`
	ReapInterval time.Duration `yaml:"-" toml:"-"`
	HistoryLimit int           `yaml:"history_limit" toml:"history_limit"`
	Shards       int           `yaml:"shards" toml:"shards"`

	IdleTimeoutRaw  string `yaml:"idle_timeout" toml:"idle_timeout"`
	ReapIntervalRaw string `yaml:"reap_interval" toml:"reap_interval"`
}

// WalletConfig holds the wallet backend connection and money limits
type WalletConfig struct {
	BaseURL    string        `yaml:"base_url" toml:"base_url"`
	APIKey     string        `yaml:"api_key" toml:"api_key"`
	Timeout    time.Duration `yaml:"-" toml:"-"`
	MaxRetries int           `yaml:"max_retries" toml:"max_retries"`
	RetryDelay time.Duration `yaml:"-" toml:"-"`

	// Sandbox replaces the backend with an in-memory wallet.
	Sandbox    bool   `yaml:"sandbox" toml:"sandbox"`
	SandboxOTP string `yaml:"sandbox_otp" toml:"sandbox_otp"`

	// SkipRegistrationCheck sends OTPs without looking the phone number up first.
	SkipRegistrationCheck bool    `yaml:"skip_registration_check" toml:"skip_registration_check"`
	MinAmount             float64 `yaml:"min_amount" toml:"min_amount"`
	MaxAmount             float64 `yaml:"max_amount" toml:"max_amount"`
	Currency              string  `yaml:"currency" toml:"currency"`

	// PriceURL is a CoinGecko-compatible simple price endpoint used outside sandbox mode.
	PriceURL string `yaml:"price_url" toml:"price_url"`

	TimeoutRaw    string `yaml:"timeout" toml:"timeout"`
	RetryDelayRaw string `yaml:"retry_delay" toml:"retry_delay"`
}

// AIConfig holds the assistant service connection
type AIConfig struct {
	Enabled        bool          `yaml:"enabled" toml:"enabled"`
	Address        string        `yaml:"address" toml:"address"`
	Method         string        `yaml:"method" toml:"method"`
	Timeout        time.Duration `yaml:"-" toml:"-"`
	ConnectTimeout time.Duration `yaml:"-" toml:"-"`

	TimeoutRaw        string `yaml:"timeout" toml:"timeout"`
	ConnectTimeoutRaw string `yaml:"connect_timeout" toml:"connect_timeout"`
}

// LimitsConfig holds per-user rate limits. Unset counts take the defaults;
// a negative count disables that limit.
type LimitsConfig struct {
	MessagesPerMinute int           `yaml:"messages_per_minute" toml:"messages_per_minute"`
	MessageBurst      int           `yaml:"message_burst" toml:"message_burst"`
	OTPRequests       int           `yaml:"otp_requests" toml:"otp_requests"`
	OTPRequestWindow  time.Duration `yaml:"-" toml:"-"`
	OTPVerifications  int           `yaml:"otp_verifications" toml:"otp_verifications"`
	OTPVerifyWindow   time.Duration `yaml:"-" toml:"-"`

	OTPRequestWindowRaw string `yaml:"otp_request_window" toml:"otp_request_window"`
	OTPVerifyWindowRaw  string `yaml:"otp_verify_window" toml:"otp_verify_window"`
}

// DedupeConfig holds the inbound message dedupe cache settings
type DedupeConfig struct {
	TTL     time.Duration `yaml:"-" toml:"-"`
	MaxSize int           `yaml:"max_size" toml:"max_size"`

	TTLRaw string `yaml:"ttl" toml:"ttl"`
}

// FrontendsConfig holds configuration for all chat channel integrations
type FrontendsConfig struct {
	Matrix  MatrixConfig  `yaml:"matrix" toml:"matrix"`
	WebChat WebChatConfig `yaml:"webchat" toml:"webchat"`
	Webhook WebhookConfig `yaml:"webhook" toml:"webhook"`
}

// MatrixConfig holds Matrix integration configuration
type MatrixConfig struct {
	Enabled      bool     `yaml:"enabled" toml:"enabled"`
	Homeserver   string   `yaml:"homeserver" toml:"homeserver"`
	UserID       string   `yaml:"user_id" toml:"user_id"`
	AccessToken  string   `yaml:"access_token" toml:"access_token"`
	AllowedUsers []string `yaml:"allowed_users" toml:"allowed_users"`
	AllowedRooms []string `yaml:"allowed_rooms" toml:"allowed_rooms"`
}

// WebChatConfig holds the browser WebSocket chat configuration
type WebChatConfig struct {
	Enabled        bool     `yaml:"enabled" toml:"enabled"`
	AllowedOrigins []string `yaml:"allowed_origins" toml:"allowed_origins"`
}

// WebhookConfig holds signed HTTP bridges, one per external platform
type WebhookConfig struct {
	Enabled  bool             `yaml:"enabled" toml:"enabled"`
	Channels []WebhookChannel `yaml:"channels" toml:"channels"`
}

// WebhookChannel is one bridged platform. Inbound requests must be signed
// with Secret; replies are POSTed to CallbackURL with the same signature.
type WebhookChannel struct {
	Name        string `yaml:"name" toml:"name"`
	Secret      string `yaml:"secret" toml:"secret"`
	CallbackURL string `yaml:"callback_url" toml:"callback_url"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// DefaultPath returns the path to the gateway config file.
// Priority: SACCO_CONFIG env var > XDG_CONFIG_HOME/sacco/gateway.yaml > ~/.config/sacco/gateway.yaml
func DefaultPath() string {
	if envPath := os.Getenv("SACCO_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "sacco", "gateway.yaml")
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expandedData, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = "localhost:8080"
	}
	if c.Database.AuditRetention == 0 {
		c.Database.AuditRetention = 90 * 24 * time.Hour
	}

	if c.Sessions.IdleTimeout == 0 {
		c.Sessions.IdleTimeout = 30 * time.Minute
	}
	if c.Sessions.ReapInterval == 0 {
		c.Sessions.ReapInterval = 10 * time.Minute
	}
	if c.Sessions.HistoryLimit == 0 {
		c.Sessions.HistoryLimit = 10
	}

	if c.Wallet.Timeout == 0 {
		c.Wallet.Timeout = 30 * time.Second
	}
	if c.Wallet.RetryDelay == 0 {
		c.Wallet.RetryDelay = time.Second
	}
	if c.Wallet.Currency == "" {
		c.Wallet.Currency = "KES"
	}

	if c.AI.Timeout == 0 {
		c.AI.Timeout = 15 * time.Second
	}
	if c.AI.ConnectTimeout == 0 {
		c.AI.ConnectTimeout = 5 * time.Second
	}

	if c.Limits.MessagesPerMinute == 0 {
		c.Limits.MessagesPerMinute = 60
	}
	if c.Limits.MessageBurst == 0 {
		c.Limits.MessageBurst = 10
	}
	if c.Limits.OTPRequests == 0 {
		c.Limits.OTPRequests = 3
	}
	if c.Limits.OTPVerifications == 0 {
		c.Limits.OTPVerifications = 5
	}
	if c.Limits.OTPRequestWindow == 0 {
		c.Limits.OTPRequestWindow = 10 * time.Minute
	}
	if c.Limits.OTPVerifyWindow == 0 {
		c.Limits.OTPVerifyWindow = 5 * time.Minute
	}

	if c.Dedupe.TTL == 0 {
		c.Dedupe.TTL = 10 * time.Minute
	}
}

// reservedChannels are adapter names webhook channels may not reuse.
var reservedChannels = map[string]bool{"matrix": true, "webchat": true}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth.jwt_secret must be at least 32 bytes")
	}

	if c.Sessions.HistoryLimit < 0 {
		return fmt.Errorf("sessions.history_limit must not be negative")
	}
	if c.Sessions.IdleTimeout < 0 || c.Sessions.ReapInterval < 0 {
		return fmt.Errorf("sessions durations must not be negative")
	}

	if !c.Wallet.Sandbox && c.Wallet.BaseURL == "" {
		return fmt.Errorf("wallet.base_url is required (or enable wallet.sandbox)")
	}
	if c.Wallet.MinAmount < 0 || c.Wallet.MaxAmount < 0 {
		return fmt.Errorf("wallet amount limits must not be negative")
	}
	if c.Wallet.MaxAmount > 0 && c.Wallet.MinAmount > c.Wallet.MaxAmount {
		return fmt.Errorf("wallet.min_amount %v exceeds wallet.max_amount %v", c.Wallet.MinAmount, c.Wallet.MaxAmount)
	}

	if c.AI.Enabled && c.AI.Address == "" {
		return fmt.Errorf("ai.address is required when ai is enabled")
	}

	if m := c.Frontends.Matrix; m.Enabled {
		if m.Homeserver == "" || m.UserID == "" || m.AccessToken == "" {
			return fmt.Errorf("frontends.matrix requires homeserver, user_id and access_token")
		}
	}

	if c.Frontends.Webhook.Enabled {
		if len(c.Frontends.Webhook.Channels) == 0 {
			return fmt.Errorf("frontends.webhook.channels is empty")
		}
		seen := make(map[string]bool)
		for i, ch := range c.Frontends.Webhook.Channels {
			switch {
			case ch.Name == "":
				return fmt.Errorf("frontends.webhook.channels[%d].name is required", i)
			case reservedChannels[ch.Name]:
				return fmt.Errorf("frontends.webhook.channels[%d].name %q is reserved", i, ch.Name)
			case seen[ch.Name]:
				return fmt.Errorf("frontends.webhook.channels[%d].name %q is duplicated", i, ch.Name)
			case ch.Secret == "":
				return fmt.Errorf("frontends.webhook.channels[%d].secret is required", i)
			case ch.CallbackURL == "":
				return fmt.Errorf("frontends.webhook.channels[%d].callback_url is required", i)
			}
			seen[ch.Name] = true
		}
	}

	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"database.audit_retention", cfg.Database.AuditRetentionRaw, &cfg.Database.AuditRetention},
		{"sessions.idle_timeout", cfg.Sessions.IdleTimeoutRaw, &cfg.Sessions.IdleTimeout},
		{"sessions.reap_interval", cfg.Sessions.ReapIntervalRaw, &cfg.Sessions.ReapInterval},
		{"wallet.timeout", cfg.Wallet.TimeoutRaw, &cfg.Wallet.Timeout},
		{"wallet.retry_delay", cfg.Wallet.RetryDelayRaw, &cfg.Wallet.RetryDelay},
		{"ai.timeout", cfg.AI.TimeoutRaw, &cfg.AI.Timeout},
		{"ai.connect_timeout", cfg.AI.ConnectTimeoutRaw, &cfg.AI.ConnectTimeout},
		{"limits.otp_request_window", cfg.Limits.OTPRequestWindowRaw, &cfg.Limits.OTPRequestWindow},
		{"limits.otp_verify_window", cfg.Limits.OTPVerifyWindowRaw, &cfg.Limits.OTPVerifyWindow},
		{"dedupe.ttl", cfg.Dedupe.TTLRaw, &cfg.Dedupe.TTL},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}

	return nil
}
