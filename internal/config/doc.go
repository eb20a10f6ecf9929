// Package config handles configuration loading for sacco-gateway.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from SACCO_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/sacco/gateway.yaml
//  3. ~/.config/sacco/gateway.yaml
//
// Files ending in .toml are read as TOML; anything else is YAML. Both
// formats use the same keys.
//
// # Environment Variable Expansion
//
// Values can reference environment variables, which is how secrets are
// usually supplied:
//
//	wallet:
//	  api_key: "${BITSACCO_API_KEY}"
//
// Unset variables expand to the empty string.
//
// # Duration Parsing
//
// Durations use Go's time.ParseDuration syntax:
//
//	sessions:
//	  idle_timeout: "30m"
//	  reap_interval: "10m"
//
// # Sections
//
//	server      http_addr for webhooks, web chat, health and the admin API
//	database    SQLite audit ledger path and retention
//	auth        jwt_secret for admin API tokens (admin API off when empty)
//	sessions    idle timeout, reap interval, history limit
//	wallet      backend URL and key, retries, sandbox mode, amount limits
//	ai          assistant gRPC address and timeouts
//	limits      per-user message and OTP rate limits
//	dedupe      inbound message dedupe window
//	frontends   matrix, webchat and webhook channels
//	logging     level and format (text or json)
//
// # Validation
//
// Load applies defaults and then validates: the database path is required,
// the wallet needs a base_url unless sandbox is on, the JWT secret must be at
// least 32 bytes when set, and enabled frontends must be fully configured.
package config
