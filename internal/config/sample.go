// ABOUTME: Starter configuration written by `sacco-gateway init`
// ABOUTME: Runs against the sandbox wallet with the web chat enabled

package config

import "fmt"

// Sample returns a commented YAML config that Load accepts as is.
func Sample(httpAddr, dbPath, jwtSecret string) string {
	return fmt.Sprintf(`# sacco-gateway configuration
# Generated by sacco-gateway init

server:
  http_addr: %q

database:
  path: %q
  audit_retention: "2160h"

auth:
  # Signs admin API tokens; generate new ones with "sacco-gateway token".
  jwt_secret: %q

sessions:
  idle_timeout: "30m"
  reap_interval: "10m"
  history_limit: 10

wallet:
  # Set base_url and api_key and turn sandbox off to use the real backend.
  base_url: "${BITSACCO_API_URL}"
  api_key: "${BITSACCO_API_KEY}"
  timeout: "30s"
  max_retries: 3
  retry_delay: "1s"
  sandbox: true
  sandbox_otp: "123456"
  min_amount: 100
  max_amount: 50000
  currency: "KES"
  # price_url: "https://api.coingecko.com/api/v3/simple/price"

ai:
  enabled: false
  address: "localhost:50052"
  timeout: "15s"

limits:
  messages_per_minute: 60
  message_burst: 10
  otp_requests: 3
  otp_request_window: "10m"
  otp_verifications: 5
  otp_verify_window: "5m"

dedupe:
  ttl: "10m"
  max_size: 10000

frontends:
  webchat:
    enabled: true
  matrix:
    enabled: false
    homeserver: "https://matrix.org"
    user_id: "@sacco:matrix.org"
    access_token: "${MATRIX_ACCESS_TOKEN}"
  webhook:
    enabled: false

logging:
  level: "info"
  format: "text"
`, httpAddr, dbPath, jwtSecret)
}
