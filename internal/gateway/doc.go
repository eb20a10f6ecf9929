// Package gateway wires sacco-gateway together and runs it.
//
// # Components
//
// New builds, from a loaded config:
//
//   - the SQLite audit ledger (store)
//   - the in-memory session store and its idle reaper
//   - the wallet backend, either the HTTP client or the in-memory sandbox
//   - the assistant gRPC client, when ai.enabled is set
//   - the conversation engine with its dedupe cache and rate limits
//   - the enabled frontends (web chat, webhook channels, Matrix)
//
// # HTTP API
//
//   - GET /health - Liveness check
//   - GET /health/ready - Readiness check (wallet reachable)
//   - GET /ws - Web chat WebSocket
//   - POST /api/channels/{channel}/inbound - Signed webhook from a bridge
//   - GET /api/sessions - Live sessions (viewer token)
//   - DELETE /api/sessions/{userID} - End a session (admin token)
//   - GET /api/audit - Audit ledger query (viewer token)
//
// The /api/sessions and /api/audit routes exist only when auth.jwt_secret is
// set.
//
// # Lifecycle
//
// Run listens on server.http_addr and starts, in one errgroup, the HTTP
// server, the session reaper, the hourly audit prune and the Matrix sync.
// Cancelling the context or any of them failing stops the rest; the HTTP
// server gets a few seconds to drain before the store is closed.
package gateway
