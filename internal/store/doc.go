// Package store provides the audit ledger for the gateway using SQLite.
//
// # What is stored
//
// Only security and money-moving events are persisted: OTP requests and
// verifications, rate-limit hits, wallet operations, and session lifecycle
// (logout, reset, expiry). Conversation text and session state stay in memory
// and are lost on restart.
//
// # SQLite Configuration
//
// The store uses SQLite with WAL mode for concurrent reads:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA busy_timeout=5000;
//
// Timestamps are stored as fixed-width UTC strings so range filters can use
// plain string comparison.
//
// # Testing
//
// Use NewMockStore() for unit tests and NewSQLiteStore(":memory:") or a
// temporary file for integration tests.
package store
