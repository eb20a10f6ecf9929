// ABOUTME: Audit ledger types and the AuditStore interface
// ABOUTME: Records security and money-moving events per user; never message text

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// AuditStore persists audit entries.
type AuditStore interface {
	AppendAuditLog(ctx context.Context, e *AuditEntry) error
	ListAuditLog(ctx context.Context, f AuditFilter) ([]AuditEntry, error)
	PruneAuditLog(ctx context.Context, before time.Time) (int64, error)
	Close() error
}
