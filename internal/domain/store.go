package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// TransactionStore persists the simulated-fill ledger.
type TransactionStore interface {
	InsertBatch(ctx context.Context, txs []TransactionRecord) error
	ListByToken(ctx context.Context, tokenID string, opts ListOpts) ([]TransactionRecord, error)
	List(ctx context.Context, opts ListOpts) ([]TransactionRecord, error)
}

// MarketStore records every market instance the tracker has followed.
type MarketStore interface {
	Upsert(ctx context.Context, market MarketMetadata) error
	GetByConditionID(ctx context.Context, conditionID string) (MarketMetadata, error)
	ListRecent(ctx context.Context, opts ListOpts) ([]MarketMetadata, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
