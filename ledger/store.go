/*
store.go - Persistence interfaces for stock records and the audit trail

PURPOSE:
  Defines the interface between the engine and the database. The store
  keeps three kinds of durable state: quantity records, append-only audit
  entries, and damage entries referencing the damage-code taxonomy.

QUANTITY CONTRACT:
  ApplyDelta is the single mutation path for stock. It enforces the
  zero-floor rule (rows at or below zero are deleted) and refuses
  decreases that exceed on-hand quantity. Refusal is a normal outcome
  (applied=false), not an error.

AUDIT CONTRACT:
  AppendAudit is append-only. Entries are immutable except for the
  rollback fields, which MarkReversed sets exactly once. Duplicate
  submissions are absorbed two ways: a unique idempotency key when the
  caller supplies one, and a short fingerprint window otherwise.

TRANSACTIONS:
  Multi-step operations (move, batch import, rollback) run inside
  WithTx; a returned error rolls the whole operation back. The original
  system applied each statement on its own connection and could be left
  half-applied by a mid-operation failure - the transactional store
  closes that gap.

IMPLEMENTATIONS:
  - store/sqlite: production SQLite store (also used in-memory by tests)

SEE ALSO:
  - ledger.go:  Operations composed on top of these interfaces
  - store/sqlite/sqlite.go: Concrete implementation
*/
package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultDedupWindow is how long two structurally identical audit appends
// are treated as one logical event (double-tap absorption).
const DefaultDedupWindow = 5 * time.Second

// =============================================================================
// FILTERS
// =============================================================================

// InventoryFilter selects current stock. Location, ItemCode, Lot and Spec
// match as substrings; Warehouse and Brand match exactly. Zero-quantity
// records are never visible (they don't exist).
type InventoryFilter struct {
	Warehouse string
	Location  string
	Brand     string
	ItemCode  string
	Lot       string
	Spec      string
	Limit     int
}

// AuditFilter selects audit entries by calendar prefix (year, then month,
// then day - each narrowing the previous).
type AuditFilter struct {
	Year  int
	Month int
	Day   int
	Limit int
}

// DamageFilter selects damage entries by occurrence year/month.
type DamageFilter struct {
	Year  int
	Month int
	Limit int
}

// DamageCategoryCount is one row of the per-category damage summary.
type DamageCategoryCount struct {
	Category string
	Count    int
}

// =============================================================================
// STORE
// =============================================================================

// Store is the persistence surface the engine runs on.
type Store interface {
	// ApplyDelta applies a signed quantity change to the record at key.
	//
	// Rules:
	//   - decrease on a missing record, or beyond on-hand: refused
	//     (returns applied=false, no mutation, no error)
	//   - increase on a missing record: creates it
	//   - result is Round3(current + delta); <= 0 deletes the row
	//
	// itemName and note are written on create/update; the key itself is
	// normalized before use.
	ApplyDelta(ctx context.Context, key StockKey, itemName string, delta decimal.Decimal, note string) (bool, error)

	// GetRecord returns the record for an exact key (most recently updated
	// if legacy data holds duplicates), or nil if absent.
	GetRecord(ctx context.Context, key StockKey) (*StockRecord, error)

	// QueryInventory returns records with Qty > 0 matching the filter,
	// most recently updated first.
	QueryInventory(ctx context.Context, f InventoryFilter) ([]StockRecord, error)

	// Candidates returns all records with Qty > 0 matching key with the
	// brand ignored. Used by the brand resolver.
	Candidates(ctx context.Context, key StockKey) ([]StockRecord, error)

	// ItemFacts sums all on-hand quantities grouped by (item_code, lot,
	// spec) - the internal side of a reconciliation run.
	ItemFacts(ctx context.Context) ([]ItemFact, error)

	// AppendAudit appends an entry. If the entry carries an idempotency
	// key that already exists, ErrDuplicateEntry. Otherwise, if an entry
	// with an identical fingerprint (type, warehouse, item_code, lot,
	// spec, from, to, qty) was written within dedupWindow of now, the
	// append is silently discarded. dedupWindow <= 0 disables the window.
	AppendAudit(ctx context.Context, e AuditEntry, dedupWindow time.Duration) error

	// GetAudit returns an entry by id, or nil if absent.
	GetAudit(ctx context.Context, id int64) (*AuditEntry, error)

	// AuditByBatch returns the non-reversed entries sharing batchID,
	// newest first.
	AuditByBatch(ctx context.Context, batchID string) ([]AuditEntry, error)

	// MarkReversed sets the rollback fields on the given entries.
	// Only the rollback engine calls this, and only for entries it has
	// verified to be active.
	MarkReversed(ctx context.Context, ids []int64, by, note string, at time.Time) error

	// QueryAudit returns entries matching the filter, newest first.
	QueryAudit(ctx context.Context, f AuditFilter) ([]AuditEntry, error)

	// Damage taxonomy and entries.
	ListDamageCodes(ctx context.Context, activeOnly bool) ([]DamageCode, error)
	GetDamageCode(ctx context.Context, id int64) (*DamageCode, error)
	AddDamageEntry(ctx context.Context, e DamageEntry) (int64, error)
	QueryDamage(ctx context.Context, f DamageFilter) ([]DamageEntry, error)
	DamageSummaryByCategory(ctx context.Context, f DamageFilter) ([]DamageCategoryCount, error)
}

// TxStore wraps Store with transaction support. The engine requires it:
// every multi-statement logical operation is all-or-nothing.
type TxStore interface {
	Store

	// WithTx executes fn within one database transaction. If fn returns
	// an error the transaction is rolled back, otherwise committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}
