/*
Package ledger provides the core stock ledger engine.

PURPOSE:
  This package contains the types and algorithms for tracking warehouse
  stock: on-hand quantity records, the append-only audit trail of every
  stock-affecting event, reversal of recorded events, and reconciliation
  of on-hand stock against an external (ERP) extract.

KEY CONCEPTS IN THIS FILE (types.go):
  - StockKey:    The 6-tuple identifying one stock bucket
  - StockRecord: Current on-hand quantity for a key
  - AuditEntry:  An append-only record of one stock event
  - EventType:   Closed set of recordable event kinds
  - Round3:      Fixed-point quantity normalization (3dp, half-up)

DESIGN PRINCIPLES:
  1. Immutability: Audit entries are never edited; mistakes are reversed
  2. Precision: Uses decimal.Decimal to avoid floating-point drift
  3. Zero-floor: A stock record whose quantity falls to zero is deleted,
     never left at zero or negative
  4. Closed event set: Unknown event strings are a migration error, not
     a silently accepted value

SEE ALSO:
  - errors.go:    Error taxonomy
  - store.go:     Persistence interfaces
  - ledger.go:    Write operations (inbound/outbound/move/damage/import)
  - rollback.go:  Reversal of recorded events
  - reconcile.go: ERP comparison at four key granularities
*/
package ledger

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// QUANTITY - Fixed-point semantics
// =============================================================================

// QuantityPlaces is the fixed precision for all stored quantities.
const QuantityPlaces = 3

// Round3 normalizes a quantity to 3 decimal places using round-half-up.
// Every quantity must pass through Round3 before storage or comparison;
// accumulated floating-point error is not tolerated.
func Round3(d decimal.Decimal) decimal.Decimal {
	// decimal.Round is half-away-from-zero, which equals half-up for the
	// non-negative magnitudes this system stores.
	return d.Round(QuantityPlaces)
}

// ParseQuantity parses a quantity string and normalizes it.
func ParseQuantity(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, err
	}
	return Round3(d), nil
}

// norm trims a key field. Key fields are case-sensitive trimmed strings;
// empty is allowed for brand/lot/spec but never nil-like.
func norm(s string) string { return strings.TrimSpace(s) }

// =============================================================================
// STOCK KEY & RECORD
// =============================================================================

// StockKey identifies one stock bucket. All fields are trimmed and
// case-sensitive; Brand, Lot and Spec may be empty strings.
type StockKey struct {
	Warehouse string
	Location  string
	Brand     string
	ItemCode  string
	Lot       string
	Spec      string
}

// Normalize returns the key with every field trimmed.
func (k StockKey) Normalize() StockKey {
	return StockKey{
		Warehouse: norm(k.Warehouse),
		Location:  norm(k.Location),
		Brand:     norm(k.Brand),
		ItemCode:  norm(k.ItemCode),
		Lot:       norm(k.Lot),
		Spec:      norm(k.Spec),
	}
}

// Item returns the reconciliation-side key (item_code, lot, spec).
func (k StockKey) Item() ItemKey {
	return ItemKey{ItemCode: k.ItemCode, Lot: k.Lot, Spec: k.Spec}
}

// ItemKey is the warehouse-agnostic item identity used by reconciliation.
type ItemKey struct {
	ItemCode string
	Lot      string
	Spec     string
}

// StockRecord is the current on-hand quantity for one key.
//
// INVARIANT: Qty > 0 while the record exists. A delta that would bring
// Qty to zero or below deletes the row; deletion is physical. The record
// is recreated by the next positive delta for the same key.
type StockRecord struct {
	ID        int64
	Key       StockKey
	ItemName  string
	Qty       decimal.Decimal
	Note      string
	UpdatedAt time.Time
}

// =============================================================================
// EVENT TYPES - Closed set
// =============================================================================

// EventType is the kind of stock event an audit entry records.
// The set is closed: unknown strings from legacy data are rejected at
// parse time instead of being silently carried along.
type EventType string

const (
	EventInbound         EventType = "inbound"
	EventOutbound        EventType = "outbound"
	EventMove            EventType = "move"
	EventReversal        EventType = "reversal"
	EventInitialStock    EventType = "initial_stock"
	EventDamageDeduction EventType = "damage_deduction"
)

// ParseEventType converts a stored string into an EventType.
// Returns ErrUnknownEventType for anything outside the closed set.
func ParseEventType(s string) (EventType, error) {
	switch EventType(s) {
	case EventInbound, EventOutbound, EventMove, EventReversal,
		EventInitialStock, EventDamageDeduction:
		return EventType(s), nil
	}
	return "", &UnknownEventTypeError{Value: s}
}

// Reversible reports whether entries of this type are eligible for rollback.
// Reversals themselves, and damage deductions (permanent write-offs by
// policy), are not.
func (t EventType) Reversible() bool {
	switch t {
	case EventInbound, EventOutbound, EventMove, EventInitialStock:
		return true
	}
	return false
}

// =============================================================================
// AUDIT ENTRY - Append-only event record
// =============================================================================

// AuditEntry records one stock-affecting event.
//
// INVARIANTS:
//   - Append-only: entries are immutable except for the rollback fields
//   - Rollback fields transition exactly once (false -> true), and only
//     through the rollback engine
//   - Qty is always the magnitude moved; direction is implied by the
//     event type and the from/to locations
//
// An entry does not hold a foreign key to a StockRecord: stock rows are
// physically deleted when they reach zero while history must persist.
type AuditEntry struct {
	ID        int64
	Type      EventType
	Warehouse string
	Operator  string
	Brand     string
	ItemCode  string
	ItemName  string
	Lot       string
	Spec      string
	FromLoc   string
	ToLoc     string
	Qty       decimal.Decimal
	Note      string
	CreatedAt time.Time

	// BatchID groups entries created by one bulk-import call so they can
	// be reversed as a unit. Interactive single operations leave it empty.
	BatchID string

	// IdempotencyKey, when set, uniquely identifies the logical submission.
	// A second append with the same key is rejected. This is the strong
	// duplicate-submission guard; the time-window fingerprint dedup in
	// AppendAudit is the heuristic fallback for entries without a key.
	IdempotencyKey string

	// Rollback state. Set exactly once by the rollback engine.
	RolledBack   bool
	RollbackAt   *time.Time
	RollbackBy   string
	RollbackNote string
}

// FromKey returns the stock key on the from side of the entry.
func (e AuditEntry) FromKey() StockKey {
	return StockKey{
		Warehouse: e.Warehouse,
		Location:  e.FromLoc,
		Brand:     e.Brand,
		ItemCode:  e.ItemCode,
		Lot:       e.Lot,
		Spec:      e.Spec,
	}
}

// ToKey returns the stock key on the to side of the entry.
func (e AuditEntry) ToKey() StockKey {
	return StockKey{
		Warehouse: e.Warehouse,
		Location:  e.ToLoc,
		Brand:     e.Brand,
		ItemCode:  e.ItemCode,
		Lot:       e.Lot,
		Spec:      e.Spec,
	}
}

// DisplayLocation is the single location shown in history listings:
// inbound arrives at to_location, everything else originates at
// from_location.
func (e AuditEntry) DisplayLocation() string {
	if e.Type == EventInbound || e.Type == EventInitialStock {
		return e.ToLoc
	}
	return e.FromLoc
}

// =============================================================================
// DAMAGE / CS
// =============================================================================

// DamageCode is one entry of the damage taxonomy (category/type/situation).
type DamageCode struct {
	ID          int64
	Category    string
	Type        string
	Situation   string
	Description string
	Active      bool
}

// DamageEntry records a CS/damage event. When Deducted is true the entry
// was paired with a stock deduction (and a damage_deduction audit entry)
// at creation time. Damage entries have no rollback path: write-offs are
// permanent by policy.
type DamageEntry struct {
	ID           int64
	OccurredAt   string
	Warehouse    string
	Location     string
	Brand        string
	ItemCode     string
	ItemName     string
	Lot          string
	Spec         string
	Qty          decimal.Decimal
	DamageCodeID int64
	Detail       string
	Deducted     bool
	CreatedAt    time.Time

	// Joined taxonomy fields, populated on reads.
	Category  string
	TypeName  string
	Situation string
}
