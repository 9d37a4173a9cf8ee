/*
ledger.go - Stock write operations

PURPOSE:
  StockLedger composes the store into the business operations: inbound,
  outbound, move, CS/damage, and the bulk imports. Every operation
  follows the same shape:

    validate -> resolve brand (where the form allows omitting it)
             -> quantity mutation(s)
             -> audit append

  and every multi-step operation runs inside one store transaction, so a
  failure partway through a move or a batch leaves nothing half-applied.

QUANTITY DIRECTION:
  Audit entries store the magnitude moved; direction is implied by the
  event type and from/to locations. Inbound credits to_location, outbound
  debits from_location, move debits from_location and credits to_location.

INSUFFICIENT STOCK:
  The store signals a refused decrease with applied=false. Operations
  translate that into an InsufficientStockError carrying the on-hand
  quantity, which the API surfaces for the operator to re-enter.

BULK IMPORTS:
  Excel-sourced rows arrive already parsed (see the importer package).
  Rows that fail validation are reported per-row and skipped; applied
  rows share one batch id so the whole import can be reversed as a unit.

SEE ALSO:
  - resolver.go: Brand/name disambiguation
  - rollback.go: Reversal of what these operations record
*/
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// SERVICE
// =============================================================================

// StockLedger executes stock operations against a transactional store.
type StockLedger struct {
	store       TxStore
	dedupWindow time.Duration
	now         func() time.Time
}

// New creates a StockLedger with the default dedup window.
func New(store TxStore) *StockLedger {
	return &StockLedger{
		store:       store,
		dedupWindow: DefaultDedupWindow,
		now:         time.Now,
	}
}

// SetDedupWindow overrides the duplicate-submission window (tests use 0).
func (l *StockLedger) SetDedupWindow(d time.Duration) { l.dedupWindow = d }

// SetClock overrides the time source (tests use a controllable clock).
func (l *StockLedger) SetClock(now func() time.Time) { l.now = now }

// =============================================================================
// REQUESTS
// =============================================================================

// WriteRequest is a single inbound or outbound operation.
type WriteRequest struct {
	Warehouse string
	Location  string
	Brand     string // optional on outbound; resolver fills it when unambiguous
	ItemCode  string
	ItemName  string
	Lot       string
	Spec      string
	Qty       decimal.Decimal
	Note      string
	Operator  string

	// IdempotencyKey, when supplied by the client, makes the submission
	// exactly-once instead of relying on the fingerprint window.
	IdempotencyKey string
}

// MoveRequest relocates stock between two locations in one warehouse.
type MoveRequest struct {
	Warehouse      string
	FromLocation   string
	ToLocation     string
	Brand          string // optional; resolved at the from-location
	ItemCode       string
	ItemName       string
	Lot            string
	Spec           string
	Qty            decimal.Decimal
	Note           string
	Operator       string
	IdempotencyKey string
}

// DamageRequest records a CS/damage event, optionally deducting stock.
type DamageRequest struct {
	OccurredAt   string
	Warehouse    string
	Location     string
	Brand        string // optional; resolved like outbound
	ItemCode     string
	ItemName     string
	Lot          string
	Spec         string
	Qty          decimal.Decimal
	DamageCodeID int64
	Detail       string
	Operator     string

	// DeductInventory pairs the entry with a stock deduction and a
	// damage_deduction audit entry in the same transaction.
	DeductInventory bool
}

// ImportRow is one validated row of a bulk import workbook.
type ImportRow struct {
	Warehouse string
	Location  string
	Brand     string
	ItemCode  string
	ItemName  string
	Lot       string
	Spec      string
	Qty       decimal.Decimal
	Note      string
}

// RowError reports one rejected import row.
type RowError struct {
	Row    int    `json:"row"`
	Reason string `json:"reason"`
}

// BatchResult summarizes a bulk import.
type BatchResult struct {
	BatchID   string     `json:"batch_id"`
	Succeeded int        `json:"succeeded"`
	Skipped   int        `json:"skipped"`
	Errors    []RowError `json:"errors,omitempty"`
}

// =============================================================================
// VALIDATION
// =============================================================================

func validQty(q decimal.Decimal) error {
	if !q.IsPositive() {
		return &ValidationError{Field: "qty", Reason: "must be greater than zero"}
	}
	return nil
}

// requiredField pairs a request field with its wire name so rejections
// report the first missing field in declaration order.
type requiredField struct {
	name  string
	value string
}

func requireFields(fields ...requiredField) error {
	for _, f := range fields {
		if norm(f.value) == "" {
			return &ValidationError{Field: f.name, Reason: "required"}
		}
	}
	return nil
}

// =============================================================================
// SINGLE OPERATIONS
// =============================================================================

// Inbound credits stock at the target location and records the event.
func (l *StockLedger) Inbound(ctx context.Context, req WriteRequest) error {
	return l.credit(ctx, req, EventInbound)
}

// InitialStock is an inbound variant used when seeding a warehouse; the
// audit entry is typed so seeded quantities are distinguishable (and
// reversible) separately from regular receipts.
func (l *StockLedger) InitialStock(ctx context.Context, req WriteRequest) error {
	return l.credit(ctx, req, EventInitialStock)
}

func (l *StockLedger) credit(ctx context.Context, req WriteRequest, typ EventType) error {
	if err := requireFields(
		requiredField{"warehouse", req.Warehouse},
		requiredField{"location", req.Location},
		requiredField{"item_code", req.ItemCode},
	); err != nil {
		return err
	}
	qty := Round3(req.Qty)
	if err := validQty(qty); err != nil {
		return err
	}

	key := StockKey{
		Warehouse: req.Warehouse, Location: req.Location, Brand: req.Brand,
		ItemCode: req.ItemCode, Lot: req.Lot, Spec: req.Spec,
	}.Normalize()

	return l.store.WithTx(ctx, func(s Store) error {
		applied, err := s.ApplyDelta(ctx, key, req.ItemName, qty, req.Note)
		if err != nil {
			return fmt.Errorf("apply inbound delta: %w", err)
		}
		if !applied {
			// Positive deltas are always accepted; this cannot happen.
			return fmt.Errorf("inbound delta refused for %s/%s", key.Warehouse, key.Location)
		}
		return s.AppendAudit(ctx, AuditEntry{
			Type:           typ,
			Warehouse:      key.Warehouse,
			Operator:       norm(req.Operator),
			Brand:          key.Brand,
			ItemCode:       key.ItemCode,
			ItemName:       norm(req.ItemName),
			Lot:            key.Lot,
			Spec:           key.Spec,
			ToLoc:          key.Location,
			Qty:            qty,
			Note:           norm(req.Note),
			IdempotencyKey: req.IdempotencyKey,
			CreatedAt:      l.now(),
		}, l.dedupWindow)
	})
}

// Outbound debits stock at the source location and records the event.
// Brand may be omitted when it is locally unambiguous.
func (l *StockLedger) Outbound(ctx context.Context, req WriteRequest) error {
	if err := requireFields(
		requiredField{"warehouse", req.Warehouse},
		requiredField{"location", req.Location},
		requiredField{"item_code", req.ItemCode},
	); err != nil {
		return err
	}
	qty := Round3(req.Qty)
	if err := validQty(qty); err != nil {
		return err
	}

	key := StockKey{
		Warehouse: req.Warehouse, Location: req.Location, Brand: req.Brand,
		ItemCode: req.ItemCode, Lot: req.Lot, Spec: req.Spec,
	}.Normalize()

	return l.store.WithTx(ctx, func(s Store) error {
		brand, name, err := ResolveBrand(ctx, s, key)
		if err != nil {
			return err
		}
		key.Brand = brand
		if norm(req.ItemName) != "" {
			name = norm(req.ItemName)
		}

		if err := l.debit(ctx, s, key, name, qty, req.Note); err != nil {
			return err
		}
		return s.AppendAudit(ctx, AuditEntry{
			Type:           EventOutbound,
			Warehouse:      key.Warehouse,
			Operator:       norm(req.Operator),
			Brand:          key.Brand,
			ItemCode:       key.ItemCode,
			ItemName:       name,
			Lot:            key.Lot,
			Spec:           key.Spec,
			FromLoc:        key.Location,
			Qty:            qty,
			Note:           norm(req.Note),
			IdempotencyKey: req.IdempotencyKey,
			CreatedAt:      l.now(),
		}, l.dedupWindow)
	})
}

// Move debits the from-location and credits the to-location atomically.
func (l *StockLedger) Move(ctx context.Context, req MoveRequest) error {
	if err := requireFields(
		requiredField{"warehouse", req.Warehouse},
		requiredField{"from_location", req.FromLocation},
		requiredField{"to_location", req.ToLocation},
		requiredField{"item_code", req.ItemCode},
	); err != nil {
		return err
	}
	if norm(req.FromLocation) == norm(req.ToLocation) {
		return &ValidationError{Field: "to_location", Reason: "must differ from from_location"}
	}
	qty := Round3(req.Qty)
	if err := validQty(qty); err != nil {
		return err
	}

	from := StockKey{
		Warehouse: req.Warehouse, Location: req.FromLocation, Brand: req.Brand,
		ItemCode: req.ItemCode, Lot: req.Lot, Spec: req.Spec,
	}.Normalize()

	return l.store.WithTx(ctx, func(s Store) error {
		brand, name, err := ResolveBrand(ctx, s, from)
		if err != nil {
			return err
		}
		from.Brand = brand
		if norm(req.ItemName) != "" {
			name = norm(req.ItemName)
		}
		to := from
		to.Location = norm(req.ToLocation)

		if err := l.debit(ctx, s, from, name, qty, req.Note); err != nil {
			return err
		}
		applied, err := s.ApplyDelta(ctx, to, name, qty, req.Note)
		if err != nil {
			return fmt.Errorf("apply move credit: %w", err)
		}
		if !applied {
			return fmt.Errorf("move credit refused at %s", to.Location)
		}
		return s.AppendAudit(ctx, AuditEntry{
			Type:           EventMove,
			Warehouse:      from.Warehouse,
			Operator:       norm(req.Operator),
			Brand:          from.Brand,
			ItemCode:       from.ItemCode,
			ItemName:       name,
			Lot:            from.Lot,
			Spec:           from.Spec,
			FromLoc:        from.Location,
			ToLoc:          to.Location,
			Qty:            qty,
			Note:           norm(req.Note),
			IdempotencyKey: req.IdempotencyKey,
			CreatedAt:      l.now(),
		}, l.dedupWindow)
	})
}

// debit applies a negative delta, translating refusal into a typed error.
func (l *StockLedger) debit(ctx context.Context, s Store, key StockKey, itemName string, qty decimal.Decimal, note string) error {
	applied, err := s.ApplyDelta(ctx, key, itemName, qty.Neg(), note)
	if err != nil {
		return fmt.Errorf("apply debit: %w", err)
	}
	if applied {
		return nil
	}
	available := decimal.Zero
	if rec, err := s.GetRecord(ctx, key); err == nil && rec != nil {
		available = rec.Qty
	}
	return &InsufficientStockError{Key: key, Available: available, Requested: qty}
}

// =============================================================================
// DAMAGE / CS
// =============================================================================

// RecordDamage stores a damage entry and, when requested, deducts the
// quantity from stock in the same transaction. Damage entries are not
// reversible: write-offs are permanent by policy.
func (l *StockLedger) RecordDamage(ctx context.Context, req DamageRequest) (int64, error) {
	if err := requireFields(
		requiredField{"occurred_at", req.OccurredAt},
		requiredField{"warehouse", req.Warehouse},
		requiredField{"location", req.Location},
		requiredField{"item_code", req.ItemCode},
	); err != nil {
		return 0, err
	}
	qty := Round3(req.Qty)
	if err := validQty(qty); err != nil {
		return 0, err
	}

	key := StockKey{
		Warehouse: req.Warehouse, Location: req.Location, Brand: req.Brand,
		ItemCode: req.ItemCode, Lot: req.Lot, Spec: req.Spec,
	}.Normalize()

	var entryID int64
	err := l.store.WithTx(ctx, func(s Store) error {
		code, err := s.GetDamageCode(ctx, req.DamageCodeID)
		if err != nil {
			return fmt.Errorf("look up damage code: %w", err)
		}
		if code == nil {
			return &ValidationError{Field: "damage_code_id", Reason: "unknown damage code"}
		}

		brand, name, err := ResolveBrand(ctx, s, key)
		if err != nil {
			return err
		}
		key.Brand = brand
		if norm(req.ItemName) != "" {
			name = norm(req.ItemName)
		}

		if req.DeductInventory {
			if err := l.debit(ctx, s, key, name, qty, req.Detail); err != nil {
				return err
			}
			if err := s.AppendAudit(ctx, AuditEntry{
				Type:      EventDamageDeduction,
				Warehouse: key.Warehouse,
				Operator:  norm(req.Operator),
				Brand:     key.Brand,
				ItemCode:  key.ItemCode,
				ItemName:  name,
				Lot:       key.Lot,
				Spec:      key.Spec,
				FromLoc:   key.Location,
				Qty:       qty,
				Note:      norm(req.Detail),
				CreatedAt: l.now(),
			}, l.dedupWindow); err != nil {
				return err
			}
		}

		entryID, err = s.AddDamageEntry(ctx, DamageEntry{
			OccurredAt:   norm(req.OccurredAt),
			Warehouse:    key.Warehouse,
			Location:     key.Location,
			Brand:        key.Brand,
			ItemCode:     key.ItemCode,
			ItemName:     name,
			Lot:          key.Lot,
			Spec:         key.Spec,
			Qty:          qty,
			DamageCodeID: req.DamageCodeID,
			Detail:       norm(req.Detail),
			Deducted:     req.DeductInventory,
			CreatedAt:    l.now(),
		})
		return err
	})
	return entryID, err
}

// =============================================================================
// BULK IMPORTS
// =============================================================================

// ImportInbound applies a parsed inbound workbook: one transaction, one
// shared batch id. Rows failing validation are skipped and reported, not
// fatal - matching the workbook contract operators already rely on.
func (l *StockLedger) ImportInbound(ctx context.Context, rows []ImportRow, operator string) (*BatchResult, error) {
	return l.importRows(ctx, rows, operator, EventInbound)
}

// ImportInitial seeds a warehouse from a parsed initial-stock workbook.
func (l *StockLedger) ImportInitial(ctx context.Context, rows []ImportRow, operator string) (*BatchResult, error) {
	return l.importRows(ctx, rows, operator, EventInitialStock)
}

func (l *StockLedger) importRows(ctx context.Context, rows []ImportRow, operator string, typ EventType) (*BatchResult, error) {
	result := &BatchResult{BatchID: uuid.NewString()}

	err := l.store.WithTx(ctx, func(s Store) error {
		for i, row := range rows {
			rownum := i + 2 // workbook data starts on row 2

			key := StockKey{
				Warehouse: row.Warehouse, Location: row.Location, Brand: row.Brand,
				ItemCode: row.ItemCode, Lot: row.Lot, Spec: row.Spec,
			}.Normalize()
			if key.Warehouse == "" || key.Location == "" || key.ItemCode == "" {
				result.Errors = append(result.Errors, RowError{Row: rownum, Reason: "missing warehouse, location or item_code"})
				continue
			}
			qty := Round3(row.Qty)
			if !qty.IsPositive() {
				result.Skipped++
				continue
			}

			applied, err := s.ApplyDelta(ctx, key, row.ItemName, qty, row.Note)
			if err != nil {
				return fmt.Errorf("apply row %d: %w", rownum, err)
			}
			if !applied {
				result.Errors = append(result.Errors, RowError{Row: rownum, Reason: "delta refused"})
				continue
			}
			// Window disabled: identical workbook rows are distinct
			// applied deltas, and every applied delta must have its
			// audit row or the batch cannot be rolled back in full.
			if err := s.AppendAudit(ctx, AuditEntry{
				Type:      typ,
				Warehouse: key.Warehouse,
				Operator:  norm(operator),
				Brand:     key.Brand,
				ItemCode:  key.ItemCode,
				ItemName:  norm(row.ItemName),
				Lot:       key.Lot,
				Spec:      key.Spec,
				ToLoc:     key.Location,
				Qty:       qty,
				Note:      norm(row.Note),
				BatchID:   result.BatchID,
				CreatedAt: l.now(),
			}, 0); err != nil {
				return fmt.Errorf("record row %d: %w", rownum, err)
			}
			result.Succeeded++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// =============================================================================
// QUERIES
// =============================================================================

// Inventory returns current stock matching the filter.
func (l *StockLedger) Inventory(ctx context.Context, f InventoryFilter) ([]StockRecord, error) {
	return l.store.QueryInventory(ctx, f)
}

// History returns audit entries matching the filter.
func (l *StockLedger) History(ctx context.Context, f AuditFilter) ([]AuditEntry, error) {
	return l.store.QueryAudit(ctx, f)
}

// DamageCodes returns the active damage taxonomy.
func (l *StockLedger) DamageCodes(ctx context.Context) ([]DamageCode, error) {
	return l.store.ListDamageCodes(ctx, true)
}

// DamageHistory returns damage entries matching the filter.
func (l *StockLedger) DamageHistory(ctx context.Context, f DamageFilter) ([]DamageEntry, error) {
	return l.store.QueryDamage(ctx, f)
}

// DamageSummary returns per-category damage counts.
func (l *StockLedger) DamageSummary(ctx context.Context, f DamageFilter) ([]DamageCategoryCount, error) {
	return l.store.DamageSummaryByCategory(ctx, f)
}
