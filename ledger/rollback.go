/*
rollback.go - Reversal of recorded stock events

PURPOSE:
  Consumes one audit entry (or every entry sharing a batch id) and
  applies the inverse quantity delta(s), marks the original entry(ies)
  reversed, and appends a reversal entry so the rollback itself is
  auditable.

STATE MACHINE (per audit entry):
  ACTIVE -> REVERSED, terminal. Only inbound, outbound, move and
  initial_stock entries are eligible; reversals and damage deductions
  are not.

INVERSE DELTAS:
  inbound / initial_stock  -> one decrease at to_location
  outbound                 -> one increase at from_location
  move                     -> increase at from_location AND decrease at
                              to_location; both legs must succeed

BATCH ROLLBACK:
  Inverse deltas are aggregated per stock key before applying - one
  decrease per key instead of one per entry. Row-by-row application can
  strand a multi-row import in a state where some rows reverse and
  others cannot because intermediate quantities differ; aggregation
  makes the batch succeed or fail as a whole. Everything runs inside
  one store transaction, so "fail" means no entry is marked and no
  quantity moves.

SEE ALSO:
  - ledger.go: The operations being reversed
  - store.go:  MarkReversed contract
*/
package ledger

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// RollbackOne reverses a single audit entry.
func (l *StockLedger) RollbackOne(ctx context.Context, entryID int64, operator, note string) error {
	return l.store.WithTx(ctx, func(s Store) error {
		entry, err := s.GetAudit(ctx, entryID)
		if err != nil {
			return fmt.Errorf("load audit entry: %w", err)
		}
		if entry == nil {
			return ErrNotFound
		}
		if entry.RolledBack {
			return ErrAlreadyReversed
		}
		if !entry.Type.Reversible() {
			return ErrNotReversible
		}

		if err := l.applyInverse(ctx, s, *entry); err != nil {
			return err
		}

		now := l.now()
		if err := s.MarkReversed(ctx, []int64{entry.ID}, norm(operator), norm(note), now); err != nil {
			return fmt.Errorf("mark reversed: %w", err)
		}
		return l.appendReversal(ctx, s, *entry, operator, note)
	})
}

// RollbackBatch reverses every non-reversed entry sharing batchID and
// returns how many were marked. All-or-nothing: a single refused leg
// rolls the whole transaction back with no entry marked.
func (l *StockLedger) RollbackBatch(ctx context.Context, batchID, operator, note string) (int, error) {
	if norm(batchID) == "" {
		return 0, &ValidationError{Field: "batch_id", Reason: "required"}
	}

	var count int
	err := l.store.WithTx(ctx, func(s Store) error {
		entries, err := s.AuditByBatch(ctx, norm(batchID))
		if err != nil {
			return fmt.Errorf("load batch: %w", err)
		}
		if len(entries) == 0 {
			return ErrNothingToRollback
		}

		// Aggregate inverse deltas per stock key, preserving first-seen
		// order so application is deterministic.
		type bucket struct {
			key      StockKey
			itemName string
			delta    decimal.Decimal
		}
		index := make(map[StockKey]int)
		var buckets []bucket
		add := func(key StockKey, itemName string, delta decimal.Decimal) {
			if i, ok := index[key]; ok {
				buckets[i].delta = buckets[i].delta.Add(delta)
				return
			}
			index[key] = len(buckets)
			buckets = append(buckets, bucket{key: key, itemName: itemName, delta: delta})
		}

		for _, e := range entries {
			if !e.Type.Reversible() {
				return ErrNotReversible
			}
			switch e.Type {
			case EventInbound, EventInitialStock:
				add(e.ToKey().Normalize(), e.ItemName, e.Qty.Neg())
			case EventOutbound:
				add(e.FromKey().Normalize(), e.ItemName, e.Qty)
			case EventMove:
				add(e.FromKey().Normalize(), e.ItemName, e.Qty)
				add(e.ToKey().Normalize(), e.ItemName, e.Qty.Neg())
			}
		}

		// Credits first so a later aggregated debit can draw on them.
		for _, pass := range []bool{true, false} {
			for _, b := range buckets {
				delta := Round3(b.delta)
				if delta.IsZero() || delta.IsPositive() != pass {
					continue
				}
				applied, err := s.ApplyDelta(ctx, b.key, b.itemName, delta, "")
				if err != nil {
					return fmt.Errorf("apply batch inverse: %w", err)
				}
				if !applied {
					available := decimal.Zero
					if rec, err := s.GetRecord(ctx, b.key); err == nil && rec != nil {
						available = rec.Qty
					}
					return &InsufficientStockError{Key: b.key, Available: available, Requested: delta.Abs()}
				}
			}
		}

		ids := make([]int64, len(entries))
		for i, e := range entries {
			ids[i] = e.ID
		}
		now := l.now()
		if err := s.MarkReversed(ctx, ids, norm(operator), norm(note), now); err != nil {
			return fmt.Errorf("mark batch reversed: %w", err)
		}
		for _, e := range entries {
			if err := l.appendReversal(ctx, s, e, operator, note); err != nil {
				return err
			}
		}
		count = len(entries)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// applyInverse applies the inverse mutation(s) for one entry, refusing
// the whole reversal if any leg lacks stock.
func (l *StockLedger) applyInverse(ctx context.Context, s Store, e AuditEntry) error {
	switch e.Type {
	case EventInbound, EventInitialStock:
		return l.debit(ctx, s, e.ToKey().Normalize(), e.ItemName, e.Qty, "")
	case EventOutbound:
		return l.creditKey(ctx, s, e.FromKey().Normalize(), e.ItemName, e.Qty)
	case EventMove:
		// Debit the destination first: if the moved stock is gone the
		// reversal must fail before anything is credited back.
		if err := l.debit(ctx, s, e.ToKey().Normalize(), e.ItemName, e.Qty, ""); err != nil {
			return err
		}
		return l.creditKey(ctx, s, e.FromKey().Normalize(), e.ItemName, e.Qty)
	}
	return ErrNotReversible
}

func (l *StockLedger) creditKey(ctx context.Context, s Store, key StockKey, itemName string, qty decimal.Decimal) error {
	applied, err := s.ApplyDelta(ctx, key, itemName, qty, "")
	if err != nil {
		return fmt.Errorf("apply inverse credit: %w", err)
	}
	if !applied {
		return fmt.Errorf("inverse credit refused at %s", key.Location)
	}
	return nil
}

// appendReversal records the rollback itself. The from/to locations are
// swapped so the entry reads in the direction the stock actually moved,
// and the note references the original entry id. The fingerprint window
// is disabled: two identical originals reversed back-to-back are two
// real reversals, not a double-tap.
func (l *StockLedger) appendReversal(ctx context.Context, s Store, e AuditEntry, operator, note string) error {
	text := fmt.Sprintf("reversal of entry #%d", e.ID)
	if norm(note) != "" {
		text += ": " + norm(note)
	}
	return s.AppendAudit(ctx, AuditEntry{
		Type:      EventReversal,
		Warehouse: e.Warehouse,
		Operator:  norm(operator),
		Brand:     e.Brand,
		ItemCode:  e.ItemCode,
		ItemName:  e.ItemName,
		Lot:       e.Lot,
		Spec:      e.Spec,
		FromLoc:   e.ToLoc,
		ToLoc:     e.FromLoc,
		Qty:       e.Qty,
		Note:      text,
		BatchID:   e.BatchID,
		CreatedAt: l.now(),
	}, 0)
}
