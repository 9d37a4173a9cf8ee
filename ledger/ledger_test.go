package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/stock-ledger/ledger"
	"github.com/warp/stock-ledger/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestLedger(t *testing.T) (*ledger.StockLedger, *sqlite.Store) {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return ledger.New(store), store
}

func qty(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func inboundReq(location, brand, itemCode string, q string) ledger.WriteRequest {
	return ledger.WriteRequest{
		Warehouse: "W1", Location: location, Brand: brand,
		ItemCode: itemCode, ItemName: itemCode + " name",
		Qty: qty(q), Operator: "tester",
	}
}

func getQty(t *testing.T, store *sqlite.Store, location, brand, itemCode string) *decimal.Decimal {
	t.Helper()
	rec, err := store.GetRecord(context.Background(), ledger.StockKey{
		Warehouse: "W1", Location: location, Brand: brand, ItemCode: itemCode,
	})
	require.NoError(t, err)
	if rec == nil {
		return nil
	}
	return &rec.Qty
}

// =============================================================================
// INBOUND / OUTBOUND
// =============================================================================

func TestInbound_CreatesRecordAndAuditEntry(t *testing.T) {
	// GIVEN: An empty warehouse
	// WHEN:  Receiving 10.5 units
	// THEN:  The record exists with the rounded quantity and one inbound
	//        entry is on the trail

	l, store := newTestLedger(t)
	ctx := context.Background()

	require.NoError(t, l.Inbound(ctx, inboundReq("A-01", "ACME", "SKU-1", "10.5")))

	q := getQty(t, store, "A-01", "ACME", "SKU-1")
	require.NotNil(t, q)
	assert.Equal(t, "10.5", q.String())

	entries, err := l.History(ctx, ledger.AuditFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, ledger.EventInbound, entries[0].Type)
	assert.Equal(t, "A-01", entries[0].ToLoc)
	assert.Equal(t, "tester", entries[0].Operator)
}

func TestInbound_MissingFieldsRejected(t *testing.T) {
	l, _ := newTestLedger(t)

	err := l.Inbound(context.Background(), ledger.WriteRequest{
		Warehouse: "W1", ItemCode: "SKU-1", Qty: qty("1"),
	})
	assert.ErrorIs(t, err, ledger.ErrValidation)

	err = l.Inbound(context.Background(), inboundReq("A-01", "ACME", "SKU-1", "0"))
	assert.ErrorIs(t, err, ledger.ErrValidation)

	// With several fields absent the first one, in field order, is the
	// one reported - the message operators see is stable.
	err = l.Inbound(context.Background(), ledger.WriteRequest{Qty: qty("1")})
	var missing *ledger.ValidationError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "warehouse", missing.Field)
}

func TestOutbound_ReducesStock(t *testing.T) {
	l, store := newTestLedger(t)
	ctx := context.Background()

	require.NoError(t, l.Inbound(ctx, inboundReq("A-01", "ACME", "SKU-1", "10")))
	require.NoError(t, l.Outbound(ctx, inboundReq("A-01", "ACME", "SKU-1", "4")))

	q := getQty(t, store, "A-01", "ACME", "SKU-1")
	require.NotNil(t, q)
	assert.Equal(t, "6", q.String())
}

func TestOutbound_ToExactlyZero_DeletesRecord(t *testing.T) {
	// GIVEN: 5 on hand
	// WHEN:  Issuing exactly 5
	// THEN:  The record is gone - absence is the zero state

	l, store := newTestLedger(t)
	ctx := context.Background()

	require.NoError(t, l.Inbound(ctx, inboundReq("A-01", "ACME", "SKU-1", "5")))
	require.NoError(t, l.Outbound(ctx, inboundReq("A-01", "ACME", "SKU-1", "5")))

	assert.Nil(t, getQty(t, store, "A-01", "ACME", "SKU-1"))
}

func TestOutbound_Insufficient_RefusedUnchanged(t *testing.T) {
	// GIVEN: 3 on hand
	// WHEN:  Issuing 5
	// THEN:  Typed refusal carrying the on-hand quantity; stock unchanged

	l, store := newTestLedger(t)
	ctx := context.Background()

	require.NoError(t, l.Inbound(ctx, inboundReq("A-01", "ACME", "SKU-1", "3")))

	err := l.Outbound(ctx, inboundReq("A-01", "ACME", "SKU-1", "5"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrInsufficientStock)

	var typed *ledger.InsufficientStockError
	require.ErrorAs(t, err, &typed)
	assert.Equal(t, "3", typed.Available.String())
	assert.Equal(t, "5", typed.Requested.String())

	q := getQty(t, store, "A-01", "ACME", "SKU-1")
	require.NotNil(t, q)
	assert.Equal(t, "3", q.String())

	// The refused attempt leaves no audit entry either.
	entries, err := l.History(ctx, ledger.AuditFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, ledger.EventInbound, entries[0].Type)
}

func TestOutbound_MissingRecord_Insufficient(t *testing.T) {
	l, _ := newTestLedger(t)

	err := l.Outbound(context.Background(), inboundReq("A-01", "ACME", "SKU-1", "1"))
	assert.ErrorIs(t, err, ledger.ErrInsufficientStock)
}

// =============================================================================
// BRAND RESOLUTION
// =============================================================================

func TestOutbound_BrandOmitted_SingleCandidate_Resolved(t *testing.T) {
	// GIVEN: One brand of SKU-1 at A-01
	// WHEN:  Issuing without naming the brand
	// THEN:  The resolver fills it in

	l, store := newTestLedger(t)
	ctx := context.Background()

	require.NoError(t, l.Inbound(ctx, inboundReq("A-01", "ACME", "SKU-1", "10")))

	req := inboundReq("A-01", "", "SKU-1", "4")
	req.ItemName = ""
	require.NoError(t, l.Outbound(ctx, req))

	q := getQty(t, store, "A-01", "ACME", "SKU-1")
	require.NotNil(t, q)
	assert.Equal(t, "6", q.String())

	entries, err := l.History(ctx, ledger.AuditFilter{})
	require.NoError(t, err)
	assert.Equal(t, "ACME", entries[0].Brand)
}

func TestOutbound_BrandOmitted_MultipleBrands_Ambiguous(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	require.NoError(t, l.Inbound(ctx, inboundReq("A-01", "ACME", "SKU-1", "10")))
	require.NoError(t, l.Inbound(ctx, inboundReq("A-01", "Globex", "SKU-1", "10")))

	err := l.Outbound(ctx, inboundReq("A-01", "", "SKU-1", "1"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrAmbiguousBrand)

	var typed *ledger.AmbiguousBrandError
	require.ErrorAs(t, err, &typed)
	assert.ElementsMatch(t, []string{"ACME", "Globex"}, typed.Brands)
}

// =============================================================================
// MOVE
// =============================================================================

func TestMove_TransfersBetweenLocations(t *testing.T) {
	l, store := newTestLedger(t)
	ctx := context.Background()

	require.NoError(t, l.Inbound(ctx, inboundReq("A-01", "ACME", "SKU-1", "10")))

	require.NoError(t, l.Move(ctx, ledger.MoveRequest{
		Warehouse: "W1", FromLocation: "A-01", ToLocation: "B-02",
		Brand: "ACME", ItemCode: "SKU-1", Qty: qty("4"), Operator: "tester",
	}))

	from := getQty(t, store, "A-01", "ACME", "SKU-1")
	to := getQty(t, store, "B-02", "ACME", "SKU-1")
	require.NotNil(t, from)
	require.NotNil(t, to)
	assert.Equal(t, "6", from.String())
	assert.Equal(t, "4", to.String())

	entries, err := l.History(ctx, ledger.AuditFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, ledger.EventMove, entries[0].Type)
	assert.Equal(t, "A-01", entries[0].FromLoc)
	assert.Equal(t, "B-02", entries[0].ToLoc)
}

func TestMove_Insufficient_NothingApplied(t *testing.T) {
	// GIVEN: 3 on hand at A-01
	// WHEN:  Moving 5 to B-02
	// THEN:  The whole move is refused; neither location changed

	l, store := newTestLedger(t)
	ctx := context.Background()

	require.NoError(t, l.Inbound(ctx, inboundReq("A-01", "ACME", "SKU-1", "3")))

	err := l.Move(ctx, ledger.MoveRequest{
		Warehouse: "W1", FromLocation: "A-01", ToLocation: "B-02",
		Brand: "ACME", ItemCode: "SKU-1", Qty: qty("5"), Operator: "tester",
	})
	assert.ErrorIs(t, err, ledger.ErrInsufficientStock)

	from := getQty(t, store, "A-01", "ACME", "SKU-1")
	require.NotNil(t, from)
	assert.Equal(t, "3", from.String())
	assert.Nil(t, getQty(t, store, "B-02", "ACME", "SKU-1"))
}

func TestMove_SameLocation_Rejected(t *testing.T) {
	l, _ := newTestLedger(t)

	err := l.Move(context.Background(), ledger.MoveRequest{
		Warehouse: "W1", FromLocation: "A-01", ToLocation: "A-01",
		ItemCode: "SKU-1", Qty: qty("1"),
	})
	assert.ErrorIs(t, err, ledger.ErrValidation)
}

// =============================================================================
// DUPLICATE SUBMISSION
// =============================================================================

func TestInbound_FingerprintWindow_AbsorbsDoubleTap(t *testing.T) {
	// GIVEN: Two identical inbound submissions 2 seconds apart (window 5s)
	// WHEN:  Both are applied
	// THEN:  Stock counts both (quantity mutations are real) but the
	//        trail records one logical event

	l, _ := newTestLedger(t)
	ctx := context.Background()

	base := time.Date(2026, time.August, 29, 12, 0, 0, 0, time.UTC)
	now := base
	l.SetClock(func() time.Time { return now })

	require.NoError(t, l.Inbound(ctx, inboundReq("A-01", "ACME", "SKU-1", "5")))
	now = base.Add(2 * time.Second)
	require.NoError(t, l.Inbound(ctx, inboundReq("A-01", "ACME", "SKU-1", "5")))

	entries, err := l.History(ctx, ledger.AuditFilter{})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestInbound_OutsideWindow_BothRecorded(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	base := time.Date(2026, time.August, 29, 12, 0, 0, 0, time.UTC)
	now := base
	l.SetClock(func() time.Time { return now })

	require.NoError(t, l.Inbound(ctx, inboundReq("A-01", "ACME", "SKU-1", "5")))
	now = base.Add(10 * time.Second)
	require.NoError(t, l.Inbound(ctx, inboundReq("A-01", "ACME", "SKU-1", "5")))

	entries, err := l.History(ctx, ledger.AuditFilter{})
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestInbound_IdempotencyKey_SecondSubmissionRejected(t *testing.T) {
	// GIVEN: A client-generated idempotency key
	// WHEN:  The same submission arrives twice (outside any window)
	// THEN:  The second is rejected outright

	l, _ := newTestLedger(t)
	ctx := context.Background()
	l.SetDedupWindow(0)

	req := inboundReq("A-01", "ACME", "SKU-1", "5")
	req.IdempotencyKey = "client-token-1"

	require.NoError(t, l.Inbound(ctx, req))
	err := l.Inbound(ctx, req)
	assert.ErrorIs(t, err, ledger.ErrDuplicateEntry)
}

// =============================================================================
// DAMAGE / CS
// =============================================================================

func TestRecordDamage_WithDeduction(t *testing.T) {
	l, store := newTestLedger(t)
	ctx := context.Background()

	require.NoError(t, l.Inbound(ctx, inboundReq("A-01", "ACME", "SKU-1", "10")))

	codes, err := l.DamageCodes(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, codes, "taxonomy should be seeded")

	entryID, err := l.RecordDamage(ctx, ledger.DamageRequest{
		OccurredAt: "2026-08-29", Warehouse: "W1", Location: "A-01",
		Brand: "ACME", ItemCode: "SKU-1", Qty: qty("2"),
		DamageCodeID: codes[0].ID, Detail: "crushed box",
		Operator: "tester", DeductInventory: true,
	})
	require.NoError(t, err)
	assert.Positive(t, entryID)

	q := getQty(t, store, "A-01", "ACME", "SKU-1")
	require.NotNil(t, q)
	assert.Equal(t, "8", q.String())

	// The deduction shows on the audit trail as its own event type.
	entries, err := l.History(ctx, ledger.AuditFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, ledger.EventDamageDeduction, entries[0].Type)

	damage, err := l.DamageHistory(ctx, ledger.DamageFilter{Year: 2026, Month: 8})
	require.NoError(t, err)
	require.Len(t, damage, 1)
	assert.True(t, damage[0].Deducted)
	assert.Equal(t, codes[0].Category, damage[0].Category)
}

func TestRecordDamage_WithoutDeduction_StockUntouched(t *testing.T) {
	l, store := newTestLedger(t)
	ctx := context.Background()

	require.NoError(t, l.Inbound(ctx, inboundReq("A-01", "ACME", "SKU-1", "10")))

	codes, err := l.DamageCodes(ctx)
	require.NoError(t, err)

	_, err = l.RecordDamage(ctx, ledger.DamageRequest{
		OccurredAt: "2026-08-29", Warehouse: "W1", Location: "A-01",
		Brand: "ACME", ItemCode: "SKU-1", Qty: qty("2"),
		DamageCodeID: codes[0].ID, Operator: "tester",
	})
	require.NoError(t, err)

	q := getQty(t, store, "A-01", "ACME", "SKU-1")
	require.NotNil(t, q)
	assert.Equal(t, "10", q.String())
}

func TestRecordDamage_UnknownCode_Rejected(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	require.NoError(t, l.Inbound(ctx, inboundReq("A-01", "ACME", "SKU-1", "10")))

	_, err := l.RecordDamage(ctx, ledger.DamageRequest{
		OccurredAt: "2026-08-29", Warehouse: "W1", Location: "A-01",
		Brand: "ACME", ItemCode: "SKU-1", Qty: qty("2"),
		DamageCodeID: 99999, Operator: "tester",
	})
	assert.ErrorIs(t, err, ledger.ErrValidation)
}

// =============================================================================
// BULK IMPORT
// =============================================================================

func TestImportInbound_AppliesRowsUnderOneBatch(t *testing.T) {
	l, store := newTestLedger(t)
	ctx := context.Background()

	rows := []ledger.ImportRow{
		{Warehouse: "W1", Location: "A-01", Brand: "ACME", ItemCode: "SKU-1", Qty: qty("5")},
		{Warehouse: "W1", Location: "A-02", Brand: "ACME", ItemCode: "SKU-2", Qty: qty("3")},
		{Warehouse: "W1", Location: "A-03", Brand: "ACME", ItemCode: "SKU-3", Qty: qty("0")}, // skipped
		{Warehouse: "W1", Location: "", Brand: "ACME", ItemCode: "SKU-4", Qty: qty("2")},    // row error
	}

	result, err := l.ImportInbound(ctx, rows, "importer")
	require.NoError(t, err)
	assert.NotEmpty(t, result.BatchID)
	assert.Equal(t, 2, result.Succeeded)
	assert.Equal(t, 1, result.Skipped)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, 5, result.Errors[0].Row, "workbook data starts on row 2")

	q := getQty(t, store, "A-01", "ACME", "SKU-1")
	require.NotNil(t, q)
	assert.Equal(t, "5", q.String())

	entries, err := store.AuditByBatch(ctx, result.BatchID)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestImportInbound_IdenticalRowsEachRecorded(t *testing.T) {
	// GIVEN: Two identical workbook rows (same key, same quantity)
	// WHEN:  Imported as one batch
	// THEN:  Both deltas apply AND both audit rows exist - the window
	//        never absorbs batch entries, so the batch reverses in full

	l, store := newTestLedger(t)
	ctx := context.Background()

	row := ledger.ImportRow{
		Warehouse: "W1", Location: "A-01", Brand: "ACME", ItemCode: "SKU-1", Qty: qty("5"),
	}
	result, err := l.ImportInbound(ctx, []ledger.ImportRow{row, row}, "importer")
	require.NoError(t, err)
	assert.Equal(t, 2, result.Succeeded)

	q := getQty(t, store, "A-01", "ACME", "SKU-1")
	require.NotNil(t, q)
	assert.Equal(t, "10", q.String())

	entries, err := store.AuditByBatch(ctx, result.BatchID)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	reversed, err := l.RollbackBatch(ctx, result.BatchID, "auditor", "")
	require.NoError(t, err)
	assert.Equal(t, 2, reversed)
	assert.Nil(t, getQty(t, store, "A-01", "ACME", "SKU-1"))
}

func TestImportInitial_EntriesTypedAsInitialStock(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	result, err := l.ImportInitial(ctx, []ledger.ImportRow{
		{Warehouse: "W1", Location: "A-01", Brand: "ACME", ItemCode: "SKU-1", Qty: qty("5")},
	}, "importer")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Succeeded)

	entries, err := l.History(ctx, ledger.AuditFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, ledger.EventInitialStock, entries[0].Type)
	assert.Equal(t, result.BatchID, entries[0].BatchID)
}
