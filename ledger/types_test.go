package ledger_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/stock-ledger/ledger"
)

// =============================================================================
// ROUNDING
// =============================================================================

func TestRound3_HalfUp(t *testing.T) {
	// GIVEN: Quantities on the rounding boundary
	// THEN: Ties round up, never to even

	cases := map[string]string{
		"1.0005":  "1.001",
		"1.0004":  "1",
		"2.5":     "2.5",
		"0.12345": "0.123",
		"0.9995":  "1",
		"10":      "10",
	}
	for in, want := range cases {
		d, err := decimal.NewFromString(in)
		require.NoError(t, err)
		assert.Equal(t, want, ledger.Round3(d).String(), "Round3(%s)", in)
	}
}

func TestRound3_Idempotent(t *testing.T) {
	for _, in := range []string{"1.0005", "0.1235", "3.14159", "42", "0.001"} {
		d, err := decimal.NewFromString(in)
		require.NoError(t, err)
		once := ledger.Round3(d)
		assert.True(t, once.Equal(ledger.Round3(once)), "Round3 should be idempotent for %s", in)
	}
}

func TestParseQuantity(t *testing.T) {
	q, err := ledger.ParseQuantity(" 12.3456 ")
	require.NoError(t, err)
	assert.Equal(t, "12.346", q.String())

	_, err = ledger.ParseQuantity("twelve")
	assert.Error(t, err)
}

// =============================================================================
// EVENT TYPES
// =============================================================================

func TestParseEventType_ClosedSet(t *testing.T) {
	// GIVEN: A legacy string outside the closed set
	// THEN: It is rejected, not silently carried along

	for _, valid := range []string{"inbound", "outbound", "move", "reversal", "initial_stock", "damage_deduction"} {
		_, err := ledger.ParseEventType(valid)
		assert.NoError(t, err, valid)
	}

	_, err := ledger.ParseEventType("adjusment") // typo'd legacy value
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrUnknownEventType)
	var typed *ledger.UnknownEventTypeError
	require.ErrorAs(t, err, &typed)
	assert.Equal(t, "adjusment", typed.Value)
}

func TestEventType_Reversible(t *testing.T) {
	assert.True(t, ledger.EventInbound.Reversible())
	assert.True(t, ledger.EventOutbound.Reversible())
	assert.True(t, ledger.EventMove.Reversible())
	assert.True(t, ledger.EventInitialStock.Reversible())

	// Reversals of reversals and damage write-offs are out.
	assert.False(t, ledger.EventReversal.Reversible())
	assert.False(t, ledger.EventDamageDeduction.Reversible())
}

func TestStockKey_Normalize(t *testing.T) {
	k := ledger.StockKey{
		Warehouse: " W1 ", Location: "A-01 ", Brand: " ACME",
		ItemCode: " SKU-9 ", Lot: " L1", Spec: "500g ",
	}.Normalize()
	assert.Equal(t, ledger.StockKey{
		Warehouse: "W1", Location: "A-01", Brand: "ACME",
		ItemCode: "SKU-9", Lot: "L1", Spec: "500g",
	}, k)
}

func TestAuditEntry_DisplayLocation(t *testing.T) {
	in := ledger.AuditEntry{Type: ledger.EventInbound, FromLoc: "", ToLoc: "A-01"}
	assert.Equal(t, "A-01", in.DisplayLocation())

	out := ledger.AuditEntry{Type: ledger.EventOutbound, FromLoc: "A-01"}
	assert.Equal(t, "A-01", out.DisplayLocation())

	mv := ledger.AuditEntry{Type: ledger.EventMove, FromLoc: "A-01", ToLoc: "B-02"}
	assert.Equal(t, "A-01", mv.DisplayLocation())
}
