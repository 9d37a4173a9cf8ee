package ledger_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/stock-ledger/ledger"
)

func fact(code, lot, spec string, qty float64) ledger.ItemFact {
	return ledger.ItemFact{ItemCode: code, Lot: lot, Spec: spec, Qty: decimal.NewFromFloat(qty)}
}

// =============================================================================
// GRANULARITY SELECTION
// =============================================================================

func TestCompare_LotMatchesSpecDiffers_ComparesAtLot(t *testing.T) {
	// GIVEN: Both sides track item A at lot 1 with quantity 5, but tag it
	//        with different specs
	// WHEN:  Comparing
	// THEN:  The lot level is selected, one match is reported, and no
	//        spec-level discrepancy appears

	report := ledger.Compare(
		[]ledger.ItemFact{fact("A", "1", "X", 5)},
		[]ledger.ItemFact{fact("A", "1", "Y", 5)},
	)

	require.Len(t, report.Rows, 1)
	row := report.Rows[0]
	assert.Equal(t, ledger.GranL2Lot, row.Granularity)
	assert.Equal(t, ledger.ReconMatch, row.Status)
	assert.Equal(t, "1", row.Lot)
	assert.Empty(t, row.Spec)
	assert.Equal(t, 1, report.Summary.Matches)
	assert.Zero(t, report.Summary.Discrepancies)
	assert.Zero(t, report.Summary.MissingInWMS)
	assert.Zero(t, report.Summary.MissingInERP)
}

func TestCompare_FullKeyIntersection_ComparesAtL3(t *testing.T) {
	report := ledger.Compare(
		[]ledger.ItemFact{fact("A", "1", "X", 5), fact("A", "2", "X", 3)},
		[]ledger.ItemFact{fact("A", "1", "X", 5)},
	)

	require.Len(t, report.Rows, 2)
	for _, row := range report.Rows {
		assert.Equal(t, ledger.GranL3, row.Granularity)
	}
	assert.Equal(t, 1, report.Summary.Matches)
	assert.Equal(t, 1, report.Summary.MissingInWMS) // lot 2 unknown internally
}

func TestCompare_SpecOnlyIntersection_ComparesAtSpec(t *testing.T) {
	// External tracks spec but not lot; internal tracks both.
	report := ledger.Compare(
		[]ledger.ItemFact{fact("A", "", "X", 7)},
		[]ledger.ItemFact{fact("A", "9", "X", 7)},
	)

	require.Len(t, report.Rows, 1)
	assert.Equal(t, ledger.GranL2Spec, report.Rows[0].Granularity)
	assert.Equal(t, ledger.ReconMatch, report.Rows[0].Status)
}

func TestCompare_NoIntersection_FallsBackToItemLevel(t *testing.T) {
	// GIVEN: The two sides share the item code but no lot or spec key
	// THEN:  Totals are compared at item level with a rollup note

	report := ledger.Compare(
		[]ledger.ItemFact{fact("A", "1", "", 4)},
		[]ledger.ItemFact{fact("A", "2", "", 4)},
	)

	require.Len(t, report.Rows, 1)
	row := report.Rows[0]
	assert.Equal(t, ledger.GranL1, row.Granularity)
	assert.Equal(t, ledger.ReconMatch, row.Status)
	assert.NotEmpty(t, row.Note, "coarsened comparison must be flagged")
	assert.Equal(t, 1, report.Summary.Rollups)
}

func TestCompare_ItemLevelWithoutFinerFacts_NoRollupNote(t *testing.T) {
	report := ledger.Compare(
		[]ledger.ItemFact{fact("A", "", "", 4)},
		[]ledger.ItemFact{fact("A", "", "", 4)},
	)

	require.Len(t, report.Rows, 1)
	assert.Empty(t, report.Rows[0].Note)
	assert.Zero(t, report.Summary.Rollups)
}

// =============================================================================
// CLASSIFICATION
// =============================================================================

func TestCompare_Classification(t *testing.T) {
	// GIVEN: One key per classification outcome
	report := ledger.Compare(
		[]ledger.ItemFact{
			fact("ONLY-ERP", "", "", 10),
			fact("BOTH-EQ", "", "", 7),
			fact("BOTH-DIFF", "", "", 7),
		},
		[]ledger.ItemFact{
			fact("ONLY-WMS", "", "", 3),
			fact("BOTH-EQ", "", "", 7),
			fact("BOTH-DIFF", "", "", 5),
		},
	)

	byCode := map[string]ledger.ReconRow{}
	for _, row := range report.Rows {
		byCode[row.ItemCode] = row
	}

	assert.Equal(t, ledger.ReconMissingWMS, byCode["ONLY-ERP"].Status)
	assert.Equal(t, ledger.ReconMissingERP, byCode["ONLY-WMS"].Status)
	assert.Equal(t, ledger.ReconMatch, byCode["BOTH-EQ"].Status)

	diff := byCode["BOTH-DIFF"]
	assert.Equal(t, ledger.ReconDiscrepancy, diff.Status)
	assert.Equal(t, "2", diff.Diff.String())

	assert.Equal(t, ledger.ReconSummary{
		Matches: 1, Discrepancies: 1, MissingInWMS: 1, MissingInERP: 1,
	}, report.Summary)
}

func TestCompare_DuplicateRowsAreSummed(t *testing.T) {
	// The extract may repeat a key across pages; quantities add up.
	report := ledger.Compare(
		[]ledger.ItemFact{fact("A", "1", "X", 2), fact("A", "1", "X", 3)},
		[]ledger.ItemFact{fact("A", "1", "X", 5)},
	)

	require.Len(t, report.Rows, 1)
	assert.Equal(t, ledger.ReconMatch, report.Rows[0].Status)
}

func TestCompare_OutputIsRoundedAndOrdered(t *testing.T) {
	report := ledger.Compare(
		[]ledger.ItemFact{fact("B", "", "", 1.00049), fact("A", "", "", 1)},
		nil,
	)

	require.Len(t, report.Rows, 2)
	assert.Equal(t, "A", report.Rows[0].ItemCode)
	assert.Equal(t, "B", report.Rows[1].ItemCode)
	assert.Equal(t, "1", report.Rows[1].ExternalQty.String())
}

func TestCompare_BlankItemCodesIgnored(t *testing.T) {
	report := ledger.Compare(
		[]ledger.ItemFact{fact("", "", "", 9)},
		nil,
	)
	assert.Empty(t, report.Rows)
}
