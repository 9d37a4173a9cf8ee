package importer_test

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/warp/stock-ledger/importer"
)

// =============================================================================
// TEST SETUP
// =============================================================================

// workbook builds an in-memory xlsx with the given rows on the first sheet.
func workbook(t *testing.T, rows ...[]any) io.Reader {
	t.Helper()

	f := excelize.NewFile()
	defer f.Close()

	sheet := f.GetSheetName(0)
	for i, row := range rows {
		cellRef, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow(sheet, cellRef, &row))
	}

	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return bytes.NewReader(buf.Bytes())
}

// =============================================================================
// STOCK WORKBOOKS
// =============================================================================

func TestParseStockWorkbook_CanonicalHeaders(t *testing.T) {
	r := workbook(t,
		[]any{"warehouse", "location", "brand", "item_code", "item_name", "lot", "spec", "qty", "note"},
		[]any{"W1", "A-01", "ACME", "SKU-1", "Widget", "L1", "Red", "10.5", "first"},
		[]any{"W1", "A-02", "", "SKU-2", "", "", "", "3", ""},
	)

	rows, rowErrs, err := importer.ParseStockWorkbook(r)
	require.NoError(t, err)
	assert.Empty(t, rowErrs)
	require.Len(t, rows, 2)

	assert.Equal(t, "W1", rows[0].Warehouse)
	assert.Equal(t, "A-01", rows[0].Location)
	assert.Equal(t, "ACME", rows[0].Brand)
	assert.Equal(t, "SKU-1", rows[0].ItemCode)
	assert.Equal(t, "Widget", rows[0].ItemName)
	assert.Equal(t, "L1", rows[0].Lot)
	assert.Equal(t, "Red", rows[0].Spec)
	assert.Equal(t, "10.5", rows[0].Qty.String())
	assert.Equal(t, "first", rows[0].Note)

	assert.Equal(t, "SKU-2", rows[1].ItemCode)
	assert.Equal(t, "3", rows[1].Qty.String())
}

func TestParseStockWorkbook_HeaderAliases(t *testing.T) {
	// GIVEN: The spellings a different template revision uses
	// THEN:  They resolve to the same logical columns

	r := workbook(t,
		[]any{"WH", "Bin", "Maker", "Item Code", "Product Name", "Lot No.", "SIZE", "Quantity", "Remarks"},
		[]any{"W1", "A-01", "ACME", "SKU-1", "Widget", "L1", "XL", "7", "ok"},
	)

	rows, rowErrs, err := importer.ParseStockWorkbook(r)
	require.NoError(t, err)
	assert.Empty(t, rowErrs)
	require.Len(t, rows, 1)

	assert.Equal(t, "W1", rows[0].Warehouse)
	assert.Equal(t, "A-01", rows[0].Location)
	assert.Equal(t, "ACME", rows[0].Brand)
	assert.Equal(t, "SKU-1", rows[0].ItemCode)
	assert.Equal(t, "Widget", rows[0].ItemName)
	assert.Equal(t, "L1", rows[0].Lot)
	assert.Equal(t, "XL", rows[0].Spec)
	assert.Equal(t, "7", rows[0].Qty.String())
	assert.Equal(t, "ok", rows[0].Note)
}

func TestParseStockWorkbook_MissingRequiredColumns(t *testing.T) {
	r := workbook(t,
		[]any{"warehouse", "brand", "item_name"},
		[]any{"W1", "ACME", "Widget"},
	)

	_, _, err := importer.ParseStockWorkbook(r)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "item_code")
	assert.Contains(t, err.Error(), "location")
	assert.Contains(t, err.Error(), "qty")
}

func TestParseStockWorkbook_BadQuantityReportedWithExcelRow(t *testing.T) {
	// GIVEN: A typo quantity on the third data line (Excel row 4)
	// THEN:  The row is still returned (zero qty) and the error names
	//        the row the operator sees

	r := workbook(t,
		[]any{"warehouse", "location", "item_code", "qty"},
		[]any{"W1", "A-01", "SKU-1", "5"},
		[]any{"W1", "A-02", "SKU-2", "3"},
		[]any{"W1", "A-03", "SKU-3", "5pcs"},
	)

	rows, rowErrs, err := importer.ParseStockWorkbook(r)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	require.Len(t, rowErrs, 1)

	assert.Equal(t, 4, rowErrs[0].Row)
	assert.Contains(t, rowErrs[0].Reason, "5pcs")
	assert.True(t, rows[2].Qty.IsZero())
}

func TestParseStockWorkbook_QuantitiesRounded(t *testing.T) {
	r := workbook(t,
		[]any{"warehouse", "location", "item_code", "qty"},
		[]any{"W1", "A-01", "SKU-1", "1.23456"},
	)

	rows, _, err := importer.ParseStockWorkbook(r)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "1.235", rows[0].Qty.String())
}

func TestParseStockWorkbook_TrailingBlankCellsTolerated(t *testing.T) {
	// Short rows happen: excelize trims trailing empty cells.
	r := workbook(t,
		[]any{"warehouse", "location", "item_code", "item_name", "qty"},
		[]any{"W1", "A-01", "SKU-1"},
	)

	rows, rowErrs, err := importer.ParseStockWorkbook(r)
	require.NoError(t, err)
	assert.Empty(t, rowErrs)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].Qty.IsZero())
}

// =============================================================================
// ERP EXTRACT
// =============================================================================

func TestParseERPExtract_BasicFacts(t *testing.T) {
	r := workbook(t,
		[]any{"Item Code", "Lot", "Spec", "Qty"},
		[]any{"SKU-1", "L1", "Red", "5"},
		[]any{"SKU-2", "", "", "3.25"},
	)

	facts, err := importer.ParseERPExtract(r)
	require.NoError(t, err)
	require.Len(t, facts, 2)

	assert.Equal(t, "SKU-1", facts[0].ItemCode)
	assert.Equal(t, "L1", facts[0].Lot)
	assert.Equal(t, "Red", facts[0].Spec)
	assert.Equal(t, "5", facts[0].Qty.String())
	assert.Equal(t, "3.25", facts[1].Qty.String())
}

func TestParseERPExtract_SkipsSubtotalsAndFooters(t *testing.T) {
	// ERP reports end with subtotal lines (no item code) and footer text
	// (unreadable quantity). Those are not stock facts.
	r := workbook(t,
		[]any{"item_code", "qty"},
		[]any{"SKU-1", "5"},
		[]any{"", "5"},
		[]any{"SKU-2", "total"},
		[]any{"SKU-3", "2"},
	)

	facts, err := importer.ParseERPExtract(r)
	require.NoError(t, err)
	require.Len(t, facts, 2)
	assert.Equal(t, "SKU-1", facts[0].ItemCode)
	assert.Equal(t, "SKU-3", facts[1].ItemCode)
}

func TestParseERPExtract_SkipsZeroQuantityRows(t *testing.T) {
	// A zero fact is not a fact: absence already means zero, and keeping
	// it would fabricate a comparison row for stock neither side holds.
	r := workbook(t,
		[]any{"item_code", "lot", "qty"},
		[]any{"SKU-1", "L1", "0"},
		[]any{"SKU-2", "", "0.000"},
		[]any{"SKU-3", "", "2"},
	)

	facts, err := importer.ParseERPExtract(r)
	require.NoError(t, err)
	require.Len(t, facts, 1)
	assert.Equal(t, "SKU-3", facts[0].ItemCode)
}

func TestParseERPExtract_MissingColumns(t *testing.T) {
	r := workbook(t,
		[]any{"name", "amount2"},
		[]any{"Widget", "5"},
	)

	_, err := importer.ParseERPExtract(r)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "item_code")
}

func TestParse_EmptyWorkbookRejected(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)

	_, _, err = importer.ParseStockWorkbook(bytes.NewReader(buf.Bytes()))
	require.Error(t, err)
}

func TestParse_NotAWorkbookRejected(t *testing.T) {
	_, _, err := importer.ParseStockWorkbook(bytes.NewReader([]byte("not a zip")))
	require.Error(t, err)

	_, err2 := importer.ParseERPExtract(bytes.NewReader([]byte("not a zip")))
	require.Error(t, err2)
}
