/*
Package importer parses the Excel workbooks the engine consumes.

PURPOSE:
  Two workbook shapes arrive from outside:
  - inbound / initial-stock workbooks: one stock row per line, produced
    by warehouse staff, headers vary by template revision
  - the ERP stock extract: (item_code, lot, spec, qty) facts exported
    from the ERP for reconciliation, headers vary by ERP report

  Operators cannot be made to agree on column names, so both parsers
  resolve headers through alias tables rather than fixed positions.
  Matching is case-insensitive and ignores spaces, underscores and
  hyphens ("Item Code", "item_code" and "ITEMCODE" are the same column).

ROW NUMBERING:
  The stock-workbook parser returns one ImportRow per data line, in
  workbook order, including lines it could not fully parse (those get a
  RowError and a zero quantity). Downstream row numbers therefore always
  point at the line the operator sees in Excel.

SEE ALSO:
  - ledger/ledger.go:    ImportInbound / ImportInitial consume ImportRow
  - ledger/reconcile.go: Compare consumes ItemFact
*/
package importer

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/warp/stock-ledger/ledger"
)

// =============================================================================
// HEADER RESOLUTION
// =============================================================================

// columnAliases maps a logical field to the header spellings seen in the
// wild. Keys here are already normalized (lowercase, separators removed).
var columnAliases = map[string][]string{
	"warehouse": {"warehouse", "wh", "warehousecode", "warehousename"},
	"location":  {"location", "loc", "bin", "locationcode"},
	"brand":     {"brand", "maker", "manufacturer"},
	"item_code": {"itemcode", "code", "sku", "item", "itemno", "productcode", "partno"},
	"item_name": {"itemname", "name", "product", "productname"},
	"lot":       {"lot", "lotno", "batch", "batchno"},
	"spec":      {"spec", "specification", "size", "option"},
	"qty":       {"qty", "quantity", "onhand", "stock", "stockqty", "amount"},
	"note":      {"note", "memo", "remark", "remarks", "comment"},
}

// normalizeHeader strips the variation operators introduce.
func normalizeHeader(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '_', '-', '.':
			return -1
		}
		return r
	}, s)
}

// resolveHeaders maps logical field -> column index for one header row.
func resolveHeaders(header []string) map[string]int {
	byAlias := map[string]string{}
	for field, aliases := range columnAliases {
		for _, a := range aliases {
			byAlias[a] = field
		}
	}

	cols := map[string]int{}
	for i, cell := range header {
		if field, ok := byAlias[normalizeHeader(cell)]; ok {
			if _, taken := cols[field]; !taken {
				cols[field] = i
			}
		}
	}
	return cols
}

func missingColumns(cols map[string]int, required ...string) []string {
	var missing []string
	for _, f := range required {
		if _, ok := cols[f]; !ok {
			missing = append(missing, f)
		}
	}
	sort.Strings(missing)
	return missing
}

func cell(row []string, cols map[string]int, field string) string {
	i, ok := cols[field]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

// firstSheetRows opens a workbook and returns the rows of its first sheet.
func firstSheetRows(r io.Reader) ([][]string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %q: %w", sheets[0], err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("sheet %q is empty", sheets[0])
	}
	return rows, nil
}

// =============================================================================
// STOCK WORKBOOKS (inbound / initial stock)
// =============================================================================

// ParseStockWorkbook parses an inbound or initial-stock workbook.
//
// Required columns: warehouse, location, item_code, qty.
// Optional: brand, item_name, lot, spec, note.
//
// Returns one ImportRow per data line in workbook order. Lines whose
// quantity cell does not parse are returned with a zero quantity and
// reported in the error list; blank lines are kept (zero quantity, no
// error) so row numbers stay aligned with what the operator sees.
func ParseStockWorkbook(r io.Reader) ([]ledger.ImportRow, []ledger.RowError, error) {
	rows, err := firstSheetRows(r)
	if err != nil {
		return nil, nil, err
	}

	cols := resolveHeaders(rows[0])
	if missing := missingColumns(cols, "warehouse", "location", "item_code", "qty"); len(missing) > 0 {
		return nil, nil, fmt.Errorf("workbook is missing required columns: %s", strings.Join(missing, ", "))
	}

	var (
		out     []ledger.ImportRow
		rowErrs []ledger.RowError
	)
	for i, row := range rows[1:] {
		rownum := i + 2

		imp := ledger.ImportRow{
			Warehouse: cell(row, cols, "warehouse"),
			Location:  cell(row, cols, "location"),
			Brand:     cell(row, cols, "brand"),
			ItemCode:  cell(row, cols, "item_code"),
			ItemName:  cell(row, cols, "item_name"),
			Lot:       cell(row, cols, "lot"),
			Spec:      cell(row, cols, "spec"),
			Note:      cell(row, cols, "note"),
		}
		if qtyStr := cell(row, cols, "qty"); qtyStr != "" {
			qty, err := ledger.ParseQuantity(qtyStr)
			if err != nil {
				rowErrs = append(rowErrs, ledger.RowError{
					Row:    rownum,
					Reason: fmt.Sprintf("unreadable quantity %q", qtyStr),
				})
			} else {
				imp.Qty = qty
			}
		}
		out = append(out, imp)
	}
	return out, rowErrs, nil
}

// =============================================================================
// ERP EXTRACT
// =============================================================================

// ParseERPExtract parses the external stock extract for reconciliation.
//
// Required columns: item_code, qty. Optional: lot, spec. Lines without
// an item code or with an unreadable quantity are skipped: the extract
// is machine-produced and such lines are subtotals and footers, not
// stock facts. Zero-quantity lines are skipped too - absence is the
// zero state on both sides of the comparison.
func ParseERPExtract(r io.Reader) ([]ledger.ItemFact, error) {
	rows, err := firstSheetRows(r)
	if err != nil {
		return nil, err
	}

	cols := resolveHeaders(rows[0])
	if missing := missingColumns(cols, "item_code", "qty"); len(missing) > 0 {
		return nil, fmt.Errorf("extract is missing required columns: %s", strings.Join(missing, ", "))
	}

	var facts []ledger.ItemFact
	for _, row := range rows[1:] {
		code := cell(row, cols, "item_code")
		if code == "" {
			continue
		}
		qty, err := ledger.ParseQuantity(cell(row, cols, "qty"))
		if err != nil || qty.IsZero() {
			continue
		}
		facts = append(facts, ledger.ItemFact{
			ItemCode: code,
			Lot:      cell(row, cols, "lot"),
			Spec:     cell(row, cols, "spec"),
			Qty:      qty,
		})
	}
	return facts, nil
}
