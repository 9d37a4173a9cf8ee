/*
reconcile.go - Four-granularity comparison of external vs internal stock

PURPOSE:
  Compares an external (ERP) stock extract against the warehouse's own
  on-hand totals and reports, per item key, whether the two systems
  agree. The two systems rarely track items at the same level of
  detail - one side may carry lot numbers, the other specs, or neither -
  so every fact is indexed at four granularities simultaneously and the
  comparison runs at the finest level where the two sides actually meet.

GRANULARITIES (finest first):
  L3      (item_code, lot, spec)
  L2_LOT  (item_code, lot)
  L2_SPEC (item_code, spec)
  L1      (item_code)

SELECTION RULE:
  Per item_code, pick the finest granularity at which the two sides
  share at least one key. Requiring a shared key (not merely "facts on
  both sides") is what keeps a lot-level agreement from being reported
  as two spec-level misses when the specs happen to differ. If no
  granularity intersects, fall back to L1, where totals still tell the
  operator which side is short.

INVARIANTS:
  - Compare is pure: no storage access, no clock, deterministic output
    order (item_code, then lot, then spec).
  - Classification uses unrounded sums; only the report quantities are
    rounded to 3 decimals.

SEE ALSO:
  - store.go: ItemFacts, the internal side of the comparison
  - importer/: parses the external extract into []ItemFact
*/
package ledger

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// =======================
// === Types & Results ===
// =======================

// ItemFact is one warehouse-agnostic quantity fact: either a summed
// internal on-hand total or one row of the external extract.
type ItemFact struct {
	ItemCode string
	Lot      string
	Spec     string
	Qty      decimal.Decimal
}

// Granularity names the level of detail a comparison ran at.
type Granularity string

const (
	GranL3     Granularity = "L3"
	GranL2Lot  Granularity = "L2_LOT"
	GranL2Spec Granularity = "L2_SPEC"
	GranL1     Granularity = "L1"
)

// ReconStatus classifies one compared key.
type ReconStatus string

const (
	ReconMatch       ReconStatus = "match"
	ReconDiscrepancy ReconStatus = "discrepancy"
	ReconMissingWMS  ReconStatus = "missing_in_wms"
	ReconMissingERP  ReconStatus = "missing_in_erp"
)

// ReconRow is one compared key in the report.
type ReconRow struct {
	ItemCode    string          `json:"item_code"`
	Lot         string          `json:"lot,omitempty"`
	Spec        string          `json:"spec,omitempty"`
	Granularity Granularity     `json:"granularity"`
	ExternalQty decimal.Decimal `json:"external_qty"`
	InternalQty decimal.Decimal `json:"internal_qty"`
	Diff        decimal.Decimal `json:"diff"`
	Status      ReconStatus     `json:"status"`
	Note        string          `json:"note,omitempty"`
}

// ReconSummary tallies the report.
type ReconSummary struct {
	Matches       int `json:"matches"`
	Discrepancies int `json:"discrepancies"`
	MissingInWMS  int `json:"missing_in_wms"`
	MissingInERP  int `json:"missing_in_erp"`
	Rollups       int `json:"rollups"`
}

// ReconciliationReport is the full comparison result.
type ReconciliationReport struct {
	Summary ReconSummary `json:"summary"`
	Rows    []ReconRow   `json:"rows"`
}

// Two quantities closer than this are the same quantity.
var reconEpsilon = decimal.New(1, -9)

// ======================
// === Fact indexing ====
// ======================

type factKey struct {
	lot, spec string
}

// sideIndex holds one side's facts for a single item_code, summed at
// every granularity.
type sideIndex struct {
	byGran map[Granularity]map[factKey]decimal.Decimal
	// finer is true when any fact carried a non-empty lot or spec,
	// i.e., detail exists that an L1 comparison would flatten.
	finer bool
}

func newSideIndex() *sideIndex {
	return &sideIndex{byGran: map[Granularity]map[factKey]decimal.Decimal{
		GranL3:     {},
		GranL2Lot:  {},
		GranL2Spec: {},
		GranL1:     {},
	}}
}

func (si *sideIndex) add(f ItemFact) {
	lot, spec := norm(f.Lot), norm(f.Spec)
	if lot != "" || spec != "" {
		si.finer = true
	}
	bump := func(g Granularity, k factKey) {
		si.byGran[g][k] = si.byGran[g][k].Add(f.Qty)
	}
	bump(GranL3, factKey{lot: lot, spec: spec})
	bump(GranL2Lot, factKey{lot: lot})
	bump(GranL2Spec, factKey{spec: spec})
	bump(GranL1, factKey{})
}

// granOrder is the selection priority, finest first.
var granOrder = []Granularity{GranL3, GranL2Lot, GranL2Spec, GranL1}

// qualifies reports whether a shared key actually carries information at
// granularity g. An empty lot shared by both sides is not a lot-level
// agreement, it is the absence of lot tracking.
func qualifies(g Granularity, k factKey) bool {
	switch g {
	case GranL3:
		return k.lot != "" || k.spec != ""
	case GranL2Lot:
		return k.lot != ""
	case GranL2Spec:
		return k.spec != ""
	}
	return true
}

// chooseGranularity returns the finest granularity at which ext and
// int share at least one qualifying key, or L1 when none intersects.
func chooseGranularity(ext, internal *sideIndex) Granularity {
	for _, g := range granOrder {
		im := internal.byGran[g]
		for k := range ext.byGran[g] {
			if !qualifies(g, k) {
				continue
			}
			if _, ok := im[k]; ok {
				return g
			}
		}
	}
	return GranL1
}

// ===================
// === Comparison ====
// ===================

// Compare reconciles an external extract against internal facts.
func Compare(external, internal []ItemFact) *ReconciliationReport {
	extByCode := map[string]*sideIndex{}
	intByCode := map[string]*sideIndex{}
	index := func(dst map[string]*sideIndex, facts []ItemFact) {
		for _, f := range facts {
			code := norm(f.ItemCode)
			if code == "" {
				continue
			}
			si := dst[code]
			if si == nil {
				si = newSideIndex()
				dst[code] = si
			}
			si.add(f)
		}
	}
	index(extByCode, external)
	index(intByCode, internal)

	codes := make([]string, 0, len(extByCode)+len(intByCode))
	seen := map[string]bool{}
	for code := range extByCode {
		seen[code] = true
		codes = append(codes, code)
	}
	for code := range intByCode {
		if !seen[code] {
			codes = append(codes, code)
		}
	}
	sort.Strings(codes)

	report := &ReconciliationReport{Rows: []ReconRow{}}
	for _, code := range codes {
		ext := extByCode[code]
		if ext == nil {
			ext = newSideIndex()
		}
		internal := intByCode[code]
		if internal == nil {
			internal = newSideIndex()
		}
		gran := chooseGranularity(ext, internal)
		rolledUp := gran == GranL1 && (ext.finer || internal.finer)
		if rolledUp {
			report.Summary.Rollups++
		}
		compareAt(report, code, gran, rolledUp, ext.byGran[gran], internal.byGran[gran])
	}
	return report
}

// compareAt enumerates the union of keys at one granularity and
// classifies each.
func compareAt(report *ReconciliationReport, code string, gran Granularity, rolledUp bool, ext, internal map[factKey]decimal.Decimal) {
	keys := make([]factKey, 0, len(ext)+len(internal))
	seen := map[factKey]bool{}
	for k := range ext {
		seen[k] = true
		keys = append(keys, k)
	}
	for k := range internal {
		if !seen[k] {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].lot != keys[j].lot {
			return keys[i].lot < keys[j].lot
		}
		return keys[i].spec < keys[j].spec
	})

	for _, k := range keys {
		extQty, intQty := ext[k], internal[k]
		diff := extQty.Sub(intQty)

		var status ReconStatus
		switch {
		case extQty.IsPositive() && intQty.IsPositive() && diff.Abs().Cmp(reconEpsilon) < 0:
			status = ReconMatch
			report.Summary.Matches++
		case extQty.IsPositive() && intQty.IsPositive():
			status = ReconDiscrepancy
			report.Summary.Discrepancies++
		case extQty.IsPositive():
			status = ReconMissingWMS
			report.Summary.MissingInWMS++
		default:
			status = ReconMissingERP
			report.Summary.MissingInERP++
		}

		row := ReconRow{
			ItemCode:    code,
			Granularity: gran,
			ExternalQty: Round3(extQty),
			InternalQty: Round3(intQty),
			Diff:        Round3(diff),
			Status:      status,
		}
		switch gran {
		case GranL3:
			row.Lot, row.Spec = k.lot, k.spec
		case GranL2Lot:
			row.Lot = k.lot
		case GranL2Spec:
			row.Spec = k.spec
		}
		if rolledUp {
			row.Note = "compared at item level; finer lot/spec detail existed on at least one side"
		}
		report.Rows = append(report.Rows, row)
	}
}

// Reconcile compares an external extract against current on-hand stock.
func (l *StockLedger) Reconcile(ctx context.Context, external []ItemFact) (*ReconciliationReport, error) {
	internal, err := l.store.ItemFacts(ctx)
	if err != nil {
		return nil, fmt.Errorf("load internal stock facts: %w", err)
	}
	return Compare(external, internal), nil
}
