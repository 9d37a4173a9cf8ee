/*
resolver.go - Brand/name disambiguation for partial keys

PURPOSE:
  Outbound, move and damage forms let the operator omit the brand to
  speed up mobile data entry. That only works when the rest of the key
  pins down exactly one stock record; this resolver is the safety net.

RULES:
  brand supplied:  use it; fill item_name from the most recently updated
                   record for the full key, or "" if the item is new
  brand omitted:   look at all qty>0 records for the key ignoring brand
                     1 candidate  -> use its brand and item_name
                     0 candidates -> ("", "") - caller supplies data
                     2+ brands    -> AmbiguousBrandError with the choices

SEE ALSO:
  - ledger.go: Every brand-optional write path calls ResolveBrand
*/
package ledger

import (
	"context"
	"fmt"
	"sort"
)

// ResolveBrand disambiguates the brand and item name for key. The key's
// Brand field may be empty; the returned brand is "" only when no record
// matches at all.
func ResolveBrand(ctx context.Context, s Store, key StockKey) (brand, itemName string, err error) {
	key = key.Normalize()

	if key.Brand != "" {
		rec, err := s.GetRecord(ctx, key)
		if err != nil {
			return "", "", fmt.Errorf("resolve brand: %w", err)
		}
		if rec != nil {
			return rec.Key.Brand, rec.ItemName, nil
		}
		// New item for this brand; the caller provides the name.
		return key.Brand, "", nil
	}

	candidates, err := s.Candidates(ctx, key)
	if err != nil {
		return "", "", fmt.Errorf("resolve brand candidates: %w", err)
	}

	switch len(candidates) {
	case 0:
		return "", "", nil
	case 1:
		return candidates[0].Key.Brand, candidates[0].ItemName, nil
	}

	// Distinct brands only: several lots of the same brand are not
	// ambiguous at this key (key includes lot/spec, so in practice each
	// candidate differs by brand).
	seen := make(map[string]bool, len(candidates))
	brands := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if !seen[c.Key.Brand] {
			seen[c.Key.Brand] = true
			brands = append(brands, c.Key.Brand)
		}
	}
	if len(brands) == 1 {
		return candidates[0].Key.Brand, candidates[0].ItemName, nil
	}
	sort.Strings(brands)
	noBrand := key
	noBrand.Brand = ""
	return "", "", &AmbiguousBrandError{Key: noBrand, Brands: brands}
}
