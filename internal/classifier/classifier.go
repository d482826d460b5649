package classifier

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Classification sources.
const (
	SourceAmountBased = "amount_based"
	SourceHintBased   = "hint_based"
)

// Known SKUs.
const (
	SKUCourse       = "course"
	SKUDatabase     = "database"
	SKUStrategyCall = "strategy_call"
)

// DeliveryFlags are the per-channel fulfillment switches for a purchase.
type DeliveryFlags struct {
	CourseAccess     bool `json:"course_access"`
	DatabaseDelivery bool `json:"database_delivery"`
	CallScheduling   bool `json:"call_scheduling"`
}

// Map flattens the flags for storage and downstream payloads.
func (f DeliveryFlags) Map() map[string]bool {
	return map[string]bool{
		"course_access":     f.CourseAccess,
		"database_delivery": f.DatabaseDelivery,
		"call_scheduling":   f.CallScheduling,
	}
}

func flagsForSKUs(skus []string) DeliveryFlags {
	var f DeliveryFlags
	for _, sku := range skus {
		switch sku {
		case SKUCourse:
			f.CourseAccess = true
		case SKUDatabase:
			f.DatabaseDelivery = true
		case SKUStrategyCall:
			f.CallScheduling = true
		}
	}
	return f
}

// Tier maps a minimum paid amount (major units) to a product bundle.
type Tier struct {
	MinAmount int64    `json:"min_amount"`
	SKUs      []string `json:"skus"`
}

// Catalog is the pricing table the classifier works from. Prices and tiers
// are business configuration, not invariants; deployments override them via
// CATALOG_JSON.
type Catalog struct {
	Prices    map[string]int64 `json:"prices"` // SKU -> canonical price, major units
	Tiers     []Tier           `json:"tiers"`  // evaluated highest threshold first
	Tolerance int64            `json:"tolerance"`
}

// Default returns the compiled-in catalog matching the documented price
// points: the base course at 1999 and bundles up to the full package at 11999.
func Default() *Catalog {
	c := &Catalog{
		Prices: map[string]int64{
			SKUCourse:       1999,
			SKUDatabase:     4999,
			SKUStrategyCall: 5000,
		},
		Tiers: []Tier{
			{MinAmount: 11999, SKUs: []string{SKUCourse, SKUDatabase, SKUStrategyCall}},
			{MinAmount: 6998, SKUs: []string{SKUCourse, SKUDatabase}},
			{MinAmount: 1999, SKUs: []string{SKUCourse}},
		},
		Tolerance: 1,
	}
	c.normalize()
	return c
}

// Load parses a catalog override. Tiers are re-sorted so callers do not have
// to supply them in evaluation order.
func Load(raw string) (*Catalog, error) {
	var c Catalog
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	if len(c.Prices) == 0 || len(c.Tiers) == 0 {
		return nil, fmt.Errorf("catalog must define prices and tiers")
	}
	for _, tier := range c.Tiers {
		if len(tier.SKUs) == 0 {
			return nil, fmt.Errorf("catalog tier with min_amount %d has no SKUs", tier.MinAmount)
		}
		for _, sku := range tier.SKUs {
			if _, ok := c.Prices[sku]; !ok {
				return nil, fmt.Errorf("catalog tier references unpriced SKU %q", sku)
			}
		}
	}
	if c.Tolerance < 0 {
		c.Tolerance = 0
	}
	c.normalize()
	return &c, nil
}

func (c *Catalog) normalize() {
	sort.SliceStable(c.Tiers, func(i, j int) bool {
		return c.Tiers[i].MinAmount > c.Tiers[j].MinAmount
	})
}

// Classification is the classifier's output: the entitled SKUs, the
// fulfillment flags, and how the decision was made. Never empty for a
// positive amount; a payment always grants at least the base bundle.
type Classification struct {
	SKUs           []string
	Flags          DeliveryFlags
	Source         string
	Amount         int64 // major units, the amount the decision was based on
	AmountMismatch bool  // hint present but rejected by reconciliation
	Unrecognized   bool  // amount below every tier threshold, fell back to base
}

// Classify resolves the paid amount (major units) and an optional products
// hint (a JSON array of SKU strings from the order notes) to a bundle.
//
// The hint wins only when its canonical price matches the paid amount within
// the catalog tolerance; otherwise the amount-based decision stands and the
// mismatch is flagged for audit. A malformed hint is treated as absent.
func (c *Catalog) Classify(amount int64, hint string) Classification {
	result := c.classifyByAmount(amount)

	hintSKUs, ok := c.parseHint(hint)
	if !ok {
		return result
	}

	total := int64(0)
	for _, sku := range hintSKUs {
		total += c.Prices[sku]
	}

	diff := total - amount
	if diff < 0 {
		diff = -diff
	}
	if diff <= c.Tolerance {
		return Classification{
			SKUs:   hintSKUs,
			Flags:  flagsForSKUs(hintSKUs),
			Source: SourceHintBased,
			Amount: amount,
		}
	}

	result.AmountMismatch = true
	return result
}

func (c *Catalog) classifyByAmount(amount int64) Classification {
	for _, tier := range c.Tiers {
		if amount >= tier.MinAmount {
			return Classification{
				SKUs:   append([]string(nil), tier.SKUs...),
				Flags:  flagsForSKUs(tier.SKUs),
				Source: SourceAmountBased,
				Amount: amount,
			}
		}
	}

	// Below every threshold: still a successful payment, so grant the
	// smallest bundle and flag it for review.
	base := c.Tiers[len(c.Tiers)-1]
	return Classification{
		SKUs:         append([]string(nil), base.SKUs...),
		Flags:        flagsForSKUs(base.SKUs),
		Source:       SourceAmountBased,
		Amount:       amount,
		Unrecognized: true,
	}
}

// parseHint decodes the products note. Anything that does not decode to a
// non-empty list of known SKUs counts as "no hint".
func (c *Catalog) parseHint(hint string) ([]string, bool) {
	hint = strings.TrimSpace(hint)
	if hint == "" {
		return nil, false
	}

	var skus []string
	if err := json.Unmarshal([]byte(hint), &skus); err != nil {
		return nil, false
	}
	if len(skus) == 0 {
		return nil, false
	}

	seen := make(map[string]bool, len(skus))
	cleaned := make([]string, 0, len(skus))
	for _, sku := range skus {
		sku = strings.ToLower(strings.TrimSpace(sku))
		if _, priced := c.Prices[sku]; !priced {
			return nil, false
		}
		if seen[sku] {
			continue
		}
		seen[sku] = true
		cleaned = append(cleaned, sku)
	}
	return cleaned, true
}
