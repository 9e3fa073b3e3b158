// Package pricing implements the bulk price adjustments offered on the
// pricing page.
package pricing

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"novapharm/m/domain"
)

type Type string

const (
	Fixed      Type = "fixed"
	Percentage Type = "percentage"
)

type Operation string

const (
	Increase Operation = "increase"
	Decrease Operation = "decrease"
	Set      Operation = "set"
)

// Adjustment describes one bulk price change.
type Adjustment struct {
	Amount    float64   `json:"amount" validate:"gte=0"`
	Type      Type      `json:"type" validate:"required,oneof=fixed percentage"`
	Operation Operation `json:"operation" validate:"required,oneof=increase decrease set"`
}

// Filter narrows the product list when no rows are explicitly selected.
type Filter struct {
	Search   string `json:"search,omitempty"`
	Category string `json:"category,omitempty"`
}

// BulkRequest is submitted by the pricing page.
type BulkRequest struct {
	Adjustment
	ProductIDs []string `json:"product_ids,omitempty"`
	Filter     Filter   `json:"filter"`
}

// Change is the computed new price of one product.
type Change struct {
	ProductID string  `json:"product_id"`
	OldPrice  float64 `json:"old_price"`
	NewPrice  float64 `json:"new_price"`
}

// BulkResult reports the prices written by a bulk update.
type BulkResult struct {
	Updated int      `json:"updated"`
	Changes []Change `json:"changes"`
}

var ErrNegativeAmount = errors.New("pricing: amount must be zero or greater")

// Validate checks the adjustment independently of any struct tags.
func (a Adjustment) Validate() error {
	if a.Amount < 0 || math.IsNaN(a.Amount) || math.IsInf(a.Amount, 0) {
		return ErrNegativeAmount
	}
	switch a.Type {
	case Fixed, Percentage:
	default:
		return fmt.Errorf("pricing: unknown type %q", a.Type)
	}
	switch a.Operation {
	case Increase, Decrease, Set:
	default:
		return fmt.Errorf("pricing: unknown operation %q", a.Operation)
	}
	return nil
}

// Apply returns the adjusted price rounded to two decimals. Decreases never
// go below zero.
func Apply(price float64, a Adjustment) float64 {
	next := price
	switch a.Operation {
	case Set:
		next = a.Amount
	case Increase:
		if a.Type == Fixed {
			next += a.Amount
		} else {
			next += price * a.Amount / 100
		}
	case Decrease:
		if a.Type == Fixed {
			next -= a.Amount
		} else {
			next -= price * a.Amount / 100
		}
		next = math.Max(0, next)
	}
	return round2(next)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Matches reports whether p passes f. Search is case-insensitive over name,
// scientific name and barcode; "" and "all" match every category.
func (f Filter) Matches(p domain.Product) bool {
	if f.Category != "" && f.Category != "all" && p.Category != f.Category {
		return false
	}
	term := strings.ToLower(strings.TrimSpace(f.Search))
	if term == "" {
		return true
	}
	return strings.Contains(strings.ToLower(p.Name), term) ||
		strings.Contains(strings.ToLower(p.ScientificName), term) ||
		strings.Contains(strings.ToLower(p.Barcode), term)
}

// Select picks the products a bulk update targets. Explicitly selected ids
// win; with no selection every product matching the filter is targeted.
func Select(products []domain.Product, selected []string, f Filter) []domain.Product {
	if len(selected) > 0 {
		want := make(map[string]struct{}, len(selected))
		for _, id := range selected {
			want[id] = struct{}{}
		}
		var out []domain.Product
		for _, p := range products {
			if _, ok := want[p.ID]; ok {
				out = append(out, p)
			}
		}
		return out
	}
	var out []domain.Product
	for _, p := range products {
		if f.Matches(p) {
			out = append(out, p)
		}
	}
	return out
}

// Plan computes the price change for every targeted product.
func Plan(products []domain.Product, req BulkRequest) ([]Change, error) {
	if err := req.Adjustment.Validate(); err != nil {
		return nil, err
	}
	targets := Select(products, req.ProductIDs, req.Filter)
	changes := make([]Change, 0, len(targets))
	for _, p := range targets {
		changes = append(changes, Change{
			ProductID: p.ID,
			OldPrice:  p.Price,
			NewPrice:  Apply(p.Price, req.Adjustment),
		})
	}
	return changes, nil
}
