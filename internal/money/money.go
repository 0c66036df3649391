// Package money computes invoice totals in integer minor currency units.
// All arithmetic is exact: quantities and unit prices are integers and the
// tax percentage goes through decimal arithmetic with round-half-up, so no
// float ever touches a stored amount.
package money

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/sellaro/billing/internal/models"
)

var ErrNegativeTaxPercent = errors.New("negative_tax_percent")

// Violation codes reported by ValidateLineItems.
const (
	ViolationEmptyList         = "line_items_required"
	ViolationBlankDescription  = "description_required"
	ViolationQuantityBelowOne  = "quantity_below_one"
	ViolationNegativeUnitPrice = "unit_price_negative"
)

// InvalidLineItemsError lists every offending line item index, so the caller
// can present a complete correction list instead of fixing one field at a
// time. Index -1 carries list-level violations.
type InvalidLineItemsError struct {
	Violations map[int][]string
}

func (e *InvalidLineItemsError) Error() string {
	idxs := make([]int, 0, len(e.Violations))
	for i := range e.Violations {
		idxs = append(idxs, i)
	}
	sort.Ints(idxs)
	parts := make([]string, 0, len(idxs))
	for _, i := range idxs {
		parts = append(parts, fmt.Sprintf("%d:%s", i, strings.Join(e.Violations[i], ",")))
	}
	return "invalid_line_items " + strings.Join(parts, " ")
}

// Totals is the result of ComputeTotals. Total == Subtotal + TaxAmount always.
type Totals struct {
	Subtotal  int64
	TaxAmount int64
	Total     int64
	Items     []models.LineItem
}

// ValidateLineItems checks the whole set and collects all violations rather
// than failing fast.
func ValidateLineItems(items []models.LineItem) error {
	violations := map[int][]string{}
	if len(items) == 0 {
		violations[-1] = []string{ViolationEmptyList}
	}
	for i, it := range items {
		if strings.TrimSpace(it.Description) == "" {
			violations[i] = append(violations[i], ViolationBlankDescription)
		}
		if it.Quantity < 1 {
			violations[i] = append(violations[i], ViolationQuantityBelowOne)
		}
		if it.UnitPrice < 0 {
			violations[i] = append(violations[i], ViolationNegativeUnitPrice)
		}
	}
	if len(violations) > 0 {
		return &InvalidLineItemsError{Violations: violations}
	}
	return nil
}

// ComputeTotals validates the line items, normalizes each item's amount to
// quantity * unit price, and computes subtotal, tax and total. The tax is
// round-half-up of subtotal * taxPercent / 100. Pure and deterministic.
func ComputeTotals(items []models.LineItem, taxPercent decimal.Decimal) (Totals, error) {
	if err := ValidateLineItems(items); err != nil {
		return Totals{}, err
	}
	if taxPercent.IsNegative() {
		return Totals{}, ErrNegativeTaxPercent
	}

	normalized := make([]models.LineItem, len(items))
	var subtotal int64
	for i, it := range items {
		it.Amount = it.Quantity * it.UnitPrice
		normalized[i] = it
		subtotal += it.Amount
	}

	// decimal.Round rounds half away from zero, which for non-negative
	// amounts is exactly round-half-up.
	tax := decimal.NewFromInt(subtotal).
		Mul(taxPercent).
		Div(decimal.NewFromInt(100)).
		Round(0).
		IntPart()

	return Totals{
		Subtotal:  subtotal,
		TaxAmount: tax,
		Total:     subtotal + tax,
		Items:     normalized,
	}, nil
}

// PercentOf returns round-half-up of amount * percent / 100. Used for the
// application fee passed to the processor.
func PercentOf(amount int64, percent float64) int64 {
	if amount <= 0 || percent <= 0 {
		return 0
	}
	return decimal.NewFromInt(amount).
		Mul(decimal.NewFromFloat(percent)).
		Div(decimal.NewFromInt(100)).
		Round(0).
		IntPart()
}
