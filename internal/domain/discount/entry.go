// Package discount turns matched promotions into realized discounts and
// orchestrates their stacking across calculation passes.
package discount

import (
	"github.com/shopspring/decimal"

	"github.com/xenking/promo-engine/internal/domain/cart"
	"github.com/xenking/promo-engine/internal/domain/promotion"
)

var hundred = decimal.NewFromInt(100)

// ItemDiscount records the unit-level discount an entry applied to one line
// item: the number of units it covers and the per-unit amount.
type ItemDiscount struct {
	Quantity int
	Amount   decimal.Decimal
}

// Entry is the realized effect of one applied promotion. It is created when
// the promotion first matches and recalculated on every totals recomputation.
type Entry struct {
	PromotionID string
	Name        string
	Type        promotion.Type
	Target      promotion.Target
	Code        string
	Value       decimal.Decimal
	BuyQuantity int
	GetQuantity int

	// FreeShipping is set for order-target free-shipping entries and is
	// propagated to the shipping-rate collaborator.
	FreeShipping bool
	// Amount is the realized order-level discount after the last Calculate.
	Amount decimal.Decimal
	// Items maps line-item fingerprints to the unit-level discounts this
	// entry applied. Populated only for item-target and buy-x-get-y entries.
	Items map[string]ItemDiscount
}

// NewEntry derives an Entry from a matched promotion.
func NewEntry(p *promotion.Promotion) *Entry {
	return &Entry{
		PromotionID: p.ID,
		Name:        p.Name,
		Type:        p.Type,
		Target:      p.Target,
		Code:        p.Code(),
		Value:       p.Value,
		BuyQuantity: p.BuyQuantity,
		GetQuantity: p.GetQuantity,
		Items:       make(map[string]ItemDiscount),
	}
}

// Deferred reports whether the entry must be calculated after all others.
// Order-level percentage discounts apply to the subtotal net of every other
// discount, so their base is only known once the immediate entries are summed.
func (e *Entry) Deferred() bool {
	return e.Target == promotion.TargetOrder && e.Type == promotion.TypePercentOff
}

// PerItem reports whether the entry allocates its discount to individual
// line items rather than to the order total directly.
func (e *Entry) PerItem() bool {
	return e.Target == promotion.TargetItem || e.Type == promotion.TypeBuyXGetY
}

// Calculate resolves the entry's realized order-level amount. For deferred
// entries prior must hold the sum of all discounts already realized this
// pass; other entry kinds ignore it.
func (e *Entry) Calculate(subtotal, prior decimal.Decimal) {
	switch {
	case e.PerItem():
		e.Amount = e.itemsTotal()
	case e.Type == promotion.TypeAmountOff:
		e.Amount = e.Value.Round(2)
	case e.Type == promotion.TypePercentOff:
		base := subtotal.Sub(prior)
		e.Amount = floorAtZero(base.Mul(e.Value).Div(hundred)).Round(2)
	case e.Type == promotion.TypeFreeShipping:
		// The flag does the work; no direct amount.
		e.FreeShipping = true
		e.Amount = decimal.Zero
	default:
		e.Amount = decimal.Zero
	}
}

// ApplyToItem computes and records the unit-level discount for one line item,
// returning the per-unit amount. Quantity scaling happens once, in the item's
// own total recomputation, so amount-off and percent-off operate on the unit
// price rather than the line total.
func (e *Entry) ApplyToItem(item *cart.LineItem) decimal.Decimal {
	var d ItemDiscount

	switch e.Type {
	case promotion.TypeAmountOff:
		d = ItemDiscount{
			Quantity: item.Quantity,
			Amount:   decimal.Min(e.Value, item.UnitPrice).Round(2),
		}
	case promotion.TypePercentOff:
		d = ItemDiscount{
			Quantity: item.Quantity,
			Amount:   floorAtZero(item.UnitPrice.Mul(e.Value).Div(hundred)).Round(2),
		}
	case promotion.TypeFreeShipping:
		item.FreeShipping = true
		d = ItemDiscount{Quantity: item.Quantity}
	case promotion.TypeBuyXGetY:
		bundle := e.BuyQuantity + e.GetQuantity
		if bundle <= 0 {
			return decimal.Zero
		}
		free := item.Quantity / bundle
		if free == 0 {
			// A refreshed allocation loses its record when the quantity no
			// longer fills a bundle.
			delete(e.Items, item.Fingerprint)
			return decimal.Zero
		}
		d = ItemDiscount{
			Quantity: free,
			Amount:   item.UnitPrice.Round(2),
		}
	default:
		return decimal.Zero
	}

	if e.Items == nil {
		e.Items = make(map[string]ItemDiscount)
	}
	e.Items[item.Fingerprint] = d
	return d.Amount
}

// itemsTotal sums the per-item discounts, each scaled by the number of units
// it covers.
func (e *Entry) itemsTotal() decimal.Decimal {
	sum := decimal.Zero
	for _, d := range e.Items {
		sum = sum.Add(d.Amount.Mul(decimal.NewFromInt(int64(d.Quantity))))
	}
	return sum
}

func floorAtZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
