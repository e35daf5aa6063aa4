// Package cart holds the read-only order context the discount engine
// evaluates against. Line items are owned by the cart collaborator; the
// engine only reads them and annotates discount results back through
// explicit setters.
package cart

import (
	"github.com/shopspring/decimal"
)

// ItemType tags a line item with its product class. Non-product rows
// (wrapping, handling fees) are skipped by item-level promotions.
type ItemType string

const (
	ItemTypeProduct  ItemType = "product"
	ItemTypeGiftWrap ItemType = "gift_wrap"
	ItemTypeFee      ItemType = "fee"
)

// Discountable reports whether item-level promotions may touch this item type.
func (t ItemType) Discountable() bool {
	return t == "" || t == ItemTypeProduct
}

// LineItem is one row of the cart. Fingerprint identifies the row across
// recomputation passes (same product + variant + options hash to the same
// fingerprint).
type LineItem struct {
	Fingerprint  string
	Type         ItemType
	Name         string
	Quantity     int
	UnitPrice    decimal.Decimal
	Total        decimal.Decimal
	Categories   []string
	Tags         []string
	Variant      string
	Discount     decimal.Decimal
	FreeShipping bool
}

// Customer carries the shopper attributes promotions can condition on.
type Customer struct {
	Type          string
	ShipToCountry string
}

// Cart is the order context for one calculation pass.
type Cart struct {
	Items          []*LineItem
	Customer       Customer
	ShippingAmount decimal.Decimal
	FreeShipping   bool
}

// Subtotal returns the sum of line totals across all items.
func (c *Cart) Subtotal() decimal.Decimal {
	sum := decimal.Zero
	for _, item := range c.Items {
		sum = sum.Add(item.Total)
	}
	return sum
}

// TotalQuantity returns the sum of quantities across all items.
func (c *Cart) TotalQuantity() int {
	total := 0
	for _, item := range c.Items {
		total += item.Quantity
	}
	return total
}
