package discount

import (
	"github.com/shopspring/decimal"

	"github.com/xenking/promo-engine/internal/domain/cart"
)

// WriteItemDiscounts replaces each line item's accumulated discount field
// with the sum of the per-item amounts the applied entries allocated to it,
// scaled by the units each allocation covers. The cart collaborator calls
// this after a calculation pass, before recomputing item and order totals
// and before tax recalculation.
func (s *Set) WriteItemDiscounts(c *cart.Cart) {
	for _, item := range c.Items {
		sum := decimal.Zero
		for _, e := range s.applied {
			if d, ok := e.Items[item.Fingerprint]; ok {
				sum = sum.Add(d.Amount.Mul(decimal.NewFromInt(int64(d.Quantity))))
			}
		}
		item.Discount = sum
	}
}
