package discount

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/promo-engine/internal/domain/cart"
	"github.com/xenking/promo-engine/internal/domain/promotion"
)

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return d
}

func assertAmount(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, dec(t, want).Equal(got), "want %s, got %s", want, got)
}

func TestEntry_Calculate_AmountOff(t *testing.T) {
	e := NewEntry(&promotion.Promotion{
		ID:     "p1",
		Target: promotion.TargetOrder,
		Type:   promotion.TypeAmountOff,
		Value:  dec(t, "10"),
	})

	// Fixed amounts ignore the prior discount total.
	e.Calculate(dec(t, "100"), dec(t, "55"))
	assertAmount(t, "10", e.Amount)
	assert.False(t, e.Deferred())
}

func TestEntry_Calculate_PercentOffOrder(t *testing.T) {
	e := NewEntry(&promotion.Promotion{
		ID:     "p1",
		Target: promotion.TargetOrder,
		Type:   promotion.TypePercentOff,
		Value:  dec(t, "20"),
	})
	require.True(t, e.Deferred())

	// The base is the subtotal net of discounts already realized this pass.
	e.Calculate(dec(t, "100"), dec(t, "10"))
	assertAmount(t, "18", e.Amount)

	// A prior total above the subtotal floors the amount at zero.
	e.Calculate(dec(t, "100"), dec(t, "150"))
	assertAmount(t, "0", e.Amount)
}

func TestEntry_Calculate_FreeShipping(t *testing.T) {
	e := NewEntry(&promotion.Promotion{
		ID:     "p1",
		Target: promotion.TargetOrder,
		Type:   promotion.TypeFreeShipping,
	})

	e.Calculate(dec(t, "100"), decimal.Zero)
	assert.True(t, e.FreeShipping)
	assertAmount(t, "0", e.Amount)
}

func TestEntry_ApplyToItem_BuyXGetY(t *testing.T) {
	e := NewEntry(&promotion.Promotion{
		ID:          "p1",
		Target:      promotion.TargetItem,
		Type:        promotion.TypeBuyXGetY,
		BuyQuantity: 1,
		GetQuantity: 1,
	})

	item := &cart.LineItem{
		Fingerprint: "fp1",
		Quantity:    5,
		UnitPrice:   dec(t, "4.50"),
	}

	// buy=1, get=1, qty=5: floor(5/2) = 2 free units at the unit price.
	unit := e.ApplyToItem(item)
	assertAmount(t, "4.50", unit)

	d, ok := e.Items["fp1"]
	require.True(t, ok)
	assert.Equal(t, 2, d.Quantity)
	assertAmount(t, "4.50", d.Amount)

	e.Calculate(dec(t, "100"), decimal.Zero)
	assertAmount(t, "9.00", e.Amount)
}

func TestEntry_ApplyToItem_BuyXGetY_BelowBundle(t *testing.T) {
	e := NewEntry(&promotion.Promotion{
		ID:          "p1",
		Target:      promotion.TargetItem,
		Type:        promotion.TypeBuyXGetY,
		BuyQuantity: 2,
		GetQuantity: 1,
	})

	item := &cart.LineItem{Fingerprint: "fp1", Quantity: 2, UnitPrice: dec(t, "5")}

	assertAmount(t, "0", e.ApplyToItem(item))
	assert.Empty(t, e.Items)
}

func TestEntry_ApplyToItem_PercentOff(t *testing.T) {
	e := NewEntry(&promotion.Promotion{
		ID:     "p1",
		Target: promotion.TargetItem,
		Type:   promotion.TypePercentOff,
		Value:  dec(t, "20"),
	})

	item := &cart.LineItem{
		Fingerprint: "fp1",
		Quantity:    3,
		UnitPrice:   dec(t, "24.00"),
	}

	// Percent-off operates on the unit price; quantity scaling happens once,
	// in the item total recomputation.
	unit := e.ApplyToItem(item)
	assertAmount(t, "4.80", unit)

	d := e.Items["fp1"]
	assert.Equal(t, 3, d.Quantity)

	e.Calculate(dec(t, "100"), decimal.Zero)
	assertAmount(t, "14.40", e.Amount)
}

func TestEntry_ApplyToItem_AmountOffCappedAtUnitPrice(t *testing.T) {
	e := NewEntry(&promotion.Promotion{
		ID:     "p1",
		Target: promotion.TargetItem,
		Type:   promotion.TypeAmountOff,
		Value:  dec(t, "30"),
	})

	item := &cart.LineItem{Fingerprint: "fp1", Quantity: 1, UnitPrice: dec(t, "24.00")}

	assertAmount(t, "24.00", e.ApplyToItem(item))
}

func TestEntry_ApplyToItem_FreeShipping(t *testing.T) {
	e := NewEntry(&promotion.Promotion{
		ID:     "p1",
		Target: promotion.TargetItem,
		Type:   promotion.TypeFreeShipping,
	})

	item := &cart.LineItem{Fingerprint: "fp1", Quantity: 1, UnitPrice: dec(t, "10")}

	assertAmount(t, "0", e.ApplyToItem(item))
	assert.True(t, item.FreeShipping)
}
