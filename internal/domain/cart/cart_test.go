package cart

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestCart_Totals(t *testing.T) {
	c := &Cart{
		Items: []*LineItem{
			{Quantity: 2, Total: decimal.NewFromInt(9)},
			{Quantity: 1, Total: decimal.NewFromInt(24)},
			{Quantity: 3, Total: decimal.Zero},
		},
	}

	assert.True(t, decimal.NewFromInt(33).Equal(c.Subtotal()))
	assert.Equal(t, 6, c.TotalQuantity())
}

func TestItemType_Discountable(t *testing.T) {
	assert.True(t, ItemType("").Discountable())
	assert.True(t, ItemTypeProduct.Discountable())
	assert.False(t, ItemTypeGiftWrap.Discountable())
	assert.False(t, ItemTypeFee.Discountable())
}
