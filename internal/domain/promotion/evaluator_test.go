package promotion

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/promo-engine/internal/domain/cart"
)

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return d
}

func testEnv(t *testing.T) Env {
	t.Helper()
	return Env{
		Cart: &cart.Cart{
			Items: []*cart.LineItem{
				{
					Fingerprint: "fp1",
					Name:        "Green Tea",
					Quantity:    2,
					UnitPrice:   dec(t, "4.50"),
					Total:       dec(t, "9.00"),
					Categories:  []string{"drinks", "tea"},
					Tags:        []string{"organic"},
					Variant:     "loose leaf",
				},
			},
			Customer:       cart.Customer{Type: "wholesale", ShipToCountry: "DE"},
			ShippingAmount: dec(t, "7.95"),
		},
	}
}

func TestEvaluator_Match_OrderProperties(t *testing.T) {
	var eval Evaluator
	env := testEnv(t)

	tests := []struct {
		name string
		cond Condition
		want bool
	}{
		{
			name: "subtotal greater than",
			cond: Condition{Property: PropSubtotal, Operator: OpGreaterThan, Value: "5"},
			want: true,
		},
		{
			name: "subtotal greater or equal boundary",
			cond: Condition{Property: PropSubtotal, Operator: OpGreaterOrEqual, Value: "9.00"},
			want: true,
		},
		{
			name: "subtotal less than fails",
			cond: Condition{Property: PropSubtotal, Operator: OpLessThan, Value: "9"},
			want: false,
		},
		{
			name: "subtotal numeric equals",
			cond: Condition{Property: PropSubtotal, Operator: OpEquals, Value: "9.00"},
			want: true,
		},
		{
			name: "comma decimal separator in condition value",
			cond: Condition{Property: PropSubtotal, Operator: OpGreaterThan, Value: "8,5"},
			want: true,
		},
		{
			name: "grouped thousands in condition value",
			cond: Condition{Property: PropSubtotal, Operator: OpLessThan, Value: "1 000"},
			want: true,
		},
		{
			name: "shipping amount less or equal",
			cond: Condition{Property: PropShipping, Operator: OpLessOrEqual, Value: "7.95"},
			want: true,
		},
		{
			name: "total quantity greater or equal",
			cond: Condition{Property: PropTotalQuantity, Operator: OpGreaterOrEqual, Value: "2"},
			want: true,
		},
		{
			name: "customer type equals ignores case",
			cond: Condition{Property: PropCustomerType, Operator: OpEquals, Value: "WHOLESALE"},
			want: true,
		},
		{
			name: "ship country not equals",
			cond: Condition{Property: PropShipCountry, Operator: OpNotEquals, Value: "US"},
			want: true,
		},
		{
			name: "uncoercible numeric side never matches",
			cond: Condition{Property: PropSubtotal, Operator: OpGreaterThan, Value: "lots"},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, eval.Match(tt.cond, env))
		})
	}
}

func TestEvaluator_Match_ItemProperties(t *testing.T) {
	var eval Evaluator
	env := testEnv(t)
	env.Item = env.Cart.Items[0]

	tests := []struct {
		name string
		cond Condition
		want bool
	}{
		{
			name: "name begins with ignores case",
			cond: Condition{Property: PropItemName, Operator: OpBeginsWith, Value: "green"},
			want: true,
		},
		{
			name: "name ends with ignores case",
			cond: Condition{Property: PropItemName, Operator: OpEndsWith, Value: "TEA"},
			want: true,
		},
		{
			name: "category matches any element",
			cond: Condition{Property: PropItemCategory, Operator: OpEquals, Value: "tea"},
			want: true,
		},
		{
			name: "category contains on any element",
			cond: Condition{Property: PropItemCategory, Operator: OpContains, Value: "drink"},
			want: true,
		},
		{
			name: "category not contains requires all elements to miss",
			cond: Condition{Property: PropItemCategory, Operator: OpNotContains, Value: "coffee"},
			want: true,
		},
		{
			name: "category not contains fails when one element hits",
			cond: Condition{Property: PropItemCategory, Operator: OpNotContains, Value: "tea"},
			want: false,
		},
		{
			name: "tag list equals",
			cond: Condition{Property: PropItemTag, Operator: OpEquals, Value: "Organic"},
			want: true,
		},
		{
			name: "variant contains",
			cond: Condition{Property: PropItemVariant, Operator: OpContains, Value: "leaf"},
			want: true,
		},
		{
			name: "unit price greater than",
			cond: Condition{Property: PropItemUnitPrice, Operator: OpGreaterThan, Value: "4"},
			want: true,
		},
		{
			name: "quantity numeric equals",
			cond: Condition{Property: PropItemQuantity, Operator: OpEquals, Value: "2"},
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, eval.Match(tt.cond, env))
		})
	}
}

func TestEvaluator_Match_ItemPropertyWithoutItem(t *testing.T) {
	var eval Evaluator
	env := testEnv(t)

	cond := Condition{Property: PropItemName, Operator: OpEquals, Value: "Green Tea"}
	assert.False(t, eval.Match(cond, env))
}

func TestEvaluator_Match_ZeroValuesNeverEqual(t *testing.T) {
	var eval Evaluator
	env := testEnv(t)
	env.Item = env.Cart.Items[0]

	// The item has no accumulated discount, so both sides are zero. A float
	// comparison between two zero values must not be considered equal.
	cond := Condition{Property: PropItemDiscount, Operator: OpEquals, Value: "0"}
	assert.False(t, eval.Match(cond, env))

	cond.Operator = OpNotEquals
	assert.True(t, eval.Match(cond, env))
}

func TestEvaluator_Match_PromoCode(t *testing.T) {
	var eval Evaluator

	tests := []struct {
		name string
		env  Env
		cond Condition
		want bool
	}{
		{
			name: "matches applied code ignoring case",
			env:  Env{AppliedCodes: []string{"save10"}},
			cond: Condition{Property: PropPromoCode, Operator: OpEquals, Value: "SAVE10"},
			want: true,
		},
		{
			name: "matches in-flight code request",
			env:  Env{CodeRequest: "fresh20"},
			cond: Condition{Property: PropPromoCode, Operator: OpEquals, Value: "FRESH20"},
			want: true,
		},
		{
			name: "no codes in effect",
			env:  Env{},
			cond: Condition{Property: PropPromoCode, Operator: OpEquals, Value: "SAVE10"},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, eval.Match(tt.cond, tt.env))
		})
	}
}

func TestEvaluator_Match_MalformedCondition(t *testing.T) {
	var eval Evaluator
	env := testEnv(t)

	assert.False(t, eval.Match(Condition{Operator: OpEquals, Value: "x"}, env))
	assert.False(t, eval.Match(Condition{Property: PropSubtotal, Value: "x"}, env))
	assert.False(t, eval.Match(Condition{Property: PropSubtotal, Operator: "between", Value: "1"}, env))
}

func TestEvaluator_Match_UnknownProperty(t *testing.T) {
	env := testEnv(t)
	cond := Condition{Property: "loyalty_tier", Operator: OpEquals, Value: "gold"}

	var plain Evaluator
	assert.False(t, plain.Match(cond, env))

	hooked := Evaluator{
		Extension: func(prop Property, _ Env) (any, bool) {
			if prop == "loyalty_tier" {
				return "gold", true
			}
			return nil, false
		},
	}
	assert.True(t, hooked.Match(cond, env))
}
