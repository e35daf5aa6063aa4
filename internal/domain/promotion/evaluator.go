package promotion

import (
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/xenking/promo-engine/internal/domain/cart"
)

// Property is a key into the fixed vocabulary of condition subjects.
type Property string

// Order and customer scoped properties.
const (
	PropSubtotal      Property = "subtotal_amount"
	PropShipping      Property = "shipping_amount"
	PropTotalQuantity Property = "total_quantity"
	PropPromoUseCount Property = "promo_use_count"
	PropCustomerType  Property = "customer_type"
	PropShipCountry   Property = "ship_to_country"
	PropPromoCode     Property = "promo_code"
)

// Line-item scoped properties. These require an item in the evaluation
// environment and never match without one.
const (
	PropItemName      Property = "item_name"
	PropItemQuantity  Property = "item_quantity"
	PropItemUnitPrice Property = "item_unit_price"
	PropItemTotal     Property = "item_total"
	PropItemCategory  Property = "item_category"
	PropItemTag       Property = "item_tag"
	PropItemVariant   Property = "item_variant"
	PropItemDiscount  Property = "item_discount"
)

// Operator is a comparison operator applied between subject and condition value.
type Operator string

const (
	OpEquals         Operator = "equals"
	OpNotEquals      Operator = "not_equals"
	OpContains       Operator = "contains"
	OpNotContains    Operator = "not_contains"
	OpBeginsWith     Operator = "begins_with"
	OpEndsWith       Operator = "ends_with"
	OpGreaterThan    Operator = "greater_than"
	OpGreaterOrEqual Operator = "greater_or_equal"
	OpLessThan       Operator = "less_than"
	OpLessOrEqual    Operator = "less_or_equal"
)

// numericProps lists properties whose equals/not-equals comparisons are
// performed as floats rather than strings.
var numericProps = map[Property]bool{
	PropSubtotal:      true,
	PropShipping:      true,
	PropTotalQuantity: true,
	PropPromoUseCount: true,
	PropItemQuantity:  true,
	PropItemUnitPrice: true,
	PropItemTotal:     true,
	PropItemDiscount:  true,
}

// Env is the evaluation environment for one condition: the order context,
// the optional line item under test, and the promo-code state of the pass.
type Env struct {
	Cart *cart.Cart
	Item *cart.LineItem
	// UseCount is the originating promotion's lifetime usage counter.
	UseCount int
	// AppliedCodes holds the promo codes already locked in by applied
	// discounts, lowercased.
	AppliedCodes []string
	// CodeRequest is the shopper's in-flight code submission, if any.
	CodeRequest string
}

// ExtensionFunc resolves subjects for property names outside the built-in
// vocabulary. It returns the subject value and true when it handled the
// property.
type ExtensionFunc func(prop Property, env Env) (any, bool)

// Evaluator matches single conditions against an evaluation environment.
// The zero value is ready to use; Extension is optional.
type Evaluator struct {
	Extension ExtensionFunc
}

// Match evaluates one condition against env. Malformed conditions (missing
// property or operator) and unresolvable subjects evaluate to false rather
// than erroring: an unmatchable condition simply never applies.
func (e *Evaluator) Match(cond Condition, env Env) bool {
	if cond.Property == "" || cond.Operator == "" {
		return false
	}

	subject, ok := e.resolve(cond.Property, env)
	if !ok {
		return false
	}

	switch cond.Operator {
	case OpGreaterThan, OpGreaterOrEqual, OpLessThan, OpLessOrEqual:
		return matchNumeric(cond.Operator, subject, cond.Value)
	case OpEquals, OpNotEquals:
		if numericProps[cond.Property] {
			return matchNumericEquality(cond.Operator, subject, cond.Value)
		}
		return matchString(cond.Operator, subject, cond.Value)
	case OpContains, OpNotContains, OpBeginsWith, OpEndsWith:
		return matchString(cond.Operator, subject, cond.Value)
	default:
		return false
	}
}

// resolve maps a property name to its subject value in env. Item properties
// without an item and unknown properties unhandled by the extension hook
// resolve to not-ok.
func (e *Evaluator) resolve(prop Property, env Env) (any, bool) {
	switch prop {
	case PropSubtotal, PropShipping, PropTotalQuantity, PropCustomerType, PropShipCountry:
		if env.Cart == nil {
			return nil, false
		}
	}

	switch prop {
	case PropSubtotal:
		return env.Cart.Subtotal(), true
	case PropShipping:
		return env.Cart.ShippingAmount, true
	case PropTotalQuantity:
		return env.Cart.TotalQuantity(), true
	case PropPromoUseCount:
		return env.UseCount, true
	case PropCustomerType:
		return env.Cart.Customer.Type, true
	case PropShipCountry:
		return env.Cart.Customer.ShipToCountry, true
	case PropPromoCode:
		codes := env.AppliedCodes
		if env.CodeRequest != "" {
			codes = append(codes[:len(codes):len(codes)], env.CodeRequest)
		}
		return codes, true
	case PropItemName, PropItemQuantity, PropItemUnitPrice, PropItemTotal,
		PropItemCategory, PropItemTag, PropItemVariant, PropItemDiscount:
		if env.Item == nil {
			return nil, false
		}
		return resolveItem(prop, env.Item)
	default:
		if e.Extension != nil {
			return e.Extension(prop, env)
		}
		return nil, false
	}
}

func resolveItem(prop Property, item *cart.LineItem) (any, bool) {
	switch prop {
	case PropItemName:
		return item.Name, true
	case PropItemQuantity:
		return item.Quantity, true
	case PropItemUnitPrice:
		return item.UnitPrice, true
	case PropItemTotal:
		return item.Total, true
	case PropItemCategory:
		return item.Categories, true
	case PropItemTag:
		return item.Tags, true
	case PropItemVariant:
		return item.Variant, true
	case PropItemDiscount:
		return item.Discount, true
	default:
		return nil, false
	}
}

// matchNumeric handles the ordering operators. Both sides are coerced to
// float; an uncoercible side never matches.
func matchNumeric(op Operator, subject any, value string) bool {
	sv, ok := toFloat(subject)
	if !ok {
		return false
	}
	cv, ok := parseNumber(value)
	if !ok {
		return false
	}

	switch op {
	case OpGreaterThan:
		return sv > cv
	case OpGreaterOrEqual:
		return sv >= cv
	case OpLessThan:
		return sv < cv
	case OpLessOrEqual:
		return sv <= cv
	}
	return false
}

// matchNumericEquality compares both sides as floats. Two zero values are
// never considered equal: an absent price must not satisfy an "equals 0"
// condition.
func matchNumericEquality(op Operator, subject any, value string) bool {
	sv, ok := toFloat(subject)
	if !ok {
		return false
	}
	cv, ok := parseNumber(value)
	if !ok {
		return false
	}

	equal := sv == cv && !(sv == 0 && cv == 0)
	if op == OpNotEquals {
		return !equal
	}
	return equal
}

// matchString handles the case-insensitive string operators. Collection
// subjects match when any element satisfies the test.
func matchString(op Operator, subject any, value string) bool {
	if list, ok := subject.([]string); ok {
		if op == OpNotEquals || op == OpNotContains {
			for _, s := range list {
				if !matchString(op, s, value) {
					return false
				}
			}
			return true
		}
		for _, s := range list {
			if matchString(op, s, value) {
				return true
			}
		}
		return false
	}

	sv := strings.ToLower(toString(subject))
	cv := strings.ToLower(value)

	switch op {
	case OpEquals:
		return sv == cv
	case OpNotEquals:
		return sv != cv
	case OpContains:
		return strings.Contains(sv, cv)
	case OpNotContains:
		return !strings.Contains(sv, cv)
	case OpBeginsWith:
		return strings.HasPrefix(sv, cv)
	case OpEndsWith:
		return strings.HasSuffix(sv, cv)
	}
	return false
}

func toFloat(subject any) (float64, bool) {
	switch v := subject.(type) {
	case decimal.Decimal:
		return v.InexactFloat64(), true
	case float64:
		return v, true
	case int:
		return float64(v), true
	case string:
		return parseNumber(v)
	default:
		return 0, false
	}
}

func toString(subject any) string {
	switch v := subject.(type) {
	case string:
		return v
	case decimal.Decimal:
		return v.String()
	case int:
		return strconv.Itoa(v)
	case bool:
		return strconv.FormatBool(v)
	default:
		return ""
	}
}

// parseNumber parses a number tolerantly of locale formatting: surrounding
// whitespace, non-breaking spaces and apostrophes as grouping, and a comma
// decimal separator when no dot is present.
func parseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}

	s = strings.NewReplacer(" ", "", "'", "", " ", "").Replace(s)
	if strings.Contains(s, ",") {
		if strings.Contains(s, ".") {
			// Dot is the decimal separator, commas are grouping.
			s = strings.ReplaceAll(s, ",", "")
		} else if strings.Count(s, ",") == 1 {
			s = strings.ReplaceAll(s, ",", ".")
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}
