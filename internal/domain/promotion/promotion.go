// Package promotion defines promotion rules and their evaluation against an
// order context. A Promotion is loaded from the store once per calculation
// pass and is immutable for the lifetime of that pass.
package promotion

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Target selects what a promotion's discount applies to.
type Target string

const (
	// TargetOrder applies the discount to the order total.
	TargetOrder Target = "order"
	// TargetItem applies the discount to individual line items.
	TargetItem Target = "item"
)

// Type enumerates the supported discount strategies.
type Type string

const (
	// TypeAmountOff subtracts a fixed monetary amount.
	TypeAmountOff Type = "amount_off"
	// TypePercentOff subtracts a percentage. For order-target promotions the
	// base is the subtotal net of all non-percentage discounts.
	TypePercentOff Type = "percent_off"
	// TypeFreeShipping waives the shipping charge via a flag, not an amount.
	TypeFreeShipping Type = "free_shipping"
	// TypeBuyXGetY grants free units proportional to purchased quantity.
	TypeBuyXGetY Type = "buy_x_get_y"
)

// SearchMode governs how a promotion's non-item conditions combine.
type SearchMode string

const (
	// MatchAny matches when at least one condition is satisfied.
	MatchAny SearchMode = "any"
	// MatchAll matches only when every condition is satisfied.
	MatchAll SearchMode = "all"
)

// GroupItem is the reserved rule-group name holding line-item-scoped
// conditions. All other groups hold order/customer-scoped conditions.
const GroupItem = "item"

// Condition is one property/operator/value triple of a promotion's rule set.
type Condition struct {
	Property Property
	Operator Operator
	Value    string
}

// ConditionGroup is a named, ordered list of conditions. Group order within a
// promotion is preserved from the store.
type ConditionGroup struct {
	Name       string
	Conditions []Condition
}

// Promotion is a stored rule set plus a discount type and magnitude.
type Promotion struct {
	ID          string
	Name        string
	Target      Target
	Type        Type
	Value       decimal.Decimal
	BuyQuantity int
	GetQuantity int
	SearchMode  SearchMode
	Groups      []ConditionGroup
	Uses        int
}

// Code returns the value of the first promo-code condition in the rule set,
// or "" when the promotion is not code-based.
func (p *Promotion) Code() string {
	for _, g := range p.Groups {
		if g.Name == GroupItem {
			continue
		}
		for _, c := range g.Conditions {
			if c.Property == PropPromoCode {
				return c.Value
			}
		}
	}
	return ""
}

// CodeBased reports whether the promotion requires a promo code to apply.
func (p *Promotion) CodeBased() bool {
	return p.Code() != ""
}

// ItemConditions returns the conditions of the reserved item group,
// or nil when the promotion has no item-scoped rules.
func (p *Promotion) ItemConditions() []Condition {
	for _, g := range p.Groups {
		if g.Name == GroupItem {
			return g.Conditions
		}
	}
	return nil
}

// OrderConditions returns all conditions outside the item group, in group order.
func (p *Promotion) OrderConditions() []Condition {
	var conds []Condition
	for _, g := range p.Groups {
		if g.Name == GroupItem {
			continue
		}
		conds = append(conds, g.Conditions...)
	}
	return conds
}

// Repository loads the currently active promotion definitions. LoadActive
// filters by enabled status and active date window, keeps only order and item
// targets, and orders results by target descending. The result is cached by
// the caller for the lifetime of one calculation pass.
//
// ResolveCode maps a bulk-minted promo code to the ID of the promotion it
// unlocks. Codes embedded directly in rule sets are not in the code store;
// for those, and for unknown codes, it returns "".
type Repository interface {
	LoadActive(ctx context.Context, now time.Time) ([]Promotion, error)
	ResolveCode(ctx context.Context, code string) (string, error)
	IncrementUses(ctx context.Context, id string) error
}
