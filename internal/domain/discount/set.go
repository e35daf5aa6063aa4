package discount

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/promo-engine/internal/domain/cart"
	"github.com/xenking/promo-engine/internal/domain/promotion"
)

// ErrNotApplied is returned by RemoveDiscount when the promotion has no
// active discount entry.
var ErrNotApplied = errors.New("discount not applied")

// MessageCode classifies shopper-visible validation messages.
type MessageCode string

const (
	// MsgInvalidCode: the submitted promo code matched no active promotion.
	MsgInvalidCode MessageCode = "code_invalid"
	// MsgCodeAlreadyApplied: the submitted code is already locked in.
	MsgCodeAlreadyApplied MessageCode = "code_already_applied"
	// MsgLimitReached: the stacking limit blocked the submitted code.
	MsgLimitReached MessageCode = "limit_reached"
)

// Message is one shopper-visible validation message. Validation failures are
// collected rather than returned as errors: a calculation pass always
// completes with a usable total.
type Message struct {
	Code MessageCode
	Text string
}

// Settings supplies the stacking policy. MaxDiscountCount bounds the number
// of simultaneously applied entries; zero means unlimited.
type Settings struct {
	MaxDiscountCount int
}

// Set owns the discount entries applied to one order session. It runs the
// matching pass over active promotions, enforces the stacking limit, tracks
// promo-code bookkeeping, and performs the two-phase total calculation.
//
// A Set belongs to exactly one order session and must not be mutated
// concurrently; the caller serializes calculation passes.
type Set struct {
	repo     promotion.Repository
	eval     *promotion.Evaluator
	settings Settings
	now      func() time.Time

	applied       map[string]*Entry
	codes         map[string]string // lowercased code -> promotion id
	removed       map[string]struct{}
	codeRequest   string
	resolvedPromo string
	messages      []Message
}

// NewSet creates an empty discount set for one order session.
func NewSet(repo promotion.Repository, eval *promotion.Evaluator, settings Settings) *Set {
	if eval == nil {
		eval = &promotion.Evaluator{}
	}
	return &Set{
		repo:     repo,
		eval:     eval,
		settings: settings,
		now:      time.Now,
		applied:  make(map[string]*Entry),
		codes:    make(map[string]string),
		removed:  make(map[string]struct{}),
	}
}

// SetCodeRequest records the shopper-submitted promo code for the next pass.
func (s *Set) SetCodeRequest(code string) {
	s.codeRequest = strings.TrimSpace(code)
}

// CodeRequest returns the in-flight promo code submission, if any.
func (s *Set) CodeRequest() string {
	return s.codeRequest
}

// CodeApplied reports whether the given promo code is currently locked in by
// an applied entry. Comparison ignores case.
func (s *Set) CodeApplied(code string) bool {
	_, ok := s.codes[strings.ToLower(code)]
	return ok
}

// Entry returns the applied entry for the given promotion id, or nil.
func (s *Set) Entry(promotionID string) *Entry {
	return s.applied[promotionID]
}

// Entries returns all applied entries ordered by promotion id.
func (s *Set) Entries() []*Entry {
	out := make([]*Entry, 0, len(s.applied))
	for _, e := range s.applied {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PromotionID < out[j].PromotionID })
	return out
}

// Messages returns the shopper-visible validation messages collected by the
// last calculation pass.
func (s *Set) Messages() []Message {
	return s.messages
}

// RemoveDiscount deletes the entry for the given promotion id and unlocks its
// code. Non-code promotions are additionally blocked from re-applying
// automatically on later passes, until Clear. Returns ErrNotApplied when the
// id has no active entry.
func (s *Set) RemoveDiscount(promotionID string) error {
	entry, ok := s.applied[promotionID]
	if !ok {
		return ErrNotApplied
	}

	delete(s.applied, promotionID)
	s.unlockCodes(promotionID)

	if entry.Code == "" {
		s.removed[promotionID] = struct{}{}
	}
	return nil
}

// Commit records one use of every applied promotion in the store. The
// checkout flow calls it once when the order is placed.
func (s *Set) Commit(ctx context.Context) error {
	for _, e := range s.Entries() {
		if err := s.repo.IncrementUses(ctx, e.PromotionID); err != nil {
			return errors.Wrapf(err, "increment uses for promotion %s", e.PromotionID)
		}
	}
	return nil
}

// Clear empties applied entries, the code map, and the removed set in one
// step. Used when the cart itself is emptied.
func (s *Set) Clear() {
	s.applied = make(map[string]*Entry)
	s.codes = make(map[string]string)
	s.removed = make(map[string]struct{})
	s.codeRequest = ""
	s.resolvedPromo = ""
	s.messages = nil
}

// ComputeTotal runs the full matching and calculation pass against the given
// cart and returns the order-level discount to subtract from the subtotal.
// The result is clamped so a discount can never make the order total
// negative. The pass is idempotent: with unchanged inputs, repeated calls
// yield the same applied set and total.
func (s *Set) ComputeTotal(ctx context.Context, c *cart.Cart) decimal.Decimal {
	s.messages = nil

	// Store unavailability degrades to "no active promotions", never a
	// failed order-total computation.
	promos, err := s.repo.LoadActive(ctx, s.now())
	if err != nil {
		promos = nil
	}

	// Bulk-minted codes are not embedded in rule sets; the store maps each
	// one to the promotion it unlocks. An unresolvable code falls through
	// to the invalid-code check below.
	s.resolvedPromo = ""
	if s.codeRequest != "" {
		if id, err := s.repo.ResolveCode(ctx, s.codeRequest); err == nil {
			s.resolvedPromo = id
		}
	}

	s.runMatching(c, promos)
	total := s.calculate(c)

	if s.codeRequest != "" {
		if _, ok := s.codes[strings.ToLower(s.codeRequest)]; !ok {
			s.report(MsgInvalidCode, fmt.Sprintf("promo code %q is not valid", s.codeRequest))
		}
		s.codeRequest = ""
	}

	return total
}

// runMatching evaluates every active promotion in applied-first order,
// creating, refreshing, or dropping entries.
func (s *Set) runMatching(c *cart.Cart, promos []promotion.Promotion) {
	// Item free-shipping flags belong to this pass and are recomputed from
	// scratch, same as the order-level flag.
	for _, item := range c.Items {
		item.FreeShipping = false
	}

	// An applied promotion that is no longer active (expired, disabled)
	// must stop discounting even though the matching loop will never
	// reach it.
	active := make(map[string]struct{}, len(promos))
	for i := range promos {
		active[promos[i].ID] = struct{}{}
	}
	for id := range s.applied {
		if _, ok := active[id]; !ok {
			delete(s.applied, id)
			s.unlockCodes(id)
		}
	}

	// Already-applied promotions sort first so that, once the stacking
	// limit is reached, prior applications are never evicted in favor of
	// candidates evaluated later in the same pass.
	sort.SliceStable(promos, func(i, j int) bool {
		_, ai := s.applied[promos[i].ID]
		_, aj := s.applied[promos[j].ID]
		return ai && !aj
	})

	for i := range promos {
		p := &promos[i]

		// A shopper-removed promotion halts the whole pass: nothing ranked
		// after it can be newly applied.
		if _, blocked := s.removed[p.ID]; blocked {
			break
		}

		_, isApplied := s.applied[p.ID]
		if limit := s.settings.MaxDiscountCount; limit > 0 && len(s.applied) >= limit && !isApplied {
			if s.codeRequest != "" {
				s.report(MsgLimitReached, "no additional promo codes can be applied to this order")
				s.codeRequest = ""
			}
			break
		}

		if s.matchOrderConditions(p, c) {
			s.apply(p, c)
			continue
		}

		// Unmatched is not shopper-removed: drop the entry without blocking
		// so the promotion may re-apply when conditions hold again.
		if isApplied {
			delete(s.applied, p.ID)
			s.unlockCodes(p.ID)
		}
	}
}

// matchOrderConditions evaluates the promotion's non-item condition groups
// against order/customer state under the promotion's search mode.
func (s *Set) matchOrderConditions(p *promotion.Promotion, c *cart.Cart) bool {
	env := promotion.Env{
		Cart:         c,
		UseCount:     p.Uses,
		AppliedCodes: s.appliedCodes(),
		CodeRequest:  s.codeRequest,
	}

	// A bulk code locked or resolved through the store stands in for the
	// promotion's canonical condition value.
	if code := p.Code(); code != "" {
		if s.resolvedPromo == p.ID && s.codeRequest != "" {
			env.CodeRequest = code
		}
		if s.codeLockedFor(p.ID) {
			env.AppliedCodes = append(env.AppliedCodes, strings.ToLower(code))
		}
	}

	conds := p.OrderConditions()
	if len(conds) == 0 {
		return true
	}

	satisfied := 0
	for _, cond := range conds {
		if !s.eval.Match(cond, env) {
			continue
		}
		if p.SearchMode == promotion.MatchAny {
			return true
		}
		satisfied++
	}
	return p.SearchMode != promotion.MatchAny && satisfied == len(conds)
}

// apply builds or refreshes the entry for a matched promotion, records its
// promo code, and allocates per-item discounts where applicable.
func (s *Set) apply(p *promotion.Promotion, c *cart.Cart) {
	entry, ok := s.applied[p.ID]
	if !ok {
		entry = NewEntry(p)
		s.applied[p.ID] = entry
	}

	if code := p.Code(); code != "" {
		// The shopper's own code is what gets locked: for a bulk-minted
		// code that is the submitted string, not the canonical value.
		if s.resolvedPromo == p.ID && s.codeRequest != "" {
			code = s.codeRequest
		}
		key := strings.ToLower(code)
		if _, locked := s.codes[key]; !locked {
			s.codes[key] = p.ID
			if strings.EqualFold(s.codeRequest, code) {
				s.codeRequest = ""
			}
		} else if strings.EqualFold(s.codeRequest, code) {
			s.report(MsgCodeAlreadyApplied, fmt.Sprintf("promo code %q has already been applied", code))
			s.codeRequest = ""
		}
	}

	if entry.PerItem() {
		s.applyToItems(p, entry, c)
	}
}

// applyToItems allocates the entry's discount across qualifying line items.
// Non-discountable item types are skipped. An item already discounted by this
// entry is not matched again; its recorded amount is refreshed instead.
func (s *Set) applyToItems(p *promotion.Promotion, entry *Entry, c *cart.Cart) {
	conds := p.ItemConditions()

	present := make(map[string]struct{}, len(c.Items))
	for _, item := range c.Items {
		present[item.Fingerprint] = struct{}{}

		if !item.Type.Discountable() {
			continue
		}
		if _, done := entry.Items[item.Fingerprint]; done {
			entry.ApplyToItem(item)
			continue
		}
		if s.matchItem(conds, c, item) {
			entry.ApplyToItem(item)
		}
	}

	// An allocation recorded on an earlier pass must not outlive its line
	// item; a stale fingerprint would keep discounting a gone item.
	for fp := range entry.Items {
		if _, ok := present[fp]; !ok {
			delete(entry.Items, fp)
		}
	}
}

// matchItem requires every item-group condition to hold for the specific item.
func (s *Set) matchItem(conds []promotion.Condition, c *cart.Cart, item *cart.LineItem) bool {
	env := promotion.Env{Cart: c, Item: item}
	for _, cond := range conds {
		if !s.eval.Match(cond, env) {
			return false
		}
	}
	return true
}

// calculate runs the two-phase total computation: immediate entries first,
// then deferred (order-level percentage) entries against the running sum.
// The summed discount is clamped at the cart subtotal.
func (s *Set) calculate(c *cart.Cart) decimal.Decimal {
	subtotal := c.Subtotal()

	var immediate, deferred []*Entry
	for _, e := range s.Entries() {
		if e.Deferred() {
			deferred = append(deferred, e)
			continue
		}
		immediate = append(immediate, e)
	}

	total := decimal.Zero
	freeShipping := false

	for _, e := range immediate {
		e.Calculate(subtotal, decimal.Zero)
		total = total.Add(e.Amount)
		if e.FreeShipping && e.Target == promotion.TargetOrder {
			freeShipping = true
		}
	}
	for _, e := range deferred {
		e.Calculate(subtotal, total)
		total = total.Add(e.Amount)
	}

	c.FreeShipping = freeShipping

	if total.GreaterThan(subtotal) {
		total = subtotal
	}
	return total
}

// appliedCodes returns the lowercased codes currently locked in.
func (s *Set) appliedCodes() []string {
	if len(s.codes) == 0 {
		return nil
	}
	codes := make([]string, 0, len(s.codes))
	for code := range s.codes {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// codeLockedFor reports whether any locked code unlocks the given promotion.
func (s *Set) codeLockedFor(promotionID string) bool {
	for _, id := range s.codes {
		if id == promotionID {
			return true
		}
	}
	return false
}

// unlockCodes removes every code map entry pointing at the given promotion.
func (s *Set) unlockCodes(promotionID string) {
	for code, id := range s.codes {
		if id == promotionID {
			delete(s.codes, code)
		}
	}
}

func (s *Set) report(code MessageCode, text string) {
	s.messages = append(s.messages, Message{Code: code, Text: text})
}
