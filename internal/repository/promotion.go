package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/promo-engine/internal/domain/promotion"
)

const (
	loadActivePromotionsSQL = `SELECT id, name, target, discount_type, value,
		buy_quantity, get_quantity, search_mode, rules, uses
		FROM promotions
		WHERE enabled
		AND (starts_at IS NULL OR starts_at <= $1)
		AND (ends_at IS NULL OR ends_at >= $1)
		AND target IN ('order', 'item')
		ORDER BY target DESC, created_at`

	resolvePromoCodeSQL = `SELECT promotion_id FROM promo_codes WHERE code = $1`

	incrementPromotionUsesSQL = `UPDATE promotions SET uses = uses + 1 WHERE id = $1`
)

var _ promotion.Repository = (*PromotionRepository)(nil)

// PromotionRepository implements promotion.Repository backed by PostgreSQL.
type PromotionRepository struct {
	pool *pgxpool.Pool
}

// NewPromotionRepository returns a PromotionRepository that uses the given pool.
func NewPromotionRepository(pool *pgxpool.Pool) *PromotionRepository {
	return &PromotionRepository{pool: pool}
}

// LoadActive returns the promotions whose status is enabled and whose active
// date window contains now, ordered by target descending. Rule sets are
// decoded from their JSONB form.
func (r *PromotionRepository) LoadActive(ctx context.Context, now time.Time) ([]promotion.Promotion, error) {
	rows, err := r.pool.Query(ctx, loadActivePromotionsSQL, now)
	if err != nil {
		return nil, fmt.Errorf("loading active promotions: %w", err)
	}

	promos, err := pgx.CollectRows(rows, scanPromotion)
	if err != nil {
		return nil, fmt.Errorf("loading active promotions: %w", err)
	}
	return promos, nil
}

// ResolveCode looks up a bulk-minted promo code in the code store. Codes are
// stored lowercased; an unknown code resolves to "" without error.
func (r *PromotionRepository) ResolveCode(ctx context.Context, code string) (string, error) {
	var id string
	err := r.pool.QueryRow(ctx, resolvePromoCodeSQL, strings.ToLower(code)).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("resolving promo code: %w", err)
	}
	return id, nil
}

// IncrementUses bumps the lifetime usage counter for the given promotion.
func (r *PromotionRepository) IncrementUses(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, incrementPromotionUsesSQL, id)
	if err != nil {
		return fmt.Errorf("incrementing uses for promotion %q: %w", id, err)
	}
	return nil
}

// ruleGroupJSON is the stored form of one named condition group.
type ruleGroupJSON struct {
	Name       string          `json:"name"`
	Conditions []conditionJSON `json:"conditions"`
}

type conditionJSON struct {
	Property string `json:"property"`
	Operator string `json:"operator"`
	Value    string `json:"value"`
}

func scanPromotion(row pgx.CollectableRow) (promotion.Promotion, error) {
	var (
		p          promotion.Promotion
		target     string
		kind       string
		value      decimal.Decimal
		buyQty     int32
		getQty     int32
		searchMode string
		rules      []byte
		uses       int32
	)
	err := row.Scan(
		&p.ID, &p.Name, &target, &kind, &value,
		&buyQty, &getQty, &searchMode, &rules, &uses,
	)
	if err != nil {
		return promotion.Promotion{}, err
	}

	p.Target = promotion.Target(target)
	p.Type = promotion.Type(kind)
	p.Value = value
	p.BuyQuantity = int(buyQty)
	p.GetQuantity = int(getQty)
	p.SearchMode = promotion.SearchMode(searchMode)
	p.Uses = int(uses)

	var groups []ruleGroupJSON
	if err := json.Unmarshal(rules, &groups); err != nil {
		return promotion.Promotion{}, fmt.Errorf("decoding rules for promotion %q: %w", p.ID, err)
	}
	for _, g := range groups {
		group := promotion.ConditionGroup{Name: g.Name}
		for _, c := range g.Conditions {
			group.Conditions = append(group.Conditions, promotion.Condition{
				Property: promotion.Property(c.Property),
				Operator: promotion.Operator(c.Operator),
				Value:    c.Value,
			})
		}
		p.Groups = append(p.Groups, group)
	}

	return p, nil
}
