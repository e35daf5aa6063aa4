// Package app wires the discount engine against the PostgreSQL promotion
// store and drives one calculation pass over a cart fixture.
package app

import (
	"context"
	"encoding/json"
	"os"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/app"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/promo-engine/internal/domain/cart"
	"github.com/xenking/promo-engine/internal/domain/discount"
	"github.com/xenking/promo-engine/internal/domain/promotion"
	"github.com/xenking/promo-engine/internal/repository"
)

// Run creates all dependencies, executes one full discount calculation pass,
// and persists the resulting session snapshot. It is the single wiring point
// for the calculation driver.
func Run(ctx context.Context, lg *zap.Logger, _ *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("cart_file", cfg.CartFile))

	pool, err := repository.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	promoRepo := repository.NewPromotionRepository(pool)
	set := discount.NewSet(promoRepo, &promotion.Evaluator{}, discount.Settings{
		MaxDiscountCount: cfg.Discounts.MaxCount,
	})

	if cfg.SnapshotFile != "" {
		if err := restoreSnapshot(set, cfg.SnapshotFile); err != nil {
			return errors.Wrap(err, "restore snapshot")
		}
	}

	c, err := loadCart(cfg.CartFile)
	if err != nil {
		return errors.Wrap(err, "load cart fixture")
	}

	if cfg.PromoCode != "" {
		set.SetCodeRequest(cfg.PromoCode)
	}

	total := set.ComputeTotal(ctx, c)
	set.WriteItemDiscounts(c)

	for _, e := range set.Entries() {
		lg.Info("Applied discount",
			zap.String("promotion_id", e.PromotionID),
			zap.String("name", e.Name),
			zap.String("type", string(e.Type)),
			zap.String("target", string(e.Target)),
			zap.String("amount", e.Amount.StringFixed(2)),
			zap.Int("items", len(e.Items)),
		)
	}
	for _, m := range set.Messages() {
		lg.Warn("Validation message", zap.String("code", string(m.Code)), zap.String("text", m.Text))
	}

	lg.Info("Calculation complete",
		zap.String("subtotal", c.Subtotal().StringFixed(2)),
		zap.String("discount_total", total.StringFixed(2)),
		zap.String("order_total", c.Subtotal().Sub(total).StringFixed(2)),
		zap.Bool("free_shipping", c.FreeShipping),
	)

	if cfg.SnapshotFile != "" {
		if err := writeSnapshot(set, cfg.SnapshotFile); err != nil {
			return errors.Wrap(err, "write snapshot")
		}
	}

	return nil
}

// cartItemJSON is the fixture form of one line item.
type cartItemJSON struct {
	Fingerprint string          `json:"fingerprint"`
	Type        string          `json:"type"`
	Name        string          `json:"name"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Categories  []string        `json:"categories"`
	Tags        []string        `json:"tags"`
	Variant     string          `json:"variant"`
}

type cartJSON struct {
	Items          []cartItemJSON  `json:"items"`
	CustomerType   string          `json:"customer_type"`
	ShipToCountry  string          `json:"ship_to_country"`
	ShippingAmount decimal.Decimal `json:"shipping_amount"`
}

// loadCart reads a cart fixture file. Line totals are derived from unit price
// and quantity; accumulated discounts start at zero.
func loadCart(path string) (*cart.Cart, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read cart file")
	}

	var fixture cartJSON
	if err := json.Unmarshal(data, &fixture); err != nil {
		return nil, errors.Wrap(err, "parse cart JSON")
	}

	c := &cart.Cart{
		Customer: cart.Customer{
			Type:          fixture.CustomerType,
			ShipToCountry: fixture.ShipToCountry,
		},
		ShippingAmount: fixture.ShippingAmount,
	}
	for _, it := range fixture.Items {
		qty := decimal.NewFromInt(int64(it.Quantity))
		c.Items = append(c.Items, &cart.LineItem{
			Fingerprint: it.Fingerprint,
			Type:        cart.ItemType(it.Type),
			Name:        it.Name,
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice,
			Total:       it.UnitPrice.Mul(qty),
			Categories:  it.Categories,
			Tags:        it.Tags,
			Variant:     it.Variant,
		})
	}
	return c, nil
}

func restoreSnapshot(set *discount.Set, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrap(err, "read snapshot file")
	}

	var snap discount.Snapshot
	if err := snap.Decode(jx.DecodeBytes(data)); err != nil {
		return errors.Wrap(err, "decode snapshot")
	}
	set.Restore(snap)
	return nil
}

func writeSnapshot(set *discount.Set, path string) error {
	var e jx.Encoder
	set.Snapshot().Encode(&e)

	if err := os.WriteFile(path, e.Bytes(), 0o644); err != nil {
		return errors.Wrap(err, "write snapshot file")
	}
	return nil
}
