package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/promo-engine/internal/repository"
)

// promotionJSON is one promotion definition in the seed file. The rules field
// is stored as-is into the JSONB column.
type promotionJSON struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Target      string          `json:"target"`
	Type        string          `json:"type"`
	Value       decimal.Decimal `json:"value"`
	BuyQuantity int             `json:"buy_quantity"`
	GetQuantity int             `json:"get_quantity"`
	SearchMode  string          `json:"search_mode"`
	Rules       json.RawMessage `json:"rules"`
	Enabled     bool            `json:"enabled"`
}

const upsertPromotionSQL = `INSERT INTO promotions
	(id, name, target, discount_type, value, buy_quantity, get_quantity, search_mode, rules, enabled)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	ON CONFLICT (id) DO UPDATE SET
		name = EXCLUDED.name,
		target = EXCLUDED.target,
		discount_type = EXCLUDED.discount_type,
		value = EXCLUDED.value,
		buy_quantity = EXCLUDED.buy_quantity,
		get_quantity = EXCLUDED.get_quantity,
		search_mode = EXCLUDED.search_mode,
		rules = EXCLUDED.rules,
		enabled = EXCLUDED.enabled`

func main() {
	var (
		databaseURL string
		promosFile  string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&promosFile, "promotions-file", "db/seed/promotions.json", "path to promotions JSON file")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, promosFile); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, promosFile string) error {
	slog.Info("connecting to database")

	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := seedPromotions(ctx, pool, promosFile); err != nil {
		return errors.Wrap(err, "seed promotions")
	}

	return nil
}

func seedPromotions(ctx context.Context, pool *pgxpool.Pool, promosFile string) error {
	slog.Info("reading promotions file", slog.String("path", promosFile))

	data, err := os.ReadFile(promosFile)
	if err != nil {
		return errors.Wrap(err, "read promotions file")
	}

	var promos []promotionJSON
	if err := json.Unmarshal(data, &promos); err != nil {
		return errors.Wrap(err, "parse promotions JSON")
	}

	slog.Info("upserting promotions", slog.Int("count", len(promos)))

	for _, p := range promos {
		if p.ID == "" {
			p.ID = uuid.New().String()
		}
		if p.SearchMode == "" {
			p.SearchMode = "all"
		}
		rules := p.Rules
		if len(rules) == 0 {
			rules = json.RawMessage("[]")
		}

		_, err := pool.Exec(ctx, upsertPromotionSQL,
			p.ID, p.Name, p.Target, p.Type, p.Value,
			p.BuyQuantity, p.GetQuantity, p.SearchMode, rules, p.Enabled,
		)
		if err != nil {
			return errors.Wrapf(err, "upsert promotion %s", p.Name)
		}

		slog.Info("upserted promotion", slog.String("id", p.ID), slog.String("name", p.Name))
	}

	return nil
}
