package app

import (
	"os"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

// Config holds the complete engine configuration, loadable from environment
// variables (PROMO_ prefix), flags, or YAML config files.
type Config struct {
	DatabaseURL  string `usage:"PostgreSQL connection URL (PROMO_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	CartFile     string `default:"testdata/cart.json" usage:"Path to the cart fixture JSON" flag:"cart-file"`
	PromoCode    string `default:"" usage:"Promo code to submit with the calculation pass" flag:"promo-code"`
	SnapshotFile string `default:"" usage:"Session snapshot path (restored when present, rewritten after the pass)" flag:"snapshot-file"`
	Discounts    DiscountConfig
}

// DiscountConfig carries the stacking policy.
type DiscountConfig struct {
	MaxCount int `default:"0" usage:"Max simultaneously applied discounts (0 = unlimited)" flag:"max-discounts"`
}

// LoadConfig loads configuration from environment variables, YAML config
// files, and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "PROMO",
		Files:     []string{"config.yaml", "/etc/promo/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if cfg.DatabaseURL == "" {
		return nil, errors.New("database URL is required: set PROMO_DATABASE_URL or DATABASE_URL")
	}

	return &cfg, nil
}

// applyPlatformDefaults maps platform-provided environment variables that use
// standard names like DATABASE_URL to the PROMO_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
}
