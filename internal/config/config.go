package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Anchoring policies.
const (
	AnchorAsync = "async"
	AnchorSync  = "sync"
)

// Ledger backends.
const (
	LedgerMemory = "memory"
	LedgerRedis  = "redis"
)

// Config holds application configuration (env + Viper).
type Config struct {
	Env         string
	Port        string
	DatabaseURL string
	RedisURL    string

	LedgerBackend string
	LedgerID      string
	AnchorMode    string
	AnchorTimeout time.Duration
	AnchorRetries int

	BufferRate      decimal.Decimal
	CreditUnitSize  decimal.Decimal
	CreditPrecision int32

	MethodologyCatalog string
	LockTTL            time.Duration
	ReconcileInterval  time.Duration

	// CORSAllowedSuffixes are browser origins allowed to call the API, e.g. ".ogcr.org".
	CORSAllowedSuffixes []string
}

// Load loads config from env and optional .env file.
func Load() (*Config, error) {
	viper.SetConfigFile(".env")
	_ = viper.ReadInConfig()

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("PORT", "8080")
	viper.SetDefault("APP_ENV", "development")
	viper.SetDefault("DATABASE_URL", "sqlite://ogcr.db")
	viper.SetDefault("LEDGER_BACKEND", LedgerMemory)
	viper.SetDefault("LEDGER_ID", "ogcr-local")
	viper.SetDefault("ANCHOR_MODE", AnchorAsync)
	viper.SetDefault("ANCHOR_TIMEOUT", "5s")
	viper.SetDefault("ANCHOR_RETRIES", 3)
	viper.SetDefault("BUFFER_RATE", "0.1")
	viper.SetDefault("CREDIT_UNIT_SIZE", "1")
	viper.SetDefault("CREDIT_PRECISION", 3)
	viper.SetDefault("LOCK_TTL", "30s")
	viper.SetDefault("RECONCILE_INTERVAL", "1m")

	bufferRate, err := decimal.NewFromString(viper.GetString("BUFFER_RATE"))
	if err != nil {
		return nil, fmt.Errorf("BUFFER_RATE: %w", err)
	}
	unitSize, err := decimal.NewFromString(viper.GetString("CREDIT_UNIT_SIZE"))
	if err != nil {
		return nil, fmt.Errorf("CREDIT_UNIT_SIZE: %w", err)
	}

	cfg := &Config{
		Env:                viper.GetString("APP_ENV"),
		Port:               viper.GetString("PORT"),
		DatabaseURL:        viper.GetString("DATABASE_URL"),
		RedisURL:           viper.GetString("REDIS_URL"),
		LedgerBackend:      strings.ToLower(viper.GetString("LEDGER_BACKEND")),
		LedgerID:           viper.GetString("LEDGER_ID"),
		AnchorMode:         strings.ToLower(viper.GetString("ANCHOR_MODE")),
		AnchorTimeout:      viper.GetDuration("ANCHOR_TIMEOUT"),
		AnchorRetries:      viper.GetInt("ANCHOR_RETRIES"),
		BufferRate:         bufferRate,
		CreditUnitSize:     unitSize,
		CreditPrecision:    viper.GetInt32("CREDIT_PRECISION"),
		MethodologyCatalog: viper.GetString("METHODOLOGY_CATALOG"),
		LockTTL:            viper.GetDuration("LOCK_TTL"),
		ReconcileInterval:  viper.GetDuration("RECONCILE_INTERVAL"),
	}
	for _, suffix := range strings.Split(viper.GetString("CORS_ALLOWED_SUFFIXES"), ",") {
		if suffix = strings.TrimSpace(suffix); suffix != "" {
			cfg.CORSAllowedSuffixes = append(cfg.CORSAllowedSuffixes, suffix)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the registry cannot run with.
func (c *Config) Validate() error {
	if c.BufferRate.IsNegative() || c.BufferRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("BUFFER_RATE must be in [0,1), got %s", c.BufferRate)
	}
	if !c.CreditUnitSize.IsPositive() {
		return fmt.Errorf("CREDIT_UNIT_SIZE must be > 0, got %s", c.CreditUnitSize)
	}
	if c.CreditPrecision < 0 || c.CreditPrecision > 6 {
		return fmt.Errorf("CREDIT_PRECISION must be in [0,6], got %d", c.CreditPrecision)
	}
	if c.AnchorMode != AnchorAsync && c.AnchorMode != AnchorSync {
		return fmt.Errorf("ANCHOR_MODE must be %q or %q, got %q", AnchorAsync, AnchorSync, c.AnchorMode)
	}
	if c.LedgerBackend != LedgerMemory && c.LedgerBackend != LedgerRedis {
		return fmt.Errorf("LEDGER_BACKEND must be %q or %q, got %q", LedgerMemory, LedgerRedis, c.LedgerBackend)
	}
	if c.LedgerBackend == LedgerRedis && c.RedisURL == "" {
		return fmt.Errorf("LEDGER_BACKEND=redis requires REDIS_URL")
	}
	if c.AnchorTimeout <= 0 {
		return fmt.Errorf("ANCHOR_TIMEOUT must be positive")
	}
	if c.AnchorRetries < 1 {
		c.AnchorRetries = 1
	}
	return nil
}

// IsProduction reports whether APP_ENV is production.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}
