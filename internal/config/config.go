// Package config provides configuration handling for the PnL engine service.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/pnl-engine/internal/cohort"
	"github.com/atmx/pnl-engine/internal/engine"
	"github.com/atmx/pnl-engine/internal/ledger"
	"github.com/atmx/pnl-engine/internal/model"
	"github.com/atmx/pnl-engine/internal/normalize"
)

var (
	// ErrInvalidPort is returned when PORT is empty or not a number.
	ErrInvalidPort = errors.New("config: PORT must be a TCP port number")

	// ErrInvalidWorkers is returned when PNL_WORKERS is not positive.
	ErrInvalidWorkers = errors.New("config: PNL_WORKERS must be positive")

	// ErrInvalidTTL is returned when a cache TTL is not positive.
	ErrInvalidTTL = errors.New("config: cache TTLs must be positive")

	// ErrInvalidSourcePriority is returned for an empty, unknown or repeated
	// source in PNL_SOURCE_PRIORITY.
	ErrInvalidSourcePriority = errors.New("config: invalid PNL_SOURCE_PRIORITY")

	// ErrInvalidHeavyShare is returned when PNL_HEAVY_SHARE is outside (0, 1].
	ErrInvalidHeavyShare = errors.New("config: PNL_HEAVY_SHARE must be in (0, 1]")
)

// Config holds the service configuration.
type Config struct {
	// Port is the HTTP listen port.
	Port string

	// DatabaseURL selects PostgreSQL. Empty means the in-memory store.
	DatabaseURL string

	// RedisURL enables the read-through cache when set.
	RedisURL string

	// FixturePath seeds the in-memory store at startup when set.
	FixturePath string

	// CacheTTL bounds how long settled resolutions stay cached.
	CacheTTL time.Duration

	// PriceTTL bounds how long mark prices stay cached.
	PriceTTL time.Duration

	Workers        int
	PricePolicy    ledger.PricePolicy
	SourcePriority []model.Source
	LogLevel       slog.Level

	// HeavyShare is the split/merge share of events that tiers an account
	// split_merge_heavy.
	HeavyShare decimal.Decimal
}

// LoadFromEnv loads configuration from environment variables, filling
// defaults for unset ones. Values that do not parse are errors.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		Port:           envOrDefault("PORT", "8080"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		RedisURL:       os.Getenv("REDIS_URL"),
		FixturePath:    os.Getenv("PNL_FIXTURE"),
		CacheTTL:       time.Hour,
		PriceTTL:       30 * time.Second,
		Workers:        runtime.GOMAXPROCS(0),
		PricePolicy:    ledger.PriceExact,
		SourcePriority: model.DefaultSourcePriority,
		LogLevel:       slog.LevelInfo,
		HeavyShare:     cohort.DefaultHeavyShare,
	}

	var err error
	if cfg.CacheTTL, err = envDuration("PNL_CACHE_TTL", cfg.CacheTTL); err != nil {
		return nil, err
	}
	if cfg.PriceTTL, err = envDuration("PNL_PRICE_TTL", cfg.PriceTTL); err != nil {
		return nil, err
	}
	if v := os.Getenv("PNL_WORKERS"); v != "" {
		if cfg.Workers, err = strconv.Atoi(v); err != nil {
			return nil, fmt.Errorf("config: PNL_WORKERS: %w", err)
		}
	}
	if cfg.PricePolicy, err = ledger.ParsePricePolicy(os.Getenv("PNL_PRICE_POLICY")); err != nil {
		return nil, fmt.Errorf("config: PNL_PRICE_POLICY: %w", err)
	}
	if v := os.Getenv("PNL_SOURCE_PRIORITY"); v != "" {
		cfg.SourcePriority = ParseSourcePriority(v)
	}
	if v := os.Getenv("PNL_HEAVY_SHARE"); v != "" {
		if cfg.HeavyShare, err = decimal.NewFromString(v); err != nil {
			return nil, fmt.Errorf("config: PNL_HEAVY_SHARE: %w", err)
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		if err := cfg.LogLevel.UnmarshalText([]byte(v)); err != nil {
			return nil, fmt.Errorf("config: LOG_LEVEL: %w", err)
		}
	}

	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if p, err := strconv.Atoi(c.Port); err != nil || p <= 0 || p > 65535 {
		return ErrInvalidPort
	}
	if c.Workers <= 0 {
		return ErrInvalidWorkers
	}
	if c.CacheTTL <= 0 || c.PriceTTL <= 0 {
		return ErrInvalidTTL
	}
	if !c.HeavyShare.IsPositive() || c.HeavyShare.GreaterThan(decimal.NewFromInt(1)) {
		return ErrInvalidHeavyShare
	}
	if len(c.SourcePriority) == 0 {
		return fmt.Errorf("%w: empty", ErrInvalidSourcePriority)
	}
	seen := make(map[model.Source]bool, len(c.SourcePriority))
	for _, s := range c.SourcePriority {
		switch s {
		case model.SourceOnchain, model.SourceCLOB, model.SourceActivity:
		default:
			return fmt.Errorf("%w: unknown source %q", ErrInvalidSourcePriority, s)
		}
		if seen[s] {
			return fmt.Errorf("%w: %s listed twice", ErrInvalidSourcePriority, s)
		}
		seen[s] = true
	}
	return nil
}

// EngineOptions derives engine options from the configuration.
func (c *Config) EngineOptions() engine.Options {
	return engine.Options{
		Workers:    c.Workers,
		Normalize:  normalize.Options{SourcePriority: c.SourcePriority},
		Ledger:     ledger.Options{PricePolicy: c.PricePolicy},
		HeavyShare: c.HeavyShare,
	}
}

// ParseSourcePriority splits a comma-separated source list, most trusted first.
func ParseSourcePriority(s string) []model.Source {
	var out []model.Source
	for _, part := range strings.Split(s, ",") {
		out = append(out, model.Source(strings.ToLower(strings.TrimSpace(part))))
	}
	return out
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return d, nil
}
