// Package config loads membercycle settings from defaults, an optional TOML
// file, and environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"github.com/robfig/cron/v3"

	"membercycle/internal/docstore"
	"membercycle/internal/lifecycle"
)

var ErrInvalid = errors.New("invalid configuration")

type Store struct {
	Driver       string `toml:"driver" env:"MEMBERCYCLE_STORE_DRIVER"`
	DSN          string `toml:"dsn" env:"MEMBERCYCLE_STORE_DSN"`
	PageSize     int    `toml:"page_size" env:"MEMBERCYCLE_STORE_PAGE_SIZE"`
	MaxBatchSize int    `toml:"max_batch_size" env:"MEMBERCYCLE_STORE_MAX_BATCH_SIZE"`
}

type Rules struct {
	InactivityDays          int `toml:"inactivity_days" env:"MEMBERCYCLE_INACTIVITY_DAYS"`
	VIPTotalShares          int `toml:"vip_total_shares" env:"MEMBERCYCLE_VIP_TOTAL_SHARES"`
	VIPFundShares           int `toml:"vip_fund_shares" env:"MEMBERCYCLE_VIP_FUND_SHARES"`
	VIPBorrowLimit          int `toml:"vip_borrow_limit" env:"MEMBERCYCLE_VIP_BORROW_LIMIT"`
	WithdrawalFeePercentage int `toml:"withdrawal_fee_percentage" env:"MEMBERCYCLE_WITHDRAWAL_FEE_PERCENTAGE"`
	RenewalBorrowThreshold  int `toml:"renewal_borrow_threshold" env:"MEMBERCYCLE_RENEWAL_BORROW_THRESHOLD"`
	RenewalFee              int `toml:"renewal_fee" env:"MEMBERCYCLE_RENEWAL_FEE"`
}

type Schedule struct {
	Expiry     string `toml:"expiry" env:"MEMBERCYCLE_SCHEDULE_EXPIRY"`
	Suspension string `toml:"suspension" env:"MEMBERCYCLE_SCHEDULE_SUSPENSION"`
	Promotion  string `toml:"promotion" env:"MEMBERCYCLE_SCHEDULE_PROMOTION"`
	Scoring    string `toml:"scoring" env:"MEMBERCYCLE_SCHEDULE_SCORING"`
	Renewal    string `toml:"renewal" env:"MEMBERCYCLE_SCHEDULE_RENEWAL"`
	// Pipeline replaces the expiry, suspension, promotion and scoring entries
	// with one ordered run at the expiry slot.
	Pipeline bool `toml:"pipeline" env:"MEMBERCYCLE_SCHEDULE_PIPELINE"`
}

type HTTP struct {
	Addr        string  `toml:"addr" env:"MEMBERCYCLE_HTTP_ADDR"`
	ManualRate  float64 `toml:"manual_rate" env:"MEMBERCYCLE_HTTP_MANUAL_RATE"`
	ManualBurst int     `toml:"manual_burst" env:"MEMBERCYCLE_HTTP_MANUAL_BURST"`
}

type Auth struct {
	JWTSecret string `toml:"jwt_secret" env:"MEMBERCYCLE_JWT_SECRET"`
	Issuer    string `toml:"issuer" env:"MEMBERCYCLE_JWT_ISSUER"`
}

type Redis struct {
	Addr     string        `toml:"addr" env:"MEMBERCYCLE_REDIS_ADDR"`
	Password string        `toml:"password" env:"MEMBERCYCLE_REDIS_PASSWORD"`
	LockTTL  time.Duration `toml:"lock_ttl" env:"MEMBERCYCLE_REDIS_LOCK_TTL"`
}

type Telemetry struct {
	Endpoint string `toml:"endpoint" env:"MEMBERCYCLE_OTEL_ENDPOINT"`
}

type Log struct {
	Level string `toml:"level" env:"MEMBERCYCLE_LOG_LEVEL"`
}

// Config is the complete process configuration.
type Config struct {
	Store        Store             `toml:"store"`
	Rules        Rules             `toml:"rules"`
	BalanceTypes map[string]string `toml:"balance_types"`
	Schedule     Schedule          `toml:"schedule"`
	HTTP         HTTP              `toml:"http"`
	Auth         Auth              `toml:"auth"`
	Redis        Redis             `toml:"redis"`
	Telemetry    Telemetry         `toml:"telemetry"`
	Log          Log               `toml:"log"`
}

func DefaultConfig() Config {
	r := lifecycle.DefaultRules()
	return Config{
		Store: Store{
			Driver:       string(docstore.SQLite),
			DSN:          "membercycle.db",
			PageSize:     200,
			MaxBatchSize: docstore.DefaultMaxBatchSize,
		},
		Rules: Rules{
			InactivityDays:          r.InactivityDays,
			VIPTotalShares:          r.VIPTotalShares,
			VIPFundShares:           r.VIPFundShares,
			VIPBorrowLimit:          r.VIPBorrowLimit,
			WithdrawalFeePercentage: r.WithdrawalFeePercentage,
			RenewalBorrowThreshold:  r.RenewalBorrowThreshold,
			RenewalFee:              r.RenewalFee,
		},
		BalanceTypes: lifecycle.DefaultBalanceFields(),
		Schedule: Schedule{
			Expiry:     "0 1 * * *",
			Suspension: "0 2 * * *",
			Promotion:  "0 3 * * *",
			Scoring:    "0 4 * * *",
			Renewal:    "0 0 * * 0",
		},
		HTTP: HTTP{
			Addr:        ":8080",
			ManualRate:  1,
			ManualBurst: 3,
		},
		Auth:  Auth{Issuer: "membercycle"},
		Redis: Redis{LockTTL: 30 * time.Minute},
		Log:   Log{Level: "info"},
	}
}

// Load builds the configuration. path may be empty. A [balance_types] table
// in the file replaces the default mapping instead of merging with it.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		var file struct {
			BalanceTypes map[string]string `toml:"balance_types"`
		}
		meta, err := toml.DecodeFile(path, &file)
		if err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		if meta.IsDefined("balance_types") {
			cfg.BalanceTypes = nil
		}
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the settings that would otherwise fail at first use.
func (c Config) Validate() error {
	switch docstore.Dialect(c.Store.Driver) {
	case docstore.Postgres, docstore.SQLite:
	default:
		return fmt.Errorf("%w: store driver %q", ErrInvalid, c.Store.Driver)
	}
	if c.Store.DSN == "" {
		return fmt.Errorf("%w: store dsn is required", ErrInvalid)
	}
	if c.Store.PageSize <= 0 {
		return fmt.Errorf("%w: store page_size must be positive", ErrInvalid)
	}
	if c.Store.MaxBatchSize <= 0 {
		return fmt.Errorf("%w: store max_batch_size must be positive", ErrInvalid)
	}
	if c.Rules.InactivityDays <= 0 {
		return fmt.Errorf("%w: rules inactivity_days must be positive", ErrInvalid)
	}
	if _, err := lifecycle.NewApplicator(c.LifecycleRules(), c.BalanceTypes); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	specs := map[string]string{
		"expiry":     c.Schedule.Expiry,
		"suspension": c.Schedule.Suspension,
		"promotion":  c.Schedule.Promotion,
		"scoring":    c.Schedule.Scoring,
		"renewal":    c.Schedule.Renewal,
	}
	for name, spec := range specs {
		if spec == "" {
			continue
		}
		if _, err := cron.ParseStandard(spec); err != nil {
			return fmt.Errorf("%w: schedule %s: %w", ErrInvalid, name, err)
		}
	}
	if c.HTTP.ManualRate <= 0 || c.HTTP.ManualBurst <= 0 {
		return fmt.Errorf("%w: http manual rate and burst must be positive", ErrInvalid)
	}
	return nil
}

// LifecycleRules converts the [rules] section.
func (c Config) LifecycleRules() lifecycle.Rules {
	return lifecycle.Rules{
		InactivityDays:          c.Rules.InactivityDays,
		VIPTotalShares:          c.Rules.VIPTotalShares,
		VIPFundShares:           c.Rules.VIPFundShares,
		VIPBorrowLimit:          c.Rules.VIPBorrowLimit,
		WithdrawalFeePercentage: c.Rules.WithdrawalFeePercentage,
		RenewalBorrowThreshold:  c.Rules.RenewalBorrowThreshold,
		RenewalFee:              c.Rules.RenewalFee,
	}
}
