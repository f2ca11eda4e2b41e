package config

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Config holds the full configuration surface of the market core. Values
// come from an optional YAML file plus MARKET_* environment overrides;
// anything not set falls back to the defaults below.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Timeslot   TimeslotConfig   `mapstructure:"timeslot"`
	Auction    AuctionConfig    `mapstructure:"auction"`
	Accounting AccountingConfig `mapstructure:"accounting"`
}

type ServerConfig struct {
	Port      string `mapstructure:"port"`
	JWTSecret string `mapstructure:"jwt_secret"`
	// AutoStepSeconds > 0 advances the market clock on a wall-clock
	// ticker; 0 leaves stepping to the internal API.
	AutoStepSeconds int `mapstructure:"auto_step_seconds"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// TimeslotConfig shapes the simulated clock: how long one timeslot lasts in
// wall-clock terms, how far ahead of the current timeslot trading opens,
// and how many future timeslots are tradeable at once.
type TimeslotConfig struct {
	SlotMinutes   int `mapstructure:"slot_minutes"`
	EnabledOffset int `mapstructure:"enabled_offset"`
	EnabledWindow int `mapstructure:"enabled_window"`
}

// AuctionConfig carries the clearing parameters. DefaultMargin is applied
// when a market order must be priced off a limit order on the other side;
// DefaultClearingPrice is used when no limit prices exist at all.
type AuctionConfig struct {
	DefaultMargin        float64 `mapstructure:"default_margin"`
	DefaultClearingPrice float64 `mapstructure:"default_clearing_price"`
	SellerSurplusRatio   float64 `mapstructure:"seller_surplus_ratio"`
	SellerMaxMargin      float64 `mapstructure:"seller_max_margin"`
	MinimumOrderQuantity float64 `mapstructure:"minimum_order_quantity"`
	MktPosnLimitInitial  float64 `mapstructure:"mkt_posn_limit_initial"`
	MktPosnLimitFinal    float64 `mapstructure:"mkt_posn_limit_final"`
}

// AccountingConfig bounds the bank interest rate. BankInterest outside
// [MinInterest, MaxInterest] is clamped, never fatal. CreditInterestRatio
// scales the rate applied to non-negative balances; debit balances always
// pay the full rate.
type AccountingConfig struct {
	MinInterest         float64 `mapstructure:"min_interest"`
	MaxInterest         float64 `mapstructure:"max_interest"`
	BankInterest        float64 `mapstructure:"bank_interest"`
	CreditInterestRatio float64 `mapstructure:"credit_interest_ratio"`
}

// Load reads configuration from the given YAML file (optional) and the
// environment, applies defaults, and normalizes out-of-range values.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("MARKET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file failed (%s): %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config failed: %w", err)
	}
	cfg.normalize()
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.jwt_secret", "market-secret-key")
	v.SetDefault("server.auto_step_seconds", 0)
	v.SetDefault("database.path", "market.db")
	v.SetDefault("timeslot.slot_minutes", 60)
	v.SetDefault("timeslot.enabled_offset", 1)
	v.SetDefault("timeslot.enabled_window", 24)
	v.SetDefault("auction.default_margin", 0.05)
	v.SetDefault("auction.default_clearing_price", 40.0)
	v.SetDefault("auction.seller_surplus_ratio", 0.5)
	v.SetDefault("auction.seller_max_margin", 0.05)
	v.SetDefault("auction.minimum_order_quantity", 0.01)
	v.SetDefault("auction.mkt_posn_limit_initial", 90.0)
	v.SetDefault("auction.mkt_posn_limit_final", 143.0)
	v.SetDefault("accounting.min_interest", 0.04)
	v.SetDefault("accounting.max_interest", 0.12)
	v.SetDefault("accounting.bank_interest", 0.0)
	v.SetDefault("accounting.credit_interest_ratio", 0.5)
}

// normalize clamps malformed values into their valid ranges. Configuration
// problems are warnings, not fatal conditions.
func (c *Config) normalize() {
	logger := log.With().Str("component", "config").Logger()

	if c.Accounting.MinInterest < 0 {
		logger.Warn().
			Float64("min_interest", c.Accounting.MinInterest).
			Msg("negative min_interest, clamping to 0")
		c.Accounting.MinInterest = 0
	}
	if c.Accounting.MaxInterest < c.Accounting.MinInterest {
		logger.Warn().
			Float64("min_interest", c.Accounting.MinInterest).
			Float64("max_interest", c.Accounting.MaxInterest).
			Msg("max_interest below min_interest, raising to min_interest")
		c.Accounting.MaxInterest = c.Accounting.MinInterest
	}
	// Unset bank interest lands on the midpoint of the configured range.
	if c.Accounting.BankInterest == 0 {
		c.Accounting.BankInterest =
			(c.Accounting.MinInterest + c.Accounting.MaxInterest) / 2.0
	}
	if c.Accounting.BankInterest < c.Accounting.MinInterest {
		logger.Warn().
			Float64("bank_interest", c.Accounting.BankInterest).
			Float64("min_interest", c.Accounting.MinInterest).
			Msg("bank_interest below configured range, clamping")
		c.Accounting.BankInterest = c.Accounting.MinInterest
	}
	if c.Accounting.BankInterest > c.Accounting.MaxInterest {
		logger.Warn().
			Float64("bank_interest", c.Accounting.BankInterest).
			Float64("max_interest", c.Accounting.MaxInterest).
			Msg("bank_interest above configured range, clamping")
		c.Accounting.BankInterest = c.Accounting.MaxInterest
	}

	if c.Accounting.CreditInterestRatio < 0 || c.Accounting.CreditInterestRatio > 1 {
		logger.Warn().
			Float64("credit_interest_ratio", c.Accounting.CreditInterestRatio).
			Msg("credit_interest_ratio outside [0,1], resetting to 0.5")
		c.Accounting.CreditInterestRatio = 0.5
	}

	if c.Auction.SellerSurplusRatio < 0 || c.Auction.SellerSurplusRatio > 1 {
		logger.Warn().
			Float64("seller_surplus_ratio", c.Auction.SellerSurplusRatio).
			Msg("seller_surplus_ratio outside [0,1], resetting to 0.5")
		c.Auction.SellerSurplusRatio = 0.5
	}
	if c.Auction.MinimumOrderQuantity < 0 {
		logger.Warn().
			Float64("minimum_order_quantity", c.Auction.MinimumOrderQuantity).
			Msg("negative minimum_order_quantity, clamping to 0")
		c.Auction.MinimumOrderQuantity = 0
	}
	if c.Timeslot.SlotMinutes <= 0 {
		c.Timeslot.SlotMinutes = 60
	}
	if c.Timeslot.EnabledWindow < 1 {
		c.Timeslot.EnabledWindow = 1
	}
	if c.Timeslot.EnabledOffset < 1 {
		// trading is never allowed in the current timeslot
		c.Timeslot.EnabledOffset = 1
	}
}

// Default returns the built-in configuration, used by tests and the
// simulation when no file is supplied.
func Default() *Config {
	cfg, _ := Load("")
	return cfg
}
