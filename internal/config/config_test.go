package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 60, cfg.Timeslot.SlotMinutes)
	assert.Equal(t, 1, cfg.Timeslot.EnabledOffset)
	assert.Equal(t, 24, cfg.Timeslot.EnabledWindow)

	assert.InDelta(t, 0.05, cfg.Auction.DefaultMargin, 1e-9)
	assert.InDelta(t, 40.0, cfg.Auction.DefaultClearingPrice, 1e-9)
	assert.InDelta(t, 0.5, cfg.Auction.SellerSurplusRatio, 1e-9)
	assert.InDelta(t, 0.01, cfg.Auction.MinimumOrderQuantity, 1e-9)

	// unset bank interest lands on the midpoint of the range
	assert.InDelta(t, 0.08, cfg.Accounting.BankInterest, 1e-9)
	assert.InDelta(t, 0.5, cfg.Accounting.CreditInterestRatio, 1e-9)
}

func TestNormalizeClampsInterest(t *testing.T) {
	cfg := Config{
		Accounting: AccountingConfig{MinInterest: 0.04, MaxInterest: 0.12, BankInterest: 0.5},
	}
	cfg.normalize()
	assert.InDelta(t, 0.12, cfg.Accounting.BankInterest, 1e-9)

	cfg = Config{
		Accounting: AccountingConfig{MinInterest: 0.04, MaxInterest: 0.12, BankInterest: 0.01},
	}
	cfg.normalize()
	assert.InDelta(t, 0.04, cfg.Accounting.BankInterest, 1e-9)
}

func TestNormalizeRepairsRanges(t *testing.T) {
	cfg := Config{
		Accounting: AccountingConfig{MinInterest: -0.1, MaxInterest: -0.2, CreditInterestRatio: 2.0},
		Auction:    AuctionConfig{SellerSurplusRatio: 1.5, MinimumOrderQuantity: -1.0},
		Timeslot:   TimeslotConfig{SlotMinutes: 0, EnabledOffset: 0, EnabledWindow: 0},
	}
	cfg.normalize()

	assert.InDelta(t, 0.0, cfg.Accounting.MinInterest, 1e-9)
	assert.InDelta(t, 0.0, cfg.Accounting.MaxInterest, 1e-9)
	assert.InDelta(t, 0.5, cfg.Accounting.CreditInterestRatio, 1e-9)
	assert.InDelta(t, 0.5, cfg.Auction.SellerSurplusRatio, 1e-9)
	assert.InDelta(t, 0.0, cfg.Auction.MinimumOrderQuantity, 1e-9)
	assert.Equal(t, 60, cfg.Timeslot.SlotMinutes)
	assert.Equal(t, 1, cfg.Timeslot.EnabledOffset)
	assert.Equal(t, 1, cfg.Timeslot.EnabledWindow)
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("MARKET_SERVER_PORT", "9090")
	t.Setenv("MARKET_AUCTION_DEFAULT_CLEARING_PRICE", "55.5")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Server.Port)
	assert.InDelta(t, 55.5, cfg.Auction.DefaultClearingPrice, 1e-9)
}
