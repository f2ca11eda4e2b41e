package accounting

import (
	"testing"
	"time"

	"github.com/gridpool/market-core/internal/config"
	"github.com/gridpool/market-core/internal/gateway"
	"github.com/gridpool/market-core/internal/registry"
	"github.com/gridpool/market-core/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testBase = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

func newTestLedger(t *testing.T, cfg config.AccountingConfig) (*Service, *registry.Service, *gateway.RecordingGateway) {
	t.Helper()

	reg := registry.NewService(testBase, config.Default().Timeslot)
	for _, username := range []string{"alice", "bob"} {
		_, err := reg.AddBroker(username, false)
		require.NoError(t, err)
	}
	gw := gateway.NewRecordingGateway()
	return NewService(nil, reg, gw, cfg), reg, gw
}

// noon avoids the day-boundary interest check in tests that are not about
// interest.
func noon(day int) time.Time {
	return time.Date(2025, 6, day, 12, 0, 0, 0, time.UTC)
}

func TestActivateDeliversHeartbeatWhenIdle(t *testing.T) {
	svc, _, gw := newTestLedger(t, config.Default().Accounting)

	require.NoError(t, svc.Activate(noon(1), 2))

	for _, username := range []string{"alice", "bob"} {
		batch := gw.LastBatch(username)
		require.Len(t, batch, 1, "idle batch for %s", username)
		cash, ok := batch[0].(types.CashPosition)
		require.True(t, ok)
		assert.Equal(t, username, cash.Broker)
		assert.InDelta(t, 0.0, cash.Balance, 1e-9)
	}

	broadcasts := gw.Broadcasts()
	require.Len(t, broadcasts, 1)
	report, ok := broadcasts[0].(types.DistributionReport)
	require.True(t, ok)
	assert.InDelta(t, 0.0, report.TotalConsumption, 1e-9)
	assert.InDelta(t, 0.0, report.TotalProduction, 1e-9)
}

func TestMarketCashSettlesAtDelivery(t *testing.T) {
	svc, reg, gw := newTestLedger(t, config.Default().Accounting)

	// buyer fragment: 50 MWh at 20 each, money out
	_, err := svc.AddMarketTransaction("alice", 2, 50.0, -20.0)
	require.NoError(t, err)

	alice, err := reg.FindBroker("alice")
	require.NoError(t, err)
	assert.InDelta(t, 50.0, alice.PositionBalance(2), 1e-9, "position updates immediately")

	// first activation delivers the transaction but no cash moves yet
	require.NoError(t, svc.Activate(noon(1), 2))
	assert.InDelta(t, 0.0, alice.CashBalance(), 1e-9)

	batch := gw.LastBatch("alice")
	require.Len(t, batch, 3)
	_, ok := batch[0].(types.MarketTransaction)
	require.True(t, ok)
	position, ok := batch[1].(types.MarketPosition)
	require.True(t, ok)
	assert.Equal(t, 2, position.Timeslot)
	assert.InDelta(t, 50.0, position.Balance, 1e-9)
	_, ok = batch[2].(types.CashPosition)
	require.True(t, ok)

	// advance to the delivery timeslot; now the cash posts
	reg.Advance()
	reg.Advance()
	require.NoError(t, svc.Activate(noon(1), 2))
	assert.InDelta(t, -1000.0, alice.CashBalance(), 1e-9)

	// the settled transaction is not redelivered
	batches := gw.Batches("alice")
	require.Len(t, batches, 2)
	require.Len(t, batches[1], 1)
	_, ok = batches[1][0].(types.CashPosition)
	assert.True(t, ok)
}

func TestMarketSettlementIsZeroSum(t *testing.T) {
	svc, reg, _ := newTestLedger(t, config.Default().Accounting)

	_, err := svc.AddMarketTransaction("alice", 1, 8.0, -21.0)
	require.NoError(t, err)
	_, err = svc.AddMarketTransaction("bob", 1, -8.0, 21.0)
	require.NoError(t, err)

	reg.Advance()
	require.NoError(t, svc.Activate(noon(1), 2))

	alice, _ := reg.FindBroker("alice")
	bob, _ := reg.FindBroker("bob")
	assert.InDelta(t, -168.0, alice.CashBalance(), 1e-9)
	assert.InDelta(t, 168.0, bob.CashBalance(), 1e-9)
	assert.InDelta(t, 0.0, alice.CashBalance()+bob.CashBalance(), 1e-9)
}

func TestTariffChargesSettleOnActivation(t *testing.T) {
	svc, reg, gw := newTestLedger(t, config.Default().Accounting)
	tariff := types.Tariff{ID: "T1", Broker: "alice"}
	customer := types.Customer{Name: "village", Population: 30}

	_, err := svc.AddTariffTransaction(types.TxConsume, tariff, customer, 30, -100.0, 15.0)
	require.NoError(t, err)
	_, err = svc.AddTariffTransaction(types.TxPeriodic, tariff, customer, 30, 0.0, 5.0)
	require.NoError(t, err)

	require.NoError(t, svc.Activate(noon(1), 2))

	alice, _ := reg.FindBroker("alice")
	assert.InDelta(t, 20.0, alice.CashBalance(), 1e-9)

	broadcasts := gw.Broadcasts()
	require.Len(t, broadcasts, 1)
	report := broadcasts[0].(types.DistributionReport)
	assert.InDelta(t, 100.0, report.TotalConsumption, 1e-9)
	assert.InDelta(t, 0.0, report.TotalProduction, 1e-9)
}

func TestUsageCorrectionSupersedesEarlierRecord(t *testing.T) {
	svc, reg, _ := newTestLedger(t, config.Default().Accounting)
	tariff := types.Tariff{ID: "T1", Broker: "alice"}
	customer := types.Customer{Name: "village", Population: 30}

	_, err := svc.AddTariffTransaction(types.TxConsume, tariff, customer, 30, -100.0, 15.0)
	require.NoError(t, err)
	_, err = svc.AddTariffTransaction(types.TxConsume, tariff, customer, 30, -120.0, 18.0)
	require.NoError(t, err)

	pending := svc.PendingTariffTransactions()
	require.Len(t, pending, 1)
	assert.InDelta(t, -120.0, pending[0].KWh, 1e-9)
	assert.InDelta(t, -120.0, svc.CurrentNetLoad("alice"), 1e-9)

	require.NoError(t, svc.Activate(noon(1), 2))
	alice, _ := reg.FindBroker("alice")
	assert.InDelta(t, 18.0, alice.CashBalance(), 1e-9, "only the correction settles")
}

func TestRegulationTransactionTyping(t *testing.T) {
	svc, _, _ := newTestLedger(t, config.Default().Accounting)
	tariff := types.Tariff{ID: "T1", Broker: "alice"}

	up, err := svc.AddRegulationTransaction(tariff, types.Customer{Name: "battery"}, 1, 10.0, -2.5)
	require.NoError(t, err)
	assert.Equal(t, types.TxProduce, up.TxType)
	assert.True(t, up.Regulation)

	down, err := svc.AddRegulationTransaction(tariff, types.Customer{Name: "heater"}, 1, -10.0, 1.5)
	require.NoError(t, err)
	assert.Equal(t, types.TxConsume, down.TxType)
	assert.True(t, down.Regulation)

	// regulation records live alongside baseline usage for the same pair
	_, err = svc.AddTariffTransaction(types.TxConsume, tariff, types.Customer{Name: "heater"}, 1, -50.0, 7.5)
	require.NoError(t, err)
	assert.Len(t, svc.PendingTariffTransactions(), 3)
}

func TestSupplyDemandByBroker(t *testing.T) {
	svc, _, _ := newTestLedger(t, config.Default().Accounting)

	_, err := svc.AddTariffTransaction(types.TxConsume,
		types.Tariff{ID: "T1", Broker: "alice"}, types.Customer{Name: "village"}, 30, -100.0, 15.0)
	require.NoError(t, err)
	_, err = svc.AddTariffTransaction(types.TxProduce,
		types.Tariff{ID: "T2", Broker: "bob"}, types.Customer{Name: "solar"}, 10, 40.0, -4.0)
	require.NoError(t, err)

	byBroker := svc.CurrentSupplyDemandByBroker()
	require.Contains(t, byBroker, "alice")
	require.Contains(t, byBroker, "bob")
	assert.InDelta(t, -100.0, byBroker["alice"][types.TxConsume], 1e-9)
	assert.InDelta(t, 40.0, byBroker["bob"][types.TxProduce], 1e-9)
}

func TestDailyInterest(t *testing.T) {
	cfg := config.AccountingConfig{
		MinInterest: 0.04, MaxInterest: 0.12, BankInterest: 0.12,
		CreditInterestRatio: 0.5,
	}

	t.Run("debit balances pay the full rate", func(t *testing.T) {
		svc, reg, gw := newTestLedger(t, cfg)
		alice, _ := reg.FindBroker("alice")
		alice.UpdateCash(-1000.0)

		// first activation lands exactly on a day boundary
		require.NoError(t, svc.Activate(time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC), 2))

		expected := -1000.0 * 0.12 / 365.0
		assert.InDelta(t, -1000.0+expected, alice.CashBalance(), 1e-9)

		batch := gw.LastBatch("alice")
		require.Len(t, batch, 2)
		bank, ok := batch[0].(types.BankTransaction)
		require.True(t, ok)
		assert.InDelta(t, expected, bank.Amount, 1e-9)
	})

	t.Run("credit balances earn half the rate", func(t *testing.T) {
		svc, reg, _ := newTestLedger(t, cfg)
		bob, _ := reg.FindBroker("bob")
		bob.UpdateCash(1000.0)

		require.NoError(t, svc.Activate(time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC), 2))

		expected := 1000.0 * 0.12 / 365.0 / 2.0
		assert.InDelta(t, 1000.0+expected, bob.CashBalance(), 1e-9)
	})

	t.Run("applied at most once per day", func(t *testing.T) {
		svc, reg, gw := newTestLedger(t, cfg)
		alice, _ := reg.FindBroker("alice")
		alice.UpdateCash(-1000.0)

		require.NoError(t, svc.Activate(time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC), 2))
		afterFirst := alice.CashBalance()

		require.NoError(t, svc.Activate(time.Date(2025, 6, 2, 6, 0, 0, 0, time.UTC), 2))
		assert.InDelta(t, afterFirst, alice.CashBalance(), 1e-9)
		require.Len(t, gw.LastBatch("alice"), 1, "no bank transaction on the second pass")

		require.NoError(t, svc.Activate(time.Date(2025, 6, 3, 0, 0, 0, 0, time.UTC), 2))
		assert.Less(t, alice.CashBalance(), afterFirst)
	})

	t.Run("credit ratio is configurable", func(t *testing.T) {
		full := cfg
		full.CreditInterestRatio = 1.0
		svc, reg, _ := newTestLedger(t, full)
		bob, _ := reg.FindBroker("bob")
		bob.UpdateCash(1000.0)

		require.NoError(t, svc.Activate(time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC), 2))

		expected := 1000.0 * 0.12 / 365.0
		assert.InDelta(t, 1000.0+expected, bob.CashBalance(), 1e-9)
	})

	t.Run("mid-day start defers the first application", func(t *testing.T) {
		svc, reg, gw := newTestLedger(t, cfg)
		alice, _ := reg.FindBroker("alice")
		alice.UpdateCash(-1000.0)

		require.NoError(t, svc.Activate(noon(1), 2))
		assert.InDelta(t, -1000.0, alice.CashBalance(), 1e-9)
		require.Len(t, gw.LastBatch("alice"), 1)
	})
}

func TestInterestRateClamping(t *testing.T) {
	reg := registry.NewService(testBase, config.Default().Timeslot)
	gw := gateway.NewRecordingGateway()

	high := NewService(nil, reg, gw, config.AccountingConfig{MinInterest: 0.04, MaxInterest: 0.12, BankInterest: 0.5})
	assert.InDelta(t, 0.12, high.BankInterest(), 1e-9)

	low := NewService(nil, reg, gw, config.AccountingConfig{MinInterest: 0.04, MaxInterest: 0.12, BankInterest: 0.01})
	assert.InDelta(t, 0.04, low.BankInterest(), 1e-9)
}

func TestBalancingControlPostsImmediately(t *testing.T) {
	svc, reg, _ := newTestLedger(t, config.Default().Accounting)

	err := svc.PostBalancingControl(types.BalancingControlEvent{
		Broker:   "alice",
		TariffID: "T1",
		KWh:      25.0,
		Payment:  12.5,
		Timeslot: 3,
	})
	require.NoError(t, err)

	alice, _ := reg.FindBroker("alice")
	assert.InDelta(t, 12.5, alice.CashBalance(), 1e-9)
}

func TestOtherTransactionKindsSettle(t *testing.T) {
	svc, reg, gw := newTestLedger(t, config.Default().Accounting)

	_, err := svc.AddBalancingTransaction("alice", -15.0, -3.0)
	require.NoError(t, err)
	_, err = svc.AddDistributionTransaction("alice", 30, 0, 120.0, -6.0)
	require.NoError(t, err)
	_, err = svc.AddCapacityTransaction("alice", 5, 80.0, 20.0, -9.0)
	require.NoError(t, err)

	require.NoError(t, svc.Activate(noon(1), 2))

	alice, _ := reg.FindBroker("alice")
	assert.InDelta(t, -18.0, alice.CashBalance(), 1e-9)

	batch := gw.LastBatch("alice")
	require.Len(t, batch, 4)
	_, ok := batch[len(batch)-1].(types.CashPosition)
	assert.True(t, ok, "batch always ends with the cash position")
}

func TestUnknownBrokerRejected(t *testing.T) {
	svc, _, _ := newTestLedger(t, config.Default().Accounting)
	tariff := types.Tariff{ID: "T1", Broker: "mallory"}

	_, err := svc.AddMarketTransaction("mallory", 1, 5.0, -20.0)
	assert.Error(t, err)
	_, err = svc.AddTariffTransaction(types.TxConsume, tariff, types.Customer{Name: "x"}, 1, -1.0, 0.1)
	assert.Error(t, err)
	_, err = svc.AddRegulationTransaction(tariff, types.Customer{Name: "x"}, 1, 1.0, 0.1)
	assert.Error(t, err)
	_, err = svc.AddBalancingTransaction("mallory", 1.0, 0.1)
	assert.Error(t, err)
	_, err = svc.AddDistributionTransaction("mallory", 1, 0, 1.0, 0.1)
	assert.Error(t, err)
	_, err = svc.AddCapacityTransaction("mallory", 1, 1.0, 1.0, 0.1)
	assert.Error(t, err)
	err = svc.PostBalancingControl(types.BalancingControlEvent{Broker: "mallory"})
	assert.Error(t, err)

	assert.Empty(t, svc.PendingTransactions())
}

func TestActivateDrainsPending(t *testing.T) {
	svc, _, _ := newTestLedger(t, config.Default().Accounting)

	_, err := svc.AddBalancingTransaction("alice", -15.0, -3.0)
	require.NoError(t, err)
	require.Len(t, svc.PendingTransactions(), 1)

	require.NoError(t, svc.Activate(noon(1), 2))
	assert.Empty(t, svc.PendingTransactions())
}
