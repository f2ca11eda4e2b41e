package accounting

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gridpool/market-core/internal/config"
	"github.com/gridpool/market-core/internal/gateway"
	"github.com/gridpool/market-core/internal/types"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Registry is the read-only collaborator surface the ledger depends on.
type Registry interface {
	CurrentTimeslot() types.Timeslot
	FindBroker(username string) (*types.Broker, error)
	Brokers() []*types.Broker
}

// Service is the ledger: it accumulates market, tariff, balancing,
// distribution, capacity and bank transactions, nets them into per-broker
// cash and position balances, and delivers an ordered message batch to
// every broker once per activation.
//
// Transaction recording is safe under concurrent broker handlers; cash
// balances change only inside Activate.
type Service struct {
	db       *Database
	registry Registry
	gateway  gateway.Gateway

	minInterest  float64
	maxInterest  float64
	bankInterest float64
	creditRatio  float64

	mu            sync.Mutex
	pending       []types.BrokerTransaction
	usage         map[string]types.TariffTransaction
	pendingMarket map[int][]types.MarketTransaction

	lastInterestDay string
}

// NewService creates the ledger. gormDB may be nil, in which case no audit
// rows are persisted. A bank interest rate outside the configured bounds is
// clamped with a warning.
func NewService(gormDB *gorm.DB, reg Registry, gw gateway.Gateway, cfg config.AccountingConfig) *Service {
	s := &Service{
		registry:      reg,
		gateway:       gw,
		minInterest:   cfg.MinInterest,
		maxInterest:   cfg.MaxInterest,
		bankInterest:  cfg.BankInterest,
		creditRatio:   cfg.CreditInterestRatio,
		usage:         make(map[string]types.TariffTransaction),
		pendingMarket: make(map[int][]types.MarketTransaction),
	}
	if gormDB != nil {
		s.db = NewDatabase(gormDB)
	}
	if s.bankInterest < s.minInterest {
		log.Warn().
			Float64("bank_interest", s.bankInterest).
			Float64("min_interest", s.minInterest).
			Msg("bank interest below range, clamping")
		s.bankInterest = s.minInterest
	}
	if s.bankInterest > s.maxInterest {
		log.Warn().
			Float64("bank_interest", s.bankInterest).
			Float64("max_interest", s.maxInterest).
			Msg("bank interest above range, clamping")
		s.bankInterest = s.maxInterest
	}
	return s
}

// BankInterest returns the effective annual interest rate.
func (s *Service) BankInterest() float64 {
	return s.bankInterest
}

// AddMarketTransaction records one matched order fragment. The broker's
// market position for the timeslot is updated immediately; cash posting is
// deferred until the delivery timeslot becomes current.
func (s *Service) AddMarketTransaction(broker string, timeslot int, mWh, price float64) (*types.MarketTransaction, error) {
	b, err := s.registry.FindBroker(broker)
	if err != nil {
		log.Error().Err(err).Str("broker", broker).Msg("market transaction for unknown broker rejected")
		return nil, err
	}

	mtx := types.MarketTransaction{
		TxID:     "MTX_" + uuid.New().String(),
		Broker:   broker,
		Timeslot: timeslot,
		MWh:      mWh,
		Price:    price,
		PostedAt: time.Now(),
	}

	balance := b.UpdatePosition(timeslot, mWh)
	log.Debug().
		Str("broker", broker).
		Int("timeslot", timeslot).
		Float64("mwh", mWh).
		Float64("price", price).
		Float64("position", balance).
		Msg("market transaction recorded")

	s.mu.Lock()
	s.pending = append(s.pending, mtx)
	s.pendingMarket[timeslot] = append(s.pendingMarket[timeslot], mtx)
	s.mu.Unlock()

	s.persistTransaction(&mtx)
	return &mtx, nil
}

// AddTariffTransaction enqueues a tariff transaction against the tariff's
// owning broker. CONSUME and PRODUCE usage transactions are keyed by
// (tariff, customer) so a later correction for the same pair supersedes
// the earlier one within an activation.
func (s *Service) AddTariffTransaction(txType types.TariffTxType, tariff types.Tariff,
	customer types.Customer, customerCount int, kWh, charge float64) (*types.TariffTransaction, error) {

	if _, err := s.registry.FindBroker(tariff.Broker); err != nil {
		log.Error().Err(err).
			Str("tariff", tariff.ID).
			Str("broker", tariff.Broker).
			Msg("tariff transaction for unknown broker rejected")
		return nil, err
	}

	ttx := types.TariffTransaction{
		TxID:          "TTX_" + uuid.New().String(),
		Broker:        tariff.Broker,
		TxType:        txType,
		TariffID:      tariff.ID,
		Customer:      customer.Name,
		CustomerCount: customerCount,
		KWh:           kWh,
		Charge:        charge,
		PostedAt:      time.Now(),
	}

	s.mu.Lock()
	if txType == types.TxConsume || txType == types.TxProduce {
		s.usage[usageKey(tariff, customer)] = ttx
	} else {
		s.pending = append(s.pending, ttx)
	}
	s.mu.Unlock()

	s.persistTransaction(&ttx)
	return &ttx, nil
}

// AddRegulationTransaction enqueues a regulation-flagged tariff transaction
// whose type is derived from the sign of its energy: positive kWh is
// PRODUCE (up-regulation), negative is CONSUME (down-regulation).
func (s *Service) AddRegulationTransaction(tariff types.Tariff, customer types.Customer,
	customerCount int, kWh, charge float64) (*types.TariffTransaction, error) {

	if _, err := s.registry.FindBroker(tariff.Broker); err != nil {
		log.Error().Err(err).
			Str("tariff", tariff.ID).
			Str("broker", tariff.Broker).
			Msg("regulation transaction for unknown broker rejected")
		return nil, err
	}

	txType := types.TxConsume
	if kWh > 0.0 {
		txType = types.TxProduce
	}
	ttx := types.TariffTransaction{
		TxID:          "TTX_" + uuid.New().String(),
		Broker:        tariff.Broker,
		TxType:        txType,
		TariffID:      tariff.ID,
		Customer:      customer.Name,
		CustomerCount: customerCount,
		KWh:           kWh,
		Charge:        charge,
		Regulation:    true,
		PostedAt:      time.Now(),
	}

	s.mu.Lock()
	s.usage[usageKey(tariff, customer)+"/reg"] = ttx
	s.mu.Unlock()

	s.persistTransaction(&ttx)
	return &ttx, nil
}

// AddBalancingTransaction enqueues the cost of balancing a broker's
// portfolio for the current timeslot.
func (s *Service) AddBalancingTransaction(broker string, kWh, charge float64) (*types.BalancingTransaction, error) {
	if _, err := s.registry.FindBroker(broker); err != nil {
		log.Error().Err(err).Str("broker", broker).Msg("balancing transaction for unknown broker rejected")
		return nil, err
	}
	btx := types.BalancingTransaction{
		TxID:     "BTX_" + uuid.New().String(),
		Broker:   broker,
		KWh:      kWh,
		Charge:   charge,
		PostedAt: time.Now(),
	}
	s.mu.Lock()
	s.pending = append(s.pending, btx)
	s.mu.Unlock()
	s.persistTransaction(&btx)
	return &btx, nil
}

// AddDistributionTransaction enqueues the distribution charge for energy
// transported to a broker's customers.
func (s *Service) AddDistributionTransaction(broker string, nSmall, nLarge int,
	transport, charge float64) (*types.DistributionTransaction, error) {

	if _, err := s.registry.FindBroker(broker); err != nil {
		log.Error().Err(err).Str("broker", broker).Msg("distribution transaction for unknown broker rejected")
		return nil, err
	}
	dtx := types.DistributionTransaction{
		TxID:      "DTX_" + uuid.New().String(),
		Broker:    broker,
		NSmall:    nSmall,
		NLarge:    nLarge,
		Transport: transport,
		Charge:    charge,
		PostedAt:  time.Now(),
	}
	s.mu.Lock()
	s.pending = append(s.pending, dtx)
	s.mu.Unlock()
	s.persistTransaction(&dtx)
	return &dtx, nil
}

// AddCapacityTransaction enqueues a capacity fee assessed for a broker's
// contribution to a demand peak.
func (s *Service) AddCapacityTransaction(broker string, peakTimeslot int,
	threshold, kWh, fee float64) (*types.CapacityTransaction, error) {

	if _, err := s.registry.FindBroker(broker); err != nil {
		log.Error().Err(err).Str("broker", broker).Msg("capacity transaction for unknown broker rejected")
		return nil, err
	}
	ctx := types.CapacityTransaction{
		TxID:         "CTX_" + uuid.New().String(),
		Broker:       broker,
		PeakTimeslot: peakTimeslot,
		Threshold:    threshold,
		KWh:          kWh,
		Fee:          fee,
		PostedAt:     time.Now(),
	}
	s.mu.Lock()
	s.pending = append(s.pending, ctx)
	s.mu.Unlock()
	s.persistTransaction(&ctx)
	return &ctx, nil
}

// PostBalancingControl applies an out-of-band regulation payment directly
// to the owning broker's cash, independent of the activation cycle.
func (s *Service) PostBalancingControl(event types.BalancingControlEvent) error {
	b, err := s.registry.FindBroker(event.Broker)
	if err != nil {
		log.Error().Err(err).Str("broker", event.Broker).Msg("balancing control for unknown broker rejected")
		return err
	}
	balance := b.UpdateCash(event.Payment)
	log.Info().
		Str("broker", event.Broker).
		Str("tariff", event.TariffID).
		Float64("payment", event.Payment).
		Float64("kwh", event.KWh).
		Int("timeslot", event.Timeslot).
		Float64("balance", balance).
		Msg("balancing control posted")
	return nil
}

// Activate drains the pending transactions, settles cash per broker,
// applies daily bank interest, and delivers each broker's ordered batch
// through the gateway. It is invoked by the scheduler after the clearing
// engine has run, once per timeslot.
func (s *Service) Activate(t time.Time, phase int) error {
	logger := log.With().Str("service", "accounting").Int("phase", phase).Logger()

	current := s.registry.CurrentTimeslot()
	brokers := s.registry.Brokers()

	drained, matured := s.drain(current.Serial)
	logger.Info().
		Int("timeslot", current.Serial).
		Int("pending", len(drained)).
		Int("matured", len(matured)).
		Msg("activate")

	batches := make(map[string][]interface{}, len(brokers))
	for _, b := range brokers {
		batches[b.Username] = []interface{}{}
	}

	totalConsumption := 0.0
	totalProduction := 0.0
	// tracks which (broker, timeslot) position snapshots are already batched
	positionsSeen := make(map[string]map[int]bool)

	for _, tx := range drained {
		username := tx.TxBroker()
		if _, known := batches[username]; !known {
			logger.Error().Str("broker", username).Msg("pending transaction has unknown broker, dropped")
			continue
		}
		broker, err := s.registry.FindBroker(username)
		if err != nil {
			logger.Error().Err(err).Str("broker", username).Msg("pending transaction has unknown broker, dropped")
			continue
		}
		batches[username] = append(batches[username], tx)

		switch tx := tx.(type) {
		case types.MarketTransaction:
			seen := positionsSeen[username]
			if seen == nil {
				seen = make(map[int]bool)
				positionsSeen[username] = seen
			}
			if !seen[tx.Timeslot] {
				seen[tx.Timeslot] = true
				batches[username] = append(batches[username], broker.PositionSnapshot(tx.Timeslot))
			}
		case types.TariffTransaction:
			broker.UpdateCash(tx.Charge)
			if tx.TxType == types.TxConsume {
				totalConsumption -= tx.KWh
			} else if tx.TxType == types.TxProduce {
				totalProduction += tx.KWh
			}
		case types.BalancingTransaction:
			broker.UpdateCash(tx.Charge)
		case types.DistributionTransaction:
			broker.UpdateCash(tx.Charge)
		case types.CapacityTransaction:
			broker.UpdateCash(tx.Fee)
		case types.BankTransaction:
			// bank transactions are generated here, never enqueued
			logger.Error().Str("tx_id", tx.TxID).Msg("bank transaction in pending list, ignored")
		}
	}

	// market transactions for the delivery timeslot that just became
	// current settle into cash now
	for _, mtx := range matured {
		broker, err := s.registry.FindBroker(mtx.Broker)
		if err != nil {
			logger.Error().Err(err).Str("broker", mtx.Broker).Msg("matured market transaction has unknown broker, dropped")
			continue
		}
		broker.UpdateCash(mtx.Price * math.Abs(mtx.MWh))
	}

	applyInterest := s.interestDue(t)
	rate := s.bankInterest / 365.0

	for _, broker := range brokers {
		if applyInterest {
			brokerRate := rate
			cash := broker.CashBalance()
			if cash >= 0.0 {
				// credit balances earn a reduced rate
				brokerRate *= s.creditRatio
			}
			interest := cash * brokerRate
			bank := types.BankTransaction{
				TxID:     "BNK_" + uuid.New().String(),
				Broker:   broker.Username,
				Amount:   interest,
				PostedAt: t,
			}
			broker.UpdateCash(interest)
			batches[broker.Username] = append(batches[broker.Username], bank)
			s.persistTransaction(&bank)
		}

		cash := broker.CashSnapshot()
		batches[broker.Username] = append(batches[broker.Username], cash)
		logger.Info().
			Str("broker", broker.Username).
			Float64("balance", cash.Balance).
			Int("messages", len(batches[broker.Username])).
			Msg("delivering accounting batch")
		s.gateway.Send(broker.Username, batches[broker.Username])

		if s.db != nil {
			record := &CashPositionRecord{
				Broker:   broker.Username,
				Timeslot: current.Serial,
				Balance:  cash.Balance,
				PostedAt: t,
			}
			if err := s.db.CreateCashPosition(record); err != nil {
				logger.Error().Err(err).Str("broker", broker.Username).Msg("failed to persist cash position")
			}
		}
	}

	s.gateway.Broadcast(types.DistributionReport{
		Timeslot:         current.Serial,
		TotalConsumption: totalConsumption,
		TotalProduction:  totalProduction,
	})
	return nil
}

// drain copies and clears the pending and usage lists, and removes and
// returns the deferred market transactions for the delivery timeslot.
func (s *Service) drain(currentSerial int) ([]types.BrokerTransaction, []types.MarketTransaction) {
	s.mu.Lock()
	defer s.mu.Unlock()

	drained := make([]types.BrokerTransaction, 0, len(s.pending)+len(s.usage))
	drained = append(drained, s.pending...)
	for _, ttx := range s.usage {
		drained = append(drained, ttx)
	}
	s.pending = nil
	s.usage = make(map[string]types.TariffTransaction)

	matured := s.pendingMarket[currentSerial]
	delete(s.pendingMarket, currentSerial)
	return drained, matured
}

// interestDue reports whether t opens a new simulated calendar day. At most
// one application per day, no matter how many activations land in it.
func (s *Service) interestDue(t time.Time) bool {
	day := t.UTC().Format("2006-01-02")
	if s.lastInterestDay == "" {
		s.lastInterestDay = day
		// the very first activation pays interest only if it lands
		// exactly on a day boundary
		return t.UTC().Hour() == 0
	}
	if day != s.lastInterestDay {
		s.lastInterestDay = day
		return true
	}
	return false
}

// CurrentNetLoad returns consumption minus production (in kWh, negative for
// net consumption) across the broker's usage transactions recorded since
// the last activation.
func (s *Service) CurrentNetLoad(broker string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	netLoad := 0.0
	for _, ttx := range s.usage {
		if ttx.Broker == broker {
			netLoad += ttx.KWh
		}
	}
	return netLoad
}

// CurrentSupplyDemandByBroker returns per-broker total consumption and
// production among the usage transactions recorded since the last
// activation.
func (s *Service) CurrentSupplyDemandByBroker() map[string]map[types.TariffTxType]float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make(map[string]map[types.TariffTxType]float64)
	for _, ttx := range s.usage {
		record := result[ttx.Broker]
		if record == nil {
			record = map[types.TariffTxType]float64{
				types.TxConsume: 0.0,
				types.TxProduce: 0.0,
			}
			result[ttx.Broker] = record
		}
		if ttx.TxType == types.TxConsume || ttx.TxType == types.TxProduce {
			record[ttx.TxType] += ttx.KWh
		}
	}
	return result
}

// CurrentMarketPosition returns the broker's net traded quantity for the
// current timeslot.
func (s *Service) CurrentMarketPosition(broker string) (float64, error) {
	b, err := s.registry.FindBroker(broker)
	if err != nil {
		return 0, fmt.Errorf("unknown broker in market position query: %w", err)
	}
	return b.PositionBalance(s.registry.CurrentTimeslot().Serial), nil
}

// PendingTransactions returns a copy of all transactions awaiting the next
// activation, for diagnostics and tests.
func (s *Service) PendingTransactions() []types.BrokerTransaction {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]types.BrokerTransaction, 0, len(s.pending)+len(s.usage))
	result = append(result, s.pending...)
	for _, ttx := range s.usage {
		result = append(result, ttx)
	}
	return result
}

// PendingTariffTransactions returns only the tariff transactions awaiting
// the next activation.
func (s *Service) PendingTariffTransactions() []types.TariffTransaction {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []types.TariffTransaction
	for _, tx := range s.pending {
		if ttx, ok := tx.(types.TariffTransaction); ok {
			result = append(result, ttx)
		}
	}
	for _, ttx := range s.usage {
		result = append(result, ttx)
	}
	return result
}

func usageKey(tariff types.Tariff, customer types.Customer) string {
	return tariff.ID + "/" + customer.Name
}

// persistTransaction writes the audit row for any transaction kind.
func (s *Service) persistTransaction(tx interface{}) {
	if s.db == nil {
		return
	}
	var record TransactionRecord
	switch tx := tx.(type) {
	case *types.MarketTransaction:
		record = TransactionRecord{
			TxID: tx.TxID, Broker: tx.Broker, Kind: "MARKET",
			Timeslot: tx.Timeslot, MWh: tx.MWh, Price: tx.Price, PostedAt: tx.PostedAt,
		}
	case *types.TariffTransaction:
		record = TransactionRecord{
			TxID: tx.TxID, Broker: tx.Broker, Kind: "TARIFF", TxType: string(tx.TxType),
			KWh: tx.KWh, Charge: tx.Charge, Regulation: tx.Regulation, PostedAt: tx.PostedAt,
		}
	case *types.BalancingTransaction:
		record = TransactionRecord{
			TxID: tx.TxID, Broker: tx.Broker, Kind: "BALANCING",
			KWh: tx.KWh, Charge: tx.Charge, PostedAt: tx.PostedAt,
		}
	case *types.DistributionTransaction:
		record = TransactionRecord{
			TxID: tx.TxID, Broker: tx.Broker, Kind: "DISTRIBUTION",
			KWh: tx.Transport, Charge: tx.Charge, PostedAt: tx.PostedAt,
		}
	case *types.CapacityTransaction:
		record = TransactionRecord{
			TxID: tx.TxID, Broker: tx.Broker, Kind: "CAPACITY",
			Timeslot: tx.PeakTimeslot, KWh: tx.KWh, Charge: tx.Fee, PostedAt: tx.PostedAt,
		}
	case *types.BankTransaction:
		record = TransactionRecord{
			TxID: tx.TxID, Broker: tx.Broker, Kind: "BANK",
			Charge: tx.Amount, PostedAt: tx.PostedAt,
		}
	default:
		return
	}
	if err := s.db.CreateTransaction(&record); err != nil {
		log.Error().Err(err).Str("tx_id", record.TxID).Msg("failed to persist transaction")
	}
}
