package auction

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gridpool/market-core/internal/config"
	"github.com/gridpool/market-core/internal/gateway"
	"github.com/gridpool/market-core/internal/types"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// position balance differences below this are treated as zero
const epsilon = 1e-6

// Ledger is the accounting surface the clearing engine posts matched
// fragments to, synchronously during activation.
type Ledger interface {
	AddMarketTransaction(broker string, timeslot int, mWh, price float64) (*types.MarketTransaction, error)
}

// Registry is the read-only collaborator surface the clearing engine
// depends on.
type Registry interface {
	CurrentTimeslot() types.Timeslot
	EnabledTimeslots() []types.Timeslot
	IsEnabled(serial int) bool
	FindBroker(username string) (*types.Broker, error)
}

// AskRange holds the lowest and highest real ask prices seen for one
// enabled timeslot in the latest activation. Nil ends mean the boundary
// order was a market order, or no asks existed.
type AskRange struct {
	Min *float64 `json:"min,omitempty"`
	Max *float64 `json:"max,omitempty"`
}

// Service is the wholesale market clearing engine. Energy for future
// timeslots is traded by submitting bids (positive mWh) and asks (negative
// mWh); once per activation each timeslot with pending orders is cleared by
// a uniform-price double auction and the matched fragments are posted to
// the ledger.
type Service struct {
	db       *Database
	registry Registry
	ledger   Ledger
	gateway  gateway.Gateway
	cfg      config.AuctionConfig

	mu        sync.Mutex
	intake    map[int]map[string]types.Order
	enabled   []types.Timeslot
	askRanges map[int]AskRange
}

// NewService creates the clearing engine. gormDB may be nil, in which case
// no audit rows are persisted.
func NewService(gormDB *gorm.DB, reg Registry, ledger Ledger, gw gateway.Gateway, cfg config.AuctionConfig) *Service {
	s := &Service{
		registry:  reg,
		ledger:    ledger,
		gateway:   gw,
		cfg:       cfg,
		intake:    make(map[int]map[string]types.Order),
		askRanges: make(map[int]AskRange),
	}
	if gormDB != nil {
		s.db = NewDatabase(gormDB)
	}
	return s
}

// SubmitOrder validates and buffers an incoming order. A valid order
// replaces any earlier order from the same broker for the same timeslot;
// an invalid one is logged and dropped with no side effect.
func (s *Service) SubmitOrder(order types.Order) (*types.OrderResponse, error) {
	logger := log.With().
		Str("service", "auction").
		Str("broker", order.Broker).
		Int("timeslot", order.Timeslot).
		Float64("mwh", order.MWh).
		Logger()

	if err := s.validateOrder(order); err != nil {
		logger.Warn().Err(err).Msg("order rejected")
		return nil, err
	}

	if order.OrderID == "" {
		order.OrderID = "ORD_" + uuid.New().String()
	}
	order.CreatedAt = time.Now()

	s.mu.Lock()
	slot := s.intake[order.Timeslot]
	if slot == nil {
		slot = make(map[string]types.Order)
		s.intake[order.Timeslot] = slot
	}
	_, superseded := slot[order.Broker]
	slot[order.Broker] = order
	s.mu.Unlock()

	if s.db != nil {
		if superseded {
			if err := s.db.SupersedeOrders(order.Broker, order.Timeslot); err != nil {
				logger.Error().Err(err).Msg("failed to supersede prior order record")
			}
		}
		record := &OrderRecord{
			OrderID:    order.OrderID,
			Broker:     order.Broker,
			Timeslot:   order.Timeslot,
			MWh:        order.MWh,
			LimitPrice: order.LimitPrice,
			Status:     OrderStatusAccepted,
		}
		if err := s.db.CreateOrder(record); err != nil {
			logger.Error().Err(err).Msg("failed to persist order record")
		}
	}

	logger.Info().
		Str("order_id", order.OrderID).
		Bool("superseded", superseded).
		Msg("order accepted")

	return &types.OrderResponse{
		OrderID:    order.OrderID,
		Broker:     order.Broker,
		Timeslot:   order.Timeslot,
		MWh:        order.MWh,
		LimitPrice: order.LimitPrice,
		Superseded: superseded,
		CreatedAt:  order.CreatedAt,
	}, nil
}

func (s *Service) validateOrder(order types.Order) error {
	if math.IsNaN(order.MWh) || math.IsInf(order.MWh, 0) {
		return errInvalidQuantity(order.MWh)
	}
	if math.Abs(order.MWh) < s.cfg.MinimumOrderQuantity {
		return errBelowMinimum(order.MWh, s.cfg.MinimumOrderQuantity)
	}
	if _, err := s.registry.FindBroker(order.Broker); err != nil {
		return err
	}
	if !s.registry.IsEnabled(order.Timeslot) {
		return errTimeslotDisabled(order.Timeslot)
	}
	return nil
}

// Activate clears every timeslot holding at least one order: it matches
// asks against bids, computes the uniform clearing price, posts matched
// fragments to the ledger, and publishes an Orderbook (always) and a
// ClearedTrade (when anything matched) per timeslot. The intake queues are
// cleared afterward. Invoked by the scheduler before accounting runs.
func (s *Service) Activate(t time.Time, phase int) error {
	logger := log.With().Str("service", "auction").Int("phase", phase).Logger()

	s.mu.Lock()
	snapshot := s.intake
	s.intake = make(map[int]map[string]types.Order)
	if s.enabled == nil {
		s.enabled = s.registry.EnabledTimeslots()
	}
	enabled := s.enabled
	s.mu.Unlock()

	// partition and sort per timeslot
	sortedAsks := make(map[int][]*orderSlot)
	sortedBids := make(map[int][]*orderSlot)
	serials := make([]int, 0, len(snapshot))
	for serial, byBroker := range snapshot {
		serials = append(serials, serial)
		for _, order := range byBroker {
			slot := &orderSlot{order: order, remaining: order.MWh}
			if order.IsBuyOrder() {
				sortedBids[serial] = append(sortedBids[serial], slot)
			} else {
				sortedAsks[serial] = append(sortedAsks[serial], slot)
			}
		}
	}
	sort.Ints(serials)
	for _, slots := range sortedAsks {
		sortSlots(slots)
	}
	for _, slots := range sortedBids {
		sortSlots(slots)
	}
	logger.Info().
		Int("timeslots", len(serials)).
		Int("enabled", len(enabled)).
		Msg("activate")

	s.collectAskRanges(enabled, sortedAsks)

	for _, serial := range serials {
		s.clearTimeslot(serial, sortedAsks[serial], sortedBids[serial], enabled, t)
	}

	// save the enabled set for the next clearing pass
	s.mu.Lock()
	s.enabled = s.registry.EnabledTimeslots()
	s.mu.Unlock()
	return nil
}

type orderSlot struct {
	order     types.Order
	remaining float64 // signed, same convention as the order
}

func (o *orderSlot) exhausted() bool {
	return math.Abs(o.remaining) <= epsilon
}

// sortSlots orders by attractiveness: market orders first, then limit price
// ascending (asks cheapest first; bid prices are negative, so the most
// willing buyer sorts first), ties broken by larger quantity.
func sortSlots(slots []*orderSlot) {
	sort.SliceStable(slots, func(i, j int) bool {
		a, b := slots[i], slots[j]
		am, bm := a.order.IsMarketOrder(), b.order.IsMarketOrder()
		switch {
		case am && bm:
			return math.Abs(a.remaining) > math.Abs(b.remaining)
		case am:
			return true
		case bm:
			return false
		}
		if *a.order.LimitPrice != *b.order.LimitPrice {
			return *a.order.LimitPrice < *b.order.LimitPrice
		}
		return math.Abs(a.remaining) > math.Abs(b.remaining)
	})
}

type pendingTrade struct {
	seller string
	buyer  string
	mWh    float64
}

func (s *Service) clearTimeslot(serial int, asks, bids []*orderSlot, enabled []types.Timeslot, t time.Time) {
	logger := log.With().
		Str("service", "auction").
		Int("timeslot", serial).
		Logger()

	if len(bids) > 0 {
		s.constrainMarketPositions(bids, serial, enabled)
	}
	logger.Info().
		Int("asks", len(asks)).
		Int("bids", len(bids)).
		Msg("clearing timeslot")

	var marginalAsk, marginalBid *float64
	totalMWh := 0.0
	var trades []pendingTrade

	for len(asks) > 0 && len(bids) > 0 {
		ask, bid := asks[0], bids[0]
		if !crosses(ask, bid) {
			break
		}
		marginalAsk = ask.order.LimitPrice
		marginalBid = bid.order.LimitPrice

		transfer := math.Min(bid.remaining, -ask.remaining)
		if transfer > 0.0 {
			logger.Debug().
				Str("seller", ask.order.Broker).
				Str("buyer", bid.order.Broker).
				Float64("mwh", transfer).
				Msg("matched")
			totalMWh += transfer
			trades = append(trades, pendingTrade{
				seller: ask.order.Broker,
				buyer:  bid.order.Broker,
				mWh:    transfer,
			})
			bid.remaining -= transfer
			ask.remaining += transfer
		}
		if bid.exhausted() {
			bids = bids[1:]
		}
		if ask.exhausted() {
			asks = asks[1:]
		}
	}

	var clearingPrice *float64
	if len(trades) > 0 {
		price := s.clearingPrice(marginalAsk, marginalBid)
		clearingPrice = &price
		logger.Info().
			Float64("clearing_price", price).
			Float64("total_mwh", totalMWh).
			Int("fragments", len(trades)).
			Msg("timeslot cleared")

		// every fragment settles at the uniform price: sellers are paid,
		// buyers are charged
		for _, trade := range trades {
			if _, err := s.ledger.AddMarketTransaction(trade.seller, serial, -trade.mWh, price); err != nil {
				logger.Error().Err(err).Str("broker", trade.seller).Msg("failed to post seller fragment")
			}
			if _, err := s.ledger.AddMarketTransaction(trade.buyer, serial, trade.mWh, -price); err != nil {
				logger.Error().Err(err).Str("broker", trade.buyer).Msg("failed to post buyer fragment")
			}
		}
	} else {
		logger.Info().Msg("no crossing orders, book published uncleared")
	}

	book := types.Orderbook{
		Timeslot:      serial,
		ClearingPrice: clearingPrice,
		Asks:          make([]types.OrderbookOrder, 0, len(asks)),
		Bids:          make([]types.OrderbookOrder, 0, len(bids)),
		ExecutedAt:    t,
	}
	for _, ask := range asks {
		book.Asks = append(book.Asks, types.OrderbookOrder{
			MWh:        ask.remaining,
			LimitPrice: ask.order.LimitPrice,
		})
	}
	for _, bid := range bids {
		book.Bids = append(book.Bids, types.OrderbookOrder{
			MWh:        bid.remaining,
			LimitPrice: bid.order.LimitPrice,
		})
	}

	if s.db != nil {
		if err := s.db.CreateOrderbook(book); err != nil {
			logger.Error().Err(err).Msg("failed to persist orderbook")
		}
	}
	s.gateway.Broadcast(book)

	if totalMWh > 0.0 {
		trade := types.ClearedTrade{
			Timeslot:   serial,
			MWh:        totalMWh,
			Price:      *clearingPrice,
			ExecutedAt: t,
		}
		if s.db != nil {
			if err := s.db.CreateTrade(trade); err != nil {
				logger.Error().Err(err).Msg("failed to persist trade")
			}
		}
		s.gateway.Broadcast(trade)
	}
}

// crosses reports whether the best ask and best bid can trade. Market
// orders on either side always cross.
func crosses(ask, bid *orderSlot) bool {
	if ask.order.IsMarketOrder() || bid.order.IsMarketOrder() {
		return true
	}
	return -*bid.order.LimitPrice >= *ask.order.LimitPrice
}

// clearingPrice computes the uniform price from the marginal pair. With
// both limit prices present the surplus is split by sellerSurplusRatio and
// capped at the ask plus the maximum seller margin; a missing price on one
// side prices off the other with the default margin; two market orders
// clear at the configured default price.
func (s *Service) clearingPrice(marginalAsk, marginalBid *float64) float64 {
	switch {
	case marginalBid != nil && marginalAsk != nil:
		price := *marginalAsk + s.cfg.SellerSurplusRatio*(-*marginalBid-*marginalAsk)
		return math.Min(price, *marginalAsk*(1.0+s.cfg.SellerMaxMargin))
	case marginalBid != nil:
		return -*marginalBid / (1.0 + s.cfg.DefaultMargin)
	case marginalAsk != nil:
		return *marginalAsk * (1.0 + s.cfg.DefaultMargin)
	default:
		return s.cfg.DefaultClearingPrice
	}
}

// constrainMarketPositions trims bid quantities so that a non-wholesale
// broker's projected position stays under the leadtime-interpolated limit:
// the limit tightens from mktPosnLimitInitial at the longest leadtime to
// mktPosnLimitFinal at delivery.
func (s *Service) constrainMarketPositions(bids []*orderSlot, serial int, enabled []types.Timeslot) {
	remainingPosn := make(map[string]float64)
	current := s.registry.CurrentTimeslot()

	for _, bid := range bids {
		broker, err := s.registry.FindBroker(bid.order.Broker)
		if err != nil || broker.Wholesale {
			continue
		}
		remaining, cached := remainingPosn[broker.Username]
		if !cached {
			offset := serial - current.Serial
			limit := s.cfg.MktPosnLimitFinal
			if len(enabled) > 1 {
				limit -= float64(offset) *
					(s.cfg.MktPosnLimitFinal - s.cfg.MktPosnLimitInitial) /
					float64(len(enabled)-1)
			}
			remaining = math.Max(0.0, limit-broker.PositionBalance(serial))
		}
		remaining -= bid.remaining
		if remaining < 0.0 {
			qty := bid.remaining + remaining
			log.Info().
				Str("broker", broker.Username).
				Int("timeslot", serial).
				Float64("requested", bid.remaining).
				Float64("adjusted", qty).
				Msg("bid trimmed to market position limit")
			bid.remaining = qty
			remaining = 0.0
		}
		remainingPosn[broker.Username] = remaining
	}
}

// collectAskRanges records the lowest and highest real ask prices per
// enabled timeslot for downstream queries.
func (s *Service) collectAskRanges(enabled []types.Timeslot, sortedAsks map[int][]*orderSlot) {
	ranges := make(map[int]AskRange, len(enabled))
	for _, ts := range enabled {
		asks := sortedAsks[ts.Serial]
		if len(asks) == 0 {
			ranges[ts.Serial] = AskRange{}
			continue
		}
		var r AskRange
		if !asks[0].order.IsMarketOrder() {
			r.Min = asks[0].order.LimitPrice
		}
		if last := asks[len(asks)-1]; !last.order.IsMarketOrder() {
			r.Max = last.order.LimitPrice
		}
		ranges[ts.Serial] = r
	}
	s.mu.Lock()
	s.askRanges = ranges
	s.mu.Unlock()
}

// AskPriceRange returns the latest collected ask price range for a
// timeslot.
func (s *Service) AskPriceRange(serial int) AskRange {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.askRanges[serial]
}

// PendingOrders returns the number of buffered orders per timeslot, for
// diagnostics.
func (s *Service) PendingOrders() map[int]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make(map[int]int, len(s.intake))
	for serial, byBroker := range s.intake {
		result[serial] = len(byBroker)
	}
	return result
}
