package types

import (
	"sync"
	"time"
)

// Timeslot identifies one discrete simulated trading/delivery hour.
// Serial numbers increase monotonically from the start of the competition.
type Timeslot struct {
	Serial int       `json:"serial"`
	Start  time.Time `json:"start"`
}

// Order is a bid or ask for energy in a future timeslot. A positive MWh
// value is a bid (buy), a negative value is an ask (sell). A nil LimitPrice
// marks a market order, willing to trade at whatever price the auction clears.
type Order struct {
	OrderID    string    `json:"order_id"`
	Broker     string    `json:"broker"`
	Timeslot   int       `json:"timeslot"`
	MWh        float64   `json:"mwh"`
	LimitPrice *float64  `json:"limit_price,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// IsMarketOrder reports whether the order carries no limit price.
func (o Order) IsMarketOrder() bool {
	return o.LimitPrice == nil
}

// IsBuyOrder reports whether the order is a bid.
func (o Order) IsBuyOrder() bool {
	return o.MWh > 0.0
}

// OrderbookOrder is an unmatched remainder left in the book after clearing.
// The price is nil for market orders that survived unmatched.
type OrderbookOrder struct {
	MWh        float64  `json:"mwh"`
	LimitPrice *float64 `json:"limit_price,omitempty"`
}

// Orderbook is the per-timeslot market-depth snapshot published after each
// clearing pass. ClearingPrice is nil when nothing matched. Asks and Bids
// hold the surviving unmatched orders in priority order, and the snapshot is
// immutable once published.
type Orderbook struct {
	Timeslot      int              `json:"timeslot"`
	ClearingPrice *float64         `json:"clearing_price,omitempty"`
	Asks          []OrderbookOrder `json:"asks"`
	Bids          []OrderbookOrder `json:"bids"`
	ExecutedAt    time.Time        `json:"executed_at"`
}

// ClearedTrade reports the uniform-price trade for one timeslot in one
// clearing pass. MWh is always positive.
type ClearedTrade struct {
	Timeslot   int       `json:"timeslot"`
	MWh        float64   `json:"mwh"`
	Price      float64   `json:"price"`
	ExecutedAt time.Time `json:"executed_at"`
}

// Tariff identifies a tariff contract and its owning broker. Tariff
// lifecycle (rates, subscriptions, revocation) is owned elsewhere; the
// market core only needs the identity and the owner for charging.
type Tariff struct {
	ID     string `json:"id"`
	Broker string `json:"broker"`
}

// Customer describes a customer population subscribed to a tariff.
type Customer struct {
	Name       string `json:"name"`
	Population int    `json:"population"`
}

// BalancingControlEvent is an out-of-band exercise of up- or down-regulation
// against a tariff, settled immediately against the owning broker's cash.
type BalancingControlEvent struct {
	Broker   string  `json:"broker"`
	TariffID string  `json:"tariff_id"`
	KWh      float64 `json:"kwh"`
	Payment  float64 `json:"payment"`
	Timeslot int     `json:"timeslot"`
}

// DistributionReport summarizes total customer consumption and production
// for one timeslot, broadcast to all brokers after accounting runs.
type DistributionReport struct {
	Timeslot         int     `json:"timeslot"`
	TotalConsumption float64 `json:"total_consumption"`
	TotalProduction  float64 `json:"total_production"`
}

// Broker is a competing trading agent. Cash balance and per-timeslot market
// positions are owned by the broker record and guarded by its own lock, so
// position updates never need cross-broker coordination.
type Broker struct {
	Username  string `json:"username"`
	Wholesale bool   `json:"wholesale"`

	mu        sync.Mutex
	cash      float64
	positions map[int]float64
}

// NewBroker creates a broker record with zero cash and no positions.
func NewBroker(username string, wholesale bool) *Broker {
	return &Broker{
		Username:  username,
		Wholesale: wholesale,
		positions: make(map[int]float64),
	}
}

// CashBalance returns the broker's settled cash balance.
func (b *Broker) CashBalance() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cash
}

// UpdateCash adds amount (positive or negative) to the cash balance and
// returns the new balance.
func (b *Broker) UpdateCash(amount float64) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cash += amount
	return b.cash
}

// UpdatePosition adds mWh to the broker's net traded position for the given
// timeslot and returns the new balance.
func (b *Broker) UpdatePosition(timeslot int, mWh float64) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.positions[timeslot] += mWh
	return b.positions[timeslot]
}

// PositionBalance returns the broker's net traded position for the given
// timeslot, zero if the broker has never traded it.
func (b *Broker) PositionBalance(timeslot int) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.positions[timeslot]
}

// PositionSnapshot returns an immutable MarketPosition message for the
// given timeslot.
func (b *Broker) PositionSnapshot(timeslot int) MarketPosition {
	return MarketPosition{
		Broker:   b.Username,
		Timeslot: timeslot,
		Balance:  b.PositionBalance(timeslot),
	}
}

// CashSnapshot returns an immutable CashPosition message.
func (b *Broker) CashSnapshot() CashPosition {
	return CashPosition{
		Broker:   b.Username,
		Balance:  b.CashBalance(),
		PostedAt: time.Now(),
	}
}
