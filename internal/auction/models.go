package auction

import (
	"time"

	"gorm.io/gorm"
)

const (
	OrderStatusAccepted   = "ACCEPTED"
	OrderStatusSuperseded = "SUPERSEDED"
)

// OrderRecord is the audit row for every accepted order. A superseded
// record stays in the table with its status flipped.
type OrderRecord struct {
	gorm.Model `json:"-"`
	OrderID    string   `gorm:"uniqueIndex" json:"order_id"`
	Broker     string   `gorm:"index" json:"broker"`
	Timeslot   int      `gorm:"index" json:"timeslot"`
	MWh        float64  `json:"mwh"`
	LimitPrice *float64 `json:"limit_price,omitempty"`
	Status     string   `json:"status"`
}

// OrderbookRecord persists one published market-depth snapshot. Asks and
// Bids are JSON arrays of unmatched remainders.
type OrderbookRecord struct {
	gorm.Model    `json:"-"`
	Timeslot      int       `gorm:"index" json:"timeslot"`
	ClearingPrice *float64  `json:"clearing_price,omitempty"`
	Asks          string    `json:"asks"`
	Bids          string    `json:"bids"`
	ExecutedAt    time.Time `json:"executed_at"`
}

// TradeRecord persists one uniform-price cleared trade.
type TradeRecord struct {
	gorm.Model `json:"-"`
	TradeID    string    `gorm:"uniqueIndex" json:"trade_id"`
	Timeslot   int       `gorm:"index" json:"timeslot"`
	MWh        float64   `json:"mwh"`
	Price      float64   `json:"price"`
	ExecutedAt time.Time `json:"executed_at"`
}
