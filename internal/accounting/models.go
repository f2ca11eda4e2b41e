package accounting

import (
	"time"

	"gorm.io/gorm"
)

// TransactionRecord is the audit row persisted for every transaction the
// ledger accepts, across all transaction kinds. Columns not meaningful for
// a kind are left at zero.
type TransactionRecord struct {
	gorm.Model `json:"-"`
	TxID       string    `gorm:"uniqueIndex" json:"tx_id"`
	Broker     string    `gorm:"index" json:"broker"`
	Kind       string    `json:"kind"` // MARKET, TARIFF, BALANCING, DISTRIBUTION, CAPACITY, BANK
	TxType     string    `json:"tx_type,omitempty"`
	Timeslot   int       `json:"timeslot"`
	MWh        float64   `json:"mwh"`
	KWh        float64   `json:"kwh"`
	Price      float64   `json:"price"`
	Charge     float64   `json:"charge"`
	Regulation bool      `json:"regulation"`
	PostedAt   time.Time `json:"posted_at"`
}

// CashPositionRecord is one settled cash snapshot per broker per
// activation.
type CashPositionRecord struct {
	gorm.Model `json:"-"`
	Broker     string    `gorm:"index" json:"broker"`
	Timeslot   int       `json:"timeslot"`
	Balance    float64   `json:"balance"`
	PostedAt   time.Time `json:"posted_at"`
}
