package accounting

import (
	"fmt"

	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// CreateTransaction persists one transaction audit row.
func (d *Database) CreateTransaction(record *TransactionRecord) error {
	return d.db.Create(record).Error
}

// CreateCashPosition persists one cash snapshot.
func (d *Database) CreateCashPosition(record *CashPositionRecord) error {
	return d.db.Create(record).Error
}

// GetTransactionsByBroker returns the audit trail for one broker, newest
// first.
func (d *Database) GetTransactionsByBroker(broker string, limit int) ([]TransactionRecord, error) {
	var records []TransactionRecord
	if err := d.db.Where("broker = ?", broker).
		Order("created_at DESC").
		Limit(limit).
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch transactions for broker: %w", err)
	}
	return records, nil
}

// GetCashHistory returns the persisted cash snapshots for one broker,
// newest first.
func (d *Database) GetCashHistory(broker string, limit int) ([]CashPositionRecord, error) {
	var records []CashPositionRecord
	if err := d.db.Where("broker = ?", broker).
		Order("created_at DESC").
		Limit(limit).
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch cash history: %w", err)
	}
	return records, nil
}
