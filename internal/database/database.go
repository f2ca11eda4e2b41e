package database

import (
	"github.com/gridpool/market-core/internal/accounting"
	"github.com/gridpool/market-core/internal/auction"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// NewDatabase opens the sqlite audit store at the given path and migrates
// the market schemas.
func NewDatabase(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	err = db.AutoMigrate(
		&auction.OrderRecord{},
		&auction.OrderbookRecord{},
		&auction.TradeRecord{},
		&accounting.TransactionRecord{},
		&accounting.CashPositionRecord{},
	)
	if err != nil {
		return nil, err
	}

	return db, nil
}
