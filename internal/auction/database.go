package auction

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/gridpool/market-core/internal/types"
	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// CreateOrder persists an accepted order.
func (d *Database) CreateOrder(record *OrderRecord) error {
	return d.db.Create(record).Error
}

// SupersedeOrders marks any live order from the broker for the timeslot as
// superseded.
func (d *Database) SupersedeOrders(broker string, timeslot int) error {
	return d.db.Model(&OrderRecord{}).
		Where("broker = ? AND timeslot = ? AND status = ?", broker, timeslot, OrderStatusAccepted).
		Update("status", OrderStatusSuperseded).Error
}

// CreateOrderbook persists a published orderbook snapshot.
func (d *Database) CreateOrderbook(book types.Orderbook) error {
	asks, err := json.Marshal(book.Asks)
	if err != nil {
		return fmt.Errorf("failed to marshal asks: %w", err)
	}
	bids, err := json.Marshal(book.Bids)
	if err != nil {
		return fmt.Errorf("failed to marshal bids: %w", err)
	}
	record := &OrderbookRecord{
		Timeslot:      book.Timeslot,
		ClearingPrice: book.ClearingPrice,
		Asks:          string(asks),
		Bids:          string(bids),
		ExecutedAt:    book.ExecutedAt,
	}
	return d.db.Create(record).Error
}

// GetLatestOrderbook returns the most recently published snapshot for a
// timeslot.
func (d *Database) GetLatestOrderbook(timeslot int) (*types.Orderbook, error) {
	var record OrderbookRecord
	if err := d.db.Where("timeslot = ?", timeslot).
		Order("created_at DESC").
		First(&record).Error; err != nil {
		return nil, err
	}

	book := types.Orderbook{
		Timeslot:      record.Timeslot,
		ClearingPrice: record.ClearingPrice,
		ExecutedAt:    record.ExecutedAt,
	}
	if err := json.Unmarshal([]byte(record.Asks), &book.Asks); err != nil {
		return nil, fmt.Errorf("failed to unmarshal asks: %w", err)
	}
	if err := json.Unmarshal([]byte(record.Bids), &book.Bids); err != nil {
		return nil, fmt.Errorf("failed to unmarshal bids: %w", err)
	}
	return &book, nil
}

// CreateTrade persists a cleared trade.
func (d *Database) CreateTrade(trade types.ClearedTrade) error {
	record := &TradeRecord{
		TradeID:    "TRD_" + uuid.New().String(),
		Timeslot:   trade.Timeslot,
		MWh:        trade.MWh,
		Price:      trade.Price,
		ExecutedAt: trade.ExecutedAt,
	}
	return d.db.Create(record).Error
}

// GetTradesByTimeslot returns all cleared trades for a timeslot, oldest
// first.
func (d *Database) GetTradesByTimeslot(timeslot int) ([]TradeRecord, error) {
	var records []TradeRecord
	if err := d.db.Where("timeslot = ?", timeslot).
		Order("created_at ASC").
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch trades: %w", err)
	}
	return records, nil
}
