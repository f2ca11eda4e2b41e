package types

import "time"

// TariffTxType distinguishes the kinds of tariff transactions.
type TariffTxType string

const (
	TxSignup   TariffTxType = "SIGNUP"
	TxWithdraw TariffTxType = "WITHDRAW"
	TxConsume  TariffTxType = "CONSUME"
	TxProduce  TariffTxType = "PRODUCE"
	TxPeriodic TariffTxType = "PERIODIC"
	TxPublish  TariffTxType = "PUBLISH"
	TxRevoke   TariffTxType = "REVOKE"
	TxRefund   TariffTxType = "REFUND"
)

// BrokerTransaction is any economic event pending delivery to a broker in
// the next accounting activation. The concrete transaction structs below
// form a closed set; the ledger only needs to enqueue, charge and serialize
// them, so a one-method interface beats an inheritance hierarchy here.
type BrokerTransaction interface {
	TxBroker() string
}

// MarketTransaction records one matched order fragment from the wholesale
// market. Sellers carry negative MWh at a positive price (money in), buyers
// positive MWh at a negative price (money out). Cash settlement is deferred
// to the delivery timeslot; the position update is immediate.
type MarketTransaction struct {
	TxID     string    `json:"tx_id"`
	Broker   string    `json:"broker"`
	Timeslot int       `json:"timeslot"`
	MWh      float64   `json:"mwh"`
	Price    float64   `json:"price"`
	PostedAt time.Time `json:"posted_at"`
}

func (t MarketTransaction) TxBroker() string { return t.Broker }

// TariffTransaction records a tariff-driven charge or payment. Negative kWh
// is net consumption (charge normally positive), positive kWh is net
// production (charge normally negative). Regulation marks dispatched
// flexibility rather than baseline usage.
type TariffTransaction struct {
	TxID          string       `json:"tx_id"`
	Broker        string       `json:"broker"`
	TxType        TariffTxType `json:"tx_type"`
	TariffID      string       `json:"tariff_id"`
	Customer      string       `json:"customer"`
	CustomerCount int          `json:"customer_count"`
	KWh           float64      `json:"kwh"`
	Charge        float64      `json:"charge"`
	Regulation    bool         `json:"regulation"`
	PostedAt      time.Time    `json:"posted_at"`
}

func (t TariffTransaction) TxBroker() string { return t.Broker }

// BalancingTransaction records the cost of balancing a broker's portfolio
// in one timeslot.
type BalancingTransaction struct {
	TxID     string    `json:"tx_id"`
	Broker   string    `json:"broker"`
	KWh      float64   `json:"kwh"`
	Charge   float64   `json:"charge"`
	PostedAt time.Time `json:"posted_at"`
}

func (t BalancingTransaction) TxBroker() string { return t.Broker }

// DistributionTransaction records the distribution-utility charge for
// transporting energy to a broker's customers.
type DistributionTransaction struct {
	TxID      string    `json:"tx_id"`
	Broker    string    `json:"broker"`
	NSmall    int       `json:"n_small"`
	NLarge    int       `json:"n_large"`
	Transport float64   `json:"transport"`
	Charge    float64   `json:"charge"`
	PostedAt  time.Time `json:"posted_at"`
}

func (t DistributionTransaction) TxBroker() string { return t.Broker }

// CapacityTransaction records a demand-peak capacity fee.
type CapacityTransaction struct {
	TxID         string    `json:"tx_id"`
	Broker       string    `json:"broker"`
	PeakTimeslot int       `json:"peak_timeslot"`
	Threshold    float64   `json:"threshold"`
	KWh          float64   `json:"kwh"`
	Fee          float64   `json:"fee"`
	PostedAt     time.Time `json:"posted_at"`
}

func (t CapacityTransaction) TxBroker() string { return t.Broker }

// BankTransaction records daily interest charged or credited on the
// broker's cash balance.
type BankTransaction struct {
	TxID     string    `json:"tx_id"`
	Broker   string    `json:"broker"`
	Amount   float64   `json:"amount"`
	PostedAt time.Time `json:"posted_at"`
}

func (t BankTransaction) TxBroker() string { return t.Broker }

// CashPosition is the authoritative settled-money snapshot sent to a broker
// at the end of each accounting batch.
type CashPosition struct {
	Broker   string    `json:"broker"`
	Balance  float64   `json:"balance"`
	PostedAt time.Time `json:"posted_at"`
}

// MarketPosition is the broker's net traded quantity for one timeslot.
type MarketPosition struct {
	Broker   string  `json:"broker"`
	Timeslot int     `json:"timeslot"`
	Balance  float64 `json:"balance"`
}
