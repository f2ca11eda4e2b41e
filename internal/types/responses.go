package types

import "time"

// OrderResponse confirms acceptance of a submitted order. Superseded is set
// when the order replaced an earlier order from the same broker for the
// same timeslot.
type OrderResponse struct {
	OrderID    string    `json:"order_id"`
	Broker     string    `json:"broker"`
	Timeslot   int       `json:"timeslot"`
	MWh        float64   `json:"mwh"`
	LimitPrice *float64  `json:"limit_price,omitempty"`
	Superseded bool      `json:"superseded"`
	CreatedAt  time.Time `json:"created_at"`
}

// BrokerStatusResponse reports a broker's settled cash and current-timeslot
// market position.
type BrokerStatusResponse struct {
	Broker          string  `json:"broker"`
	CashBalance     float64 `json:"cash_balance"`
	CurrentTimeslot int     `json:"current_timeslot"`
	MarketPosition  float64 `json:"market_position"`
}

// StepResponse reports the result of advancing the simulation one timeslot.
type StepResponse struct {
	Timeslot  int       `json:"timeslot"`
	SteppedAt time.Time `json:"stepped_at"`
}
