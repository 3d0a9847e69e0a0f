package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Order sides
const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Side represents the direction of an order
type Side string

// Opposite returns the side a given order matches against
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Valid reports whether the side is one of the two known values
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// Command is implemented by all commands routed to a book aggregate.
// CommandID is a caller-supplied token used for idempotency and tracing.
type Command interface {
	Instrument() string
	CommandID() uuid.UUID
}

// PlaceOrder requests placement of a new limit order
type PlaceOrder struct {
	InstrumentID string          `json:"instrument_id"`
	ID           uuid.UUID       `json:"command_id"`
	Side         Side            `json:"side"`
	Amount       decimal.Decimal `json:"amount"`
	Price        decimal.Decimal `json:"price"`
}

// Instrument returns the aggregate the command is routed to
func (c PlaceOrder) Instrument() string { return c.InstrumentID }

// CommandID returns the unique command token
func (c PlaceOrder) CommandID() uuid.UUID { return c.ID }

// CancelOrder requests cancellation of a resting order. When CancelAll is
// false the order is reduced to NewAmount instead of being removed.
type CancelOrder struct {
	InstrumentID string          `json:"instrument_id"`
	ID           uuid.UUID       `json:"command_id"`
	OrderID      int64           `json:"order_id"`
	CancelAll    bool            `json:"cancel_all"`
	NewAmount    decimal.Decimal `json:"new_amount"`
}

// Instrument returns the aggregate the command is routed to
func (c CancelOrder) Instrument() string { return c.InstrumentID }

// CommandID returns the unique command token
func (c CancelOrder) CommandID() uuid.UUID { return c.ID }

// TradeRecord is a single execution applied to an order's projection
type TradeRecord struct {
	OrderID int64           `json:"order_id"`
	Amount  decimal.Decimal `json:"amount"`
	Price   decimal.Decimal `json:"price"`
}

// OrderView is the materialized read-side projection of one order.
// Trades are ordered by execution time. The invariant
// sum(trades.amount) + pending == amount holds at every point.
type OrderView struct {
	OrderID        int64           `json:"order_id"`
	EntryTimestamp time.Time       `json:"entry_timestamp"`
	InstrumentID   string          `json:"instrument_id"`
	Price          decimal.Decimal `json:"price"`
	Amount         decimal.Decimal `json:"amount"`
	Side           Side            `json:"side"`
	Trades         []TradeRecord   `json:"trades"`
	PendingAmount  decimal.Decimal `json:"pending_amount"`
}
