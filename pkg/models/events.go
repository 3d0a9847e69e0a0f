package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event is implemented by everything a book aggregate emits on its feed.
type Event interface {
	Instrument() string
}

// SourcingEvent marks events that belong to the aggregate's authoritative
// history. They are the value returned to the command issuer.
type SourcingEvent interface {
	Event
	isSourcingEvent()
}

// UpdateEvent marks events derived from matching activity. They are consumed
// only to refresh read-side projections and are never replayed as history.
type UpdateEvent interface {
	Event
	isUpdateEvent()
}

// OrderAccepted signals that a placement passed validation and an order id
// was allocated. Returned synchronously to the caller.
type OrderAccepted struct {
	InstrumentID string          `json:"instrument_id"`
	OrderID      int64           `json:"order_id"`
	Side         Side            `json:"side"`
	Amount       decimal.Decimal `json:"amount"`
	Price        decimal.Decimal `json:"price"`
	Timestamp    time.Time       `json:"timestamp"`
}

// Instrument returns the emitting aggregate's id
func (e OrderAccepted) Instrument() string { return e.InstrumentID }

func (OrderAccepted) isSourcingEvent() {}

// OrderRejected signals that a placement failed validation. The book is not
// mutated and no order id is allocated.
type OrderRejected struct {
	InstrumentID string          `json:"instrument_id"`
	Side         Side            `json:"side"`
	Amount       decimal.Decimal `json:"amount"`
	Price        decimal.Decimal `json:"price"`
	Cause        string          `json:"cause"`
}

// Instrument returns the emitting aggregate's id
func (e OrderRejected) Instrument() string { return e.InstrumentID }

func (OrderRejected) isSourcingEvent() {}

// OrderPlaced signals that the unmatched remainder of an order entered the
// book as a resting order.
type OrderPlaced struct {
	InstrumentID    string          `json:"instrument_id"`
	OrderID         int64           `json:"order_id"`
	Timestamp       time.Time       `json:"timestamp"`
	Side            Side            `json:"side"`
	Price           decimal.Decimal `json:"price"`
	RemainingAmount decimal.Decimal `json:"remaining_amount"`
}

// Instrument returns the emitting aggregate's id
func (e OrderPlaced) Instrument() string { return e.InstrumentID }

func (OrderPlaced) isUpdateEvent() {}

// OrderMatched signals one execution between an incoming order and a resting
// order. The execution price is always the resting order's price.
type OrderMatched struct {
	InstrumentID          string          `json:"instrument_id"`
	RestingOrderID        int64           `json:"resting_order_id"`
	RestingEntryTimestamp time.Time       `json:"resting_entry_timestamp"`
	IncomingOrderID       int64           `json:"incoming_order_id"`
	Side                  Side            `json:"side"`
	IncomingPrice         decimal.Decimal `json:"incoming_price"`
	RestingPrice          decimal.Decimal `json:"resting_price"`
	IncomingAmount        decimal.Decimal `json:"incoming_amount"`
	RestingAmountBefore   decimal.Decimal `json:"resting_amount_before"`
	RestingAmountAfter    decimal.Decimal `json:"resting_amount_after"`
}

// Instrument returns the emitting aggregate's id
func (e OrderMatched) Instrument() string { return e.InstrumentID }

// MatchedAmount returns the quantity executed by this match
func (e OrderMatched) MatchedAmount() decimal.Decimal {
	return e.RestingAmountBefore.Sub(e.RestingAmountAfter)
}

func (OrderMatched) isUpdateEvent() {}

// OrderCanceled signals that a resting order was removed or reduced.
type OrderCanceled struct {
	InstrumentID    string          `json:"instrument_id"`
	OrderID         int64           `json:"order_id"`
	CanceledAmount  decimal.Decimal `json:"canceled_amount"`
	RemainingAmount decimal.Decimal `json:"remaining_amount"`
}

// Instrument returns the emitting aggregate's id
func (e OrderCanceled) Instrument() string { return e.InstrumentID }

func (OrderCanceled) isUpdateEvent() {}
