// Package book implements the per-instrument aggregate: a single-writer
// order book actor that serializes command handling, runs price-time
// priority matching and emits the events that are the system's source of
// truth.
package book

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/finsim/marketd/pkg/models"
)

// ErrOrderNotFound is returned when a cancel target is not resting in the book
var ErrOrderNotFound = errors.New("order not found")

const mailboxSize = 256

// Sequence allocates process-unique, monotonically increasing order ids.
// One instance is shared by every book in the process.
type Sequence struct {
	n atomic.Int64
}

// Next returns the next order id
func (s *Sequence) Next() int64 {
	return s.n.Add(1)
}

// Book is the aggregate for one instrument. All command handling goes
// through a mailbox consumed by a single goroutine, so no two commands for
// the same instrument ever interleave inside the matching loop. Books are
// never torn down; they live for the process lifetime.
type Book struct {
	instrument string
	bids       *bookSide
	asks       *bookSide
	byID       map[int64]*restingOrder
	seq        *Sequence
	feed       *Feed
	mailbox    chan request
	logger     *zap.Logger
}

type request struct {
	cmd   models.Command
	reply chan response
}

type response struct {
	event models.Event
	err   error
}

// New creates a book for the instrument and starts its command loop
func New(instrument string, seq *Sequence, logger *zap.Logger) *Book {
	b := &Book{
		instrument: instrument,
		bids:       newBookSide(models.SideBuy),
		asks:       newBookSide(models.SideSell),
		byID:       make(map[int64]*restingOrder),
		seq:        seq,
		feed:       NewFeed(),
		mailbox:    make(chan request, mailboxSize),
		logger:     logger.Named("book").With(zap.String("instrument", instrument)),
	}
	go b.run()
	return b
}

// Instrument returns the aggregate's identifier
func (b *Book) Instrument() string {
	return b.instrument
}

// Subscribe attaches a consumer to the book's event feed. The subscription
// observes every event emitted from this moment on; earlier history is not
// replayed.
func (b *Book) Subscribe() *Subscription {
	return b.feed.Subscribe()
}

// Handle routes a command through the book's mailbox and blocks until the
// resulting sourcing event is decided. For placements the call returns once
// the order is accepted or rejected; matching side effects propagate to
// projections asynchronously. For cancellations the call returns the
// OrderCanceled event or ErrOrderNotFound.
//
// Context cancellation only abandons the wait: a command that was already
// enqueued still executes and its events still reach the feed, the caller
// just never sees the reply.
func (b *Book) Handle(ctx context.Context, cmd models.Command) (models.Event, error) {
	req := request{cmd: cmd, reply: make(chan response, 1)}
	select {
	case b.mailbox <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case resp := <-req.reply:
		return resp.event, resp.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// run is the single writer for this instrument
func (b *Book) run() {
	for req := range b.mailbox {
		switch cmd := req.cmd.(type) {
		case models.PlaceOrder:
			b.place(cmd, req.reply)
		case models.CancelOrder:
			ev, err := b.cancel(cmd)
			req.reply <- response{event: ev, err: err}
		default:
			req.reply <- response{err: fmt.Errorf("unsupported command type %T", req.cmd)}
		}
	}
}

// place validates the command, replies with the sourcing event and then
// runs the matching loop to completion before the next command is taken.
func (b *Book) place(cmd models.PlaceOrder, reply chan response) {
	if cause, ok := validatePlacement(cmd); !ok {
		rejected := models.OrderRejected{
			InstrumentID: b.instrument,
			Side:         cmd.Side,
			Amount:       cmd.Amount,
			Price:        cmd.Price,
			Cause:        cause,
		}
		b.logger.Warn("order rejected",
			zap.String("cause", cause),
			zap.String("command_id", cmd.ID.String()))
		b.feed.Publish(rejected)
		reply <- response{event: rejected}
		return
	}

	incoming := &restingOrder{
		id:        b.seq.Next(),
		side:      cmd.Side,
		price:     cmd.Price,
		remaining: cmd.Amount,
		entryTime: time.Now(),
	}

	accepted := models.OrderAccepted{
		InstrumentID: b.instrument,
		OrderID:      incoming.id,
		Side:         incoming.side,
		Amount:       cmd.Amount,
		Price:        incoming.price,
		Timestamp:    incoming.entryTime,
	}
	b.feed.Publish(accepted)
	// The caller only waits for acceptance; matching below still finishes
	// before this book takes its next command.
	reply <- response{event: accepted}

	b.match(incoming, cmd.Amount)

	if incoming.remaining.IsPositive() {
		b.rest(incoming)
	}
}

func validatePlacement(cmd models.PlaceOrder) (string, bool) {
	switch {
	case !cmd.Side.Valid():
		return fmt.Sprintf("unknown order side %q", cmd.Side), false
	case !cmd.Amount.IsPositive():
		return "amount must be positive", false
	case !cmd.Price.IsPositive():
		return "price must be positive", false
	}
	return "", true
}

// match trades the incoming order against the opposite side in strict
// price-then-arrival order. Crossing executions always happen at the
// resting order's price.
func (b *Book) match(incoming *restingOrder, incomingAmount decimal.Decimal) {
	opposite := b.asks
	if incoming.side == models.SideSell {
		opposite = b.bids
	}

	for incoming.remaining.IsPositive() {
		lvl := opposite.best()
		if lvl == nil || !opposite.crosses(incoming.price, lvl.price) {
			return
		}

		resting := lvl.orders[0]
		matched := decimal.Min(incoming.remaining, resting.remaining)
		before := resting.remaining
		resting.remaining = before.Sub(matched)
		incoming.remaining = incoming.remaining.Sub(matched)

		b.feed.Publish(models.OrderMatched{
			InstrumentID:          b.instrument,
			RestingOrderID:        resting.id,
			RestingEntryTimestamp: resting.entryTime,
			IncomingOrderID:       incoming.id,
			Side:                  incoming.side,
			IncomingPrice:         incoming.price,
			RestingPrice:          resting.price,
			IncomingAmount:        incomingAmount,
			RestingAmountBefore:   before,
			RestingAmountAfter:    resting.remaining,
		})

		if resting.remaining.IsZero() {
			opposite.remove(resting)
			delete(b.byID, resting.id)
		}
	}
}

// rest inserts the unmatched remainder into the incoming order's own side
func (b *Book) rest(o *restingOrder) {
	side := b.bids
	if o.side == models.SideSell {
		side = b.asks
	}
	side.insert(o)
	b.byID[o.id] = o

	b.feed.Publish(models.OrderPlaced{
		InstrumentID:    b.instrument,
		OrderID:         o.id,
		Timestamp:       o.entryTime,
		Side:            o.side,
		Price:           o.price,
		RemainingAmount: o.remaining,
	})
}

// cancel removes or reduces a resting order. A missing target is an error
// and emits nothing.
func (b *Book) cancel(cmd models.CancelOrder) (models.Event, error) {
	o, ok := b.byID[cmd.OrderID]
	if !ok {
		return nil, fmt.Errorf("%w: order %d not resting in book %s",
			ErrOrderNotFound, cmd.OrderID, b.instrument)
	}

	newRemaining := decimal.Zero
	if !cmd.CancelAll {
		switch {
		case cmd.NewAmount.IsNegative():
			return nil, fmt.Errorf("new amount must not be negative, got %s", cmd.NewAmount)
		case cmd.NewAmount.GreaterThan(o.remaining):
			return nil, fmt.Errorf("new amount %s exceeds remaining %s", cmd.NewAmount, o.remaining)
		}
		newRemaining = cmd.NewAmount
	}

	canceled := o.remaining.Sub(newRemaining)
	o.remaining = newRemaining
	if newRemaining.IsZero() {
		side := b.bids
		if o.side == models.SideSell {
			side = b.asks
		}
		side.remove(o)
		delete(b.byID, o.id)
	}

	ev := models.OrderCanceled{
		InstrumentID:    b.instrument,
		OrderID:         cmd.OrderID,
		CanceledAmount:  canceled,
		RemainingAmount: newRemaining,
	}
	b.feed.Publish(ev)
	return ev, nil
}
