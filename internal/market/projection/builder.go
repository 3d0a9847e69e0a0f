package projection

import (
	"go.uber.org/zap"

	"github.com/finsim/marketd/internal/market/book"
	"github.com/finsim/marketd/pkg/models"
)

// Builder consumes book event feeds and applies update events to the store.
// Each attached book gets a dedicated worker goroutine, decoupling
// projection maintenance from the command path.
type Builder struct {
	store  *Store
	logger *zap.Logger
}

// NewBuilder creates a projection builder over the given store
func NewBuilder(store *Store, logger *zap.Logger) *Builder {
	return &Builder{
		store:  store,
		logger: logger.Named("projection"),
	}
}

// Attach subscribes the builder to a book's feed and starts its consumer.
// Intended to run as the registry's onCreate hook, once per instrument.
func (b *Builder) Attach(bk *book.Book) {
	sub := bk.Subscribe()
	go b.consume(bk.Instrument(), sub)
}

func (b *Builder) consume(instrument string, sub *book.Subscription) {
	b.logger.Debug("projection consumer started", zap.String("instrument", instrument))
	for ev := range sub.C() {
		switch e := ev.(type) {
		case models.OrderPlaced:
			b.applyPlaced(e)
		case models.OrderMatched:
			b.applyMatched(e)
		case models.OrderCanceled:
			b.applyCanceled(e)
		case models.OrderAccepted, models.OrderRejected:
			// sourcing events are history, not projection input
		}
	}
}

// applyPlaced creates the view unless a match event already created it
func (b *Builder) applyPlaced(e models.OrderPlaced) {
	b.store.createIfAbsent(models.OrderView{
		OrderID:        e.OrderID,
		EntryTimestamp: e.Timestamp,
		InstrumentID:   e.InstrumentID,
		Price:          e.Price,
		Amount:         e.RemainingAmount,
		Side:           e.Side,
		Trades:         nil,
		PendingAmount:  e.RemainingAmount,
	})
}

// applyMatched records the execution on the resting order's view and
// creates the incoming order's view if this is its first appearance.
func (b *Builder) applyMatched(e models.OrderMatched) {
	matched := e.MatchedAmount()

	b.store.update(e.RestingOrderID, func(view *models.OrderView) {
		view.PendingAmount = e.RestingAmountAfter
		view.Trades = append(view.Trades, models.TradeRecord{
			OrderID: e.IncomingOrderID,
			Amount:  matched,
			Price:   e.RestingPrice,
		})
	})

	created := b.store.createIfAbsent(models.OrderView{
		OrderID:        e.IncomingOrderID,
		EntryTimestamp: e.RestingEntryTimestamp,
		InstrumentID:   e.InstrumentID,
		Price:          e.IncomingPrice,
		Amount:         e.IncomingAmount,
		Side:           e.Side,
		Trades: []models.TradeRecord{{
			OrderID: e.RestingOrderID,
			Amount:  matched,
			Price:   e.RestingPrice,
		}},
		PendingAmount: e.IncomingAmount.Sub(matched),
	})
	if !created {
		// an earlier match already created the incoming view; keep its
		// trade list and pending amount conserved
		b.store.update(e.IncomingOrderID, func(view *models.OrderView) {
			view.PendingAmount = view.PendingAmount.Sub(matched)
			view.Trades = append(view.Trades, models.TradeRecord{
				OrderID: e.RestingOrderID,
				Amount:  matched,
				Price:   e.RestingPrice,
			})
		})
	}
}

// applyCanceled lowers the view's pending amount; trades are untouched
func (b *Builder) applyCanceled(e models.OrderCanceled) {
	b.store.update(e.OrderID, func(view *models.OrderView) {
		view.PendingAmount = e.RemainingAmount
	})
}
