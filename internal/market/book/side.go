package book

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/btree"

	"github.com/finsim/marketd/pkg/models"
)

// restingOrder is an order sitting in the book waiting for a counterparty
type restingOrder struct {
	id        int64
	side      models.Side
	price     decimal.Decimal
	remaining decimal.Decimal
	entryTime time.Time
}

// priceLevel holds all resting orders at one price in arrival order
type priceLevel struct {
	price  decimal.Decimal
	orders []*restingOrder
}

// bookSide is one half of the order book. Levels iterate best-price-first:
// descending for bids, ascending for asks. Arrival order within a level is
// the FIFO order of the slice.
type bookSide struct {
	side   models.Side
	levels *btree.BTreeG[*priceLevel]
}

func newBookSide(side models.Side) *bookSide {
	var less func(a, b *priceLevel) bool
	if side == models.SideBuy {
		less = func(a, b *priceLevel) bool { return a.price.GreaterThan(b.price) }
	} else {
		less = func(a, b *priceLevel) bool { return a.price.LessThan(b.price) }
	}
	return &bookSide{side: side, levels: btree.NewBTreeG(less)}
}

// best returns the most competitive level, or nil when the side is empty
func (s *bookSide) best() *priceLevel {
	lvl, ok := s.levels.Min()
	if !ok {
		return nil
	}
	return lvl
}

// insert appends the order to its price level, creating the level if needed
func (s *bookSide) insert(o *restingOrder) {
	probe := &priceLevel{price: o.price}
	lvl, ok := s.levels.Get(probe)
	if !ok {
		lvl = probe
		s.levels.Set(lvl)
	}
	lvl.orders = append(lvl.orders, o)
}

// remove unlinks the order from its level, dropping the level when emptied
func (s *bookSide) remove(o *restingOrder) {
	lvl, ok := s.levels.Get(&priceLevel{price: o.price})
	if !ok {
		return
	}
	for i, ro := range lvl.orders {
		if ro.id == o.id {
			lvl.orders = append(lvl.orders[:i], lvl.orders[i+1:]...)
			break
		}
	}
	if len(lvl.orders) == 0 {
		s.levels.Delete(lvl)
	}
}

// crosses reports whether an incoming order at the given price trades
// against this side's level price
func (s *bookSide) crosses(incomingPrice, levelPrice decimal.Decimal) bool {
	if s.side == models.SideSell {
		// incoming buy against asks
		return incomingPrice.GreaterThanOrEqual(levelPrice)
	}
	// incoming sell against bids
	return incomingPrice.LessThanOrEqual(levelPrice)
}

// depth returns the number of resting orders on the side
func (s *bookSide) depth() int {
	n := 0
	s.levels.Scan(func(lvl *priceLevel) bool {
		n += len(lvl.orders)
		return true
	})
	return n
}
