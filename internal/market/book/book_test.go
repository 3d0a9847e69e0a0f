package book

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/finsim/marketd/pkg/models"
)

func newTestBook(instrument string) *Book {
	return New(instrument, &Sequence{}, zap.NewNop())
}

func placeCmd(instrument string, side models.Side, amount, price string) models.PlaceOrder {
	return models.PlaceOrder{
		InstrumentID: instrument,
		ID:           uuid.New(),
		Side:         side,
		Amount:       decimal.RequireFromString(amount),
		Price:        decimal.RequireFromString(price),
	}
}

// barrier flushes the book's mailbox: the cancel reply is only sent after
// every previously queued command, matching included, has fully run.
func barrier(b *Book) {
	_, _ = b.Handle(context.Background(), models.CancelOrder{
		InstrumentID: b.instrument,
		ID:           uuid.New(),
		OrderID:      -1,
		CancelAll:    true,
	})
}

func nextEvent(t *testing.T, sub *Subscription) models.Event {
	t.Helper()
	select {
	case ev, ok := <-sub.C():
		require.True(t, ok, "subscription closed unexpectedly")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestBook_PlaceOrderAccepted(t *testing.T) {
	b := newTestBook("BTC")
	ctx := context.Background()

	ev, err := b.Handle(ctx, placeCmd("BTC", models.SideSell, "1.0", "43251"))
	require.NoError(t, err)

	accepted, ok := ev.(models.OrderAccepted)
	require.True(t, ok, "expected OrderAccepted, got %T", ev)
	assert.Equal(t, "BTC", accepted.InstrumentID)
	assert.Equal(t, models.SideSell, accepted.Side)
	assert.True(t, accepted.Amount.Equal(decimal.RequireFromString("1.0")))
	assert.False(t, accepted.Timestamp.IsZero())
	assert.Positive(t, accepted.OrderID)
}

func TestBook_PlaceOrderAllocatesUniqueIDs(t *testing.T) {
	b := newTestBook("BTC")
	ctx := context.Background()

	seen := make(map[int64]bool)
	for i := 0; i < 100; i++ {
		ev, err := b.Handle(ctx, placeCmd("BTC", models.SideBuy, "1", fmt.Sprintf("%d", 100+i)))
		require.NoError(t, err)
		accepted := ev.(models.OrderAccepted)
		assert.False(t, seen[accepted.OrderID], "order id %d allocated twice", accepted.OrderID)
		seen[accepted.OrderID] = true
	}
}

func TestBook_PlaceOrderRejected(t *testing.T) {
	tests := []struct {
		name   string
		amount string
		price  string
	}{
		{name: "zero amount", amount: "0", price: "100"},
		{name: "negative amount", amount: "-1", price: "100"},
		{name: "zero price", amount: "1", price: "0"},
		{name: "negative price", amount: "1", price: "-5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newTestBook("BTC")

			ev, err := b.Handle(context.Background(), placeCmd("BTC", models.SideBuy, tt.amount, tt.price))
			require.NoError(t, err)

			rejected, ok := ev.(models.OrderRejected)
			require.True(t, ok, "expected OrderRejected, got %T", ev)
			assert.NotEmpty(t, rejected.Cause)

			// no book mutation
			assert.Zero(t, b.bids.depth())
			assert.Zero(t, b.asks.depth())
		})
	}
}

func TestBook_MatchAtRestingPrice(t *testing.T) {
	b := newTestBook("BTC")
	ctx := context.Background()
	sub := b.Subscribe()
	defer sub.Close()

	sellEv, err := b.Handle(ctx, placeCmd("BTC", models.SideSell, "1.0", "43251"))
	require.NoError(t, err)
	sellID := sellEv.(models.OrderAccepted).OrderID

	buyEv, err := b.Handle(ctx, placeCmd("BTC", models.SideBuy, "0.25", "43252"))
	require.NoError(t, err)
	buyID := buyEv.(models.OrderAccepted).OrderID

	// sell: accepted then placed
	assert.IsType(t, models.OrderAccepted{}, nextEvent(t, sub))
	placed, ok := nextEvent(t, sub).(models.OrderPlaced)
	require.True(t, ok)
	assert.Equal(t, sellID, placed.OrderID)

	// buy: accepted then matched against the resting sell
	assert.IsType(t, models.OrderAccepted{}, nextEvent(t, sub))
	matched, ok := nextEvent(t, sub).(models.OrderMatched)
	require.True(t, ok)
	assert.Equal(t, sellID, matched.RestingOrderID)
	assert.Equal(t, buyID, matched.IncomingOrderID)
	assert.True(t, matched.RestingPrice.Equal(decimal.RequireFromString("43251")),
		"execution must use the resting order's price, got %s", matched.RestingPrice)
	assert.True(t, matched.MatchedAmount().Equal(decimal.RequireFromString("0.25")))
	assert.True(t, matched.RestingAmountBefore.Equal(decimal.RequireFromString("1.0")))
	assert.True(t, matched.RestingAmountAfter.Equal(decimal.RequireFromString("0.75")))

	// buy fully filled, nothing rests on the bid side
	barrier(b)
	assert.Zero(t, b.bids.depth())
	assert.Equal(t, 1, b.asks.depth())
}

func TestBook_FullFillBothSides(t *testing.T) {
	b := newTestBook("BTC")
	ctx := context.Background()
	sub := b.Subscribe()
	defer sub.Close()

	_, err := b.Handle(ctx, placeCmd("BTC", models.SideSell, "1.0", "40000"))
	require.NoError(t, err)
	_, err = b.Handle(ctx, placeCmd("BTC", models.SideBuy, "1.0", "40000"))
	require.NoError(t, err)

	var matched models.OrderMatched
	for i := 0; i < 4; i++ {
		if m, ok := nextEvent(t, sub).(models.OrderMatched); ok {
			matched = m
		}
	}
	assert.True(t, matched.RestingAmountAfter.IsZero())
	assert.True(t, matched.MatchedAmount().Equal(decimal.RequireFromString("1.0")))

	// both sides empty
	barrier(b)
	assert.Zero(t, b.bids.depth())
	assert.Zero(t, b.asks.depth())
}

func TestBook_EqualPriceMatchesInArrivalOrder(t *testing.T) {
	b := newTestBook("ETH")
	ctx := context.Background()
	sub := b.Subscribe()
	defer sub.Close()

	firstEv, err := b.Handle(ctx, placeCmd("ETH", models.SideSell, "1", "2000"))
	require.NoError(t, err)
	firstID := firstEv.(models.OrderAccepted).OrderID
	secondEv, err := b.Handle(ctx, placeCmd("ETH", models.SideSell, "1", "2000"))
	require.NoError(t, err)
	secondID := secondEv.(models.OrderAccepted).OrderID

	_, err = b.Handle(ctx, placeCmd("ETH", models.SideBuy, "1.5", "2000"))
	require.NoError(t, err)

	var matches []models.OrderMatched
	for len(matches) < 2 {
		if m, ok := nextEvent(t, sub).(models.OrderMatched); ok {
			matches = append(matches, m)
		}
	}
	assert.Equal(t, firstID, matches[0].RestingOrderID, "earlier resting order must match first")
	assert.Equal(t, secondID, matches[1].RestingOrderID)
	assert.True(t, matches[0].MatchedAmount().Equal(decimal.NewFromInt(1)))
	assert.True(t, matches[1].MatchedAmount().Equal(decimal.RequireFromString("0.5")))
}

func TestBook_BestPriceMatchesFirst(t *testing.T) {
	b := newTestBook("ETH")
	ctx := context.Background()
	sub := b.Subscribe()
	defer sub.Close()

	_, err := b.Handle(ctx, placeCmd("ETH", models.SideSell, "1", "2010"))
	require.NoError(t, err)
	cheapEv, err := b.Handle(ctx, placeCmd("ETH", models.SideSell, "1", "1990"))
	require.NoError(t, err)
	cheapID := cheapEv.(models.OrderAccepted).OrderID

	_, err = b.Handle(ctx, placeCmd("ETH", models.SideBuy, "1", "2020"))
	require.NoError(t, err)

	var matched models.OrderMatched
	found := false
	for !found {
		if m, ok := nextEvent(t, sub).(models.OrderMatched); ok {
			matched = m
			found = true
		}
	}
	assert.Equal(t, cheapID, matched.RestingOrderID, "best ask must match first")
	assert.True(t, matched.RestingPrice.Equal(decimal.RequireFromString("1990")))
}

func TestBook_NoCrossNoMatch(t *testing.T) {
	b := newTestBook("BTC")
	ctx := context.Background()

	_, err := b.Handle(ctx, placeCmd("BTC", models.SideSell, "1", "100"))
	require.NoError(t, err)
	_, err = b.Handle(ctx, placeCmd("BTC", models.SideBuy, "1", "99"))
	require.NoError(t, err)

	// drain the mailbox with a synchronous command before inspecting
	_, err = b.Handle(ctx, models.CancelOrder{InstrumentID: "BTC", ID: uuid.New(), OrderID: 999})
	assert.Error(t, err)

	assert.Equal(t, 1, b.bids.depth())
	assert.Equal(t, 1, b.asks.depth())
}

func TestBook_CancelMissingOrder(t *testing.T) {
	b := newTestBook("BTC")
	sub := b.Subscribe()
	defer sub.Close()

	_, err := b.Handle(context.Background(), models.CancelOrder{
		InstrumentID: "BTC",
		ID:           uuid.New(),
		OrderID:      42,
		CancelAll:    true,
	})
	require.ErrorIs(t, err, ErrOrderNotFound)
	assert.Contains(t, err.Error(), "42")

	// no event emitted for a failed cancellation
	select {
	case ev := <-sub.C():
		t.Fatalf("unexpected event %T", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBook_CancelAllRemovesOrder(t *testing.T) {
	b := newTestBook("BTC")
	ctx := context.Background()

	ev, err := b.Handle(ctx, placeCmd("BTC", models.SideSell, "1.0", "43251"))
	require.NoError(t, err)
	orderID := ev.(models.OrderAccepted).OrderID

	cancelEv, err := b.Handle(ctx, models.CancelOrder{
		InstrumentID: "BTC",
		ID:           uuid.New(),
		OrderID:      orderID,
		CancelAll:    true,
	})
	require.NoError(t, err)

	canceled, ok := cancelEv.(models.OrderCanceled)
	require.True(t, ok)
	assert.True(t, canceled.CanceledAmount.Equal(decimal.RequireFromString("1.0")))
	assert.True(t, canceled.RemainingAmount.IsZero())
	assert.Zero(t, b.asks.depth())

	// canceling again fails: the order is gone
	_, err = b.Handle(ctx, models.CancelOrder{
		InstrumentID: "BTC", ID: uuid.New(), OrderID: orderID, CancelAll: true,
	})
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestBook_CancelReducesAmount(t *testing.T) {
	b := newTestBook("BTC")
	ctx := context.Background()

	ev, err := b.Handle(ctx, placeCmd("BTC", models.SideBuy, "2.0", "100"))
	require.NoError(t, err)
	orderID := ev.(models.OrderAccepted).OrderID

	cancelEv, err := b.Handle(ctx, models.CancelOrder{
		InstrumentID: "BTC",
		ID:           uuid.New(),
		OrderID:      orderID,
		NewAmount:    decimal.RequireFromString("0.5"),
	})
	require.NoError(t, err)

	canceled := cancelEv.(models.OrderCanceled)
	assert.True(t, canceled.CanceledAmount.Equal(decimal.RequireFromString("1.5")))
	assert.True(t, canceled.RemainingAmount.Equal(decimal.RequireFromString("0.5")))
	assert.Equal(t, 1, b.bids.depth())
}

func TestBook_CancelRejectsBadNewAmount(t *testing.T) {
	b := newTestBook("BTC")
	ctx := context.Background()

	ev, err := b.Handle(ctx, placeCmd("BTC", models.SideBuy, "1.0", "100"))
	require.NoError(t, err)
	orderID := ev.(models.OrderAccepted).OrderID

	_, err = b.Handle(ctx, models.CancelOrder{
		InstrumentID: "BTC",
		ID:           uuid.New(),
		OrderID:      orderID,
		NewAmount:    decimal.RequireFromString("2.0"),
	})
	assert.Error(t, err)

	_, err = b.Handle(ctx, models.CancelOrder{
		InstrumentID: "BTC",
		ID:           uuid.New(),
		OrderID:      orderID,
		NewAmount:    decimal.RequireFromString("-1"),
	})
	assert.Error(t, err)
}

func TestBook_SubscribeSeesOnlyFutureEvents(t *testing.T) {
	b := newTestBook("BTC")
	ctx := context.Background()

	_, err := b.Handle(ctx, placeCmd("BTC", models.SideSell, "1", "100"))
	require.NoError(t, err)
	barrier(b) // the first order's events are all published before we subscribe

	sub := b.Subscribe()
	defer sub.Close()

	ev, err := b.Handle(ctx, placeCmd("BTC", models.SideSell, "1", "101"))
	require.NoError(t, err)
	secondID := ev.(models.OrderAccepted).OrderID

	accepted, ok := nextEvent(t, sub).(models.OrderAccepted)
	require.True(t, ok)
	assert.Equal(t, secondID, accepted.OrderID, "history before subscription must not be replayed")
}

func TestBook_EnqueuedCommandExecutesWithoutWaiter(t *testing.T) {
	// a book whose loop has not started yet, so the command sits enqueued
	// exactly as it would when a caller's context dies mid-flight
	b := &Book{
		instrument: "BTC",
		bids:       newBookSide(models.SideBuy),
		asks:       newBookSide(models.SideSell),
		byID:       make(map[int64]*restingOrder),
		seq:        &Sequence{},
		feed:       NewFeed(),
		mailbox:    make(chan request, mailboxSize),
		logger:     zap.NewNop(),
	}
	b.mailbox <- request{
		cmd:   placeCmd("BTC", models.SideSell, "1.0", "43251"),
		reply: make(chan response, 1), // nobody ever reads this
	}
	go b.run()

	// the abandoned placement must have mutated the book
	barrier(b)
	assert.Equal(t, 1, b.asks.depth())
}

func TestBook_ConcurrentPlacements(t *testing.T) {
	b := newTestBook("BTC")
	ctx := context.Background()

	var wg sync.WaitGroup
	ids := make(chan int64, 200)
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ev, err := b.Handle(ctx, placeCmd("BTC", models.SideBuy, "1", fmt.Sprintf("%d", 1+i%50)))
			assert.NoError(t, err)
			ids <- ev.(models.OrderAccepted).OrderID
		}(i)
	}
	wg.Wait()
	close(ids)

	seen := make(map[int64]bool)
	for id := range ids {
		assert.False(t, seen[id])
		seen[id] = true
	}
	assert.Len(t, seen, 200)
}

func BenchmarkBook_PlaceOrder(b *testing.B) {
	bk := newTestBook("BTC")
	ctx := context.Background()
	cmd := placeCmd("BTC", models.SideBuy, "1", "100")
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		cmd.ID = uuid.New()
		if _, err := bk.Handle(ctx, cmd); err != nil {
			b.Fatal(err)
		}
	}
}
